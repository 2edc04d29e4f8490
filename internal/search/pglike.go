package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgLike implements Searcher against PostgreSQL as a fallback, matching
// titles and tags with ILIKE. Good enough degraded mode; ranking and
// highlighting come back when Meilisearch does.
type PgLike struct {
	db *sql.DB
}

// NewPgLike creates a PostgreSQL fallback searcher.
func NewPgLike(db *sql.DB) *PgLike {
	return &PgLike{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgLike) Healthy() bool {
	return true
}

// Search runs a substring match over title and tags, scoped to the org.
func (p *PgLike) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const where = `
		org_id=$1
		AND (title ILIKE '%' || $2 || '%' OR EXISTS (
			SELECT 1 FROM unnest(tags) tag WHERE tag ILIKE '%' || $2 || '%'
		))
		AND ($3='' OR doc_type=$3)
		AND ($4='' OR department=$4)
		AND ($5='' OR status=$5)
	`
	args := []any{q.OrgID, q.Text, q.Type, q.Department, q.Status}

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("fallback search count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, doc_type, department, status, to_jsonb(tags)::text
		FROM documents
		WHERE `+where+`
		ORDER BY updated_at DESC
		LIMIT $6 OFFSET $7
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("fallback search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var tags string
		if err := rows.Scan(&r.ID, &r.Title, &r.Type, &r.Department, &r.Status, &tags); err != nil {
			return nil, 0, fmt.Errorf("fallback search scan: %w", err)
		}
		r.Tags = decodeTagList(tags)
		r.Snippet = strings.Join(r.Tags, ", ")
		results = append(results, r)
	}

	return results, total, rows.Err()
}

func decodeTagList(raw string) []string {
	tags := []string{}
	for _, tag := range strings.Split(strings.Trim(raw, "[]"), ",") {
		tag = strings.Trim(strings.TrimSpace(tag), `"`)
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgLike) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, doc_type, department, status, org_id, to_jsonb(tags)::text
		FROM documents
	`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	documents := make([]DocumentRecord, 0)
	for rows.Next() {
		var d DocumentRecord
		var tags string
		if err := rows.Scan(&d.ID, &d.Title, &d.Type, &d.Department, &d.Status, &d.OrgID, &tags); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Tags = decodeTagList(tags)
		documents = append(documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return documents, nil
}
