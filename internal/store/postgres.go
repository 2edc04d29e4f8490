package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// encodeList bridges Go slices and TEXT[] columns through jsonb; the
// driver is used via database/sql which has no native array support.
func encodeList(values []string) string {
	if values == nil {
		values = []string{}
	}
	raw, _ := json.Marshal(values)
	return string(raw)
}

func decodeList(raw []byte) []string {
	values := []string{}
	_ = json.Unmarshal(raw, &values)
	return values
}

// ---------------------------------------------------------------------------
// Organizations

const orgColumns = `id, name, to_jsonb(departments), to_jsonb(notification_urls), retention_years, COALESCE(integration_json::text, '{}'), created_at, updated_at`

func scanOrganization(row interface{ Scan(...any) error }) (Organization, error) {
	var item Organization
	var departments, notificationURLs []byte
	var integration string
	if err := row.Scan(&item.ID, &item.Name, &departments, &notificationURLs, &item.RetentionYears, &integration, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Organization{}, err
	}
	item.Departments = decodeList(departments)
	item.NotificationURLs = decodeList(notificationURLs)
	_ = json.Unmarshal([]byte(integration), &item.Integration)
	return item, nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (Organization, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id=$1`, orgID)
	return scanOrganization(row)
}

func (s *PostgresStore) GetOrganizationByName(ctx context.Context, name string) (Organization, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE name=$1`, name)
	return scanOrganization(row)
}

func (s *PostgresStore) InsertOrganization(ctx context.Context, org Organization) error {
	integration, err := json.Marshal(org.Integration)
	if err != nil {
		return fmt.Errorf("marshal integration settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, departments, notification_urls, retention_years, integration_json)
		VALUES ($1, $2, ARRAY(SELECT jsonb_array_elements_text($3::jsonb)), ARRAY(SELECT jsonb_array_elements_text($4::jsonb)), $5, $6::jsonb)
	`, org.ID, org.Name, encodeList(org.Departments), encodeList(org.NotificationURLs), org.RetentionYears, string(integration))
	if err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+orgColumns+` FROM organizations ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	items := make([]Organization, 0)
	for rows.Next() {
		item, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateOrganization(ctx context.Context, org Organization) error {
	integration, err := json.Marshal(org.Integration)
	if err != nil {
		return fmt.Errorf("marshal integration settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE organizations
		SET name=$2,
		    departments=ARRAY(SELECT jsonb_array_elements_text($3::jsonb)),
		    notification_urls=ARRAY(SELECT jsonb_array_elements_text($4::jsonb)),
		    retention_years=$5,
		    integration_json=$6::jsonb,
		    updated_at=NOW()
		WHERE id=$1
	`, org.ID, org.Name, encodeList(org.Departments), encodeList(org.NotificationURLs), org.RetentionYears, string(integration))
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Users

const userColumns = `id, email, name, password_hash, role, department, org_id, to_jsonb(orgs), is_active, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var item User
	var orgs []byte
	if err := row.Scan(&item.ID, &item.Email, &item.Name, &item.PasswordHash, &item.Role, &item.Department, &item.OrgID, &orgs, &item.IsActive, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return User{}, err
	}
	item.Orgs = decodeList(orgs)
	return item, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
	return scanUser(row)
}

func (s *PostgresStore) InsertUser(ctx context.Context, user User) error {
	// Membership always includes the active org.
	orgs := user.Orgs
	if len(orgs) == 0 {
		orgs = []string{user.OrgID}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, role, department, org_id, orgs, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, ARRAY(SELECT jsonb_array_elements_text($8::jsonb)), $9)
	`, user.ID, user.Email, user.Name, user.PasswordHash, user.Role, user.Department, user.OrgID, encodeList(orgs), user.IsActive)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, user User) error {
	orgs := user.Orgs
	if len(orgs) == 0 {
		orgs = []string{user.OrgID}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email=$2, name=$3, password_hash=$4, role=$5, department=$6, org_id=$7,
		    orgs=ARRAY(SELECT jsonb_array_elements_text($8::jsonb)), is_active=$9, updated_at=NOW()
		WHERE id=$1
	`, user.ID, user.Email, user.Name, user.PasswordHash, user.Role, user.Department, user.OrgID, encodeList(orgs), user.IsActive)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, orgID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE org_id=$1 ORDER BY name ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		item, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountOrgUsers(ctx context.Context, orgID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE org_id=$1`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count org users: %w", err)
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// Refresh sessions and access-token revocation (Postgres fallback when
// Redis is not configured)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = (
			SELECT user_id FROM refresh_sessions
			WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
		)
	`
	row := s.db.QueryRowContext(ctx, query, tokenHash)
	return scanUser(row)
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---------------------------------------------------------------------------
// Documents

const documentColumns = `id, org_id, title, doc_type, department, status, owner_id, file_key, version,
	effective_date, expiry_date, to_jsonb(tags), approval_required, legal_hold, retention_years,
	next_approval_date, to_jsonb(approval_chain), created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var item Document
	var tags, chain []byte
	if err := row.Scan(
		&item.ID,
		&item.OrgID,
		&item.Title,
		&item.Type,
		&item.Department,
		&item.Status,
		&item.OwnerID,
		&item.FileKey,
		&item.Version,
		&item.EffectiveDate,
		&item.ExpiryDate,
		&tags,
		&item.ApprovalRequired,
		&item.LegalHold,
		&item.RetentionYears,
		&item.NextApprovalDate,
		&chain,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Document{}, err
	}
	item.Tags = decodeList(tags)
	item.ApprovalChain = decodeList(chain)
	return item, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, org_id, title, doc_type, department, status, owner_id, file_key, version,
			effective_date, expiry_date, tags, approval_required, legal_hold, retention_years)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			ARRAY(SELECT jsonb_array_elements_text($12::jsonb)), $13, $14, $15)
	`, doc.ID, doc.OrgID, doc.Title, doc.Type, doc.Department, doc.Status, doc.OwnerID, doc.FileKey, doc.Version,
		doc.EffectiveDate, doc.ExpiryDate, encodeList(doc.Tags), doc.ApprovalRequired, doc.LegalHold, doc.RetentionYears)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, orgID, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1 AND org_id=$2`, documentID, orgID)
	return scanDocument(row)
}

func (s *PostgresStore) SearchDocuments(ctx context.Context, orgID string, filter DocumentFilter) ([]Document, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	const where = `
		org_id=$1
		AND ($2='' OR doc_type=$2)
		AND ($3='' OR department=$3)
		AND ($4='' OR status=$4)
		AND ($5='' OR owner_id=$5)
		AND ($6='' OR title ILIKE '%' || $6 || '%')
		AND ($7::jsonb = '[]'::jsonb OR tags && ARRAY(SELECT jsonb_array_elements_text($7::jsonb)))
		AND ($8::timestamptz IS NULL OR created_at >= $8)
		AND ($9::timestamptz IS NULL OR created_at <= $9)
		AND (NOT $10::boolean OR status <> 'archived')
	`
	args := []any{orgID, filter.Type, filter.Department, filter.Status, filter.OwnerID, filter.Search,
		encodeList(filter.Tags), filter.DateFrom, filter.DateTo, filter.SkipArchived}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE `+where+` ORDER BY updated_at DESC LIMIT $11 OFFSET $12`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate documents: %w", err)
	}
	return items, total, nil
}

// UpdateDocumentMeta rewrites the editable metadata fields. Status,
// version, file key, and the approval chain have their own paths.
func (s *PostgresStore) UpdateDocumentMeta(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title=$2, doc_type=$3, department=$4,
		    effective_date=$5, expiry_date=$6,
		    tags=ARRAY(SELECT jsonb_array_elements_text($7::jsonb)),
		    approval_required=$8, retention_years=$9,
		    updated_at=NOW()
		WHERE id=$1
	`, doc.ID, doc.Title, doc.Type, doc.Department, doc.EffectiveDate, doc.ExpiryDate,
		encodeList(doc.Tags), doc.ApprovalRequired, doc.RetentionYears)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetDocumentStatus(ctx context.Context, documentID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET status=$2, updated_at=NOW() WHERE id=$1`, documentID, status)
	if err != nil {
		return fmt.Errorf("set document status: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetLegalHold(ctx context.Context, documentID string, hold bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET legal_hold=$2, updated_at=NOW() WHERE id=$1`, documentID, hold)
	if err != nil {
		return fmt.Errorf("set legal hold: %w", err)
	}
	return nil
}

// AddDocumentTags unions new tags into the tag set atomically.
func (s *PostgresStore) AddDocumentTags(ctx context.Context, documentID string, tags []string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET tags = ARRAY(SELECT DISTINCT unnest(tags || ARRAY(SELECT jsonb_array_elements_text($2::jsonb)))),
		    updated_at=NOW()
		WHERE id=$1
	`, documentID, encodeList(tags))
	if err != nil {
		return fmt.Errorf("add document tags: %w", err)
	}
	return nil
}

// BumpDocumentVersion archives the current file into history and installs
// the new file, incrementing version by exactly one. One transaction so a
// failure leaves both the counter and the history untouched.
func (s *PostgresStore) BumpDocumentVersion(ctx context.Context, documentID, newFileKey, uploadedBy string) (Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin version tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current Document
	row := tx.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1 FOR UPDATE`, documentID)
	current, err = scanDocument(row)
	if err != nil {
		return Document{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_versions (document_id, version, file_key, uploaded_by)
		VALUES ($1, $2, $3, $4)
	`, documentID, current.Version, current.FileKey, uploadedBy); err != nil {
		return Document{}, fmt.Errorf("archive version: %w", err)
	}

	row = tx.QueryRowContext(ctx, `
		UPDATE documents SET version=version+1, file_key=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING `+documentColumns+`
	`, documentID, newFileKey)
	updated, err := scanDocument(row)
	if err != nil {
		return Document{}, fmt.Errorf("bump version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit version tx: %w", err)
	}
	return updated, nil
}

// RestoreDocumentVersion makes a prior version current again. The current
// file is archived first, then the historical file is installed under
// version+1; restoring never rewrites existing history rows.
func (s *PostgresStore) RestoreDocumentVersion(ctx context.Context, documentID string, version int, restoredBy string) (Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin restore tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current Document
	row := tx.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1 FOR UPDATE`, documentID)
	current, err = scanDocument(row)
	if err != nil {
		return Document{}, err
	}

	var restoredKey string
	err = tx.QueryRowContext(ctx, `
		SELECT file_key FROM document_versions WHERE document_id=$1 AND version=$2
	`, documentID, version).Scan(&restoredKey)
	if err != nil {
		return Document{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_versions (document_id, version, file_key, uploaded_by)
		VALUES ($1, $2, $3, $4)
	`, documentID, current.Version, current.FileKey, restoredBy); err != nil {
		return Document{}, fmt.Errorf("archive current version: %w", err)
	}

	row = tx.QueryRowContext(ctx, `
		UPDATE documents SET version=version+1, file_key=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING `+documentColumns+`
	`, documentID, restoredKey)
	updated, err := scanDocument(row)
	if err != nil {
		return Document{}, fmt.Errorf("restore version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit restore tx: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) ListDocumentVersions(ctx context.Context, documentID string) ([]DocumentVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, version, file_key, uploaded_by, uploaded_at
		FROM document_versions
		WHERE document_id=$1
		ORDER BY version DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document versions: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentVersion, 0)
	for rows.Next() {
		var item DocumentVersion
		if err := rows.Scan(&item.DocumentID, &item.Version, &item.FileKey, &item.UploadedBy, &item.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan document version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document versions: %w", err)
	}
	return items, nil
}

// PruneDocumentHistory deletes all but the newest keep history rows and
// returns the file keys of the removed rows so the caller can delete the
// underlying objects.
func (s *PostgresStore) PruneDocumentHistory(ctx context.Context, documentID string, keep int) ([]string, error) {
	if keep < 0 {
		keep = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM document_versions
		WHERE document_id=$1
		  AND version NOT IN (
			SELECT version FROM document_versions
			WHERE document_id=$1
			ORDER BY version DESC
			LIMIT $2
		  )
		RETURNING file_key
	`, documentID, keep)
	if err != nil {
		return nil, fmt.Errorf("prune document history: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan pruned version: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pruned versions: %w", err)
	}
	return keys, nil
}

// ---------------------------------------------------------------------------
// Comments and activity (append-only, atomic INSERTs, never
// read-modify-write on the parent document)

func (s *PostgresStore) AddComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_comments (document_id, user_id, user_name, body)
		VALUES ($1, $2, $3, $4)
	`, comment.DocumentID, comment.UserID, comment.UserName, comment.Body)
	if err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, documentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, user_id, user_name, body, created_at
		FROM document_comments
		WHERE document_id=$1
		ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.UserID, &item.UserName, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AppendActivity(ctx context.Context, activity Activity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_activity (document_id, user_id, action, details)
		VALUES ($1, $2, $3, $4)
	`, activity.DocumentID, activity.UserID, activity.Action, activity.Details)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivity(ctx context.Context, documentID string) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, user_id, action, details, created_at
		FROM document_activity
		WHERE document_id=$1
		ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	items := make([]Activity, 0)
	for rows.Next() {
		var item Activity
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.UserID, &item.Action, &item.Details, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Retention and expiry

func (s *PostgresStore) ListExpiringDocuments(ctx context.Context, orgID string, cutoff time.Time) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE org_id=$1
		  AND expiry_date IS NOT NULL
		  AND expiry_date >= NOW()
		  AND expiry_date <= $2
		  AND status <> 'archived'
		ORDER BY expiry_date ASC
	`, orgID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expiring documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expiring document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expiring documents: %w", err)
	}
	return items, nil
}

// ArchiveExpiredDocuments marks past-expiry documents expired. Legal hold
// always wins over expiry.
func (s *PostgresStore) ArchiveExpiredDocuments(ctx context.Context, orgID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status='expired', updated_at=NOW()
		WHERE org_id=$1
		  AND expiry_date IS NOT NULL
		  AND expiry_date < NOW()
		  AND status <> 'archived'
		  AND legal_hold=FALSE
	`, orgID)
	if err != nil {
		return 0, fmt.Errorf("archive expired documents: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archive expired rows: %w", err)
	}
	return int(affected), nil
}

// PruneOldDocuments deletes archived documents that have outlived their
// own retention period, skipping anything on legal hold. Returns the
// deleted documents so the caller can remove their stored files. Audit
// entries for pruned documents are deliberately left in place.
func (s *PostgresStore) PruneOldDocuments(ctx context.Context, orgID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM documents
		WHERE org_id=$1
		  AND status='archived'
		  AND legal_hold=FALSE
		  AND updated_at < NOW() - (retention_years * INTERVAL '1 year')
		RETURNING `+documentColumns+`
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("prune old documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pruned document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pruned documents: %w", err)
	}
	return items, nil
}

var ErrNotFound = sql.ErrNoRows

func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
