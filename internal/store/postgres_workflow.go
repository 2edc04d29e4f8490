package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Workflows

const workflowColumns = `id, org_id, name, description, trigger_kind, trigger_value, steps_json::text, enabled, created_at, updated_at`

func scanWorkflow(row interface{ Scan(...any) error }) (Workflow, error) {
	var item Workflow
	var steps string
	if err := row.Scan(&item.ID, &item.OrgID, &item.Name, &item.Description, &item.Trigger, &item.TriggerValue, &steps, &item.Enabled, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Workflow{}, err
	}
	item.Steps = []WorkflowStep{}
	if err := json.Unmarshal([]byte(steps), &item.Steps); err != nil {
		return Workflow{}, fmt.Errorf("decode workflow steps: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) InsertWorkflow(ctx context.Context, wf Workflow) error {
	steps, err := json.Marshal(wf.Steps)
	if err != nil {
		return fmt.Errorf("marshal workflow steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, org_id, name, description, trigger_kind, trigger_value, steps_json, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
	`, wf.ID, wf.OrgID, wf.Name, wf.Description, wf.Trigger, wf.TriggerValue, string(steps), wf.Enabled)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWorkflow(ctx context.Context, wf Workflow) error {
	steps, err := json.Marshal(wf.Steps)
	if err != nil {
		return fmt.Errorf("marshal workflow steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE workflows
		SET name=$2, description=$3, trigger_kind=$4, trigger_value=$5, steps_json=$6::jsonb, enabled=$7, updated_at=NOW()
		WHERE id=$1
	`, wf.ID, wf.Name, wf.Description, wf.Trigger, wf.TriggerValue, string(steps), wf.Enabled)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteWorkflow(ctx context.Context, orgID, workflowID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id=$1 AND org_id=$2`, workflowID, orgID)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, orgID, workflowID string) (Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id=$1 AND org_id=$2`, workflowID, orgID)
	return scanWorkflow(row)
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, orgID string) ([]Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE org_id=$1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	items := make([]Workflow, 0)
	for rows.Next() {
		item, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflows: %w", err)
	}
	return items, nil
}

// ResolveWorkflow picks the enabled workflow whose trigger matches the
// document's type or department. When several match, the most recently
// created one wins; the id tiebreak keeps equal timestamps deterministic.
func (s *PostgresStore) ResolveWorkflow(ctx context.Context, orgID, docType, department string) (Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows
		WHERE org_id=$1
		  AND enabled
		  AND (
			(trigger_kind='document_type' AND trigger_value=$2)
			OR (trigger_kind='department' AND trigger_value=$3)
		  )
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, orgID, docType, department)
	return scanWorkflow(row)
}

// ---------------------------------------------------------------------------
// Approvals

const approvalColumns = `id, document_id, org_id, status, requested_by, requested_at, decided_by, decided_at,
	comment, due_date, priority, assignee, escalated_to, escalated_at`

func scanApproval(row interface{ Scan(...any) error }) (Approval, error) {
	var item Approval
	if err := row.Scan(
		&item.ID,
		&item.DocumentID,
		&item.OrgID,
		&item.Status,
		&item.RequestedBy,
		&item.RequestedAt,
		&item.DecidedBy,
		&item.DecidedAt,
		&item.Comment,
		&item.DueDate,
		&item.Priority,
		&item.Assignee,
		&item.EscalatedTo,
		&item.EscalatedAt,
	); err != nil {
		return Approval{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertApproval(ctx context.Context, a Approval) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (id, document_id, org_id, status, requested_by, due_date, priority, assignee)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.DocumentID, a.OrgID, a.Status, a.RequestedBy, a.DueDate, a.Priority, a.Assignee)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetApproval(ctx context.Context, orgID, approvalID string) (Approval, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id=$1 AND org_id=$2`, approvalID, orgID)
	return scanApproval(row)
}

func (s *PostgresStore) ListApprovals(ctx context.Context, orgID, status string) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approvals
		WHERE org_id=$1 AND ($2='' OR status=$2)
		ORDER BY requested_at DESC
		LIMIT 200
	`, orgID, status)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()
	return collectApprovals(rows)
}

func (s *PostgresStore) ListDocumentApprovals(ctx context.Context, documentID string) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+approvalColumns+` FROM approvals WHERE document_id=$1 ORDER BY requested_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document approvals: %w", err)
	}
	defer rows.Close()
	return collectApprovals(rows)
}

// ListPendingForUser returns open approvals the user can act on, either as
// the original assignee or as an escalation target, soonest deadline first.
func (s *PostgresStore) ListPendingForUser(ctx context.Context, orgID, userID string) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approvals
		WHERE org_id=$1
		  AND status IN ('pending', 'escalated')
		  AND (assignee=$2 OR escalated_to=$2)
		ORDER BY due_date ASC NULLS LAST, requested_at ASC
	`, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()
	return collectApprovals(rows)
}

func (s *PostgresStore) ListOverdueApprovals(ctx context.Context, orgID string, now time.Time) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approvals
		WHERE org_id=$1
		  AND status IN ('pending', 'escalated')
		  AND due_date IS NOT NULL
		  AND due_date < $2
		ORDER BY due_date ASC
	`, orgID, now)
	if err != nil {
		return nil, fmt.Errorf("list overdue approvals: %w", err)
	}
	defer rows.Close()
	return collectApprovals(rows)
}

func collectApprovals(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]Approval, error) {
	items := make([]Approval, 0)
	for rows.Next() {
		item, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return items, nil
}

// CountApprovalStatuses aggregates a document's approvals. An escalated
// approval is still open and counts as pending.
func (s *PostgresStore) CountApprovalStatuses(ctx context.Context, documentID string) (ApprovalStatus, error) {
	var total, approved, rejected, pending int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status='approved'),
		       COUNT(*) FILTER (WHERE status='rejected'),
		       COUNT(*) FILTER (WHERE status IN ('pending', 'escalated'))
		FROM approvals
		WHERE document_id=$1
	`, documentID).Scan(&total, &approved, &rejected, &pending)
	if err != nil {
		return ApprovalStatus{}, fmt.Errorf("count approval statuses: %w", err)
	}
	return BuildApprovalStatus(total, approved, rejected, pending), nil
}

// DecideApproval records an approve or reject decision. The WHERE clause
// enforces the open-state check so a concurrent decision cannot apply
// twice; zero rows affected means the record was already closed.
func (s *PostgresStore) DecideApproval(ctx context.Context, approvalID, status, decidedBy, comment string) (Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE approvals
		SET status=$2, decided_by=$3, decided_at=NOW(), comment=$4
		WHERE id=$1 AND status IN ('pending', 'escalated')
		RETURNING `+approvalColumns+`
	`, approvalID, status, decidedBy, comment)
	return scanApproval(row)
}

// EscalateApproval hands decision authority to another user without
// closing the record.
func (s *PostgresStore) EscalateApproval(ctx context.Context, approvalID, escalatedTo string) (Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE approvals
		SET status='escalated', escalated_to=$2, escalated_at=NOW()
		WHERE id=$1 AND status IN ('pending', 'escalated')
		RETURNING `+approvalColumns+`
	`, approvalID, escalatedTo)
	return scanApproval(row)
}

// BulkApproveByDepartment approves every open approval assigned to the
// acting user on documents in the given department, one batched UPDATE.
// Department matching is exact and case sensitive.
func (s *PostgresStore) BulkApproveByDepartment(ctx context.Context, orgID, userID, department, comment string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE approvals a
		SET status='approved', decided_by=$2, decided_at=NOW(), comment=$4
		FROM documents d
		WHERE a.document_id = d.id
		  AND a.org_id=$1
		  AND a.assignee=$2
		  AND a.status='pending'
		  AND d.department=$3
	`, orgID, userID, department, comment)
	if err != nil {
		return 0, fmt.Errorf("bulk approve by department: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk approve rows: %w", err)
	}
	return int(affected), nil
}

// CreateApprovalsWithChain inserts the routed approval records and stamps
// the parent document's flattened chain and next review date in one
// transaction. Either everything lands or nothing does.
func (s *PostgresStore) CreateApprovalsWithChain(ctx context.Context, documentID string, approvals []Approval, chain []string, nextApprovalDate *time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin route tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range approvals {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO approvals (id, document_id, org_id, status, requested_by, due_date, priority, assignee)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, a.ID, a.DocumentID, a.OrgID, a.Status, a.RequestedBy, a.DueDate, a.Priority, a.Assignee); err != nil {
			return fmt.Errorf("insert routed approval: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET approval_chain=ARRAY(SELECT jsonb_array_elements_text($2::jsonb)),
		    next_approval_date=$3,
		    updated_at=NOW()
		WHERE id=$1
	`, documentID, encodeList(chain), nextApprovalDate); err != nil {
		return fmt.Errorf("stamp approval chain: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit route tx: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Audit log (append-only; rows are never updated or deleted)

func (s *PostgresStore) InsertAudit(ctx context.Context, entry AuditEntry) error {
	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("marshal audit changes: %w", err)
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (org_id, user_id, action, resource, resource_id, changes_json, metadata_json, ip)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8)
	`, entry.OrgID, entry.UserID, entry.Action, entry.Resource, entry.ResourceID, string(changes), string(metadata), entry.IP)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

const auditColumns = `id, org_id, user_id, action, resource, resource_id,
	COALESCE(changes_json::text, '{}'), COALESCE(metadata_json::text, '{}'), ip, created_at`

func scanAudit(row interface{ Scan(...any) error }) (AuditEntry, error) {
	var item AuditEntry
	var changes, metadata string
	if err := row.Scan(&item.ID, &item.OrgID, &item.UserID, &item.Action, &item.Resource, &item.ResourceID, &changes, &metadata, &item.IP, &item.CreatedAt); err != nil {
		return AuditEntry{}, err
	}
	_ = json.Unmarshal([]byte(changes), &item.Changes)
	_ = json.Unmarshal([]byte(metadata), &item.Metadata)
	return item, nil
}

func (s *PostgresStore) QueryAudit(ctx context.Context, orgID string, filter AuditFilter) ([]AuditEntry, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	const where = `
		org_id=$1
		AND ($2='' OR resource=$2)
		AND ($3='' OR resource_id=$3)
		AND ($4='' OR action=$4)
		AND ($5::timestamptz IS NULL OR created_at >= $5)
		AND ($6::timestamptz IS NULL OR created_at <= $6)
	`
	args := []any{orgID, filter.Resource, filter.ResourceID, filter.Action, filter.DateFrom, filter.DateTo}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE `+where+` ORDER BY created_at DESC LIMIT $7 OFFSET $8`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEntry, 0)
	for rows.Next() {
		item, err := scanAudit(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit entries: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) ListResourceAudit(ctx context.Context, orgID, resource, resourceID string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+auditColumns+`
		FROM audit_log
		WHERE org_id=$1 AND resource=$2 AND resource_id=$3
		ORDER BY created_at DESC
		LIMIT 500
	`, orgID, resource, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list resource audit: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEntry, 0)
	for rows.Next() {
		item, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Dashboard

func (s *PostgresStore) DashboardCounts(ctx context.Context, orgID string, expiringBefore time.Time, activitySince time.Time) (DashboardStats, error) {
	var stats DashboardStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents WHERE org_id=$1),
			(SELECT COUNT(*) FROM documents WHERE org_id=$1 AND status='active'),
			(SELECT COUNT(*) FROM approvals WHERE org_id=$1 AND status IN ('pending', 'escalated')),
			(SELECT COUNT(*) FROM documents WHERE org_id=$1 AND expiry_date IS NOT NULL AND expiry_date >= NOW() AND expiry_date <= $2 AND status <> 'archived'),
			(SELECT COUNT(*) FROM audit_log WHERE org_id=$1 AND created_at >= $3)
	`, orgID, expiringBefore, activitySince).Scan(
		&stats.TotalDocuments,
		&stats.ActiveDocuments,
		&stats.PendingApprovals,
		&stats.ExpiringSoon,
		&stats.RecentActivity,
	)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("dashboard counts: %w", err)
	}
	return stats, nil
}
