package app

import (
	"context"
	"strings"
	"time"

	"edms/api/internal/notify"
	"edms/api/internal/store"
	"edms/api/internal/util"
)

type RequestApprovalInput struct {
	Assignees []string   `json:"assignees"`
	DueDate   *time.Time `json:"dueDate"`
	Priority  string     `json:"priority"`
}

// canDecide enforces who may act on an approval. While escalated, only
// the escalation target holds decision authority; the original assignee
// is locked out until it comes back.
func canDecide(session Session, approval store.Approval) bool {
	if approval.Status == store.ApprovalEscalated {
		return approval.EscalatedTo == session.UserID
	}
	return approval.Assignee == session.UserID || session.Role == store.RoleAdmin
}

// RequestApprovals creates approvals by hand, outside any workflow.
func (s *Service) RequestApprovals(ctx context.Context, session Session, documentID string, input RequestApprovalInput) ([]store.Approval, error) {
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return nil, err
	}
	if len(input.Assignees) == 0 {
		return nil, domainError(422, "VALIDATION_ERROR", "at least one assignee is required", nil)
	}
	priority := input.Priority
	switch priority {
	case "":
		priority = store.PriorityMedium
	case store.PriorityLow, store.PriorityMedium, store.PriorityHigh:
	default:
		return nil, domainError(422, "VALIDATION_ERROR", "priority must be low, medium, or high", nil)
	}

	created := make([]store.Approval, 0, len(input.Assignees))
	for _, assignee := range input.Assignees {
		assignee = strings.TrimSpace(assignee)
		if assignee == "" {
			continue
		}
		approval := store.Approval{
			ID:          util.NewID("apr"),
			DocumentID:  doc.ID,
			OrgID:       doc.OrgID,
			Status:      store.ApprovalPending,
			RequestedBy: session.UserID,
			DueDate:     input.DueDate,
			Priority:    priority,
			Assignee:    assignee,
		}
		if err := s.store.InsertApproval(ctx, approval); err != nil {
			return nil, err
		}
		created = append(created, approval)
	}

	s.appendActivity(ctx, doc.ID, session.UserID, "approval_requested", "")
	s.audit(ctx, session.OrgID, session.UserID, "approval.request", "document", doc.ID, map[string]any{"assignees": input.Assignees}, "")
	s.notifyOrg(ctx, session.OrgID, notify.Event{
		Kind:       "approval.requested",
		Resource:   "document",
		ResourceID: doc.ID,
		Actor:      session.UserID,
		Payload:    map[string]any{"approvers": input.Assignees},
	})
	return created, nil
}

// Approve records an approval decision. When it closes the last open
// approval with nothing rejected, the document moves to approved.
func (s *Service) Approve(ctx context.Context, session Session, approvalID, comment string) (store.Approval, error) {
	return s.decide(ctx, session, approvalID, store.ApprovalApproved, comment)
}

// Reject records a rejection. Rejection always sends the document back to
// draft so the owner can revise and resubmit.
func (s *Service) Reject(ctx context.Context, session Session, approvalID, comment string) (store.Approval, error) {
	return s.decide(ctx, session, approvalID, store.ApprovalRejected, comment)
}

func (s *Service) decide(ctx context.Context, session Session, approvalID, status, comment string) (store.Approval, error) {
	approval, err := s.store.GetApproval(ctx, session.OrgID, approvalID)
	if err != nil {
		return store.Approval{}, err
	}
	if approval.Status != store.ApprovalPending && approval.Status != store.ApprovalEscalated {
		return store.Approval{}, domainError(409, "ALREADY_DECIDED", "Approval has already been decided", nil)
	}
	if !canDecide(session, approval) {
		return store.Approval{}, domainError(403, "FORBIDDEN", "Not authorized to decide this approval", nil)
	}

	decided, err := s.store.DecideApproval(ctx, approval.ID, status, session.UserID, comment)
	if err != nil {
		if store.IsNotFound(err) {
			// Lost the race against a concurrent decision.
			return store.Approval{}, domainError(409, "ALREADY_DECIDED", "Approval has already been decided", nil)
		}
		return store.Approval{}, err
	}

	doc, err := s.store.GetDocument(ctx, session.OrgID, approval.DocumentID)
	if err != nil {
		return store.Approval{}, err
	}

	switch status {
	case store.ApprovalRejected:
		if err := s.store.SetDocumentStatus(ctx, doc.ID, store.DocStatusDraft); err != nil {
			return store.Approval{}, err
		}
		doc.Status = store.DocStatusDraft
		s.appendActivity(ctx, doc.ID, session.UserID, "rejected", comment)
	case store.ApprovalApproved:
		agg, err := s.store.CountApprovalStatuses(ctx, doc.ID)
		if err != nil {
			return store.Approval{}, err
		}
		if agg.Complete && agg.Total > 0 {
			if err := s.store.SetDocumentStatus(ctx, doc.ID, store.DocStatusApproved); err != nil {
				return store.Approval{}, err
			}
			doc.Status = store.DocStatusApproved
		}
		s.appendActivity(ctx, doc.ID, session.UserID, "approved", comment)
	}
	s.indexDocument(doc)

	s.audit(ctx, session.OrgID, session.UserID, "approval."+status, "approval", approval.ID, map[string]any{"document": doc.ID, "comment": comment}, "")
	s.notifyOrg(ctx, session.OrgID, notify.Event{
		Kind:       "approval." + status,
		Resource:   "approval",
		ResourceID: approval.ID,
		Actor:      session.UserID,
		Payload:    map[string]any{"document": doc.ID, "documentTitle": doc.Title},
	})
	return decided, nil
}

// Escalate hands an open approval to another user. The record stays open
// and the document's status never changes; only decision authority moves.
func (s *Service) Escalate(ctx context.Context, session Session, approvalID, escalateTo, reason string) (store.Approval, error) {
	if strings.TrimSpace(escalateTo) == "" {
		return store.Approval{}, domainError(422, "VALIDATION_ERROR", "escalateTo is required", nil)
	}

	approval, err := s.store.GetApproval(ctx, session.OrgID, approvalID)
	if err != nil {
		return store.Approval{}, err
	}
	if approval.Status != store.ApprovalPending && approval.Status != store.ApprovalEscalated {
		return store.Approval{}, domainError(409, "ALREADY_DECIDED", "Approval has already been decided", nil)
	}
	if !canDecide(session, approval) {
		return store.Approval{}, domainError(403, "FORBIDDEN", "Not authorized to escalate this approval", nil)
	}

	target, err := s.store.GetUserByID(ctx, escalateTo)
	if err != nil {
		return store.Approval{}, domainError(422, "VALIDATION_ERROR", "escalation target does not exist", nil)
	}

	escalated, err := s.store.EscalateApproval(ctx, approval.ID, target.ID)
	if err != nil {
		return store.Approval{}, err
	}

	s.appendActivity(ctx, approval.DocumentID, session.UserID, "escalated", reason)
	s.audit(ctx, session.OrgID, session.UserID, "approval.escalated", "approval", approval.ID, map[string]any{"to": target.ID, "reason": reason}, "")
	s.notifyOrg(ctx, session.OrgID, notify.Event{
		Kind:       "approval.escalated",
		Resource:   "approval",
		ResourceID: approval.ID,
		Actor:      session.UserID,
		Payload:    map[string]any{"document": approval.DocumentID, "to": target.ID},
	})
	return escalated, nil
}

// Remind emails whoever currently holds the approval. Best effort: a
// missing SMTP config reports a conflict rather than pretending to send.
func (s *Service) Remind(ctx context.Context, session Session, approvalID string) error {
	approval, err := s.store.GetApproval(ctx, session.OrgID, approvalID)
	if err != nil {
		return err
	}
	if approval.Status != store.ApprovalPending && approval.Status != store.ApprovalEscalated {
		return domainError(409, "ALREADY_DECIDED", "Approval has already been decided", nil)
	}
	if s.email == nil || !s.email.IsConfigured() {
		return domainError(409, "EMAIL_NOT_CONFIGURED", "Email is not configured", nil)
	}

	holder := approval.Assignee
	if approval.Status == store.ApprovalEscalated && approval.EscalatedTo != "" {
		holder = approval.EscalatedTo
	}
	user, err := s.store.GetUserByID(ctx, holder)
	if err != nil {
		return err
	}
	doc, err := s.store.GetDocument(ctx, session.OrgID, approval.DocumentID)
	if err != nil {
		return err
	}

	if err := s.email.SendApprovalReminder(user.Email, user.Name, doc.Title, approval.DueDate); err != nil {
		return err
	}
	s.audit(ctx, session.OrgID, session.UserID, "approval.reminded", "approval", approval.ID, map[string]any{"to": user.ID}, "")
	return nil
}

// GetApprovalStatus aggregates a document's approvals into counts,
// percentage, and completeness.
func (s *Service) GetApprovalStatus(ctx context.Context, session Session, documentID string) (store.ApprovalStatus, error) {
	if _, err := s.store.GetDocument(ctx, session.OrgID, documentID); err != nil {
		return store.ApprovalStatus{}, err
	}
	return s.store.CountApprovalStatuses(ctx, documentID)
}

func (s *Service) ListDocumentApprovals(ctx context.Context, session Session, documentID string) ([]store.Approval, error) {
	if _, err := s.store.GetDocument(ctx, session.OrgID, documentID); err != nil {
		return nil, err
	}
	return s.store.ListDocumentApprovals(ctx, documentID)
}

// MyPendingApprovals lists open approvals the user can act on.
func (s *Service) MyPendingApprovals(ctx context.Context, session Session) ([]store.Approval, error) {
	return s.store.ListPendingForUser(ctx, session.OrgID, session.UserID)
}

func (s *Service) ListApprovals(ctx context.Context, session Session, status string) ([]store.Approval, error) {
	if session.Role != store.RoleAdmin && session.Role != store.RoleDepartmentLead {
		return nil, domainError(403, "FORBIDDEN", "Forbidden", nil)
	}
	return s.store.ListApprovals(ctx, session.OrgID, status)
}

// OverdueApprovals lists open approvals whose deadline has passed.
func (s *Service) OverdueApprovals(ctx context.Context, session Session) ([]store.Approval, error) {
	if session.Role != store.RoleAdmin && session.Role != store.RoleDepartmentLead {
		return nil, domainError(403, "FORBIDDEN", "Forbidden", nil)
	}
	return s.store.ListOverdueApprovals(ctx, session.OrgID, time.Now())
}

// BulkApprove approves every pending approval assigned to the acting user
// on documents in the given department, as one batched update. Matching
// is exact on the department name.
func (s *Service) BulkApprove(ctx context.Context, session Session, department, comment string) (int, error) {
	if strings.TrimSpace(department) == "" {
		return 0, domainError(422, "VALIDATION_ERROR", "department is required", nil)
	}

	count, err := s.store.BulkApproveByDepartment(ctx, session.OrgID, session.UserID, department, comment)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.audit(ctx, session.OrgID, session.UserID, "approval.bulk_approve", "approval", "", map[string]any{"department": department, "count": count}, "")
	}
	return count, nil
}
