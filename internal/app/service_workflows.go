package app

import (
	"context"
	"sort"
	"strings"
	"time"

	"edms/api/internal/notify"
	"edms/api/internal/store"
	"edms/api/internal/util"
)

type WorkflowInput struct {
	Name         string               `json:"name"`
	Description  string               `json:"description"`
	Trigger      string               `json:"trigger"`
	TriggerValue string               `json:"triggerValue"`
	Steps        []store.WorkflowStep `json:"steps"`
	Enabled      *bool                `json:"enabled"`
}

// RouteResult reports what auto-routing produced.
type RouteResult struct {
	WorkflowID       string     `json:"workflowId"`
	WorkflowName     string     `json:"workflowName"`
	ApprovalsCreated int        `json:"approvalsCreated"`
	ApprovalChain    []string   `json:"approvalChain"`
	NextApprovalDate *time.Time `json:"nextApprovalDate,omitempty"`
}

var allowedTriggers = map[string]struct{}{
	store.TriggerDocumentType: {},
	store.TriggerDepartment:   {},
	store.TriggerManual:       {},
}

var allowedStepActions = map[string]struct{}{
	store.StepActionApprove: {},
	store.StepActionReview:  {},
	store.StepActionSign:    {},
}

// canManageWorkflow reports whether a session may create or edit a
// workflow. Department leads only touch workflows triggered by their own
// department.
func canManageWorkflow(session Session, wf store.Workflow) bool {
	switch session.Role {
	case store.RoleAdmin:
		return true
	case store.RoleDepartmentLead:
		return wf.Trigger == store.TriggerDepartment && wf.TriggerValue == session.Department
	default:
		return false
	}
}

func validateWorkflowInput(input WorkflowInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return domainError(422, "VALIDATION_ERROR", "name is required", nil)
	}
	if _, ok := allowedTriggers[input.Trigger]; !ok {
		return domainError(422, "VALIDATION_ERROR", "trigger must be document_type, department, or manual", nil)
	}
	if input.Trigger != store.TriggerManual && strings.TrimSpace(input.TriggerValue) == "" {
		return domainError(422, "VALIDATION_ERROR", "triggerValue is required for this trigger", nil)
	}
	for _, step := range input.Steps {
		if len(step.Approvers) == 0 {
			return domainError(422, "VALIDATION_ERROR", "every step needs at least one approver", nil)
		}
		if _, ok := allowedStepActions[step.Action]; !ok {
			return domainError(422, "VALIDATION_ERROR", "step action must be approve, review, or sign", nil)
		}
		if step.DueInDays < 0 {
			return domainError(422, "VALIDATION_ERROR", "dueInDays must not be negative", nil)
		}
	}
	return nil
}

func (s *Service) CreateWorkflow(ctx context.Context, session Session, input WorkflowInput) (store.Workflow, error) {
	if err := validateWorkflowInput(input); err != nil {
		return store.Workflow{}, err
	}

	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}
	wf := store.Workflow{
		ID:           util.NewID("wf"),
		OrgID:        session.OrgID,
		Name:         input.Name,
		Description:  input.Description,
		Trigger:      input.Trigger,
		TriggerValue: input.TriggerValue,
		Steps:        normalizeSteps(input.Steps),
		Enabled:      enabled,
	}
	if !canManageWorkflow(session, wf) {
		return store.Workflow{}, domainError(403, "FORBIDDEN", "Forbidden", nil)
	}

	if err := s.store.InsertWorkflow(ctx, wf); err != nil {
		return store.Workflow{}, err
	}
	s.audit(ctx, session.OrgID, session.UserID, "workflow.create", "workflow", wf.ID, map[string]any{"name": wf.Name}, "")
	return s.store.GetWorkflow(ctx, session.OrgID, wf.ID)
}

func (s *Service) UpdateWorkflow(ctx context.Context, session Session, workflowID string, input WorkflowInput) (store.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, session.OrgID, workflowID)
	if err != nil {
		return store.Workflow{}, err
	}
	if !canManageWorkflow(session, wf) {
		return store.Workflow{}, domainError(403, "FORBIDDEN", "Forbidden", nil)
	}
	if err := validateWorkflowInput(input); err != nil {
		return store.Workflow{}, err
	}

	wf.Name = input.Name
	wf.Description = input.Description
	wf.Trigger = input.Trigger
	wf.TriggerValue = input.TriggerValue
	wf.Steps = normalizeSteps(input.Steps)
	if input.Enabled != nil {
		wf.Enabled = *input.Enabled
	}
	// Re-check against the new trigger so a lead cannot move a workflow
	// out of their department.
	if !canManageWorkflow(session, wf) {
		return store.Workflow{}, domainError(403, "FORBIDDEN", "Forbidden", nil)
	}

	if err := s.store.UpdateWorkflow(ctx, wf); err != nil {
		return store.Workflow{}, err
	}
	s.audit(ctx, session.OrgID, session.UserID, "workflow.update", "workflow", wf.ID, map[string]any{"name": wf.Name}, "")
	return s.store.GetWorkflow(ctx, session.OrgID, wf.ID)
}

func (s *Service) DeleteWorkflow(ctx context.Context, session Session, workflowID string) error {
	wf, err := s.store.GetWorkflow(ctx, session.OrgID, workflowID)
	if err != nil {
		return err
	}
	if !canManageWorkflow(session, wf) {
		return domainError(403, "FORBIDDEN", "Forbidden", nil)
	}
	if err := s.store.DeleteWorkflow(ctx, session.OrgID, workflowID); err != nil {
		return err
	}
	s.audit(ctx, session.OrgID, session.UserID, "workflow.delete", "workflow", workflowID, nil, "")
	return nil
}

func (s *Service) GetWorkflow(ctx context.Context, session Session, workflowID string) (store.Workflow, error) {
	return s.store.GetWorkflow(ctx, session.OrgID, workflowID)
}

func (s *Service) ListWorkflows(ctx context.Context, session Session) ([]store.Workflow, error) {
	return s.store.ListWorkflows(ctx, session.OrgID)
}

// ResolveWorkflowFor reports which workflow would route a document of the
// given type and department, without creating anything.
func (s *Service) ResolveWorkflowFor(ctx context.Context, session Session, docType, department string) (store.Workflow, error) {
	wf, err := s.store.ResolveWorkflow(ctx, session.OrgID, docType, department)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Workflow{}, domainError(404, "NO_WORKFLOW", "No matching workflow", nil)
		}
		return store.Workflow{}, err
	}
	return wf, nil
}

// AutoRoute resolves the document's workflow and creates one pending
// approval per step approver, all inside one transaction together with
// the document's flattened chain and next review date. A workflow with no
// steps routes nothing and succeeds.
func (s *Service) AutoRoute(ctx context.Context, session Session, documentID string) (RouteResult, error) {
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return RouteResult{}, err
	}

	wf, err := s.store.ResolveWorkflow(ctx, session.OrgID, doc.Type, doc.Department)
	if err != nil {
		if store.IsNotFound(err) {
			return RouteResult{}, domainError(404, "NO_WORKFLOW", "No matching workflow for this document", nil)
		}
		return RouteResult{}, err
	}

	approvals, chain, nextDate := buildRoutePlan(wf, doc, doc.OwnerID, time.Now())
	result := RouteResult{
		WorkflowID:       wf.ID,
		WorkflowName:     wf.Name,
		ApprovalsCreated: len(approvals),
		ApprovalChain:    chain,
		NextApprovalDate: nextDate,
	}
	if len(approvals) == 0 {
		return result, nil
	}

	if err := s.store.CreateApprovalsWithChain(ctx, doc.ID, approvals, chain, nextDate); err != nil {
		return RouteResult{}, err
	}

	s.appendActivity(ctx, doc.ID, session.UserID, "routed", wf.Name)
	s.audit(ctx, session.OrgID, session.UserID, "document.route", "document", doc.ID, map[string]any{"workflow": wf.ID, "approvals": len(approvals)}, "")
	s.notifyOrg(ctx, session.OrgID, notify.Event{
		Kind:       "approval.requested",
		Resource:   "document",
		ResourceID: doc.ID,
		Actor:      session.UserID,
		Payload:    map[string]any{"workflow": wf.Name, "approvers": chain},
	})
	return result, nil
}

// buildRoutePlan turns a workflow into concrete approval records. Steps
// run in declared order; the chain repeats an approver that appears in
// multiple steps. The document's next review date follows the first
// step's deadline.
func buildRoutePlan(wf store.Workflow, doc store.Document, requestedBy string, now time.Time) ([]store.Approval, []string, *time.Time) {
	steps := normalizeSteps(wf.Steps)

	var approvals []store.Approval
	var chain []string
	var nextDate *time.Time

	for i, step := range steps {
		var due *time.Time
		if step.DueInDays > 0 {
			d := now.AddDate(0, 0, step.DueInDays)
			due = &d
		}
		if i == 0 && due != nil {
			nextDate = due
		}
		for _, approver := range step.Approvers {
			approvals = append(approvals, store.Approval{
				ID:          util.NewID("apr"),
				DocumentID:  doc.ID,
				OrgID:       doc.OrgID,
				Status:      store.ApprovalPending,
				RequestedBy: requestedBy,
				DueDate:     due,
				Priority:    store.PriorityMedium,
				Assignee:    approver,
			})
			chain = append(chain, approver)
		}
	}
	return approvals, chain, nextDate
}

func normalizeSteps(steps []store.WorkflowStep) []store.WorkflowStep {
	sorted := make([]store.WorkflowStep, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	return sorted
}
