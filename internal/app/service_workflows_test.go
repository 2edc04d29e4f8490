package app

import (
	"context"
	"testing"
	"time"

	"edms/api/internal/store"
)

func TestBuildRoutePlanCreatesOneApprovalPerStepApprover(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	wf := store.Workflow{
		ID: "wf_1",
		Steps: []store.WorkflowStep{
			{Order: 1, Approvers: []string{"usr_a", "usr_b"}, Action: store.StepActionApprove, DueInDays: 3},
			{Order: 2, Approvers: []string{"usr_c"}, Action: store.StepActionSign, DueInDays: 7},
		},
	}
	doc := store.Document{ID: "doc_1", OrgID: "org_1"}

	approvals, chain, nextDate := buildRoutePlan(wf, doc, "usr_req", now)

	if len(approvals) != 3 {
		t.Fatalf("approvals = %d, want 3", len(approvals))
	}
	wantChain := []string{"usr_a", "usr_b", "usr_c"}
	for i, approver := range wantChain {
		if chain[i] != approver {
			t.Fatalf("chain[%d] = %q, want %q", i, chain[i], approver)
		}
		if approvals[i].Assignee != approver {
			t.Fatalf("approvals[%d].Assignee = %q, want %q", i, approvals[i].Assignee, approver)
		}
	}
	for _, approval := range approvals {
		if approval.Status != store.ApprovalPending {
			t.Fatalf("status = %q, want pending", approval.Status)
		}
		if approval.Priority != store.PriorityMedium {
			t.Fatalf("priority = %q, want medium", approval.Priority)
		}
		if approval.RequestedBy != "usr_req" {
			t.Fatalf("requestedBy = %q, want usr_req", approval.RequestedBy)
		}
		if approval.DueDate == nil {
			t.Fatal("expected due date on every approval")
		}
	}

	firstDue := now.AddDate(0, 0, 3)
	if !approvals[0].DueDate.Equal(firstDue) || !approvals[1].DueDate.Equal(firstDue) {
		t.Fatalf("first step due = %v, want %v", approvals[0].DueDate, firstDue)
	}
	if !approvals[2].DueDate.Equal(now.AddDate(0, 0, 7)) {
		t.Fatalf("second step due = %v, want now+7d", approvals[2].DueDate)
	}
	if nextDate == nil || !nextDate.Equal(firstDue) {
		t.Fatalf("nextDate = %v, want first step deadline %v", nextDate, firstDue)
	}
}

func TestBuildRoutePlanSortsStepsByOrder(t *testing.T) {
	wf := store.Workflow{
		Steps: []store.WorkflowStep{
			{Order: 2, Approvers: []string{"usr_later"}},
			{Order: 1, Approvers: []string{"usr_first"}},
		},
	}

	_, chain, _ := buildRoutePlan(wf, store.Document{}, "usr_req", time.Now())

	if len(chain) != 2 || chain[0] != "usr_first" || chain[1] != "usr_later" {
		t.Fatalf("chain = %v, want [usr_first usr_later]", chain)
	}
}

func TestBuildRoutePlanRepeatsApproverAcrossSteps(t *testing.T) {
	wf := store.Workflow{
		Steps: []store.WorkflowStep{
			{Order: 1, Approvers: []string{"usr_a"}},
			{Order: 2, Approvers: []string{"usr_a"}},
		},
	}

	approvals, chain, _ := buildRoutePlan(wf, store.Document{}, "usr_req", time.Now())

	if len(approvals) != 2 || len(chain) != 2 {
		t.Fatalf("approvals=%d chain=%d, want a record per step occurrence", len(approvals), len(chain))
	}
}

func TestBuildRoutePlanSkipsDueDateWhenUnset(t *testing.T) {
	wf := store.Workflow{
		Steps: []store.WorkflowStep{{Order: 1, Approvers: []string{"usr_a"}}},
	}

	approvals, _, nextDate := buildRoutePlan(wf, store.Document{}, "usr_req", time.Now())

	if approvals[0].DueDate != nil {
		t.Fatal("expected no due date when DueInDays is zero")
	}
	if nextDate != nil {
		t.Fatal("expected no next review date when the first step has no deadline")
	}
}

func TestAutoRouteWithEmptyWorkflowRoutesNothing(t *testing.T) {
	persisted := false
	f := &fakeStore{
		resolveWorkflowFn: func(context.Context, string, string, string) (store.Workflow, error) {
			return store.Workflow{ID: "wf_empty", Name: "Empty", Enabled: true}, nil
		},
		createApprovalsFn: func(context.Context, string, []store.Approval, []string, *time.Time) error {
			persisted = true
			return nil
		},
	}
	svc := newTestService(f)

	result, err := svc.AutoRoute(context.Background(), userSession("usr_1", "Quality"), "doc_1")
	if err != nil {
		t.Fatalf("auto route: %v", err)
	}
	if result.ApprovalsCreated != 0 {
		t.Fatalf("approvals created = %d, want 0", result.ApprovalsCreated)
	}
	if persisted {
		t.Fatal("empty workflow must not write approvals")
	}
}

func TestAutoRouteReturnsNotFoundWithoutMatchingWorkflow(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.AutoRoute(context.Background(), userSession("usr_1", "Quality"), "doc_1")
	var derr *DomainError
	if !asDomainError(err, &derr) || derr.Status != 404 || derr.Code != "NO_WORKFLOW" {
		t.Fatalf("expected 404 NO_WORKFLOW, got %v", err)
	}
}

func TestAutoRoutePersistsPlanInOneBatch(t *testing.T) {
	var gotChain []string
	var gotNext *time.Time
	var gotApprovals []store.Approval
	f := &fakeStore{
		getDocumentFn: func(_ context.Context, orgID, docID string) (store.Document, error) {
			return store.Document{ID: docID, OrgID: orgID, Title: "Doc", Status: store.DocStatusActive, OwnerID: "usr_owner", Type: "sop"}, nil
		},
		resolveWorkflowFn: func(context.Context, string, string, string) (store.Workflow, error) {
			return store.Workflow{
				ID: "wf_1", Name: "SOP Review", Enabled: true,
				Steps: []store.WorkflowStep{
					{Order: 1, Approvers: []string{"usr_a", "usr_b"}, DueInDays: 3},
					{Order: 2, Approvers: []string{"usr_c"}, DueInDays: 7},
				},
			}, nil
		},
		createApprovalsFn: func(_ context.Context, _ string, approvals []store.Approval, chain []string, next *time.Time) error {
			gotApprovals = approvals
			gotChain = chain
			gotNext = next
			return nil
		},
	}
	svc := newTestService(f)

	// Routed by an admin who is not the owner; the approvals must still
	// record the owner as requester.
	result, err := svc.AutoRoute(context.Background(), adminSession(), "doc_1")
	if err != nil {
		t.Fatalf("auto route: %v", err)
	}
	if result.ApprovalsCreated != 3 || len(gotApprovals) != 3 {
		t.Fatalf("approvals created = %d/%d, want 3", result.ApprovalsCreated, len(gotApprovals))
	}
	for _, approval := range gotApprovals {
		if approval.RequestedBy != "usr_owner" {
			t.Fatalf("requestedBy = %q, want document owner usr_owner", approval.RequestedBy)
		}
	}
	if len(gotChain) != 3 || gotChain[0] != "usr_a" || gotChain[2] != "usr_c" {
		t.Fatalf("chain = %v", gotChain)
	}
	if gotNext == nil {
		t.Fatal("expected next review date from first step deadline")
	}
	if until := time.Until(*gotNext); until < 71*time.Hour || until > 73*time.Hour {
		t.Fatalf("next review date %v not ~3 days out", gotNext)
	}
}

func TestCreateWorkflowRejectsUnknownTrigger(t *testing.T) {
	svc := newTestService(&fakeStore{})

	enabled := true
	_, err := svc.CreateWorkflow(context.Background(), adminSession(), WorkflowInput{
		Name:         "Bad",
		Trigger:      "severity",
		TriggerValue: "high",
		Enabled:      &enabled,
		Steps:        []store.WorkflowStep{{Order: 1, Approvers: []string{"usr_a"}, Action: store.StepActionApprove}},
	})
	var derr *DomainError
	if !asDomainError(err, &derr) || derr.Status != 422 {
		t.Fatalf("expected 422 validation error, got %v", err)
	}
}

func TestCreateWorkflowForbiddenForRegularUser(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.CreateWorkflow(context.Background(), userSession("usr_1", "Quality"), WorkflowInput{
		Name:         "QA",
		Trigger:      store.TriggerDepartment,
		TriggerValue: "Quality",
		Steps:        []store.WorkflowStep{{Order: 1, Approvers: []string{"usr_a"}, Action: store.StepActionApprove}},
	})
	var derr *DomainError
	if !asDomainError(err, &derr) || derr.Status != 403 {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestDepartmentLeadManagesOnlyOwnDepartmentWorkflows(t *testing.T) {
	lead := Session{UserID: "usr_lead", Role: store.RoleDepartmentLead, OrgID: "org_1", Department: "Quality"}

	own := store.Workflow{Trigger: store.TriggerDepartment, TriggerValue: "Quality"}
	if !canManageWorkflow(lead, own) {
		t.Fatal("lead should manage workflows for their own department")
	}

	other := store.Workflow{Trigger: store.TriggerDepartment, TriggerValue: "Engineering"}
	if canManageWorkflow(lead, other) {
		t.Fatal("lead must not manage another department's workflow")
	}

	byType := store.Workflow{Trigger: store.TriggerDocumentType, TriggerValue: "sop"}
	if canManageWorkflow(lead, byType) {
		t.Fatal("lead must not manage document-type workflows")
	}

	if !canManageWorkflow(adminSession(), other) {
		t.Fatal("admin manages every workflow")
	}
}
