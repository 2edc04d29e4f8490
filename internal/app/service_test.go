package app

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"edms/api/internal/authpw"
	"edms/api/internal/config"
	"edms/api/internal/store"
)

type fakeStore struct {
	getOrganizationFn         func(context.Context, string) (store.Organization, error)
	getOrganizationByNameFn   func(context.Context, string) (store.Organization, error)
	insertOrganizationFn      func(context.Context, store.Organization) error
	updateOrganizationFn      func(context.Context, store.Organization) error
	getUserByIDFn             func(context.Context, string) (store.User, error)
	getUserByEmailFn          func(context.Context, string) (store.User, error)
	insertUserFn              func(context.Context, store.User) error
	updateUserFn              func(context.Context, store.User) error
	countOrgUsersFn           func(context.Context, string) (int, error)
	getDocumentFn             func(context.Context, string, string) (store.Document, error)
	insertDocumentFn          func(context.Context, store.Document) error
	updateDocumentMetaFn      func(context.Context, store.Document) error
	setDocumentStatusFn       func(context.Context, string, string) error
	setLegalHoldFn            func(context.Context, string, bool) error
	bumpDocumentVersionFn     func(context.Context, string, string, string) (store.Document, error)
	resolveWorkflowFn         func(context.Context, string, string, string) (store.Workflow, error)
	getWorkflowFn             func(context.Context, string, string) (store.Workflow, error)
	insertWorkflowFn          func(context.Context, store.Workflow) error
	updateWorkflowFn          func(context.Context, store.Workflow) error
	getApprovalFn             func(context.Context, string, string) (store.Approval, error)
	insertApprovalFn          func(context.Context, store.Approval) error
	decideApprovalFn          func(context.Context, string, string, string, string) (store.Approval, error)
	escalateApprovalFn        func(context.Context, string, string) (store.Approval, error)
	countApprovalStatusesFn   func(context.Context, string) (store.ApprovalStatus, error)
	bulkApproveFn             func(context.Context, string, string, string, string) (int, error)
	createApprovalsFn         func(context.Context, string, []store.Approval, []string, *time.Time) error
	insertAuditFn             func(context.Context, store.AuditEntry) error
	archiveExpiredFn          func(context.Context, string) (int, error)
	pruneOldDocumentsFn       func(context.Context, string) ([]store.Document, error)
	listExpiringDocumentsFn   func(context.Context, string, time.Time) ([]store.Document, error)
}

func (f *fakeStore) GetOrganization(ctx context.Context, orgID string) (store.Organization, error) {
	if f.getOrganizationFn != nil {
		return f.getOrganizationFn(ctx, orgID)
	}
	return store.Organization{ID: orgID, Name: "acme"}, nil
}
func (f *fakeStore) GetOrganizationByName(ctx context.Context, name string) (store.Organization, error) {
	if f.getOrganizationByNameFn != nil {
		return f.getOrganizationByNameFn(ctx, name)
	}
	return store.Organization{}, sql.ErrNoRows
}
func (f *fakeStore) ListOrganizations(context.Context) ([]store.Organization, error) {
	return nil, nil
}
func (f *fakeStore) InsertOrganization(ctx context.Context, org store.Organization) error {
	if f.insertOrganizationFn != nil {
		return f.insertOrganizationFn(ctx, org)
	}
	return nil
}
func (f *fakeStore) UpdateOrganization(ctx context.Context, org store.Organization) error {
	if f.updateOrganizationFn != nil {
		return f.updateOrganizationFn(ctx, org)
	}
	return nil
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, IsActive: true}, nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) InsertUser(ctx context.Context, user store.User) error {
	if f.insertUserFn != nil {
		return f.insertUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) UpdateUser(ctx context.Context, user store.User) error {
	if f.updateUserFn != nil {
		return f.updateUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) DeleteUser(context.Context, string) error { return nil }
func (f *fakeStore) ListUsers(context.Context, string) ([]store.User, error) {
	return nil, nil
}
func (f *fakeStore) CountOrgUsers(ctx context.Context, orgID string) (int, error) {
	if f.countOrgUsersFn != nil {
		return f.countOrgUsersFn(ctx, orgID)
	}
	return 0, nil
}
func (f *fakeStore) InsertDocument(ctx context.Context, doc store.Document) error {
	if f.insertDocumentFn != nil {
		return f.insertDocumentFn(ctx, doc)
	}
	return nil
}
func (f *fakeStore) GetDocument(ctx context.Context, orgID, documentID string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, orgID, documentID)
	}
	return store.Document{ID: documentID, OrgID: orgID, Title: "Doc", Status: store.DocStatusActive}, nil
}
func (f *fakeStore) SearchDocuments(context.Context, string, store.DocumentFilter) ([]store.Document, int, error) {
	return nil, 0, nil
}
func (f *fakeStore) UpdateDocumentMeta(ctx context.Context, doc store.Document) error {
	if f.updateDocumentMetaFn != nil {
		return f.updateDocumentMetaFn(ctx, doc)
	}
	return nil
}
func (f *fakeStore) SetDocumentStatus(ctx context.Context, documentID, status string) error {
	if f.setDocumentStatusFn != nil {
		return f.setDocumentStatusFn(ctx, documentID, status)
	}
	return nil
}
func (f *fakeStore) SetLegalHold(ctx context.Context, documentID string, hold bool) error {
	if f.setLegalHoldFn != nil {
		return f.setLegalHoldFn(ctx, documentID, hold)
	}
	return nil
}
func (f *fakeStore) AddDocumentTags(context.Context, string, []string) error { return nil }
func (f *fakeStore) BumpDocumentVersion(ctx context.Context, documentID, fileKey, uploadedBy string) (store.Document, error) {
	if f.bumpDocumentVersionFn != nil {
		return f.bumpDocumentVersionFn(ctx, documentID, fileKey, uploadedBy)
	}
	return store.Document{ID: documentID, FileKey: fileKey, Version: 2}, nil
}
func (f *fakeStore) RestoreDocumentVersion(context.Context, string, int, string) (store.Document, error) {
	return store.Document{}, nil
}
func (f *fakeStore) ListDocumentVersions(context.Context, string) ([]store.DocumentVersion, error) {
	return nil, nil
}
func (f *fakeStore) PruneDocumentHistory(context.Context, string, int) ([]string, error) {
	return nil, nil
}
func (f *fakeStore) AddComment(context.Context, store.Comment) error { return nil }
func (f *fakeStore) ListComments(context.Context, string) ([]store.Comment, error) {
	return nil, nil
}
func (f *fakeStore) AppendActivity(context.Context, store.Activity) error { return nil }
func (f *fakeStore) ListActivity(context.Context, string) ([]store.Activity, error) {
	return nil, nil
}
func (f *fakeStore) ListExpiringDocuments(ctx context.Context, orgID string, before time.Time) ([]store.Document, error) {
	if f.listExpiringDocumentsFn != nil {
		return f.listExpiringDocumentsFn(ctx, orgID, before)
	}
	return nil, nil
}
func (f *fakeStore) ArchiveExpiredDocuments(ctx context.Context, orgID string) (int, error) {
	if f.archiveExpiredFn != nil {
		return f.archiveExpiredFn(ctx, orgID)
	}
	return 0, nil
}
func (f *fakeStore) PruneOldDocuments(ctx context.Context, orgID string) ([]store.Document, error) {
	if f.pruneOldDocumentsFn != nil {
		return f.pruneOldDocumentsFn(ctx, orgID)
	}
	return nil, nil
}
func (f *fakeStore) InsertWorkflow(ctx context.Context, wf store.Workflow) error {
	if f.insertWorkflowFn != nil {
		return f.insertWorkflowFn(ctx, wf)
	}
	return nil
}
func (f *fakeStore) UpdateWorkflow(ctx context.Context, wf store.Workflow) error {
	if f.updateWorkflowFn != nil {
		return f.updateWorkflowFn(ctx, wf)
	}
	return nil
}
func (f *fakeStore) DeleteWorkflow(context.Context, string, string) error { return nil }
func (f *fakeStore) GetWorkflow(ctx context.Context, orgID, workflowID string) (store.Workflow, error) {
	if f.getWorkflowFn != nil {
		return f.getWorkflowFn(ctx, orgID, workflowID)
	}
	return store.Workflow{}, sql.ErrNoRows
}
func (f *fakeStore) ListWorkflows(context.Context, string) ([]store.Workflow, error) {
	return nil, nil
}
func (f *fakeStore) ResolveWorkflow(ctx context.Context, orgID, docType, department string) (store.Workflow, error) {
	if f.resolveWorkflowFn != nil {
		return f.resolveWorkflowFn(ctx, orgID, docType, department)
	}
	return store.Workflow{}, sql.ErrNoRows
}
func (f *fakeStore) InsertApproval(ctx context.Context, approval store.Approval) error {
	if f.insertApprovalFn != nil {
		return f.insertApprovalFn(ctx, approval)
	}
	return nil
}
func (f *fakeStore) GetApproval(ctx context.Context, orgID, approvalID string) (store.Approval, error) {
	if f.getApprovalFn != nil {
		return f.getApprovalFn(ctx, orgID, approvalID)
	}
	return store.Approval{}, sql.ErrNoRows
}
func (f *fakeStore) ListApprovals(context.Context, string, string) ([]store.Approval, error) {
	return nil, nil
}
func (f *fakeStore) ListDocumentApprovals(context.Context, string) ([]store.Approval, error) {
	return nil, nil
}
func (f *fakeStore) ListPendingForUser(context.Context, string, string) ([]store.Approval, error) {
	return nil, nil
}
func (f *fakeStore) ListOverdueApprovals(context.Context, string, time.Time) ([]store.Approval, error) {
	return nil, nil
}
func (f *fakeStore) CountApprovalStatuses(ctx context.Context, documentID string) (store.ApprovalStatus, error) {
	if f.countApprovalStatusesFn != nil {
		return f.countApprovalStatusesFn(ctx, documentID)
	}
	return store.ApprovalStatus{}, nil
}
func (f *fakeStore) DecideApproval(ctx context.Context, approvalID, status, decidedBy, comment string) (store.Approval, error) {
	if f.decideApprovalFn != nil {
		return f.decideApprovalFn(ctx, approvalID, status, decidedBy, comment)
	}
	return store.Approval{ID: approvalID, Status: status, DecidedBy: decidedBy, Comment: comment}, nil
}
func (f *fakeStore) EscalateApproval(ctx context.Context, approvalID, escalateTo string) (store.Approval, error) {
	if f.escalateApprovalFn != nil {
		return f.escalateApprovalFn(ctx, approvalID, escalateTo)
	}
	return store.Approval{ID: approvalID, Status: store.ApprovalEscalated, EscalatedTo: escalateTo}, nil
}
func (f *fakeStore) BulkApproveByDepartment(ctx context.Context, orgID, assignee, department, comment string) (int, error) {
	if f.bulkApproveFn != nil {
		return f.bulkApproveFn(ctx, orgID, assignee, department, comment)
	}
	return 0, nil
}
func (f *fakeStore) CreateApprovalsWithChain(ctx context.Context, documentID string, approvals []store.Approval, chain []string, nextDate *time.Time) error {
	if f.createApprovalsFn != nil {
		return f.createApprovalsFn(ctx, documentID, approvals, chain, nextDate)
	}
	return nil
}
func (f *fakeStore) InsertAudit(ctx context.Context, entry store.AuditEntry) error {
	if f.insertAuditFn != nil {
		return f.insertAuditFn(ctx, entry)
	}
	return nil
}
func (f *fakeStore) QueryAudit(context.Context, string, store.AuditFilter) ([]store.AuditEntry, int, error) {
	return nil, 0, nil
}
func (f *fakeStore) ListResourceAudit(context.Context, string, string, string) ([]store.AuditEntry, error) {
	return nil, nil
}
func (f *fakeStore) DashboardCounts(context.Context, string, time.Time, time.Time) (store.DashboardStats, error) {
	return store.DashboardStats{}, nil
}
func (f *fakeStore) SaveRefreshSession(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) LookupRefreshSession(context.Context, string) (store.User, error) {
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(context.Context, string) error { return nil }
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error {
	return nil
}
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) {
	return false, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}
}

func newTestService(f *fakeStore) *Service {
	return NewService(testConfig(), f, authpw.NewService(f), testLogger(), Options{})
}

func adminSession() Session {
	return Session{UserID: "usr_admin", UserName: "Admin", Role: store.RoleAdmin, OrgID: "org_1"}
}

func userSession(userID, department string) Session {
	return Session{UserID: userID, UserName: "User", Role: store.RoleUser, OrgID: "org_1", Department: department}
}

func TestSignInIssuesSessionAndRefreshToken(t *testing.T) {
	hash, err := authpw.HashPassword("hunter2password")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	f := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			if email != "dana@acme.com" {
				return store.User{}, sql.ErrNoRows
			}
			return store.User{
				ID: "usr_1", Email: email, Name: "Dana", PasswordHash: hash,
				Role: store.RoleUser, OrgID: "org_1", IsActive: true,
			}, nil
		},
	}
	svc := newTestService(f)

	session, err := svc.SignIn(context.Background(), "dana@acme.com", "hunter2password")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("expected access and refresh tokens")
	}
	if session.UserID != "usr_1" || session.OrgID != "org_1" {
		t.Fatalf("unexpected session identity: %+v", session)
	}

	resolved, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("session from token: %v", err)
	}
	if resolved.UserID != "usr_1" {
		t.Fatalf("resolved user = %q, want usr_1", resolved.UserID)
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	hash, _ := authpw.HashPassword("hunter2password")
	f := &fakeStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "usr_1", PasswordHash: hash, OrgID: "org_1", IsActive: true}, nil
		},
	}
	svc := newTestService(f)

	_, err := svc.SignIn(context.Background(), "dana@acme.com", "wrong")
	var derr *DomainError
	if !asDomainError(err, &derr) || derr.Status != 401 || derr.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("expected 401 INVALID_CREDENTIALS, got %v", err)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	hash, _ := authpw.HashPassword("hunter2password")
	f := &fakeStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "usr_1", PasswordHash: hash, OrgID: "org_1", IsActive: true}, nil
		},
	}
	revoked := map[string]bool{}
	svc := NewService(config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}, f, authpw.NewService(f), testLogger(), Options{Sessions: &memSessions{revoked: revoked}})

	session, err := svc.SignIn(context.Background(), "dana@acme.com", "hunter2password")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if err := svc.Logout(context.Background(), session, session.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), session.Token); err == nil {
		t.Fatal("expected revoked token to be rejected")
	}
}

// memSessions is an in-memory sessionStore for logout tests.
type memSessions struct {
	saved   map[string]store.User
	revoked map[string]bool
}

func (m *memSessions) SaveSession(_ context.Context, tokenHash string, user store.User, _ time.Time) error {
	if m.saved == nil {
		m.saved = map[string]store.User{}
	}
	m.saved[tokenHash] = user
	return nil
}
func (m *memSessions) LookupSession(_ context.Context, tokenHash string) (store.User, error) {
	user, ok := m.saved[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}
func (m *memSessions) RevokeSession(_ context.Context, tokenHash string) error {
	delete(m.saved, tokenHash)
	return nil
}
func (m *memSessions) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	m.revoked[jti] = true
	return nil
}
func (m *memSessions) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	return m.revoked[jti], nil
}

func asDomainError(err error, target **DomainError) bool {
	derr, ok := err.(*DomainError)
	if !ok {
		return false
	}
	*target = derr
	return true
}
