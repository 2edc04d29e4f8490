package app

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"edms/api/internal/auth"
	"edms/api/internal/authpw"
	"edms/api/internal/config"
	"edms/api/internal/notify"
	"edms/api/internal/search"
	"edms/api/internal/store"
	"edms/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	OrgID        string
	Department   string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetOrganization(context.Context, string) (store.Organization, error)
	GetOrganizationByName(context.Context, string) (store.Organization, error)
	ListOrganizations(context.Context) ([]store.Organization, error)
	InsertOrganization(context.Context, store.Organization) error
	UpdateOrganization(context.Context, store.Organization) error

	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	InsertUser(context.Context, store.User) error
	UpdateUser(context.Context, store.User) error
	DeleteUser(context.Context, string) error
	ListUsers(context.Context, string) ([]store.User, error)
	CountOrgUsers(context.Context, string) (int, error)

	InsertDocument(context.Context, store.Document) error
	GetDocument(context.Context, string, string) (store.Document, error)
	SearchDocuments(context.Context, string, store.DocumentFilter) ([]store.Document, int, error)
	UpdateDocumentMeta(context.Context, store.Document) error
	SetDocumentStatus(context.Context, string, string) error
	SetLegalHold(context.Context, string, bool) error
	AddDocumentTags(context.Context, string, []string) error
	BumpDocumentVersion(context.Context, string, string, string) (store.Document, error)
	RestoreDocumentVersion(context.Context, string, int, string) (store.Document, error)
	ListDocumentVersions(context.Context, string) ([]store.DocumentVersion, error)
	PruneDocumentHistory(context.Context, string, int) ([]string, error)
	AddComment(context.Context, store.Comment) error
	ListComments(context.Context, string) ([]store.Comment, error)
	AppendActivity(context.Context, store.Activity) error
	ListActivity(context.Context, string) ([]store.Activity, error)

	ListExpiringDocuments(context.Context, string, time.Time) ([]store.Document, error)
	ArchiveExpiredDocuments(context.Context, string) (int, error)
	PruneOldDocuments(context.Context, string) ([]store.Document, error)

	InsertWorkflow(context.Context, store.Workflow) error
	UpdateWorkflow(context.Context, store.Workflow) error
	DeleteWorkflow(context.Context, string, string) error
	GetWorkflow(context.Context, string, string) (store.Workflow, error)
	ListWorkflows(context.Context, string) ([]store.Workflow, error)
	ResolveWorkflow(context.Context, string, string, string) (store.Workflow, error)

	InsertApproval(context.Context, store.Approval) error
	GetApproval(context.Context, string, string) (store.Approval, error)
	ListApprovals(context.Context, string, string) ([]store.Approval, error)
	ListDocumentApprovals(context.Context, string) ([]store.Approval, error)
	ListPendingForUser(context.Context, string, string) ([]store.Approval, error)
	ListOverdueApprovals(context.Context, string, time.Time) ([]store.Approval, error)
	CountApprovalStatuses(context.Context, string) (store.ApprovalStatus, error)
	DecideApproval(context.Context, string, string, string, string) (store.Approval, error)
	EscalateApproval(context.Context, string, string) (store.Approval, error)
	BulkApproveByDepartment(context.Context, string, string, string, string) (int, error)
	CreateApprovalsWithChain(context.Context, string, []store.Approval, []string, *time.Time) error

	InsertAudit(context.Context, store.AuditEntry) error
	QueryAudit(context.Context, string, store.AuditFilter) ([]store.AuditEntry, int, error)
	ListResourceAudit(context.Context, string, string, string) ([]store.AuditEntry, error)
	DashboardCounts(context.Context, string, time.Time, time.Time) (store.DashboardStats, error)

	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	Ping(ctx context.Context) error
}

// sessionStore handles refresh tokens and access-token revocation. Redis
// backs it in production; the Postgres tables serve when Redis is absent.
type sessionStore interface {
	SaveSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// fileStore stores document files
type fileStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
	Remove(ctx context.Context, key string) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	DeleteDocument(id string)
}

type eventNotifier interface {
	Enqueue(event notify.Event, urls []string)
}

type emailSender interface {
	IsConfigured() bool
	SendApprovalReminder(to, userName, documentTitle string, dueDate *time.Time) error
	SendExpiryReminder(to []string, documentTitle string, expiryDate time.Time) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	files    fileStore
	search   searchService
	notifier eventNotifier
	email    emailSender
	authpw   *authpw.Service
	log      *logrus.Logger
}

// Options carries the optional backends; nil fields degrade gracefully.
type Options struct {
	Sessions sessionStore
	Files    fileStore
	Search   searchService
	Notifier eventNotifier
	Email    emailSender
}

func NewService(cfg config.Config, dataStore dataStore, authService *authpw.Service, log *logrus.Logger, opts Options) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: opts.Sessions,
		files:    opts.Files,
		search:   opts.Search,
		notifier: opts.Notifier,
		email:    opts.Email,
		authpw:   authService,
		log:      log,
	}
	if s.sessions == nil {
		s.sessions = pgSessions{store: dataStore}
	}
	return s
}

// pgSessions adapts the relational store to the sessionStore interface
type pgSessions struct {
	store dataStore
}

func (p pgSessions) SaveSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return p.store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (p pgSessions) LookupSession(ctx context.Context, tokenHash string) (store.User, error) {
	return p.store.LookupRefreshSession(ctx, tokenHash)
}

func (p pgSessions) RevokeSession(ctx context.Context, tokenHash string) error {
	return p.store.RevokeRefreshSession(ctx, tokenHash)
}

func (p pgSessions) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	return p.store.RevokeAccessToken(ctx, jti, exp)
}

func (p pgSessions) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	return p.store.IsAccessTokenRevoked(ctx, jti)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// SignUp registers a user and opens a session
func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	resp, err := s.authpw.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}

	s.audit(ctx, resp.User.OrgID, resp.User.ID, "user.signup", "user", resp.User.ID, nil, "")
	if resp.OrgCreated {
		s.audit(ctx, resp.User.OrgID, resp.User.ID, "organization.create", "organization", resp.User.OrgID, nil, "")
	}

	return s.issueSession(ctx, resp.User)
}

// SignIn authenticates and opens a session
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.authpw.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, domainError(401, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	s.audit(ctx, user.OrgID, user.ID, "user.signin", "user", user.ID, nil, "")
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	if user.Name == "" || user.Department == "" {
		// Redis sessions carry a snapshot; refresh from the source of truth.
		if full, err := s.store.GetUserByID(ctx, user.ID); err == nil {
			user = full
		}
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:        user.ID,
		Name:       user.Name,
		Org:        user.OrgID,
		Role:       user.Role,
		Department: user.Department,
		JTI:        jti,
		Exp:        expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Role:         user.Role,
		OrgID:        user.OrgID,
		Department:   user.Department,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:      token,
		UserID:     claims.Sub,
		UserName:   claims.Name,
		Role:       claims.Role,
		OrgID:      claims.Org,
		Department: claims.Department,
		JTI:        claims.JTI,
		ExpiresAt:  time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// SwitchOrg changes the user's active organization and reissues the
// session scoped to it. The target must be in the user's membership list.
func (s *Service) SwitchOrg(ctx context.Context, session Session, orgID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return Session{}, err
	}

	member := false
	for _, id := range user.Orgs {
		if id == orgID {
			member = true
			break
		}
	}
	if !member {
		return Session{}, domainError(403, "NOT_A_MEMBER", "Not a member of that organization", nil)
	}

	user.OrgID = orgID
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return Session{}, err
	}

	s.audit(ctx, orgID, user.ID, "user.switch_org", "user", user.ID, nil, "")
	return s.issueSession(ctx, user)
}

// audit records an audit entry, logging rather than failing the request
// when the write itself fails.
func (s *Service) audit(ctx context.Context, orgID, userID, action, resource, resourceID string, changes map[string]any, ip string) {
	entry := store.AuditEntry{
		OrgID:      orgID,
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Changes:    changes,
		IP:         ip,
	}
	if err := s.store.InsertAudit(ctx, entry); err != nil {
		s.log.WithError(err).WithField("action", action).Error("audit write failed")
	}
}

// notifyOrg queues a webhook event for every notification URL the org has
// configured. No-op when webhooks are disabled or unset.
func (s *Service) notifyOrg(ctx context.Context, orgID string, event notify.Event) {
	if s.notifier == nil {
		return
	}
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		s.log.WithError(err).Warn("notify: load org failed")
		return
	}

	urls := append([]string{}, org.NotificationURLs...)
	if org.Integration.Enabled && org.Integration.WebhookURL != "" {
		urls = append(urls, org.Integration.WebhookURL)
	}
	event.OrgID = orgID
	s.notifier.Enqueue(event, urls)
}
