package store

import "time"

// Document lifecycle states.
const (
	DocStatusDraft    = "draft"
	DocStatusActive   = "active"
	DocStatusApproved = "approved"
	DocStatusRejected = "rejected"
	DocStatusArchived = "archived"
	DocStatusExpired  = "expired"
)

// Approval states. Escalated is non-terminal: the record stays open and
// decision authority moves to the escalation target.
const (
	ApprovalPending   = "pending"
	ApprovalApproved  = "approved"
	ApprovalRejected  = "rejected"
	ApprovalEscalated = "escalated"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Workflow trigger kinds.
const (
	TriggerDocumentType = "document_type"
	TriggerDepartment   = "department"
	TriggerManual       = "manual"
)

const (
	StepActionApprove = "approve"
	StepActionReview  = "review"
	StepActionSign    = "sign"
)

const (
	RoleAdmin          = "admin"
	RoleDepartmentLead = "department_lead"
	RoleUser           = "user"
)

// IntegrationSettings configures the external SaaS suite for an org.
type IntegrationSettings struct {
	Enabled        bool   `json:"enabled"`
	WebhookURL     string `json:"webhookUrl,omitempty"`
	DriveFolderID  string `json:"driveFolderId,omitempty"`
	FormID         string `json:"formId,omitempty"`
	SignTemplateID string `json:"signTemplateId,omitempty"`
}

type Organization struct {
	ID               string
	Name             string
	Departments      []string
	NotificationURLs []string
	RetentionYears   int
	Integration      IntegrationSettings
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// User belongs to one or more organizations; OrgID is the active one and
// every query the user issues is scoped by it.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Department   string
	OrgID        string
	Orgs         []string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Document struct {
	ID               string
	OrgID            string
	Title            string
	Type             string
	Department       string
	Status           string
	OwnerID          string
	FileKey          string
	Version          int
	EffectiveDate    *time.Time
	ExpiryDate       *time.Time
	Tags             []string
	ApprovalRequired bool
	LegalHold        bool
	RetentionYears   int
	NextApprovalDate *time.Time
	ApprovalChain    []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DocumentVersion is an append-only history entry; rows are never updated,
// only inserted, and removed solely by explicit history pruning.
type DocumentVersion struct {
	DocumentID string
	Version    int
	FileKey    string
	UploadedBy string
	UploadedAt time.Time
}

type Comment struct {
	ID         int64
	DocumentID string
	UserID     string
	UserName   string
	Body       string
	CreatedAt  time.Time
}

type Activity struct {
	ID         int64
	DocumentID string
	UserID     string
	Action     string
	Details    string
	CreatedAt  time.Time
}

type WorkflowStep struct {
	Order     int      `json:"order"`
	Approvers []string `json:"approvers"`
	Action    string   `json:"action"`
	DueInDays int      `json:"dueInDays,omitempty"`
}

type Workflow struct {
	ID           string
	OrgID        string
	Name         string
	Description  string
	Trigger      string
	TriggerValue string
	Steps        []WorkflowStep
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Approval struct {
	ID          string
	DocumentID  string
	OrgID       string
	Status      string
	RequestedBy string
	RequestedAt time.Time
	DecidedBy   string
	DecidedAt   *time.Time
	Comment     string
	DueDate     *time.Time
	Priority    string
	Assignee    string
	EscalatedTo string
	EscalatedAt *time.Time
}

// ApprovalStatus is the aggregate over all approvals of one document.
// Complete means nothing outstanding and nothing rejected, which is not
// the same as "all approved"; zero approvals reports complete.
type ApprovalStatus struct {
	Total      int     `json:"total"`
	Approved   int     `json:"approved"`
	Rejected   int     `json:"rejected"`
	Pending    int     `json:"pending"`
	Percentage float64 `json:"percentage"`
	Complete   bool    `json:"complete"`
}

// BuildApprovalStatus computes the aggregate from raw counts. Percentage
// is approved over total; zero approvals means trivially complete.
func BuildApprovalStatus(total, approved, rejected, pending int) ApprovalStatus {
	status := ApprovalStatus{
		Total:    total,
		Approved: approved,
		Rejected: rejected,
		Pending:  pending,
	}
	if total > 0 {
		status.Percentage = float64(approved) / float64(total) * 100
	}
	status.Complete = pending == 0 && rejected == 0
	return status
}

type AuditEntry struct {
	ID         int64
	OrgID      string
	UserID     string
	Action     string
	Resource   string
	ResourceID string
	Changes    map[string]any
	Metadata   map[string]any
	IP         string
	CreatedAt  time.Time
}

type AuditFilter struct {
	Resource   string
	ResourceID string
	Action     string
	DateFrom   *time.Time
	DateTo     *time.Time
	Page       int
	Limit      int
}

type DocumentFilter struct {
	Search       string
	Type         string
	Department   string
	Status       string
	OwnerID      string
	Tags         []string
	DateFrom     *time.Time
	DateTo       *time.Time
	SkipArchived bool
	Page         int
	Limit        int
}

type DashboardStats struct {
	TotalDocuments   int `json:"totalDocuments"`
	ActiveDocuments  int `json:"activeDocuments"`
	PendingApprovals int `json:"pendingApprovals"`
	ExpiringSoon     int `json:"expiringSoon"`
	RecentActivity   int `json:"recentActivity"`
}
