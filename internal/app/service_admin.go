package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"edms/api/internal/authpw"
	"edms/api/internal/store"
	"edms/api/internal/util"
)

type UpdateOrganizationInput struct {
	Name             *string                    `json:"name"`
	Departments      []string                   `json:"departments"`
	NotificationURLs []string                   `json:"notificationUrls"`
	RetentionYears   *int                       `json:"retentionYears"`
	Integration      *store.IntegrationSettings `json:"integration"`
}

type CreateUserInput struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Password   string `json:"password"`
	Role       string `json:"role"`
	Department string `json:"department"`
}

type UpdateUserInput struct {
	Name       *string `json:"name"`
	Role       *string `json:"role"`
	Department *string `json:"department"`
	IsActive   *bool   `json:"isActive"`
}

func validRole(role string) bool {
	switch role {
	case store.RoleAdmin, store.RoleDepartmentLead, store.RoleUser:
		return true
	}
	return false
}

func (s *Service) GetOrganization(ctx context.Context, session Session) (store.Organization, error) {
	return s.store.GetOrganization(ctx, session.OrgID)
}

func (s *Service) UpdateOrganization(ctx context.Context, session Session, input UpdateOrganizationInput) (store.Organization, error) {
	if session.Role != store.RoleAdmin {
		return store.Organization{}, domainError(403, "FORBIDDEN", "Only admins update the organization", nil)
	}

	org, err := s.store.GetOrganization(ctx, session.OrgID)
	if err != nil {
		return store.Organization{}, err
	}

	if input.Name != nil && strings.TrimSpace(*input.Name) != "" {
		org.Name = *input.Name
	}
	if input.Departments != nil {
		org.Departments = input.Departments
	}
	if input.NotificationURLs != nil {
		org.NotificationURLs = input.NotificationURLs
	}
	if input.RetentionYears != nil && *input.RetentionYears > 0 {
		org.RetentionYears = *input.RetentionYears
	}
	if input.Integration != nil {
		org.Integration = *input.Integration
	}

	if err := s.store.UpdateOrganization(ctx, org); err != nil {
		return store.Organization{}, err
	}
	s.audit(ctx, session.OrgID, session.UserID, "organization.update", "organization", org.ID, nil, "")
	return s.store.GetOrganization(ctx, session.OrgID)
}

// AddDepartment appends a department to the org's list if not present.
func (s *Service) AddDepartment(ctx context.Context, session Session, name string) (store.Organization, error) {
	if session.Role != store.RoleAdmin {
		return store.Organization{}, domainError(403, "FORBIDDEN", "Only admins manage departments", nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Organization{}, domainError(422, "VALIDATION_ERROR", "department name is required", nil)
	}

	org, err := s.store.GetOrganization(ctx, session.OrgID)
	if err != nil {
		return store.Organization{}, err
	}
	for _, existing := range org.Departments {
		if strings.EqualFold(existing, name) {
			return org, nil
		}
	}
	org.Departments = append(org.Departments, name)
	if err := s.store.UpdateOrganization(ctx, org); err != nil {
		return store.Organization{}, err
	}
	s.audit(ctx, session.OrgID, session.UserID, "organization.add_department", "organization", org.ID, map[string]any{"department": name}, "")
	return org, nil
}

// RemoveDepartment drops a department from the org's list. Matching is
// case-insensitive; removing an absent department is a no-op.
func (s *Service) RemoveDepartment(ctx context.Context, session Session, name string) (store.Organization, error) {
	if session.Role != store.RoleAdmin {
		return store.Organization{}, domainError(403, "FORBIDDEN", "Only admins manage departments", nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Organization{}, domainError(422, "VALIDATION_ERROR", "department name is required", nil)
	}

	org, err := s.store.GetOrganization(ctx, session.OrgID)
	if err != nil {
		return store.Organization{}, err
	}
	kept := org.Departments[:0]
	removed := false
	for _, existing := range org.Departments {
		if strings.EqualFold(existing, name) {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	if !removed {
		return org, nil
	}
	org.Departments = kept
	if err := s.store.UpdateOrganization(ctx, org); err != nil {
		return store.Organization{}, err
	}
	s.audit(ctx, session.OrgID, session.UserID, "organization.remove_department", "organization", org.ID, map[string]any{"department": name}, "")
	return org, nil
}

func (s *Service) ListUsers(ctx context.Context, session Session) ([]store.User, error) {
	return s.store.ListUsers(ctx, session.OrgID)
}

func (s *Service) GetUser(ctx context.Context, session Session, userID string) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	if user.OrgID != session.OrgID {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

// CreateUser adds a user to the admin's organization directly, bypassing
// the self-service domain matching.
func (s *Service) CreateUser(ctx context.Context, session Session, input CreateUserInput) (store.User, error) {
	if session.Role != store.RoleAdmin {
		return store.User{}, domainError(403, "FORBIDDEN", "Only admins create users", nil)
	}
	if input.Email == "" || input.Name == "" {
		return store.User{}, domainError(422, "VALIDATION_ERROR", "email and name are required", nil)
	}
	role := input.Role
	if role == "" {
		role = store.RoleUser
	}
	if !validRole(role) {
		return store.User{}, domainError(422, "VALIDATION_ERROR", "role must be admin, department_lead, or user", nil)
	}

	if _, err := s.store.GetUserByEmail(ctx, strings.ToLower(input.Email)); err == nil {
		return store.User{}, domainError(409, "EMAIL_EXISTS", "Email already registered", nil)
	}

	hash, err := authpw.HashPassword(input.Password)
	if err != nil {
		return store.User{}, domainError(422, "VALIDATION_ERROR", err.Error(), nil)
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Email:        strings.ToLower(input.Email),
		Name:         input.Name,
		PasswordHash: hash,
		Role:         role,
		Department:   input.Department,
		OrgID:        session.OrgID,
		Orgs:         []string{session.OrgID},
		IsActive:     true,
	}
	if err := s.store.InsertUser(ctx, user); err != nil {
		return store.User{}, err
	}

	s.audit(ctx, session.OrgID, session.UserID, "user.create", "user", user.ID, map[string]any{"email": user.Email, "role": user.Role}, "")
	return user, nil
}

func (s *Service) UpdateUser(ctx context.Context, session Session, userID string, input UpdateUserInput) (store.User, error) {
	if session.Role != store.RoleAdmin {
		return store.User{}, domainError(403, "FORBIDDEN", "Only admins update users", nil)
	}
	user, err := s.GetUser(ctx, session, userID)
	if err != nil {
		return store.User{}, err
	}

	changes := map[string]any{}
	if input.Name != nil && *input.Name != "" {
		user.Name = *input.Name
	}
	if input.Role != nil {
		if !validRole(*input.Role) {
			return store.User{}, domainError(422, "VALIDATION_ERROR", "role must be admin, department_lead, or user", nil)
		}
		changes["role"] = map[string]any{"from": user.Role, "to": *input.Role}
		user.Role = *input.Role
	}
	if input.Department != nil {
		user.Department = *input.Department
	}
	if input.IsActive != nil {
		changes["isActive"] = *input.IsActive
		user.IsActive = *input.IsActive
	}

	if err := s.store.UpdateUser(ctx, user); err != nil {
		return store.User{}, err
	}
	s.audit(ctx, session.OrgID, session.UserID, "user.update", "user", user.ID, changes, "")
	return user, nil
}

func (s *Service) DeleteUser(ctx context.Context, session Session, userID string) error {
	if session.Role != store.RoleAdmin {
		return domainError(403, "FORBIDDEN", "Only admins delete users", nil)
	}
	if userID == session.UserID {
		return domainError(409, "SELF_DELETE", "Cannot delete your own account", nil)
	}
	user, err := s.GetUser(ctx, session, userID)
	if err != nil {
		return err
	}

	if err := s.store.DeleteUser(ctx, user.ID); err != nil {
		return err
	}
	s.audit(ctx, session.OrgID, session.UserID, "user.delete", "user", user.ID, map[string]any{"email": user.Email}, "")
	return nil
}

// QueryAudit pages through the org's audit trail. Leads and admins only.
func (s *Service) QueryAudit(ctx context.Context, session Session, filter store.AuditFilter) ([]store.AuditEntry, int, error) {
	if session.Role != store.RoleAdmin && session.Role != store.RoleDepartmentLead {
		return nil, 0, domainError(403, "FORBIDDEN", "Forbidden", nil)
	}
	return s.store.QueryAudit(ctx, session.OrgID, filter)
}

func (s *Service) ResourceAudit(ctx context.Context, session Session, resource, resourceID string) ([]store.AuditEntry, error) {
	if session.Role != store.RoleAdmin && session.Role != store.RoleDepartmentLead {
		return nil, domainError(403, "FORBIDDEN", "Forbidden", nil)
	}
	return s.store.ListResourceAudit(ctx, session.OrgID, resource, resourceID)
}

// ExportAuditCSV streams the filtered audit trail as CSV. Admin only;
// exports themselves land in the audit trail.
func (s *Service) ExportAuditCSV(ctx context.Context, session Session, filter store.AuditFilter, w io.Writer) error {
	if session.Role != store.RoleAdmin {
		return domainError(403, "FORBIDDEN", "Only admins export the audit trail", nil)
	}

	filter.Page = 1
	if filter.Limit <= 0 {
		filter.Limit = 10000
	}
	entries, _, err := s.store.QueryAudit(ctx, session.OrgID, filter)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"timestamp", "user", "action", "resource", "resource_id", "changes", "ip"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, entry := range entries {
		changes := ""
		if len(entry.Changes) > 0 {
			raw, _ := json.Marshal(entry.Changes)
			changes = string(raw)
		}
		record := []string{
			entry.CreatedAt.UTC().Format(time.RFC3339),
			entry.UserID,
			entry.Action,
			entry.Resource,
			entry.ResourceID,
			changes,
			entry.IP,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	s.audit(ctx, session.OrgID, session.UserID, "audit.export", "audit", "", map[string]any{"rows": len(entries)}, "")
	return nil
}

// DashboardStats summarizes the org for the landing view.
func (s *Service) DashboardStats(ctx context.Context, session Session) (store.DashboardStats, error) {
	expiringBefore := time.Now().AddDate(0, 0, 30)
	activitySince := time.Now().AddDate(0, 0, -7)
	return s.store.DashboardCounts(ctx, session.OrgID, expiringBefore, activitySince)
}
