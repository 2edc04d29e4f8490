package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"edms/api/internal/store"
)

func organizationJSON(org store.Organization) map[string]any {
	return map[string]any{
		"id":               org.ID,
		"name":             org.Name,
		"departments":      org.Departments,
		"notificationUrls": org.NotificationURLs,
		"retentionYears":   org.RetentionYears,
		"integration":      org.Integration,
		"createdAt":        org.CreatedAt,
		"updatedAt":        org.UpdatedAt,
	}
}

func userJSON(user store.User) map[string]any {
	return map[string]any{
		"id":         user.ID,
		"email":      user.Email,
		"name":       user.Name,
		"role":       user.Role,
		"department": user.Department,
		"orgId":      user.OrgID,
		"orgs":       user.Orgs,
		"isActive":   user.IsActive,
		"createdAt":  user.CreatedAt,
	}
}

func auditJSON(entry store.AuditEntry) map[string]any {
	return map[string]any{
		"id":         entry.ID,
		"userId":     entry.UserID,
		"action":     entry.Action,
		"resource":   entry.Resource,
		"resourceId": entry.ResourceID,
		"changes":    entry.Changes,
		"metadata":   entry.Metadata,
		"ip":         entry.IP,
		"createdAt":  entry.CreatedAt,
	}
}

func auditListJSON(entries []store.AuditEntry) []map[string]any {
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		items = append(items, auditJSON(entry))
	}
	return items
}

func (s *HTTPServer) handleGetOrganization(w http.ResponseWriter, r *http.Request, session Session) {
	org, err := s.service.GetOrganization(r.Context(), session)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, organizationJSON(org))
}

func (s *HTTPServer) handleUpdateOrganization(w http.ResponseWriter, r *http.Request, session Session) {
	var input UpdateOrganizationInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	org, err := s.service.UpdateOrganization(r.Context(), session, input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, organizationJSON(org))
}

func (s *HTTPServer) handleAddDepartment(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	org, err := s.service.AddDepartment(r.Context(), session, body.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, organizationJSON(org))
}

func (s *HTTPServer) handleRemoveDepartment(w http.ResponseWriter, r *http.Request, session Session) {
	org, err := s.service.RemoveDepartment(r.Context(), session, mux.Vars(r)["name"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, organizationJSON(org))
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request, session Session) {
	users, err := s.service.ListUsers(r.Context(), session)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userJSON(user))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": items})
}

func (s *HTTPServer) handleCreateUser(w http.ResponseWriter, r *http.Request, session Session) {
	var input CreateUserInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, err := s.service.CreateUser(r.Context(), session, input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userJSON(user))
}

func (s *HTTPServer) handleGetUser(w http.ResponseWriter, r *http.Request, session Session) {
	user, err := s.service.GetUser(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userJSON(user))
}

func (s *HTTPServer) handleUpdateUser(w http.ResponseWriter, r *http.Request, session Session) {
	var input UpdateUserInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, err := s.service.UpdateUser(r.Context(), session, mux.Vars(r)["id"], input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userJSON(user))
}

func (s *HTTPServer) handleDeleteUser(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteUser(r.Context(), session, mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleQueryAudit(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	filter := store.AuditFilter{
		Resource:   query.Get("resource"),
		ResourceID: query.Get("resourceId"),
		Action:     query.Get("action"),
		DateFrom:   queryTime(r, "from"),
		DateTo:     queryTime(r, "to"),
		Page:       queryInt(r, "page", 1),
		Limit:      queryInt(r, "limit", 50),
	}

	entries, total, err := s.service.QueryAudit(r.Context(), session, filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": auditListJSON(entries),
		"total":   total,
		"page":    filter.Page,
		"limit":   filter.Limit,
	})
}

func (s *HTTPServer) handleDocumentAudit(w http.ResponseWriter, r *http.Request, session Session) {
	entries, err := s.service.ResourceAudit(r.Context(), session, "document", mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": auditListJSON(entries)})
}

func (s *HTTPServer) handleExportAudit(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	filter := store.AuditFilter{
		Resource:   query.Get("resource"),
		ResourceID: query.Get("resourceId"),
		Action:     query.Get("action"),
		DateFrom:   queryTime(r, "from"),
		DateTo:     queryTime(r, "to"),
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit.csv"`)
	if err := s.service.ExportAuditCSV(r.Context(), session, filter, w); err != nil {
		writeServiceError(w, err)
		return
	}
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request, session Session) {
	stats, err := s.service.DashboardStats(r.Context(), session)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleArchiveExpired(w http.ResponseWriter, r *http.Request, session Session) {
	count, err := s.service.ArchiveExpired(r.Context(), session)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expired": count})
}

func (s *HTTPServer) handlePruneDocuments(w http.ResponseWriter, r *http.Request, session Session) {
	count, err := s.service.PruneOldDocuments(r.Context(), session)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pruned": count})
}
