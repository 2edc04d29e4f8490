package app

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"edms/api/internal/search"
	"edms/api/internal/store"
)

const maxUploadBytes = 64 << 20

func documentJSON(doc store.Document) map[string]any {
	return map[string]any{
		"id":               doc.ID,
		"title":            doc.Title,
		"type":             doc.Type,
		"department":       doc.Department,
		"status":           doc.Status,
		"ownerId":          doc.OwnerID,
		"version":          doc.Version,
		"effectiveDate":    doc.EffectiveDate,
		"expiryDate":       doc.ExpiryDate,
		"tags":             doc.Tags,
		"approvalRequired": doc.ApprovalRequired,
		"legalHold":        doc.LegalHold,
		"retentionYears":   doc.RetentionYears,
		"nextApprovalDate": doc.NextApprovalDate,
		"approvalChain":    doc.ApprovalChain,
		"createdAt":        doc.CreatedAt,
		"updatedAt":        doc.UpdatedAt,
	}
}

func documentListJSON(docs []store.Document) []map[string]any {
	items := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		items = append(items, documentJSON(doc))
	}
	return items
}

func approvalJSON(a store.Approval) map[string]any {
	return map[string]any{
		"id":          a.ID,
		"documentId":  a.DocumentID,
		"status":      a.Status,
		"requestedBy": a.RequestedBy,
		"requestedAt": a.RequestedAt,
		"decidedBy":   a.DecidedBy,
		"decidedAt":   a.DecidedAt,
		"comment":     a.Comment,
		"dueDate":     a.DueDate,
		"priority":    a.Priority,
		"assignee":    a.Assignee,
		"escalatedTo": a.EscalatedTo,
		"escalatedAt": a.EscalatedAt,
	}
}

func approvalListJSON(approvals []store.Approval) []map[string]any {
	items := make([]map[string]any, 0, len(approvals))
	for _, a := range approvals {
		items = append(items, approvalJSON(a))
	}
	return items
}

func parseUpload(r *http.Request) (FileUpload, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return FileUpload{}, domainError(400, "INVALID_BODY", "expected multipart form with a file", nil)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return FileUpload{}, domainError(422, "VALIDATION_ERROR", "file is required", nil)
	}
	return FileUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Reader:      file,
	}, nil
}

func formTime(r *http.Request, key string) *time.Time {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t
	}
	return nil
}

func formTags(r *http.Request) []string {
	raw := strings.TrimSpace(r.FormValue("tags"))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			tags = append(tags, part)
		}
	}
	return tags
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request, session Session) {
	upload, err := parseUpload(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if closer, ok := upload.Reader.(io.Closer); ok {
		defer closer.Close()
	}

	retention, _ := strconv.Atoi(r.FormValue("retentionYears"))
	input := CreateDocumentInput{
		Title:            r.FormValue("title"),
		Type:             r.FormValue("type"),
		Department:       r.FormValue("department"),
		Tags:             formTags(r),
		EffectiveDate:    formTime(r, "effectiveDate"),
		ExpiryDate:       formTime(r, "expiryDate"),
		ApprovalRequired: r.FormValue("approvalRequired") == "true",
		RetentionYears:   retention,
	}

	doc, err := s.service.CreateDocument(r.Context(), session, input, upload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, documentJSON(doc))
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	filter := store.DocumentFilter{
		Search:       query.Get("search"),
		Type:         query.Get("type"),
		Department:   query.Get("department"),
		Status:       query.Get("status"),
		OwnerID:      query.Get("owner"),
		DateFrom:     queryTime(r, "from"),
		DateTo:       queryTime(r, "to"),
		SkipArchived: query.Get("includeArchived") != "true",
		Page:         queryInt(r, "page", 1),
		Limit:        queryInt(r, "limit", 20),
	}
	if tags := query.Get("tags"); tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				filter.Tags = append(filter.Tags, tag)
			}
		}
	}

	docs, total, err := s.service.ListDocuments(r.Context(), session, filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": documentListJSON(docs),
		"total":     total,
		"page":      filter.Page,
		"limit":     filter.Limit,
	})
}

func (s *HTTPServer) handleSearchDocuments(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	resp := s.service.SearchDocumentsFullText(session, search.Query{
		Text:       query.Get("q"),
		Type:       query.Get("type"),
		Department: query.Get("department"),
		Status:     query.Get("status"),
		Limit:      queryInt(r, "limit", 20),
		Offset:     queryInt(r, "offset", 0),
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleExpiringDocuments(w http.ResponseWriter, r *http.Request, session Session) {
	docs, err := s.service.ExpiringDocuments(r.Context(), session, queryInt(r, "days", 30))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": documentListJSON(docs)})
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request, session Session) {
	doc, err := s.service.GetDocument(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentJSON(doc))
}

func (s *HTTPServer) handleUpdateDocument(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Title            *string  `json:"title"`
		Type             *string  `json:"type"`
		Department       *string  `json:"department"`
		Tags             []string `json:"tags"`
		EffectiveDate    *string  `json:"effectiveDate"`
		ExpiryDate       *string  `json:"expiryDate"`
		ApprovalRequired *bool    `json:"approvalRequired"`
		RetentionYears   *int     `json:"retentionYears"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	input := UpdateDocumentInput{
		Title:            body.Title,
		Type:             body.Type,
		Department:       body.Department,
		Tags:             body.Tags,
		ApprovalRequired: body.ApprovalRequired,
		RetentionYears:   body.RetentionYears,
	}
	if body.EffectiveDate != nil {
		input.EffectiveDate = parseDate(*body.EffectiveDate)
	}
	if body.ExpiryDate != nil {
		input.ExpiryDate = parseDate(*body.ExpiryDate)
	}

	doc, err := s.service.UpdateDocument(r.Context(), session, mux.Vars(r)["id"], input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentJSON(doc))
}

func parseDate(raw string) *time.Time {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t
	}
	return nil
}

func (s *HTTPServer) handleArchiveDocument(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.ArchiveDocument(r.Context(), session, mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleDownloadDocument(w http.ResponseWriter, r *http.Request, session Session) {
	reader, contentType, err := s.service.DownloadDocument(r.Context(), session, mux.Vars(r)["id"], queryInt(r, "version", 0))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

func (s *HTTPServer) handleUploadVersion(w http.ResponseWriter, r *http.Request, session Session) {
	upload, err := parseUpload(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if closer, ok := upload.Reader.(io.Closer); ok {
		defer closer.Close()
	}

	doc, err := s.service.UploadVersion(r.Context(), session, mux.Vars(r)["id"], upload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, documentJSON(doc))
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request, session Session) {
	versions, err := s.service.ListVersions(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		items = append(items, map[string]any{
			"version":    v.Version,
			"uploadedBy": v.UploadedBy,
			"uploadedAt": v.UploadedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": items})
}

func (s *HTTPServer) handleRestoreVersion(w http.ResponseWriter, r *http.Request, session Session) {
	vars := mux.Vars(r)
	version, err := strconv.Atoi(vars["version"])
	if err != nil || version <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid version", nil)
		return
	}

	doc, err := s.service.RestoreVersion(r.Context(), session, vars["id"], version)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentJSON(doc))
}

func (s *HTTPServer) handleAddTags(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Tags []string `json:"tags"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	doc, err := s.service.AddTags(r.Context(), session, mux.Vars(r)["id"], body.Tags)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentJSON(doc))
}

func (s *HTTPServer) handleLegalHold(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Hold bool `json:"hold"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := s.service.SetLegalHold(r.Context(), session, mux.Vars(r)["id"], body.Hold); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "legalHold": body.Hold})
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Body string `json:"body"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := s.service.AddComment(r.Context(), session, mux.Vars(r)["id"], body.Body); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request, session Session) {
	comments, err := s.service.ListComments(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(comments))
	for _, c := range comments {
		items = append(items, map[string]any{
			"id":        c.ID,
			"userId":    c.UserID,
			"userName":  c.UserName,
			"body":      c.Body,
			"createdAt": c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": items})
}

func (s *HTTPServer) handleListActivity(w http.ResponseWriter, r *http.Request, session Session) {
	activity, err := s.service.ListActivity(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(activity))
	for _, a := range activity {
		items = append(items, map[string]any{
			"userId":    a.UserID,
			"action":    a.Action,
			"details":   a.Details,
			"createdAt": a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": items})
}

func (s *HTTPServer) handlePruneHistory(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Keep int `json:"keep"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	removed, err := s.service.PruneHistory(r.Context(), session, mux.Vars(r)["id"], body.Keep)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
