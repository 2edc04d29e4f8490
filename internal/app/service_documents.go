package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"edms/api/internal/notify"
	"edms/api/internal/search"
	"edms/api/internal/storage"
	"edms/api/internal/store"
	"edms/api/internal/util"
)

type CreateDocumentInput struct {
	Title            string
	Type             string
	Department       string
	Tags             []string
	EffectiveDate    *time.Time
	ExpiryDate       *time.Time
	ApprovalRequired bool
	RetentionYears   int
}

type UpdateDocumentInput struct {
	Title            *string
	Type             *string
	Department       *string
	Tags             []string
	EffectiveDate    *time.Time
	ExpiryDate       *time.Time
	ApprovalRequired *bool
	RetentionYears   *int
}

type FileUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// canManageDocument reports whether the session may modify the document.
// Admins manage everything, department leads manage their department,
// everyone manages their own documents.
func canManageDocument(session Session, doc store.Document) bool {
	switch {
	case session.Role == store.RoleAdmin:
		return true
	case session.Role == store.RoleDepartmentLead && session.Department == doc.Department:
		return true
	default:
		return doc.OwnerID == session.UserID
	}
}

// permittedDepartment rejects departments outside the org's configured
// list. Admins bypass the check; blank departments and orgs that have
// not configured any departments are always allowed.
func permittedDepartment(session Session, org store.Organization, department string) error {
	if session.Role == store.RoleAdmin || strings.TrimSpace(department) == "" || len(org.Departments) == 0 {
		return nil
	}
	for _, d := range org.Departments {
		if d == department {
			return nil
		}
	}
	return domainError(422, "VALIDATION_ERROR", "department is not in the organization's department list", map[string]any{"department": department})
}

// CreateDocument stores the file, creates the document at version 1 in
// draft, and routes it for approval when the document asks for it.
func (s *Service) CreateDocument(ctx context.Context, session Session, input CreateDocumentInput, file FileUpload) (store.Document, error) {
	if strings.TrimSpace(input.Title) == "" {
		return store.Document{}, domainError(422, "VALIDATION_ERROR", "title is required", nil)
	}
	if strings.TrimSpace(input.Type) == "" {
		return store.Document{}, domainError(422, "VALIDATION_ERROR", "type is required", nil)
	}
	if file.Reader == nil {
		return store.Document{}, domainError(422, "VALIDATION_ERROR", "file is required", nil)
	}

	org, err := s.store.GetOrganization(ctx, session.OrgID)
	if err != nil {
		return store.Document{}, err
	}
	if err := permittedDepartment(session, org, input.Department); err != nil {
		return store.Document{}, err
	}

	retention := input.RetentionYears
	if retention <= 0 {
		retention = org.RetentionYears
	}

	doc := store.Document{
		ID:               util.NewID("doc"),
		OrgID:            session.OrgID,
		Title:            input.Title,
		Type:             input.Type,
		Department:       input.Department,
		Status:           store.DocStatusDraft,
		OwnerID:          session.UserID,
		Version:          1,
		EffectiveDate:    input.EffectiveDate,
		ExpiryDate:       input.ExpiryDate,
		Tags:             input.Tags,
		ApprovalRequired: input.ApprovalRequired,
		RetentionYears:   retention,
	}
	doc.FileKey = storage.FileKey(doc.OrgID, doc.ID, doc.Version, file.Filename)

	if err := s.files.Put(ctx, doc.FileKey, file.Reader, file.Size, file.ContentType); err != nil {
		return store.Document{}, err
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return store.Document{}, err
	}

	s.appendActivity(ctx, doc.ID, session.UserID, "created", fmt.Sprintf("uploaded %s", file.Filename))
	s.audit(ctx, session.OrgID, session.UserID, "document.create", "document", doc.ID, map[string]any{"title": doc.Title, "type": doc.Type}, "")
	s.indexDocument(doc)
	s.notifyOrg(ctx, session.OrgID, notify.Event{
		Kind:       "document.upload",
		Resource:   "document",
		ResourceID: doc.ID,
		Actor:      session.UserID,
		Payload:    map[string]any{"title": doc.Title, "version": doc.Version},
	})

	if doc.ApprovalRequired {
		if _, err := s.AutoRoute(ctx, session, doc.ID); err != nil {
			// Routing can legitimately find no workflow; anything else
			// surfaces in the activity trail without failing the upload.
			if _, ok := err.(*DomainError); !ok {
				s.log.WithError(err).WithField("document", doc.ID).Error("auto-route failed")
			}
		}
	}

	return s.store.GetDocument(ctx, session.OrgID, doc.ID)
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (store.Document, error) {
	return s.store.GetDocument(ctx, session.OrgID, documentID)
}

func (s *Service) ListDocuments(ctx context.Context, session Session, filter store.DocumentFilter) ([]store.Document, int, error) {
	return s.store.SearchDocuments(ctx, session.OrgID, filter)
}

func (s *Service) UpdateDocument(ctx context.Context, session Session, documentID string, input UpdateDocumentInput) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if !canManageDocument(session, doc) {
		return store.Document{}, domainError(403, "FORBIDDEN", "Forbidden", nil)
	}
	if doc.LegalHold {
		return store.Document{}, domainError(409, "LEGAL_HOLD", "Document is under legal hold", nil)
	}

	changes := map[string]any{}
	if input.Title != nil && *input.Title != doc.Title {
		changes["title"] = map[string]any{"from": doc.Title, "to": *input.Title}
		doc.Title = *input.Title
	}
	if input.Type != nil && *input.Type != doc.Type {
		changes["type"] = map[string]any{"from": doc.Type, "to": *input.Type}
		doc.Type = *input.Type
	}
	if input.Department != nil && *input.Department != doc.Department {
		org, err := s.store.GetOrganization(ctx, session.OrgID)
		if err != nil {
			return store.Document{}, err
		}
		if err := permittedDepartment(session, org, *input.Department); err != nil {
			return store.Document{}, err
		}
		changes["department"] = map[string]any{"from": doc.Department, "to": *input.Department}
		doc.Department = *input.Department
	}
	if input.Tags != nil {
		doc.Tags = input.Tags
	}
	if input.EffectiveDate != nil {
		doc.EffectiveDate = input.EffectiveDate
	}
	if input.ExpiryDate != nil {
		doc.ExpiryDate = input.ExpiryDate
	}
	if input.ApprovalRequired != nil {
		doc.ApprovalRequired = *input.ApprovalRequired
	}
	if input.RetentionYears != nil && *input.RetentionYears > 0 {
		doc.RetentionYears = *input.RetentionYears
	}

	if err := s.store.UpdateDocumentMeta(ctx, doc); err != nil {
		return store.Document{}, err
	}

	s.appendActivity(ctx, doc.ID, session.UserID, "updated", "")
	s.audit(ctx, session.OrgID, session.UserID, "document.update", "document", doc.ID, changes, "")
	s.indexDocument(doc)

	return s.store.GetDocument(ctx, session.OrgID, documentID)
}

// UploadVersion installs a new file as the next version. The previous file
// stays in history.
func (s *Service) UploadVersion(ctx context.Context, session Session, documentID string, file FileUpload) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if !canManageDocument(session, doc) {
		return store.Document{}, domainError(403, "FORBIDDEN", "Forbidden", nil)
	}
	if doc.LegalHold {
		return store.Document{}, domainError(409, "LEGAL_HOLD", "Document is under legal hold", nil)
	}
	if file.Reader == nil {
		return store.Document{}, domainError(422, "VALIDATION_ERROR", "file is required", nil)
	}

	newKey := storage.FileKey(doc.OrgID, doc.ID, doc.Version+1, file.Filename)
	if err := s.files.Put(ctx, newKey, file.Reader, file.Size, file.ContentType); err != nil {
		return store.Document{}, err
	}

	updated, err := s.store.BumpDocumentVersion(ctx, doc.ID, newKey, session.UserID)
	if err != nil {
		return store.Document{}, err
	}

	s.appendActivity(ctx, doc.ID, session.UserID, "version_uploaded", fmt.Sprintf("version %d", updated.Version))
	s.audit(ctx, session.OrgID, session.UserID, "document.version", "document", doc.ID, map[string]any{"version": updated.Version}, "")
	s.notifyOrg(ctx, session.OrgID, notify.Event{
		Kind:       "document.upload",
		Resource:   "document",
		ResourceID: doc.ID,
		Actor:      session.UserID,
		Payload:    map[string]any{"title": updated.Title, "version": updated.Version},
	})

	return updated, nil
}

// RestoreVersion makes a historical version current again under a new
// version number.
func (s *Service) RestoreVersion(ctx context.Context, session Session, documentID string, version int) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if !canManageDocument(session, doc) {
		return store.Document{}, domainError(403, "FORBIDDEN", "Forbidden", nil)
	}
	if doc.LegalHold {
		return store.Document{}, domainError(409, "LEGAL_HOLD", "Document is under legal hold", nil)
	}

	updated, err := s.store.RestoreDocumentVersion(ctx, doc.ID, version, session.UserID)
	if err != nil {
		return store.Document{}, err
	}

	s.appendActivity(ctx, doc.ID, session.UserID, "version_restored", fmt.Sprintf("restored version %d as %d", version, updated.Version))
	s.audit(ctx, session.OrgID, session.UserID, "document.restore", "document", doc.ID, map[string]any{"restored": version, "version": updated.Version}, "")
	return updated, nil
}

func (s *Service) ListVersions(ctx context.Context, session Session, documentID string) ([]store.DocumentVersion, error) {
	if _, err := s.store.GetDocument(ctx, session.OrgID, documentID); err != nil {
		return nil, err
	}
	return s.store.ListDocumentVersions(ctx, documentID)
}

// DownloadDocument streams the current file, or a historical version when
// version > 0. The caller must close the reader.
func (s *Service) DownloadDocument(ctx context.Context, session Session, documentID string, version int) (io.ReadCloser, string, error) {
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return nil, "", err
	}

	key := doc.FileKey
	if version > 0 && version != doc.Version {
		versions, err := s.store.ListDocumentVersions(ctx, documentID)
		if err != nil {
			return nil, "", err
		}
		key = ""
		for _, v := range versions {
			if v.Version == version {
				key = v.FileKey
				break
			}
		}
		if key == "" {
			return nil, "", domainError(404, "NOT_FOUND", "Version not found", nil)
		}
	}

	reader, contentType, err := s.files.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}

	s.audit(ctx, session.OrgID, session.UserID, "document.download", "document", doc.ID, map[string]any{"version": version}, "")
	return reader, contentType, nil
}

// ArchiveDocument moves a document to archived; retention pruning removes
// it later. Legal hold blocks archival outright.
func (s *Service) ArchiveDocument(ctx context.Context, session Session, documentID string) error {
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return err
	}
	if !canManageDocument(session, doc) {
		return domainError(403, "FORBIDDEN", "Forbidden", nil)
	}
	if doc.LegalHold {
		return domainError(409, "LEGAL_HOLD", "Document is under legal hold", nil)
	}

	if err := s.store.SetDocumentStatus(ctx, doc.ID, store.DocStatusArchived); err != nil {
		return err
	}

	s.appendActivity(ctx, doc.ID, session.UserID, "archived", "")
	s.audit(ctx, session.OrgID, session.UserID, "document.archive", "document", doc.ID, nil, "")
	doc.Status = store.DocStatusArchived
	s.indexDocument(doc)
	return nil
}

// SetLegalHold places or lifts a legal hold. Admin only: holds override
// every retention and deletion rule.
func (s *Service) SetLegalHold(ctx context.Context, session Session, documentID string, hold bool) error {
	if session.Role != store.RoleAdmin {
		return domainError(403, "FORBIDDEN", "Only admins manage legal holds", nil)
	}
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return err
	}

	if err := s.store.SetLegalHold(ctx, doc.ID, hold); err != nil {
		return err
	}

	action := "legal_hold_set"
	if !hold {
		action = "legal_hold_lifted"
	}
	s.appendActivity(ctx, doc.ID, session.UserID, action, "")
	s.audit(ctx, session.OrgID, session.UserID, "document."+action, "document", doc.ID, map[string]any{"legalHold": hold}, "")
	return nil
}

func (s *Service) AddTags(ctx context.Context, session Session, documentID string, tags []string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if !canManageDocument(session, doc) {
		return store.Document{}, domainError(403, "FORBIDDEN", "Forbidden", nil)
	}

	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			cleaned = append(cleaned, tag)
		}
	}
	if len(cleaned) == 0 {
		return doc, nil
	}

	if err := s.store.AddDocumentTags(ctx, doc.ID, cleaned); err != nil {
		return store.Document{}, err
	}

	updated, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return store.Document{}, err
	}
	s.appendActivity(ctx, doc.ID, session.UserID, "tagged", strings.Join(cleaned, ", "))
	s.indexDocument(updated)
	return updated, nil
}

func (s *Service) AddComment(ctx context.Context, session Session, documentID, body string) error {
	if strings.TrimSpace(body) == "" {
		return domainError(422, "VALIDATION_ERROR", "comment body is required", nil)
	}
	if _, err := s.store.GetDocument(ctx, session.OrgID, documentID); err != nil {
		return err
	}
	return s.store.AddComment(ctx, store.Comment{
		DocumentID: documentID,
		UserID:     session.UserID,
		UserName:   session.UserName,
		Body:       body,
	})
}

func (s *Service) ListComments(ctx context.Context, session Session, documentID string) ([]store.Comment, error) {
	if _, err := s.store.GetDocument(ctx, session.OrgID, documentID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, documentID)
}

func (s *Service) ListActivity(ctx context.Context, session Session, documentID string) ([]store.Activity, error) {
	if _, err := s.store.GetDocument(ctx, session.OrgID, documentID); err != nil {
		return nil, err
	}
	return s.store.ListActivity(ctx, documentID)
}

// PruneHistory trims a document's version history to the newest keep
// entries and deletes the detached files. Admin only.
func (s *Service) PruneHistory(ctx context.Context, session Session, documentID string, keep int) (int, error) {
	if session.Role != store.RoleAdmin {
		return 0, domainError(403, "FORBIDDEN", "Only admins prune history", nil)
	}
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return 0, err
	}
	if doc.LegalHold {
		return 0, domainError(409, "LEGAL_HOLD", "Document is under legal hold", nil)
	}

	keys, err := s.store.PruneDocumentHistory(ctx, doc.ID, keep)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := s.files.Remove(ctx, key); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("prune: remove file failed")
		}
	}

	s.audit(ctx, session.OrgID, session.UserID, "document.prune_history", "document", doc.ID, map[string]any{"removed": len(keys), "keep": keep}, "")
	return len(keys), nil
}

func (s *Service) SearchDocumentsFullText(session Session, q search.Query) search.Response {
	q.OrgID = session.OrgID
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) appendActivity(ctx context.Context, documentID, userID, action, details string) {
	err := s.store.AppendActivity(ctx, store.Activity{
		DocumentID: documentID,
		UserID:     userID,
		Action:     action,
		Details:    details,
	})
	if err != nil {
		s.log.WithError(err).WithField("document", documentID).Error("activity write failed")
	}
}

func (s *Service) indexDocument(doc store.Document) {
	if s.search == nil {
		return
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:         doc.ID,
		Title:      doc.Title,
		Type:       doc.Type,
		Department: doc.Department,
		Status:     doc.Status,
		OrgID:      doc.OrgID,
		Tags:       doc.Tags,
	})
}
