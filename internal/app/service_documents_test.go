package app

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"edms/api/internal/authpw"
	"edms/api/internal/config"
	"edms/api/internal/store"
)

// memFiles is an in-memory fileStore.
type memFiles struct {
	objects map[string][]byte
	removed []string
}

func newMemFiles() *memFiles {
	return &memFiles{objects: map[string][]byte{}}
}

func (m *memFiles) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memFiles) Get(_ context.Context, key string) (io.ReadCloser, string, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, "", store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), "application/octet-stream", nil
}

func (m *memFiles) Remove(_ context.Context, key string) error {
	delete(m.objects, key)
	m.removed = append(m.removed, key)
	return nil
}

func newTestServiceWithFiles(f *fakeStore, files *memFiles) *Service {
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}
	return NewService(cfg, f, authpw.NewService(f), testLogger(), Options{Files: files})
}

func TestCanManageDocumentMatrix(t *testing.T) {
	doc := store.Document{ID: "doc_1", OwnerID: "usr_owner", Department: "Quality"}

	if !canManageDocument(adminSession(), doc) {
		t.Fatal("admin manages every document")
	}
	if !canManageDocument(userSession("usr_owner", "Engineering"), doc) {
		t.Fatal("owner manages their own document")
	}
	if canManageDocument(userSession("usr_other", "Quality"), doc) {
		t.Fatal("unrelated user must not manage the document")
	}

	lead := Session{UserID: "usr_lead", Role: store.RoleDepartmentLead, OrgID: "org_1", Department: "Quality"}
	if !canManageDocument(lead, doc) {
		t.Fatal("lead manages documents in their department")
	}
	lead.Department = "Engineering"
	if canManageDocument(lead, doc) {
		t.Fatal("lead must not manage another department's document")
	}
}

func TestCreateDocumentValidatesInput(t *testing.T) {
	svc := newTestServiceWithFiles(&fakeStore{}, newMemFiles())
	session := userSession("usr_1", "Quality")

	cases := []struct {
		name  string
		input CreateDocumentInput
		file  FileUpload
	}{
		{"missing title", CreateDocumentInput{Type: "sop"}, FileUpload{Reader: strings.NewReader("x")}},
		{"missing type", CreateDocumentInput{Title: "SOP-1"}, FileUpload{Reader: strings.NewReader("x")}},
		{"missing file", CreateDocumentInput{Title: "SOP-1", Type: "sop"}, FileUpload{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateDocument(context.Background(), session, tc.input, tc.file)
			var derr *DomainError
			if !asDomainError(err, &derr) || derr.Status != 422 {
				t.Fatalf("expected 422, got %v", err)
			}
		})
	}
}

func TestCreateDocumentStoresFileAndDefaultsRetention(t *testing.T) {
	files := newMemFiles()
	var inserted store.Document
	f := &fakeStore{
		getOrganizationFn: func(_ context.Context, orgID string) (store.Organization, error) {
			return store.Organization{ID: orgID, Name: "acme", RetentionYears: 10}, nil
		},
		insertDocumentFn: func(_ context.Context, doc store.Document) error {
			inserted = doc
			return nil
		},
		getDocumentFn: func(context.Context, string, string) (store.Document, error) {
			return inserted, nil
		},
	}
	svc := newTestServiceWithFiles(f, files)

	doc, err := svc.CreateDocument(context.Background(), userSession("usr_1", "Quality"), CreateDocumentInput{
		Title:      "SOP-1",
		Type:       "sop",
		Department: "Quality",
		Tags:       []string{"safety"},
	}, FileUpload{Filename: "sop.pdf", ContentType: "application/pdf", Size: 4, Reader: strings.NewReader("data")})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	if doc.Version != 1 || doc.Status != store.DocStatusDraft {
		t.Fatalf("new document should be draft v1, got %+v", doc)
	}
	if doc.RetentionYears != 10 {
		t.Fatalf("retention = %d, want org default 10", doc.RetentionYears)
	}
	if doc.FileKey == "" {
		t.Fatal("expected a file key")
	}
	if _, ok := files.objects[doc.FileKey]; !ok {
		t.Fatalf("file not stored under %q", doc.FileKey)
	}
	if !strings.Contains(doc.FileKey, "/v1/") || !strings.Contains(doc.FileKey, doc.ID) {
		t.Fatalf("file key %q should encode document and version", doc.FileKey)
	}
}

func TestCreateDocumentEnforcesOrgDepartments(t *testing.T) {
	newStore := func() *fakeStore {
		return &fakeStore{
			getOrganizationFn: func(_ context.Context, orgID string) (store.Organization, error) {
				return store.Organization{ID: orgID, Name: "acme", Departments: []string{"Quality"}}, nil
			},
		}
	}
	upload := func() FileUpload {
		return FileUpload{Filename: "sop.pdf", ContentType: "application/pdf", Size: 4, Reader: strings.NewReader("data")}
	}

	svc := newTestServiceWithFiles(newStore(), newMemFiles())
	_, err := svc.CreateDocument(context.Background(), userSession("usr_1", "Quality"), CreateDocumentInput{
		Title: "SOP-1", Type: "sop", Department: "Bogus",
	}, upload())
	var derr *DomainError
	if !asDomainError(err, &derr) || derr.Status != 422 || derr.Code != "VALIDATION_ERROR" {
		t.Fatalf("unlisted department must be rejected, got %v", err)
	}

	// A listed department and a blank one both pass for regular users.
	svc = newTestServiceWithFiles(newStore(), newMemFiles())
	if _, err := svc.CreateDocument(context.Background(), userSession("usr_1", "Quality"), CreateDocumentInput{
		Title: "SOP-1", Type: "sop", Department: "Quality",
	}, upload()); err != nil {
		t.Fatalf("listed department: %v", err)
	}
	svc = newTestServiceWithFiles(newStore(), newMemFiles())
	if _, err := svc.CreateDocument(context.Background(), userSession("usr_1", "Quality"), CreateDocumentInput{
		Title: "SOP-1", Type: "sop",
	}, upload()); err != nil {
		t.Fatalf("blank department: %v", err)
	}

	// Admins are not bound by the list.
	svc = newTestServiceWithFiles(newStore(), newMemFiles())
	if _, err := svc.CreateDocument(context.Background(), adminSession(), CreateDocumentInput{
		Title: "SOP-1", Type: "sop", Department: "Bogus",
	}, upload()); err != nil {
		t.Fatalf("admin with unlisted department: %v", err)
	}
}

func TestUpdateDocumentEnforcesOrgDepartments(t *testing.T) {
	f := &fakeStore{
		getOrganizationFn: func(_ context.Context, orgID string) (store.Organization, error) {
			return store.Organization{ID: orgID, Name: "acme", Departments: []string{"Quality", "Engineering"}}, nil
		},
		getDocumentFn: func(_ context.Context, orgID, docID string) (store.Document, error) {
			return store.Document{ID: docID, OrgID: orgID, Title: "Doc", Status: store.DocStatusActive, OwnerID: "usr_1", Department: "Quality"}, nil
		},
	}
	svc := newTestService(f)

	bogus := "Bogus"
	_, err := svc.UpdateDocument(context.Background(), userSession("usr_1", "Quality"), "doc_1", UpdateDocumentInput{Department: &bogus})
	var derr *DomainError
	if !asDomainError(err, &derr) || derr.Status != 422 {
		t.Fatalf("unlisted department must be rejected, got %v", err)
	}

	listed := "Engineering"
	if _, err := svc.UpdateDocument(context.Background(), userSession("usr_1", "Quality"), "doc_1", UpdateDocumentInput{Department: &listed}); err != nil {
		t.Fatalf("listed department: %v", err)
	}
}

func TestUpdateDocumentBlockedByLegalHold(t *testing.T) {
	f := &fakeStore{
		getDocumentFn: func(_ context.Context, orgID, documentID string) (store.Document, error) {
			return store.Document{ID: documentID, OrgID: orgID, OwnerID: "usr_1", LegalHold: true}, nil
		},
	}
	svc := newTestServiceWithFiles(f, newMemFiles())

	title := "New title"
	_, err := svc.UpdateDocument(context.Background(), userSession("usr_1", "Quality"), "doc_1", UpdateDocumentInput{Title: &title})
	var derr *DomainError
	if !asDomainError(err, &derr) || derr.Status != 409 || derr.Code != "LEGAL_HOLD" {
		t.Fatalf("expected 409 LEGAL_HOLD, got %v", err)
	}
}

func TestUpdateDocumentForbiddenForNonOwner(t *testing.T) {
	f := &fakeStore{
		getDocumentFn: func(_ context.Context, orgID, documentID string) (store.Document, error) {
			return store.Document{ID: documentID, OrgID: orgID, OwnerID: "usr_owner", Department: "Quality"}, nil
		},
	}
	svc := newTestServiceWithFiles(f, newMemFiles())

	title := "New title"
	_, err := svc.UpdateDocument(context.Background(), userSession("usr_other", "Engineering"), "doc_1", UpdateDocumentInput{Title: &title})
	var derr *DomainError
	if !asDomainError(err, &derr) || derr.Status != 403 {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestUploadVersionStoresNextVersionKey(t *testing.T) {
	files := newMemFiles()
	f := &fakeStore{
		getDocumentFn: func(_ context.Context, orgID, documentID string) (store.Document, error) {
			return store.Document{ID: documentID, OrgID: orgID, OwnerID: "usr_1", Version: 3}, nil
		},
		bumpDocumentVersionFn: func(_ context.Context, documentID, fileKey, uploadedBy string) (store.Document, error) {
			if !strings.Contains(fileKey, "/v4/") {
				t.Fatalf("new key %q should be for version 4", fileKey)
			}
			return store.Document{ID: documentID, FileKey: fileKey, Version: 4}, nil
		},
	}
	svc := newTestServiceWithFiles(f, files)

	updated, err := svc.UploadVersion(context.Background(), userSession("usr_1", "Quality"), "doc_1",
		FileUpload{Filename: "sop.pdf", Size: 3, Reader: strings.NewReader("new")})
	if err != nil {
		t.Fatalf("upload version: %v", err)
	}
	if updated.Version != 4 {
		t.Fatalf("version = %d, want 4", updated.Version)
	}
	if _, ok := files.objects[updated.FileKey]; !ok {
		t.Fatal("new version file not stored")
	}
}

func TestSetLegalHoldAdminOnly(t *testing.T) {
	held := false
	f := &fakeStore{
		setLegalHoldFn: func(_ context.Context, _ string, hold bool) error {
			held = hold
			return nil
		},
	}
	svc := newTestServiceWithFiles(f, newMemFiles())

	err := svc.SetLegalHold(context.Background(), userSession("usr_1", "Quality"), "doc_1", true)
	var derr *DomainError
	if !asDomainError(err, &derr) || derr.Status != 403 {
		t.Fatalf("expected 403 for non-admin, got %v", err)
	}

	if err := svc.SetLegalHold(context.Background(), adminSession(), "doc_1", true); err != nil {
		t.Fatalf("set legal hold: %v", err)
	}
	if !held {
		t.Fatal("hold not persisted")
	}
}

func TestArchiveDocumentBlockedByLegalHold(t *testing.T) {
	f := &fakeStore{
		getDocumentFn: func(_ context.Context, orgID, documentID string) (store.Document, error) {
			return store.Document{ID: documentID, OrgID: orgID, OwnerID: "usr_1", LegalHold: true}, nil
		},
	}
	svc := newTestServiceWithFiles(f, newMemFiles())

	err := svc.ArchiveDocument(context.Background(), adminSession(), "doc_1")
	var derr *DomainError
	if !asDomainError(err, &derr) || derr.Status != 409 || derr.Code != "LEGAL_HOLD" {
		t.Fatalf("expected 409 LEGAL_HOLD, got %v", err)
	}
}

func TestDownloadDocumentResolvesHistoricalVersion(t *testing.T) {
	files := newMemFiles()
	files.objects["orgs/org_1/documents/doc_1/v1/sop.pdf"] = []byte("old")
	files.objects["orgs/org_1/documents/doc_1/v2/sop.pdf"] = []byte("current")

	f := &fakeStore{
		getDocumentFn: func(_ context.Context, orgID, documentID string) (store.Document, error) {
			return store.Document{
				ID: documentID, OrgID: orgID, OwnerID: "usr_1",
				Version: 2, FileKey: "orgs/org_1/documents/doc_1/v2/sop.pdf",
			}, nil
		},
	}
	svc := NewService(config.Config{JWTSecret: "test-secret"}, &listVersionsStore{fakeStore: f}, authpw.NewService(f), testLogger(), Options{Files: files})

	reader, _, err := svc.DownloadDocument(context.Background(), userSession("usr_1", "Quality"), "doc_1", 0)
	if err != nil {
		t.Fatalf("download current: %v", err)
	}
	data, _ := io.ReadAll(reader)
	reader.Close()
	if string(data) != "current" {
		t.Fatalf("current download = %q", data)
	}

	reader, _, err = svc.DownloadDocument(context.Background(), userSession("usr_1", "Quality"), "doc_1", 1)
	if err != nil {
		t.Fatalf("download v1: %v", err)
	}
	data, _ = io.ReadAll(reader)
	reader.Close()
	if string(data) != "old" {
		t.Fatalf("historical download = %q", data)
	}

	_, _, err = svc.DownloadDocument(context.Background(), userSession("usr_1", "Quality"), "doc_1", 9)
	var derr *DomainError
	if !asDomainError(err, &derr) || derr.Status != 404 {
		t.Fatalf("expected 404 for unknown version, got %v", err)
	}
}

// listVersionsStore overlays a version history on the fake store.
type listVersionsStore struct {
	*fakeStore
}

func (s *listVersionsStore) ListDocumentVersions(context.Context, string) ([]store.DocumentVersion, error) {
	return []store.DocumentVersion{
		{DocumentID: "doc_1", Version: 1, FileKey: "orgs/org_1/documents/doc_1/v1/sop.pdf"},
	}, nil
}

func TestPruneHistoryRemovesDetachedFiles(t *testing.T) {
	files := newMemFiles()
	files.objects["k1"] = []byte("a")
	files.objects["k2"] = []byte("b")

	f := &fakeStore{}
	svc := NewService(config.Config{JWTSecret: "test-secret"}, &pruneHistoryStore{fakeStore: f}, authpw.NewService(f), testLogger(), Options{Files: files})

	removed, err := svc.PruneHistory(context.Background(), adminSession(), "doc_1", 2)
	if err != nil {
		t.Fatalf("prune history: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if len(files.objects) != 0 {
		t.Fatalf("files left behind: %v", files.objects)
	}

	_, err = svc.PruneHistory(context.Background(), userSession("usr_1", "Quality"), "doc_1", 2)
	var derr *DomainError
	if !asDomainError(err, &derr) || derr.Status != 403 {
		t.Fatalf("expected 403 for non-admin, got %v", err)
	}
}

type pruneHistoryStore struct {
	*fakeStore
}

func (s *pruneHistoryStore) PruneDocumentHistory(context.Context, string, int) ([]string, error) {
	return []string{"k1", "k2"}, nil
}
