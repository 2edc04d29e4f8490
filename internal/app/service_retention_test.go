package app

import (
	"context"
	"testing"
	"time"

	"edms/api/internal/authpw"
	"edms/api/internal/store"
)

func TestArchiveExpiredAdminOnly(t *testing.T) {
	f := &fakeStore{
		archiveExpiredFn: func(context.Context, string) (int, error) { return 2, nil },
	}
	svc := newTestService(f)

	_, err := svc.ArchiveExpired(context.Background(), userSession("usr_1", "Quality"))
	var derr *DomainError
	if !asDomainError(err, &derr) || derr.Status != 403 {
		t.Fatalf("expected 403, got %v", err)
	}

	count, err := svc.ArchiveExpired(context.Background(), adminSession())
	if err != nil {
		t.Fatalf("archive expired: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestPruneOldDocumentsRemovesFiles(t *testing.T) {
	files := newMemFiles()
	files.objects["orgs/org_1/documents/doc_old/v1/a.pdf"] = []byte("a")

	f := &fakeStore{
		pruneOldDocumentsFn: func(context.Context, string) ([]store.Document, error) {
			return []store.Document{
				{ID: "doc_old", FileKey: "orgs/org_1/documents/doc_old/v1/a.pdf"},
			}, nil
		},
	}
	svc := newTestServiceWithFiles(f, files)

	count, err := svc.PruneOldDocuments(context.Background(), adminSession())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	if len(files.objects) != 0 {
		t.Fatalf("files left behind: %v", files.objects)
	}
}

func TestExpiringDocumentsDefaultsToThirtyDays(t *testing.T) {
	var gotCutoff time.Time
	f := &fakeStore{
		listExpiringDocumentsFn: func(_ context.Context, _ string, cutoff time.Time) ([]store.Document, error) {
			gotCutoff = cutoff
			return nil, nil
		},
	}
	svc := newTestService(f)

	if _, err := svc.ExpiringDocuments(context.Background(), userSession("usr_1", "Quality"), 0); err != nil {
		t.Fatalf("expiring documents: %v", err)
	}
	until := time.Until(gotCutoff)
	if until < 29*24*time.Hour || until > 31*24*time.Hour {
		t.Fatalf("cutoff %v not ~30 days out", gotCutoff)
	}
}

func TestRetentionSweepAuditsUnderSystemUser(t *testing.T) {
	var audits []store.AuditEntry
	f := &fakeStore{
		archiveExpiredFn: func(context.Context, string) (int, error) { return 3, nil },
		insertAuditFn: func(_ context.Context, entry store.AuditEntry) error {
			audits = append(audits, entry)
			return nil
		},
	}
	svc := NewService(testConfig(), &sweepOrgsStore{fakeStore: f}, authpw.NewService(f), testLogger(), Options{})

	svc.RetentionSweep(context.Background())

	if len(audits) != 2 {
		t.Fatalf("audit entries = %d, want one per org", len(audits))
	}
	for _, entry := range audits {
		if entry.UserID != "system" || entry.Action != "retention.expire" {
			t.Fatalf("unexpected audit entry: %+v", entry)
		}
	}
}

type sweepOrgsStore struct {
	*fakeStore
}

func (s *sweepOrgsStore) ListOrganizations(context.Context) ([]store.Organization, error) {
	return []store.Organization{{ID: "org_1", Name: "acme"}, {ID: "org_2", Name: "globex"}}, nil
}
