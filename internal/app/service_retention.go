package app

import (
	"context"
	"time"

	"edms/api/internal/store"
)

// ExpiringDocuments lists documents whose expiry date falls within the
// next days days.
func (s *Service) ExpiringDocuments(ctx context.Context, session Session, days int) ([]store.Document, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().AddDate(0, 0, days)
	return s.store.ListExpiringDocuments(ctx, session.OrgID, cutoff)
}

// ArchiveExpired marks every past-expiry document expired. Admin only;
// the nightly sweep calls the same store operation per org.
func (s *Service) ArchiveExpired(ctx context.Context, session Session) (int, error) {
	if session.Role != store.RoleAdmin {
		return 0, domainError(403, "FORBIDDEN", "Only admins run expiry sweeps", nil)
	}
	count, err := s.store.ArchiveExpiredDocuments(ctx, session.OrgID)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.audit(ctx, session.OrgID, session.UserID, "retention.expire", "document", "", map[string]any{"count": count}, "")
	}
	return count, nil
}

// PruneOldDocuments permanently deletes archived documents past their
// retention period, along with their stored files and version history.
// Legal holds and the audit trail survive pruning.
func (s *Service) PruneOldDocuments(ctx context.Context, session Session) (int, error) {
	if session.Role != store.RoleAdmin {
		return 0, domainError(403, "FORBIDDEN", "Only admins prune documents", nil)
	}

	pruned, err := s.store.PruneOldDocuments(ctx, session.OrgID)
	if err != nil {
		return 0, err
	}
	for _, doc := range pruned {
		s.removeDocumentFiles(ctx, doc)
		if s.search != nil {
			s.search.DeleteDocument(doc.ID)
		}
	}
	if len(pruned) > 0 {
		s.audit(ctx, session.OrgID, session.UserID, "retention.prune", "document", "", map[string]any{"count": len(pruned)}, "")
	}
	return len(pruned), nil
}

func (s *Service) removeDocumentFiles(ctx context.Context, doc store.Document) {
	// Version rows are gone with the document (cascade), so collect keys
	// before pruning when possible; here we only know the current file.
	if err := s.files.Remove(ctx, doc.FileKey); err != nil {
		s.log.WithError(err).WithField("key", doc.FileKey).Warn("prune: remove file failed")
	}
}

// RetentionSweep runs the org-independent nightly job: expire overdue
// documents and email expiry warnings. Called by the background ticker
// with no session; actions are audited under the system user.
func (s *Service) RetentionSweep(ctx context.Context) {
	orgs, err := s.store.ListOrganizations(ctx)
	if err != nil {
		s.log.WithError(err).Error("retention sweep: list orgs")
		return
	}

	for _, org := range orgs {
		count, err := s.store.ArchiveExpiredDocuments(ctx, org.ID)
		if err != nil {
			s.log.WithError(err).WithField("org", org.ID).Error("retention sweep: expire")
			continue
		}
		if count > 0 {
			s.audit(ctx, org.ID, "system", "retention.expire", "document", "", map[string]any{"count": count}, "")
		}
		s.sendExpiryReminders(ctx, org)
	}
}

func (s *Service) sendExpiryReminders(ctx context.Context, org store.Organization) {
	if s.email == nil || !s.email.IsConfigured() {
		return
	}

	cutoff := time.Now().AddDate(0, 0, 30)
	expiring, err := s.store.ListExpiringDocuments(ctx, org.ID, cutoff)
	if err != nil {
		s.log.WithError(err).WithField("org", org.ID).Error("retention sweep: list expiring")
		return
	}

	for _, doc := range expiring {
		if doc.ExpiryDate == nil {
			continue
		}
		owner, err := s.store.GetUserByID(ctx, doc.OwnerID)
		if err != nil {
			continue
		}
		if err := s.email.SendExpiryReminder([]string{owner.Email}, doc.Title, *doc.ExpiryDate); err != nil {
			s.log.WithError(err).WithField("document", doc.ID).Warn("retention sweep: expiry email failed")
		}
	}
}
