package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bidflow/internal/logging"
	"bidflow/pkg/domain"
)

// Maintenance operation names recorded in MaintenanceRun.Operation.
const (
	MaintenanceDedupeArchive   = "dedupe-archive"
	MaintenanceReconcileOrphan = "reconcile-orphans"
)

var errArchiveIDExhausted = errors.New("archive id suffixes exhausted")

// ArchiveView is the deduplicated archive as presented to readers.
type ArchiveView struct {
	Records    []domain.ArchiveRecord
	Duplicates int
	MissingKey int
}

// LoadArchive returns the most recent archive record per business key. It
// does not modify the store unless dedupe-on-load is enabled, in which case
// the deduplication maintenance runs when duplicates are present.
func (s *Service) LoadArchive(ctx context.Context) (ArchiveView, error) {
	var view ArchiveView
	err := s.run(ctx, opLoadArchive, "", func(ctx context.Context) error {
		var result domain.DedupResult
		if err := s.store.View(ctx, func(v domain.TransactionView) error {
			result = domain.DeduplicateArchive(v.ListArchiveRecords())
			return nil
		}); err != nil {
			return err
		}
		logger := logging.FromContext(ctx, s.logger)
		for _, rec := range result.MissingKey {
			logger.Warn("archive record without business key skipped", zap.String("archiveId", rec.ArchiveID))
		}
		view = ArchiveView{
			Records:    result.Kept,
			Duplicates: len(result.Duplicates),
			MissingKey: len(result.MissingKey),
		}
		if s.dedupeOnLoad && view.Duplicates+view.MissingKey > 0 {
			if _, err := s.DeduplicateArchive(logging.WithActor(ctx, maintenanceActor), maintenanceActor); err != nil {
				return err
			}
		}
		return nil
	})
	return view, err
}

// DeduplicateArchive deletes every archive record superseded by a more
// recent one with the same business key, along with records lacking a key,
// and records the run.
func (s *Service) DeduplicateArchive(ctx context.Context, actor string) (domain.MaintenanceRun, error) {
	ctx = logging.WithActor(ctx, actor)
	var run domain.MaintenanceRun
	err := s.run(ctx, opDeduplicateArchive, "", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			result := domain.DeduplicateArchive(tx.Snapshot().ListArchiveRecords())
			removed := append(append([]domain.ArchiveRecord{}, result.Duplicates...), result.MissingKey...)
			ids := make([]string, 0, len(removed))
			for _, rec := range removed {
				if err := tx.DeleteArchiveRecord(rec.ArchiveID); err != nil {
					return err
				}
				ids = append(ids, rec.ArchiveID)
			}
			var err error
			run, err = tx.AppendMaintenanceRun(domain.MaintenanceRun{
				Operation:   MaintenanceDedupeArchive,
				Actor:       actor,
				Affected:    len(ids),
				AffectedIDs: ids,
				Notes:       fmt.Sprintf("%d duplicates, %d without business key", len(result.Duplicates), len(result.MissingKey)),
			})
			return err
		})
		if err != nil {
			return err
		}
		logging.FromContext(ctx, s.logger).Info("archive deduplicated",
			zap.Int("removed", run.Affected), zap.Strings("archiveIds", run.AffectedIDs))
		return nil
	})
	return run, err
}

// ListOrphanedSubmissions returns submitted records that have no archive
// record for their business key.
func (s *Service) ListOrphanedSubmissions(ctx context.Context) ([]domain.SubmissionRecord, error) {
	var orphans []domain.SubmissionRecord
	err := s.run(ctx, opListOrphans, "", func(ctx context.Context) error {
		return s.store.View(ctx, func(v domain.TransactionView) error {
			orphans = findOrphans(v)
			return nil
		})
	})
	return orphans, err
}

func findOrphans(v domain.TransactionView) []domain.SubmissionRecord {
	archived := archiveIndex(v)
	var orphans []domain.SubmissionRecord
	for _, sub := range v.ListSubmissionRecords() {
		if sub.SubmissionStatus != domain.SubmissionSubmitted {
			continue
		}
		if _, ok := archived[sub.ID]; !ok {
			orphans = append(orphans, sub)
		}
	}
	return orphans
}

// archiveIndex maps each business key to its most recent archive record.
func archiveIndex(v domain.TransactionView) map[string]domain.ArchiveRecord {
	kept := domain.DeduplicateArchive(v.ListArchiveRecords()).Kept
	index := make(map[string]domain.ArchiveRecord, len(kept))
	for _, rec := range kept {
		index[rec.ID] = rec
	}
	return index
}

// stampArchived marks sub as transferred to rec. The transfer time falls
// back to now when rec carries no timestamp.
func stampArchived(sub *domain.SubmissionRecord, rec domain.ArchiveRecord, now time.Time) {
	at := now
	if ts, ok := rec.SortTime(); ok {
		at = ts
	}
	sub.SubmittedToArchive = true
	sub.SubmittedToArchiveAt = &at
}

// ReconcileOrphans archives every orphaned submission in one transaction and
// records the run.
func (s *Service) ReconcileOrphans(ctx context.Context, actor string) (domain.MaintenanceRun, error) {
	ctx = logging.WithActor(ctx, actor)
	var run domain.MaintenanceRun
	err := s.run(ctx, opReconcileOrphans, "", func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var ids []string
			for _, orphan := range findOrphans(tx.Snapshot()) {
				rec, err := s.archiveSubmission(tx, orphan, actor)
				if err != nil {
					return fmt.Errorf("reconcile %s: %w", orphan.ID, err)
				}
				ids = append(ids, rec.ArchiveID)
			}
			var err error
			run, err = tx.AppendMaintenanceRun(domain.MaintenanceRun{
				Operation:   MaintenanceReconcileOrphan,
				Actor:       actor,
				Affected:    len(ids),
				AffectedIDs: ids,
			})
			return err
		})
		if err != nil {
			return err
		}
		logging.FromContext(ctx, s.logger).Info("orphaned submissions reconciled",
			zap.Int("archived", run.Affected), zap.Strings("archiveIds", run.AffectedIDs))
		return nil
	})
	return run, err
}
