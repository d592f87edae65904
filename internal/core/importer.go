package core

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"bidflow/internal/logging"
	"bidflow/pkg/domain"
)

// LegacyCollections carries the raw JSON arrays of the three legacy
// collections. Nil or empty members are skipped.
type LegacyCollections struct {
	Sourcing   json.RawMessage `json:"sourcing"`
	Submission json.RawMessage `json:"submission"`
	Archive    json.RawMessage `json:"archive"`
}

// ImportReport summarizes an import.
type ImportReport struct {
	Sourcing    int
	Submission  int
	Archive     int
	Hidden      int
	Skipped     int
	Undecodable []domain.EntityType
}

// ImportLegacyCollections loads legacy collections into the store in one
// transaction. A collection that fails to decode is treated as empty. The
// first record per key wins; keys already in the store are left untouched.
// Legacy hidden flags become visibility entries, and submitted records whose
// key appears in the imported archive are marked as transferred.
func (s *Service) ImportLegacyCollections(ctx context.Context, in LegacyCollections) (ImportReport, error) {
	ctx = logging.WithActor(ctx, maintenanceActor)
	var report ImportReport
	err := s.run(ctx, opImportLegacy, "", func(ctx context.Context) error {
		logger := logging.FromContext(ctx, s.logger)
		undecodable := func(entity domain.EntityType, err error) {
			logger.Warn("legacy collection not decodable, treating as empty",
				zap.String("collection", string(entity)), zap.Error(err))
			report.Undecodable = append(report.Undecodable, entity)
		}
		sourcing, err := decodeCollection[domain.WorkflowRecord](in.Sourcing)
		if err != nil {
			undecodable(domain.EntitySourcing, err)
		}
		submission, err := decodeCollection[domain.SubmissionRecord](in.Submission)
		if err != nil {
			undecodable(domain.EntitySubmission, err)
		}
		archive, err := decodeCollection[domain.ArchiveRecord](in.Archive)
		if err != nil {
			undecodable(domain.EntityArchive, err)
		}

		_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			skip := func(entity domain.EntityType, id, reason string) {
				report.Skipped++
				logger.Warn("legacy record skipped", zap.String("collection", string(entity)),
					zap.String("qmsId", id), zap.String("reason", reason))
			}
			hide := func(id string, stage domain.Stage) error {
				if _, hidden := tx.Snapshot().VisibilityOf(stage, id).Hidden(); hidden {
					return nil
				}
				if _, err := tx.SetVisibility(domain.VisibilityEntry{RecordID: id, Stage: stage, Hidden: true, HiddenBy: maintenanceActor}); err != nil {
					return err
				}
				report.Hidden++
				return nil
			}

			for _, rec := range sourcing {
				if rec.ID == "" {
					skip(domain.EntitySourcing, "", "missing business key")
					continue
				}
				if _, exists := tx.FindSourcingRecord(rec.ID); exists {
					skip(domain.EntitySourcing, rec.ID, "already present")
					continue
				}
				if rec.Status != domain.StatusNone && !rec.Status.IsApprovalStatus() {
					skip(domain.EntitySourcing, rec.ID, "unknown status")
					continue
				}
				hiddenApproval, hiddenSourcing := rec.HiddenFromApproval, rec.HiddenFromSourcing
				rec.HiddenFromApproval, rec.HiddenFromSourcing = false, false
				if _, err := tx.CreateSourcingRecord(rec); err != nil {
					return fmt.Errorf("import sourcing %s: %w", rec.ID, err)
				}
				report.Sourcing++
				if hiddenApproval {
					if err := hide(rec.ID, domain.StageApproval); err != nil {
						return err
					}
				}
				if hiddenSourcing {
					if err := hide(rec.ID, domain.StageSourcing); err != nil {
						return err
					}
				}
			}

			for _, rec := range submission {
				if rec.ID == "" {
					skip(domain.EntitySubmission, "", "missing business key")
					continue
				}
				if _, exists := tx.FindSubmissionRecord(rec.ID); exists {
					skip(domain.EntitySubmission, rec.ID, "already present")
					continue
				}
				if !rec.WasApproved() {
					skip(domain.EntitySubmission, rec.ID, "no approval provenance")
					continue
				}
				rec.HiddenFromApproval, rec.HiddenFromSourcing = false, false
				if rec.SubmissionStatus == "" {
					rec.SubmissionStatus = domain.SubmissionPending
				}
				if !domain.CanTransitionSubmission(rec.SubmissionStatus, rec.SubmissionStatus) {
					skip(domain.EntitySubmission, rec.ID, "unknown submission status")
					continue
				}
				if rec.SubmissionID == "" {
					rec.SubmissionID = SubmissionIDPrefix + rec.ID
				}
				if _, err := tx.CreateSubmissionRecord(rec); err != nil {
					return fmt.Errorf("import submission %s: %w", rec.ID, err)
				}
				report.Submission++
			}

			var archivedKeys []string
			for _, rec := range archive {
				if rec.SubmissionStatus == "" {
					rec.SubmissionStatus = domain.SubmissionSubmitted
				}
				if rec.SubmissionStatus != domain.SubmissionSubmitted {
					skip(domain.EntityArchive, rec.ID, "archive snapshot not submitted")
					continue
				}
				if rec.ArchiveID == "" {
					id, err := s.freeArchiveID(tx)
					if err != nil {
						return err
					}
					rec.ArchiveID = id
				} else if _, exists := tx.FindArchiveRecord(rec.ArchiveID); exists {
					skip(domain.EntityArchive, rec.ID, "archive id already present")
					continue
				}
				if rec.ID == "" {
					logger.Warn("archive record without business key imported", zap.String("archiveId", rec.ArchiveID))
				}
				if _, err := tx.CreateArchiveRecord(rec); err != nil {
					return fmt.Errorf("import archive %s: %w", rec.ArchiveID, err)
				}
				report.Archive++
				if rec.ID != "" {
					archivedKeys = append(archivedKeys, rec.ID)
				}
			}

			index := archiveIndex(tx.Snapshot())
			for _, id := range archivedKeys {
				sub, ok := tx.FindSubmissionRecord(id)
				if !ok || sub.SubmissionStatus != domain.SubmissionSubmitted || sub.SubmittedToArchive {
					continue
				}
				if _, err := tx.UpdateSubmissionRecord(id, func(r *domain.SubmissionRecord) error {
					stampArchived(r, index[id], tx.Now())
					return nil
				}); err != nil {
					return fmt.Errorf("link submission %s to archive: %w", id, err)
				}
			}
			return nil
		})
		return err
	})
	if err != nil {
		return ImportReport{}, err
	}
	return report, nil
}

// decodeCollection decodes a JSON array. On error no partially decoded
// records are returned.
func decodeCollection[T any](raw json.RawMessage) ([]T, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) freeArchiveID(tx domain.Transaction) (string, error) {
	for attempt := 0; attempt < maxArchiveIDAttempts; attempt++ {
		candidate, err := domain.NewArchiveID(tx.Now(), s.random)
		if err != nil {
			return "", err
		}
		if _, taken := tx.FindArchiveRecord(candidate); !taken {
			return candidate, nil
		}
	}
	return "", domain.StorageError{Op: "allocate archive id", Err: errArchiveIDExhausted}
}
