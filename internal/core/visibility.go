package core

import (
	"context"
	"fmt"

	"bidflow/internal/logging"
	"bidflow/pkg/domain"
)

// HideFromStage hides a record from one stage view. Other stages are
// unaffected and the record itself is never deleted. Hiding an already
// hidden record is a no-op.
func (s *Service) HideFromStage(ctx context.Context, stage domain.Stage, id, actor string) (domain.VisibilityEntry, error) {
	ctx = logging.WithActor(ctx, actor)
	var entry domain.VisibilityEntry
	err := s.run(ctx, opHide, id, func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		if !stage.IsHideable() {
			return domain.ValidationError{Field: "stage", Message: fmt.Sprintf("stage %q does not support hiding", stage)}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if err := requireInStage(tx, stage, id); err != nil {
				return err
			}
			if existing, ok := tx.Snapshot().FindVisibility(stage, id); ok && existing.Hidden {
				entry = existing
				return nil
			}
			var err error
			entry, err = tx.SetVisibility(domain.VisibilityEntry{
				RecordID: id,
				Stage:    stage,
				Hidden:   true,
				HiddenBy: actor,
				HiddenAt: tx.Now(),
			})
			return err
		})
		return err
	})
	return entry, err
}

func requireInStage(tx domain.Transaction, stage domain.Stage, id string) error {
	switch stage {
	case domain.StageSubmission:
		if _, ok := tx.FindSubmissionRecord(id); !ok {
			return domain.NotFoundError{Entity: domain.EntitySubmission, ID: id}
		}
	default:
		if _, ok := tx.FindSourcingRecord(id); !ok {
			return domain.NotFoundError{Entity: domain.EntitySourcing, ID: id}
		}
	}
	return nil
}

// SourcingView lists the records visible in the sourcing stage.
func (s *Service) SourcingView(ctx context.Context) ([]domain.WorkflowRecord, error) {
	var out []domain.WorkflowRecord
	err := s.run(ctx, opSourcingView, "", func(ctx context.Context) error {
		return s.store.View(ctx, func(v domain.TransactionView) error {
			out = domain.SourcingView(v.ListSourcingRecords(), v)
			return nil
		})
	})
	return out, err
}

// ApprovalView lists the records awaiting or holding an approval decision.
func (s *Service) ApprovalView(ctx context.Context) ([]domain.WorkflowRecord, error) {
	var out []domain.WorkflowRecord
	err := s.run(ctx, opApprovalView, "", func(ctx context.Context) error {
		return s.store.View(ctx, func(v domain.TransactionView) error {
			out = domain.ApprovalView(v.ListSourcingRecords(), v)
			return nil
		})
	})
	return out, err
}

// SubmissionView lists the submission records visible in the submission
// stage.
func (s *Service) SubmissionView(ctx context.Context) ([]domain.SubmissionRecord, error) {
	var out []domain.SubmissionRecord
	err := s.run(ctx, opSubmissionView, "", func(ctx context.Context) error {
		return s.store.View(ctx, func(v domain.TransactionView) error {
			out = domain.SubmissionView(v.ListSubmissionRecords(), v)
			return nil
		})
	})
	return out, err
}
