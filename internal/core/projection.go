package core

import (
	"context"

	"bidflow/internal/logging"
	"bidflow/pkg/domain"
)

// SubmissionIDPrefix prefixes the submission ID derived from a business key.
const SubmissionIDPrefix = "SUB-"

// ProjectToSubmission copies an approved sourcing record into the
// submission collection. ApproveRecord already does this; the operation
// exists to repair projections after a partial legacy import.
func (s *Service) ProjectToSubmission(ctx context.Context, id, actor string) (domain.SubmissionRecord, error) {
	ctx = logging.WithActor(ctx, actor)
	var projected domain.SubmissionRecord
	err := s.run(ctx, opProject, id, func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			src, ok := tx.FindSourcingRecord(id)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntitySourcing, ID: id}
			}
			if src.Status != domain.StatusApproved {
				return domain.ValidationError{Field: "status", Message: "only approved records can be projected"}
			}
			var err error
			projected, err = projectInto(tx, src, actor)
			return err
		})
		return err
	})
	return projected, err
}

// projectInto upserts the submission copy of src. An existing record keeps
// its submission-local fields and only takes the workflow fields; a pending
// one is re-stamped as newly submitted to the stage.
func projectInto(tx domain.Transaction, src domain.WorkflowRecord, actor string) (domain.SubmissionRecord, error) {
	src.HiddenFromApproval = false
	src.HiddenFromSourcing = false
	now := tx.Now()

	if _, exists := tx.FindSubmissionRecord(src.ID); exists {
		return tx.UpdateSubmissionRecord(src.ID, func(r *domain.SubmissionRecord) error {
			base := r.Base
			r.WorkflowRecord = src
			r.Base = base
			if r.SubmissionStatus == domain.SubmissionPending {
				r.SubmittedToSubmission = true
				r.SubmittedToSubmissionAt = &now
				r.SubmittedToSubmissionBy = actor
			}
			return nil
		})
	}

	rec := domain.SubmissionRecord{
		WorkflowRecord:          src,
		SubmissionID:            SubmissionIDPrefix + src.ID,
		SubmissionStatus:        domain.SubmissionPending,
		SubmittedToSubmission:   true,
		SubmittedToSubmissionAt: &now,
		SubmittedToSubmissionBy: actor,
	}
	rec.Version = 0
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return tx.CreateSubmissionRecord(rec)
}
