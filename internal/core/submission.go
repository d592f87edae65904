package core

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bidflow/internal/logging"
	"bidflow/pkg/domain"
)

// maxArchiveIDAttempts bounds archive ID regeneration on suffix collisions.
const maxArchiveIDAttempts = 5

var errAlreadyFinalized = domain.ValidationError{Field: "submissionStatus", Message: "submission already finalized"}

// SubmissionInfo is the portal submission metadata recorded before
// finalizing.
type SubmissionInfo struct {
	Date            *time.Time
	SubmittedBy     string
	PortalReference string
	Notes           string
}

// StartSubmission marks the first touch of a submission record. The
// calculation is seeded from the primary vendor unless details already
// exist. Starting an already started record returns it unchanged.
func (s *Service) StartSubmission(ctx context.Context, id, actor string) (domain.SubmissionRecord, error) {
	ctx = logging.WithActor(ctx, actor)
	var started domain.SubmissionRecord
	err := s.run(ctx, opStartSubmission, id, func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current, ok := tx.FindSubmissionRecord(id)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntitySubmission, ID: id}
			}
			if current.SubmissionStatus == domain.SubmissionSubmitted {
				return domain.ValidationError{Field: "submissionStatus", Message: "submission already finalized"}
			}
			if current.IsStarted {
				started = current
				return nil
			}
			var err error
			started, err = tx.UpdateSubmissionRecord(id, func(r *domain.SubmissionRecord) error {
				now := tx.Now()
				r.IsStarted = true
				r.StartedBy = actor
				r.StartedAt = &now
				r.SubmissionStatus = domain.SubmissionProcessing
				if r.SubmissionDetails.VendorCost.IsZero() && r.SubmissionDetails.ProfitPercent.IsZero() {
					vendor, _ := r.SourcingData.PrimaryVendor()
					seeded := domain.SeedCalculation(vendor, s.profitPercent)
					seeded.SubmissionDate = r.SubmissionDetails.SubmissionDate
					seeded.SubmittedBy = r.SubmissionDetails.SubmittedBy
					seeded.PortalReference = r.SubmissionDetails.PortalReference
					seeded.Notes = r.SubmissionDetails.Notes
					r.SubmissionDetails = seeded
				}
				return nil
			})
			return err
		})
		return err
	})
	return started, err
}

// UpdateSubmissionDetails applies calculation inputs to a started
// submission and recalculates every derived figure.
func (s *Service) UpdateSubmissionDetails(ctx context.Context, id string, expectedVersion int64, in domain.CalculationInputs) (domain.SubmissionRecord, error) {
	var updated domain.SubmissionRecord
	err := s.run(ctx, opUpdateDetails, id, func(ctx context.Context) error {
		if in.Empty() {
			return domain.ValidationError{Field: "submissionDetails", Message: "no calculation input provided"}
		}
		if err := validateInputs(in); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.UpdateSubmissionRecord(id, func(r *domain.SubmissionRecord) error {
				if r.Version != expectedVersion {
					return domain.VersionConflictError{Entity: domain.EntitySubmission, ID: id, Expected: expectedVersion, Actual: r.Version}
				}
				if err := requireEditable(*r); err != nil {
					return err
				}
				r.SubmissionDetails = r.SubmissionDetails.ApplyInputs(in)
				return nil
			})
			return err
		})
		return err
	})
	return updated, err
}

func validateInputs(in domain.CalculationInputs) error {
	fields := []struct {
		name  string
		value *decimal.Decimal
	}{
		{"vendorCost", in.VendorCost},
		{"shippingCost", in.ShippingCost},
		{"ccCostPercent", in.CCCostPercent},
		{"profitPercent", in.ProfitPercent},
		{"taxAmount", in.TaxAmount},
	}
	for _, f := range fields {
		if f.value != nil && f.value.IsNegative() {
			return domain.ValidationError{Field: "submissionDetails." + f.name, Message: "must not be negative"}
		}
	}
	return nil
}

func requireEditable(r domain.SubmissionRecord) error {
	if !r.IsStarted {
		return domain.ValidationError{Field: "isStarted", Message: "start the submission first"}
	}
	if r.SubmissionStatus == domain.SubmissionSubmitted {
		return domain.ValidationError{Field: "submissionStatus", Message: "submission already finalized"}
	}
	return nil
}

// SetSubmissionInfo records the portal submission date, submitter and notes.
func (s *Service) SetSubmissionInfo(ctx context.Context, id string, info SubmissionInfo) (domain.SubmissionRecord, error) {
	var updated domain.SubmissionRecord
	err := s.run(ctx, opSetSubmissionInfo, id, func(ctx context.Context) error {
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.UpdateSubmissionRecord(id, func(r *domain.SubmissionRecord) error {
				if err := requireEditable(*r); err != nil {
					return err
				}
				if info.Date != nil {
					r.SubmissionDetails.SubmissionDate = timePtr(info.Date.UTC())
				}
				if by := strings.TrimSpace(info.SubmittedBy); by != "" {
					r.SubmissionDetails.SubmittedBy = by
				}
				if info.PortalReference != "" {
					r.SubmissionDetails.PortalReference = info.PortalReference
				}
				if info.Notes != "" {
					r.SubmissionDetails.Notes = info.Notes
				}
				return nil
			})
			return err
		})
		return err
	})
	return updated, err
}

// AddSubmissionAttachment appends a document reference to a started
// submission.
func (s *Service) AddSubmissionAttachment(ctx context.Context, id string, ref domain.AttachmentRef) (domain.SubmissionRecord, error) {
	var updated domain.SubmissionRecord
	err := s.run(ctx, opAddAttachment, id, func(ctx context.Context) error {
		if err := ref.Validate(); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.UpdateSubmissionRecord(id, func(r *domain.SubmissionRecord) error {
				if err := requireEditable(*r); err != nil {
					return err
				}
				r.SubmissionAttachments = append(r.SubmissionAttachments, ref)
				return nil
			})
			return err
		})
		return err
	})
	return updated, err
}

// FinalizeSubmission marks a submission submitted and writes its archive
// snapshot. The two steps commit separately: when the archive write fails
// the submission stays submitted without an archive record and an
// ArchiveTransferError is returned. Finalizing such an orphan again retries
// only the archive write.
func (s *Service) FinalizeSubmission(ctx context.Context, id, actor string) (domain.ArchiveRecord, error) {
	ctx = logging.WithActor(ctx, actor)
	var archived domain.ArchiveRecord
	err := s.run(ctx, opFinalize, id, func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		alreadyArchived := false
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current, ok := tx.FindSubmissionRecord(id)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntitySubmission, ID: id}
			}
			if current.SubmissionStatus == domain.SubmissionSubmitted {
				if current.SubmittedToArchive {
					return errAlreadyFinalized
				}
				existing, archived := archiveIndex(tx.Snapshot())[id]
				if !archived {
					return nil
				}
				alreadyArchived = true
				_, err := tx.UpdateSubmissionRecord(id, func(r *domain.SubmissionRecord) error {
					stampArchived(r, existing, tx.Now())
					return nil
				})
				return err
			}
			details := current.SubmissionDetails
			if details.SubmissionDate == nil {
				return domain.ValidationError{Field: "submissionDetails.submissionDate", Message: "submission date is required"}
			}
			if strings.TrimSpace(details.SubmittedBy) == "" {
				return domain.ValidationError{Field: "submissionDetails.submittedBy", Message: "submitter is required"}
			}
			_, err := tx.UpdateSubmissionRecord(id, func(r *domain.SubmissionRecord) error {
				now := tx.Now()
				r.SubmissionStatus = domain.SubmissionSubmitted
				r.FinalSubmissionAt = &now
				r.FinalSubmittedBy = actor
				return nil
			})
			return err
		})
		if err != nil {
			return err
		}
		if alreadyArchived {
			return errAlreadyFinalized
		}

		_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			sub, ok := tx.FindSubmissionRecord(id)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntitySubmission, ID: id}
			}
			var err error
			archived, err = s.archiveSubmission(tx, sub, actor)
			return err
		})
		if err != nil {
			logging.FromContext(ctx, s.logger).Error("archive transfer failed; submission left orphaned",
				zap.String("qmsId", id), zap.Error(err))
			return domain.ArchiveTransferError{ID: id, Err: err}
		}
		return nil
	})
	return archived, err
}

// archiveSubmission snapshots sub under a fresh archive ID and stamps the
// submission as transferred.
func (s *Service) archiveSubmission(tx domain.Transaction, sub domain.SubmissionRecord, actor string) (domain.ArchiveRecord, error) {
	now := tx.Now()
	archiveID, err := s.freeArchiveID(tx)
	if err != nil {
		return domain.ArchiveRecord{}, err
	}
	rec, err := tx.CreateArchiveRecord(domain.NewArchiveRecord(sub, archiveID, actor, now))
	if err != nil {
		return domain.ArchiveRecord{}, err
	}
	_, err = tx.UpdateSubmissionRecord(sub.ID, func(r *domain.SubmissionRecord) error {
		r.SubmittedToArchive = true
		r.SubmittedToArchiveAt = &now
		return nil
	})
	return rec, err
}
