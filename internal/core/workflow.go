package core

import (
	"context"
	"strings"
	"unicode/utf8"

	"bidflow/internal/logging"
	"bidflow/pkg/domain"
)

// CreateSourcingRecord enters a bid into sourcing. This is the assignment
// collaborator's entry point; an empty ID is generated by the store.
func (s *Service) CreateSourcingRecord(ctx context.Context, rec domain.WorkflowRecord, actor string) (domain.WorkflowRecord, error) {
	ctx = logging.WithActor(ctx, actor)
	var created domain.WorkflowRecord
	err := s.run(ctx, opCreateSourcing, rec.ID, func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		if rec.Status != domain.StatusNone {
			return domain.ValidationError{Field: "status", Message: "new records start outside approval"}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if rec.HuntedBy == "" {
				rec.HuntedBy = actor
			}
			if rec.HuntedAt == nil {
				rec.HuntedAt = timePtr(tx.Now())
			}
			var err error
			created, err = tx.CreateSourcingRecord(rec)
			return err
		})
		return err
	})
	return created, err
}

// CompleteSourcing closes the sourcing phase and queues the record for
// approval. At least one vendor quote is required.
func (s *Service) CompleteSourcing(ctx context.Context, id, actor string) (domain.WorkflowRecord, error) {
	ctx = logging.WithActor(ctx, actor)
	var updated domain.WorkflowRecord
	err := s.run(ctx, opCompleteSourcing, id, func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.UpdateSourcingRecord(id, func(r *domain.WorkflowRecord) error {
				if len(r.SourcingData.Vendors) == 0 {
					return domain.ValidationError{Field: "sourcingData.vendors", Message: "at least one vendor quote is required"}
				}
				if r.Status == domain.StatusApproved || r.Status == domain.StatusRejected {
					return domain.ValidationError{Field: "status", Message: "record already decided; revise it instead"}
				}
				now := tx.Now()
				r.SourcingCompleted = true
				r.SourcingCompletedBy = actor
				r.SourcingCompletedAt = &now
				r.Status = domain.StatusPending
				return nil
			})
			return err
		})
		return err
	})
	return updated, err
}

// ApproveRecord approves a record and projects it into submission within the
// same transaction. Remarks are required. Re-approving an approved record
// refreshes the approval metadata and the projection.
func (s *Service) ApproveRecord(ctx context.Context, id, actor, remarks string) (domain.WorkflowRecord, error) {
	ctx = logging.WithActor(ctx, actor)
	var approved domain.WorkflowRecord
	err := s.run(ctx, opApprove, id, func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		remarks = strings.TrimSpace(remarks)
		if remarks == "" {
			return domain.ValidationError{Field: "remarks", Message: "approval remarks are required"}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			approved, err = tx.UpdateSourcingRecord(id, func(r *domain.WorkflowRecord) error {
				now := tx.Now()
				r.Status = domain.StatusApproved
				r.ApprovedBy = actor
				r.ApprovedAt = &now
				r.ApprovalRemarks = remarks
				return nil
			})
			if err != nil {
				return err
			}
			_, err = projectInto(tx, approved, actor)
			return err
		})
		return err
	})
	return approved, err
}

// RejectRecord rejects a record. The reason is required and bounded; the
// previous acknowledgment is cleared. Nothing is projected.
func (s *Service) RejectRecord(ctx context.Context, id, actor, reason string) (domain.WorkflowRecord, error) {
	ctx = logging.WithActor(ctx, actor)
	var rejected domain.WorkflowRecord
	err := s.run(ctx, opReject, id, func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return domain.ValidationError{Field: "reason", Message: "rejection reason is required"}
		}
		if n := utf8.RuneCountInString(reason); n > s.maxReasonLength {
			return domain.ValidationError{Field: "reason", Message: "rejection reason exceeds the maximum length"}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			rejected, err = tx.UpdateSourcingRecord(id, func(r *domain.WorkflowRecord) error {
				now := tx.Now()
				r.Status = domain.StatusRejected
				r.RejectedBy = actor
				r.RejectedAt = &now
				r.RejectionReason = reason
				r.RejectionAcknowledged = false
				r.RejectionAcknowledgedBy = ""
				r.RejectionAcknowledgedAt = nil
				return nil
			})
			return err
		})
		return err
	})
	return rejected, err
}

// AcknowledgeRejection records that the sourcing owner has seen the
// rejection.
func (s *Service) AcknowledgeRejection(ctx context.Context, id, actor string) (domain.WorkflowRecord, error) {
	ctx = logging.WithActor(ctx, actor)
	var updated domain.WorkflowRecord
	err := s.run(ctx, opAcknowledge, id, func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.UpdateSourcingRecord(id, func(r *domain.WorkflowRecord) error {
				if r.Status != domain.StatusRejected {
					return domain.ValidationError{Field: "status", Message: "only rejected records can be acknowledged"}
				}
				now := tx.Now()
				r.RejectionAcknowledged = true
				r.RejectionAcknowledgedBy = actor
				r.RejectionAcknowledgedAt = &now
				return nil
			})
			return err
		})
		return err
	})
	return updated, err
}

// ReviseRecord re-edits the sourcing data of a record and sends it back to
// approval. expectedVersion guards against lost updates.
func (s *Service) ReviseRecord(ctx context.Context, id string, expectedVersion int64, actor string, edit func(*domain.SourcingData) error) (domain.WorkflowRecord, error) {
	ctx = logging.WithActor(ctx, actor)
	var revised domain.WorkflowRecord
	err := s.run(ctx, opRevise, id, func(ctx context.Context) error {
		if err := requireActor(actor); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			revised, err = tx.UpdateSourcingRecord(id, func(r *domain.WorkflowRecord) error {
				if r.Version != expectedVersion {
					return domain.VersionConflictError{Entity: domain.EntitySourcing, ID: id, Expected: expectedVersion, Actual: r.Version}
				}
				if !r.SourcingCompleted {
					return domain.ValidationError{Field: "sourcingCompleted", Message: "complete sourcing before revising"}
				}
				if edit != nil {
					if err := edit(&r.SourcingData); err != nil {
						return err
					}
				}
				if len(r.SourcingData.Vendors) == 0 {
					return domain.ValidationError{Field: "sourcingData.vendors", Message: "at least one vendor quote is required"}
				}
				now := tx.Now()
				r.RevisionCount++
				r.RevisedBy = actor
				r.RevisedAt = &now
				r.Status = domain.StatusPending
				return nil
			})
			return err
		})
		return err
	})
	return revised, err
}
