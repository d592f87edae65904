package core

import (
	"context"
	"fmt"

	"bidflow/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the workflow policy set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(StatusTransitionRule())
	engine.Register(SubmissionTransitionRule())
	engine.Register(SubmissionProvenanceRule())
	engine.Register(ArchiveProvenanceRule())
	return engine
}

// StatusTransitionRule blocks illegal approval status changes on sourcing
// records. A decided record may only return to pending through a revision.
func StatusTransitionRule() domain.Rule { return statusTransitionRule{} }

type statusTransitionRule struct{}

func (statusTransitionRule) Name() string { return "status_transition" }

func (r statusTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntitySourcing {
			continue
		}
		after, ok := change.After.(domain.WorkflowRecord)
		if !ok {
			continue
		}
		if after.Status != domain.StatusNone && !after.Status.IsApprovalStatus() {
			res.Violations = append(res.Violations, r.block(after.ID, fmt.Sprintf("unknown status %q", after.Status)))
			continue
		}
		before, ok := change.Before.(domain.WorkflowRecord)
		if !ok {
			continue
		}
		if !domain.CanTransition(before.Status, after.Status) {
			res.Violations = append(res.Violations, r.block(after.ID,
				fmt.Sprintf("cannot move record %s from %s to %s", after.ID, statusLabel(before.Status), statusLabel(after.Status))))
			continue
		}
		decided := before.Status == domain.StatusApproved || before.Status == domain.StatusRejected
		if decided && after.Status == domain.StatusPending && !domain.IsRevision(before, after) {
			res.Violations = append(res.Violations, r.block(after.ID,
				fmt.Sprintf("record %s can only return to pending through a revision", after.ID)))
		}
	}
	return res, nil
}

func (statusTransitionRule) block(id, msg string) domain.Violation {
	return domain.Violation{Rule: "status_transition", Severity: domain.SeverityBlock, Message: msg, Entity: domain.EntitySourcing, EntityID: id}
}

func statusLabel(s domain.Status) string {
	if s == domain.StatusNone {
		return "not_submitted"
	}
	return string(s)
}

// SubmissionTransitionRule blocks illegal submission status changes.
func SubmissionTransitionRule() domain.Rule { return submissionTransitionRule{} }

type submissionTransitionRule struct{}

func (submissionTransitionRule) Name() string { return "submission_transition" }

func (submissionTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntitySubmission {
			continue
		}
		after, ok := change.After.(domain.SubmissionRecord)
		if !ok {
			continue
		}
		var from domain.SubmissionStatus
		if before, ok := change.Before.(domain.SubmissionRecord); ok {
			from = before.SubmissionStatus
		} else if after.SubmissionStatus != "" {
			// creates may start at any known status (legacy imports)
			from = after.SubmissionStatus
		}
		if !domain.CanTransitionSubmission(from, after.SubmissionStatus) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "submission_transition",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("cannot move submission %s from %q to %q", after.ID, from, after.SubmissionStatus),
				Entity:   domain.EntitySubmission,
				EntityID: after.ID,
			})
		}
	}
	return res, nil
}

// SubmissionProvenanceRule requires every new submission record to carry
// approval provenance.
func SubmissionProvenanceRule() domain.Rule { return submissionProvenanceRule{} }

type submissionProvenanceRule struct{}

func (submissionProvenanceRule) Name() string { return "submission_provenance" }

func (submissionProvenanceRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntitySubmission || change.Action != domain.ActionCreate {
			continue
		}
		after, ok := change.After.(domain.SubmissionRecord)
		if !ok || after.WasApproved() {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "submission_provenance",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("record %s was never approved and cannot enter submission", after.ID),
			Entity:   domain.EntitySubmission,
			EntityID: after.ID,
		})
	}
	return res, nil
}

// ArchiveProvenanceRule requires archived snapshots to be submitted.
func ArchiveProvenanceRule() domain.Rule { return archiveProvenanceRule{} }

type archiveProvenanceRule struct{}

func (archiveProvenanceRule) Name() string { return "archive_provenance" }

func (archiveProvenanceRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityArchive || change.Action != domain.ActionCreate {
			continue
		}
		after, ok := change.After.(domain.ArchiveRecord)
		if !ok || after.SubmissionStatus == domain.SubmissionSubmitted {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "archive_provenance",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("archive %s holds submission status %q, want submitted", after.ArchiveID, after.SubmissionStatus),
			Entity:   domain.EntityArchive,
			EntityID: after.ArchiveID,
		})
	}
	return res, nil
}
