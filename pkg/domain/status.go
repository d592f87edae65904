package domain

// Status is the approval status of a workflow record. The zero value means
// the record has not been submitted to approval.
type Status string

// Approval statuses.
const (
	StatusNone     Status = ""
	StatusPending  Status = "approval_pending"
	StatusApproved Status = "approval_approved"
	StatusRejected Status = "approval_rejected"
)

// IsApprovalStatus reports whether s is one of the three approval statuses.
func (s Status) IsApprovalStatus() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// SubmissionStatus tracks a submission record through its own stage.
type SubmissionStatus string

// Submission statuses.
const (
	SubmissionPending    SubmissionStatus = "pending_submission"
	SubmissionProcessing SubmissionStatus = "processing"
	SubmissionSubmitted  SubmissionStatus = "submitted"
)

var statusTransitions = map[Status]map[Status]struct{}{
	StatusNone:     toSet(StatusPending),
	StatusPending:  toSet(StatusPending, StatusApproved, StatusRejected),
	StatusApproved: toSet(StatusApproved, StatusPending),
	StatusRejected: toSet(StatusRejected, StatusPending),
}

var submissionTransitions = map[SubmissionStatus]map[SubmissionStatus]struct{}{
	"":                   toSet(SubmissionPending),
	SubmissionPending:    toSet(SubmissionPending, SubmissionProcessing, SubmissionSubmitted),
	SubmissionProcessing: toSet(SubmissionProcessing, SubmissionSubmitted),
	SubmissionSubmitted:  toSet(SubmissionSubmitted),
}

// CanTransition reports whether an approval status change is legal. Moving a
// decided record back to pending is additionally gated on revision by
// IsRevision.
func CanTransition(from, to Status) bool {
	allowed, ok := statusTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// CanTransitionSubmission reports whether a submission status change is legal.
func CanTransitionSubmission(from, to SubmissionStatus) bool {
	allowed, ok := submissionTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// IsRevision reports whether after is a revision of before: a decided record
// returned to pending with a bumped revision counter.
func IsRevision(before, after WorkflowRecord) bool {
	return after.RevisionCount > before.RevisionCount && after.Status == StatusPending
}

func toSet[T comparable](values ...T) map[T]struct{} {
	set := make(map[T]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
