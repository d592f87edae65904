package domain

import (
	"fmt"
	"time"
)

// Stage names a step of the bid pipeline.
type Stage string

// Pipeline stages in order.
const (
	StageHunting    Stage = "hunting"
	StageSourcing   Stage = "sourcing"
	StageApproval   Stage = "approval"
	StageSubmission Stage = "submission"
	StageArchive    Stage = "archive"
)

// HideableStages lists the stages whose views support hiding a record.
var HideableStages = []Stage{StageSourcing, StageApproval, StageSubmission}

// IsHideable reports whether s supports hiding.
func (s Stage) IsHideable() bool {
	for _, h := range HideableStages {
		if h == s {
			return true
		}
	}
	return false
}

// Visibility is the tagged value Visible | HiddenFrom(stage). The zero value
// is Visible.
type Visibility struct {
	hiddenFrom Stage
}

// Visible returns the visible state.
func Visible() Visibility { return Visibility{} }

// HiddenFrom returns the state of a record hidden from stage.
func HiddenFrom(stage Stage) Visibility { return Visibility{hiddenFrom: stage} }

// Hidden reports the stage the record is hidden from, if any.
func (v Visibility) Hidden() (Stage, bool) {
	return v.hiddenFrom, v.hiddenFrom != ""
}

func (v Visibility) String() string {
	if stage, ok := v.Hidden(); ok {
		return fmt.Sprintf("hiddenFrom(%s)", stage)
	}
	return "visible"
}

// VisibilityEntry persists the visibility of one record in one stage.
type VisibilityEntry struct {
	RecordID string    `json:"recordId"`
	Stage    Stage     `json:"stage"`
	Hidden   bool      `json:"hidden"`
	HiddenBy string    `json:"hiddenBy,omitempty"`
	HiddenAt time.Time `json:"hiddenAt"`
}

// Key returns the storage key of the entry.
func (e VisibilityEntry) Key() string { return VisibilityKey(e.Stage, e.RecordID) }

// Visibility converts the entry into its tagged value.
func (e VisibilityEntry) Visibility() Visibility {
	if e.Hidden {
		return HiddenFrom(e.Stage)
	}
	return Visible()
}

// VisibilityKey derives the storage key for a (stage, record) pair.
func VisibilityKey(stage Stage, id string) string {
	return string(stage) + "/" + id
}

// VisibilityLookup resolves the visibility of a record within a stage.
type VisibilityLookup interface {
	VisibilityOf(stage Stage, id string) Visibility
}

func visibleIn(lookup VisibilityLookup, stage Stage, id string) bool {
	if lookup == nil {
		return true
	}
	_, hidden := lookup.VisibilityOf(stage, id).Hidden()
	return !hidden
}

// SourcingView filters records to those not hidden from sourcing.
func SourcingView(records []WorkflowRecord, lookup VisibilityLookup) []WorkflowRecord {
	out := make([]WorkflowRecord, 0, len(records))
	for _, r := range records {
		if visibleIn(lookup, StageSourcing, r.ID) {
			out = append(out, r)
		}
	}
	return out
}

// ApprovalView filters records to those not hidden from approval whose
// sourcing is complete and whose status is an approval status.
func ApprovalView(records []WorkflowRecord, lookup VisibilityLookup) []WorkflowRecord {
	out := make([]WorkflowRecord, 0, len(records))
	for _, r := range records {
		if !r.SourcingCompleted || !r.Status.IsApprovalStatus() {
			continue
		}
		if visibleIn(lookup, StageApproval, r.ID) {
			out = append(out, r)
		}
	}
	return out
}

// SubmissionView filters submission records to those not hidden from submission.
func SubmissionView(records []SubmissionRecord, lookup VisibilityLookup) []SubmissionRecord {
	out := make([]SubmissionRecord, 0, len(records))
	for _, r := range records {
		if visibleIn(lookup, StageSubmission, r.ID) {
			out = append(out, r)
		}
	}
	return out
}
