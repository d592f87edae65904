package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type mapLookup map[string]Visibility

func (m mapLookup) VisibilityOf(stage Stage, id string) Visibility {
	return m[VisibilityKey(stage, id)]
}

func wf(id string, status Status, complete bool) WorkflowRecord {
	rec := WorkflowRecord{Status: status, SourcingCompleted: complete}
	rec.ID = id
	return rec
}

func ids(records []WorkflowRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestVisibilityIndependentPerStage(t *testing.T) {
	records := []WorkflowRecord{
		wf("a", StatusPending, true),
		wf("b", StatusApproved, true),
	}
	lookup := mapLookup{VisibilityKey(StageApproval, "a"): HiddenFrom(StageApproval)}

	assert.Equal(t, []string{"a", "b"}, ids(SourcingView(records, lookup)))
	assert.Equal(t, []string{"b"}, ids(ApprovalView(records, lookup)))

	lookup = mapLookup{VisibilityKey(StageSourcing, "b"): HiddenFrom(StageSourcing)}
	assert.Equal(t, []string{"a"}, ids(SourcingView(records, lookup)))
	assert.Equal(t, []string{"a", "b"}, ids(ApprovalView(records, lookup)))
}

func TestApprovalViewRequiresCompletedSourcingAndStatus(t *testing.T) {
	records := []WorkflowRecord{
		wf("incomplete", StatusPending, false),
		wf("unsubmitted", StatusNone, true),
		wf("rejected", StatusRejected, true),
	}
	assert.Equal(t, []string{"rejected"}, ids(ApprovalView(records, nil)))
}

func TestSubmissionViewFilters(t *testing.T) {
	var a, b SubmissionRecord
	a.ID, b.ID = "a", "b"
	lookup := mapLookup{VisibilityKey(StageSubmission, "a"): HiddenFrom(StageSubmission)}
	out := SubmissionView([]SubmissionRecord{a, b}, lookup)
	assert.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)
}

func TestVisibilityTaggedValue(t *testing.T) {
	_, hidden := Visible().Hidden()
	assert.False(t, hidden)
	assert.Equal(t, "visible", Visible().String())

	stage, hidden := HiddenFrom(StageApproval).Hidden()
	assert.True(t, hidden)
	assert.Equal(t, StageApproval, stage)
	assert.Equal(t, "hiddenFrom(approval)", HiddenFrom(StageApproval).String())

	entry := VisibilityEntry{RecordID: "x", Stage: StageSourcing, Hidden: true}
	assert.Equal(t, "sourcing/x", entry.Key())
	assert.Equal(t, HiddenFrom(StageSourcing), entry.Visibility())

	assert.True(t, StageSubmission.IsHideable())
	assert.False(t, StageArchive.IsHideable())
}
