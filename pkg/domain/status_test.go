package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusNone, StatusPending, true},
		{StatusNone, StatusApproved, false},
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusApproved, StatusApproved, true},
		{StatusRejected, StatusRejected, true},
		{StatusApproved, StatusRejected, false},
		{StatusRejected, StatusApproved, false},
		{StatusRejected, StatusPending, true},
		{Status("bogus"), StatusPending, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, CanTransition(tc.from, tc.to), "%q -> %q", tc.from, tc.to)
	}
}

func TestCanTransitionSubmission(t *testing.T) {
	assert.True(t, CanTransitionSubmission("", SubmissionPending))
	assert.True(t, CanTransitionSubmission(SubmissionPending, SubmissionProcessing))
	assert.True(t, CanTransitionSubmission(SubmissionPending, SubmissionSubmitted))
	assert.True(t, CanTransitionSubmission(SubmissionProcessing, SubmissionSubmitted))
	assert.False(t, CanTransitionSubmission(SubmissionSubmitted, SubmissionProcessing))
	assert.False(t, CanTransitionSubmission(SubmissionProcessing, SubmissionPending))
}

func TestIsRevision(t *testing.T) {
	before := WorkflowRecord{Status: StatusRejected, RevisionCount: 1}
	after := WorkflowRecord{Status: StatusPending, RevisionCount: 2}
	assert.True(t, IsRevision(before, after))
	after.RevisionCount = 1
	assert.False(t, IsRevision(before, after))
}
