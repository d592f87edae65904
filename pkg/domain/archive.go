package domain

import (
	"fmt"
	"io"
	"sort"
	"time"
)

const archiveIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ArchiveIDSuffixLength is the number of random characters in an archive ID.
const ArchiveIDSuffixLength = 4

// NewArchiveID returns ARCH-YYYY-MM-DD-XXXX for the given day, drawing the
// suffix from rnd. Archive IDs are not unique by construction.
func NewArchiveID(now time.Time, rnd io.Reader) (string, error) {
	buf := make([]byte, ArchiveIDSuffixLength)
	if _, err := io.ReadFull(rnd, buf); err != nil {
		return "", fmt.Errorf("archive id suffix: %w", err)
	}
	suffix := make([]byte, ArchiveIDSuffixLength)
	for i, b := range buf {
		suffix[i] = archiveIDAlphabet[int(b)%len(archiveIDAlphabet)]
	}
	return fmt.Sprintf("ARCH-%04d-%02d-%02d-%s", now.Year(), int(now.Month()), now.Day(), suffix), nil
}

// SortTime returns the best available submission timestamp:
// submittedToArchiveAt, then archivedAt, then finalSubmissionAt.
func (a ArchiveRecord) SortTime() (time.Time, bool) {
	for _, ts := range []*time.Time{a.SubmittedToArchiveAt, a.ArchivedAt, a.FinalSubmissionAt} {
		if ts != nil && !ts.IsZero() {
			return *ts, true
		}
	}
	return time.Time{}, false
}

// DedupResult describes the outcome of archive deduplication.
type DedupResult struct {
	Kept       []ArchiveRecord
	Duplicates []ArchiveRecord
	// MissingKey holds records without a business key. They are neither
	// kept nor counted as duplicates.
	MissingKey []ArchiveRecord
}

// DeduplicateArchive keeps the most recent archive record per business key.
// Records are ordered by SortTime descending with untimed records last; ties
// keep their input order, so the first record seen wins.
func DeduplicateArchive(records []ArchiveRecord) DedupResult {
	sorted := make([]ArchiveRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, okI := sorted[i].SortTime()
		tj, okJ := sorted[j].SortTime()
		switch {
		case okI && !okJ:
			return true
		case !okI && okJ:
			return false
		case okI && okJ:
			return ti.After(tj)
		default:
			return false
		}
	})

	var result DedupResult
	seen := make(map[string]struct{}, len(sorted))
	for _, rec := range sorted {
		if rec.ID == "" {
			result.MissingKey = append(result.MissingKey, rec)
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			result.Duplicates = append(result.Duplicates, rec)
			continue
		}
		seen[rec.ID] = struct{}{}
		result.Kept = append(result.Kept, rec)
	}
	return result
}

// WorkflowStagesFor builds the stage history of a submission in pipeline order.
func WorkflowStagesFor(sub SubmissionRecord) []WorkflowStage {
	return []WorkflowStage{
		{Stage: StageHunting, CompletedBy: sub.HuntedBy, CompletedAt: sub.HuntedAt},
		{Stage: StageSourcing, CompletedBy: sub.SourcingCompletedBy, CompletedAt: sub.SourcingCompletedAt},
		{Stage: StageApproval, CompletedBy: sub.ApprovedBy, CompletedAt: sub.ApprovedAt},
		{Stage: StageSubmission, CompletedBy: sub.FinalSubmittedBy, CompletedAt: sub.FinalSubmissionAt},
	}
}

// NewArchiveRecord snapshots a submitted submission record.
func NewArchiveRecord(sub SubmissionRecord, archiveID, actor string, at time.Time) ArchiveRecord {
	ts := at
	sub.SubmittedToArchive = true
	sub.SubmittedToArchiveAt = &ts
	return ArchiveRecord{
		SubmissionRecord: sub,
		ArchiveID:        archiveID,
		ArchivedAt:       &ts,
		ArchivedBy:       actor,
		WorkflowStages:   WorkflowStagesFor(sub),
	}
}
