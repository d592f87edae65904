package core_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bidflow/internal/core"
	"bidflow/pkg/domain"
)

func TestImportLegacyCollections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	report, err := svc.ImportLegacyCollections(ctx, core.LegacyCollections{
		Sourcing: json.RawMessage(`[
		  {"id": "QMS-600", "title": "Valves", "status": "approval_pending", "sourcingCompleted": true,
		   "hiddenFromApproval": true,
		   "sourcingData": {"vendors": [{"name": "Acme", "isPrimary": true,
		     "pricing": {"subtotal": "100.50", "grandTotal": 120},
		     "attachments": ["https://files.example/quote.pdf", "att-17"]}]}},
		  {"id": "QMS-600", "title": "Duplicate"},
		  {"id": "QMS-601", "status": "not-a-status"},
		  {"title": "No key"}
		]`),
		Submission: json.RawMessage(`[
		  {"id": "QMS-602", "status": "approval_pending"},
		  {"id": "QMS-603", "status": "approval_approved", "approvedAt": "2025-02-01T09:00:00Z"}
		]`),
		Archive: json.RawMessage(`{not json`),
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.Sourcing)
	require.Equal(t, 1, report.Submission)
	require.Equal(t, 0, report.Archive)
	require.Equal(t, 1, report.Hidden)
	require.Equal(t, 4, report.Skipped)
	require.Equal(t, []domain.EntityType{domain.EntityArchive}, report.Undecodable)

	rec := findSourcing(t, svc, "QMS-600")
	require.Equal(t, "Valves", rec.Title, "first record per key wins")
	require.False(t, rec.HiddenFromApproval, "legacy flag is cleared")
	refs := rec.SourcingData.Vendors[0].Attachments
	require.Len(t, refs, 2)
	require.Equal(t, domain.AttachmentExternalKind, refs[0].Kind)
	require.Equal(t, domain.AttachmentByIDKind, refs[1].Kind)

	approval, err := svc.ApprovalView(ctx)
	require.NoError(t, err)
	require.Empty(t, approval, "legacy hidden flag becomes a visibility entry")
	sourcing, err := svc.SourcingView(ctx)
	require.NoError(t, err)
	require.Len(t, sourcing, 1)

	sub, ok := findSubmission(t, svc, "QMS-603")
	require.True(t, ok)
	require.Equal(t, domain.SubmissionPending, sub.SubmissionStatus)
	require.Equal(t, "SUB-QMS-603", sub.SubmissionID)
	_, ok = findSubmission(t, svc, "QMS-602")
	require.False(t, ok, "records without approval provenance stay out of submission")
}

func TestImportKeepsExistingRecordsAndGeneratesArchiveIDs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	createSourced(t, svc, "QMS-610")

	report, err := svc.ImportLegacyCollections(ctx, core.LegacyCollections{
		Sourcing: json.RawMessage(`[{"id": "QMS-610", "title": "Overwrite attempt"}]`),
		Archive:  json.RawMessage(`[{"id": "QMS-611"}]`),
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, 1, report.Archive)
	require.Equal(t, "Hydraulic pumps", findSourcing(t, svc, "QMS-610").Title)

	archived := archiveRecords(t, svc)
	require.Len(t, archived, 1)
	require.Regexp(t, archiveIDPattern, archived[0].ArchiveID)
	require.Equal(t, domain.SubmissionSubmitted, archived[0].SubmissionStatus)
}

func TestImportEmptyCollections(t *testing.T) {
	svc, _ := newTestService(t)
	report, err := svc.ImportLegacyCollections(context.Background(), core.LegacyCollections{})
	require.NoError(t, err)
	require.Equal(t, core.ImportReport{}, report)
}

func TestImportLinksSubmittedRecordsToImportedArchive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	report, err := svc.ImportLegacyCollections(ctx, core.LegacyCollections{
		Submission: json.RawMessage(`[
		  {"id": "QMS-620", "status": "approval_approved", "approvedAt": "2025-02-01T09:00:00Z",
		   "submissionStatus": "submitted", "finalSubmittedBy": "clerk"}
		]`),
		Archive: json.RawMessage(`[
		  {"id": "QMS-620", "archiveId": "ARCH-2025-02-03-AAAA", "submissionStatus": "submitted",
		   "submittedToArchiveAt": "2025-02-03T10:00:00Z"}
		]`),
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.Submission)
	require.Equal(t, 1, report.Archive)

	sub, ok := findSubmission(t, svc, "QMS-620")
	require.True(t, ok)
	require.True(t, sub.SubmittedToArchive)
	require.NotNil(t, sub.SubmittedToArchiveAt)
	require.True(t, sub.SubmittedToArchiveAt.Equal(time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)))

	orphans, err := svc.ListOrphanedSubmissions(ctx)
	require.NoError(t, err)
	require.Empty(t, orphans)

	_, err = svc.FinalizeSubmission(ctx, "QMS-620", "clerk")
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "submissionStatus", verr.Field)
	require.Len(t, archiveRecords(t, svc), 1)
}

func TestImportSkipsArchiveRowsThatWereNeverSubmitted(t *testing.T) {
	svc, _ := newTestService(t)

	report, err := svc.ImportLegacyCollections(context.Background(), core.LegacyCollections{
		Sourcing: json.RawMessage(`[{"id": "QMS-630", "status": "approval_pending", "sourcingCompleted": true}]`),
		Archive:  json.RawMessage(`[{"id": "QMS-631", "archiveId": "ARCH-2025-02-03-BBBB", "submissionStatus": "processing"}]`),
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.Sourcing)
	require.Equal(t, 0, report.Archive)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, "QMS-630", findSourcing(t, svc, "QMS-630").ID)
	require.Empty(t, archiveRecords(t, svc))
}

func TestImportToleratesBlankLegacyAmounts(t *testing.T) {
	svc, _ := newTestService(t)

	report, err := svc.ImportLegacyCollections(context.Background(), core.LegacyCollections{
		Sourcing: json.RawMessage(`[
		  {"id": "QMS-640", "status": "approval_pending", "sourcingCompleted": true,
		   "sourcingData": {"vendors": [{"name": "Acme", "estimatedShipping": "",
		     "pricing": {"grandTotal": 750, "finalGrandTotal": ""}}]}}
		]`),
	})
	require.NoError(t, err)
	require.Empty(t, report.Undecodable)
	require.Equal(t, 1, report.Sourcing)

	rec := findSourcing(t, svc, "QMS-640")
	require.True(t, rec.SourcingData.Vendors[0].TotalValue().Equal(dec("750")))
}
