package core_test

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"bidflow/internal/core"
	"bidflow/pkg/domain"
)

var archiveIDPattern = regexp.MustCompile(`^ARCH-2025-03-14-[A-Z0-9]{4}$`)

func TestStartSubmissionSeedsCalculationFromPrimaryVendor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	createApproved(t, svc, "QMS-400")

	sub, err := svc.StartSubmission(ctx, "QMS-400", "clerk")
	require.NoError(t, err)
	require.True(t, sub.IsStarted)
	require.Equal(t, domain.SubmissionProcessing, sub.SubmissionStatus)
	require.Equal(t, map[string]string{
		"vendorCost":           "1000.00",
		"shippingCost":         "50.00",
		"ccCostPercent":        "3.00",
		"profitPercent":        "10.00",
		"taxAmount":            "20.00",
		"ccCostAmount":         "30.00",
		"totalCost":            "1080.00",
		"onePercentVendorCost": "10.00",
		"profitAmount":         "100.00",
		"totalProfitAmount":    "110.00",
		"submittedWithMargin":  "1210.00",
	}, sub.SubmissionDetails.Display())

	again, err := svc.StartSubmission(ctx, "QMS-400", "someone-else")
	require.NoError(t, err)
	require.Equal(t, sub.Version, again.Version, "starting twice must not write")
	require.Equal(t, "clerk", again.StartedBy)
}

func TestStartSubmissionUsesConfiguredProfitPercent(t *testing.T) {
	svc, _ := newTestService(t, core.WithDefaultProfitPercent(dec("12.5")))
	createApproved(t, svc, "QMS-401")
	sub, err := svc.StartSubmission(context.Background(), "QMS-401", "clerk")
	require.NoError(t, err)
	require.Equal(t, "12.50", sub.SubmissionDetails.ProfitPercent.StringFixed(2))
	require.Equal(t, "125.00", sub.SubmissionDetails.ProfitAmount.StringFixed(2))
}

func TestUpdateSubmissionDetailsRecalculates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	createApproved(t, svc, "QMS-402")

	_, err := svc.UpdateSubmissionDetails(ctx, "QMS-402", 1, domain.CalculationInputs{VendorCost: decPtr("10")})
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "isStarted", verr.Field)

	sub, err := svc.StartSubmission(ctx, "QMS-402", "clerk")
	require.NoError(t, err)

	_, err = svc.UpdateSubmissionDetails(ctx, "QMS-402", sub.Version, domain.CalculationInputs{})
	require.ErrorAs(t, err, &verr)
	_, err = svc.UpdateSubmissionDetails(ctx, "QMS-402", sub.Version, domain.CalculationInputs{TaxAmount: decPtr("-1")})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "submissionDetails.taxAmount", verr.Field)

	updated, err := svc.UpdateSubmissionDetails(ctx, "QMS-402", sub.Version, domain.CalculationInputs{
		VendorCost:    decPtr("2000"),
		ProfitPercent: decPtr("5"),
	})
	require.NoError(t, err)
	details := updated.SubmissionDetails.Display()
	require.Equal(t, "60.00", details["ccCostAmount"])
	require.Equal(t, "2110.00", details["totalCost"])
	require.Equal(t, "120.00", details["totalProfitAmount"])
	require.Equal(t, "2250.00", details["submittedWithMargin"])

	_, err = svc.UpdateSubmissionDetails(ctx, "QMS-402", sub.Version, domain.CalculationInputs{VendorCost: decPtr("1")})
	var conflict domain.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, domain.EntitySubmission, conflict.Entity)
}

func TestAddSubmissionAttachmentValidatesRef(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	createApproved(t, svc, "QMS-403")
	_, err := svc.StartSubmission(ctx, "QMS-403", "clerk")
	require.NoError(t, err)

	_, err = svc.AddSubmissionAttachment(ctx, "QMS-403", domain.AttachmentByID("", "quote.pdf"))
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)

	sub, err := svc.AddSubmissionAttachment(ctx, "QMS-403", domain.InlineAttachment("note.txt", "text/plain", []byte("hi")))
	require.NoError(t, err)
	require.Len(t, sub.SubmissionAttachments, 1)
}

func TestFinalizeRequiresDateAndSubmitter(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	createApproved(t, svc, "QMS-404")
	_, err := svc.StartSubmission(ctx, "QMS-404", "clerk")
	require.NoError(t, err)

	_, err = svc.FinalizeSubmission(ctx, "QMS-404", "clerk")
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "submissionDetails.submissionDate", verr.Field)

	date := clock.Now()
	_, err = svc.SetSubmissionInfo(ctx, "QMS-404", core.SubmissionInfo{Date: &date})
	require.NoError(t, err)
	_, err = svc.FinalizeSubmission(ctx, "QMS-404", "clerk")
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "submissionDetails.submittedBy", verr.Field)

	sub, _ := findSubmission(t, svc, "QMS-404")
	require.Equal(t, domain.SubmissionProcessing, sub.SubmissionStatus)
	require.Empty(t, archiveRecords(t, svc))

	_, err = svc.FinalizeSubmission(ctx, "QMS-missing", "clerk")
	var nf domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestFinalizeWritesArchiveSnapshot(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	createReadyToFinalize(t, svc, clock, "QMS-405")

	archived, err := svc.FinalizeSubmission(ctx, "QMS-405", "clerk")
	require.NoError(t, err)
	require.Regexp(t, archiveIDPattern, archived.ArchiveID)
	require.Equal(t, "QMS-405", archived.ID)
	require.Equal(t, domain.SubmissionSubmitted, archived.SubmissionStatus)
	require.Equal(t, "clerk", archived.ArchivedBy)
	require.Len(t, archived.WorkflowStages, 4)
	require.Equal(t, domain.StageSubmission, archived.WorkflowStages[3].Stage)
	require.Equal(t, "clerk", archived.WorkflowStages[3].CompletedBy)

	sub, _ := findSubmission(t, svc, "QMS-405")
	require.Equal(t, domain.SubmissionSubmitted, sub.SubmissionStatus)
	require.True(t, sub.SubmittedToArchive)
	require.NotNil(t, sub.FinalSubmissionAt)

	_, err = svc.FinalizeSubmission(ctx, "QMS-405", "clerk")
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, archiveRecords(t, svc), 1)

	_, err = svc.StartSubmission(ctx, "QMS-405", "clerk")
	require.ErrorAs(t, err, &verr)
}

func TestFinalizeRetriesArchiveIDCollision(t *testing.T) {
	// four zero bytes map to AAAA, four ones to BBBB
	entropy := bytes.NewReader([]byte{0, 0, 0, 0, 1, 1, 1, 1})
	svc, clock := newTestService(t, core.WithRandom(entropy))
	ctx := context.Background()
	createReadyToFinalize(t, svc, clock, "QMS-406")

	_, err := svc.Store().RunInTransaction(ctx, func(tx domain.Transaction) error {
		taken := domain.ArchiveRecord{ArchiveID: "ARCH-2025-03-14-AAAA"}
		taken.ID = "QMS-other"
		taken.SubmissionStatus = domain.SubmissionSubmitted
		_, err := tx.CreateArchiveRecord(taken)
		return err
	})
	require.NoError(t, err)

	archived, err := svc.FinalizeSubmission(ctx, "QMS-406", "clerk")
	require.NoError(t, err)
	require.Equal(t, "ARCH-2025-03-14-BBBB", archived.ArchiveID)
}

func TestFinalizeArchiveFailureLeavesOrphan(t *testing.T) {
	clock := newTestClock()
	store := &flakyStore{PersistentStore: newMemoryStore(clock), allowed: -1}
	svc := core.NewService(store)
	ctx := context.Background()
	createReadyToFinalize(t, svc, clock, "QMS-407")

	store.allow(1)
	_, err := svc.FinalizeSubmission(ctx, "QMS-407", "clerk")
	var transfer domain.ArchiveTransferError
	require.ErrorAs(t, err, &transfer)
	require.Equal(t, "QMS-407", transfer.ID)
	require.True(t, errors.Is(err, errStoreUnavailable))

	sub, _ := findSubmission(t, svc, "QMS-407")
	require.Equal(t, domain.SubmissionSubmitted, sub.SubmissionStatus, "step one stays committed")
	require.False(t, sub.SubmittedToArchive)

	orphans, err := svc.ListOrphanedSubmissions(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)

	store.allow(-1)
	archived, err := svc.FinalizeSubmission(ctx, "QMS-407", "clerk")
	require.NoError(t, err)
	require.Equal(t, "QMS-407", archived.ID)
	orphans, err = svc.ListOrphanedSubmissions(ctx)
	require.NoError(t, err)
	require.Empty(t, orphans)
}

func TestFinalizeRetryDoesNotArchiveTwice(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	createReadyToFinalize(t, svc, clock, "QMS-408")
	first, err := svc.FinalizeSubmission(ctx, "QMS-408", "clerk")
	require.NoError(t, err)

	// archive written but the transfer flag lost, as in stores migrated
	// from the legacy layout
	_, err = svc.Store().RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateSubmissionRecord("QMS-408", func(r *domain.SubmissionRecord) error {
			r.SubmittedToArchive = false
			r.SubmittedToArchiveAt = nil
			return nil
		})
		return err
	})
	require.NoError(t, err)

	_, err = svc.FinalizeSubmission(ctx, "QMS-408", "clerk")
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "submissionStatus", verr.Field)

	archived := archiveRecords(t, svc)
	require.Len(t, archived, 1)
	require.Equal(t, first.ArchiveID, archived[0].ArchiveID)
	sub, _ := findSubmission(t, svc, "QMS-408")
	require.True(t, sub.SubmittedToArchive, "flag is restored from the existing archive record")
	require.NotNil(t, sub.SubmittedToArchiveAt)
}
