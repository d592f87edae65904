package memory

import (
	"bidflow/pkg/domain"
	"context"
	"errors"
	"testing"
	"time"
)

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindSourcingRecord("missing"); ok {
			t.Fatalf("expected missing sourcing lookup")
		}
		created, err := tx.CreateSourcingRecord(domain.WorkflowRecord{Title: "Pumps"})
		if err != nil {
			return err
		}
		if created.ID == "" {
			t.Fatalf("expected generated ID")
		}
		if created.Version != 1 {
			t.Fatalf("expected version 1, got %d", created.Version)
		}
		if len(tx.Snapshot().ListSourcingRecords()) != 1 {
			t.Fatalf("snapshot mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	snapshot := store.ExportState()
	if len(snapshot.Sourcing) != 1 {
		t.Fatalf("expected persisted record")
	}
	store.ImportState(Snapshot{})
	if len(store.ExportState().Sourcing) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if len(store.ExportState().Sourcing) != 1 {
		t.Fatalf("expected restored state")
	}
	if store.RulesEngine() == nil || store.NowFunc() == nil {
		t.Fatalf("expected engine and clock")
	}
}

func TestStoreRuleViolation(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateSourcingRecord(domain.WorkflowRecord{Base: domain.Base{ID: "QMS-1"}})
		return e
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	if len(store.ExportState().Sourcing) != 0 {
		t.Fatalf("blocked transaction must not commit")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}}, nil
}

func TestUpdateBumpsVersionAndIsolatesCallers(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	store := NewStore(nil, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateSourcingRecord(domain.WorkflowRecord{
			Base:         domain.Base{ID: "QMS-2"},
			SourcingData: domain.SourcingData{Vendors: []domain.VendorQuote{{Name: "Acme"}}},
		})
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var updated domain.WorkflowRecord
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateSourcingRecord("QMS-2", func(r *domain.WorkflowRecord) error {
			r.Title = "changed"
			r.Version = 99
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}
	if !updated.UpdatedAt.Equal(fixed) {
		t.Fatalf("expected clock override to stamp update")
	}

	updated.SourcingData.Vendors[0].Name = "mutated"
	_ = store.View(ctx, func(v domain.TransactionView) error {
		rec, ok := v.FindSourcingRecord("QMS-2")
		if !ok || rec.SourcingData.Vendors[0].Name != "Acme" {
			t.Fatalf("expected stored record isolated from caller mutation, got %+v", rec)
		}
		return nil
	})
}

func TestMutatorErrorAbortsTransaction(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, _ = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateSourcingRecord(domain.WorkflowRecord{Base: domain.Base{ID: "QMS-3"}})
		return err
	})
	boom := errors.New("boom")
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateSourcingRecord("QMS-3", func(r *domain.WorkflowRecord) error {
			r.Title = "never"
			return boom
		})
		return err
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}
	if store.ExportState().Sourcing["QMS-3"].Title != "" {
		t.Fatalf("aborted mutation leaked into state")
	}
}

func TestMissingRecordsReturnNotFound(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateSubmissionRecord("nope", func(*domain.SubmissionRecord) error { return nil })
		return err
	})
	var nf domain.NotFoundError
	if !errors.As(err, &nf) || nf.Entity != domain.EntitySubmission {
		t.Fatalf("expected submission not found, got %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.DeleteArchiveRecord("ARCH-none")
	})
	if !errors.As(err, &nf) {
		t.Fatalf("expected archive not found, got %v", err)
	}
}

func TestCommitHookSeesChangesAndCanAbort(t *testing.T) {
	var seen []domain.Change
	fail := false
	store := NewStore(nil, WithCommitHook(func(_ context.Context, changes []domain.Change) error {
		if fail {
			return errors.New("disk full")
		}
		seen = append(seen, changes...)
		return nil
	}))
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateSourcingRecord(domain.WorkflowRecord{Base: domain.Base{ID: "QMS-4"}}); err != nil {
			return err
		}
		_, err := tx.SetVisibility(domain.VisibilityEntry{RecordID: "QMS-4", Stage: domain.StageApproval, Hidden: true})
		return err
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(seen) != 2 || seen[0].Key != "QMS-4" || seen[1].Key != "approval/QMS-4" {
		t.Fatalf("unexpected changes passed to hook: %+v", seen)
	}

	fail = true
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateSourcingRecord(domain.WorkflowRecord{Base: domain.Base{ID: "QMS-5"}})
		return err
	})
	if err == nil {
		t.Fatalf("expected hook failure")
	}
	if _, ok := store.ExportState().Sourcing["QMS-5"]; ok {
		t.Fatalf("failed hook must not swap state")
	}
}

func TestArchiveAndMaintenanceBuckets(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		rec := domain.ArchiveRecord{ArchiveID: "ARCH-2025-01-01-AAAA"}
		rec.ID = "QMS-6"
		if _, err := tx.CreateArchiveRecord(rec); err != nil {
			return err
		}
		if _, err := tx.CreateArchiveRecord(rec); err == nil {
			t.Fatalf("expected duplicate archive id rejection")
		}
		if _, err := tx.CreateArchiveRecord(domain.ArchiveRecord{}); err == nil {
			t.Fatalf("expected missing archive id rejection")
		}
		_, err := tx.AppendMaintenanceRun(domain.MaintenanceRun{Operation: "dedupe-archive", Affected: 1})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		if len(v.ListArchiveRecords()) != 1 {
			t.Fatalf("expected one archive record")
		}
		runs := v.ListMaintenanceRuns()
		if len(runs) != 1 || runs[0].ID == "" || runs[0].StartedAt.IsZero() {
			t.Fatalf("expected stamped maintenance run, got %+v", runs)
		}
		return nil
	})
}

func TestImportMigratesLegacyHiddenFlags(t *testing.T) {
	store := NewStore(nil)
	rec := domain.WorkflowRecord{HiddenFromApproval: true}
	rec.ID = "QMS-7"
	store.ImportState(Snapshot{Sourcing: map[string]domain.WorkflowRecord{"QMS-7": rec}})

	_ = store.View(context.Background(), func(v domain.TransactionView) error {
		if _, hidden := v.VisibilityOf(domain.StageApproval, "QMS-7").Hidden(); !hidden {
			t.Fatalf("expected approval visibility entry")
		}
		if _, hidden := v.VisibilityOf(domain.StageSourcing, "QMS-7").Hidden(); hidden {
			t.Fatalf("sourcing view must stay visible")
		}
		got, _ := v.FindSourcingRecord("QMS-7")
		if got.HiddenFromApproval {
			t.Fatalf("legacy flag should be cleared after migration")
		}
		return nil
	})
}

func TestFindVisibilityReturnsStoredEntry(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.SetVisibility(domain.VisibilityEntry{RecordID: "QMS-8", Stage: domain.StageSourcing, Hidden: true, HiddenBy: "sam"})
		return err
	})
	if err != nil {
		t.Fatalf("set visibility: %v", err)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		entry, ok := v.FindVisibility(domain.StageSourcing, "QMS-8")
		if !ok || !entry.Hidden || entry.HiddenBy != "sam" {
			t.Fatalf("expected stored entry, got %+v (found=%v)", entry, ok)
		}
		if _, ok := v.FindVisibility(domain.StageApproval, "QMS-8"); ok {
			t.Fatalf("approval stage must have no entry")
		}
		return nil
	})
}
