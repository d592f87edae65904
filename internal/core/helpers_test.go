package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bidflow/internal/core"
	"bidflow/pkg/domain"

	memory "bidflow/internal/infra/persistence/memory"
)

// testClock is a settable clock shared by the store and the service.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newMemoryStore(clock *testClock) *memory.Store {
	return memory.NewStore(core.NewDefaultRulesEngine(), memory.WithClock(clock.Now))
}

func newTestService(t *testing.T, opts ...core.Option) (*core.Service, *testClock) {
	t.Helper()
	clock := newTestClock()
	return core.NewService(newMemoryStore(clock), opts...), clock
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func sampleVendors() []domain.VendorQuote {
	return []domain.VendorQuote{
		{
			Name:    "Backup Supply",
			Pricing: domain.Pricing{Subtotal: dec("1500"), GrandTotal: dec("1600")},
		},
		{
			Name:              "Acme Industrial",
			IsPrimary:         true,
			EstimatedShipping: dec("50"),
			CardChargePercent: dec("3"),
			Pricing:           domain.Pricing{Subtotal: dec("1000"), Tax: dec("20"), GrandTotal: dec("1070")},
		},
	}
}

// createSourced enters a record and completes its sourcing so it awaits
// approval.
func createSourced(t *testing.T, svc *core.Service, id string) domain.WorkflowRecord {
	t.Helper()
	ctx := context.Background()
	rec := domain.WorkflowRecord{
		Base:         domain.Base{ID: id},
		Title:        "Hydraulic pumps",
		Customer:     "City Water",
		AssignedTo:   "sam",
		SourcingData: domain.SourcingData{Vendors: sampleVendors()},
	}
	if _, err := svc.CreateSourcingRecord(ctx, rec, "hunter"); err != nil {
		t.Fatalf("create sourcing record: %v", err)
	}
	completed, err := svc.CompleteSourcing(ctx, id, "sourcer")
	if err != nil {
		t.Fatalf("complete sourcing: %v", err)
	}
	return completed
}

func createApproved(t *testing.T, svc *core.Service, id string) domain.WorkflowRecord {
	t.Helper()
	createSourced(t, svc, id)
	approved, err := svc.ApproveRecord(context.Background(), id, "manager", "within budget")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	return approved
}

// createReadyToFinalize approves, starts and fills in submission info.
func createReadyToFinalize(t *testing.T, svc *core.Service, clock *testClock, id string) domain.SubmissionRecord {
	t.Helper()
	ctx := context.Background()
	createApproved(t, svc, id)
	if _, err := svc.StartSubmission(ctx, id, "clerk"); err != nil {
		t.Fatalf("start submission: %v", err)
	}
	date := clock.Now()
	sub, err := svc.SetSubmissionInfo(ctx, id, core.SubmissionInfo{Date: &date, SubmittedBy: "clerk", PortalReference: "PORTAL-9"})
	if err != nil {
		t.Fatalf("set submission info: %v", err)
	}
	return sub
}

func findSubmission(t *testing.T, svc *core.Service, id string) (domain.SubmissionRecord, bool) {
	t.Helper()
	var (
		rec domain.SubmissionRecord
		ok  bool
	)
	if err := svc.Store().View(context.Background(), func(v domain.TransactionView) error {
		rec, ok = v.FindSubmissionRecord(id)
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	return rec, ok
}

func findSourcing(t *testing.T, svc *core.Service, id string) domain.WorkflowRecord {
	t.Helper()
	var rec domain.WorkflowRecord
	if err := svc.Store().View(context.Background(), func(v domain.TransactionView) error {
		var ok bool
		rec, ok = v.FindSourcingRecord(id)
		if !ok {
			t.Fatalf("sourcing record %s missing", id)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	return rec
}

func archiveRecords(t *testing.T, svc *core.Service) []domain.ArchiveRecord {
	t.Helper()
	var out []domain.ArchiveRecord
	_ = svc.Store().View(context.Background(), func(v domain.TransactionView) error {
		out = v.ListArchiveRecords()
		return nil
	})
	return out
}

func maintenanceRuns(t *testing.T, svc *core.Service) []domain.MaintenanceRun {
	t.Helper()
	var out []domain.MaintenanceRun
	_ = svc.Store().View(context.Background(), func(v domain.TransactionView) error {
		out = v.ListMaintenanceRuns()
		return nil
	})
	return out
}

// flakyStore fails RunInTransaction once the allowed number of calls is used
// up. A negative allowance never fails.
type flakyStore struct {
	domain.PersistentStore
	mu      sync.Mutex
	allowed int
}

var errStoreUnavailable = errors.New("store unavailable")

func (s *flakyStore) allow(n int) {
	s.mu.Lock()
	s.allowed = n
	s.mu.Unlock()
}

func (s *flakyStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	if s.allowed == 0 {
		s.mu.Unlock()
		return domain.Result{}, errStoreUnavailable
	}
	if s.allowed > 0 {
		s.allowed--
	}
	s.mu.Unlock()
	return s.PersistentStore.RunInTransaction(ctx, fn)
}
