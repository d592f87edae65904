package domain

import (
	"context"
	"time"
)

// Transaction exposes the record operations a persistence implementation
// must support within an atomic scope. Update mutators run against a copy;
// returning an error from a mutator aborts the transaction.
type Transaction interface {
	Snapshot() TransactionView
	Now() time.Time
	CreateSourcingRecord(WorkflowRecord) (WorkflowRecord, error)
	UpdateSourcingRecord(id string, mutator func(*WorkflowRecord) error) (WorkflowRecord, error)
	CreateSubmissionRecord(SubmissionRecord) (SubmissionRecord, error)
	UpdateSubmissionRecord(id string, mutator func(*SubmissionRecord) error) (SubmissionRecord, error)
	CreateArchiveRecord(ArchiveRecord) (ArchiveRecord, error)
	DeleteArchiveRecord(archiveID string) error
	SetVisibility(VisibilityEntry) (VisibilityEntry, error)
	AppendMaintenanceRun(MaintenanceRun) (MaintenanceRun, error)
	FindSourcingRecord(id string) (WorkflowRecord, bool)
	FindSubmissionRecord(id string) (SubmissionRecord, bool)
	FindArchiveRecord(archiveID string) (ArchiveRecord, bool)
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	VisibilityLookup
	ListSourcingRecords() []WorkflowRecord
	ListSubmissionRecords() []SubmissionRecord
	ListArchiveRecords() []ArchiveRecord
	ListVisibility() []VisibilityEntry
	FindVisibility(stage Stage, id string) (VisibilityEntry, bool)
	ListMaintenanceRuns() []MaintenanceRun
	FindSourcingRecord(id string) (WorkflowRecord, bool)
	FindSubmissionRecord(id string) (SubmissionRecord, bool)
	FindArchiveRecord(archiveID string) (ArchiveRecord, bool)
}

// PersistentStore is the abstraction over record store backends used by the
// service layer.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
