// Package memory provides an in-memory implementation of the record store
// used for tests, ephemeral environments and as the working set of the
// durable SQL stores.
package memory

import (
	"bidflow/pkg/domain"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// WorkflowRecord aliases domain.WorkflowRecord.
	WorkflowRecord = domain.WorkflowRecord
	// SubmissionRecord aliases domain.SubmissionRecord.
	SubmissionRecord = domain.SubmissionRecord
	// ArchiveRecord aliases domain.ArchiveRecord.
	ArchiveRecord = domain.ArchiveRecord
	// VisibilityEntry aliases domain.VisibilityEntry.
	VisibilityEntry = domain.VisibilityEntry
	// MaintenanceRun aliases domain.MaintenanceRun.
	MaintenanceRun = domain.MaintenanceRun
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// CommitHook persists the changes of a transaction before they become visible.
// Returning an error aborts the commit.
type CommitHook func(ctx context.Context, changes []Change) error

type memoryState struct {
	sourcing    map[string]WorkflowRecord
	submission  map[string]SubmissionRecord
	archive     map[string]ArchiveRecord
	visibility  map[string]VisibilityEntry
	maintenance map[string]MaintenanceRun
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Sourcing    map[string]WorkflowRecord   `json:"sourcing"`
	Submission  map[string]SubmissionRecord `json:"submission"`
	Archive     map[string]ArchiveRecord    `json:"archive"`
	Visibility  map[string]VisibilityEntry  `json:"visibility"`
	Maintenance map[string]MaintenanceRun   `json:"maintenance"`
}

func newMemoryState() memoryState {
	return memoryState{
		sourcing:    make(map[string]WorkflowRecord),
		submission:  make(map[string]SubmissionRecord),
		archive:     make(map[string]ArchiveRecord),
		visibility:  make(map[string]VisibilityEntry),
		maintenance: make(map[string]MaintenanceRun),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	clone := state.clone()
	return Snapshot{
		Sourcing:    clone.sourcing,
		Submission:  clone.submission,
		Archive:     clone.archive,
		Visibility:  clone.visibility,
		Maintenance: clone.maintenance,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	s = migrateSnapshot(s)
	return memoryState{
		sourcing:    s.Sourcing,
		submission:  s.Submission,
		archive:     s.Archive,
		visibility:  s.Visibility,
		maintenance: s.Maintenance,
	}.clone()
}

// migrateSnapshot fills missing buckets and moves legacy hidden flags into
// visibility entries.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Sourcing == nil {
		snapshot.Sourcing = map[string]WorkflowRecord{}
	}
	if snapshot.Submission == nil {
		snapshot.Submission = map[string]SubmissionRecord{}
	}
	if snapshot.Archive == nil {
		snapshot.Archive = map[string]ArchiveRecord{}
	}
	if snapshot.Visibility == nil {
		snapshot.Visibility = map[string]VisibilityEntry{}
	}
	if snapshot.Maintenance == nil {
		snapshot.Maintenance = map[string]MaintenanceRun{}
	}
	for id, rec := range snapshot.Sourcing {
		if !rec.HiddenFromApproval && !rec.HiddenFromSourcing {
			continue
		}
		for stage, hidden := range map[domain.Stage]bool{
			domain.StageApproval: rec.HiddenFromApproval,
			domain.StageSourcing: rec.HiddenFromSourcing,
		} {
			if !hidden {
				continue
			}
			entry := VisibilityEntry{RecordID: id, Stage: stage, Hidden: true, HiddenAt: rec.UpdatedAt}
			if _, exists := snapshot.Visibility[entry.Key()]; !exists {
				snapshot.Visibility[entry.Key()] = entry
			}
		}
		rec.HiddenFromApproval = false
		rec.HiddenFromSourcing = false
		snapshot.Sourcing[id] = rec
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.sourcing {
		cloned.sourcing[k] = cloneWorkflow(v)
	}
	for k, v := range s.submission {
		cloned.submission[k] = cloneSubmission(v)
	}
	for k, v := range s.archive {
		cloned.archive[k] = cloneArchive(v)
	}
	for k, v := range s.visibility {
		cloned.visibility[k] = v
	}
	for k, v := range s.maintenance {
		cloned.maintenance[k] = cloneMaintenance(v)
	}
	return cloned
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneAttachments(refs []domain.AttachmentRef) []domain.AttachmentRef {
	if refs == nil {
		return nil
	}
	out := make([]domain.AttachmentRef, len(refs))
	for i, ref := range refs {
		if ref.Data != nil {
			ref.Data = append([]byte(nil), ref.Data...)
		}
		out[i] = ref
	}
	return out
}

func cloneWorkflow(r WorkflowRecord) WorkflowRecord {
	if r.SourcingData.Vendors != nil {
		vendors := make([]domain.VendorQuote, len(r.SourcingData.Vendors))
		for i, v := range r.SourcingData.Vendors {
			v.Attachments = cloneAttachments(v.Attachments)
			vendors[i] = v
		}
		r.SourcingData.Vendors = vendors
	}
	r.HuntedAt = cloneTime(r.HuntedAt)
	r.SourcingCompletedAt = cloneTime(r.SourcingCompletedAt)
	r.ApprovedAt = cloneTime(r.ApprovedAt)
	r.RejectedAt = cloneTime(r.RejectedAt)
	r.RejectionAcknowledgedAt = cloneTime(r.RejectionAcknowledgedAt)
	r.RevisedAt = cloneTime(r.RevisedAt)
	return r
}

func cloneSubmission(r SubmissionRecord) SubmissionRecord {
	r.WorkflowRecord = cloneWorkflow(r.WorkflowRecord)
	r.SubmissionDetails.SubmissionDate = cloneTime(r.SubmissionDetails.SubmissionDate)
	r.SubmissionAttachments = cloneAttachments(r.SubmissionAttachments)
	r.StartedAt = cloneTime(r.StartedAt)
	r.SubmittedToSubmissionAt = cloneTime(r.SubmittedToSubmissionAt)
	r.FinalSubmissionAt = cloneTime(r.FinalSubmissionAt)
	r.SubmittedToArchiveAt = cloneTime(r.SubmittedToArchiveAt)
	return r
}

func cloneArchive(r ArchiveRecord) ArchiveRecord {
	r.SubmissionRecord = cloneSubmission(r.SubmissionRecord)
	r.ArchivedAt = cloneTime(r.ArchivedAt)
	if r.WorkflowStages != nil {
		stages := make([]domain.WorkflowStage, len(r.WorkflowStages))
		for i, st := range r.WorkflowStages {
			st.CompletedAt = cloneTime(st.CompletedAt)
			stages[i] = st
		}
		r.WorkflowStages = stages
	}
	return r
}

func cloneMaintenance(m MaintenanceRun) MaintenanceRun {
	if m.AffectedIDs != nil {
		m.AffectedIDs = append([]string(nil), m.AffectedIDs...)
	}
	return m
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithCommitHook registers a hook invoked with the transaction changes after
// rules pass and before the new state is swapped in.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.commit = hook }
}

// Store provides an in-memory transactional record store.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	commit CommitHook
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() string { return uuid.NewString() }

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.commit != nil && len(tx.changes) > 0 {
		if err := s.commit(ctx, tx.changes); err != nil {
			return result, err
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// Now returns the timestamp shared by every write in the transaction.
func (tx *transaction) Now() time.Time {
	return tx.now
}

func (tx *transaction) FindSourcingRecord(id string) (WorkflowRecord, bool) {
	return newTransactionView(&tx.state).FindSourcingRecord(id)
}

func (tx *transaction) FindSubmissionRecord(id string) (SubmissionRecord, bool) {
	return newTransactionView(&tx.state).FindSubmissionRecord(id)
}

func (tx *transaction) FindArchiveRecord(archiveID string) (ArchiveRecord, bool) {
	return newTransactionView(&tx.state).FindArchiveRecord(archiveID)
}

// CreateSourcingRecord stores a new sourcing record within the transaction.
func (tx *transaction) CreateSourcingRecord(r WorkflowRecord) (WorkflowRecord, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.sourcing[r.ID]; exists {
		return WorkflowRecord{}, fmt.Errorf("sourcing record %q already exists", r.ID)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = tx.now
	}
	r.UpdatedAt = tx.now
	r.Version = 1
	tx.state.sourcing[r.ID] = cloneWorkflow(r)
	tx.recordChange(Change{Entity: domain.EntitySourcing, Action: domain.ActionCreate, Key: r.ID, After: cloneWorkflow(r)})
	return cloneWorkflow(r), nil
}

// UpdateSourcingRecord mutates a sourcing record and bumps its version.
func (tx *transaction) UpdateSourcingRecord(id string, mutator func(*WorkflowRecord) error) (WorkflowRecord, error) {
	current, ok := tx.state.sourcing[id]
	if !ok {
		return WorkflowRecord{}, domain.NotFoundError{Entity: domain.EntitySourcing, ID: id}
	}
	before := cloneWorkflow(current)
	if err := mutator(&current); err != nil {
		return WorkflowRecord{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.Version = before.Version + 1
	current.UpdatedAt = tx.now
	tx.state.sourcing[id] = cloneWorkflow(current)
	tx.recordChange(Change{Entity: domain.EntitySourcing, Action: domain.ActionUpdate, Key: id, Before: before, After: cloneWorkflow(current)})
	return cloneWorkflow(current), nil
}

// CreateSubmissionRecord stores a new submission record keyed by business key.
func (tx *transaction) CreateSubmissionRecord(r SubmissionRecord) (SubmissionRecord, error) {
	if r.ID == "" {
		return SubmissionRecord{}, domain.ValidationError{Field: "id", Message: "submission record requires a business key"}
	}
	if _, exists := tx.state.submission[r.ID]; exists {
		return SubmissionRecord{}, fmt.Errorf("submission record %q already exists", r.ID)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = tx.now
	}
	r.UpdatedAt = tx.now
	r.Version = 1
	tx.state.submission[r.ID] = cloneSubmission(r)
	tx.recordChange(Change{Entity: domain.EntitySubmission, Action: domain.ActionCreate, Key: r.ID, After: cloneSubmission(r)})
	return cloneSubmission(r), nil
}

// UpdateSubmissionRecord mutates a submission record and bumps its version.
func (tx *transaction) UpdateSubmissionRecord(id string, mutator func(*SubmissionRecord) error) (SubmissionRecord, error) {
	current, ok := tx.state.submission[id]
	if !ok {
		return SubmissionRecord{}, domain.NotFoundError{Entity: domain.EntitySubmission, ID: id}
	}
	before := cloneSubmission(current)
	if err := mutator(&current); err != nil {
		return SubmissionRecord{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.Version = before.Version + 1
	current.UpdatedAt = tx.now
	tx.state.submission[id] = cloneSubmission(current)
	tx.recordChange(Change{Entity: domain.EntitySubmission, Action: domain.ActionUpdate, Key: id, Before: before, After: cloneSubmission(current)})
	return cloneSubmission(current), nil
}

// CreateArchiveRecord stores an archive snapshot keyed by archive ID.
func (tx *transaction) CreateArchiveRecord(r ArchiveRecord) (ArchiveRecord, error) {
	if r.ArchiveID == "" {
		return ArchiveRecord{}, domain.ValidationError{Field: "archiveId", Message: "archive record requires an archive id"}
	}
	if _, exists := tx.state.archive[r.ArchiveID]; exists {
		return ArchiveRecord{}, fmt.Errorf("archive record %q already exists", r.ArchiveID)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = tx.now
	}
	r.UpdatedAt = tx.now
	if r.Version == 0 {
		r.Version = 1
	}
	tx.state.archive[r.ArchiveID] = cloneArchive(r)
	tx.recordChange(Change{Entity: domain.EntityArchive, Action: domain.ActionCreate, Key: r.ArchiveID, After: cloneArchive(r)})
	return cloneArchive(r), nil
}

// DeleteArchiveRecord removes an archive snapshot.
func (tx *transaction) DeleteArchiveRecord(archiveID string) error {
	current, ok := tx.state.archive[archiveID]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityArchive, ID: archiveID}
	}
	delete(tx.state.archive, archiveID)
	tx.recordChange(Change{Entity: domain.EntityArchive, Action: domain.ActionDelete, Key: archiveID, Before: cloneArchive(current)})
	return nil
}

// SetVisibility upserts the visibility entry of a (stage, record) pair.
func (tx *transaction) SetVisibility(entry VisibilityEntry) (VisibilityEntry, error) {
	if entry.RecordID == "" || entry.Stage == "" {
		return VisibilityEntry{}, domain.ValidationError{Field: "visibility", Message: "record id and stage are required"}
	}
	if entry.HiddenAt.IsZero() {
		entry.HiddenAt = tx.now
	}
	key := entry.Key()
	change := Change{Entity: domain.EntityVisibility, Action: domain.ActionCreate, Key: key, After: entry}
	if before, ok := tx.state.visibility[key]; ok {
		change.Action = domain.ActionUpdate
		change.Before = before
	}
	tx.state.visibility[key] = entry
	tx.recordChange(change)
	return entry, nil
}

// AppendMaintenanceRun records a maintenance audit entry.
func (tx *transaction) AppendMaintenanceRun(run MaintenanceRun) (MaintenanceRun, error) {
	if run.ID == "" {
		run.ID = tx.store.newID()
	}
	if _, exists := tx.state.maintenance[run.ID]; exists {
		return MaintenanceRun{}, fmt.Errorf("maintenance run %q already exists", run.ID)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = tx.now
	}
	tx.state.maintenance[run.ID] = cloneMaintenance(run)
	tx.recordChange(Change{Entity: domain.EntityMaintenance, Action: domain.ActionCreate, Key: run.ID, After: cloneMaintenance(run)})
	return cloneMaintenance(run), nil
}

// VisibilityOf resolves the visibility of a record within a stage.
func (v transactionView) VisibilityOf(stage domain.Stage, id string) domain.Visibility {
	entry, ok := v.state.visibility[domain.VisibilityKey(stage, id)]
	if !ok {
		return domain.Visible()
	}
	return entry.Visibility()
}

// FindVisibility returns the stored entry of a (stage, record) pair.
func (v transactionView) FindVisibility(stage domain.Stage, id string) (VisibilityEntry, bool) {
	entry, ok := v.state.visibility[domain.VisibilityKey(stage, id)]
	return entry, ok
}

// ListSourcingRecords returns sourcing records ordered by creation time.
func (v transactionView) ListSourcingRecords() []WorkflowRecord {
	out := make([]WorkflowRecord, 0, len(v.state.sourcing))
	for _, r := range v.state.sourcing {
		out = append(out, cloneWorkflow(r))
	}
	sort.Slice(out, func(i, j int) bool { return lessByCreation(out[i].Base, out[j].Base) })
	return out
}

// ListSubmissionRecords returns submission records ordered by creation time.
func (v transactionView) ListSubmissionRecords() []SubmissionRecord {
	out := make([]SubmissionRecord, 0, len(v.state.submission))
	for _, r := range v.state.submission {
		out = append(out, cloneSubmission(r))
	}
	sort.Slice(out, func(i, j int) bool { return lessByCreation(out[i].Base, out[j].Base) })
	return out
}

// ListArchiveRecords returns every stored archive snapshot, duplicates included.
func (v transactionView) ListArchiveRecords() []ArchiveRecord {
	out := make([]ArchiveRecord, 0, len(v.state.archive))
	for _, r := range v.state.archive {
		out = append(out, cloneArchive(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArchiveID < out[j].ArchiveID })
	return out
}

// ListVisibility returns all visibility entries ordered by key.
func (v transactionView) ListVisibility() []VisibilityEntry {
	out := make([]VisibilityEntry, 0, len(v.state.visibility))
	for _, e := range v.state.visibility {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// ListMaintenanceRuns returns maintenance runs oldest first.
func (v transactionView) ListMaintenanceRuns() []MaintenanceRun {
	out := make([]MaintenanceRun, 0, len(v.state.maintenance))
	for _, m := range v.state.maintenance {
		out = append(out, cloneMaintenance(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// FindSourcingRecord retrieves a sourcing record by business key.
func (v transactionView) FindSourcingRecord(id string) (WorkflowRecord, bool) {
	r, ok := v.state.sourcing[id]
	if !ok {
		return WorkflowRecord{}, false
	}
	return cloneWorkflow(r), true
}

// FindSubmissionRecord retrieves a submission record by business key.
func (v transactionView) FindSubmissionRecord(id string) (SubmissionRecord, bool) {
	r, ok := v.state.submission[id]
	if !ok {
		return SubmissionRecord{}, false
	}
	return cloneSubmission(r), true
}

// FindArchiveRecord retrieves an archive snapshot by archive ID.
func (v transactionView) FindArchiveRecord(archiveID string) (ArchiveRecord, bool) {
	r, ok := v.state.archive[archiveID]
	if !ok {
		return ArchiveRecord{}, false
	}
	return cloneArchive(r), true
}

func lessByCreation(a, b domain.Base) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
