// Package sqlstore persists the record store to a SQL database one row per
// record, reusing the in-memory implementation as the transactional working
// set. Versioned rows are written with a compare-and-swap on their version.
package sqlstore

import (
	"bidflow/internal/infra/persistence/memory"
	"bidflow/pkg/domain"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// TableName is the table holding every persisted record.
const TableName = "workflow_records"

// Dialect captures the SQL differences between supported databases.
type Dialect struct {
	Name        string
	PayloadType string
	// Numbered placeholders ($1, $2, ...) instead of ?.
	Numbered bool
}

var (
	// SQLite is the dialect of modernc.org/sqlite.
	SQLite = Dialect{Name: "sqlite", PayloadType: "BLOB"}
	// Postgres is the dialect of the pgx stdlib driver.
	Postgres = Dialect{Name: "postgres", PayloadType: "JSONB", Numbered: true}
)

// Rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type settings struct {
	logger *zap.Logger
	memOpt []memory.Option
}

// Option configures a Store.
type Option func(*settings)

// WithLogger sets the logger used for recovered load failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source of the working set.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.memOpt = append(s.memOpt, memory.WithClock(now)) }
}

// Store persists changed rows inside the commit of every transaction.
type Store struct {
	*memory.Store
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
	mu      sync.Mutex
}

// Open ensures the records table exists and hydrates the working set from it.
func Open(ctx context.Context, db *sql.DB, dialect Dialect, engine *domain.RulesEngine, opts ...Option) (*Store, error) {
	cfg := settings{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Store{db: db, dialect: dialect, logger: cfg.logger.With(zap.String("dialect", dialect.Name))}
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	memOpts := append(cfg.memOpt, memory.WithCommitHook(s.persist))
	s.Store = memory.NewStore(engine, memOpts...)
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		bucket TEXT NOT NULL,
		record_key TEXT NOT NULL,
		version BIGINT NOT NULL DEFAULT 0,
		payload %s NOT NULL,
		PRIMARY KEY (bucket, record_key)
	)`, TableName, s.dialect.PayloadType)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return domain.StorageError{Op: "ensure table", Err: err}
	}
	return nil
}

// Reload replaces the working set with the rows currently stored. Rows that
// fail to decode are skipped and logged.
func (s *Store) Reload(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT bucket, record_key, payload FROM %s`, TableName))
	if err != nil {
		return domain.StorageError{Op: "select records", Err: err}
	}
	defer func() { _ = rows.Close() }()

	snapshot := memory.Snapshot{
		Sourcing:    map[string]domain.WorkflowRecord{},
		Submission:  map[string]domain.SubmissionRecord{},
		Archive:     map[string]domain.ArchiveRecord{},
		Visibility:  map[string]domain.VisibilityEntry{},
		Maintenance: map[string]domain.MaintenanceRun{},
	}
	for rows.Next() {
		var bucket, key string
		var payload []byte
		if err := rows.Scan(&bucket, &key, &payload); err != nil {
			return domain.StorageError{Op: "scan record", Err: err}
		}
		if err := decodeInto(&snapshot, domain.EntityType(bucket), key, payload); err != nil {
			s.logger.Warn("skipping undecodable record",
				zap.String("bucket", bucket), zap.String("key", key), zap.Error(err))
		}
	}
	if err := rows.Err(); err != nil {
		return domain.StorageError{Op: "iterate records", Err: err}
	}
	s.ImportState(snapshot)
	return nil
}

func decodeInto(snapshot *memory.Snapshot, bucket domain.EntityType, key string, payload []byte) error {
	switch bucket {
	case domain.EntitySourcing:
		var rec domain.WorkflowRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return err
		}
		snapshot.Sourcing[key] = rec
	case domain.EntitySubmission:
		var rec domain.SubmissionRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return err
		}
		snapshot.Submission[key] = rec
	case domain.EntityArchive:
		var rec domain.ArchiveRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return err
		}
		snapshot.Archive[key] = rec
	case domain.EntityVisibility:
		var entry domain.VisibilityEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return err
		}
		snapshot.Visibility[key] = entry
	case domain.EntityMaintenance:
		var run domain.MaintenanceRun
		if err := json.Unmarshal(payload, &run); err != nil {
			return err
		}
		snapshot.Maintenance[key] = run
	default:
		return fmt.Errorf("unknown bucket %q", bucket)
	}
	return nil
}

func versionOf(v any) (int64, bool) {
	switch rec := v.(type) {
	case domain.WorkflowRecord:
		return rec.Version, true
	case domain.SubmissionRecord:
		return rec.Version, true
	case domain.ArchiveRecord:
		return rec.Version, true
	default:
		return 0, false
	}
}

func (s *Store) persist(ctx context.Context, changes []domain.Change) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageError{Op: "begin", Err: err}
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, change := range changes {
		if err := s.apply(ctx, tx, change); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.StorageError{Op: "commit", Err: err}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, tx *sql.Tx, change domain.Change) error {
	bucket := string(change.Entity)
	switch change.Action {
	case domain.ActionDelete:
		q := s.dialect.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE bucket = ? AND record_key = ?`, TableName))
		if _, err := tx.ExecContext(ctx, q, bucket, change.Key); err != nil {
			return domain.StorageError{Op: "delete " + bucket, Err: err}
		}
		return nil
	case domain.ActionCreate, domain.ActionUpdate:
	default:
		return domain.StorageError{Op: "persist", Err: fmt.Errorf("unsupported action %q", change.Action)}
	}

	payload, err := json.Marshal(change.After)
	if err != nil {
		return domain.StorageError{Op: "encode " + bucket, Err: err}
	}
	version, versioned := versionOf(change.After)
	if !versioned {
		q := s.dialect.Rebind(fmt.Sprintf(`INSERT INTO %s(bucket, record_key, version, payload) VALUES(?, ?, 0, ?)
			ON CONFLICT(bucket, record_key) DO UPDATE SET payload = excluded.payload`, TableName))
		if _, err := tx.ExecContext(ctx, q, bucket, change.Key, payload); err != nil {
			return domain.StorageError{Op: "upsert " + bucket, Err: err}
		}
		return nil
	}

	if change.Action == domain.ActionCreate {
		q := s.dialect.Rebind(fmt.Sprintf(`INSERT INTO %s(bucket, record_key, version, payload) VALUES(?, ?, ?, ?)`, TableName))
		if _, err := tx.ExecContext(ctx, q, bucket, change.Key, version, payload); err != nil {
			return domain.StorageError{Op: "insert " + bucket, Err: err}
		}
		return nil
	}

	expected, _ := versionOf(change.Before)
	q := s.dialect.Rebind(fmt.Sprintf(`UPDATE %s SET version = ?, payload = ? WHERE bucket = ? AND record_key = ? AND version = ?`, TableName))
	res, err := tx.ExecContext(ctx, q, version, payload, bucket, change.Key, expected)
	if err != nil {
		return domain.StorageError{Op: "update " + bucket, Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.StorageError{Op: "update " + bucket, Err: err}
	}
	if affected == 0 {
		return domain.VersionConflictError{
			Entity:   change.Entity,
			ID:       change.Key,
			Expected: expected,
			Actual:   s.currentVersion(ctx, tx, bucket, change.Key),
		}
	}
	return nil
}

// currentVersion reports the stored version of a row, or -1 if it is absent.
func (s *Store) currentVersion(ctx context.Context, tx *sql.Tx, bucket, key string) int64 {
	q := s.dialect.Rebind(fmt.Sprintf(`SELECT version FROM %s WHERE bucket = ? AND record_key = ?`, TableName))
	var actual int64
	if err := tx.QueryRowContext(ctx, q, bucket, key).Scan(&actual); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("lookup conflicting version", zap.String("bucket", bucket), zap.String("key", key), zap.Error(err))
		}
		return -1
	}
	return actual
}
