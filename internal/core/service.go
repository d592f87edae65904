// Package core implements the bid workflow service: approval decisions,
// per-stage visibility, projection into submission, the submission
// calculation, finalize-to-archive and archive maintenance.
package core

import (
	"context"
	"crypto/rand"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bidflow/internal/config"
	"bidflow/internal/infra/persistence/memory"
	"bidflow/internal/logging"
	"bidflow/pkg/domain"
)

// DefaultMaxReasonLength bounds rejection reasons.
const DefaultMaxReasonLength = 500

// maintenanceActor signs maintenance triggered by the service itself.
const maintenanceActor = "system"

// Service exposes the transactional workflow operations.
type Service struct {
	store   domain.PersistentStore
	now     func() time.Time
	logger  *zap.Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	random  io.Reader

	maxReasonLength int
	profitPercent   decimal.Decimal
	dedupeOnLoad    bool
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	clock           Clock
	logger          *zap.Logger
	metrics         MetricsRecorder
	tracer          Tracer
	audit           AuditRecorder
	random          io.Reader
	maxReasonLength int
	profitPercent   *decimal.Decimal
	dedupeOnLoad    bool
}

// WithClock overrides the clock used when the store does not provide one.
func WithClock(c Clock) Option {
	return func(o *serviceOptions) { o.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *serviceOptions) { o.logger = l }
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(o *serviceOptions) { o.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option {
	return func(o *serviceOptions) { o.tracer = t }
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(a AuditRecorder) Option {
	return func(o *serviceOptions) { o.audit = a }
}

// WithRandom sets the entropy source for archive ID suffixes.
func WithRandom(r io.Reader) Option {
	return func(o *serviceOptions) { o.random = r }
}

// WithMaxReasonLength bounds rejection reasons (in characters).
func WithMaxReasonLength(n int) Option {
	return func(o *serviceOptions) { o.maxReasonLength = n }
}

// WithDefaultProfitPercent sets the profit percent seeded into new
// submission calculations.
func WithDefaultProfitPercent(p decimal.Decimal) Option {
	return func(o *serviceOptions) { o.profitPercent = &p }
}

// WithDedupeOnLoad makes LoadArchive run the deduplication maintenance
// whenever it finds duplicates.
func WithDedupeOnLoad(enabled bool) Option {
	return func(o *serviceOptions) { o.dedupeOnLoad = enabled }
}

// WithConfig applies the workflow and archive sections of cfg.
func WithConfig(cfg config.Config) Option {
	return func(o *serviceOptions) {
		o.maxReasonLength = cfg.Workflow.MaxReasonLength
		if p, err := cfg.Workflow.ProfitPercent(); err == nil {
			o.profitPercent = &p
		}
		o.dedupeOnLoad = cfg.Archive.DedupeOnLoad
	}
}

// NewService constructs a service backed by store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}
	svc := &Service{
		store:           store,
		now:             selectNowFunc(store, o.clock),
		logger:          o.logger,
		metrics:         o.metrics,
		tracer:          o.tracer,
		audit:           o.audit,
		random:          o.random,
		maxReasonLength: o.maxReasonLength,
		profitPercent:   domain.DefaultProfitPercent,
		dedupeOnLoad:    o.dedupeOnLoad,
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	if svc.metrics == nil {
		svc.metrics = noopMetrics{}
	}
	if svc.tracer == nil {
		svc.tracer = noopTracer{}
	}
	if svc.audit == nil {
		svc.audit = noopAudit{}
	}
	if svc.random == nil {
		svc.random = rand.Reader
	}
	if svc.maxReasonLength <= 0 {
		svc.maxReasonLength = DefaultMaxReasonLength
	}
	if o.profitPercent != nil {
		svc.profitPercent = *o.profitPercent
	}
	return svc
}

// NewInMemoryService creates a service over a fresh in-memory store. A nil
// engine installs the default workflow rules.
func NewInMemoryService(engine *domain.RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying record store.
func (s *Service) Store() domain.PersistentStore { return s.store }

type nowFuncProvider interface {
	NowFunc() func() time.Time
}

// selectNowFunc prefers the store's clock so service and transaction
// timestamps agree, then the configured clock, then wall time.
func selectNowFunc(store domain.PersistentStore, clock Clock) func() time.Time {
	if provider, ok := store.(nowFuncProvider); ok {
		if fn := provider.NowFunc(); fn != nil {
			return func() time.Time { return fn().UTC() }
		}
	}
	if clock != nil {
		return clock.Now
	}
	return ClockFunc(nil).Now
}

// run wraps an operation with tracing, metrics, audit and logging.
func (s *Service) run(ctx context.Context, op, entityID string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	started := time.Now()
	err := fn(ctx)
	duration := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	s.recordAudit(ctx, op, entityID, duration, err)

	logger := logging.FromContext(ctx, s.logger).With(zap.String("operation", op))
	if entityID != "" {
		logger = logger.With(zap.String("qmsId", entityID))
	}
	if err != nil {
		logger.Warn("workflow operation failed", zap.Duration("duration", duration), zap.Error(err))
	} else if _, mutating := auditedOperations[op]; mutating {
		logger.Info("workflow operation", zap.Duration("duration", duration))
	}
	return err
}

func (s *Service) recordAudit(ctx context.Context, op, entityID string, duration time.Duration, err error) {
	meta, ok := auditedOperations[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Actor:     logging.ActorFrom(ctx),
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return domain.ValidationError{Field: "actor", Message: "actor is required"}
	}
	return nil
}

func timePtr(t time.Time) *time.Time { return &t }
