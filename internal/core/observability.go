package core

import (
	"context"
	"time"

	"bidflow/pkg/domain"
)

// Clock supplies timestamps to the service.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function into a Clock. A nil ClockFunc reports the
// current UTC time.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

// MetricsRecorder observes the outcome and latency of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation error, if any.
type TraceSpan interface {
	End(err error)
}

// AuditStatus is the outcome of an audited operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one mutating service call.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    domain.Action
	EntityID  string
	Actor     string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type noopAudit struct{}

func (noopAudit) Record(context.Context, AuditEntry) {}

type operationMeta struct {
	entity domain.EntityType
	action domain.Action
}

// auditedOperations lists the mutating operations and the entity they touch.
// Reads are traced and measured but not audited.
var auditedOperations = map[string]operationMeta{
	opCreateSourcing:     {domain.EntitySourcing, domain.ActionCreate},
	opImportLegacy:       {domain.EntitySourcing, domain.ActionCreate},
	opCompleteSourcing:   {domain.EntitySourcing, domain.ActionUpdate},
	opApprove:            {domain.EntitySourcing, domain.ActionUpdate},
	opReject:             {domain.EntitySourcing, domain.ActionUpdate},
	opAcknowledge:        {domain.EntitySourcing, domain.ActionUpdate},
	opRevise:             {domain.EntitySourcing, domain.ActionUpdate},
	opHide:               {domain.EntityVisibility, domain.ActionUpdate},
	opProject:            {domain.EntitySubmission, domain.ActionUpdate},
	opStartSubmission:    {domain.EntitySubmission, domain.ActionUpdate},
	opUpdateDetails:      {domain.EntitySubmission, domain.ActionUpdate},
	opSetSubmissionInfo:  {domain.EntitySubmission, domain.ActionUpdate},
	opAddAttachment:      {domain.EntitySubmission, domain.ActionUpdate},
	opFinalize:           {domain.EntityArchive, domain.ActionCreate},
	opDeduplicateArchive: {domain.EntityArchive, domain.ActionDelete},
	opReconcileOrphans:   {domain.EntityArchive, domain.ActionCreate},
}

const (
	opCreateSourcing     = "create_sourcing_record"
	opImportLegacy       = "import_legacy_collections"
	opCompleteSourcing   = "complete_sourcing"
	opApprove            = "approve_record"
	opReject             = "reject_record"
	opAcknowledge        = "acknowledge_rejection"
	opRevise             = "revise_record"
	opHide               = "hide_from_stage"
	opProject            = "project_to_submission"
	opStartSubmission    = "start_submission"
	opUpdateDetails      = "update_submission_details"
	opSetSubmissionInfo  = "set_submission_info"
	opAddAttachment      = "add_submission_attachment"
	opFinalize           = "finalize_submission"
	opLoadArchive        = "load_archive"
	opDeduplicateArchive = "deduplicate_archive"
	opListOrphans        = "list_orphaned_submissions"
	opReconcileOrphans   = "reconcile_orphans"
	opSourcingView       = "sourcing_view"
	opApprovalView       = "approval_view"
	opSubmissionView     = "submission_view"
)
