// Package domain defines the workflow records, value types, rule evaluation
// primitives and persistence contracts shared by every bidflow layer.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the collection a record belongs to.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntitySourcing identifies a record of the sourcing collection.
	EntitySourcing EntityType = "sourcing"
	// EntitySubmission identifies a record of the submission collection.
	EntitySubmission EntityType = "submission"
	// EntityArchive identifies an immutable archive snapshot.
	EntityArchive EntityType = "archive"
	// EntityVisibility identifies a per-stage visibility entry.
	EntityVisibility EntityType = "visibility"
	// EntityMaintenance identifies a maintenance run audit record.
	EntityMaintenance EntityType = "maintenance"
	EntityAttachment  EntityType = "attachment"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains the bookkeeping fields shared by versioned records.
type Base struct {
	ID        string    `json:"id"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Pricing is the price breakdown quoted by a vendor.
type Pricing struct {
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	Freight         decimal.Decimal `json:"freight"`
	Discount        decimal.Decimal `json:"discount"`
	GrandTotal      decimal.Decimal `json:"grandTotal"`
	FinalGrandTotal decimal.Decimal `json:"finalGrandTotal"`
}

// VendorQuote is a single vendor offer collected during sourcing.
type VendorQuote struct {
	Name              string          `json:"name"`
	Website           string          `json:"website,omitempty"`
	ContactEmail      string          `json:"contactEmail,omitempty"`
	Terms             string          `json:"terms,omitempty"`
	RiskRating        string          `json:"riskRating,omitempty"`
	LeadTime          string          `json:"leadTime,omitempty"`
	EstimatedShipping decimal.Decimal `json:"estimatedShipping"`
	CardChargePercent decimal.Decimal `json:"cardChargePercent"`
	IsPrimary         bool            `json:"isPrimary"`
	Attachments       []AttachmentRef `json:"attachments,omitempty"`
	Pricing           Pricing         `json:"pricing"`
}

// TotalValue reports the vendor's representative total: finalGrandTotal,
// then grandTotal, then zero. A zero amount counts as absent.
func (v VendorQuote) TotalValue() decimal.Decimal {
	if !v.Pricing.FinalGrandTotal.IsZero() {
		return v.Pricing.FinalGrandTotal
	}
	if !v.Pricing.GrandTotal.IsZero() {
		return v.Pricing.GrandTotal
	}
	return decimal.Zero
}

// SourcingData holds the vendor quotes gathered for a bid.
type SourcingData struct {
	Vendors []VendorQuote `json:"vendors"`
	Notes   string        `json:"notes,omitempty"`
}

// PrimaryVendor returns the vendor flagged primary, falling back to the first
// vendor. ok is false when no vendors exist.
func (d SourcingData) PrimaryVendor() (VendorQuote, bool) {
	if len(d.Vendors) == 0 {
		return VendorQuote{}, false
	}
	for _, v := range d.Vendors {
		if v.IsPrimary {
			return v, true
		}
	}
	return d.Vendors[0], true
}

// TotalValue sums the total value of every vendor quote.
func (d SourcingData) TotalValue() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range d.Vendors {
		sum = sum.Add(v.TotalValue())
	}
	return sum
}

// WorkflowRecord is a bid as held by the sourcing collection. ID is the
// business key (QMS ID) shared by every stage.
type WorkflowRecord struct {
	Base
	Title        string       `json:"title,omitempty"`
	Customer     string       `json:"customer,omitempty"`
	AssignedTo   string       `json:"assignedTo,omitempty"`
	HuntedBy     string       `json:"huntedBy,omitempty"`
	HuntedAt     *time.Time   `json:"huntedAt,omitempty"`
	Status       Status       `json:"status,omitempty"`
	SourcingData SourcingData `json:"sourcingData"`

	SourcingCompleted   bool       `json:"sourcingCompleted"`
	SourcingCompletedBy string     `json:"sourcingCompletedBy,omitempty"`
	SourcingCompletedAt *time.Time `json:"sourcingCompletedAt,omitempty"`

	ApprovedBy      string     `json:"approvedBy,omitempty"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	ApprovalRemarks string     `json:"approvalRemarks,omitempty"`

	RejectedBy              string     `json:"rejectedBy,omitempty"`
	RejectedAt              *time.Time `json:"rejectedAt,omitempty"`
	RejectionReason         string     `json:"rejectionReason,omitempty"`
	RejectionAcknowledged   bool       `json:"rejectionAcknowledged"`
	RejectionAcknowledgedBy string     `json:"rejectionAcknowledgedBy,omitempty"`
	RejectionAcknowledgedAt *time.Time `json:"rejectionAcknowledgedAt,omitempty"`

	RevisionCount int        `json:"revisionCount,omitempty"`
	RevisedBy     string     `json:"revisedBy,omitempty"`
	RevisedAt     *time.Time `json:"revisedAt,omitempty"`

	// Legacy per-stage flags. Imports migrate them into visibility entries
	// and clear them.
	HiddenFromApproval bool `json:"hiddenFromApproval,omitempty"`
	HiddenFromSourcing bool `json:"hiddenFromSourcing,omitempty"`
}

// SubmissionRecord is the submission-stage copy of an approved WorkflowRecord.
type SubmissionRecord struct {
	WorkflowRecord
	SubmissionID          string                `json:"submissionId"`
	SubmissionStatus      SubmissionStatus      `json:"submissionStatus"`
	SubmissionDetails     SubmissionCalculation `json:"submissionDetails"`
	SubmissionAttachments []AttachmentRef       `json:"submissionAttachments,omitempty"`

	IsStarted bool       `json:"isStarted"`
	StartedBy string     `json:"startedBy,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`

	SubmittedToSubmission   bool       `json:"submittedToSubmission"`
	SubmittedToSubmissionAt *time.Time `json:"submittedToSubmissionAt,omitempty"`
	SubmittedToSubmissionBy string     `json:"submittedToSubmissionBy,omitempty"`

	FinalSubmissionAt *time.Time `json:"finalSubmissionAt,omitempty"`
	FinalSubmittedBy  string     `json:"finalSubmittedBy,omitempty"`

	SubmittedToArchive   bool       `json:"submittedToArchive"`
	SubmittedToArchiveAt *time.Time `json:"submittedToArchiveAt,omitempty"`
}

// WorkflowStage records who completed a pipeline stage and when.
type WorkflowStage struct {
	Stage       Stage      `json:"stage"`
	CompletedBy string     `json:"completedBy,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ArchiveRecord is the immutable snapshot written on final submission.
// Identity for deduplication is the embedded business key, not ArchiveID.
type ArchiveRecord struct {
	SubmissionRecord
	ArchiveID      string          `json:"archiveId"`
	ArchivedAt     *time.Time      `json:"archivedAt,omitempty"`
	ArchivedBy     string          `json:"archivedBy,omitempty"`
	WorkflowStages []WorkflowStage `json:"workflowStages"`
}

// MaintenanceRun is the audit record of an explicit maintenance operation.
type MaintenanceRun struct {
	ID          string    `json:"id"`
	Operation   string    `json:"operation"`
	Actor       string    `json:"actor,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	Affected    int       `json:"affected"`
	AffectedIDs []string  `json:"affectedIds,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

// Change describes a mutation applied to a record during a transaction. Key
// is the storage key within the entity's bucket.
type Change struct {
	Entity EntityType
	Action Action
	Key    string
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates a record was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates a record was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// WasApproved reports whether the record carries approval provenance.
func (r WorkflowRecord) WasApproved() bool {
	return r.Status == StatusApproved || r.ApprovedAt != nil
}
