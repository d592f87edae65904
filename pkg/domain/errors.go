package domain

import (
	"fmt"
	"strings"
)

// ValidationError reports a missing or malformed caller input. Nothing is
// committed when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// NotFoundError reports a business key absent from the target collection.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// StorageError wraps a failure of the record store or the attachment store.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e StorageError) Unwrap() error { return e.Err }

// ArchiveTransferError is returned when the archive write fails after the
// submission was already marked submitted. The submission stays orphaned.
type ArchiveTransferError struct {
	ID  string
	Err error
}

func (e ArchiveTransferError) Error() string {
	return fmt.Sprintf("archive transfer for %q failed, submission left orphaned: %v", e.ID, e.Err)
}

func (e ArchiveTransferError) Unwrap() error { return e.Err }

// VersionConflictError reports a lost compare-and-swap on a record version.
type VersionConflictError struct {
	Entity   EntityType
	ID       string
	Expected int64
	Actual   int64
}

func (e VersionConflictError) Error() string {
	return fmt.Sprintf("%s %q version conflict: expected %d, found %d", e.Entity, e.ID, e.Expected, e.Actual)
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	var msgs []string
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			msgs = append(msgs, fmt.Sprintf("%s: %s", v.Rule, v.Message))
		}
	}
	if len(msgs) == 0 {
		return "transaction blocked by rules"
	}
	return "transaction blocked by rules: " + strings.Join(msgs, "; ")
}
