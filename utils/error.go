package utils

import "errors"

// Core error taxonomy. Batch callers must isolate per-plate failures; only
// operator-facing single-row operations surface these directly.
var (
	// ErrNotInStock: delivery requested for a plate with no stock entry. Non-retryable.
	ErrNotInStock = errors.New("vehicle not in stock")

	// ErrAmbiguousDuplicate: duplicate plate rows that cannot be resolved
	// mechanically. Queued for manual review, never auto-resolved.
	ErrAmbiguousDuplicate = errors.New("ambiguous duplicate plate")

	// ErrFeedUnavailable: transient feed fetch failure. No partial writes;
	// retried on the next scheduled ingestion.
	ErrFeedUnavailable = errors.New("inventory feed unavailable")

	// ErrAssignmentPoolEmpty: no active photographer. The task stays
	// unassigned and reported; it must not abort the caller's batch.
	ErrAssignmentPoolEmpty = errors.New("no active photographers in assignment pool")

	ErrorRecordNotFound = errors.New("record not found")
)

// BatchResult makes partial success visible: operator-triggered batch actions
// return counts, never a boolean.
type BatchResult struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (r *BatchResult) Add(other BatchResult) {
	r.Processed += other.Processed
	r.Skipped += other.Skipped
	r.Failed += other.Failed
}
