package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoTablesSelected means table selection produced nothing usable
// for the question.
var ErrNoTablesSelected = errors.New("no relevant tables found for the question")

// ErrThrottleTimeout means the generation throttle stayed saturated for
// the whole wait window; the system is at capacity.
var ErrThrottleTimeout = errors.New("system is at generation capacity, try again shortly")

// ErrNoCatalog means no discovery scan has been loaded yet.
var ErrNoCatalog = errors.New("no schema catalog loaded, run a discovery scan first")

// PartitionAmbiguousError is returned when no target partition was
// supplied and more than one exists; the caller must disambiguate.
type PartitionAmbiguousError struct {
	Available []string
}

func (e *PartitionAmbiguousError) Error() string {
	return fmt.Sprintf("target schema required, available: %s", strings.Join(e.Available, ", "))
}

// UnsafeStatementError is a validator rejection. It is fatal for the
// whole run, never retried, and worth separate alerting upstream.
type UnsafeStatementError struct {
	SQL    string
	Reason string
}

func (e *UnsafeStatementError) Error() string {
	return fmt.Sprintf("unsafe statement rejected: %s", e.Reason)
}

// RetriesExhaustedError is the final failure after the retry ceiling,
// carrying the last execution error verbatim.
type RetriesExhaustedError struct {
	Attempts  int
	LastError string
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("statement failed after %d attempts: %s", e.Attempts, e.LastError)
}
