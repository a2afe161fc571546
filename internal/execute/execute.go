// Package execute defines the executor port the pipeline speaks to.
// Implementations must run statements read-only and enforce their own
// timeout; the pipeline feeds their error text back into retries.
package execute

import (
	"context"
	"time"
)

// Result is one executed statement's tabular output.
type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

func (r Result) RowCount() int {
	return len(r.Rows)
}

type Executor interface {
	Execute(ctx context.Context, sql string) (Result, error)
}
