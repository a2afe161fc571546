// Package postgres executes generated statements against the live
// database. Every statement runs inside a read-only transaction with a
// statement timeout, so even a statement the validator somehow missed
// cannot write or run forever.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sqlsage/sqlsage/internal/execute"
)

type Engine struct {
	db               *sql.DB
	statementTimeout time.Duration
}

func NewEngine(db *sql.DB, statementTimeout time.Duration) *Engine {
	if statementTimeout <= 0 {
		statementTimeout = 30 * time.Second
	}
	return &Engine{db: db, statementTimeout: statementTimeout}
}

func (e *Engine) Execute(ctx context.Context, sqlText string) (execute.Result, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.statementTimeout)
	defer cancel()

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return execute.Result{}, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	timeoutStmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", e.statementTimeout.Milliseconds())
	if _, err := tx.ExecContext(ctx, timeoutStmt); err != nil {
		return execute.Result{}, fmt.Errorf("set statement timeout: %w", err)
	}

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return execute.Result{}, fmt.Errorf("execute statement: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return execute.Result{}, fmt.Errorf("read columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return execute.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return execute.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return execute.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
