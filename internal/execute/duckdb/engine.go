// Package duckdb executes generated statements against local Parquet
// exports instead of the live database. The data directory holds one
// subdirectory per partition with one Parquet file per table; each file
// is exposed as a schema-qualified view so the same generated SQL runs
// unchanged.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/sqlsage/sqlsage/internal/execute"
)

type Engine struct {
	dataDir  string
	rowLimit int
}

func NewEngine(dataDir string, rowLimit int) *Engine {
	return &Engine{dataDir: dataDir, rowLimit: rowLimit}
}

func (e *Engine) Execute(ctx context.Context, sqlText string) (execute.Result, error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return execute.Result{}, fmt.Errorf("sql is required")
	}

	start := time.Now()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return execute.Result{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := e.mountViews(ctx, db); err != nil {
		return execute.Result{}, err
	}

	if e.rowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, e.rowLimit)
	}

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return execute.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return execute.Result{}, fmt.Errorf("query columns: %w", err)
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

// mountViews creates one schema per partition directory and one view
// per Parquet file inside it.
func (e *Engine) mountViews(ctx context.Context, db *sql.DB) error {
	partitions, err := os.ReadDir(e.dataDir)
	if err != nil {
		return fmt.Errorf("read data dir %q: %w", e.dataDir, err)
	}

	for _, partition := range partitions {
		if !partition.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(e.dataDir, partition.Name()))
		if err != nil {
			return fmt.Errorf("read partition dir %q: %w", partition.Name(), err)
		}

		schemaSQL := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdent(partition.Name()))
		if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema %q: %w", partition.Name(), err)
		}

		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".parquet") {
				continue
			}
			table := strings.TrimSuffix(file.Name(), ".parquet")
			path := filepath.Join(e.dataDir, partition.Name(), file.Name())
			viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s.%s AS SELECT * FROM read_parquet(%s)`,
				quoteIdent(partition.Name()), quoteIdent(table), quoteString(path))
			if _, err := db.ExecContext(ctx, viewSQL); err != nil {
				return fmt.Errorf("create view for table %q: %w", table, err)
			}
		}
	}
	return nil
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

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
