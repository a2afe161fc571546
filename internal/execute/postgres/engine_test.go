package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newEngineMock(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewEngine(db, 30*time.Second), mock
}

func TestExecuteReturnsRows(t *testing.T) {
	engine, mock := newEngineMock(t)

	statement := `SELECT COUNT(*) FROM "public"."orders";`
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL statement_timeout = 30000").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(statement).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(42)))
	mock.ExpectRollback()

	result, err := engine.Execute(context.Background(), statement)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 1 || result.Columns[0] != "count" {
		t.Fatalf("Columns = %v", result.Columns)
	}
	if result.RowCount() != 1 || result.Rows[0][0] != int64(42) {
		t.Fatalf("Rows = %v", result.Rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestExecuteNormalizesBytes(t *testing.T) {
	engine, mock := newEngineMock(t)

	statement := `SELECT status FROM "public"."orders" LIMIT 100;`
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL statement_timeout = 30000").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(statement).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow([]byte("pending")))
	mock.ExpectRollback()

	result, err := engine.Execute(context.Background(), statement)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Rows[0][0] != "pending" {
		t.Fatalf("Rows = %v, want byte slices turned into strings", result.Rows)
	}
}

func TestExecutePropagatesQueryError(t *testing.T) {
	engine, mock := newEngineMock(t)

	statement := `SELECT foo FROM "public"."orders";`
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL statement_timeout = 30000").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(statement).
		WillReturnError(errors.New(`column "foo" does not exist`))
	mock.ExpectRollback()

	_, err := engine.Execute(context.Background(), statement)
	if err == nil {
		t.Fatal("expected execution error")
	}
	if !strings.Contains(err.Error(), `column "foo" does not exist`) {
		t.Fatalf("error = %v, must carry the database error text", err)
	}
}
