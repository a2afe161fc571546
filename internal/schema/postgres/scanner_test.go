package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newScannerMock(t *testing.T) (*Scanner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewScanner(db, "public", nil), mock
}

func TestScannerScanDiscoversTables(t *testing.T) {
	scanner, mock := newScannerMock(t)

	mock.ExpectQuery(userSchemasQuery).
		WillReturnRows(sqlmock.NewRows([]string{"schema_name"}).AddRow("public"))

	mock.ExpectQuery(baseTablesQuery).WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("orders").AddRow("users"))

	mock.ExpectQuery(columnsQuery).WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "udt_name"}).
			AddRow("id", "integer", "int4").
			AddRow("status", "USER-DEFINED", "order_status").
			AddRow("total", "numeric", "numeric"))
	mock.ExpectQuery(enumValuesQuery).WithArgs("order_status").
		WillReturnRows(sqlmock.NewRows([]string{"enumlabel"}).AddRow("pending").AddRow("shipped"))
	mock.ExpectQuery(foreignKeysQuery).WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"foreign_table"}).AddRow("users"))

	mock.ExpectQuery(columnsQuery).WithArgs("public", "users").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "udt_name"}).
			AddRow("id", "integer", "int4").
			AddRow("password_hash", "text", "text"))
	mock.ExpectQuery(foreignKeysQuery).WithArgs("public", "users").
		WillReturnRows(sqlmock.NewRows([]string{"foreign_table"}))

	catalog, err := scanner.Scan(context.Background(), "")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if catalog.Len() != 2 {
		t.Fatalf("catalog.Len() = %d", catalog.Len())
	}

	orders, err := catalog.ByName("orders", "public")
	if err != nil {
		t.Fatalf("ByName(orders) error = %v", err)
	}
	if len(orders.Columns) != 3 {
		t.Fatalf("orders has %d columns", len(orders.Columns))
	}
	status := orders.Columns[1]
	if status.DeclaredType != "ENUM" || len(status.EnumValues) != 2 {
		t.Fatalf("status column = %#v", status)
	}
	if len(orders.RelatedTables) != 1 || orders.RelatedTables[0] != "users" {
		t.Fatalf("orders.RelatedTables = %v", orders.RelatedTables)
	}
	if orders.IsSensitive {
		t.Fatal("orders should not be marked sensitive")
	}

	users, err := catalog.ByName("users", "public")
	if err != nil {
		t.Fatalf("ByName(users) error = %v", err)
	}
	if !users.IsSensitive {
		t.Fatal("users table should be marked sensitive")
	}
	if len(users.SensitiveColumns) != 1 || users.SensitiveColumns[0] != "password_hash" {
		t.Fatalf("users.SensitiveColumns = %v", users.SensitiveColumns)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestScannerScanEmptyTargetCoversAllSchemas(t *testing.T) {
	scanner, mock := newScannerMock(t)

	mock.ExpectQuery(userSchemasQuery).
		WillReturnRows(sqlmock.NewRows([]string{"schema_name"}).AddRow("acme").AddRow("public"))

	mock.ExpectQuery(baseTablesQuery).WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("shipments"))
	mock.ExpectQuery(columnsQuery).WithArgs("acme", "shipments").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "udt_name"}).
			AddRow("id", "integer", "int4"))
	mock.ExpectQuery(foreignKeysQuery).WithArgs("acme", "shipments").
		WillReturnRows(sqlmock.NewRows([]string{"foreign_table"}))

	mock.ExpectQuery(baseTablesQuery).WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("orders"))
	mock.ExpectQuery(columnsQuery).WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "udt_name"}).
			AddRow("id", "integer", "int4"))
	mock.ExpectQuery(foreignKeysQuery).WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"foreign_table"}))

	catalog, err := scanner.Scan(context.Background(), "")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if got := catalog.Partitions(); len(got) != 2 || got[0] != "acme" || got[1] != "public" {
		t.Fatalf("Partitions() = %v, want both user schemas discovered", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestScannerScanRejectsUnknownTarget(t *testing.T) {
	scanner, mock := newScannerMock(t)

	mock.ExpectQuery(userSchemasQuery).
		WillReturnRows(sqlmock.NewRows([]string{"schema_name"}).AddRow("public").AddRow("acme"))

	if _, err := scanner.Scan(context.Background(), "globex"); err == nil {
		t.Fatal("expected error for unknown target schema")
	}
}

func TestScannerScanErrorsWithoutSchemas(t *testing.T) {
	scanner, mock := newScannerMock(t)

	mock.ExpectQuery(userSchemasQuery).
		WillReturnRows(sqlmock.NewRows([]string{"schema_name"}))

	if _, err := scanner.Scan(context.Background(), ""); err == nil {
		t.Fatal("expected error when no user schemas exist")
	}
}
