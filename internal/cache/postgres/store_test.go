package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/sqlsage/sqlsage/internal/cache"
)

func newCacheMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestStoreGetHit(t *testing.T) {
	store, mock := newCacheMock(t)

	payload := `{"response":"There are 42 orders.","sql":"SELECT COUNT(*) FROM \"public\".\"orders\";","token_cost":37}`
	mock.ExpectQuery(getStmt).WithArgs("k1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(payload)))

	result, ok, err := store.Get(context.Background(), "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() = miss, want hit")
	}
	if result.Response != "There are 42 orders." || result.TokenCost != 37 {
		t.Fatalf("result = %#v", result)
	}
}

func TestStoreGetMiss(t *testing.T) {
	store, mock := newCacheMock(t)

	mock.ExpectQuery(getStmt).WithArgs("absent").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	_, ok, err := store.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Fatal("Get() = hit, want miss")
	}
}

func TestStoreSet(t *testing.T) {
	store, mock := newCacheMock(t)

	mock.ExpectExec(setStmt).
		WithArgs("k1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Set(context.Background(), "k1", cache.CachedResult{Response: "hi"}, 5*time.Minute)
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreSweep(t *testing.T) {
	store, mock := newCacheMock(t)

	mock.ExpectExec(sweepStmt).WillReturnResult(sqlmock.NewResult(0, 3))
	swept, err := store.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if swept != 3 {
		t.Fatalf("Sweep() = %d", swept)
	}
}
