package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sqlsage/sqlsage/internal/schema"
	"github.com/sqlsage/sqlsage/internal/sqlcheck"
)

type stubRescanner struct {
	catalog *schema.Catalog
	err     error
	calls   int
}

func (s *stubRescanner) Rescan(context.Context) (*schema.Catalog, error) {
	s.calls++
	return s.catalog, s.err
}

func TestGetSchemaGroupsByPartition(t *testing.T) {
	store := schema.NewStore(schema.NewCatalog([]schema.TableDescriptor{
		{Name: "orders", SchemaName: "public"},
		{Name: "customers", SchemaName: "tenant_a"},
	}, "public"))
	h := NewHandler(testConfig(t), Dependencies{Catalog: store})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var payload schemaResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Tables != 2 {
		t.Fatalf("tables = %d", payload.Tables)
	}
	if len(payload.Schemas) != 2 || payload.Schemas[0].Name != "public" || payload.Schemas[1].Name != "tenant_a" {
		t.Fatalf("schemas = %+v", payload.Schemas)
	}
}

func TestGetSchemaWithoutCatalog(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Catalog: schema.NewStore(nil)})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestRescanSwapsCatalogAndValidator(t *testing.T) {
	store := schema.NewStore(schema.NewCatalog([]schema.TableDescriptor{
		{Name: "orders", SchemaName: "public"},
	}, "public"))
	next := schema.NewCatalog([]schema.TableDescriptor{
		{Name: "orders", SchemaName: "public"},
		{Name: "ledger", SchemaName: "public", IsSensitive: true},
	}, "public")
	validator := sqlcheck.NewSwappable(sqlcheck.New(sqlcheck.Options{}))
	rescanner := &stubRescanner{catalog: next}

	h := NewHandler(testConfig(t), Dependencies{
		Catalog:   store,
		Rescanner: rescanner,
		Validator: validator,
	})

	if ok, _ := validator.Validate("SELECT * FROM ledger"); !ok {
		t.Fatal("ledger should be allowed before the rescan")
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/schema/rescan", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if rescanner.calls != 1 {
		t.Fatalf("rescanner calls = %d", rescanner.calls)
	}
	if store.Current().Len() != 2 {
		t.Fatalf("catalog len = %d", store.Current().Len())
	}
	if ok, reason := validator.Validate("SELECT * FROM ledger"); ok {
		t.Fatal("rescan must teach the validator the new sensitive table")
	} else if reason == "" {
		t.Fatal("rejection reason missing")
	}
}

func TestRescanFailureKeepsCatalog(t *testing.T) {
	store := schema.NewStore(schema.NewCatalog([]schema.TableDescriptor{
		{Name: "orders", SchemaName: "public"},
	}, "public"))
	h := NewHandler(testConfig(t), Dependencies{
		Catalog:   store,
		Rescanner: &stubRescanner{err: errors.New("database unreachable")},
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/schema/rescan", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
	if store.Current().Len() != 1 {
		t.Fatal("failed rescan must not touch the live catalog")
	}
}
