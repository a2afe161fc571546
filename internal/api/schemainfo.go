package api

import (
	"net/http"

	"github.com/sqlsage/sqlsage/internal/schema"
	"github.com/sqlsage/sqlsage/internal/sqlcheck"
)

type schemaResponse struct {
	Schemas []schemaSummary `json:"schemas"`
	Tables  int             `json:"tables"`
}

type schemaSummary struct {
	Name   string                   `json:"name"`
	Tables []schema.TableDescriptor `json:"tables"`
}

func handleGetSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema catalog is not configured", false, nil)
		return
	}
	catalog := deps.Catalog.Current()
	if catalog == nil || catalog.Len() == 0 {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "NO_CATALOG", "no schema catalog loaded", true, nil)
		return
	}

	grouped := make(map[string][]schema.TableDescriptor)
	for _, table := range catalog.Tables() {
		grouped[table.SchemaName] = append(grouped[table.SchemaName], table)
	}
	summaries := make([]schemaSummary, 0, len(grouped))
	for _, partition := range catalog.Partitions() {
		summaries = append(summaries, schemaSummary{Name: partition, Tables: grouped[partition]})
	}

	writeJSON(w, http.StatusOK, schemaResponse{Schemas: summaries, Tables: catalog.Len()})
}

// handleRescan rebuilds the catalog from its source and publishes it
// atomically, along with a validator rebuilt from the fresh sensitivity
// annotations. In-flight runs keep the snapshot they started with.
func handleRescan(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Rescanner == nil || deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "RESCAN_NOT_CONFIGURED", "rescan dependencies are not configured", false, nil)
		return
	}

	catalog, err := deps.Rescanner.Rescan(r.Context())
	if err != nil {
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "schema rescan failed", "error", err)
		}
		writeError(r.Context(), w, http.StatusBadGateway, "RESCAN_FAILED", "schema rescan failed", true, map[string]any{"details": err.Error()})
		return
	}
	if catalog == nil || catalog.Len() == 0 {
		writeError(r.Context(), w, http.StatusBadGateway, "RESCAN_EMPTY", "schema rescan produced no tables", true, nil)
		return
	}

	deps.Catalog.Swap(catalog)
	if deps.Validator != nil {
		deps.Validator.Swap(sqlcheck.FromCatalog(catalog, deps.ValidatorOpts))
	}
	if deps.Logger != nil {
		deps.Logger.InfoContext(r.Context(), "schema catalog replaced",
			"tables", catalog.Len(), "schemas", len(catalog.Partitions()))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"tables":  catalog.Len(),
		"schemas": catalog.Partitions(),
	})
}
