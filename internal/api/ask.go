package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sqlsage/sqlsage/internal/pipeline"
)

type askRequest struct {
	Question string `json:"question"`
	Schema   string `json:"schema"`
}

type askResponse struct {
	Answer     string   `json:"answer"`
	SQL        string   `json:"sql,omitempty"`
	TablesUsed []string `json:"tables_used,omitempty"`
	TokenCost  int      `json:"token_cost"`
	Attempts   int      `json:"attempts,omitempty"`
	CacheTier  string   `json:"cache_tier,omitempty"`
	Similarity float64  `json:"similarity,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "ask dependencies are not configured", false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	outcome, err := deps.Pipeline.Run(r.Context(), request.Question, strings.TrimSpace(request.Schema))
	if err != nil {
		writeAskError(deps, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Answer:     outcome.Response,
		SQL:        outcome.SQL,
		TablesUsed: outcome.TablesUsed,
		TokenCost:  outcome.TokenCost,
		Attempts:   outcome.Attempts,
		CacheTier:  outcome.CacheTier,
		Similarity: outcome.Similarity,
		DurationMs: outcome.Duration.Milliseconds(),
	})
}

// writeAskError maps the pipeline's typed failures onto stable error
// codes so clients can branch without parsing messages.
func writeAskError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error) {
	var ambiguous *pipeline.PartitionAmbiguousError
	var unsafe *pipeline.UnsafeStatementError
	var exhausted *pipeline.RetriesExhaustedError

	switch {
	case errors.As(err, &ambiguous):
		writeError(r.Context(), w, http.StatusBadRequest, "SCHEMA_REQUIRED", err.Error(), false,
			map[string]any{"available_schemas": ambiguous.Available})
	case errors.As(err, &unsafe):
		writeError(r.Context(), w, http.StatusBadRequest, "UNSAFE_STATEMENT", err.Error(), false,
			map[string]any{"reason": unsafe.Reason})
	case errors.As(err, &exhausted):
		writeError(r.Context(), w, http.StatusBadGateway, "RETRIES_EXHAUSTED", err.Error(), true,
			map[string]any{"attempts": exhausted.Attempts})
	case errors.Is(err, pipeline.ErrThrottleTimeout):
		writeError(r.Context(), w, http.StatusTooManyRequests, "AT_CAPACITY", err.Error(), true, nil)
	case errors.Is(err, pipeline.ErrNoTablesSelected):
		writeError(r.Context(), w, http.StatusNotFound, "NO_RELEVANT_TABLES", err.Error(), false, nil)
	case errors.Is(err, pipeline.ErrNoCatalog):
		writeError(r.Context(), w, http.StatusServiceUnavailable, "NO_CATALOG", err.Error(), true, nil)
	default:
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "ask failed", "error", err)
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "ASK_FAILED", "failed to answer the question", true, nil)
	}
}
