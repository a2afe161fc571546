// Package pipeline orchestrates the full question-to-answer flow:
// enhancement, rewriting, cache lookup, table selection, guarded SQL
// generation, validation, execution with retry, response generation and
// cache writes. The pipeline itself is stateless between runs; every
// shared dependency is injected at construction.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sqlsage/sqlsage/internal/cache"
	"github.com/sqlsage/sqlsage/internal/execute"
	"github.com/sqlsage/sqlsage/internal/observability"
	"github.com/sqlsage/sqlsage/internal/question"
	"github.com/sqlsage/sqlsage/internal/respond"
	"github.com/sqlsage/sqlsage/internal/schema"
	"github.com/sqlsage/sqlsage/internal/selector"
	"github.com/sqlsage/sqlsage/internal/sqlgen"
	"github.com/sqlsage/sqlsage/internal/throttle"
)

// StatementValidator is the safety gate in front of the executor.
type StatementValidator interface {
	Validate(sql string) (bool, string)
}

// Config tunes one pipeline instance.
type Config struct {
	MaxRetries     int
	EnhanceEnabled bool
	RewriteEnabled bool
}

// Dependencies carries everything a pipeline composes. Catalog,
// caches and throttle are shared across requests; the rest is
// stateless.
type Dependencies struct {
	Catalog   *schema.Store
	Selector  *selector.Selector
	Generator *sqlgen.Generator
	Validator StatementValidator
	Executor  execute.Executor
	Responder *respond.Generator
	Enhancer  *question.Enhancer
	Rewriter  *question.Rewriter
	Exact     *cache.Exact
	Semantic  *cache.Semantic
	Throttle  *throttle.Throttle
	Logger    *slog.Logger
}

// Outcome is the structured result of one run. CacheTier is set when
// the answer came from a cache ("exact" or "semantic"), in which case
// TokenCost is zero.
type Outcome struct {
	Response   string
	SQL        string
	TablesUsed []string
	TokenCost  int
	Attempts   int
	CacheTier  string
	Similarity float64
	Duration   time.Duration
}

// retryState is threaded through the generation attempts; it never
// outlives a single run.
type retryState struct {
	attempt   int
	lastError string
}

type Pipeline struct {
	deps   Dependencies
	cfg    Config
	logger *slog.Logger
}

func New(deps Dependencies, cfg Config) (*Pipeline, error) {
	if deps.Catalog == nil || deps.Selector == nil || deps.Generator == nil ||
		deps.Validator == nil || deps.Executor == nil || deps.Responder == nil {
		return nil, fmt.Errorf("catalog, selector, generator, validator, executor and responder are required")
	}
	if deps.Exact == nil {
		return nil, fmt.Errorf("exact cache is required")
	}
	if deps.Throttle == nil {
		return nil, fmt.Errorf("throttle is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger}, nil
}

// Run answers one question against the given target partition. An
// empty partition is resolved automatically when exactly one exists.
// Every failure is one of the package's typed errors; downstream
// errors never leak raw.
func (p *Pipeline) Run(ctx context.Context, query, partition string) (Outcome, error) {
	start := time.Now()
	outcome, err := p.run(ctx, query, partition)
	outcome.Duration = time.Since(start)

	label := "success"
	if err != nil {
		label = outcomeLabel(err)
	} else if outcome.CacheTier != "" {
		label = "cache_hit"
	}
	observability.ObservePipelineRun(label, outcome.Duration)
	return outcome, err
}

func (p *Pipeline) run(ctx context.Context, query, partition string) (Outcome, error) {
	catalog := p.deps.Catalog.Current()
	if catalog == nil || catalog.Len() == 0 {
		return Outcome{}, ErrNoCatalog
	}

	partition, err := resolvePartition(catalog, partition)
	if err != nil {
		return Outcome{}, err
	}

	originalQuery := query
	if p.cfg.EnhanceEnabled && p.deps.Enhancer != nil {
		query = p.deps.Enhancer.Enhance(ctx, query)
	}
	if p.cfg.RewriteEnabled && p.deps.Rewriter != nil {
		query = p.deps.Rewriter.Rewrite(ctx, query)
	}

	if hit, ok := p.lookupCaches(ctx, query, partition); ok {
		return hit, nil
	}

	selection, selectionCost := p.deps.Selector.Select(ctx, query, catalog, partition)
	if len(selection) == 0 {
		return Outcome{}, ErrNoTablesSelected
	}
	observability.AddLLMTokens("selection", selectionCost)
	if len(selection) > 2 {
		selection = p.deps.Selector.Expand(selection, catalog, partition)
	}

	tokenCost := selectionCost
	var statement sqlgen.Statement
	var result execute.Result
	state := retryState{}

	for state.attempt = 1; state.attempt <= p.cfg.MaxRetries; state.attempt++ {
		statement, err = p.generateGuarded(ctx, query, selection, partition, state.lastError)
		if err != nil {
			if err == ErrThrottleTimeout {
				return Outcome{}, err
			}
			state.lastError = err.Error()
			p.logger.Warn("generation attempt failed", "attempt", state.attempt, "error", err)
			observability.IncrementGenerationRetry()
			continue
		}
		tokenCost += statement.TokenCost
		observability.AddLLMTokens("generation", statement.TokenCost)

		if ok, reason := p.deps.Validator.Validate(statement.SQL); !ok {
			observability.IncrementValidatorRejection()
			p.logger.Warn("statement rejected by validator", "reason", reason, "sql", statement.SQL)
			return Outcome{}, &UnsafeStatementError{SQL: statement.SQL, Reason: reason}
		}

		result, err = p.deps.Executor.Execute(ctx, statement.SQL)
		if err == nil {
			break
		}
		state.lastError = err.Error()
		p.logger.Warn("statement execution failed", "attempt", state.attempt, "error", err)
		observability.IncrementGenerationRetry()
	}
	if err != nil {
		return Outcome{Attempts: p.cfg.MaxRetries, TokenCost: tokenCost},
			&RetriesExhaustedError{Attempts: p.cfg.MaxRetries, LastError: state.lastError}
	}

	response, responseCost, err := p.deps.Responder.Generate(ctx, originalQuery, result)
	if err != nil {
		return Outcome{}, fmt.Errorf("generate response: %w", err)
	}
	tokenCost += responseCost
	observability.AddLLMTokens("response", responseCost)

	tablesUsed := make([]string, 0, len(selection))
	for _, table := range selection {
		tablesUsed = append(tablesUsed, table.Name)
	}

	cached := cache.CachedResult{
		Response:   response,
		SQL:        statement.SQL,
		TablesUsed: tablesUsed,
		TokenCost:  tokenCost,
	}
	p.deps.Exact.Set(ctx, query, partition, cached)
	if p.deps.Semantic != nil {
		p.deps.Semantic.Save(ctx, query, partition, cached)
	}

	return Outcome{
		Response:   response,
		SQL:        statement.SQL,
		TablesUsed: tablesUsed,
		TokenCost:  tokenCost,
		Attempts:   state.attempt,
	}, nil
}

// lookupCaches checks the semantic tier first (it matches paraphrases
// and skips all downstream work), then the exact tier. A hit reports
// zero generation cost.
func (p *Pipeline) lookupCaches(ctx context.Context, query, partition string) (Outcome, bool) {
	if p.deps.Semantic != nil {
		if hit, ok := p.deps.Semantic.Search(ctx, query, partition); ok {
			p.logger.Info("semantic cache hit", "similarity", hit.Similarity)
			return Outcome{
				Response:   hit.Response,
				SQL:        hit.SQL,
				TablesUsed: hit.TablesUsed,
				CacheTier:  "semantic",
				Similarity: hit.Similarity,
			}, true
		}
	}
	if hit, ok := p.deps.Exact.Get(ctx, query, partition); ok {
		p.logger.Info("exact cache hit")
		return Outcome{
			Response:   hit.Response,
			SQL:        hit.SQL,
			TablesUsed: hit.TablesUsed,
			CacheTier:  "exact",
		}, true
	}
	return Outcome{}, false
}

// generateGuarded runs one generation attempt inside a throttle slot.
func (p *Pipeline) generateGuarded(ctx context.Context, query string, selection []schema.TableDescriptor, partition, previousError string) (sqlgen.Statement, error) {
	if !p.deps.Throttle.Acquire(ctx) {
		return sqlgen.Statement{}, ErrThrottleTimeout
	}
	defer p.deps.Throttle.Release()
	return p.deps.Generator.Generate(ctx, query, selection, partition, previousError)
}

func resolvePartition(catalog *schema.Catalog, partition string) (string, error) {
	if partition != "" {
		return partition, nil
	}
	partitions := catalog.Partitions()
	if len(partitions) == 1 {
		return partitions[0], nil
	}
	return "", &PartitionAmbiguousError{Available: partitions}
}

func outcomeLabel(err error) string {
	switch err.(type) {
	case *PartitionAmbiguousError:
		return "partition_ambiguous"
	case *UnsafeStatementError:
		return "unsafe_statement"
	case *RetriesExhaustedError:
		return "retries_exhausted"
	}
	switch err {
	case ErrNoTablesSelected:
		return "no_tables"
	case ErrThrottleTimeout:
		return "throttle_timeout"
	case ErrNoCatalog:
		return "no_catalog"
	}
	return "error"
}
