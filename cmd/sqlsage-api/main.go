package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sqlsage/sqlsage/internal/api"
	"github.com/sqlsage/sqlsage/internal/cache"
	cachepostgres "github.com/sqlsage/sqlsage/internal/cache/postgres"
	"github.com/sqlsage/sqlsage/internal/config"
	"github.com/sqlsage/sqlsage/internal/execute"
	executeduckdb "github.com/sqlsage/sqlsage/internal/execute/duckdb"
	executepostgres "github.com/sqlsage/sqlsage/internal/execute/postgres"
	"github.com/sqlsage/sqlsage/internal/llm"
	"github.com/sqlsage/sqlsage/internal/observability"
	"github.com/sqlsage/sqlsage/internal/pipeline"
	"github.com/sqlsage/sqlsage/internal/question"
	"github.com/sqlsage/sqlsage/internal/respond"
	"github.com/sqlsage/sqlsage/internal/schema"
	"github.com/sqlsage/sqlsage/internal/schema/objectstore"
	schemapostgres "github.com/sqlsage/sqlsage/internal/schema/postgres"
	"github.com/sqlsage/sqlsage/internal/selector"
	"github.com/sqlsage/sqlsage/internal/sqlcheck"
	"github.com/sqlsage/sqlsage/internal/sqlgen"
	"github.com/sqlsage/sqlsage/internal/throttle"
	throttlepostgres "github.com/sqlsage/sqlsage/internal/throttle/postgres"
)

// loaderRescanner re-reads the discovered-schema document; the scan
// binary is what refreshes the document itself.
type loaderRescanner struct {
	loader schema.Loader
}

func (r loaderRescanner) Rescan(ctx context.Context) (*schema.Catalog, error) {
	return r.loader.Load(ctx)
}

func main() {
	cfg, err := config.LoadFromEnv("sqlsage-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	db, err := schemapostgres.Open(context.Background(), schemapostgres.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	loader, err := newSchemaLoader(cfg)
	if err != nil {
		logger.Error("failed to initialize schema loader", slog.Any("error", err))
		os.Exit(1)
	}

	store := schema.NewStore(nil)
	catalog, err := loader.Load(context.Background())
	if err != nil {
		logger.Warn("schema document not loaded yet, run a scan and POST /v1/schema/rescan", slog.Any("error", err))
	} else {
		store.Swap(catalog)
		logger.Info("schema catalog loaded", slog.Int("tables", catalog.Len()), slog.Int("schemas", len(catalog.Partitions())))
	}

	aiClient, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		EmbedModel:  cfg.AI.EmbedModel,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize ai client", slog.Any("error", err))
		os.Exit(1)
	}

	validatorOpts := sqlcheck.Options{
		AllowedTables:        splitCSV(cfg.Pipeline.AllowedTables),
		ExtraSensitiveTables: splitCSV(cfg.Pipeline.SensitiveExtras),
	}
	validator := sqlcheck.NewSwappable(validatorFor(store.Current(), validatorOpts))

	exactStore, err := newExactStore(cfg, db, logger)
	if err != nil {
		logger.Error("failed to initialize exact cache store", slog.Any("error", err))
		os.Exit(1)
	}
	exact := cache.NewExact(exactStore, cfg.Cache.ExactTTL, logger)

	var semantic *cache.Semantic
	if cfg.Cache.SemanticEnabled {
		semantic = cache.NewSemantic(aiClient, cfg.Cache.SemanticThreshold, logger)
		if cfg.Cache.SnapshotPath != "" {
			if err := semantic.RestoreSnapshot(cfg.Cache.SnapshotPath); err != nil {
				logger.Warn("semantic cache snapshot not restored", slog.Any("error", err))
			} else if semantic.Len() > 0 {
				logger.Info("semantic cache snapshot restored", slog.Int("entries", semantic.Len()))
			}
		}
	}

	gate := throttle.New(cfg.Throttle.MaxConcurrent, cfg.Throttle.WaitTimeout, logger)
	slots := throttlepostgres.New(db, "generation")
	if err := slots.EnsureSchema(context.Background()); err != nil {
		logger.Warn("throttle slot table not available, falling back to per-instance limits", slog.Any("error", err))
	} else {
		gate = gate.WithSlotStore(slots)
	}

	var executor execute.Executor = executepostgres.NewEngine(db, cfg.Database.StatementTimeout)
	if cfg.Pipeline.Executor == "duckdb" {
		executor = executeduckdb.NewEngine(cfg.Pipeline.DataDir, cfg.Pipeline.RowLimit)
		logger.Info("executing against parquet exports", slog.String("data_dir", cfg.Pipeline.DataDir))
	}

	pipe, err := pipeline.New(pipeline.Dependencies{
		Catalog:   store,
		Selector:  selector.New(aiClient, logger),
		Generator: sqlgen.New(aiClient, logger),
		Validator: validator,
		Executor:  executor,
		Responder: respond.New(aiClient, logger),
		Enhancer:  question.NewEnhancer(aiClient, logger),
		Rewriter:  question.NewRewriter(aiClient, logger),
		Exact:     exact,
		Semantic:  semantic,
		Throttle:  gate,
		Logger:    logger,
	}, pipeline.Config{
		MaxRetries:     cfg.Pipeline.MaxRetries,
		EnhanceEnabled: cfg.Pipeline.EnhanceEnabled,
		RewriteEnabled: cfg.Pipeline.RewriteEnabled,
	})
	if err != nil {
		logger.Error("failed to assemble pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:        logger,
		Pipeline:      pipe,
		Catalog:       store,
		Rescanner:     loaderRescanner{loader: loader},
		Validator:     validator,
		ValidatorOpts: validatorOpts,
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabaseDSN(cfg),
			api.CheckCatalogLoaded(store),
		),
		DependencyTimeout: time.Second,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
	}

	if semantic != nil && cfg.Cache.SnapshotPath != "" {
		if err := semantic.WriteSnapshot(cfg.Cache.SnapshotPath); err != nil {
			logger.Error("failed to write semantic cache snapshot", slog.Any("error", err))
		} else {
			logger.Info("semantic cache snapshot written", slog.Int("entries", semantic.Len()))
		}
	}
}

func newSchemaLoader(cfg config.Config) (schema.Loader, error) {
	if cfg.Schema.Source == "objectstore" {
		return objectstore.New(objectstore.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			Bucket:          cfg.ObjectStore.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Prefix:          cfg.ObjectStore.Prefix,
			ObjectKey:       cfg.Schema.ObjectKey,
			PublicName:      cfg.Schema.PublicName,
		})
	}
	return schema.FileLoader{Path: cfg.Schema.DocumentPath, PublicName: cfg.Schema.PublicName}, nil
}

func newExactStore(cfg config.Config, db *sql.DB, logger *slog.Logger) (cache.ExactStore, error) {
	if cfg.Cache.ExactStore != "postgres" {
		return cache.NewMemoryStore(), nil
	}
	pgStore := cachepostgres.New(db)
	if err := pgStore.EnsureSchema(context.Background()); err != nil {
		return nil, err
	}
	logger.Info("exact cache backed by postgres")
	return pgStore, nil
}

func validatorFor(catalog *schema.Catalog, opts sqlcheck.Options) *sqlcheck.Validator {
	if catalog != nil {
		return sqlcheck.FromCatalog(catalog, opts)
	}
	return sqlcheck.New(opts)
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
