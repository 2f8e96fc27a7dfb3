package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schemarag/schemarag/internal/answer"
	"github.com/schemarag/schemarag/internal/api"
	"github.com/schemarag/schemarag/internal/auth"
	"github.com/schemarag/schemarag/internal/config"
	"github.com/schemarag/schemarag/internal/embeddings"
	"github.com/schemarag/schemarag/internal/enrich"
	"github.com/schemarag/schemarag/internal/observability"
	"github.com/schemarag/schemarag/internal/pipeline"
	"github.com/schemarag/schemarag/internal/schemaindex"
	"github.com/schemarag/schemarag/internal/store"
	duckdbstore "github.com/schemarag/schemarag/internal/store/duckdb"
	postgresstore "github.com/schemarag/schemarag/internal/store/postgres"
)

func main() {
	cfg, err := config.LoadFromEnv("schemarag-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	tabular, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open tabular store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = tabular.Close() }()

	embedder, err := embeddings.NewOpenAIEmbedder(embeddings.OpenAIConfig{
		BaseURL: cfg.Embeddings.BaseURL,
		APIKey:  cfg.Embeddings.APIKey,
		Model:   cfg.Embeddings.Model,
		Timeout: cfg.Embeddings.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize embedder", slog.Any("error", err))
		os.Exit(1)
	}

	generator, err := answer.NewOpenAIGenerator(answer.OpenAIConfig{
		BaseURL:      cfg.Generation.BaseURL,
		APIKey:       cfg.Generation.APIKey,
		DefaultModel: cfg.Generation.DefaultModel(),
		Temperature:  cfg.Generation.Temperature,
		MaxTokens:    cfg.Generation.MaxTokens,
		Timeout:      cfg.Generation.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize answer generator", slog.Any("error", err))
		os.Exit(1)
	}

	index := schemaindex.New(embedder, enrich.NewStatic(cfg.Store.Table, nil))
	questionPipeline, err := pipeline.New(pipeline.Config{
		Table:    cfg.Store.Table,
		TopK:     cfg.Pipeline.TopK,
		RowLimit: cfg.Pipeline.RowLimit,
	}, index, tabular, generator, nil, logger)
	if err != nil {
		logger.Error("failed to build pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := questionPipeline.Init(initCtx); err != nil {
		cancelInit()
		logger.Error("failed to build schema index", slog.Any("error", err))
		os.Exit(1)
	}
	cancelInit()

	deps := api.Dependencies{
		Logger:     logger,
		Pipeline:   questionPipeline,
		Generation: cfg.Generation,
		Readiness: api.CombineReadinessChecks(
			api.CheckStore(tabular.HealthCheck),
			api.CheckIndexBuilt(index.Built),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
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
		os.Exit(1)
	}
}

func openStore(cfg config.Config) (store.TabularStore, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		return postgresstore.Open(context.Background(), postgresstore.Config{
			DSN:             cfg.Store.DSN,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		})
	default:
		return duckdbstore.Open(context.Background(), cfg.Store.Path)
	}
}
