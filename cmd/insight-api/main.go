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

	"github.com/MbohBless/data-test/internal/analysis"
	"github.com/MbohBless/data-test/internal/api"
	"github.com/MbohBless/data-test/internal/auth"
	"github.com/MbohBless/data-test/internal/config"
	"github.com/MbohBless/data-test/internal/llm"
	"github.com/MbohBless/data-test/internal/observability"
	"github.com/MbohBless/data-test/internal/schema"
	"github.com/MbohBless/data-test/internal/verify"
	"github.com/MbohBless/data-test/internal/warehouse"
)

func main() {
	cfg, err := config.LoadFromEnv("insight-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	db, err := warehouse.Open(context.Background(), cfg.Warehouse)
	if err != nil {
		logger.Error("failed to open warehouse", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	schemaName := "public"
	if cfg.Warehouse.Driver == "duckdb" {
		schemaName = "main"
	}
	introspector := schema.NewSQLIntrospector(db, cfg.Warehouse.DSN, schemaName, cfg.Schema.SampleRows)
	schemas := schema.NewProvider(logger, introspector, cfg.Schema.CacheTTL)
	defer schemas.Close()

	client, err := llm.NewClient(llm.Config{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
	})
	if err != nil {
		logger.Error("failed to initialize model client", slog.Any("error", err))
		os.Exit(1)
	}

	service := analysis.NewService(analysis.Dependencies{
		Logger:    logger,
		Schemas:   schemas,
		Generator: llm.NewGenerator(client, cfg.AI.GenerationTimeout),
		Verifier:  verify.New(cfg.Analysis.AllowedStatements),
		Executor:  warehouse.NewExecutor(db, cfg.Warehouse.ReadOnly),
		Evaluator: llm.NewEvaluator(client, cfg.AI.EvaluationTimeout),
		Insights:  llm.NewInsightWriter(client, cfg.AI.InsightTimeout),
	}, analysis.Config{
		MaxRetries:       cfg.Analysis.MaxRetries,
		ExecutionTimeout: cfg.Analysis.ExecutionTimeout,
	})

	deps := api.Dependencies{
		Logger:   logger,
		Analysis: service,
		Schemas:  schemas,
		Readiness: api.CombineReadinessChecks(
			api.CheckWarehouseDSN(cfg),
			api.CheckProviderConfig(cfg),
			func(ctx context.Context) error { return db.PingContext(ctx) },
		),
		DependencyTimout: time.Second,
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
