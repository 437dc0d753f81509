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

	"github.com/joho/godotenv"

	"github.com/llm4sql/llm4sql/internal/api"
	"github.com/llm4sql/llm4sql/internal/api/uistatic"
	"github.com/llm4sql/llm4sql/internal/assistant"
	"github.com/llm4sql/llm4sql/internal/auth"
	"github.com/llm4sql/llm4sql/internal/catalog"
	"github.com/llm4sql/llm4sql/internal/config"
	"github.com/llm4sql/llm4sql/internal/model"
	"github.com/llm4sql/llm4sql/internal/nl2sql"
	"github.com/llm4sql/llm4sql/internal/observability"
	"github.com/llm4sql/llm4sql/internal/source"
	"github.com/llm4sql/llm4sql/internal/storage"
	s3store "github.com/llm4sql/llm4sql/internal/storage/s3"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("llm4sql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	generator, err := model.New(cfg.Model)
	if err != nil {
		logger.Error("failed to initialize model client", slog.Any("error", err))
		os.Exit(1)
	}

	databases, err := catalog.Load(cfg.Catalog.DataDir, cfg.Catalog.DatabasesFile)
	if err != nil {
		logger.Error("failed to load database catalog", slog.Any("error", err))
		os.Exit(1)
	}

	var objectStore storage.ObjectStore
	readiness := []api.ReadinessCheck{api.CheckModelConfig(cfg), api.CheckObjectStoreConfig(cfg)}
	if cfg.ObjectStore.Enabled() {
		store, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			Bucket:          cfg.ObjectStore.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Prefix:          cfg.ObjectStore.Prefix,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		objectStore = store
		readiness = append(readiness, api.CheckObjectStore(store))
	}

	resolveCtx, cancelResolve := context.WithTimeout(context.Background(), 2*time.Minute)
	databases, err = catalog.Resolve(resolveCtx, databases, objectStore, cfg.Catalog.CacheDir, logger)
	cancelResolve()
	if err != nil {
		logger.Error("failed to fetch sample databases", slog.Any("error", err))
		os.Exit(1)
	}

	cat, err := catalog.New(databases)
	if err != nil {
		logger.Error("invalid database catalog", slog.Any("error", err))
		os.Exit(1)
	}

	synthesizer, err := nl2sql.NewSynthesizer(generator, cfg.Model.ExtractMode, logger)
	if err != nil {
		logger.Error("failed to initialize sql synthesizer", slog.Any("error", err))
		os.Exit(1)
	}

	service, err := assistant.New(cat, source.NewRegistry(), synthesizer, assistant.Config{
		RowLimit:     cfg.Query.RowLimit,
		QueryTimeout: cfg.Query.Timeout,
		SampleRows:   cfg.UI.SchemaSampleRows,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize assistant", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:    logger,
		Catalog:   cat,
		Assistant: service,
		UI:        uistatic.Handler(),
		Readiness: api.CombineReadinessChecks(
			append([]api.ReadinessCheck{api.CheckCatalogFiles(databases)}, readiness...)...,
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
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.Int("databases", len(databases)),
			slog.String("model_provider", generator.Provider()),
			slog.String("model", generator.Name()),
		)
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
