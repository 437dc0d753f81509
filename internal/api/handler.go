package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llm4sql/llm4sql/internal/assistant"
	"github.com/llm4sql/llm4sql/internal/catalog"
	"github.com/llm4sql/llm4sql/internal/config"
	"github.com/llm4sql/llm4sql/internal/nl2sql"
	"github.com/llm4sql/llm4sql/internal/observability"
	"github.com/llm4sql/llm4sql/internal/query"
	"github.com/llm4sql/llm4sql/internal/schema"
)

type ReadinessCheck func(ctx context.Context) error

type DatabaseCatalog interface {
	List() []catalog.Database
	Lookup(name string) (catalog.Database, error)
}

// Assistant is the pipeline surface the handlers drive; *assistant.Service
// implements it.
type Assistant interface {
	Ask(ctx context.Context, database, question string, rowLimit int) (assistant.Answer, error)
	Translate(ctx context.Context, database, question string) (nl2sql.Result, error)
	Run(ctx context.Context, database, sqlText string, rowLimit int) (query.Result, error)
	Schema(ctx context.Context, database string, sampleRows int) ([]schema.Table, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Catalog           DatabaseCatalog
	Assistant         Assistant
	UI                http.Handler
}

const maxRequestBodyBytes = 1 << 20

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	routes := map[string]http.HandlerFunc{
		"GET /v1/databases": func(w http.ResponseWriter, r *http.Request) {
			handleListDatabases(deps, w, r)
		},
		"GET /v1/databases/{name}/schema": func(w http.ResponseWriter, r *http.Request) {
			handleSchema(deps, w, r)
		},
		"GET /v1/databases/{name}/diagram": func(w http.ResponseWriter, r *http.Request) {
			handleDiagram(deps, w, r)
		},
		"POST /v1/databases/{name}/translate": func(w http.ResponseWriter, r *http.Request) {
			handleTranslate(deps, w, r)
		},
		"POST /v1/databases/{name}/ask": func(w http.ResponseWriter, r *http.Request) {
			handleAsk(deps, w, r)
		},
		"POST /v1/databases/{name}/query": func(w http.ResponseWriter, r *http.Request) {
			handleQuery(deps, w, r)
		},
		"POST /v1/databases/{name}/export": func(w http.ResponseWriter, r *http.Request) {
			handleExport(deps, w, r)
		},
	}

	protected := http.NewServeMux()
	for pattern, handler := range routes {
		protected.HandleFunc(pattern, handler)
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for pattern := range routes {
		mux.Handle(pattern, protectedHandler)
	}
	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckCatalogFiles reports not ready while any file-backed database is
// missing from disk.
func CheckCatalogFiles(databases []catalog.Database) ReadinessCheck {
	return func(_ context.Context) error {
		for _, db := range databases {
			if db.Kind == catalog.KindPostgres {
				continue
			}
			if _, err := os.Stat(db.Path); err != nil {
				return fmt.Errorf("database %s: %w", db.Name, err)
			}
		}
		return nil
	}
}

func CheckModelConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Model.BaseURL == "" {
			return errors.New("model base url is not configured")
		}
		if cfg.Model.Name == "" {
			return errors.New("model name is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.ObjectStore.Enabled() {
			return nil
		}
		if (cfg.ObjectStore.AccessKeyID == "") != (cfg.ObjectStore.SecretAccessKey == "") {
			return errors.New("object store access key and secret key must be set together")
		}
		return nil
	}
}

// CheckObjectStore pings the bucket holding remote sample files.
func CheckObjectStore(store interface{ Ping(context.Context) error }) ReadinessCheck {
	return func(ctx context.Context) error {
		if store == nil {
			return nil
		}
		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("object store: %w", err)
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
