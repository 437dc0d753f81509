// Package assistant runs the question to result pipeline against one
// catalog database per call.
package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/llm4sql/llm4sql/internal/catalog"
	"github.com/llm4sql/llm4sql/internal/nl2sql"
	"github.com/llm4sql/llm4sql/internal/observability"
	"github.com/llm4sql/llm4sql/internal/query"
	"github.com/llm4sql/llm4sql/internal/schema"
	"github.com/llm4sql/llm4sql/internal/source"
)

type Catalog interface {
	Lookup(name string) (catalog.Database, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, tables []schema.Table, question string) (nl2sql.Result, error)
}

type Config struct {
	RowLimit     int
	QueryTimeout time.Duration
	SampleRows   int
}

type Service struct {
	catalog     Catalog
	opener      source.Opener
	synthesizer Synthesizer
	cfg         Config
	logger      *slog.Logger
}

// Answer is the outcome of Ask. SQL is set whenever generation succeeded,
// including when execution then failed.
type Answer struct {
	Database string       `json:"database"`
	Question string       `json:"question"`
	SQL      string       `json:"sql"`
	Model    string       `json:"model"`
	Provider string       `json:"provider"`
	Result   query.Result `json:"-"`
}

func New(cat Catalog, opener source.Opener, synthesizer Synthesizer, cfg Config, logger *slog.Logger) (*Service, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if opener == nil {
		return nil, fmt.Errorf("source opener is required")
	}
	if synthesizer == nil {
		return nil, fmt.Errorf("synthesizer is required")
	}
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = query.DefaultRowLimit
	}
	if cfg.SampleRows < 0 {
		cfg.SampleRows = schema.DefaultSampleRows
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{catalog: cat, opener: opener, synthesizer: synthesizer, cfg: cfg, logger: logger}, nil
}

// Ask opens the database, extracts its schema, generates SQL for question
// and executes it. The handle is closed before Ask returns on every path.
func (s *Service) Ask(ctx context.Context, database, question string, rowLimit int) (answer Answer, err error) {
	defer func() { observability.ObservePipeline("ask", string(KindOf(err))) }()

	answer = Answer{Database: database, Question: question}
	if strings.TrimSpace(question) == "" {
		return answer, fail(KindInvalidInput, ErrQuestionRequired)
	}

	err = s.withDatabase(ctx, database, func(db *sql.DB, dialect schema.Dialect) error {
		tables, err := s.extract(ctx, db, dialect, s.cfg.SampleRows)
		if err != nil {
			return err
		}

		generated, err := s.synthesizer.Synthesize(ctx, tables, question)
		answer.Model = generated.Model
		answer.Provider = generated.Provider
		if err != nil {
			return fail(KindGenerationFailure, err)
		}
		answer.SQL = generated.SQL
		s.logger.DebugContext(ctx, "generated sql",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("database", database),
			slog.String("sql", generated.SQL),
		)

		result, err := s.execute(ctx, db, generated.SQL, rowLimit)
		if err != nil {
			return err
		}
		answer.Result = result
		return nil
	})
	return answer, err
}

// Translate stops after SQL generation.
func (s *Service) Translate(ctx context.Context, database, question string) (result nl2sql.Result, err error) {
	defer func() { observability.ObservePipeline("translate", string(KindOf(err))) }()

	if strings.TrimSpace(question) == "" {
		return nl2sql.Result{}, fail(KindInvalidInput, ErrQuestionRequired)
	}
	err = s.withDatabase(ctx, database, func(db *sql.DB, dialect schema.Dialect) error {
		tables, err := s.extract(ctx, db, dialect, s.cfg.SampleRows)
		if err != nil {
			return err
		}
		result, err = s.synthesizer.Synthesize(ctx, tables, question)
		if err != nil {
			return fail(KindGenerationFailure, err)
		}
		return nil
	})
	return result, err
}

// Run executes caller supplied SQL. Only a single SELECT or WITH statement
// is accepted.
func (s *Service) Run(ctx context.Context, database, sqlText string, rowLimit int) (result query.Result, err error) {
	defer func() { observability.ObservePipeline("run", string(KindOf(err))) }()

	if strings.TrimSpace(sqlText) == "" {
		return query.Result{}, fail(KindInvalidInput, ErrSQLRequired)
	}
	if !nl2sql.IsReadOnly(sqlText) {
		return query.Result{}, fail(KindInvalidInput, ErrSQLNotAllowed)
	}
	err = s.withDatabase(ctx, database, func(db *sql.DB, _ schema.Dialect) error {
		result, err = s.execute(ctx, db, sqlText, rowLimit)
		return err
	})
	return result, err
}

// Schema returns tables, columns and up to sampleRows rows per table; a
// negative sampleRows uses the configured default.
func (s *Service) Schema(ctx context.Context, database string, sampleRows int) (tables []schema.Table, err error) {
	defer func() { observability.ObservePipeline("schema", string(KindOf(err))) }()

	if sampleRows < 0 {
		sampleRows = s.cfg.SampleRows
	}
	err = s.withDatabase(ctx, database, func(db *sql.DB, dialect schema.Dialect) error {
		tables, err = s.extract(ctx, db, dialect, sampleRows)
		return err
	})
	return tables, err
}

func (s *Service) withDatabase(ctx context.Context, name string, fn func(db *sql.DB, dialect schema.Dialect) error) error {
	entry, err := s.catalog.Lookup(name)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return fail(KindUnknownDatabase, fmt.Errorf("database %q: %w", name, err))
		}
		return fail(KindConnectionFailure, err)
	}
	dialect, err := schema.DialectFor(entry.Kind)
	if err != nil {
		return fail(KindConnectionFailure, err)
	}

	db, err := s.opener.Open(ctx, entry)
	if err != nil {
		s.logger.WarnContext(ctx, "open database failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("database", name),
			slog.Any("error", err),
		)
		return fail(KindConnectionFailure, err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			s.logger.WarnContext(ctx, "close database failed", slog.String("database", name), slog.Any("error", closeErr))
		}
	}()

	return fn(db, dialect)
}

func (s *Service) extract(ctx context.Context, db *sql.DB, dialect schema.Dialect, sampleRows int) ([]schema.Table, error) {
	tables, err := schema.NewExtractor(dialect, sampleRows, s.logger).Extract(ctx, db)
	switch {
	case err == nil:
		return tables, nil
	case errors.Is(err, schema.ErrEmptySchema):
		return nil, fail(KindEmptySchema, err)
	default:
		return nil, fail(KindConnectionFailure, err)
	}
}

func (s *Service) execute(ctx context.Context, db *sql.DB, sqlText string, rowLimit int) (query.Result, error) {
	if rowLimit <= 0 || rowLimit > s.cfg.RowLimit {
		rowLimit = s.cfg.RowLimit
	}
	if s.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
	}

	result, err := query.Execute(ctx, db, query.Request{SQL: sqlText, RowLimit: rowLimit})
	if err != nil {
		s.logger.InfoContext(ctx, "query execution failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.Any("error", err),
		)
		return query.Result{}, fail(KindExecutionFailure, err)
	}
	observability.ObserveQueryRows(len(result.Rows), result.Truncated)
	return result, nil
}
