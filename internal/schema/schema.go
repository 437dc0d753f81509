// Package schema introspects a database into table definitions plus a few
// sample rows per table.
package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/llm4sql/llm4sql/internal/catalog"
	"github.com/llm4sql/llm4sql/internal/query"
)

var (
	ErrEmptySchema   = errors.New("schema: database has no tables")
	ErrNoValidTables = errors.New("schema: no valid tables found")
)

const DefaultSampleRows = 5

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Table struct {
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	SampleRows [][]any  `json:"sample_rows"`
}

type Extractor struct {
	dialect    Dialect
	sampleRows int
	logger     *slog.Logger
}

// NewExtractor returns an extractor that reads sampleRows rows per table;
// zero skips the sample query.
func NewExtractor(dialect Dialect, sampleRows int, logger *slog.Logger) *Extractor {
	if sampleRows < 0 {
		sampleRows = DefaultSampleRows
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{dialect: dialect, sampleRows: sampleRows, logger: logger}
}

// Extract lists every user table in catalog order. Data access errors are
// logged and reported as ErrNoValidTables.
func (e *Extractor) Extract(ctx context.Context, db query.Queryer) ([]Table, error) {
	names, err := e.dialect.tableNames(ctx, db)
	if err != nil {
		e.logger.WarnContext(ctx, "schema introspection failed", slog.String("dialect", e.dialect.Name), slog.Any("error", err))
		return nil, ErrNoValidTables
	}
	if len(names) == 0 {
		return nil, ErrEmptySchema
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		table, err := e.describe(ctx, db, name)
		if err != nil {
			e.logger.WarnContext(ctx, "schema introspection failed",
				slog.String("dialect", e.dialect.Name),
				slog.String("table", name),
				slog.Any("error", err),
			)
			return nil, ErrNoValidTables
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func (e *Extractor) describe(ctx context.Context, db query.Queryer, name string) (Table, error) {
	columns, err := e.dialect.columns(ctx, db, name)
	if err != nil {
		return Table{}, fmt.Errorf("columns: %w", err)
	}
	table := Table{Name: name, Columns: columns, SampleRows: [][]any{}}
	if e.sampleRows == 0 {
		return table, nil
	}

	sample, err := query.Execute(ctx, db, query.Request{
		SQL:      fmt.Sprintf("SELECT * FROM %s LIMIT %d", query.QuoteIdent(name), e.sampleRows),
		RowLimit: e.sampleRows,
	})
	if err != nil {
		return Table{}, fmt.Errorf("sample rows: %w", err)
	}
	table.SampleRows = sample.Rows
	return table, nil
}

// DialectFor maps a catalog kind onto its introspection dialect.
func DialectFor(kind catalog.Kind) (Dialect, error) {
	switch kind {
	case catalog.KindSQLite:
		return SQLite, nil
	case catalog.KindDuckDB:
		return DuckDB, nil
	case catalog.KindPostgres:
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("no schema dialect for kind %q", kind)
	}
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer func() { _ = rows.Close() }()
	out := make([]string, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, rows.Err()
}
