package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/llm4sql/llm4sql/internal/query"
)

// Dialect holds the catalog queries for one database engine.
type Dialect struct {
	Name       string
	tableNames func(ctx context.Context, db query.Queryer) ([]string, error)
	columns    func(ctx context.Context, db query.Queryer, table string) ([]Column, error)
}

var SQLite = Dialect{
	Name: "sqlite",
	tableNames: func(ctx context.Context, db query.Queryer) ([]string, error) {
		rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'`)
		if err != nil {
			return nil, err
		}
		return scanStrings(rows)
	},
	columns: func(ctx context.Context, db query.Queryer, table string) ([]Column, error) {
		rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", query.QuoteIdent(table)))
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()

		columns := make([]Column, 0)
		for rows.Next() {
			var (
				cid      int
				name     string
				typ      string
				notNull  int
				defValue any
				pk       int
			)
			if err := rows.Scan(&cid, &name, &typ, &notNull, &defValue, &pk); err != nil {
				return nil, err
			}
			columns = append(columns, Column{Name: name, Type: typ})
		}
		return columns, rows.Err()
	},
}

var DuckDB = informationSchema("duckdb", "main",
	`SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_type = 'BASE TABLE' ORDER BY table_name`,
	`SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position`,
)

var Postgres = informationSchema("postgres", "public",
	`SELECT table_name FROM information_schema.tables WHERE table_schema = $1 AND table_type = 'BASE TABLE' ORDER BY table_name`,
	`SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`,
)

func informationSchema(name, schemaName, tablesSQL, columnsSQL string) Dialect {
	return Dialect{
		Name: name,
		tableNames: func(ctx context.Context, db query.Queryer) ([]string, error) {
			rows, err := db.QueryContext(ctx, tablesSQL, schemaName)
			if err != nil {
				return nil, err
			}
			return scanStrings(rows)
		},
		columns: func(ctx context.Context, db query.Queryer, table string) ([]Column, error) {
			rows, err := db.QueryContext(ctx, columnsSQL, schemaName, table)
			if err != nil {
				return nil, err
			}
			defer func() { _ = rows.Close() }()

			columns := make([]Column, 0)
			for rows.Next() {
				var column Column
				var dataType sql.NullString
				if err := rows.Scan(&column.Name, &dataType); err != nil {
					return nil, err
				}
				column.Type = dataType.String
				columns = append(columns, column)
			}
			return columns, rows.Err()
		},
	}
}
