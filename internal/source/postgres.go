package source

import (
	"fmt"
	"net/url"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/llm4sql/llm4sql/internal/catalog"
)

const readOnlyParam = "default_transaction_read_only"

// postgresDSN forces every transaction on the handle to be read-only; pgx
// sends unknown DSN parameters to the server as runtime settings.
func postgresDSN(db catalog.Database) (string, string, error) {
	if db.DSN == "" {
		return "", "", fmt.Errorf("postgres database %q: dsn is required", db.Name)
	}
	dsn, err := readOnlyDSN(db.DSN)
	if err != nil {
		return "", "", fmt.Errorf("postgres database %q: %w", db.Name, err)
	}
	return "pgx", dsn, nil
}

func readOnlyDSN(dsn string) (string, error) {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return strings.TrimSpace(dsn) + " " + readOnlyParam + "=on", nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	q := u.Query()
	q.Set(readOnlyParam, "on")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
