// Package source opens per-request handles onto catalog databases.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/llm4sql/llm4sql/internal/catalog"
)

var (
	ErrUnsupportedKind = errors.New("source: unsupported database kind")
	ErrDatabaseMissing = errors.New("source: database file does not exist")
)

const defaultPingTimeout = 5 * time.Second

// Opener returns a fresh handle the caller owns and must close.
type Opener interface {
	Open(ctx context.Context, db catalog.Database) (*sql.DB, error)
}

type openFunc func(db catalog.Database) (driver, dsn string, err error)

// Registry dispatches on catalog.Kind. The zero value is not usable; use NewRegistry.
type Registry struct {
	PingTimeout time.Duration
	openers     map[catalog.Kind]openFunc
	sqlOpen     func(driver, dsn string) (*sql.DB, error)
}

func NewRegistry() *Registry {
	return &Registry{
		PingTimeout: defaultPingTimeout,
		openers: map[catalog.Kind]openFunc{
			catalog.KindSQLite:   sqliteDSN,
			catalog.KindDuckDB:   duckdbDSN,
			catalog.KindPostgres: postgresDSN,
		},
		sqlOpen: sql.Open,
	}
}

func (r *Registry) Open(ctx context.Context, db catalog.Database) (*sql.DB, error) {
	build, ok := r.openers[db.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, db.Kind)
	}
	driver, dsn, err := build(db)
	if err != nil {
		return nil, err
	}

	handle, err := r.sqlOpen(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database %q: %w", db.Kind, db.Name, err)
	}
	handle.SetMaxOpenConns(1)
	handle.SetMaxIdleConns(1)

	timeout := r.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := handle.PingContext(pingCtx); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("ping %s database %q: %w", db.Kind, db.Name, err)
	}
	return handle, nil
}
