// Package bunx opens the user directory database.
package bunx

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"
)

// Backend names the database engine behind a DSN.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

const defaultPostgresConns = 10

// sqlitePragmas run on every new sqlite directory.
var sqlitePragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
}

// BackendFor picks the backend from the DSN scheme. Anything that is not a
// postgres URL is treated as a sqlite path or URI.
func BackendFor(dsn string) Backend {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, scheme) {
			return BackendPostgres
		}
	}
	return BackendSQLite
}

// NewDB opens and pings the directory database. maxConns bounds the postgres
// pool; sqlite is pinned to one connection so ":memory:" survives between queries.
func NewDB(ctx context.Context, dsn string, maxConns int) (*bun.DB, error) {
	var (
		db  *bun.DB
		err error
	)
	switch BackendFor(dsn) {
	case BackendPostgres:
		db = openPostgres(dsn, maxConns)
	default:
		db, err = openSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
		if err != nil {
			return nil, err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s directory: %w", BackendFor(dsn), err)
	}
	return db, nil
}

func openPostgres(dsn string, maxConns int) *bun.DB {
	if maxConns <= 0 {
		maxConns = defaultPostgresConns
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	sqldb.SetMaxOpenConns(maxConns)
	sqldb.SetMaxIdleConns(maxConns)
	return bun.NewDB(sqldb, pgdialect.New())
}

func openSQLite(ctx context.Context, dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite directory: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	for _, pragma := range sqlitePragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return db, nil
}

// Close closes db; a nil db is a no-op.
func Close(db *bun.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
