package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/lockerbench/internal/failure"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking for the sqlite mirror:
// 1 - Initial mirror of users, locker_info, locker_locations,
// locker_assignments and auth_refresh_tokens.
const currentSchemaVersion = 1

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Options configures Open.
type Options struct {
	// Dialect selects the driver. Defaults to postgres.
	Dialect Dialect

	// DSN is the driver-specific connection string. For sqlite it is a
	// file path.
	DSN string

	// MaxConns bounds the connection pool. Ignored for sqlite, which is
	// always limited to a single connection.
	MaxConns int
}

// Store is a connection pool to the state store.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the state store and verifies the connection.
// An unreachable store is reported as failure.KindStoreUnavailable.
func Open(ctx context.Context, opts Options) (*Store, error) {
	dialect := opts.Dialect
	if dialect == "" {
		dialect = DialectPostgres
	}

	var driver string
	switch dialect {
	case DialectPostgres:
		driver = "pgx"
	case DialectSQLite:
		driver = "sqlite3"
	default:
		return nil, fmt.Errorf("unknown store dialect %q", dialect)
	}

	db, err := sql.Open(driver, opts.DSN)
	if err != nil {
		return nil, failure.New(failure.KindStoreUnavailable, "store.open", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, failure.New(failure.KindStoreUnavailable, "store.open", err)
	}

	if dialect == DialectSQLite {
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
		if err := applySchema(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	} else if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
		db.SetMaxIdleConns(opts.MaxConns)
	}

	return &Store{db: db, dialect: dialect}, nil
}

// OpenSQLite opens (creating if needed) a sqlite mirror at path.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	return Open(ctx, Options{Dialect: DialectSQLite, DSN: path})
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dialect returns the dialect the store was opened with.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return failure.New(failure.KindStoreUnavailable, "store.ping", err)
	}
	return nil
}

// Queries returns a query set running outside any transaction. Each
// statement commits on its own, which is what forced cleanup relies on.
func (s *Store) Queries() *Queries {
	return &Queries{q: s.db, dialect: s.dialect}
}

// InTx runs fn inside a single transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, readOnly bool, fn func(*Queries) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Queries{q: tx, dialect: s.dialect}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates the mirror tables if they don't exist and records the
// schema version. Idempotent.
func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// rebind rewrites `?` placeholders to `$n` for postgres.
func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
