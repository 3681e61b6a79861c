// Package ledger is the durable store for generator sessions, events and the
// fuel configuration. It is the only component that writes them.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"genwatch/internal/clock"
	"genwatch/internal/logging"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// timeLayout is fixed-width so stored timestamps sort correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionClosed     = errors.New("session already closed")
	ErrOpenSessionExists = errors.New("an open session already exists")
	ErrInvalidFuelConfig = errors.New("invalid fuel config")
	ErrInvalidEventType  = errors.New("invalid event type")
	ErrUnsupportedDriver = errors.New("unsupported storage driver")
)

// Options configures Open.
type Options struct {
	Driver string
	DSN    string
	Clock  clock.Clock
	Logger *slog.Logger
}

// Ledger stores sessions, events and fuel configuration in SQLite or PostgreSQL.
type Ledger struct {
	db     *sql.DB
	driver string
	clock  clock.Clock
	logger *slog.Logger
}

// Open connects to the database and runs pending migrations.
func Open(ctx context.Context, opts Options) (*Ledger, error) {
	if opts.Driver == "" {
		opts.Driver = DriverSQLite
	}
	if opts.Clock == nil {
		opts.Clock = clock.New(time.UTC)
	}

	var (
		db  *sql.DB
		err error
	)
	switch opts.Driver {
	case DriverSQLite:
		db, err = openSQLite(ctx, opts.DSN)
	case DriverPostgres:
		db, err = sql.Open(DriverPostgres, opts.DSN)
		if err == nil {
			err = db.PingContext(ctx)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, opts.Driver)
	}
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	l := &Ledger{
		db:     db,
		driver: opts.Driver,
		clock:  opts.Clock,
		logger: logging.Component(opts.Logger, "ledger"),
	}
	if err := l.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return l, nil
}

// OpenMemory opens an in-memory SQLite ledger.
func OpenMemory(ctx context.Context, clk clock.Clock) (*Ledger, error) {
	return Open(ctx, Options{Driver: DriverSQLite, DSN: ":memory:", Clock: clk})
}

func openSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases alive and serialises writers
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to exec %q: %w", p, err)
		}
	}
	return db, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Clock returns the clock used to stamp records.
func (l *Ledger) Clock() clock.Clock {
	return l.clock
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (l *Ledger) rebind(query string) string {
	if l.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (l *Ledger) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (l *Ledger) now() time.Time {
	return l.clock.Now()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func (l *Ledger) parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t.In(l.clock.Location()), nil
}
