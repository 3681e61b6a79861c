package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	version  int
	sqlite   []string
	postgres []string
}

var migrations = []migration{
	{
		version: 1,
		sqlite: []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				start_time TEXT NOT NULL,
				end_time TEXT,
				duration_seconds INTEGER,
				duration_hours REAL,
				fuel_consumption_liters REAL,
				start_bright_pixels INTEGER,
				end_bright_pixels INTEGER,
				notes TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp TEXT NOT NULL,
				event_type TEXT NOT NULL CHECK (event_type IN ('ON', 'OFF', 'ERROR')),
				confidence INTEGER NOT NULL DEFAULT 0,
				message TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS fuel_config (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				fuel_rate_per_hour REAL NOT NULL,
				fuel_tank_capacity REAL NOT NULL,
				fuel_price_per_liter REAL NOT NULL,
				updated_at TEXT NOT NULL
			)`,
		},
		postgres: []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id BIGSERIAL PRIMARY KEY,
				start_time TEXT NOT NULL,
				end_time TEXT,
				duration_seconds BIGINT,
				duration_hours DOUBLE PRECISION,
				fuel_consumption_liters DOUBLE PRECISION,
				start_bright_pixels INTEGER,
				end_bright_pixels INTEGER,
				notes TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS events (
				id BIGSERIAL PRIMARY KEY,
				timestamp TEXT NOT NULL,
				event_type TEXT NOT NULL CHECK (event_type IN ('ON', 'OFF', 'ERROR')),
				confidence INTEGER NOT NULL DEFAULT 0,
				message TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS fuel_config (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				fuel_rate_per_hour DOUBLE PRECISION NOT NULL,
				fuel_tank_capacity DOUBLE PRECISION NOT NULL,
				fuel_price_per_liter DOUBLE PRECISION NOT NULL,
				updated_at TEXT NOT NULL
			)`,
		},
	},
	{
		version: 2,
		sqlite: []string{
			`CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_time DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_events_time ON events(timestamp DESC)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_single_open ON sessions((end_time IS NULL)) WHERE end_time IS NULL`,
		},
		postgres: []string{
			`CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_time DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_events_time ON events(timestamp DESC)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_single_open ON sessions((end_time IS NULL)) WHERE end_time IS NULL`,
		},
	},
}

// SchemaVersion is the version reached after all migrations.
func SchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// migrate applies each pending migration in its own transaction and seeds the
// default fuel configuration.
func (l *Ledger) migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	current, err := l.schemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		stmts := m.sqlite
		if l.driver == DriverPostgres {
			stmts = m.postgres
		}
		err := l.withTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration %d: %w", m.version, err)
				}
			}
			_, err := tx.ExecContext(ctx,
				l.rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`),
				m.version, formatTime(l.now()))
			return err
		})
		if err != nil {
			return err
		}
		l.logger.Info("migration applied", "version", m.version)
	}

	_, err = l.db.ExecContext(ctx, l.rebind(`INSERT INTO fuel_config
		(id, fuel_rate_per_hour, fuel_tank_capacity, fuel_price_per_liter, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		DefaultFuelConfig.RatePerHour, DefaultFuelConfig.TankCapacity,
		DefaultFuelConfig.PricePerLiter, formatTime(l.now()))
	if err != nil {
		return fmt.Errorf("failed to seed fuel config: %w", err)
	}
	return nil
}

func (l *Ledger) schemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := l.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(v.Int64), nil
}
