package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultSessionLimit = 100

const sessionColumns = `id, start_time, end_time, duration_seconds, duration_hours,
	fuel_consumption_liters, start_bright_pixels, end_bright_pixels, notes`

type rowScanner interface {
	Scan(dest ...any) error
}

// StartSession opens a new session stamped with the current time and returns its id.
// It refuses to open a second session while one is still open. Events are
// written in the same transaction, so either all of it is stored or nothing is.
func (l *Ledger) StartSession(ctx context.Context, confidence int, events ...EventEntry) (int64, error) {
	ts := formatTime(l.now())
	var id int64
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		var openID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM sessions WHERE end_time IS NULL LIMIT 1`).Scan(&openID)
		switch {
		case err == nil:
			return fmt.Errorf("%w (id %d)", ErrOpenSessionExists, openID)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check open session: %w", err)
		}

		if err := tx.QueryRowContext(ctx, l.rebind(`INSERT INTO sessions (start_time, start_bright_pixels, created_at)
			VALUES (?, ?, ?) RETURNING id`), ts, confidence, ts).Scan(&id); err != nil {
			return err
		}
		return l.insertEvents(ctx, tx, events, confidence, ts)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to start session: %w", err)
	}

	l.logger.Info("session started", "id", id, "confidence", confidence)
	return id, nil
}

// EndSession closes session id, deriving duration and fuel from the current
// fuel rate. The read and the update share one transaction. Unknown or already
// closed sessions are logged and reported with ErrSessionNotFound or
// ErrSessionClosed; nothing is written in that case, events included.
func (l *Ledger) EndSession(ctx context.Context, id int64, confidence int, notes string, events ...EventEntry) (*Session, error) {
	now := l.now()
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT start_time, end_time FROM sessions WHERE id = ?`
		if l.driver == DriverPostgres {
			query += ` FOR UPDATE`
		}
		var startStr string
		var endStr sql.NullString
		err := tx.QueryRowContext(ctx, l.rebind(query), id).Scan(&startStr, &endStr)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load session: %w", err)
		}
		if endStr.Valid {
			return ErrSessionClosed
		}

		start, err := l.parseTime(startStr)
		if err != nil {
			return err
		}
		end := now
		if end.Before(start) {
			end = start
		}
		elapsed := end.Sub(start)

		var rate float64
		if err := tx.QueryRowContext(ctx, `SELECT fuel_rate_per_hour FROM fuel_config WHERE id = 1`).Scan(&rate); err != nil {
			return fmt.Errorf("failed to read fuel rate: %w", err)
		}
		hours := elapsed.Hours()

		res, err := tx.ExecContext(ctx, l.rebind(`UPDATE sessions SET
				end_time = ?,
				duration_seconds = ?,
				duration_hours = ?,
				fuel_consumption_liters = ?,
				end_bright_pixels = ?,
				notes = ?
			WHERE id = ? AND end_time IS NULL`),
			formatTime(end), int64(elapsed/time.Second), hours, hours*rate, confidence, nullString(notes), id)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrSessionClosed
		}
		return l.insertEvents(ctx, tx, events, confidence, formatTime(now))
	})

	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionClosed) {
		l.logger.Warn("end session ignored", "id", id, "reason", err)
		return nil, fmt.Errorf("session %d: %w", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to end session: %w", err)
	}

	s, err := l.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	l.logger.Info("session ended", "id", id, "hours", s.Hours(), "fuel_liters", s.Fuel())
	return s, nil
}

// ActiveSession returns the most recently started open session.
func (l *Ledger) ActiveSession(ctx context.Context) (int64, bool, error) {
	var id int64
	err := l.db.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE end_time IS NULL ORDER BY start_time DESC, id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query active session: %w", err)
	}
	return id, true, nil
}

// Session returns the session with id, or nil when it does not exist.
func (l *Ledger) Session(ctx context.Context, id int64) (*Session, error) {
	row := l.db.QueryRowContext(ctx, l.rebind(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), id)
	s, err := l.scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// Sessions returns up to limit sessions, newest first. A non-positive limit means 100.
func (l *Ledger) Sessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = defaultSessionLimit
	}
	return l.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions
		ORDER BY start_time DESC, id DESC LIMIT ?`, limit)
}

// SessionsBetween returns sessions started in [from, to), newest first.
func (l *Ledger) SessionsBetween(ctx context.Context, from, to time.Time) ([]*Session, error) {
	return l.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE start_time >= ? AND start_time < ?
		ORDER BY start_time DESC, id DESC`, formatTime(from), formatTime(to))
}

func (l *Ledger) querySessions(ctx context.Context, query string, args ...any) ([]*Session, error) {
	rows, err := l.db.QueryContext(ctx, l.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := l.scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (l *Ledger) scanSession(row rowScanner) (*Session, error) {
	var (
		s           Session
		startStr    string
		endStr      sql.NullString
		seconds     sql.NullInt64
		hours       sql.NullFloat64
		fuel        sql.NullFloat64
		startBright sql.NullInt64
		endBright   sql.NullInt64
		notes       sql.NullString
	)
	if err := row.Scan(&s.ID, &startStr, &endStr, &seconds, &hours, &fuel, &startBright, &endBright, &notes); err != nil {
		return nil, err
	}

	var err error
	if s.StartTime, err = l.parseTime(startStr); err != nil {
		return nil, err
	}
	if endStr.Valid {
		end, err := l.parseTime(endStr.String)
		if err != nil {
			return nil, err
		}
		s.EndTime = &end
	}
	if seconds.Valid {
		s.DurationSeconds = &seconds.Int64
	}
	if hours.Valid {
		s.DurationHours = &hours.Float64
	}
	if fuel.Valid {
		s.FuelLiters = &fuel.Float64
	}
	if startBright.Valid {
		v := int(startBright.Int64)
		s.StartBrightPixels = &v
	}
	if endBright.Valid {
		v := int(endBright.Int64)
		s.EndBrightPixels = &v
	}
	s.Notes = notes.String
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
