package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

const defaultEventLimit = 50

// AddEvent appends an event stamped with the current time.
func (l *Ledger) AddEvent(ctx context.Context, typ EventType, confidence int, message string) (int64, error) {
	var id int64
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = l.insertEvent(ctx, tx, typ, confidence, message, formatTime(l.now()))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add event: %w", err)
	}
	return id, nil
}

func (l *Ledger) insertEvent(ctx context.Context, tx *sql.Tx, typ EventType, confidence int, message, ts string) (int64, error) {
	if !typ.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidEventType, typ)
	}
	var id int64
	err := tx.QueryRowContext(ctx, l.rebind(`INSERT INTO events (timestamp, event_type, confidence, message)
		VALUES (?, ?, ?, ?) RETURNING id`),
		ts, string(typ), confidence, nullString(message)).Scan(&id)
	return id, err
}

func (l *Ledger) insertEvents(ctx context.Context, tx *sql.Tx, events []EventEntry, confidence int, ts string) error {
	for _, e := range events {
		if _, err := l.insertEvent(ctx, tx, e.Type, confidence, e.Message, ts); err != nil {
			return fmt.Errorf("failed to add %s event: %w", e.Type, err)
		}
	}
	return nil
}

// Events returns up to limit events, newest first, optionally filtered by type.
func (l *Ledger) Events(ctx context.Context, limit int, typ EventType) ([]*Event, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}

	query := `SELECT id, timestamp, event_type, confidence, message FROM events WHERE 1=1`
	var args []any
	if typ != "" {
		query += ` AND event_type = ?`
		args = append(args, string(typ))
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, l.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e         Event
			ts, etype string
			message   sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &etype, &e.Confidence, &message); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if e.Timestamp, err = l.parseTime(ts); err != nil {
			return nil, err
		}
		e.Type = EventType(etype)
		e.Message = message.String
		events = append(events, &e)
	}
	return events, rows.Err()
}
