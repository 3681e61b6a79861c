package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genwatch/internal/clock"
)

var kyiv = time.FixedZone("EET", 2*3600)

func newTestLedger(t *testing.T) (*Ledger, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2024, 3, 10, 8, 0, 0, 0, kyiv))
	l, err := OpenMemory(context.Background(), clk)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, clk
}

func TestOpenRunsMigrations(t *testing.T) {
	l, _ := newTestLedger(t)
	v, err := l.schemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion(), v)

	cfg, err := l.FuelConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.5, cfg.RatePerHour)
	assert.Equal(t, 20.0, cfg.TankCapacity)
	assert.Equal(t, 50.0, cfg.PricePerLiter)
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "mysql", DSN: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "ledger.db")
	clk := clock.NewManual(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	l, err := Open(ctx, Options{DSN: path, Clock: clk})
	require.NoError(t, err)
	_, err = l.UpdateFuelConfig(ctx, FuelConfig{RatePerHour: 2, TankCapacity: 30, PricePerLiter: 55})
	require.NoError(t, err)
	id, err := l.StartSession(ctx, 80)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = Open(ctx, Options{DSN: path, Clock: clk})
	require.NoError(t, err)
	defer l.Close()

	cfg, err := l.FuelConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, cfg.RatePerHour)

	active, ok, err := l.ActiveSession(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, active)
}

func TestStartEndSameInstant(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	id, err := l.StartSession(ctx, 120)
	require.NoError(t, err)
	s, err := l.EndSession(ctx, id, 0, "")
	require.NoError(t, err)

	require.NotNil(t, s.DurationSeconds)
	assert.Equal(t, int64(0), *s.DurationSeconds)
	assert.Equal(t, 0.0, s.Hours())
	assert.Equal(t, 0.0, s.Fuel())
	assert.False(t, s.IsOpen())
	assert.Equal(t, 120, *s.StartBrightPixels)
	assert.Equal(t, 0, *s.EndBrightPixels)
}

func TestEndSessionDerivesDurationAndFuel(t *testing.T) {
	ctx := context.Background()
	l, clk := newTestLedger(t)

	id, err := l.StartSession(ctx, 90)
	require.NoError(t, err)

	s, err := l.Session(ctx, id)
	require.NoError(t, err)
	assert.True(t, s.IsOpen())
	assert.Nil(t, s.DurationHours)
	assert.Nil(t, s.FuelLiters)

	clk.Advance(90 * time.Minute)
	s, err = l.EndSession(ctx, id, 3, "normal stop")
	require.NoError(t, err)

	assert.Equal(t, int64(5400), *s.DurationSeconds)
	assert.InDelta(t, 1.5, s.Hours(), 1e-9)
	assert.InDelta(t, 2.25, s.Fuel(), 1e-9)
	assert.Equal(t, "normal stop", s.Notes)
	assert.True(t, clk.Now().Equal(*s.EndTime))
	assert.Equal(t, kyiv, s.StartTime.Location())
	assert.False(t, s.EndTime.Before(s.StartTime))
}

func TestEndSessionUsesCurrentFuelRate(t *testing.T) {
	ctx := context.Background()
	l, clk := newTestLedger(t)

	id, err := l.StartSession(ctx, 90)
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)
	_, err = l.UpdateFuelConfig(ctx, FuelConfig{RatePerHour: 3, TankCapacity: 20, PricePerLiter: 50})
	require.NoError(t, err)

	s, err := l.EndSession(ctx, id, 0, "")
	require.NoError(t, err)
	assert.InDelta(t, 6.0, s.Fuel(), 1e-9)
}

func TestEndSessionIsNoOpWhenClosedOrMissing(t *testing.T) {
	ctx := context.Background()
	l, clk := newTestLedger(t)

	id, err := l.StartSession(ctx, 90)
	require.NoError(t, err)
	clk.Advance(time.Hour)
	first, err := l.EndSession(ctx, id, 0, "")
	require.NoError(t, err)

	clk.Advance(time.Hour)
	s, err := l.EndSession(ctx, id, 0, "again")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Nil(t, s)

	after, err := l.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first, after)

	_, err = l.EndSession(ctx, 999, 0, "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSingleOpenSession(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	_, ok, err := l.ActiveSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := l.StartSession(ctx, 60)
	require.NoError(t, err)

	_, err = l.StartSession(ctx, 60)
	assert.ErrorIs(t, err, ErrOpenSessionExists)

	active, ok, err := l.ActiveSession(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, active)

	_, err = l.EndSession(ctx, id, 0, "")
	require.NoError(t, err)
	_, ok, err = l.ActiveSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionEventsShareTransaction(t *testing.T) {
	l, clk := newTestLedger(t)
	ctx := context.Background()

	_, err := l.StartSession(ctx, 90, EventEntry{Type: "BOGUS"})
	require.ErrorIs(t, err, ErrInvalidEventType)
	_, open, err := l.ActiveSession(ctx)
	require.NoError(t, err)
	assert.False(t, open, "session insert must roll back with its event")

	id, err := l.StartSession(ctx, 90, EventEntry{Type: EventOn, Message: "on"})
	require.NoError(t, err)
	events, err := l.Events(ctx, 0, EventOn)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 90, events[0].Confidence)

	clk.Advance(time.Hour)
	_, err = l.EndSession(ctx, id, 5, "", EventEntry{Type: "BOGUS"})
	require.ErrorIs(t, err, ErrInvalidEventType)
	s, err := l.Session(ctx, id)
	require.NoError(t, err)
	assert.True(t, s.IsOpen())

	s, err = l.EndSession(ctx, id, 5, "", EventEntry{Type: EventOff, Message: "off"})
	require.NoError(t, err)
	assert.False(t, s.IsOpen())
	events, err = l.Events(ctx, 0, EventOff)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 5, events[0].Confidence)
}

func TestSessionMissing(t *testing.T) {
	l, _ := newTestLedger(t)
	s, err := l.Session(context.Background(), 42)
	assert.NoError(t, err)
	assert.Nil(t, s)
}

func TestSessionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	l, clk := newTestLedger(t)

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := l.StartSession(ctx, 70)
		require.NoError(t, err)
		clk.Advance(30 * time.Minute)
		_, err = l.EndSession(ctx, id, 0, "")
		require.NoError(t, err)
		clk.Advance(time.Hour)
		ids = append(ids, id)
	}

	sessions, err := l.Sessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, ids[2], sessions[0].ID)
	assert.Equal(t, ids[0], sessions[2].ID)

	sessions, err = l.Sessions(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestSessionsBetween(t *testing.T) {
	ctx := context.Background()
	l, clk := newTestLedger(t)

	day := clock.StartOfDay(clk.Now(), kyiv)
	for _, offset := range []time.Duration{-2 * time.Hour, 9 * time.Hour, 23 * time.Hour, 25 * time.Hour} {
		clk.Set(day.Add(offset))
		id, err := l.StartSession(ctx, 70)
		require.NoError(t, err)
		clk.Advance(10 * time.Minute)
		_, err = l.EndSession(ctx, id, 0, "")
		require.NoError(t, err)
	}

	sessions, err := l.SessionsBetween(ctx, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.True(t, day.Add(23*time.Hour).Equal(sessions[0].StartTime))
	assert.True(t, day.Add(9*time.Hour).Equal(sessions[1].StartTime))
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	l, clk := newTestLedger(t)

	for _, typ := range []EventType{EventOn, EventOff, EventError, EventOn} {
		_, err := l.AddEvent(ctx, typ, 55, "lamp "+string(typ))
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}

	_, err := l.AddEvent(ctx, "BOGUS", 0, "")
	assert.ErrorIs(t, err, ErrInvalidEventType)

	all, err := l.Events(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, EventOn, all[0].Type)
	assert.Equal(t, EventOn, all[3].Type)
	assert.True(t, all[0].Timestamp.After(all[3].Timestamp))

	on, err := l.Events(ctx, 10, EventOn)
	require.NoError(t, err)
	assert.Len(t, on, 2)
	assert.Equal(t, "lamp ON", on[0].Message)
	assert.Equal(t, 55, on[0].Confidence)

	limited, err := l.Events(ctx, 1, "")
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestUpdateFuelConfigValidation(t *testing.T) {
	ctx := context.Background()
	l, clk := newTestLedger(t)

	_, err := l.UpdateFuelConfig(ctx, FuelConfig{RatePerHour: -1, TankCapacity: 20, PricePerLiter: 50})
	assert.ErrorIs(t, err, ErrInvalidFuelConfig)

	clk.Advance(time.Hour)
	cfg, err := l.UpdateFuelConfig(ctx, FuelConfig{RatePerHour: 1.8, TankCapacity: 25, PricePerLiter: 52.5})
	require.NoError(t, err)
	assert.Equal(t, 1.8, cfg.RatePerHour)
	assert.Equal(t, 25.0, cfg.TankCapacity)
	assert.Equal(t, 52.5, cfg.PricePerLiter)
	assert.True(t, clk.Now().Equal(cfg.UpdatedAt))
}

func TestRebind(t *testing.T) {
	l := &Ledger{driver: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", l.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	l.driver = DriverSQLite
	assert.Equal(t, "x = ?", l.rebind("x = ?"))
}
