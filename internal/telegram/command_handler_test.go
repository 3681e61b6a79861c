package telegram

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genwatch/internal/clock"
	"genwatch/internal/ledger"
	"genwatch/internal/monitor"
	"genwatch/internal/stats"
)

type stubMonitor struct {
	status monitor.Status
	frame  image.Image
}

func (s stubMonitor) Status() monitor.Status { return s.status }

func (s stubMonitor) Snapshot() (image.Image, time.Time, error) {
	if s.frame == nil {
		return nil, time.Time{}, monitor.ErrNoFrame
	}
	return s.frame, s.status.LastFrameAt, nil
}

type stubReporter struct{}

func (stubReporter) Report(_ context.Context, p stats.Period) (string, error) {
	if p == stats.PeriodMonth {
		return "", errors.New("db closed")
	}
	return "report:" + string(p), nil
}

type stubHistory struct {
	sessions []*ledger.Session
	limit    int
}

func (h *stubHistory) Sessions(_ context.Context, limit int) ([]*ledger.Session, error) {
	h.limit = limit
	if limit < len(h.sessions) {
		return h.sessions[:limit], nil
	}
	return h.sessions, nil
}

func (h *stubHistory) FuelConfig(context.Context) (ledger.FuelConfig, error) {
	return ledger.FuelConfig{RatePerHour: 2, TankCapacity: 20, PricePerLiter: 50}, nil
}

func newTestHandler(t *testing.T, mon stubMonitor) (*CommandHandler, *fakeAPI, *stubHistory) {
	t.Helper()
	bot, api := newTestBot(t)
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)
	hours, fuel := 1.5, 3.0
	history := &stubHistory{sessions: []*ledger.Session{
		{ID: 2, StartTime: start.Add(3 * time.Hour)},
		{ID: 1, StartTime: start, EndTime: &end, DurationHours: &hours, FuelLiters: &fuel},
	}}
	clk := clock.NewManual(start.Add(26 * time.Hour))
	return NewCommandHandler(bot, mon, stubReporter{}, history, clk, "UAH"), api, history
}

func message(id int64, chat int64, text string) Update {
	return Update{UpdateID: id, Message: &Message{MessageID: id, Chat: &Chat{ID: chat}, Text: text}}
}

func TestPollAnswersAuthorizedChatOnly(t *testing.T) {
	ch, api, _ := newTestHandler(t, stubMonitor{})
	api.updates = []Update{
		message(10, 7, "/status"),
		message(11, 42, "hello"),
		message(12, 42, "/help@genwatch_bot"),
	}

	require.NoError(t, ch.pollUpdates(context.Background()))
	texts := api.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Available Commands")

	require.NoError(t, ch.pollUpdates(context.Background()))
	assert.Equal(t, []int64{1, 13}, api.offsets)
	assert.Len(t, api.texts(), 1, "updates are consumed once")
}

func TestStatusCommand(t *testing.T) {
	started := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	ch, api, _ := newTestHandler(t, stubMonitor{status: monitor.Status{
		State:           monitor.StateOn,
		Connected:       true,
		Camera:          "yard",
		ActiveSessionID: 2,
		StartedAt:       started,
		LastConfidence:  120,
		LastFrameAt:     started.Add(time.Hour),
	}})
	api.updates = []Update{message(1, 42, "/status")}

	require.NoError(t, ch.pollUpdates(context.Background()))
	texts := api.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Generator: <b>ON</b>")
	assert.Contains(t, texts[0], "Active session: #2")
	assert.Contains(t, texts[0], "Bright pixels: 120")
	assert.Contains(t, texts[0], "Uptime: 1d 2h 0m")
}

func TestReportCommands(t *testing.T) {
	ch, api, _ := newTestHandler(t, stubMonitor{})
	api.updates = []Update{message(1, 42, "/week"), message(2, 42, "/month")}

	require.NoError(t, ch.pollUpdates(context.Background()))
	texts := api.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "report:week", texts[0])
	assert.Contains(t, texts[1], "Failed to build report")
}

func TestSessionsCommand(t *testing.T) {
	ch, api, history := newTestHandler(t, stubMonitor{})
	api.updates = []Update{message(1, 42, "/sessions 100"), message(2, 42, "/sessions x")}

	require.NoError(t, ch.pollUpdates(context.Background()))
	assert.Equal(t, maxSessionsList, history.limit)
	texts := api.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "#2 01.05 12:00, running")
	assert.Contains(t, texts[0], "#1 01.05 09:00-10:30, 1h 30m, 3.00 l")
	assert.Equal(t, "Usage: /sessions [n]", texts[1])
}

func TestFuelCommand(t *testing.T) {
	ch, api, _ := newTestHandler(t, stubMonitor{})
	api.updates = []Update{message(1, 42, "/fuel")}

	require.NoError(t, ch.pollUpdates(context.Background()))
	texts := api.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Consumption: 2.00 l/h")
	assert.Contains(t, texts[0], "Price: 50.00 UAH/l")
	assert.Contains(t, texts[0], "Full tank lasts: 10h 0m")
}

func TestSnapshotCommand(t *testing.T) {
	ch, api, _ := newTestHandler(t, stubMonitor{})
	api.updates = []Update{message(1, 42, "/snapshot")}
	require.NoError(t, ch.pollUpdates(context.Background()))
	assert.Equal(t, []string{"📷 No frame captured yet."}, api.texts())

	ch2, api2, _ := newTestHandler(t, stubMonitor{
		status: monitor.Status{Camera: "yard", State: monitor.StateOff},
		frame:  image.NewRGBA(image.Rect(0, 0, 8, 8)),
	})
	api2.updates = []Update{message(1, 42, "/snapshot")}
	require.NoError(t, ch2.pollUpdates(context.Background()))
	assert.Equal(t, 1, api2.photos)
	require.Len(t, api2.captions, 1)
	assert.Contains(t, api2.captions[0], "yard")
}

func TestUnknownCommand(t *testing.T) {
	ch, api, _ := newTestHandler(t, stubMonitor{})
	api.updates = []Update{message(1, 42, "/reboot")}
	require.NoError(t, ch.pollUpdates(context.Background()))
	require.Len(t, api.texts(), 1)
	assert.Contains(t, api.texts()[0], "Unknown command: /reboot")
}

func TestStartPollingDisabled(t *testing.T) {
	bot, err := NewBot(Config{})
	require.NoError(t, err)
	ch := NewCommandHandler(bot, stubMonitor{}, stubReporter{}, &stubHistory{}, nil, "UAH")
	assert.ErrorIs(t, ch.StartPolling(context.Background()), ErrDisabled)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0m", formatDuration(-time.Minute))
	assert.Equal(t, "45m", formatDuration(45*time.Minute))
	assert.Equal(t, "2h 5m", formatDuration(2*time.Hour+5*time.Minute))
	assert.Equal(t, "1d 0h 30m", formatDuration(24*time.Hour+30*time.Minute))
}
