package api

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genwatch/internal/clock"
	"genwatch/internal/ledger"
	"genwatch/internal/metrics"
	"genwatch/internal/monitor"
	"genwatch/internal/stats"
)

type stubMonitor struct {
	frame image.Image
}

func (s stubMonitor) Status() monitor.Status {
	return monitor.Status{State: monitor.StateOn, Connected: true, Camera: "yard", ActiveSessionID: 1}
}

func (s stubMonitor) Snapshot() (image.Image, time.Time, error) {
	if s.frame == nil {
		return nil, time.Time{}, monitor.ErrNoFrame
	}
	return s.frame, time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), nil
}

type fixture struct {
	srv    *httptest.Server
	ledger *ledger.Ledger
	clock  *clock.Manual
}

func newFixture(t *testing.T, mon StatusSource) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC))
	l, err := ledger.OpenMemory(context.Background(), clk)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	s := New(Deps{
		Monitor: mon,
		Store:   l,
		Stats:   stats.New(l, clk, stats.WithCurrency("UAH")),
		Metrics: metrics.New().Handler(),
		Clock:   clk,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, ledger: l, clock: clk}
}

func (f *fixture) closedSession(t *testing.T, d time.Duration) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := f.ledger.StartSession(ctx, 100)
	require.NoError(t, err)
	f.clock.Advance(d)
	_, err = f.ledger.EndSession(ctx, id, 3, "")
	require.NoError(t, err)
	return id
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t, stubMonitor{})

	resp := f.do(t, "GET", "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	decode(t, resp, &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, true, health["camera_connected"])

	resp = f.do(t, "GET", "/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st monitor.Status
	decode(t, resp, &st)
	assert.Equal(t, monitor.StateOn, st.State)
	assert.Equal(t, "yard", st.Camera)
}

func TestSessionsEndpoints(t *testing.T) {
	f := newFixture(t, stubMonitor{})
	id := f.closedSession(t, 2*time.Hour)

	resp := f.do(t, "GET", "/api/sessions?limit=10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sessions []ledger.Session
	decode(t, resp, &sessions)
	require.Len(t, sessions, 1)
	assert.InDelta(t, 2.0, *sessions[0].DurationHours, 1e-9)

	resp = f.do(t, "GET", "/api/sessions/"+strconv.FormatInt(id, 10), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var s ledger.Session
	decode(t, resp, &s)
	assert.Equal(t, id, s.ID)

	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/api/sessions/999", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/api/sessions/abc", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/api/sessions?limit=-1", "").StatusCode)
}

func TestEmptyListsAreArrays(t *testing.T) {
	f := newFixture(t, stubMonitor{})
	resp := f.do(t, "GET", "/api/events", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var raw json.RawMessage
	decode(t, resp, &raw)
	assert.Equal(t, "[]", strings.TrimSpace(string(raw)))
}

func TestEventsFilter(t *testing.T) {
	f := newFixture(t, stubMonitor{})
	ctx := context.Background()
	_, err := f.ledger.AddEvent(ctx, ledger.EventOn, 100, "on")
	require.NoError(t, err)
	_, err = f.ledger.AddEvent(ctx, ledger.EventError, 0, "bad roi")
	require.NoError(t, err)

	resp := f.do(t, "GET", "/api/events?type=error", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events []ledger.Event
	decode(t, resp, &events)
	require.Len(t, events, 1)
	assert.Equal(t, ledger.EventError, events[0].Type)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/api/events?type=BOOM", "").StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t, stubMonitor{})
	f.closedSession(t, time.Hour)

	resp := f.do(t, "GET", "/api/stats/today", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var day stats.DailyStats
	decode(t, resp, &day)
	assert.Equal(t, "2024-03-10", day.Date)
	assert.Equal(t, 1, day.SessionsCount)
	assert.InDelta(t, 75.0, day.TotalCost, 1e-9)

	resp = f.do(t, "GET", "/api/stats/week", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var week []stats.DailyStats
	decode(t, resp, &week)
	assert.Len(t, week, 7)

	resp = f.do(t, "GET", "/api/stats/month?format=text", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/api/stats/decade", "").StatusCode)
}

func TestFuelEndpoints(t *testing.T) {
	f := newFixture(t, stubMonitor{})

	resp := f.do(t, "PUT", "/api/fuel", `{"fuel_price_per_liter": 55.5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cfg ledger.FuelConfig
	decode(t, resp, &cfg)
	assert.Equal(t, 55.5, cfg.PricePerLiter)
	assert.Equal(t, 1.5, cfg.RatePerHour)

	resp = f.do(t, "GET", "/api/fuel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &cfg)
	assert.Equal(t, 55.5, cfg.PricePerLiter)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "PUT", "/api/fuel", `{"fuel_rate_per_hour": -2}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "PUT", "/api/fuel", `{`).StatusCode)
}

func TestSnapshotEndpoint(t *testing.T) {
	f := newFixture(t, stubMonitor{})
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, "GET", "/api/snapshot", "").StatusCode)

	f = newFixture(t, stubMonitor{frame: image.NewRGBA(image.Rect(0, 0, 16, 16))})
	resp := f.do(t, "GET", "/api/snapshot", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
}

func TestExportSessionsCSV(t *testing.T) {
	f := newFixture(t, stubMonitor{})
	f.closedSession(t, time.Hour)

	resp := f.do(t, "GET", "/api/sessions/export?from=2024-03-01", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")

	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/api/sessions/export?format=pdf", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/api/sessions/export?from=march", "").StatusCode)
}

func TestMetricsMounted(t *testing.T) {
	f := newFixture(t, stubMonitor{})
	resp := f.do(t, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestParseRange(t *testing.T) {
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

	from, to, err := parseRange("", "", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), to)

	from, to, err = parseRange("2024-02-01", "", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), to)
	assert.Equal(t, 2024, from.Year())

	_, _, err = parseRange("2024-02-10", "2024-02-01", now)
	assert.Error(t, err)
}

func TestExportDefaultsToClockMonth(t *testing.T) {
	f := newFixture(t, stubMonitor{})
	f.closedSession(t, time.Hour)

	resp := f.do(t, "GET", "/api/sessions/export", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "1,"))
}

func TestExportXLSXSingleMonth(t *testing.T) {
	f := newFixture(t, stubMonitor{})
	f.closedSession(t, time.Hour)

	resp := f.do(t, "GET", "/api/sessions/export?format=xlsx&from=2024-03-01", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")

	resp = f.do(t, "GET", "/api/sessions/export?format=xlsx&from=2024-02-01&to=2024-04-01", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, "GET", "/api/sessions/export?format=csv&from=2024-02-01&to=2024-04-01", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
