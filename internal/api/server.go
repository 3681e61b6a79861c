// Package api serves the admin HTTP API and the gRPC health service.
package api

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"

	"genwatch/internal/clock"
	"genwatch/internal/export"
	"genwatch/internal/ledger"
	"genwatch/internal/logging"
	"genwatch/internal/monitor"
	"genwatch/internal/stats"
	"genwatch/internal/visualize"
)

const (
	defaultSessionLimit = 100
	defaultEventLimit   = 50
	maxLimit            = 1000
)

// StatusSource exposes the live monitor state.
type StatusSource interface {
	Status() monitor.Status
	Snapshot() (image.Image, time.Time, error)
}

// Store is the part of the ledger the API reads and administers.
type Store interface {
	Sessions(ctx context.Context, limit int) ([]*ledger.Session, error)
	Session(ctx context.Context, id int64) (*ledger.Session, error)
	SessionsBetween(ctx context.Context, from, to time.Time) ([]*ledger.Session, error)
	Events(ctx context.Context, limit int, typ ledger.EventType) ([]*ledger.Event, error)
	FuelConfig(ctx context.Context) (ledger.FuelConfig, error)
	UpdateFuelConfig(ctx context.Context, cfg ledger.FuelConfig) (ledger.FuelConfig, error)
}

// Stats computes rollups.
type Stats interface {
	Today(ctx context.Context) (stats.DailyStats, error)
	Yesterday(ctx context.Context) (stats.DailyStats, error)
	Week(ctx context.Context) ([]stats.DailyStats, error)
	Month(ctx context.Context, year int, month time.Month) (stats.MonthlyStats, error)
	Report(ctx context.Context, period stats.Period) (string, error)
	Currency() string
}

// Deps are the collaborators of the admin API. Metrics and WebSocket may be nil.
type Deps struct {
	Monitor   StatusSource
	Store     Store
	Stats     Stats
	Metrics   http.Handler
	WebSocket http.Handler
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Mount describes one registered route.
type Mount struct {
	Method  string
	Verb    string
	Pattern string
}

// Server routes admin requests.
type Server struct {
	deps   Deps
	mux    goahttp.Muxer
	loc    *time.Location
	logger *slog.Logger
	Mounts []Mount
}

// New creates a Server with every route mounted. A nil clock means the real clock in UTC.
func New(deps Deps) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.New(time.UTC)
	}
	s := &Server{
		deps:   deps,
		mux:    goahttp.NewMuxer(),
		loc:    deps.Clock.Location(),
		logger: logging.Component(deps.Logger, "api"),
	}

	s.handle("health", "GET", "/healthz", s.health)
	s.handle("status", "GET", "/api/status", s.status)
	s.handle("list sessions", "GET", "/api/sessions", s.listSessions)
	s.handle("export sessions", "GET", "/api/sessions/export", s.exportSessions)
	s.handle("show session", "GET", "/api/sessions/{id}", s.showSession)
	s.handle("list events", "GET", "/api/events", s.listEvents)
	s.handle("stats", "GET", "/api/stats/{period}", s.periodStats)
	s.handle("show fuel", "GET", "/api/fuel", s.showFuel)
	s.handle("update fuel", "PUT", "/api/fuel", s.updateFuel)
	s.handle("snapshot", "GET", "/api/snapshot", s.snapshot)
	if deps.Metrics != nil {
		s.handle("metrics", "GET", "/metrics", deps.Metrics.ServeHTTP)
	}
	return s
}

func (s *Server) handle(name, verb, pattern string, h http.HandlerFunc) {
	s.mux.Handle(verb, pattern, h)
	s.Mounts = append(s.Mounts, Mount{Method: name, Verb: verb, Pattern: pattern})
}

// Handler wraps the routes with request ids, access logging and panic recovery.
// The WebSocket endpoint bypasses the logging middleware so the connection can be hijacked.
func (s *Server) Handler() http.Handler {
	stdlog := logging.StdLog(s.deps.Logger, "api")

	var handler http.Handler = s.mux
	{
		handler = httpmdlwr.Log(middleware.NewLogger(stdlog))(handler)
		handler = httpmdlwr.RequestID()(handler)
	}

	root := http.NewServeMux()
	if s.deps.WebSocket != nil {
		root.Handle("/ws/state", s.deps.WebSocket)
	}
	root.Handle("/", handler)

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(stdlog),
		handlers.PrintRecoveryStack(true),
	)(root)
}

// errorBody is returned for every failed request.
type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(status)
	if err := enc.Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	id, _ := ctx.Value(middleware.RequestIDKey).(string)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "request_id", id, "error", err)
	}
	s.writeJSON(ctx, w, status, errorBody{Error: err.Error(), RequestID: id})
}

func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxLimit), nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Monitor.Status()
	body := map[string]any{
		"status":           "ok",
		"camera_connected": st.Connected,
		"state":            st.State,
	}
	s.writeJSON(r.Context(), w, http.StatusOK, body)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(r.Context(), w, http.StatusOK, s.deps.Monitor.Status())
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := queryLimit(r, defaultSessionLimit)
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}
	sessions, err := s.deps.Store.Sessions(ctx, limit)
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err)
		return
	}
	if sessions == nil {
		sessions = []*ledger.Session{}
	}
	s.writeJSON(ctx, w, http.StatusOK, sessions)
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(s.mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, errors.New("session id must be an integer"))
		return
	}
	session, err := s.deps.Store.Session(ctx, id)
	switch {
	case err != nil:
		s.writeError(ctx, w, http.StatusInternalServerError, err)
	case session == nil:
		s.writeError(ctx, w, http.StatusNotFound, ledger.ErrSessionNotFound)
	default:
		s.writeJSON(ctx, w, http.StatusOK, session)
	}
}

// exportSessions streams sessions started within ?from=YYYY-MM-DD&to=YYYY-MM-DD (to exclusive)
// as CSV or XLSX.
func (s *Server) exportSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	format, err := export.ParseFormat(q.Get("format"))
	if q.Get("format") == "" {
		format, err = export.FormatCSV, nil
	}
	if err == nil && format == export.FormatPDF {
		err = errors.New("pdf is only available for monthly reports")
	}
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}

	from, to, err := parseRange(q.Get("from"), q.Get("to"), s.deps.Clock.Now())
	if err == nil && format == export.FormatXLSX && to.After(monthStart(from).AddDate(0, 1, 0)) {
		err = errors.New("xlsx export covers one calendar month")
	}
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}
	sessions, err := s.deps.Store.SessionsBetween(ctx, from, to)
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err)
		return
	}
	fuel, err := s.deps.Store.FuelConfig(ctx)
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="sessions.`+string(format)+`"`)
	switch format {
	case export.FormatCSV:
		err = export.SessionsCSV(w, sessions, s.loc, fuel.PricePerLiter)
	case export.FormatXLSX:
		var data []byte
		ms := stats.Monthly(from.Year(), from.Month(), sessions, fuel.PricePerLiter)
		data, err = export.MonthXLSX(ms, sessions, s.loc, fuel.PricePerLiter, s.deps.Stats.Currency())
		if err == nil {
			_, err = w.Write(data)
		}
	}
	if err != nil {
		s.logger.Error("export failed", "format", format, "error", err)
	}
}

// parseRange reads from/to dates in now's location. Without from it covers the current month.
func parseRange(fromStr, toStr string, now time.Time) (time.Time, time.Time, error) {
	const layout = "2006-01-02"
	loc := now.Location()
	from := monthStart(now)
	to := from.AddDate(0, 1, 0)
	var err error
	if fromStr != "" {
		if from, err = time.ParseInLocation(layout, fromStr, loc); err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be YYYY-MM-DD")
		}
		if toStr == "" {
			to = from.AddDate(0, 1, 0)
		}
	}
	if toStr != "" {
		if to, err = time.ParseInLocation(layout, toStr, loc); err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be YYYY-MM-DD")
		}
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	return from, to, nil
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := queryLimit(r, defaultEventLimit)
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}
	typ := ledger.EventType(strings.ToUpper(r.URL.Query().Get("type")))
	if typ != "" && !typ.Valid() {
		s.writeError(ctx, w, http.StatusBadRequest, ledger.ErrInvalidEventType)
		return
	}
	events, err := s.deps.Store.Events(ctx, limit, typ)
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []*ledger.Event{}
	}
	s.writeJSON(ctx, w, http.StatusOK, events)
}

// periodStats returns JSON rollups, or the formatted report with ?format=text.
func (s *Server) periodStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	period, err := stats.ParsePeriod(s.mux.Vars(r)["period"])
	if err != nil {
		s.writeError(ctx, w, http.StatusNotFound, err)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		text, err := s.deps.Stats.Report(ctx, period)
		if err != nil {
			s.writeError(ctx, w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(text))
		return
	}

	var body any
	switch period {
	case stats.PeriodToday:
		body, err = s.deps.Stats.Today(ctx)
	case stats.PeriodYesterday:
		body, err = s.deps.Stats.Yesterday(ctx)
	case stats.PeriodWeek:
		body, err = s.deps.Stats.Week(ctx)
	case stats.PeriodMonth:
		body, err = s.deps.Stats.Month(ctx, 0, 0)
	}
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(ctx, w, http.StatusOK, body)
}

func (s *Server) showFuel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, err := s.deps.Store.FuelConfig(ctx)
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(ctx, w, http.StatusOK, cfg)
}

// fuelUpdate is the PUT /api/fuel body; omitted fields keep their current value.
type fuelUpdate struct {
	RatePerHour   *float64 `json:"fuel_rate_per_hour"`
	TankCapacity  *float64 `json:"fuel_tank_capacity"`
	PricePerLiter *float64 `json:"fuel_price_per_liter"`
}

func (s *Server) updateFuel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body fuelUpdate
	if err := goahttp.RequestDecoder(r).Decode(&body); err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}

	cfg, err := s.deps.Store.FuelConfig(ctx)
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err)
		return
	}
	if body.RatePerHour != nil {
		cfg.RatePerHour = *body.RatePerHour
	}
	if body.TankCapacity != nil {
		cfg.TankCapacity = *body.TankCapacity
	}
	if body.PricePerLiter != nil {
		cfg.PricePerLiter = *body.PricePerLiter
	}

	cfg, err = s.deps.Store.UpdateFuelConfig(ctx, cfg)
	switch {
	case errors.Is(err, ledger.ErrInvalidFuelConfig):
		s.writeError(ctx, w, http.StatusBadRequest, err)
	case err != nil:
		s.writeError(ctx, w, http.StatusInternalServerError, err)
	default:
		s.logger.Info("fuel config updated via api")
		s.writeJSON(ctx, w, http.StatusOK, cfg)
	}
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	img, at, err := s.deps.Monitor.Snapshot()
	if errors.Is(err, monitor.ErrNoFrame) {
		s.writeError(ctx, w, http.StatusServiceUnavailable, err)
		return
	}
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err)
		return
	}
	data, err := visualize.EncodeJPEG(img, visualize.DefaultQuality)
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Last-Modified", at.UTC().Format(http.TimeFormat))
	_, _ = w.Write(data)
}
