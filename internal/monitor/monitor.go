// Package monitor runs the poll loop that turns per-frame detector readings
// into debounced generator state changes, ledger sessions and notifications.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"genwatch/internal/clock"
	"genwatch/internal/detector"
	"genwatch/internal/ledger"
	"genwatch/internal/logging"
	"genwatch/internal/metrics"
	"genwatch/internal/stats"
)

// StopNote is stored on a session force-closed at shutdown.
const StopNote = "system stopped"

var (
	ErrNoFrame     = errors.New("no frame processed yet")
	ErrNoReporter  = errors.New("no reporter configured")
	ErrNoNotifier  = errors.New("no notifier configured")
	errMissingDeps = errors.New("monitor requires camera, detector and ledger")
)

// Config controls loop cadence and debouncing.
type Config struct {
	CheckInterval  time.Duration
	ReconnectDelay time.Duration
	ErrorBackoff   time.Duration
	// Consecutive classifications required before leaving ON or OFF.
	OnConfirmations  int
	OffConfirmations int
}

func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 5 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 30 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 10 * time.Second
	}
	if c.OnConfirmations < 1 {
		c.OnConfirmations = 1
	}
	if c.OffConfirmations < 1 {
		c.OffConfirmations = 2
	}
	return c
}

// Deps are the collaborators of a Monitor. Camera, Detector and Ledger are required.
type Deps struct {
	Camera     FrameSource
	Detector   Detector
	Ledger     Ledger
	Notifier   Notifier
	Composer   Composer
	Annotator  Annotator
	Snapshots  SnapshotSaver
	Reporter   Reporter
	Publishers map[string]Publisher
	Metrics    *metrics.Recorder
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Monitor owns the detection state. Run drives it from a single goroutine;
// Status and Snapshot may be called concurrently.
type Monitor struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	runID  string

	// owned by the Run goroutine
	state        State
	activeID     int64
	pending      State
	pendingCount int
	faultStreak  int
	changes      int
	startedAt    time.Time

	mu          sync.RWMutex
	status      Status
	lastFrame   image.Image
	lastReading detector.Reading
}

// New creates a Monitor.
func New(cfg Config, deps Deps) (*Monitor, error) {
	if deps.Camera == nil || deps.Detector == nil || deps.Ledger == nil {
		return nil, errMissingDeps
	}
	if deps.Clock == nil {
		deps.Clock = clock.New(time.UTC)
	}
	if deps.Composer == nil {
		deps.Composer = PlainComposer{}
	}

	m := &Monitor{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		logger: logging.Component(deps.Logger, "monitor"),
		runID:  uuid.NewString(),
		state:  StateUnknown,
	}
	m.status = Status{State: StateUnknown, Camera: deps.Camera.Name(), RunID: m.runID}
	return m, nil
}

// RunID identifies this process run in notifications and published changes.
func (m *Monitor) RunID() string {
	return m.runID
}

// Run recovers an open session, then polls until ctx is cancelled and shuts
// down cleanly. Cancellation is only observed between ticks.
func (m *Monitor) Run(ctx context.Context) error {
	bg := context.WithoutCancel(ctx)
	m.startup(bg)

	for ctx.Err() == nil {
		wait := m.safeTick(bg)
		if !sleep(ctx, wait) {
			break
		}
	}

	m.shutdown(bg)
	return nil
}

func (m *Monitor) startup(ctx context.Context) {
	m.startedAt = m.deps.Clock.Now()

	id, ok, err := m.deps.Ledger.ActiveSession(ctx)
	switch {
	case err != nil:
		m.deps.Metrics.LedgerError("active_session")
		m.logger.Error("failed to query active session", "error", err)
	case ok:
		m.activeID = id
		m.logger.Info("found unfinished session", "session_id", id)
	}

	m.mu.Lock()
	m.status.StartedAt = m.startedAt
	m.status.ActiveSessionID = m.activeID
	m.mu.Unlock()

	m.logger.Info("monitor started",
		"camera", m.deps.Camera.Name(),
		"check_interval", m.cfg.CheckInterval,
		"run_id", m.runID)
	m.notify(ctx, "startup", startupMessage(m.startedAt, m.deps.Camera.Name(), m.cfg.CheckInterval, m.runID))
}

func (m *Monitor) shutdown(ctx context.Context) {
	if m.activeID != 0 {
		m.logger.Info("closing active session", "session_id", m.activeID)
		s, err := m.deps.Ledger.EndSession(ctx, m.activeID, m.lastConfidence(), StopNote)
		if err != nil {
			m.deps.Metrics.LedgerError("end_session")
			m.logger.Error("failed to close active session", "session_id", m.activeID, "error", err)
		} else {
			m.deps.Metrics.SessionClosed(s.Hours())
		}
		m.activeID = 0
	}

	m.deps.Camera.Disconnect()
	m.deps.Metrics.Disconnected()
	m.mu.Lock()
	m.status.Connected = false
	m.status.ActiveSessionID = 0
	m.mu.Unlock()

	now := m.deps.Clock.Now()
	uptime := now.Sub(m.startedAt).Hours()
	m.logger.Info("monitor stopped", "uptime_hours", uptime, "state_changes", m.changes)
	m.notify(ctx, "shutdown", shutdownMessage(now, uptime, m.changes))
}

// safeTick runs one tick and returns how long to wait before the next one.
// Errors and panics never escape; they turn into the error backoff.
func (m *Monitor) safeTick(ctx context.Context) (wait time.Duration) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("tick panicked", "panic", p)
			wait = m.cfg.ErrorBackoff
		}
	}()

	wait, err := m.tick(ctx)
	if err != nil {
		m.logger.Error("tick failed", "error", err, "retry_in", m.cfg.ErrorBackoff)
		return m.cfg.ErrorBackoff
	}
	return wait
}

func (m *Monitor) tick(ctx context.Context) (time.Duration, error) {
	cam := m.deps.Camera
	if !cam.IsConnected() {
		err := cam.Connect(ctx)
		m.deps.Metrics.Connect(err)
		if err != nil {
			m.logger.Warn("camera connect failed", "camera", cam.Name(), "error", err, "retry_in", m.cfg.ReconnectDelay)
			return m.cfg.ReconnectDelay, nil
		}
		m.setConnected(true)
		m.logger.Info("camera connected", "camera", cam.Name())
	}

	frame, err := cam.Frame(ctx)
	if err != nil {
		m.deps.Metrics.FrameError()
		m.logger.Warn("failed to read frame", "camera", cam.Name(), "error", err, "retry_in", m.cfg.ReconnectDelay)
		cam.Disconnect()
		m.deps.Metrics.Disconnected()
		m.setConnected(false)
		return m.cfg.ReconnectDelay, nil
	}

	started := time.Now()
	reading, err := m.deps.Detector.Detect(frame)
	if err != nil {
		m.detectorFault(ctx, err)
		return m.cfg.CheckInterval, nil
	}
	m.faultStreak = 0
	m.deps.Metrics.Tick(started, reading.Confidence)
	m.recordFrame(frame, reading)
	m.logger.Debug("frame classified",
		"is_on", reading.IsOn,
		"confidence", reading.Confidence,
		"luma", reading.LumaCount,
		"red", reading.RedCount)

	if err := m.observe(ctx, frame, reading); err != nil {
		return 0, err
	}
	return m.cfg.CheckInterval, nil
}

// detectorFault logs a failed detection. Faults are not classifications:
// they never move the state and leave pending confirmations untouched.
// One ERROR event is written per uninterrupted streak.
func (m *Monitor) detectorFault(ctx context.Context, err error) {
	m.faultStreak++
	m.deps.Metrics.DetectorFault()
	m.logger.Warn("detector fault", "error", err, "streak", m.faultStreak)

	m.mu.Lock()
	m.status.ConsecutiveFaults = m.faultStreak
	m.mu.Unlock()

	if m.faultStreak == 1 {
		if _, err := m.deps.Ledger.AddEvent(ctx, ledger.EventError, 0, err.Error()); err != nil {
			m.deps.Metrics.LedgerError("add_event")
			m.logger.Error("failed to record detector fault", "error", err)
		}
	}
}

// observe applies the debounce rule to one classification.
func (m *Monitor) observe(ctx context.Context, frame image.Image, reading detector.Reading) error {
	classified := StateOff
	if reading.IsOn {
		classified = StateOn
	}

	if m.state == StateUnknown {
		return m.transition(ctx, frame, reading, classified, true)
	}
	if classified == m.state {
		if m.pendingCount > 0 {
			m.logger.Debug("pending change discarded", "pending", m.pending, "count", m.pendingCount)
		}
		m.pending, m.pendingCount = "", 0
		return nil
	}

	if classified != m.pending {
		m.pending, m.pendingCount = classified, 0
	}
	m.pendingCount++

	need := m.cfg.OnConfirmations
	if classified == StateOff {
		need = m.cfg.OffConfirmations
	}
	if m.pendingCount < need {
		m.logger.Debug("awaiting confirmation", "pending", classified, "count", m.pendingCount, "need", need)
		return nil
	}
	return m.transition(ctx, frame, reading, classified, false)
}

// transition persists a change, then commits it in memory, then renders and
// dispatches notifications. A persistence error leaves the state untouched so
// the next tick retries.
func (m *Monitor) transition(ctx context.Context, frame image.Image, reading detector.Reading, to State, seed bool) error {
	now := m.deps.Clock.Now()
	change := StateChange{
		From:       m.state,
		To:         to,
		At:         now,
		Confidence: reading.Confidence,
		Seed:       seed,
		RunID:      m.runID,
		Camera:     m.deps.Camera.Name(),
	}

	if err := m.persist(ctx, &change); err != nil {
		return err
	}

	m.state = to
	m.pending, m.pendingCount = "", 0
	if !seed {
		m.changes++
	}
	m.deps.Metrics.StateChange(to == StateOn)

	m.mu.Lock()
	m.status.State = to
	m.status.StateChangeCount = m.changes
	m.status.ActiveSessionID = m.activeID
	m.mu.Unlock()

	m.logger.Info("generator state changed",
		"from", change.From,
		"to", to,
		"confidence", reading.Confidence,
		"session_id", change.SessionID,
		"seed", seed)

	m.dispatch(ctx, frame, &change)
	return nil
}

func (m *Monitor) persist(ctx context.Context, change *StateChange) error {
	l := m.deps.Ledger
	conf := change.Confidence

	if change.To == StateOn {
		on := ledger.EventEntry{Type: ledger.EventOn, Message: "generator turned on"}
		if m.activeID != 0 {
			m.logger.Info("adopting open session", "session_id", m.activeID)
			if _, err := l.AddEvent(ctx, on.Type, conf, on.Message); err != nil {
				m.deps.Metrics.LedgerError("add_event")
				return fmt.Errorf("failed to record ON event: %w", err)
			}
			change.SessionID = m.activeID
			return nil
		}

		id, err := l.StartSession(ctx, conf, on)
		if errors.Is(err, ledger.ErrOpenSessionExists) {
			id, err = m.adoptOpenSession(ctx, conf, on)
		}
		if err != nil {
			m.deps.Metrics.LedgerError("start_session")
			return fmt.Errorf("failed to start session: %w", err)
		}
		m.activeID = id
		change.SessionID = id
		return nil
	}

	off := ledger.EventEntry{Type: ledger.EventOff, Message: "generator turned off"}
	if m.activeID != 0 {
		if change.Seed {
			m.logger.Warn("first frame reads OFF; closing recovered session", "session_id", m.activeID)
		}
		s, err := l.EndSession(ctx, m.activeID, conf, "", off)
		switch {
		case err == nil:
			change.SessionID = s.ID
			change.Session = s
			m.deps.Metrics.SessionClosed(s.Hours())
			m.activeID = 0
			return nil
		case isLedgerNoOp(err):
			m.logger.Warn("dropping stale session handle", "session_id", m.activeID, "error", err)
			m.activeID = 0
		default:
			m.deps.Metrics.LedgerError("end_session")
			return fmt.Errorf("failed to end session: %w", err)
		}
	}
	if _, err := l.AddEvent(ctx, off.Type, conf, off.Message); err != nil {
		m.deps.Metrics.LedgerError("add_event")
		return fmt.Errorf("failed to record OFF event: %w", err)
	}
	return nil
}

// adoptOpenSession takes over a session some other writer left open. The
// handle is only kept once the ON event is stored.
func (m *Monitor) adoptOpenSession(ctx context.Context, conf int, on ledger.EventEntry) (int64, error) {
	id, ok, err := m.deps.Ledger.ActiveSession(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ledger.ErrSessionNotFound
	}
	m.logger.Warn("adopting session left open in the ledger", "session_id", id)
	if _, err := m.deps.Ledger.AddEvent(ctx, on.Type, conf, on.Message); err != nil {
		return 0, fmt.Errorf("failed to record ON event: %w", err)
	}
	return id, nil
}

// dispatch renders the snapshot, sends notifications and publishes the change.
// Failures are logged and never retried.
func (m *Monitor) dispatch(ctx context.Context, frame image.Image, change *StateChange) {
	on := change.To == StateOn
	annotated := frame
	if m.deps.Annotator != nil {
		annotated = m.deps.Annotator.Annotate(frame, m.deps.Detector.ROI(), on, change.Confidence, change.At)
	}
	if m.deps.Snapshots != nil {
		prefix := "generator_off"
		if on {
			prefix = "generator_on"
		}
		path, err := m.deps.Snapshots.Save(prefix, annotated, change.At)
		if err != nil {
			m.logger.Error("failed to save snapshot", "error", err)
		}
		change.SnapshotPath = path
	}

	if m.deps.Notifier != nil {
		msg := m.deps.Composer.Compose(ctx, *change)
		m.notify(ctx, "state", msg)

		err := m.deps.Notifier.SendImage(ctx, annotated, imageCaption(*change))
		m.deps.Metrics.Notification("image", err)
		if err != nil {
			m.logger.Error("failed to send snapshot", "error", err)
		}
	}

	for name, p := range m.deps.Publishers {
		err := p.Publish(ctx, *change)
		m.deps.Metrics.Publish(name, err)
		if err != nil {
			m.logger.Error("failed to publish state change", "sink", name, "error", err)
		}
	}
}

func (m *Monitor) notify(ctx context.Context, kind, text string) {
	if m.deps.Notifier == nil {
		return
	}
	err := m.deps.Notifier.SendMessage(ctx, text)
	m.deps.Metrics.Notification(kind, err)
	if err != nil {
		m.logger.Error("failed to send notification", "kind", kind, "error", err)
	}
}

// SendReport renders a statistics report for period and sends it.
func (m *Monitor) SendReport(ctx context.Context, period stats.Period) error {
	if m.deps.Reporter == nil {
		return ErrNoReporter
	}
	if m.deps.Notifier == nil {
		return ErrNoNotifier
	}
	text, err := m.deps.Reporter.Report(ctx, period)
	if err != nil {
		return err
	}
	err = m.deps.Notifier.SendMessage(ctx, text)
	m.deps.Metrics.Notification("report", err)
	return err
}

// Status returns a snapshot of the monitor state.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Snapshot returns the last processed frame annotated with its reading.
func (m *Monitor) Snapshot() (image.Image, time.Time, error) {
	m.mu.RLock()
	frame, reading, at := m.lastFrame, m.lastReading, m.status.LastFrameAt
	m.mu.RUnlock()

	if frame == nil {
		return nil, time.Time{}, ErrNoFrame
	}
	if m.deps.Annotator != nil {
		frame = m.deps.Annotator.Annotate(frame, m.deps.Detector.ROI(), reading.IsOn, reading.Confidence, at)
	}
	return frame, at, nil
}

func (m *Monitor) recordFrame(frame image.Image, reading detector.Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFrame = frame
	m.lastReading = reading
	m.status.LastConfidence = reading.Confidence
	m.status.LastFrameAt = m.deps.Clock.Now()
	m.status.ConsecutiveFaults = 0
}

func (m *Monitor) setConnected(connected bool) {
	m.mu.Lock()
	m.status.Connected = connected
	m.mu.Unlock()
}

func (m *Monitor) lastConfidence() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.LastConfidence
}

// isLedgerNoOp reports errors meaning the session handle is already gone.
func isLedgerNoOp(err error) bool {
	return errors.Is(err, ledger.ErrSessionNotFound) || errors.Is(err, ledger.ErrSessionClosed)
}

// sleep waits for d or until ctx is done; it reports whether the loop should continue.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
