package monitor

import (
	"context"
	"image"
	"time"

	"genwatch/internal/detector"
	"genwatch/internal/ledger"
	"genwatch/internal/stats"
)

// State is the monitor's belief about the generator.
type State string

const (
	StateUnknown State = "UNKNOWN"
	StateOn      State = "ON"
	StateOff     State = "OFF"
)

// FrameSource delivers frames from a camera. Disconnect must be idempotent.
type FrameSource interface {
	Connect(ctx context.Context) error
	Frame(ctx context.Context) (image.Image, error)
	Disconnect()
	IsConnected() bool
	Name() string
}

// Detector classifies a frame.
type Detector interface {
	Detect(frame image.Image) (detector.Reading, error)
	ROI() image.Rectangle
}

// Ledger is the write side of the session store used by the loop.
type Ledger interface {
	StartSession(ctx context.Context, confidence int, events ...ledger.EventEntry) (int64, error)
	EndSession(ctx context.Context, id int64, confidence int, notes string, events ...ledger.EventEntry) (*ledger.Session, error)
	ActiveSession(ctx context.Context) (int64, bool, error)
	AddEvent(ctx context.Context, typ ledger.EventType, confidence int, message string) (int64, error)
}

// Notifier delivers human-readable notifications.
type Notifier interface {
	SendMessage(ctx context.Context, text string) error
	SendImage(ctx context.Context, img image.Image, caption string) error
}

// Publisher pushes state changes to a machine-readable sink.
type Publisher interface {
	Publish(ctx context.Context, change StateChange) error
}

// Annotator draws the ROI and state onto a frame.
type Annotator interface {
	Annotate(frame image.Image, roi image.Rectangle, isOn bool, confidence int, at time.Time) image.Image
}

// SnapshotSaver persists annotated frames.
type SnapshotSaver interface {
	Save(prefix string, img image.Image, at time.Time) (string, error)
}

// Reporter renders statistics reports.
type Reporter interface {
	Report(ctx context.Context, period stats.Period) (string, error)
}

// StateChange describes one committed transition.
type StateChange struct {
	From         State           `json:"from"`
	To           State           `json:"to"`
	At           time.Time       `json:"at"`
	Confidence   int             `json:"confidence"`
	SessionID    int64           `json:"session_id,omitempty"`
	Session      *ledger.Session `json:"session,omitempty"`
	Seed         bool            `json:"seed"`
	RunID        string          `json:"run_id"`
	Camera       string          `json:"camera"`
	SnapshotPath string          `json:"snapshot_path,omitempty"`
}

// Status is a point-in-time view of the monitor, safe to read from any goroutine.
type Status struct {
	State             State     `json:"state"`
	Connected         bool      `json:"connected"`
	Camera            string    `json:"camera"`
	ActiveSessionID   int64     `json:"active_session_id,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	StateChangeCount  int       `json:"state_change_count"`
	LastConfidence    int       `json:"last_confidence"`
	LastFrameAt       time.Time `json:"last_frame_at"`
	ConsecutiveFaults int       `json:"consecutive_faults"`
	RunID             string    `json:"run_id"`
}
