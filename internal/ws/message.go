package ws

import (
	"time"

	"genwatch/internal/monitor"
)

// Message types sent to clients.
const (
	TypeStatus = "status"
	TypeState  = "state_change"
)

// StatusMessage is sent once when a client connects.
type StatusMessage struct {
	Type            string    `json:"type"` // "status"
	Camera          string    `json:"camera"`
	State           string    `json:"state"`
	Connected       bool      `json:"connected"`
	ActiveSessionID int64     `json:"active_session_id,omitempty"`
	LastConfidence  int       `json:"last_confidence"`
	Timestamp       time.Time `json:"timestamp"`
}

// StateMessage is broadcast on every committed transition.
type StateMessage struct {
	Type       string    `json:"type"` // "state_change"
	Camera     string    `json:"camera"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Seed       bool      `json:"seed,omitempty"`
	Confidence int       `json:"confidence"`
	SessionID  int64     `json:"session_id,omitempty"`
	// Set when a session was closed by this change.
	DurationHours *float64  `json:"duration_hours,omitempty"`
	FuelLiters    *float64  `json:"fuel_liters,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewStatusMessage builds the greeting for a new client.
func NewStatusMessage(st monitor.Status, now time.Time) *StatusMessage {
	return &StatusMessage{
		Type:            TypeStatus,
		Camera:          st.Camera,
		State:           string(st.State),
		Connected:       st.Connected,
		ActiveSessionID: st.ActiveSessionID,
		LastConfidence:  st.LastConfidence,
		Timestamp:       now,
	}
}

// NewStateMessage converts a state change into its wire form.
func NewStateMessage(c monitor.StateChange) *StateMessage {
	msg := &StateMessage{
		Type:       TypeState,
		Camera:     c.Camera,
		From:       string(c.From),
		To:         string(c.To),
		Seed:       c.Seed,
		Confidence: c.Confidence,
		SessionID:  c.SessionID,
		Timestamp:  c.At,
	}
	if c.Session != nil {
		msg.DurationHours = c.Session.DurationHours
		msg.FuelLiters = c.Session.FuelLiters
	}
	return msg
}
