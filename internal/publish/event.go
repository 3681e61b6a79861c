// Package publish pushes generator state changes to MQTT and Kafka.
package publish

import (
	"encoding/json"
	"time"

	"genwatch/internal/monitor"
)

// Event is the JSON document published for every state change.
type Event struct {
	RunID         string    `json:"run_id"`
	Camera        string    `json:"camera"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Seed          bool      `json:"seed"`
	Confidence    int       `json:"confidence"`
	SessionID     int64     `json:"session_id,omitempty"`
	DurationHours *float64  `json:"duration_hours,omitempty"`
	FuelLiters    *float64  `json:"fuel_liters,omitempty"`
	At            time.Time `json:"at"`
}

// NewEvent builds the published document for change.
func NewEvent(change monitor.StateChange) Event {
	e := Event{
		RunID:      change.RunID,
		Camera:     change.Camera,
		From:       string(change.From),
		To:         string(change.To),
		Seed:       change.Seed,
		Confidence: change.Confidence,
		SessionID:  change.SessionID,
		At:         change.At.UTC(),
	}
	if s := change.Session; s != nil {
		e.DurationHours = s.DurationHours
		e.FuelLiters = s.FuelLiters
	}
	return e
}

func encode(change monitor.StateChange) ([]byte, error) {
	return json.Marshal(NewEvent(change))
}
