package ledger

import "time"

// EventType classifies ledger events.
type EventType string

const (
	EventOn    EventType = "ON"
	EventOff   EventType = "OFF"
	EventError EventType = "ERROR"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventOn, EventOff, EventError:
		return true
	}
	return false
}

// EventEntry is an event written in the same transaction as a session change.
// It carries the confidence of the change itself.
type EventEntry struct {
	Type    EventType
	Message string
}

// Session is one continuous interval during which the generator was running.
// Duration and fuel fields stay nil until the session is closed.
type Session struct {
	ID                int64      `json:"id"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           *time.Time `json:"end_time,omitempty"`
	DurationSeconds   *int64     `json:"duration_seconds,omitempty"`
	DurationHours     *float64   `json:"duration_hours,omitempty"`
	FuelLiters        *float64   `json:"fuel_consumption_liters,omitempty"`
	StartBrightPixels *int       `json:"start_bright_pixels,omitempty"`
	EndBrightPixels   *int       `json:"end_bright_pixels,omitempty"`
	Notes             string     `json:"notes,omitempty"`
}

// IsOpen reports whether the session has not been closed yet.
func (s *Session) IsOpen() bool {
	return s.EndTime == nil
}

// Hours returns the closed duration in hours, or 0 while open.
func (s *Session) Hours() float64 {
	if s.DurationHours == nil {
		return 0
	}
	return *s.DurationHours
}

// Fuel returns the fuel consumed in liters, or 0 while open.
func (s *Session) Fuel() float64 {
	if s.FuelLiters == nil {
		return 0
	}
	return *s.FuelLiters
}

// Event is an append-only record of a transition or fault.
type Event struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Type       EventType `json:"event_type"`
	Confidence int       `json:"confidence"`
	Message    string    `json:"message,omitempty"`
}

// FuelConfig is the singleton fuel-consumption configuration.
type FuelConfig struct {
	RatePerHour   float64   `json:"fuel_rate_per_hour"`
	TankCapacity  float64   `json:"fuel_tank_capacity"`
	PricePerLiter float64   `json:"fuel_price_per_liter"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DefaultFuelConfig is seeded by the first migration.
var DefaultFuelConfig = FuelConfig{
	RatePerHour:   1.5,
	TankCapacity:  20.0,
	PricePerLiter: 50.0,
}
