// Package clock provides the time source used for every persisted timestamp.
// All components share one explicit location so session arithmetic never
// depends on the host timezone.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// DefaultZone is used when no timezone is configured.
const DefaultZone = "Europe/Kyiv"

// Clock returns the current time in a fixed location.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// Real reads the system clock and converts it to a configured location.
type Real struct {
	loc *time.Location
}

// New creates a Real clock bound to loc. A nil loc means UTC.
func New(loc *time.Location) Real {
	if loc == nil {
		loc = time.UTC
	}
	return Real{loc: loc}
}

// Load creates a Real clock for the named IANA zone.
func Load(name string) (Real, error) {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Real{}, fmt.Errorf("failed to load timezone %q: %w", name, err)
	}
	return New(loc), nil
}

func (c Real) Now() time.Time { return time.Now().In(c.Location()) }

func (c Real) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Manual is a clock that only moves when told to. Used by tests and by the
// CLI when replaying data.
type Manual struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

// NewManual creates a Manual clock frozen at start, reporting times in start's location.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, loc: start.Location()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now.In(m.loc)
}

func (m *Manual) Location() *time.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loc
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set jumps the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
