package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultZone(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultZone, c.Location().String())
	assert.Equal(t, DefaultZone, c.Now().Location().String())
}

func TestLoadUnknownZone(t *testing.T) {
	_, err := Load("Mars/Olympus")
	assert.Error(t, err)
}

func TestManualAdvance(t *testing.T) {
	start := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	m := NewManual(start)
	m.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), m.Now())

	m.Set(start)
	assert.Equal(t, start, m.Now())
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	ts := time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC) // 01:30 next day in loc
	got := StartOfDay(ts, loc)
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, loc), got)
}
