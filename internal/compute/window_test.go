package compute

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func thresholds() (since24h, since7d time.Time) {
	return now.Add(-24 * time.Hour), now.Add(-7 * 24 * time.Hour)
}

func TestCountWindows_Empty(t *testing.T) {
	since24h, since7d := thresholds()
	counts := CountWindows(nil, since24h, since7d)
	assert.Equal(t, 0, counts.Count24h)
	assert.Equal(t, 0, counts.Count7d)
}

func TestCountWindows_RecentAndOlderEvents(t *testing.T) {
	since24h, since7d := thresholds()
	events := []time.Time{
		now.Add(-2 * time.Hour),
		now.Add(-12 * time.Hour),
		now.Add(-3 * 24 * time.Hour),
	}
	counts := CountWindows(events, since24h, since7d)
	assert.Equal(t, 2, counts.Count24h)
	assert.Equal(t, 3, counts.Count7d)
}

func TestCountWindows_EventsOutside7dIgnored(t *testing.T) {
	since24h, since7d := thresholds()
	events := []time.Time{
		now.Add(-8 * 24 * time.Hour),
		now.Add(-30 * 24 * time.Hour),
	}
	counts := CountWindows(events, since24h, since7d)
	assert.Equal(t, 0, counts.Count24h)
	assert.Equal(t, 0, counts.Count7d)
}

func TestCountWindows_BoundaryInclusive24h(t *testing.T) {
	since24h, since7d := thresholds()
	counts := CountWindows([]time.Time{since24h}, since24h, since7d)
	assert.Equal(t, 1, counts.Count24h)
	assert.Equal(t, 1, counts.Count7d)
}

func TestCountWindows_BoundaryInclusive7d(t *testing.T) {
	since24h, since7d := thresholds()
	counts := CountWindows([]time.Time{since7d}, since24h, since7d)
	assert.Equal(t, 0, counts.Count24h)
	assert.Equal(t, 1, counts.Count7d)
}

func TestCountWindows_24hNeverExceeds7d(t *testing.T) {
	since24h, since7d := thresholds()
	// Spread events across and outside both windows
	var events []time.Time
	for h := 0; h < 300; h += 7 {
		events = append(events, now.Add(-time.Duration(h)*time.Hour))
	}
	counts := CountWindows(events, since24h, since7d)
	assert.LessOrEqual(t, counts.Count24h, counts.Count7d)
	assert.GreaterOrEqual(t, counts.Count24h, 0)
}

func TestCountWindows_UnorderedInput(t *testing.T) {
	since24h, since7d := thresholds()
	events := []time.Time{
		now.Add(-6 * 24 * time.Hour),
		now.Add(-1 * time.Hour),
		now.Add(-2 * 24 * time.Hour),
		now.Add(-23 * time.Hour),
	}
	counts := CountWindows(events, since24h, since7d)
	assert.Equal(t, 2, counts.Count24h)
	assert.Equal(t, 4, counts.Count7d)
}
