package compute

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestBaselineDelta_SimpleDifference(t *testing.T) {
	windowStart := now.Add(-24 * time.Hour)
	capturedAt := now.Add(-20 * time.Hour)

	d := BaselineDelta(intPtr(57), intPtr(50), capturedAt, windowStart, Grace24h)
	require.NotNil(t, d)
	assert.Equal(t, 7, *d)
}

func TestBaselineDelta_WithinGrace(t *testing.T) {
	// Baseline 25h old is still valid for the 24h window with 12h grace
	windowStart := now.Add(-24 * time.Hour)
	capturedAt := now.Add(-25 * time.Hour)

	d := BaselineDelta(intPtr(57), intPtr(50), capturedAt, windowStart, Grace24h)
	require.NotNil(t, d)
	assert.Equal(t, 7, *d)
}

func TestBaselineDelta_TooOld(t *testing.T) {
	// Baseline 40h old is outside the 24h window's 36h freshness bound
	windowStart := now.Add(-24 * time.Hour)
	capturedAt := now.Add(-40 * time.Hour)

	d := BaselineDelta(intPtr(57), intPtr(50), capturedAt, windowStart, Grace24h)
	assert.Nil(t, d)
}

func TestBaselineDelta_MissingInputs(t *testing.T) {
	windowStart := now.Add(-24 * time.Hour)
	capturedAt := now.Add(-1 * time.Hour)

	assert.Nil(t, BaselineDelta(nil, intPtr(50), capturedAt, windowStart, Grace24h))
	assert.Nil(t, BaselineDelta(intPtr(57), nil, capturedAt, windowStart, Grace24h))
	assert.Nil(t, BaselineDelta(nil, nil, capturedAt, windowStart, Grace24h))
}

func TestBaselineDelta_CounterResetClampsToZero(t *testing.T) {
	windowStart := now.Add(-24 * time.Hour)
	capturedAt := now.Add(-1 * time.Hour)

	d := BaselineDelta(intPtr(10), intPtr(50), capturedAt, windowStart, Grace24h)
	require.NotNil(t, d)
	assert.Equal(t, 0, *d)
}

func TestBaselineDelta_ExactFreshnessBoundary(t *testing.T) {
	// Captured exactly at windowStart-grace is still acceptable
	windowStart := now.Add(-24 * time.Hour)
	capturedAt := windowStart.Add(-Grace24h)

	d := BaselineDelta(intPtr(5), intPtr(3), capturedAt, windowStart, Grace24h)
	require.NotNil(t, d)
	assert.Equal(t, 2, *d)
}

func TestBaselineDelta_7dGrace(t *testing.T) {
	windowStart := now.Add(-7 * 24 * time.Hour)

	// 7d+20h old baseline: inside the 24h grace for the 7d window
	d := BaselineDelta(intPtr(30), intPtr(12), windowStart.Add(-20*time.Hour), windowStart, Grace7d)
	require.NotNil(t, d)
	assert.Equal(t, 18, *d)

	// 7d+30h old: outside
	assert.Nil(t, BaselineDelta(intPtr(30), intPtr(12), windowStart.Add(-30*time.Hour), windowStart, Grace7d))
}

func TestRatingDelta_AllowsNegative(t *testing.T) {
	windowStart := now.Add(-24 * time.Hour)
	capturedAt := now.Add(-10 * time.Hour)

	d := RatingDelta(intPtr(1480), intPtr(1520), capturedAt, windowStart, Grace24h)
	require.NotNil(t, d)
	assert.Equal(t, -40, *d)
}

func TestRatingDelta_StaleBaseline(t *testing.T) {
	windowStart := now.Add(-24 * time.Hour)
	capturedAt := now.Add(-48 * time.Hour)

	assert.Nil(t, RatingDelta(intPtr(1480), intPtr(1520), capturedAt, windowStart, Grace24h))
}
