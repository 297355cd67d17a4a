package compute

import "time"

// Grace periods applied to the baseline freshness threshold. A baseline
// captured slightly before the window start is still usable because the
// scheduler does not align snapshot times with window boundaries.
const (
	Grace24h = 12 * time.Hour
	Grace7d  = 24 * time.Hour
)

// BaselineDelta computes the change in a lifetime counter against a
// baseline snapshot, used when direct windowed counting was skipped or
// failed.
//
// Returns nil when no usable baseline exists: curr or baseline is nil, or
// the baseline was captured before windowStart minus grace. A nil result
// means "unknown" — callers must retain their previous value, never zero
// it. Negative raw differences (counter resets on the platform side)
// clamp to zero.
func BaselineDelta(curr, baseline *int, capturedAt, windowStart time.Time, grace time.Duration) *int {
	if curr == nil || baseline == nil {
		return nil
	}
	if capturedAt.Before(windowStart.Add(-grace)) {
		return nil
	}
	d := *curr - *baseline
	if d < 0 {
		d = 0
	}
	return &d
}

// RatingDelta computes rating movement against a baseline snapshot using
// the same freshness rule as BaselineDelta. Rating deltas may be
// negative, so no clamping is applied.
func RatingDelta(curr, baseline *int, capturedAt, windowStart time.Time, grace time.Duration) *int {
	if curr == nil || baseline == nil {
		return nil
	}
	if capturedAt.Before(windowStart.Add(-grace)) {
		return nil
	}
	d := *curr - *baseline
	return &d
}
