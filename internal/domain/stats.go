package domain

import "time"

// Ratings holds current rating values reported by a platform. A nil field
// means the platform did not report that rating.
type Ratings struct {
	Rapid  *int `json:"rapid,omitempty"`
	Blitz  *int `json:"blitz,omitempty"`
	Puzzle *int `json:"puzzle,omitempty"`
}

// LifetimeTotals holds the all-time counters reported by a platform.
// Counters are monotonically increasing on the platform side, though the
// delta resolver still clamps against resets.
type LifetimeTotals struct {
	RapidGames *int `json:"rapid_games,omitempty"`
	BlitzGames *int `json:"blitz_games,omitempty"`
	Puzzles    *int `json:"puzzles,omitempty"`
}

// WindowCounts holds rolling-window activity counts. A nil field means the
// value could not be computed for that metric.
type WindowCounts struct {
	Rapid24h  *int `json:"rapid_24h,omitempty"`
	Rapid7d   *int `json:"rapid_7d,omitempty"`
	Blitz24h  *int `json:"blitz_24h,omitempty"`
	Blitz7d   *int `json:"blitz_7d,omitempty"`
	Puzzle24h *int `json:"puzzle_24h,omitempty"`
	Puzzle7d  *int `json:"puzzle_7d,omitempty"`
}

// RatingDeltas holds rating movement over the trailing windows. Unlike
// window counts these may be negative.
type RatingDeltas struct {
	Rapid24h *int `json:"rapid_24h,omitempty"`
	Rapid7d  *int `json:"rapid_7d,omitempty"`
	Blitz24h *int `json:"blitz_24h,omitempty"`
	Blitz7d  *int `json:"blitz_7d,omitempty"`
}

// StatsSnapshot is an immutable point-in-time record of a student's stats
// on one platform. Snapshots are append-only and serve as baselines for
// future delta computations.
type StatsSnapshot struct {
	ID         string         `json:"id"`
	StudentID  string         `json:"student_id"`
	Platform   Platform       `json:"platform"`
	CapturedAt time.Time      `json:"captured_at"`
	Ratings    Ratings        `json:"ratings"`
	Totals     LifetimeTotals `json:"totals"`
	Windows    WindowCounts   `json:"windows"`
}

// CurrentStats is the latest computed view for one (student, platform)
// pair. ComputedAt advances only on a fully successful sync; the attempt
// bookkeeping fields update on every attempt.
type CurrentStats struct {
	StudentID string   `json:"student_id"`
	Platform  Platform `json:"platform"`

	Windows      WindowCounts   `json:"windows"`
	Ratings      Ratings        `json:"ratings"`
	Totals       LifetimeTotals `json:"totals"`
	RatingDeltas RatingDeltas   `json:"rating_deltas"`

	ComputedAt       *time.Time `json:"computed_at,omitempty"`
	LastUpdateOK     bool       `json:"last_update_ok"`
	LastErrorCode    string     `json:"last_error_code,omitempty"`
	LastErrorMessage string     `json:"last_error_message,omitempty"`
	LastAttemptAt    time.Time  `json:"last_attempt_at"`
}

// Stale reports whether the row should be flagged as stale on the read
// side: never computed, or last attempt failed.
func (c *CurrentStats) Stale() bool {
	return c.ComputedAt == nil || !c.LastUpdateOK
}

// HandleStats is one row of a free-text handle lookup: the handle's
// current activity on a single platform.
type HandleStats struct {
	Platform Platform     `json:"platform"`
	Username string       `json:"username"`
	Ratings  Ratings      `json:"ratings"`
	Windows  WindowCounts `json:"windows"`
}

// IntPtr returns a pointer to v. Convenience for optional stat fields.
func IntPtr(v int) *int { return &v }
