package domain

import "time"

// SyncMethod identifies which computation strategy produced a metric
type SyncMethod string

const (
	// SyncMethodHistory is the direct event-window count
	SyncMethodHistory SyncMethod = "history"
	// SyncMethodBaseline is the snapshot-baseline delta fallback
	SyncMethodBaseline SyncMethod = "baseline"
)

// SyncOutcome records the result of one connection's sync attempt.
// Methods records the strategy that produced each metric ("rapid",
// "blitz", "puzzle").
type SyncOutcome struct {
	StudentID    string                `json:"student_id"`
	Platform     Platform              `json:"platform"`
	Username     string                `json:"username"`
	OK           bool                  `json:"ok"`
	Methods      map[string]SyncMethod `json:"methods,omitempty"`
	Throttled    bool                  `json:"throttled"`
	ErrorCode    string                `json:"error_code,omitempty"`
	ErrorMessage string                `json:"error_message,omitempty"`
}

// BatchSummary is the structured result of a batch sync run
type BatchSummary struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Processed  int           `json:"processed"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Aborted    bool          `json:"aborted"`
	Outcomes   []SyncOutcome `json:"outcomes"`
}

// SyncRequest is an on-demand request to sync a single connection,
// consumed from the sync-requests topic or the trigger endpoint.
type SyncRequest struct {
	StudentID string   `json:"student_id"`
	Platform  Platform `json:"platform"`
}
