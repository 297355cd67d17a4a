package domain

import (
	"fmt"
	"time"
)

// Platform identifies an external chess service
type Platform string

const (
	PlatformChessCom Platform = "chesscom"
	PlatformLichess  Platform = "lichess"
)

// Platforms lists every supported platform in a stable order
var Platforms = []Platform{PlatformChessCom, PlatformLichess}

// ParsePlatform validates a platform tag
func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformChessCom, PlatformLichess:
		return Platform(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
}

// PlatformConnection links a student to an account on an external platform.
// At most one connection exists per (student, platform) pair.
type PlatformConnection struct {
	StudentID      string     `json:"student_id"`
	Platform       Platform   `json:"platform"`
	Username       string     `json:"username"`
	EncryptedToken string     `json:"-"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// LinkAccountRequest is the payload for creating a platform connection
type LinkAccountRequest struct {
	Platform Platform `json:"platform"`
	Username string   `json:"username"`
	// Token is an optional user-supplied platform API token. It is
	// encrypted before it is stored.
	Token string `json:"token,omitempty"`
}
