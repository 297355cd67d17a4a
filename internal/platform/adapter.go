// Package platform contains the clients for the external chess services.
// Each adapter normalizes its platform's wire format into timestamped
// events and a common profile shape, applies bounded timeouts, and
// classifies failures into the transport / HTTP / rate-limit taxonomy.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chess-activity-tracker/internal/domain"
)

// EventKind identifies a tracked activity stream on a platform
type EventKind string

const (
	EventRapid  EventKind = "rapid"
	EventBlitz  EventKind = "blitz"
	EventPuzzle EventKind = "puzzle"
)

// Profile is the normalized view of a platform account: current ratings
// and lifetime counters. Fields a platform does not report stay nil.
type Profile struct {
	Username string
	Ratings  domain.Ratings
	Totals   domain.LifetimeTotals
}

// Adapter is the per-platform client contract
type Adapter interface {
	Platform() domain.Platform

	// EventKinds lists the activity streams this platform can fetch
	// directly
	EventKinds() []EventKind

	// FetchEvents retrieves a bounded page of event timestamps of the
	// given kind since the given time. Malformed individual records are
	// skipped. A well-formed empty response yields an empty slice and a
	// nil error.
	FetchEvents(ctx context.Context, username string, kind EventKind, since time.Time, maxItems int) ([]time.Time, error)

	// FetchCurrentProfile retrieves current ratings and lifetime totals.
	// Unavailable fields are nil rather than an error.
	FetchCurrentProfile(ctx context.Context, username string) (*Profile, error)
}

// TokenCarrier is implemented by adapters that can authenticate requests
// with a per-user token
type TokenCarrier interface {
	WithToken(token string) Adapter
}

// Adapter sentinel errors
var (
	// ErrUserNotFound means the username does not resolve on the platform
	ErrUserNotFound = errors.New("user not found on platform")
	// ErrUnsupportedKind means the platform has no direct event stream
	// for the requested kind; callers fall back to baseline deltas
	ErrUnsupportedKind = errors.New("event kind not supported by platform")
)

// Error is a classified adapter failure
type Error struct {
	Platform domain.Platform
	Code     string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Platform, e.Code, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Platform, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode extracts the taxonomy code from an adapter error
func ErrorCode(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return domain.ErrCodeTransport
}

func transportError(pf domain.Platform, err error) *Error {
	return &Error{Platform: pf, Code: domain.ErrCodeTransport, Err: err}
}

func statusError(pf domain.Platform, status int) *Error {
	code := domain.ErrCodeHTTPStatus
	if status == 429 {
		code = domain.ErrCodeRateLimit
	}
	return &Error{
		Platform: pf,
		Code:     code,
		Status:   status,
		Err:      fmt.Errorf("unexpected status %d", status),
	}
}
