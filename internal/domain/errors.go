package domain

import "errors"

// Domain errors
var (
	ErrConnectionNotFound = errors.New("platform connection not found")
	ErrConnectionExists   = errors.New("platform connection already exists")
	ErrStatsNotFound      = errors.New("current stats not found")
	ErrHandleNotFound     = errors.New("handle not found on any platform")
	ErrUnknownPlatform    = errors.New("unknown platform")
	ErrMissingUsername    = errors.New("connection has no external username")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInternalError      = errors.New("internal server error")
)

// Error codes recorded on sync outcomes and CurrentStats bookkeeping
const (
	ErrCodeRateLimit   = "RATE_LIMIT"
	ErrCodeTransport   = "TRANSPORT"
	ErrCodeHTTPStatus  = "HTTP_STATUS"
	ErrCodeNoUsername  = "NO_USERNAME"
	ErrCodeConfig      = "CONFIG"
	ErrCodePersistence = "PERSISTENCE"
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrConnectionNotFound) ||
		errors.Is(err, ErrStatsNotFound) ||
		errors.Is(err, ErrHandleNotFound)
}
