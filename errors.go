package imagegate

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	ErrEmptyPrompt     = errors.New("imagegate: prompt is empty")
	ErrBlockedContent  = errors.New("imagegate: prompt contains blocked content")
	ErrInvalidImage    = errors.New("imagegate: source image is not a valid PNG or JPEG")
	ErrTooFrequent     = errors.New("imagegate: minimum request interval not elapsed")
	ErrDailyLimit      = errors.New("imagegate: daily generation limit reached")
	ErrBusy            = errors.New("imagegate: generation capacity exhausted")
	ErrNoProvider      = errors.New("imagegate: no upstream provider configured")
	ErrRateLimited     = errors.New("imagegate: upstream rate limited")
	ErrContentRejected = errors.New("imagegate: upstream rejected prompt content")
)

// ThrottleError is a usage-guard rejection. Err is ErrTooFrequent or
// ErrDailyLimit; Wait and Cap carry the detail the caller needs to build
// an actionable message.
type ThrottleError struct {
	Err  error
	Wait time.Duration // remaining wait for ErrTooFrequent
	Cap  int           // daily cap for ErrDailyLimit
}

func (e *ThrottleError) Error() string {
	switch {
	case errors.Is(e.Err, ErrTooFrequent):
		return fmt.Sprintf("%v: wait %ds", e.Err, e.WaitSeconds())
	case errors.Is(e.Err, ErrDailyLimit):
		return fmt.Sprintf("%v: cap %d", e.Err, e.Cap)
	default:
		return e.Err.Error()
	}
}

func (e *ThrottleError) Unwrap() error { return e.Err }

// WaitSeconds returns the remaining wait rounded up to whole seconds.
func (e *ThrottleError) WaitSeconds() int {
	return int((e.Wait + time.Second - 1) / time.Second)
}

// UpstreamError is a terminal, non-retryable failure from the provider.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("imagegate: upstream status %d: %s", e.Status, e.Message)
}

// IsValidation reports whether err is a request-validation failure (bad,
// blocked, or malformed input). Validation failures never consume quota.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyPrompt) ||
		errors.Is(err, ErrBlockedContent) ||
		errors.Is(err, ErrInvalidImage)
}

// IsThrottle reports whether err is a usage-guard rejection.
func IsThrottle(err error) bool {
	return errors.Is(err, ErrTooFrequent) || errors.Is(err, ErrDailyLimit)
}
