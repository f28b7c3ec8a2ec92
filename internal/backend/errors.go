package backend

import (
	"errors"
	"fmt"
)

// Common errors. Timeouts are distinguishable from other transport
// failures so callers can surface a retry affordance for them.
var (
	ErrTimeout          = errors.New("backend request timed out")
	ErrAllServersFailed = errors.New("all backend servers failed")
)

// StatusError is a non-2xx backend response with its defensively
// parsed message.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Message)
}

// IsTimeout reports whether err was caused by an exceeded call budget
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
