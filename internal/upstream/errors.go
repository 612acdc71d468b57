package upstream

import (
	"errors"
	"fmt"
)

// ErrNotFound marks identifiers the upstream no longer serves (deleted or
// invalid gallery). Permanent for that identifier; never worth retrying.
var ErrNotFound = errors.New("upstream: not found")

// Error is a transient upstream failure: network trouble, 5xx, timeout or
// a payload that could not be parsed. Callers may retry with backoff.
type Error struct {
	Op     string // "listing", "detail", "previews", "image_page", "raw_image"
	Status int    // HTTP status, 0 if the request never completed
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable upstream failure as
// opposed to a permanent not-found.
func IsTransient(err error) bool {
	var ue *Error
	return errors.As(err, &ue)
}
