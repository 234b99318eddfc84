package studio

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across subsystems.
var (
	// ErrNotFound is returned by stores when an entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrProjectBusy is returned when a run is requested while the
	// project's execution lock is held.
	ErrProjectBusy = errors.New("project already has a job in flight")
	// ErrUnsupportedPlatform is returned by resolvers for URLs they cannot
	// handle.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrRateLimited is returned by resolvers when the upstream site
	// throttled the request.
	ErrRateLimited = errors.New("rate limited by upstream")
)

// ConfigError reports an invalid schedule specification. The scheduler
// disables the schedule and surfaces the error instead of retrying forever.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid schedule config: %s: %s", e.Field, e.Reason)
}

// NewConfigError builds a ConfigError for the given field.
func NewConfigError(field, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
