package mastering

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned by Process after Cancel.
	ErrCancelled = errors.New("chunk processing cancelled")

	// ErrDone is returned when a chunk is requested after the final
	// chunk with no snapshot left to reproduce it from.
	ErrDone = errors.New("chunk processing finished")

	// ErrOutOfOrder is returned for an index that is neither the next
	// chunk nor a previously produced one.
	ErrOutOfOrder = errors.New("chunks must be produced in index order")
)

// ConfigError reports an invalid construction-time configuration. It
// is the only fatal error category in the pipeline: everything past
// construction degrades instead of failing.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid mastering configuration: %s", e.Reason)
}

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}
