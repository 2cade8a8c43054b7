package domain

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrDataIncomplete marks a combination missing a required rate, price or
// liquidity value at the evaluation timestamp. It is local to generation:
// the combination is skipped, never surfaced as a call-level failure.
var ErrDataIncomplete = errors.New("required market datum missing for combination")

// ConfigError reports an internally inconsistent caller configuration
// (budget ≤ 0, negative caps, malformed horizon weights). It is the only
// fatal condition in the core: it aborts the whole call.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

// NewConfigError builds a ConfigError with a formatted reason.
func NewConfigError(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// MissingFieldError reports a required field absent from a position or
// snapshot record handed to the performance engine. The full set of fields
// that were present is attached for diagnosis; the core never substitutes a
// default, a related field or a previous value instead.
type MissingFieldError struct {
	Record    string
	Field     string
	Available []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s record is missing required field %q (available: %s)",
		e.Record, e.Field, strings.Join(e.Available, ", "))
}
