package experiment

import (
	"errors"
	"fmt"
)

// ErrNoVariants is returned when allocation is attempted against a test
// with no qualifying variants. Surfaced to the caller, never defaulted.
var ErrNoVariants = errors.New("test has no variants")

// ConfigurationError means a test definition cannot transition to
// running. Fatal at activation time.
type ConfigurationError struct {
	TestID string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("test %s: invalid configuration: %s", e.TestID, e.Reason)
}

// AttributionMismatch describes a conversion that cannot be credited:
// either no assignment exists for the (test, visitor) pair or the event
// fell outside the attribution window. It is recorded and logged, never
// returned to event submitters.
type AttributionMismatch struct {
	TestID    string
	VisitorID string
	Reason    string
}

func (e *AttributionMismatch) Error() string {
	return fmt.Sprintf("attribution mismatch for test %s visitor %s: %s", e.TestID, e.VisitorID, e.Reason)
}
