package tick

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidBatchSize    = errors.New("batch size must be positive")
	ErrInvalidTickInterval = errors.New("tick interval frames must be positive")
)

// ConfigError reports a rejected configuration.
type ConfigError struct {
	Field string
	Value int
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("tick: invalid config %s=%d: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a participant.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("tick: participant panicked: %v", e.Value)
}

// Phase tells where a failure happened.
type Phase string

const (
	PhaseTick        Phase = "tick"
	PhaseEligibility Phase = "eligibility"
)

// Failure is a DispatchFailure: one participant misbehaved during a pass.
// It is reported, never propagated to the driver.
type Failure struct {
	Frame       uint64
	Index       int // position in the eligible snapshot, -1 for eligibility failures
	Phase       Phase
	Participant Tickable
	Err         error
}

func (f Failure) Error() string {
	return fmt.Sprintf("frame %d %s[%d]: %v", f.Frame, f.Phase, f.Index, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}
