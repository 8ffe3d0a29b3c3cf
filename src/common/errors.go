package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrKind classifies consensus failures so that callers can tell malformed
// input apart from clock problems, overload, delivery failures and proving
// failures.
type ErrKind uint32

const (
	// Validation covers malformed or inconsistent data. Not retried.
	Validation ErrKind = iota
	// Timing covers drift and staleness of timestamp commitments.
	Timing
	// Capacity covers buffer and tip-set overflow.
	Capacity
	// Network covers delivery failures after bounded retries.
	Network
	// Proving covers prover failures and timeouts.
	Proving
)

// String ...
func (k ErrKind) String() string {
	switch k {
	case Validation:
		return "Validation"
	case Timing:
		return "Timing"
	case Capacity:
		return "Capacity"
	case Network:
		return "Network"
	case Proving:
		return "Proving"
	default:
		return "Unknown"
	}
}

// ConsensusErr is an error scoped to the component that raised it.
type ConsensusErr struct {
	kind      ErrKind
	component string
	msg       string
}

// NewErr ...
func NewErr(kind ErrKind, component string, msg string) ConsensusErr {
	return ConsensusErr{
		kind:      kind,
		component: component,
		msg:       msg,
	}
}

// Errf builds a ConsensusErr with a formatted message.
func Errf(kind ErrKind, component string, format string, args ...interface{}) ConsensusErr {
	return NewErr(kind, component, fmt.Sprintf(format, args...))
}

// Kind ...
func (e ConsensusErr) Kind() ErrKind {
	return e.kind
}

// Error ...
func (e ConsensusErr) Error() string {
	return fmt.Sprintf("%s, %s: %s", e.component, e.kind, e.msg)
}

// IsKind checks that the root cause of err is a ConsensusErr of kind k. Errors
// wrapped with github.com/pkg/errors are unwrapped first.
func IsKind(err error, k ErrKind) bool {
	if err == nil {
		return false
	}
	cErr, ok := errors.Cause(err).(ConsensusErr)
	return ok && cErr.kind == k
}
