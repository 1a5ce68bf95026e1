// Package protoerr defines the runtime's error taxonomy. Validators and the
// runner classify every failure as one of these kinds so that callers can
// branch on errors.Is/As without string matching.
package protoerr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Wrap with context via fmt.Errorf("...: %w", Err...).
var (
	// ErrSchemaViolation marks a malformed packet. Fatal to the packet,
	// non-fatal to the episode.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrFSMViolation marks an illegal transition or missing predecessor.
	ErrFSMViolation = errors.New("fsm violation")

	// ErrBudgetExceeded is the cooperative termination trigger.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrTokenInvalid marks an expired, revoked, or usage-exhausted token
	// referenced by a WRITE directive.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrLayerContract marks a layer emitting a packet kind outside its
	// emission contract. The packet is dropped and the step fails.
	ErrLayerContract = errors.New("layer contract violation")

	// ErrStepTimeout marks a step exceeding its deadline.
	ErrStepTimeout = errors.New("step timeout")

	// ErrEpisodeFatal marks a safe-mode halt; no further packets admitted.
	ErrEpisodeFatal = errors.New("episode fatal")
)

// InvariantError identifies a cross-policy rule failure by its code
// (INV-001..INV-012).
type InvariantError struct {
	Code    string
	Message string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant %s: %s", e.Code, e.Message)
}

// Invariant builds an InvariantError for the given rule code.
func Invariant(code, format string, args ...any) *InvariantError {
	return &InvariantError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvariantCode extracts the rule code from err, if it wraps an
// InvariantError.
func InvariantCode(err error) (string, bool) {
	var ie *InvariantError
	if errors.As(err, &ie) {
		return ie.Code, true
	}
	return "", false
}
