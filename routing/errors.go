package routing

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy. Timeout and invalid
// results are always recovered locally by the Router's fallback loop; only
// the two terminal conditions ever reach the caller.
var (
	// ErrNoAvailableBackend means scoring produced an empty ranking — every
	// registered backend was vetoed. Terminal.
	ErrNoAvailableBackend = errors.New("no available backend")

	// ErrTimeout means a single backend invocation exceeded its budget.
	ErrTimeout = errors.New("backend invocation timed out")

	// ErrInvalidResult means a backend returned malformed or out-of-range
	// data that failed schema validation.
	ErrInvalidResult = errors.New("invalid backend result")

	// ErrAllBackendsExhausted means every ranked candidate failed.
	// Terminal; surfaced wrapped in an ExhaustionError.
	ErrAllBackendsExhausted = errors.New("all backends exhausted")
)

// ExhaustionError is the terminal error returned when every attempted
// backend failed. It carries the full routing decision so callers can log
// which candidates were ranked and which were actually tried.
type ExhaustionError struct {
	Decision RoutingDecision
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("all backends exhausted after %d attempt(s): %v",
		len(e.Decision.FallbackChain), e.Decision.FallbackChain)
}

func (e *ExhaustionError) Unwrap() error { return ErrAllBackendsExhausted }
