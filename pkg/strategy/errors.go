package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/d5/tengo/v2"
)

// ErrorClass splits strategy faults into the two recovery paths: critical
// errors suspend the sandbox and trigger rollback, non-critical ones are
// swallowed per step with logging.
type ErrorClass int

const (
	ClassNonCritical ErrorClass = iota
	ClassCritical
)

func (c ErrorClass) String() string {
	if c == ClassCritical {
		return "critical"
	}
	return "non_critical"
}

type RuntimeError struct {
	Class ErrorClass
	Op    string
	Err   error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("strategy %s (%s): %v", e.Op, e.Class, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func (e *RuntimeError) Critical() bool {
	return e.Class == ClassCritical
}

func criticalError(op string, err error) *RuntimeError {
	return &RuntimeError{Class: ClassCritical, Op: op, Err: err}
}

// classify sorts a step failure into the taxonomy: timeouts, cancellation
// and resource-limit hits are critical; anything the script raised itself
// is a strategy-level logic error and stays non-critical.
func classify(op string, err error) *RuntimeError {
	var rerr *RuntimeError
	if errors.As(err, &rerr) {
		return rerr
	}

	class := ClassNonCritical
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		class = ClassCritical
	case errors.Is(err, tengo.ErrObjectAllocLimit):
		class = ClassCritical
	case errors.Is(err, tengo.ErrStackOverflow):
		class = ClassCritical
	}
	return &RuntimeError{Class: class, Op: op, Err: err}
}
