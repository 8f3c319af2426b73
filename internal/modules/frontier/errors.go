package frontier

import (
	"errors"
	"fmt"
	"math"
)

// ErrInfeasible means the constraint set admits no portfolio at all, before
// any return target is imposed. There is no frontier to trace.
var ErrInfeasible = errors.New("constraint set admits no feasible portfolio")

// SolverFailureError aborts a trace when the engine breaks on one target.
// Engine failure is never conflated with infeasibility: an infeasible target
// is skipped, a failed one poisons the whole run. Target is NaN when the
// failure happened outside the sweep.
type SolverFailureError struct {
	Target float64
	Err    error
}

func (e *SolverFailureError) Error() string {
	if math.IsNaN(e.Target) {
		return fmt.Sprintf("solver failed: %v", e.Err)
	}
	return fmt.Sprintf("solver failed at target return %g: %v", e.Target, e.Err)
}

func (e *SolverFailureError) Unwrap() error { return e.Err }
