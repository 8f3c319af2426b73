// Package solver defines the boundary between optimization models and the
// engines that solve them. Engines classify every outcome into a small status
// set so callers can distinguish "no portfolio satisfies these constraints"
// from "the engine broke".
package solver

import (
	"context"

	"github.com/aristath/frontier/internal/modules/model"
)

// Status classifies a solve outcome.
type Status int

const (
	// StatusOptimal means the engine found and verified an optimal point.
	StatusOptimal Status = iota
	// StatusInfeasible means no point satisfies the constraint set. This is a
	// legitimate answer, not an error.
	StatusInfeasible
	// StatusUnbounded means the objective can improve without limit. Only
	// reachable in the linear return-maximization mode.
	StatusUnbounded
	// StatusError means the engine failed: numerical breakdown, iteration
	// limit, or a cancelled context.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Solution is the outcome of one solve. Weights and Objective are only
// meaningful when Status is StatusOptimal.
type Solution struct {
	Status    Status
	Objective float64   // x'Σx when minimizing risk, δ·x when maximizing return
	Weights   []float64 // one entry per asset in the model's canonical order
}

// Solver is implemented by each optimization engine. Solve must respect
// context cancellation; a cancelled or expired context yields StatusError.
type Solver interface {
	Name() string
	Solve(ctx context.Context, m *model.Model) (Solution, error)
}
