// Package cvxsolver adapts the hrautila/cvx interior-point solver to the
// engine boundary. It is the alternative to the built-in active-set engine,
// selected with SOLVER=cvx.
package cvxsolver

import (
	"context"
	"fmt"
	"math"

	"github.com/hrautila/cvx"
	"github.com/hrautila/linalg/blas"
	"github.com/hrautila/matrix"
	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/modules/model"
	"github.com/aristath/frontier/internal/modules/solver"
)

// Engine wraps cvx.Qp.
type Engine struct {
	log zerolog.Logger
}

// New creates the cvx-backed engine.
func New(log zerolog.Logger) *Engine {
	return &Engine{
		log: log.With().Str("component", "solver").Str("engine", "cvx").Logger(),
	}
}

// Name implements solver.Solver.
func (e *Engine) Name() string { return "cvx" }

type qpResult struct {
	sol *cvx.Solution
	err error
}

// Solve implements solver.Solver. The QP runs on its own goroutine so a
// cancelled context surfaces as StatusError even though cvx itself does not
// take a context.
func (e *Engine) Solve(ctx context.Context, m *model.Model) (solver.Solution, error) {
	if m.Sense() == model.MaximizeReturn {
		return solver.Solution{Status: solver.StatusError},
			fmt.Errorf("cvx engine solves the quadratic risk objective only, use the activeset engine for return maximization")
	}
	if err := ctx.Err(); err != nil {
		return solver.Solution{Status: solver.StatusError}, fmt.Errorf("solve cancelled: %w", err)
	}

	n := m.NumAssets()
	p := matrix.FloatMatrixFromTable(scaledCovariance(m))
	q := matrix.FloatZeros(n, 1)
	gRows, hVals := inequalityRows(m)
	g := matrix.FloatMatrixFromTable(gRows)
	h := matrix.FloatVector(hVals)
	aRows, bVals, ok := equalityRows(m)
	if !ok {
		return solver.Solution{Status: solver.StatusInfeasible}, nil
	}
	a := matrix.FloatMatrixFromTable(aRows)
	b := matrix.FloatVector(bVals)

	var solopts cvx.SolverOptions
	solopts.ShowProgress = false

	ch := make(chan qpResult, 1)
	go func() {
		sol, err := cvx.Qp(p, q, g, h, a, b, &solopts, nil)
		ch <- qpResult{sol: sol, err: err}
	}()

	var res qpResult
	select {
	case <-ctx.Done():
		return solver.Solution{Status: solver.StatusError}, fmt.Errorf("solve cancelled: %w", ctx.Err())
	case res = <-ch:
	}

	if res.err != nil {
		return solver.Solution{Status: solver.StatusError}, fmt.Errorf("cvx qp failed: %w", res.err)
	}
	if res.sol == nil || res.sol.Status != cvx.Optimal {
		// cvx reports constraint-set failures through non-optimal termination.
		return solver.Solution{Status: solver.StatusInfeasible}, nil
	}

	xmat := res.sol.Result.At("x")[0]
	x := append([]float64(nil), xmat.FloatArray()[:n]...)

	// x'Σx via the solver's own linear algebra; P is 2Σ.
	risk := blas.DotFloat(xmat, p.Times(xmat)) / 2

	return solver.Solution{
		Status:    solver.StatusOptimal,
		Objective: risk,
		Weights:   x,
	}, nil
}

// scaledCovariance builds P = 2Σ so cvx's (1/2)x'Px + q'x form equals x'Σx.
func scaledCovariance(m *model.Model) [][]float64 {
	n := m.NumAssets()
	cov := m.Covariance()
	p := make([][]float64, n)
	for i := 0; i < n; i++ {
		p[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			p[i][j] = 2 * cov.At(i, j)
		}
	}
	return p
}

// inequalityRows collects every <=-normalized row: business constraints and
// the per-asset bounds.
func inequalityRows(m *model.Model) ([][]float64, []float64) {
	n := m.NumAssets()
	var rows [][]float64
	var rhs []float64

	for _, c := range m.Constraints() {
		switch c.Relation {
		case model.Le:
			rows = append(rows, append([]float64(nil), c.Coeffs...))
			rhs = append(rhs, c.RHS)
		case model.Ge:
			neg := make([]float64, n)
			for i, v := range c.Coeffs {
				neg[i] = -v
			}
			rows = append(rows, neg)
			rhs = append(rhs, -c.RHS)
		}
	}

	lower, upper := m.Bounds()
	for i := 0; i < n; i++ {
		row := make([]float64, n)
		row[i] = -1
		rows = append(rows, row)
		rhs = append(rhs, -lower[i])

		if !math.IsInf(upper[i], 1) {
			row := make([]float64, n)
			row[i] = 1
			rows = append(rows, row)
			rhs = append(rhs, upper[i])
		}
	}
	return rows, rhs
}

// equalityRows collects the equality constraints, dropping rows that are
// scalar multiples of an earlier row. cvx requires A to have full row rank,
// and a target-return row over identical mean returns duplicates the budget
// row. Returns ok=false when a dropped row contradicts the one it duplicates.
func equalityRows(m *model.Model) ([][]float64, []float64, bool) {
	var rows [][]float64
	var rhs []float64
	for _, c := range m.Constraints() {
		if c.Relation != model.Eq {
			continue
		}
		redundant := false
		for r, row := range rows {
			scale, ok := proportional(row, c.Coeffs)
			if !ok {
				continue
			}
			if math.Abs(c.RHS-scale*rhs[r]) > 1e-9 {
				return nil, nil, false
			}
			redundant = true
			break
		}
		if redundant {
			continue
		}
		rows = append(rows, append([]float64(nil), c.Coeffs...))
		rhs = append(rhs, c.RHS)
	}
	return rows, rhs, true
}

// proportional reports whether b == t*a for a single scalar t.
func proportional(a, b []float64) (float64, bool) {
	const tol = 1e-12
	t := 0.0
	found := false
	for i := range a {
		switch {
		case math.Abs(a[i]) <= tol && math.Abs(b[i]) <= tol:
		case math.Abs(a[i]) <= tol || math.Abs(b[i]) <= tol:
			return 0, false
		case !found:
			t = b[i] / a[i]
			found = true
		case math.Abs(b[i]-t*a[i]) > tol*math.Max(1, math.Abs(b[i])):
			return 0, false
		}
	}
	return t, found
}
