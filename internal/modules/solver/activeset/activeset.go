// Package activeset implements the default optimization engine: a primal
// active-set method for the convex risk QP, with a simplex phase for the
// initial feasible point and for the linear return-maximization mode.
package activeset

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/aristath/frontier/internal/modules/model"
	"github.com/aristath/frontier/internal/modules/solver"
)

const (
	// maxIterations bounds the active-set loop. Working sets over n variables
	// and m constraints converge well within this for portfolio-sized problems.
	maxIterations = 500
	// activeTol decides whether an inequality row is active at a point.
	activeTol = 1e-9
	// stepTol is the minimum meaningful step length.
	stepTol = 1e-12
	// multiplierTol is the threshold below which a Lagrange multiplier is
	// considered negative, triggering a working-set drop.
	multiplierTol = -1e-9
	// ridge regularizes the KKT system against semi-definite covariance and
	// near-dependent working sets.
	ridge = 1e-10
	// depTol decides whether two equality rows are scalar multiples of each
	// other. Duplicate rows make lp.Convert's equality matrix singular.
	depTol = 1e-12
)

// Engine is the built-in active-set solver.
type Engine struct {
	log zerolog.Logger
}

// New creates the active-set engine.
func New(log zerolog.Logger) *Engine {
	return &Engine{
		log: log.With().Str("component", "solver").Str("engine", "activeset").Logger(),
	}
}

// Name implements solver.Solver.
func (e *Engine) Name() string { return "activeset" }

// standardized holds a model flattened into equality rows (eqA x = eqB) and
// inequality rows normalized to the one direction ineqG x <= ineqH. Bounds
// become inequality rows so the core loop only sees linear rows. infeasible
// marks an equality set already proven contradictory during flattening.
type standardized struct {
	n          int
	eqA        [][]float64
	eqB        []float64
	ineqG      [][]float64
	ineqH      []float64
	infeasible bool
}

func standardize(m *model.Model) standardized {
	n := m.NumAssets()
	s := standardized{n: n}

	for _, c := range m.Constraints() {
		coeffs := append([]float64(nil), c.Coeffs...)
		switch c.Relation {
		case model.Eq:
			s.addEquality(coeffs, c.RHS)
		case model.Le:
			s.ineqG = append(s.ineqG, coeffs)
			s.ineqH = append(s.ineqH, c.RHS)
		case model.Ge:
			neg := make([]float64, n)
			for i, v := range coeffs {
				neg[i] = -v
			}
			s.ineqG = append(s.ineqG, neg)
			s.ineqH = append(s.ineqH, -c.RHS)
		}
	}

	lower, upper := m.Bounds()
	for i := 0; i < n; i++ {
		row := make([]float64, n)
		row[i] = -1
		s.ineqG = append(s.ineqG, row)
		s.ineqH = append(s.ineqH, -lower[i])

		if !math.IsInf(upper[i], 1) {
			row := make([]float64, n)
			row[i] = 1
			s.ineqG = append(s.ineqG, row)
			s.ineqH = append(s.ineqH, upper[i])
		}
	}
	return s
}

// addEquality appends an equality row unless it is a scalar multiple of one
// already collected. A target-return row over identical mean returns is the
// budget row rescaled; keeping both makes the simplex equality matrix
// singular. A consistent multiple is redundant and dropped, an inconsistent
// one proves the set empty.
func (s *standardized) addEquality(coeffs []float64, rhs float64) {
	zero := true
	for _, v := range coeffs {
		if math.Abs(v) > depTol {
			zero = false
			break
		}
	}
	if zero {
		if math.Abs(rhs) > activeTol {
			s.infeasible = true
		}
		return
	}

	for r, row := range s.eqA {
		scale, ok := proportional(row, coeffs)
		if !ok {
			continue
		}
		if math.Abs(rhs-scale*s.eqB[r]) > activeTol {
			s.infeasible = true
		}
		return
	}

	s.eqA = append(s.eqA, coeffs)
	s.eqB = append(s.eqB, rhs)
}

// proportional reports whether b == t*a for a single scalar t.
func proportional(a, b []float64) (float64, bool) {
	t := 0.0
	found := false
	for i := range a {
		switch {
		case math.Abs(a[i]) <= depTol && math.Abs(b[i]) <= depTol:
		case math.Abs(a[i]) <= depTol || math.Abs(b[i]) <= depTol:
			return 0, false
		case !found:
			t = b[i] / a[i]
			found = true
		case math.Abs(b[i]-t*a[i]) > depTol*math.Max(1, math.Abs(b[i])):
			return 0, false
		}
	}
	return t, found
}

// Solve implements solver.Solver.
func (e *Engine) Solve(ctx context.Context, m *model.Model) (solver.Solution, error) {
	if err := ctx.Err(); err != nil {
		return solver.Solution{Status: solver.StatusError}, fmt.Errorf("solve cancelled: %w", err)
	}

	s := standardize(m)
	if s.infeasible {
		return solver.Solution{Status: solver.StatusInfeasible}, nil
	}

	if m.Sense() == model.MaximizeReturn {
		return e.solveLinear(ctx, m, s)
	}
	return e.solveQuadratic(ctx, m, s)
}

// solveLinear handles the return-maximization mode as a pure LP.
func (e *Engine) solveLinear(_ context.Context, m *model.Model, s standardized) (solver.Solution, error) {
	// Maximize δ·x == minimize -δ·x.
	c := make([]float64, s.n)
	for i, d := range m.Mean() {
		c[i] = -d
	}

	x, err := runSimplex(c, s)
	if err != nil {
		switch {
		case errors.Is(err, lp.ErrInfeasible):
			return solver.Solution{Status: solver.StatusInfeasible}, nil
		case errors.Is(err, lp.ErrUnbounded):
			return solver.Solution{Status: solver.StatusUnbounded}, nil
		default:
			return solver.Solution{Status: solver.StatusError}, fmt.Errorf("simplex failed: %w", err)
		}
	}

	return solver.Solution{
		Status:    solver.StatusOptimal,
		Objective: m.Return(x),
		Weights:   x,
	}, nil
}

// solveQuadratic minimizes x'Σx with a primal active-set loop.
func (e *Engine) solveQuadratic(ctx context.Context, m *model.Model, s standardized) (solver.Solution, error) {
	x, err := e.findFeasible(s)
	if err != nil {
		if errors.Is(err, lp.ErrInfeasible) {
			return solver.Solution{Status: solver.StatusInfeasible}, nil
		}
		return solver.Solution{Status: solver.StatusError}, fmt.Errorf("feasibility phase failed: %w", err)
	}

	// Working set: indices into s.ineqG currently treated as equalities.
	// Equality rows are always in the KKT system.
	active := make([]bool, len(s.ineqG))
	for i, g := range s.ineqG {
		if s.ineqH[i]-dot(g, x) <= activeTol {
			active[i] = true
		}
	}

	for iter := 0; iter < maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return solver.Solution{Status: solver.StatusError}, fmt.Errorf("solve cancelled after %d iterations: %w", iter, err)
		}

		xNew, ineqMult, err := e.solveKKT(m, s, active)
		if err != nil {
			return solver.Solution{Status: solver.StatusError}, fmt.Errorf("kkt solve failed at iteration %d: %w", iter, err)
		}

		step := make([]float64, s.n)
		var stepNorm float64
		for i := range step {
			step[i] = xNew[i] - x[i]
			stepNorm += step[i] * step[i]
		}

		if stepNorm <= stepTol {
			// Stationary on the working set. Optimal unless some active
			// inequality holds a negative multiplier.
			dropIdx := -1
			worst := multiplierTol
			for idx, y := range ineqMult {
				if y < worst {
					worst = y
					dropIdx = idx
				}
			}
			if dropIdx == -1 {
				e.log.Debug().
					Int("iterations", iter).
					Float64("objective", m.Risk(x)).
					Msg("Solved risk minimization")
				return solver.Solution{
					Status:    solver.StatusOptimal,
					Objective: m.Risk(x),
					Weights:   x,
				}, nil
			}
			active[dropIdx] = false
			continue
		}

		// Longest feasible step toward the subproblem optimum.
		alpha := 1.0
		blocking := -1
		for i, g := range s.ineqG {
			if active[i] {
				continue
			}
			gp := dot(g, step)
			if gp <= activeTol {
				continue
			}
			a := (s.ineqH[i] - dot(g, x)) / gp
			if a < alpha {
				alpha = a
				blocking = i
			}
		}
		if alpha < 0 {
			alpha = 0
		}

		for i := range x {
			x[i] += alpha * step[i]
		}
		if blocking >= 0 {
			active[blocking] = true
		}
	}

	return solver.Solution{Status: solver.StatusError}, fmt.Errorf("active-set method did not converge within %d iterations", maxIterations)
}

// findFeasible runs a zero-objective simplex phase to locate a point satisfying
// every constraint, or proves none exists.
func (e *Engine) findFeasible(s standardized) ([]float64, error) {
	c := make([]float64, s.n)
	return runSimplex(c, s)
}

// runSimplex minimizes c·x over the standardized constraint set using gonum's
// simplex after conversion to standard form. The converted problem doubles the
// variables; original x[i] is recovered as out[i] - out[n+i].
func runSimplex(c []float64, s standardized) ([]float64, error) {
	g := mat.NewDense(len(s.ineqG), s.n, nil)
	for i, row := range s.ineqG {
		g.SetRow(i, row)
	}
	a := mat.NewDense(len(s.eqA), s.n, nil)
	for i, row := range s.eqA {
		a.SetRow(i, row)
	}

	cNew, aNew, bNew := lp.Convert(c, g, s.ineqH, a, s.eqB)
	_, out, err := lp.Simplex(cNew, aNew, bNew, 0, nil)
	if err != nil {
		return nil, err
	}

	x := make([]float64, s.n)
	for i := range x {
		x[i] = out[i] - out[s.n+i]
	}
	return x, nil
}

// solveKKT solves the equality-constrained subproblem on the current working
// set directly for the optimal point and its multipliers:
//
//	[ P  W' ] [x]   [ 0 ]
//	[ W  0  ] [y] = [ w ]
//
// where P = 2Σ and W stacks the equality rows and active inequality rows.
// Returned multipliers are keyed by inequality-row index.
func (e *Engine) solveKKT(m *model.Model, s standardized, active []bool) ([]float64, map[int]float64, error) {
	n := s.n
	cov := m.Covariance()

	workRows := make([][]float64, 0, len(s.eqA))
	workRHS := make([]float64, 0, len(s.eqB))
	workRows = append(workRows, s.eqA...)
	workRHS = append(workRHS, s.eqB...)

	ineqIdx := make([]int, 0)
	for i, g := range s.ineqG {
		if active[i] {
			workRows = append(workRows, g)
			workRHS = append(workRHS, s.ineqH[i])
			ineqIdx = append(ineqIdx, i)
		}
	}

	k := len(workRows)
	dim := n + k
	kkt := mat.NewDense(dim, dim, nil)

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := 2 * cov.At(i, j)
			if i == j {
				v += ridge
			}
			kkt.Set(i, j, v)
		}
	}
	for r, row := range workRows {
		for j := 0; j < n; j++ {
			kkt.Set(n+r, j, row[j])
			kkt.Set(j, n+r, row[j])
		}
		// Small negative diagonal keeps the system invertible when working-set
		// rows are nearly dependent.
		kkt.Set(n+r, n+r, -ridge)
	}

	rhs := mat.NewVecDense(dim, nil)
	for r, b := range workRHS {
		rhs.SetVec(n+r, b)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(kkt, rhs); err != nil {
		return nil, nil, fmt.Errorf("singular kkt system with %d working rows: %w", k, err)
	}

	x := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = sol.AtVec(i)
	}

	ineqMult := make(map[int]float64, len(ineqIdx))
	numEq := len(s.eqA)
	for pos, idx := range ineqIdx {
		ineqMult[idx] = sol.AtVec(n + numEq + pos)
	}
	return x, ineqMult, nil
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
