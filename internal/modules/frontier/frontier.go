// Package frontier traces the efficient frontier: the minimum-risk portfolio
// at each of a sweep of target returns spanning the range of the individual
// asset mean returns.
package frontier

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/aristath/frontier/internal/modules/model"
	"github.com/aristath/frontier/internal/modules/solver"
)

// TargetLabel identifies the return-target constraint the tracer adds to its
// working models. Models given to the tracer must not already carry it.
const TargetLabel = "target"

// DefaultPoints is the sweep resolution when none is configured.
const DefaultPoints = 25

// Allocation pairs an asset with its portfolio weight.
type Allocation struct {
	Asset  string  `json:"asset"`
	Weight float64 `json:"weight"`
}

// Point is one solved portfolio on the frontier.
type Point struct {
	TargetReturn float64      `json:"target_return"`
	Return       float64      `json:"return"`
	Risk         float64      `json:"risk"` // variance x'Σx
	Volatility   float64      `json:"volatility"`
	Allocations  []Allocation `json:"allocations"`
}

// Result is a complete frontier trace.
type Result struct {
	RunID       uuid.UUID `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Assets      []string  `json:"assets"`
	Solver      string    `json:"solver"`
	Baseline    Point     `json:"baseline"` // unconstrained-return minimum-risk portfolio
	MinReturn   float64   `json:"min_return"` // sweep bounds: the span of asset mean returns
	MaxReturn   float64   `json:"max_return"`
	Points      []Point   `json:"points"`
	Skipped     int       `json:"skipped"` // targets with no feasible portfolio
}

// Tracer sweeps a return-target constraint across the span of the asset mean
// returns. Targets the business constraints cannot reach come back infeasible
// and are skipped, so the emitted points cover exactly the attainable slice of
// that span.
type Tracer struct {
	qp     solver.Solver
	points int
	log    zerolog.Logger
}

// NewTracer creates a tracer sweeping the given number of points per run.
// A single point degenerates to the baseline portfolio alone.
func NewTracer(engine solver.Solver, points int, log zerolog.Logger) *Tracer {
	if points < 1 {
		points = DefaultPoints
	}
	return &Tracer{
		qp:     engine,
		points: points,
		log:    log.With().Str("component", "frontier").Logger(),
	}
}

// Trace computes the frontier serially. The model is cloned; the caller's
// instance is never mutated.
func (t *Tracer) Trace(ctx context.Context, m *model.Model) (*Result, error) {
	res, targets, work, err := t.prepare(ctx, m)
	if err != nil {
		return nil, err
	}

	points := make([]*Point, len(targets))
	for i, target := range targets {
		p, err := t.solveTarget(ctx, work, target)
		if err != nil {
			return nil, err
		}
		points[i] = p
	}

	return t.finish(res, points), nil
}

// TraceParallel computes the frontier with the given number of workers, each
// owning a model clone. Point order in the result matches the serial trace.
func (t *Tracer) TraceParallel(ctx context.Context, m *model.Model, workers int) (*Result, error) {
	if workers < 1 {
		workers = 1
	}

	res, targets, work, err := t.prepare(ctx, m)
	if err != nil {
		return nil, err
	}

	points := make([]*Point, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	next := make(chan int)

	g.Go(func() error {
		defer close(next)
		for i := range targets {
			select {
			case next <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		local := work.Clone()
		g.Go(func() error {
			for i := range next {
				p, err := t.solveTarget(gctx, local, targets[i])
				if err != nil {
					return err
				}
				points[i] = p
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return t.finish(res, points), nil
}

// prepare solves the baseline and returns a working model carrying the
// target constraint, plus the target grid over [min mean, max mean].
func (t *Tracer) prepare(ctx context.Context, m *model.Model) (*Result, []float64, *model.Model, error) {
	base, err := t.qp.Solve(ctx, m)
	if err != nil {
		return nil, nil, nil, &SolverFailureError{Target: math.NaN(), Err: err}
	}
	switch base.Status {
	case solver.StatusOptimal:
	case solver.StatusInfeasible:
		return nil, nil, nil, ErrInfeasible
	case solver.StatusUnbounded:
		// The risk objective is bounded below for any PSD covariance, so an
		// unbounded baseline means the matrix validation was defeated.
		return nil, nil, nil, &model.ConstructionError{Reason: "baseline risk solve reported unbounded; covariance matrix is not positive semi-definite"}
	default:
		return nil, nil, nil, &SolverFailureError{Target: math.NaN(), Err: fmt.Errorf("baseline solve reported %s", base.Status)}
	}

	baseReturn := m.Return(base.Weights)
	mean := m.Mean()
	minReturn := floats.Min(mean)
	maxReturn := floats.Max(mean)

	var targets []float64
	if t.points > 1 {
		targets = linspace(minReturn, maxReturn, t.points)
	}

	work := m.Clone()
	if len(targets) > 0 {
		if err := work.AddConstraint(TargetLabel, mean, model.Eq, targets[0]); err != nil {
			return nil, nil, nil, err
		}
	}

	t.log.Info().
		Int("num_points", t.points).
		Float64("min_return", minReturn).
		Float64("max_return", maxReturn).
		Str("solver", t.qp.Name()).
		Msg("Tracing efficient frontier")

	res := &Result{
		RunID:       uuid.New(),
		GeneratedAt: time.Now().UTC(),
		Assets:      append([]string(nil), m.Assets()...),
		Solver:      t.qp.Name(),
		Baseline:    t.point(m, baseReturn, base),
		MinReturn:   minReturn,
		MaxReturn:   maxReturn,
	}
	if t.points == 1 {
		// Degenerate sweep: the frontier is the baseline portfolio itself.
		res.Points = []Point{res.Baseline}
	}
	return res, targets, work, nil
}

// solveTarget solves one sweep point. A nil point with nil error means the
// target is infeasible and is skipped.
func (t *Tracer) solveTarget(ctx context.Context, work *model.Model, target float64) (*Point, error) {
	if err := work.SetConstraintRHS(TargetLabel, target); err != nil {
		return nil, err
	}

	sol, err := t.qp.Solve(ctx, work)
	if err != nil {
		return nil, &SolverFailureError{Target: target, Err: err}
	}
	switch sol.Status {
	case solver.StatusOptimal:
		p := t.point(work, target, sol)
		return &p, nil
	case solver.StatusInfeasible:
		t.log.Debug().Float64("target", target).Msg("Skipping infeasible frontier point")
		return nil, nil
	default:
		return nil, &SolverFailureError{Target: target, Err: fmt.Errorf("engine reported %s", sol.Status)}
	}
}

func (t *Tracer) point(m *model.Model, target float64, sol solver.Solution) Point {
	assets := m.Assets()
	allocs := make([]Allocation, len(assets))
	for i, asset := range assets {
		allocs[i] = Allocation{Asset: asset, Weight: sol.Weights[i]}
	}
	risk := m.Risk(sol.Weights)
	return Point{
		TargetReturn: target,
		Return:       m.Return(sol.Weights),
		Risk:         risk,
		Volatility:   math.Sqrt(risk),
		Allocations:  allocs,
	}
}

func (t *Tracer) finish(res *Result, points []*Point) *Result {
	for _, p := range points {
		if p == nil {
			res.Skipped++
			continue
		}
		res.Points = append(res.Points, *p)
	}
	t.log.Info().
		Int("solved", len(res.Points)).
		Int("skipped", res.Skipped).
		Str("run_id", res.RunID.String()).
		Msg("Frontier trace complete")
	return res
}

// linspace generates n evenly spaced values from lo to hi inclusive.
func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}
