package frontier

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/modules/history"
	"github.com/aristath/frontier/internal/modules/model"
	"github.com/aristath/frontier/internal/modules/solver"
	"github.com/aristath/frontier/internal/modules/statistics"
)

// RuleSpec is the wire form of a business constraint.
type RuleSpec struct {
	Label    string    `json:"label"`
	Indices  []int     `json:"indices"`
	Coeffs   []float64 `json:"coeffs,omitempty"`
	Relation string    `json:"relation"` // "<=", ">=", "=="
	RHS      float64   `json:"rhs"`
}

// Request describes one optimization or trace: which assets, over what bounds
// and rules. Empty Assets falls back to the configured universe.
type Request struct {
	Assets      []string   `json:"assets,omitempty"`
	LowerBounds []float64  `json:"lower_bounds,omitempty"`
	UpperBounds []float64  `json:"upper_bounds,omitempty"`
	Rules       []RuleSpec `json:"rules,omitempty"`
}

// Portfolio is a single optimized allocation with its statistics context.
type Portfolio struct {
	GeneratedAt time.Time `json:"generated_at"`
	Assets      []string  `json:"assets"`
	Solver      string    `json:"solver"`
	Point       Point     `json:"point"`
	Periods     int       `json:"periods"`
}

// Options configures the service.
type Options struct {
	Assets       []string // default universe
	LookbackDays int
	SolveTimeout time.Duration
	Workers      int
}

// Service runs the full pipeline: price history to statistics to model to
// solved portfolios and frontier traces.
type Service struct {
	prices *history.PriceStore
	stats  *statistics.Builder
	models *model.Builder
	engine solver.Solver
	tracer *Tracer
	opts   Options
	log    zerolog.Logger
}

// NewService creates the frontier service.
func NewService(
	prices *history.PriceStore,
	stats *statistics.Builder,
	models *model.Builder,
	engine solver.Solver,
	tracer *Tracer,
	opts Options,
	log zerolog.Logger,
) *Service {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	return &Service{
		prices: prices,
		stats:  stats,
		models: models,
		engine: engine,
		tracer: tracer,
		opts:   opts,
		log:    log.With().Str("service", "frontier").Logger(),
	}
}

// Optimize computes the minimum-risk portfolio for the request.
func (s *Service) Optimize(ctx context.Context, req Request) (*Portfolio, error) {
	m, stats, err := s.buildModel(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sol, err := s.engine.Solve(ctx, m)
	if err != nil {
		return nil, &SolverFailureError{Target: math.NaN(), Err: err}
	}
	switch sol.Status {
	case solver.StatusOptimal:
	case solver.StatusInfeasible:
		return nil, ErrInfeasible
	default:
		return nil, &SolverFailureError{Target: math.NaN(), Err: fmt.Errorf("engine reported %s", sol.Status)}
	}

	ret := m.Return(sol.Weights)
	return &Portfolio{
		GeneratedAt: time.Now().UTC(),
		Assets:      m.Assets(),
		Solver:      s.engine.Name(),
		Point:       s.tracer.point(m, ret, sol),
		Periods:     stats.Periods,
	}, nil
}

// Trace computes the full efficient frontier for the request.
func (s *Service) Trace(ctx context.Context, req Request) (*Result, error) {
	m, _, err := s.buildModel(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.tracer.TraceParallel(ctx, m, s.opts.Workers)
}

// buildModel runs history -> statistics -> model for a request.
func (s *Service) buildModel(req Request) (*model.Model, *statistics.Stats, error) {
	assets := req.Assets
	if len(assets) == 0 {
		assets = s.opts.Assets
	}
	if len(assets) == 0 {
		return nil, nil, fmt.Errorf("no assets requested and no default universe configured")
	}

	pm, err := s.prices.BuildPriceMatrix(assets, s.opts.LookbackDays)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build price matrix: %w", err)
	}

	stats, err := s.stats.Compute(pm)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute statistics: %w", err)
	}

	rules := make([]model.GroupRule, 0, len(req.Rules))
	for _, spec := range req.Rules {
		rel, err := parseRelation(spec.Relation)
		if err != nil {
			return nil, nil, err
		}
		rules = append(rules, model.GroupRule{
			Label:    spec.Label,
			Indices:  spec.Indices,
			Coeffs:   spec.Coeffs,
			Relation: rel,
			RHS:      spec.RHS,
		})
	}

	m, err := s.models.BuildFromStats(stats, model.Config{
		LowerBounds: req.LowerBounds,
		UpperBounds: req.UpperBounds,
		Rules:       rules,
		Sense:       model.MinimizeRisk,
	})
	if err != nil {
		return nil, nil, err
	}
	return m, stats, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.SolveTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.SolveTimeout)
}

func parseRelation(rel string) (model.Relation, error) {
	switch rel {
	case "<=":
		return model.Le, nil
	case ">=":
		return model.Ge, nil
	case "==", "=":
		return model.Eq, nil
	}
	return 0, fmt.Errorf("unknown constraint relation %q, want <=, >= or ==", rel)
}
