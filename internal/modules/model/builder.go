package model

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/frontier/internal/modules/statistics"
)

const (
	// symmetryTol is the maximum allowed |Σ[i][j] - Σ[j][i]| on raw input.
	symmetryTol = 1e-9
	// psdTol is the most negative eigenvalue still accepted as PSD noise.
	psdTol = -1e-8
	// feasTol absorbs rounding in the advisory feasibility checks.
	feasTol = 1e-9
)

// ConstructionError reports a model that cannot form a well-posed convex QP:
// an asymmetric or non-PSD covariance matrix, a malformed constraint, or
// bounds that are infeasible by construction.
type ConstructionError struct {
	Reason        string
	MinEigenvalue float64 // populated for PSD failures
}

func (e *ConstructionError) Error() string {
	return "model construction: " + e.Reason
}

// GroupRule is a linear business constraint over a subset of assets, e.g.
// "asset 0 + asset 2 <= 0.2". Coeffs is optional; when nil every referenced
// asset gets coefficient 1.
type GroupRule struct {
	Label    string
	Indices  []int
	Coeffs   []float64
	Relation Relation
	RHS      float64
}

// Config enumerates the business rules applied to a model.
type Config struct {
	LowerBounds []float64 // per-asset floor; nil means 0 everywhere (no short-selling)
	UpperBounds []float64 // per-asset cap; nil means unbounded
	Rules       []GroupRule
	Sense       Sense
}

// Builder constructs optimization models from return statistics.
type Builder struct {
	log zerolog.Logger
}

// NewBuilder creates a new model builder.
func NewBuilder(log zerolog.Logger) *Builder {
	return &Builder{
		log: log.With().Str("component", "model").Logger(),
	}
}

// BuildFromStats builds a model from computed statistics.
func (b *Builder) BuildFromStats(stats *statistics.Stats, cfg Config) (*Model, error) {
	n := len(stats.Assets)
	cov := make([][]float64, n)
	for i := 0; i < n; i++ {
		cov[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			cov[i][j] = stats.Cov.At(i, j)
		}
	}
	return b.Build(stats.Assets, stats.Mean, cov, cfg)
}

// Build constructs a model from a mean-return vector and covariance matrix.
// The asset order given here is canonical for the life of the model: every
// weight vector, bound and constraint coefficient indexes through it.
func (b *Builder) Build(assets []string, mean []float64, cov [][]float64, cfg Config) (*Model, error) {
	n := len(assets)
	if n == 0 {
		return nil, &ConstructionError{Reason: "no assets provided"}
	}
	if len(mean) != n {
		return nil, &ConstructionError{Reason: fmt.Sprintf("mean vector has %d entries for %d assets", len(mean), n)}
	}
	if len(cov) != n {
		return nil, &ConstructionError{Reason: fmt.Sprintf("covariance matrix has %d rows for %d assets", len(cov), n)}
	}

	sym, err := toSymmetric(cov)
	if err != nil {
		return nil, err
	}
	if err := checkPSD(sym); err != nil {
		return nil, err
	}

	lower, upper, err := resolveBounds(n, cfg)
	if err != nil {
		return nil, err
	}

	m := &Model{
		assets:  append([]string(nil), assets...),
		mean:    append([]float64(nil), mean...),
		cov:     sym,
		lower:   lower,
		upper:   upper,
		sense:   cfg.Sense,
		byLabel: make(map[string]*Constraint),
	}

	// Budget constraint: fully invested.
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1.0
	}
	if err := m.AddConstraint(BudgetLabel, ones, Eq, 1.0); err != nil {
		return nil, err
	}

	for _, rule := range cfg.Rules {
		coeffs, err := expandRule(n, rule)
		if err != nil {
			return nil, err
		}
		if err := m.AddConstraint(rule.Label, coeffs, rule.Relation, rule.RHS); err != nil {
			return nil, err
		}
	}

	if err := checkAdvisoryFeasibility(m); err != nil {
		return nil, err
	}

	b.log.Debug().
		Int("num_assets", n).
		Int("num_constraints", len(m.constraints)).
		Msg("Built optimization model")

	return m, nil
}

// toSymmetric validates symmetry within tolerance and converts to SymDense.
func toSymmetric(cov [][]float64) (*mat.SymDense, error) {
	n := len(cov)
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		if len(cov[i]) != n {
			return nil, &ConstructionError{Reason: fmt.Sprintf("covariance row %d has %d columns, expected %d", i, len(cov[i]), n)}
		}
		for j := i; j < n; j++ {
			if math.IsNaN(cov[i][j]) || math.IsInf(cov[i][j], 0) {
				return nil, &ConstructionError{Reason: fmt.Sprintf("covariance entry (%d,%d) is not finite", i, j)}
			}
			if math.Abs(cov[i][j]-cov[j][i]) > symmetryTol {
				return nil, &ConstructionError{
					Reason: fmt.Sprintf("covariance matrix not symmetric: |Σ[%d][%d]-Σ[%d][%d]| = %g", i, j, j, i, math.Abs(cov[i][j]-cov[j][i])),
				}
			}
			sym.SetSym(i, j, cov[i][j])
		}
	}
	return sym, nil
}

// checkPSD verifies all eigenvalues are >= psdTol. A non-PSD matrix makes the
// QP non-convex and solver results non-authoritative.
func checkPSD(sym *mat.SymDense) error {
	var eig mat.EigenSym
	if ok := eig.Factorize(sym, false); !ok {
		return &ConstructionError{Reason: "eigendecomposition of covariance matrix failed"}
	}
	values := eig.Values(nil)
	minEig := math.Inf(1)
	for _, v := range values {
		if v < minEig {
			minEig = v
		}
	}
	if minEig < psdTol {
		return &ConstructionError{
			Reason:        fmt.Sprintf("covariance matrix is not positive semi-definite: min eigenvalue %g", minEig),
			MinEigenvalue: minEig,
		}
	}
	return nil
}

func resolveBounds(n int, cfg Config) (lower, upper []float64, err error) {
	lower = make([]float64, n)
	upper = make([]float64, n)
	for i := range upper {
		upper[i] = math.Inf(1)
	}

	if cfg.LowerBounds != nil {
		if len(cfg.LowerBounds) != n {
			return nil, nil, &ConstructionError{Reason: fmt.Sprintf("lower bounds have %d entries for %d assets", len(cfg.LowerBounds), n)}
		}
		copy(lower, cfg.LowerBounds)
	}
	if cfg.UpperBounds != nil {
		if len(cfg.UpperBounds) != n {
			return nil, nil, &ConstructionError{Reason: fmt.Sprintf("upper bounds have %d entries for %d assets", len(cfg.UpperBounds), n)}
		}
		copy(upper, cfg.UpperBounds)
	}

	for i := 0; i < n; i++ {
		if math.IsNaN(lower[i]) || math.IsInf(lower[i], 0) {
			return nil, nil, &ConstructionError{Reason: fmt.Sprintf("asset %d has non-finite lower bound", i)}
		}
		if math.IsNaN(upper[i]) || math.IsInf(upper[i], -1) {
			return nil, nil, &ConstructionError{Reason: fmt.Sprintf("asset %d has invalid upper bound", i)}
		}
		if lower[i] > upper[i] {
			return nil, nil, &ConstructionError{Reason: fmt.Sprintf("asset %d has lower bound %g above upper bound %g", i, lower[i], upper[i])}
		}
	}
	return lower, upper, nil
}

// expandRule densifies a group rule over the full asset order, validating that
// every referenced index exists.
func expandRule(n int, rule GroupRule) ([]float64, error) {
	if len(rule.Indices) == 0 {
		return nil, &ConstructionError{Reason: fmt.Sprintf("rule %q references no assets", rule.Label)}
	}
	if rule.Coeffs != nil && len(rule.Coeffs) != len(rule.Indices) {
		return nil, &ConstructionError{Reason: fmt.Sprintf("rule %q has %d coefficients for %d indices", rule.Label, len(rule.Coeffs), len(rule.Indices))}
	}

	coeffs := make([]float64, n)
	seen := make(map[int]bool, len(rule.Indices))
	for k, idx := range rule.Indices {
		if idx < 0 || idx >= n {
			return nil, &ConstructionError{Reason: fmt.Sprintf("rule %q references asset index %d, have %d assets", rule.Label, idx, n)}
		}
		if seen[idx] {
			return nil, &ConstructionError{Reason: fmt.Sprintf("rule %q references asset index %d twice", rule.Label, idx)}
		}
		seen[idx] = true
		c := 1.0
		if rule.Coeffs != nil {
			c = rule.Coeffs[k]
		}
		coeffs[idx] = c
	}
	return coeffs, nil
}

// checkAdvisoryFeasibility rejects constraint sets that are provably infeasible
// by construction. This is advisory only: anything it cannot prove is left to
// the solve step, which reports INFEASIBLE categorically.
func checkAdvisoryFeasibility(m *Model) error {
	lower, upper := m.Bounds()

	var lowerSum float64
	upperSum := 0.0
	upperFinite := true
	for i := range lower {
		lowerSum += lower[i]
		if math.IsInf(upper[i], 1) {
			upperFinite = false
		} else {
			upperSum += upper[i]
		}
	}
	if lowerSum > 1.0+feasTol {
		return &ConstructionError{Reason: fmt.Sprintf("per-asset lower bounds sum to %g, exceeding the budget of 1.0", lowerSum)}
	}
	if upperFinite && upperSum < 1.0-feasTol {
		return &ConstructionError{Reason: fmt.Sprintf("per-asset upper bounds sum to %g, below the budget of 1.0", upperSum)}
	}

	// Each rule checked against what bounds alone permit for its weighted sum.
	for _, c := range m.constraints {
		if c.Label == BudgetLabel {
			continue
		}
		minVal, maxVal := rangeUnderBounds(c.Coeffs, lower, upper)
		switch c.Relation {
		case Le:
			if minVal > c.RHS+feasTol {
				return &ConstructionError{Reason: fmt.Sprintf("constraint %q requires <= %g but bounds force at least %g", c.Label, c.RHS, minVal)}
			}
		case Ge:
			if maxVal < c.RHS-feasTol {
				return &ConstructionError{Reason: fmt.Sprintf("constraint %q requires >= %g but bounds permit at most %g", c.Label, c.RHS, maxVal)}
			}
		case Eq:
			if minVal > c.RHS+feasTol || maxVal < c.RHS-feasTol {
				return &ConstructionError{Reason: fmt.Sprintf("constraint %q requires == %g but bounds permit [%g, %g]", c.Label, c.RHS, minVal, maxVal)}
			}
		}
	}
	return nil
}

// rangeUnderBounds computes the attainable range of coeffs·x when each x_i
// varies independently within its bounds.
func rangeUnderBounds(coeffs, lower, upper []float64) (minVal, maxVal float64) {
	for i, c := range coeffs {
		if c == 0 {
			continue
		}
		lo, hi := c*lower[i], c*upper[i]
		if lo > hi {
			lo, hi = hi, lo
		}
		minVal += lo
		maxVal += hi
	}
	return minVal, maxVal
}
