// Package model builds the convex quadratic program solved by the optimization
// engines: one weight variable per asset, a quadratic risk objective, and a
// label-addressed set of linear constraints.
package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// BudgetLabel identifies the full-investment constraint present on every model.
const BudgetLabel = "budget"

// Sense selects the objective formulation.
type Sense int

const (
	// MinimizeRisk minimizes x'Σx. This is the authoritative formulation used
	// for baseline allocation and frontier tracing.
	MinimizeRisk Sense = iota
	// MaximizeReturn maximizes δ·x, ignoring risk. A degenerate linear mode
	// kept for exploratory use; the frontier tracer never uses it.
	MaximizeReturn
)

// Relation is the comparison direction of a linear constraint.
type Relation int

const (
	Eq Relation = iota
	Le
	Ge
)

func (r Relation) String() string {
	switch r {
	case Eq:
		return "=="
	case Le:
		return "<="
	case Ge:
		return ">="
	}
	return "?"
}

// Constraint is a linear relation over the weight vector. Coefficients are
// fixed at construction; only the right-hand side may be mutated, through
// Model.SetConstraintRHS.
type Constraint struct {
	Label    string
	Coeffs   []float64 // dense, one entry per asset in canonical order
	Relation Relation
	RHS      float64
}

// Model owns the decision variables, objective data and constraint set for one
// optimization problem. The asset order is fixed at construction and every
// weight vector indexes through it; constraints are mutated in place across
// repeated solves rather than rebuilding the model.
//
// A Model is not safe for concurrent solves; parallel workers must each own a
// Clone.
type Model struct {
	assets      []string
	mean        []float64
	cov         *mat.SymDense
	lower       []float64
	upper       []float64
	sense       Sense
	constraints []*Constraint
	byLabel     map[string]*Constraint
}

// NumAssets returns the number of decision variables.
func (m *Model) NumAssets() int { return len(m.assets) }

// Assets returns the canonical asset order.
func (m *Model) Assets() []string { return m.assets }

// Mean returns the expected-return vector δ.
func (m *Model) Mean() []float64 { return m.mean }

// Covariance returns the covariance matrix Σ.
func (m *Model) Covariance() *mat.SymDense { return m.cov }

// Bounds returns the per-asset lower and upper bounds.
func (m *Model) Bounds() (lower, upper []float64) { return m.lower, m.upper }

// Sense returns the objective sense.
func (m *Model) Sense() Sense { return m.sense }

// Constraints returns the constraint set in insertion order.
func (m *Model) Constraints() []*Constraint { return m.constraints }

// Constraint retrieves a constraint by label.
func (m *Model) Constraint(label string) (*Constraint, bool) {
	c, ok := m.byLabel[label]
	return c, ok
}

// AddConstraint appends a labeled linear constraint. Coefficients must be
// dense over the asset order and finite.
func (m *Model) AddConstraint(label string, coeffs []float64, rel Relation, rhs float64) error {
	if label == "" {
		return &ConstructionError{Reason: "constraint label must not be empty"}
	}
	if _, exists := m.byLabel[label]; exists {
		return &ConstructionError{Reason: fmt.Sprintf("duplicate constraint label %q", label)}
	}
	if len(coeffs) != len(m.assets) {
		return &ConstructionError{Reason: fmt.Sprintf("constraint %q has %d coefficients for %d assets", label, len(coeffs), len(m.assets))}
	}
	for i, c := range coeffs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return &ConstructionError{Reason: fmt.Sprintf("constraint %q has non-finite coefficient at index %d", label, i)}
		}
	}
	if math.IsNaN(rhs) || math.IsInf(rhs, 0) {
		return &ConstructionError{Reason: fmt.Sprintf("constraint %q has non-finite right-hand side", label)}
	}

	cons := &Constraint{
		Label:    label,
		Coeffs:   append([]float64(nil), coeffs...),
		Relation: rel,
		RHS:      rhs,
	}
	m.constraints = append(m.constraints, cons)
	m.byLabel[label] = cons
	return nil
}

// SetConstraintRHS mutates the right-hand side of a labeled constraint.
func (m *Model) SetConstraintRHS(label string, value float64) error {
	c, ok := m.byLabel[label]
	if !ok {
		return fmt.Errorf("no constraint labeled %q", label)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("constraint %q: right-hand side must be finite, got %v", label, value)
	}
	c.RHS = value
	return nil
}

// Clone returns an independently mutable copy of the model. Used for parallel
// frontier sweeps where each worker owns its own model instance.
func (m *Model) Clone() *Model {
	clone := &Model{
		assets:  append([]string(nil), m.assets...),
		mean:    append([]float64(nil), m.mean...),
		cov:     mat.NewSymDense(len(m.assets), nil),
		lower:   append([]float64(nil), m.lower...),
		upper:   append([]float64(nil), m.upper...),
		sense:   m.sense,
		byLabel: make(map[string]*Constraint, len(m.byLabel)),
	}
	clone.cov.CopySym(m.cov)
	for _, c := range m.constraints {
		copied := &Constraint{
			Label:    c.Label,
			Coeffs:   append([]float64(nil), c.Coeffs...),
			Relation: c.Relation,
			RHS:      c.RHS,
		}
		clone.constraints = append(clone.constraints, copied)
		clone.byLabel[copied.Label] = copied
	}
	return clone
}

// WithSense returns a clone of the model with a different objective sense.
// Used to probe the attainable return range without rebuilding constraints.
func (m *Model) WithSense(s Sense) *Model {
	clone := m.Clone()
	clone.sense = s
	return clone
}

// Risk evaluates the quadratic objective x'Σx for a weight vector.
func (m *Model) Risk(x []float64) float64 {
	n := len(m.assets)
	var risk float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			risk += x[i] * x[j] * m.cov.At(i, j)
		}
	}
	return risk
}

// Return evaluates δ·x for a weight vector.
func (m *Model) Return(x []float64) float64 {
	var ret float64
	for i, w := range x {
		ret += w * m.mean[i]
	}
	return ret
}
