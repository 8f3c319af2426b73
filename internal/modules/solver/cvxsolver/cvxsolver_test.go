package cvxsolver

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/frontier/internal/modules/model"
	"github.com/aristath/frontier/internal/modules/solver"
)

func buildModel(t *testing.T, cfg model.Config) *model.Model {
	t.Helper()

	m, err := model.NewBuilder(zerolog.Nop()).Build(
		[]string{"AAA", "BBB"},
		[]float64{0.10, 0.05},
		[][]float64{
			{0.04, 0.01},
			{0.01, 0.02},
		},
		cfg,
	)
	require.NoError(t, err)
	return m
}

func TestInequalityRows_NormalizesDirections(t *testing.T) {
	m := buildModel(t, model.Config{
		UpperBounds: []float64{0.8, 1},
		Rules: []model.GroupRule{
			{Label: "floor", Indices: []int{1}, Relation: model.Ge, RHS: 0.3},
		},
	})

	rows, rhs := inequalityRows(m)
	require.Equal(t, len(rows), len(rhs))

	// One Ge rule flipped to <=, two lower bounds, two finite upper bounds.
	require.Len(t, rows, 5)
	assert.Equal(t, []float64{0, -1}, rows[0])
	assert.Equal(t, -0.3, rhs[0])

	// Lower bound rows: -x_i <= 0
	assert.Equal(t, []float64{-1, 0}, rows[1])
	assert.Equal(t, 0.0, rhs[1])

	// Upper bound row for AAA: x_0 <= 0.8
	assert.Equal(t, []float64{1, 0}, rows[2])
	assert.Equal(t, 0.8, rhs[2])
}

func TestEqualityRows_BudgetOnly(t *testing.T) {
	m := buildModel(t, model.Config{})

	rows, rhs, ok := equalityRows(m)
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, []float64{1, 1}, rows[0])
	assert.Equal(t, []float64{1}, rhs)
}

func TestEqualityRows_DropsRedundantTargetRow(t *testing.T) {
	m, err := model.NewBuilder(zerolog.Nop()).Build(
		[]string{"AAA", "BBB"},
		[]float64{0.05, 0.05},
		[][]float64{
			{0.04, 0.01},
			{0.01, 0.02},
		},
		model.Config{},
	)
	require.NoError(t, err)
	require.NoError(t, m.AddConstraint("target", m.Mean(), model.Eq, 0.05))

	// The target row is the budget row times 0.05 with a consistent RHS, so
	// only the budget row survives.
	rows, rhs, ok := equalityRows(m)
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, []float64{1, 1}, rows[0])
	assert.Equal(t, []float64{1}, rhs)

	// An inconsistent multiple proves the set empty.
	require.NoError(t, m.SetConstraintRHS("target", 0.2))
	_, _, ok = equalityRows(m)
	assert.False(t, ok)
}

func TestScaledCovariance(t *testing.T) {
	m := buildModel(t, model.Config{})

	p := scaledCovariance(m)
	assert.Equal(t, 0.08, p[0][0])
	assert.Equal(t, 0.02, p[0][1])
	assert.Equal(t, p[1][0], p[0][1])
}

func TestSolve_RejectsReturnMaximization(t *testing.T) {
	engine := New(zerolog.Nop())
	m := buildModel(t, model.Config{}).WithSense(model.MaximizeReturn)

	sol, err := engine.Solve(context.Background(), m)
	assert.Error(t, err)
	assert.Equal(t, solver.StatusError, sol.Status)
}

func TestSolve_CancelledContext(t *testing.T) {
	engine := New(zerolog.Nop())
	m := buildModel(t, model.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sol, err := engine.Solve(ctx, m)
	assert.Error(t, err)
	assert.Equal(t, solver.StatusError, sol.Status)
}
