package activeset

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/frontier/internal/modules/model"
	"github.com/aristath/frontier/internal/modules/solver"
)

func buildTwoAsset(t *testing.T, cfg model.Config) *model.Model {
	t.Helper()

	m, err := model.NewBuilder(zerolog.Nop()).Build(
		[]string{"AAA", "BBB"},
		[]float64{0.10, 0.05},
		[][]float64{
			{0.04, 0},
			{0, 0.01},
		},
		cfg,
	)
	require.NoError(t, err)
	return m
}

func TestSolve_MinimumVariance(t *testing.T) {
	engine := New(zerolog.Nop())
	m := buildTwoAsset(t, model.Config{})

	sol, err := engine.Solve(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, solver.StatusOptimal, sol.Status)

	// With uncorrelated assets the minimum-variance weights are proportional
	// to the inverse variances: w1 = 0.01/0.05 = 0.2.
	assert.InDelta(t, 0.2, sol.Weights[0], 1e-6)
	assert.InDelta(t, 0.8, sol.Weights[1], 1e-6)
	assert.InDelta(t, 0.008, sol.Objective, 1e-8)
}

func TestSolve_UpperBoundBinds(t *testing.T) {
	engine := New(zerolog.Nop())
	m := buildTwoAsset(t, model.Config{
		UpperBounds: []float64{1, 0.6},
	})

	sol, err := engine.Solve(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, solver.StatusOptimal, sol.Status)

	// The unconstrained optimum puts 0.8 on the low-vol asset; the cap pulls
	// it back to exactly 0.6.
	assert.InDelta(t, 0.4, sol.Weights[0], 1e-6)
	assert.InDelta(t, 0.6, sol.Weights[1], 1e-6)
}

func TestSolve_TargetReturnEquality(t *testing.T) {
	engine := New(zerolog.Nop())
	m := buildTwoAsset(t, model.Config{})
	require.NoError(t, m.AddConstraint("target", m.Mean(), model.Eq, 0.09))

	sol, err := engine.Solve(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, solver.StatusOptimal, sol.Status)

	// 0.10 w1 + 0.05 (1 - w1) = 0.09 forces w1 = 0.8.
	assert.InDelta(t, 0.8, sol.Weights[0], 1e-6)
	assert.InDelta(t, 0.2, sol.Weights[1], 1e-6)
	assert.InDelta(t, 0.09, m.Return(sol.Weights), 1e-8)
}

func TestSolve_InfeasibleTarget(t *testing.T) {
	engine := New(zerolog.Nop())
	m := buildTwoAsset(t, model.Config{})

	// No long-only portfolio returns more than the best single asset.
	require.NoError(t, m.AddConstraint("target", m.Mean(), model.Eq, 0.2))

	sol, err := engine.Solve(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, solver.StatusInfeasible, sol.Status)
}

func TestSolve_RedundantTargetRow(t *testing.T) {
	engine := New(zerolog.Nop())

	// Identical mean returns make the target row the budget row rescaled.
	m, err := model.NewBuilder(zerolog.Nop()).Build(
		[]string{"AAA", "BBB"},
		[]float64{0.05, 0.05},
		[][]float64{
			{0.04, 0},
			{0, 0.01},
		},
		model.Config{},
	)
	require.NoError(t, err)
	require.NoError(t, m.AddConstraint("target", m.Mean(), model.Eq, 0.05))

	sol, err := engine.Solve(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, solver.StatusOptimal, sol.Status)

	assert.InDelta(t, 0.2, sol.Weights[0], 1e-6)
	assert.InDelta(t, 0.8, sol.Weights[1], 1e-6)
}

func TestSolve_InconsistentEqualities(t *testing.T) {
	engine := New(zerolog.Nop())

	m, err := model.NewBuilder(zerolog.Nop()).Build(
		[]string{"AAA", "BBB"},
		[]float64{0.05, 0.05},
		[][]float64{
			{0.04, 0},
			{0, 0.01},
		},
		model.Config{},
	)
	require.NoError(t, err)

	// Budget forces the portfolio return to 0.05, so this cannot hold.
	require.NoError(t, m.AddConstraint("target", m.Mean(), model.Eq, 0.2))

	sol, err := engine.Solve(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, solver.StatusInfeasible, sol.Status)
}

func TestProportional(t *testing.T) {
	scale, ok := proportional([]float64{1, 1, 1}, []float64{0.05, 0.05, 0.05})
	require.True(t, ok)
	assert.InDelta(t, 0.05, scale, 1e-12)

	_, ok = proportional([]float64{1, 1}, []float64{0.05, 0.06})
	assert.False(t, ok)

	_, ok = proportional([]float64{1, 0}, []float64{0.05, 0.05})
	assert.False(t, ok)

	_, ok = proportional([]float64{0, 0}, []float64{0, 0})
	assert.False(t, ok)
}

func TestSolve_MaximizeReturn(t *testing.T) {
	engine := New(zerolog.Nop())
	m := buildTwoAsset(t, model.Config{
		UpperBounds: []float64{1, 1},
	}).WithSense(model.MaximizeReturn)

	sol, err := engine.Solve(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, solver.StatusOptimal, sol.Status)

	assert.InDelta(t, 1.0, sol.Weights[0], 1e-6)
	assert.InDelta(t, 0.10, sol.Objective, 1e-8)
}

func TestSolve_Deterministic(t *testing.T) {
	engine := New(zerolog.Nop())
	m := buildTwoAsset(t, model.Config{})

	first, err := engine.Solve(context.Background(), m)
	require.NoError(t, err)
	second, err := engine.Solve(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.InDeltaSlice(t, first.Weights, second.Weights, 1e-12)
}

func TestSolve_CancelledContext(t *testing.T) {
	engine := New(zerolog.Nop())
	m := buildTwoAsset(t, model.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sol, err := engine.Solve(ctx, m)
	assert.Error(t, err)
	assert.Equal(t, solver.StatusError, sol.Status)
}

func TestSolve_GroupConstraint(t *testing.T) {
	engine := New(zerolog.Nop())

	m, err := model.NewBuilder(zerolog.Nop()).Build(
		[]string{"AAA", "BBB", "CCC"},
		[]float64{0.10, 0.05, 0.07},
		[][]float64{
			{0.04, 0, 0},
			{0, 0.01, 0},
			{0, 0, 0.02},
		},
		model.Config{
			Rules: []model.GroupRule{
				{Label: "risky_floor", Indices: []int{0, 2}, Relation: model.Ge, RHS: 0.5},
			},
		},
	)
	require.NoError(t, err)

	sol, err := engine.Solve(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, solver.StatusOptimal, sol.Status)

	sum := sol.Weights[0] + sol.Weights[1] + sol.Weights[2]
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.GreaterOrEqual(t, sol.Weights[0]+sol.Weights[2], 0.5-1e-6)
	for _, w := range sol.Weights {
		assert.GreaterOrEqual(t, w, -1e-9)
	}
}
