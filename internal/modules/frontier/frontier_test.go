package frontier

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/frontier/internal/modules/model"
	"github.com/aristath/frontier/internal/modules/solver/activeset"
)

// buildSixAsset builds a diversified six-asset model with floors, group
// floors and a group cap, all jointly satisfiable.
func buildSixAsset(t *testing.T) *model.Model {
	t.Helper()

	vols := []float64{0.10, 0.12, 0.15, 0.11, 0.25, 0.12}
	mean := []float64{0.0141, 0.03644, 0.073917, 0.020933, 0.190333, 0.03666}
	assets := []string{"AAA", "BBB", "CCC", "DDD", "EEE", "FFF"}

	n := len(vols)
	cov := make([][]float64, n)
	for i := 0; i < n; i++ {
		cov[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			corr := 0.2
			if i == j {
				corr = 1.0
			}
			cov[i][j] = vols[i] * vols[j] * corr
		}
	}

	floors := make([]float64, n)
	for i := range floors {
		floors[i] = 0.05
	}

	m, err := model.NewBuilder(zerolog.Nop()).Build(assets, mean, cov, model.Config{
		LowerBounds: floors,
		Rules: []model.GroupRule{
			{Label: "defensive_floor", Indices: []int{1, 3}, Relation: model.Ge, RHS: 0.5},
			{Label: "growth_floor", Indices: []int{4, 5}, Relation: model.Ge, RHS: 0.3},
			{Label: "cyclical_cap", Indices: []int{0, 2}, Relation: model.Le, RHS: 0.2},
		},
	})
	require.NoError(t, err)
	return m
}

func checkPointFeasible(t *testing.T, m *model.Model, p Point) {
	t.Helper()

	weights := make([]float64, len(p.Allocations))
	sum := 0.0
	for i, a := range p.Allocations {
		weights[i] = a.Weight
		sum += a.Weight
		assert.GreaterOrEqual(t, a.Weight, 0.05-1e-6, "floor for %s", a.Asset)
	}
	assert.InDelta(t, 1.0, sum, 1e-6)

	assert.GreaterOrEqual(t, weights[1]+weights[3], 0.5-1e-6)
	assert.GreaterOrEqual(t, weights[4]+weights[5], 0.3-1e-6)
	assert.LessOrEqual(t, weights[0]+weights[2], 0.2+1e-6)

	assert.InDelta(t, p.Risk, p.Volatility*p.Volatility, 1e-9)
}

func TestTrace_SixAssetSweep(t *testing.T) {
	m := buildSixAsset(t)
	tracer := NewTracer(activeset.New(zerolog.Nop()), 25, zerolog.Nop())

	result, err := tracer.Trace(context.Background(), m)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 25, len(result.Points)+result.Skipped)
	require.NotEmpty(t, result.Points)
	assert.NotEqual(t, "", result.RunID.String())
	assert.Equal(t, "activeset", result.Solver)

	// The sweep spans the asset mean returns; the group rules make the
	// extremes unattainable, so some targets must be skipped.
	assert.InDelta(t, 0.0141, result.MinReturn, 1e-12)
	assert.InDelta(t, 0.190333, result.MaxReturn, 1e-12)
	assert.Greater(t, result.Skipped, 0)

	checkPointFeasible(t, m, result.Baseline)
	for _, p := range result.Points {
		checkPointFeasible(t, m, p)
		// No point on the frontier can beat the unconstrained-return minimum.
		assert.GreaterOrEqual(t, p.Volatility, result.Baseline.Volatility-1e-8)
	}

	// Targets ascend with the sweep.
	for i := 1; i < len(result.Points); i++ {
		assert.Greater(t, result.Points[i].TargetReturn, result.Points[i-1].TargetReturn)
	}

	// The grid point nearest the baseline return solves to nearly the
	// baseline volatility.
	nearest := result.Points[0]
	for _, p := range result.Points[1:] {
		if math.Abs(p.TargetReturn-result.Baseline.Return) < math.Abs(nearest.TargetReturn-result.Baseline.Return) {
			nearest = p
		}
	}
	assert.InDelta(t, result.Baseline.Volatility, nearest.Volatility, 0.005)

	// The caller's model must come back untouched.
	_, hasTarget := m.Constraint(TargetLabel)
	assert.False(t, hasTarget)
	assert.Len(t, m.Constraints(), 4)
}

func TestTraceParallel_MatchesSerial(t *testing.T) {
	m := buildSixAsset(t)
	tracer := NewTracer(activeset.New(zerolog.Nop()), 15, zerolog.Nop())

	serial, err := tracer.Trace(context.Background(), m)
	require.NoError(t, err)

	parallel, err := tracer.TraceParallel(context.Background(), m, 4)
	require.NoError(t, err)

	require.Equal(t, len(serial.Points), len(parallel.Points))
	assert.Equal(t, serial.Skipped, parallel.Skipped)
	for i := range serial.Points {
		assert.InDelta(t, serial.Points[i].TargetReturn, parallel.Points[i].TargetReturn, 1e-12)
		assert.InDelta(t, serial.Points[i].Volatility, parallel.Points[i].Volatility, 1e-6)
	}
}

func TestTrace_InfeasibleBaseline(t *testing.T) {
	// Floors are fine individually but the target constraint below is added
	// directly, so build an impossible set through opposing rules instead.
	m, err := model.NewBuilder(zerolog.Nop()).Build(
		[]string{"AAA", "BBB"},
		[]float64{0.10, 0.05},
		[][]float64{
			{0.04, 0},
			{0, 0.01},
		},
		model.Config{},
	)
	require.NoError(t, err)

	// Contradictory constraints that per-asset bounds alone cannot expose.
	require.NoError(t, m.AddConstraint("tilt_up", []float64{1, -1}, model.Ge, 0.5))
	require.NoError(t, m.AddConstraint("tilt_down", []float64{1, -1}, model.Le, -0.5))

	tracer := NewTracer(activeset.New(zerolog.Nop()), 10, zerolog.Nop())
	_, err = tracer.Trace(context.Background(), m)
	assert.ErrorIs(t, err, ErrInfeasible)
}

func TestTrace_SinglePoint(t *testing.T) {
	m := buildSixAsset(t)
	tracer := NewTracer(activeset.New(zerolog.Nop()), 1, zerolog.Nop())

	result, err := tracer.Trace(context.Background(), m)
	require.NoError(t, err)

	require.Len(t, result.Points, 1)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, result.Baseline, result.Points[0])
	checkPointFeasible(t, m, result.Baseline)
}

func TestTrace_IdenticalMeans(t *testing.T) {
	// Every target row collapses onto the budget row; the sweep must still
	// emit the repeated baseline point rather than fail.
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

	tracer := NewTracer(activeset.New(zerolog.Nop()), 5, zerolog.Nop())
	result, err := tracer.Trace(context.Background(), m)
	require.NoError(t, err)

	require.Len(t, result.Points, 5)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, result.MinReturn, result.MaxReturn)
	for _, p := range result.Points {
		assert.InDelta(t, 0.05, p.TargetReturn, 1e-12)
		assert.InDelta(t, result.Baseline.Volatility, p.Volatility, 1e-6)
	}
}

func TestTrace_CancelledContext(t *testing.T) {
	m := buildSixAsset(t)
	tracer := NewTracer(activeset.New(zerolog.Nop()), 10, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tracer.Trace(ctx, m)
	assert.Error(t, err)
}

func TestLinspace(t *testing.T) {
	vals := linspace(0, 1, 5)
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75, 1}, vals)

	single := linspace(2, 3, 1)
	assert.Equal(t, []float64{2}, single)
}
