package statistics

import (
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMatrix() PriceMatrix {
	return PriceMatrix{
		Assets: []string{"AAA", "BBB"},
		Prices: [][]float64{
			{100, 110, 99, 105},
			{50, 50.5, 51, 49},
		},
	}
}

func TestCompute_TwoAssets(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	stats, err := b.Compute(testMatrix())
	require.NoError(t, err)
	require.NotNil(t, stats)

	assert.Equal(t, []string{"AAA", "BBB"}, stats.Assets)
	assert.Equal(t, 3, stats.Periods)

	// Relative changes for AAA: 0.10, -0.10, 0.0606...
	r0 := (110.0 - 100.0) / 100.0
	r1 := (99.0 - 110.0) / 110.0
	r2 := (105.0 - 99.0) / 99.0
	wantMean := (r0 + r1 + r2) / 3.0
	assert.InDelta(t, wantMean, stats.Mean[0], 1e-12)
}

func TestCompute_CovarianceMatchesStdDev(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	stats, err := b.Compute(testMatrix())
	require.NoError(t, err)

	// Diagonal of the covariance matrix must equal the squared standard
	// deviations under the shared sample convention.
	for i := range stats.Assets {
		assert.InDelta(t, stats.StdDev[i]*stats.StdDev[i], stats.Cov.At(i, i), 1e-12)
	}

	// Symmetry
	assert.InDelta(t, stats.Cov.At(0, 1), stats.Cov.At(1, 0), 1e-15)
}

func TestCompute_InsufficientData(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	_, err := b.Compute(PriceMatrix{
		Assets: []string{"AAA"},
		Prices: [][]float64{{100}},
	})

	var insufficientErr *InsufficientDataError
	require.True(t, errors.As(err, &insufficientErr))
	assert.Equal(t, "AAA", insufficientErr.Asset)
	assert.Equal(t, 1, insufficientErr.Observations)
}

func TestCompute_RejectsNonPositivePrices(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	for _, bad := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		_, err := b.Compute(PriceMatrix{
			Assets: []string{"AAA"},
			Prices: [][]float64{{100, bad, 105}},
		})

		var invalidErr *InvalidPriceError
		require.True(t, errors.As(err, &invalidErr), "price %v should be rejected", bad)
		assert.Equal(t, 1, invalidErr.Index)
	}
}

func TestCompute_RejectsRaggedMatrix(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	_, err := b.Compute(PriceMatrix{
		Assets: []string{"AAA", "BBB"},
		Prices: [][]float64{
			{100, 101, 102},
			{50, 51},
		},
	})
	assert.Error(t, err)
}

func TestCompute_NoAssets(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	_, err := b.Compute(PriceMatrix{})
	assert.Error(t, err)
}

func TestHashAssets_OrderIndependent(t *testing.T) {
	h1 := hashAssets([]string{"AAA", "BBB", "CCC"})
	h2 := hashAssets([]string{"CCC", "AAA", "BBB"})
	h3 := hashAssets([]string{"AAA", "BBB"})

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestHashPriceMatrix_SensitiveToPrices(t *testing.T) {
	pm1 := testMatrix()
	pm2 := testMatrix()
	pm2.Prices[0][1] = 111

	assert.NotEqual(t, hashPriceMatrix(pm1), hashPriceMatrix(pm2))
	assert.Equal(t, hashPriceMatrix(pm1), hashPriceMatrix(testMatrix()))
}
