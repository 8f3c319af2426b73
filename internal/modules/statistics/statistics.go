// Package statistics converts aligned price series into the return and risk
// statistics consumed by the optimization model.
package statistics

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PriceMatrix holds one price series per asset, all on the same time grid.
// Prices[i][t] is the price of Assets[i] at observation t.
type PriceMatrix struct {
	Assets []string
	Prices [][]float64
}

// Stats holds the derived statistics for a fixed asset order.
// Mean and StdDev use the same sample (N-1) convention as Cov, so reported
// volatilities line up with the diagonal of the covariance matrix.
type Stats struct {
	Assets  []string
	Mean    []float64     // mean period-over-period relative change per asset
	Cov     *mat.SymDense // sample covariance of relative changes
	StdDev  []float64     // per-asset sample standard deviation
	Periods int           // number of return observations (prices - 1)
}

// Builder computes return and covariance statistics from price matrices.
type Builder struct {
	cache *Cache // optional
	log   zerolog.Logger
}

// NewBuilder creates a new statistics builder.
func NewBuilder(log zerolog.Logger) *Builder {
	return &Builder{
		log: log.With().Str("component", "statistics").Logger(),
	}
}

// SetCache sets the calculation cache for computed statistics.
// This is optional - if not set, statistics are computed fresh each time.
func (b *Builder) SetCache(cache *Cache) {
	b.cache = cache
}

// Compute derives mean returns, sample covariance and per-asset volatility
// from a price matrix. Relative changes are (p[t+1]-p[t])/p[t].
func (b *Builder) Compute(pm PriceMatrix) (*Stats, error) {
	if len(pm.Assets) == 0 {
		return nil, fmt.Errorf("no assets provided")
	}
	if len(pm.Prices) != len(pm.Assets) {
		return nil, fmt.Errorf("price matrix has %d series for %d assets", len(pm.Prices), len(pm.Assets))
	}

	hash := hashPriceMatrix(pm)
	if b.cache != nil {
		if stats, ok := b.cache.GetStats(hash); ok {
			b.log.Debug().
				Int("num_assets", len(pm.Assets)).
				Str("hash", hash[:8]).
				Msg("Using cached statistics")
			return stats, nil
		}
	}

	if err := validatePrices(pm); err != nil {
		return nil, err
	}

	periods := len(pm.Prices[0]) - 1

	// Relative changes, one row per asset
	rel := make([][]float64, len(pm.Assets))
	for i, prices := range pm.Prices {
		row := make([]float64, periods)
		for t := 0; t < periods; t++ {
			row[t] = (prices[t+1] - prices[t]) / prices[t]
		}
		rel[i] = row
	}

	n := len(pm.Assets)
	mean := make([]float64, n)
	stdDev := make([]float64, n)
	for i := range rel {
		mean[i] = stat.Mean(rel[i], nil)
		stdDev[i] = stat.StdDev(rel[i], nil)
	}

	// Sample covariance (N-1 denominator, same convention as StdDev above)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, stat.Covariance(rel[i], rel[j], nil))
		}
	}

	stats := &Stats{
		Assets:  append([]string(nil), pm.Assets...),
		Mean:    mean,
		Cov:     cov,
		StdDev:  stdDev,
		Periods: periods,
	}

	b.log.Info().
		Int("num_assets", n).
		Int("periods", periods).
		Msg("Computed return statistics")

	if b.cache != nil {
		if err := b.cache.SetStats(hash, stats, TTLStats); err != nil {
			b.log.Warn().Err(err).Msg("Failed to cache statistics")
		}
	}

	return stats, nil
}

// validatePrices enforces the price matrix invariants: equal-length series of
// at least 2 finite, strictly positive observations.
func validatePrices(pm PriceMatrix) error {
	length := len(pm.Prices[0])
	for i, prices := range pm.Prices {
		if len(prices) != length {
			return fmt.Errorf("asset %s has %d observations, expected %d", pm.Assets[i], len(prices), length)
		}
		if len(prices) < 2 {
			return &InsufficientDataError{Asset: pm.Assets[i], Observations: len(prices)}
		}
		for t, p := range prices {
			if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
				return &InvalidPriceError{Asset: pm.Assets[i], Index: t, Price: p}
			}
		}
	}
	return nil
}
