// Package history provides access to historical price data and assembles the
// aligned price matrices consumed by the statistics builder.
package history

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/modules/statistics"
)

// DailyPrice represents a daily closing price point
type DailyPrice struct {
	Date  string  `json:"date"` // YYYY-MM-DD
	Close float64 `json:"close"`
}

// PriceStore provides access to historical price data
type PriceStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPriceStore creates a new price store accessor
func NewPriceStore(db *sql.DB, log zerolog.Logger) (*PriceStore, error) {
	ps := &PriceStore{
		db:  db,
		log: log.With().Str("component", "price_store").Logger(),
	}
	if err := ps.initSchema(); err != nil {
		return nil, err
	}
	return ps, nil
}

func (ps *PriceStore) initSchema() error {
	_, err := ps.db.Exec(`
		CREATE TABLE IF NOT EXISTS daily_prices (
			asset TEXT NOT NULL,
			date  TEXT NOT NULL,
			close REAL NOT NULL,
			PRIMARY KEY (asset, date)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create daily_prices table: %w", err)
	}
	return nil
}

// SaveDailyPrices upserts price points for an asset.
func (ps *PriceStore) SaveDailyPrices(asset string, prices []DailyPrice) error {
	tx, err := ps.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO daily_prices (asset, date, close)
		VALUES (?, ?, ?)
		ON CONFLICT(asset, date) DO UPDATE SET close = excluded.close
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range prices {
		if _, err := stmt.Exec(asset, p.Date, p.Close); err != nil {
			return fmt.Errorf("failed to insert price for %s on %s: %w", asset, p.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit prices: %w", err)
	}
	return nil
}

// GetDailyPrices fetches daily price data for an asset, most recent first.
// limit <= 0 means no limit.
func (ps *PriceStore) GetDailyPrices(asset string, limit int) ([]DailyPrice, error) {
	query := `
		SELECT date, close
		FROM daily_prices
		WHERE asset = ?
		ORDER BY date DESC
	`
	args := []interface{}{asset}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := ps.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var prices []DailyPrice
	for rows.Next() {
		var p DailyPrice
		if err := rows.Scan(&p.Date, &p.Close); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}
		prices = append(prices, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	return prices, nil
}

// BuildPriceMatrix assembles an aligned price matrix for the given assets over
// the lookback window. Series are aligned on the union of observed dates, gaps
// are forward-filled then back-filled, and series that remain incomplete or
// contain non-positive prices are rejected.
func (ps *PriceStore) BuildPriceMatrix(assets []string, lookbackDays int) (statistics.PriceMatrix, error) {
	if len(assets) == 0 {
		return statistics.PriceMatrix{}, fmt.Errorf("no assets provided")
	}

	startTime := time.Now().AddDate(0, 0, -lookbackDays)
	startDate := time.Date(startTime.Year(), startTime.Month(), startTime.Day(), 0, 0, 0, 0, time.UTC).Format("2006-01-02")

	ps.log.Debug().
		Str("start_date", startDate).
		Int("num_assets", len(assets)).
		Msg("Building price matrix")

	// Map asset -> date -> price
	pricesByAsset := make(map[string]map[string]float64)
	dateSet := make(map[string]bool)

	for _, asset := range assets {
		dailyPrices, err := ps.GetDailyPrices(asset, 0)
		if err != nil {
			return statistics.PriceMatrix{}, fmt.Errorf("failed to get prices for %s: %w", asset, err)
		}

		pricesByAsset[asset] = make(map[string]float64)
		for _, p := range dailyPrices {
			if p.Date >= startDate {
				pricesByAsset[asset][p.Date] = p.Close
				dateSet[p.Date] = true
			}
		}
	}

	dates := make([]string, 0, len(dateSet))
	for date := range dateSet {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	if len(dates) < 2 {
		return statistics.PriceMatrix{}, &statistics.InsufficientDataError{
			Asset:        assets[0],
			Observations: len(dates),
		}
	}

	matrix := make([][]float64, len(assets))
	for i, asset := range assets {
		series := make([]float64, len(dates))
		for t, date := range dates {
			if price, ok := pricesByAsset[asset][date]; ok {
				series[t] = price
			} else {
				series[t] = math.NaN()
			}
		}
		matrix[i] = fillMissing(series)

		// A series still holding NaN has no observations at all; a non-positive
		// price would corrupt the relative-change computation downstream.
		for t, p := range matrix[i] {
			if math.IsNaN(p) || p <= 0 {
				return statistics.PriceMatrix{}, &statistics.InvalidPriceError{Asset: asset, Index: t, Price: p}
			}
		}
	}

	ps.log.Debug().
		Int("num_dates", len(dates)).
		Int("num_assets", len(assets)).
		Msg("Built price matrix")

	return statistics.PriceMatrix{Assets: assets, Prices: matrix}, nil
}

// fillMissing fills gaps using forward-fill, then back-fill for leading gaps.
func fillMissing(series []float64) []float64 {
	filled := make([]float64, len(series))
	copy(filled, series)

	var lastValid float64
	hasLastValid := false
	for i := 0; i < len(filled); i++ {
		if math.IsNaN(filled[i]) {
			if hasLastValid {
				filled[i] = lastValid
			}
		} else {
			lastValid = filled[i]
			hasLastValid = true
		}
	}

	var nextValid float64
	hasNextValid := false
	for i := len(filled) - 1; i >= 0; i-- {
		if math.IsNaN(filled[i]) {
			if hasNextValid {
				filled[i] = nextValid
			}
		} else {
			nextValid = filled[i]
			hasNextValid = true
		}
	}

	return filled
}
