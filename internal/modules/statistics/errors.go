package statistics

import "fmt"

// InsufficientDataError reports a price series too short for covariance estimation.
type InsufficientDataError struct {
	Asset        string
	Observations int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: need at least 2 price observations, got %d", e.Asset, e.Observations)
}

// InvalidPriceError reports a zero, negative or non-finite price. Relative-change
// computation divides by the previous price, so these inputs are rejected outright
// rather than patched with a default.
type InvalidPriceError struct {
	Asset string
	Index int
	Price float64
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("invalid price for %s at observation %d: %v", e.Asset, e.Index, e.Price)
}
