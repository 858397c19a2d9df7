// Package market looks up stock prices and history from a market-data
// provider and formats them for tool callers.
package market

import (
	"context"
	"time"
)

// Bar is one daily OHLCV row. Time is midnight of the trading day in the
// exchange's time zone.
type Bar struct {
	Time      time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	Dividends float64
	Splits    float64 // split ratio on the split date, 0 otherwise
}

// Series is a provider's answer for one symbol and period.
type Series struct {
	Symbol string
	Bars   []Bar
	// RegularMarketPrice is the provider's quoted current price, nil when
	// the provider did not report one.
	RegularMarketPrice *float64
}

// Provider fetches daily bars. An unknown symbol yields an empty series,
// not an error.
type Provider interface {
	Daily(ctx context.Context, symbol, period string) (*Series, error)
}
