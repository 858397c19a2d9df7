package market

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// PriceUnavailable is returned by Price when no price could be determined.
const PriceUnavailable = -1.0

// DefaultPeriod is the history window used when the caller gives none.
const DefaultPeriod = "1mo"

const historyDateLayout = "2006-01-02 15:04:05-07:00"

var historyHeader = []string{"Date", "Open", "High", "Low", "Close", "Volume", "Dividends", "Stock Splits"}

// Service answers price questions. No method returns an error: failures
// become PriceUnavailable or a human-readable message.
type Service struct {
	provider Provider
	log      *slog.Logger
}

func NewService(p Provider, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{provider: p, log: log}
}

// Price returns the latest daily close for symbol, falling back to the
// provider's quoted current price, or PriceUnavailable.
func (s *Service) Price(ctx context.Context, symbol string) float64 {
	series, err := s.provider.Daily(ctx, symbol, "1d")
	if err != nil {
		s.log.Warn("price lookup failed", "symbol", symbol, "error", err)
		return PriceUnavailable
	}
	if n := len(series.Bars); n > 0 {
		return series.Bars[n-1].Close
	}
	if series.RegularMarketPrice != nil {
		return *series.RegularMarketPrice
	}
	s.log.Info("no price available", "symbol", symbol)
	return PriceUnavailable
}

// History returns the daily series for symbol over period as CSV. The
// period is passed through to the provider unchecked.
func (s *Service) History(ctx context.Context, symbol, period string) string {
	if period == "" {
		period = DefaultPeriod
	}
	series, err := s.provider.Daily(ctx, symbol, period)
	if err != nil {
		s.log.Warn("history lookup failed", "symbol", symbol, "period", period, "error", err)
		return fmt.Sprintf("Error fetching historical data: %s", err)
	}
	if len(series.Bars) == 0 {
		return fmt.Sprintf("No historical data found for symbol '%s' with period '%s'.", symbol, period)
	}
	out, err := encodeCSV(series.Bars)
	if err != nil {
		return fmt.Sprintf("Error fetching historical data: %s", err)
	}
	return out
}

// Compare looks up both prices, symbol1 first, and ranks them.
func (s *Service) Compare(ctx context.Context, symbol1, symbol2 string) string {
	p1 := s.Price(ctx, symbol1)
	p2 := s.Price(ctx, symbol2)
	if p1 < 0 || p2 < 0 {
		return fmt.Sprintf("Error: Could not retrieve data for comparison of '%s' and '%s'.", symbol1, symbol2)
	}
	switch {
	case p1 > p2:
		return fmt.Sprintf("%s ($%.2f) is higher than %s ($%.2f).", symbol1, p1, symbol2, p2)
	case p1 < p2:
		return fmt.Sprintf("%s ($%.2f) is lower than %s ($%.2f).", symbol1, p1, symbol2, p2)
	default:
		return fmt.Sprintf("Both %s and %s have the same price ($%.2f).", symbol1, symbol2, p1)
	}
}

// Describe is the text served for the stock://{symbol} resource.
func (s *Service) Describe(ctx context.Context, symbol string) string {
	price := s.Price(ctx, symbol)
	if price < 0 {
		return fmt.Sprintf("Error: Could not retrieve price for symbol '%s'.", symbol)
	}
	return fmt.Sprintf("The current price of '%s' is $%.2f.", symbol, price)
}

// FormatPrice renders a Price result as tool output text.
func FormatPrice(v float64) string {
	return formatFloat(v)
}

func encodeCSV(bars []Bar) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(historyHeader); err != nil {
		return "", err
	}
	for _, b := range bars {
		row := []string{
			b.Time.Format(historyDateLayout),
			formatFloat(b.Open),
			formatFloat(b.High),
			formatFloat(b.Low),
			formatFloat(b.Close),
			strconv.FormatInt(b.Volume, 10),
			formatFloat(b.Dividends),
			formatFloat(b.Splits),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// formatFloat renders v with the shortest round-trip digits and always a
// decimal point, matching Python's repr for ordinary magnitudes.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".nN") {
		s += ".0"
	}
	return s
}
