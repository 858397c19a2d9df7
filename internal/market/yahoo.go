package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"
)

const DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

// Yahoo's edge rejects requests without a browser-like agent.
const yahooUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// YahooClient reads the Yahoo Finance v8 chart API.
type YahooClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewYahooClient(baseURL string, timeout time.Duration) *YahooClient {
	if baseURL == "" {
		baseURL = DefaultYahooBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YahooClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chartQuote struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*float64 `json:"volume"`
}

type chartResult struct {
	Meta struct {
		Symbol               string   `json:"symbol"`
		RegularMarketPrice   *float64 `json:"regularMarketPrice"`
		ExchangeTimezoneName string   `json:"exchangeTimezoneName"`
		GMTOffset            int      `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp []int64 `json:"timestamp"`
	Events    struct {
		Dividends map[string]struct {
			Amount float64 `json:"amount"`
			Date   int64   `json:"date"`
		} `json:"dividends"`
		Splits map[string]struct {
			Date        int64   `json:"date"`
			Numerator   float64 `json:"numerator"`
			Denominator float64 `json:"denominator"`
		} `json:"splits"`
	} `json:"events"`
	Indicators struct {
		Quote []chartQuote `json:"quote"`
	} `json:"indicators"`
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Daily fetches daily bars for period (1d, 5d, 1mo, ..., ytd, max).
func (c *YahooClient) Daily(ctx context.Context, symbol, period string) (*Series, error) {
	q := url.Values{}
	q.Set("range", period)
	q.Set("interval", "1d")
	q.Set("events", "div,splits")
	reqURL := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", yahooUserAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("yahoo chart: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var cr chartResponse
	jsonErr := json.Unmarshal(body, &cr)

	if cr.Chart.Error != nil {
		if cr.Chart.Error.Code == "Not Found" {
			return &Series{Symbol: symbol}, nil
		}
		return nil, fmt.Errorf("yahoo chart: %s: %s", cr.Chart.Error.Code, cr.Chart.Error.Description)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo chart status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("decode response: %w", jsonErr)
	}
	if len(cr.Chart.Result) == 0 {
		return &Series{Symbol: symbol}, nil
	}
	return cr.Chart.Result[0].series(symbol), nil
}

// Close releases idle connections.
func (c *YahooClient) Close() {
	c.httpClient.CloseIdleConnections()
}

func (r *chartResult) location() *time.Location {
	if r.Meta.ExchangeTimezoneName != "" {
		if loc, err := time.LoadLocation(r.Meta.ExchangeTimezoneName); err == nil {
			return loc
		}
	}
	return time.FixedZone("", r.Meta.GMTOffset)
}

func (r *chartResult) series(symbol string) *Series {
	s := &Series{Symbol: symbol, RegularMarketPrice: r.Meta.RegularMarketPrice}
	if r.Meta.Symbol != "" {
		s.Symbol = r.Meta.Symbol
	}
	loc := r.location()
	day := func(ts int64) time.Time {
		t := time.Unix(ts, 0).In(loc)
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}

	dividends := map[time.Time]float64{}
	for _, d := range r.Events.Dividends {
		dividends[day(d.Date)] += d.Amount
	}
	splits := map[time.Time]float64{}
	for _, sp := range r.Events.Splits {
		if sp.Denominator != 0 {
			splits[day(sp.Date)] = sp.Numerator / sp.Denominator
		}
	}

	var q chartQuote
	if len(r.Indicators.Quote) > 0 {
		q = r.Indicators.Quote[0]
	}
	for i, ts := range r.Timestamp {
		closeP := at(q.Close, i)
		if closeP == nil {
			continue
		}
		t := day(ts)
		b := Bar{
			Time:      t,
			Open:      deref(at(q.Open, i)),
			High:      deref(at(q.High, i)),
			Low:       deref(at(q.Low, i)),
			Close:     *closeP,
			Volume:    int64(deref(at(q.Volume, i))),
			Dividends: dividends[t],
			Splits:    splits[t],
		}
		// Yahoo repeats the current session as a second row on some ranges.
		if n := len(s.Bars); n > 0 && s.Bars[n-1].Time.Equal(t) {
			s.Bars[n-1] = b
			continue
		}
		s.Bars = append(s.Bars, b)
	}
	sort.SliceStable(s.Bars, func(i, j int) bool { return s.Bars[i].Time.Before(s.Bars[j].Time) })
	return s
}

func at(vs []*float64, i int) *float64 {
	if i < 0 || i >= len(vs) {
		return nil
	}
	return vs[i]
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
