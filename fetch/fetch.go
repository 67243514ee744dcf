// Package fetch retrieves historical bars from a Yahoo-style chart
// endpoint, with a Polygon-style aggregates fallback. An Alpaca-specific
// fetcher and a Polygon-compatible aggregate fetcher
// (PolygonAggResult/PolygonAggsResponse) sit side by side, selected by
// which base URL is configured. The same selection shape is kept here,
// with the Alpaca-only branch replaced by the Yahoo-style endpoint this
// system actually needs.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hybridtrader/bar"
	"hybridtrader/errs"
)

// Client fetches historical bars for a ticker/timeframe/range. The zero
// value is ready to use against the public Yahoo-style endpoint; set
// PolygonBaseURL and PolygonAPIKey to fetch from a Polygon-compatible
// aggregates API instead.
type Client struct {
	HTTPClient     *http.Client
	YahooBaseURL   string
	PolygonBaseURL string
	PolygonAPIKey  string
}

// NewClient returns a Client configured against the public Yahoo-style
// endpoint, with a 30s HTTP timeout.
func NewClient() *Client {
	return &Client{
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		YahooBaseURL: "https://query1.finance.yahoo.com/v8/finance/chart",
	}
}

var timeframeToYahooInterval = map[string]string{
	"1min": "1m", "5min": "5m", "15min": "15m", "1hour": "60m", "1day": "1d",
}

// FetchRange fetches bars for ticker at timeframe over yahooRange (e.g.
// "3mo", "1y"), matching orchestrator.RangeFetcher's signature so the
// orchestrator's history-escalation loop can call it directly.
func (c *Client) FetchRange(ctx context.Context, ticker, timeframe, yahooRange string) ([]bar.Bar, error) {
	if c.PolygonBaseURL != "" {
		return c.fetchPolygon(ctx, ticker, timeframe, yahooRange)
	}
	return c.fetchYahoo(ctx, ticker, timeframe, yahooRange)
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// fetchYahoo issues `chart?period1=...&period2=...&interval=...&range=...`
// and parses the parallel timestamp[]/open[]/high[]/low[]/close[]/volume[]
// arrays, dropping any bar with a null field.
func (c *Client) fetchYahoo(ctx context.Context, ticker, timeframe, yahooRange string) ([]bar.Bar, error) {
	interval, ok := timeframeToYahooInterval[timeframe]
	if !ok {
		interval = "1d"
	}

	now := time.Now()
	period2 := now.Unix()
	period1 := now.Add(-rangeToDuration(yahooRange)).Unix()

	url := fmt.Sprintf("%s/%s?period1=%d&period2=%d&interval=%s&range=%s",
		c.YahooBaseURL, ticker, period1, period2, interval, yahooRange)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDataFetchError, err)
	}

	var resp yahooChartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse chart response: %v", errs.ErrDataFetchError, err)
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrDataFetchError, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w: empty chart result for %s", errs.ErrDataFetchError, ticker)
	}

	result := resp.Chart.Result[0]
	quote := result.Indicators.Quote[0]

	var bars []bar.Bar
	for i, ts := range result.Timestamp {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) ||
			i >= len(quote.Close) || i >= len(quote.Volume) {
			continue
		}
		if quote.Open[i] == nil || quote.High[i] == nil || quote.Low[i] == nil ||
			quote.Close[i] == nil || quote.Volume[i] == nil {
			continue
		}
		bars = append(bars, bar.Bar{
			Ticker:    ticker,
			Timeframe: timeframe,
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      *quote.Open[i],
			High:      *quote.High[i],
			Low:       *quote.Low[i],
			Close:     *quote.Close[i],
			Volume:    *quote.Volume[i],
		})
	}
	return bars, nil
}

type polygonAggResult struct {
	Timestamp int64   `json:"t"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
}

type polygonAggsResponse struct {
	Results []polygonAggResult `json:"results"`
	Status  string             `json:"status"`
}

var timeframeToPolygon = map[string]struct {
	multiplier int
	timespan   string
}{
	"1min": {1, "minute"}, "5min": {5, "minute"}, "15min": {15, "minute"},
	"1hour": {1, "hour"}, "1day": {1, "day"},
}

// fetchPolygon fetches from a Polygon-compatible aggregates endpoint,
// GET /v2/aggs/ticker/{symbol}/range/{multiplier}/{timespan}/{from}/{to}.
func (c *Client) fetchPolygon(ctx context.Context, ticker, timeframe, yahooRange string) ([]bar.Bar, error) {
	tf, ok := timeframeToPolygon[timeframe]
	if !ok {
		tf = timeframeToPolygon["1day"]
	}

	now := time.Now()
	from := now.Add(-rangeToDuration(yahooRange)).Format("2006-01-02")
	to := now.Format("2006-01-02")

	base := strings.TrimRight(c.PolygonBaseURL, "/")
	url := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/%d/%s/%s/%s?apiKey=%s&adjusted=true&sort=asc&limit=50000",
		base, ticker, tf.multiplier, tf.timespan, from, to, c.PolygonAPIKey)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDataFetchError, err)
	}

	var resp polygonAggsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse aggs response: %v", errs.ErrDataFetchError, err)
	}

	bars := make([]bar.Bar, 0, len(resp.Results))
	for _, r := range resp.Results {
		bars = append(bars, bar.Bar{
			Ticker:    ticker,
			Timeframe: timeframe,
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return bars, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func rangeToDuration(yahooRange string) time.Duration {
	const day = 24 * time.Hour
	switch yahooRange {
	case "1mo":
		return 30 * day
	case "3mo":
		return 91 * day
	case "6mo":
		return 182 * day
	case "1y":
		return 365 * day
	case "2y":
		return 730 * day
	default:
		return 91 * day
	}
}
