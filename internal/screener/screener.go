// Package screener fetches momentum candidates from the stock screening
// provider. The provider exposes a single scan endpoint taking a JSON filter
// specification and returning ordered value rows for the requested columns.
package screener

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"trendscan/internal/faults"

	"go.uber.org/zap"
)

const (
	apiURL   = "https://scanner.tradingview.com"
	scanPath = "/%s/scan"

	// The scan endpoint rejects non-browser clients.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
	origin    = "https://www.tradingview.com"

	contentType = "application/json"
)

// columns requested from the scan, in response order.
var columns = []string{"name", "description", "close", "SMA20", "SMA50", "SMA200"}

type Client struct {
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

func New(logger *zap.Logger) *Client {
	return &Client{
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:    logger,
		UserAgent: userAgent,
	}
}

// Filter enumerates the screening thresholds applied server-side.
type Filter struct {
	Market         string  `mapstructure:"market"`
	MinPrice       float64 `mapstructure:"min-price"`
	MinMonthlyPerf float64 `mapstructure:"min-monthly-perf"`
	MinMarketCap   float64 `mapstructure:"min-market-cap"`
	MinAvgVolume   float64 `mapstructure:"min-avg-volume"`
	SortBy         string  `mapstructure:"sort-by"`
	SortOrder      string  `mapstructure:"sort-order"`
	Limit          int     `mapstructure:"limit"`
}

// Candidate is one screened ticker. Moving averages may be zero when the
// provider omits them.
type Candidate struct {
	Ticker      string
	Description string
	Close       float64
	SMA20       float64
	SMA50       float64
	SMA200      float64
}

type scanRequest struct {
	Filter  []filterClause `json:"filter"`
	Options scanOptions    `json:"options"`
	Markets []string       `json:"markets"`
	Symbols scanSymbols    `json:"symbols"`
	Columns []string       `json:"columns"`
	Sort    scanSort       `json:"sort"`
	Range   [2]int         `json:"range"`
}

type filterClause struct {
	Left      string  `json:"left"`
	Operation string  `json:"operation"`
	Right     float64 `json:"right"`
}

type scanOptions struct {
	Lang string `json:"lang"`
}

type scanSymbols struct {
	Query   scanQuery `json:"query"`
	Tickers []string  `json:"tickers"`
}

type scanQuery struct {
	Types []string `json:"types"`
}

type scanSort struct {
	SortBy    string `json:"sortBy"`
	SortOrder string `json:"sortOrder"`
}

type scanResponse struct {
	Data []scanRow `json:"data"`
}

type scanRow struct {
	Symbol string `json:"s"`
	Values []any  `json:"d"`
}

// Scan posts the filter specification and returns the matching candidates.
// Zero candidates is a valid outcome and yields an empty slice, not an error.
func (c *Client) Scan(ctx context.Context, f *Filter) ([]Candidate, error) {
	body, err := json.Marshal(buildRequest(f))
	if err != nil {
		return nil, fmt.Errorf("marshal scan request: %w", err)
	}

	url := fmt.Sprintf("%s"+scanPath, c.APIURL, f.Market)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	c.setHeaders(req)

	c.logger.Debug("screener scan request", zap.String("url", url), zap.Int("body_bytes", len(body)))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("screener request: %w: %w", faults.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("screener bad status %s: %w", resp.Status, faults.ErrUpstreamUnavailable)
	}

	var parsed scanResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode scan response: %w: %w", faults.ErrMalformedResponse, err)
	}

	candidates := make([]Candidate, 0, len(parsed.Data))
	for _, row := range parsed.Data {
		cand, err := parseRow(row)
		if err != nil {
			c.logger.Warn("skipping unparseable scan row", zap.String("symbol", row.Symbol), zap.Error(err))
			continue
		}
		candidates = append(candidates, cand)
	}

	c.logger.Info("screener scan completed", zap.Int("found", len(candidates)))

	return candidates, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Origin", origin)
	req.Header.Set("Referer", origin+"/")
}

func buildRequest(f *Filter) *scanRequest {
	limit := f.Limit
	if limit <= 0 {
		limit = 1500
	}

	sortBy := f.SortBy
	if sortBy == "" {
		sortBy = "Perf.1M"
	}

	sortOrder := f.SortOrder
	if sortOrder == "" {
		sortOrder = "desc"
	}

	return &scanRequest{
		Filter: []filterClause{
			{Left: "close", Operation: "greater", Right: f.MinPrice},
			{Left: "Perf.1M", Operation: "greater", Right: f.MinMonthlyPerf},
			{Left: "market_cap_basic", Operation: "greater", Right: f.MinMarketCap},
			{Left: "average_volume_30d_calc", Operation: "greater", Right: f.MinAvgVolume},
		},
		Options: scanOptions{Lang: "en"},
		Markets: []string{f.Market},
		Symbols: scanSymbols{Query: scanQuery{Types: []string{"stock"}}, Tickers: []string{}},
		Columns: columns,
		Sort:    scanSort{SortBy: sortBy, SortOrder: sortOrder},
		Range:   [2]int{0, limit},
	}
}

// parseRow maps an ordered value array onto a Candidate. Missing or null
// numeric cells become zero, matching the provider's sparse output.
func parseRow(row scanRow) (Candidate, error) {
	if len(row.Values) < 2 {
		return Candidate{}, fmt.Errorf("row has %d values, want at least 2", len(row.Values))
	}

	ticker, ok := row.Values[0].(string)
	if !ok || ticker == "" {
		return Candidate{}, fmt.Errorf("row has no ticker")
	}

	description, _ := row.Values[1].(string)

	return Candidate{
		Ticker:      ticker,
		Description: description,
		Close:       numberAt(row.Values, 2),
		SMA20:       numberAt(row.Values, 3),
		SMA50:       numberAt(row.Values, 4),
		SMA200:      numberAt(row.Values, 5),
	}, nil
}

func numberAt(values []any, idx int) float64 {
	if idx >= len(values) {
		return 0
	}
	n, ok := values[idx].(float64)
	if !ok {
		return 0
	}
	return n
}
