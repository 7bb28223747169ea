// Package coingecko is a minimal client for the CoinGecko v3 API, covering
// the endpoints the backend consumes: paged coin markets, coin details,
// market charts, batched simple prices, search, and global statistics.
package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUpstream tags network, non-2xx, and decoding failures so callers can
// map them to a service-unavailable response.
var ErrUpstream = errors.New("upstream fetch failed")

const (
	defaultBaseURL = "https://api.coingecko.com/api/v3"
	userAgent      = "coinwatch/1.0"
	requestTimeout = 30 * time.Second
)

// Client talks to the CoinGecko API. The request timeout bounds every
// upstream call so a stuck request can never wedge a scheduler guard.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a client. baseURL and apiKey may be empty; the public
// API endpoint is used and the key header is omitted.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// CoinsMarkets fetches one page of the coin catalog ordered by market cap.
func (c *Client) CoinsMarkets(ctx context.Context, currency string, page, perPage int) ([]CoinMarket, error) {
	query := url.Values{}
	query.Set("vs_currency", currency)
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	var coins []CoinMarket
	if err := c.get(ctx, "/coins/markets", query, &coins); err != nil {
		return nil, err
	}
	return coins, nil
}

// CoinDetails fetches full details for a single coin id.
func (c *Client) CoinDetails(ctx context.Context, id string) (*CoinDetails, error) {
	query := url.Values{}
	query.Set("developer_data", "false")

	var details CoinDetails
	if err := c.get(ctx, "/coins/"+url.PathEscape(id), query, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// MarketChart fetches the USD price series for a coin. Upstream timestamps
// are milliseconds; they are normalized to seconds here.
func (c *Client) MarketChart(ctx context.Context, id, days string) ([]ChartPoint, error) {
	query := url.Values{}
	query.Set("vs_currency", "usd")
	query.Set("days", days)

	var resp marketChartResponse
	if err := c.get(ctx, "/coins/"+url.PathEscape(id)+"/market_chart", query, &resp); err != nil {
		return nil, err
	}

	points := make([]ChartPoint, 0, len(resp.Prices))
	for _, p := range resp.Prices {
		points = append(points, ChartPoint{Timestamp: p.Timestamp / 1000, Close: p.Close})
	}
	return points, nil
}

// SimplePrice fetches current market data for a batch of coin ids in the
// given currency. The result maps coin id to its quote; ids upstream knows
// nothing about are simply absent.
func (c *Client) SimplePrice(ctx context.Context, ids []string, currency string) (map[string]PriceQuote, error) {
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", currency)
	query.Set("include_market_cap", "true")
	query.Set("include_24hr_vol", "true")
	query.Set("include_24hr_change", "true")

	// Values can be null for thin markets, hence the pointer map.
	raw := make(map[string]map[string]*float64)
	if err := c.get(ctx, "/simple/price", query, &raw); err != nil {
		return nil, err
	}

	quotes := make(map[string]PriceQuote, len(raw))
	for id, fields := range raw {
		quotes[id] = PriceQuote{
			Price:          fields[currency],
			MarketCap:      fields[currency+"_market_cap"],
			Volume24H:      fields[currency+"_24h_vol"],
			PriceChange24H: fields[currency+"_24h_change"],
		}
	}
	return quotes, nil
}

// Search fetches coins matching a free-text query.
func (c *Client) Search(ctx context.Context, q string) ([]SearchCoin, error) {
	query := url.Values{}
	query.Set("query", q)

	var resp searchResponse
	if err := c.get(ctx, "/search", query, &resp); err != nil {
		return nil, err
	}
	return resp.Coins, nil
}

// Global fetches aggregate market statistics.
func (c *Client) Global(ctx context.Context) (*GlobalData, error) {
	var resp globalResponse
	if err := c.get(ctx, "/global", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUpstream, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned status %d: %s", ErrUpstream, path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %v", ErrUpstream, path, err)
	}
	return nil
}
