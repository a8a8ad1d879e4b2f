package alphavantage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/spf13/cast"
	"resty.dev/v3"

	"stockwatch/internal/fetcher"
	"stockwatch/internal/ratelimit"
)

const (
	// Scheme selects this source in a watchlist locator, e.g. "alphavantage:MSFT".
	Scheme = "alphavantage"
	// DefaultBaseURL is the AlphaVantage query endpoint.
	DefaultBaseURL = "https://www.alphavantage.co/query"
)

// GlobalQuoteResponse represents the AlphaVantage API response for stock quotes
type GlobalQuoteResponse struct {
	GlobalQuote struct {
		Symbol           string `json:"01. symbol"`
		Price            string `json:"05. price"`
		LatestTradingDay string `json:"07. latest trading day"`
	} `json:"Global Quote"`
	// AlphaVantage answers 200 with one of these when the key is throttled
	Note        string `json:"Note"`
	Information string `json:"Information"`
}

// QuoteFetcher fetches the latest price of one ticker from the GLOBAL_QUOTE API
type QuoteFetcher struct {
	symbol  string
	ticker  string
	apiKey  string
	host    string
	client  *resty.Client
	limiter *ratelimit.Limiter

	mu     sync.Mutex
	closed bool
}

// NewQuoteFetcher creates a quote fetcher for ticker, reported under symbol.
// The client is pointed at baseURL.
func NewQuoteFetcher(symbol, ticker, apiKey, baseURL string, client *resty.Client, limiter *ratelimit.Limiter) *QuoteFetcher {
	return &QuoteFetcher{
		symbol: symbol,
		ticker: ticker,
		apiKey: apiKey,
		host:   ratelimit.HostOf(baseURL),
		client: client.
			SetBaseURL(baseURL).
			SetHeader("Accept", "application/json"),
		limiter: limiter,
	}
}

// Fetch retrieves the current stock price
func (f *QuoteFetcher) Fetch(ctx context.Context) (string, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return "", fetcher.ErrClosed
	}

	if err := f.limiter.Wait(ctx, f.host); err != nil {
		return "", fetcher.NewTimeoutError(err)
	}

	var result GlobalQuoteResponse

	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"apikey":   f.apiKey,
			"function": "GLOBAL_QUOTE",
			"symbol":   f.ticker,
		}).
		SetResult(&result).
		Get("")

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", fetcher.NewTimeoutError(err)
		}
		return "", fmt.Errorf("failed to fetch quote for %s: %w", f.ticker, fetcher.NewNetworkError(err))
	}

	if !resp.IsSuccess() {
		return "", fmt.Errorf("alphavantage quote for %s: %w", f.ticker, fetcher.ClassifyHTTPError(resp.StatusCode()))
	}

	if notice := result.Note + result.Information; notice != "" {
		return "", &fetcher.FetchError{
			Type:    fetcher.ErrorTypeRateLimit,
			Message: notice,
		}
	}

	price := result.GlobalQuote.Price
	if price == "" {
		return "", fetcher.NewParseError(fmt.Sprintf("price not found in response for %s", f.ticker))
	}
	if _, err := cast.ToFloat64E(price); err != nil {
		return "", fetcher.NewParseError(fmt.Sprintf("price %q for %s is not numeric", price, f.ticker))
	}

	return price, nil
}

// Key returns the hierarchical key for this fetcher
func (f *QuoteFetcher) Key() string {
	return fmt.Sprintf("stockwatch:alphavantage:%s", f.symbol)
}

// Close releases the HTTP session. Later calls are no-ops.
func (f *QuoteFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	return f.client.Close()
}

// Factory opens QuoteFetchers for "alphavantage:" locators.
type Factory struct {
	apiKey  string
	baseURL string
	client  fetcher.ClientOptions
	limiter *ratelimit.Limiter
}

// NewFactory creates a Factory. An empty baseURL means DefaultBaseURL.
func NewFactory(apiKey, baseURL string, client fetcher.ClientOptions, limiter *ratelimit.Limiter) *Factory {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Factory{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
		limiter: limiter,
	}
}

// Open implements fetcher.Factory. The ticker is taken from the locator
// ("alphavantage:MSFT" or "alphavantage://MSFT") and defaults to symbol.
func (f *Factory) Open(symbol, locator string) (fetcher.Fetcher, error) {
	if f.apiKey == "" {
		return nil, fmt.Errorf("alphavantage source for %s: no API key configured", symbol)
	}

	ticker, err := TickerOf(locator)
	if err != nil {
		return nil, fmt.Errorf("invalid locator for %s: %w", symbol, err)
	}
	if ticker == "" {
		ticker = symbol
	}

	return NewQuoteFetcher(symbol, ticker, f.apiKey, f.baseURL, fetcher.NewHTTPClient(f.client), f.limiter), nil
}

// TickerOf extracts the ticker from an alphavantage locator.
func TickerOf(locator string) (string, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(u.Scheme, Scheme) {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Opaque != "" {
		return strings.ToUpper(u.Opaque), nil
	}
	return strings.ToUpper(u.Host), nil
}
