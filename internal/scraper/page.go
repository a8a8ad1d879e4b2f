package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/cast"
	"golang.org/x/net/html"
	"resty.dev/v3"

	"stockwatch/internal/fetcher"
	"stockwatch/internal/ratelimit"
)

// DefaultSelector matches the last-price element of the market summary
// widget on the ticker pages the watchlist usually points at.
const DefaultSelector = ".market-summary__last-price"

// PageFetcher scrapes the displayed price of one symbol from its ticker page
type PageFetcher struct {
	symbol   string
	locator  string
	selector Selector
	client   *resty.Client
	limiter  *ratelimit.Limiter

	mu     sync.Mutex
	closed bool
}

// NewPageFetcher creates a new page fetcher with its own HTTP session
func NewPageFetcher(symbol, locator string, selector Selector, client *resty.Client, limiter *ratelimit.Limiter) *PageFetcher {
	return &PageFetcher{
		symbol:   symbol,
		locator:  locator,
		selector: selector,
		client:   client,
		limiter:  limiter,
	}
}

// Fetch loads the ticker page and returns the text of the price element
func (f *PageFetcher) Fetch(ctx context.Context) (string, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return "", fetcher.ErrClosed
	}

	if err := f.limiter.Wait(ctx, ratelimit.HostOf(f.locator)); err != nil {
		return "", fetcher.NewTimeoutError(err)
	}

	resp, err := f.client.R().
		SetContext(ctx).
		Get(f.locator)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", fetcher.NewTimeoutError(err)
		}
		return "", fmt.Errorf("failed to load page for %s: %w", f.symbol, fetcher.NewNetworkError(err))
	}

	if !resp.IsSuccess() {
		return "", fmt.Errorf("page for %s: %w", f.symbol, fetcher.ClassifyHTTPError(resp.StatusCode()))
	}

	root, err := html.Parse(strings.NewReader(resp.String()))
	if err != nil {
		return "", fetcher.NewParseError(fmt.Sprintf("invalid html for %s: %v", f.symbol, err))
	}

	price := ExtractText(goquery.NewDocumentFromNode(root), f.selector)
	if price == "" {
		return "", fetcher.NewParseError(fmt.Sprintf("price element %q not found for %s", f.selector, f.symbol))
	}

	// placeholders such as "N/A" normalize to "", which cast reads as 0
	normalized := NormalizePrice(price)
	if normalized == "" {
		return "", fetcher.NewParseError(fmt.Sprintf("price %q for %s has no digits", price, f.symbol))
	}
	if _, err := cast.ToFloat64E(normalized); err != nil {
		return "", fetcher.NewParseError(fmt.Sprintf("price %q for %s is not numeric", price, f.symbol))
	}

	return price, nil
}

// Key returns the hierarchical key for this fetcher
func (f *PageFetcher) Key() string {
	return fmt.Sprintf("stockwatch:page:%s", f.symbol)
}

// Close releases the HTTP session. Later calls are no-ops.
func (f *PageFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	return f.client.Close()
}

// NormalizePrice strips thousands separators, currency signs and spaces so
// the displayed text can be checked as a number.
func NormalizePrice(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return -1
		}
	}, s)
}
