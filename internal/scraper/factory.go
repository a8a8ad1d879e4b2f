package scraper

import (
	"fmt"
	"net/url"

	"stockwatch/internal/fetcher"
	"stockwatch/internal/ratelimit"
)

// Factory opens one PageFetcher, with a dedicated HTTP session, per symbol.
type Factory struct {
	selector Selector
	client   fetcher.ClientOptions
	limiter  *ratelimit.Limiter
}

// NewFactory creates a Factory. The selector is validated up front so a bad
// setting fails at startup instead of on every cycle.
func NewFactory(selector string, client fetcher.ClientOptions, limiter *ratelimit.Limiter) (*Factory, error) {
	sel, err := CompileSelector(selector)
	if err != nil {
		return nil, err
	}
	return &Factory{
		selector: sel,
		client:   client,
		limiter:  limiter,
	}, nil
}

// Open implements fetcher.Factory.
func (f *Factory) Open(symbol, locator string) (fetcher.Fetcher, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("invalid locator for %s: %w", symbol, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid locator for %s: unsupported scheme %q", symbol, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid locator for %s: missing host", symbol)
	}

	return NewPageFetcher(symbol, locator, f.selector, fetcher.NewHTTPClient(f.client), f.limiter), nil
}
