package fetcher

import "context"

// Fetcher is a stateful session that retrieves the displayed price for a
// single symbol. A Fetcher is owned by exactly one poller task and must not
// be used after Close.
type Fetcher interface {
	// Fetch retrieves the current price as displayed by the source.
	// Returns an error if the fetch operation fails.
	Fetch(ctx context.Context) (string, error)

	// Key returns a hierarchical key identifying this fetcher.
	// Format: stockwatch:{source}:{symbol}
	// Examples:
	//   - stockwatch:page:AAPL
	//   - stockwatch:page:EMAAR
	Key() string

	// Close releases the session. It is safe to call more than once.
	Close() error
}

// Factory allocates a Fetcher for a symbol and its source locator.
type Factory interface {
	Open(symbol, locator string) (Fetcher, error)
}

// FactoryFunc is a function adapter for Factory.
type FactoryFunc func(symbol, locator string) (Fetcher, error)

// Open implements Factory.
func (f FactoryFunc) Open(symbol, locator string) (Fetcher, error) {
	return f(symbol, locator)
}
