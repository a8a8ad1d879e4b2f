package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"stockwatch/internal/fetcher"
)

// MockFetcher is a mock implementation of the Fetcher interface for testing
type MockFetcher struct {
	FetchFunc func(ctx context.Context) (string, error)
	KeyFunc   func() string

	fetches atomic.Int64
	closes  atomic.Int64
}

// Fetch implements the Fetcher interface
func (m *MockFetcher) Fetch(ctx context.Context) (string, error) {
	m.fetches.Add(1)
	if m.closes.Load() > 0 {
		return "", fetcher.ErrClosed
	}
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx)
	}
	return "", nil
}

// Key implements the Fetcher interface
func (m *MockFetcher) Key() string {
	if m.KeyFunc != nil {
		return m.KeyFunc()
	}
	return "mock:key"
}

// Close implements the Fetcher interface
func (m *MockFetcher) Close() error {
	m.closes.Add(1)
	return nil
}

// Fetches returns how many times Fetch was called
func (m *MockFetcher) Fetches() int {
	return int(m.fetches.Load())
}

// Closes returns how many times Close was called
func (m *MockFetcher) Closes() int {
	return int(m.closes.Load())
}

// NewMockFetcher creates a simple mock fetcher with predefined values
func NewMockFetcher(key string, price string, err error) *MockFetcher {
	return &MockFetcher{
		FetchFunc: func(ctx context.Context) (string, error) {
			return price, err
		},
		KeyFunc: func() string {
			return key
		},
	}
}

// MockFactory opens MockFetchers and remembers every one it opened.
type MockFactory struct {
	// OpenFunc builds the fetcher; nil returns a fetcher reporting Price.
	OpenFunc func(symbol, locator string) (*MockFetcher, error)
	// Price is returned by default fetchers.
	Price string

	mu      sync.Mutex
	opened  map[string][]*MockFetcher
	locator map[string][]string
	fail    map[string]error
}

// NewMockFactory creates a factory whose fetchers report price.
func NewMockFactory(price string) *MockFactory {
	return &MockFactory{Price: price}
}

// FailOpen makes Open return err for symbol until cleared with a nil err.
func (f *MockFactory) FailOpen(symbol string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = make(map[string]error)
	}
	if err == nil {
		delete(f.fail, symbol)
		return
	}
	f.fail[symbol] = err
}

// Open implements fetcher.Factory
func (f *MockFactory) Open(symbol, locator string) (fetcher.Fetcher, error) {
	f.mu.Lock()
	if err := f.fail[symbol]; err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()

	var (
		m   *MockFetcher
		err error
	)
	if f.OpenFunc != nil {
		m, err = f.OpenFunc(symbol, locator)
		if err != nil {
			return nil, err
		}
	} else {
		m = NewMockFetcher(fmt.Sprintf("mock:%s", symbol), f.Price, nil)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opened == nil {
		f.opened = make(map[string][]*MockFetcher)
		f.locator = make(map[string][]string)
	}
	f.opened[symbol] = append(f.opened[symbol], m)
	f.locator[symbol] = append(f.locator[symbol], locator)
	return m, nil
}

// Opened returns the fetchers opened for symbol, oldest first.
func (f *MockFactory) Opened(symbol string) []*MockFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockFetcher(nil), f.opened[symbol]...)
}

// Locators returns the locators symbol was opened with, oldest first.
func (f *MockFactory) Locators(symbol string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.locator[symbol]...)
}

// DiscardLogger returns a logger that drops all output for clean test output.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
