package alphavantage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stockwatch/internal/fetcher"
)

func newTestFetcher(t *testing.T, handler http.HandlerFunc) fetcher.Fetcher {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	factory := NewFactory("test_api_key", server.URL, fetcher.ClientOptions{Timeout: 2 * time.Second}, nil)
	f, err := factory.Open("AAPL", "alphavantage:AAPL")
	if err != nil {
		t.Fatalf("Open() returned unexpected error: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestQuoteFetcher_Fetch_Success(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		// Verify query parameters
		if r.URL.Query().Get("function") != "GLOBAL_QUOTE" {
			t.Errorf("function = %q, want GLOBAL_QUOTE", r.URL.Query().Get("function"))
		}
		if r.URL.Query().Get("symbol") != "AAPL" {
			t.Errorf("symbol = %q, want AAPL", r.URL.Query().Get("symbol"))
		}
		if r.URL.Query().Get("apikey") != "test_api_key" {
			t.Errorf("apikey = %q, want test_api_key", r.URL.Query().Get("apikey"))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{
			"Global Quote": {
				"01. symbol": "AAPL",
				"05. price": "178.2300",
				"07. latest trading day": "2024-01-15"
			}
		}`))
	})

	price, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() returned unexpected error: %v", err)
	}
	if price != "178.2300" {
		t.Errorf("Fetch() = %q, want %q", price, "178.2300")
	}
}

func TestQuoteFetcher_Fetch_Errors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantType   fetcher.ErrorType
	}{
		{"throttled note", http.StatusOK, `{"Note": "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute."}`, fetcher.ErrorTypeRateLimit},
		{"throttled information", http.StatusOK, `{"Information": "API rate limit reached"}`, fetcher.ErrorTypeRateLimit},
		{"empty quote", http.StatusOK, `{"Global Quote": {}}`, fetcher.ErrorTypeParse},
		{"non numeric price", http.StatusOK, `{"Global Quote": {"05. price": "n/a"}}`, fetcher.ErrorTypeParse},
		{"too many requests", http.StatusTooManyRequests, `{}`, fetcher.ErrorTypeRateLimit},
		{"server error", http.StatusInternalServerError, `{}`, fetcher.ErrorTypeServer},
		{"unauthorized", http.StatusUnauthorized, `{}`, fetcher.ErrorTypeClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.body))
			})

			_, err := f.Fetch(context.Background())
			if err == nil {
				t.Fatal("Fetch() expected error, got nil")
			}
			if got := fetcher.TypeOf(err); got != tt.wantType {
				t.Errorf("TypeOf(err) = %q, want %q (err: %v)", got, tt.wantType, err)
			}
		})
	}
}

func TestQuoteFetcher_Close(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request sent after Close")
	})

	if err := f.Close(); err != nil {
		t.Fatalf("Close() returned unexpected error: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("second Close() returned unexpected error: %v", err)
	}

	if _, err := f.Fetch(context.Background()); !errors.Is(err, fetcher.ErrClosed) {
		t.Errorf("Fetch() after Close error = %v, want ErrClosed", err)
	}
}

func TestQuoteFetcher_Key(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {})

	if got := f.Key(); got != "stockwatch:alphavantage:AAPL" {
		t.Errorf("Key() = %q, want %q", got, "stockwatch:alphavantage:AAPL")
	}
}

func TestTickerOf(t *testing.T) {
	tests := []struct {
		locator  string
		expected string
		wantErr  bool
	}{
		{"alphavantage:MSFT", "MSFT", false},
		{"alphavantage://msft", "MSFT", false},
		{"ALPHAVANTAGE:ibm", "IBM", false},
		{"alphavantage:", "", false},
		{"https://example.com/quote/MSFT", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.locator, func(t *testing.T) {
			got, err := TickerOf(tt.locator)
			if tt.wantErr {
				if err == nil {
					t.Errorf("TickerOf(%q) expected error, got nil", tt.locator)
				}
				return
			}
			if err != nil {
				t.Fatalf("TickerOf(%q) returned unexpected error: %v", tt.locator, err)
			}
			if got != tt.expected {
				t.Errorf("TickerOf(%q) = %q, want %q", tt.locator, got, tt.expected)
			}
		})
	}
}

func TestFactory_Open(t *testing.T) {
	opts := fetcher.ClientOptions{}

	if _, err := NewFactory("", "", opts, nil).Open("AAPL", "alphavantage:AAPL"); err == nil {
		t.Error("Open() without an API key expected error, got nil")
	}
	if _, err := NewFactory("key", "", opts, nil).Open("AAPL", "https://example.com"); err == nil {
		t.Error("Open() with a page locator expected error, got nil")
	}

	f, err := NewFactory("key", "", opts, nil).Open("BRK", "alphavantage:")
	if err != nil {
		t.Fatalf("Open() returned unexpected error: %v", err)
	}
	defer f.Close()
	if qf := f.(*QuoteFetcher); qf.ticker != "BRK" {
		t.Errorf("ticker = %q, want symbol fallback %q", qf.ticker, "BRK")
	}
}
