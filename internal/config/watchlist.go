package config

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// Stock is one watchlist entry.
type Stock struct {
	Symbol string `mapstructure:"symbol"`
	// Link and Locator are alternative spellings of the page URL; Locator wins.
	Link     string `mapstructure:"link"`
	Locator  string `mapstructure:"locator"`
	IsActive bool   `mapstructure:"isActive"`
}

// Source returns the page URL of the entry.
func (s Stock) Source() string {
	if s.Locator != "" {
		return s.Locator
	}
	return s.Link
}

// Watchlist is a parsed snapshot of the watchlist file.
type Watchlist struct {
	Stocks []Stock `mapstructure:"metadata"`
}

// Active returns symbol -> locator for every active entry.
func (w *Watchlist) Active() map[string]string {
	active := make(map[string]string, len(w.Stocks))
	for _, s := range w.Stocks {
		if s.IsActive {
			active[s.Symbol] = s.Source()
		}
	}
	return active
}

// WatchlistLoader reads watchlist snapshots from a file.
type WatchlistLoader struct {
	fs   afero.Fs
	path string
}

// NewWatchlistLoader creates a loader for path on fs; nil fs means the OS
// filesystem.
func NewWatchlistLoader(fs afero.Fs, path string) *WatchlistLoader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &WatchlistLoader{fs: fs, path: path}
}

// Path returns the watchlist file path.
func (l *WatchlistLoader) Path() string {
	return l.path
}

// Load parses the watchlist. The format (json, yaml, toml) follows the
// file extension. The file must hold a "metadata" list, each entry needs a
// symbol and a page URL, and symbols must be unique; any violation rejects
// the whole snapshot.
func (l *WatchlistLoader) Load() (*Watchlist, error) {
	v := viper.New()
	v.SetFs(l.fs)
	v.SetConfigFile(l.path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read watchlist %s: %w", l.path, err)
	}

	if !v.IsSet("metadata") {
		return nil, fmt.Errorf("watchlist %s has no metadata list", l.path)
	}

	var entries []Stock
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &entries,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build watchlist decoder: %w", err)
	}
	if err := decoder.Decode(v.Get("metadata")); err != nil {
		return nil, fmt.Errorf("failed to decode watchlist %s: %w", l.path, err)
	}

	wl := &Watchlist{Stocks: entries}
	if err := wl.Validate(); err != nil {
		return nil, fmt.Errorf("invalid watchlist %s: %w", l.path, err)
	}
	return wl, nil
}

// Validate trims symbols and locators and rejects incomplete or duplicate
// entries.
func (w *Watchlist) Validate() error {
	seen := make(map[string]bool, len(w.Stocks))
	for i := range w.Stocks {
		s := &w.Stocks[i]
		s.Symbol = strings.TrimSpace(s.Symbol)
		s.Link = strings.TrimSpace(s.Link)
		s.Locator = strings.TrimSpace(s.Locator)

		if s.Symbol == "" {
			return fmt.Errorf("entry %d has no symbol", i)
		}
		if s.Source() == "" {
			return fmt.Errorf("entry %d (%s) has no link", i, s.Symbol)
		}
		if seen[s.Symbol] {
			return fmt.Errorf("duplicate symbol %q", s.Symbol)
		}
		seen[s.Symbol] = true
	}
	return nil
}
