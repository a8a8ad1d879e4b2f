package fetcher

import (
	"fmt"
	"net/url"
	"strings"
)

// Router is a Factory that picks another Factory by the locator's scheme.
// Locators with no registered scheme go to the fallback.
type Router struct {
	routes   map[string]Factory
	fallback Factory
}

// NewRouter creates a Router. fallback may be nil.
func NewRouter(fallback Factory) *Router {
	return &Router{
		routes:   make(map[string]Factory),
		fallback: fallback,
	}
}

// Handle registers f for locators whose scheme is scheme (case-insensitive).
func (r *Router) Handle(scheme string, f Factory) *Router {
	r.routes[strings.ToLower(scheme)] = f
	return r
}

// Open implements Factory.
func (r *Router) Open(symbol, locator string) (Fetcher, error) {
	if u, err := url.Parse(locator); err == nil {
		if f, ok := r.routes[strings.ToLower(u.Scheme)]; ok {
			return f.Open(symbol, locator)
		}
	}
	if r.fallback == nil {
		return nil, fmt.Errorf("no source handles locator %q for %s", locator, symbol)
	}
	return r.fallback.Open(symbol, locator)
}
