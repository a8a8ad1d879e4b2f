package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Selector is a compiled CSS selector for the price element.
type Selector struct {
	css     string
	matcher cascadia.Selector
}

// CompileSelector compiles a CSS selector, e.g. ".market-summary__last-price"
// or "div#quote span[data-field=price]".
func CompileSelector(css string) (Selector, error) {
	css = strings.TrimSpace(css)
	if css == "" {
		return Selector{}, fmt.Errorf("empty selector")
	}
	m, err := cascadia.Compile(css)
	if err != nil {
		return Selector{}, fmt.Errorf("invalid selector %q: %w", css, err)
	}
	return Selector{css: css, matcher: m}, nil
}

// String returns the selector source.
func (s Selector) String() string {
	return s.css
}

// ExtractText returns the whitespace-collapsed text of the first element in
// document order matching sel, or "" when nothing matches.
func ExtractText(doc *goquery.Document, sel Selector) string {
	text := doc.FindMatcher(sel.matcher).First().Text()
	return strings.Join(strings.Fields(text), " ")
}
