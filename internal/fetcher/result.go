package fetcher

import "time"

// Update represents one successfully fetched price.
// It's sent from poller tasks through the update queue to the single
// output writer, which persists it.
type Update struct {
	// Symbol is the ticker the price belongs to
	Symbol string

	// Price is the price exactly as displayed by the source
	Price string

	// ObservedAt is when the fetch completed
	ObservedAt time.Time
}
