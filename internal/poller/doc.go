// Package poller implements the per-symbol poller task.
//
// A Task:
//   - Fetches the symbol's price with the fetcher it owns
//   - Pushes each successful price onto the update queue
//   - Sleeps for the configured interval, waking immediately on cancellation
//   - Releases its fetcher exactly once when it stops
//
// A failed or panicking fetch is logged and the cycle is skipped; the next
// cycle retries at the normal interval, with no backoff.
package poller
