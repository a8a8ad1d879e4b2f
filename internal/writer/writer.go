// Package writer implements the single consumer of the update queue. It is
// the only component that mutates the output store, so writes are totally
// ordered and per-symbol updates land in the order their task produced them.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stockwatch/internal/fetcher"
	"stockwatch/internal/metrics"
	"stockwatch/internal/queue"
	"stockwatch/internal/store"
)

const defaultWriteTimeout = 10 * time.Second

// Writer drains the update queue into the output store.
type Writer struct {
	queue        *queue.Queue[fetcher.Update]
	store        store.Store
	logger       *slog.Logger
	metrics      *metrics.Collector
	writeTimeout time.Duration

	startOnce sync.Once
	done      chan struct{}
}

// New creates a Writer. metrics may be nil.
func New(q *queue.Queue[fetcher.Update], s store.Store, m *metrics.Collector, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		queue:        q,
		store:        s,
		logger:       logger,
		metrics:      m,
		writeTimeout: defaultWriteTimeout,
		done:         make(chan struct{}),
	}
}

// Start runs the consume loop in a background goroutine.
func (w *Writer) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		go func() {
			defer close(w.done)
			w.Run(ctx)
		}()
		w.logger.Info("output writer started")
	})
}

// Run pops updates until the queue is closed and drained. Cancelling ctx
// does not stop the loop; only closing the queue does, so queued updates
// are never dropped.
func (w *Writer) Run(ctx context.Context) {
	for {
		update, ok := w.queue.Pop()
		if !ok {
			w.logger.Info("update queue closed, output writer exiting")
			return
		}
		w.write(ctx, update)
		w.metrics.SetQueueDepth(w.queue.Len())
	}
}

func (w *Writer) write(ctx context.Context, u fetcher.Update) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.writeTimeout)
	defer cancel()

	start := time.Now()
	err := w.store.Put(writeCtx, u.Symbol, store.PriceRecord{
		Price:       u.Price,
		LastUpdated: u.ObservedAt,
	})
	w.metrics.RecordWrite(time.Since(start), err)

	if err != nil {
		w.logger.Error("failed to update output store",
			"symbol", u.Symbol,
			"price", u.Price,
			"error", err)
		return
	}

	w.logger.Info("output store updated",
		"symbol", u.Symbol,
		"price", u.Price,
		"observed_at", u.ObservedAt.Format(time.RFC3339))
}

// Stop closes the queue and waits for the remaining updates to be written.
// Returns ctx.Err() if the drain does not finish in time.
func (w *Writer) Stop(ctx context.Context) error {
	w.queue.Close()

	// A writer that was never started has nothing draining the queue.
	w.startOnce.Do(func() { close(w.done) })

	select {
	case <-w.done:
		w.logger.Info("output writer stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("output writer did not drain (%d updates pending): %w", w.queue.Len(), ctx.Err())
	}
}
