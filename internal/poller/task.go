package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	"stockwatch/internal/fetcher"
	"stockwatch/internal/metrics"
)

// State is the lifecycle state of a Task.
type State string

const (
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateSleeping State = "sleeping"
	StateStopped  State = "stopped"
)

// Sink receives fetched prices. Push returns false once the sink is closed.
type Sink interface {
	Push(fetcher.Update) bool
}

// Config holds task timing.
type Config struct {
	Interval     time.Duration // Time between fetches (default: 5m)
	FetchTimeout time.Duration // Per-fetch timeout, 0 disables it
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Minute,
		FetchTimeout: 60 * time.Second,
	}
}

// Status is a point-in-time view of a Task.
type Status struct {
	State       State
	Cycles      int
	Failures    int
	LastPrice   string
	LastFetchAt time.Time
	LastError   string
}

// Task polls one symbol until its context is cancelled.
type Task struct {
	symbol  string
	fetcher fetcher.Fetcher
	sink    Sink
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Collector

	releaseOnce sync.Once
	done        chan struct{}

	mu     sync.Mutex
	status Status
}

// New creates a Task that owns f. metrics may be nil.
func New(symbol string, f fetcher.Fetcher, sink Sink, cfg Config, m *metrics.Collector, logger *slog.Logger) *Task {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Task{
		symbol:  symbol,
		fetcher: f,
		sink:    sink,
		cfg:     cfg,
		logger:  logger.With("symbol", symbol),
		metrics: m,
		done:    make(chan struct{}),
		status:  Status{State: StatePending},
	}
}

// Done is closed after Run returns and the fetcher has been released.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Status returns a copy of the task's current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Run executes fetch cycles until ctx is cancelled. It must be called once.
func (t *Task) Run(ctx context.Context) {
	defer close(t.done)
	defer t.setState(StateStopped)
	defer t.Release()

	t.logger.Debug("poller task started", "interval", t.cfg.Interval)

	for {
		if ctx.Err() != nil {
			break
		}

		t.setState(StateRunning)
		t.cycle(ctx)

		t.setState(StateSleeping)
		if !t.sleep(ctx) {
			break
		}
	}

	t.logger.Info("closing poller task")
}

// Release closes the fetcher. Only the first call has an effect.
func (t *Task) Release() {
	t.releaseOnce.Do(func() {
		if err := t.fetcher.Close(); err != nil {
			t.logger.Warn("failed to release fetcher", "key", t.fetcher.Key(), "error", err)
		}
	})
}

// cycle performs one fetch and enqueues the price on success.
func (t *Task) cycle(ctx context.Context) {
	fetchCtx := ctx
	if t.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, t.cfg.FetchTimeout)
		defer cancel()
	}

	var (
		price string
		err   error
	)
	if r := panics.Try(func() { price, err = t.fetcher.Fetch(fetchCtx) }); r != nil {
		correlationID := uuid.NewString()
		t.logger.Error("fetcher panic",
			"correlation_id", correlationID,
			"panic", fmt.Sprintf("%v", r.Value),
			"stack", string(r.Stack),
		)
		err = fmt.Errorf("fetcher panic (correlation_id: %s)", correlationID)
	}

	// cancelled mid-fetch: the task is stopping, so neither a failure
	// nor a late price is recorded
	if ctx.Err() != nil {
		return
	}

	observedAt := time.Now()
	errType := fetcher.TypeOf(err)
	t.metrics.RecordFetch(t.symbol, string(errType))

	t.mu.Lock()
	t.status.Cycles++
	if err != nil {
		t.status.Failures++
		t.status.LastError = err.Error()
	} else {
		t.status.LastPrice = price
		t.status.LastFetchAt = observedAt
		t.status.LastError = ""
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Error("error fetching price",
			"error_type", errType,
			"error", err)
		return
	}

	t.logger.Debug("price fetched", "price", price)
	if !t.sink.Push(fetcher.Update{Symbol: t.symbol, Price: price, ObservedAt: observedAt}) {
		t.logger.Warn("update queue closed, dropping price", "price", price)
	}
}

// sleep waits for the interval. Returns false if ctx was cancelled first.
func (t *Task) sleep(ctx context.Context) bool {
	timer := time.NewTimer(t.cfg.Interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.status.State = s
	t.mu.Unlock()
}
