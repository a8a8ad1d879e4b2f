// Package coordinator keeps one poller task running per active watchlist
// symbol and reconciles that set whenever a new watchlist snapshot arrives.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"stockwatch/internal/config"
	"stockwatch/internal/fetcher"
	"stockwatch/internal/metrics"
	"stockwatch/internal/poller"
)

// DefaultStopTimeout bounds the wait for a cancelled task to exit.
const DefaultStopTimeout = 10 * time.Second

// ErrShutdown is returned by Reconcile after Shutdown.
var ErrShutdown = errors.New("coordinator is shut down")

// WatchlistSource produces watchlist snapshots.
type WatchlistSource interface {
	Load() (*config.Watchlist, error)
}

// Reporter is told about the registry after every reconciliation.
type Reporter interface {
	Report(tasks []TaskInfo)
}

// TaskInfo describes one registered poller.
type TaskInfo struct {
	Symbol    string
	Locator   string
	ID        string
	StartedAt time.Time
	Running   bool
	Status    poller.Status
}

// Options configures a Coordinator. Zero values fall back to defaults.
type Options struct {
	Poller      poller.Config
	StopTimeout time.Duration
	Reporter    Reporter
	Metrics     *metrics.Collector
	Logger      *slog.Logger
}

type entry struct {
	symbol    string
	locator   string
	id        uuid.UUID
	startedAt time.Time
	task      *poller.Task
	cancel    context.CancelFunc
	stopping  bool
}

// Coordinator owns the set of running poller tasks.
type Coordinator struct {
	factory     fetcher.Factory
	sink        poller.Sink
	source      WatchlistSource
	pollCfg     poller.Config
	stopTimeout time.Duration
	reporter    Reporter
	metrics     *metrics.Collector
	logger      *slog.Logger

	// tasks outlive the context of the reconcile that started them
	baseCtx    context.Context
	cancelBase context.CancelFunc

	// reconcileMu serializes Reconcile and Shutdown
	reconcileMu sync.Mutex
	closed      bool

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a Coordinator. Tasks open fetchers through factory and push
// prices to sink; source is read by Reload.
func New(factory fetcher.Factory, sink poller.Sink, source WatchlistSource, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Poller.Interval <= 0 {
		opts.Poller = poller.DefaultConfig()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		factory:     factory,
		sink:        sink,
		source:      source,
		pollCfg:     opts.Poller,
		stopTimeout: opts.StopTimeout,
		reporter:    opts.Reporter,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		baseCtx:     baseCtx,
		cancelBase:  cancel,
		entries:     make(map[string]*entry),
	}
}

// Reload reads a fresh snapshot from the source and reconciles against it.
// A snapshot that cannot be loaded leaves every running task untouched.
func (c *Coordinator) Reload(ctx context.Context) error {
	wl, err := c.source.Load()
	if err != nil {
		c.logger.Error("failed to load watchlist, keeping current pollers", "error", err)
		c.metrics.RecordReconcile(err)
		return fmt.Errorf("failed to load watchlist: %w", err)
	}
	return c.Reconcile(ctx, wl)
}

// Reconcile makes the running tasks match the active entries of wl.
//
// Tasks for symbols that are gone or inactive are cancelled and awaited for
// at most the stop timeout; a task that does not exit in time stays
// registered and is awaited again on the next call. A symbol whose locator
// changed is restarted. New symbols whose fetcher cannot be opened are
// skipped and retried on the next call.
func (c *Coordinator) Reconcile(ctx context.Context, wl *config.Watchlist) error {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()

	if c.closed {
		return ErrShutdown
	}
	if wl == nil {
		return errors.New("nil watchlist")
	}
	if err := wl.Validate(); err != nil {
		c.logger.Error("invalid watchlist, keeping current pollers", "error", err)
		c.metrics.RecordReconcile(err)
		return fmt.Errorf("invalid watchlist: %w", err)
	}

	desired := wl.Active()

	var stale []*entry
	c.mu.Lock()
	for symbol, e := range c.entries {
		locator, active := desired[symbol]
		switch {
		case !active:
			if !e.stopping {
				c.logger.Info("stopping poller", "symbol", symbol, "reason", "removed or inactive")
			}
			stale = append(stale, e)
		case e.stopping:
			stale = append(stale, e)
		case locator != e.locator:
			c.logger.Info("restarting poller",
				"symbol", symbol,
				"reason", "locator changed",
				"old_locator", e.locator,
				"new_locator", locator)
			stale = append(stale, e)
		}
	}
	c.mu.Unlock()

	stuck := c.stop(ctx, stale)

	symbols := make([]string, 0, len(desired))
	for symbol := range desired {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var started, failed int
	for _, symbol := range symbols {
		c.mu.Lock()
		_, registered := c.entries[symbol]
		c.mu.Unlock()
		if registered {
			continue
		}

		if err := c.start(symbol, desired[symbol]); err != nil {
			c.logger.Error("failed to start poller, will retry on next reload",
				"symbol", symbol,
				"error", err)
			failed++
			continue
		}
		started++
	}

	snapshot := c.Snapshot()
	c.metrics.SetActivePollers(countRunning(snapshot))
	c.metrics.RecordReconcile(nil)

	c.logger.Info("watchlist reconciled",
		"active", len(desired),
		"started", started,
		"stopped", len(stale)-len(stuck),
		"stuck", len(stuck),
		"failed", failed)

	if c.reporter != nil {
		c.reporter.Report(snapshot)
	}
	return nil
}

// Snapshot returns the registered tasks sorted by symbol.
func (c *Coordinator) Snapshot() []TaskInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]TaskInfo, 0, len(c.entries))
	for _, e := range c.entries {
		status := e.task.Status()
		infos = append(infos, TaskInfo{
			Symbol:    e.symbol,
			Locator:   e.locator,
			ID:        e.id.String(),
			StartedAt: e.startedAt,
			Running:   !e.stopping && status.State != poller.StateStopped,
			Status:    status,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Symbol < infos[j].Symbol
	})
	return infos
}

// Shutdown cancels every task and waits for each one with the stop timeout.
// The returned error names the tasks that did not exit in time. Later calls
// to Reconcile fail with ErrShutdown.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.mu.Lock()
	all := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e)
	}
	c.mu.Unlock()

	c.logger.Info("stopping all pollers", "count", len(all))
	stuck := c.stop(ctx, all)
	c.cancelBase()
	c.metrics.SetActivePollers(0)

	if len(stuck) > 0 {
		return fmt.Errorf("pollers did not stop within %s: %s", c.stopTimeout, strings.Join(stuck, ", "))
	}
	return nil
}

func (c *Coordinator) start(symbol, locator string) error {
	f, err := c.factory.Open(symbol, locator)
	if err != nil {
		return fmt.Errorf("failed to open fetcher: %w", err)
	}

	id := uuid.New()
	taskCtx, cancel := context.WithCancel(c.baseCtx)
	e := &entry{
		symbol:    symbol,
		locator:   locator,
		id:        id,
		startedAt: time.Now(),
		task:      poller.New(symbol, f, c.sink, c.pollCfg, c.metrics, c.logger.With("task_id", id.String())),
		cancel:    cancel,
	}

	c.mu.Lock()
	c.entries[symbol] = e
	c.mu.Unlock()

	go e.task.Run(taskCtx)

	c.logger.Info("poller started",
		"symbol", symbol,
		"locator", locator,
		"task_id", e.id.String(),
		"interval", c.pollCfg.Interval)
	return nil
}

// stop cancels entries, waits for them concurrently and unregisters the
// ones that exited. It returns the symbols still running, sorted.
func (c *Coordinator) stop(ctx context.Context, entries []*entry) []string {
	if len(entries) == 0 {
		return nil
	}

	c.mu.Lock()
	for _, e := range entries {
		e.stopping = true
		e.cancel()
	}
	c.mu.Unlock()

	var (
		wg      conc.WaitGroup
		stuckMu sync.Mutex
		stuck   []string
	)
	for _, e := range entries {
		wg.Go(func() {
			if c.await(ctx, e) {
				c.mu.Lock()
				if c.entries[e.symbol] == e {
					delete(c.entries, e.symbol)
				}
				c.mu.Unlock()
				c.logger.Info("poller stopped", "symbol", e.symbol, "task_id", e.id.String())
				return
			}

			c.logger.Warn("poller did not stop in time, keeping it registered",
				"symbol", e.symbol,
				"task_id", e.id.String(),
				"timeout", c.stopTimeout)
			c.metrics.RecordStopTimeout()
			stuckMu.Lock()
			stuck = append(stuck, e.symbol)
			stuckMu.Unlock()
		})
	}
	wg.Wait()

	sort.Strings(stuck)
	return stuck
}

// await reports whether the task exited within the stop timeout.
func (c *Coordinator) await(ctx context.Context, e *entry) bool {
	timer := time.NewTimer(c.stopTimeout)
	defer timer.Stop()

	select {
	case <-e.task.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		// one last non-blocking look before giving up
		select {
		case <-e.task.Done():
			return true
		default:
			return false
		}
	}
}

func countRunning(tasks []TaskInfo) int {
	n := 0
	for _, t := range tasks {
		if t.Running {
			n++
		}
	}
	return n
}
