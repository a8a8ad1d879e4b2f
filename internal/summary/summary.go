// Package summary logs a snapshot of the poller registry.
package summary

import (
	"log/slog"
	"runtime"
	"time"

	"stockwatch/internal/coordinator"
	"stockwatch/internal/queue"
)

// Reporter writes one summary record plus one record per poller.
type Reporter struct {
	logger *slog.Logger
	queue  func() queue.Stats
}

// New creates a Reporter. queueStats reports the update queue and may be nil.
func New(logger *slog.Logger, queueStats func() queue.Stats) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{logger: logger, queue: queueStats}
}

// Report implements coordinator.Reporter.
func (r *Reporter) Report(tasks []coordinator.TaskInfo) {
	running := 0
	for _, t := range tasks {
		if t.Running {
			running++
		}
	}

	attrs := []any{
		"pollers", len(tasks),
		"running", running,
		"goroutines", runtime.NumGoroutine(),
	}
	if r.queue != nil {
		stats := r.queue()
		attrs = append(attrs,
			"queue_pending", stats.Pending,
			"queue_pushed", stats.TotalPushed,
			"queue_written", stats.TotalPopped)
	}
	r.logger.Info("system summary", attrs...)

	now := time.Now()
	for _, t := range tasks {
		status := "running"
		if !t.Running {
			status = "stopping"
		}
		r.logger.Info("poller",
			"symbol", t.Symbol,
			"status", status,
			"state", string(t.Status.State),
			"task_id", t.ID,
			"uptime", now.Sub(t.StartedAt).Round(time.Second).String(),
			"cycles", t.Status.Cycles,
			"failures", t.Status.Failures,
			"last_price", t.Status.LastPrice)
	}
}
