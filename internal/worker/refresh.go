// Package worker reruns the pipeline periodically while the API is served.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// Runner runs the pipeline from a step on.
type Runner interface {
	Run(ctx context.Context, start int) error
}

// RefreshWorker reruns the pipeline at a fixed interval so that written
// reports follow changed trade files and newly available rates.
type RefreshWorker struct {
	runner   Runner
	step     int
	interval time.Duration
}

// NewRefreshWorker creates a worker running from step every interval.
func NewRefreshWorker(runner Runner, step int, interval time.Duration) *RefreshWorker {
	return &RefreshWorker{
		runner:   runner,
		step:     step,
		interval: interval,
	}
}

func (w *RefreshWorker) run(ctx context.Context) {
	start := time.Now()
	if err := w.runner.Run(ctx, w.step); err != nil {
		slog.Error("RefreshWorker: run failed", "step", w.step, "error", err)
		return
	}
	slog.Info("RefreshWorker: run completed", "step", w.step, "duration", time.Since(start))
}

// Run starts the worker loop. It blocks until the context is cancelled.
func (w *RefreshWorker) Run(ctx context.Context) {
	slog.Info("RefreshWorker: starting", "step", w.step, "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("RefreshWorker: shutting down")
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}
