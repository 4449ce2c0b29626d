// Package tasks runs the background update loop. A single goroutine
// drives full passes, so passes never overlap; the HTTP refresh path
// contends with it only through per-namespace locks.
package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/feedglue/feedglue/app/cfg"
	"github.com/feedglue/feedglue/app/update"
)

type Watcher struct {
	orchestrator *update.Orchestrator
	interval     time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func NewWatcher(orchestrator *update.Orchestrator) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		orchestrator: orchestrator,
		interval:     time.Duration(cfg.Get().WatchInterval) * time.Second,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (w *Watcher) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		for {
			summary, err := w.orchestrator.RunAll(w.ctx, update.Options{})
			if err != nil {
				if w.ctx.Err() != nil {
					return
				}
				slog.Error("Update pass aborted", "error", err)
			} else if summary.Failed() > 0 {
				slog.Warn("Update pass finished with failures", "run_id", summary.RunID, "failed", summary.Failed())
			}

			sleep := w.nextWake()
			slog.Debug("Watcher sleeping", "duration", sleep.Round(time.Second))

			timer := time.NewTimer(sleep)
			select {
			case <-w.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
}

func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
}

// nextWake returns how long to sleep before the next pass: the time
// until the earliest scheduled firing across all nodes, floored at the
// configured watch interval so a burst of schedules cannot busy-loop.
func (w *Watcher) nextWake() time.Duration {
	nodes, err := w.orchestrator.ResolveOrder()
	if err != nil {
		return w.interval
	}

	now := time.Now().UTC()
	var wake time.Time

	for _, node := range nodes {
		schedule := node.Schedule()
		if schedule == "" || !node.Enabled() {
			continue
		}

		next, err := gronx.NextTickAfter(schedule, now, false)
		if err != nil {
			continue
		}
		if wake.IsZero() || next.Before(wake) {
			wake = next
		}
	}

	if wake.IsZero() {
		return w.interval
	}

	sleep := wake.Sub(now)
	if sleep < w.interval {
		sleep = w.interval
	}

	return sleep
}
