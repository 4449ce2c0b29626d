// Package update walks the resolved dependency order and decides, per
// node, whether to refresh it: lock checks first, then schedule, then
// execution with per-node failure containment.
package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/feedglue/feedglue/app/database"
	"github.com/feedglue/feedglue/app/feed"
	"github.com/feedglue/feedglue/app/graph"
)

type Status string

const (
	StatusSuccess         Status = "success"
	StatusFailed          Status = "failed"
	StatusSkippedLock     Status = "skipped_locked"
	StatusSkippedSchedule Status = "skipped_schedule"
	StatusSkippedDisabled Status = "skipped_disabled"
)

type Outcome struct {
	Namespace string
	Status    Status
	Err       error
	Duration  time.Duration
}

// Summary is the result of one full pass over the resolved order.
type Summary struct {
	RunID     string
	StartedAt time.Time
	Outcomes  []Outcome
}

func (s *Summary) Failed() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Status == StatusFailed {
			n++
		}
	}
	return n
}

type Options struct {
	// ForceAll bypasses lock and schedule for every node.
	ForceAll bool
	// ForceNamespace bypasses lock and schedule for one node only, never
	// implicitly for its dependents.
	ForceNamespace string
	// FailFast aborts the pass on the first node failure instead of
	// containing it. Off by default: a node's failure must not block
	// independent siblings.
	FailFast bool
}

type Orchestrator struct {
	registry *feed.Registry
	runRepo  database.RunRepository
	itemRepo database.ItemRepository
	locks    *NamespaceLocks
	now      func() time.Time
}

func NewOrchestrator(registry *feed.Registry, runRepo database.RunRepository,
	itemRepo database.ItemRepository, locks *NamespaceLocks) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		runRepo:  runRepo,
		itemRepo: itemRepo,
		locks:    locks,
		now:      time.Now,
	}
}

// ResolveOrder returns the registry's nodes in dependency order. A cycle
// is a configuration error: the whole run aborts before any network
// activity.
func (o *Orchestrator) ResolveOrder() ([]feed.Node, error) {
	order, err := graph.Resolve(o.registry.All())
	if err != nil {
		return nil, err
	}

	nodes := make([]feed.Node, 0, len(order))
	for _, ns := range order {
		node, ok := o.registry.Get(ns)
		if !ok {
			return nil, fmt.Errorf("resolved unknown namespace %q", ns)
		}
		nodes = append(nodes, node)
	}

	return nodes, nil
}

// RunAll executes one pass over the resolved order. Node failures are
// recorded and contained; dependents read the failed node's last
// successful snapshot.
func (o *Orchestrator) RunAll(ctx context.Context, opts Options) (*Summary, error) {
	nodes, err := o.ResolveOrder()
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		RunID:     uuid.NewString(),
		StartedAt: o.now().UTC(),
	}

	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		force := opts.ForceAll || (opts.ForceNamespace != "" && opts.ForceNamespace == node.Namespace())
		outcome := o.RunNode(ctx, node, force)
		summary.Outcomes = append(summary.Outcomes, outcome)

		if outcome.Status == StatusFailed && opts.FailFast {
			return summary, outcome.Err
		}
	}

	slog.Info("Update pass complete", "run_id", summary.RunID,
		"nodes", len(summary.Outcomes), "failed", summary.Failed(),
		"duration", o.now().UTC().Sub(summary.StartedAt).Round(time.Millisecond))

	return summary, nil
}

// RunNode applies the decision policy to a single node and executes the
// update when due. Policy order: disabled, lock, schedule, execute.
func (o *Orchestrator) RunNode(ctx context.Context, node feed.Node, force bool) Outcome {
	ns := node.Namespace()

	unlock := o.locks.Lock(ns)
	defer unlock()

	started := o.now()

	if !node.Enabled() {
		slog.Debug("Node disabled, skipping", "namespace", ns)
		return Outcome{Namespace: ns, Status: StatusSkippedDisabled}
	}

	meta, err := o.runRepo.Get(ns)
	if err != nil {
		return Outcome{Namespace: ns, Status: StatusFailed, Err: err}
	}

	if meta != nil && meta.Locked && !force {
		slog.Warn("Node locked, skipping", "namespace", ns)
		return Outcome{Namespace: ns, Status: StatusSkippedLock}
	}

	if !force && !o.due(node, meta) {
		slog.Debug("Node not due yet", "namespace", ns, "schedule", node.Schedule())
		return Outcome{Namespace: ns, Status: StatusSkippedSchedule}
	}

	err = node.Update(ctx, force)
	duration := o.now().Sub(started)

	if err != nil {
		slog.Error("Node update failed", "namespace", ns, "duration", duration.Round(time.Millisecond), "error", err)
		if recErr := o.runRepo.RecordError(ns, err.Error()); recErr != nil {
			slog.Error("Failed to record node error", "namespace", ns, "error", recErr)
		}

		var fetchErr *feed.FetchError
		if errors.As(err, &fetchErr) && fetchErr.Permanent() {
			slog.Warn("Permanent fetch failure, locking node", "namespace", ns, "status", fetchErr.StatusCode)
			if lockErr := o.runRepo.SetLocked(ns, true); lockErr != nil {
				slog.Error("Failed to lock node", "namespace", ns, "error", lockErr)
			}
		}

		return Outcome{Namespace: ns, Status: StatusFailed, Err: err, Duration: duration}
	}

	if err := o.runRepo.StampSuccess(ns, roundUpMinute(o.now().UTC())); err != nil {
		return Outcome{Namespace: ns, Status: StatusFailed, Err: err, Duration: duration}
	}

	slog.Info("Node updated", "namespace", ns, "duration", duration.Round(time.Millisecond))
	return Outcome{Namespace: ns, Status: StatusSuccess, Duration: duration}
}

// due reports whether the node's staleness window has passed: true when
// no schedule is declared, no successful run exists, or the next firing
// after the last successful run has been reached.
func (o *Orchestrator) due(node feed.Node, meta *database.RunMetadata) bool {
	schedule := node.Schedule()
	if schedule == "" || meta == nil || meta.LastRun == nil {
		return true
	}

	next, err := gronx.NextTickAfter(schedule, meta.LastRun.UTC(), false)
	if err != nil {
		slog.Error("Failed to evaluate schedule", "namespace", node.Namespace(), "schedule", schedule, "error", err)
		return true
	}

	return !o.now().UTC().Before(next)
}

// Lock marks a namespace so updates skip it until unlocked or forced.
func (o *Orchestrator) Lock(namespace string) error {
	if _, ok := o.registry.Get(namespace); !ok {
		return fmt.Errorf("unknown namespace %q", namespace)
	}
	return o.runRepo.SetLocked(namespace, true)
}

func (o *Orchestrator) Unlock(namespace string) error {
	if _, ok := o.registry.Get(namespace); !ok {
		return fmt.Errorf("unknown namespace %q", namespace)
	}
	return o.runRepo.SetLocked(namespace, false)
}

// roundUpMinute advances to the next whole minute, so minute-resolution
// schedules never fire twice within the run's own minute.
func roundUpMinute(t time.Time) time.Time {
	return t.Add(time.Minute).Truncate(time.Minute)
}
