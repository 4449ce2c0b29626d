package update

import (
	"fmt"
	"log/slog"
)

// Repair rebuilds run metadata from stored items. After restoring a
// database or editing configs by hand, last_run stamps can disagree
// with the items actually on disk; this resets each namespace's stamp
// to its newest stored item, or clears it when the namespace is empty.
func (o *Orchestrator) Repair() error {
	for _, node := range o.registry.All() {
		ns := node.Namespace()

		latest, err := o.itemRepo.LatestTimestamp(ns)
		if err != nil {
			return fmt.Errorf("failed to read latest item for %s: %w", ns, err)
		}

		if err := o.runRepo.SetLastRun(ns, latest); err != nil {
			return fmt.Errorf("failed to reset last_run for %s: %w", ns, err)
		}

		if latest != nil {
			slog.Info("Repaired run metadata", "namespace", ns, "last_run", latest)
		} else {
			slog.Info("Cleared run metadata", "namespace", ns)
		}
	}

	return nil
}
