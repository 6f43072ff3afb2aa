package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gitmesh/gitmesh/internal/utils"
)

// RunOnce performs a single synchronization pass: one change notification per
// requested source, then waits for every peer queue to drain. An empty names
// list means all configured sources. It returns an error if any push task
// ended in the Failed state.
func RunOnce(ctx context.Context, d *Daemon, names []string) error {
	if err := utils.EnsureDir(d.cfg.DataDir); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("a gitmesh daemon is running (lock %s held); use its control plane to trigger a sync", d.lock.Path())
	}
	defer d.lock.Unlock()

	if err := d.journal.Open(); err != nil {
		return err
	}
	defer d.journal.Close()

	if err := d.bootstrapSources(ctx); err != nil {
		return err
	}

	sources := d.registry.All()
	if len(names) > 0 {
		sources = sources[:0]
		for _, name := range names {
			src, ok := d.registry.Get(name)
			if !ok {
				return fmt.Errorf("unknown source: %s", name)
			}
			sources = append(sources, src)
		}
	}

	for _, src := range sources {
		slog.Info("sync", "source", src.Name)
		d.engine.NotifyChanged(ctx, src)
	}
	for _, src := range sources {
		src.Wait()
	}
	d.registry.Stop()

	if failed := d.engine.FailedTasks(); failed > 0 {
		return fmt.Errorf("%d push task(s) failed", failed)
	}
	return nil
}
