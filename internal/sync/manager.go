package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Manager ties one source to its ref watcher: every change signal becomes an
// engine notification. Stop drains the source's peer queues.
type Manager struct {
	source  *Source
	engine  *Engine
	watcher *RefWatcher
	wg      sync.WaitGroup
}

func NewManager(source *Source, engine *Engine) *Manager {
	return &Manager{
		source:  source,
		engine:  engine,
		watcher: NewRefWatcher(source.LocalPath),
	}
}

func (m *Manager) Source() *Source {
	return m.source
}

func (m *Manager) Start(ctx context.Context) error {
	slog.Info("sync manager start", "source", m.source.Name)

	if err := m.watcher.Start(ctx); err != nil {
		return fmt.Errorf("start ref watcher for %s: %w", m.source.Name, err)
	}

	// run one notification up front so peers converge on whatever changed
	// while the daemon was down
	m.engine.NotifyChanged(ctx, m.source)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.handleChangeSignals(ctx)
	}()

	return nil
}

func (m *Manager) Stop() {
	slog.Info("sync manager stop", "source", m.source.Name)
	m.watcher.Stop()
	m.wg.Wait()
	m.source.Stop()
}

func (m *Manager) handleChangeSignals(ctx context.Context) {
	changes := m.watcher.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			m.engine.NotifyChanged(ctx, m.source)
		}
	}
}
