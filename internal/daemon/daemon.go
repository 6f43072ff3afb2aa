// Package daemon wires configuration into the running gitmesh process: the
// source registry, per-source sync managers, the push journal and the local
// control plane.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/gitmesh/gitmesh/internal/config"
	"github.com/gitmesh/gitmesh/internal/controlplane"
	"github.com/gitmesh/gitmesh/internal/git"
	"github.com/gitmesh/gitmesh/internal/sync"
	"github.com/gitmesh/gitmesh/internal/utils"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
)

type Daemon struct {
	cfg      *config.Config
	access   git.Access
	registry *sync.Registry
	engine   *sync.Engine
	journal  *sync.Journal
	managers []*sync.Manager
	cp       *controlplane.Server
	lock     *flock.Flock
}

// New builds a daemon from validated configuration.
func New(cfg *config.Config) (*Daemon, error) {
	access := git.NewShellClient()
	journal := sync.NewJournal(filepath.Join(cfg.DataDir, "push.db"))

	engine := sync.NewEngine(access, journal, sync.EngineConfig{
		LocalHost:            cfg.Host,
		ConflictBranchFormat: cfg.ConflictBranchFormat,
		PushTimeout:          cfg.PushTimeout,
		ResetWorkingCopies:   cfg.ResetWorkingCopies,
	})

	registry := sync.NewRegistry()
	managers := make([]*sync.Manager, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		src := sync.NewSource(sc.Name, sc.Path, sc.Peers)
		if err := registry.Add(src); err != nil {
			return nil, err
		}
		managers = append(managers, sync.NewManager(src, engine))
	}

	cp := controlplane.New(controlplane.Config{
		Addr:      cfg.ControlPlane.Addr,
		Token:     cfg.ControlPlane.Token,
		LocalHost: cfg.Host,
	}, registry, engine, access)

	return &Daemon{
		cfg:      cfg,
		access:   access,
		registry: registry,
		engine:   engine,
		journal:  journal,
		managers: managers,
		cp:       cp,
		lock:     flock.New(filepath.Join(cfg.DataDir, "gitmesh.lock")),
	}, nil
}

// Start runs the daemon until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("gitmesh daemon start", "host", d.cfg.Host, "sources", len(d.cfg.Sources))

	if err := utils.EnsureDir(d.cfg.DataDir); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another gitmesh instance is running (lock %s held)", d.lock.Path())
	}
	defer d.lock.Unlock()

	if err := d.journal.Open(); err != nil {
		return err
	}
	defer d.journal.Close()

	if err := d.bootstrapSources(ctx); err != nil {
		return err
	}

	for _, m := range d.managers {
		if err := m.Start(ctx); err != nil {
			d.stopManagers()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.cp.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		d.stopManagers()
		return nil
	})

	err = g.Wait()
	slog.Info("gitmesh daemon stop")
	return err
}

// bootstrapSources initializes missing local repositories and seeds the hash
// caches from the journal.
func (d *Daemon) bootstrapSources(ctx context.Context) error {
	for _, src := range d.registry.All() {
		if !utils.DirExists(src.LocalPath) {
			if err := utils.EnsureDir(src.LocalPath); err != nil {
				return fmt.Errorf("create source path %s: %w", src.LocalPath, err)
			}
		}
		if err := d.access.InitRepo(ctx, src.LocalPath); err != nil {
			return fmt.Errorf("bootstrap source %s: %w", src.Name, err)
		}

		state, err := d.journal.State(src.Name)
		if err != nil {
			return err
		}
		src.SeedCache(state)
		slog.Debug("source ready", "source", src.Name, "path", src.LocalPath, "journalled", len(state))
	}
	return nil
}

func (d *Daemon) stopManagers() {
	for _, m := range d.managers {
		m.Stop()
	}
}
