package sync

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gitmesh/gitmesh/internal/git"
	"github.com/google/uuid"
)

// pushTask carries everything one push needs; it executes inside the peer's
// worker so no two tasks for the same peer ever overlap.
type pushTask struct {
	ID           string
	Source       string
	Peer         string
	Branch       string
	Hash         string
	RemotePath   string
	RemoteBranch string
}

// EngineConfig carries the engine knobs that come from daemon configuration.
type EngineConfig struct {
	// LocalHost is this host's identifier; it prefixes conflict branch names
	// and selects path-only addressing for same-host peers.
	LocalHost string
	// ConflictBranchFormat names the branch a peer's divergent head is
	// renamed to: first %s is LocalHost, second is the branch name.
	ConflictBranchFormat string
	// PushTimeout bounds each git subprocess; zero means no timeout.
	PushTimeout time.Duration
	// ResetWorkingCopies hard-resets a peer's clean working tree after a
	// successful push of its checked-out branch.
	ResetWorkingCopies bool
}

// Engine reacts to change notifications by pushing changed branches to every
// configured peer of a source. It never blocks the notifier: work is
// submitted to per-peer workers and failures are contained to their task.
type Engine struct {
	access  git.Access
	journal *Journal // optional; nil disables persistence
	cfg     EngineConfig

	failed atomic.Int64
}

func NewEngine(access git.Access, journal *Journal, cfg EngineConfig) *Engine {
	return &Engine{
		access:  access,
		journal: journal,
		cfg:     cfg,
	}
}

// NotifyChanged reacts to a detected local change: it snapshots the local
// branches once and submits push tasks for every configured peer. Failures
// are handled inside the tasks; the caller is never blocked on completion.
func (e *Engine) NotifyChanged(ctx context.Context, src *Source) {
	snapshot, err := e.access.SnapshotLocalBranches(ctx, src.LocalPath)
	if err != nil {
		slog.Error("snapshot local branches", "source", src.Name, "path", src.LocalPath, "error", err)
		return
	}

	for _, host := range src.Hosts() {
		e.submitPushes(ctx, src, host, snapshot)
	}
}

// PushForPeer submits push tasks for one peer. If peerHost is not configured
// for the source this is a strict no-op: no task submission, no branch-hash
// access, no worker lookup.
func (e *Engine) PushForPeer(ctx context.Context, src *Source, peerHost string) {
	if !src.HasPeer(peerHost) {
		return
	}

	snapshot, err := e.access.SnapshotLocalBranches(ctx, src.LocalPath)
	if err != nil {
		slog.Error("snapshot local branches", "source", src.Name, "path", src.LocalPath, "error", err)
		return
	}

	e.submitPushes(ctx, src, peerHost, snapshot)
}

// FailedTasks returns the number of tasks that ended in the Failed state
// since the engine was created.
func (e *Engine) FailedTasks() int64 {
	return e.failed.Load()
}

// submitPushes enqueues one task per branch whose local hash differs from
// the peer's cached hash. host must already be validated as configured.
func (e *Engine) submitPushes(ctx context.Context, src *Source, host string, snapshot map[string]string) {
	path, ok := src.PeerPath(host)
	if !ok {
		return
	}

	worker := src.worker(host)
	if worker == nil {
		// a configured peer always has a worker; reaching this is a bug
		slog.Error("no worker for configured peer", "source", src.Name, "peer", host)
		return
	}

	for branch, hash := range snapshot {
		if src.CachedHash(host, branch) == hash {
			continue
		}

		task := pushTask{
			ID:           uuid.NewString()[:8],
			Source:       src.Name,
			Peer:         host,
			Branch:       branch,
			Hash:         hash,
			RemotePath:   path,
			RemoteBranch: branch,
		}
		if !worker.Submit(func() { e.runTask(ctx, src, task) }) {
			slog.Warn("push dropped", "task", task.ID, "source", src.Name, "peer", host, "branch", branch)
		}
	}
}

// runTask drives the per-task state machine: Attempt, then Success,
// Conflict-Resolved or Failed.
func (e *Engine) runTask(ctx context.Context, src *Source, t pushTask) {
	if e.cfg.PushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.PushTimeout)
		defer cancel()
	}

	remote := git.Remote{
		Host:  t.Peer,
		Path:  t.RemotePath,
		Local: t.Peer == e.cfg.LocalHost,
	}

	err := e.access.Push(ctx, src.LocalPath, t.Branch, remote.URL(), t.RemoteBranch, false)
	switch {
	case err == nil:
		e.completeSuccess(ctx, src, t, remote)
	case git.IsNonFastForward(err):
		slog.Info("push rejected, remote diverged", "task", t.ID, "source", t.Source, "peer", t.Peer, "branch", t.Branch)
		e.resolveConflict(ctx, src, t, remote)
	default:
		e.failTask(t, err)
	}
}

// completeSuccess records a confirmed push: refresh the peer's working copy
// if needed, then update the cache and the journal.
func (e *Engine) completeSuccess(ctx context.Context, src *Source, t pushTask, remote git.Remote) {
	if e.cfg.ResetWorkingCopies {
		e.refreshWorkingCopy(ctx, t, remote)
	}

	src.SetCachedHash(t.Peer, t.Branch, t.Hash)
	if e.journal != nil {
		if err := e.journal.Record(t.Source, t.Peer, t.Branch, t.Hash); err != nil {
			slog.Error("journal record", "task", t.ID, "error", err)
		}
	}
	slog.Info("pushed", "task", t.ID, "source", t.Source, "peer", t.Peer, "branch", t.Branch, "hash", t.Hash)
}

// refreshWorkingCopy hard-resets the peer's working tree after a push into
// its checked-out branch. Pushing only moves the ref; without the reset a
// non-bare peer would show the old files as local modifications.
func (e *Engine) refreshWorkingCopy(ctx context.Context, t pushTask, remote git.Remote) {
	current, err := e.access.CheckedOutBranch(ctx, remote)
	if err != nil {
		slog.Warn("checked out branch", "task", t.ID, "peer", t.Peer, "error", err)
		return
	}
	if current != t.RemoteBranch {
		return
	}

	clean, err := e.access.WorkingAreaClean(ctx, remote)
	if err != nil {
		slog.Warn("working area check", "task", t.ID, "peer", t.Peer, "error", err)
		return
	}
	if !clean {
		slog.Warn("peer working area dirty, skipping reset", "task", t.ID, "peer", t.Peer, "branch", t.Branch)
		return
	}

	if err := e.access.HardReset(ctx, remote, t.Hash); err != nil {
		slog.Warn("hard reset", "task", t.ID, "peer", t.Peer, "error", err)
	}
}

// failTask leaves the cached state untouched so the next change notification
// retries; no retry is scheduled here.
func (e *Engine) failTask(t pushTask, err error) {
	e.failed.Add(1)
	slog.Error("push failed", "task", t.ID, "source", t.Source, "peer", t.Peer, "branch", t.Branch, "error", err)
}
