package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gitmesh/gitmesh/internal/git"
)

// conflictBranchName derives the alternate name a peer's divergent branch is
// renamed to. The name is deterministic so a repeated resolution of the same
// divergence overwrites the previous rename instead of accumulating.
func (e *Engine) conflictBranchName(branch string) string {
	return fmt.Sprintf(e.cfg.ConflictBranchFormat, e.cfg.LocalHost, branch)
}

// resolveConflict preserves divergent history instead of discarding it: the
// peer's branch is renamed out of the way (with overwrite, so a stale
// alternate name cannot block the rename) and the original push is retried
// under the now-free name. The renamed branch stays on the peer for a human
// or a later reconciliation pass; no merge is attempted.
//
// The per-peer worker runs this whole sequence as one task, so rename and
// retry are atomic with respect to any other task targeting the same peer.
func (e *Engine) resolveConflict(ctx context.Context, src *Source, t pushTask, remote git.Remote) {
	alt := e.conflictBranchName(t.Branch)

	if err := e.access.RenameBranch(ctx, remote, t.RemoteBranch, alt, true); err != nil {
		e.failTask(t, fmt.Errorf("rename divergent branch: %w", err))
		return
	}

	if err := e.access.Push(ctx, src.LocalPath, t.Branch, remote.URL(), t.RemoteBranch, false); err != nil {
		e.failTask(t, fmt.Errorf("retry push after rename: %w", err))
		return
	}

	slog.Info("divergent history preserved", "task", t.ID, "source", t.Source, "peer", t.Peer, "branch", t.Branch, "renamedTo", alt)
	e.completeSuccess(ctx, src, t, remote)
}
