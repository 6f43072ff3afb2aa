package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"

	"github.com/gitmesh/gitmesh/internal/git"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAccess implements git.Access in memory and records every operation in
// the order it executed.
type fakeAccess struct {
	mu            stdsync.Mutex
	branches      map[string]string
	snapshotCalls int
	ops           []string

	pushFunc   func(call int, localRef, remoteURL string) error
	pushCalls  int
	checkedOut string
	clean      bool
	renameErr  error
}

func newFakeAccess(branches map[string]string) *fakeAccess {
	return &fakeAccess{branches: branches, clean: true}
}

func (f *fakeAccess) record(format string, args ...any) {
	f.ops = append(f.ops, fmt.Sprintf(format, args...))
}

func (f *fakeAccess) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeAccess) SnapshotCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotCalls
}

func (f *fakeAccess) InitRepo(ctx context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("init %s", dir)
	return nil
}

func (f *fakeAccess) SnapshotLocalBranches(ctx context.Context, dir string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshotCalls++
	snap := make(map[string]string, len(f.branches))
	for name, hash := range f.branches {
		snap[name] = hash
	}
	return snap, nil
}

func (f *fakeAccess) Push(ctx context.Context, dir, localRef, remoteURL, remoteBranch string, force bool) error {
	f.mu.Lock()
	f.pushCalls++
	call := f.pushCalls
	f.record("push %s %s", localRef, remoteURL)
	fn := f.pushFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(call, localRef, remoteURL)
	}
	return nil
}

func (f *fakeAccess) RenameBranch(ctx context.Context, r git.Remote, from, to string, overwrite bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("rename %s %s overwrite=%v", from, to, overwrite)
	return f.renameErr
}

func (f *fakeAccess) DeleteBranch(ctx context.Context, r git.Remote, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete %s", name)
	return nil
}

func (f *fakeAccess) HardReset(ctx context.Context, r git.Remote, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("reset %s", ref)
	return nil
}

func (f *fakeAccess) CheckedOutBranch(ctx context.Context, r git.Remote) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkedOut, nil
}

func (f *fakeAccess) WorkingAreaClean(ctx context.Context, r git.Remote) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clean, nil
}

func newTestEngine(access git.Access) *Engine {
	return NewEngine(access, nil, EngineConfig{
		LocalHost:            "host-local",
		ConflictBranchFormat: "lost+found/%s/%s",
	})
}

func TestPushForPeerUnconfiguredHostIsNoOp(t *testing.T) {
	fake := newFakeAccess(map[string]string{"master": "abc123"})
	engine := newTestEngine(fake)

	src := NewSource("proj", "/local/proj", map[string]string{"host-b": "/b/proj"})
	defer src.Stop()

	engine.PushForPeer(context.Background(), src, "host-x")
	src.Wait()

	assert.Equal(t, 0, fake.SnapshotCalls(), "unconfigured peer must not trigger a snapshot")
	assert.Empty(t, fake.Ops(), "unconfigured peer must not submit any task")
	assert.Empty(t, src.CacheSnapshot())
}

func TestPushForPeerSubmitsOneTaskPerChangedBranch(t *testing.T) {
	fake := newFakeAccess(map[string]string{"master": "abc123"})
	engine := newTestEngine(fake)

	src := NewSource("proj", "/local/proj", map[string]string{"host-a": "/a/path"})
	defer src.Stop()

	engine.PushForPeer(context.Background(), src, "host-a")
	src.Wait()

	ops := fake.Ops()
	require.Len(t, ops, 1)
	assert.Equal(t, "push master host-a:/a/path", ops[0])
	assert.Equal(t, "abc123", src.CachedHash("host-a", "master"))
}

func TestPushForPeerSkipsUnchangedBranches(t *testing.T) {
	fake := newFakeAccess(map[string]string{"master": "abc123", "dev": "def456"})
	engine := newTestEngine(fake)

	src := NewSource("proj", "/local/proj", map[string]string{"host-a": "/a/path"})
	defer src.Stop()
	src.SetCachedHash("host-a", "master", "abc123")

	engine.PushForPeer(context.Background(), src, "host-a")
	src.Wait()

	ops := fake.Ops()
	require.Len(t, ops, 1)
	assert.Equal(t, "push dev host-a:/a/path", ops[0])
}

func TestNotifyChangedIsIdempotent(t *testing.T) {
	fake := newFakeAccess(map[string]string{"master": "abc123", "dev": "def456"})
	engine := newTestEngine(fake)

	src := NewSource("proj", "/local/proj", map[string]string{"host-a": "/a/path", "host-b": "/b/path"})
	defer src.Stop()

	engine.NotifyChanged(context.Background(), src)
	src.Wait()
	first := len(fake.Ops())
	assert.Equal(t, 4, first, "two branches to each of two peers")

	engine.NotifyChanged(context.Background(), src)
	src.Wait()
	assert.Equal(t, first, len(fake.Ops()), "second notification with no change must submit nothing")
}

func TestFailedPushLeavesCacheUntouched(t *testing.T) {
	fake := newFakeAccess(map[string]string{"master": "abc123"})
	fake.pushFunc = func(call int, localRef, remoteURL string) error {
		return errors.New("ssh: connect refused")
	}
	engine := newTestEngine(fake)

	src := NewSource("proj", "/local/proj", map[string]string{"host-a": "/a/path"})
	defer src.Stop()

	engine.PushForPeer(context.Background(), src, "host-a")
	src.Wait()

	assert.Empty(t, src.CachedHash("host-a", "master"))
	assert.EqualValues(t, 1, engine.FailedTasks())

	// the next notification retries because the mismatch is still there
	engine.PushForPeer(context.Background(), src, "host-a")
	src.Wait()
	assert.Len(t, fake.Ops(), 2)
}

func TestConflictRenamesDivergentBranchAndRetries(t *testing.T) {
	fake := newFakeAccess(map[string]string{"master": "yyy222"})
	fake.pushFunc = func(call int, localRef, remoteURL string) error {
		if call == 1 {
			return &git.PushError{Output: "! [rejected] master -> master (non-fast-forward)", ExitCode: 1, NonFastForward: true}
		}
		return nil
	}
	engine := newTestEngine(fake)

	src := NewSource("proj", "/local/proj", map[string]string{"host-a": "/a/path"})
	defer src.Stop()

	engine.PushForPeer(context.Background(), src, "host-a")
	src.Wait()

	ops := fake.Ops()
	require.Len(t, ops, 3)
	assert.Equal(t, "push master host-a:/a/path", ops[0])
	assert.Equal(t, "rename master lost+found/host-local/master overwrite=true", ops[1])
	assert.Equal(t, "push master host-a:/a/path", ops[2])

	assert.Equal(t, "yyy222", src.CachedHash("host-a", "master"))
	assert.Zero(t, engine.FailedTasks())
}

func TestConflictRetryFailureLeavesCacheUntouched(t *testing.T) {
	fake := newFakeAccess(map[string]string{"master": "yyy222"})
	fake.pushFunc = func(call int, localRef, remoteURL string) error {
		if call == 1 {
			return &git.PushError{Output: "non-fast-forward", ExitCode: 1, NonFastForward: true}
		}
		return errors.New("remote went away")
	}
	engine := newTestEngine(fake)

	src := NewSource("proj", "/local/proj", map[string]string{"host-a": "/a/path"})
	defer src.Stop()

	engine.PushForPeer(context.Background(), src, "host-a")
	src.Wait()

	assert.Empty(t, src.CachedHash("host-a", "master"))
	assert.EqualValues(t, 1, engine.FailedTasks())
}

func TestConflictRenameFailureSkipsRetry(t *testing.T) {
	fake := newFakeAccess(map[string]string{"master": "yyy222"})
	fake.pushFunc = func(call int, localRef, remoteURL string) error {
		return &git.PushError{Output: "non-fast-forward", ExitCode: 1, NonFastForward: true}
	}
	fake.renameErr = errors.New("permission denied")
	engine := newTestEngine(fake)

	src := NewSource("proj", "/local/proj", map[string]string{"host-a": "/a/path"})
	defer src.Stop()

	engine.PushForPeer(context.Background(), src, "host-a")
	src.Wait()

	ops := fake.Ops()
	require.Len(t, ops, 2, "no retry push after a failed rename")
	assert.EqualValues(t, 1, engine.FailedTasks())
	assert.Empty(t, src.CachedHash("host-a", "master"))
}

func TestSuccessfulPushRefreshesCheckedOutWorkingCopy(t *testing.T) {
	fake := newFakeAccess(map[string]string{"master": "abc123"})
	fake.checkedOut = "master"
	engine := NewEngine(fake, nil, EngineConfig{
		LocalHost:            "host-local",
		ConflictBranchFormat: "lost+found/%s/%s",
		ResetWorkingCopies:   true,
	})

	src := NewSource("proj", "/local/proj", map[string]string{"host-a": "/a/path"})
	defer src.Stop()

	engine.PushForPeer(context.Background(), src, "host-a")
	src.Wait()

	assert.Contains(t, fake.Ops(), "reset abc123")
}

func TestDirtyWorkingCopyIsNotReset(t *testing.T) {
	fake := newFakeAccess(map[string]string{"master": "abc123"})
	fake.checkedOut = "master"
	fake.clean = false
	engine := NewEngine(fake, nil, EngineConfig{
		LocalHost:            "host-local",
		ConflictBranchFormat: "lost+found/%s/%s",
		ResetWorkingCopies:   true,
	})

	src := NewSource("proj", "/local/proj", map[string]string{"host-a": "/a/path"})
	defer src.Stop()

	engine.PushForPeer(context.Background(), src, "host-a")
	src.Wait()

	assert.NotContains(t, fake.Ops(), "reset abc123")
	// the push itself still counts as confirmed
	assert.Equal(t, "abc123", src.CachedHash("host-a", "master"))
}

func TestSameHostPeerUsesPlainPath(t *testing.T) {
	fake := newFakeAccess(map[string]string{"master": "abc123"})
	engine := newTestEngine(fake)

	src := NewSource("proj", "/local/proj", map[string]string{"host-local": "/mirror/proj"})
	defer src.Stop()

	engine.PushForPeer(context.Background(), src, "host-local")
	src.Wait()

	ops := fake.Ops()
	require.Len(t, ops, 1)
	assert.Equal(t, "push master /mirror/proj", ops[0])
}

func TestSlowPeerDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	fake := newFakeAccess(map[string]string{"master": "abc123"})
	fake.pushFunc = func(call int, localRef, remoteURL string) error {
		if remoteURL == "host-slow:/slow/path" {
			<-release
		}
		return nil
	}
	engine := newTestEngine(fake)

	src := NewSource("proj", "/local/proj", map[string]string{
		"host-slow": "/slow/path",
		"host-fast": "/fast/path",
	})
	defer src.Stop()

	engine.NotifyChanged(context.Background(), src)

	// the fast peer converges while the slow one is stuck mid-push
	waitFor(t, func() bool { return src.CachedHash("host-fast", "master") == "abc123" })
	assert.Empty(t, src.CachedHash("host-slow", "master"))

	close(release)
	src.Wait()
	assert.Equal(t, "abc123", src.CachedHash("host-slow", "master"))
}
