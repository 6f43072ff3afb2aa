package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	watcherBufferSize      = 64
	defaultDebounceTimeout = 200 * time.Millisecond
)

// RefWatcher observes a repository's ref storage (.git/refs and
// .git/packed-refs) and emits a no-payload change signal. Signals are
// debounced and coalesced: a burst of ref updates produces one signal, and a
// signal arriving while the previous one is unconsumed is folded into it.
// Consumers must therefore treat every signal as "something changed".
type RefWatcher struct {
	repoPath string
	debounce time.Duration

	changes chan struct{}
	raw     chan notify.EventInfo
	done    chan struct{}
	wg      sync.WaitGroup

	timerMu sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewRefWatcher creates a watcher for the repository at repoPath.
func NewRefWatcher(repoPath string) *RefWatcher {
	return &RefWatcher{
		repoPath: repoPath,
		debounce: defaultDebounceTimeout,
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// SetDebounceTimeout overrides the debounce window; useful in tests.
func (rw *RefWatcher) SetDebounceTimeout(d time.Duration) {
	rw.debounce = d
}

func (rw *RefWatcher) gitDir() string {
	return filepath.Join(rw.repoPath, ".git")
}

// Start begins watching. The raw inotify stream covers the whole .git
// directory because packed-refs sits at its top level; events are filtered
// down to ref storage before debouncing.
func (rw *RefWatcher) Start(ctx context.Context) error {
	slog.Info("ref watcher start", "repo", rw.repoPath)

	rw.raw = make(chan notify.EventInfo, watcherBufferSize)

	recursive := filepath.Join(rw.gitDir(), "...")
	if err := notify.Watch(recursive, rw.raw, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		return err
	}

	rw.wg.Add(1)
	go rw.filterEvents(ctx)

	return nil
}

// Stop ends watching and closes the change channel.
func (rw *RefWatcher) Stop() {
	close(rw.done)
	if rw.raw != nil {
		notify.Stop(rw.raw)
	}
	rw.wg.Wait()

	// mark stopped under the timer lock so a late debounce callback cannot
	// send after the channel closes
	rw.timerMu.Lock()
	rw.stopped = true
	if rw.timer != nil {
		rw.timer.Stop()
	}
	rw.timerMu.Unlock()
	close(rw.changes)

	slog.Info("ref watcher stopped", "repo", rw.repoPath)
}

// Changes returns the coalesced change signal channel.
func (rw *RefWatcher) Changes() <-chan struct{} {
	return rw.changes
}

func (rw *RefWatcher) filterEvents(ctx context.Context) {
	defer rw.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rw.done:
			return
		case event, ok := <-rw.raw:
			if !ok {
				return
			}
			if !rw.isRefStorage(event.Path()) {
				continue
			}
			rw.scheduleSignal()
		}
	}
}

// isRefStorage reports whether path belongs to the repository's ref storage.
func (rw *RefWatcher) isRefStorage(path string) bool {
	gitDir := rw.gitDir()

	rel, err := filepath.Rel(gitDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	if rel == "packed-refs" {
		return true
	}
	return rel == "refs" || strings.HasPrefix(rel, "refs"+string(filepath.Separator))
}

// scheduleSignal restarts the debounce timer; when it fires, one signal is
// delivered (or folded into a pending one).
func (rw *RefWatcher) scheduleSignal() {
	rw.timerMu.Lock()
	defer rw.timerMu.Unlock()

	if rw.timer != nil {
		rw.timer.Stop()
	}
	rw.timer = time.AfterFunc(rw.debounce, func() {
		rw.timerMu.Lock()
		defer rw.timerMu.Unlock()
		if rw.stopped {
			return
		}
		select {
		case rw.changes <- struct{}{}:
		default:
			// a signal is already pending; the consumer will pick up this
			// change with it
		}
	})
}
