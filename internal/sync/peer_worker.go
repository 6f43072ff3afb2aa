package sync

import (
	"log/slog"
	"sync"
)

// taskBacklog bounds the per-peer queue. A full queue drops the submission;
// the next change notification re-detects the hash mismatch and resubmits.
const taskBacklog = 128

// PeerWorker executes tasks for one (source, peer) pair strictly one at a
// time in submission order. Workers for different peers run concurrently and
// share no state.
type PeerWorker struct {
	source string
	peer   string

	tasks   chan func()
	pending sync.WaitGroup
	loop    sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewPeerWorker starts the worker goroutine for the given source and peer.
func NewPeerWorker(source, peer string) *PeerWorker {
	w := &PeerWorker{
		source: source,
		peer:   peer,
		tasks:  make(chan func(), taskBacklog),
	}
	w.loop.Add(1)
	go w.run()
	return w
}

func (w *PeerWorker) run() {
	defer w.loop.Done()
	for fn := range w.tasks {
		fn()
		w.pending.Done()
	}
}

// Submit enqueues fn without blocking on its execution. It reports false if
// the worker is stopped or its backlog is full.
func (w *PeerWorker) Submit(fn func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}

	w.pending.Add(1)
	select {
	case w.tasks <- fn:
		return true
	default:
		w.pending.Done()
		slog.Warn("peer worker backlog full", "source", w.source, "peer", w.peer)
		return false
	}
}

// Depth returns the number of queued, not yet started tasks.
func (w *PeerWorker) Depth() int {
	return len(w.tasks)
}

// Wait blocks until every submitted task has completed.
func (w *PeerWorker) Wait() {
	w.pending.Wait()
}

// Stop refuses further submissions, drains the queue and stops the worker
// goroutine. It is safe to call more than once.
func (w *PeerWorker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.tasks)
	w.mu.Unlock()

	w.loop.Wait()
}
