package sync

import (
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPeerWorkerRunsTasksInSubmissionOrder(t *testing.T) {
	w := NewPeerWorker("proj", "host-a")
	defer w.Stop()

	var mu stdsync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		ok := w.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
		require.True(t, ok)
	}
	w.Wait()

	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPeerWorkersRunIndependently(t *testing.T) {
	a := NewPeerWorker("proj", "host-a")
	b := NewPeerWorker("proj", "host-b")
	defer a.Stop()
	defer b.Stop()

	release := make(chan struct{})
	done := make(chan struct{})
	require.True(t, a.Submit(func() { <-release }))
	require.True(t, b.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker b blocked behind worker a")
	}

	close(release)
	a.Wait()
}

func TestPeerWorkerSubmitAfterStop(t *testing.T) {
	w := NewPeerWorker("proj", "host-a")
	w.Stop()
	assert.False(t, w.Submit(func() {}))

	// repeated stop is a no-op
	w.Stop()
}

func TestPeerWorkerFullBacklogDropsSubmission(t *testing.T) {
	w := NewPeerWorker("proj", "host-a")
	defer w.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	require.True(t, w.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	// fill the queue behind the blocked task
	accepted := 0
	for i := 0; i < taskBacklog; i++ {
		if w.Submit(func() {}) {
			accepted++
		}
	}
	assert.Equal(t, taskBacklog, accepted)
	assert.False(t, w.Submit(func() {}), "a full backlog must refuse new work")

	close(release)
	w.Wait()
}

func TestPeerWorkerWaitCoversQueuedTasks(t *testing.T) {
	w := NewPeerWorker("proj", "host-a")
	defer w.Stop()

	var mu stdsync.Mutex
	count := 0
	for i := 0; i < 10; i++ {
		w.Submit(func() {
			time.Sleep(time.Millisecond)
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	w.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, count)
}
