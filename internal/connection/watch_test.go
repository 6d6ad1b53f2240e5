package connection

import (
	"net"
	"sync"
	"testing"
	"time"
)

type fakeWatch struct {
	mu         sync.Mutex
	replicated [][]int
	activated  int
}

func (f *fakeWatch) Replicate(rows []int, regionState uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]int, len(rows))
	copy(cp, rows)
	f.replicated = append(f.replicated, cp)
}

func (f *fakeWatch) Activate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Replication must be complete for every watch before any activation.
	if len(f.replicated) == 0 {
		panic("activated before replication")
	}
	f.activated++
}

func (f *fakeWatch) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replicated), f.activated
}

func waitWorkDrained(t *testing.T, w *Worker) {
	t.Helper()
	drained := make(chan struct{})
	w.Submit(Work{Kind: WorkEnvUpdate, Data: func() { close(drained) }})
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for work queue to drain")
	}
}

func TestReplicateToWatchesReachesEveryTrackedWatch(t *testing.T) {
	w, _, _ := newPipeWorker(t)
	go w.Run()
	defer w.Stop()

	wa, wb := &fakeWatch{}, &fakeWatch{}
	w.Submit(Work{Kind: WorkWatchAdded, Data: wa})
	w.Submit(Work{Kind: WorkWatchAdded, Data: wb})
	waitWorkDrained(t, w)

	w.ReplicateToWatches([]int{1, 2}, 9)

	for _, watch := range []*fakeWatch{wa, wb} {
		reps, acts := watch.counts()
		if reps != 1 || acts != 1 {
			t.Fatalf("expected one replicate and one activate, got %d/%d", reps, acts)
		}
	}
}

func TestReleasedWatchStopsReceivingReplication(t *testing.T) {
	w, _, _ := newPipeWorker(t)
	go w.Run()
	defer w.Stop()

	watch := &fakeWatch{}
	w.Submit(Work{Kind: WorkWatchAdded, Data: watch})
	waitWorkDrained(t, w)
	w.ReplicateToWatches([]int{1}, 1)

	w.Submit(Work{Kind: WorkWatchReleased, Data: watch})
	waitWorkDrained(t, w)
	w.ReplicateToWatches([]int{2}, 2)

	if reps, _ := watch.counts(); reps != 1 {
		t.Fatalf("released watch still replicated to, %d replications", reps)
	}
}

func TestHandleCloseSignalsWatchRelease(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	released := make(chan Watcher, 2)
	hooks := Hooks{
		ReleaseWatch: func(w Watcher) { released <- w },
	}
	w := New(KindTerminal, serverConn, nil, nil, nil, hooks, 0)

	watch := &fakeWatch{}
	go w.Run()
	w.Submit(Work{Kind: WorkWatchAdded, Data: watch})
	waitWorkDrained(t, w)

	w.Submit(Work{Kind: WorkClose, Reason: ReasonLocal})
	select {
	case got := <-released:
		if got != watch {
			t.Fatal("released a different watch than the one tracked")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch release signal")
	}
}
