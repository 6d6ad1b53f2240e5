package listener

import (
	"sync"

	"github.com/ptyhub/termd/internal/ident"
)

// WatchHolder names one of the two joint holders of a Watch.
type WatchHolder int

const (
	HolderTerminal WatchHolder = iota
	HolderReader
)

// Watch bridges one terminal and one reader and carries the replicated
// emulator state the reader drains. Neither holder
// deletes it directly: each releases its side via ReleaseWatch on the
// Listener, which destroys the Watch only once both sides have let go.
type Watch struct {
	ID         ident.ID
	TerminalID ident.ID
	ReaderID   ident.ID

	mu          sync.Mutex
	active      bool
	pendingRows map[int]bool
	regionState uint64
	released    [2]bool
}

// Replicate records a set of changed row indices and the buffer's current
// regionState counter under the watch's lock. The owning terminal calls
// this after each emulator transaction, before Activate.
func (w *Watch) Replicate(rows []int, regionState uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range rows {
		w.pendingRows[r] = true
	}
	w.regionState = regionState
}

// Activate marks the watch as having replicated state ready for its
// reader. Watches are activated only after replication completes.
func (w *Watch) Activate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = true
}

// TakePending drains the replicated row set and returns it with the
// regionState captured at the last Replicate. The reader calls this; the
// watch deactivates until the next Replicate/Activate cycle.
func (w *Watch) TakePending() (rows []int, regionState uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for r := range w.pendingRows {
		rows = append(rows, r)
	}
	w.pendingRows = make(map[int]bool)
	w.active = false
	return rows, w.regionState
}

// Active reports whether replicated state is waiting to be drained.
func (w *Watch) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// AddWatch creates a Watch joining terminalID and readerID and records it
// in the registry. The two holders receive the same *Watch; the Listener
// keeps the authoritative reference until both release.
func (l *Listener) AddWatch(terminalID, readerID ident.ID) *Watch {
	w := &Watch{
		ID:          ident.New(),
		TerminalID:  terminalID,
		ReaderID:    readerID,
		pendingRows: make(map[int]bool),
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watches[w.ID] = w
	return w
}

// ReleaseWatch records that one holder has let go of the watch. The Watch
// is destroyed (removed from the registry) only once both holders have
// released; the second release reports destroyed=true.
func (l *Listener) ReleaseWatch(watchID ident.ID, holder WatchHolder) (destroyed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.watches[watchID]
	if !ok {
		return false
	}
	w.mu.Lock()
	w.released[holder] = true
	done := w.released[HolderTerminal] && w.released[HolderReader]
	w.mu.Unlock()
	if done {
		delete(l.watches, watchID)
	}
	return done
}

// WatchesForTerminal returns the live watches held on terminalID.
func (l *Listener) WatchesForTerminal(terminalID ident.ID) []*Watch {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Watch
	for _, w := range l.watches {
		if w.TerminalID.Equal(terminalID) {
			out = append(out, w)
		}
	}
	return out
}

// OutstandingWatchHolders reports how many watches on terminalID still
// have an unreleased holder. A terminal stopping while this is non-zero
// must be leaked, not freed.
func (l *Listener) OutstandingWatchHolders(terminalID ident.ID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, w := range l.watches {
		if w.TerminalID.Equal(terminalID) {
			n++
		}
	}
	return n
}
