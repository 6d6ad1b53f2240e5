// Package connection implements the per-resource connection worker:
// a single goroutine driving one file descriptor through its
// protocol machine, applying work-queue messages, and retiring idle
// connections, for both terminal-backed and raw passthrough links.
package connection

import (
	"io"
	"log"
	"sync"
	"time"

	"github.com/ptyhub/termd/internal/ident"
	"github.com/ptyhub/termd/internal/protocol"
	"github.com/ptyhub/termd/internal/ratelimit"
	"github.com/ptyhub/termd/internal/scheduler"
	"github.com/ptyhub/termd/internal/wire"
)

// Kind distinguishes a terminal worker (owns an emulator/scrollback) from
// a raw passthrough worker.
type Kind int

const (
	KindTerminal Kind = iota
	KindRaw
)

// CloseReason is carried in a Close work item and in handleClose.
type CloseReason int

const (
	ReasonLocal CloseReason = iota
	ReasonPeerEOF
	ReasonIdleTimeout
	ReasonProtocolError
	ReasonExitAction
)

// WorkKind tags a work-queue message.
type WorkKind int

const (
	WorkResize WorkKind = iota
	WorkReset
	WorkSignal
	WorkMouseMove
	WorkRegionCreate
	WorkRegionRemove
	WorkEnvUpdate
	WorkProcessExited
	WorkWatchAdded
	WorkWatchReleased
	WorkOwnershipChange
	WorkClose
)

// Work is one message injected into a worker's work queue (phase 2 of the
// event loop).
type Work struct {
	Kind   WorkKind
	Cols   uint16
	Rows   uint16
	Signal int
	Reason CloseReason
	Code   int
	Data   any
}

// Descriptor is the minimal surface a worker needs over its underlying
// fd — a *pty.PTY or a raw net.Conn both satisfy this.
type Descriptor interface {
	io.ReadWriteCloser
}

// ExitAction selects what to do when a terminal's child process exits.
type ExitAction int

const (
	ExitStop ExitAction = iota
	ExitRestart
	ExitClear
)

// Watcher is the surface the worker needs from a watch held on its
// terminal: replication of pending row/region changes under the watch's
// own lock, and activation once replication completes. Release requests
// do not go through this interface: handleClose passes each tracked watch
// to Hooks.ReleaseWatch. *listener.Watch satisfies it.
type Watcher interface {
	Replicate(rows []int, regionState uint64)
	Activate()
}

// Hooks lets the owning worker react to protocol frames and lifecycle
// events without this package depending on listener/task/scrollback types
// directly.
type Hooks struct {
	// Dispatch handles one fully-framed protocol message.
	Dispatch protocol.Dispatcher
	// OnClose is invoked once, from handleClose, before the worker
	// goroutine exits.
	OnClose func(reason CloseReason, code int)
	// Relaunch is called when ExitAction is Restart or Clear; it should
	// replace the descriptor with a freshly spawned one (or return an
	// error to fall back to Stop behavior).
	Relaunch func() (Descriptor, error)
	// ClearScrollback is called in addition to Relaunch when ExitAction
	// is Clear.
	ClearScrollback func()
	// ReleaseWatch signals one watch to release its terminal-side hold,
	// concretely a listener.ReleaseWatch(HolderTerminal) call. Invoked
	// for every tracked watch during handleClose.
	ReleaseWatch func(w Watcher)
}

// Worker drives one Descriptor through its full lifecycle.
type Worker struct {
	ID    ident.ID
	Kind  Kind
	hooks Hooks

	mu          sync.Mutex
	descriptor  Descriptor
	machine     *protocol.Machine
	sched       *scheduler.Scheduler
	limiter     *ratelimit.Limiter
	exitAction  ExitAction
	keepalive   time.Duration
	watches     []Watcher

	work     chan Work
	stop     chan struct{}
	done     chan struct{}
	closedOn sync.Once
}

// New creates a Worker. limiter carries the deployment-configured
// rate-limiter constants (nil falls back to built-in defaults); keepalive
// configures the idle-timer cadence (phase 3 of the event loop), zero
// disables keepalives.
func New(kind Kind, descriptor Descriptor, machine *protocol.Machine, sched *scheduler.Scheduler, limiter *ratelimit.Limiter, hooks Hooks, keepalive time.Duration) *Worker {
	if limiter == nil {
		limiter = ratelimit.New(2*time.Second, 200*time.Millisecond)
	}
	return &Worker{
		ID:         ident.New(),
		Kind:       kind,
		hooks:      hooks,
		descriptor: descriptor,
		machine:    machine,
		sched:      sched,
		limiter:    limiter,
		keepalive:  keepalive,
		work:       make(chan Work, 32),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Submit enqueues a work item for processing on the worker's own
// goroutine. It never blocks past the worker's queue capacity guard —
// callers from the Listener should not hold locks across Submit.
func (w *Worker) Submit(item Work) {
	select {
	case w.work <- item:
	case <-w.stop:
	}
}

// Done returns a channel closed once the worker's Run loop exits.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Run is the worker's three-phase event loop: descriptor reads, work
// items, then the idle timer.
func (w *Worker) Run() {
	defer close(w.done)

	readCh := make(chan readResult, 1)
	go w.readLoop(readCh)

	var idleTimer *time.Timer
	var idleInterval time.Duration
	if w.keepalive > 0 {
		idleInterval = w.keepalive / 2
		idleTimer = time.NewTimer(idleInterval)
		defer idleTimer.Stop()
	} else {
		idleTimer = time.NewTimer(time.Hour)
		idleTimer.Stop()
		defer idleTimer.Stop()
	}

	for {
		var idleC <-chan time.Time
		if idleTimer != nil {
			idleC = idleTimer.C
		}

		select {
		case res, ok := <-readCh:
			if !ok {
				w.handleClose(ReasonPeerEOF, 0)
				return
			}
			if res.err != nil {
				w.handleClose(ReasonPeerEOF, 0)
				return
			}
			if w.Kind == KindTerminal {
				w.limiter.OnInput()
			}
			if err := w.machine.Feed(res.data); err != nil {
				w.handleClose(ReasonProtocolError, 0)
				return
			}

		case item := <-w.work:
			if w.applyWork(item) {
				return
			}

		case <-idleC:
			w.onIdleFire(idleTimer, &idleInterval)

		case <-w.stop:
			w.handleClose(ReasonLocal, 0)
			return
		}
	}
}

type readResult struct {
	data []byte
	err  error
}

func (w *Worker) readLoop(out chan<- readResult) {
	buf := make([]byte, 32*1024)
	for {
		n, err := w.descriptor.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			select {
			case out <- readResult{data: cp}:
			case <-w.stop:
				return
			}
		}
		if err != nil {
			select {
			case out <- readResult{err: err}:
			case <-w.stop:
			}
			return
		}
	}
}

// applyWork handles one work-queue message; it returns true if the worker
// should exit (a Close was processed).
func (w *Worker) applyWork(item Work) bool {
	switch item.Kind {
	case WorkClose:
		w.handleClose(item.Reason, item.Code)
		return true
	case WorkProcessExited:
		w.handleProcessExited()
		return false
	case WorkWatchAdded:
		if watch, ok := item.Data.(Watcher); ok {
			w.mu.Lock()
			w.watches = append(w.watches, watch)
			w.mu.Unlock()
		}
		return false
	case WorkWatchReleased:
		if watch, ok := item.Data.(Watcher); ok {
			w.mu.Lock()
			for i, held := range w.watches {
				if held == watch {
					w.watches = append(w.watches[:i], w.watches[i+1:]...)
					break
				}
			}
			w.mu.Unlock()
		}
		return false
	default:
		// Resize, reset, signal, mouse-move, region create/remove,
		// environment update, ownership change: these
		// mutate state the owning terminal/proxy tracks outside this
		// package (emulator, scrollback). This worker's role
		// is only to sequence their delivery under the event loop; the
		// actual mutation hooks are wired by the caller via item.Data.
		if mutator, ok := item.Data.(func()); ok {
			mutator()
		}
		return false
	}
}

func (w *Worker) onIdleFire(timer *time.Timer, interval *time.Duration) {
	if w.sched != nil {
		keepalive := protocol.EncodeFrame(uint32(wire.ClassPlain)<<24|wire.CmdKeepalive, nil)
		w.sched.Submit(keepalive, true)
	}
	*interval *= 2
	const maxInterval = 2 * time.Minute
	if *interval > maxInterval {
		timer.Stop()
		return
	}
	timer.Reset(*interval)
}

func (w *Worker) handleProcessExited() {
	switch w.exitAction {
	case ExitStop:
		log.Printf("connection %s: child exited, stopping", w.ID)
		w.Submit(Work{Kind: WorkClose, Reason: ReasonExitAction})
	case ExitRestart, ExitClear:
		if w.exitAction == ExitClear && w.hooks.ClearScrollback != nil {
			w.hooks.ClearScrollback()
		}
		if w.hooks.Relaunch == nil {
			w.Submit(Work{Kind: WorkClose, Reason: ReasonExitAction})
			return
		}
		desc, err := w.hooks.Relaunch()
		if err != nil {
			w.Submit(Work{Kind: WorkClose, Reason: ReasonExitAction})
			return
		}
		w.mu.Lock()
		w.descriptor = desc
		w.mu.Unlock()
	}
}

// SetExitAction configures what happens when the child process exits.
func (w *Worker) SetExitAction(action ExitAction) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.exitAction = action
}

// ReplicateToWatches pushes the changed rows and current regionState to
// every tracked watch, each under that watch's lock, then activates them
// all — activation strictly after replication. The
// owning terminal calls this after each emulator transaction that
// reported changes.
func (w *Worker) ReplicateToWatches(rows []int, regionState uint64) {
	w.mu.Lock()
	watches := make([]Watcher, len(w.watches))
	copy(watches, w.watches)
	w.mu.Unlock()

	for _, watch := range watches {
		watch.Replicate(rows, regionState)
	}
	for _, watch := range watches {
		watch.Activate()
	}
}

// handleClose runs the worker's shutdown sequence:
// stop the scheduler so no frames can be appended, signal every watch to
// release, then hand off to OnClose for task teardown and the Listener
// refcount decrement.
func (w *Worker) handleClose(reason CloseReason, code int) {
	w.closedOn.Do(func() {
		if w.sched != nil {
			w.sched.Stop("connection closing")
		}
		w.mu.Lock()
		watches := w.watches
		w.watches = nil
		w.mu.Unlock()
		if w.hooks.ReleaseWatch != nil {
			for _, watch := range watches {
				w.hooks.ReleaseWatch(watch)
			}
		}
		w.descriptor.Close()
		if w.hooks.OnClose != nil {
			w.hooks.OnClose(reason, code)
		}
	})
}

// Stop requests the event loop to exit via the Closing path.
func (w *Worker) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}

// Limiter exposes the terminal rate limiter so an emulator callback can
// gate pushChanges.
func (w *Worker) Limiter() *ratelimit.Limiter { return w.limiter }
