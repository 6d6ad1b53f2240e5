// Package task implements the long-lived operation workers as a
// single Task record with a tagged Kind and a dispatch table of function
// pointers, in place of a FileDownload/PipeDownload inheritance chain.
package task

import (
	"bytes"
	"sync"
	"time"

	"github.com/ptyhub/termd/internal/ident"
	"github.com/ptyhub/termd/internal/wire"
)

// idleTick is how often HandleIdle runs for dispatch tables that set it
// (FileMount processes one queued request per tick).
const idleTick = 50 * time.Millisecond

// Kind tags which variant's state and dispatch table a Task carries.
type Kind int

const (
	KindFileDownload Kind = iota
	KindPipeDownload
	KindFileUpload
	KindPipeUpload
	KindRunCommand
	KindPortOut
	KindPortIn
	KindFileMount
	KindFileMisc
	KindImageDownload
)

// State is the task lifecycle: Created -> Starting ->
// Running <-> {Throttled-local, Throttled-remote, Questioning} ->
// {Finished, Error, Canceled}.
type State int

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateThrottledLocal
	StateThrottledRemote
	StateQuestioning
	StateFinished
	StateError
	StateCanceled
)

// WorkKind tags a message pushed into a task's work queue by the
// Listener.
type WorkKind int

const (
	WorkInput WorkKind = iota
	WorkAcking
	WorkPause
	WorkResume
	WorkAnswer
	WorkClose
	WorkFDReadable
	WorkFDWritable
	WorkIdle
	WorkProcessExited
)

// Work is one message in a task's work queue.
type Work struct {
	Kind     WorkKind
	Data     []byte
	Acked    uint64
	Answer   AnswerKind
	ExitCode int
}

// AnswerKind enumerates responses to a task's Questioning state.
type AnswerKind int

const (
	AnswerOverwrite AnswerKind = iota
	AnswerRename
	AnswerCancel
)

// Sink is where a task submits its TASK_OUTPUT frames; concretely the
// target client's output scheduler.
type Sink interface {
	Submit(buf []byte, isCommand bool) bool
}

// Dispatch is the vtable a Task's Kind selects: HandleWork reacts to one
// Work item, HandleFD services a ready descriptor, HandleIdle runs once
// per idle tick (used by FileMount to process one queued request),
// OpenFD performs variant-specific descriptor setup at Starting.
type Dispatch struct {
	OpenFD     func(t *Task) error
	HandleWork func(t *Task, w Work) error
	HandleFD   func(t *Task, writable bool) error
	HandleIdle func(t *Task) error
}

// Task is the single record for every task variant; Kind plus dispatch
// select behavior instead of a type hierarchy.
type Task struct {
	ID           ident.ID
	ClientID     ident.ID
	ServerID     ident.ID
	Kind         Kind
	TargetName   string
	Exclusive    bool

	dispatch Dispatch
	sink     Sink

	mu          sync.Mutex
	state       State
	sent        uint64
	acked       uint64
	chunkSize   int
	windowSize  int
	schedThrot  bool
	failed      bool

	work chan Work
	done chan struct{}

	// Variant-specific payload. Held as `any` so Kind's dispatch table can
	// type-assert it; avoids one struct field per variant.
	Ext any
}

// New creates a Task in StateCreated with the given dispatch table; the
// NewXxx constructors in this package call it with each variant's table.
func New(kind Kind, clientID, serverID ident.ID, sink Sink, dispatch Dispatch, chunkSize, windowSize int) *Task {
	return &Task{
		ID:         ident.New(),
		ClientID:   clientID,
		ServerID:   serverID,
		Kind:       kind,
		dispatch:   dispatch,
		sink:       sink,
		state:      StateCreated,
		chunkSize:  chunkSize,
		windowSize: windowSize,
		work:       make(chan Work, 64),
		done:       make(chan struct{}),
	}
}

// Submit enqueues a work item from the Listener.
func (t *Task) Submit(w Work) {
	select {
	case t.work <- w:
	case <-t.done:
	}
}

// Done is closed once the task's Run loop exits.
func (t *Task) Done() <-chan struct{} { return t.done }

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Run drives the task: Starting (openFD), then Running, consuming work
// items until Finished/Error/Canceled.
func (t *Task) Run() {
	defer close(t.done)

	t.setState(StateStarting)
	if t.dispatch.OpenFD != nil {
		if err := t.dispatch.OpenFD(t); err != nil {
			t.Fail(ErrOpenFailed, err)
			return
		}
	}
	// OpenFD may already have moved the task on (an upload's overwrite
	// question leaves it in Questioning); only Starting advances here.
	if t.State() == StateStarting {
		t.setState(StateRunning)
	}

	if t.dispatch.HandleIdle == nil {
		for w := range t.work {
			if t.applyWork(w) {
				return
			}
		}
		return
	}

	ticker := time.NewTicker(idleTick)
	defer ticker.Stop()
	for {
		select {
		case w, ok := <-t.work:
			if !ok {
				return
			}
			if t.applyWork(w) {
				return
			}
		case <-ticker.C:
			if t.State() == StateRunning {
				if err := t.dispatch.HandleIdle(t); err != nil {
					t.setState(StateError)
					return
				}
				if s := t.State(); s == StateFinished || s == StateError || s == StateCanceled {
					return
				}
			}
		}
	}
}

func (t *Task) applyWork(w Work) (terminal bool) {
	switch w.Kind {
	case WorkClose:
		if t.dispatch.HandleWork == nil {
			t.setState(StateCanceled)
			return true
		}
		if err := t.dispatch.HandleWork(t, w); err != nil {
			t.setState(StateError)
		}
		return true
	case WorkAcking:
		t.mu.Lock()
		t.acked = w.Acked
		wasThrottled := t.state == StateThrottledRemote
		if wasThrottled {
			t.state = StateRunning
		}
		t.mu.Unlock()
		if wasThrottled && t.dispatch.HandleFD != nil {
			t.dispatch.HandleFD(t, false)
		}
		// fall through to HandleWork so the variant resumes its pump
	case WorkResume:
		t.mu.Lock()
		if t.state == StateThrottledLocal {
			t.state = StateRunning
		}
		t.mu.Unlock()
		// fall through to HandleWork, as above
	case WorkAnswer:
		t.mu.Lock()
		t.state = StateRunning
		t.mu.Unlock()
	}

	if t.dispatch.HandleWork != nil {
		if err := t.dispatch.HandleWork(t, w); err != nil {
			t.setState(StateError)
			return true
		}
	}
	return t.State() == StateFinished || t.State() == StateError || t.State() == StateCanceled
}

// CanSend reports whether the task's backpressure window still has room,
// combining the peer-ack window with any scheduler-level throttle.
func (t *Task) CanSend() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.schedThrot {
		return false
	}
	return t.sent-t.acked < uint64(t.windowSize*t.chunkSize)
}

// EmitOutput submits a TASK_OUTPUT frame carrying payload with the given
// status, updating the sent counter and the local throttle flag based on
// the scheduler's reported backpressure. The frame carries the common
// 8-byte command+length wire header ahead of the 52-byte
// dest/src/task/status preamble, for the full 60-byte layout.
func (t *Task) EmitOutput(status wire.TaskStatus, payload []byte) {
	header := wire.TaskOutputHeader{DestClient: t.ClientID.Bytes16(), SrcServer: t.ServerID.Bytes16(), TaskID: t.ID.Bytes16(), Status: uint32(status)}
	body := append(header.Encode(), payload...)

	var buf bytes.Buffer
	wire.Encode(&buf, wire.NewFrame(wire.ClassClient, wire.CmdTaskOutput, body))
	frame := buf.Bytes()

	t.mu.Lock()
	t.sent += uint64(len(payload))
	t.mu.Unlock()

	ok := t.sink.Submit(frame, true)
	t.mu.Lock()
	t.schedThrot = !ok
	t.mu.Unlock()
}

// Sink returns the scheduler this task's output frames flow through, so
// the Listener can match tasks against a throttled hop.
func (t *Task) Sink() Sink { return t.sink }

// ChunkSize returns the configured read/write chunk size.
func (t *Task) ChunkSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chunkSize
}
