package task

import (
	"encoding/binary"

	"github.com/ptyhub/termd/internal/wire"
)

// ErrorKind is the specific failure class carried alongside the
// diagnostic string in a task's final TASK_OUTPUT frame.
type ErrorKind uint32

const (
	ErrOpenFailed ErrorKind = iota + 1
	ErrReadFailed
	ErrWriteFailed
	ErrNoSuchImage
	ErrTimedOut
	ErrLostConn
)

func (k ErrorKind) String() string {
	switch k {
	case ErrOpenFailed:
		return "open failed"
	case ErrReadFailed:
		return "read failed"
	case ErrWriteFailed:
		return "write failed"
	case ErrNoSuchImage:
		return "no such image"
	case ErrTimedOut:
		return "timed out"
	case ErrLostConn:
		return "lost connection"
	}
	return "unknown"
}

// Fail reports a task failure to the peer and moves the task to
// StateError. The final frame's payload is the 4-byte kind followed by a
// UTF-8 diagnostic (the strerror text). Only the first
// Fail on a task emits a frame; later calls are no-ops so a variant that
// has already reported a specific kind is not overwritten by the generic
// one its caller maps the returned error to.
func (t *Task) Fail(kind ErrorKind, err error) {
	t.mu.Lock()
	if t.failed {
		t.mu.Unlock()
		return
	}
	t.failed = true
	t.mu.Unlock()

	diag := kind.String()
	if err != nil {
		diag = err.Error()
	}
	payload := make([]byte, 4+len(diag))
	binary.LittleEndian.PutUint32(payload, uint32(kind))
	copy(payload[4:], diag)
	t.EmitOutput(wire.TaskError, payload)
	t.setState(StateError)
}
