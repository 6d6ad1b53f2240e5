package task

import (
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/ptyhub/termd/internal/ident"
	"github.com/ptyhub/termd/internal/reaper"
	"github.com/ptyhub/termd/internal/wire"
)

// RunCommandExt is the Ext payload for KindRunCommand.
// Exit is reported only once both ProcessExited and a read-EOF have been
// observed.
type RunCommandExt struct {
	Argv       []string
	Dir        string
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	reaper     *reaper.Reaper
	exitEvents chan reaper.Delivery
	exited     bool
	exitStatus int
	readEOF    bool

	received     int64
	chunks       int
	pendingInput []byte
}

// NewRunCommand forks argv (optionally wiring /dev/null stdio when
// chunkSize is 0) and registers the child with rp so its exit status is
// delivered back onto the task's own work queue.
func NewRunCommand(clientID, serverID ident.ID, sink Sink, chunkSize, windowSize int, argv []string, dir string, rp *reaper.Reaper) *Task {
	t := New(KindRunCommand, clientID, serverID, sink, Dispatch{
		OpenFD:     openRunCommand,
		HandleWork: handleRunCommandWork,
	}, chunkSize, windowSize)
	t.Ext = &RunCommandExt{Argv: argv, Dir: dir, reaper: rp}
	return t
}

func openRunCommand(t *Task) error {
	ext := t.Ext.(*RunCommandExt)
	cmd := exec.Command(ext.Argv[0], ext.Argv[1:]...)
	cmd.Dir = ext.Dir

	if t.ChunkSize() == 0 {
		devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return err
		}
		cmd.Stdin, cmd.Stdout, cmd.Stderr = devnull, devnull, devnull
		ext.cmd = cmd
		if err := cmd.Start(); err != nil {
			return err
		}
		ext.readEOF = true // no stdout to drain
		registerRunCommandReaper(t, ext)
		return nil
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	ext.cmd = cmd
	ext.stdin = stdin
	if err := cmd.Start(); err != nil {
		return err
	}
	registerRunCommandReaper(t, ext)
	go pumpRunCommandStdout(t, ext, stdout)
	return nil
}

func registerRunCommandReaper(t *Task, ext *RunCommandExt) {
	if ext.reaper == nil || ext.cmd.Process == nil {
		return
	}
	ext.exitEvents = make(chan reaper.Delivery, 1)
	pid := ext.cmd.Process.Pid
	ext.reaper.RegisterProcess(ext.exitEvents, pid)
	go func() {
		d, ok := <-ext.exitEvents
		if !ok {
			return
		}
		t.Submit(Work{Kind: WorkProcessExited, ExitCode: d.Status})
	}()
}

func pumpRunCommandStdout(t *Task, ext *RunCommandExt, stdout interface{ Read([]byte) (int, error) }) {
	buf := make([]byte, t.ChunkSize())
	for {
		for !t.CanSend() {
			time.Sleep(10 * time.Millisecond)
		}
		n, err := stdout.Read(buf)
		if n > 0 {
			t.EmitOutput(wire.TaskRunning, buf[:n])
		}
		if err != nil {
			t.Submit(Work{Kind: WorkInput, Data: nil}) // signals read-EOF to the handler
			return
		}
	}
}

func handleRunCommandWork(t *Task, w Work) error {
	ext := t.Ext.(*RunCommandExt)

	switch w.Kind {
	case WorkProcessExited:
		ext.exited = true
		ext.exitStatus = w.ExitCode
		return maybeFinishRunCommand(t, ext)
	case WorkInput:
		if w.Data == nil {
			ext.readEOF = true
			return maybeFinishRunCommand(t, ext)
		}
		if len(w.Data) == 0 {
			// Zero-length input is the peer's end-of-input marker: close
			// the child's stdin so it can observe EOF.
			if ext.stdin != nil {
				ext.stdin.Close()
				ext.stdin = nil
			}
			return nil
		}
		return writeRunCommandInput(t, ext, w.Data)
	case WorkClose:
		if ext.stdin != nil {
			ext.stdin.Close()
		}
		if ext.cmd.Process != nil {
			ext.cmd.Process.Kill()
		}
		t.setState(StateCanceled)
		return nil
	default:
		return nil
	}
}

// writeRunCommandInput feeds incoming data to the child's stdin with a
// direct write, keeping any unwritten remainder to prepend to the next
// chunk; the received
// counter is echoed back in a TaskRunning frame so the peer can throttle
// its writes against it.
func writeRunCommandInput(t *Task, ext *RunCommandExt, data []byte) error {
	if ext.stdin == nil {
		return nil
	}
	if len(ext.pendingInput) > 0 {
		data = append(ext.pendingInput, data...)
		ext.pendingInput = nil
	}
	n, err := ext.stdin.Write(data)
	ext.received += int64(n)
	ext.chunks++
	if err != nil {
		return failRunCommandInput(t, ext, err)
	}
	if n < len(data) {
		ext.pendingInput = append([]byte(nil), data[n:]...)
	}
	t.EmitOutput(wire.TaskRunning, receivedPayload(ext.received))
	return nil
}

func failRunCommandInput(t *Task, ext *RunCommandExt, err error) error {
	ext.stdin.Close()
	ext.stdin = nil
	if ext.cmd.Process != nil {
		ext.cmd.Process.Kill()
	}
	t.Fail(ErrWriteFailed, err)
	return nil
}

func maybeFinishRunCommand(t *Task, ext *RunCommandExt) error {
	if !ext.exited || !ext.readEOF {
		return nil
	}
	if ext.stdin != nil {
		ext.stdin.Close()
		ext.stdin = nil
	}
	if ext.exitStatus == 0 {
		t.EmitOutput(wire.TaskFinished, nil)
		t.setState(StateFinished)
	} else {
		t.EmitOutput(wire.TaskError, nil)
		t.setState(StateError)
	}
	return nil
}
