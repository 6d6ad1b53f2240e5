// Package pty wraps github.com/creack/pty to give a terminal connection
// worker a uniformly owned descriptor: one PTY per connection, Read/Write
// plus resize and signal delivery, with each descriptor owned by
// exactly one connection worker for its lifetime.
package pty

import (
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"github.com/ptyhub/termd/internal/ident"
)

// Signal identifies a signal deliverable to the PTY's child process.
type Signal int

const (
	SIGINT  Signal = Signal(syscall.SIGINT)
	SIGTERM Signal = Signal(syscall.SIGTERM)
	SIGKILL Signal = Signal(syscall.SIGKILL)
	SIGSTOP Signal = Signal(syscall.SIGSTOP)
	SIGCONT Signal = Signal(syscall.SIGCONT)
)

// PTY is a pseudo-terminal plus the child process attached to its slave
// end.
type PTY struct {
	ID   ident.ID
	file *os.File
	cmd  *exec.Cmd

	mu     sync.Mutex
	closed bool

	doneOnce sync.Once
	doneChan chan struct{}
}

// New starts command (falling back to DefaultShell() when empty) attached
// to a new PTY of the given size. environ is passed through verbatim —
// callers decide whether to forward the process environment; New never
// reads os.Environ() itself.
func New(command string, cols, rows uint16, dir string, environ []string) (*PTY, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		parts = []string{DefaultShell()}
	}
	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Env = append(append([]string{}, environ...), "TERM=xterm-256color")
	if dir != "" {
		cmd.Dir = dir
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, err
	}
	return &PTY{ID: ident.New(), file: ptmx, cmd: cmd}, nil
}

// Read reads from the PTY's master side.
func (p *PTY) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	file := p.file
	p.mu.Unlock()
	return file.Read(buf)
}

// Write writes to the PTY's master side.
func (p *PTY) Write(data []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	file := p.file
	p.mu.Unlock()
	return file.Write(data)
}

// WriteSilent writes with local echo disabled for the duration of the
// write, used for injecting credentials or scripted input that shouldn't
// appear in scrollback.
func (p *PTY) WriteSilent(data []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	file := p.file
	p.mu.Unlock()
	return writeSilentPlatform(file, data)
}

// Resize changes the PTY window size.
func (p *PTY) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return os.ErrClosed
	}
	return pty.Setsize(p.file, &pty.Winsize{Cols: cols, Rows: rows})
}

// Signal delivers sig to the child process.
func (p *PTY) Signal(sig Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return os.ErrClosed
	}
	if p.cmd.Process == nil {
		return os.ErrProcessDone
	}
	return p.cmd.Process.Signal(syscall.Signal(sig))
}

// Close kills the child process (if still running) and closes the master
// file descriptor.
func (p *PTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	return p.file.Close()
}

// Pid returns the child process id, or 0 if it never started.
func (p *PTY) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done returns a channel closed once the child process exits. The
// underlying cmd.Wait is invoked exactly once regardless of how many
// times Done is called.
func (p *PTY) Done() <-chan struct{} {
	p.doneOnce.Do(func() {
		p.doneChan = make(chan struct{})
		go func() {
			if p.cmd != nil {
				p.cmd.Wait()
			}
			close(p.doneChan)
		}()
	})
	return p.doneChan
}
