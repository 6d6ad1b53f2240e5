//go:build unix

package reaper

import "golang.org/x/sys/unix"

// OSWaiter implements Waiter with the real wait-for-any-child syscall
//: each call blocks in wait4(-1, ...) until some child of
// this process exits.
type OSWaiter struct {
	stop chan struct{}
}

// NewOSWaiter builds a Waiter over the real wait4 syscall.
func NewOSWaiter() *OSWaiter {
	return &OSWaiter{stop: make(chan struct{})}
}

// WaitAny blocks until any child process exits.
func (w *OSWaiter) WaitAny() (pid int, status int, err error) {
	var ws unix.WaitStatus
	for {
		p, werr := unix.Wait4(-1, &ws, 0, nil)
		if werr == unix.EINTR {
			select {
			case <-w.stop:
				return 0, 0, unix.ECHILD
			default:
				continue
			}
		}
		if werr != nil {
			return 0, 0, werr
		}
		return p, ws.ExitStatus(), nil
	}
}

// Stop unblocks a future EINTR-retried WaitAny with ECHILD so Reaper.Run
// can exit during shutdown.
func (w *OSWaiter) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}
