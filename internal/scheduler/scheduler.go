// Package scheduler implements the per-connection output scheduler
// for a connection worker: it serializes writes to one descriptor and
// applies watermark-based throttling behind a condition variable.
package scheduler

import (
	"io"
	"sync"
)

// WarnThreshold is the bufferedAmount above which Submit reports the
// scheduler as throttled.
const WarnThreshold = 256 * 1024

// Sink is the thing a Scheduler eventually writes bytes to: a PTY
// descriptor for the data queue, or a protocol machine's send-and-flush
// path for the command queue.
type Sink interface {
	// WriteData is called with queued raw bytes destined for the data
	// sink (e.g. the child PTY). Implementations must loop over partial
	// writes/EAGAIN themselves; Scheduler treats a returned error as fatal.
	WriteData(p []byte) error
	// WriteCommand is called once per queued command frame.
	WriteCommand(p []byte) error
	// OnDataDrained is invoked after a batch of data has been written,
	// letting the owning worker reset its rate limiter to Idle.
	OnDataDrained()
	// OnThrottleResume is invoked exactly once, before draining resumes,
	// the first time a drain cycle begins after Submit returned false.
	OnThrottleResume()
}

// Scheduler is one per connection worker. Submit may be called from any
// goroutine; a single internal goroutine drains both queues in submission
// order, data and commands independently of each other.
type Scheduler struct {
	sink Sink

	mu             sync.Mutex
	cond           *sync.Cond
	dataQueue      [][]byte
	commandQueue   [][]byte
	bufferedAmount int
	throttled      bool
	stopping       bool
	stopReason     string

	done chan struct{}
}

// New creates a Scheduler writing to sink. Call Run in its own goroutine.
func New(sink Sink) *Scheduler {
	s := &Scheduler{sink: sink, done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Submit appends buf to the data queue if isCommand is false, or the
// command queue otherwise. Returns true if bufferedAmount <= WarnThreshold
// after the append, false if the scheduler is (now or already) throttled.
// Submitting to a stopped scheduler is a no-op that returns false.
func (s *Scheduler) Submit(buf []byte, isCommand bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return false
	}

	cp := make([]byte, len(buf))
	copy(cp, buf)

	if isCommand {
		s.commandQueue = append(s.commandQueue, cp)
	} else {
		s.dataQueue = append(s.dataQueue, cp)
	}
	s.bufferedAmount += len(cp)

	ok := s.bufferedAmount <= WarnThreshold
	if !ok {
		s.throttled = true
	}
	s.cond.Signal()
	return ok
}

// BufferedAmount returns the current sum of queued bytes across both
// queues; the drain loop resets it to zero on every swap.
func (s *Scheduler) BufferedAmount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferedAmount
}

// Stop marks the scheduler stopping; no further Submit succeeds. Safe to
// call multiple times and from any goroutine.
func (s *Scheduler) Stop(reason string) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.stopReason = reason
	s.cond.Broadcast()
	s.mu.Unlock()
}

// StopReason returns the reason passed to Stop, if any.
func (s *Scheduler) StopReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopReason
}

// Done returns a channel closed once Run has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Run is the scheduler thread loop. It must run in its own
// goroutine and returns once Stop has been called and both queues have
// drained, or a write fails.
func (s *Scheduler) Run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		for len(s.dataQueue) == 0 && len(s.commandQueue) == 0 && !s.stopping {
			s.cond.Wait()
		}
		if s.stopping && len(s.dataQueue) == 0 && len(s.commandQueue) == 0 {
			s.mu.Unlock()
			return
		}

		data := s.dataQueue
		commands := s.commandQueue
		s.dataQueue = nil
		s.commandQueue = nil
		s.bufferedAmount = 0
		wasThrottled := s.throttled
		s.throttled = false
		s.mu.Unlock()

		if wasThrottled {
			s.sink.OnThrottleResume()
		}

		if err := s.drainData(data); err != nil {
			s.Stop("write error")
			return
		}
		if err := s.drainCommands(commands); err != nil {
			s.Stop("write error")
			return
		}
	}
}

func (s *Scheduler) drainData(data [][]byte) error {
	if len(data) == 0 {
		return nil
	}
	for _, p := range data {
		if err := s.sink.WriteData(p); err != nil {
			return err
		}
	}
	s.sink.OnDataDrained()
	return nil
}

func (s *Scheduler) drainCommands(commands [][]byte) error {
	for _, p := range commands {
		if err := s.sink.WriteCommand(p); err != nil {
			return err
		}
	}
	return nil
}

// WriterSink adapts a plain io.Writer (e.g. a *os.File or net.Conn) into a
// Sink for the common case where data and commands share one descriptor
// and no rate-limiter/throttle callbacks are needed beyond no-ops.
type WriterSink struct {
	W               io.Writer
	OnDrained       func()
	OnResumeNotify  func()
}

func (w *WriterSink) WriteData(p []byte) error {
	_, err := w.W.Write(p)
	return err
}

func (w *WriterSink) WriteCommand(p []byte) error {
	_, err := w.W.Write(p)
	return err
}

func (w *WriterSink) OnDataDrained() {
	if w.OnDrained != nil {
		w.OnDrained()
	}
}

func (w *WriterSink) OnThrottleResume() {
	if w.OnResumeNotify != nil {
		w.OnResumeNotify()
	}
}
