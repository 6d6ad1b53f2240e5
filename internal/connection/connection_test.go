package connection

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/ptyhub/termd/internal/protocol"
	"github.com/ptyhub/termd/internal/scheduler"
)

type nopSink struct{}

func (nopSink) WriteData(p []byte) error    { return nil }
func (nopSink) WriteCommand(p []byte) error { return nil }
func (nopSink) OnDataDrained()              {}
func (nopSink) OnThrottleResume()           {}

func newPipeWorker(t *testing.T) (*Worker, net.Conn, chan struct{}) {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	sched := scheduler.New(nopSink{})
	go sched.Run()

	dispatched := make(chan struct{}, 8)
	machine := protocol.New(protocol.VariantRaw, 4096, func(command uint32, body []byte) error {
		dispatched <- struct{}{}
		return nil
	})

	closed := make(chan struct{})
	hooks := Hooks{
		OnClose: func(reason CloseReason, code int) { close(closed) },
	}

	w := New(KindRaw, serverConn, machine, sched, nil, hooks, 0)
	return w, clientConn, dispatched
}

func TestWorkerFeedsProtocolMachineOnRead(t *testing.T) {
	w, clientConn, dispatched := newPipeWorker(t)
	go w.Run()
	defer w.Stop()

	frame := protocol.EncodeFrame(0, []byte("hi"))
	go clientConn.Write(frame)

	select {
	case <-dispatched:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

func TestWorkerClosesOnPeerEOF(t *testing.T) {
	w, clientConn, _ := newPipeWorker(t)
	go w.Run()

	clientConn.Close()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker to exit after peer EOF")
	}
}

func TestSubmitCloseTriggersHandleClose(t *testing.T) {
	w, _, _ := newPipeWorker(t)
	go w.Run()

	w.Submit(Work{Kind: WorkClose, Reason: ReasonLocal})

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker to exit after WorkClose")
	}
}

func TestStopIsIdempotentAcrossHandleClose(t *testing.T) {
	w, _, _ := newPipeWorker(t)
	go w.Run()
	w.Stop()
	w.Submit(Work{Kind: WorkClose, Reason: ReasonLocal})

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker exit")
	}
}

var _ io.ReadWriteCloser = (net.Conn)(nil)
