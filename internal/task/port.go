package task

import (
	"net"
	"sync"

	"github.com/ptyhub/termd/internal/ident"
	"github.com/ptyhub/termd/internal/wire"
)

// SubconnState tracks one port-forward subconnection. Connections are
// dialed or accepted synchronously before registration, so Special is
// always false here, and toPeer/toLocal stay empty: data is written
// straight to conn.
type SubconnState struct {
	ID      uint32
	Special bool // connection still pending; never set true by this package
	conn    net.Conn
	toPeer  [][]byte
	toLocal [][]byte
}

// PortExt is the Ext payload for KindPortOut/KindPortIn: a set of
// subconnections, each relayed to the peer by its own goroutine. Relayed
// frames count toward the task's sent counter, but the relay does not
// check CanSend, so no backpressure window limits it.
type PortExt struct {
	Listen   bool // PortIn listens locally; PortOut dials outward on demand
	Addr     string
	mu       sync.Mutex
	conns    map[uint32]*SubconnState
	nextID   uint32
	listener net.Listener
}

// NewPortForward wires a PortOut (outbound dial on demand) or PortIn
// (local listener) task.
func NewPortForward(clientID, serverID ident.ID, sink Sink, chunkSize, windowSize int, addr string, listen bool) *Task {
	kind := KindPortOut
	if listen {
		kind = KindPortIn
	}
	t := New(kind, clientID, serverID, sink, Dispatch{
		OpenFD:     openPortForward,
		HandleWork: handlePortForwardWork,
	}, chunkSize, windowSize)
	t.Ext = &PortExt{Listen: listen, Addr: addr, conns: make(map[uint32]*SubconnState)}
	return t
}

func openPortForward(t *Task) error {
	ext := t.Ext.(*PortExt)
	if !ext.Listen {
		return nil // PortOut dials lazily per incoming open request
	}
	ln, err := net.Listen("tcp", ext.Addr)
	if err != nil {
		return err
	}
	ext.listener = ln
	go acceptPortForwardConns(t, ext)
	return nil
}

func acceptPortForwardConns(t *Task, ext *PortExt) {
	for {
		conn, err := ext.listener.Accept()
		if err != nil {
			return
		}
		id := registerSubconn(ext, conn, false)
		go pumpSubconnToTask(t, ext, id)
	}
}

func registerSubconn(ext *PortExt, conn net.Conn, special bool) uint32 {
	ext.mu.Lock()
	defer ext.mu.Unlock()
	ext.nextID++
	id := ext.nextID
	ext.conns[id] = &SubconnState{ID: id, Special: special, conn: conn}
	return id
}

func pumpSubconnToTask(t *Task, ext *PortExt, id uint32) {
	ext.mu.Lock()
	sc := ext.conns[id]
	ext.mu.Unlock()
	if sc == nil || sc.conn == nil {
		return
	}
	buf := make([]byte, t.ChunkSize())
	for {
		n, err := sc.conn.Read(buf)
		if n > 0 {
			payload := subconnPayload(id, buf[:n])
			t.EmitOutput(wire.TaskRunning, payload)
		}
		if err != nil {
			return
		}
	}
}

func subconnPayload(id uint32, data []byte) []byte {
	out := make([]byte, 4+len(data))
	out[0] = byte(id)
	out[1] = byte(id >> 8)
	out[2] = byte(id >> 16)
	out[3] = byte(id >> 24)
	copy(out[4:], data)
	return out
}

func handlePortForwardWork(t *Task, w Work) error {
	ext := t.Ext.(*PortExt)

	switch w.Kind {
	case WorkInput:
		return routeSubconnInput(t, ext, w.Data)
	case WorkClose:
		closeAllSubconns(ext)
		t.setState(StateCanceled)
		return nil
	default:
		return nil
	}
}

func routeSubconnInput(t *Task, ext *PortExt, data []byte) error {
	if len(data) < 4 {
		return nil
	}
	id := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	ext.mu.Lock()
	sc := ext.conns[id]
	ext.mu.Unlock()
	if sc == nil {
		if ext.Listen {
			return nil
		}
		conn, err := net.Dial("tcp", ext.Addr)
		if err != nil {
			return nil
		}
		newID := registerSubconn(ext, conn, false)
		go pumpSubconnToTask(t, ext, newID)
		ext.mu.Lock()
		sc = ext.conns[newID]
		ext.mu.Unlock()
	}
	_, err := sc.conn.Write(data[4:])
	return err
}

func closeAllSubconns(ext *PortExt) {
	ext.mu.Lock()
	defer ext.mu.Unlock()
	for _, sc := range ext.conns {
		sc.conn.Close()
	}
	if ext.listener != nil {
		ext.listener.Close()
	}
}
