// Package wsbridge adapts a browser-facing WebSocket connection into the
// io.ReadWriteCloser a connection.Worker's Descriptor expects, so a
// terminal can be reached by a WebSocket-based remote client without the
// wire framing in internal/wire and internal/protocol changing at all — the
// length-prefixed frame stream is simply carried inside binary WebSocket
// messages instead of directly over a pty-backed pipe or a raw net.Conn.
// Modeled on the classic gorilla/websocket read/write pump pair,
// reduced to a plain binary byte-stream passthrough.
package wsbridge

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 * 1024
)

// Upgrader wraps the gorilla upgrader with the multiplexer's defaults:
// any origin is accepted (the handshake and attribute map are the trust
// boundary, not the WebSocket origin check).
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn adapts a *websocket.Conn into io.ReadWriteCloser: Write sends one
// binary WebSocket message per call, and Read drains the current message
// before pulling the next one off the wire, so a caller reading into a
// buffer smaller than a message never loses bytes between messages.
type Conn struct {
	ws *websocket.Conn

	pending []byte // unread remainder of the current binary message

	pingStop chan struct{}
}

// Upgrade upgrades an HTTP connection to a Conn. Callers are responsible
// for any authentication before calling Upgrade.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return New(ws), nil
}

// New wraps an already-upgraded *websocket.Conn.
func New(ws *websocket.Conn) *Conn {
	c := &Conn{ws: ws, pingStop: make(chan struct{})}
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go c.pingLoop()
	return c
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.pingStop:
			return
		}
	}
}

// Read implements io.Reader, treating the WebSocket as a plain binary
// byte stream: a text message is discarded (the protocol never sends
// one). Ping and pong messages are handled inside ReadMessage and return
// no data; a close message ends Read with ReadMessage's error.
func (c *Conn) Read(p []byte) (int, error) {
	for len(c.pending) == 0 {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		c.pending = data
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write implements io.Writer: each call is sent as one binary message.
func (c *Conn) Write(p []byte) (int, error) {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close stops the keepalive ping loop and closes the underlying
// connection.
func (c *Conn) Close() error {
	select {
	case <-c.pingStop:
	default:
		close(c.pingStop)
	}
	return c.ws.Close()
}
