package wsbridge

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func TestConnRoundTripsBinaryFrames(t *testing.T) {
	serverRecv := make(chan []byte, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer c.Close()

		buf := make([]byte, 64)
		n, err := c.Read(buf)
		if err != nil {
			t.Errorf("server read: %v", err)
			return
		}
		serverRecv <- append([]byte(nil), buf[:n]...)

		if _, err := c.Write([]byte("pong-payload")); err != nil {
			t.Errorf("server write: %v", err)
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	client := New(ws)
	defer client.Close()

	if _, err := client.Write([]byte("ping-payload")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	got := <-serverRecv
	if string(got) != "ping-payload" {
		t.Fatalf("expected server to receive %q, got %q", "ping-payload", got)
	}

	buf := make([]byte, 64)
	n, err := client.Read(buf)
	if err != nil && err != io.EOF {
		t.Fatalf("client read: %v", err)
	}
	if string(buf[:n]) != "pong-payload" {
		t.Fatalf("expected client to read %q, got %q", "pong-payload", buf[:n])
	}
}

func TestConnReadSplitsAcrossSmallBuffers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer c.Close()
		c.Write([]byte("0123456789"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := New(ws)
	defer client.Close()

	var got []byte
	small := make([]byte, 3)
	for len(got) < 10 {
		n, err := client.Read(small)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		got = append(got, small[:n]...)
	}
	if string(got) != "0123456789" {
		t.Fatalf("expected reassembled %q, got %q", "0123456789", got)
	}
}
