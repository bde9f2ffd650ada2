package signalr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gitlab.com/techviking/signalr/v3/protocol"
)

const testTimeout = 2 * time.Second

// testHub is a scripted SignalR server: it answers negotiation, accepts the
// handshake and hands every decoded client message to onMessage.
type testHub struct {
	t        *testing.T
	server   *httptest.Server
	protocol protocol.HubProtocol

	mu                sync.Mutex
	negotiateStatus   int
	negotiateBody     string
	handshakeResponse []byte
	onMessage         func(conn *hubConn, m protocol.Message)
	requests          []*http.Request
	sockets           []*websocket.Conn

	conns chan *hubConn
}

// hubConn is the server side of one client connection.
type hubConn struct {
	ws       *websocket.Conn
	protocol protocol.HubProtocol
	writeMu  sync.Mutex
	received chan protocol.Message
}

func newTestHub(t *testing.T) *testHub {
	h := &testHub{
		t:                 t,
		protocol:          protocol.NewMessagePackProtocol(),
		negotiateStatus:   http.StatusOK,
		negotiateBody:     `{"connectionId":"abc","negotiateVersion":0}`,
		handshakeResponse: []byte("{}\x1e"),
		conns:             make(chan *hubConn, 8),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/hub/negotiate", h.negotiate)
	mux.HandleFunc("/hub", h.serveWebSocket)
	h.server = httptest.NewServer(mux)

	t.Cleanup(func() {
		h.mu.Lock()
		for _, ws := range h.sockets {
			ws.Close()
		}
		h.mu.Unlock()
		h.server.Close()
	})

	return h
}

func (h *testHub) url() string {
	return h.server.URL + "/hub"
}

func (h *testHub) setNegotiate(status int, body string) {
	h.mu.Lock()
	h.negotiateStatus, h.negotiateBody = status, body
	h.mu.Unlock()
}

func (h *testHub) setHandshakeResponse(data []byte) {
	h.mu.Lock()
	h.handshakeResponse = data
	h.mu.Unlock()
}

func (h *testHub) handle(f func(conn *hubConn, m protocol.Message)) {
	h.mu.Lock()
	h.onMessage = f
	h.mu.Unlock()
}

func (h *testHub) lastRequest() *http.Request {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.requests) == 0 {
		return nil
	}
	return h.requests[len(h.requests)-1]
}

func (h *testHub) negotiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "negotiate must be a POST", http.StatusMethodNotAllowed)
		return
	}

	h.mu.Lock()
	h.requests = append(h.requests, r)
	status, body := h.negotiateStatus, h.negotiateBody
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func (h *testHub) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	h.requests = append(h.requests, r)
	h.sockets = append(h.sockets, ws)
	handshakeResponse := h.handshakeResponse
	h.mu.Unlock()

	if _, data, err := ws.ReadMessage(); err != nil {
		ws.Close()
		return
	} else if len(data) == 0 || data[len(data)-1] != protocol.RecordSeparator {
		h.t.Errorf("handshake request not terminated by record separator: %q", data)
	}

	if err := ws.WriteMessage(websocket.BinaryMessage, handshakeResponse); err != nil {
		ws.Close()
		return
	}

	conn := &hubConn{ws: ws, protocol: h.protocol, received: make(chan protocol.Message, 64)}
	select {
	case h.conns <- conn:
	default:
	}

	go h.read(conn)
}

func (h *testHub) read(conn *hubConn) {
	defer close(conn.received)

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}

		msgs, err := h.protocol.ParseMessages(data)
		if err != nil {
			h.t.Errorf("hub failed to parse client frame: %v", err)
		}

		h.mu.Lock()
		onMessage := h.onMessage
		h.mu.Unlock()

		for _, m := range msgs {
			if onMessage != nil {
				onMessage(conn, m)
			}
			select {
			case conn.received <- m:
			default:
			}
		}
	}
}

// waitConn returns the next connection accepted by the hub.
func (h *testHub) waitConn(t *testing.T) *hubConn {
	t.Helper()

	select {
	case conn := <-h.conns:
		return conn
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

// send writes every message as one frame batch in a single websocket message.
func (c *hubConn) send(t *testing.T, msgs ...protocol.Message) {
	t.Helper()

	var data []byte
	for _, m := range msgs {
		f, err := c.protocol.WriteMessage(m)
		if err != nil {
			t.Fatalf("hub encode %T: %v", m, err)
		}
		data = append(data, f...)
	}
	c.sendRaw(t, data)
}

func (c *hubConn) sendRaw(t *testing.T, data []byte) {
	t.Helper()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.Errorf("hub write: %v", err)
	}
}

// expect waits for the next client message of type want, skipping pings.
func (c *hubConn) expect(t *testing.T, want protocol.MessageType) protocol.Message {
	t.Helper()

	timeout := time.After(testTimeout)
	for {
		select {
		case m, ok := <-c.received:
			if !ok {
				t.Fatalf("connection closed while waiting for %s", want)
			}
			if m.Type() == want {
				return m
			}
			if m.Type() != protocol.PingType {
				t.Fatalf("got %s, want %s", m.Type(), want)
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func newTestClient(t *testing.T, hub *testHub, configure ...func(*Config)) *client {
	t.Helper()

	cfg := Config{
		URL:               hub.url(),
		KeepAliveInterval: time.Hour,
	}
	for _, f := range configure {
		f(&cfg)
	}

	c := New(cfg).(*client)
	t.Cleanup(c.Stop)
	return c
}

func startTestClient(t *testing.T, hub *testHub, configure ...func(*Config)) (*client, *hubConn) {
	t.Helper()

	c := newTestClient(t, hub, configure...)
	if err := c.Start(contextWithTimeout(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c, hub.waitConn(t)
}

// waitForError returns the first published error matching match.
func waitForError(t *testing.T, c *client, match func(error) bool) error {
	t.Helper()

	timeout := time.After(testTimeout)
	for {
		select {
		case err := <-c.ListenToErrors():
			if match(err) {
				return err
			}
		case <-timeout:
			t.Fatal("timed out waiting for a published error")
			return nil
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func isErr[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

func contextWithTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}
