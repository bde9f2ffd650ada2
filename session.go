package signalr

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gitlab.com/techviking/signalr/v3/protocol"
)

const closeGracePeriod = time.Second

// sessionHandler is the owner of a session: it routes inbound frames and is
// told when the session ends.
type sessionHandler interface {
	// dispatch handles one websocket message. A non-nil error ends the session.
	dispatch(s *session, data []byte) error
	// sessionClosed runs once, after close has released every waiter.
	sessionClosed(s *session, err error)
	// sessionLost runs when the read loop, rather than the owner, ended the session.
	sessionLost(s *session, err error)
}

type invocationResult struct {
	value interface{}
	err   error
}

type pendingInvocation struct {
	target string
	result chan invocationResult
}

// session owns one websocket: the handshake, the read goroutine, frame
// writes and the table of invocations waiting for their completion.
type session struct {
	conn         *websocket.Conn
	protocol     protocol.HubProtocol
	messageType  int
	writeTimeout time.Duration
	logger       *slog.Logger
	handler      sessionHandler

	// gorilla/websocket supports one concurrent writer
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]pendingInvocation
	closed    bool

	closeOnce sync.Once
	done      chan struct{}

	// frames that arrived in the same message as the handshake response
	leftover []byte
}

// openSession dials ep and completes the protocol handshake.
func openSession(ctx context.Context, config *Config, logger *slog.Logger, ep *endpoint, handler sessionHandler) (*session, error) {
	socketDialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: config.HandshakeTimeout,
		Jar:              config.Client.Jar,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: config.InsecureSkipVerify},
	}

	conn, resp, err := socketDialer.DialContext(ctx, ep.url, ep.header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("dial %s: status %d: %w", ep.url, resp.StatusCode, err)
		} else {
			err = fmt.Errorf("dial %s: %w", ep.url, err)
		}
		return nil, &SocketError{Err: err}
	}
	conn.SetReadLimit(config.MaxMessageSize)

	s := &session{
		conn:         conn,
		protocol:     config.Protocol,
		messageType:  websocket.TextMessage,
		writeTimeout: config.WriteTimeout,
		logger:       logger.With("component", "session"),
		handler:      handler,
		pending:      make(map[string]pendingInvocation),
		done:         make(chan struct{}),
	}
	if config.Protocol.TransferFormat() == protocol.TransferFormatBinary {
		s.messageType = websocket.BinaryMessage
	}

	s.logger.Debug("web socket open", "url", ep.url)

	if err := s.handshake(ctx, config.HandshakeTimeout); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

func (s *session) handshake(ctx context.Context, timeout time.Duration) error {
	req, err := protocol.EncodeHandshakeRequest(protocol.NewHandshakeRequest(s.protocol))
	if err != nil {
		return err
	}

	if err := s.write(websocket.TextMessage, req); err != nil {
		return fmt.Errorf("failed to send handshake request: %w", err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetReadDeadline(deadline)

	var buf []byte
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return &SocketError{Err: fmt.Errorf("failed to read handshake response: %w", err)}
		}

		buf = append(buf, data...)
		resp, rest, err := protocol.ParseHandshakeResponse(buf)
		if errors.Is(err, protocol.ErrIncompleteHandshake) {
			continue
		}
		if err != nil {
			return err
		}
		if resp.Error != "" {
			s.logger.Error("handshake rejected", "error", resp.Error)
			return HandshakeError(resp.Error)
		}

		s.leftover = rest
		break
	}

	s.conn.SetReadDeadline(time.Time{}) // Clear deadline
	s.logger.Debug("handshake complete", "protocol", s.protocol.Name())
	return nil
}

func (s *session) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		if s.isClosed() {
			return ErrConnectionClosed
		}
		return &SocketError{Err: err}
	}
	return nil
}

// send writes m as one frame without waiting for any reply.
func (s *session) send(m protocol.Message) error {
	if s.isClosed() {
		return ErrConnectionClosed
	}

	data, err := s.protocol.WriteMessage(m)
	if err != nil {
		return err
	}
	return s.write(s.messageType, data)
}

// invoke sends m and waits for the completion carrying id.
func (s *session) invoke(ctx context.Context, id, target string, m protocol.Message) (interface{}, error) {
	data, err := s.protocol.WriteMessage(m)
	if err != nil {
		return nil, err
	}

	result := make(chan invocationResult, 1)

	s.pendingMu.Lock()
	if s.closed {
		s.pendingMu.Unlock()
		return nil, ErrConnectionClosed
	}
	s.pending[id] = pendingInvocation{target: target, result: result}
	s.pendingMu.Unlock()

	if err := s.write(s.messageType, data); err != nil {
		s.forget(id)
		return nil, err
	}

	select {
	case r := <-result:
		return r.value, r.err
	case <-ctx.Done():
		s.forget(id)
		return nil, ctx.Err()
	}
}

func (s *session) forget(id string) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

// resolve hands a completion to the invocation waiting for it. It returns
// false when no invocation with that id is pending.
func (s *session) resolve(m protocol.CompletionMessage) bool {
	s.pendingMu.Lock()
	p, ok := s.pending[m.InvocationID]
	delete(s.pending, m.InvocationID)
	s.pendingMu.Unlock()

	if !ok {
		return false
	}

	if m.Error != "" {
		p.result <- invocationResult{err: &InvocationError{Target: p.target, InvocationID: m.InvocationID, Message: m.Error}}
	} else {
		p.result <- invocationResult{value: m.Result}
	}
	return true
}

func (s *session) pendingCount() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	return len(s.pending)
}

func (s *session) isClosed() bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	return s.closed
}

// close tears the session down and fails every pending invocation. It
// reports whether this call closed the session. The owner is notified after
// the waiters are released, outside closeOnce, so sessionClosed may call back
// into close.
func (s *session) close(reason error) bool {
	first := false

	s.closeOnce.Do(func() {
		first = true

		s.pendingMu.Lock()
		s.closed = true
		pending := s.pending
		s.pending = nil
		s.pendingMu.Unlock()

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("closing web socket", "error", err)
		}

		closedErr := closedError(reason)
		for _, p := range pending {
			p.result <- invocationResult{err: closedErr}
		}

		close(s.done)
		s.logger.Debug("web socket closed", "reason", reason)
	})

	if first {
		s.handler.sessionClosed(s, reason)
	}
	return first
}

// closedError wraps the reason a session closed into ErrConnectionClosed.
func closedError(reason error) error {
	if reason == nil || errors.Is(reason, ErrConnectionClosed) {
		return ErrConnectionClosed
	}
	return fmt.Errorf("%w: %w", ErrConnectionClosed, reason)
}

// readLoop is meant to be run as a goroutine, for the lifetime of the session.
func (s *session) readLoop() {
	err := s.pump()
	if s.close(err) {
		s.handler.sessionLost(s, err)
	}
}

func (s *session) pump() error {
	if len(s.leftover) > 0 {
		data := s.leftover
		s.leftover = nil
		if err := s.handler.dispatch(s, data); err != nil {
			return err
		}
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return &SocketError{Err: err}
		}
		if err := s.handler.dispatch(s, data); err != nil {
			return err
		}
	}
}
