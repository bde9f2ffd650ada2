package signalr

import (
	"errors"
	"fmt"

	"gitlab.com/techviking/signalr/v3/protocol"
)

var (
	// ErrUnauthorized is returned by Start when negotiation is rejected with 401.
	ErrUnauthorized = errors.New("signalr: negotiation unauthorized")

	// ErrConnectionClosed resolves every invocation and subscription still
	// pending when a session closes.
	ErrConnectionClosed = errors.New("signalr: connection closed")

	// ErrNotConnected is returned by Invoke, Send and Stream without a live session.
	ErrNotConnected = errors.New("signalr: not connected")

	// ErrServerTimeout is the reason a session is abandoned when the server
	// stays silent for longer than the server timeout.
	ErrServerTimeout = errors.New("signalr: server timeout elapsed without receiving a message")
)

// NegotiationError error created when negotiation step of connection fails.
type NegotiationError struct {
	// StatusCode of the negotiate response, zero when the request never completed.
	StatusCode int
	Message    string
	Err        error
}

// Error implement Error interface
func (ne *NegotiationError) Error() string {
	switch {
	case ne.Err != nil:
		return fmt.Sprintf("NegotiationError: %s", ne.Err)
	case ne.Message != "":
		return fmt.Sprintf("NegotiationError: status %d: %s", ne.StatusCode, ne.Message)
	default:
		return fmt.Sprintf("NegotiationError: status %d", ne.StatusCode)
	}
}

// Unwrap returns the underlying error.
func (ne *NegotiationError) Unwrap() error {
	return ne.Err
}

// HandshakeError error created when the server rejects the protocol handshake.
type HandshakeError string

// Error implement Error interface
func (he HandshakeError) Error() string {
	return fmt.Sprintf("HandshakeError: %s", string(he))
}

// SocketError wraps a failure reading from or writing to the websocket.
type SocketError struct {
	Err error
}

// Error implement Error interface
func (se *SocketError) Error() string {
	return fmt.Sprintf("SocketError: %s", se.Err)
}

// Unwrap returns the underlying error.
func (se *SocketError) Unwrap() error {
	return se.Err
}

// InvocationError is returned to the caller of Invoke, or recorded on a
// Subscription, when the server completes the invocation with an error.
type InvocationError struct {
	Target       string
	InvocationID string
	Message      string
}

// Error implement Error interface
func (ie *InvocationError) Error() string {
	return fmt.Sprintf("InvocationError: %s: %s", ie.Target, ie.Message)
}

// TargetNotFoundError reports an invocation from the server for which no
// handler is registered. It is published on ListenToErrors and never returned.
type TargetNotFoundError string

// Error implement Error interface
func (te TargetNotFoundError) Error() string {
	return fmt.Sprintf("TargetNotFoundError: no handler registered for %q", string(te))
}

// StreamNotFoundError reports a stream item or completion from the server
// whose invocation id matches nothing pending.
type StreamNotFoundError string

// Error implement Error interface
func (se StreamNotFoundError) Error() string {
	return fmt.Sprintf("StreamNotFoundError: no subscription for invocation %q", string(se))
}

// UnsupportedMessageError reports an inbound message kind this client does not
// serve, such as a stream invocation initiated by the server.
type UnsupportedMessageError struct {
	Type         protocol.MessageType
	InvocationID string
}

// Error implement Error interface
func (ue *UnsupportedMessageError) Error() string {
	return fmt.Sprintf("UnsupportedMessageError: inbound %s (invocation %q) is not supported", ue.Type, ue.InvocationID)
}

// ServerCloseError is the reason a session ends after the server sent a close message.
type ServerCloseError struct {
	Message        string
	AllowReconnect bool
}

// Error implement Error interface
func (se *ServerCloseError) Error() string {
	if se.Message == "" {
		return "ServerCloseError: server closed the connection"
	}
	return fmt.Sprintf("ServerCloseError: server closed the connection: %s", se.Message)
}

// StateTransitionError is returned for a transition the state machine forbids.
type StateTransitionError struct {
	From ConnectionState
	To   ConnectionState
}

// Error implement Error interface
func (se *StateTransitionError) Error() string {
	return fmt.Sprintf("StateTransitionError: %s -> %s", se.From, se.To)
}
