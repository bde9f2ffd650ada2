package signalr

import "context"

// Handler receives the arguments of an invocation sent by the server.
type Handler func(args ...interface{})

// Connection specify interface methods that allow consumer to interact with a connection type.
type Connection interface {
	// Start negotiates, opens the websocket and completes the protocol handshake.
	Start(ctx context.Context) error
	// Stop closes the connection and cancels any scheduled reconnect.
	Stop()
	State() ConnectionState

	// On registers a handler for invocations of target sent by the server.
	// Handlers run on the connection's read goroutine and must not block on
	// the connection, e.g. by calling Invoke.
	On(target string, handler Handler)
	OnConnect(func())
	OnDisconnect(func(error))

	// Invoke calls target on the hub and waits for its result.
	Invoke(ctx context.Context, target string, args ...interface{}) (interface{}, error)
	// Send calls target on the hub without waiting for a result.
	Send(ctx context.Context, target string, args ...interface{}) error
	// Stream calls a streaming hub method; onItem receives every item.
	Stream(ctx context.Context, target string, args []interface{}, onItem func(item interface{})) (*Subscription, error)

	// ListenToErrors publishes non-fatal errors: undecodable frames, unknown
	// targets, unsupported messages and lost connections.
	ListenToErrors() <-chan error
}
