/*
Package signalr is a client for ASP.NET Core SignalR hubs over websockets,
speaking the MessagePack hub protocol.

A connection goes through the following steps:

  - negotiate: POST to the hub's negotiate endpoint to obtain a connection id,
    or a redirect url and access token
  - connect: open the websocket and exchange the protocol handshake
  - run: a read goroutine dispatches invocations, completions, stream items
    and pings until the connection stops or is lost

The easiest way to start a connection is in the following way:

	conn := signalr.New(signalr.Config{
		URL:             "https://example.com/chathub",
		ReconnectPolicy: signalr.NewExponentialBackoff(5),
		Logger:          slog.Default(),
	})

	conn.On("ReceiveMessage", func(args ...interface{}) {
		log.Println(args...)
	})

	if err := conn.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer conn.Stop()

	result, err := conn.Invoke(ctx, "Add", 1, 2)

Handlers and stream callbacks run on the connection's read goroutine, one at a
time and in arrival order. A handler that calls back into the hub must do so
from its own goroutine, since the completion it waits for is read by the
goroutine it would block:

	conn.On("Ping", func(args ...interface{}) {
		go func() {
			if _, err := conn.Invoke(ctx, "Pong", args...); err != nil {
				log.Println(err)
			}
		}()
	})

Errors that concern no particular caller, such as undecodable frames or
invocations of targets without a handler, are logged and published on
ListenToErrors.
*/
package signalr
