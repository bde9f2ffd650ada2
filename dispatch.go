package signalr

import (
	"fmt"
	"runtime/debug"
	"time"

	"gitlab.com/techviking/signalr/v3/protocol"
)

// dispatch implements sessionHandler. It decodes every record of a frame and
// routes each message; a close message stops the batch and ends the session.
func (c *client) dispatch(s *session, data []byte) error {
	c.heartbeat.received(time.Now())

	messages, err := c.config.Protocol.ParseMessages(data)
	if err != nil {
		c.metrics.decodeErrors.Inc()
		c.logger.Warn("dropping undecodable records", "error", err)
		c.sendErr(err)
	}

	for _, m := range messages {
		c.metrics.received(m.Type())

		switch msg := m.(type) {
		case protocol.InvocationMessage:
			c.handleInvocation(msg)

		case protocol.CompletionMessage:
			c.handleCompletion(s, msg)

		case protocol.StreamItemMessage:
			c.handleStreamItem(msg)

		case protocol.PingMessage:

		case protocol.CloseMessage:
			c.logger.Info("close message received from server", "error", msg.Error, "allowReconnect", msg.AllowReconnect)
			return &ServerCloseError{Message: msg.Error, AllowReconnect: msg.AllowReconnect}

		case protocol.InvocationBindingFailureMessage:
			c.logger.Error("failed to bind invocation", "target", msg.Target, "invocationId", msg.InvocationID, "error", msg.Err)
			c.sendErr(fmt.Errorf("signalr: binding invocation of %s: %w", msg.Target, msg.Err))

		case protocol.StreamInvocationMessage:
			c.unsupported(msg.Type(), msg.InvocationID)
			if msg.InvocationID != "" {
				reply := protocol.CompletionMessage{
					InvocationID: msg.InvocationID,
					Error:        "Client does not support stream invocations.",
				}
				if err := s.send(reply); err != nil {
					c.logger.Debug("failed to reject stream invocation", "error", err)
				}
			}

		case protocol.CancelInvocationMessage:
			c.unsupported(msg.Type(), msg.InvocationID)

		default:
			c.logger.Warn("unexpected message", "type", m.Type())
		}
	}

	return nil
}

func (c *client) handleInvocation(msg protocol.InvocationMessage) {
	c.handlersMu.RLock()
	handlers := append([]Handler(nil), c.handlers[msg.Target]...)
	c.handlersMu.RUnlock()

	if len(handlers) == 0 {
		c.logger.Warn("event hasn't fired any handler", "target", msg.Target)
		c.sendErr(TargetNotFoundError(msg.Target))
		return
	}

	for _, h := range handlers {
		c.runHandler(msg.Target, h, msg.Arguments)
	}
}

// runHandler keeps a panicking handler from taking the read loop down.
func (c *client) runHandler(target string, h Handler, args []interface{}) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic", "target", target, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	h(args...)
}

func (c *client) handleCompletion(s *session, msg protocol.CompletionMessage) {
	if s.resolve(msg) {
		return
	}

	if sub := c.takeStream(msg.InvocationID); sub != nil {
		if msg.Error != "" {
			sub.finish(&InvocationError{Target: sub.Target, InvocationID: msg.InvocationID, Message: msg.Error})
		} else {
			sub.finish(nil)
		}
		return
	}

	c.logger.Warn("completion for unknown invocation", "invocationId", msg.InvocationID)
	c.sendErr(StreamNotFoundError(msg.InvocationID))
}

func (c *client) handleStreamItem(msg protocol.StreamItemMessage) {
	sub := c.lookupStream(msg.InvocationID)
	if sub == nil {
		c.logger.Warn("stream item hasn't fired any stream handler", "invocationId", msg.InvocationID)
		c.sendErr(StreamNotFoundError(msg.InvocationID))
		return
	}

	sub.deliver(msg.Item)
}

func (c *client) unsupported(t protocol.MessageType, id string) {
	err := &UnsupportedMessageError{Type: t, InvocationID: id}
	c.logger.Warn("unsupported inbound message", "type", t, "invocationId", id)
	c.sendErr(err)
}
