package signalr

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gitlab.com/techviking/signalr/v3/protocol"
)

// Invoke send a message to the signalr hub and wait for its completion.  The invocation id is generated per call.
func (c *client) Invoke(ctx context.Context, target string, args ...interface{}) (interface{}, error) {
	s := c.currentSession()
	if s == nil {
		return nil, ErrNotConnected
	}

	id := uuid.NewString()
	ctx, span := c.startSpan(ctx, "invoke", target, id)
	defer span.End()

	c.logger.Debug("invoking", "target", target, "invocationId", id)

	msg := protocol.InvocationMessage{
		InvocationID: id,
		Target:       target,
		Arguments:    arguments(args),
	}

	result, err := s.invoke(ctx, id, target, msg)

	var invErr *InvocationError
	if err == nil || errors.As(err, &invErr) {
		c.trafficSent()
	}

	c.metrics.invocation("invoke", err)
	endSpan(span, err)

	return result, err
}

// Send a message to the signalr hub without waiting for any result.
func (c *client) Send(ctx context.Context, target string, args ...interface{}) error {
	s := c.currentSession()
	if s == nil {
		return ErrNotConnected
	}

	c.logger.Debug("sending", "target", target)

	err := s.send(protocol.InvocationMessage{
		Target:    target,
		Arguments: arguments(args),
	})
	if err == nil {
		c.trafficSent()
	}

	c.metrics.invocation("send", err)
	return err
}

// Stream starts a streaming hub method.  Items are handed to onItem on the read goroutine, in order.
func (c *client) Stream(ctx context.Context, target string, args []interface{}, onItem func(item interface{})) (*Subscription, error) {
	s := c.currentSession()
	if s == nil {
		return nil, ErrNotConnected
	}

	id := uuid.NewString()
	_, span := c.startSpan(ctx, "stream", target, id)
	defer span.End()

	sub := &Subscription{
		InvocationID: id,
		Target:       target,
		onItem:       onItem,
		client:       c,
		session:      s,
		done:         make(chan struct{}),
	}

	c.streamsMu.Lock()
	c.streams[id] = sub
	c.streamsMu.Unlock()

	err := s.send(protocol.StreamInvocationMessage{
		InvocationID: id,
		Target:       target,
		Arguments:    arguments(args),
	})

	c.metrics.invocation("stream", err)
	endSpan(span, err)

	if err != nil {
		c.takeStream(id)
		sub.finish(err)
		return nil, err
	}

	c.trafficSent()
	return sub, nil
}

// trafficSent refreshes the keep-alive clock and clears the reconnect backoff.
func (c *client) trafficSent() {
	c.heartbeat.sent(time.Now())
	if c.config.ReconnectPolicy != nil {
		c.config.ReconnectPolicy.Reset()
	}
}

func (c *client) ping() error {
	s := c.currentSession()
	if s == nil {
		return ErrNotConnected
	}
	return s.send(protocol.PingMessage{})
}

func (c *client) startSpan(ctx context.Context, op, target, id string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "signalr."+op+" "+target,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("signalr.target", target),
			attribute.String("signalr.invocation_id", id),
			attribute.String("signalr.protocol", c.config.Protocol.Name()),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func arguments(args []interface{}) []interface{} {
	if args == nil {
		return []interface{}{}
	}
	return args
}

// takeStream removes and returns the subscription for id, nil if there is none.
func (c *client) takeStream(id string) *Subscription {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()

	sub := c.streams[id]
	delete(c.streams, id)
	return sub
}

func (c *client) lookupStream(id string) *Subscription {
	c.streamsMu.RLock()
	defer c.streamsMu.RUnlock()

	return c.streams[id]
}

// failStreams ends every subscription opened on s.
func (c *client) failStreams(s *session, err error) {
	var failed []*Subscription

	c.streamsMu.Lock()
	for id, sub := range c.streams {
		if sub.session == s {
			failed = append(failed, sub)
			delete(c.streams, id)
		}
	}
	c.streamsMu.Unlock()

	for _, sub := range failed {
		sub.finish(err)
	}
}

// Subscription is a running stream started by Stream.
type Subscription struct {
	InvocationID string
	Target       string

	onItem  func(item interface{})
	client  *client
	session *session

	once sync.Once
	done chan struct{}
	err  error
}

// Done is closed once the stream completes, fails or is cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns why the stream ended: nil when the server completed it, an
// *InvocationError when the server failed it, or the connection error.
// It returns nil until Done is closed.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Cancel asks the server to stop the stream and ends the subscription with
// context.Canceled.
func (s *Subscription) Cancel() error {
	if s.client.takeStream(s.InvocationID) == nil {
		return nil
	}
	s.finish(context.Canceled)

	return s.session.send(protocol.CancelInvocationMessage{InvocationID: s.InvocationID})
}

func (s *Subscription) deliver(item interface{}) {
	if s.onItem != nil {
		s.onItem(item)
	}
}

func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}
