package signalr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

func (c *client) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()

	switch state := c.State(); state {
	case Connected, Reconnecting:
		c.lifecycleMu.Unlock()
		c.logger.Warn("already started, ignoring start", "state", state)
		return nil
	}

	if err := c.state.transition(Connecting); err != nil {
		c.lifecycleMu.Unlock()
		return err
	}

	c.logger.Debug("connection started", "url", c.config.URL)

	err := c.connect(ctx)
	if err != nil {
		c.setState(Disconnected)
	}
	c.lifecycleMu.Unlock()

	if err != nil {
		c.logger.Error("start failed", "error", err)
		return err
	}

	c.fireConnected()
	return nil
}

// connect opens a session and moves to Connected. Must be called with
// lifecycleMu held.
func (c *client) connect(ctx context.Context) error {
	ep, err := c.resolveEndpoint(ctx)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, &c.config, c.logger, ep, c)
	if err != nil {
		return err
	}

	c.sessionMu.Lock()
	c.session = s
	c.sessionMu.Unlock()

	if err := c.state.transition(Connected); err != nil {
		c.detachSession()
		// no read loop or waiters yet
		s.conn.Close()
		return err
	}

	c.heartbeat.start()
	go s.readLoop()

	return nil
}

func (c *client) Stop() {
	c.lifecycleMu.Lock()

	c.cancelReconnect()
	c.heartbeat.stop()
	s := c.detachSession()
	if c.State() != Disconnected {
		c.setState(Disconnected)
	}

	c.lifecycleMu.Unlock()

	c.logger.Debug("connection stop")

	if s != nil {
		s.close(ErrConnectionClosed)
	}
}

func (c *client) detachSession() *session {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	s := c.session
	c.session = nil
	return s
}

// sessionClosed implements sessionHandler.
func (c *client) sessionClosed(s *session, err error) {
	c.failStreams(s, closedError(err))
	c.fireDisconnected(err)
}

// sessionLost implements sessionHandler.
func (c *client) sessionLost(s *session, err error) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.sessionMu.Lock()
	current := c.session == s
	if current {
		c.session = nil
	}
	c.sessionMu.Unlock()

	if !current {
		return
	}

	c.heartbeat.stop()
	c.logger.Warn("connection lost", "error", err)
	c.sendErr(err)

	var closeErr *ServerCloseError
	if c.config.ReconnectPolicy == nil || (errors.As(err, &closeErr) && !closeErr.AllowReconnect) {
		c.setState(Disconnected)
		return
	}

	c.beginReconnect()
}

// serverTimedOut abandons the current session when the server went silent.
func (c *client) serverTimedOut() {
	if s := c.currentSession(); s != nil && s.close(ErrServerTimeout) {
		c.sessionLost(s, ErrServerTimeout)
	}
}

// beginReconnect must be called with lifecycleMu held.
func (c *client) beginReconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}

	if !c.setState(Reconnecting) {
		c.reconnecting.Store(false)
		return
	}

	c.scheduleReconnect(0)
}

func (c *client) scheduleReconnect(delay time.Duration) {
	c.logger.Info("reconnect scheduled", "delay", delay)
	c.retryTimer = time.AfterFunc(delay, c.attemptReconnect)
}

// cancelReconnect must be called with lifecycleMu held.
func (c *client) cancelReconnect() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.reconnecting.Store(false)
}

func (c *client) attemptReconnect() {
	c.lifecycleMu.Lock()

	c.retryTimer = nil
	if c.State() != Reconnecting {
		c.lifecycleMu.Unlock()
		return
	}

	c.metrics.reconnects.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 2*c.config.HandshakeTimeout)
	err := c.connect(ctx)
	cancel()

	if err == nil {
		c.reconnecting.Store(false)
		c.config.ReconnectPolicy.Reset()
		c.lifecycleMu.Unlock()

		c.logger.Info("reconnected")
		c.fireConnected()
		return
	}

	defer c.lifecycleMu.Unlock()

	c.logger.Warn("reconnect attempt failed", "error", err)

	delay, ok := c.config.ReconnectPolicy.Next()
	if !ok {
		c.reconnecting.Store(false)
		c.setState(Disconnected)
		c.sendErr(fmt.Errorf("signalr: reconnect attempts exhausted: %w", err))
		return
	}

	c.scheduleReconnect(delay)
}
