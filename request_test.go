package signalr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gitlab.com/techviking/signalr/v3/protocol"
)

// echo completes every invocation with its first argument.
func echo(t *testing.T) func(conn *hubConn, m protocol.Message) {
	return func(conn *hubConn, m protocol.Message) {
		inv, ok := m.(protocol.InvocationMessage)
		if !ok || inv.InvocationID == "" {
			return
		}
		conn.send(t, protocol.CompletionMessage{InvocationID: inv.InvocationID, Result: inv.Arguments[0], HasResult: true})
	}
}

func TestInvoke(t *testing.T) {
	//Assemble
	hub := newTestHub(t)
	hub.handle(echo(t))
	c, conn := startTestClient(t, hub)

	//Act
	result, err := c.Invoke(contextWithTimeout(t), "Echo", "argle")

	//Assert
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if result != "argle" {
		t.Errorf("result - expected argle, found %v", result)
	}

	inv := conn.expect(t, protocol.InvocationType).(protocol.InvocationMessage)
	if inv.Target != "Echo" || inv.InvocationID == "" {
		t.Errorf("unexpected invocation on the wire: %+v", inv)
	}

	if n := c.currentSession().pendingCount(); n != 0 {
		t.Errorf("pending table expected to be empty, holds %d", n)
	}
}

func TestInvokeVoidCompletion(t *testing.T) {
	//Assemble
	hub := newTestHub(t)
	hub.handle(func(conn *hubConn, m protocol.Message) {
		if inv, ok := m.(protocol.InvocationMessage); ok {
			conn.send(t, protocol.CompletionMessage{InvocationID: inv.InvocationID})
		}
	})
	c, _ := startTestClient(t, hub)

	//Act
	result, err := c.Invoke(contextWithTimeout(t), "Touch")

	//Assert
	if err != nil || result != nil {
		t.Errorf("expected a nil result without error, got %v, %v", result, err)
	}
}

func TestInvokeServerError(t *testing.T) {
	//Assemble
	hub := newTestHub(t)
	hub.handle(func(conn *hubConn, m protocol.Message) {
		if inv, ok := m.(protocol.InvocationMessage); ok {
			conn.send(t, protocol.CompletionMessage{InvocationID: inv.InvocationID, Error: "no such user"})
		}
	})
	c, _ := startTestClient(t, hub)

	//Act
	_, err := c.Invoke(contextWithTimeout(t), "Lookup", 42)

	//Assert
	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected an InvocationError, got %v", err)
	}

	if invErr.Target != "Lookup" || invErr.Message != "no such user" {
		t.Errorf("unexpected invocation error: %+v", invErr)
	}
}

func TestConcurrentInvokesCorrelatedByID(t *testing.T) {
	//Assemble
	hub := newTestHub(t)

	var mu sync.Mutex
	var held []protocol.InvocationMessage
	hub.handle(func(conn *hubConn, m protocol.Message) {
		inv, ok := m.(protocol.InvocationMessage)
		if !ok {
			return
		}

		mu.Lock()
		held = append(held, inv)
		batch := held
		mu.Unlock()

		if len(batch) < 2 {
			return
		}
		// answer in reverse order of arrival
		for i := len(batch) - 1; i >= 0; i-- {
			conn.send(t, protocol.CompletionMessage{InvocationID: batch[i].InvocationID, Result: batch[i].Arguments[0], HasResult: true})
		}
	})
	c, _ := startTestClient(t, hub)
	ctx := contextWithTimeout(t)

	//Act
	var wg sync.WaitGroup
	results := make([]interface{}, 2)
	errs := make([]error, 2)
	for i, arg := range []string{"A", "B"} {
		wg.Add(1)
		go func(i int, arg string) {
			defer wg.Done()
			results[i], errs[i] = c.Invoke(ctx, "Echo", arg)
		}(i, arg)
	}
	wg.Wait()

	//Assert
	for i, want := range []string{"A", "B"} {
		if errs[i] != nil {
			t.Errorf("invocation %s failed: %v", want, errs[i])
		}
		if results[i] != want {
			t.Errorf("invocation %s resolved with %v", want, results[i])
		}
	}
}

func TestStopFailsPendingInvocations(t *testing.T) {
	//Assemble
	const pending = 5
	hub := newTestHub(t)
	c, _ := startTestClient(t, hub)
	s := c.currentSession()
	ctx := contextWithTimeout(t)

	errs := make(chan error, pending)
	for i := 0; i < pending; i++ {
		go func() {
			_, err := c.Invoke(ctx, "Never")
			errs <- err
		}()
	}
	eventually(t, "pending invocations", func() bool { return s.pendingCount() == pending })

	//Act
	c.Stop()

	//Assert
	for i := 0; i < pending; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrConnectionClosed) {
				t.Errorf("expected ErrConnectionClosed, got %v", err)
			}
		case <-time.After(testTimeout):
			t.Fatal("pending invocation never resolved")
		}
	}

	if n := s.pendingCount(); n != 0 {
		t.Errorf("pending table expected to be empty, holds %d", n)
	}
}

func TestInvokeContextCanceled(t *testing.T) {
	//Assemble
	hub := newTestHub(t)
	c, _ := startTestClient(t, hub)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	//Act
	_, err := c.Invoke(ctx, "Never")

	//Assert
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}

	if n := c.currentSession().pendingCount(); n != 0 {
		t.Errorf("abandoned invocation left in the pending table")
	}
}

func TestNotConnected(t *testing.T) {
	//Assemble
	c := New(Config{URL: "http://localhost:1/hub"}).(*client)
	ctx := context.Background()

	//Act
	_, invokeErr := c.Invoke(ctx, "Echo")
	sendErr := c.Send(ctx, "Echo")
	_, streamErr := c.Stream(ctx, "Counter", nil, nil)

	//Assert
	for _, err := range []error{invokeErr, sendErr, streamErr} {
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	}
}

func TestSend(t *testing.T) {
	//Assemble
	hub := newTestHub(t)
	c, conn := startTestClient(t, hub)

	//Act
	err := c.Send(contextWithTimeout(t), "Broadcast", "hello", int64(3))

	//Assert
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	inv := conn.expect(t, protocol.InvocationType).(protocol.InvocationMessage)
	if inv.InvocationID != "" {
		t.Errorf("send expected to carry no invocation id, found %q", inv.InvocationID)
	}

	if inv.Target != "Broadcast" || len(inv.Arguments) != 2 || inv.Arguments[0] != "hello" || inv.Arguments[1] != int64(3) {
		t.Errorf("unexpected invocation on the wire: %+v", inv)
	}
}

func TestStream(t *testing.T) {
	//Assemble
	hub := newTestHub(t)
	hub.handle(func(conn *hubConn, m protocol.Message) {
		si, ok := m.(protocol.StreamInvocationMessage)
		if !ok {
			return
		}
		conn.send(t,
			protocol.StreamItemMessage{InvocationID: si.InvocationID, Item: int64(1)},
			protocol.StreamItemMessage{InvocationID: si.InvocationID, Item: int64(2)},
			protocol.StreamItemMessage{InvocationID: si.InvocationID, Item: int64(3)},
			protocol.CompletionMessage{InvocationID: si.InvocationID},
		)
	})
	c, _ := startTestClient(t, hub)

	var mu sync.Mutex
	var items []interface{}

	//Act
	sub, err := c.Stream(contextWithTimeout(t), "Counter", []interface{}{3}, func(item interface{}) {
		mu.Lock()
		items = append(items, item)
		mu.Unlock()
	})

	//Assert
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	select {
	case <-sub.Done():
	case <-time.After(testTimeout):
		t.Fatal("stream never completed")
	}

	if sub.Err() != nil {
		t.Errorf("stream expected to complete cleanly, got %v", sub.Err())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(items) != 3 || items[0] != int64(1) || items[2] != int64(3) {
		t.Errorf("stream items - expected [1 2 3], found %v", items)
	}

	if c.lookupStream(sub.InvocationID) != nil {
		t.Errorf("completed stream still registered")
	}
}

func TestStreamServerError(t *testing.T) {
	//Assemble
	hub := newTestHub(t)
	hub.handle(func(conn *hubConn, m protocol.Message) {
		if si, ok := m.(protocol.StreamInvocationMessage); ok {
			conn.send(t, protocol.CompletionMessage{InvocationID: si.InvocationID, Error: "stream broke"})
		}
	})
	c, _ := startTestClient(t, hub)

	//Act
	sub, err := c.Stream(contextWithTimeout(t), "Counter", nil, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	<-sub.Done()

	//Assert
	var invErr *InvocationError
	if !errors.As(sub.Err(), &invErr) || invErr.Message != "stream broke" {
		t.Errorf("expected an InvocationError, got %v", sub.Err())
	}
}

func TestStreamCancel(t *testing.T) {
	//Assemble
	hub := newTestHub(t)
	c, conn := startTestClient(t, hub)

	sub, err := c.Stream(contextWithTimeout(t), "Counter", nil, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	conn.expect(t, protocol.StreamInvocationType)

	//Act
	err = sub.Cancel()

	//Assert
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	cancel := conn.expect(t, protocol.CancelInvocationType).(protocol.CancelInvocationMessage)
	if cancel.InvocationID != sub.InvocationID {
		t.Errorf("cancel id - expected %s, found %s", sub.InvocationID, cancel.InvocationID)
	}

	if !errors.Is(sub.Err(), context.Canceled) {
		t.Errorf("cancelled stream expected to end with context.Canceled, got %v", sub.Err())
	}

	if err := sub.Cancel(); err != nil {
		t.Errorf("second Cancel expected to be a no-op, got %v", err)
	}
}

func TestStopFailsStreams(t *testing.T) {
	//Assemble
	hub := newTestHub(t)
	c, _ := startTestClient(t, hub)

	sub, err := c.Stream(contextWithTimeout(t), "Counter", nil, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	//Act
	c.Stop()

	//Assert
	select {
	case <-sub.Done():
	case <-time.After(testTimeout):
		t.Fatal("stream never ended")
	}

	if !errors.Is(sub.Err(), ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", sub.Err())
	}
}

func TestConnectionLossFailsPendingInvocations(t *testing.T) {
	const pending = 3

	tests := []struct {
		name      string
		configure func(*Config)
		lose      func(conn *hubConn)
		cause     error
	}{
		{
			name:      "socket closed",
			configure: func(*Config) {},
			lose:      func(conn *hubConn) { conn.ws.Close() },
		},
		{
			name: "socket closed with reconnect policy",
			configure: func(cfg *Config) {
				cfg.ReconnectPolicy = NewIntervalBackoff(10 * time.Millisecond)
			},
			lose: func(conn *hubConn) { conn.ws.Close() },
		},
		{
			name: "server timeout",
			configure: func(cfg *Config) {
				cfg.KeepAliveInterval = 50 * time.Millisecond
			},
			lose:  func(*hubConn) {},
			cause: ErrServerTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			//Assemble
			hub := newTestHub(t)
			c, conn := startTestClient(t, hub, tt.configure)
			s := c.currentSession()
			ctx := contextWithTimeout(t)

			errs := make(chan error, pending)
			for i := 0; i < pending; i++ {
				go func() {
					_, err := c.Invoke(ctx, "Never")
					errs <- err
				}()
			}
			eventually(t, "pending invocations", func() bool { return s.pendingCount() == pending || s.isClosed() })

			//Act
			tt.lose(conn)

			//Assert
			for i := 0; i < pending; i++ {
				select {
				case err := <-errs:
					if !errors.Is(err, ErrConnectionClosed) {
						t.Errorf("expected ErrConnectionClosed, got %v", err)
					}
					if tt.cause != nil && !errors.Is(err, tt.cause) {
						t.Errorf("expected the error to carry %v, got %v", tt.cause, err)
					}
				case <-time.After(testTimeout):
					t.Fatal("pending invocation never resolved")
				}
			}

			if n := s.pendingCount(); n != 0 {
				t.Errorf("pending table expected to be empty, holds %d", n)
			}
		})
	}
}
