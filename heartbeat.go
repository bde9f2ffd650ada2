package signalr

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// heartbeat pings the server when the connection has been idle for a full
// interval and reports the connection stale when nothing was received within
// the server timeout.
type heartbeat struct {
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	ping    func() error
	onStale func()

	// unix nanoseconds
	lastMessage  atomic.Int64
	lastReceived atomic.Int64

	mu    sync.Mutex
	stopC chan struct{}
}

func newHeartbeat(interval, timeout time.Duration, logger *slog.Logger, ping func() error, onStale func()) *heartbeat {
	return &heartbeat{
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		ping:     ping,
		onStale:  onStale,
	}
}

// sent records outbound traffic.
func (h *heartbeat) sent(now time.Time) {
	h.lastMessage.Store(now.UnixNano())
}

// received records inbound traffic.
func (h *heartbeat) received(now time.Time) {
	h.lastMessage.Store(now.UnixNano())
	h.lastReceived.Store(now.UnixNano())
}

func (h *heartbeat) running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.stopC != nil
}

func (h *heartbeat) start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopC != nil {
		return
	}

	h.received(time.Now())
	h.stopC = make(chan struct{})
	go h.run(h.stopC)
}

// stop does not wait for the ticker goroutine, so it may be called from onStale.
func (h *heartbeat) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopC != nil {
		close(h.stopC)
		h.stopC = nil
	}
}

func (h *heartbeat) run(stopC chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopC:
			return
		case now := <-ticker.C:
			if !h.tick(now) {
				return
			}
		}
	}
}

// tick returns false once the connection has been reported stale.
func (h *heartbeat) tick(now time.Time) bool {
	if h.timeout > 0 && now.Sub(time.Unix(0, h.lastReceived.Load())) > h.timeout {
		h.logger.Warn("server timeout elapsed", "timeout", h.timeout)
		h.onStale()
		return false
	}

	if now.Sub(time.Unix(0, h.lastMessage.Load())) < h.interval {
		return true
	}

	if err := h.ping(); err != nil {
		h.logger.Debug("keep-alive ping failed", "error", err)
		return true
	}
	h.sent(now)
	return true
}
