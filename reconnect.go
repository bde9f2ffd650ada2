package signalr

import (
	"math"
	"sync"
	"time"
)

// ReconnectPolicy produces the delays between reconnect attempts.
//
// Next returns the delay before the next attempt, or false once the policy
// gives up. Reset is called whenever traffic confirms the connection is live.
// Implementations must be safe for concurrent use.
type ReconnectPolicy interface {
	Next() (time.Duration, bool)
	Reset()
}

// ExponentialBackoff doubles the delay after every attempt: Base, 2*Base,
// 4*Base... capped at Max. MaxAttempts of zero retries forever.
type ExponentialBackoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int

	mu      sync.Mutex
	attempt int
}

// NewExponentialBackoff returns a policy starting at one second, capped at
// one minute, giving up after maxAttempts.
func NewExponentialBackoff(maxAttempts int) *ExponentialBackoff {
	return &ExponentialBackoff{Base: time.Second, Max: time.Minute, MaxAttempts: maxAttempts}
}

// Next implements ReconnectPolicy.
func (b *ExponentialBackoff) Next() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.MaxAttempts > 0 && b.attempt >= b.MaxAttempts {
		return 0, false
	}

	backoff := math.Pow(2.0, float64(b.attempt))
	b.attempt++

	delay := time.Duration(float64(b.Base) * backoff)
	if b.Max > 0 && (delay > b.Max || delay <= 0) {
		delay = b.Max
	}
	return delay, true
}

// Reset implements ReconnectPolicy.
func (b *ExponentialBackoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}

// IntervalBackoff waits Intervals[i] before attempt i and gives up once the
// list is exhausted.
type IntervalBackoff struct {
	Intervals []time.Duration

	mu      sync.Mutex
	attempt int
}

// NewIntervalBackoff returns a policy using the given delays in order.
func NewIntervalBackoff(intervals ...time.Duration) *IntervalBackoff {
	return &IntervalBackoff{Intervals: intervals}
}

// Next implements ReconnectPolicy.
func (b *IntervalBackoff) Next() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attempt >= len(b.Intervals) {
		return 0, false
	}
	d := b.Intervals[b.attempt]
	b.attempt++
	return d, true
}

// Reset implements ReconnectPolicy.
func (b *IntervalBackoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}

// ConstantBackoff waits Delay between attempts. MaxAttempts of zero retries forever.
type ConstantBackoff struct {
	Delay       time.Duration
	MaxAttempts int

	mu      sync.Mutex
	attempt int
}

// Next implements ReconnectPolicy.
func (b *ConstantBackoff) Next() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.MaxAttempts > 0 && b.attempt >= b.MaxAttempts {
		return 0, false
	}
	b.attempt++
	return b.Delay, true
}

// Reset implements ReconnectPolicy.
func (b *ConstantBackoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}
