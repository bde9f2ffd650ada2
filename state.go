package signalr

import "sync"

// ConnectionState int representing current state of the SignalR Client
type ConnectionState int

// SignalR Client State Values
const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

// String implement Stringer interface
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

var allowedTransitions = map[ConnectionState][]ConnectionState{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected, Reconnecting},
	Reconnecting: {Connected, Disconnected},
}

func canTransition(from, to ConnectionState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// stateMachine guards the connection state. onChange runs with the lock held.
type stateMachine struct {
	mu       sync.RWMutex
	state    ConnectionState
	onChange func(from, to ConnectionState)
}

func (m *stateMachine) current() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state
}

func (m *stateMachine) transition(to ConnectionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if !canTransition(from, to) {
		return &StateTransitionError{From: from, To: to}
	}

	m.state = to
	if m.onChange != nil {
		m.onChange(from, to)
	}
	return nil
}
