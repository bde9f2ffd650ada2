package signalr

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"gitlab.com/techviking/signalr/v3/protocol"
)

const (
	metricsNamespace = "signalr"
	metricsSubsystem = "client"
)

type metrics struct {
	invocations  *prometheus.CounterVec
	messages     *prometheus.CounterVec
	decodeErrors prometheus.Counter
	reconnects   prometheus.Counter
	state        prometheus.Gauge
}

// newMetrics builds the client's collectors. A nil registerer leaves them
// unregistered. Clients sharing a registerer with identical ConstLabels share
// the collectors already registered.
func newMetrics(registry prometheus.Registerer, labels prometheus.Labels) *metrics {
	return &metrics{
		invocations: register(registry, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "invocations_total",
			Help:        "Total number of hub invocations by kind and outcome",
			ConstLabels: labels,
		}, []string{"kind", "outcome"})),

		messages: register(registry, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "messages_received_total",
			Help:        "Total number of hub messages received by type",
			ConstLabels: labels,
		}, []string{"type"})),

		decodeErrors: register(registry, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "decode_errors_total",
			Help:        "Total number of frames holding undecodable records",
			ConstLabels: labels,
		})),

		reconnects: register(registry, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "reconnect_attempts_total",
			Help:        "Total number of reconnect attempts",
			ConstLabels: labels,
		})),

		state: register(registry, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "connection_state",
			Help:        "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting)",
			ConstLabels: labels,
		})),
	}
}

// register adds c to registry, returning the collector already registered
// under the same descriptor when there is one. A collector the registry
// rejects for any other reason is used unregistered.
func register[C prometheus.Collector](registry prometheus.Registerer, c C) C {
	if registry == nil {
		return c
	}

	if err := registry.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) invocation(kind string, err error) {
	m.invocations.WithLabelValues(kind, outcome(err)).Inc()
}

func (m *metrics) received(t protocol.MessageType) {
	m.messages.WithLabelValues(t.String()).Inc()
}

func (m *metrics) setState(s ConnectionState) {
	m.state.Set(float64(s))
}

func outcome(err error) string {
	var invErr *InvocationError

	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &invErr):
		return "error"
	case errors.Is(err, ErrConnectionClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "failed"
	}
}
