package signalr

import (
	"crypto/tls"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"gitlab.com/techviking/signalr/v3/protocol"
)

// default values for configuration
const (
	defaultNegotiatePath     = "negotiate"
	defaultKeepAliveInterval = 15 * time.Second
	defaultHandshakeTimeout  = 15 * time.Second
	defaultWriteTimeout      = 10 * time.Second
	defaultMaxMessageSize    = 1 << 30
	errorBufferSize          = 32
	tracerName               = "gitlab.com/techviking/signalr"
)

// Config define options required for connecting to a signalr hub.
type Config struct {
	// URL of the hub, e.g. "https://example.com/chathub". http, https, ws and wss schemes are accepted.
	URL string `json:"url"`

	// Client allows the consumer to override the default http client used for negotiation.  Its cookie jar is reused by the websocket dialer.
	Client *http.Client `json:"-"`

	// NegotiatePath is appended to the hub path for the negotiation request.  Defaults to "negotiate"
	NegotiatePath string `json:"negotiate_path,omitempty"`

	// RequestHeaders additional header parameters sent with the negotiation request and the websocket upgrade.
	RequestHeaders http.Header `json:"request_headers,omitempty"`

	// SkipNegotiation connects the websocket directly.  Required by servers that only accept websockets.
	SkipNegotiation bool `json:"skip_negotiation,omitempty"`

	// InsecureSkipVerify disables TLS certificate verification for the default http client and the websocket dialer.
	InsecureSkipVerify bool `json:"insecure_skip_verify,omitempty"`

	// Protocol used on the wire.  Defaults to MessagePack.
	Protocol protocol.HubProtocol `json:"-"`

	// KeepAliveInterval between pings on an idle connection.  Defaults to 15s.
	KeepAliveInterval time.Duration `json:"keep_alive_interval,omitempty"`

	// ServerTimeout after which a silent server is considered gone.  Defaults to, and is never less than, twice KeepAliveInterval.
	ServerTimeout time.Duration `json:"server_timeout,omitempty"`

	// HandshakeTimeout bounds the websocket upgrade and the protocol handshake.  Defaults to 15s.
	HandshakeTimeout time.Duration `json:"handshake_timeout,omitempty"`

	// WriteTimeout bounds every frame written to the websocket.  Defaults to 10s.
	WriteTimeout time.Duration `json:"write_timeout,omitempty"`

	// MaxMessageSize is the largest websocket message accepted.  Defaults to 1GiB.
	MaxMessageSize int64 `json:"max_message_size,omitempty"`

	// ReconnectPolicy enables automatic reconnection when set.
	ReconnectPolicy ReconnectPolicy `json:"-"`

	// Logger receives the client's logs.  nil discards them.
	Logger *slog.Logger `json:"-"`

	// Registerer registers the client's prometheus collectors.  nil leaves them unregistered.  Clients sharing a Registerer share its collectors unless their ConstLabels differ.
	Registerer prometheus.Registerer `json:"-"`

	// ConstLabels are attached to every metric, useful to tell several clients apart.
	ConstLabels prometheus.Labels `json:"-"`

	// TracerProvider creates the spans of invocations.  Defaults to the global provider.
	TracerProvider trace.TracerProvider `json:"-"`
}

// client implementation of Connection interface.
type client struct {
	// persist sanitized config
	config  Config
	logger  *slog.Logger
	metrics *metrics
	tracer  trace.Tracer

	// store current state of connection
	state     stateMachine
	heartbeat *heartbeat
	// channel used to read errors.
	errChan chan error

	// serialises Start, Stop and reconnect attempts
	lifecycleMu  sync.Mutex
	retryTimer   *time.Timer
	reconnecting atomic.Bool

	sessionMu sync.RWMutex
	session   *session

	handlersMu sync.RWMutex
	handlers   map[string][]Handler

	streamsMu sync.RWMutex
	streams   map[string]*Subscription

	callbacksMu  sync.RWMutex
	onConnect    func()
	onDisconnect func(error)
}

// New generates a new client based on user data.  Specifying an invalid url will not fail until the connection steps.
func New(c Config) Connection {
	if c.NegotiatePath == "" {
		c.NegotiatePath = defaultNegotiatePath
	}

	if c.Client == nil {
		c.Client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: c.InsecureSkipVerify},
			},
		}
	}

	if c.Protocol == nil {
		c.Protocol = protocol.NewMessagePackProtocol()
	}

	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = defaultKeepAliveInterval
	}

	if c.ServerTimeout < 2*c.KeepAliveInterval {
		c.ServerTimeout = 2 * c.KeepAliveInterval
	}

	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}

	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}

	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}

	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if c.TracerProvider == nil {
		c.TracerProvider = otel.GetTracerProvider()
	}

	new := &client{
		config:   c,
		logger:   c.Logger.With("component", "signalr"),
		metrics:  newMetrics(c.Registerer, c.ConstLabels),
		tracer:   c.TracerProvider.Tracer(tracerName),
		errChan:  make(chan error, errorBufferSize),
		handlers: make(map[string][]Handler),
		streams:  make(map[string]*Subscription),
	}

	new.state.onChange = new.stateChanged
	new.heartbeat = newHeartbeat(c.KeepAliveInterval, c.ServerTimeout, new.logger.With("component", "heartbeat"), new.ping, new.serverTimedOut)
	new.metrics.setState(Disconnected)

	return new
}

func (c *client) State() ConnectionState {
	return c.state.current()
}

func (c *client) ListenToErrors() <-chan error {
	return c.errChan
}

func (c *client) OnConnect(f func()) {
	c.callbacksMu.Lock()
	c.onConnect = f
	c.callbacksMu.Unlock()
}

func (c *client) OnDisconnect(f func(error)) {
	c.callbacksMu.Lock()
	c.onDisconnect = f
	c.callbacksMu.Unlock()
}

func (c *client) On(target string, handler Handler) {
	c.handlersMu.Lock()
	c.handlers[target] = append(c.handlers[target], handler)
	c.handlersMu.Unlock()

	c.logger.Debug("handler registered", "target", target)
}

func (c *client) stateChanged(from, to ConnectionState) {
	c.metrics.setState(to)
	c.logger.Debug("state changed", "from", from, "to", to)
}

// setState applies a transition, logging the rejected ones.
func (c *client) setState(to ConnectionState) bool {
	if err := c.state.transition(to); err != nil {
		c.logger.Warn("invalid state transition", "error", err)
		return false
	}
	return true
}

// sendErr publishes err without blocking; it is dropped when nobody listens.
func (c *client) sendErr(err error) {
	select {
	case c.errChan <- err:
	default:
	}
}

func (c *client) currentSession() *session {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()

	return c.session
}

func (c *client) fireConnected() {
	c.callbacksMu.RLock()
	f := c.onConnect
	c.callbacksMu.RUnlock()

	if f != nil {
		f()
	}
}

func (c *client) fireDisconnected(err error) {
	c.callbacksMu.RLock()
	f := c.onDisconnect
	c.callbacksMu.RUnlock()

	if f != nil {
		f(err)
	}
}
