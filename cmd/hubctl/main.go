// Command hubctl drives a SignalR hub from the command line.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"gitlab.com/techviking/signalr/v3"
)

// Version information set at build time.
var version = "dev"

// options shared by every subcommand.
type options struct {
	url             string
	headers         []string
	skipNegotiation bool
	insecure        bool
	verbose         bool
	timeout         time.Duration
	reconnect       int
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "hubctl",
		Short: "Talk to a SignalR hub",
		Long: `hubctl connects to a SignalR hub over WebSocket using the MessagePack
hub protocol, then invokes hub methods, reads streams or prints the
invocations the server pushes.

Arguments are parsed as JSON when possible and sent as strings otherwise.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.url, "url", "u", "", "hub url, e.g. https://example.com/chathub")
	flags.StringArrayVarP(&opts.headers, "header", "H", nil, "request header as key=value, repeatable")
	flags.BoolVar(&opts.skipNegotiation, "skip-negotiation", false, "connect the websocket without negotiating")
	flags.BoolVarP(&opts.insecure, "insecure", "k", false, "skip TLS certificate verification")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log connection details to stderr")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "time allowed to connect and for each invocation")
	flags.IntVar(&opts.reconnect, "reconnect", 0, "reconnect attempts after the connection drops, 0 disables reconnection")
	_ = rootCmd.MarkPersistentFlagRequired("url")

	rootCmd.AddCommand(
		invokeCmd(opts),
		sendCmd(opts),
		streamCmd(opts),
		listenCmd(opts),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// config turns the command line options into a client configuration.
func (o *options) config(registerer prometheus.Registerer) (signalr.Config, error) {
	header := make(http.Header)
	for _, h := range o.headers {
		key, value, ok := strings.Cut(h, "=")
		if !ok || key == "" {
			return signalr.Config{}, fmt.Errorf("invalid header %q, expected key=value", h)
		}
		header.Add(key, value)
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}

	cfg := signalr.Config{
		URL:                o.url,
		RequestHeaders:     header,
		SkipNegotiation:    o.skipNegotiation,
		InsecureSkipVerify: o.insecure,
		HandshakeTimeout:   o.timeout,
		Logger:             slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
		Registerer:         registerer,
	}
	if o.reconnect > 0 {
		cfg.ReconnectPolicy = signalr.NewExponentialBackoff(o.reconnect)
	}

	return cfg, nil
}

// connect starts a connection, registering handlers first so that nothing
// the server sends right after the handshake is missed.
func (o *options) connect(ctx context.Context, registerer prometheus.Registerer, register func(signalr.Connection)) (signalr.Connection, error) {
	cfg, err := o.config(registerer)
	if err != nil {
		return nil, err
	}

	conn := signalr.New(cfg)
	if register != nil {
		register(conn)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if err := conn.Start(ctx); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", o.url, err)
	}
	return conn, nil
}

// signalContext is cancelled on interrupt or termination.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
