package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"gitlab.com/techviking/signalr/v3"
)

func invokeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "invoke <target> [args...]",
		Short: "Invoke a hub method and print its result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := opts.connect(ctx, nil, nil)
			if err != nil {
				return err
			}
			defer conn.Stop()

			ctx, cancelCall := context.WithTimeout(ctx, opts.timeout)
			defer cancelCall()

			result, err := conn.Invoke(ctx, args[0], parseArgs(args[1:])...)
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), result)
		},
	}
}

func sendCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "send <target> [args...]",
		Short: "Send a hub method without waiting for a result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := opts.connect(ctx, nil, nil)
			if err != nil {
				return err
			}
			defer conn.Stop()

			return conn.Send(ctx, args[0], parseArgs(args[1:])...)
		},
	}
}

func streamCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stream <target> [args...]",
		Short: "Start a hub stream and print every item until it completes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			conn, err := opts.connect(ctx, nil, nil)
			if err != nil {
				return err
			}
			defer conn.Stop()

			out := cmd.OutOrStdout()
			sub, err := conn.Stream(ctx, args[0], parseArgs(args[1:]), func(item interface{}) {
				if err := printValue(out, item); err != nil {
					fmt.Fprintf(os.Stderr, "printing item: %s\n", err)
				}
			})
			if err != nil {
				return err
			}

			select {
			case <-sub.Done():
				return sub.Err()
			case <-ctx.Done():
				return sub.Cancel()
			}
		},
	}
}

func listenCmd(opts *options) *cobra.Command {
	var (
		targets     []string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print the invocations the server sends until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			var registerer prometheus.Registerer
			if metricsAddr != "" {
				registry := prometheus.NewRegistry()
				registerer = registry
				go serveMetrics(ctx, metricsAddr, registry)
			}

			out := cmd.OutOrStdout()
			conn, err := opts.connect(ctx, registerer, func(conn signalr.Connection) {
				for _, target := range targets {
					target := target
					conn.On(target, func(args ...interface{}) {
						if err := printInvocation(out, target, args); err != nil {
							fmt.Fprintf(os.Stderr, "printing invocation: %s\n", err)
						}
					})
				}
				conn.OnDisconnect(func(err error) {
					fmt.Fprintf(os.Stderr, "disconnected: %v\n", err)
				})
			})
			if err != nil {
				return err
			}
			defer conn.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case err := <-conn.ListenToErrors():
					var notFound signalr.TargetNotFoundError
					if errors.As(err, &notFound) && len(targets) == 0 {
						continue
					}
					fmt.Fprintf(os.Stderr, "hub error: %s\n", err)
					if conn.State() == signalr.Disconnected {
						return err
					}
				}
			}
		},
	}

	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "client methods to print, repeatable")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")

	return cmd
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "metrics server: %s\n", err)
	}
}

func printInvocation(w io.Writer, target string, args []interface{}) error {
	data, err := json.Marshal(map[string]interface{}{"target": target, "arguments": jsonSafe(args)})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printValue(w io.Writer, v interface{}) error {
	data, err := json.Marshal(jsonSafe(v))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
