package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"evotree/internal/httpapi"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	var plot bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API and Prometheus metrics over HTTP",
		Long: `Serves the run API: POST /runs starts a run from a JSON config, GET /runs
lists stored runs and /runs/{id}/... reads their history, generations and
top individuals. The id "latest" names the most recent run. Metrics are on
/metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, root, addr, plot)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().BoolVar(&plot, "plot", false, "render fitness.png for every run")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, addr string, plot bool) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	client, closeClient, err := root.client(reg, plot)
	if err != nil {
		return err
	}
	defer closeClient()
	logger, err := root.logger()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api listener: %w", err)
	}
	srv := &http.Server{
		Handler:           httpapi.NewHandler(client, httpapi.Options{Gatherer: reg, Logger: logger}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		errs <- srv.Serve(listener)
	}()
	fmt.Fprintf(root.stdout, "serving on http://%s\n", listener.Addr())

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	// Stopped runs still finish their generation and persist before
	// Shutdown returns.
	client.StopAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
