package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"evotree/internal/storage"
	"evotree/pkg/evotree"
)

type rootOptions struct {
	storeKind    string
	dbPath       string
	artifactsDir string
	exportsDir   string
	logFormat    string
	logLevel     string
	trace        bool

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}
	cmd := &cobra.Command{
		Use:           "evotreectl",
		Short:         "Evolve expression trees with grammar-constrained genetic programming",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.storeKind, "store", storage.DefaultStoreKind(), "store backend: memory|sqlite|badger")
	flags.StringVar(&opts.dbPath, "db-path", "evotree.db", "sqlite database file or badger directory")
	flags.StringVar(&opts.artifactsDir, "artifacts", "runs", "directory receiving one folder per run")
	flags.StringVar(&opts.exportsDir, "exports", "exports", "default export destination")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format: text|json")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug|info|warn|error")
	flags.BoolVar(&opts.trace, "trace", false, "write run spans to stderr as JSON")

	cmd.AddCommand(
		newRunCmd(opts),
		newRunsCmd(opts),
		newShowCmd(opts),
		newExportCmd(opts),
		newGrammarCmd(opts),
		newOperatorsCmd(opts),
		newConfigCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

func (o *rootOptions) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", o.logLevel)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(o.logFormat) {
	case "text":
		return slog.New(slog.NewTextHandler(o.stderr, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(o.stderr, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", o.logFormat)
	}
}

// client opens a run client; the returned func closes it and flushes any
// spans.
func (o *rootOptions) client(reg prometheus.Registerer, plot bool) (*evotree.Client, func(), error) {
	logger, err := o.logger()
	if err != nil {
		return nil, nil, err
	}
	var provider *sdktrace.TracerProvider
	if o.trace {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(o.stderr))
		if err != nil {
			return nil, nil, fmt.Errorf("trace exporter: %w", err)
		}
		provider = sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	}
	opts := evotree.Options{
		StoreKind:    o.storeKind,
		DBPath:       o.dbPath,
		ArtifactsDir: o.artifactsDir,
		ExportsDir:   o.exportsDir,
		Plot:         plot,
		Logger:       logger,
		Registerer:   reg,
	}
	if provider != nil {
		opts.TracerProvider = provider
	}
	client, err := evotree.New(opts)
	if err != nil {
		return nil, nil, err
	}
	return client, func() {
		_ = client.Close()
		if provider != nil {
			_ = provider.Shutdown(context.Background())
		}
	}, nil
}
