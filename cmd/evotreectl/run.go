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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"evotree/internal/config"
	"evotree/internal/evo"
	"evotree/internal/stats"
	"evotree/pkg/evotree"
)

type runOptions struct {
	configPath  string
	seed        int64
	population  int
	generations int
	target      string
	csv         string
	top         int
	tune        int
	workers     int
	plot        bool
	quiet       bool
	metricsAddr string
	replay      string
	set         []string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evolve a population and store the result",
		Long: `Runs one evolutionary experiment. Settings come from --config (YAML or JSON)
layered over the defaults; the remaining flags override individual fields.
An interrupt stops the run after the current generation and still stores it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, root, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "run config file (.yaml, .yml or .json)")
	flags.Int64Var(&opts.seed, "seed", 0, "override the random seed")
	flags.IntVar(&opts.population, "pop", 0, "override the population size")
	flags.IntVar(&opts.generations, "gens", 0, "override the generation count")
	flags.StringVar(&opts.target, "target", "", "override the built-in target function")
	flags.StringVar(&opts.csv, "csv", "", "fit a csv table instead of a built-in target")
	flags.IntVar(&opts.top, "top", 10, "number of final individuals to keep")
	flags.IntVar(&opts.tune, "tune", 0, "hill-climb the best tree's constants for this many attempts")
	flags.IntVar(&opts.workers, "workers", 0, "evaluate up to this many individuals concurrently")
	flags.BoolVar(&opts.plot, "plot", false, "render fitness.png into the run directory")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print per-generation progress")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	flags.StringVar(&opts.replay, "replay", "", "start from the config stored with this run id")
	flags.StringArrayVar(&opts.set, "set", nil, "override a config field, e.g. --set problem.target=sine (repeatable)")
	return cmd
}

func (o *runOptions) load(cmd *cobra.Command, root *rootOptions) (config.RunConfig, error) {
	if o.configPath != "" && o.replay != "" {
		return config.RunConfig{}, errors.New("use either --config or --replay")
	}
	cfg := config.Default()
	if o.replay != "" {
		run, ok, err := stats.ReadRunRecord(root.artifactsDir, o.replay)
		if err != nil {
			return config.RunConfig{}, err
		}
		if !ok {
			return config.RunConfig{}, fmt.Errorf("%w: %s", evotree.ErrRunNotFound, o.replay)
		}
		if cfg, err = evotree.ReplayConfig(run, nil); err != nil {
			return config.RunConfig{}, err
		}
	}
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return config.RunConfig{}, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = o.seed
	}
	if o.population > 0 {
		cfg.PopulationSize = o.population
		if cfg.Elites >= cfg.PopulationSize {
			cfg.Elites = cfg.PopulationSize - 1
		}
	}
	if o.generations > 0 {
		cfg.Generations = o.generations
	}
	if o.target != "" {
		cfg.Problem.Target = o.target
		cfg.Problem.CSV = ""
	}
	if o.csv != "" {
		cfg.Problem.CSV = o.csv
	}
	if o.tune > 0 {
		cfg.Tuning.Attempts = o.tune
	}
	if o.workers > 0 {
		cfg.Workers = o.workers
	}
	cfg, err := cfg.Apply(o.set)
	if err != nil {
		return config.RunConfig{}, err
	}
	return cfg, cfg.Validate()
}

func runRun(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	cfg, err := opts.load(cmd, root)
	if err != nil {
		return err
	}

	var reg *prometheus.Registry
	if opts.metricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	var registerer prometheus.Registerer
	if reg != nil {
		registerer = reg
	}
	client, closeClient, err := root.client(registerer, opts.plot)
	if err != nil {
		return err
	}
	defer closeClient()

	if reg != nil {
		shutdown, err := serveMetrics(opts.metricsAddr, reg, root)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-signals:
			fmt.Fprintln(root.stderr, "stopping after the current generation")
			client.StopAll()
		case <-done:
		}
	}()

	var listeners []evo.Listener
	if !opts.quiet {
		listeners = append(listeners, evo.ListenerFunc(func(event evo.GenerationEvent) {
			fmt.Fprintf(root.stdout, "generation=%d best=%.6g average=%.6g failures=%d distinct=%d\n",
				event.Generation, event.BestFitness, event.AverageFitness, event.Failures, event.Diagnostics.Diversity)
		}))
	}

	summary, err := client.Run(ctx, evotree.RunRequest{Config: cfg, TopN: opts.top, Listeners: listeners})
	if err != nil {
		return err
	}

	out := root.stdout
	fmt.Fprintf(out, "run_id=%s generations=%d stopped=%t\n", summary.RunID, summary.Generations, summary.Stopped)
	fmt.Fprintf(out, "best_fitness=%.6g\n", summary.FinalBestFitness)
	if summary.TestFitness != nil {
		fmt.Fprintf(out, "test_fitness=%.6g\n", *summary.TestFitness)
	}
	fmt.Fprintf(out, "best=%s\n", summary.BestExpression)
	fmt.Fprintf(out, "infix=%s\n", summary.BestInfix)
	if summary.TunedFitness != nil {
		fmt.Fprintf(out, "tuned_fitness=%.6g\n", *summary.TunedFitness)
		fmt.Fprintf(out, "tuned=%s\n", summary.TunedExpression)
	}
	if summary.ArtifactsDir != "" {
		fmt.Fprintf(out, "artifacts=%s\n", summary.ArtifactsDir)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, root *rootOptions) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(root.stderr, "metrics server: %v\n", err)
		}
	}()
	fmt.Fprintf(root.stderr, "serving metrics on http://%s/metrics\n", listener.Addr())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
