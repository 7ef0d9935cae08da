// Package evotree runs grammar-constrained genetic programming experiments
// and keeps their results in a run store and an artifacts directory.
package evotree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"evotree/internal/config"
	"evotree/internal/evo"
	"evotree/internal/metrics"
	"evotree/internal/model"
	"evotree/internal/stats"
	"evotree/internal/storage"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "evotree.db"
	defaultTopN         = 10
	defaultRunsLimit    = 20

	tracerName = "evotree"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrNoRuns      = errors.New("no runs available")
)

type Options struct {
	StoreKind string
	DBPath    string
	// ArtifactsDir receives one directory per run. Set NoArtifacts to skip
	// writing them.
	ArtifactsDir string
	NoArtifacts  bool
	ExportsDir   string
	Plot         bool
	Logger       *slog.Logger
	// Registerer receives the run metrics; nil keeps them private.
	Registerer prometheus.Registerer
	// TracerProvider receives run spans; nil uses the global provider.
	TracerProvider trace.TracerProvider
}

type Client struct {
	store     storage.Store
	logger    *slog.Logger
	collector *metrics.Collector
	tracer    trace.Tracer

	artifactsDir string
	exportsDir   string
	plot         bool

	initOnce sync.Once
	initErr  error

	mu      sync.Mutex
	running map[string]*evo.Algorithm
}

type RunRequest struct {
	Config config.RunConfig
	// TopN bounds the stored final-population ranking.
	TopN      int
	Listeners []evo.Listener
}

// ReplayRequest reruns a stored run's configuration. Overrides are key=value
// pairs applied on top of it.
type ReplayRequest struct {
	Query     RunQuery
	Overrides []string
	TopN      int
	Listeners []evo.Listener
}

type RunSummary struct {
	RunID            string
	ArtifactsDir     string
	Generations      int
	Stopped          bool
	BestByGeneration []float64
	FinalBestFitness float64
	BestExpression   string
	BestInfix        string
	TestFitness      *float64
	// TunedFitness and TunedExpression are set when constant tuning ran.
	TunedFitness    *float64
	TunedExpression string
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID          string
	StartedAt      time.Time
	Problem        string
	Seed           int64
	Population     int
	Generations    int
	Stopped        bool
	BestFitness    float64
	BestExpression string
}

// RunQuery names a run directly or asks for the most recent one.
type RunQuery struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" && !opts.NoArtifacts {
		artifactsDir = defaultArtifactsDir
	}
	if opts.NoArtifacts {
		artifactsDir = ""
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	provider := opts.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}

	return &Client{
		store:        store,
		logger:       logger,
		collector:    metrics.NewCollector(opts.Registerer),
		tracer:       provider.Tracer(tracerName),
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
		plot:         opts.Plot,
		running:      make(map[string]*evo.Algorithm),
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Init prepares the run store. Other methods call it on first use.
func (c *Client) Init(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

// Run evolves one population to completion, persists the outcome and returns
// a summary. Cancelling ctx aborts the run without persisting it.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	ctx, span := c.tracer.Start(ctx, "evotree.Run", trace.WithAttributes(
		attribute.String("run.problem", problemName(req.Config)),
		attribute.Int("run.population", req.Config.PopulationSize),
		attribute.Int("run.max_generations", req.Config.Generations),
		attribute.Int64("run.seed", req.Config.Seed),
	))
	defer span.End()

	summary, err := c.run(ctx, req, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RunSummary{}, err
	}
	span.SetAttributes(
		attribute.Int("run.generations", summary.Generations),
		attribute.Bool("run.stopped", summary.Stopped),
	)
	span.SetStatus(codes.Ok, "")
	return summary, nil
}

func (c *Client) run(ctx context.Context, req RunRequest, span trace.Span) (RunSummary, error) {
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	if req.TopN <= 0 {
		req.TopN = defaultTopN
	}

	asm, err := req.Config.Assemble()
	if err != nil {
		return RunSummary{}, err
	}
	runID := uuid.NewString()
	logger := c.logger.With("run_id", runID)
	span.SetAttributes(attribute.String("run.id", runID))

	recorder := &generationRecorder{}
	cfg := asm.Algorithm
	cfg.Logger = logger
	cfg.Listeners = append([]evo.Listener{recorder, c.collector.Listener(runID), spanEvents(span)}, req.Listeners...)

	alg, err := evo.NewAlgorithm(cfg)
	if err != nil {
		return RunSummary{}, err
	}
	c.track(runID, alg)
	defer c.untrack(runID)

	startedAt := time.Now().UTC()
	logger.Info("run started", "problem", problemName(req.Config), "population", cfg.PopulationSize, "generations", cfg.MaxGenerations)
	result, err := alg.Run(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	finishedAt := time.Now().UTC()

	summary := RunSummary{
		RunID:            runID,
		Generations:      result.Generations,
		Stopped:          result.Stopped,
		BestByGeneration: append([]float64(nil), result.BestByGeneration...),
		FinalBestFitness: result.Best.Fitness,
	}
	if result.Best.Tree != nil {
		summary.BestExpression = result.Best.Tree.SExpr()
		summary.BestInfix = result.Best.Tree.MathString()
	}

	configMap, err := req.Config.Map()
	if err != nil {
		return RunSummary{}, err
	}
	run := model.RunRecord{
		VersionedRecord: storage.Versioned(),
		ID:              runID,
		Problem:         problemName(req.Config),
		Seed:            req.Config.Seed,
		PopulationSize:  req.Config.PopulationSize,
		MaxGenerations:  req.Config.Generations,
		Generations:     result.Generations,
		Stopped:         result.Stopped,
		BestFitness:     model.Score(result.Best.Fitness),
		BestExpression:  summary.BestExpression,
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
		Config:          configMap,
	}

	if asm.TestEvaluator != nil && result.Best.Tree != nil {
		testFitness, err := asm.TestEvaluator.Evaluate(ctx, result.Best.Tree)
		if err != nil {
			logger.Warn("holdout evaluation failed", "error", err)
			testFitness = evo.WorstFitness
		}
		summary.TestFitness = &testFitness
		score := model.Score(testFitness)
		run.TestFitness = &score
	}

	if asm.Tuner != nil && result.Best.Tree != nil {
		attempts := asm.TunePolicy.Attempts(asm.TuneAttempts, result.Best.Tree)
		tuneCtx, tuneSpan := c.tracer.Start(ctx, "evotree.Tune", trace.WithAttributes(attribute.Int("tune.attempts", attempts)))
		tuned, report, err := asm.Tuner.Tune(tuneCtx, result.Best.Tree, attempts, asm.Evaluator.Evaluate)
		if err != nil {
			tuneSpan.RecordError(err)
			tuneSpan.SetStatus(codes.Error, err.Error())
		} else {
			tuneSpan.SetAttributes(attribute.Int("tune.accepted", report.AcceptedCandidates))
		}
		tuneSpan.End()
		if err != nil {
			if ctx.Err() != nil {
				return RunSummary{}, err
			}
			logger.Warn("constant tuning failed", "error", err)
		} else {
			logger.Info("constant tuning finished",
				"attempts", report.AttemptsExecuted,
				"accepted", report.AcceptedCandidates,
				"initial_fitness", report.InitialFitness,
				"final_fitness", report.FinalFitness,
			)
			tunedFitness := report.FinalFitness
			summary.TunedFitness = &tunedFitness
			summary.TunedExpression = tuned.SExpr()
			score := model.Score(tunedFitness)
			run.TunedFitness = &score
			run.TunedExpression = summary.TunedExpression
		}
	}

	top := rankPopulation(result.FinalPopulation, req.TopN)
	if err := c.persist(ctx, run, result.BestByGeneration, recorder.generations, top); err != nil {
		return RunSummary{}, err
	}

	if c.artifactsDir != "" {
		configYAML, err := req.Config.Marshal()
		if err != nil {
			return RunSummary{}, err
		}
		artifacts := stats.RunArtifacts{
			Run:         run,
			ConfigYAML:  configYAML,
			Generations: recorder.generations,
			Top:         top,
			Plot:        c.plot,
		}
		if result.Best.Tree != nil {
			artifacts.BestDiagram = result.Best.Tree.Diagram()
		}
		runDir, err := stats.WriteRunArtifacts(c.artifactsDir, artifacts)
		if err != nil {
			return RunSummary{}, err
		}
		if err := stats.AppendRunIndex(c.artifactsDir, stats.IndexEntry(run)); err != nil {
			return RunSummary{}, err
		}
		summary.ArtifactsDir = runDir
	}

	logger.Info("run persisted", "best_fitness", result.Best.Fitness, "best", summary.BestExpression)
	return summary, nil
}

// Replay starts a new run from the configuration stored with an earlier one.
func (c *Client) Replay(ctx context.Context, req ReplayRequest) (RunSummary, error) {
	run, err := c.GetRun(ctx, req.Query)
	if err != nil {
		return RunSummary{}, err
	}
	cfg, err := ReplayConfig(run, req.Overrides)
	if err != nil {
		return RunSummary{}, err
	}
	return c.Run(ctx, RunRequest{Config: cfg, TopN: req.TopN, Listeners: req.Listeners})
}

// ReplayConfig recovers the configuration stored in run and applies
// overrides to it.
func ReplayConfig(run model.RunRecord, overrides []string) (config.RunConfig, error) {
	if len(run.Config) == 0 {
		return config.RunConfig{}, fmt.Errorf("run %s has no stored config", run.ID)
	}
	cfg, err := config.FromMap(run.Config)
	if err != nil {
		return config.RunConfig{}, fmt.Errorf("restore config of run %s: %w", run.ID, err)
	}
	return cfg.Apply(overrides)
}

func (c *Client) persist(ctx context.Context, run model.RunRecord, history []float64, generations []model.GenerationSummary, top []model.IndividualRecord) error {
	ctx, span := c.tracer.Start(ctx, "evotree.Persist")
	defer span.End()
	if err := c.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	if err := c.store.SaveFitnessHistory(ctx, run.ID, history); err != nil {
		return fmt.Errorf("save fitness history: %w", err)
	}
	if err := c.store.SaveGenerations(ctx, run.ID, generations); err != nil {
		return fmt.Errorf("save generations: %w", err)
	}
	if err := c.store.SaveTopIndividuals(ctx, run.ID, top); err != nil {
		return fmt.Errorf("save top individuals: %w", err)
	}
	return nil
}

// Stop asks an in-flight run to finish after its current generation. It
// reports whether the run was found.
func (c *Client) Stop(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	alg, ok := c.running[runID]
	if ok {
		alg.Stop()
	}
	return ok
}

// StopAll stops every in-flight run.
// Active lists the ids of runs currently in progress.
func (c *Client) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.running))
	for id := range c.running {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Client) StopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, alg := range c.running {
		alg.Stop()
	}
}

func (c *Client) track(runID string, alg *evo.Algorithm) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running[runID] = alg
}

func (c *Client) untrack(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, runID)
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		req.Limit = defaultRunsLimit
	}
	runs, err := c.store.ListRuns(ctx, req.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunItem, 0, len(runs))
	for _, run := range runs {
		out = append(out, RunItem{
			RunID:          run.ID,
			StartedAt:      run.StartedAt,
			Problem:        run.Problem,
			Seed:           run.Seed,
			Population:     run.PopulationSize,
			Generations:    run.Generations,
			Stopped:        run.Stopped,
			BestFitness:    float64(run.BestFitness),
			BestExpression: run.BestExpression,
		})
	}
	return out, nil
}

func (c *Client) GetRun(ctx context.Context, q RunQuery) (model.RunRecord, error) {
	runID, err := c.resolve(ctx, q, "run")
	if err != nil {
		return model.RunRecord{}, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !ok {
		return model.RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

func (c *Client) FitnessHistory(ctx context.Context, q RunQuery) ([]float64, error) {
	runID, err := c.resolve(ctx, q, "fitness history")
	if err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: fitness history for %s", ErrRunNotFound, runID)
	}
	if q.Limit > 0 && len(history) > q.Limit {
		history = history[:q.Limit]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) Generations(ctx context.Context, q RunQuery) ([]model.GenerationSummary, error) {
	runID, err := c.resolve(ctx, q, "generations")
	if err != nil {
		return nil, err
	}
	generations, ok, err := c.store.GetGenerations(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: generations for %s", ErrRunNotFound, runID)
	}
	if q.Limit > 0 && len(generations) > q.Limit {
		generations = generations[:q.Limit]
	}
	return generations, nil
}

func (c *Client) TopIndividuals(ctx context.Context, q RunQuery) ([]model.IndividualRecord, error) {
	runID, err := c.resolve(ctx, q, "top individuals")
	if err != nil {
		return nil, err
	}
	top, ok, err := c.store.GetTopIndividuals(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: top individuals for %s", ErrRunNotFound, runID)
	}
	if q.Limit > 0 && len(top) > q.Limit {
		top = top[:q.Limit]
	}
	return top, nil
}

// Summary describes the best-fitness series of a run.
func (c *Client) Summary(ctx context.Context, q RunQuery) (stats.SeriesSummary, error) {
	q.Limit = 0
	history, err := c.FitnessHistory(ctx, q)
	if err != nil {
		return stats.SeriesSummary{}, err
	}
	return stats.SummarizeSeries(history), nil
}

func (c *Client) Delete(ctx context.Context, runID string) error {
	if err := c.Init(ctx); err != nil {
		return err
	}
	if runID == "" {
		return errors.New("delete requires run id")
	}
	if err := c.store.DeleteRun(ctx, runID); err != nil {
		return err
	}
	c.collector.Forget(runID)
	return nil
}

func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if c.artifactsDir == "" {
		return ExportSummary{}, errors.New("artifacts are disabled for this client")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolve(ctx, RunQuery{RunID: req.RunID, Latest: req.Latest}, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolve(ctx context.Context, q RunQuery, what string) (string, error) {
	if q.RunID != "" && q.Latest {
		return "", errors.New("use either run id or latest")
	}
	if q.Limit < 0 {
		return "", errors.New("limit must be >= 0")
	}
	if err := c.Init(ctx); err != nil {
		return "", err
	}
	if !q.Latest {
		if q.RunID == "" {
			return "", fmt.Errorf("%s requires run id or latest", what)
		}
		return q.RunID, nil
	}
	runs, err := c.store.ListRuns(ctx, 1)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", ErrNoRuns
	}
	return runs[0].ID, nil
}

func problemName(cfg config.RunConfig) string {
	if cfg.Problem.CSV != "" {
		return filepath.Base(cfg.Problem.CSV)
	}
	return cfg.Problem.Target
}

func rankPopulation(population []evo.Individual, n int) []model.IndividualRecord {
	ranked := append([]evo.Individual(nil), population...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Fitness > ranked[j].Fitness
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]model.IndividualRecord, 0, len(ranked))
	for i, ind := range ranked {
		out = append(out, model.IndividualRecord{
			VersionedRecord: storage.Versioned(),
			Rank:            i + 1,
			Fingerprint:     evo.Fingerprint(ind.Tree),
			Expression:      ind.Tree.SExpr(),
			Infix:           ind.Tree.MathString(),
			Fitness:         model.Score(ind.Fitness),
			Length:          ind.Tree.Length(),
			Depth:           ind.Tree.Depth(),
			Operation:       ind.Operation,
		})
	}
	return out
}

// generationRecorder turns generation events into stored summaries.
// spanEvents records one span event per generation.
func spanEvents(span trace.Span) evo.Listener {
	return evo.ListenerFunc(func(event evo.GenerationEvent) {
		span.AddEvent("generation", trace.WithAttributes(
			attribute.Int("generation", event.Generation),
			attribute.Float64("best_fitness", event.BestFitness),
			attribute.Float64("average_fitness", event.AverageFitness),
			attribute.Int("failures", event.Failures),
		))
	})
}

type generationRecorder struct {
	generations []model.GenerationSummary
}

func (r *generationRecorder) GenerationCompleted(event evo.GenerationEvent) {
	d := event.Diagnostics
	summary := model.GenerationSummary{
		Generation:     event.Generation,
		BestFitness:    model.Score(event.BestFitness),
		AverageFitness: model.Score(event.AverageFitness),
		MinFitness:     model.Score(d.MinFitness),
		FitnessStdDev:  d.FitnessStdDev,
		Failures:       event.Failures,
		MeanLength:     d.MeanLength,
		MaxLength:      d.MaxLength,
		MeanDepth:      d.MeanDepth,
		MaxDepth:       d.MaxDepth,
		Diversity:      d.Diversity,
	}
	if event.Failures > 0 && math.IsInf(event.BestFitness, -1) {
		summary.MinFitness = model.Score(evo.WorstFitness)
	}
	if event.Best != nil {
		summary.BestExpression = event.Best.SExpr()
	}
	r.generations = append(r.generations, summary)
}
