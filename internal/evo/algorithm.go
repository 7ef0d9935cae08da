package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"evotree/internal/create"
	"evotree/internal/grammar"
	"evotree/internal/random"
	"evotree/internal/tree"
)

var (
	ErrNotInitialized = errors.New("algorithm not initialized")
	ErrAlreadyRunning = errors.New("algorithm already running")
	ErrCompleted      = errors.New("algorithm already completed")
)

// WorstFitness is assigned when an evaluation fails or returns NaN or an
// infinity. Failed individuals are excluded from averages.
var WorstFitness = math.Inf(-1)

type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Evaluator scores a tree; higher is better.
type Evaluator interface {
	Evaluate(ctx context.Context, t *tree.Tree) (float64, error)
}

type EvaluatorFunc func(ctx context.Context, t *tree.Tree) (float64, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, t *tree.Tree) (float64, error) {
	return f(ctx, t)
}

// GenerationEvent is published after each generation has been scored.
type GenerationEvent struct {
	Generation     int
	BestFitness    float64
	AverageFitness float64
	Best           *tree.Tree
	Failures       int
	Diagnostics    GenerationDiagnostics
}

type Listener interface {
	GenerationCompleted(event GenerationEvent)
}

type ListenerFunc func(event GenerationEvent)

func (f ListenerFunc) GenerationCompleted(event GenerationEvent) {
	f(event)
}

type Config struct {
	Grammar       *grammar.Grammar
	Creator       create.Creator
	Evaluator     Evaluator
	Selector      Selector
	Crossover     Crossover
	Mutator       Operator
	MutationCount MutationCountPolicy
	Postprocessor FitnessPostprocessor
	// Rand drives every random decision of the loop. Operators built for the
	// same run should share it. When nil, a source seeded with Seed is used.
	Rand random.Source
	Seed int64

	PopulationSize       int
	MaxGenerations       int
	CrossoverProbability float64
	MutationProbability  float64
	Elites               int
	MaxLength            int
	MaxDepth             int
	// Workers bounds concurrent evaluations; 0 or 1 evaluates in order.
	// Evaluators must then be safe for concurrent use.
	Workers int

	Listeners []Listener
	Logger    *slog.Logger
}

type Result struct {
	Generations         int
	Stopped             bool
	BestByGeneration    []float64
	AverageByGeneration []float64
	Diagnostics         []GenerationDiagnostics
	Best                Individual
	FinalPopulation     []Individual
}

// Algorithm runs a generational evolutionary loop. Stop and State may be
// called from other goroutines; everything else belongs to one caller.
type Algorithm struct {
	cfg    Config
	rng    random.Source
	logger *slog.Logger

	state   atomic.Int32
	stopped atomic.Bool

	generation int
	population []Individual
	best       Individual
	result     Result
}

func NewAlgorithm(cfg Config) (*Algorithm, error) {
	if cfg.Grammar == nil {
		return nil, ErrGrammarRequired
	}
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if cfg.MaxGenerations <= 0 {
		return nil, fmt.Errorf("max generations must be > 0")
	}
	if cfg.CrossoverProbability < 0 || cfg.CrossoverProbability > 1 {
		return nil, fmt.Errorf("crossover probability must be in [0, 1]")
	}
	if cfg.MutationProbability < 0 || cfg.MutationProbability > 1 {
		return nil, fmt.Errorf("mutation probability must be in [0, 1]")
	}
	if cfg.Elites < 0 || cfg.Elites >= cfg.PopulationSize {
		return nil, fmt.Errorf("elites must be in [0, population size)")
	}
	if cfg.MaxLength < 0 || cfg.MaxDepth < 0 {
		return nil, fmt.Errorf("max length and depth must be >= 0")
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers must be >= 0")
	}
	if cfg.Creator == nil {
		cfg.Creator = create.GrowCreator{}
	}
	if cfg.Selector == nil {
		cfg.Selector = TournamentSelector{}
	}
	if cfg.MutationCount == nil {
		cfg.MutationCount = ConstMutationCount{Count: 1}
	}
	if cfg.Postprocessor == nil {
		cfg.Postprocessor = NoopFitnessPostprocessor{}
	}
	rng := cfg.Rand
	if rng == nil {
		rng = random.New(cfg.Seed)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Algorithm{
		cfg:    cfg,
		rng:    rng,
		logger: logger,
	}, nil
}

func (a *Algorithm) State() State {
	return State(a.state.Load())
}

// Stop asks Run to finish after the generation in flight.
func (a *Algorithm) Stop() {
	a.stopped.Store(true)
}

func (a *Algorithm) Generation() int {
	return a.generation
}

// Population returns a copy of the current population.
func (a *Algorithm) Population() []Individual {
	return append([]Individual(nil), a.population...)
}

// Best returns the fittest individual seen so far.
func (a *Algorithm) Best() (Individual, bool) {
	return a.best, a.best.Tree != nil
}

// Initialize builds the initial population. A completed algorithm may be
// initialized again for a fresh run from its current random state.
func (a *Algorithm) Initialize(ctx context.Context) error {
	if a.State() == StateRunning {
		return ErrAlreadyRunning
	}

	population := make([]Individual, 0, a.cfg.PopulationSize)
	for i := 0; i < a.cfg.PopulationSize; i++ {
		t, err := a.cfg.Creator.Create(ctx, a.rng, a.cfg.Grammar, a.cfg.MaxLength, a.cfg.MaxDepth)
		if err != nil {
			return fmt.Errorf("create individual %d: %w", i, err)
		}
		population = append(population, Individual{Tree: t, Operation: "create:" + a.cfg.Creator.Name()})
	}

	a.population = population
	a.generation = 0
	a.best = Individual{}
	a.result = Result{}
	a.stopped.Store(false)
	a.state.Store(int32(StateInitialized))
	a.logger.Info("population initialized", "size", len(population), "creator", a.cfg.Creator.Name())
	return nil
}

// Step scores the current population, publishes the generation event and,
// unless this was the last generation, breeds the next population.
func (a *Algorithm) Step(ctx context.Context) (GenerationEvent, error) {
	switch a.State() {
	case StateUninitialized:
		return GenerationEvent{}, ErrNotInitialized
	case StateCompleted:
		return GenerationEvent{}, ErrCompleted
	}
	a.state.Store(int32(StateRunning))
	if err := ctx.Err(); err != nil {
		return GenerationEvent{}, err
	}

	if err := a.evaluate(ctx); err != nil {
		return GenerationEvent{}, err
	}
	event := a.summarize()
	for _, listener := range a.cfg.Listeners {
		listener.GenerationCompleted(event)
	}
	a.logger.Info("generation completed",
		"generation", event.Generation,
		"best_fitness", event.BestFitness,
		"average_fitness", event.AverageFitness,
		"failures", event.Failures,
	)

	a.generation++
	if a.generation >= a.cfg.MaxGenerations {
		a.finish()
		return event, nil
	}
	next, err := a.breed(ctx)
	if err != nil {
		return GenerationEvent{}, err
	}
	a.population = next
	return event, nil
}

// Run steps until MaxGenerations is reached or Stop is called. Cancellation
// of ctx is observed between generations and inside evaluation.
func (a *Algorithm) Run(ctx context.Context) (Result, error) {
	if a.State() == StateUninitialized {
		if err := a.Initialize(ctx); err != nil {
			return Result{}, err
		}
	}
	if a.State() == StateCompleted {
		return Result{}, ErrCompleted
	}
	if !a.state.CompareAndSwap(int32(StateInitialized), int32(StateRunning)) && a.State() != StateRunning {
		return Result{}, ErrAlreadyRunning
	}

	for a.State() != StateCompleted {
		if err := ctx.Err(); err != nil {
			return a.snapshot(), err
		}
		if a.stopped.Load() {
			a.result.Stopped = true
			a.logger.Info("stop requested", "generation", a.generation)
			a.finish()
			break
		}
		if _, err := a.Step(ctx); err != nil {
			return a.snapshot(), err
		}
	}
	return a.snapshot(), nil
}

func (a *Algorithm) finish() {
	a.state.Store(int32(StateCompleted))
	a.logger.Info("run completed", "generations", a.generation, "best_fitness", a.best.Fitness)
}

func (a *Algorithm) snapshot() Result {
	out := a.result
	out.Generations = a.generation
	out.BestByGeneration = append([]float64(nil), a.result.BestByGeneration...)
	out.AverageByGeneration = append([]float64(nil), a.result.AverageByGeneration...)
	out.Diagnostics = append([]GenerationDiagnostics(nil), a.result.Diagnostics...)
	out.Best = a.best
	out.FinalPopulation = a.Population()
	return out
}

// evaluate scores every unevaluated individual, on up to Workers goroutines.
// Only context errors abort; other failures score WorstFitness.
func (a *Algorithm) evaluate(ctx context.Context) error {
	pending := make([]int, 0, len(a.population))
	for i := range a.population {
		if !a.population[i].Evaluated {
			pending = append(pending, i)
		}
	}
	if a.cfg.Workers <= 1 || len(pending) <= 1 {
		for _, i := range pending {
			if err := a.evaluateOne(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)
	for _, i := range pending {
		g.Go(func() error {
			return a.evaluateOne(gctx, i)
		})
	}
	return g.Wait()
}

func (a *Algorithm) evaluateOne(ctx context.Context, i int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ind := &a.population[i]
	fitness, err := a.cfg.Evaluator.Evaluate(ctx, ind.Tree)
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return err
	case err != nil:
		a.logger.Debug("evaluation failed", "generation", a.generation, "individual", i, "error", err)
		fitness = WorstFitness
	case !finite(fitness):
		a.logger.Debug("evaluation returned non-finite fitness", "generation", a.generation, "individual", i, "fitness", fitness)
		fitness = WorstFitness
	default:
		fitness = a.cfg.Postprocessor.Process(fitness, ind.Tree)
	}
	ind.Fitness = fitness
	ind.Evaluated = true
	return nil
}

func (a *Algorithm) summarize() GenerationEvent {
	bestIndex := 0
	for i, ind := range a.population {
		if ind.Fitness > a.population[bestIndex].Fitness {
			bestIndex = i
		}
	}
	best := a.population[bestIndex]
	if a.best.Tree == nil || best.Fitness > a.best.Fitness {
		a.best = best.Clone()
	}

	diagnostics := summarizeGeneration(a.population, a.generation)
	average := WorstFitness
	if diagnostics.Failures < len(a.population) {
		average = diagnostics.MeanFitness
	}
	a.result.BestByGeneration = append(a.result.BestByGeneration, best.Fitness)
	a.result.AverageByGeneration = append(a.result.AverageByGeneration, average)
	a.result.Diagnostics = append(a.result.Diagnostics, diagnostics)

	return GenerationEvent{
		Generation:     a.generation,
		BestFitness:    best.Fitness,
		AverageFitness: average,
		Best:           best.Tree.Clone(),
		Failures:       diagnostics.Failures,
		Diagnostics:    diagnostics,
	}
}

func (a *Algorithm) breed(ctx context.Context) ([]Individual, error) {
	next := make([]Individual, 0, a.cfg.PopulationSize)
	if a.cfg.Elites > 0 {
		ranked := make([]int, len(a.population))
		for i := range ranked {
			ranked[i] = i
		}
		sort.SliceStable(ranked, func(i, j int) bool {
			return a.population[ranked[i]].Fitness > a.population[ranked[j]].Fitness
		})
		for _, idx := range ranked[:a.cfg.Elites] {
			elite := a.population[idx].Clone()
			elite.Operation = "elite"
			next = append(next, elite)
		}
	}

	for len(next) < a.cfg.PopulationSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		child, err := a.offspring(ctx)
		if err != nil {
			return nil, err
		}
		next = append(next, child)
	}
	return next, nil
}

func (a *Algorithm) offspring(ctx context.Context) (Individual, error) {
	first, err := a.cfg.Selector.Select(a.rng, a.population)
	if err != nil {
		return Individual{}, err
	}
	second, err := a.cfg.Selector.Select(a.rng, a.population)
	if err != nil {
		return Individual{}, err
	}

	child := first
	operations := make([]string, 0, 2)
	if a.cfg.Crossover != nil && a.rng.Float64() < a.cfg.CrossoverProbability {
		crossed, err := a.cfg.Crossover.Cross(ctx, first.Tree, second.Tree)
		switch {
		case structural(err):
			a.logger.Debug("crossover rejected", "generation", a.generation, "operator", a.cfg.Crossover.Name(), "error", err)
			operations = append(operations, "rejected:"+a.cfg.Crossover.Name())
		case err != nil:
			return Individual{}, fmt.Errorf("crossover %s: %w", a.cfg.Crossover.Name(), err)
		default:
			child = Individual{Tree: crossed}
			operations = append(operations, "crossover:"+a.cfg.Crossover.Name())
		}
	} else {
		operations = append(operations, "copy")
	}

	if a.cfg.Mutator != nil && a.rng.Float64() < a.cfg.MutationProbability {
		count, err := a.cfg.MutationCount.MutationCount(child.Tree, a.generation, a.rng)
		if err != nil {
			return Individual{}, err
		}
		for step := 0; step < count; step++ {
			mutated, err := a.cfg.Mutator.Apply(ctx, child.Tree)
			if errors.Is(err, ErrNoMutationChoice) {
				operations = append(operations, "noop")
				continue
			}
			if structural(err) {
				a.logger.Debug("mutation rejected", "generation", a.generation, "operator", a.cfg.Mutator.Name(), "error", err)
				operations = append(operations, "rejected:"+a.cfg.Mutator.Name())
				continue
			}
			if err != nil {
				return Individual{}, fmt.Errorf("mutation %s: %w", a.cfg.Mutator.Name(), err)
			}
			child = Individual{Tree: mutated}
			operations = append(operations, "mutation:"+a.cfg.Mutator.Name())
		}
	}
	child.Operation = strings.Join(operations, "+")
	return child, nil
}

// structural reports whether err is an arity or type violation raised by an
// operator. The tree it was applied to is left untouched, so the loop keeps it.
func structural(err error) bool {
	if err == nil {
		return false
	}
	var arity *tree.ArityError
	return errors.As(err, &arity) ||
		errors.Is(err, tree.ErrInvalidArity) ||
		errors.Is(err, tree.ErrMaximumArityExceeded) ||
		errors.Is(err, tree.ErrMinimumArityViolated) ||
		errors.Is(err, tree.ErrIncompatibleChildType)
}
