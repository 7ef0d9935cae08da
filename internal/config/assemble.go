package config

import (
	"fmt"

	"evotree/internal/create"
	"evotree/internal/evo"
	"evotree/internal/grammar"
	"evotree/internal/problem"
	"evotree/internal/random"
	"evotree/internal/tuning"
)

// Offsets separate the dataset sampling and tuning streams from the loop's.
const (
	dataSeedOffset   = 1000
	tuningSeedOffset = 2000
)

// Assembly is everything a run needs, built from one RunConfig.
type Assembly struct {
	Grammar *grammar.Grammar
	Train   problem.Dataset
	// Test is empty unless the config asks for a holdout split.
	Test          problem.Dataset
	Evaluator     evo.Evaluator
	TestEvaluator evo.Evaluator
	Algorithm     evo.Config
	// Tuner is nil when tuning is disabled.
	Tuner        *tuning.HillClimber
	TunePolicy   tuning.AttemptPolicy
	TuneAttempts int
}

// Assemble validates c and builds the grammar, data, evaluator and operators
// it describes. Listeners and the logger are left for the caller.
func (c RunConfig) Assemble() (Assembly, error) {
	if err := c.Validate(); err != nil {
		return Assembly{}, err
	}

	train, test, err := c.datasets()
	if err != nil {
		return Assembly{}, err
	}
	g, err := c.grammar(train.Variables)
	if err != nil {
		return Assembly{}, err
	}

	out := Assembly{Grammar: g, Train: train, Test: test}
	out.Evaluator = c.evaluator(train)
	if test.Len() > 0 {
		out.TestEvaluator = c.evaluator(test)
	}

	rng := random.New(c.Seed)
	strategy, err := evo.ParseArityStrategy(c.ArityStrategy)
	if err != nil {
		return Assembly{}, err
	}
	params := evo.OperatorParams{
		Rand:                    rng,
		Grammar:                 g,
		MaxLength:               c.MaxLength,
		MaxDepth:                c.MaxDepth,
		Strategy:                strategy,
		InternalNodeProbability: c.InternalNodeProbability,
		SwapProbability:         c.SwapProbability,
		Sigma:                   c.PerturbSigma,
	}

	var crossover evo.Crossover
	if c.Crossover != "" && c.Crossover != "none" {
		if crossover, err = evo.ResolveCrossover(c.Crossover, params); err != nil {
			return Assembly{}, err
		}
	}
	var mutator evo.Operator
	if len(c.Mutations) > 0 {
		policy := make([]evo.WeightedMutation, 0, len(c.Mutations))
		for _, m := range c.Mutations {
			op, err := evo.ResolveMutation(m.Name, params)
			if err != nil {
				return Assembly{}, err
			}
			policy = append(policy, evo.WeightedMutation{Operator: op, Weight: m.Weight})
		}
		if mutator, err = evo.NewMultiMutator(rng, policy...); err != nil {
			return Assembly{}, err
		}
	}

	creator, err := create.FromName(c.Creator)
	if err != nil {
		return Assembly{}, err
	}
	selector, err := evo.SelectorFromName(c.Selection, c.TournamentSize)
	if err != nil {
		return Assembly{}, err
	}
	count, err := evo.MutationCountFromName(c.MutationCount, c.MutationCountParam)
	if err != nil {
		return Assembly{}, err
	}
	postprocessor, err := postprocessorFromName(c.Postprocessor, c.PostprocessorParam)
	if err != nil {
		return Assembly{}, err
	}

	if c.Tuning.Attempts > 0 {
		if out.Tuner, err = c.Tuning.climber(random.New(c.Seed + tuningSeedOffset)); err != nil {
			return Assembly{}, err
		}
		if out.TunePolicy, err = tuning.AttemptPolicyFromConfig(c.Tuning.Policy, c.Tuning.PolicyParam); err != nil {
			return Assembly{}, err
		}
		out.TuneAttempts = c.Tuning.Attempts
	}

	out.Algorithm = evo.Config{
		Grammar:              g,
		Creator:              creator,
		Evaluator:            out.Evaluator,
		Selector:             selector,
		Crossover:            crossover,
		Mutator:              mutator,
		MutationCount:        count,
		Postprocessor:        postprocessor,
		Rand:                 rng,
		Seed:                 c.Seed,
		PopulationSize:       c.PopulationSize,
		MaxGenerations:       c.Generations,
		CrossoverProbability: c.CrossoverProbability,
		MutationProbability:  c.MutationProbability,
		Elites:               c.Elites,
		MaxLength:            c.MaxLength,
		MaxDepth:             c.MaxDepth,
		Workers:              c.Workers,
	}
	return out, nil
}

func (c RunConfig) datasets() (problem.Dataset, problem.Dataset, error) {
	var data problem.Dataset
	if c.Problem.CSV != "" {
		loaded, err := problem.LoadCSVFile(c.Problem.CSV, c.Problem.TargetColumn)
		if err != nil {
			return problem.Dataset{}, problem.Dataset{}, fmt.Errorf("load dataset: %w", err)
		}
		data = loaded
	} else {
		fn, variables, err := problem.TargetByName(c.Problem.Target)
		if err != nil {
			return problem.Dataset{}, problem.Dataset{}, err
		}
		sampled, err := problem.Sample(c.Problem.Target, fn, variables, c.Problem.Low, c.Problem.High, c.Problem.Samples, random.New(c.Seed+dataSeedOffset))
		if err != nil {
			return problem.Dataset{}, problem.Dataset{}, err
		}
		data = sampled
	}
	if c.Problem.TestFraction == 0 {
		return data, problem.Dataset{}, nil
	}
	return data.Split(1 - c.Problem.TestFraction)
}

func (c RunConfig) grammar(datasetVariables []string) (*grammar.Grammar, error) {
	variables := c.Grammar.Variables
	if len(variables) == 0 {
		variables = datasetVariables
	}
	withConstant := c.Grammar.Constant == nil || *c.Grammar.Constant
	g, err := grammar.FromNames(c.Grammar.Functions, variables, withConstant)
	if err != nil {
		return nil, err
	}
	if s, ok := g.Symbol(grammar.ConstantSymbolName); ok && (c.Grammar.ConstantMin != 0 || c.Grammar.ConstantMax != 0) {
		s.MinValue, s.MaxValue = c.Grammar.ConstantMin, c.Grammar.ConstantMax
	}
	maxLength, maxDepth := g.MaxLength(), g.MaxDepth()
	if c.MaxLength > 0 {
		maxLength = c.MaxLength
	}
	if c.MaxDepth > 0 {
		maxDepth = c.MaxDepth
	}
	if err := g.SetBounds(g.MinLength(), maxLength, g.MinDepth(), maxDepth); err != nil {
		return nil, err
	}
	return g, nil
}

func (c RunConfig) evaluator(data problem.Dataset) evo.Evaluator {
	if c.Problem.Kind == "classification" {
		return &problem.ClassificationEvaluator{Data: data, Threshold: c.Problem.Threshold}
	}
	return &problem.RegressionEvaluator{Data: data}
}
