package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"evotree/internal/create"
	"evotree/internal/evo"
	"evotree/internal/grammar"
	"evotree/internal/random"
	"evotree/internal/tuning"
)

var ErrInvalidConfig = errors.New("invalid run config")

// ProblemConfig selects the data the population is scored on. Either CSV
// names a table on disk or Target names a built-in function to sample.
type ProblemConfig struct {
	Kind         string  `yaml:"kind" json:"kind"`
	Target       string  `yaml:"target,omitempty" json:"target,omitempty"`
	CSV          string  `yaml:"csv,omitempty" json:"csv,omitempty"`
	TargetColumn string  `yaml:"target_column,omitempty" json:"target_column,omitempty"`
	Samples      int     `yaml:"samples,omitempty" json:"samples,omitempty"`
	Low          float64 `yaml:"low,omitempty" json:"low,omitempty"`
	High         float64 `yaml:"high,omitempty" json:"high,omitempty"`
	TestFraction float64 `yaml:"test_fraction,omitempty" json:"test_fraction,omitempty"`
	Threshold    float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
}

type GrammarConfig struct {
	Functions []string `yaml:"functions" json:"functions"`
	// Variables default to the dataset's columns.
	Variables   []string `yaml:"variables,omitempty" json:"variables,omitempty"`
	Constant    *bool    `yaml:"constant,omitempty" json:"constant,omitempty"`
	ConstantMin float64  `yaml:"constant_min,omitempty" json:"constant_min,omitempty"`
	ConstantMax float64  `yaml:"constant_max,omitempty" json:"constant_max,omitempty"`
}

type MutationWeight struct {
	Name   string  `yaml:"name" json:"name"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// TuningConfig controls constant hill-climbing on the best tree after a run.
// Attempts of zero disables it.
type TuningConfig struct {
	Attempts           int     `yaml:"attempts" json:"attempts"`
	Steps              int     `yaml:"steps,omitempty" json:"steps,omitempty"`
	StepSize           float64 `yaml:"step_size,omitempty" json:"step_size,omitempty"`
	AnnealingFactor    float64 `yaml:"annealing_factor,omitempty" json:"annealing_factor,omitempty"`
	CandidateSelection string  `yaml:"candidate_selection,omitempty" json:"candidate_selection,omitempty"`
	Policy             string  `yaml:"policy,omitempty" json:"policy,omitempty"`
	PolicyParam        float64 `yaml:"policy_param,omitempty" json:"policy_param,omitempty"`
}

type RunConfig struct {
	Problem ProblemConfig `yaml:"problem" json:"problem"`
	Grammar GrammarConfig `yaml:"grammar" json:"grammar"`

	PopulationSize int    `yaml:"population_size" json:"population_size"`
	Generations    int    `yaml:"generations" json:"generations"`
	Seed           int64  `yaml:"seed" json:"seed"`
	Creator        string `yaml:"creator" json:"creator"`
	MaxLength      int    `yaml:"max_length" json:"max_length"`
	MaxDepth       int    `yaml:"max_depth" json:"max_depth"`
	Elites         int    `yaml:"elites" json:"elites"`
	Workers        int    `yaml:"workers,omitempty" json:"workers,omitempty"`

	Selection      string `yaml:"selection" json:"selection"`
	TournamentSize int    `yaml:"tournament_size" json:"tournament_size"`

	Crossover               string  `yaml:"crossover" json:"crossover"`
	CrossoverProbability    float64 `yaml:"crossover_probability" json:"crossover_probability"`
	InternalNodeProbability float64 `yaml:"internal_node_probability,omitempty" json:"internal_node_probability,omitempty"`
	SwapProbability         float64 `yaml:"swap_probability,omitempty" json:"swap_probability,omitempty"`

	Mutations           []MutationWeight `yaml:"mutations" json:"mutations"`
	MutationProbability float64          `yaml:"mutation_probability" json:"mutation_probability"`
	MutationCount       string           `yaml:"mutation_count" json:"mutation_count"`
	MutationCountParam  float64          `yaml:"mutation_count_param" json:"mutation_count_param"`
	ArityStrategy       string           `yaml:"arity_strategy" json:"arity_strategy"`
	PerturbSigma        float64          `yaml:"perturb_sigma,omitempty" json:"perturb_sigma,omitempty"`

	Postprocessor      string  `yaml:"fitness_postprocessor" json:"fitness_postprocessor"`
	PostprocessorParam float64 `yaml:"fitness_postprocessor_param,omitempty" json:"fitness_postprocessor_param,omitempty"`

	Tuning TuningConfig `yaml:"tuning" json:"tuning"`
}

// Default returns a small symbolic regression run on x^2 + x.
func Default() RunConfig {
	constant := true
	return RunConfig{
		Problem: ProblemConfig{
			Kind:    "regression",
			Target:  "quadratic",
			Samples: 40,
			Low:     -2,
			High:    2,
		},
		Grammar: GrammarConfig{
			Functions:   []string{"add", "sub", "mul", "div"},
			Constant:    &constant,
			ConstantMin: -1,
			ConstantMax: 1,
		},
		PopulationSize:       100,
		Generations:          30,
		Seed:                 1,
		Creator:              "ramped_half_and_half",
		MaxLength:            40,
		MaxDepth:             8,
		Elites:               1,
		Selection:            "tournament",
		TournamentSize:       3,
		Crossover:            "subtree",
		CrossoverProbability: 0.9,
		Mutations: []MutationWeight{
			{Name: "subtree", Weight: 0.4},
			{Name: "change_terminal", Weight: 0.3},
			{Name: "change_node_type", Weight: 0.15},
			{Name: "node_insertion", Weight: 0.05},
			{Name: "node_removal", Weight: 0.1},
		},
		MutationProbability: 0.2,
		MutationCount:       "const",
		MutationCountParam:  1,
		ArityStrategy:       "replace_existing_child",
		Postprocessor:       "none",
		Tuning: TuningConfig{
			Steps:           1,
			StepSize:        0.5,
			AnnealingFactor: 0.95,
		},
	}
}

// Load reads a YAML or JSON (by extension) config file over the defaults.
func Load(path string) (RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("failed to read run config: %w", err)
	}
	return Parse(data, strings.ToLower(filepath.Ext(path)))
}

// Parse decodes data over the defaults; ext ".json" selects JSON, anything
// else YAML. The result is validated.
func Parse(data []byte, ext string) (RunConfig, error) {
	cfg := Default()
	if ext == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return RunConfig{}, fmt.Errorf("failed to parse run config json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return RunConfig{}, fmt.Errorf("failed to parse run config yaml: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func (c RunConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Map renders cfg as a generic map for storage alongside a run record.
func (c RunConfig) Map() (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func (c RunConfig) Validate() error {
	switch c.Problem.Kind {
	case "regression", "classification":
	default:
		return invalid("problem kind must be regression or classification, got %q", c.Problem.Kind)
	}
	if c.Problem.CSV == "" && c.Problem.Target == "" {
		return invalid("problem needs a csv path or a target function")
	}
	if c.Problem.CSV == "" {
		if c.Problem.Samples <= 0 {
			return invalid("problem samples must be > 0")
		}
		if c.Problem.High < c.Problem.Low {
			return invalid("problem range must satisfy low <= high")
		}
	}
	if c.Problem.TestFraction < 0 || c.Problem.TestFraction >= 1 {
		return invalid("test fraction must be in [0, 1)")
	}
	if len(c.Grammar.Functions) == 0 {
		return invalid("grammar needs at least one function")
	}
	for _, name := range c.Grammar.Functions {
		if _, err := grammar.LookupPrimitive(name); err != nil {
			return invalid("grammar function %s: %v", name, err)
		}
	}
	if c.Grammar.ConstantMax < c.Grammar.ConstantMin {
		return invalid("constant range must satisfy min <= max")
	}
	if c.PopulationSize <= 0 {
		return invalid("population size must be > 0")
	}
	if c.Generations <= 0 {
		return invalid("generations must be > 0")
	}
	if c.Elites < 0 || c.Elites >= c.PopulationSize {
		return invalid("elites must be in [0, population size)")
	}
	if c.Workers < 0 {
		return invalid("workers must be >= 0")
	}
	if c.MaxLength < 0 || c.MaxDepth < 0 {
		return invalid("max length and depth must be >= 0")
	}
	if _, err := create.FromName(c.Creator); err != nil {
		return invalid("%v", err)
	}
	if _, err := evo.SelectorFromName(c.Selection, c.TournamentSize); err != nil {
		return invalid("%v", err)
	}
	if c.CrossoverProbability < 0 || c.CrossoverProbability > 1 {
		return invalid("crossover probability must be in [0, 1]")
	}
	if c.MutationProbability < 0 || c.MutationProbability > 1 {
		return invalid("mutation probability must be in [0, 1]")
	}
	if c.MutationProbability > 0 && len(c.Mutations) == 0 {
		return invalid("mutation probability set without mutations")
	}
	for _, m := range c.Mutations {
		if m.Weight < 0 {
			return invalid("mutation %s weight must be >= 0", m.Name)
		}
	}
	if _, err := evo.MutationCountFromName(c.MutationCount, c.MutationCountParam); err != nil {
		return invalid("%v", err)
	}
	if _, err := evo.ParseArityStrategy(c.ArityStrategy); err != nil {
		return invalid("%v", err)
	}
	if _, err := postprocessorFromName(c.Postprocessor, c.PostprocessorParam); err != nil {
		return invalid("%v", err)
	}
	if c.Tuning.Attempts < 0 {
		return invalid("tuning attempts must be >= 0")
	}
	if c.Tuning.Attempts > 0 {
		if _, err := c.Tuning.climber(nil); err != nil {
			return invalid("tuning: %v", err)
		}
	}
	return nil
}

func (t TuningConfig) climber(rng random.Source) (*tuning.HillClimber, error) {
	if t.Steps <= 0 {
		return nil, errors.New("steps must be > 0")
	}
	if t.StepSize <= 0 {
		return nil, errors.New("step size must be > 0")
	}
	if t.AnnealingFactor < 0 {
		return nil, errors.New("annealing factor must be >= 0")
	}
	switch t.CandidateSelection {
	case "", tuning.CandidateSelectBestSoFar, tuning.CandidateSelectOriginal, tuning.CandidateSelectRecent:
	default:
		return nil, fmt.Errorf("unsupported candidate selection: %s", t.CandidateSelection)
	}
	if _, err := tuning.AttemptPolicyFromConfig(t.Policy, t.PolicyParam); err != nil {
		return nil, err
	}
	return &tuning.HillClimber{
		Rand:               rng,
		Steps:              t.Steps,
		StepSize:           t.StepSize,
		AnnealingFactor:    t.AnnealingFactor,
		CandidateSelection: t.CandidateSelection,
	}, nil
}

func postprocessorFromName(name string, param float64) (evo.FitnessPostprocessor, error) {
	switch name {
	case "", "none":
		return evo.NoopFitnessPostprocessor{}, nil
	case "parsimony":
		return evo.ParsimonyPostprocessor{Coefficient: param}, nil
	case "size_proportional":
		return evo.SizeProportionalPostprocessor{Efficiency: param}, nil
	default:
		return nil, fmt.Errorf("unsupported fitness postprocessor: %s", name)
	}
}
