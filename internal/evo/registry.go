package evo

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"evotree/internal/grammar"
	"evotree/internal/random"
)

var (
	ErrOperatorExists   = errors.New("operator already registered")
	ErrOperatorNotFound = errors.New("operator not found")
)

// OperatorParams carries everything a registered factory may need.
type OperatorParams struct {
	Rand                    random.Source
	Grammar                 *grammar.Grammar
	MaxLength               int
	MaxDepth                int
	Strategy                ArityStrategy
	InternalNodeProbability float64
	SwapProbability         float64
	Sigma                   float64
}

type MutationFactory func(OperatorParams) (Operator, error)

type CrossoverFactory func(OperatorParams) (Crossover, error)

var operatorRegistry = struct {
	mu         sync.RWMutex
	mutations  map[string]MutationFactory
	crossovers map[string]CrossoverFactory
}{
	mutations:  make(map[string]MutationFactory),
	crossovers: make(map[string]CrossoverFactory),
}

func init() {
	registerBuiltInOperators()
}

func registerBuiltInOperators() {
	mutations := map[string]MutationFactory{
		"subtree": func(p OperatorParams) (Operator, error) {
			return &SubtreeMutator{Rand: p.Rand, Grammar: p.Grammar, MaxLength: p.MaxLength, MaxDepth: p.MaxDepth}, nil
		},
		"change_node_type": func(p OperatorParams) (Operator, error) {
			return &ChangeNodeTypeMutator{Rand: p.Rand, Grammar: p.Grammar}, nil
		},
		"change_terminal": func(p OperatorParams) (Operator, error) {
			return &ChangeTerminalMutator{Rand: p.Rand, Grammar: p.Grammar, Sigma: p.Sigma}, nil
		},
		"node_insertion": func(p OperatorParams) (Operator, error) {
			return &NodeInsertionManipulator{Rand: p.Rand, Grammar: p.Grammar, MaxLength: p.MaxLength, MaxDepth: p.MaxDepth, Strategy: p.Strategy}, nil
		},
		"node_removal": func(p OperatorParams) (Operator, error) {
			return &NodeRemovalManipulator{Rand: p.Rand, Grammar: p.Grammar, Strategy: p.Strategy}, nil
		},
		"child_insertion": func(p OperatorParams) (Operator, error) {
			return &ChildInsertionManipulator{Rand: p.Rand, Grammar: p.Grammar, MaxLength: p.MaxLength, MaxDepth: p.MaxDepth, Strategy: p.Strategy}, nil
		},
	}
	for name, factory := range mutations {
		operatorRegistry.mutations[name] = factory
	}

	crossovers := map[string]CrossoverFactory{
		"subtree": func(p OperatorParams) (Crossover, error) {
			prob := p.InternalNodeProbability
			if prob == 0 {
				prob = DefaultInternalNodeProbability
			}
			return &SubtreeCrossover{Rand: p.Rand, Grammar: p.Grammar, InternalNodeProbability: prob, MaxLength: p.MaxLength, MaxDepth: p.MaxDepth}, nil
		},
		"one_point": func(p OperatorParams) (Crossover, error) {
			return &OnePointCrossover{Rand: p.Rand, Grammar: p.Grammar, MaxLength: p.MaxLength, MaxDepth: p.MaxDepth}, nil
		},
		"uniform": func(p OperatorParams) (Crossover, error) {
			prob := p.SwapProbability
			if prob == 0 {
				prob = DefaultSwapProbability
			}
			return &UniformCrossover{Rand: p.Rand, Grammar: p.Grammar, SwapProbability: prob, MaxLength: p.MaxLength, MaxDepth: p.MaxDepth}, nil
		},
	}
	for name, factory := range crossovers {
		operatorRegistry.crossovers[name] = factory
	}
}

func RegisterMutation(name string, factory MutationFactory) error {
	if name == "" {
		return errors.New("operator name is required")
	}
	if factory == nil {
		return errors.New("operator factory is required")
	}
	operatorRegistry.mu.Lock()
	defer operatorRegistry.mu.Unlock()
	if _, exists := operatorRegistry.mutations[name]; exists {
		return fmt.Errorf("%w: mutation %s", ErrOperatorExists, name)
	}
	operatorRegistry.mutations[name] = factory
	return nil
}

func RegisterCrossover(name string, factory CrossoverFactory) error {
	if name == "" {
		return errors.New("operator name is required")
	}
	if factory == nil {
		return errors.New("operator factory is required")
	}
	operatorRegistry.mu.Lock()
	defer operatorRegistry.mu.Unlock()
	if _, exists := operatorRegistry.crossovers[name]; exists {
		return fmt.Errorf("%w: crossover %s", ErrOperatorExists, name)
	}
	operatorRegistry.crossovers[name] = factory
	return nil
}

// ResolveMutation builds the named mutation with params.
func ResolveMutation(name string, params OperatorParams) (Operator, error) {
	operatorRegistry.mu.RLock()
	factory, ok := operatorRegistry.mutations[name]
	operatorRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: mutation %s", ErrOperatorNotFound, name)
	}
	if params.Rand == nil {
		return nil, ErrRandRequired
	}
	if params.Grammar == nil {
		return nil, ErrGrammarRequired
	}
	return factory(params)
}

// ResolveCrossover builds the named crossover with params.
func ResolveCrossover(name string, params OperatorParams) (Crossover, error) {
	operatorRegistry.mu.RLock()
	factory, ok := operatorRegistry.crossovers[name]
	operatorRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: crossover %s", ErrOperatorNotFound, name)
	}
	if params.Rand == nil {
		return nil, ErrRandRequired
	}
	return factory(params)
}

func ListMutations() []string {
	operatorRegistry.mu.RLock()
	defer operatorRegistry.mu.RUnlock()
	names := make([]string, 0, len(operatorRegistry.mutations))
	for name := range operatorRegistry.mutations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ListCrossovers() []string {
	operatorRegistry.mu.RLock()
	defer operatorRegistry.mu.RUnlock()
	names := make([]string, 0, len(operatorRegistry.crossovers))
	for name := range operatorRegistry.crossovers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetOperatorRegistryForTests() {
	operatorRegistry.mu.Lock()
	defer operatorRegistry.mu.Unlock()
	operatorRegistry.mutations = make(map[string]MutationFactory)
	operatorRegistry.crossovers = make(map[string]CrossoverFactory)
	registerBuiltInOperators()
}
