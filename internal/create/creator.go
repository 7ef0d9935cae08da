package create

import (
	"context"
	"errors"
	"fmt"

	"evotree/internal/grammar"
	"evotree/internal/random"
	"evotree/internal/tree"
)

var (
	ErrNoTerminalSymbols = errors.New("no terminal symbols available")
	ErrNoEnabledSymbols  = errors.New("no enabled symbols")
	ErrInvalidBounds     = errors.New("invalid creation bounds")
)

// Creator builds a random tree from a grammar within length and depth bounds.
// A zero bound falls back to the grammar's own maximum.
type Creator interface {
	Name() string
	Create(ctx context.Context, rng random.Source, g *grammar.Grammar, maxLength, maxDepth int) (*tree.Tree, error)
}

// GrowCreator picks any completable symbol at every position, so branches end
// at varying depths.
type GrowCreator struct{}

func (GrowCreator) Name() string {
	return "grow"
}

func (GrowCreator) Create(ctx context.Context, rng random.Source, g *grammar.Grammar, maxLength, maxDepth int) (*tree.Tree, error) {
	return create(ctx, rng, g, maxLength, maxDepth, false)
}

// FullCreator keeps choosing functions until the depth bound, so every branch
// reaches the requested depth unless the length budget runs out first.
type FullCreator struct{}

func (FullCreator) Name() string {
	return "full"
}

func (FullCreator) Create(ctx context.Context, rng random.Source, g *grammar.Grammar, maxLength, maxDepth int) (*tree.Tree, error) {
	return create(ctx, rng, g, maxLength, maxDepth, true)
}

// RampedHalfAndHalf draws a depth uniformly from [MinDepth, maxDepth] and then
// builds with Full or Grow with equal probability.
type RampedHalfAndHalf struct {
	MinDepth int
}

func (RampedHalfAndHalf) Name() string {
	return "ramped_half_and_half"
}

func (r RampedHalfAndHalf) Create(ctx context.Context, rng random.Source, g *grammar.Grammar, maxLength, maxDepth int) (*tree.Tree, error) {
	maxLength, maxDepth, err := resolveBounds(g, maxLength, maxDepth)
	if err != nil {
		return nil, err
	}
	lo := r.MinDepth
	if lo <= 0 {
		lo = 2
	}
	lo = min(lo, maxDepth)
	depth := lo + rng.Intn(maxDepth-lo+1)
	full := rng.Float64() < 0.5
	return create(ctx, rng, g, maxLength, depth, full)
}

// FromName resolves a creator by its Name.
func FromName(name string) (Creator, error) {
	switch name {
	case "", "grow":
		return GrowCreator{}, nil
	case "full":
		return FullCreator{}, nil
	case "ramped", "ramped_half_and_half":
		return RampedHalfAndHalf{}, nil
	default:
		return nil, fmt.Errorf("unsupported creator: %s", name)
	}
}

func resolveBounds(g *grammar.Grammar, maxLength, maxDepth int) (int, int, error) {
	if maxLength < 0 || maxDepth < 0 {
		return 0, 0, fmt.Errorf("%w: length=%d depth=%d", ErrInvalidBounds, maxLength, maxDepth)
	}
	if maxLength == 0 {
		maxLength = g.MaxLength()
	}
	if maxDepth == 0 {
		maxDepth = g.MaxDepth()
	}
	return maxLength, maxDepth, nil
}

func create(ctx context.Context, rng random.Source, g *grammar.Grammar, maxLength, maxDepth int, full bool) (*tree.Tree, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("grammar is required")
	}
	maxLength, maxDepth, err := resolveBounds(g, maxLength, maxDepth)
	if err != nil {
		return nil, err
	}
	if err := checkGrammar(g); err != nil {
		return nil, err
	}

	b := builder{rng: rng, g: g, t: tree.New(), full: full}
	candidates := b.feasible(g.StartSymbols(), maxLength, maxDepth)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no start symbol fits length %d depth %d", ErrNoEnabledSymbols, maxLength, maxDepth)
	}
	root, err := b.grow(b.choose(candidates, maxLength, maxDepth), maxLength, maxDepth)
	if err != nil {
		return nil, err
	}
	if err := b.t.SetRoot(root); err != nil {
		return nil, err
	}
	return b.t, nil
}

// GrowSubtree builds a detached subtree inside t that is legal at argument
// position index of parent. A nil parent asks for a start symbol.
func GrowSubtree(t *tree.Tree, rng random.Source, g *grammar.Grammar, parent *grammar.Symbol, index, maxLength, maxDepth int) (tree.NodeID, error) {
	if maxLength < 1 || maxDepth < 1 {
		return tree.NoNode, fmt.Errorf("%w: length=%d depth=%d", ErrInvalidBounds, maxLength, maxDepth)
	}
	if err := checkGrammar(g); err != nil {
		return tree.NoNode, err
	}
	b := builder{rng: rng, g: g, t: t}
	var allowed []*grammar.Symbol
	if parent == nil {
		allowed = g.StartSymbols()
	} else {
		allowed = g.AllowedChildren(parent, index)
	}
	candidates := b.feasible(allowed, maxLength, maxDepth)
	if len(candidates) == 0 {
		return tree.NoNode, fmt.Errorf("%w: nothing fits %s argument %d within length %d depth %d", ErrNoTerminalSymbols, symbolName(parent), index, maxLength, maxDepth)
	}
	return b.grow(b.choose(candidates, maxLength, maxDepth), maxLength, maxDepth)
}

// Terminal builds a detached terminal legal at argument position index of
// parent, or at the root when parent is nil.
func Terminal(t *tree.Tree, rng random.Source, g *grammar.Grammar, parent *grammar.Symbol, index int) (tree.NodeID, error) {
	var allowed []*grammar.Symbol
	if parent == nil {
		allowed = g.StartSymbols()
	} else {
		allowed = g.AllowedChildren(parent, index)
	}
	terminals := make([]*grammar.Symbol, 0)
	for _, s := range grammar.Enabled(allowed) {
		if s.IsTerminal() {
			terminals = append(terminals, s)
		}
	}
	if len(terminals) == 0 {
		return tree.NoNode, fmt.Errorf("%w: %s argument %d", ErrNoTerminalSymbols, symbolName(parent), index)
	}
	return NewNode(t, rng, Pick(rng, terminals)), nil
}

// NewNode allocates a detached node for s with freshly drawn terminal data.
func NewNode(t *tree.Tree, rng random.Source, s *grammar.Symbol) tree.NodeID {
	id := t.NewNode(s)
	InitTerminal(t, rng, id)
	return id
}

// InitTerminal draws a constant value or a variable name for id according to
// its symbol. Function nodes are left untouched.
func InitTerminal(t *tree.Tree, rng random.Source, id tree.NodeID) {
	s := t.Symbol(id)
	switch s.Kind {
	case grammar.Constant:
		t.SetValue(id, s.MinValue+rng.Float64()*(s.MaxValue-s.MinValue))
	case grammar.Variable:
		if len(s.Variables) == 0 {
			t.SetVariable(id, s.Name)
			return
		}
		t.SetVariable(id, s.Variables[rng.Intn(len(s.Variables))])
	}
}

// Pick draws one symbol by InitialFrequency, uniformly when all weights are zero.
func Pick(rng random.Source, symbols []*grammar.Symbol) *grammar.Symbol {
	if len(symbols) == 0 {
		return nil
	}
	weights := make([]float64, len(symbols))
	for i, s := range symbols {
		weights[i] = s.InitialFrequency
	}
	return symbols[random.Roulette(rng, weights)]
}

func checkGrammar(g *grammar.Grammar) error {
	enabled := grammar.Enabled(g.Symbols())
	if len(enabled) == 0 {
		return ErrNoEnabledSymbols
	}
	for _, s := range enabled {
		if s.IsTerminal() {
			return nil
		}
	}
	return ErrNoTerminalSymbols
}

func symbolName(s *grammar.Symbol) string {
	if s == nil {
		return "root"
	}
	return s.Name
}
