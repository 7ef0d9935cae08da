package evo

import (
	"errors"
	"fmt"
	"strings"

	"evotree/internal/create"
	"evotree/internal/grammar"
	"evotree/internal/random"
	"evotree/internal/tree"
)

// ArityStrategy decides how a manipulator recovers when an edit would push a
// node outside its symbol's arity bounds.
type ArityStrategy int

const (
	// ArityReplaceExistingChild replaces a random existing argument instead of
	// adding one. For removals, the parent is replaced by one of its remaining
	// arguments.
	ArityReplaceExistingChild ArityStrategy = iota
	// ArityThrow returns the arity error to the caller.
	ArityThrow
	// AritySkipAndBackfill skips an overflowing attach; removals go ahead and
	// the parent is refilled with terminals up to its minimum arity.
	AritySkipAndBackfill
	// ArityReplaceWithTerminal swaps the affected argument for a terminal.
	ArityReplaceWithTerminal
)

func (s ArityStrategy) String() string {
	switch s {
	case ArityReplaceExistingChild:
		return "replace_existing_child"
	case ArityThrow:
		return "throw"
	case AritySkipAndBackfill:
		return "skip_and_backfill"
	case ArityReplaceWithTerminal:
		return "replace_with_terminal"
	default:
		return fmt.Sprintf("arity_strategy(%d)", int(s))
	}
}

// ParseArityStrategy maps a strategy name back to its value. The empty string
// selects the default.
func ParseArityStrategy(name string) (ArityStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "replace_existing_child":
		return ArityReplaceExistingChild, nil
	case "throw":
		return ArityThrow, nil
	case "skip_and_backfill":
		return AritySkipAndBackfill, nil
	case "replace_with_terminal":
		return ArityReplaceWithTerminal, nil
	default:
		return 0, fmt.Errorf("unsupported arity strategy: %s", name)
	}
}

// editor bundles what the arity recovery paths need to grow replacements.
type editor struct {
	t         *tree.Tree
	rng       random.Source
	g         *grammar.Grammar
	maxLength int
	maxDepth  int
}

// slot describes where a node hangs: its parent (NoNode for the root) and the
// argument index.
func (e editor) slot(id tree.NodeID) (tree.NodeID, int) {
	parent := e.t.Parent(id)
	if parent == tree.NoNode {
		return tree.NoNode, 0
	}
	return parent, e.t.IndexOf(parent, id)
}

// fits reports whether symbol s may sit at argument index of parent, or at the
// root when parent is NoNode.
func (e editor) fits(parent tree.NodeID, index int, s *grammar.Symbol) bool {
	if parent == tree.NoNode {
		return e.g.IsStartSymbol(s)
	}
	return e.g.IsAllowedChild(e.t.Symbol(parent), s, index)
}

// limits resolves the configured size limits, falling back to the grammar's.
func (e editor) limits() (int, int) {
	length := e.maxLength
	if length <= 0 {
		length = e.g.MaxLength()
	}
	depth := e.maxDepth
	if depth <= 0 {
		depth = e.g.MaxDepth()
	}
	return length, depth
}

// budget returns the length and depth a subtree replacing the one at id may use.
func (e editor) budget(id tree.NodeID) (int, int) {
	length, depth := e.limits()
	current := 0
	if id != tree.NoNode {
		current = e.t.SubtreeLength(id)
	}
	return length - (e.t.Length() - current), depth - max(e.t.Level(id), 0)
}

// grow creates a subtree for argument index of parent within the budget left
// by the subtree currently at replacing (NoNode for a new argument).
func (e editor) grow(parent tree.NodeID, index int, replacing tree.NodeID) (tree.NodeID, error) {
	length, depth := e.budget(replacing)
	if replacing == tree.NoNode && parent != tree.NoNode {
		depth = e.depthBudgetBelow(parent)
	}
	if length < 1 || depth < 1 {
		return tree.NoNode, fmt.Errorf("%w: no size budget left", ErrNoMutationChoice)
	}
	var parentSymbol *grammar.Symbol
	if parent != tree.NoNode {
		parentSymbol = e.t.Symbol(parent)
	}
	id, err := create.GrowSubtree(e.t, e.rng, e.g, parentSymbol, index, length, depth)
	if errors.Is(err, create.ErrNoTerminalSymbols) || errors.Is(err, create.ErrInvalidBounds) {
		return tree.NoNode, fmt.Errorf("%w: %v", ErrNoMutationChoice, err)
	}
	return id, err
}

func (e editor) depthBudgetBelow(parent tree.NodeID) int {
	_, depth := e.limits()
	return depth - e.t.Level(parent) - 1
}

func (e editor) terminal(parent tree.NodeID, index int) (tree.NodeID, error) {
	var parentSymbol *grammar.Symbol
	if parent != tree.NoNode {
		parentSymbol = e.t.Symbol(parent)
	}
	id, err := create.Terminal(e.t, e.rng, e.g, parentSymbol, index)
	if err != nil {
		return tree.NoNode, fmt.Errorf("%w: %v", ErrNoMutationChoice, err)
	}
	return id, nil
}

// attach grows a new last argument for parent, resolving a full parent with
// the strategy.
func (e editor) attach(parent tree.NodeID, strategy ArityStrategy) error {
	count := e.t.ChildCount(parent)
	s := e.t.Symbol(parent)
	if count < s.MaxArity {
		child, err := e.grow(parent, count, tree.NoNode)
		if err != nil {
			return err
		}
		return e.t.AddSubtree(parent, child)
	}

	overflow := &tree.ArityError{Err: tree.ErrMaximumArityExceeded, Node: parent, Symbol: s.Name, Count: count + 1, Min: s.MinArity, Max: s.MaxArity}
	if count == 0 {
		return overflow
	}
	switch strategy {
	case ArityThrow:
		return overflow
	case AritySkipAndBackfill:
		return e.backfill(parent)
	case ArityReplaceWithTerminal:
		index := e.rng.Intn(count)
		term, err := e.terminal(parent, index)
		if err != nil {
			return err
		}
		_, err = e.t.ReplaceSubtree(parent, index, term)
		return err
	default:
		index := e.rng.Intn(count)
		old, _ := e.t.Subtree(parent, index)
		child, err := e.grow(parent, index, old)
		if err != nil {
			return err
		}
		_, err = e.t.ReplaceSubtree(parent, index, child)
		return err
	}
}

// detach removes argument index of parent, resolving a minimum-arity
// violation with the strategy.
func (e editor) detach(parent tree.NodeID, index int, strategy ArityStrategy) error {
	_, err := e.t.RemoveSubtree(parent, index)
	if err == nil {
		return nil
	}
	var arityErr *tree.ArityError
	if !errors.As(err, &arityErr) && !errors.Is(err, tree.ErrIncompatibleChildType) {
		return err
	}

	switch strategy {
	case ArityThrow:
		return err
	case ArityReplaceWithTerminal:
		return e.replaceWithTerminal(parent, index)
	case AritySkipAndBackfill:
		if backfillErr := e.removeAndBackfill(parent, index); backfillErr == nil {
			return nil
		}
		return e.replaceWithTerminal(parent, index)
	default:
		if absorbErr := e.absorb(parent, index); absorbErr == nil {
			return nil
		}
		if backfillErr := e.removeAndBackfill(parent, index); backfillErr == nil {
			return nil
		}
		return e.replaceWithTerminal(parent, index)
	}
}

// absorb replaces parent by one of its arguments other than index.
func (e editor) absorb(parent tree.NodeID, index int) error {
	grand, slot := e.slot(parent)
	candidates := make([]tree.NodeID, 0)
	for i, c := range e.t.Children(parent) {
		if i != index && e.fits(grand, slot, e.t.Symbol(c)) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return fmt.Errorf("%w: no argument of %s can take its place", ErrNoMutationChoice, e.t.Symbol(parent))
	}
	return e.t.ReplaceNode(parent, candidates[e.rng.Intn(len(candidates))])
}

func (e editor) removeAndBackfill(parent tree.NodeID, index int) error {
	children := e.t.Children(parent)
	next := append(children[:index:index], children[index+1:]...)
	s := e.t.Symbol(parent)
	for k := len(next); k < s.MinArity; k++ {
		term, err := e.terminal(parent, k)
		if err != nil {
			return err
		}
		next = append(next, term)
	}
	return e.t.SetChildren(parent, next)
}

// backfill tops parent up with terminals until it holds its minimum arity.
func (e editor) backfill(parent tree.NodeID) error {
	s := e.t.Symbol(parent)
	for k := e.t.ChildCount(parent); k < s.MinArity; k++ {
		term, err := e.terminal(parent, k)
		if err != nil {
			return err
		}
		if err := e.t.AddSubtree(parent, term); err != nil {
			return err
		}
	}
	return nil
}

func (e editor) replaceWithTerminal(parent tree.NodeID, index int) error {
	term, err := e.terminal(parent, index)
	if err != nil {
		return err
	}
	_, err = e.t.ReplaceSubtree(parent, index, term)
	return err
}
