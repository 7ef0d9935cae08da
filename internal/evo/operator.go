package evo

import (
	"context"
	"errors"

	"evotree/internal/tree"
)

var (
	// ErrNoMutationChoice reports that an operator found nothing to act on.
	// The loop keeps the unmodified offspring in that case.
	ErrNoMutationChoice = errors.New("no mutation choice available")
	ErrRandRequired     = errors.New("random source is required")
	ErrGrammarRequired  = errors.New("grammar is required")
)

// Operator is a mutation. Apply never modifies its input; it returns a
// mutated copy.
type Operator interface {
	Name() string
	Apply(ctx context.Context, t *tree.Tree) (*tree.Tree, error)
}

// Crossover combines two parents into one offspring without modifying either.
type Crossover interface {
	Name() string
	Cross(ctx context.Context, a, b *tree.Tree) (*tree.Tree, error)
}
