package tree

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArity          = errors.New("invalid arity")
	ErrMaximumArityExceeded  = errors.New("maximum arity exceeded")
	ErrMinimumArityViolated  = errors.New("minimum arity violated")
	ErrIncompatibleChildType = errors.New("incompatible child type")
	ErrInvalidNode           = errors.New("invalid node")
	ErrUnresolvedVariable    = errors.New("unresolved variable")
	ErrCycle                 = errors.New("subtree would create a cycle")
)

// ArityError reports a child count outside a symbol's arity bounds. Err is one
// of ErrInvalidArity, ErrMaximumArityExceeded or ErrMinimumArityViolated.
type ArityError struct {
	Err    error
	Node   NodeID
	Symbol string
	Count  int
	Min    int
	Max    int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("%v: node %d (%s) would hold %d children, arity [%d, %d]", e.Err, e.Node, e.Symbol, e.Count, e.Min, e.Max)
}

func (e *ArityError) Unwrap() error {
	return e.Err
}
