package tree

import (
	"fmt"

	"evotree/internal/grammar"
)

// Evaluate computes the value of the whole tree under vars.
func (t *Tree) Evaluate(vars map[string]float64) (float64, error) {
	if t.root == NoNode {
		return 0, fmt.Errorf("%w: empty tree", ErrInvalidNode)
	}
	return t.EvaluateNode(t.root, vars)
}

// EvaluateNode computes the value of the subtree rooted at id. An unbound
// variable name fails the evaluation with ErrUnresolvedVariable.
func (t *Tree) EvaluateNode(id NodeID, vars map[string]float64) (float64, error) {
	return t.evaluate(id, vars, nil)
}

// evaluate recurses through id; memo, when set, may short-circuit subtrees.
func (t *Tree) evaluate(id NodeID, vars map[string]float64, memo func(NodeID, func() (float64, error)) (float64, error)) (float64, error) {
	if err := t.check(id); err != nil {
		return 0, err
	}
	compute := func() (float64, error) {
		n := t.nodes[id]
		switch n.symbol.Kind {
		case grammar.Constant:
			return n.value, nil
		case grammar.Variable:
			v, ok := vars[n.variable]
			if !ok {
				return 0, fmt.Errorf("%w: %s", ErrUnresolvedVariable, n.variable)
			}
			return v, nil
		default:
			args := make([]float64, len(n.children))
			for i, c := range n.children {
				v, err := t.evaluate(c, vars, memo)
				if err != nil {
					return 0, err
				}
				args[i] = v
			}
			if n.symbol.Eval == nil {
				return 0, nil
			}
			return n.symbol.Eval(args), nil
		}
	}
	if memo != nil {
		return memo(id, compute)
	}
	return compute()
}
