package tree

import (
	"fmt"
	"sort"

	"evotree/internal/grammar"
)

const MultiOutputRootName = "MultiOutputRoot"

// MultiOutputTree holds several output subtrees under one root. Output
// subtrees may reference the same nodes, which lets one computation feed many
// outputs.
type MultiOutputTree struct {
	tree    *Tree
	outputs int
	cache   *EvalCache
}

func NewMultiOutput(outputs int) (*MultiOutputTree, error) {
	return NewMultiOutputWithCapacity(outputs, DefaultCacheCapacity)
}

func NewMultiOutputWithCapacity(outputs, capacity int) (*MultiOutputTree, error) {
	if outputs <= 0 {
		return nil, fmt.Errorf("output count must be > 0")
	}
	rootSymbol := &grammar.Symbol{
		Name:       MultiOutputRootName,
		Kind:       grammar.Function,
		MinArity:   0,
		MaxArity:   outputs,
		InputTypes: []grammar.Type{grammar.Float},
		OutputType: grammar.Float,
		Enabled:    true,
	}
	t := New()
	if err := t.SetRoot(t.NewNode(rootSymbol)); err != nil {
		return nil, err
	}
	return &MultiOutputTree{tree: t, outputs: outputs, cache: NewEvalCache(capacity)}, nil
}

// Tree exposes the underlying arena for building output subtrees.
func (m *MultiOutputTree) Tree() *Tree {
	return m.tree
}

func (m *MultiOutputTree) Outputs() int {
	return m.outputs
}

// SetOutput installs id as output index. Outputs are filled in order; an
// existing output is replaced.
func (m *MultiOutputTree) SetOutput(index int, id NodeID) error {
	root := m.tree.Root()
	count := m.tree.ChildCount(root)
	switch {
	case index < 0 || index >= m.outputs:
		return fmt.Errorf("%w: output index %d out of range [0, %d)", ErrInvalidNode, index, m.outputs)
	case index < count:
		if _, err := m.tree.ReplaceSubtree(root, index, id); err != nil {
			return err
		}
	case index == count:
		if err := m.tree.AddSubtree(root, id); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: output %d set before output %d", ErrInvalidNode, index, count)
	}
	m.cache.Clear()
	return nil
}

// Output returns the subtree root of output index or NoNode.
func (m *MultiOutputTree) Output(index int) NodeID {
	id, err := m.tree.Subtree(m.tree.Root(), index)
	if err != nil {
		return NoNode
	}
	return id
}

// EvaluateAll returns one value per output under vars, reusing cached node
// values for repeated assignments.
func (m *MultiOutputTree) EvaluateAll(vars map[string]float64) ([]float64, error) {
	root := m.tree.Root()
	if count := m.tree.ChildCount(root); count != m.outputs {
		return nil, fmt.Errorf("%w: %d of %d outputs set", ErrInvalidNode, count, m.outputs)
	}
	if m.cache.version != m.tree.Version() {
		m.cache.Clear()
		m.cache.version = m.tree.Version()
	}
	m.cache.bind(vars)

	values := make([]float64, m.outputs)
	for i, out := range m.tree.Children(root) {
		output := i
		v, err := m.tree.evaluate(out, vars, func(id NodeID, compute func() (float64, error)) (float64, error) {
			if cached, ok := m.cache.lookup(id, output); ok {
				return cached, nil
			}
			value, err := compute()
			if err != nil {
				return 0, err
			}
			m.cache.store(id, output, value)
			return value, nil
		})
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		values[i] = v
	}
	return values, nil
}

func (m *MultiOutputTree) ClearCache() {
	m.cache.Clear()
}

func (m *MultiOutputTree) CacheSize() int {
	return m.cache.Size()
}

func (m *MultiOutputTree) HashValid() bool {
	return m.cache.HashValid()
}

func (m *MultiOutputTree) CacheStats() (hits, misses int) {
	return m.cache.Stats()
}

// SharedNodes returns, in ascending order, the nodes visited more than once
// by a postfix traversal of all outputs.
func (m *MultiOutputTree) SharedNodes() []NodeID {
	counts := make(map[NodeID]int)
	for _, out := range m.tree.Children(m.tree.Root()) {
		m.tree.walkPostfix(out, func(id NodeID) { counts[id]++ })
	}
	shared := make([]NodeID, 0)
	for id, n := range counts {
		if n > 1 {
			shared = append(shared, id)
		}
	}
	sort.Slice(shared, func(i, j int) bool { return shared[i] < shared[j] })
	return shared
}

// Clone copies the outputs, keeping shared structure shared, with an empty cache.
func (m *MultiOutputTree) Clone() *MultiOutputTree {
	return &MultiOutputTree{
		tree:    m.tree.Clone(),
		outputs: m.outputs,
		cache:   NewEvalCache(m.cache.Capacity()),
	}
}
