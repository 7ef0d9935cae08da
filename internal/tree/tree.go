package tree

import (
	"fmt"

	"evotree/internal/grammar"
)

// NodeID indexes a node inside its tree's arena.
type NodeID int

// NoNode marks an absent parent, root or child.
const NoNode NodeID = -1

type node struct {
	symbol   *grammar.Symbol
	children []NodeID
	parent   NodeID

	// length and depth are lazily computed; zero means stale.
	length int
	depth  int

	value    float64
	variable string
}

// Tree stores an expression tree as an arena of nodes linked by index. Nodes
// detached by an edit stay in the arena until the next Clone or Compact.
//
// A Tree is not safe for concurrent use; callers keep one writer at a time.
type Tree struct {
	nodes   []node
	root    NodeID
	shared  bool
	version uint64
}

func New() *Tree {
	return &Tree{root: NoNode}
}

// NewNode allocates a detached node for s.
func (t *Tree) NewNode(s *grammar.Symbol) NodeID {
	t.nodes = append(t.nodes, node{symbol: s, parent: NoNode})
	return NodeID(len(t.nodes) - 1)
}

// NewConstant allocates a detached constant terminal holding value.
func (t *Tree) NewConstant(s *grammar.Symbol, value float64) NodeID {
	id := t.NewNode(s)
	t.nodes[id].value = value
	return id
}

// NewVariable allocates a detached variable terminal bound to name.
func (t *Tree) NewVariable(s *grammar.Symbol, name string) NodeID {
	id := t.NewNode(s)
	t.nodes[id].variable = name
	return id
}

func (t *Tree) valid(id NodeID) bool {
	return id >= 0 && int(id) < len(t.nodes)
}

func (t *Tree) check(ids ...NodeID) error {
	for _, id := range ids {
		if !t.valid(id) {
			return fmt.Errorf("%w: %d", ErrInvalidNode, id)
		}
	}
	return nil
}

// Root returns the root node or NoNode for an empty tree.
func (t *Tree) Root() NodeID {
	return t.root
}

// SetRoot makes id the root. The previous root, if any, is detached.
func (t *Tree) SetRoot(id NodeID) error {
	if err := t.check(id); err != nil {
		return err
	}
	t.root = id
	t.nodes[id].parent = NoNode
	t.touch()
	return nil
}

// Version increases on every structural or value edit.
func (t *Tree) Version() uint64 {
	return t.version
}

// Shared reports whether some node is referenced by more than one parent.
func (t *Tree) Shared() bool {
	return t.shared
}

func (t *Tree) Symbol(id NodeID) *grammar.Symbol {
	if !t.valid(id) {
		return nil
	}
	return t.nodes[id].symbol
}

func (t *Tree) Parent(id NodeID) NodeID {
	if !t.valid(id) {
		return NoNode
	}
	return t.nodes[id].parent
}

func (t *Tree) ChildCount(id NodeID) int {
	if !t.valid(id) {
		return 0
	}
	return len(t.nodes[id].children)
}

// Children returns a copy of the ordered children of id.
func (t *Tree) Children(id NodeID) []NodeID {
	if !t.valid(id) {
		return nil
	}
	return append([]NodeID(nil), t.nodes[id].children...)
}

// Subtree returns the child of parent at index.
func (t *Tree) Subtree(parent NodeID, index int) (NodeID, error) {
	if err := t.check(parent); err != nil {
		return NoNode, err
	}
	children := t.nodes[parent].children
	if index < 0 || index >= len(children) {
		return NoNode, fmt.Errorf("%w: child index %d out of range [0, %d)", ErrInvalidNode, index, len(children))
	}
	return children[index], nil
}

// IndexOf returns the position of child under parent, or -1.
func (t *Tree) IndexOf(parent, child NodeID) int {
	if !t.valid(parent) {
		return -1
	}
	for i, c := range t.nodes[parent].children {
		if c == child {
			return i
		}
	}
	return -1
}

func (t *Tree) Value(id NodeID) float64 {
	if !t.valid(id) {
		return 0
	}
	return t.nodes[id].value
}

func (t *Tree) SetValue(id NodeID, value float64) {
	if !t.valid(id) {
		return
	}
	t.nodes[id].value = value
	t.version++
}

func (t *Tree) Variable(id NodeID) string {
	if !t.valid(id) {
		return ""
	}
	return t.nodes[id].variable
}

func (t *Tree) SetVariable(id NodeID, name string) {
	if !t.valid(id) {
		return
	}
	t.nodes[id].variable = name
	t.version++
}

// AddSubtree appends child as the last argument of parent.
func (t *Tree) AddSubtree(parent, child NodeID) error {
	if err := t.check(parent); err != nil {
		return err
	}
	return t.InsertSubtree(parent, len(t.nodes[parent].children), child)
}

// InsertSubtree places child at argument position index of parent, shifting
// later arguments right. It fails without modifying the tree when the parent
// is full or when any shifted argument would no longer match its declared type.
func (t *Tree) InsertSubtree(parent NodeID, index int, child NodeID) error {
	if err := t.check(parent, child); err != nil {
		return err
	}
	p := &t.nodes[parent]
	count := len(p.children)
	if index < 0 || index > count {
		return fmt.Errorf("%w: insert index %d out of range [0, %d]", ErrInvalidNode, index, count)
	}
	if count+1 > p.symbol.MaxArity {
		return &ArityError{Err: ErrMaximumArityExceeded, Node: parent, Symbol: p.symbol.Name, Count: count + 1, Min: p.symbol.MinArity, Max: p.symbol.MaxArity}
	}
	if t.isAncestorOrSelf(child, parent) {
		return fmt.Errorf("%w: node %d under %d", ErrCycle, child, parent)
	}

	next := make([]NodeID, 0, count+1)
	next = append(next, p.children[:index]...)
	next = append(next, child)
	next = append(next, p.children[index:]...)
	if err := t.checkTypes(parent, next, index); err != nil {
		return err
	}

	p.children = next
	t.adopt(parent, child)
	t.invalidate(parent)
	return nil
}

// RemoveSubtree detaches the child at index and returns it.
func (t *Tree) RemoveSubtree(parent NodeID, index int) (NodeID, error) {
	if err := t.check(parent); err != nil {
		return NoNode, err
	}
	p := &t.nodes[parent]
	count := len(p.children)
	if index < 0 || index >= count {
		return NoNode, fmt.Errorf("%w: child index %d out of range [0, %d)", ErrInvalidNode, index, count)
	}
	if count-1 < p.symbol.MinArity {
		return NoNode, &ArityError{Err: ErrMinimumArityViolated, Node: parent, Symbol: p.symbol.Name, Count: count - 1, Min: p.symbol.MinArity, Max: p.symbol.MaxArity}
	}

	removed := p.children[index]
	next := make([]NodeID, 0, count-1)
	next = append(next, p.children[:index]...)
	next = append(next, p.children[index+1:]...)
	if err := t.checkTypes(parent, next, index); err != nil {
		return NoNode, err
	}

	p.children = next
	t.release(parent, removed)
	t.invalidate(parent)
	return removed, nil
}

// ReplaceSubtree swaps the child at index for child and returns the old one.
func (t *Tree) ReplaceSubtree(parent NodeID, index int, child NodeID) (NodeID, error) {
	if err := t.check(parent, child); err != nil {
		return NoNode, err
	}
	p := &t.nodes[parent]
	if index < 0 || index >= len(p.children) {
		return NoNode, fmt.Errorf("%w: child index %d out of range [0, %d)", ErrInvalidNode, index, len(p.children))
	}
	if t.isAncestorOrSelf(child, parent) {
		return NoNode, fmt.Errorf("%w: node %d under %d", ErrCycle, child, parent)
	}
	if want, got := p.symbol.InputType(index), t.nodes[child].symbol.OutputType; want != got {
		return NoNode, fmt.Errorf("%w: %s argument %d expects %s, got %s from %s", ErrIncompatibleChildType, p.symbol.Name, index, want, got, t.nodes[child].symbol.Name)
	}

	old := p.children[index]
	p.children[index] = child
	t.release(parent, old)
	t.adopt(parent, child)
	t.invalidate(parent)
	return old, nil
}

// ReplaceNode puts replacement where target sits, either at its parent's
// argument slot or at the root. A replacement taken from inside target's
// subtree is lifted out first; the rest of that subtree is discarded.
func (t *Tree) ReplaceNode(target, replacement NodeID) error {
	if err := t.check(target, replacement); err != nil {
		return err
	}
	if target == replacement {
		return nil
	}
	if p := t.nodes[replacement].parent; p != NoNode && !t.shared && t.isAncestorOrSelf(target, p) {
		t.cut(p, replacement)
	}
	if target == t.root {
		return t.SetRoot(replacement)
	}
	parent := t.nodes[target].parent
	index := t.IndexOf(parent, target)
	if index < 0 {
		return fmt.Errorf("%w: node %d is detached", ErrInvalidNode, target)
	}
	_, err := t.ReplaceSubtree(parent, index, replacement)
	return err
}

// SetSymbol swaps the symbol of id while keeping its children. The current
// children must satisfy the new symbol's arity and argument types.
func (t *Tree) SetSymbol(id NodeID, s *grammar.Symbol) error {
	if err := t.check(id); err != nil {
		return err
	}
	n := &t.nodes[id]
	if !s.AcceptsArity(len(n.children)) {
		return &ArityError{Err: ErrInvalidArity, Node: id, Symbol: s.Name, Count: len(n.children), Min: s.MinArity, Max: s.MaxArity}
	}
	for i, c := range n.children {
		if want, got := s.InputType(i), t.nodes[c].symbol.OutputType; want != got {
			return fmt.Errorf("%w: %s argument %d expects %s, got %s", ErrIncompatibleChildType, s.Name, i, want, got)
		}
	}
	n.symbol = s
	t.invalidate(id)
	return nil
}

// SetChildren replaces the whole argument list of id. The new list must fit
// the symbol's arity and argument types; nodes dropped from the list are
// detached.
func (t *Tree) SetChildren(id NodeID, children []NodeID) error {
	if err := t.check(id); err != nil {
		return err
	}
	if err := t.check(children...); err != nil {
		return err
	}
	s := t.nodes[id].symbol
	if !s.AcceptsArity(len(children)) {
		return &ArityError{Err: ErrInvalidArity, Node: id, Symbol: s.Name, Count: len(children), Min: s.MinArity, Max: s.MaxArity}
	}
	for _, c := range children {
		if t.isAncestorOrSelf(c, id) {
			return fmt.Errorf("%w: node %d under %d", ErrCycle, c, id)
		}
	}
	next := append([]NodeID(nil), children...)
	if err := t.checkTypes(id, next, 0); err != nil {
		return err
	}

	old := t.nodes[id].children
	t.nodes[id].children = next
	for _, c := range old {
		t.release(id, c)
	}
	for _, c := range next {
		t.adopt(id, c)
	}
	t.invalidate(id)
	return nil
}

// cut unlinks child from parent without any arity check. Only used when
// parent itself is about to be discarded.
func (t *Tree) cut(parent, child NodeID) {
	p := &t.nodes[parent]
	kept := p.children[:0]
	for _, c := range p.children {
		if c != child {
			kept = append(kept, c)
		}
	}
	p.children = kept
	t.nodes[child].parent = NoNode
	t.invalidate(parent)
}

func (t *Tree) checkTypes(parent NodeID, children []NodeID, from int) error {
	s := t.nodes[parent].symbol
	for i := from; i < len(children); i++ {
		child := t.nodes[children[i]].symbol
		if want := s.InputType(i); child.OutputType != want {
			return fmt.Errorf("%w: %s argument %d expects %s, got %s from %s", ErrIncompatibleChildType, s.Name, i, want, child.OutputType, child.Name)
		}
	}
	return nil
}

func (t *Tree) adopt(parent, child NodeID) {
	c := &t.nodes[child]
	if c.parent == NoNode && child != t.root {
		c.parent = parent
		return
	}
	if c.parent != parent || t.countReferences(parent, child) > 1 {
		t.shared = true
	}
}

func (t *Tree) release(parent, child NodeID) {
	if t.nodes[child].parent == parent && t.IndexOf(parent, child) < 0 {
		t.nodes[child].parent = NoNode
	}
}

func (t *Tree) countReferences(parent, child NodeID) int {
	n := 0
	for _, c := range t.nodes[parent].children {
		if c == child {
			n++
		}
	}
	return n
}

func (t *Tree) isAncestorOrSelf(candidate, id NodeID) bool {
	if !t.shared {
		for cur := id; cur != NoNode; cur = t.nodes[cur].parent {
			if cur == candidate {
				return true
			}
		}
		return false
	}
	// With sharing the parent links are incomplete; search downwards instead.
	found := false
	t.walkPrefix(candidate, func(n NodeID) bool {
		if n == id {
			found = true
			return false
		}
		return true
	})
	return found
}

// invalidate clears cached sizes on id and its ancestors.
func (t *Tree) invalidate(id NodeID) {
	t.touch()
	if t.shared {
		for i := range t.nodes {
			t.nodes[i].length = 0
			t.nodes[i].depth = 0
		}
		return
	}
	for cur := id; cur != NoNode; cur = t.nodes[cur].parent {
		t.nodes[cur].length = 0
		t.nodes[cur].depth = 0
	}
}

func (t *Tree) touch() {
	t.version++
}

// Length returns the node count of the whole tree.
func (t *Tree) Length() int {
	if t.root == NoNode {
		return 0
	}
	return t.SubtreeLength(t.root)
}

// Depth returns the node count on the longest root-to-leaf path.
func (t *Tree) Depth() int {
	if t.root == NoNode {
		return 0
	}
	return t.SubtreeDepth(t.root)
}

// SubtreeLength returns the node count below and including id. Shared nodes
// are counted once per reference.
func (t *Tree) SubtreeLength(id NodeID) int {
	if !t.valid(id) {
		return 0
	}
	n := &t.nodes[id]
	if n.length > 0 {
		return n.length
	}
	length := 1
	for _, c := range t.nodes[id].children {
		length += t.SubtreeLength(c)
	}
	t.nodes[id].length = length
	return length
}

// SubtreeDepth returns the depth of the subtree rooted at id; a leaf has depth 1.
func (t *Tree) SubtreeDepth(id NodeID) int {
	if !t.valid(id) {
		return 0
	}
	if d := t.nodes[id].depth; d > 0 {
		return d
	}
	depth := 0
	for _, c := range t.nodes[id].children {
		depth = max(depth, t.SubtreeDepth(c))
	}
	t.nodes[id].depth = depth + 1
	return depth + 1
}

// Level returns the number of edges between id and the root, or -1 when id is
// not attached to the root.
func (t *Tree) Level(id NodeID) int {
	if !t.valid(id) {
		return -1
	}
	level := 0
	for cur := id; cur != t.root; cur = t.nodes[cur].parent {
		if cur == NoNode || t.nodes[cur].parent == NoNode {
			return -1
		}
		level++
	}
	return level
}

// Attached reports whether id is reachable from the root through parent links.
func (t *Tree) Attached(id NodeID) bool {
	return t.Level(id) >= 0
}

// Validate checks arity bounds and argument types for every reachable node.
func (t *Tree) Validate() error {
	if t.root == NoNode {
		return nil
	}
	var err error
	t.walkPrefix(t.root, func(id NodeID) bool {
		n := t.nodes[id]
		if !n.symbol.AcceptsArity(len(n.children)) {
			err = &ArityError{Err: ErrInvalidArity, Node: id, Symbol: n.symbol.Name, Count: len(n.children), Min: n.symbol.MinArity, Max: n.symbol.MaxArity}
			return false
		}
		if typeErr := t.checkTypes(id, n.children, 0); typeErr != nil {
			err = typeErr
			return false
		}
		return true
	})
	return err
}

// Compact drops detached nodes from the arena.
func (t *Tree) Compact() {
	*t = *t.Clone()
}
