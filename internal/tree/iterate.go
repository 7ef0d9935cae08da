package tree

// Order selects a traversal order.
type Order int

const (
	Prefix Order = iota
	Postfix
	Breadth
)

func (o Order) String() string {
	switch o {
	case Prefix:
		return "prefix"
	case Postfix:
		return "postfix"
	case Breadth:
		return "breadth"
	default:
		return "unknown"
	}
}

// Iterate lists the nodes reachable from the root in the given order. Shared
// nodes appear once per reference.
func (t *Tree) Iterate(order Order) []NodeID {
	if t.root == NoNode {
		return nil
	}
	return t.IterateFrom(t.root, order)
}

// IterateFrom lists the nodes of the subtree rooted at id in the given order.
func (t *Tree) IterateFrom(id NodeID, order Order) []NodeID {
	if !t.valid(id) {
		return nil
	}
	out := make([]NodeID, 0, t.SubtreeLength(id))
	switch order {
	case Postfix:
		t.walkPostfix(id, func(n NodeID) { out = append(out, n) })
	case Breadth:
		queue := []NodeID{id}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			out = append(out, cur)
			queue = append(queue, t.nodes[cur].children...)
		}
	default:
		t.walkPrefix(id, func(n NodeID) bool {
			out = append(out, n)
			return true
		})
	}
	return out
}

// walkPrefix visits id before its children; returning false from fn stops
// the walk.
func (t *Tree) walkPrefix(id NodeID, fn func(NodeID) bool) bool {
	if !fn(id) {
		return false
	}
	for _, c := range t.nodes[id].children {
		if !t.walkPrefix(c, fn) {
			return false
		}
	}
	return true
}

func (t *Tree) walkPostfix(id NodeID, fn func(NodeID)) {
	for _, c := range t.nodes[id].children {
		t.walkPostfix(c, fn)
	}
	fn(id)
}

// Terminals lists reachable leaf nodes in prefix order.
func (t *Tree) Terminals() []NodeID {
	out := make([]NodeID, 0)
	for _, id := range t.Iterate(Prefix) {
		if len(t.nodes[id].children) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Internal lists reachable nodes holding at least one child in prefix order.
func (t *Tree) Internal() []NodeID {
	out := make([]NodeID, 0)
	for _, id := range t.Iterate(Prefix) {
		if len(t.nodes[id].children) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// AtLevel lists reachable nodes whose distance from the root equals level.
func (t *Tree) AtLevel(level int) []NodeID {
	if t.root == NoNode || level < 0 {
		return nil
	}
	current := []NodeID{t.root}
	for l := 0; l < level && len(current) > 0; l++ {
		next := make([]NodeID, 0)
		for _, id := range current {
			next = append(next, t.nodes[id].children...)
		}
		current = next
	}
	return current
}
