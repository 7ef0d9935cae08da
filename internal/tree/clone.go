package tree

// Clone returns a structurally independent copy holding only the nodes
// reachable from the root. Symbols are shared; nodes reached through several
// parents map to a single copy so sharing survives.
func (t *Tree) Clone() *Tree {
	out := &Tree{root: NoNode, version: t.version}
	if t.root == NoNode {
		return out
	}
	out.nodes = make([]node, 0, len(t.nodes))
	seen := make(map[NodeID]NodeID)
	out.root = t.copyInto(out, t.root, seen)
	return out
}

// Graft copies the subtree rooted at id from src into t and returns the new
// detached root. src may be t itself.
func (t *Tree) Graft(src *Tree, id NodeID) (NodeID, error) {
	if err := src.check(id); err != nil {
		return NoNode, err
	}
	if src == t {
		// Copy out first: appending to the arena while reading it would alias.
		snapshot := &Tree{root: NoNode}
		snapshot.root = t.copyInto(snapshot, id, make(map[NodeID]NodeID))
		src, id = snapshot, snapshot.root
	}
	return src.copyInto(t, id, make(map[NodeID]NodeID)), nil
}

func (t *Tree) copyInto(dst *Tree, src NodeID, seen map[NodeID]NodeID) NodeID {
	if id, ok := seen[src]; ok {
		dst.shared = true
		return id
	}
	n := t.nodes[src]
	dst.nodes = append(dst.nodes, node{
		symbol:   n.symbol,
		parent:   NoNode,
		length:   n.length,
		depth:    n.depth,
		value:    n.value,
		variable: n.variable,
	})
	id := NodeID(len(dst.nodes) - 1)
	seen[src] = id
	if len(n.children) == 0 {
		return id
	}
	children := make([]NodeID, len(n.children))
	for i, c := range n.children {
		cc := t.copyInto(dst, c, seen)
		children[i] = cc
		if dst.nodes[cc].parent == NoNode && cc != id {
			dst.nodes[cc].parent = id
		}
	}
	dst.nodes[id].children = children
	return id
}
