package tree

import (
	"strconv"
	"strings"

	"evotree/internal/grammar"
)

var infixOperators = map[string]string{
	"add": "+",
	"sub": "-",
	"mul": "*",
	"div": "/",
	"gt":  ">",
	"lt":  "<",
	"and": "&&",
	"or":  "||",
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func (t *Tree) label(id NodeID) string {
	n := t.nodes[id]
	switch n.symbol.Kind {
	case grammar.Constant:
		return formatValue(n.value)
	case grammar.Variable:
		return n.variable
	default:
		return n.symbol.Name
	}
}

// SExpr renders the tree in a compact prefix form such as "(add X 0.5)".
func (t *Tree) SExpr() string {
	if t.root == NoNode {
		return "()"
	}
	var b strings.Builder
	t.writeSExpr(&b, t.root)
	return b.String()
}

func (t *Tree) writeSExpr(b *strings.Builder, id NodeID) {
	n := t.nodes[id]
	if len(n.children) == 0 {
		if n.symbol.Kind == grammar.Function {
			b.WriteString("(")
			b.WriteString(n.symbol.Name)
			b.WriteString(")")
			return
		}
		b.WriteString(t.label(id))
		return
	}
	b.WriteString("(")
	b.WriteString(n.symbol.Name)
	for _, c := range n.children {
		b.WriteString(" ")
		t.writeSExpr(b, c)
	}
	b.WriteString(")")
}

// MathString renders the tree in infix notation, for example "(X + 0.5)".
func (t *Tree) MathString() string {
	if t.root == NoNode {
		return ""
	}
	var b strings.Builder
	t.writeMath(&b, t.root)
	return b.String()
}

func (t *Tree) writeMath(b *strings.Builder, id NodeID) {
	n := t.nodes[id]
	if len(n.children) == 0 && n.symbol.Kind != grammar.Function {
		b.WriteString(t.label(id))
		return
	}
	if op, ok := infixOperators[strings.ToLower(n.symbol.Name)]; ok && len(n.children) == 2 {
		b.WriteString("(")
		t.writeMath(b, n.children[0])
		b.WriteString(" " + op + " ")
		t.writeMath(b, n.children[1])
		b.WriteString(")")
		return
	}
	b.WriteString(n.symbol.Name)
	b.WriteString("(")
	for i, c := range n.children {
		if i > 0 {
			b.WriteString(", ")
		}
		t.writeMath(b, c)
	}
	b.WriteString(")")
}

// Diagram renders one node per line, indented two spaces per level.
func (t *Tree) Diagram() string {
	if t.root == NoNode {
		return ""
	}
	var b strings.Builder
	t.writeDiagram(&b, t.root, 0)
	return b.String()
}

func (t *Tree) writeDiagram(b *strings.Builder, id NodeID, level int) {
	b.WriteString(strings.Repeat("  ", level))
	b.WriteString(t.label(id))
	b.WriteString("\n")
	for _, c := range t.nodes[id].children {
		t.writeDiagram(b, c, level+1)
	}
}

func (t *Tree) String() string {
	return t.SExpr()
}
