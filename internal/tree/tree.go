// Package tree defines the tree patterns produced by the rewriting subsystem:
// rooted, immutable trees whose edges carry field labels and whose leaves may
// carry a scalar value or a terminal marker.
package tree

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is the closed set of constraint values a node may carry.
type Value interface {
	isValue()
	String() string
}

// String is a string leaf value.
type String string

// Number is a numeric leaf value.
type Number float64

// Range is an inclusive record-identifier interval.
type Range struct {
	Min int64
	Max int64
}

// Ranges is the value synthesized for a logical partition restriction.
type Ranges []Range

func (String) isValue() {}
func (Number) isValue() {}
func (Ranges) isValue() {}

func (s String) String() string { return strconv.Quote(string(s)) }

func (n Number) String() string {
	return strconv.FormatFloat(float64(n), 'g', -1, 64)
}

// Int64 returns n as an int64 when it is integral and representable.
// 2^63 is exactly representable as a float64 but not as an int64.
func (n Number) Int64() (int64, bool) {
	f := float64(n)
	if math.IsNaN(f) || f != math.Trunc(f) || f < math.MinInt64 || f >= 1<<63 {
		return 0, false
	}
	return int64(f), true
}

func (r Range) String() string {
	if r.Min == r.Max {
		return strconv.FormatInt(r.Min, 10)
	}
	return fmt.Sprintf("%d..%d", r.Min, r.Max)
}

// Size returns the number of identifiers covered by r.
func (r Range) Size() int64 {
	return r.Max - r.Min + 1
}

func (rs Ranges) String() string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = r.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Node is one position of a pattern. A node without edges is a leaf.
type Node struct {
	Value    Value
	Terminal bool
	Edges    []Edge
}

// Edge is a labeled link to a child node.
type Edge struct {
	Label string
	Child *Node
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Edges) == 0
}

// Pattern is a rooted tree pattern. Patterns are never mutated once built.
type Pattern struct {
	Root *Node
}

// New wraps root into a Pattern.
func New(root *Node) *Pattern {
	return &Pattern{Root: root}
}

// Leaf builds a terminal leaf carrying v.
func Leaf(v Value) *Node {
	return &Node{Value: v, Terminal: true}
}

// Exists builds a leaf without value. terminal requires a genuine scalar leaf
// in the data; otherwise any type is accepted.
func Exists(terminal bool) *Node {
	return &Node{Terminal: terminal}
}

// Object builds an internal node from alternating label/child pairs.
func Object(edges ...Edge) *Node {
	return &Node{Edges: edges}
}

// E is a shorthand edge constructor.
func E(label string, child *Node) Edge {
	return Edge{Label: label, Child: child}
}

// WithChild returns a new pattern whose root has one more edge, prepended
// before the existing ones. The receiver is left untouched.
func (p *Pattern) WithChild(label string, child *Node) *Pattern {
	root := &Node{
		Value:    p.Root.Value,
		Terminal: p.Root.Terminal,
		Edges:    make([]Edge, 0, len(p.Root.Edges)+1),
	}
	root.Edges = append(root.Edges, Edge{Label: label, Child: child})
	root.Edges = append(root.Edges, p.Root.Edges...)
	return &Pattern{Root: root}
}

// Size returns the number of nodes of p.
func (p *Pattern) Size() int {
	return countNodes(p.Root)
}

func countNodes(n *Node) int {
	total := 1
	for _, e := range n.Edges {
		total += countNodes(e.Child)
	}
	return total
}

// String renders p in the JSON-like notation read by Decode. Repeated labels
// are rendered as repeated keys.
func (p *Pattern) String() string {
	var sb strings.Builder
	writeNode(&sb, p.Root)
	return sb.String()
}

func writeNode(sb *strings.Builder, n *Node) {
	if !n.IsLeaf() {
		sb.WriteByte('{')
		for i, e := range n.Edges {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(e.Label))
			sb.WriteByte(':')
			writeNode(sb, e.Child)
		}
		sb.WriteByte('}')
		return
	}
	switch {
	case n.Value != nil:
		sb.WriteString(n.Value.String())
	case n.Terminal:
		sb.WriteString("null")
	default:
		sb.WriteString("{}")
	}
}
