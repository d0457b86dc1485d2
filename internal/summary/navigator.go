package summary

// Position is an immutable navigator position. It is returned by
// Navigator.Position and handed back to SetPosition, so a caller can visit
// sibling labels from the same parent without leaking state between them.
type Position struct {
	node    *PathNode
	depth   int
	outside bool
}

// Depth returns the number of labeled steps taken from the root.
func (p Position) Depth() int {
	return p.depth
}

// Outside reports whether a previous step left the area covered by the
// summary.
func (p Position) Outside() bool {
	return p.outside
}

// Navigator is a stateful cursor over a summary. Navigators are not safe for
// concurrent use; every worker owns its own.
type Navigator interface {
	// Reset moves back to the root position.
	Reset()
	Position() Position
	SetPosition(Position)
	// Descend follows one labeled edge and returns the types valid at the new
	// position. Labels the summary does not know yield DefaultTypes.
	Descend(label string) TypeSet
}

// Factory creates a fresh navigator.
type Factory func() Navigator

// constantNavigator answers the same type set for every label.
type constantNavigator struct {
	types TypeSet
	pos   Position
}

// Constant returns a navigator resolving every label to types.
func Constant(types TypeSet) Navigator {
	if types.IsEmpty() {
		types = DefaultTypes
	}
	return &constantNavigator{types: types}
}

func (n *constantNavigator) Reset()                 { n.pos = Position{} }
func (n *constantNavigator) Position() Position     { return n.pos }
func (n *constantNavigator) SetPosition(p Position) { n.pos = p }

func (n *constantNavigator) Descend(string) TypeSet {
	n.pos.depth++
	return n.types
}

// LabelSummary maps labels to their types regardless of the path leading to
// them.
type LabelSummary struct {
	labels map[string]TypeSet
}

// NewLabelSummary builds a label summary. Labels mapped to an empty set are
// known but untyped.
func NewLabelSummary(labels map[string]TypeSet) *LabelSummary {
	cp := make(map[string]TypeSet, len(labels))
	for k, v := range labels {
		cp[k] = v
	}
	return &LabelSummary{labels: cp}
}

// Types returns the types recorded for label.
func (s *LabelSummary) Types(label string) (TypeSet, bool) {
	t, ok := s.labels[label]
	return t, ok
}

// Len returns the number of labels.
func (s *LabelSummary) Len() int {
	return len(s.labels)
}

// Navigator returns a new navigator over s.
func (s *LabelSummary) Navigator() Navigator {
	return &labelNavigator{summary: s}
}

type labelNavigator struct {
	summary *LabelSummary
	pos     Position
}

func (n *labelNavigator) Reset()                 { n.pos = Position{} }
func (n *labelNavigator) Position() Position     { return n.pos }
func (n *labelNavigator) SetPosition(p Position) { n.pos = p }

func (n *labelNavigator) Descend(label string) TypeSet {
	n.pos.depth++
	types, ok := n.summary.labels[label]
	if !ok {
		n.pos.outside = true
		return DefaultTypes
	}
	if types.IsEmpty() {
		return DefaultTypes
	}
	return types
}

// PathNode is one position of a path summary.
type PathNode struct {
	Types    TypeSet
	Children map[string]*PathNode
}

// Child returns the child for label, creating it if needed.
func (n *PathNode) Child(label string) *PathNode {
	if n.Children == nil {
		n.Children = make(map[string]*PathNode)
	}
	c, ok := n.Children[label]
	if !ok {
		c = &PathNode{}
		n.Children[label] = c
	}
	return c
}

// PathSummary records types per root-to-field label path.
type PathSummary struct {
	root *PathNode
}

// NewPathSummary wraps root.
func NewPathSummary(root *PathNode) *PathSummary {
	if root == nil {
		root = &PathNode{Types: Types(Object)}
	}
	return &PathSummary{root: root}
}

// Navigator returns a new navigator over s.
func (s *PathSummary) Navigator() Navigator {
	nav := &pathNavigator{summary: s}
	nav.Reset()
	return nav
}

type pathNavigator struct {
	summary *PathSummary
	pos     Position
}

func (n *pathNavigator) Reset()                 { n.pos = Position{node: n.summary.root} }
func (n *pathNavigator) Position() Position     { return n.pos }
func (n *pathNavigator) SetPosition(p Position) { n.pos = p }

func (n *pathNavigator) Descend(label string) TypeSet {
	n.pos.depth++
	if n.pos.node == nil {
		n.pos.outside = true
		return DefaultTypes
	}
	child, ok := n.pos.node.Children[label]
	if !ok {
		n.pos = Position{depth: n.pos.depth, outside: true}
		return DefaultTypes
	}
	n.pos.node = child
	if child.Types.IsEmpty() {
		return DefaultTypes
	}
	return child.Types
}
