// Package compiler translates tree patterns into native filters. The
// structural type of every labeled position is resolved through a summary
// navigator: array positions are wrapped in ElemMatch, and siblings sharing
// a label are merged onto that label when their constraints allow it.
package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/measure"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/partition"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/summary"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/tree"
	apperrors "github.com/Adithya-Monish-Kumar-K/tree-query/pkg/errors"
)

// Options are the leaf and partition policies of a Compiler.
type Options struct {
	// CheckTerminalLeaf makes value-less terminal leaves require a
	// non-container value instead of mere existence.
	CheckTerminalLeaf bool
	// PartitionID is the field holding record identifiers.
	PartitionID string
	Partition   partition.Partition
}

// Compiler compiles patterns with fixed options. It holds no navigator state
// and is safe for concurrent use; navigators are not.
type Compiler struct {
	opts   Options
	timer  *measure.Timer
	logger *slog.Logger
}

// New creates a compiler. timer, when not nil, accumulates compilation time.
func New(opts Options, timer *measure.Timer) *Compiler {
	if opts.PartitionID == "" {
		opts.PartitionID = "_id"
	}
	return &Compiler{
		opts:   opts,
		timer:  timer,
		logger: slog.Default().With("component", "compiler"),
	}
}

// Compile translates p into a document-level filter. nav is reset first.
func (c *Compiler) Compile(p *tree.Pattern, nav summary.Navigator) (filter.Filter, error) {
	if c.timer != nil {
		c.timer.Start()
		defer c.timer.Stop()
	}
	if p == nil || p.Root == nil {
		return nil, &apperrors.CompilationInvariantError{Reason: "empty pattern"}
	}
	nav.Reset()
	if c.opts.Partition.HasIntervals() {
		p = p.WithChild(c.opts.PartitionID, tree.Leaf(c.opts.Partition.Intervals))
	}
	if p.Root.IsLeaf() {
		if p.Root.Value != nil {
			return nil, &apperrors.CompilationInvariantError{
				Pattern: p.String(),
				Reason:  "root carries a value",
			}
		}
		return filter.Keyed{}, nil
	}
	st := &state{c: c, pattern: p, nav: nav}
	f, err := st.node(p.Root, summary.Types(summary.Object))
	if err != nil {
		return nil, err
	}
	if c.logger.Enabled(context.Background(), slog.LevelDebug) {
		c.logger.Debug("pattern compiled", "pattern", p.String(), "filter", filter.JSON(f))
	}
	return f, nil
}

// state carries one compilation.
type state struct {
	c       *Compiler
	pattern *tree.Pattern
	nav     summary.Navigator
}

func (s *state) invariant(format string, args ...any) error {
	return &apperrors.CompilationInvariantError{
		Pattern: s.pattern.String(),
		Reason:  fmt.Sprintf(format, args...),
	}
}

// node compiles n, reached at a position of the given types. Leaves yield
// field-level filters, internal nodes document-level ones, possibly wrapped
// in ElemMatch.
func (s *state) node(n *tree.Node, types summary.TypeSet) (filter.Filter, error) {
	if n.IsLeaf() {
		f, err := s.leaf(n)
		if err != nil {
			return nil, err
		}
		if _, isRange := f.(filter.Range); types.IsArray() && !isRange {
			return filter.ElemMatch{Inner: f}, nil
		}
		return f, nil
	}
	if n.Value != nil {
		return nil, s.invariant("intermediary node has a value: %s", n.Value)
	}

	saved := s.nav.Position()
	children := make([]labeled, 0, len(n.Edges))
	for _, e := range n.Edges {
		s.nav.SetPosition(saved)
		childTypes := s.nav.Descend(e.Label)
		if err := childTypes.Validate(e.Label); err != nil {
			return nil, err
		}
		f, err := s.node(e.Child, childTypes)
		if err != nil {
			return nil, err
		}
		children = append(children, labeled{label: e.Label, filter: filter.Prefix(e.Label, f)})
	}
	s.nav.SetPosition(saved)

	f := mergeChildren(children)
	if types.IsArray() {
		return filter.ElemMatch{Inner: f}, nil
	}
	return f, nil
}

func (s *state) leaf(n *tree.Node) (filter.Filter, error) {
	switch v := n.Value.(type) {
	case nil:
		if n.Terminal && s.c.opts.CheckTerminalLeaf {
			return filter.Exists{NonContainer: true}, nil
		}
		return filter.Exists{}, nil
	case tree.String:
		return filter.Equals{Value: string(v)}, nil
	case tree.Number:
		if i, ok := v.Int64(); ok {
			return filter.Equals{Value: i}, nil
		}
		return filter.Equals{Value: float64(v)}, nil
	case tree.Ranges:
		if len(v) != 1 {
			return nil, apperrors.Newf(apperrors.ErrUnsupported, apperrors.StageCompile,
				"partition restriction with %d intervals, only one is supported", len(v))
		}
		return filter.Range{Min: v[0].Min, Max: v[0].Max}, nil
	default:
		return nil, s.invariant("unhandled leaf value %T", v)
	}
}

// labeled is one compiled child, already namespaced under its label.
type labeled struct {
	label  string
	filter filter.Filter
}

// mergeChildren conjoins the compiled children of one node. Fields are
// gathered into one Keyed filter; fields targeted by several children are
// merged, and the ones that cannot be are kept as separate conjuncts so
// that no constraint is lost.
func mergeChildren(children []labeled) filter.Filter {
	var (
		order     []string
		byKey     = make(map[string][]filter.Filter)
		conjuncts []filter.Filter
	)
	for _, child := range children {
		keyed, ok := child.filter.(filter.Keyed)
		if !ok {
			conjuncts = append(conjuncts, child.filter)
			continue
		}
		for _, field := range keyed.Fields {
			if _, seen := byKey[field.Key]; !seen {
				order = append(order, field.Key)
			}
			byKey[field.Key] = append(byKey[field.Key], field.Filter)
		}
	}

	merged := filter.Keyed{Fields: make([]filter.Field, 0, len(order))}
	var unmerged []filter.Filter
	for _, key := range order {
		filters := byKey[key]
		f, ok := mergeField(key, filters)
		if !ok {
			for _, g := range filters {
				unmerged = append(unmerged, filter.Key(key, g))
			}
			continue
		}
		merged.Fields = append(merged.Fields, filter.Field{Key: key, Filter: f})
	}

	if len(unmerged) == 0 && len(conjuncts) == 0 {
		return merged
	}
	all := make([]filter.Filter, 0, 1+len(unmerged)+len(conjuncts))
	if len(merged.Fields) > 0 {
		all = append(all, merged)
	}
	all = append(all, unmerged...)
	all = append(all, conjuncts...)
	return filter.Conjunction(all)
}

// mergeField folds the constraints on one field. It reports false when they
// cannot be expressed as a single constraint.
func mergeField(key string, filters []filter.Filter) (filter.Filter, bool) {
	acc := filters[0]
	for _, f := range filters[1:] {
		var ok bool
		if acc, ok = combine(key, acc, f); !ok {
			return nil, false
		}
	}
	return acc, true
}

// combine merges two constraints on the same field:
//   - identical constraints collapse;
//   - existence is absorbed by any other constraint, and of two existence
//     checks the non-container one is kept;
//   - equalities and $all lists on a plain field join into one $all.
//
// Anything else, including any merge on a dotted path, fails.
func combine(key string, a, b filter.Filter) (filter.Filter, bool) {
	if filter.Equivalent(a, b) {
		return a, true
	}
	ea, aExists := a.(filter.Exists)
	eb, bExists := b.(filter.Exists)
	switch {
	case aExists && bExists:
		return filter.Exists{NonContainer: ea.NonContainer || eb.NonContainer}, true
	case aExists:
		return b, true
	case bExists:
		return a, true
	}
	if strings.Contains(key, ".") {
		return nil, false
	}
	av, aok := equalityValues(a)
	bv, bok := equalityValues(b)
	if !aok || !bok {
		return nil, false
	}
	values := make([]any, 0, len(av)+len(bv))
	values = append(values, av...)
	values = append(values, bv...)
	return filter.All{Values: values}, true
}

func equalityValues(f filter.Filter) ([]any, bool) {
	switch v := f.(type) {
	case filter.Equals:
		return []any{v.Value}, true
	case filter.All:
		return v.Values, true
	default:
		return nil, false
	}
}
