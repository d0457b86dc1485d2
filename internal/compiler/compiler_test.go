package compiler

import (
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/measure"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/partition"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/summary"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/tree"
	apperrors "github.com/Adithya-Monish-Kumar-K/tree-query/pkg/errors"
)

func labels(m map[string]summary.TypeSet) summary.Navigator {
	return summary.NewLabelSummary(m).Navigator()
}

var (
	scalar = summary.Types(summary.Scalar)
	object = summary.Types(summary.Object)
	array  = summary.Types(summary.Array)
)

func TestCompile(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		types   map[string]summary.TypeSet
		want    filter.Filter
	}{
		{
			name:    "scalar equality",
			pattern: `{"tag":"x"}`,
			types:   map[string]summary.TypeSet{"tag": scalar},
			want:    filter.Key("tag", filter.Equals{Value: "x"}),
		},
		{
			name:    "object equality",
			pattern: `{"tag":"x"}`,
			types:   map[string]summary.TypeSet{"tag": object},
			want:    filter.Key("tag", filter.Equals{Value: "x"}),
		},
		{
			name:    "array equality",
			pattern: `{"tag":"x"}`,
			types:   map[string]summary.TypeSet{"tag": array},
			want:    filter.Key("tag", filter.ElemMatch{Inner: filter.Equals{Value: "x"}}),
		},
		{
			name:    "multiple is an array",
			pattern: `{"tag":"x"}`,
			types:   map[string]summary.TypeSet{"tag": summary.Types(summary.Multiple)},
			want:    filter.Key("tag", filter.ElemMatch{Inner: filter.Equals{Value: "x"}}),
		},
		{
			name:    "repeated label",
			pattern: `{"tag":"x","tag":"y"}`,
			types:   map[string]summary.TypeSet{"tag": scalar},
			want:    filter.Key("tag", filter.All{Values: []any{"y", "x"}}),
		},
		{
			name:    "repeated label as list",
			pattern: `{"tag":["x","y","z"]}`,
			types:   map[string]summary.TypeSet{"tag": scalar},
			want:    filter.Key("tag", filter.All{Values: []any{"x", "y", "z"}}),
		},
		{
			name:    "repeated array label",
			pattern: `{"tag":"x","tag":"y"}`,
			types:   map[string]summary.TypeSet{"tag": array},
			want: filter.And{Children: []filter.Filter{
				filter.Key("tag", filter.ElemMatch{Inner: filter.Equals{Value: "x"}}),
				filter.Key("tag", filter.ElemMatch{Inner: filter.Equals{Value: "y"}}),
			}},
		},
		{
			name:    "existence absorbed",
			pattern: `{"tag":{},"tag":"x"}`,
			types:   map[string]summary.TypeSet{"tag": scalar},
			want:    filter.Key("tag", filter.Equals{Value: "x"}),
		},
		{
			name:    "stricter existence kept",
			pattern: `{"tag":{},"tag":null}`,
			types:   map[string]summary.TypeSet{"tag": scalar},
			want:    filter.Key("tag", filter.Exists{NonContainer: true}),
		},
		{
			name:    "terminal leaf",
			pattern: `{"a":null}`,
			types:   map[string]summary.TypeSet{"a": scalar},
			want:    filter.Key("a", filter.Exists{NonContainer: true}),
		},
		{
			name:    "non-terminal leaf",
			pattern: `{"a":{}}`,
			types:   map[string]summary.TypeSet{"a": scalar},
			want:    filter.Key("a", filter.Exists{}),
		},
		{
			name:    "nested object",
			pattern: `{"a":{"b":"x","c":1}}`,
			types:   map[string]summary.TypeSet{"a": object, "b": scalar, "c": scalar},
			want: filter.Keyed{Fields: []filter.Field{
				{Key: "a.b", Filter: filter.Equals{Value: "x"}},
				{Key: "a.c", Filter: filter.Equals{Value: int64(1)}},
			}},
		},
		{
			name:    "nested array",
			pattern: `{"a":{"b":"x"}}`,
			types:   map[string]summary.TypeSet{"a": array, "b": scalar},
			want:    filter.Key("a", filter.ElemMatch{Inner: filter.Key("b", filter.Equals{Value: "x"})}),
		},
		{
			name:    "dotted collision falls back to and",
			pattern: `{"a":{"b":"x"},"a":{"b":"y"}}`,
			types:   map[string]summary.TypeSet{"a": object, "b": scalar},
			want: filter.And{Children: []filter.Filter{
				filter.Key("a.b", filter.Equals{Value: "x"}),
				filter.Key("a.b", filter.Equals{Value: "y"}),
			}},
		},
		{
			name:    "float value",
			pattern: `{"n":2.5}`,
			types:   map[string]summary.TypeSet{"n": scalar},
			want:    filter.Key("n", filter.Equals{Value: 2.5}),
		},
		{
			name:    "integral value",
			pattern: `{"n":4.0}`,
			types:   map[string]summary.TypeSet{"n": scalar},
			want:    filter.Key("n", filter.Equals{Value: int64(4)}),
		},
		{
			name:    "integral value above int64",
			pattern: `{"n":1e20}`,
			types:   map[string]summary.TypeSet{"n": scalar},
			want:    filter.Key("n", filter.Equals{Value: 1e20}),
		},
		{
			name:    "integral value below int64",
			pattern: `{"n":-1e19}`,
			types:   map[string]summary.TypeSet{"n": scalar},
			want:    filter.Key("n", filter.Equals{Value: -1e19}),
		},
		{
			name:    "max int64 rounds to float",
			pattern: `{"n":9223372036854775807}`,
			types:   map[string]summary.TypeSet{"n": scalar},
			want:    filter.Key("n", filter.Equals{Value: float64(9223372036854775807)}),
		},
		{
			name:    "empty pattern",
			pattern: `{}`,
			want:    filter.Keyed{},
		},
	}
	c := New(Options{CheckTerminalLeaf: true}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Compile(tree.MustParse(tt.pattern), labels(tt.types))
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			if !filter.Equivalent(got, tt.want) {
				t.Errorf("Compile(%s)\n got  %s\n want %s", tt.pattern, filter.Canonical(got), filter.Canonical(tt.want))
			}
		})
	}
}

func TestCompileTerminalLeafDisabled(t *testing.T) {
	c := New(Options{CheckTerminalLeaf: false}, nil)
	got, err := c.Compile(tree.MustParse(`{"a":null}`), summary.Constant(scalar))
	if err != nil {
		t.Fatal(err)
	}
	if want := filter.Key("a", filter.Exists{}); !filter.Equivalent(got, want) {
		t.Errorf("got %s", filter.Canonical(got))
	}
}

func TestCompileDefaultNavigatorWrapsArrays(t *testing.T) {
	c := New(Options{CheckTerminalLeaf: true}, nil)
	got, err := c.Compile(tree.MustParse(`{"a":null}`), summary.Constant(0))
	if err != nil {
		t.Fatal(err)
	}
	want := filter.Key("a", filter.ElemMatch{Inner: filter.Exists{NonContainer: true}})
	if !filter.Equivalent(got, want) {
		t.Errorf("got %s", filter.Canonical(got))
	}
}

func TestCompileAmbiguousType(t *testing.T) {
	c := New(Options{}, nil)
	nav := labels(map[string]summary.TypeSet{"tag": summary.Types(summary.Object, summary.Array)})
	for i := 0; i < 3; i++ {
		_, err := c.Compile(tree.MustParse(`{"x":1,"tag":{"y":1}}`), nav)
		if !errors.Is(err, apperrors.ErrAmbiguousType) {
			t.Fatalf("attempt %d: expected ErrAmbiguousType, got %v", i, err)
		}
	}
}

func TestCompileIntermediaryValue(t *testing.T) {
	root := tree.Object(tree.E("a", &tree.Node{
		Value: tree.String("v"),
		Edges: []tree.Edge{tree.E("b", tree.Leaf(tree.String("x")))},
	}))
	_, err := New(Options{}, nil).Compile(tree.New(root), summary.Constant(object))
	var invErr *apperrors.CompilationInvariantError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected a CompilationInvariantError, got %v", err)
	}
	if invErr.Pattern == "" {
		t.Error("error should identify the pattern")
	}
	if apperrors.ExitCode(err) != apperrors.ExitInvariant {
		t.Errorf("exit code = %d", apperrors.ExitCode(err))
	}
}

func TestCompileIdempotent(t *testing.T) {
	c := New(Options{CheckTerminalLeaf: true}, nil)
	p := tree.MustParse(`{"a":{"b":"x","b":"y"},"c":null,"d":{"e":{}}}`)
	nav := labels(map[string]summary.TypeSet{"a": object, "b": scalar, "d": array})
	first, err := c.Compile(p, nav)
	if err != nil {
		t.Fatal(err)
	}
	nav.Descend("d")
	second, err := c.Compile(p, nav)
	if err != nil {
		t.Fatal(err)
	}
	if !filter.Equivalent(first, second) {
		t.Errorf("compilations differ:\n%s\n%s", filter.Canonical(first), filter.Canonical(second))
	}
}

func TestCompileSiblingsDoNotLeakPosition(t *testing.T) {
	root := &summary.PathNode{Types: object}
	a := root.Child("a")
	a.Types = object
	a.Child("b").Types = array
	root.Child("b").Types = scalar
	nav := summary.NewPathSummary(root).Navigator()

	got, err := New(Options{}, nil).Compile(tree.MustParse(`{"a":{"b":"x"},"b":"y"}`), nav)
	if err != nil {
		t.Fatal(err)
	}
	want := filter.Keyed{Fields: []filter.Field{
		{Key: "a.b", Filter: filter.ElemMatch{Inner: filter.Equals{Value: "x"}}},
		{Key: "b", Filter: filter.Equals{Value: "y"}},
	}}
	if !filter.Equivalent(got, want) {
		t.Errorf("got %s", filter.Canonical(got))
	}
}

func TestCompilePartition(t *testing.T) {
	p, err := partition.Parse("p1 . 10..20")
	if err != nil {
		t.Fatal(err)
	}
	timer := &measure.Timer{}
	c := New(Options{PartitionID: "rid", Partition: p}, timer)
	pattern := tree.MustParse(`{"tag":"x"}`)
	got, err := c.Compile(pattern, summary.Constant(scalar))
	if err != nil {
		t.Fatal(err)
	}
	want := filter.Keyed{Fields: []filter.Field{
		{Key: "rid", Filter: filter.Range{Min: 10, Max: 20}},
		{Key: "tag", Filter: filter.Equals{Value: "x"}},
	}}
	if !filter.Equivalent(got, want) {
		t.Errorf("got %s", filter.Canonical(got))
	}
	if pattern.Root.Edges[0].Label != "tag" || len(pattern.Root.Edges) != 1 {
		t.Error("compiling must not mutate the pattern")
	}
	if timer.Running() {
		t.Error("compile timer left running")
	}

	arrays, err := c.Compile(pattern, summary.Constant(array))
	if err != nil {
		t.Fatal(err)
	}
	wantArrays := filter.Keyed{Fields: []filter.Field{
		{Key: "rid", Filter: filter.Range{Min: 10, Max: 20}},
		{Key: "tag", Filter: filter.ElemMatch{Inner: filter.Equals{Value: "x"}}},
	}}
	if !filter.Equivalent(arrays, wantArrays) {
		t.Errorf("identifier range must stay scalar: %s", filter.Canonical(arrays))
	}
}

func TestCompileMultiIntervalPartition(t *testing.T) {
	p, err := partition.Parse("p1 . 1..2|5..6")
	if err != nil {
		t.Fatal(err)
	}
	_, err = New(Options{Partition: p}, nil).Compile(tree.MustParse(`{"a":1}`), summary.Constant(scalar))
	if !errors.Is(err, apperrors.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func BenchmarkCompile(b *testing.B) {
	c := New(Options{CheckTerminalLeaf: true}, nil)
	p := tree.MustParse(`{"a":{"b":"x","b":"y","c":{"d":null}},"e":3,"f":[1,2,3]}`)
	nav := summary.Constant(object)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Compile(p, nav); err != nil {
			b.Fatal(err)
		}
	}
}
