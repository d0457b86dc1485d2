package tree

import (
	"math"
	"strings"
	"testing"
)

func TestParseRepeatedLabels(t *testing.T) {
	p, err := Parse(`{"tag": "x", "tag": "y", "n": [1, 2.5]}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	edges := p.Root.Edges
	if len(edges) != 4 {
		t.Fatalf("expected 4 edges, got %d", len(edges))
	}
	wantLabels := []string{"tag", "tag", "n", "n"}
	for i, e := range edges {
		if e.Label != wantLabels[i] {
			t.Errorf("edge %d label = %q, want %q", i, e.Label, wantLabels[i])
		}
		if !e.Child.IsLeaf() || !e.Child.Terminal {
			t.Errorf("edge %d should be a terminal leaf", i)
		}
	}
	if edges[1].Child.Value != String("y") {
		t.Errorf("second tag value = %v", edges[1].Child.Value)
	}
	if edges[3].Child.Value != Number(2.5) {
		t.Errorf("second n value = %v", edges[3].Child.Value)
	}
}

func TestParseExistenceLeaves(t *testing.T) {
	p := MustParse(`{"a": {"b": null, "c": {}}}`)
	a := p.Root.Edges[0].Child
	b, c := a.Edges[0].Child, a.Edges[1].Child
	if !b.IsLeaf() || !b.Terminal || b.Value != nil {
		t.Errorf("null should decode to a terminal existence leaf: %+v", b)
	}
	if !c.IsLeaf() || c.Terminal || c.Value != nil {
		t.Errorf("{} should decode to a non-terminal existence leaf: %+v", c)
	}
}

func TestParseErrors(t *testing.T) {
	for _, s := range []string{`[1]`, `{"a": true}`, `{"a": [[1]]}`, `{"a": 1} {}`, `{"a"`} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) should fail", s)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	src := `{"tag":"x","tag":"y","a":{"b":null,"c":{}},"n":3}`
	p := MustParse(src)
	if p.String() != src {
		t.Errorf("String() = %s, want %s", p.String(), src)
	}
	again := MustParse(p.String())
	if again.String() != src {
		t.Errorf("re-parsed String() = %s", again.String())
	}
}

func TestWithChildDoesNotMutate(t *testing.T) {
	p := MustParse(`{"a":1}`)
	q := p.WithChild("_id", Leaf(Ranges{{Min: 0, Max: 9}}))
	if len(p.Root.Edges) != 1 {
		t.Fatalf("receiver pattern mutated: %s", p)
	}
	if len(q.Root.Edges) != 2 || q.Root.Edges[0].Label != "_id" {
		t.Fatalf("unexpected derived pattern: %s", q)
	}
	if q.Size() != 3 {
		t.Errorf("Size() = %d, want 3", q.Size())
	}
}

func TestDecodeLines(t *testing.T) {
	input := "# comment\n{\"a\":1}\n\n{\"b\":{}}\n"
	var got []string
	for p, err := range Decode(strings.NewReader(input)) {
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		got = append(got, p.String())
	}
	if len(got) != 2 || got[0] != `{"a":1}` || got[1] != `{"b":{}}` {
		t.Errorf("unexpected patterns: %v", got)
	}
}

func TestDecodeStopsOnError(t *testing.T) {
	var n int
	var lastErr error
	for _, err := range Decode(strings.NewReader("{\"a\":1}\nnot json\n{\"b\":2}\n")) {
		if err != nil {
			lastErr = err
			continue
		}
		n++
	}
	if n != 1 {
		t.Errorf("expected 1 pattern before the error, got %d", n)
	}
	if lastErr == nil || !strings.Contains(lastErr.Error(), "line 2") {
		t.Errorf("expected a line 2 error, got %v", lastErr)
	}
}

func TestNumberInt64(t *testing.T) {
	tests := []struct {
		n    Number
		want int64
		ok   bool
	}{
		{3, 3, true},
		{-7, -7, true},
		{0, 0, true},
		{2.5, 0, false},
		{1e-9, 0, false},
		{Number(math.MinInt64), math.MinInt64, true},
		{9223372036854775807, 0, false},
		{1e20, 0, false},
		{-1e19, 0, false},
		{Number(math.Inf(1)), 0, false},
		{Number(math.NaN()), 0, false},
	}
	for _, tt := range tests {
		got, ok := tt.n.Int64()
		if got != tt.want || ok != tt.ok {
			t.Errorf("Number(%v).Int64() = %d, %v, want %d, %v", tt.n, got, ok, tt.want, tt.ok)
		}
	}
}
