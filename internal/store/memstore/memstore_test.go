package memstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/filter"
	apperrors "github.com/Adithya-Monish-Kumar-K/tree-query/pkg/errors"
)

const fixture = `{"rid": 1, "tag": "x", "n": 3}
{"rid": 2, "tag": ["x", "y"], "a": {"b": "v"}}
{"rid": 3, "tag": ["y"], "a": [{"b": "v"}, {"b": "w"}]}

{"rid": 4, "tag": {"k": 1}, "n": 3.5}
`

func newFixture(t *testing.T) *Store {
	t.Helper()
	docs, err := Parse([]byte(fixture))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return New("test.records", docs)
}

func TestMatch(t *testing.T) {
	s := newFixture(t)
	tests := []struct {
		name string
		f    filter.Filter
		want int64
	}{
		{"all documents", filter.Keyed{}, 4},
		{"equals scalar or element", filter.Key("tag", filter.Equals{Value: "x"}), 2},
		{"elem match", filter.Key("tag", filter.ElemMatch{Inner: filter.Equals{Value: "x"}}), 1},
		{"all values", filter.Key("tag", filter.All{Values: []any{"x", "y"}}), 1},
		{"exists", filter.Key("tag", filter.Exists{}), 4},
		{"strict exists", filter.Key("tag", filter.Exists{NonContainer: true}), 1},
		{"elem strict exists", filter.Key("tag", filter.ElemMatch{Inner: filter.Exists{NonContainer: true}}), 2},
		{"dotted through array", filter.Key("a.b", filter.Equals{Value: "w"}), 1},
		{"dotted", filter.Key("a.b", filter.Equals{Value: "v"}), 2},
		{"elem match document", filter.Key("a", filter.ElemMatch{Inner: filter.Key("b", filter.Equals{Value: "w"})}), 1},
		{"numeric cross type", filter.Key("n", filter.Equals{Value: float64(3)}), 1},
		{"range", filter.Key("rid", filter.Range{Min: 2, Max: 3}), 2},
		{"or", filter.Or{Children: []filter.Filter{
			filter.Key("rid", filter.Equals{Value: int64(1)}),
			filter.Key("rid", filter.Equals{Value: int64(4)}),
		}}, 2},
		{"and", filter.And{Children: []filter.Filter{
			filter.Key("tag", filter.Equals{Value: "y"}),
			filter.Key("a", filter.Exists{}),
		}}, 2},
	}
	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats, err := s.Explain(ctx, tt.f)
			if err != nil {
				t.Fatalf("Explain: %v", err)
			}
			if stats.Answers != tt.want {
				t.Errorf("answers = %d, want %d", stats.Answers, tt.want)
			}
			var found int64
			for _, err := range s.Find(ctx, tt.f) {
				if err != nil {
					t.Fatalf("Find: %v", err)
				}
				found++
			}
			if found != tt.want {
				t.Errorf("Find returned %d documents, want %d", found, tt.want)
			}
		})
	}
}

func TestHasAnswer(t *testing.T) {
	s := newFixture(t)
	ctx := context.Background()
	ok, err := s.HasAnswer(ctx, filter.Key("tag", filter.Equals{Value: "y"}))
	if err != nil || !ok {
		t.Errorf("HasAnswer = %v, %v", ok, err)
	}
	ok, err = s.HasAnswer(ctx, filter.Key("tag", filter.Equals{Value: "z"}))
	if err != nil || ok {
		t.Errorf("HasAnswer = %v, %v", ok, err)
	}
	if s.Requests() != 2 {
		t.Errorf("requests = %d", s.Requests())
	}
	if n, _ := s.RecordCount(ctx); n != 4 {
		t.Errorf("RecordCount = %d", n)
	}
}

func TestOpaqueFilterIsAStoreError(t *testing.T) {
	s := newFixture(t)
	native, err := filter.Decode(`{"tag": {"$in": ["x"]}}`)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Explain(context.Background(), native)
	if !errors.Is(err, apperrors.ErrStore) {
		t.Errorf("expected ErrStore, got %v", err)
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.jsonl")
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(Scheme+path, "records")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if n, _ := s.RecordCount(context.Background()); n != 4 {
		t.Errorf("RecordCount = %d", n)
	}
	s, err = Open(Scheme+filepath.Join(filepath.Dir(path), "%s.jsonl"), "test.docs")
	if err != nil {
		t.Fatalf("Open with collection pattern: %v", err)
	}
	if s.Name() != "test.docs" {
		t.Errorf("Name = %q", s.Name())
	}
	if _, err := Open(Scheme+filepath.Join(t.TempDir(), "none"), "records"); !errors.Is(err, apperrors.ErrStore) {
		t.Errorf("expected ErrStore, got %v", err)
	}
	if _, err := Parse([]byte("{\"a\":1}\n{broken\n")); err == nil {
		t.Error("expected a parse error")
	}
}
