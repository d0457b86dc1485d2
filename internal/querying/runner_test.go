package querying

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/measure"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/store"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/store/memstore"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/summary"
	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/tree-query/pkg/errors"
)

const nbDocs = 20

func newStore(t *testing.T, name string) *memstore.Store {
	t.Helper()
	var sb strings.Builder
	for i := 1; i <= nbDocs; i++ {
		fmt.Fprintf(&sb, "{\"_id\": %d, \"rid\": %d, \"tag\": \"t%d\"}\n", i, i, i%3)
	}
	docs, err := memstore.Parse([]byte(sb.String()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return memstore.New(name, docs)
}

func testConfig(mode string) *config.Config {
	cfg := config.Default()
	cfg.Querying.Mode = mode
	cfg.Query.BatchSize = 2
	cfg.Query.PartitionID = "rid"
	return cfg
}

const tagPatterns = `{"tag": "t0"}
{"tag": "t1"}
# comment lines are skipped
{"tag": "missing"}
{"tag": "t2"}
`

func run(t *testing.T, cfg *config.Config, d Deps, src string) (*Runner, string) {
	t.Helper()
	var stdout bytes.Buffer
	d.Stdout = &stdout
	if d.Navigators == nil {
		d.Navigators = []summary.Factory{func() summary.Navigator {
			return summary.Constant(summary.Types(summary.Scalar))
		}}
	}
	r, err := New(cfg, d)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Run(context.Background(), strings.NewReader(src)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if d.Outputs != nil {
		if err := d.Outputs.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	return r, stdout.String()
}

func lines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestEachThenNatives(t *testing.T) {
	dir := t.TempDir()
	pattern := filepath.Join(dir, "%s.txt")
	st := newStore(t, "test.records")
	r, _ := run(t, testConfig(config.ModeEach), Deps{Stores: []store.Store{st}, Outputs: NewOutputs(pattern)}, tagPatterns)

	ms := r.Measures()
	checks := []struct {
		group, name string
		want        int64
	}{
		{measure.GroupPatterns, measure.Total, 4},
		{measure.GroupPatterns, measure.Empty, 1},
		{measure.GroupPatterns, measure.NonEmpty, 3},
		{measure.GroupAnswers, measure.Total, nbDocs},
		{measure.GroupAnswers, measure.Unique, nbDocs},
	}
	for _, c := range checks {
		if got := ms.Get(c.group, c.name); got != c.want {
			t.Errorf("%s.%s = %d, want %d", c.group, c.name, got, c.want)
		}
	}
	if got := lines(t, filepath.Join(dir, OutQueryEmpty+".txt")); len(got) != 1 || !strings.Contains(got[0], "missing") {
		t.Errorf("query-empty = %q", got)
	}
	natives := lines(t, filepath.Join(dir, OutNativeNonEmpty+".txt"))
	if len(natives) != 3 {
		t.Fatalf("native-non-empty has %d lines, want 3", len(natives))
	}

	st2 := newStore(t, "test.records")
	cfg := testConfig(config.ModeQuery)
	cfg.Querying.Natives = true
	r2, _ := run(t, cfg, Deps{Stores: []store.Store{st2}}, strings.Join(natives, "\n"))
	if got := r2.Measures().Get(measure.GroupAnswers, measure.Unique); got != nbDocs {
		t.Errorf("native answers.unique = %d, want %d", got, nbDocs)
	}
	if st2.Requests() != 2 {
		t.Errorf("native requests = %d, want 2", st2.Requests())
	}
}

func TestUniqueAnswersByRecordID(t *testing.T) {
	var sb strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&sb, "{\"_id\": %d, \"rid\": %d, \"tag\": \"t\"}\n", i, i%5)
	}
	docs, err := memstore.Parse([]byte(sb.String()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tests := []struct {
		partitionID string
		want        int64
	}{
		{"rid", 5},
		{"_id", 10},
		{"missing", 10},
	}
	for _, tt := range tests {
		t.Run(tt.partitionID, func(t *testing.T) {
			for _, mode := range []string{config.ModeEach, config.ModeQuery} {
				cfg := testConfig(mode)
				cfg.Query.PartitionID = tt.partitionID
				st := memstore.New("test.records", docs)
				r, _ := run(t, cfg, Deps{Stores: []store.Store{st}}, `{"tag": "t"}`)
				ms := r.Measures()
				if got := ms.Get(measure.GroupAnswers, measure.Total); got != 10 {
					t.Errorf("%s: answers.total = %d, want 10", mode, got)
				}
				if got := ms.Get(measure.GroupAnswers, measure.Unique); got != tt.want {
					t.Errorf("%s: answers.unique = %d, want %d", mode, got, tt.want)
				}
			}
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("no space left on device") }

func TestEachReportsWriteErrors(t *testing.T) {
	outputs := NewOutputs(filepath.Join(t.TempDir(), "%s.txt"))
	outputs.files[OutAnswers] = &outputFile{w: bufio.NewWriterSize(failingWriter{}, 16)}
	defer outputs.Close()

	cfg := testConfig(config.ModeEach)
	r, err := New(cfg, Deps{
		Stores: []store.Store{newStore(t, "test.records")},
		Navigators: []summary.Factory{func() summary.Navigator {
			return summary.Constant(summary.Types(summary.Scalar))
		}},
		Outputs: outputs,
		Stdout:  io.Discard,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = r.Run(context.Background(), strings.NewReader(tagPatterns))
	if err == nil || !strings.Contains(err.Error(), "no space left") {
		t.Fatalf("Run error = %v, want the write failure", err)
	}
}

func TestStats(t *testing.T) {
	cfg := testConfig(config.ModeStats)
	cfg.Partitions = []string{"low . 1..5"}
	r, _ := run(t, cfg, Deps{Stores: []store.Store{newStore(t, "test.records")}}, tagPatterns)
	ms := r.Measures()
	checks := []struct {
		name string
		want int64
	}{
		{measure.DocumentsNb, nbDocs},
		{"partition.low." + measure.DocumentsNb, 5},
		{measure.QueriesNb, 4},
		{measure.QueriesEmptyNb, 1},
		{measure.QueriesNonEmptyNb, 3},
	}
	for _, c := range checks {
		if got := ms.Get(measure.GroupStats, c.name); got != c.want {
			t.Errorf("stats.%s = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestQuery(t *testing.T) {
	cfg := testConfig(config.ModeQuery)
	cfg.Querying.DisplayAnswers = true
	st := newStore(t, "test.records")
	r, stdout := run(t, cfg, Deps{Stores: []store.Store{st}}, tagPatterns)
	ms := r.Measures()
	if got := ms.Get(measure.GroupAnswers, measure.Total); got != nbDocs {
		t.Errorf("answers.total = %d, want %d", got, nbDocs)
	}
	if got := ms.Get(measure.GroupQueries, measure.BatchNb); got != 2 {
		t.Errorf("queries.batch.nb = %d, want 2", got)
	}
	if n := strings.Count(stdout, "\n"); n != nbDocs {
		t.Errorf("displayed %d answers, want %d", n, nbDocs)
	}
	if ms.Timer(measure.GroupTime, measure.EvalTotal).Running() {
		t.Error("eval.total left running")
	}
}

func TestQueryFilterNoEmpty(t *testing.T) {
	cfg := testConfig(config.ModeQuery)
	cfg.Query.Filter = config.FilterNoEmpty
	r, _ := run(t, cfg, Deps{Stores: []store.Store{newStore(t, "test.records")}}, tagPatterns)
	if got := r.Measures().Get(measure.GroupQueries, measure.Total); got != 3 {
		t.Errorf("queries.total = %d, want 3", got)
	}
	ms := r.Measures()
	if kept, dropped := ms.Get(measure.GroupPatterns, measure.Kept), ms.Get(measure.GroupPatterns, measure.Dropped); kept != 3 || dropped != 1 {
		t.Errorf("kept/dropped = %d/%d, want 3/1", kept, dropped)
	}
}

const ridPatterns = `{"rid": 1}
{"rid": 2}
{"rid": 3}
{"rid": 4}
{"rid": 5}
{"rid": 6}
{"rid": 7}
`

func TestExplainParallelMatchesSingle(t *testing.T) {
	var answers []int64
	for _, threads := range []int{1, 3} {
		cfg := testConfig(config.ModeExplain)
		cfg.Query.Threads = threads
		r, stdout := run(t, cfg, Deps{Stores: []store.Store{newStore(t, "test.records")}}, ridPatterns)
		if !strings.Contains(stdout, "answers=7") {
			t.Errorf("threads=%d: stdout %q", threads, stdout)
		}
		answers = append(answers, r.Measures().Get(measure.GroupAnswers, measure.Total))
	}
	if answers[0] != 7 || answers[1] != 7 {
		t.Errorf("answers.total = %v, want 7 for both", answers)
	}
}

func TestExplainCollections(t *testing.T) {
	cfg := testConfig(config.ModeExplainColls)
	cfg.Mongo.Collections = []string{"a", "b"}
	cfg.Partitions = []string{"low . 1..10", "high . 11..20"}
	d := Deps{Stores: []store.Store{newStore(t, "test.a"), newStore(t, "test.b")}}
	r, _ := run(t, cfg, d, tagPatterns)
	ms := r.Measures()
	if got := ms.Get(measure.GroupAnswers, measure.Total); got != nbDocs {
		t.Errorf("answers.total = %d, want %d", got, nbDocs)
	}
	for _, name := range []string{"test.a/low/", "test.b/high/"} {
		if got := ms.Get(measure.GroupAnswers, name+measure.Total); got != 10 {
			t.Errorf("%sanswers.total = %d, want 10", name, got)
		}
	}
	if got := ms.Get(measure.GroupThreads, measure.ThreadsNb); got != 2 {
		t.Errorf("threads.nb = %d, want 2", got)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	st := newStore(t, "test.records")
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"threads", func(c *config.Config) { c.Query.Threads = 0 }},
		{"partition", func(c *config.Config) { c.Partitions = []string{"nameonly"} }},
		{"filter", func(c *config.Config) { c.Query.Filter = "sometimes" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(config.ModeExplain)
			tt.mutate(cfg)
			if _, err := New(cfg, Deps{Stores: []store.Store{st}}); !errors.Is(err, apperrors.ErrInvalidConfig) {
				t.Fatalf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
