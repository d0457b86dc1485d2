package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/measure"
)

type recordingPublisher struct {
	key   string
	value []byte
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, value any) error {
	if p.err != nil {
		return p.err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	p.key, p.value = key, data
	return nil
}

func sample() Report {
	ms := measure.NewSet()
	ms.SetCount(measure.GroupAnswers, measure.Total, 42)
	ms.SetCount(measure.GroupQueries, measure.Total, 7)
	ms.Timer(measure.GroupTime, measure.StatsDBTime).Add(3 * time.Millisecond)
	return Report{
		RunID:       "0123456789abcdef",
		Mode:        "explain",
		Collections: []string{"records"},
		StartedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:    1500 * time.Millisecond,
		Measures:    ms.Snapshot(),
	}
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	if err := (WriterSink{W: &buf}).Publish(context.Background(), sample()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	want := `run 0123456789abcdef mode=explain duration=1.5s status=ok
[answers]
total: 42
[queries]
total: 7
[time]
stats.db.time: 3ms
`
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestKafkaSinkEncodesReport(t *testing.T) {
	pub := &recordingPublisher{}
	if err := (KafkaSink{Producer: pub}).Publish(context.Background(), sample()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if pub.key != "0123456789abcdef" {
		t.Errorf("key = %q", pub.key)
	}
	var decoded Report
	if err := json.Unmarshal(pub.value, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Mode != "explain" || len(decoded.Measures) != 3 || decoded.Duration != 1500*time.Millisecond {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestPublishContinuesAfterFailure(t *testing.T) {
	failing := KafkaSink{Producer: &recordingPublisher{err: errors.New("broker down")}}
	var buf bytes.Buffer
	err := Publish(context.Background(), sample(), failing, WriterSink{W: &buf})
	if err == nil || !strings.Contains(err.Error(), "kafka sink") {
		t.Fatalf("error = %v, want the kafka sink failure", err)
	}
	if buf.Len() == 0 {
		t.Error("writer sink skipped after kafka failure")
	}
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if len(a) != 16 || a == b {
		t.Errorf("ids %q and %q", a, b)
	}
}
