package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestFromContextCarriesRunID(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	SetupTo(&buf, "debug", "json")
	ctx := WithRunID(context.Background(), "0123456789abcdef")
	FromContext(ctx).Debug("run started")
	WithPartition("querying", "db.records", "low").Info("worker")

	dec := json.NewDecoder(&buf)
	var first, second map[string]any
	if err := dec.Decode(&first); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if first["run_id"] != "0123456789abcdef" {
		t.Errorf("run_id = %v", first["run_id"])
	}
	if second["collection"] != "db.records" || second["partition"] != "low" || second["component"] != "querying" {
		t.Errorf("worker attributes = %v", second)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
