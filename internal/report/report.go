// Package report publishes the outcome of one querying run: its mode, its
// timing and the final measurement snapshot.
package report

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/measure"
)

// Report describes one run.
type Report struct {
	RunID       string          `json:"run_id"`
	Mode        string          `json:"mode"`
	Collections []string        `json:"collections"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration_ns"`
	Error       string          `json:"error,omitempty"`
	Measures    []measure.Entry `json:"measures"`
}

// NewRunID returns a random 16-hex-digit identifier.
func NewRunID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Sink delivers reports somewhere.
type Sink interface {
	Name() string
	Publish(ctx context.Context, r Report) error
}

// Publish hands r to every sink. A failing sink does not prevent the
// others from receiving the report.
func Publish(ctx context.Context, r Report, sinks ...Sink) error {
	logger := slog.Default().With("component", "report", "run_id", r.RunID)
	var errs []error
	for _, s := range sinks {
		if err := s.Publish(ctx, r); err != nil {
			logger.Error("report sink failed", "sink", s.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s sink: %w", s.Name(), err))
			continue
		}
		logger.Debug("report published", "sink", s.Name())
	}
	return errors.Join(errs...)
}

// WriterSink prints the report header followed by the measures.
type WriterSink struct {
	W io.Writer
}

func (WriterSink) Name() string { return "writer" }

func (s WriterSink) Publish(_ context.Context, r Report) error {
	status := "ok"
	if r.Error != "" {
		status = "failed: " + r.Error
	}
	if _, err := fmt.Fprintf(s.W, "run %s mode=%s duration=%s status=%s\n",
		r.RunID, r.Mode, r.Duration.Round(time.Millisecond), status); err != nil {
		return err
	}
	return measure.PrintEntries(s.W, r.Measures)
}
