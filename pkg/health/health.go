// Package health probes the dependencies of a run (collections, answer
// cache) and serves the aggregate as a readiness endpoint next to /metrics.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Probe returns nil when the dependency answers.
type Probe func(ctx context.Context) error

type probe struct {
	fn       Probe
	optional bool
}

// Component is the result of one probe.
type Component struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
}

// Report aggregates every probe. Status is the worst component status.
type Report struct {
	Status     Status               `json:"status"`
	Components map[string]Component `json:"components"`
	Timestamp  time.Time            `json:"timestamp"`
}

// Checker is safe for concurrent use.
type Checker struct {
	mu     sync.RWMutex
	probes map[string]probe
	logger *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		probes: make(map[string]probe),
		logger: slog.Default().With("component", "health"),
	}
}

// Require registers a probe whose failure makes the run not ready.
func (c *Checker) Require(name string, fn Probe) {
	c.register(name, probe{fn: fn})
}

// Optional registers a probe whose failure only degrades the run.
func (c *Checker) Optional(name string, fn Probe) {
	c.register(name, probe{fn: fn, optional: true})
}

func (c *Checker) register(name string, p probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = p
}

// Run executes all probes concurrently.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	probes := maps.Clone(c.probes)
	c.mu.RUnlock()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]Component, len(probes)),
		Timestamp:  time.Now().UTC(),
	}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, p := range probes {
		wg.Go(func() {
			start := time.Now()
			err := p.fn(ctx)
			comp := Component{Status: StatusUp, Latency: time.Since(start).Round(time.Millisecond).String()}
			if err != nil {
				comp.Status, comp.Message = StatusDown, err.Error()
				if p.optional {
					comp.Status = StatusDegraded
				}
				c.logger.Warn("probe failed", "probe", name, "error", err)
			}
			mu.Lock()
			report.Components[name] = comp
			mu.Unlock()
		})
	}
	wg.Wait()

	for _, comp := range report.Components {
		switch comp.Status {
		case StatusDown:
			report.Status = StatusDown
		case StatusDegraded:
			if report.Status == StatusUp {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

// Handler serves the report as JSON, with 503 when a required probe fails.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := c.Run(ctx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(report); err != nil {
			c.logger.Error("failed to write health report", "error", err)
		}
	})
}
