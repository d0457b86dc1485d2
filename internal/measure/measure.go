// Package measure accumulates named timers and counters. A Set is owned by
// one unit of work (the process or a worker) and merged into its parent when
// that unit completes.
package measure

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"
)

// Timer is a restartable stopwatch accumulating the time spent between
// Start and Stop calls. A Timer is safe for concurrent use.
type Timer struct {
	mu      sync.Mutex
	total   time.Duration
	started time.Time
	running bool
}

// Start starts the timer. Starting a running timer has no effect.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.started = time.Now()
}

// Stop stops the timer and accumulates the time elapsed since Start.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	t.total += time.Since(t.started)
}

// Running reports whether the timer is started.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Elapsed returns the accumulated time, including the current run.
func (t *Timer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return t.total + time.Since(t.started)
	}
	return t.total
}

// Add accumulates d.
func (t *Timer) Add(d time.Duration) {
	t.mu.Lock()
	t.total += d
	t.mu.Unlock()
}

// Plus returns a stopped timer holding the sum of t and o.
func (t *Timer) Plus(o *Timer) *Timer {
	return &Timer{total: t.Elapsed() + o.Elapsed()}
}

// Minus returns a stopped timer holding t minus o.
func (t *Timer) Minus(o *Timer) *Timer {
	return &Timer{total: t.Elapsed() - o.Elapsed()}
}

// StartAll starts every timer.
func StartAll(timers ...*Timer) {
	for _, t := range timers {
		t.Start()
	}
}

// StopAll stops every timer.
func StopAll(timers ...*Timer) {
	for _, t := range timers {
		t.Stop()
	}
}

type key struct {
	group string
	name  string
}

// Set is a registry of timers and counters indexed by group and name. Names
// are prefixed with the current prefix on every read and write.
type Set struct {
	mu       sync.Mutex
	prefix   string
	timers   map[key]*Timer
	counters map[key]int64
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{
		timers:   make(map[key]*Timer),
		counters: make(map[key]int64),
	}
}

// SetPrefix sets the prefix applied to names from now on.
func (s *Set) SetPrefix(prefix string) {
	s.mu.Lock()
	s.prefix = prefix
	s.mu.Unlock()
}

// Timer returns the timer group/name, creating it if needed.
func (s *Set) Timer(group, name string) *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{group, s.prefix + name}
	t, ok := s.timers[k]
	if !ok {
		t = &Timer{}
		s.timers[k] = t
	}
	return t
}

// SetCount stores a counter value.
func (s *Set) SetCount(group, name string, v int64) {
	s.mu.Lock()
	s.counters[key{group, s.prefix + name}] = v
	s.mu.Unlock()
}

// Add increments a counter.
func (s *Set) Add(group, name string, delta int64) {
	s.mu.Lock()
	s.counters[key{group, s.prefix + name}] += delta
	s.mu.Unlock()
}

// Get returns a counter value.
func (s *Set) Get(group, name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key{group, s.prefix + name}]
}

// MergeFrom adds every entry of o into s. Entries keep the names they have
// in o; timers and counters present on both sides are summed.
func (s *Set) MergeFrom(o *Set) {
	if o == s {
		return
	}
	o.mu.Lock()
	timers := make(map[key]time.Duration, len(o.timers))
	for k, t := range o.timers {
		timers[k] = t.Elapsed()
	}
	counters := make(map[key]int64, len(o.counters))
	for k, v := range o.counters {
		counters[k] = v
	}
	o.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, d := range timers {
		t, ok := s.timers[k]
		if !ok {
			t = &Timer{}
			s.timers[k] = t
		}
		t.Add(d)
	}
	for k, v := range counters {
		s.counters[k] += v
	}
}

// Entry is one measure of a snapshot. Timers are reported in nanoseconds.
type Entry struct {
	Group string `json:"group"`
	Name  string `json:"name"`
	Timer bool   `json:"timer,omitempty"`
	Value int64  `json:"value"`
}

func (e Entry) String() string {
	if e.Timer {
		return fmt.Sprintf("%s: %s", e.Name, time.Duration(e.Value).Round(time.Microsecond))
	}
	return fmt.Sprintf("%s: %d", e.Name, e.Value)
}

// Snapshot returns every entry sorted by group then name.
func (s *Set) Snapshot() []Entry {
	s.mu.Lock()
	entries := make([]Entry, 0, len(s.timers)+len(s.counters))
	for k, t := range s.timers {
		entries = append(entries, Entry{Group: k.group, Name: k.name, Timer: true, Value: int64(t.Elapsed())})
	}
	for k, v := range s.counters {
		entries = append(entries, Entry{Group: k.group, Name: k.name, Value: v})
	}
	s.mu.Unlock()

	slices.SortFunc(entries, func(a, b Entry) int {
		if c := strings.Compare(a.Group, b.Group); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return entries
}

// Print writes the set grouped by section:
//
//	[time]
//	eval.total: 12ms
//	[queries]
//	total: 40
func (s *Set) Print(w io.Writer) error {
	return PrintEntries(w, s.Snapshot())
}

// PrintEntries writes sorted entries in the format of Print.
func PrintEntries(w io.Writer, entries []Entry) error {
	group := ""
	for i, e := range entries {
		if i == 0 || e.Group != group {
			group = e.Group
			if _, err := fmt.Fprintf(w, "[%s]\n", group); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w, e.String()); err != nil {
			return err
		}
	}
	return nil
}
