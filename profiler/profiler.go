// Package profiler - Operation timing for inference runs.
package profiler

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMaxSamples is the number of durations kept per operation.
const DefaultMaxSamples = 600

// Stats summarizes the recorded durations of one operation.
type Stats struct {
	Name  string
	Count int64
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
}

// Mean is the average duration, or 0 when nothing was recorded.
func (s Stats) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// timeTracker keeps a bounded window of durations for one operation.
type timeTracker struct {
	durations []time.Duration
	stats     Stats
}

// Profiler records how long named operations take.
//
// It is safe for concurrent use.
type Profiler struct {
	mu         sync.Mutex
	maxSamples int
	operations map[string]*timeTracker
	now        func() time.Time
}

// New creates a profiler keeping DefaultMaxSamples durations per operation.
func New() *Profiler {
	return &Profiler{
		maxSamples: DefaultMaxSamples,
		operations: make(map[string]*timeTracker),
		now:        time.Now,
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The name of the operation to track.
//
// Returns:
//   - func(): Call when the operation completes.
func (p *Profiler) StartOperation(name string) func() {
	start := p.now()
	return func() {
		p.Record(name, p.now().Sub(start))
	}
}

// Record adds one duration for name.
func (p *Profiler) Record(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.operations[name]
	if !ok {
		t = &timeTracker{stats: Stats{Name: name, Min: d, Max: d}}
		p.operations[name] = t
	}

	t.durations = append(t.durations, d)
	if len(t.durations) > p.maxSamples {
		t.durations = t.durations[1:]
	}

	t.stats.Count++
	t.stats.Total += d
	if d < t.stats.Min {
		t.stats.Min = d
	}
	if d > t.stats.Max {
		t.stats.Max = d
	}
}

// Stats returns the statistics of name and whether anything was recorded.
func (p *Profiler) Stats(name string) (Stats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.operations[name]
	if !ok {
		return Stats{Name: name}, false
	}
	return t.stats, true
}

// Recent returns the retained durations of name, oldest first.
func (p *Profiler) Recent(name string) []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.operations[name]
	if !ok {
		return nil
	}
	out := make([]time.Duration, len(t.durations))
	copy(out, t.durations)
	return out
}

// Report logs one record per operation, sorted by name.
func (p *Profiler) Report(logger logrus.FieldLogger) {
	p.mu.Lock()
	all := make([]Stats, 0, len(p.operations))
	for _, t := range p.operations {
		all = append(all, t.stats)
	}
	p.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	for _, s := range all {
		logger.WithFields(logrus.Fields{
			"operation": s.Name,
			"count":     s.Count,
			"avg":       s.Mean().Truncate(time.Microsecond),
			"min":       s.Min.Truncate(time.Microsecond),
			"max":       s.Max.Truncate(time.Microsecond),
		}).Info("operation timing")
	}
}
