// Package benchmark - Forward-pass throughput of a classifier checkpoint across batch sizes.
package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/nvr-ai/go-tagger/config"
	"github.com/nvr-ai/go-tagger/inference"
	"github.com/nvr-ai/go-tagger/profiler"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

// Scenario is one benchmark configuration.
type Scenario struct {
	Name       string `json:"name"`
	BatchSize  int    `json:"batch_size"`
	Iterations int    `json:"iterations"`
	WarmupRuns int    `json:"warmup_runs"`
}

// MemoryMetrics captures memory usage after a scenario.
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
}

// PerformanceMetrics are the measurements of one scenario.
type PerformanceMetrics struct {
	Scenario        Scenario      `json:"scenario"`
	Timestamp       time.Time     `json:"timestamp"`
	ImageSize       int           `json:"image_size"`
	TotalDuration   time.Duration `json:"total_duration"`
	BatchLatency    time.Duration `json:"batch_latency"`
	MinLatency      time.Duration `json:"min_latency"`
	MaxLatency      time.Duration `json:"max_latency"`
	ImagesPerSecond float64       `json:"images_per_second"`
	Errors          int           `json:"errors"`
	MemoryStats     MemoryMetrics `json:"memory_stats"`
}

// DefaultScenarios benchmark single images and the configured batch size.
func DefaultScenarios(cfg *config.Config, iterations int) []Scenario {
	if iterations <= 0 {
		iterations = 20
	}
	out := []Scenario{{Name: "batch_1", BatchSize: 1, Iterations: iterations, WarmupRuns: 2}}
	if cfg.BatchSize > 1 {
		out = append(out, Scenario{
			Name:       fmt.Sprintf("batch_%d", cfg.BatchSize),
			BatchSize:  cfg.BatchSize,
			Iterations: iterations,
			WarmupRuns: 2,
		})
	}
	return out
}

// Suite runs scenarios against one classifier.
type Suite struct {
	mu        sync.Mutex
	model     inference.Classifier
	imageSize int
	seed      int64
	scenarios []Scenario
	results   []PerformanceMetrics
	log       logrus.FieldLogger
}

// NewSuite creates a suite for model, whose inputs are cfg.ImageSize squares.
func NewSuite(model inference.Classifier, cfg *config.Config, logger logrus.FieldLogger) *Suite {
	return &Suite{
		model:     model,
		imageSize: cfg.ImageSize,
		seed:      cfg.Seed,
		log:       logger.WithField("component", "benchmark"),
	}
}

// AddScenario queues a scenario.
func (s *Suite) AddScenario(scenario Scenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios = append(s.scenarios, scenario)
}

// RunScenario measures one scenario.
//
// Inputs are random normalized images so the measurement does not depend on disk or decoding.
// Failed forward passes are counted and excluded from the latency statistics.
//
// Arguments:
//   - ctx: Checked between iterations.
//   - scenario: The batch size and iteration counts.
//
// Returns:
//   - *PerformanceMetrics: The measurements.
//   - error: An error if the scenario is invalid, the context ends, or every pass failed.
func (s *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	if scenario.BatchSize <= 0 || scenario.Iterations <= 0 {
		return nil, fmt.Errorf("scenario %s needs a positive batch size and iteration count", scenario.Name)
	}

	batch := s.randomBatch(scenario.BatchSize)
	for i := 0; i < scenario.WarmupRuns; i++ {
		if _, err := s.model.Forward(ctx, batch); err != nil {
			return nil, errors.Wrapf(err, "warmup run %d", i)
		}
	}

	p := profiler.New()
	failures := 0
	start := time.Now()
	for i := 0; i < scenario.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		begin := time.Now()
		_, err := s.model.Forward(ctx, batch)
		if err != nil {
			failures++
			s.log.WithError(err).WithField("iteration", i).Warn("forward pass failed")
			continue
		}
		p.Record("forward", time.Since(begin))
	}
	total := time.Since(start)

	stats, ok := p.Stats("forward")
	if !ok {
		return nil, fmt.Errorf("scenario %s: all %d passes failed", scenario.Name, failures)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m := &PerformanceMetrics{
		Scenario:      scenario,
		Timestamp:     time.Now(),
		ImageSize:     s.imageSize,
		TotalDuration: total,
		BatchLatency:  stats.Mean(),
		MinLatency:    stats.Min,
		MaxLatency:    stats.Max,
		Errors:        failures,
		MemoryStats: MemoryMetrics{
			AllocBytes:      mem.Alloc,
			TotalAllocBytes: mem.TotalAlloc,
			SysBytes:        mem.Sys,
			NumGC:           mem.NumGC,
		},
	}
	if stats.Total > 0 {
		m.ImagesPerSecond = float64(stats.Count*int64(scenario.BatchSize)) / stats.Total.Seconds()
	}

	s.mu.Lock()
	s.results = append(s.results, *m)
	s.mu.Unlock()
	return m, nil
}

// RunAll runs every queued scenario in order.
func (s *Suite) RunAll(ctx context.Context) error {
	s.mu.Lock()
	scenarios := make([]Scenario, len(s.scenarios))
	copy(scenarios, s.scenarios)
	s.mu.Unlock()

	for _, scenario := range scenarios {
		m, err := s.RunScenario(ctx, scenario)
		if err != nil {
			return errors.Wrapf(err, "scenario %s", scenario.Name)
		}
		s.log.WithFields(logrus.Fields{
			"scenario":          scenario.Name,
			"images_per_second": m.ImagesPerSecond,
			"batch_latency":     m.BatchLatency,
		}).Info("scenario complete")
	}
	return nil
}

// Results returns the measurements so far.
func (s *Suite) Results() []PerformanceMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PerformanceMetrics, len(s.results))
	copy(out, s.results)
	return out
}

// SaveResults writes the results as indented JSON into dir.
//
// Returns:
//   - string: The written file.
//   - error: An error if the directory or file cannot be written.
func (s *Suite) SaveResults(dir string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(s.Results(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal results: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("benchmark_results_%s.json", now.Format("2006-01-02_15-04-05")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write results file: %w", err)
	}
	return path, nil
}

func (s *Suite) randomBatch(n int) *tensor.Dense {
	rng := rand.New(rand.NewSource(s.seed))
	data := make([]float32, n*3*s.imageSize*s.imageSize)
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	return tensor.New(tensor.WithShape(n, 3, s.imageSize, s.imageSize), tensor.WithBacking(data))
}
