package benchmark

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nvr-ai/go-tagger/config"
	"github.com/nvr-ai/go-tagger/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// mockClassifier returns zero logits and fails the calls listed in fail.
type mockClassifier struct {
	calls   int
	shapes  [][]int
	fail    map[int]bool
	classes int
}

func (m *mockClassifier) Forward(_ context.Context, images *tensor.Dense) (*tensor.Dense, error) {
	m.calls++
	m.shapes = append(m.shapes, images.Shape().Clone())
	if m.fail[m.calls] {
		return nil, errors.New("boom")
	}
	n := images.Shape()[0]
	return tensor.New(tensor.WithShape(n, m.classes), tensor.WithBacking(make([]float32, n*m.classes))), nil
}

func (m *mockClassifier) NumClasses() int { return m.classes }
func (m *mockClassifier) Close() error    { return nil }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ImageSize = 8
	cfg.BatchSize = 4
	return cfg
}

func TestDefaultScenarios(t *testing.T) {
	scenarios := DefaultScenarios(testConfig(), 5)
	require.Len(t, scenarios, 2)
	assert.Equal(t, 1, scenarios[0].BatchSize)
	assert.Equal(t, 4, scenarios[1].BatchSize)
	assert.Equal(t, "batch_4", scenarios[1].Name)

	cfg := testConfig()
	cfg.BatchSize = 1
	assert.Len(t, DefaultScenarios(cfg, 0), 1)
	assert.Equal(t, 20, DefaultScenarios(cfg, 0)[0].Iterations)
}

func TestRunScenario(t *testing.T) {
	model := &mockClassifier{classes: 3}
	suite := NewSuite(model, testConfig(), logging.Discard())

	m, err := suite.RunScenario(context.Background(), Scenario{Name: "b2", BatchSize: 2, Iterations: 3, WarmupRuns: 1})
	require.NoError(t, err)

	assert.Equal(t, 4, model.calls)
	assert.Equal(t, []int{2, 3, 8, 8}, model.shapes[0])
	assert.Equal(t, 0, m.Errors)
	assert.Equal(t, 8, m.ImageSize)
	assert.LessOrEqual(t, m.MinLatency, m.MaxLatency)
	assert.Len(t, suite.Results(), 1)
}

func TestRunScenarioCountsFailures(t *testing.T) {
	model := &mockClassifier{classes: 1, fail: map[int]bool{2: true}}
	suite := NewSuite(model, testConfig(), logging.Discard())

	m, err := suite.RunScenario(context.Background(), Scenario{Name: "b1", BatchSize: 1, Iterations: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Errors)
}

func TestRunScenarioRejectsInvalid(t *testing.T) {
	suite := NewSuite(&mockClassifier{classes: 1}, testConfig(), logging.Discard())

	_, err := suite.RunScenario(context.Background(), Scenario{Name: "empty"})
	assert.Error(t, err)
}

func TestRunAllAndSave(t *testing.T) {
	cfg := testConfig()
	suite := NewSuite(&mockClassifier{classes: 2}, cfg, logging.Discard())
	for _, s := range DefaultScenarios(cfg, 2) {
		suite.AddScenario(s)
	}
	require.NoError(t, suite.RunAll(context.Background()))

	path, err := suite.SaveResults(t.TempDir(), time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Contains(t, path, "benchmark_results_2024-05-01_12-00-00.json")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var results []PerformanceMetrics
	require.NoError(t, json.Unmarshal(data, &results))
	assert.Len(t, results, 2)
}
