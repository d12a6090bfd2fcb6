package board

import (
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-tagger/config"
	"github.com/nvr-ai/go-tagger/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func newWriter(t *testing.T) *Writer {
	t.Helper()
	cfg := config.Default()
	cfg.BoardDir = t.TempDir()
	cfg.NumClasses = 2
	w, err := New(cfg, map[int]string{0: "cat", 1: "dog"}, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestScalarsAndHparams(t *testing.T) {
	w := newWriter(t)

	require.NoError(t, w.AddScalar("Eval/test/Loss", 0.25, 3))
	require.NoError(t, w.AddHparams(map[string]any{"model": "resnet50"}, map[string]float64{"f1": 0.9}))
	require.NoError(t, w.Close())

	events, err := ReadEvents(w.EventsPath())
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, KindScalar, events[0].Kind)
	assert.Equal(t, "Eval/test/Loss", events[0].Tag)
	assert.Equal(t, 3, events[0].Step)
	require.NotNil(t, events[0].Value)
	assert.Equal(t, 0.25, *events[0].Value)
	assert.Equal(t, w.Run(), events[0].Run)

	assert.Equal(t, KindHparams, events[1].Kind)
	assert.Equal(t, "resnet50", events[1].Hparams["model"])
	assert.Equal(t, 0.9, events[1].Metrics["f1"])
}

func TestNewHistogram(t *testing.T) {
	h, err := NewHistogram([]float64{1, 0.2, math.NaN(), 0.9, 0}, 2)
	require.NoError(t, err)

	assert.Equal(t, 0.0, h.Min)
	assert.Equal(t, 1.0, h.Max)
	assert.InDelta(t, 2.1, h.Sum, 1e-12)
	assert.Equal(t, 4, h.Count)
	assert.Len(t, h.Dividers, 3)
	assert.Equal(t, []float64{2, 2}, h.Buckets)
}

func TestNewHistogramConstantValues(t *testing.T) {
	h, err := NewHistogram([]float64{0.7, 0.7, 0.7}, 4)
	require.NoError(t, err)
	assert.Equal(t, 3.0, h.Buckets[0])

	_, err = NewHistogram(nil, 4)
	assert.Error(t, err)
}

func TestWriteImageTestResults(t *testing.T) {
	w := newWriter(t)
	batch := tensor.New(tensor.WithShape(2, 3, 8, 8), tensor.WithBacking(make([]float32, 2*3*8*8)))
	labels := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float32{1, 0, 0, 1}))
	preds := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float32{1, 1, 0, 1}))

	require.NoError(t, w.WriteImageTestResults(batch, labels, preds, 7, "Eval", "test"))
	require.NoError(t, w.Close())

	events, err := ReadEvents(w.EventsPath())
	require.NoError(t, err)

	var tags []string
	for _, e := range events {
		assert.Equal(t, KindImages, e.Kind)
		assert.Equal(t, 7, e.Step)
		assert.Len(t, e.Images, 2)
		for _, p := range e.Images {
			_, err := os.Stat(filepath.Join(w.Dir(), p))
			assert.NoError(t, err)
		}
		tags = append(tags, e.Tag)
	}
	assert.Equal(t, []string{
		"Eval/test/Images",
		"Eval/test/True Labels",
		"Eval/test/Predictions",
		"Eval/test/OverlayPredictions",
	}, tags)
}

func TestWriteImageTestResultsRejectsMismatch(t *testing.T) {
	w := newWriter(t)
	batch := tensor.New(tensor.WithShape(1, 3, 4, 4), tensor.WithBacking(make([]float32, 48)))
	preds := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float32{1, 0, 0, 1}))

	assert.Error(t, w.WriteImageTestResults(batch, nil, preds, 0, "Eval", "test"))
}

func TestCloseIsIdempotent(t *testing.T) {
	w := newWriter(t)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.AddScalar("x", 1, 0), ErrClosed)
	assert.ErrorIs(t, w.AddImages("x", []image.Image{image.NewRGBA(image.Rect(0, 0, 1, 1))}, 0), ErrClosed)
}
