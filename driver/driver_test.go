package driver

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-tagger/config"
	"github.com/nvr-ai/go-tagger/evaluation"
	"github.com/nvr-ai/go-tagger/images"
	"github.com/nvr-ai/go-tagger/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// allTags predicts every class for every image.
type allTags struct{ classes int }

func (m allTags) Forward(_ context.Context, imgs *tensor.Dense) (*tensor.Dense, error) {
	n := imgs.Shape()[0]
	out := make([]float32, n*m.classes)
	for i := range out {
		out[i] = 4
	}
	return tensor.New(tensor.WithShape(n, m.classes), tensor.WithBacking(out)), nil
}

func (m allTags) NumClasses() int { return m.classes }
func (m allTags) Close() error    { return nil }

// thresholdRecorder passes through to an evaluator and keeps the cutoffs it was asked for.
type thresholdRecorder struct {
	Predictor
	seen []float32
}

func (r *thresholdRecorder) Binarize(preds *evaluation.Predictions, threshold float32) ([][]int, error) {
	r.seen = append(r.seen, threshold)
	return r.Predictor.Binarize(preds, threshold)
}

func (r *thresholdRecorder) SinglePrediction(ctx context.Context, image []float32, threshold float32) ([]int, error) {
	r.seen = append(r.seen, threshold)
	return r.Predictor.SinglePrediction(ctx, image, threshold)
}

func writeImage(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 24, 24))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.RGBA{20, 120, 200, 255}}, image.Point{}, draw.Src)
	require.NoError(t, images.Save(img, path))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ImageSize = 8
	cfg.BatchSize = 2
	cfg.NumClasses = 2
	return cfg
}

func newEvaluator(t *testing.T, cfg *config.Config) *evaluation.Evaluator {
	t.Helper()
	e, err := evaluation.NewEvaluator(evaluation.Args{
		Model:  allTags{classes: 2},
		Config: cfg,
		Logger: logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func newDriver(t *testing.T, out string) *Driver {
	t.Helper()
	cfg := testConfig()
	return New(newEvaluator(t, cfg), cfg, Options{OutputDir: out, Tags: map[int]string{0: "cat", 1: "dog"}}, logging.Discard())
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "a.JPG")
	vid := filepath.Join(dir, "b.mov")
	txt := filepath.Join(dir, "c.txt")
	writeImage(t, img)
	require.NoError(t, os.WriteFile(vid, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))

	assert.Equal(t, KindDirectory, Resolve(dir).Kind)
	assert.Equal(t, KindImage, Resolve(img).Kind)
	assert.Equal(t, KindVideo, Resolve(vid).Kind)
	assert.Equal(t, KindUnsupported, Resolve(txt).Kind)
	assert.Equal(t, KindInvalid, Resolve(filepath.Join(dir, "missing.png")).Kind)
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "b.png"))
	writeImage(t, filepath.Join(dir, "a.jpeg"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.png"), 0o755))

	paths, err := ListImages(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.jpeg"), filepath.Join(dir, "b.png")}, paths)
}

func TestDefaultOutputDir(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "inference_outputs"), DefaultOutputDir(filepath.Join("data", "clip.mp4")))
	assert.Equal(t, filepath.Join("data", "inference_outputs"), DefaultOutputDir(filepath.Join("data", "frames")+"/"))
}

func TestRunDirectoryWritesOnlyImages(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(t.TempDir(), "outputs")
	writeImage(t, filepath.Join(dir, "one.jpg"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))

	outputs, err := newDriver(t, out).Run(context.Background(), Resolve(dir))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(out, "one.jpg")}, outputs)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "one.jpg", entries[0].Name())
}

func TestRunSingleImage(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "outputs")
	src := filepath.Join(dir, "photo.png")
	writeImage(t, src)

	outputs, err := newDriver(t, out).Run(context.Background(), Resolve(src))
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(out, "photo.png")}, outputs)

	img, err := images.Load(outputs[0])
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 24, 24), img.Bounds())
}

func TestRunRejectsUnsupportedAndInvalid(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))
	d := newDriver(t, filepath.Join(dir, "outputs"))

	_, err := d.Run(context.Background(), Resolve(txt))
	assert.ErrorIs(t, err, ErrUnsupportedInput)

	_, err = d.Run(context.Background(), Resolve(filepath.Join(dir, "nope")))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = os.Stat(filepath.Join(dir, "outputs"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunEmptyDirectory(t *testing.T) {
	outputs, err := newDriver(t, filepath.Join(t.TempDir(), "outputs")).Run(context.Background(), Resolve(t.TempDir()))
	require.NoError(t, err)
	assert.Empty(t, outputs)
}

func TestThresholdOption(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.png")
	writeImage(t, src)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "frames"), 0o755))
	writeImage(t, filepath.Join(dir, "frames", "a.png"))
	cfg := testConfig()
	cfg.Threshold = 0.7

	unset := &thresholdRecorder{Predictor: newEvaluator(t, cfg)}
	_, err := New(unset, cfg, Options{OutputDir: filepath.Join(dir, "unset")}, logging.Discard()).
		Run(context.Background(), Resolve(src))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.7}, unset.seen)

	zero := &thresholdRecorder{Predictor: newEvaluator(t, cfg)}
	d := New(zero, cfg, Options{OutputDir: filepath.Join(dir, "zero"), Threshold: evaluation.Threshold(0)}, logging.Discard())
	_, err = d.Run(context.Background(), Resolve(src))
	require.NoError(t, err)
	_, err = d.Run(context.Background(), Resolve(filepath.Join(dir, "frames")))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0}, zero.seen)
}
