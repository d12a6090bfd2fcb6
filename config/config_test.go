package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model_name: efficientnet_b0
image_size: 300
num_classes: 2
threshold: 0.4
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "efficientnet_b0", cfg.ModelName)
	assert.Equal(t, 300, cfg.ImageSize)
	assert.Equal(t, 2, cfg.NumClasses)
	assert.InDelta(t, 0.4, cfg.Threshold, 1e-6)
	assert.Equal(t, 32, cfg.BatchSize, "unset fields keep their defaults")
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero batch", "batch_size: 0"},
		{"split overflow", "train_split: 0.9\nvalid_split: 0.2"},
		{"threshold", "threshold: 1.5"},
		{"provider", "provider: tpu"},
		{"std", "std: [0.2, 0, 0.2]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.ModelsDir = "/models"
	cfg.BoardDir = "/board"
	cfg.LogDir = "/logs"

	assert.Equal(t, "/models/resnet50_224_DEFAULT/best_model.onnx", cfg.ModelPath())
	assert.Equal(t, "/board/resnet50_DEFAULT_224", cfg.BoardPath())

	now := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	assert.Equal(t, "/logs/resnet50_224_DEFAULT/inference__20240309_140506.log", cfg.LogPath("inference", now))
}

func TestResolveImagePath(t *testing.T) {
	cfg := Default()
	cfg.DatasetPath = "/data/train.csv"
	assert.Equal(t, "/data/a.jpg", cfg.ResolveImagePath("a.jpg"))
	assert.Equal(t, "/abs/b.jpg", cfg.ResolveImagePath("/abs/b.jpg"))

	cfg.ImagesDir = "/images"
	assert.Equal(t, "/images/a.jpg", cfg.ResolveImagePath("a.jpg"))
}

func TestFingerprint(t *testing.T) {
	a := Default()
	b := Default()
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.DatasetPath = "other.csv"
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	c := Default()
	c.Threshold = 0.9
	assert.Equal(t, a.Fingerprint(), c.Fingerprint(), "threshold does not change the dataset view")
}
