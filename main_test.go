package main

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-tagger/evaluation"
	"github.com/nvr-ai/go-tagger/images"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFailsWithoutLabelTable(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.png")
	require.NoError(t, images.Save(image.NewRGBA(image.Rect(0, 0, 16, 16)), src))

	cfgPath := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("dataset_path: %q\nlog_dir: %q\nmodels_dir: %q\n",
		filepath.Join(dir, "missing.csv"), filepath.Join(dir, "logs"), filepath.Join(dir, "models"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))

	out := filepath.Join(dir, "outputs")
	err := run(src, out, cfgPath, 2, float32(evaluation.ConfigThreshold))

	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "missing.csv")
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}
