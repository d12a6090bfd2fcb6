package logging

import (
	"os"
	"strings"
	"testing"

	"github.com/nvr-ai/go-tagger/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToRunFile(t *testing.T) {
	cfg := config.Default()
	cfg.LogDir = t.TempDir()

	l, err := New(cfg, "inference")
	require.NoError(t, err)

	l.WithField("component", "test").Info("model loaded")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.True(t, strings.HasPrefix(l.Path, cfg.LogDir))
	data, err := os.ReadFile(l.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "model loaded")
	assert.Contains(t, string(data), "component=test")
}
