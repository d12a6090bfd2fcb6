package video

import (
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-tagger/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsVideo(t *testing.T) {
	assert.True(t, IsVideo("clip.mp4"))
	assert.True(t, IsVideo("clip.MOV"))
	assert.True(t, IsVideo("/a/b/clip.Avi"))
	assert.False(t, IsVideo("clip.mkv"))
	assert.False(t, IsVideo("clip.jpg"))
}

func TestFrameStep(t *testing.T) {
	assert.Equal(t, 60, FrameStep(30, 2))
	assert.Equal(t, 15, FrameStep(29.97, 0.5))
	assert.Equal(t, 1, FrameStep(30, 0))
	assert.Equal(t, 1, FrameStep(30, -1))
}

func TestSampleFrames(t *testing.T) {
	assert.Equal(t, []int{0, 60, 120}, SampleFrames(150, 60))
	assert.Equal(t, []int{0}, SampleFrames(10, 60))
	assert.Empty(t, SampleFrames(0, 60))
}

func TestActivePrediction(t *testing.T) {
	frames := []int{0, 60, 120}

	assert.Equal(t, 0, ActivePrediction(frames, 0))
	assert.Equal(t, 0, ActivePrediction(frames, 59))
	assert.Equal(t, 1, ActivePrediction(frames, 60))
	assert.Equal(t, 2, ActivePrediction(frames, 500))
	assert.Equal(t, -1, ActivePrediction([]int{10}, 3))
}

func TestTagColorIsOpaque(t *testing.T) {
	assert.Equal(t, uint8(255), tagColor.A)
	assert.Equal(t, uint8(255), tagColor.G)
}

func TestOverlayRejectsMismatchedInputs(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.mp4")

	_, err := Overlay("in.mp4", [][]int{{1}}, []int{0, 60}, nil, out)
	assert.Error(t, err)

	_, err = Overlay("in.mp4", [][]int{{1}, {0}}, []int{60, 0}, nil, out)
	assert.Error(t, err)
}

func TestOpenMissingVideo(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mp4"), 2, config.Default())
	require.Error(t, err)
}
