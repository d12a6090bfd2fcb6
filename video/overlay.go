package video

import (
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/nvr-ai/go-tagger/images"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Codec is the FourCC of annotated output videos.
const Codec = "mp4v"

var tagColor = color.RGBA{0, 255, 0, 255}

// ActivePrediction returns the index of the most recent sampled frame at or before frame n, or
// -1 when n precedes every sample. frames must be ascending.
func ActivePrediction(frames []int, n int) int {
	return sort.Search(len(frames), func(i int) bool { return frames[i] > n }) - 1
}

// Overlay writes a copy of a video with predicted tags drawn on every frame.
//
// Each frame carries the tags of the most recent sampled prediction; frames before the first
// sample are copied unchanged.
//
// Arguments:
//   - input: The source video.
//   - predictions: One multi-hot row per sampled frame.
//   - frames: The sampled frame indices, ascending, parallel to predictions.
//   - tags: Class index to tag name.
//   - output: The annotated video to write.
//
// Returns:
//   - int: The number of frames written.
//   - error: An error if the videos cannot be opened or the inputs disagree.
func Overlay(input string, predictions [][]int, frames []int, tags map[int]string, output string) (int, error) {
	if len(predictions) != len(frames) {
		return 0, fmt.Errorf("%d predictions for %d sampled frames", len(predictions), len(frames))
	}
	if !sort.IntsAreSorted(frames) {
		return 0, errors.New("sampled frames must be ascending")
	}

	capture, err := gocv.VideoCaptureFile(input)
	if err != nil {
		return 0, errors.Wrapf(err, "opening video %s", input)
	}
	defer capture.Close()

	fps := capture.Get(gocv.VideoCaptureFPS)
	width := int(capture.Get(gocv.VideoCaptureFrameWidth))
	height := int(capture.Get(gocv.VideoCaptureFrameHeight))

	writer, err := gocv.VideoWriterFile(output, Codec, fps, width, height, true)
	if err != nil {
		return 0, errors.Wrapf(err, "creating video %s", output)
	}
	defer writer.Close()

	// Tag lines are rendered once per sampled prediction.
	lines := make([][]string, len(predictions))
	for i, pred := range predictions {
		lines[i] = images.PredictedTags(pred, tags)
	}

	img := gocv.NewMat()
	defer img.Close()

	written := 0
	for n := 0; ; n++ {
		if ok := capture.Read(&img); !ok || img.Empty() {
			break
		}
		if active := ActivePrediction(frames, n); active >= 0 {
			for k, line := range lines[active] {
				gocv.PutText(&img, line, image.Pt(10, 30+25*k), gocv.FontHersheySimplex, 0.8, tagColor, 2)
			}
		}
		if err := writer.Write(img); err != nil {
			return written, errors.Wrapf(err, "writing frame %d", n)
		}
		written++
	}
	return written, nil
}
