// Package video - Sampling video frames for prediction and writing annotated copies.
package video

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nvr-ai/go-tagger/config"
	"github.com/nvr-ai/go-tagger/dataset"
	"github.com/nvr-ai/go-tagger/images"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Extensions are the supported video file extensions, lower case.
var Extensions = []string{".mp4", ".avi", ".mov"}

// IsVideo reports whether path has a supported video extension, ignoring case.
func IsVideo(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// FrameStep is the number of frames between two samples taken every interval seconds.
func FrameStep(fps, interval float64) int {
	step := int(math.Round(fps * interval))
	if step < 1 {
		return 1
	}
	return step
}

// SampleFrames returns the indices of the sampled frames of a video with total frames.
func SampleFrames(total, step int) []int {
	if step < 1 {
		step = 1
	}
	frames := make([]int, 0, total/step+1)
	for f := 0; f < total; f += step {
		frames = append(frames, f)
	}
	return frames
}

// Dataset serves one preprocessed frame every interval seconds of a video file.
//
// Reads seek the capture, so Get is serialized.
type Dataset struct {
	mu      sync.Mutex
	path    string
	capture *gocv.VideoCapture
	frames  []int
	fps     float64
	size    int
	norm    images.Normalization
}

var _ dataset.Dataset = (*Dataset)(nil)

// Open samples a video.
//
// Arguments:
//   - path: The video file.
//   - interval: Seconds between sampled frames; values <= 0 sample every frame.
//   - cfg: The run configuration, for the input size and normalization.
//
// Returns:
//   - *Dataset: The open dataset; Close releases the capture.
//   - error: An error if the file cannot be opened or reports no frame rate.
func Open(path string, interval float64, cfg *config.Config) (*Dataset, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening video %s", path)
	}

	fps := capture.Get(gocv.VideoCaptureFPS)
	total := int(capture.Get(gocv.VideoCaptureFrameCount))
	if fps <= 0 || total <= 0 {
		capture.Close()
		return nil, fmt.Errorf("video %s reports %.2f fps and %d frames", path, fps, total)
	}

	return &Dataset{
		path:    path,
		capture: capture,
		frames:  SampleFrames(total, FrameStep(fps, interval)),
		fps:     fps,
		size:    cfg.ImageSize,
		norm:    images.NormalizationFor(cfg),
	}, nil
}

// Len is the number of sampled frames.
func (d *Dataset) Len() int {
	return len(d.frames)
}

// FPS is the frame rate reported by the container.
func (d *Dataset) FPS() float64 {
	return d.fps
}

// Frames are the sampled frame indices, ascending.
func (d *Dataset) Frames() []int {
	return d.frames
}

// Get decodes and preprocesses sampled frame i.
func (d *Dataset) Get(i int) (dataset.Sample, error) {
	if i < 0 || i >= len(d.frames) {
		return dataset.Sample{}, fmt.Errorf("frame sample %d out of range for %d", i, len(d.frames))
	}
	frame := d.frames[i]

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capture == nil {
		return dataset.Sample{}, errors.New("video dataset is closed")
	}

	d.capture.Set(gocv.VideoCapturePosFrames, float64(frame))
	mat := gocv.NewMat()
	defer mat.Close()
	if ok := d.capture.Read(&mat); !ok || mat.Empty() {
		return dataset.Sample{}, fmt.Errorf("cannot read frame %d of %s", frame, d.path)
	}

	// ToImage converts the BGR frame to RGBA.
	img, err := mat.ToImage()
	if err != nil {
		return dataset.Sample{}, errors.Wrapf(err, "converting frame %d", frame)
	}

	return dataset.Sample{
		Image: images.Preprocess(img, d.size, d.norm),
		Path:  d.path,
		Frame: frame,
	}, nil
}

// Close releases the capture. Calling it twice is a no-op.
func (d *Dataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil {
		return nil
	}
	err := d.capture.Close()
	d.capture = nil
	return err
}
