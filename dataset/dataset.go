package dataset

import (
	"fmt"

	"github.com/nvr-ai/go-tagger/config"
	"github.com/nvr-ai/go-tagger/images"
	"github.com/pkg/errors"
)

// ErrUnknownMode is returned for a split name other than train, valid or test.
var ErrUnknownMode = errors.New("unknown dataset mode")

// Mode names a split of the label table.
type Mode string

const (
	// ModeTrain is the training split.
	ModeTrain Mode = "train"
	// ModeValid is the validation split.
	ModeValid Mode = "valid"
	// ModeTest is the held-out test split.
	ModeTest Mode = "test"
)

// ParseMode parses a split name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeTrain, ModeValid, ModeTest:
		return m, nil
	default:
		return "", errors.Wrapf(ErrUnknownMode, "%q", s)
	}
}

// Sample is one preprocessed input.
type Sample struct {
	// Image is the CHW model input.
	Image []float32
	// Label is the multi-hot truth, nil for prediction-only datasets.
	Label []float32
	// Path is the media file the sample came from.
	Path string
	// Frame is the video frame index, or -1 for still images.
	Frame int
}

// Dataset is an indexable source of samples.
type Dataset interface {
	Len() int
	Get(i int) (Sample, error)
}

// SplitRange returns the [start, end) rows of mode in a table of n rows.
//
// Rows are split in file order: the first train_split fraction is train, the next valid_split
// fraction is valid and the remainder is test.
func SplitRange(mode Mode, n int, cfg *config.Config) (int, int, error) {
	trainEnd := int(float64(n) * cfg.TrainSplit)
	validEnd := trainEnd + int(float64(n)*cfg.ValidSplit)
	if validEnd > n {
		validEnd = n
	}

	switch mode {
	case ModeTrain:
		return 0, trainEnd, nil
	case ModeValid:
		return trainEnd, validEnd, nil
	case ModeTest:
		return validEnd, n, nil
	default:
		return 0, 0, errors.Wrapf(ErrUnknownMode, "%q", mode)
	}
}

// ImageDataset serves labelled images of one split of a label table.
type ImageDataset struct {
	table *LabelTable
	cfg   *config.Config
	mode  Mode
	start int
	end   int
}

// NewImageDataset creates the dataset of a split.
//
// Arguments:
//   - table: The cached label table.
//   - mode: The split to serve.
//   - cfg: The run configuration.
//
// Returns:
//   - *ImageDataset: The split view; rows are not copied.
//   - error: ErrUnknownMode for an invalid mode.
func NewImageDataset(table *LabelTable, mode Mode, cfg *config.Config) (*ImageDataset, error) {
	start, end, err := SplitRange(mode, table.Len(), cfg)
	if err != nil {
		return nil, err
	}
	return &ImageDataset{table: table, cfg: cfg, mode: mode, start: start, end: end}, nil
}

// Mode is the split this dataset serves.
func (d *ImageDataset) Mode() Mode {
	return d.mode
}

// Len is the number of rows in the split.
func (d *ImageDataset) Len() int {
	return d.end - d.start
}

// Get loads and preprocesses row i of the split.
func (d *ImageDataset) Get(i int) (Sample, error) {
	if i < 0 || i >= d.Len() {
		return Sample{}, fmt.Errorf("index %d out of range for %s split of %d", i, d.mode, d.Len())
	}
	row := d.start + i
	path := d.cfg.ResolveImagePath(d.table.Paths[row])

	data, err := images.PreprocessFile(path, d.cfg)
	if err != nil {
		return Sample{}, err
	}

	label := make([]float32, len(d.table.Labels[row]))
	copy(label, d.table.Labels[row])
	return Sample{Image: data, Label: label, Path: path, Frame: -1}, nil
}

// PredictDataset serves unlabelled images for inference.
type PredictDataset struct {
	paths []string
	cfg   *config.Config
}

// NewPredictDataset creates a dataset over image files.
func NewPredictDataset(paths []string, cfg *config.Config) *PredictDataset {
	return &PredictDataset{paths: paths, cfg: cfg}
}

// Len is the number of images.
func (d *PredictDataset) Len() int {
	return len(d.paths)
}

// Get loads and preprocesses image i.
func (d *PredictDataset) Get(i int) (Sample, error) {
	if i < 0 || i >= len(d.paths) {
		return Sample{}, fmt.Errorf("index %d out of range for %d images", i, len(d.paths))
	}
	data, err := images.PreprocessFile(d.paths[i], d.cfg)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Image: data, Path: d.paths[i], Frame: -1}, nil
}

// PreprocessSingleImage prepares one image file for a single prediction.
func PreprocessSingleImage(path string, cfg *config.Config) ([]float32, error) {
	return images.PreprocessFile(path, cfg)
}
