package driver

import (
	"context"
	"os"
	"path/filepath"

	"github.com/nvr-ai/go-tagger/config"
	"github.com/nvr-ai/go-tagger/dataset"
	"github.com/nvr-ai/go-tagger/evaluation"
	"github.com/nvr-ai/go-tagger/images"
	"github.com/nvr-ai/go-tagger/video"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultTimeInterval is the number of seconds between sampled video frames.
const DefaultTimeInterval = 2.0

// Predictor is the part of the evaluator the driver needs.
type Predictor interface {
	Predict(ctx context.Context, loader *dataset.Loader) (*evaluation.Predictions, error)
	Binarize(preds *evaluation.Predictions, threshold float32) ([][]int, error)
	SinglePrediction(ctx context.Context, image []float32, threshold float32) ([]int, error)
}

// Options configure a Driver.
type Options struct {
	// OutputDir receives annotated copies named after their inputs.
	OutputDir string
	// TimeInterval is the seconds between sampled video frames.
	TimeInterval float64
	// Threshold is the probability cutoff; nil uses the configured threshold.
	Threshold *float32
	// Tags map class indices to the names drawn on outputs.
	Tags map[int]string
}

// Driver runs a predictor over inputs and writes annotated outputs.
type Driver struct {
	predictor Predictor
	cfg       *config.Config
	opts      Options
	threshold float32
	log       logrus.FieldLogger
}

// New creates a driver.
//
// Arguments:
//   - predictor: Usually an *evaluation.Evaluator.
//   - cfg: The run configuration.
//   - opts: Output location, threshold, video sampling and tag names.
//   - logger: The logger.
//
// Returns:
//   - *Driver: The driver.
func New(predictor Predictor, cfg *config.Config, opts Options, logger logrus.FieldLogger) *Driver {
	if opts.TimeInterval <= 0 {
		opts.TimeInterval = DefaultTimeInterval
	}
	threshold := cfg.Threshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	return &Driver{
		predictor: predictor,
		cfg:       cfg,
		opts:      opts,
		threshold: threshold,
		log:       logger.WithField("component", "driver"),
	}
}

// Run tags input and writes the annotated copies.
//
// Arguments:
//   - ctx: Checked between batches.
//   - input: The resolved input.
//
// Returns:
//   - []string: The written output files.
//   - error: ErrUnsupportedInput or ErrInvalidInput wrapped with the path, or a processing error.
func (d *Driver) Run(ctx context.Context, input Input) ([]string, error) {
	switch input.Kind {
	case KindUnsupported:
		return nil, errors.Wrap(ErrUnsupportedInput, input.Path)
	case KindInvalid:
		return nil, errors.Wrap(ErrInvalidInput, input.Path)
	}

	if err := os.MkdirAll(d.opts.OutputDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating output folder %s", d.opts.OutputDir)
	}

	log := d.log.WithFields(logrus.Fields{"input": input.Path, "kind": input.Kind.String()})
	log.Info("running inference")

	var (
		outputs []string
		err     error
	)
	switch input.Kind {
	case KindDirectory:
		outputs, err = d.runDirectory(ctx, input.Path)
	case KindImage:
		outputs, err = d.runImage(ctx, input.Path)
	case KindVideo:
		outputs, err = d.runVideo(ctx, input.Path)
	}
	if err != nil {
		return outputs, err
	}

	log.WithField("outputs", len(outputs)).Info("inference complete")
	return outputs, nil
}

func (d *Driver) runDirectory(ctx context.Context, dir string) ([]string, error) {
	paths, err := ListImages(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		d.log.WithField("input", dir).Warn("no images found")
		return nil, nil
	}

	loader := dataset.NewLoader(dataset.NewPredictDataset(paths, d.cfg), d.cfg.BatchSize, false, d.cfg.Seed)
	preds, err := d.predictor.Predict(ctx, loader)
	if err != nil {
		return nil, err
	}
	rows, err := d.predictor.Binarize(preds, d.threshold)
	if err != nil {
		return nil, err
	}

	outputs := make([]string, 0, len(rows))
	for i, path := range preds.Paths {
		out, err := d.annotate(path, rows[i])
		if err != nil {
			return outputs, err
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func (d *Driver) runImage(ctx context.Context, path string) ([]string, error) {
	data, err := dataset.PreprocessSingleImage(path, d.cfg)
	if err != nil {
		return nil, err
	}
	pred, err := d.predictor.SinglePrediction(ctx, data, d.threshold)
	if err != nil {
		return nil, err
	}
	out, err := d.annotate(path, pred)
	if err != nil {
		return nil, err
	}
	return []string{out}, nil
}

func (d *Driver) runVideo(ctx context.Context, path string) ([]string, error) {
	ds, err := video.Open(path, d.opts.TimeInterval, d.cfg)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	loader := dataset.NewLoader(ds, d.cfg.BatchSize, false, d.cfg.Seed)
	preds, err := d.predictor.Predict(ctx, loader)
	if err != nil {
		return nil, err
	}
	rows, err := d.predictor.Binarize(preds, d.threshold)
	if err != nil {
		return nil, err
	}

	out := d.outputPath(path)
	written, err := video.Overlay(path, rows, preds.Frames, d.opts.Tags, out)
	if err != nil {
		return nil, err
	}
	d.log.WithFields(logrus.Fields{
		"output":  out,
		"samples": len(rows),
		"frames":  written,
	}).Debug("wrote annotated video")
	return []string{out}, nil
}

func (d *Driver) annotate(path string, pred []int) (string, error) {
	img, err := images.Load(path)
	if err != nil {
		return "", err
	}
	out := d.outputPath(path)
	if err := images.Save(images.OverlayPredictions(img, pred, d.opts.Tags, nil), out); err != nil {
		return "", err
	}
	return out, nil
}

func (d *Driver) outputPath(input string) string {
	return filepath.Join(d.opts.OutputDir, filepath.Base(input))
}
