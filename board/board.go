// Package board - Experiment tracking: scalars, histograms, hyperparameters and annotated images.
//
// Events are appended to a JSON-lines file, one object per record, and images are written as PNG
// files next to it so a run can be inspected with ordinary tools.
package board

import (
	"encoding/json"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nvr-ai/go-tagger/config"
	"github.com/nvr-ai/go-tagger/images"
	"github.com/nvr-ai/go-tagger/metrics"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("board writer is closed")

// DefaultBuckets is the number of histogram buckets.
const DefaultBuckets = 10

// Kind identifies the payload of an Event.
type Kind string

const (
	KindScalar    Kind = "scalar"
	KindHistogram Kind = "histogram"
	KindImages    Kind = "images"
	KindHparams   Kind = "hparams"
)

// Histogram is a bucketed summary of a set of values.
type Histogram struct {
	Min      float64   `json:"min"`
	Max      float64   `json:"max"`
	Sum      float64   `json:"sum"`
	Count    int       `json:"count"`
	Dividers []float64 `json:"dividers"`
	Buckets  []float64 `json:"buckets"`
}

// Event is one line of the events file.
type Event struct {
	Time      time.Time          `json:"time"`
	Run       string             `json:"run"`
	Kind      Kind               `json:"kind"`
	Tag       string             `json:"tag,omitempty"`
	Step      int                `json:"step"`
	Value     *float64           `json:"value,omitempty"`
	Histogram *Histogram         `json:"histogram,omitempty"`
	Images    []string           `json:"images,omitempty"`
	Hparams   map[string]any     `json:"hparams,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// Writer records events for one run.
//
// It is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	dir     string
	run     string
	file    *os.File
	enc     *json.Encoder
	tags    map[int]string
	classes int
	norm    images.Normalization
	log     logrus.FieldLogger
	now     func() time.Time
}

// New opens a writer under cfg.BoardPath().
//
// Arguments:
//   - cfg: The run configuration.
//   - tags: Class index to tag name, used to annotate images.
//   - logger: The logger.
//
// Returns:
//   - *Writer: The open writer.
//   - error: An error if the directory or events file cannot be created.
func New(cfg *config.Config, tags map[int]string, logger logrus.FieldLogger) (*Writer, error) {
	dir := cfg.BoardPath()
	if err := os.MkdirAll(filepath.Join(dir, "images"), 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating board directory %s", dir)
	}

	run := uuid.NewString()
	path := filepath.Join(dir, fmt.Sprintf("events.%s.jsonl", run))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	w := &Writer{
		dir:     dir,
		run:     run,
		file:    f,
		enc:     json.NewEncoder(f),
		tags:    tags,
		classes: cfg.NumClasses,
		norm:    images.NormalizationFor(cfg),
		log:     logger.WithFields(logrus.Fields{"component": "board", "run": run}),
		now:     time.Now,
	}
	w.log.WithField("path", path).Info("opened board writer")
	return w, nil
}

// Dir is the run directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Run is the unique id of this writer.
func (w *Writer) Run() string {
	return w.run
}

// EventsPath is the JSON-lines file events are appended to.
func (w *Writer) EventsPath() string {
	return filepath.Join(w.dir, fmt.Sprintf("events.%s.jsonl", w.run))
}

// AddScalar records one value.
func (w *Writer) AddScalar(tag string, value float64, step int) error {
	return w.write(Event{Kind: KindScalar, Tag: tag, Step: step, Value: &value})
}

// AddHistogram records the distribution of values.
//
// Arguments:
//   - tag: The stream name.
//   - values: The values; NaNs are dropped. An empty set is an error.
//   - step: The step.
//
// Returns:
//   - error: ErrClosed, or an error if there is nothing to bucket.
func (w *Writer) AddHistogram(tag string, values []float64, step int) error {
	h, err := NewHistogram(values, DefaultBuckets)
	if err != nil {
		return errors.Wrapf(err, "histogram %s", tag)
	}
	return w.write(Event{Kind: KindHistogram, Tag: tag, Step: step, Histogram: h})
}

// NewHistogram buckets values into n equal-width bins spanning their range.
func NewHistogram(values []float64, n int) (*Histogram, error) {
	x := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			x = append(x, v)
		}
	}
	if len(x) == 0 {
		return nil, errors.New("no values")
	}
	if n < 1 {
		n = 1
	}
	sort.Float64s(x)

	lo, hi := x[0], x[len(x)-1]
	upper := math.Nextafter(hi, math.Inf(1))
	if lo == hi {
		upper = lo + 1
	}
	dividers := floats.Span(make([]float64, n+1), lo, upper)

	return &Histogram{
		Min:      lo,
		Max:      hi,
		Sum:      floats.Sum(x),
		Count:    len(x),
		Dividers: dividers,
		Buckets:  stat.Histogram(nil, dividers, x, nil),
	}, nil
}

// AddImages writes each image as a PNG and records their paths relative to the run directory.
func (w *Writer) AddImages(tag string, imgs []image.Image, step int) error {
	w.mu.Lock()
	closed := w.file == nil
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}

	base := sanitize(tag)
	paths := make([]string, 0, len(imgs))
	for i, img := range imgs {
		rel := filepath.Join("images", fmt.Sprintf("%s_%06d_%03d.png", base, step, i))
		if err := images.Save(img, filepath.Join(w.dir, rel)); err != nil {
			return errors.Wrapf(err, "writing %s", tag)
		}
		paths = append(paths, rel)
	}
	return w.write(Event{Kind: KindImages, Tag: tag, Step: step, Images: paths})
}

// AddHparams records the hyperparameters of a run with the metrics it reached.
func (w *Writer) AddHparams(hparams map[string]any, results map[string]float64) error {
	return w.write(Event{Kind: KindHparams, Hparams: hparams, Metrics: results})
}

// WriteImageTestResults renders one evaluated batch.
//
// Four image streams are written under {mode}/{subset}/: the denormalized inputs, the true and
// predicted labels as colour strips, and the inputs overlaid with the predicted tags.
//
// Arguments:
//   - batch: The normalized images, (N, 3, S, S).
//   - labels: The true labels, (N, C); nil skips the truth stream and overlay colouring.
//   - predictions: The thresholded predictions, (N, C).
//   - step: The step.
//   - mode: The run mode, for example "Eval".
//   - subset: The dataset subset, for example "test".
//
// Returns:
//   - error: The first rendering or write error.
func (w *Writer) WriteImageTestResults(batch, labels, predictions *tensor.Dense, step int, mode, subset string) error {
	imgs, err := images.Denormalize(batch, w.norm)
	if err != nil {
		return err
	}
	pred, err := metrics.MultiHot(predictions)
	if err != nil {
		return errors.Wrap(err, "predictions")
	}
	if len(pred) != len(imgs) {
		return fmt.Errorf("%d predictions for %d images", len(pred), len(imgs))
	}

	var truth [][]int
	if labels != nil {
		if truth, err = metrics.MultiHot(labels); err != nil {
			return errors.Wrap(err, "labels")
		}
	}

	prefix := mode + "/" + subset + "/"
	if err := w.AddImages(prefix+"Images", imgs, step); err != nil {
		return err
	}
	if truth != nil {
		if err := w.AddImages(prefix+"True Labels", images.LabelColors(truth, w.classes), step); err != nil {
			return err
		}
	}
	if err := w.AddImages(prefix+"Predictions", images.LabelColors(pred, w.classes), step); err != nil {
		return err
	}
	return w.AddImages(prefix+"OverlayPredictions", images.OverlayPredictionsBatch(imgs, pred, w.tags, truth), step)
}

// Close flushes and closes the events file. Later calls are no-ops.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.enc = nil
	if err != nil {
		return errors.Wrap(err, "closing events file")
	}
	w.log.Debug("closed board writer")
	return nil
}

func (w *Writer) write(e Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}
	e.Time = w.now()
	e.Run = w.run
	if err := w.enc.Encode(e); err != nil {
		return errors.Wrapf(err, "writing %s event", e.Kind)
	}
	return nil
}

func sanitize(tag string) string {
	return strings.NewReplacer("/", "_", " ", "_").Replace(tag)
}

// ReadEvents loads every event of an events file, in write order.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Event
	dec := json.NewDecoder(f)
	for dec.More() {
		var e Event
		if err := dec.Decode(&e); err != nil {
			return nil, errors.Wrapf(err, "decoding event %d of %s", len(out), path)
		}
		out = append(out, e)
	}
	return out, nil
}
