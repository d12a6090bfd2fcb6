// Package evaluation - Batched prediction, metric computation and diagnostic image logging.
package evaluation

import (
	"context"
	"fmt"
	"sync"

	"github.com/nvr-ai/go-tagger/config"
	"github.com/nvr-ai/go-tagger/dataset"
	"github.com/nvr-ai/go-tagger/inference"
	"github.com/nvr-ai/go-tagger/metrics"
	"github.com/nvr-ai/go-tagger/profiler"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

// Sink receives annotated image batches during evaluation.
type Sink interface {
	// WriteImageTestResults renders one batch: the normalized images (N, 3, S, S), their true
	// labels (N, C) and the thresholded predictions (N, C).
	WriteImageTestResults(images, labels, predictions *tensor.Dense, step int, mode, subset string) error
	Close() error
}

// Args are the dependencies of an Evaluator.
type Args struct {
	// Model produces logits; the Evaluator owns it and closes it in Close.
	Model  inference.Classifier
	Config *config.Config
	// Sink is optional.
	Sink Sink
	// Sampler picks the rendered batch; nil uses a RandomSampler seeded from Config.Seed.
	Sampler BatchSampler
	Logger  logrus.FieldLogger
	// Epochs is the training epoch count stored with the checkpoint.
	Epochs int
}

// Evaluator runs a classifier over loaders and scores the outputs.
type Evaluator struct {
	model    inference.Classifier
	cfg      *config.Config
	sink     Sink
	sampler  BatchSampler
	log      logrus.FieldLogger
	epochs   int
	profiler *profiler.Profiler

	closeOnce sync.Once
	closeErr  error
}

// Predictions are the concatenated outputs of one pass over a loader.
type Predictions struct {
	// Outputs are the raw logits, (n, C), in loader order.
	Outputs *tensor.Dense
	// Labels are the true labels, (n, C), or nil when the dataset has none.
	Labels *tensor.Dense
	// AvgLoss is the summed BCE-with-logits loss divided by the dataset length.
	AvgLoss float64
	Paths   []string
	Frames  []int
}

// Len is the number of predicted samples.
func (p *Predictions) Len() int {
	return len(p.Paths)
}

// EvalArgs select how predictions are scored and logged.
type EvalArgs struct {
	Step   int
	Subset string
	// MetricMode names the run in sink tags; "" disables image logging.
	MetricMode string
	Average    metrics.Average
	// Threshold is the probability cutoff; nil uses the configured threshold.
	Threshold *float32
}

// ConfigThreshold selects the configured threshold where a cutoff is passed by value.
const ConfigThreshold float32 = -1

// Threshold returns a pointer to t for EvalArgs.
func Threshold(t float32) *float32 {
	return &t
}

// Result is the outcome of Evaluate.
type Result struct {
	AvgLoss float64
	Scores  metrics.Scores
}

// NewEvaluator creates an evaluator.
//
// Arguments:
//   - args: The model, configuration and optional sink.
//
// Returns:
//   - *Evaluator: The evaluator.
//   - error: An error if the model or config is missing.
func NewEvaluator(args Args) (*Evaluator, error) {
	if args.Model == nil {
		return nil, errors.New("evaluator requires a model")
	}
	if args.Config == nil {
		return nil, errors.New("evaluator requires a config")
	}
	if args.Logger == nil {
		args.Logger = logrus.StandardLogger()
	}
	if args.Sampler == nil {
		args.Sampler = NewRandomSampler(args.Config.Seed)
	}
	return &Evaluator{
		model:    args.Model,
		cfg:      args.Config,
		sink:     args.Sink,
		sampler:  args.Sampler,
		log:      args.Logger.WithField("component", "evaluation"),
		epochs:   args.Epochs,
		profiler: profiler.New(),
	}, nil
}

// FromFile loads the configured checkpoint and wraps it in an evaluator.
//
// Arguments:
//   - cfg: The run configuration; cfg.ModelPath() is loaded.
//   - sink: Optional image sink, owned by the evaluator.
//   - logger: The logger.
//
// Returns:
//   - *Evaluator: The evaluator.
//   - error: inference.ErrModelNotFound or another load error.
func FromFile(cfg *config.Config, sink Sink, logger logrus.FieldLogger) (*Evaluator, error) {
	model, epochs, err := inference.LoadModel(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewEvaluator(Args{
		Model:  model,
		Config: cfg,
		Sink:   sink,
		Logger: logger,
		Epochs: epochs,
	})
}

// Epochs is the training epoch count of the loaded checkpoint.
func (e *Evaluator) Epochs() int {
	return e.epochs
}

// Profiler exposes the forward-pass timings.
func (e *Evaluator) Profiler() *profiler.Profiler {
	return e.profiler
}

// Predict runs the model over every batch of loader.
//
// Arguments:
//   - ctx: Checked between batches.
//   - loader: The batches to predict.
//
// Returns:
//   - *Predictions: Outputs in loader order; Labels and AvgLoss are set when the dataset has
//     labels.
//   - error: An error from loading, the model or the loss.
func (e *Evaluator) Predict(ctx context.Context, loader *dataset.Loader) (*Predictions, error) {
	numClasses := e.model.NumClasses()
	var (
		outputs  []float32
		labels   []float32
		total    float64
		labelled = true
		p        = &Predictions{}
	)

	err := loader.Each(ctx, func(i int, b *dataset.Batch) error {
		done := e.profiler.StartOperation("forward")
		logits, err := e.model.Forward(ctx, b.Images)
		done()
		if err != nil {
			return errors.Wrapf(err, "batch %d", i)
		}
		if shape := logits.Shape(); len(shape) != 2 || shape[0] != b.Size() || shape[1] != numClasses {
			return fmt.Errorf("batch %d: model returned shape %v, want (%d, %d)", i, shape, b.Size(), numClasses)
		}
		outputs = append(outputs, logits.Data().([]float32)...)

		if b.Labels == nil {
			labelled = false
		} else if labelled {
			loss, err := metrics.BCEWithLogitsSum(logits, b.Labels)
			if err != nil {
				return errors.Wrapf(err, "batch %d loss", i)
			}
			total += loss
			labels = append(labels, b.Labels.Data().([]float32)...)
		}

		p.Paths = append(p.Paths, b.Paths...)
		p.Frames = append(p.Frames, b.Frames...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	n := len(p.Paths)
	if n == 0 {
		return nil, errors.New("cannot predict an empty dataset")
	}
	p.Outputs = tensor.New(tensor.WithShape(n, numClasses), tensor.WithBacking(outputs))
	if labelled {
		p.Labels = tensor.New(tensor.WithShape(n, numClasses), tensor.WithBacking(labels))
		p.AvgLoss = total / float64(loader.Dataset().Len())
	}

	if s, ok := e.profiler.Stats("forward"); ok {
		e.log.WithFields(logrus.Fields{
			"samples": n,
			"batches": s.Count,
			"avg":     s.Mean(),
		}).Debug("prediction pass complete")
	}
	return p, nil
}

// EvaluatePredictions scores predictions against their labels.
//
// When a sink is configured and args.MetricMode is set, one batch picked by the sampler is
// re-fetched from loader and rendered together with its slice of the predictions. Rendering
// failures are logged and do not affect the returned scores.
//
// Arguments:
//   - ctx: Checked before scoring.
//   - loader: The loader preds came from, in the same order.
//   - preds: The output of Predict over loader.
//   - args: Threshold, averaging and sink tags.
//
// Returns:
//   - metrics.Scores: Precision, recall and F1.
//   - error: An error if preds has no labels.
func (e *Evaluator) EvaluatePredictions(ctx context.Context, loader *dataset.Loader, preds *Predictions, args EvalArgs) (metrics.Scores, error) {
	if err := ctx.Err(); err != nil {
		return metrics.Scores{}, err
	}
	if preds.Labels == nil {
		return metrics.Scores{}, errors.New("predictions have no labels to evaluate against")
	}
	threshold := e.cfg.Threshold
	if args.Threshold != nil {
		threshold = *args.Threshold
	}
	average := args.Average
	if average == "" {
		average = metrics.AverageMicro
	}

	binary, err := metrics.Binarize(preds.Outputs, threshold)
	if err != nil {
		return metrics.Scores{}, err
	}

	if e.sink != nil && args.MetricMode != "" {
		if err := e.writeSample(loader, binary, args); err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{
				"mode":   args.MetricMode,
				"subset": args.Subset,
			}).Warn("failed to write image results")
		}
	}

	return metrics.Compute(preds.Labels, binary, average)
}

func (e *Evaluator) writeSample(loader *dataset.Loader, binary *tensor.Dense, args EvalArgs) error {
	if loader.Len() == 0 {
		return errors.New("loader has no batches")
	}
	i := e.sampler.Pick(loader.Len())
	batch, err := loader.Batch(i)
	if err != nil {
		return err
	}

	start := i * loader.BatchSize()
	end := start + loader.BatchSize()
	if n := binary.Shape()[0]; end > n {
		end = n
	}
	slice, err := metrics.SliceRows(binary, start, end)
	if err != nil {
		return err
	}
	return e.sink.WriteImageTestResults(batch.Images, batch.Labels, slice, args.Step, args.MetricMode, args.Subset)
}

// Evaluate predicts over loader then scores the predictions.
func (e *Evaluator) Evaluate(ctx context.Context, loader *dataset.Loader, args EvalArgs) (*Result, error) {
	preds, err := e.Predict(ctx, loader)
	if err != nil {
		return nil, err
	}
	scores, err := e.EvaluatePredictions(ctx, loader, preds, args)
	if err != nil {
		return nil, err
	}
	return &Result{AvgLoss: preds.AvgLoss, Scores: scores}, nil
}

// SinglePrediction tags one preprocessed image.
//
// Arguments:
//   - ctx: The context.
//   - image: A (3, S, S) image flattened in CHW order.
//   - threshold: The probability cutoff; ConfigThreshold uses the configured threshold.
//
// Returns:
//   - []int: One 0/1 entry per class.
//   - error: An error from the model.
func (e *Evaluator) SinglePrediction(ctx context.Context, image []float32, threshold float32) ([]int, error) {
	size := e.cfg.ImageSize
	if len(image) != 3*size*size {
		return nil, fmt.Errorf("expected %d image values, got %d", 3*size*size, len(image))
	}
	threshold = e.threshold(threshold)

	done := e.profiler.StartOperation("forward")
	logits, err := e.model.Forward(ctx, tensor.New(tensor.WithShape(1, 3, size, size), tensor.WithBacking(image)))
	done()
	if err != nil {
		return nil, err
	}
	binary, err := metrics.Binarize(logits, threshold)
	if err != nil {
		return nil, err
	}
	rows, err := metrics.MultiHot(binary)
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("model returned %d rows for one image", len(rows))
	}
	return rows[0], nil
}

// Binarize thresholds the outputs of a prediction pass into multi-hot rows.
//
// A threshold of ConfigThreshold uses the configured threshold.
func (e *Evaluator) Binarize(preds *Predictions, threshold float32) ([][]int, error) {
	binary, err := metrics.Binarize(preds.Outputs, e.threshold(threshold))
	if err != nil {
		return nil, err
	}
	return metrics.MultiHot(binary)
}

// threshold resolves ConfigThreshold, and any other negative cutoff, to the configured threshold.
func (e *Evaluator) threshold(t float32) float32 {
	if t < 0 {
		return e.cfg.Threshold
	}
	return t
}

// Close releases the sink and then the model. Only the first call has an effect.
func (e *Evaluator) Close() error {
	e.closeOnce.Do(func() {
		e.profiler.Report(e.log)
		if e.sink != nil {
			if err := e.sink.Close(); err != nil {
				e.closeErr = errors.Wrap(err, "closing sink")
			}
		}
		if err := e.model.Close(); err != nil && e.closeErr == nil {
			e.closeErr = errors.Wrap(err, "closing model")
		}
	})
	return e.closeErr
}
