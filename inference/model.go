package inference

import (
	"context"
	"fmt"
	"sync"

	"github.com/nvr-ai/go-tagger/config"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// ErrClassMismatch is returned when a checkpoint's output width differs from num_classes.
var ErrClassMismatch = errors.New("checkpoint output does not match num_classes")

// Classifier maps a batch of images to one logit per class.
type Classifier interface {
	// Forward runs images shaped (N, 3, S, S) and returns logits shaped (N, C).
	Forward(ctx context.Context, images *tensor.Dense) (*tensor.Dense, error)
	// NumClasses is C.
	NumClasses() int
	Close() error
}

// Model runs an ONNX classifier checkpoint through onnxruntime.
//
// The session is created with dynamic input shapes so any batch size can be forwarded; runs are
// serialized because a session is not safe for concurrent use.
type Model struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	path       string
	inputName  string
	outputName string
	numClasses int
}

// NewModel opens a checkpoint.
//
// The environment must be initialized first. The graph must have exactly one float input
// (N, 3, S, S) and its first output must be (N, C) with C equal to cfg.NumClasses.
//
// Arguments:
//   - path: The ONNX checkpoint.
//   - cfg: The run configuration.
//
// Returns:
//   - *Model: The ready model.
//   - error: ErrClassMismatch, or an error from onnxruntime.
func NewModel(path string, cfg *config.Config) (*Model, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading inputs and outputs of %s", path)
	}
	if len(inputs) != 1 || len(outputs) == 0 {
		return nil, fmt.Errorf("%s: expected 1 input and at least 1 output, got %d and %d", path, len(inputs), len(outputs))
	}

	dims := outputs[0].Dimensions
	if len(dims) != 2 {
		return nil, fmt.Errorf("%s: expected a (N, C) output, got %v", path, dims)
	}
	if dims[1] > 0 && int(dims[1]) != cfg.NumClasses {
		return nil, errors.Wrapf(ErrClassMismatch, "%s has %d outputs, num_classes is %d", path, dims[1], cfg.NumClasses)
	}

	options, err := NewSessionOptions(cfg.Provider)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		path,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("error creating ORT session: %w", err)
	}

	return &Model{
		session:    session,
		path:       path,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		numClasses: cfg.NumClasses,
	}, nil
}

// NumClasses is the width of the logits.
func (m *Model) NumClasses() int {
	return m.numClasses
}

// Path is the checkpoint file.
func (m *Model) Path() string {
	return m.path
}

// Forward runs a batch through the checkpoint.
//
// Arguments:
//   - ctx: Checked before the run; a run in progress is not interrupted.
//   - images: (N, 3, S, S) float32.
//
// Returns:
//   - *tensor.Dense: (N, C) float32 logits, owned by the caller.
//   - error: An error if the input is malformed or the run fails.
func (m *Model) Forward(ctx context.Context, images *tensor.Dense) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shape := images.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("expected (N, 3, S, S) images, got %v", shape)
	}
	data, ok := images.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("expected float32 images, got %T", images.Data())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, errors.New("model is closed")
	}

	input, err := ort.NewTensor(ort.NewShape(int64(shape[0]), int64(shape[1]), int64(shape[2]), int64(shape[3])), data)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(shape[0]), int64(m.numClasses)))
	if err != nil {
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}
	defer output.Destroy()

	if err := m.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, errors.Wrapf(err, "running %s", m.path)
	}

	logits := make([]float32, shape[0]*m.numClasses)
	copy(logits, output.GetData())
	return tensor.New(tensor.WithShape(shape[0], m.numClasses), tensor.WithBacking(logits)), nil
}

// Close releases the session. Calling it twice is a no-op.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	if err != nil {
		return fmt.Errorf("error destroying ORT session: %w", err)
	}
	return nil
}
