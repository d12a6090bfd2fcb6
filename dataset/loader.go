package dataset

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Batch is a group of consecutive samples stacked into tensors.
type Batch struct {
	// Images is (N, 3, S, S).
	Images *tensor.Dense
	// Labels is (N, C), or nil when the dataset has no labels.
	Labels *tensor.Dense
	Paths  []string
	Frames []int
}

// Size is the number of samples in the batch.
func (b *Batch) Size() int {
	return len(b.Paths)
}

// Loader groups a dataset into batches, optionally shuffled.
type Loader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	order     []int
}

// NewLoader creates a loader.
//
// Arguments:
//   - ds: The dataset to batch.
//   - batchSize: The number of samples per batch; the last batch may be smaller.
//   - shuffle: Whether every pass visits the samples in a fresh random order.
//   - seed: The shuffle seed.
//
// Returns:
//   - *Loader: The loader.
func NewLoader(ds Dataset, batchSize int, shuffle bool, seed int64) *Loader {
	if batchSize <= 0 {
		batchSize = 1
	}
	l := &Loader{
		dataset:   ds,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}
	l.order = l.identity()
	return l
}

// Dataset is the underlying dataset.
func (l *Loader) Dataset() Dataset {
	return l.dataset
}

// BatchSize is the configured batch size.
func (l *Loader) BatchSize() int {
	return l.batchSize
}

// Len is the number of batches in one pass.
func (l *Loader) Len() int {
	return (l.dataset.Len() + l.batchSize - 1) / l.batchSize
}

// Each runs fn over every batch of one pass, in order.
//
// A shuffled loader draws a new permutation at the start of the pass; Batch then resolves
// indices against that permutation until the next pass.
//
// Arguments:
//   - ctx: Checked between batches.
//   - fn: Called with the batch index and batch; a returned error stops the pass.
//
// Returns:
//   - error: The first error from loading, fn or the context.
func (l *Loader) Each(ctx context.Context, fn func(i int, b *Batch) error) error {
	if l.shuffle {
		l.order = l.rng.Perm(l.dataset.Len())
	} else if len(l.order) != l.dataset.Len() {
		l.order = l.identity()
	}

	for i := 0; i < l.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := l.Batch(i)
		if err != nil {
			return err
		}
		if err := fn(i, b); err != nil {
			return err
		}
	}
	return nil
}

// Batch loads batch i of the current order.
func (l *Loader) Batch(i int) (*Batch, error) {
	if i < 0 || i >= l.Len() {
		return nil, fmt.Errorf("batch %d out of range for %d batches", i, l.Len())
	}
	start := i * l.batchSize
	end := start + l.batchSize
	if end > len(l.order) {
		end = len(l.order)
	}

	samples := make([]Sample, 0, end-start)
	for _, idx := range l.order[start:end] {
		s, err := l.dataset.Get(idx)
		if err != nil {
			return nil, errors.Wrapf(err, "loading sample %d", idx)
		}
		samples = append(samples, s)
	}
	return Collate(samples)
}

func (l *Loader) identity() []int {
	order := make([]int, l.dataset.Len())
	for i := range order {
		order[i] = i
	}
	return order
}

// Collate stacks samples into a batch.
//
// All images must share one size. Labels are stacked only when every sample has one.
func Collate(samples []Sample) (*Batch, error) {
	if len(samples) == 0 {
		return nil, errors.New("cannot collate an empty batch")
	}

	imageLen := len(samples[0].Image)
	labelLen := len(samples[0].Label)
	if imageLen%3 != 0 {
		return nil, fmt.Errorf("image of %d values is not 3-channel", imageLen)
	}
	side := isqrt(imageLen / 3)
	if side*side*3 != imageLen {
		return nil, fmt.Errorf("image of %d values is not square", imageLen)
	}

	b := &Batch{
		Paths:  make([]string, len(samples)),
		Frames: make([]int, len(samples)),
	}
	imgs := make([]float32, 0, imageLen*len(samples))
	var labels []float32
	if labelLen > 0 {
		labels = make([]float32, 0, labelLen*len(samples))
	}

	for i, s := range samples {
		if len(s.Image) != imageLen {
			return nil, fmt.Errorf("sample %d has %d image values, want %d", i, len(s.Image), imageLen)
		}
		if len(s.Label) != labelLen {
			return nil, fmt.Errorf("sample %d has %d labels, want %d", i, len(s.Label), labelLen)
		}
		imgs = append(imgs, s.Image...)
		labels = append(labels, s.Label...)
		b.Paths[i] = s.Path
		b.Frames[i] = s.Frame
	}

	b.Images = tensor.New(tensor.WithShape(len(samples), 3, side, side), tensor.WithBacking(imgs))
	if labelLen > 0 {
		b.Labels = tensor.New(tensor.WithShape(len(samples), labelLen), tensor.WithBacking(labels))
	}
	return b, nil
}

func isqrt(n int) int {
	r := 0
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}
