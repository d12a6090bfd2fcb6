// Package metrics - Threshold binarization, classification scores and loss for multi-label outputs.
package metrics

import (
	"fmt"

	"github.com/chewxy/math32"
	"gorgonia.org/tensor"
)

// DefaultThreshold is the probability cutoff used when none is configured.
const DefaultThreshold float32 = 0.5

// Sigmoid maps a logit to a probability.
func Sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// Binarize converts raw logits into multi-hot predictions.
//
// Each class is decided independently: sigmoid(logit) >= threshold. There is no exclusivity
// between classes, a sample may carry zero, one or many tags.
//
// Arguments:
//   - logits: A (N, C) float32 matrix of raw model outputs.
//   - threshold: The probability cutoff, applied to every class.
//
// Returns:
//   - *tensor.Dense: A (N, C) float32 matrix of 0/1 values.
//   - error: An error if logits is not a float32 matrix.
func Binarize(logits *tensor.Dense, threshold float32) (*tensor.Dense, error) {
	return binarize(logits, threshold, Sigmoid)
}

// BinarizeProbabilities thresholds values that are already probabilities.
func BinarizeProbabilities(probs *tensor.Dense, threshold float32) (*tensor.Dense, error) {
	return binarize(probs, threshold, func(v float32) float32 { return v })
}

func binarize(scores *tensor.Dense, threshold float32, activate func(float32) float32) (*tensor.Dense, error) {
	data, err := matrixData(scores)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(data))
	for i, v := range data {
		if activate(v) >= threshold {
			out[i] = 1
		}
	}
	shape := scores.Shape()
	return tensor.New(tensor.WithShape(shape[0], shape[1]), tensor.WithBacking(out)), nil
}

// MultiHot returns the rows of a 0/1 matrix as int slices.
func MultiHot(m *tensor.Dense) ([][]int, error) {
	data, err := matrixData(m)
	if err != nil {
		return nil, err
	}
	shape := m.Shape()
	rows, cols := shape[0], shape[1]
	out := make([][]int, rows)
	for r := 0; r < rows; r++ {
		row := make([]int, cols)
		for c := 0; c < cols; c++ {
			if data[r*cols+c] != 0 {
				row[c] = 1
			}
		}
		out[r] = row
	}
	return out, nil
}

// SliceRows returns rows [start, end) of a matrix as a new matrix.
func SliceRows(m *tensor.Dense, start, end int) (*tensor.Dense, error) {
	data, err := matrixData(m)
	if err != nil {
		return nil, err
	}
	shape := m.Shape()
	rows, cols := shape[0], shape[1]
	if start < 0 || end > rows || start >= end {
		return nil, fmt.Errorf("row range [%d, %d) out of bounds for %d rows", start, end, rows)
	}
	backing := make([]float32, (end-start)*cols)
	copy(backing, data[start*cols:end*cols])
	return tensor.New(tensor.WithShape(end-start, cols), tensor.WithBacking(backing)), nil
}

func matrixData(m *tensor.Dense) ([]float32, error) {
	if m == nil {
		return nil, fmt.Errorf("nil matrix")
	}
	if len(m.Shape()) != 2 {
		return nil, fmt.Errorf("expected a (N, C) matrix, got shape %v", m.Shape())
	}
	data, ok := m.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("expected float32 data, got %T", m.Data())
	}
	return data, nil
}
