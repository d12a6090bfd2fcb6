package metrics

import (
	"fmt"
	"strings"

	"gorgonia.org/tensor"
)

// Average is the policy used to aggregate per-class scores.
type Average string

const (
	// AverageMicro pools true/false positives and negatives over all classes.
	AverageMicro Average = "micro"
	// AverageMacro computes each class score and takes the unweighted mean.
	AverageMacro Average = "macro"
	// AverageWeighted is the macro mean weighted by class support.
	AverageWeighted Average = "weighted"
	// AverageNone returns one score per class.
	AverageNone Average = "none"
)

// ParseAverage parses an averaging policy name; "" selects micro.
func ParseAverage(s string) (Average, error) {
	switch a := Average(strings.ToLower(s)); a {
	case "":
		return AverageMicro, nil
	case AverageMicro, AverageMacro, AverageWeighted, AverageNone:
		return a, nil
	default:
		return "", fmt.Errorf("unknown average %q", s)
	}
}

// Scores holds precision, recall and F1.
//
// For AverageNone the slices carry one value per class; for every other policy they hold exactly
// one value.
type Scores struct {
	Average   Average
	Precision []float64
	Recall    []float64
	F1        []float64
}

// Value returns the aggregated precision, recall and F1 of an averaged Scores.
func (s Scores) Value() (precision, recall, f1 float64) {
	if len(s.F1) == 0 {
		return 0, 0, 0
	}
	return s.Precision[0], s.Recall[0], s.F1[0]
}

// Counts are the confusion counts of one class.
type Counts struct {
	TP, FP, FN, Support int
}

// ConfusionCounts tallies per-class counts of two multi-hot matrices.
func ConfusionCounts(truth, pred *tensor.Dense) ([]Counts, error) {
	t, err := matrixData(truth)
	if err != nil {
		return nil, fmt.Errorf("truth: %w", err)
	}
	p, err := matrixData(pred)
	if err != nil {
		return nil, fmt.Errorf("predictions: %w", err)
	}
	if !truth.Shape().Eq(pred.Shape()) {
		return nil, fmt.Errorf("truth shape %v does not match predictions shape %v", truth.Shape(), pred.Shape())
	}

	cols := truth.Shape()[1]
	counts := make([]Counts, cols)
	for i := range t {
		c := &counts[i%cols]
		tv, pv := t[i] != 0, p[i] != 0
		if tv {
			c.Support++
		}
		switch {
		case tv && pv:
			c.TP++
		case pv:
			c.FP++
		case tv:
			c.FN++
		}
	}
	return counts, nil
}

// Compute scores multi-hot predictions against multi-hot truth.
//
// A ratio with a zero denominator is scored 0.
//
// Arguments:
//   - truth: (N, C) ground truth.
//   - pred: (N, C) binarized predictions.
//   - avg: The aggregation policy.
//
// Returns:
//   - Scores: Precision, recall and F1 under avg.
//   - error: An error if the matrices disagree in shape or avg is unknown.
func Compute(truth, pred *tensor.Dense, avg Average) (Scores, error) {
	counts, err := ConfusionCounts(truth, pred)
	if err != nil {
		return Scores{}, err
	}

	scores := Scores{Average: avg}
	switch avg {
	case AverageMicro:
		var tp, fp, fn int
		for _, c := range counts {
			tp += c.TP
			fp += c.FP
			fn += c.FN
		}
		scores.Precision = []float64{ratio(tp, tp+fp)}
		scores.Recall = []float64{ratio(tp, tp+fn)}
		scores.F1 = []float64{ratio(2*tp, 2*tp+fp+fn)}
	case AverageMacro, AverageWeighted:
		var p, r, f, total float64
		for _, c := range counts {
			w := 1.0
			if avg == AverageWeighted {
				w = float64(c.Support)
			}
			p += w * ratio(c.TP, c.TP+c.FP)
			r += w * ratio(c.TP, c.TP+c.FN)
			f += w * ratio(2*c.TP, 2*c.TP+c.FP+c.FN)
			total += w
		}
		if total == 0 {
			total = 1
		}
		scores.Precision = []float64{p / total}
		scores.Recall = []float64{r / total}
		scores.F1 = []float64{f / total}
	case AverageNone:
		for _, c := range counts {
			scores.Precision = append(scores.Precision, ratio(c.TP, c.TP+c.FP))
			scores.Recall = append(scores.Recall, ratio(c.TP, c.TP+c.FN))
			scores.F1 = append(scores.F1, ratio(2*c.TP, 2*c.TP+c.FP+c.FN))
		}
	default:
		return Scores{}, fmt.Errorf("unknown average %q", avg)
	}
	return scores, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
