package metrics

import (
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// BCEWithLogitsSum is the binary cross-entropy of logits against multi-hot labels, summed over
// every sample and class.
//
// The graph uses the stable form max(x, 0) - x*y + log(1 + exp(-|x|)) so large logits do not
// overflow.
//
// Arguments:
//   - logits: (N, C) raw model outputs.
//   - labels: (N, C) 0/1 targets.
//
// Returns:
//   - float64: The summed loss.
//   - error: An error if the shapes disagree or the graph fails to run.
func BCEWithLogitsSum(logits, labels *tensor.Dense) (float64, error) {
	if _, err := matrixData(logits); err != nil {
		return 0, errors.Wrap(err, "logits")
	}
	if _, err := matrixData(labels); err != nil {
		return 0, errors.Wrap(err, "labels")
	}
	if !logits.Shape().Eq(labels.Shape()) {
		return 0, fmt.Errorf("logits shape %v does not match labels shape %v", logits.Shape(), labels.Shape())
	}

	g := G.NewGraph()
	x := G.NodeFromAny(g, logits.Clone().(*tensor.Dense), G.WithName("logits"))
	y := G.NodeFromAny(g, labels.Clone().(*tensor.Dense), G.WithName("labels"))

	positive := G.Must(G.Rectify(x))
	xy := G.Must(G.HadamardProd(x, y))
	softplus := G.Must(G.Log1p(G.Must(G.Exp(G.Must(G.Neg(G.Must(G.Abs(x))))))))
	elementwise := G.Must(G.Add(G.Must(G.Sub(positive, xy)), softplus))
	total := G.Must(G.Sum(elementwise))

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return 0, errors.Wrap(err, "running loss graph")
	}

	switch v := total.Value().Data().(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected loss value %T", v)
	}
}
