package images

import (
	"image"
	"image/color"
	"sort"

	"github.com/fogleman/gg"
)

// Label is one tag line drawn onto an image.
type Label struct {
	Text  string
	Color color.Color
}

var (
	colorPredicted = color.RGBA{255, 255, 255, 255}
	colorCorrect   = color.RGBA{64, 220, 64, 255}
	colorWrong     = color.RGBA{235, 64, 52, 255}
	colorMissed    = color.RGBA{245, 205, 50, 255}
)

// PredictedTags returns the names of the classes set in pred, in class-index order.
func PredictedTags(pred []int, tags map[int]string) []string {
	var out []string
	for i, p := range pred {
		if p == 0 {
			continue
		}
		if name, ok := tags[i]; ok {
			out = append(out, name)
		}
	}
	return out
}

// OverlayLabels builds the tag lines for a prediction.
//
// Without truth every predicted tag is white. With truth, correct predictions are green, false
// positives red and missed tags yellow.
//
// Arguments:
//   - pred: Multi-hot prediction.
//   - tags: Class index to tag name.
//   - truth: Multi-hot ground truth, or nil.
//
// Returns:
//   - []Label: The lines to draw, ordered by class index.
func OverlayLabels(pred []int, tags map[int]string, truth []int) []Label {
	indices := make([]int, 0, len(tags))
	for i := range tags {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	var labels []Label
	for _, i := range indices {
		p := i < len(pred) && pred[i] != 0
		if truth == nil {
			if p {
				labels = append(labels, Label{Text: tags[i], Color: colorPredicted})
			}
			continue
		}
		t := i < len(truth) && truth[i] != 0
		switch {
		case p && t:
			labels = append(labels, Label{Text: tags[i], Color: colorCorrect})
		case p:
			labels = append(labels, Label{Text: tags[i], Color: colorWrong})
		case t:
			labels = append(labels, Label{Text: tags[i] + " (missed)", Color: colorMissed})
		}
	}
	return labels
}

// OverlayPredictions draws the predicted (and optionally true) tags onto a copy of img.
//
// Arguments:
//   - img: The source image; it is not modified.
//   - pred: Multi-hot prediction.
//   - tags: Class index to tag name.
//   - truth: Multi-hot ground truth, or nil.
//
// Returns:
//   - image.Image: The annotated copy.
func OverlayPredictions(img image.Image, pred []int, tags map[int]string, truth []int) image.Image {
	dc := gg.NewContextForImage(img)
	labels := OverlayLabels(pred, tags, truth)
	if len(labels) == 0 {
		return dc.Image()
	}

	const pad = 4.0
	lineHeight := dc.FontHeight() + pad

	var width float64
	for _, l := range labels {
		if w, _ := dc.MeasureString(l.Text); w > width {
			width = w
		}
	}

	dc.SetRGBA(0, 0, 0, 0.55)
	dc.DrawRectangle(0, 0, width+2*pad, lineHeight*float64(len(labels))+pad)
	dc.Fill()

	for i, l := range labels {
		dc.SetColor(l.Color)
		dc.DrawStringAnchored(l.Text, pad, pad+lineHeight*float64(i), 0, 1)
	}
	return dc.Image()
}

// OverlayPredictionsBatch annotates a batch; truth may be nil.
func OverlayPredictionsBatch(imgs []image.Image, preds [][]int, tags map[int]string, truth [][]int) []image.Image {
	out := make([]image.Image, len(imgs))
	for i, img := range imgs {
		var t []int
		if truth != nil {
			t = truth[i]
		}
		out[i] = OverlayPredictions(img, preds[i], tags, t)
	}
	return out
}
