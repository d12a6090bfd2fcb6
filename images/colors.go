package images

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/lucasb-eyer/go-colorful"
)

// LabelCellSize is the edge in pixels of one class cell in a label colour strip.
const LabelCellSize = 16

// ClassColor returns a stable, distinct colour for a class index.
func ClassColor(class, numClasses int) color.RGBA {
	if numClasses <= 0 {
		numClasses = 1
	}
	h := 360 * float64(class) / float64(numClasses)
	r, g, b := colorful.Hsv(h, 0.75, 0.95).Clamped().RGB255()
	return color.RGBA{r, g, b, 255}
}

// LabelColors renders multi-hot vectors as colour strips.
//
// Every sample becomes a numClasses-cell wide strip; a set class is painted in its class colour
// and an unset class stays black, so predictions and truth can be compared side by side.
//
// Arguments:
//   - labels: One multi-hot vector per sample.
//   - numClasses: The number of classes.
//
// Returns:
//   - []image.Image: One strip per sample.
func LabelColors(labels [][]int, numClasses int) []image.Image {
	out := make([]image.Image, len(labels))
	for s, row := range labels {
		img := image.NewRGBA(image.Rect(0, 0, numClasses*LabelCellSize, LabelCellSize))
		draw.Draw(img, img.Bounds(), image.Black, image.Point{}, draw.Src)
		for c := 0; c < numClasses && c < len(row); c++ {
			if row[c] == 0 {
				continue
			}
			cell := image.Rect(c*LabelCellSize, 0, (c+1)*LabelCellSize, LabelCellSize)
			draw.Draw(img, cell, &image.Uniform{ClassColor(c, numClasses)}, image.Point{}, draw.Src)
		}
		out[s] = img
	}
	return out
}
