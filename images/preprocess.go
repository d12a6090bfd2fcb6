package images

import (
	"fmt"
	"image"
	"image/color"

	"github.com/nfnt/resize"
	"github.com/nvr-ai/go-tagger/config"
	"gorgonia.org/tensor"
)

// Channels is the number of colour channels of a model input.
const Channels = 3

// Normalization describes the per-channel standardization applied at training time.
type Normalization struct {
	Mean []float32
	Std  []float32
}

// NormalizationFor returns the normalization of a config.
func NormalizationFor(cfg *config.Config) Normalization {
	return Normalization{Mean: cfg.Mean, Std: cfg.Std}
}

// Preprocess converts an image into a normalized CHW float32 tensor of size×size.
//
// Pixels are scaled to [0, 1] and then standardized with the channel mean and std, the same
// transform the classifier saw during training.
//
// Arguments:
//   - img: The decoded image.
//   - size: The square edge of the model input.
//   - norm: The per-channel normalization.
//
// Returns:
//   - []float32: 3*size*size values in CHW order.
func Preprocess(img image.Image, size int, norm Normalization) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	bounds := resized.Bounds()

	plane := size * size
	data := make([]float32, Channels*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := y*size + x
			data[i] = float32(r>>8) / 255
			data[plane+i] = float32(g>>8) / 255
			data[2*plane+i] = float32(b>>8) / 255
		}
	}

	for c := 0; c < Channels; c++ {
		mean, std := norm.Mean[c], norm.Std[c]
		for i := c * plane; i < (c+1)*plane; i++ {
			data[i] = (data[i] - mean) / std
		}
	}
	return data
}

// PreprocessFile loads and preprocesses the image at path for cfg.
func PreprocessFile(path string, cfg *config.Config) ([]float32, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Preprocess(img, cfg.ImageSize, NormalizationFor(cfg)), nil
}

// Denormalize reverses Preprocess for a batch shaped (N, 3, H, W).
//
// Arguments:
//   - batch: The normalized images.
//   - norm: The normalization that was applied.
//
// Returns:
//   - []image.Image: One RGBA image per sample, values clamped to [0, 255].
//   - error: An error if the batch is not 4-dimensional float32 with 3 channels.
func Denormalize(batch *tensor.Dense, norm Normalization) ([]image.Image, error) {
	shape := batch.Shape()
	if len(shape) != 4 || shape[1] != Channels {
		return nil, fmt.Errorf("expected (N, 3, H, W) images, got %v", shape)
	}
	data, ok := batch.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("expected float32 images, got %T", batch.Data())
	}

	n, h, w := shape[0], shape[2], shape[3]
	plane := h * w
	out := make([]image.Image, n)
	for s := 0; s < n; s++ {
		base := s * Channels * plane
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				img.SetRGBA(x, y, color.RGBA{
					R: toByte(data[base+i]*norm.Std[0] + norm.Mean[0]),
					G: toByte(data[base+plane+i]*norm.Std[1] + norm.Mean[1]),
					B: toByte(data[base+2*plane+i]*norm.Std[2] + norm.Mean[2]),
					A: 255,
				})
			}
		}
		out[s] = img
	}
	return out, nil
}

func toByte(v float32) uint8 {
	v *= 255
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
