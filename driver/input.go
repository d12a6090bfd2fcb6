// Package driver - Running the tagger over an image, a directory of images or a video.
package driver

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/nvr-ai/go-tagger/images"
	"github.com/nvr-ai/go-tagger/video"
	"github.com/pkg/errors"
)

var (
	// ErrUnsupportedInput is returned for a file that is neither an image nor a video.
	ErrUnsupportedInput = errors.New("unsupported file type for input")
	// ErrInvalidInput is returned for a path that does not exist.
	ErrInvalidInput = errors.New("invalid input path")
)

// Kind classifies an input path.
type Kind int

const (
	KindInvalid Kind = iota
	KindDirectory
	KindImage
	KindVideo
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindUnsupported:
		return "unsupported"
	default:
		return "invalid"
	}
}

// Input is a resolved input path.
type Input struct {
	Kind Kind
	Path string
}

// Resolve classifies path by what exists on disk and its extension.
func Resolve(path string) Input {
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return Input{Kind: KindInvalid, Path: path}
	case info.IsDir():
		return Input{Kind: KindDirectory, Path: path}
	case images.IsImage(path):
		return Input{Kind: KindImage, Path: path}
	case video.IsVideo(path):
		return Input{Kind: KindVideo, Path: path}
	default:
		return Input{Kind: KindUnsupported, Path: path}
	}
}

// ListImages returns the image files directly inside dir, sorted by name.
//
// Subdirectories and files without an accepted image extension are skipped.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", dir)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !images.IsImage(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// DefaultOutputDir is the inference_outputs directory next to the input.
func DefaultOutputDir(inputPath string) string {
	return filepath.Join(filepath.Dir(filepath.Clean(inputPath)), "inference_outputs")
}
