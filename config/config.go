// Package config - Process-wide settings for the tagger.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Provider is the onnxruntime execution provider used to run the checkpoint.
type Provider string

const (
	// ProviderCPU runs the model on the default CPU provider.
	ProviderCPU Provider = "cpu"
	// ProviderCUDA runs the model on an NVIDIA GPU.
	ProviderCUDA Provider = "cuda"
	// ProviderCoreML runs the model through Apple CoreML.
	ProviderCoreML Provider = "coreml"
	// ProviderOpenVINO runs the model through Intel OpenVINO.
	ProviderOpenVINO Provider = "openvino"
)

// Config holds the settings shared by the dataset cache, model loader, evaluator and sink.
//
// A Config is treated as immutable once loaded; components hold a pointer and never write to it.
type Config struct {
	// ModelName is the architecture family, e.g. "resnet50".
	ModelName string `json:"model_name" yaml:"model_name"`
	// ModelWeights identifies the pretrained weights the model started from.
	ModelWeights string `json:"model_weights" yaml:"model_weights"`
	// ModelNameToLoad is the checkpoint file stem inside the model directory.
	ModelNameToLoad string `json:"model_name_to_load" yaml:"model_name_to_load"`
	// ImageSize is the square input edge in pixels.
	ImageSize int `json:"image_size" yaml:"image_size"`
	// BatchSize is the number of samples per batch.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// NumClasses is the number of output channels of the model.
	NumClasses int `json:"num_classes" yaml:"num_classes"`

	// DatasetPath is the CSV label table.
	DatasetPath string `json:"dataset_path" yaml:"dataset_path"`
	// ImagesDir is the root for relative media paths in the label table.
	ImagesDir string `json:"images_dir" yaml:"images_dir"`
	// ModelsDir holds one directory per trained model.
	ModelsDir string `json:"models_dir" yaml:"models_dir"`
	// LogDir receives the log files.
	LogDir string `json:"log_dir" yaml:"log_dir"`
	// BoardDir receives the visualization event streams.
	BoardDir string `json:"board_dir" yaml:"board_dir"`

	TrainSplit float64 `json:"train_split" yaml:"train_split"`
	ValidSplit float64 `json:"valid_split" yaml:"valid_split"`

	// Threshold is the default per-class probability cutoff.
	Threshold float32 `json:"threshold" yaml:"threshold"`
	// Seed drives shuffling and diagnostic batch selection.
	Seed int64 `json:"seed" yaml:"seed"`

	Provider          Provider `json:"provider" yaml:"provider"`
	SharedLibraryPath string   `json:"shared_library_path" yaml:"shared_library_path"`

	// Mean and Std are the per-channel normalization used at training time.
	Mean []float32 `json:"mean" yaml:"mean"`
	Std  []float32 `json:"std" yaml:"std"`
}

// Default returns the configuration used when no file is supplied.
//
// Returns:
//   - *Config: A config with ImageNet normalization and a 0.5 threshold.
func Default() *Config {
	return &Config{
		ModelName:       "resnet50",
		ModelWeights:    "DEFAULT",
		ModelNameToLoad: "best_model",
		ImageSize:       224,
		BatchSize:       32,
		NumClasses:      25,
		DatasetPath:     "dataset/train.csv",
		ModelsDir:       "output_models",
		LogDir:          "logs",
		BoardDir:        "tensorboard_logs",
		TrainSplit:      0.8,
		ValidSplit:      0.1,
		Threshold:       0.5,
		Seed:            42,
		Provider:        ProviderCPU,
		Mean:            []float32{0.485, 0.456, 0.406},
		Std:             []float32{0.229, 0.224, 0.225},
	}
}

// Load reads a YAML config file on top of the defaults.
//
// Arguments:
//   - path: The YAML file to read.
//
// Returns:
//   - *Config: The merged and validated configuration.
//   - error: An error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}

	return cfg, nil
}

// Validate checks that the config can drive a run.
func (c *Config) Validate() error {
	if c.ModelName == "" {
		return errors.New("model_name is required")
	}
	if c.ImageSize <= 0 {
		return fmt.Errorf("image_size must be positive, got %d", c.ImageSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.NumClasses <= 0 {
		return fmt.Errorf("num_classes must be positive, got %d", c.NumClasses)
	}
	if c.TrainSplit < 0 || c.ValidSplit < 0 || c.TrainSplit+c.ValidSplit > 1 {
		return fmt.Errorf("train_split + valid_split must lie in [0, 1], got %.2f + %.2f", c.TrainSplit, c.ValidSplit)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must lie in [0, 1], got %.2f", c.Threshold)
	}
	if len(c.Mean) != 3 || len(c.Std) != 3 {
		return fmt.Errorf("mean and std need 3 channels, got %d and %d", len(c.Mean), len(c.Std))
	}
	for i, s := range c.Std {
		if s == 0 {
			return fmt.Errorf("std[%d] must be non-zero", i)
		}
	}
	switch c.Provider {
	case ProviderCPU, ProviderCUDA, ProviderCoreML, ProviderOpenVINO:
	default:
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
	return nil
}

// ModelDir is the directory holding checkpoints for this model, image size and weights.
func (c *Config) ModelDir() string {
	return filepath.Join(c.ModelsDir, fmt.Sprintf("%s_%d_%s", c.ModelName, c.ImageSize, c.ModelWeights))
}

// ModelPath is the checkpoint the evaluator loads.
func (c *Config) ModelPath() string {
	return filepath.Join(c.ModelDir(), c.ModelNameToLoad+".onnx")
}

// RunName keys the visualization stream of a model.
func (c *Config) RunName() string {
	return fmt.Sprintf("%s_%s_%d", c.ModelName, c.ModelWeights, c.ImageSize)
}

// BoardPath is the directory of the visualization stream.
func (c *Config) BoardPath() string {
	return filepath.Join(c.BoardDir, c.RunName())
}

// LogPath is the log file for a run started at now.
//
// Arguments:
//   - prefix: The kind of run, e.g. "inference".
//   - now: The start time of the run.
//
// Returns:
//   - string: {log_dir}/{model}_{size}_{weights}/{prefix}__{datetime}.log
func (c *Config) LogPath(prefix string, now time.Time) string {
	return filepath.Join(
		c.LogDir,
		fmt.Sprintf("%s_%d_%s", c.ModelName, c.ImageSize, c.ModelWeights),
		fmt.Sprintf("%s__%s.log", prefix, now.Format("20060102_150405")),
	)
}

// ResolveImagePath joins a relative label-table path onto the images root.
func (c *Config) ResolveImagePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	root := c.ImagesDir
	if root == "" {
		root = filepath.Dir(c.DatasetPath)
	}
	return filepath.Join(root, p)
}

// Fingerprint identifies the dataset view a config produces.
//
// Two configs with equal fingerprints share one cached label table; any change to the dataset
// source, split or class count yields a new fingerprint.
func (c *Config) Fingerprint() uint64 {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%d|%s|%s|%.6f|%.6f|%d|%d",
		c.ModelName, c.ModelWeights, c.ImageSize, c.DatasetPath, c.ImagesDir,
		c.TrainSplit, c.ValidSplit, c.Seed, c.NumClasses)
	return xxhash.Sum64String(b.String())
}
