package inference

import (
	"os"
	"strconv"

	"github.com/nvr-ai/go-tagger/config"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// ErrModelNotFound is returned when the configured checkpoint does not exist.
var ErrModelNotFound = errors.New("could not find a model")

// EpochMetadataKey is the ONNX custom metadata entry holding the training epoch count.
const EpochMetadataKey = "epoch"

// LoadModel opens the checkpoint selected by cfg.
//
// The path is checked before the runtime is touched, so a missing checkpoint fails fast without
// any native library present.
//
// Arguments:
//   - cfg: The run configuration; cfg.ModelPath() is loaded.
//   - logger: Receives an info record on success and an error record on failure.
//
// Returns:
//   - *Model: The loaded model.
//   - int: The epoch count stored in the checkpoint, 0 when absent.
//   - error: ErrModelNotFound wrapped with the path, or a load error.
func LoadModel(cfg *config.Config, logger logrus.FieldLogger) (*Model, int, error) {
	path := cfg.ModelPath()
	log := logger.WithFields(logrus.Fields{"component": "inference", "path": path})

	if _, err := os.Stat(path); err != nil {
		log.WithError(err).Error("could not find a model at path")
		return nil, 0, errors.Wrapf(ErrModelNotFound,
			"%s; check that model_name_to_load is correct", path)
	}

	if err := InitializeEnvironment(cfg.SharedLibraryPath); err != nil {
		log.WithError(err).Error("failed to initialize onnxruntime")
		return nil, 0, err
	}

	epochs, err := ReadEpochs(path)
	if err != nil {
		log.WithError(err).Warn("checkpoint has no readable epoch count")
	}

	m, err := NewModel(path, cfg)
	if err != nil {
		log.WithError(err).Error("failed to load model")
		return nil, 0, err
	}

	log.WithField("epochs", epochs).Info("loaded model")
	return m, epochs, nil
}

// ReadEpochs reads the epoch count from the checkpoint's custom metadata.
func ReadEpochs(path string) (int, error) {
	md, err := ort.GetModelMetadata(path)
	if err != nil {
		return 0, errors.Wrapf(err, "reading metadata of %s", path)
	}
	defer md.Destroy()

	value, ok, err := md.LookupCustomMetadataMap(EpochMetadataKey)
	if err != nil {
		return 0, errors.Wrapf(err, "reading %q metadata", EpochMetadataKey)
	}
	if !ok {
		return 0, errors.Errorf("no %q metadata", EpochMetadataKey)
	}
	epochs, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %q metadata", EpochMetadataKey)
	}
	return epochs, nil
}
