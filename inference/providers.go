package inference

import (
	"fmt"

	"github.com/nvr-ai/go-tagger/config"
	ort "github.com/yalue/onnxruntime_go"
)

// NewSessionOptions builds session options for the configured execution provider.
//
// The caller owns the returned options and must Destroy them once the session is created.
//
// Arguments:
//   - provider: The execution provider from the config.
//
// Returns:
//   - *ort.SessionOptions: Options with graph optimizations and the provider appended.
//   - error: An error if the provider cannot be enabled.
func NewSessionOptions(provider config.Provider) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating ORT session options: %w", err)
	}

	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		options.Destroy()
		return nil, fmt.Errorf("error setting graph optimization level: %w", err)
	}

	switch provider {
	case config.ProviderCPU, "":
	case config.ProviderCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			options.Destroy()
			return nil, fmt.Errorf("error creating CUDA options: %w", err)
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": "0"}); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("error configuring CUDA: %w", err)
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("error enabling CUDA: %w", err)
		}
	case config.ProviderCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("error enabling CoreML: %w", err)
		}
	case config.ProviderOpenVINO:
		// See:
		// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
		if err := options.AppendExecutionProviderOpenVINO(map[string]string{"device_type": "CPU"}); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("error enabling OpenVINO: %w", err)
		}
	default:
		options.Destroy()
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}

	return options, nil
}
