// Package inference - Loading and running multi-label classifier checkpoints.
package inference

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	envOnce sync.Once
	envErr  error
)

// DefaultSharedLibraryPath returns the bundled onnxruntime library for this platform.
func DefaultSharedLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "third_party/onnxruntime.dll"
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "third_party/onnxruntime_arm64.dylib"
		}
		return "third_party/onnxruntime_amd64.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "third_party/onnxruntime_arm64.so"
		}
		return "third_party/onnxruntime.so"
	}
}

// InitializeEnvironment loads the onnxruntime library once per process.
//
// Arguments:
//   - libPath: The shared library; "" selects DefaultSharedLibraryPath.
//
// Returns:
//   - error: The initialization error, identical on every call.
func InitializeEnvironment(libPath string) error {
	envOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if libPath == "" {
			libPath = DefaultSharedLibraryPath()
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = errors.Wrapf(err, "initializing onnxruntime from %s", libPath)
		}
	})
	return envErr
}
