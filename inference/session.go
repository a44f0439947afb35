// Package inference - ONNX Runtime sessions and the YOLOv8 detector backend.
package inference

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Config configures an ONNX Runtime YOLOv8 session.
type Config struct {
	ModelPath string
	// SharedLibPath overrides the platform default onnxruntime library.
	SharedLibPath string
	// InputSize is the square network input edge in pixels.
	InputSize           int
	ConfidenceThreshold float32
	NMSThreshold        float32
	IntraOpThreads      int
	InterOpThreads      int
}

// DefaultConfig returns settings for a stock YOLOv8n export.
func DefaultConfig(modelPath string) Config {
	return Config{
		ModelPath:           modelPath,
		InputSize:           640,
		ConfidenceThreshold: 0.5,
		NMSThreshold:        0.45,
		IntraOpThreads:      4,
		InterOpThreads:      2,
	}
}

// Session represents a model session from the onnxruntime.
type Session struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	if s.Input != nil {
		s.Input.Destroy()
		s.Input = nil
	}
	if s.Output != nil {
		s.Output.Destroy()
		s.Output = nil
	}
	if s.Session != nil {
		if err := s.Session.Destroy(); err != nil {
			return errors.Wrap(err, "error destroying ORT session")
		}
		s.Session = nil
	}
	return nil
}

// NewSession creates an ONNX Runtime session with preallocated tensors.
//
// Order of operations:
//  1. Library path check and environment setup (once per process).
//  2. Tensor allocation for a 1x3xSxS input and a 1x(4+classes)xanchors output.
//  3. Session options and session creation.
//
// Arguments:
//   - config: The session configuration.
//   - classes: Number of class scores per anchor.
//
// Returns:
//   - *Session: The runnable session.
//   - error: An error if any step fails; partial resources are released.
func NewSession(config Config, classes int) (*Session, error) {
	libPath := config.SharedLibPath
	if libPath == "" {
		libPath = SharedLibPath()
	}

	if !ort.IsInitialized() {
		if _, err := os.Stat(libPath); err != nil {
			return nil, errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrap(err, "error initializing ORT environment")
		}
	}

	size := int64(config.InputSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}

	outputShape := ort.NewShape(1, int64(boxFields+classes), int64(Anchors(config.InputSize)))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	options, err := sessionOptions(config)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(
		config.ModelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	return &Session{
		Session: session,
		Input:   inputTensor,
		Output:  outputTensor,
	}, nil
}

func sessionOptions(config Config) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	if err := options.SetIntraOpNumThreads(config.IntraOpThreads); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "set intra-op threads")
	}
	if err := options.SetInterOpNumThreads(config.InterOpThreads); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "set inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "set optimization level")
	}
	return options, nil
}

// Anchors returns the number of YOLOv8 prediction anchors for a square input,
// one per cell of the stride 8, 16 and 32 grids (8400 for 640).
func Anchors(inputSize int) int {
	total := 0
	for _, stride := range []int{8, 16, 32} {
		cells := inputSize / stride
		total += cells * cells
	}
	return total
}

// SharedLibPath returns the path to the shared library for the current platform.
func SharedLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}
