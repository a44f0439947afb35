package onnx

import "gocv.io/x/gocv"

// Config for the OpenCV DNN detector.
type Config struct {
	ModelPath string
	// InputSize is the square network input edge in pixels (640 for YOLOv8).
	InputSize           int
	ConfidenceThreshold float32
	NMSThreshold        float32
	Backend             gocv.NetBackendType
	Target              gocv.NetTargetType
}

// DefaultConfig returns settings for a stock YOLOv8n export on the CPU.
func DefaultConfig(modelPath string) Config {
	return Config{
		ModelPath:           modelPath,
		InputSize:           640,
		ConfidenceThreshold: 0.5,
		NMSThreshold:        0.45,
		Backend:             gocv.NetBackendOpenCV,
		Target:              gocv.NetTargetCPU,
	}
}
