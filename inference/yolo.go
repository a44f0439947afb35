package inference

import (
	"image"
	"sync"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-behavior/detector"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// boxFields is the number of leading planes (cx, cy, w, h) in a YOLOv8 output.
const boxFields = 4

// YOLO runs a YOLOv8 export through ONNX Runtime.
type YOLO struct {
	config  Config
	classes int
	mu      sync.Mutex
	session *Session
}

// NewYOLO creates the session for a YOLOv8 model over the 80 YOLO classes.
//
// @example
// yolo, err := inference.NewYOLO(inference.DefaultConfig("yolov8n.onnx"))
// defer yolo.Close()
func NewYOLO(config Config) (*YOLO, error) {
	if config.InputSize <= 0 {
		config.InputSize = 640
	}
	classes := len(detector.YOLOClasses)
	session, err := NewSession(config, classes)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("model", config.ModelPath).
		Int("input_size", config.InputSize).
		Int("anchors", Anchors(config.InputSize)).
		Msg("ONNX Runtime detector initialized")

	return &YOLO{config: config, classes: classes, session: session}, nil
}

// Detect runs inference on a BGR frame without modifying it.
func (y *YOLO) Detect(img gocv.Mat) ([]detector.Detection, error) {
	if img.Empty() {
		return nil, errors.New("empty frame")
	}
	rgb, err := img.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "convert frame")
	}

	y.mu.Lock()
	defer y.mu.Unlock()

	if y.session == nil {
		return nil, errors.New("model not loaded")
	}
	if err := PrepareInput(rgb, y.config.InputSize, y.session.Input.GetData()); err != nil {
		return nil, errors.Wrap(err, "failed to prepare input")
	}
	if err := y.session.Session.Run(); err != nil {
		return nil, errors.Wrap(err, "failed to run inference")
	}

	frame := image.Pt(img.Cols(), img.Rows())
	candidates := Decode(y.session.Output.GetData(), y.classes, y.config.InputSize, frame, y.config.ConfidenceThreshold)
	return detector.Suppress(candidates, y.config.NMSThreshold), nil
}

// Close releases the session.
func (y *YOLO) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()

	if y.session == nil {
		return nil
	}
	err := y.session.Close()
	y.session = nil
	return err
}

// Decode extracts candidate detections from a planar YOLOv8 output.
//
// The output holds (4+classes) planes of Anchors(inputSize) values: box
// center and size in network pixels followed by per-class scores. Boxes are
// scaled to frame pixels and clamped to the frame.
//
// Arguments:
//   - output: The raw output tensor data.
//   - classes: Number of class planes.
//   - inputSize: The square network input edge.
//   - frame: The source frame size.
//   - threshold: Minimum class score.
//
// Returns:
//   - []detector.Detection: Candidates in anchor order, before NMS.
func Decode(output []float32, classes, inputSize int, frame image.Point, threshold float32) []detector.Detection {
	anchors := Anchors(inputSize)
	if len(output) < anchors*(boxFields+classes) {
		return nil
	}

	scaleX := float32(frame.X) / float32(inputSize)
	scaleY := float32(frame.Y) / float32(inputSize)
	width, height := float32(frame.X), float32(frame.Y)

	var detections []detector.Detection
	for idx := 0; idx < anchors; idx++ {
		classID := 0
		probability := float32(-1e9)
		for col := 0; col < classes; col++ {
			if p := output[anchors*(col+boxFields)+idx]; p > probability {
				probability = p
				classID = col
			}
		}
		if probability < threshold {
			continue
		}

		xc, yc := output[idx], output[anchors+idx]
		w, h := output[2*anchors+idx], output[3*anchors+idx]
		x1 := math32.Max(0, (xc-w/2)*scaleX)
		y1 := math32.Max(0, (yc-h/2)*scaleY)
		x2 := math32.Min(width, (xc+w/2)*scaleX)
		y2 := math32.Min(height, (yc+h/2)*scaleY)

		detections = append(detections, detector.Detection{
			Box:       image.Rect(int(math32.Round(x1)), int(math32.Round(y1)), int(math32.Round(x2)), int(math32.Round(y2))),
			Score:     probability,
			ClassID:   classID,
			ClassName: detector.ClassName(classID),
		})
	}
	return detections
}
