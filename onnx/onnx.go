// Package onnx - YOLOv8 ONNX inference through the OpenCV DNN module.
package onnx

import (
	"image"
	"os"
	"sync"

	"github.com/nvr-ai/go-behavior/detector"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// boxFields is the number of leading rows (cx, cy, w, h) in a YOLOv8 output.
const boxFields = 4

// Detector handles ONNX model inference using gocv.ReadNet().
type Detector struct {
	config Config
	mu     sync.Mutex
	net    gocv.Net
}

// New loads the model and prepares the network.
//
// Arguments:
//   - config: The detector configuration.
//
// Returns:
//   - *Detector: The ready detector.
//   - error: The model is missing or could not be loaded.
func New(config Config) (*Detector, error) {
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model file not found: %s", config.ModelPath)
	}
	if config.InputSize <= 0 {
		config.InputSize = 640
	}

	net := gocv.ReadNet(config.ModelPath, "")
	if net.Empty() {
		return nil, errors.Errorf("failed to load ONNX model: %s", config.ModelPath)
	}
	if err := net.SetPreferableBackend(config.Backend); err != nil {
		net.Close()
		return nil, errors.Wrap(err, "set backend")
	}
	if err := net.SetPreferableTarget(config.Target); err != nil {
		net.Close()
		return nil, errors.Wrap(err, "set target")
	}

	log.Info().
		Str("model", config.ModelPath).
		Int("input_size", config.InputSize).
		Float32("confidence", config.ConfidenceThreshold).
		Float32("nms", config.NMSThreshold).
		Msg("DNN detector initialized")

	return &Detector{config: config, net: net}, nil
}

// Detect runs inference on the input image.
//
// The frame is not modified. Boxes are returned in frame pixels sorted by
// descending score after NMS.
func (d *Detector) Detect(img gocv.Mat) ([]detector.Detection, error) {
	if img.Empty() {
		return nil, errors.New("empty frame")
	}

	size := image.Pt(d.config.InputSize, d.config.InputSize)
	blob := gocv.BlobFromImage(img, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	d.mu.Unlock()
	defer output.Close()

	if output.Empty() {
		return nil, errors.New("network returned no output")
	}

	return d.postprocess(output, image.Pt(img.Cols(), img.Rows())), nil
}

// postprocess decodes a YOLOv8 output of shape 1x(4+classes)xanchors.
func (d *Detector) postprocess(output gocv.Mat, frame image.Point) []detector.Detection {
	rows := boxFields + len(detector.YOLOClasses)
	planar := output.Reshape(1, rows)
	defer planar.Close()

	// One anchor per row: cx, cy, w, h, class scores...
	anchors := gocv.NewMat()
	defer anchors.Close()
	gocv.Transpose(planar, &anchors)

	scaleX := float32(frame.X) / float32(d.config.InputSize)
	scaleY := float32(frame.Y) / float32(d.config.InputSize)

	var (
		boxes   []image.Rectangle
		scores  []float32
		classes []int
	)
	for i := 0; i < anchors.Rows(); i++ {
		row := anchors.RowRange(i, i+1)
		classScores := row.ColRange(boxFields, anchors.Cols())
		_, maxScore, _, maxLoc := gocv.MinMaxLoc(classScores)
		classScores.Close()
		row.Close()

		if maxScore < d.config.ConfidenceThreshold {
			continue
		}

		cx, cy := anchors.GetFloatAt(i, 0), anchors.GetFloatAt(i, 1)
		w, h := anchors.GetFloatAt(i, 2), anchors.GetFloatAt(i, 3)
		x1 := int((cx - w/2) * scaleX)
		y1 := int((cy - h/2) * scaleY)
		x2 := int((cx + w/2) * scaleX)
		y2 := int((cy + h/2) * scaleY)

		boxes = append(boxes, image.Rect(max(0, x1), max(0, y1), min(frame.X, x2), min(frame.Y, y2)))
		scores = append(scores, maxScore)
		classes = append(classes, maxLoc.X)
	}

	if len(boxes) == 0 {
		return nil
	}

	indices := gocv.NMSBoxes(boxes, scores, d.config.ConfidenceThreshold, d.config.NMSThreshold)
	detections := make([]detector.Detection, 0, len(indices))
	for _, idx := range indices {
		detections = append(detections, detector.Detection{
			Box:       boxes[idx],
			Score:     scores[idx],
			ClassID:   classes[idx],
			ClassName: detector.ClassName(classes[idx]),
		})
	}
	return detections
}

// Close releases the network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.net.Empty() {
		if err := d.net.Close(); err != nil {
			return errors.Wrap(err, "close net")
		}
	}
	log.Debug().Msg("DNN detector closed")
	return nil
}
