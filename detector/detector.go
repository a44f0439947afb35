// Package detector - Object detector boundary and tracked-subject lookup.
package detector

import (
	"fmt"
	"image"
	"sort"

	"github.com/nvr-ai/go-behavior/common"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Detection represents a detected object.
type Detection struct {
	Box       image.Rectangle
	Score     float32
	ClassID   int
	ClassName string
}

// Detector runs object detection on a single BGR frame.
//
// Implementations must not modify img. Detections are returned in the
// detector's own order, usually by descending score.
type Detector interface {
	Detect(img gocv.Mat) ([]Detection, error)
}

// SubjectLocator finds the tracked subject class in a frame.
type SubjectLocator struct {
	detector Detector
	classID  int
	class    string
}

// NewSubjectLocator creates a locator for the named class.
//
// Arguments:
//   - d: The detector backend.
//   - className: A YOLO class name such as "dog".
//
// Returns:
//   - *SubjectLocator: The locator.
//   - error: The class name is not in the YOLO class table.
//
// @example
// locator, err := detector.NewSubjectLocator(backend, "dog")
// box, found, err := locator.Locate(frame)
func NewSubjectLocator(d Detector, className string) (*SubjectLocator, error) {
	id, ok := ClassIndex(className)
	if !ok {
		return nil, errors.Errorf("unknown class %q", className)
	}
	return &SubjectLocator{detector: d, classID: id, class: className}, nil
}

// Locate returns the box of the first detection of the tracked class.
//
// Returns:
//   - common.BoundingBox: The subject box when found.
//   - bool: False when no detection of the tracked class exists.
//   - error: The detector failed on this frame.
func (l *SubjectLocator) Locate(img gocv.Mat) (common.BoundingBox, bool, error) {
	detections, err := l.detector.Detect(img)
	if err != nil {
		return common.BoundingBox{}, false, errors.Wrapf(err, "detect %s", l.class)
	}
	for _, d := range detections {
		if d.ClassID == l.classID {
			return common.FromRect(d.Box), true, nil
		}
	}
	return common.BoundingBox{}, false, nil
}

// Class returns the tracked class name.
func (l *SubjectLocator) Class() string {
	return l.class
}

// IoU calculates the Intersection over Union between two rectangles.
func IoU(box1, box2 image.Rectangle) float32 {
	inter := box1.Intersect(box2)
	if inter.Empty() {
		return 0
	}
	intersection := inter.Dx() * inter.Dy()
	union := box1.Dx()*box1.Dy() + box2.Dx()*box2.Dy() - intersection
	if union <= 0 {
		return 0
	}
	return float32(intersection) / float32(union)
}

// Suppress applies greedy Non-Maximum Suppression.
//
// Detections are sorted by descending score and any detection overlapping a
// kept one by more than threshold is dropped. The result stays sorted.
func Suppress(detections []Detection, threshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Score > detections[j].Score
	})

	result := make([]Detection, 0, len(detections))
	used := make([]bool, len(detections))
	for i := range detections {
		if used[i] {
			continue
		}
		result = append(result, detections[i])
		for j := i + 1; j < len(detections); j++ {
			if !used[j] && IoU(detections[i].Box, detections[j].Box) > threshold {
				used[j] = true
			}
		}
	}
	return result
}

// ClassName returns the YOLO class name for an index.
func ClassName(id int) string {
	if id >= 0 && id < len(YOLOClasses) {
		return YOLOClasses[id]
	}
	return fmt.Sprintf("unknown_%d", id)
}

// ClassIndex returns the YOLO index of a class name.
func ClassIndex(name string) (int, bool) {
	for i, c := range YOLOClasses {
		if c == name {
			return i, true
		}
	}
	return 0, false
}

// YOLOClasses is the 80-class COCO label set used by YOLO models, without a
// background entry.
var YOLOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie",
	"suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut",
	"cake", "chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
	"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}
