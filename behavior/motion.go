package behavior

import (
	"image"
	"math"

	"github.com/nvr-ai/go-behavior/common"
)

// MotionConfig tunes the motion estimator.
type MotionConfig struct {
	// Alpha is the weight of the previous smoothed value (0.5).
	Alpha float64 `yaml:"alpha"`
	// AreaWeight scales the relative area change into pixels of motion (50).
	AreaWeight float64 `yaml:"area_weight"`
}

// DefaultMotionConfig returns the reference smoothing parameters.
func DefaultMotionConfig() MotionConfig {
	return MotionConfig{
		Alpha:      0.5,
		AreaWeight: 50,
	}
}

// MotionEstimator turns consecutive subject boxes into a smoothed motion value.
//
// The estimator only advances on detections. Frames where the subject is not
// found leave the previous box and the smoothed value untouched, so the value
// freezes until the next detection.
type MotionEstimator struct {
	config     MotionConfig
	prevCenter image.Point
	prevArea   int
	primed     bool
	smoothed   float64
}

// NewMotionEstimator creates an estimator with a zero smoothed value.
func NewMotionEstimator(config MotionConfig) *MotionEstimator {
	return &MotionEstimator{config: config}
}

// Update feeds the latest subject box.
//
// The first call only records the box and returns ok=false. Subsequent calls
// return the new smoothed motion value.
//
// Arguments:
//   - box: The subject's bounding box in the current frame.
//
// Returns:
//   - float64: The smoothed motion value.
//   - bool: False when no sample was produced (first detection).
//
// @example
// est := NewMotionEstimator(DefaultMotionConfig())
// est.Update(common.BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10})        // primes
// v, ok := est.Update(common.BoundingBox{X1: 30, Y1: 40, X2: 40, Y2: 50}) // 25, true
func (m *MotionEstimator) Update(box common.BoundingBox) (float64, bool) {
	center, area := box.Center(), box.Area()
	defer func() {
		m.prevCenter, m.prevArea = center, area
		m.primed = true
	}()

	if !m.primed {
		return 0, false
	}

	raw := RawMotion(center, m.prevCenter, area, m.prevArea, m.config.AreaWeight)
	m.smoothed = EWMA(m.config.Alpha, m.smoothed, raw)
	return m.smoothed, true
}

// Smoothed returns the current smoothed value.
func (m *MotionEstimator) Smoothed() float64 {
	return m.smoothed
}

// RawMotion combines centroid displacement with the relative area change.
func RawMotion(center, prevCenter image.Point, area, prevArea int, areaWeight float64) float64 {
	displacement := common.Distance(center, prevCenter)
	areaChange := math.Abs(float64(area-prevArea)) / float64(max(prevArea, 1))
	return displacement + areaChange*areaWeight
}

// EWMA returns alpha*prev + (1-alpha)*raw.
func EWMA(alpha, prev, raw float64) float64 {
	return alpha*prev + (1-alpha)*raw
}
