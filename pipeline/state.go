package pipeline

import (
	"sync"
	"time"

	"github.com/nvr-ai/go-behavior/behavior"
)

// DateTimeLayout formats StatusReport.DateTime.
const DateTimeLayout = "2006-01-02 15:04:05"

// State is the pipeline status shared with readers on other goroutines.
//
// Only the pipeline goroutine writes it.
type State struct {
	mu              sync.RWMutex
	status          behavior.Status
	lastBehavior    behavior.Status
	abnormalCount   int
	lastAlert       time.Time
	framesProcessed int64
	detections      int64
}

// StatusReport is the point-in-time view served to pollers.
type StatusReport struct {
	Status             string `json:"status"`
	AbnormalDetections int    `json:"abnormal_detections"`
	AlertsCount        int    `json:"alerts_count"`
	LastBehavior       string `json:"last_behavior"`
	GeoTag             string `json:"geo_tag"`
	DateTime           string `json:"datetime"`
	FramesProcessed    int64  `json:"frames_processed"`
}

// Snapshot is a consistent copy of State.
type Snapshot struct {
	Status          behavior.Status
	LastBehavior    behavior.Status
	AbnormalCount   int
	LastAlert       time.Time
	FramesProcessed int64
	Detections      int64
}

// Snapshot returns a consistent copy of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Status:          s.status,
		LastBehavior:    s.lastBehavior,
		AbnormalCount:   s.abnormalCount,
		LastAlert:       s.lastAlert,
		FramesProcessed: s.framesProcessed,
		Detections:      s.detections,
	}
}

// Report builds the status document.
//
// Arguments:
//   - now: Time stamped into DateTime.
//   - location: Current location string.
//   - alerts: Number of persisted alerts, supplied by the alert history.
//
// Returns:
//   - StatusReport: The document served by the status endpoint.
func (s *State) Report(now time.Time, location string, alerts int) StatusReport {
	snap := s.Snapshot()
	return StatusReport{
		Status:             snap.Status.String(),
		AbnormalDetections: snap.AbnormalCount,
		AlertsCount:        alerts,
		LastBehavior:       snap.LastBehavior.String(),
		GeoTag:             location,
		DateTime:           now.Format(DateTimeLayout),
		FramesProcessed:    snap.FramesProcessed,
	}
}

func (s *State) frame() {
	s.mu.Lock()
	s.framesProcessed++
	s.mu.Unlock()
}

func (s *State) classified(status behavior.Status) {
	s.mu.Lock()
	s.status = status
	s.lastBehavior = status
	s.detections++
	s.mu.Unlock()
}

// alerted records a triggered alert and returns the new count.
func (s *State) alerted(at time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abnormalCount++
	s.lastAlert = at
	return s.abnormalCount
}
