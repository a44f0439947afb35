package behavior

import (
	"github.com/nvr-ai/go-behavior/ring"
	"gonum.org/v1/gonum/stat"
)

// ClassifierConfig holds the window sizes and thresholds of the heuristic.
type ClassifierConfig struct {
	// MotionHistory is the capacity of the smoothed motion history (100).
	MotionHistory int `yaml:"motion_history"`
	// StatusHistory is the capacity of the vote window (30).
	StatusHistory int `yaml:"status_history"`
	// Window is the number of recent samples judged, and the minimum history
	// before any judgement is made (20).
	Window int `yaml:"window"`
	// FrozenMean and FrozenStdDev flag sustained high motion with little
	// variation: mean > 20 and stddev < 5.
	FrozenMean   float64 `yaml:"frozen_mean"`
	FrozenStdDev float64 `yaml:"frozen_stddev"`
	// IdleMean flags near-zero motion: mean < 1.5.
	IdleMean float64 `yaml:"idle_mean"`
	// ErraticStdDev flags highly variable motion: stddev > 20.
	ErraticStdDev float64 `yaml:"erratic_stddev"`
}

// DefaultClassifierConfig returns the reference windows and thresholds.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		MotionHistory: 100,
		StatusHistory: 30,
		Window:        20,
		FrozenMean:    20,
		FrozenStdDev:  5,
		IdleMean:      1.5,
		ErraticStdDev: 20,
	}
}

// Classifier keeps bounded motion and status histories and reports a
// debounced status by majority vote.
type Classifier struct {
	config   ClassifierConfig
	motion   *ring.Buffer[float64]
	statuses *ring.Buffer[Status]
	current  Status
}

// NewClassifier creates a classifier with empty histories.
func NewClassifier(config ClassifierConfig) *Classifier {
	return &Classifier{
		config:   config,
		motion:   ring.New[float64](config.MotionHistory, nil),
		statuses: ring.New[Status](config.StatusHistory, nil),
		current:  Normal,
	}
}

// Observe appends a smoothed motion sample.
func (c *Classifier) Observe(sample float64) {
	c.motion.Push(sample)
}

// Update classifies the current motion window, records the label in the vote
// window and returns the majority status.
func (c *Classifier) Update() Status {
	c.statuses.Push(c.Instant())
	c.current = Majority(c.statuses.Values())
	return c.current
}

// Instant classifies the most recent motion window without voting.
func (c *Classifier) Instant() Status {
	if c.motion.Len() < c.config.Window {
		return Normal
	}
	return c.config.Judge(c.motion.Tail(c.config.Window))
}

// Judge applies the threshold rule to one window of motion samples.
//
// Arguments:
//   - window: Smoothed motion samples, oldest first.
//
// Returns:
//   - Status: Abnormal if (mean > FrozenMean and std < FrozenStdDev) or
//     mean < IdleMean or std > ErraticStdDev, Normal otherwise.
func (cfg ClassifierConfig) Judge(window []float64) Status {
	if len(window) == 0 {
		return Normal
	}
	mean, std := stat.PopMeanStdDev(window, nil)
	switch {
	case mean > cfg.FrozenMean && std < cfg.FrozenStdDev:
		return Abnormal
	case mean < cfg.IdleMean:
		return Abnormal
	case std > cfg.ErraticStdDev:
		return Abnormal
	}
	return Normal
}

// Current returns the last reported status.
func (c *Classifier) Current() Status {
	return c.current
}

// MotionSamples returns the number of buffered motion samples.
func (c *Classifier) MotionSamples() int {
	return c.motion.Len()
}

// StatusSamples returns the number of buffered votes.
func (c *Classifier) StatusSamples() int {
	return c.statuses.Len()
}
