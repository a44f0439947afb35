// Package pipeline - Drives capture, detection, classification and alerting frame by frame.
package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"iter"
	"math"
	"time"

	"github.com/nvr-ai/go-behavior/alert"
	"github.com/nvr-ai/go-behavior/behavior"
	"github.com/nvr-ai/go-behavior/capture"
	"github.com/nvr-ai/go-behavior/common"
	"github.com/nvr-ai/go-behavior/config"
	"github.com/nvr-ai/go-behavior/location"
	"github.com/nvr-ai/go-behavior/ring"
	"github.com/nvr-ai/go-behavior/timeutil"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

var (
	normalColor   = color.RGBA{0, 255, 0, 0}
	abnormalColor = color.RGBA{255, 0, 0, 0}
	locationColor = color.RGBA{0, 255, 255, 0}
)

// Locator finds the tracked subject in a frame.
type Locator interface {
	Locate(img gocv.Mat) (common.BoundingBox, bool, error)
}

// Submitter accepts alert events without blocking. On error the event has
// already been released.
type Submitter interface {
	Submit(ev *alert.Event) error
}

// Metrics receives timings and counters. *profiler.RuntimeProfiler satisfies it.
type Metrics interface {
	StartOperation(name string) func()
	RecordMetric(name string, value float64)
}

// Config tunes the per-frame processing.
type Config struct {
	Motion        behavior.MotionConfig
	Classifier    behavior.ClassifierConfig
	Cooldown      time.Duration
	BufferSeconds float64
	FallbackFPS   float64
	User          alert.UserContext
}

// ConfigFrom extracts the pipeline settings from the daemon configuration.
func ConfigFrom(c config.Config) Config {
	return Config{
		Motion:        c.Motion,
		Classifier:    c.Classifier,
		Cooldown:      c.Alert.Cooldown,
		BufferSeconds: c.Alert.BufferSeconds,
		FallbackFPS:   c.Alert.FallbackFPS,
		User: alert.UserContext{
			ID:    c.User.ID,
			Name:  c.User.Name,
			Email: c.User.Email,
		},
	}
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock replaces the wall clock used for the cooldown and alert times.
func WithClock(clock timeutil.Clock) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// WithLocation sets the function read for the current location.
func WithLocation(fn func() string) Option {
	return func(p *Pipeline) { p.location = fn }
}

// WithMetrics reports frame, detect and encode timings.
func WithMetrics(m Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline turns a frame source into annotated JPEG frames and alert events.
//
// A Pipeline is single use: Frames consumes and closes the source.
type Pipeline struct {
	config     Config
	source     capture.Source
	locator    Locator
	dispatcher Submitter
	clock      timeutil.Clock
	location   func() string
	metrics    Metrics
	logger     zerolog.Logger

	motion     *behavior.MotionEstimator
	classifier *behavior.Classifier
	cooldown   *alert.Cooldown
	state      *State
}

// New creates a pipeline over source.
//
// Arguments:
//   - config: Motion, classifier, cooldown and buffer settings.
//   - source: Frame source. Closed when Frames returns.
//   - locator: Finds the tracked subject.
//   - dispatcher: Receives alert events.
//   - opts: Optional clock, location and metrics.
//
// Returns:
//   - *Pipeline: The pipeline, ready for Frames.
func New(config Config, source capture.Source, locator Locator, dispatcher Submitter, opts ...Option) *Pipeline {
	p := &Pipeline{
		config:     config,
		source:     source,
		locator:    locator,
		dispatcher: dispatcher,
		clock:      timeutil.RealClock{},
		location:   func() string { return location.Unknown },
		metrics:    noopMetrics{},
		logger:     log.With().Str("component", "pipeline").Logger(),
		motion:     behavior.NewMotionEstimator(config.Motion),
		classifier: behavior.NewClassifier(config.Classifier),
		state:      &State{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cooldown = alert.NewCooldown(p.clock, config.Cooldown)
	return p
}

// State returns the shared status.
func (p *Pipeline) State() *State {
	return p.state
}

// BufferCapacity is the number of frames kept for clips: seconds of video at
// fps, at least one.
func BufferCapacity(fps, seconds float64) int {
	return max(1, int(math.Round(fps*seconds)))
}

// Frames returns the annotated frames as JPEG bytes.
//
// The sequence ends when the source is exhausted or fails, when ctx is done,
// or when the consumer stops. The source and the frame buffer are released
// on exit.
//
// @example
//
//	for jpeg := range p.Frames(ctx) {
//		stream.UpdateJPEG(jpeg)
//	}
func (p *Pipeline) Frames(ctx context.Context) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		fps := capture.FrameRate(p.source, p.config.FallbackFPS)
		frames := ring.New[gocv.Mat](BufferCapacity(fps, p.config.BufferSeconds), closeMat)
		p.logger.Info().Float64("fps", fps).Int("buffer", frames.Cap()).Msg("pipeline started")

		img := gocv.NewMat()
		defer func() {
			img.Close()
			frames.Clear()
			if err := p.source.Close(); err != nil {
				p.logger.Warn().Err(err).Msg("closing source")
			}
			p.logger.Info().Int64("frames", p.state.Snapshot().FramesProcessed).Msg("pipeline stopped")
		}()

		for {
			if err := ctx.Err(); err != nil {
				return
			}
			if !p.source.Read(&img) {
				p.logger.Info().Msg("source ended")
				return
			}
			if img.Empty() {
				continue
			}

			out, err := p.process(&img, frames, fps)
			if err != nil {
				p.logger.Warn().Err(err).Msg("frame dropped")
				continue
			}
			if !yield(out) {
				return
			}
		}
	}
}

func (p *Pipeline) process(img *gocv.Mat, frames *ring.Buffer[gocv.Mat], fps float64) ([]byte, error) {
	defer p.metrics.StartOperation("frame")()

	frames.Push(img.Clone())
	p.state.frame()

	done := p.metrics.StartOperation("detect")
	box, found, err := p.locator.Locate(*img)
	done()

	switch {
	case err != nil:
		p.logger.Warn().Err(err).Msg("detection failed, skipping frame")
	case found:
		p.analyze(img, box, frames, fps)
	}

	defer p.metrics.StartOperation("encode")()
	return encodeJPEG(*img)
}

// analyze advances motion and classification for a detected subject,
// annotates the frame and triggers an alert when due.
func (p *Pipeline) analyze(img *gocv.Mat, box common.BoundingBox, frames *ring.Buffer[gocv.Mat], fps float64) {
	if v, ok := p.motion.Update(box); ok {
		p.classifier.Observe(v)
		p.metrics.RecordMetric("motion", v)
	}
	status := p.classifier.Update()
	p.state.classified(status)

	loc := p.location()
	annotate(img, box, status, loc)

	if status == behavior.Abnormal && p.cooldown.Allow() {
		p.trigger(frames, fps, status, loc)
	}
}

func (p *Pipeline) trigger(frames *ring.Buffer[gocv.Mat], fps float64, status behavior.Status, loc string) {
	now := p.clock.Now()
	count := p.state.alerted(now)
	p.metrics.RecordMetric("abnormal_events", float64(count))

	ev := alert.NewEvent(now, frames.Snapshot(cloneMat), fps, status.String(), loc, p.config.User)
	logger := p.logger.With().Str("alert_id", ev.ID).Int("frames", len(ev.Frames)).Logger()
	if err := p.dispatcher.Submit(ev); err != nil {
		// The cooldown window and the abnormal count are not rolled back.
		logger.Warn().
			Err(err).
			Int("abnormal_count", count).
			Dur("cooldown", p.config.Cooldown).
			Msg("alert not dispatched, cooldown still applies")
		return
	}
	logger.Info().Str("location", loc).Int("abnormal_count", count).Msg("alert triggered")
}

func annotate(img *gocv.Mat, box common.BoundingBox, status behavior.Status, loc string) {
	c := normalColor
	if status == behavior.Abnormal {
		c = abnormalColor
	}
	gocv.Rectangle(img, box.Rect(), c, 2)
	gocv.PutText(img, "Status: "+status.String(), image.Pt(box.X1, box.Y1-10), gocv.FontHersheySimplex, 0.6, c, 2)
	gocv.PutText(img, "Loc: "+loc, image.Pt(box.X1, box.Y2+20), gocv.FontHersheySimplex, 0.5, locationColor, 1)
}

func encodeJPEG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}
	defer buf.Close()
	return bytes.Clone(buf.GetBytes()), nil
}

func cloneMat(m gocv.Mat) gocv.Mat { return m.Clone() }

func closeMat(m gocv.Mat) { m.Close() }

type noopMetrics struct{}

func (noopMetrics) StartOperation(string) func() { return func() {} }
func (noopMetrics) RecordMetric(string, float64) {}
