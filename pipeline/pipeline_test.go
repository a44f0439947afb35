package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nvr-ai/go-behavior/alert"
	"github.com/nvr-ai/go-behavior/behavior"
	"github.com/nvr-ai/go-behavior/common"
	"github.com/nvr-ai/go-behavior/timeutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var (
	leftBox  = common.BoundingBox{X1: 10, Y1: 10, X2: 40, Y2: 40}
	rightBox = common.BoundingBox{X1: 110, Y1: 10, X2: 140, Y2: 40}
)

// MockSource yields a fixed number of black 160x120 frames.
type MockSource struct {
	frames int
	fps    float64
	read   int
	closed bool
}

func (s *MockSource) Read(dst *gocv.Mat) bool {
	if s.closed || s.read >= s.frames {
		return false
	}
	s.read++
	m := gocv.Zeros(120, 160, gocv.MatTypeCV8UC3)
	defer m.Close()
	m.CopyTo(dst)
	return true
}

func (s *MockSource) Get(prop gocv.VideoCaptureProperties) float64 {
	if prop == gocv.VideoCaptureFPS {
		return s.fps
	}
	return 0
}

func (s *MockSource) Close() error {
	s.closed = true
	return nil
}

// MockLocator returns the result of locate for each call, numbered from 1.
type MockLocator struct {
	calls  int
	locate func(call int) (common.BoundingBox, bool, error)
}

func (l *MockLocator) Locate(img gocv.Mat) (common.BoundingBox, bool, error) {
	l.calls++
	return l.locate(l.calls)
}

func staticLocator() *MockLocator {
	return &MockLocator{locate: func(int) (common.BoundingBox, bool, error) {
		return leftBox, true, nil
	}}
}

func jumpingLocator(onCall func()) *MockLocator {
	return &MockLocator{locate: func(call int) (common.BoundingBox, bool, error) {
		if onCall != nil {
			onCall()
		}
		if call%2 == 0 {
			return rightBox, true, nil
		}
		return leftBox, true, nil
	}}
}

// MockSubmitter records submitted events and releases their frames.
type MockSubmitter struct {
	mu     sync.Mutex
	events []alert.Event
	frames []int
	err    error
}

func (s *MockSubmitter) Submit(ev *alert.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, len(ev.Frames))
	ev.Release()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, *ev)
	return nil
}

// MockWriter fails every artifact write.
type MockWriter struct{}

func (MockWriter) WriteSnapshot(string, gocv.Mat) error { return errors.New("disk full") }
func (MockWriter) WriteClip(string, []gocv.Mat, float64) error { return errors.New("disk full") }

// fastConfig shrinks the classifier windows so a 25 frame run can reach a
// majority of Abnormal votes.
func fastConfig() Config {
	cls := behavior.DefaultClassifierConfig()
	cls.Window = 5
	cls.StatusHistory = 5
	cls.MotionHistory = 10
	return Config{
		Motion:        behavior.DefaultMotionConfig(),
		Classifier:    cls,
		Cooldown:      60 * time.Second,
		BufferSeconds: 5,
		FallbackFPS:   20,
		User:          alert.UserContext{ID: 7, Name: "Sam"},
	}
}

func defaultConfig() Config {
	c := fastConfig()
	c.Classifier = behavior.DefaultClassifierConfig()
	return c
}

func drain(t *testing.T, p *Pipeline) [][]byte {
	t.Helper()
	var out [][]byte
	for frame := range p.Frames(context.Background()) {
		out = append(out, frame)
	}
	return out
}

func isJPEG(b []byte) bool {
	return len(b) > 2 && b[0] == 0xFF && b[1] == 0xD8
}

func TestBufferCapacity(t *testing.T) {
	tests := []struct {
		fps, seconds float64
		want         int
	}{
		{20, 5, 100},
		{29.97, 5, 150},
		{30, 0, 1},
		{0.1, 5, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BufferCapacity(tt.fps, tt.seconds), "fps=%v seconds=%v", tt.fps, tt.seconds)
	}
}

func TestStaticSubjectStaysNormal(t *testing.T) {
	src := &MockSource{frames: 25, fps: 20}
	sub := &MockSubmitter{}
	p := New(defaultConfig(), src, staticLocator(), sub)

	frames := drain(t, p)

	require.Len(t, frames, 25)
	for _, f := range frames {
		assert.True(t, isJPEG(f))
	}
	snap := p.State().Snapshot()
	assert.Equal(t, behavior.Normal, snap.Status)
	assert.Equal(t, 0, snap.AbnormalCount)
	assert.Equal(t, int64(25), snap.FramesProcessed)
	assert.Equal(t, int64(25), snap.Detections)
	assert.Empty(t, sub.events)
	assert.True(t, src.closed)
}

func TestJumpingSubjectAlertsOnce(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	sub := &MockSubmitter{}
	p := New(fastConfig(), &MockSource{frames: 25, fps: 20}, jumpingLocator(nil), sub,
		WithClock(clock),
		WithLocation(func() string { return "1,2 (A, B, C)" }),
	)

	frames := drain(t, p)

	require.Len(t, frames, 25)
	snap := p.State().Snapshot()
	assert.Equal(t, behavior.Abnormal, snap.Status)
	assert.Equal(t, behavior.Abnormal, snap.LastBehavior)
	assert.Equal(t, 1, snap.AbnormalCount)
	assert.Equal(t, clock.Now(), snap.LastAlert)

	require.Len(t, sub.events, 1)
	ev := sub.events[0]
	assert.Equal(t, "Abnormal", ev.Behavior)
	assert.Equal(t, "1,2 (A, B, C)", ev.Location)
	assert.Equal(t, int64(7), ev.User.ID)
	assert.Equal(t, 20.0, ev.FPS)
	assert.Equal(t, []int{10}, sub.frames, "alert fires on the tenth frame with every frame so far buffered")
}

func TestCooldownAllowsAlertAfterInterval(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	sub := &MockSubmitter{}
	locator := jumpingLocator(func() { clock.Advance(5 * time.Second) })
	p := New(fastConfig(), &MockSource{frames: 25, fps: 20}, locator, sub, WithClock(clock))

	drain(t, p)

	// First alert on frame 10 (50s), next one strictly after 60s later: frame 23 (115s).
	require.Len(t, sub.events, 2)
	assert.Equal(t, 65*time.Second, sub.events[1].Time.Sub(sub.events[0].Time))
	assert.Equal(t, 2, p.State().Snapshot().AbnormalCount)
}

func TestDetectorErrorsSkipAnalysis(t *testing.T) {
	locator := &MockLocator{locate: func(int) (common.BoundingBox, bool, error) {
		return common.BoundingBox{}, false, errors.New("inference failed")
	}}
	p := New(defaultConfig(), &MockSource{frames: 5}, locator, &MockSubmitter{})

	frames := drain(t, p)

	assert.Len(t, frames, 5, "frames are still delivered")
	snap := p.State().Snapshot()
	assert.Equal(t, int64(5), snap.FramesProcessed)
	assert.Zero(t, snap.Detections)
	assert.Equal(t, behavior.Normal, snap.Status)
}

func TestSubmitFailureDoesNotStopFrames(t *testing.T) {
	var out bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&out)
	t.Cleanup(func() { log.Logger = orig })

	sub := &MockSubmitter{err: alert.ErrQueueFull}
	p := New(fastConfig(), &MockSource{frames: 25, fps: 20}, jumpingLocator(nil), sub)

	frames := drain(t, p)

	assert.Len(t, frames, 25)
	// The dropped alert still holds the cooldown window and the count.
	assert.Len(t, sub.frames, 1)
	assert.Equal(t, 1, p.State().Snapshot().AbnormalCount)
	assert.Contains(t, out.String(), `"level":"warn"`)
	assert.Contains(t, out.String(), "alert not dispatched, cooldown still applies")
	assert.Contains(t, out.String(), `"abnormal_count":1`)
}

func TestMissedDetectionsAreNotAnalyzed(t *testing.T) {
	var (
		p      *Pipeline
		before []float64
	)
	locator := &MockLocator{locate: func(call int) (common.BoundingBox, bool, error) {
		before = append(before, p.motion.Smoothed())
		switch {
		case call%3 == 0:
			return common.BoundingBox{}, false, nil
		case call%2 == 0:
			return rightBox, true, nil
		default:
			return leftBox, true, nil
		}
	}}
	p = New(defaultConfig(), &MockSource{frames: 25, fps: 20}, locator, &MockSubmitter{})

	frames := drain(t, p)

	require.Len(t, frames, 25)
	blank := gocv.Zeros(120, 160, gocv.MatTypeCV8UC3)
	defer blank.Close()
	plain, err := encodeJPEG(blank)
	require.NoError(t, err)

	for i, f := range frames {
		if (i+1)%3 == 0 {
			assert.Equal(t, plain, f, "frame %d has no detection and is not annotated", i+1)
		} else {
			assert.NotEqual(t, plain, f, "frame %d is annotated", i+1)
		}
	}

	snap := p.State().Snapshot()
	assert.Equal(t, int64(25), snap.FramesProcessed)
	assert.Equal(t, int64(17), snap.Detections)
	assert.Equal(t, 16, p.classifier.MotionSamples(), "the first detection only primes the estimator")

	// before[k] is the smoothed motion entering call k+1.
	require.Len(t, before, 25)
	for call := 3; call < 25; call += 3 {
		assert.NotZero(t, before[call-1])
		assert.Equal(t, before[call-1], before[call], "motion is frozen across missed call %d", call)
	}
}

func TestFailingWriterDoesNotStopPipeline(t *testing.T) {
	d, err := alert.NewDispatcher(alert.DispatcherConfig{
		SnapshotDir: t.TempDir(),
		ClipDir:     t.TempDir(),
		Workers:     1,
		QueueSize:   2,
	}, MockWriter{}, nil)
	require.NoError(t, err)

	p := New(fastConfig(), &MockSource{frames: 25, fps: 20}, jumpingLocator(nil), d)
	frames := drain(t, p)
	d.Close()

	assert.Len(t, frames, 25)
	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Dispatched)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestFramesStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &MockSource{frames: 100, fps: 20}
	p := New(defaultConfig(), src, staticLocator(), &MockSubmitter{})

	n := 0
	for range p.Frames(ctx) {
		n++
		if n == 3 {
			cancel()
		}
	}

	assert.Equal(t, 3, n)
	assert.Equal(t, 3, src.read)
	assert.True(t, src.closed)
}

func TestFramesStopsWhenConsumerBreaks(t *testing.T) {
	src := &MockSource{frames: 100, fps: 20}
	p := New(defaultConfig(), src, staticLocator(), &MockSubmitter{})

	n := 0
	for range p.Frames(context.Background()) {
		n++
		if n == 2 {
			break
		}
	}

	assert.Equal(t, 2, src.read)
	assert.True(t, src.closed)
}

func TestStateReport(t *testing.T) {
	s := &State{}
	s.classified(behavior.Abnormal)
	at := time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC)
	s.alerted(at)

	r := s.Report(at, "Unknown", 4)

	assert.Equal(t, StatusReport{
		Status:             "Abnormal",
		AbnormalDetections: 1,
		AlertsCount:        4,
		LastBehavior:       "Abnormal",
		GeoTag:             "Unknown",
		DateTime:           "2024-05-01 12:30:45",
	}, r)
}
