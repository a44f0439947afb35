package alert

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nvr-ai/go-behavior/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// MockWriter records artifact writes and optionally fails them.
type MockWriter struct {
	mu         sync.Mutex
	snapshots  []string
	clips      []string
	clipFrames []int
	failSnap   bool
	failClip   bool
}

func (m *MockWriter) WriteSnapshot(path string, frame gocv.Mat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSnap {
		return errors.New("disk full")
	}
	m.snapshots = append(m.snapshots, path)
	return nil
}

func (m *MockWriter) WriteClip(path string, frames []gocv.Mat, fps float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failClip {
		return errors.New("codec unavailable")
	}
	m.clips = append(m.clips, path)
	m.clipFrames = append(m.clipFrames, len(frames))
	return nil
}

// MockNotifier forwards alerts to a channel.
type MockNotifier struct {
	alerts chan Alert
	err    error
}

func (m *MockNotifier) Notify(ctx context.Context, a Alert) error {
	m.alerts <- a
	return m.err
}

func testFrames(n int) []gocv.Mat {
	frames := make([]gocv.Mat, n)
	for i := range frames {
		frames[i] = gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	}
	return frames
}

func testConfig(t *testing.T) DispatcherConfig {
	dir := t.TempDir()
	return DispatcherConfig{
		SnapshotDir:   filepath.Join(dir, "snapshots"),
		ClipDir:       filepath.Join(dir, "clips"),
		Workers:       2,
		QueueSize:     4,
		NotifyTimeout: time.Second,
	}
}

func TestCooldown(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		second time.Duration
		want   bool
	}{
		{name: "10s later is suppressed", second: 10 * time.Second, want: false},
		{name: "exactly the interval is suppressed", second: 60 * time.Second, want: false},
		{name: "61s later is allowed", second: 61 * time.Second, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := timeutil.NewMockClock(start)
			c := NewCooldown(clock, 60*time.Second)

			require.True(t, c.Allow(), "first trigger is always allowed")
			clock.Advance(tt.second)
			assert.Equal(t, tt.want, c.Allow())
		})
	}
}

func TestCooldownSuppressedDoesNotReset(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	c := NewCooldown(clock, 60*time.Second)

	require.True(t, c.Allow())
	clock.Advance(30 * time.Second)
	require.False(t, c.Allow())
	clock.Advance(31 * time.Second)
	assert.True(t, c.Allow(), "suppressed triggers do not move the window")

	last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, start.Add(61*time.Second), last)
}

func TestDispatcherWritesAndNotifies(t *testing.T) {
	writer := &MockWriter{}
	notifier := &MockNotifier{alerts: make(chan Alert, 1)}
	cfg := testConfig(t)

	d, err := NewDispatcher(cfg, writer, notifier)
	require.NoError(t, err)

	at := time.Unix(1700000000, 0)
	ev := NewEvent(at, testFrames(3), 20, "Abnormal", "1,2 (A, B, C)", UserContext{ID: 7, Name: "Sam"})
	require.NoError(t, d.Submit(ev))

	select {
	case a := <-notifier.alerts:
		assert.Equal(t, ev.ID, a.ID)
		assert.Equal(t, "Abnormal", a.Behavior)
		assert.Equal(t, "1,2 (A, B, C)", a.Location)
		assert.Equal(t, int64(7), a.User.ID)
		assert.Equal(t, filepath.Join(cfg.SnapshotDir, "snapshot_1700000000_"+ev.ID[:8]+".jpg"), a.SnapshotPath)
		assert.Equal(t, filepath.Join(cfg.ClipDir, "clip_1700000000_"+ev.ID[:8]+".mp4"), a.ClipPath)
	case <-time.After(5 * time.Second):
		t.Fatal("notifier was not called")
	}

	d.Close()
	assert.Equal(t, []int{3}, writer.clipFrames)
	assert.Equal(t, Stats{Submitted: 1, Dispatched: 1}, d.Stats())
}

func TestDispatcherContinuesAfterWriteFailure(t *testing.T) {
	writer := &MockWriter{failSnap: true, failClip: true}
	notifier := &MockNotifier{alerts: make(chan Alert, 1)}

	d, err := NewDispatcher(testConfig(t), writer, notifier)
	require.NoError(t, err)

	require.NoError(t, d.Submit(NewEvent(time.Now(), testFrames(2), 20, "Abnormal", "Unknown", UserContext{})))

	select {
	case a := <-notifier.alerts:
		assert.Empty(t, a.SnapshotPath, "failed artifacts are omitted")
		assert.Empty(t, a.ClipPath)
	case <-time.After(5 * time.Second):
		t.Fatal("notifier was not called after write failures")
	}

	d.Close()
	assert.Equal(t, int64(1), d.Stats().Failed)
}

func TestDispatcherNotifyErrorIsCounted(t *testing.T) {
	notifier := &MockNotifier{alerts: make(chan Alert, 1), err: errors.New("smtp down")}
	d, err := NewDispatcher(testConfig(t), &MockWriter{}, notifier)
	require.NoError(t, err)

	require.NoError(t, d.Submit(NewEvent(time.Now(), testFrames(1), 20, "Abnormal", "", UserContext{})))
	<-notifier.alerts
	d.Close()

	assert.Equal(t, Stats{Submitted: 1, Dispatched: 1, Failed: 1}, d.Stats())
}

func TestDispatcherSubmitNeverBlocks(t *testing.T) {
	started := make(chan struct{}, 1)
	gate := make(chan struct{})
	notifier := NotifierFunc(func(ctx context.Context, a Alert) error {
		started <- struct{}{}
		<-gate
		return nil
	})

	cfg := testConfig(t)
	cfg.Workers = 1
	cfg.QueueSize = 1
	d, err := NewDispatcher(cfg, &MockWriter{}, notifier)
	require.NoError(t, err)

	require.NoError(t, d.Submit(NewEvent(time.Now(), testFrames(1), 20, "Abnormal", "", UserContext{})))
	<-started // the only worker is now busy

	require.NoError(t, d.Submit(NewEvent(time.Now(), testFrames(1), 20, "Abnormal", "", UserContext{})))

	dropped := NewEvent(time.Now(), testFrames(1), 20, "Abnormal", "", UserContext{})
	done := make(chan error, 1)
	go func() { done <- d.Submit(dropped) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueFull)
		assert.Nil(t, dropped.Frames, "dropped events are released")
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}

	close(gate)
	<-started
	d.Close()

	s := d.Stats()
	assert.Equal(t, int64(2), s.Submitted)
	assert.Equal(t, int64(1), s.Dropped)
	assert.Equal(t, int64(2), s.Dispatched)
}

func TestDispatcherClosed(t *testing.T) {
	d, err := NewDispatcher(testConfig(t), &MockWriter{}, nil)
	require.NoError(t, err)
	d.Close()
	d.Close()

	err = d.Submit(NewEvent(time.Now(), testFrames(1), 20, "Abnormal", "", UserContext{}))
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestFileWriterSnapshot(t *testing.T) {
	dir := t.TempDir()
	frame := gocv.NewMatWithSize(24, 32, gocv.MatTypeCV8UC3)
	defer frame.Close()

	path := filepath.Join(dir, "snap.jpg")
	require.NoError(t, FileWriter{}.WriteSnapshot(path, frame))

	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	assert.Equal(t, 32, img.Cols())

	empty := gocv.NewMat()
	defer empty.Close()
	assert.Error(t, FileWriter{}.WriteSnapshot(filepath.Join(dir, "empty.jpg"), empty))
	assert.Error(t, FileWriter{}.WriteClip(filepath.Join(dir, "none.mp4"), nil, 20))
}

func TestEventShortID(t *testing.T) {
	ev := NewEvent(time.Now(), nil, 20, "Abnormal", "", UserContext{})
	assert.Len(t, ev.ShortID(), 8)
	assert.True(t, strings.HasPrefix(ev.ID, ev.ShortID()))
}
