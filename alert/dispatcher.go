package alert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("alert queue full")
	// ErrDispatcherClosed is returned by Submit after Close.
	ErrDispatcherClosed = errors.New("alert dispatcher closed")
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	SnapshotDir   string
	ClipDir       string
	Workers       int
	QueueSize     int
	NotifyTimeout time.Duration
}

// Stats counts dispatcher outcomes.
type Stats struct {
	Submitted  int64
	Dropped    int64
	Dispatched int64
	Failed     int64
}

// Dispatcher persists and delivers alert events on a fixed pool of workers.
//
// Submit never blocks: events beyond the queue capacity are dropped. Each
// worker writes the snapshot and the clip, then calls the notifier. A failing
// step is logged and the remaining steps still run.
type Dispatcher struct {
	config   DispatcherConfig
	writer   ArtifactWriter
	notifier Notifier

	mu     sync.RWMutex
	closed bool
	queue  chan *Event
	wg     sync.WaitGroup

	submitted  atomic.Int64
	dropped    atomic.Int64
	dispatched atomic.Int64
	failed     atomic.Int64
}

// NewDispatcher creates the artifact directories and starts the workers.
//
// Arguments:
//   - config: Queue, worker and output settings.
//   - writer: Persists snapshots and clips.
//   - notifier: Receives each alert after its artifacts are written.
//
// Returns:
//   - *Dispatcher: The running dispatcher. Call Close to drain it.
//   - error: An output directory could not be created.
func NewDispatcher(config DispatcherConfig, writer ArtifactWriter, notifier Notifier) (*Dispatcher, error) {
	for _, dir := range []string{config.SnapshotDir, config.ClipDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create artifact directory %s", dir)
		}
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 1
	}

	d := &Dispatcher{
		config:   config,
		writer:   writer,
		notifier: notifier,
		queue:    make(chan *Event, config.QueueSize),
	}
	for i := 0; i < config.Workers; i++ {
		d.wg.Add(1)
		go d.work(i)
	}
	return d, nil
}

// Submit hands ev to the workers without blocking.
//
// On error the event is released and the caller must not touch it again.
func (d *Dispatcher) Submit(ev *Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		ev.Release()
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- ev:
		d.submitted.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		log.Warn().Str("alert_id", ev.ID).Msg("alert queue full, dropping event")
		ev.Release()
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for queued events to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted:  d.submitted.Load(),
		Dropped:    d.dropped.Load(),
		Dispatched: d.dispatched.Load(),
		Failed:     d.failed.Load(),
	}
}

// CollectMetrics reports the counters to the runtime profiler.
func (d *Dispatcher) CollectMetrics() map[string]float64 {
	s := d.Stats()
	return map[string]float64{
		"dispatch_submitted": float64(s.Submitted),
		"dispatch_dropped":   float64(s.Dropped),
		"dispatch_done":      float64(s.Dispatched),
		"dispatch_failed":    float64(s.Failed),
	}
}

func (d *Dispatcher) work(id int) {
	defer d.wg.Done()
	for ev := range d.queue {
		d.process(id, ev)
	}
}

// process runs the steps of one alert. Step failures never stop later steps.
func (d *Dispatcher) process(worker int, ev *Event) {
	defer ev.Release()

	logger := log.With().Str("alert_id", ev.ID).Int("worker", worker).Logger()
	failed := false

	a := Alert{
		ID:       ev.ID,
		Time:     ev.Time,
		Behavior: ev.Behavior,
		Location: ev.Location,
		User:     ev.User,
	}

	if n := len(ev.Frames); n > 0 {
		path := filepath.Join(d.config.SnapshotDir, fmt.Sprintf("snapshot_%d_%s.jpg", ev.Time.Unix(), ev.ShortID()))
		if err := d.writer.WriteSnapshot(path, ev.Frames[n-1]); err != nil {
			logger.Error().Err(err).Str("path", path).Msg("snapshot write failed")
			failed = true
		} else {
			a.SnapshotPath = path
			logger.Info().Str("path", path).Msg("snapshot saved")
		}

		path = filepath.Join(d.config.ClipDir, fmt.Sprintf("clip_%d_%s.mp4", ev.Time.Unix(), ev.ShortID()))
		if err := d.writer.WriteClip(path, ev.Frames, ev.FPS); err != nil {
			logger.Error().Err(err).Str("path", path).Msg("clip write failed")
			failed = true
		} else {
			a.ClipPath = path
			logger.Info().Str("path", path).Int("frames", n).Float64("fps", ev.FPS).Msg("clip saved")
		}
	} else {
		logger.Warn().Msg("alert has no frames")
		failed = true
	}

	if d.notifier != nil {
		ctx := context.Background()
		if d.config.NotifyTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.config.NotifyTimeout)
			defer cancel()
		}
		if err := d.notifier.Notify(ctx, a); err != nil {
			logger.Error().Err(err).Msg("notification failed")
			failed = true
		}
	}

	if failed {
		d.failed.Add(1)
	}
	d.dispatched.Add(1)
}
