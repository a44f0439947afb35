// Package main - Behavior watch daemon: streams annotated camera frames, classifies the
// tracked subject's motion and raises alerts with a snapshot and a clip.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hybridgroup/mjpeg"
	"github.com/nvr-ai/go-behavior/alert"
	"github.com/nvr-ai/go-behavior/capture"
	"github.com/nvr-ai/go-behavior/config"
	"github.com/nvr-ai/go-behavior/detector"
	"github.com/nvr-ai/go-behavior/inference"
	"github.com/nvr-ai/go-behavior/location"
	"github.com/nvr-ai/go-behavior/logging"
	"github.com/nvr-ai/go-behavior/notify"
	"github.com/nvr-ai/go-behavior/onnx"
	"github.com/nvr-ai/go-behavior/pipeline"
	"github.com/nvr-ai/go-behavior/profiler"
	"github.com/nvr-ai/go-behavior/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultAlertsLimit is the number of alerts returned by /alerts without a limit parameter.
	DefaultAlertsLimit = 50
	// ShutdownTimeout bounds the HTTP server shutdown.
	ShutdownTimeout = 5 * time.Second
)

// closingDetector is a detector backend that holds native resources.
type closingDetector interface {
	detector.Detector
	Close() error
}

// cliFlags are the command line settings layered over the configuration file.
type cliFlags struct {
	configPath string
	videoPath  string
	deviceID   int
	modelPath  string
	backend    string
	addr       string
	logLevel   string
}

func newFlagSet(name string) (*flag.FlagSet, *cliFlags) {
	f := &cliFlags{}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&f.configPath, "config", "", "Path to YAML configuration file")
	fs.StringVar(&f.videoPath, "video", "", "Path to video file instead of a camera")
	fs.IntVar(&f.deviceID, "device", -1, "Camera device index (-1 probes the first available)")
	fs.StringVar(&f.modelPath, "model", "", "Path to YOLOv8 ONNX model file")
	fs.StringVar(&f.backend, "backend", "", "Detector backend: dnn or ort")
	fs.StringVar(&f.addr, "addr", "", "HTTP listen address")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	return fs, f
}

// loadConfig layers the defaults, the configuration file and the flags set
// on the command line, then validates the result.
//
// Arguments:
//   - fs: A parsed flag set from newFlagSet.
//   - f: The values bound to fs.
//
// Returns:
//   - config.Config: The merged configuration.
//   - error: Load or validation failure.
func loadConfig(fs *flag.FlagSet, f *cliFlags) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = *loaded
	}

	// Only flags given on the command line override the file.
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "video":
			cfg.Source.Video = f.videoPath
		case "device":
			cfg.Source.Device = f.deviceID
		case "model":
			cfg.Detector.ModelPath = f.modelPath
		case "backend":
			cfg.Detector.Backend = f.backend
		case "addr":
			cfg.HTTP.Addr = f.addr
		case "log-level":
			cfg.Log.Level = f.logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func main() {
	fs, flags := newFlagSet(os.Args[0])
	_ = fs.Parse(os.Args[1:])

	cfg, err := loadConfig(fs, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("behavior watch failed")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	history, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer history.Close()

	notifier, disconnect, err := openNotifier(ctx, cfg, history)
	if err != nil {
		return err
	}
	defer disconnect()

	dispatcher, err := alert.NewDispatcher(alert.DispatcherConfig{
		SnapshotDir:   cfg.Alert.SnapshotDir,
		ClipDir:       cfg.Alert.ClipDir,
		Workers:       cfg.Alert.Workers,
		QueueSize:     cfg.Alert.QueueSize,
		NotifyTimeout: cfg.Alert.NotifyTimeout,
	}, alert.FileWriter{}, notifier)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	currentLocation := func() string { return location.Unknown }
	if cfg.Location.Enabled {
		poller := location.NewPoller(location.NewIPInfo(cfg.Location.Endpoint, cfg.Location.Timeout), cfg.Location.Interval)
		poller.Start(ctx)
		defer poller.Stop()
		currentLocation = poller.Current
	}

	det, err := openDetector(cfg.Detector)
	if err != nil {
		return err
	}
	defer det.Close()

	locator, err := detector.NewSubjectLocator(det, cfg.Detector.TrackedClass)
	if err != nil {
		return err
	}

	source, description, err := capture.Open(cfg.Source)
	if err != nil {
		return err
	}

	opts := []pipeline.Option{pipeline.WithLocation(currentLocation)}
	if cfg.Profiler.Enabled {
		rp := profiler.NewRuntimeProfiler(profiler.ProfilingOptions{ReportInterval: cfg.Profiler.ReportInterval})
		rp.AddMetricsCollector(dispatcher)
		rp.Start()
		defer rp.Stop()
		opts = append(opts, pipeline.WithMetrics(rp))
	}

	p := pipeline.New(pipeline.ConfigFrom(cfg), source, locator, dispatcher, opts...)

	stream := mjpeg.NewStream()
	mux := http.NewServeMux()
	mux.Handle("/video_feed", stream)
	mux.HandleFunc("/status", statusHandler(p.State(), history, cfg.User.ID, currentLocation))
	mux.HandleFunc("/alerts", alertsHandler(history, cfg.User.ID))

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", cfg.HTTP.Addr).Msg("HTTP server failed")
			stop()
		}
	}()

	printBanner(cfg, description)

	for frame := range p.Frames(ctx) {
		stream.UpdateJPEG(frame)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		// Stream clients hold their connections open until closed.
		server.Close()
	}

	snap := p.State().Snapshot()
	stats := dispatcher.Stats()
	log.Info().
		Int64("frames", snap.FramesProcessed).
		Int("abnormal_events", snap.AbnormalCount).
		Int64("dispatched", stats.Dispatched).
		Int64("dropped", stats.Dropped).
		Msg("behavior watch stopped")
	return nil
}

// openNotifier assembles the alert sinks: the history store always, MQTT and
// email when enabled. The returned func disconnects MQTT.
func openNotifier(ctx context.Context, cfg config.Config, history *store.AlertStore) (alert.Notifier, func(), error) {
	notifiers := notify.Multi{history}
	disconnect := func() {}

	if cfg.Notify.MQTT.Enabled {
		client, err := notify.ConnectMQTT(ctx, cfg.Notify.MQTT)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, notify.NewMQTT(client, cfg.Notify.MQTT.Topic, cfg.Notify.MQTT.QoS))
		disconnect = func() { client.Disconnect(250) }
	}
	if cfg.Notify.Email.Enabled {
		notifiers = append(notifiers, notify.NewEmail(cfg.Notify.Email))
	}
	return notifiers, disconnect, nil
}

func openDetector(cfg config.DetectorConfig) (closingDetector, error) {
	switch cfg.Backend {
	case "ort":
		c := inference.DefaultConfig(cfg.ModelPath)
		c.SharedLibPath = cfg.SharedLibPath
		c.InputSize = cfg.InputSize
		c.ConfidenceThreshold = cfg.Confidence
		c.NMSThreshold = cfg.NMSThreshold
		yolo, err := inference.NewYOLO(c)
		if err != nil {
			return nil, errors.Wrap(err, "ONNX Runtime detector")
		}
		return yolo, nil
	default:
		c := onnx.DefaultConfig(cfg.ModelPath)
		c.InputSize = cfg.InputSize
		c.ConfidenceThreshold = cfg.Confidence
		c.NMSThreshold = cfg.NMSThreshold
		d, err := onnx.New(c)
		if err != nil {
			return nil, errors.Wrap(err, "DNN detector")
		}
		return d, nil
	}
}

func statusHandler(state *pipeline.State, history *store.AlertStore, userID int64, currentLocation func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alerts, err := history.Count(r.Context(), userID)
		if err != nil {
			log.Error().Err(err).Msg("counting alerts")
			http.Error(w, "alert history unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, state.Report(time.Now(), currentLocation(), alerts))
	}
}

func alertsHandler(history *store.AlertStore, userID int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := DefaultAlertsLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		records, err := history.List(r.Context(), userID, limit)
		if err != nil {
			log.Error().Err(err).Msg("listing alerts")
			http.Error(w, "alert history unavailable", http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []store.Record{}
		}
		writeJSON(w, records)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("writing response")
	}
}

func printBanner(cfg config.Config, source string) {
	fmt.Printf("\n🚀 Behavior Watch Started\n")
	fmt.Printf("=====================================\n")
	fmt.Printf("⚙️  Configuration:\n")
	fmt.Printf("   🎥 Input: %s\n", source)
	fmt.Printf("   🤖 Detector: %s (%s)\n", cfg.Detector.Backend, cfg.Detector.ModelPath)
	fmt.Printf("   🎯 Tracked class: %s\n", cfg.Detector.TrackedClass)
	fmt.Printf("   📊 Confidence threshold: %.2f\n", cfg.Detector.Confidence)
	fmt.Printf("   ⏱️  Alert cooldown: %v\n", cfg.Alert.Cooldown)
	fmt.Printf("   💾 Snapshots: %s, clips: %s\n", cfg.Alert.SnapshotDir, cfg.Alert.ClipDir)
	fmt.Printf("   📡 MQTT: %s\n", enabled(cfg.Notify.MQTT.Enabled))
	fmt.Printf("   ✉️  Email: %s\n", enabled(cfg.Notify.Email.Enabled))
	fmt.Printf("   📍 Location: %s\n", enabled(cfg.Location.Enabled))
	fmt.Printf("   📈 Profiling: %s\n", enabled(cfg.Profiler.Enabled))
	fmt.Printf("   🌐 Stream: http://%s/video_feed\n", cfg.HTTP.Addr)
	fmt.Printf("=====================================\n\n")
}

func enabled(on bool) string {
	if on {
		return "✅ Enabled"
	}
	return "❌ Disabled"
}
