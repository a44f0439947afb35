// Package config - YAML configuration for the behavior watch daemon.
package config

import (
	"os"
	"time"

	"github.com/nvr-ai/go-behavior/behavior"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	Source     SourceConfig              `yaml:"source"`
	Detector   DetectorConfig            `yaml:"detector"`
	Motion     behavior.MotionConfig     `yaml:"motion"`
	Classifier behavior.ClassifierConfig `yaml:"classifier"`
	Alert      AlertConfig               `yaml:"alert"`
	Location   LocationConfig            `yaml:"location"`
	Notify     NotifyConfig              `yaml:"notify"`
	Store      StoreConfig               `yaml:"store"`
	HTTP       HTTPConfig                `yaml:"http"`
	Log        LogConfig                 `yaml:"log"`
	Profiler   ProfilerConfig            `yaml:"profiler"`
	User       UserConfig                `yaml:"user"`
}

// SourceConfig selects the video input.
//
// Exactly one of Video, Directory or Device is used, in that order of
// preference. A negative Device probes indices 0..ProbeDevices-1.
type SourceConfig struct {
	Video        string  `yaml:"video"`
	Directory    string  `yaml:"directory"`
	DirectoryFPS float64 `yaml:"directory_fps"`
	Device       int     `yaml:"device"`
	ProbeDevices int     `yaml:"probe_devices"`
}

// DetectorConfig selects and tunes the object detector backend.
type DetectorConfig struct {
	// Backend is "dnn" (OpenCV DNN) or "ort" (ONNX Runtime).
	Backend       string  `yaml:"backend"`
	ModelPath     string  `yaml:"model_path"`
	InputSize     int     `yaml:"input_size"`
	Confidence    float32 `yaml:"confidence"`
	NMSThreshold  float32 `yaml:"nms_threshold"`
	TrackedClass  string  `yaml:"tracked_class"`
	SharedLibPath string  `yaml:"shared_lib_path"`
}

// AlertConfig tunes the trigger, the frame ring and the dispatch workers.
type AlertConfig struct {
	Cooldown      time.Duration `yaml:"cooldown"`
	BufferSeconds float64       `yaml:"buffer_seconds"`
	FallbackFPS   float64       `yaml:"fallback_fps"`
	SnapshotDir   string        `yaml:"snapshot_dir"`
	ClipDir       string        `yaml:"clip_dir"`
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	NotifyTimeout time.Duration `yaml:"notify_timeout"`
}

// LocationConfig configures the IP geolocation poller.
type LocationConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NotifyConfig configures the outbound alert sinks.
type NotifyConfig struct {
	MQTT  MQTTConfig  `yaml:"mqtt"`
	Email EmailConfig `yaml:"email"`
}

// MQTTConfig contains MQTT broker settings.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// EmailConfig contains SMTP settings for alert emails.
type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	SSLPort  int      `yaml:"ssl_port"`
	TLSPort  int      `yaml:"tls_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// StoreConfig locates the alert history database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig configures the status and stream endpoints.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// ProfilerConfig configures the runtime profiler reports.
type ProfilerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// UserConfig is the opaque user context attached to every alert.
type UserConfig struct {
	ID    int64  `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// Default returns the reference configuration.
//
// Returns:
//   - Config: A configuration that passes Validate once a model path is set.
//
// @example
// cfg := config.Default()
// cfg.Detector.ModelPath = "yolov8n.onnx"
func Default() Config {
	return Config{
		Source: SourceConfig{
			Device:       -1,
			ProbeDevices: 5,
			DirectoryFPS: 20,
		},
		Detector: DetectorConfig{
			Backend:      "dnn",
			ModelPath:    "yolov8n.onnx",
			InputSize:    640,
			Confidence:   0.5,
			NMSThreshold: 0.45,
			TrackedClass: "dog",
		},
		Motion:     behavior.DefaultMotionConfig(),
		Classifier: behavior.DefaultClassifierConfig(),
		Alert: AlertConfig{
			Cooldown:      60 * time.Second,
			BufferSeconds: 5,
			FallbackFPS:   20,
			SnapshotDir:   "snapshots",
			ClipDir:       "clips",
			Workers:       2,
			QueueSize:     4,
			NotifyTimeout: 30 * time.Second,
		},
		Location: LocationConfig{
			Enabled:  true,
			Endpoint: "https://ipinfo.io/json",
			Interval: 30 * time.Second,
			Timeout:  3 * time.Second,
		},
		Notify: NotifyConfig{
			MQTT: MQTTConfig{
				Broker:   "tcp://localhost:1883",
				ClientID: "go-behavior",
				Topic:    "behavior/alerts",
				QoS:      1,
			},
			Email: EmailConfig{
				Host:    "smtp.gmail.com",
				SSLPort: 465,
				TLSPort: 587,
			},
		},
		Store:    StoreConfig{Path: "alerts.db"},
		HTTP:     HTTPConfig{Addr: ":8080"},
		Log:      LogConfig{Level: "info"},
		Profiler: ProfilerConfig{ReportInterval: 10 * time.Second},
	}
}

// Load reads a YAML file over the defaults and validates the result.
//
// Keys missing from the file keep their default values.
//
// Arguments:
//   - path: Path to the YAML file.
//
// Returns:
//   - *Config: The merged configuration.
//   - error: Read, parse or validation failure.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return &cfg, nil
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	switch c.Detector.Backend {
	case "dnn", "ort":
	default:
		return errors.Errorf("detector.backend must be dnn or ort, got %q", c.Detector.Backend)
	}
	if c.Detector.ModelPath == "" {
		return errors.New("detector.model_path is required")
	}
	if c.Detector.TrackedClass == "" {
		return errors.New("detector.tracked_class is required")
	}
	if c.Detector.Confidence <= 0 || c.Detector.Confidence > 1 {
		return errors.Errorf("detector.confidence must be in (0, 1], got %v", c.Detector.Confidence)
	}
	if c.Detector.InputSize <= 0 {
		return errors.Errorf("detector.input_size must be positive, got %d", c.Detector.InputSize)
	}

	if c.Motion.Alpha < 0 || c.Motion.Alpha > 1 {
		return errors.Errorf("motion.alpha must be in [0, 1], got %v", c.Motion.Alpha)
	}

	cl := c.Classifier
	if cl.Window <= 0 || cl.StatusHistory <= 0 || cl.MotionHistory <= 0 {
		return errors.New("classifier window and history sizes must be positive")
	}
	if cl.Window > cl.MotionHistory {
		return errors.Errorf("classifier.window (%d) exceeds motion_history (%d)", cl.Window, cl.MotionHistory)
	}

	if c.Alert.Cooldown < 0 {
		return errors.Errorf("alert.cooldown must not be negative, got %v", c.Alert.Cooldown)
	}
	if c.Alert.BufferSeconds <= 0 {
		return errors.Errorf("alert.buffer_seconds must be positive, got %v", c.Alert.BufferSeconds)
	}
	if c.Alert.FallbackFPS <= 0 {
		return errors.Errorf("alert.fallback_fps must be positive, got %v", c.Alert.FallbackFPS)
	}
	if c.Alert.Workers <= 0 || c.Alert.QueueSize <= 0 {
		return errors.New("alert.workers and alert.queue_size must be positive")
	}

	if c.Location.Enabled && c.Location.Interval <= 0 {
		return errors.Errorf("location.interval must be positive, got %v", c.Location.Interval)
	}

	if c.Notify.MQTT.Enabled && c.Notify.MQTT.Broker == "" {
		return errors.New("notify.mqtt.broker is required when mqtt is enabled")
	}
	if c.Notify.Email.Enabled {
		if c.Notify.Email.Host == "" || c.Notify.Email.From == "" || len(c.Notify.Email.To) == 0 {
			return errors.New("notify.email requires host, from and at least one recipient")
		}
	}

	return nil
}
