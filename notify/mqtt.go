package notify

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nvr-ai/go-behavior/alert"
	"github.com/nvr-ai/go-behavior/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Publisher is the part of mqtt.Client used for alerts.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Payload is the JSON document published for each alert.
type Payload struct {
	ID           string    `json:"id"`
	Time         time.Time `json:"time"`
	Behavior     string    `json:"behavior"`
	Location     string    `json:"location"`
	SnapshotPath string    `json:"snapshot_path,omitempty"`
	ClipPath     string    `json:"clip_path,omitempty"`
	UserID       int64     `json:"user_id"`
	UserName     string    `json:"user_name,omitempty"`
}

// MQTT publishes alerts as JSON to a broker topic.
type MQTT struct {
	client Publisher
	topic  string
	qos    byte
}

// NewMQTT wraps an existing publisher.
func NewMQTT(client Publisher, topic string, qos byte) *MQTT {
	return &MQTT{client: client, topic: topic, qos: qos}
}

// ConnectMQTT connects to the configured broker with automatic reconnects.
//
// Arguments:
//   - ctx: Bounds the initial connection attempt.
//   - cfg: Broker settings.
//
// Returns:
//   - mqtt.Client: The connected client. Call Disconnect when done.
//   - error: The broker could not be reached in time.
func ConnectMQTT(ctx context.Context, cfg config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Str("client_id", cfg.ClientID).Msg("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost, will auto-reconnect")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrap(err, "mqtt connection failed")
	}
	return client, nil
}

// Notify publishes the alert and waits for the broker acknowledgement.
func (m *MQTT) Notify(ctx context.Context, a alert.Alert) error {
	payload, err := json.Marshal(Payload{
		ID:           a.ID,
		Time:         a.Time,
		Behavior:     a.Behavior,
		Location:     a.Location,
		SnapshotPath: a.SnapshotPath,
		ClipPath:     a.ClipPath,
		UserID:       a.User.ID,
		UserName:     a.User.Name,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal alert")
	}

	token := m.client.Publish(m.topic, m.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "publish timeout")
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, "publish failed")
	}

	log.Debug().Str("topic", m.topic).Int("size", len(payload)).Str("alert_id", a.ID).Msg("alert published")
	return nil
}
