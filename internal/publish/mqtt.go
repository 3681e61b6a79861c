package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"genwatch/internal/logging"
	"genwatch/internal/monitor"
)

const (
	mqttQoS         = 1
	mqttWaitTimeout = 5 * time.Second
	mqttQuiesceMS   = 250
)

var ErrPublishTimeout = errors.New("publish timed out")

// MQTTConfig describes the broker connection.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic is the prefix; state goes to <Topic>/state, events to <Topic>/event.
	Topic  string
	Logger *slog.Logger
}

// MQTTPublisher keeps a retained ON/OFF state topic and emits one JSON event per change.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	logger *slog.Logger
}

// NewMQTT connects to the broker. The client reconnects on its own afterwards.
func NewMQTT(cfg MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	logger := logging.Component(cfg.Logger, "mqtt")
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("connection lost", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Broker, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Broker, err)
	}
	logger.Info("connected", "broker", cfg.Broker, "topic", cfg.Topic)
	return NewMQTTWithClient(client, cfg.Topic, cfg.Logger), nil
}

// NewMQTTWithClient wraps an existing client.
func NewMQTTWithClient(client mqtt.Client, topic string, logger *slog.Logger) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic, logger: logging.Component(logger, "mqtt")}
}

func (p *MQTTPublisher) StateTopic() string { return p.topic + "/state" }
func (p *MQTTPublisher) EventTopic() string { return p.topic + "/event" }

// Publish implements monitor.Publisher.
func (p *MQTTPublisher) Publish(ctx context.Context, change monitor.StateChange) error {
	payload, err := encode(change)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.send(ctx, p.StateTopic(), true, []byte(change.To)); err != nil {
		return err
	}
	return p.send(ctx, p.EventTopic(), false, payload)
}

func (p *MQTTPublisher) send(ctx context.Context, topic string, retained bool, payload []byte) error {
	token := p.client.Publish(topic, mqttQoS, retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttWaitTimeout):
		return fmt.Errorf("%s: %w", topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	p.logger.Debug("published", "topic", topic, "bytes", len(payload))
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(mqttQuiesceMS)
	return nil
}
