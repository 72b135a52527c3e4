// Package mqttconn opens the shared MQTT client used by the lookup, the
// snapshot emitter and the control plane.
package mqttconn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config configures the broker connection.
type Config struct {
	// Broker is host:port or a full URL (tcp://, ssl://, ws://)
	Broker   string
	ClientID string
	Username string
	Password string

	// ConnectTimeout bounds a single connect attempt (default 5s)
	ConnectTimeout time.Duration
	// InitialInterval is the first retry delay (default 1s)
	InitialInterval time.Duration
	// MaxElapsed gives up the initial connection after this long (default 1m)
	MaxElapsed time.Duration
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = time.Minute
	}
}

// BrokerURL adds a tcp:// scheme to a bare host:port.
func BrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Options builds the paho client options. Auto-reconnect is on once the
// first connection succeeds.
func Options(cfg Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)

	opts.OnConnect = func(mqtt.Client) {
		slog.Info("mqtt: connection established",
			"broker", cfg.Broker,
			"client_id", cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt: connection lost, will auto-reconnect",
			"error", err,
			"broker", cfg.Broker,
		)
	}
	return opts
}

// Connect dials the broker, retrying with exponential backoff until it
// succeeds, MaxElapsed passes, or ctx is cancelled.
func Connect(ctx context.Context, cfg Config) (mqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("mqtt: client id is required")
	}
	cfg.setDefaults()

	client := mqtt.NewClient(Options(cfg))

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = cfg.InitialInterval
	expBackoff.MaxInterval = 15 * time.Second
	expBackoff.MaxElapsedTime = cfg.MaxElapsed

	operation := func() error {
		token := client.Connect()
		if !token.WaitTimeout(cfg.ConnectTimeout) {
			return fmt.Errorf("connect timeout after %s", cfg.ConnectTimeout)
		}
		return token.Error()
	}
	notify := func(err error, next time.Duration) {
		slog.Warn("mqtt: connect failed, retrying",
			"broker", cfg.Broker,
			"error", err,
			"retry_in", next,
		)
	}

	slog.Info("mqtt: connecting", "broker", cfg.Broker, "client_id", cfg.ClientID)
	if err := backoff.RetryNotify(operation, backoff.WithContext(expBackoff, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("mqtt: failed to connect to %s after retries: %w", cfg.Broker, err)
	}
	return client, nil
}

// Disconnect closes client with a 250ms grace period. Nil-safe.
func Disconnect(client mqtt.Client) {
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		slog.Info("mqtt: disconnected")
	}
}
