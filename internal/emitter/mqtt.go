// Package emitter publishes session snapshots and health reports to MQTT.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ChamodiJayakody/barcode-app/internal/session"
)

// Config configures an MQTTEmitter.
type Config struct {
	// SnapshotTopic receives one message per session transition (required)
	SnapshotTopic string
	// HealthTopic receives PublishHealth payloads ("" disables)
	HealthTopic string
	SnapshotQoS byte
	HealthQoS   byte
	// Retain keeps the latest snapshot on the broker for late subscribers
	Retain bool
}

// MQTTEmitter publishes snapshots to an MQTT broker
type MQTTEmitter struct {
	client mqtt.Client
	cfg    Config

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	lastAt    time.Time
}

// NewMQTTEmitter creates a new MQTT emitter on a connected client
func NewMQTTEmitter(client mqtt.Client, cfg Config) (*MQTTEmitter, error) {
	if client == nil {
		return nil, fmt.Errorf("emitter: mqtt client is required")
	}
	if cfg.SnapshotTopic == "" {
		return nil, fmt.Errorf("emitter: snapshot topic is required")
	}
	return &MQTTEmitter{
		client:    client,
		cfg:       cfg,
		published: make(map[string]uint64),
	}, nil
}

// Run publishes every snapshot received on snapshots until ctx is done or
// the channel is closed. Publish failures are logged and counted.
func (e *MQTTEmitter) Run(ctx context.Context, snapshots <-chan session.Snapshot) error {
	slog.Info("emitter: snapshot publisher started", "topic", e.cfg.SnapshotTopic)

	for {
		select {
		case <-ctx.Done():
			slog.Info("emitter: snapshot publisher stopping", "published", e.count(e.cfg.SnapshotTopic))
			return nil

		case snap, ok := <-snapshots:
			if !ok {
				slog.Info("emitter: snapshot channel closed")
				return nil
			}
			if err := e.Publish(snap); err != nil {
				slog.Error("emitter: failed to publish snapshot",
					"version", snap.Version,
					"phase", snap.Phase,
					"error", err,
				)
			}
		}
	}
}

// Publish publishes one snapshot as JSON
func (e *MQTTEmitter) Publish(snap session.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		e.fail()
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := e.send(e.cfg.SnapshotTopic, e.cfg.SnapshotQoS, e.cfg.Retain, payload); err != nil {
		return err
	}

	slog.Debug("emitter: snapshot published",
		"topic", e.cfg.SnapshotTopic,
		"version", snap.Version,
		"phase", snap.Phase,
		"size", len(payload),
	)
	return nil
}

// PublishHealth publishes a health report
func (e *MQTTEmitter) PublishHealth(payload []byte) error {
	if e.cfg.HealthTopic == "" {
		return nil
	}
	return e.send(e.cfg.HealthTopic, e.cfg.HealthQoS, false, payload)
}

func (e *MQTTEmitter) send(topic string, qos byte, retain bool, payload []byte) error {
	if !e.client.IsConnected() {
		e.fail()
		return fmt.Errorf("mqtt not connected")
	}

	token := e.client.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.fail()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.fail()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.lastAt = time.Now()
	e.mu.Unlock()
	return nil
}

func (e *MQTTEmitter) fail() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

func (e *MQTTEmitter) count(topic string) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.published[topic]
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected:       e.client.IsConnected(),
		Published:       published,
		Errors:          e.errors,
		LastPublishedAt: e.lastAt,
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected       bool              `json:"connected"`
	Published       map[string]uint64 `json:"published"`
	Errors          uint64            `json:"errors"`
	LastPublishedAt time.Time         `json:"last_published_at"`
}
