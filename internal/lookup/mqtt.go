package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Request is published to the request topic.
type Request struct {
	RequestID string `json:"request_id"`
	Barcode   string `json:"barcode"`
	ReplyTo   string `json:"reply_to"`
	Timestamp string `json:"timestamp"`
}

// Response is expected on the reply topic.
type Response struct {
	RequestID string   `json:"request_id"`
	Messages  []string `json:"messages"`
	Error     string   `json:"error,omitempty"`
}

// MQTTConfig configures a networked lookup.
type MQTTConfig struct {
	// RequestTopic receives lookup requests (required)
	RequestTopic string
	// ResponseTopic is this client's reply topic (required)
	ResponseTopic string
	QoS           byte
	// Timeout bounds one lookup (default 5s)
	Timeout time.Duration
	// Tracer records one span per lookup. Nil uses a no-op tracer.
	Tracer trace.Tracer
}

// MQTT resolves barcodes through a request/response exchange on a broker.
type MQTT struct {
	client mqtt.Client
	cfg    MQTTConfig
	tracer trace.Tracer

	mu      sync.Mutex
	pending map[string]chan Response
	started bool
}

// NewMQTT validates cfg. Call Start before Lookup.
func NewMQTT(client mqtt.Client, cfg MQTTConfig) (*MQTT, error) {
	if client == nil {
		return nil, fmt.Errorf("lookup: mqtt client is required")
	}
	if cfg.RequestTopic == "" || cfg.ResponseTopic == "" {
		return nil, fmt.Errorf("lookup: request and response topics are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("lookup")
	}
	return &MQTT{
		client:  client,
		cfg:     cfg,
		tracer:  tracer,
		pending: make(map[string]chan Response),
	}, nil
}

// Start subscribes to the response topic.
func (m *MQTT) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("lookup: already started")
	}

	token := m.client.Subscribe(m.cfg.ResponseTopic, m.cfg.QoS, m.handleResponse)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("lookup: subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("lookup: failed to subscribe to %s: %w", m.cfg.ResponseTopic, err)
	}
	m.started = true

	slog.Info("lookup: mqtt lookup ready",
		"request_topic", m.cfg.RequestTopic,
		"response_topic", m.cfg.ResponseTopic,
		"timeout", m.cfg.Timeout,
	)
	return nil
}

// Stop unsubscribes and fails every pending lookup. Idempotent.
func (m *MQTT) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	m.started = false
	m.client.Unsubscribe(m.cfg.ResponseTopic).WaitTimeout(time.Second)
	for id, ch := range m.pending {
		close(ch)
		delete(m.pending, id)
	}
	return nil
}

// Lookup implements Lookup.
func (m *MQTT) Lookup(ctx context.Context, barcode string) (msgs []string, err error) {
	ctx, span := m.tracer.Start(ctx, "lookup.mqtt",
		trace.WithAttributes(
			attribute.String("barcode", barcode),
			attribute.String("request_topic", m.cfg.RequestTopic),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("messages", len(msgs)))
		}
		span.End()
	}()

	id := uuid.NewString()
	span.SetAttributes(attribute.String("request_id", id))
	ch := make(chan Response, 1)

	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil, fmt.Errorf("lookup: not started")
	}
	m.pending[id] = ch
	m.mu.Unlock()
	defer m.forget(id)

	payload, err := json.Marshal(Request{
		RequestID: id,
		Barcode:   barcode,
		ReplyTo:   m.cfg.ResponseTopic,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("lookup: failed to marshal request: %w", err)
	}

	token := m.client.Publish(m.cfg.RequestTopic, m.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return nil, fmt.Errorf("lookup: publish timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("lookup: publish failed: %w", err)
	}

	timer := time.NewTimer(m.cfg.Timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("lookup: stopped")
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("lookup: %s", resp.Error)
		}
		if resp.Messages == nil {
			return []string{}, nil
		}
		return resp.Messages, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *MQTT) forget(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

func (m *MQTT) handleResponse(_ mqtt.Client, msg mqtt.Message) {
	var resp Response
	if err := json.Unmarshal(msg.Payload(), &resp); err != nil {
		slog.Warn("lookup: invalid response payload", "topic", msg.Topic(), "error", err)
		return
	}

	m.mu.Lock()
	ch, ok := m.pending[resp.RequestID]
	if ok {
		delete(m.pending, resp.RequestID)
	}
	m.mu.Unlock()

	if !ok {
		slog.Debug("lookup: response for unknown request", "request_id", resp.RequestID)
		return
	}
	ch <- resp
}
