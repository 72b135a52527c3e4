// Package control drives the scan session from JSON commands received over MQTT.
//
// Each command is acknowledged on the reply topic with a Response carrying
// the command name, a status ("success" or "error") and optional data.
package control

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

// Command represents a control plane command
type Command struct {
	Command   string                 `json:"command"`
	RequestID string                 `json:"request_id,omitempty"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	RequestID  string                 `json:"request_id,omitempty"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Session is the part of session.Machine the handler drives.
type Session interface {
	Send(ctx context.Context, ev session.Event) error
	Snapshot() session.Snapshot
}

// CommandCallbacks contains optional callbacks for non-session commands
type CommandCallbacks struct {
	OnGetStatus func() map[string]interface{}
	OnSetMaxFPS func(float64) error
	OnShutdown  func() error
}

// Config configures a Handler.
type Config struct {
	Topic      string // commands are read here (required)
	ReplyTopic string // responses are published here (required)
	QoS        byte
	// SendTimeout bounds handing one event to the session (default 2s)
	SendTimeout time.Duration
}

// Handler handles control plane commands
type Handler struct {
	cfg       Config
	client    mqtt.Client
	session   Session
	callbacks CommandCallbacks
	commands  chan Command

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	handled uint64
	dropped uint64
}

// NewHandler creates a new control plane handler
func NewHandler(client mqtt.Client, sess Session, cfg Config, callbacks CommandCallbacks) (*Handler, error) {
	if client == nil || sess == nil {
		return nil, fmt.Errorf("control: mqtt client and session are required")
	}
	if cfg.Topic == "" || cfg.ReplyTopic == "" {
		return nil, fmt.Errorf("control: command and reply topics are required")
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Second
	}
	return &Handler{
		cfg:       cfg,
		client:    client,
		session:   sess,
		callbacks: callbacks,
		commands:  make(chan Command, 10),
	}, nil
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return fmt.Errorf("control: handler already started")
	}

	slog.Info("control: subscribing to control plane", "topic", h.cfg.Topic, "qos", h.cfg.QoS)

	token := h.client.Subscribe(h.cfg.Topic, h.cfg.QoS, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go h.processCommands(ctx)

	slog.Info("control: handler started", "reply_topic", h.cfg.ReplyTopic)
	return nil
}

// Stop unsubscribes and waits for the command loop. Idempotent.
func (h *Handler) Stop() error {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()
	if cancel == nil {
		return nil
	}

	if h.client.IsConnected() {
		h.client.Unsubscribe(h.cfg.Topic).WaitTimeout(time.Second)
	}
	cancel()
	h.wg.Wait()

	h.mu.Lock()
	handled, dropped := h.handled, h.dropped
	h.mu.Unlock()
	slog.Info("control: handler stopped", "handled", handled, "dropped", dropped)
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control: command received", "command", cmd.Command, "request_id", cmd.RequestID)

	select {
	case h.commands <- cmd:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
		h.sendResponse(Response{
			CommandAck: cmd.Command,
			RequestID:  cmd.RequestID,
			Status:     "error",
			Error:      "command queue full",
		})
	}
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.handleCommand(ctx, cmd)
			h.mu.Lock()
			h.handled++
			h.mu.Unlock()
		}
	}
}

// handleCommand executes a command and publishes its acknowledgement
func (h *Handler) handleCommand(ctx context.Context, cmd Command) {
	resp := Response{CommandAck: cmd.Command, RequestID: cmd.RequestID, Status: "success"}

	fail := func(err error) {
		resp.Status = "error"
		resp.Error = err.Error()
	}

	switch cmd.Command {
	case "start_scan":
		if err := h.send(ctx, session.StartScan{}); err != nil {
			fail(err)
		}

	case "submit_barcode":
		barcode, ok := cmd.Params["barcode"].(string)
		if !ok {
			fail(fmt.Errorf("params.barcode (string) is required"))
			break
		}
		if err := h.send(ctx, session.SubmitBarcode{Text: barcode}); err != nil {
			fail(err)
		}

	case "input_changed":
		text, _ := cmd.Params["text"].(string)
		if err := h.send(ctx, session.InputChanged{Text: text}); err != nil {
			fail(err)
		}

	case "go_home":
		if err := h.send(ctx, session.GoHome{}); err != nil {
			fail(err)
		}

	case "scan_another":
		if err := h.send(ctx, session.ScanAnother{}); err != nil {
			fail(err)
		}

	case "request_permission":
		if err := h.send(ctx, session.RequestPermission{}); err != nil {
			fail(err)
		}

	case "get_status":
		resp.Data = map[string]interface{}{"snapshot": h.session.Snapshot()}
		if h.callbacks.OnGetStatus != nil {
			for k, v := range h.callbacks.OnGetStatus() {
				resp.Data[k] = v
			}
		}

	case "set_max_fps":
		if h.callbacks.OnSetMaxFPS == nil {
			fail(fmt.Errorf("set_max_fps not implemented"))
			break
		}
		fps, ok := cmd.Params["fps"].(float64)
		if !ok {
			fail(fmt.Errorf("params.fps (number) is required"))
			break
		}
		if err := h.callbacks.OnSetMaxFPS(fps); err != nil {
			fail(err)
			break
		}
		resp.Data = map[string]interface{}{"max_fps": fps}

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			fail(fmt.Errorf("shutdown not implemented"))
			break
		}
		// Acknowledge before tearing down the client.
		h.sendResponse(resp)
		go func() {
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("control: shutdown callback failed", "error", err)
			}
		}()
		return

	default:
		fail(fmt.Errorf("unknown command: %s", cmd.Command))
	}

	h.sendResponse(resp)
}

func (h *Handler) send(ctx context.Context, ev session.Event) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.SendTimeout)
	defer cancel()
	return h.session.Send(ctx, ev)
}

// sendResponse publishes a response on the reply topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.cfg.ReplyTopic, h.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("control: response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("control: failed to publish response", "error", err)
		return
	}

	slog.Debug("control: response sent",
		"command_ack", resp.CommandAck,
		"status", resp.Status,
		"error", resp.Error,
	)
}
