package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.opentelemetry.io/otel/trace"

	"github.com/ChamodiJayakody/barcode-app/internal/capture"
	"github.com/ChamodiJayakody/barcode-app/internal/config"
	"github.com/ChamodiJayakody/barcode-app/internal/decoder"
	"github.com/ChamodiJayakody/barcode-app/internal/lookup"
	"github.com/ChamodiJayakody/barcode-app/internal/permission"
	"github.com/ChamodiJayakody/barcode-app/internal/session"
)

// NewSource creates the configured frame source. It is not started.
func NewSource(cfg config.CameraConfig) (capture.Source, error) {
	format, err := capture.ParsePixelFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	switch cfg.Source {
	case "v4l2":
		cam, err := capture.NewCameraStream(capture.CameraConfig{
			Device:                cfg.Device,
			Width:                 cfg.Width,
			Height:                cfg.Height,
			TargetFPS:             cfg.FPS,
			Format:                format,
			MaxReconnectAttempts:  cfg.Reconnect.MaxRetries,
			ReconnectInitialDelay: time.Duration(cfg.Reconnect.InitialDelayMS) * time.Millisecond,
			ReconnectMaxDelay:     time.Duration(cfg.Reconnect.MaxDelayMS) * time.Millisecond,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create camera stream: %w", err)
		}
		slog.Info("using v4l2 camera", "device", cfg.Device, "format", format.String())
		return cam, nil

	case "images":
		imgs, err := capture.NewImageStream(cfg.ImagesDir, cfg.FPS, cfg.Loop)
		if err != nil {
			return nil, fmt.Errorf("failed to create image stream: %w", err)
		}
		slog.Info("using image replay", "dir", cfg.ImagesDir, "loop", cfg.Loop)
		return imgs, nil

	case "mock":
		slog.Info("using mock stream (synthetic frames)")
		return capture.NewMockStream(cfg.Width, cfg.Height, cfg.FPS), nil
	}
	return nil, fmt.Errorf("unknown camera source %q", cfg.Source)
}

// NewDecoder creates the configured decoder. A subprocess decoder is started
// and must be released with the returned stop function.
func NewDecoder(ctx context.Context, cfg config.DecoderConfig) (decoder.Decoder, func() error, error) {
	formats, err := decoder.ParseFormats(cfg.Formats)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Kind {
	case "", "zxing":
		z := decoder.NewZXing(formats, cfg.TryHarder)
		slog.Info("using zxing decoder", "formats", z.Formats(), "try_harder", cfg.TryHarder)
		return z, func() error { return nil }, nil

	case "subprocess":
		sp, err := decoder.NewSubprocess(decoder.SubprocessConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := sp.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to start decoder process: %w", err)
		}
		slog.Info("using subprocess decoder", "command", cfg.Command)
		return sp, sp.Stop, nil
	}
	return nil, nil, fmt.Errorf("unknown decoder kind %q", cfg.Kind)
}

// NewGate builds the camera permission gate. Manual mode needs none.
func NewGate(cfg *config.Config, prompter permission.Prompter) permission.Gate {
	mode, _ := session.ParseMode(cfg.Mode)
	if !mode.UsesCamera() {
		return nil
	}

	switch {
	case cfg.Permission.AutoGrant:
		prompter = permission.AutoPrompter{Answer: true}
	case !cfg.Permission.Prompt:
		prompter = nil
	}

	if cfg.Camera.Source == "v4l2" {
		return permission.NewDeviceGate(cfg.Camera.Device, cfg.Permission.Title, cfg.Permission.Message, prompter)
	}
	return permission.ConsentGate{
		Title:    cfg.Permission.Title,
		Message:  cfg.Permission.Message,
		Prompter: prompter,
	}
}

// remoteLookup is a started MQTT lookup.
type remoteLookup interface {
	session.Lookup
	Stop() error
}

// NewLookup builds the configured lookup. client is required for kind mqtt,
// whose returned lookup is already subscribed.
func NewLookup(ctx context.Context, cfg *config.Config, client mqtt.Client, tracer trace.Tracer) (session.Lookup, error) {
	switch cfg.Lookup.Kind {
	case "mqtt":
		m, err := lookup.NewMQTT(client, lookup.MQTTConfig{
			RequestTopic:  cfg.MQTT.Topics.LookupRequest,
			ResponseTopic: cfg.MQTT.Topics.LookupResponse,
			QoS:           cfg.QoSFor("lookup"),
			Timeout:       time.Duration(cfg.Lookup.TimeoutMS) * time.Millisecond,
			Tracer:        tracer,
		})
		if err != nil {
			return nil, err
		}
		if err := m.Start(ctx); err != nil {
			return nil, err
		}
		return m, nil

	default:
		count := lookup.DefaultCount
		if cfg.Lookup.Count != nil {
			count = *cfg.Lookup.Count
		}
		return lookup.NewBroadcasts(count, cfg.Lookup.Template)
	}
}
