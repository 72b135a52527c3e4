// Package app wires the scan session, its frame pipeline and its outer
// surfaces (terminal UI, line entry, MQTT, HTTP) into one service.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/ChamodiJayakody/barcode-app/internal/capture"
	"github.com/ChamodiJayakody/barcode-app/internal/config"
	"github.com/ChamodiJayakody/barcode-app/internal/control"
	"github.com/ChamodiJayakody/barcode-app/internal/emitter"
	"github.com/ChamodiJayakody/barcode-app/internal/httpapi"
	"github.com/ChamodiJayakody/barcode-app/internal/manual"
	"github.com/ChamodiJayakody/barcode-app/internal/mqttconn"
	"github.com/ChamodiJayakody/barcode-app/internal/permission"
	"github.com/ChamodiJayakody/barcode-app/internal/session"
	"github.com/ChamodiJayakody/barcode-app/internal/snapbus"
	"github.com/ChamodiJayakody/barcode-app/internal/throttle"
	"github.com/ChamodiJayakody/barcode-app/internal/tui"
)

// Options selects the interactive surface.
type Options struct {
	// UI runs the terminal UI. Otherwise manual.stdin decides whether lines
	// are read from Stdin.
	UI     bool
	Stdin  io.Reader
	Stderr io.Writer
}

// healthInterval is the period of MQTT health reports.
const healthInterval = 30 * time.Second

// Scand is the main service orchestrator
type Scand struct {
	cfg  *config.Config
	opts Options
	mode session.Mode

	// Core components
	source   capture.Source
	throttle throttle.Throttle
	machine  *session.Machine
	bus      *snapbus.Bus[session.Snapshot]
	gate     permission.Gate
	prompter *tui.Prompter

	// MQTT components (nil when no broker is configured)
	client         mqtt.Client
	emitter        *emitter.MQTTEmitter
	controlHandler *control.Handler

	stopDecoder func() error
	stopLookup  func() error

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	runCalled bool
	isRunning bool
	cancelCtx context.CancelFunc // For the MQTT shutdown command
}

// New validates the interactive wiring and prepares the service. Nothing is
// opened until Run.
func New(cfg *config.Config, opts Options) (*Scand, error) {
	mode, err := session.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	s := &Scand{
		cfg:  cfg,
		opts: opts,
		mode: mode,
		bus:  snapbus.New[session.Snapshot](),
	}

	var prompter permission.Prompter
	switch {
	case opts.UI:
		s.prompter = tui.NewPrompter()
		prompter = s.prompter
	case cfg.Permission.Prompt && !cfg.Permission.AutoGrant && s.readsStdin():
		return nil, fmt.Errorf("permission.prompt needs the terminal UI or manual.stdin disabled")
	default:
		prompter = permission.TerminalPrompter{In: opts.Stdin, Out: opts.Stderr}
	}
	s.gate = NewGate(cfg, prompter)

	if mode.UsesCamera() {
		src, err := NewSource(cfg.Camera)
		if err != nil {
			return nil, err
		}
		s.source = src
	}

	slog.Info("scand configured",
		"instance_id", cfg.InstanceID,
		"mode", mode.String(),
		"ui", opts.UI,
		"mqtt", cfg.MQTTEnabled(),
		"http", cfg.HTTP.Addr,
	)
	return s, nil
}

// readsStdin reports whether line entry owns standard input.
func (s *Scand) readsStdin() bool {
	return !s.opts.UI && s.cfg.Manual.Stdin && s.mode.AllowsManual()
}

// Run starts every component and blocks until ctx is cancelled, the UI is
// closed or a component fails. Components are stopped before it returns.
func (s *Scand) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.runCalled {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.runCalled = true
	s.started = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	s.cancelCtx = cancel
	s.mu.Unlock()
	defer cancel()
	defer s.shutdown()

	slog.Info("scand service starting", "instance_id", s.cfg.InstanceID)

	if err := s.start(ctx); err != nil {
		return err
	}

	// Components are only read by other goroutines once isRunning is set.
	s.mu.Lock()
	s.isRunning = true
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.machine.Run(gctx) })

	if s.source != nil {
		frames, err := s.source.Start(gctx)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("failed to start frame source: %w", err)
		}
		g.Go(func() error {
			s.feedFrames(gctx, s.warmup(gctx, frames))
			return nil
		})
	}

	if s.emitter != nil {
		snapshots := make(chan session.Snapshot, 32)
		if err := s.bus.Subscribe("mqtt", snapshots); err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("failed to subscribe emitter: %w", err)
		}
		g.Go(func() error { return s.emitter.Run(gctx, snapshots) })
		g.Go(func() error {
			s.publishHealth(gctx)
			return nil
		})
	}

	if s.cfg.HTTP.Addr != "" {
		srv, err := httpapi.New(httpapi.Config{
			Addr:    s.cfg.HTTP.Addr,
			Session: s.machine,
			Bus:     s.bus,
			Health:  s,
		})
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		g.Go(func() error { return srv.Run(gctx) })
	}

	switch {
	case s.opts.UI:
		g.Go(func() error {
			defer cancel()
			return tui.Run(gctx, tui.Config{
				Session:  s.machine,
				Bus:      s.bus,
				Prompter: s.prompter,
			})
		})
	case s.readsStdin():
		entry, err := manual.New(s.machine, manual.Config{AutoStart: s.cfg.Manual.AutoStart})
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		g.Go(func() error { return entry.Run(gctx, s.opts.Stdin) })
	}

	slog.Info("scand service running",
		"session_id", s.machine.SessionID(),
		"camera", s.source != nil,
	)

	err := g.Wait()
	slog.Info("scand service run loop exiting")
	return err
}

// start builds the components that need I/O before the loops can run.
func (s *Scand) start(ctx context.Context) error {
	tracer := otel.Tracer("scand")

	if s.cfg.MQTTEnabled() {
		client, err := mqttconn.Connect(ctx, mqttconn.Config{
			Broker:   s.cfg.MQTT.Broker,
			ClientID: s.cfg.MQTT.ClientID,
			Username: s.cfg.MQTT.Username,
			Password: s.cfg.MQTT.Password,
		})
		if err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}
		s.client = client

		s.emitter, err = emitter.NewMQTTEmitter(client, emitter.Config{
			SnapshotTopic: s.cfg.MQTT.Topics.Snapshots,
			HealthTopic:   s.cfg.MQTT.Topics.Health,
			SnapshotQoS:   s.cfg.QoSFor("snapshots"),
			HealthQoS:     s.cfg.QoSFor("health"),
			Retain:        true,
		})
		if err != nil {
			return err
		}
	}

	lk, err := NewLookup(ctx, s.cfg, s.client, tracer)
	if err != nil {
		return fmt.Errorf("failed to create lookup: %w", err)
	}
	if rl, ok := lk.(remoteLookup); ok {
		s.stopLookup = rl.Stop
	}

	s.machine, err = session.New(session.Config{
		Mode:        s.mode,
		SettleDelay: s.cfg.SettleDelay(),
		Permission:  s.gate,
		Lookup:      lk,
		Publisher:   s.bus,
	})
	if err != nil {
		return err
	}

	if s.source != nil {
		dec, stop, err := NewDecoder(ctx, s.cfg.Decoder)
		if err != nil {
			return fmt.Errorf("failed to create decoder: %w", err)
		}
		s.stopDecoder = stop

		s.throttle = throttle.New(throttle.Config{MaxFPS: s.cfg.Throttle.MaxFPS, Tracer: tracer}, dec, s.machine)
		if err := s.throttle.Start(ctx); err != nil {
			return fmt.Errorf("failed to start throttle: %w", err)
		}
	}

	if s.client != nil {
		s.controlHandler, err = control.NewHandler(s.client, s.machine, control.Config{
			Topic:      s.cfg.MQTT.Topics.Control,
			ReplyTopic: s.cfg.MQTT.Topics.ControlReply,
			QoS:        s.cfg.QoSFor("control"),
		}, control.CommandCallbacks{
			OnGetStatus: s.getStatus,
			OnSetMaxFPS: s.setMaxFPS,
			OnShutdown:  s.shutdownViaControl,
		})
		if err != nil {
			return err
		}
		if err := s.controlHandler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}
	}
	return nil
}

// warmup measures the source rate for the configured duration. The frames
// consumed here never reach the decoder.
func (s *Scand) warmup(ctx context.Context, frames <-chan capture.Frame) <-chan capture.Frame {
	d := time.Duration(s.cfg.Camera.WarmupS) * time.Second
	if d <= 0 {
		return frames
	}

	stats, err := capture.Warmup(ctx, frames, d)
	if stats == nil {
		slog.Warn("source warm-up failed, continuing without FPS stats", "error", err)
		return frames
	}
	if err != nil {
		slog.Warn("source unstable during warm-up",
			"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
			"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
			"error", err,
		)
	}
	if stats.FPSMean > 0 && stats.FPSMean < s.cfg.Throttle.MaxFPS {
		slog.Info("decode cap exceeds measured source rate",
			"max_fps", s.cfg.Throttle.MaxFPS,
			"source_fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		)
	}
	return frames
}

// shutdown stops components in dependency order.
func (s *Scand) shutdown() {
	slog.Info("shutting down scand service")

	// 1. Stop decoding FIRST (it consumes source frames)
	if s.throttle != nil {
		if err := s.throttle.Stop(); err != nil {
			slog.Error("failed to stop throttle", "error", err)
		}
	}
	if s.source != nil {
		slog.Info("stopping frame source")
		if err := s.source.Stop(); err != nil {
			slog.Error("failed to stop frame source", "error", err)
		}
	}
	if s.stopDecoder != nil {
		if err := s.stopDecoder(); err != nil {
			slog.Error("failed to stop decoder", "error", err)
		}
	}

	// 2. Stop the control plane and the remote lookup
	if s.controlHandler != nil {
		if err := s.controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}
	if s.stopLookup != nil {
		if err := s.stopLookup(); err != nil {
			slog.Error("failed to stop lookup", "error", err)
		}
	}

	// 3. Close the bus, then disconnect MQTT
	if err := s.bus.Close(); err != nil {
		slog.Warn("failed to close snapshot bus", "error", err)
	}
	if s.client != nil {
		mqttconn.Disconnect(s.client)
	}

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("scand service shutdown complete", "uptime", uptime)
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (s *Scand) ShutdownTimeout() time.Duration {
	if t := s.cfg.ShutdownTimeout(); t > 0 {
		return t
	}
	return 5 * time.Second
}
