package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChamodiJayakody/barcode-app/internal/capture/internal/v4l2"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// CameraConfig configures a local camera source.
type CameraConfig struct {
	// Device is the V4L2 device node (e.g. "/dev/video0")
	Device string
	// Width and Height of the delivered frames; the pipeline scales to this size
	Width  int
	Height int
	// TargetFPS caps the capture rate (0.1-30)
	TargetFPS float64
	// Format of the delivered frames
	Format PixelFormat

	// Reconnection settings; zero values use defaults (5 retries, 1s → 30s)
	MaxReconnectAttempts  int
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
}

// CameraStream implements Source using a GStreamer v4l2src pipeline.
type CameraStream struct {
	device    string
	width     int
	height    int
	targetFPS float64
	format    PixelFormat

	elements *v4l2.PipelineElements

	frames  chan Frame
	samples chan v4l2.Sample
	mu      sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	frameCount    uint64
	framesDropped uint64
	bytesRead     uint64
	started       time.Time
	lastFrameAt   time.Time

	errorsDevice  uint64
	errorsFormat  uint64
	errorsAccess  uint64
	errorsUnknown uint64

	reconnectState *v4l2.ReconnectState

	framesClosed atomic.Bool
}

// NewCameraStream creates a camera source with fail-fast validation:
//   - device must not be empty
//   - target FPS must be between 0.1 and 30
//   - width and height must be positive, width a multiple of 4 (GRAY8 stride)
//   - GStreamer must be available
func NewCameraStream(cfg CameraConfig) (*CameraStream, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("capture: camera device is required")
	}
	if cfg.TargetFPS < 0.1 || cfg.TargetFPS > 30 {
		return nil, fmt.Errorf("capture: invalid FPS %.2f (must be 0.1-30)", cfg.TargetFPS)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width%4 != 0 {
		return nil, fmt.Errorf("capture: invalid resolution %dx%d (width must be a positive multiple of 4)",
			cfg.Width, cfg.Height)
	}
	if err := checkGStreamerAvailable(); err != nil {
		return nil, fmt.Errorf("capture: GStreamer not available: %w", err)
	}

	reconnectCfg := v4l2.DefaultReconnectConfig()
	if cfg.MaxReconnectAttempts > 0 {
		reconnectCfg.MaxRetries = cfg.MaxReconnectAttempts
	}
	if cfg.ReconnectInitialDelay > 0 {
		reconnectCfg.RetryDelay = cfg.ReconnectInitialDelay
	}
	if cfg.ReconnectMaxDelay > 0 {
		reconnectCfg.MaxRetryDelay = cfg.ReconnectMaxDelay
	}

	s := &CameraStream{
		device:         cfg.Device,
		width:          cfg.Width,
		height:         cfg.Height,
		targetFPS:      cfg.TargetFPS,
		format:         cfg.Format,
		frames:         make(chan Frame, 4),
		reconnectState: v4l2.NewReconnectState(reconnectCfg),
	}

	slog.Info("capture: camera stream created",
		"device", cfg.Device,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"target_fps", cfg.TargetFPS,
		"format", cfg.Format.String(),
	)
	return s, nil
}

// Start builds the pipeline, sets it PLAYING and returns the frame channel.
// Frames arrive asynchronously once the device starts streaming.
func (s *CameraStream) Start(ctx context.Context) (<-chan Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil, fmt.Errorf("capture: stream already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()
	s.samples = make(chan v4l2.Sample, 4)

	if err := s.buildPipelineLocked(); err != nil {
		s.cancel()
		s.cancel = nil
		return nil, err
	}

	localCtx := s.ctx
	samples := s.samples
	s.wg.Add(1)
	go s.forward(localCtx, samples)

	s.wg.Add(1)
	go s.runPipeline()

	slog.Info("capture: camera stream started", "device", s.device)
	return s.frames, nil
}

// forward converts pipeline samples into public frames.
func (s *CameraStream) forward(ctx context.Context, samples <-chan v4l2.Sample) {
	defer s.wg.Done()
	for {
		var sample v4l2.Sample
		select {
		case <-ctx.Done():
			return
		case sample = <-samples:
		}

		frame := Frame{
			Seq:       sample.Seq,
			Timestamp: sample.Timestamp,
			Width:     s.width,
			Height:    s.height,
			Format:    s.format,
			Data:      sample.Data,
			Source:    s.device,
			TraceID:   sample.TraceID,
		}

		s.mu.Lock()
		s.lastFrameAt = time.Now()
		s.mu.Unlock()

		select {
		case s.frames <- frame:
		case <-ctx.Done():
			return
		default:
			atomic.AddUint64(&s.framesDropped, 1)
			slog.Debug("capture: dropping frame, channel full", "seq", frame.Seq, "trace_id", frame.TraceID)
		}
	}
}

func (s *CameraStream) buildPipelineLocked() error {
	elements, err := v4l2.CreatePipeline(v4l2.PipelineConfig{
		Device:    s.device,
		Width:     s.width,
		Height:    s.height,
		TargetFPS: s.targetFPS,
		Format:    s.format.String(),
	})
	if err != nil {
		return fmt.Errorf("capture: failed to create pipeline: %w", err)
	}

	callbackCtx := &v4l2.CallbackContext{
		Samples:       s.samples,
		FrameCounter:  &s.frameCount,
		BytesRead:     &s.bytesRead,
		FramesDropped: &s.framesDropped,
		MinBytes:      s.width * s.height,
	}
	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return v4l2.OnNewSample(sink, callbackCtx)
		},
	})

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		_ = v4l2.DestroyPipeline(elements)
		return fmt.Errorf("capture: failed to start pipeline: %w", err)
	}
	s.elements = elements
	return nil
}

// runPipeline monitors the bus and restarts the pipeline with backoff on failure.
func (s *CameraStream) runPipeline() {
	defer s.wg.Done()

	connect := func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			s.mu.Lock()
			_ = v4l2.DestroyPipeline(s.elements)
			s.elements = nil
			err := s.buildPipelineLocked()
			s.mu.Unlock()
			if err != nil {
				return err
			}
		}
		return s.monitorPipeline(ctx)
	}

	if err := v4l2.RunWithReconnect(s.ctx, connect, s.reconnectState); err != nil {
		slog.Error("capture: camera stopped after reconnection failure",
			"error", err,
			"device", s.device,
			"uptime", time.Since(s.started),
			"frames_processed", atomic.LoadUint64(&s.frameCount),
			"reconnects", atomic.LoadUint32(s.reconnectState.Reconnects),
		)
	}
}

// monitorPipeline polls the pipeline bus. Returns nil on shutdown and an error
// when the pipeline fails.
func (s *CameraStream) monitorPipeline(ctx context.Context) error {
	s.mu.RLock()
	elements := s.elements
	s.mu.RUnlock()
	if elements == nil || elements.Pipeline == nil {
		return fmt.Errorf("pipeline not initialized")
	}

	bus := elements.Pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("capture: end of stream", "device", s.device)
			return fmt.Errorf("end of stream")

		case gst.MessageError:
			gerr := msg.ParseError()
			category := v4l2.ClassifyGStreamerError(gerr)
			switch category {
			case v4l2.ErrCategoryDevice:
				atomic.AddUint64(&s.errorsDevice, 1)
			case v4l2.ErrCategoryFormat:
				atomic.AddUint64(&s.errorsFormat, 1)
			case v4l2.ErrCategoryAccess:
				atomic.AddUint64(&s.errorsAccess, 1)
			default:
				atomic.AddUint64(&s.errorsUnknown, 1)
			}

			slog.Error("capture: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"device", s.device,
				"frames_processed", atomic.LoadUint64(&s.frameCount),
			)
			err := fmt.Errorf("pipeline error [%s]: %s", category, gerr.Error())
			if !category.Retryable() {
				return fmt.Errorf("%w: %w", v4l2.ErrNotRetryable, err)
			}
			return err

		case gst.MessageStateChanged:
			if msg.Source() == elements.Pipeline.GetName() {
				_, newState := msg.ParseStateChanged()
				if newState == gst.StatePlaying {
					v4l2.ResetReconnectState(s.reconnectState)
					slog.Info("capture: pipeline playing", "device", s.device)
				}
			}
		}
	}
}

// Stop shuts the pipeline down and closes the frame channel. Idempotent.
func (s *CameraStream) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	slog.Info("capture: stopping camera stream", "device", s.device)
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("capture: stop timeout exceeded, some goroutines may still be running")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := v4l2.DestroyPipeline(s.elements); err != nil {
		slog.Error("capture: failed to destroy pipeline", "error", err)
	}
	s.elements = nil

	if s.framesClosed.CompareAndSwap(false, true) {
		close(s.frames)
	}

	slog.Info("capture: camera stream stopped",
		"frames_captured", atomic.LoadUint64(&s.frameCount),
		"reconnects", atomic.LoadUint32(s.reconnectState.Reconnects),
		"uptime", time.Since(s.started),
	)

	s.cancel = nil
	s.ctx = nil
	s.frames = make(chan Frame, 4)
	s.framesClosed.Store(false)
	return nil
}

// Stats returns current stream statistics.
func (s *CameraStream) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := atomic.LoadUint64(&s.frameCount)
	dropped := atomic.LoadUint64(&s.framesDropped)

	var fpsReal float64
	if !s.started.IsZero() {
		if uptime := time.Since(s.started).Seconds(); uptime > 0 {
			fpsReal = float64(count) / uptime
		}
	}
	var latencyMS int64
	if !s.lastFrameAt.IsZero() {
		latencyMS = time.Since(s.lastFrameAt).Milliseconds()
	}

	return Stats{
		FrameCount:    count,
		FramesDropped: dropped,
		DropRate:      dropRate(count, dropped),
		FPSTarget:     s.targetFPS,
		FPSReal:       fpsReal,
		LatencyMS:     latencyMS,
		Source:        s.device,
		Resolution:    fmt.Sprintf("%dx%d", s.width, s.height),
		Reconnects:    atomic.LoadUint32(s.reconnectState.Reconnects),
		BytesRead:     atomic.LoadUint64(&s.bytesRead),
		IsConnected:   s.elements != nil && s.cancel != nil,
		ErrorsDevice:  atomic.LoadUint64(&s.errorsDevice),
		ErrorsFormat:  atomic.LoadUint64(&s.errorsFormat),
		ErrorsAccess:  atomic.LoadUint64(&s.errorsAccess),
		ErrorsUnknown: atomic.LoadUint64(&s.errorsUnknown),
	}
}

// checkGStreamerAvailable verifies GStreamer can create elements.
func checkGStreamerAvailable() error {
	gst.Init(nil)
	if _, err := gst.NewElement("fakesrc"); err != nil {
		return fmt.Errorf("cannot create test element: %w", err)
	}
	return nil
}
