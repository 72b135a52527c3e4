package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStream generates blank synthetic GRAY8 frames at a fixed rate.
type MockStream struct {
	width  int
	height int
	fps    float64
	source string

	framesCh chan Frame
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu            sync.RWMutex
	seq           uint64
	framesEmitted uint64
	framesDropped uint64
	startTime     time.Time
}

// NewMockStream creates a new mock source.
func NewMockStream(width, height int, fps float64) *MockStream {
	if fps <= 0 {
		fps = 5
	}
	return &MockStream{
		width:  width,
		height: height,
		fps:    fps,
		source: "mock",
	}
}

// Start begins generating frames.
func (m *MockStream) Start(ctx context.Context) (<-chan Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return nil, fmt.Errorf("capture: stream already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.startTime = time.Now()
	m.framesCh = make(chan Frame, 4)

	slog.Info("capture: mock stream starting", "width", m.width, "height", m.height, "fps", m.fps)

	m.wg.Add(1)
	go m.generateFrames(runCtx, m.framesCh)
	return m.framesCh, nil
}

// Stop stops the generator and closes the frame channel. Idempotent.
func (m *MockStream) Stop() error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	m.wg.Wait()

	m.mu.RLock()
	slog.Info("capture: mock stream stopped",
		"frames_emitted", m.framesEmitted,
		"duration", time.Since(m.startTime),
	)
	m.mu.RUnlock()
	return nil
}

// Stats returns generator statistics.
func (m *MockStream) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var fpsReal float64
	if m.cancel != nil && m.framesEmitted > 0 {
		if elapsed := time.Since(m.startTime).Seconds(); elapsed > 0 {
			fpsReal = float64(m.framesEmitted) / elapsed
		}
	}
	return Stats{
		FrameCount:    m.framesEmitted,
		FramesDropped: m.framesDropped,
		DropRate:      dropRate(m.framesEmitted, m.framesDropped),
		FPSTarget:     m.fps,
		FPSReal:       fpsReal,
		Source:        m.source,
		Resolution:    fmt.Sprintf("%dx%d", m.width, m.height),
		IsConnected:   m.cancel != nil,
	}
}

func (m *MockStream) generateFrames(ctx context.Context, out chan Frame) {
	defer m.wg.Done()
	defer close(out)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / m.fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := m.createFrame()
			select {
			case out <- frame:
				m.mu.Lock()
				m.framesEmitted++
				m.mu.Unlock()
			default:
				m.mu.Lock()
				m.framesDropped++
				m.mu.Unlock()
			}
		}
	}
}

func (m *MockStream) createFrame() Frame {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	return Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     m.width,
		Height:    m.height,
		Format:    FormatGray8,
		Data:      make([]byte, m.width*m.height),
		Source:    m.source,
		TraceID:   uuid.New().String(),
	}
}
