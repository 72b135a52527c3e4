package capture

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ImageStream replays still images from a directory as GRAY8 frames.
//
// Images are decoded once at Start and cycled in lexical filename order. It is
// used for kiosk demos without a camera and for end-to-end tests.
type ImageStream struct {
	dir       string
	targetFPS float64
	loop      bool

	frames []Frame // decoded templates
	out    chan Frame
	mu     sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup

	seq       uint64
	dropped   uint64
	bytesRead uint64
	started   time.Time
}

// NewImageStream validates the directory and rate. Images are loaded on Start.
func NewImageStream(dir string, fps float64, loop bool) (*ImageStream, error) {
	if fps <= 0 || fps > 30 {
		return nil, fmt.Errorf("capture: invalid FPS %.2f (must be >0 and <=30)", fps)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("capture: images dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("capture: %s is not a directory", dir)
	}
	return &ImageStream{dir: dir, targetFPS: fps, loop: loop}, nil
}

// Start decodes the images and begins replaying them.
func (s *ImageStream) Start(ctx context.Context) (<-chan Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil, fmt.Errorf("capture: stream already started")
	}

	frames, err := LoadImageDir(s.dir)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("capture: no png/jpeg images in %s", s.dir)
	}
	s.frames = frames

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.out = make(chan Frame, 1)
	s.started = time.Now()

	s.wg.Add(1)
	go s.run(runCtx, s.out)

	slog.Info("capture: image stream started", "dir", s.dir, "images", len(frames), "fps", s.targetFPS)
	return s.out, nil
}

func (s *ImageStream) run(ctx context.Context, out chan Frame) {
	defer s.wg.Done()
	defer close(out)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.targetFPS))
	defer ticker.Stop()

	for i := 0; ; i++ {
		if i == len(s.frames) {
			if !s.loop {
				slog.Info("capture: image stream exhausted", "dir", s.dir)
				return
			}
			i = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := s.frames[i]
		frame.Seq = atomic.AddUint64(&s.seq, 1)
		frame.Timestamp = time.Now()
		frame.TraceID = uuid.New().String()

		select {
		case out <- frame:
			atomic.AddUint64(&s.bytesRead, uint64(len(frame.Data)))
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
	}
}

// Stop halts replay and closes the frame channel. Idempotent.
func (s *ImageStream) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	s.wg.Wait()
	slog.Info("capture: image stream stopped", "frames", atomic.LoadUint64(&s.seq))
	return nil
}

// Stats returns replay statistics.
func (s *ImageStream) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := atomic.LoadUint64(&s.seq)
	dropped := atomic.LoadUint64(&s.dropped)
	var fpsReal float64
	if !s.started.IsZero() {
		if up := time.Since(s.started).Seconds(); up > 0 {
			fpsReal = float64(count) / up
		}
	}
	var res string
	if len(s.frames) > 0 {
		res = fmt.Sprintf("%dx%d", s.frames[0].Width, s.frames[0].Height)
	}
	return Stats{
		FrameCount:    count,
		FramesDropped: dropped,
		DropRate:      dropRate(count, dropped),
		FPSTarget:     s.targetFPS,
		FPSReal:       fpsReal,
		Source:        s.dir,
		Resolution:    res,
		BytesRead:     atomic.LoadUint64(&s.bytesRead),
		IsConnected:   s.cancel != nil,
	}
}

// LoadImageDir decodes every PNG/JPEG file in dir into a GRAY8 frame.
func LoadImageDir(dir string) ([]Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("capture: read images dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	frames := make([]Frame, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		frame, err := LoadImageFile(path)
		if err != nil {
			slog.Warn("capture: skipping unreadable image", "path", path, "error", err)
			continue
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// LoadImageFile decodes a single PNG/JPEG file into a GRAY8 frame.
func LoadImageFile(path string) (Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return Frame{}, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Frame{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return FrameFromImage(img, path), nil
}

// FrameFromImage converts any image to a GRAY8 frame.
func FrameFromImage(img image.Image, source string) Frame {
	b := img.Bounds()
	gray, ok := img.(*image.Gray)
	if !ok || gray.Stride != b.Dx() || b.Min != (image.Point{}) {
		gray = image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	}
	return Frame{
		Timestamp: time.Now(),
		Width:     b.Dx(),
		Height:    b.Dy(),
		Format:    FormatGray8,
		Data:      gray.Pix,
		Source:    source,
	}
}

// Image returns the luminance plane of the frame as an *image.Gray.
func (f *Frame) Image() (*image.Gray, error) {
	lum, err := f.Luminance()
	if err != nil {
		return nil, err
	}
	return &image.Gray{Pix: lum, Stride: f.Width, Rect: image.Rect(0, 0, f.Width, f.Height)}, nil
}
