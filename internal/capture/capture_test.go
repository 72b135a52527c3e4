package capture

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParsePixelFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    PixelFormat
		wantErr bool
	}{
		{"", FormatGray8, false},
		{"GRAY8", FormatGray8, false},
		{"nv21", FormatNV21, false},
		{"rgb", FormatGray8, true},
	}
	for _, tt := range tests {
		got, err := ParsePixelFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePixelFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParsePixelFormat(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

// TestFrameLuminance validates that the luminance plane is the first w*h bytes
// for both supported layouts.
func TestFrameLuminance(t *testing.T) {
	t.Run("nv21", func(t *testing.T) {
		size := FormatNV21.BufferSize(4, 2)
		if size != 12 {
			t.Fatalf("NV21 buffer size = %d, want 12", size)
		}
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i)
		}
		f := Frame{Width: 4, Height: 2, Format: FormatNV21, Data: data}
		lum, err := f.Luminance()
		if err != nil {
			t.Fatalf("Luminance() error = %v", err)
		}
		if len(lum) != 8 || lum[7] != 7 {
			t.Errorf("unexpected luminance plane %v", lum)
		}
	})

	t.Run("short buffer", func(t *testing.T) {
		f := Frame{Width: 4, Height: 4, Data: make([]byte, 10)}
		if _, err := f.Luminance(); err == nil {
			t.Error("expected error for short buffer")
		}
	})

	t.Run("invalid size", func(t *testing.T) {
		f := Frame{Width: 0, Height: 4, Data: make([]byte, 10)}
		if _, err := f.Luminance(); err == nil {
			t.Error("expected error for zero width")
		}
	})
}

func TestFrameFromImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(0, 0, color.White)

	f := FrameFromImage(img, "test")
	if f.Width != 3 || f.Height != 2 || f.Format != FormatGray8 {
		t.Fatalf("unexpected frame %dx%d %s", f.Width, f.Height, f.Format)
	}
	if len(f.Data) != 6 {
		t.Fatalf("len(Data) = %d, want 6", len(f.Data))
	}
	if f.Data[0] != 0xff || f.Data[1] != 0 {
		t.Errorf("unexpected pixels %v", f.Data)
	}

	gray, err := f.Image()
	if err != nil {
		t.Fatalf("Image() error = %v", err)
	}
	if gray.GrayAt(0, 0).Y != 0xff {
		t.Errorf("GrayAt(0,0) = %d, want 255", gray.GrayAt(0, 0).Y)
	}
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestImageStream(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 8, 4)
	writePNG(t, filepath.Join(dir, "b.png"), 8, 4)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	stream, err := NewImageStream(dir, 30, false)
	if err != nil {
		t.Fatalf("NewImageStream() error = %v", err)
	}
	frames, err := stream.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var got []Frame
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case f, ok := <-frames:
			if !ok {
				done = true
				break
			}
			got = append(got, f)
		case <-timeout:
			t.Fatal("timed out waiting for image stream")
		}
	}
	_ = stream.Stop()

	if len(got) != 2 {
		t.Fatalf("expected 2 frames without looping, got %d", len(got))
	}
	if got[0].Seq != 1 || got[1].Seq != 2 {
		t.Errorf("unexpected sequence numbers %d, %d", got[0].Seq, got[1].Seq)
	}
	if got[0].TraceID == "" || got[0].TraceID == got[1].TraceID {
		t.Error("expected unique trace ids")
	}
	if filepath.Base(got[0].Source) != "a.png" {
		t.Errorf("frames out of order: first source %s", got[0].Source)
	}
}

func TestImageStream_Validation(t *testing.T) {
	if _, err := NewImageStream(t.TempDir(), 0, true); err == nil {
		t.Error("expected error for zero FPS")
	}
	if _, err := NewImageStream(filepath.Join(t.TempDir(), "missing"), 5, true); err == nil {
		t.Error("expected error for missing dir")
	}

	stream, err := NewImageStream(t.TempDir(), 5, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := stream.Start(context.Background()); err == nil {
		t.Error("expected error for empty dir")
	}
}

func TestMockStream_Lifecycle(t *testing.T) {
	stream := NewMockStream(16, 8, 100)

	frames, err := stream.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := stream.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	select {
	case f := <-frames:
		if len(f.Data) != 16*8 || f.Format != FormatGray8 {
			t.Errorf("unexpected frame: %d bytes, %s", len(f.Data), f.Format)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame from mock stream")
	}

	if err := stream.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := stream.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}

	for range frames {
	}
	if stream.Stats().IsConnected {
		t.Error("stopped stream reports connected")
	}
	t.Logf("✅ mock stream lifecycle: %d frames", stream.Stats().FrameCount)
}

// TestNewCameraStream_Validation exercises fail-fast validation. Cases that
// pass validation need GStreamer and are skipped when it is unavailable.
func TestNewCameraStream_Validation(t *testing.T) {
	invalid := []struct {
		name string
		cfg  CameraConfig
	}{
		{"no device", CameraConfig{Width: 640, Height: 480, TargetFPS: 5}},
		{"fps too low", CameraConfig{Device: "/dev/video0", Width: 640, Height: 480, TargetFPS: 0.01}},
		{"fps too high", CameraConfig{Device: "/dev/video0", Width: 640, Height: 480, TargetFPS: 60}},
		{"odd width", CameraConfig{Device: "/dev/video0", Width: 641, Height: 480, TargetFPS: 5}},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewCameraStream(tc.cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	t.Run("valid", func(t *testing.T) {
		if err := checkGStreamerAvailable(); err != nil {
			t.Skipf("GStreamer not available: %v", err)
		}
		s, err := NewCameraStream(CameraConfig{Device: "/dev/video0", Width: 640, Height: 480, TargetFPS: 5})
		if err != nil {
			t.Fatalf("NewCameraStream() error = %v", err)
		}
		if err := s.Stop(); err != nil {
			t.Errorf("Stop() on unstarted stream error = %v", err)
		}
		if s.Stats().IsConnected {
			t.Error("unstarted stream reports connected")
		}
	})
}
