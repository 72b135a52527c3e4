package capture

import (
	"fmt"
	"strings"
	"time"
)

// PixelFormat identifies the layout of Frame.Data.
type PixelFormat int

const (
	// FormatGray8 is a single 8-bit luminance plane.
	FormatGray8 PixelFormat = iota
	// FormatNV21 is a luminance plane followed by interleaved V/U samples.
	FormatNV21
)

// String returns the GStreamer caps name of the format.
func (f PixelFormat) String() string {
	switch f {
	case FormatGray8:
		return "GRAY8"
	case FormatNV21:
		return "NV21"
	default:
		return "GRAY8"
	}
}

// ParsePixelFormat maps a configuration value to a PixelFormat.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gray8", "gray":
		return FormatGray8, nil
	case "nv21":
		return FormatNV21, nil
	default:
		return FormatGray8, fmt.Errorf("capture: unknown pixel format %q (must be gray8 or nv21)", s)
	}
}

// BufferSize returns the number of bytes a frame of the given size occupies.
func (f PixelFormat) BufferSize(width, height int) int {
	switch f {
	case FormatNV21:
		return width*height + 2*((width+1)/2)*((height+1)/2)
	default:
		return width * height
	}
}

// Frame represents a single captured image with metadata.
//
// Data MUST NOT be modified once the frame has been handed to a consumer; it is
// shared by reference between the throttle mailbox and the decoder.
type Frame struct {
	// Seq is the monotonic sequence number assigned by the source
	Seq uint64
	// Timestamp is when the frame was captured
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Format describes the layout of Data
	Format PixelFormat
	// Data is the raw image buffer
	Data []byte
	// Source identifies the producer (device path, directory, "mock")
	Source string
	// TraceID is a unique identifier for log correlation
	TraceID string
}

// Luminance returns the luminance plane of the frame.
//
// Returns an error if the buffer is shorter than Width × Height bytes.
func (f *Frame) Luminance() ([]byte, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("capture: invalid frame size %dx%d", f.Width, f.Height)
	}
	n := f.Width * f.Height
	if len(f.Data) < n {
		return nil, fmt.Errorf("capture: frame buffer too short (got %d bytes, need %d for %dx%d)",
			len(f.Data), n, f.Width, f.Height)
	}
	return f.Data[:n], nil
}

// Stats contains current source statistics
type Stats struct {
	// FrameCount is the total number of frames captured
	FrameCount uint64
	// FramesDropped is the total number of frames dropped (channel full)
	FramesDropped uint64
	// DropRate is the percentage of frames dropped (0-100)
	DropRate float64
	// FPSTarget is the configured target FPS
	FPSTarget float64
	// FPSReal is the measured real FPS
	FPSReal float64
	// LatencyMS is the time since last frame in milliseconds
	LatencyMS int64
	// Source identifies the producer
	Source string
	// Resolution is the frame resolution (e.g., "640x480")
	Resolution string
	// Reconnects is the number of pipeline restarts
	Reconnects uint32
	// BytesRead is the total bytes read from the device
	BytesRead uint64
	// IsConnected indicates if the source is currently producing
	IsConnected bool
	// Errors counts pipeline errors by category (camera only)
	ErrorsDevice  uint64
	ErrorsFormat  uint64
	ErrorsAccess  uint64
	ErrorsUnknown uint64
}

// WarmupStats contains statistics collected during the warm-up phase
type WarmupStats struct {
	FramesReceived int           // Number of frames received during warm-up
	Duration       time.Duration // Actual warm-up duration
	FPSMean        float64       // Mean FPS across all frames
	FPSStdDev      float64       // Standard deviation of FPS
	FPSMin         float64       // Minimum instantaneous FPS
	FPSMax         float64       // Maximum instantaneous FPS
	IsStable       bool          // True if stddev < 15% of mean AND jitter < 20%
	JitterMean     float64       // Average inter-frame interval variance (seconds)
	JitterStdDev   float64       // Standard deviation of jitter (seconds)
	JitterMax      float64       // Maximum jitter observed (seconds)
}

func dropRate(count, dropped uint64) float64 {
	total := count + dropped
	if total == 0 {
		return 0
	}
	return float64(dropped) / float64(total) * 100.0
}
