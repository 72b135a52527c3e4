package v4l2

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// TestClassifyMessage validates error classification heuristics
//
// Access and format errors are not retryable: restarting the pipeline with the
// same device node and caps cannot fix them.
func TestClassifyMessage(t *testing.T) {
	testCases := []struct {
		name      string
		msg       string
		debug     string
		want      ErrorCategory
		retryable bool
	}{
		{"missing device", "Cannot identify device '/dev/video9'.", "No such file or directory", ErrCategoryDevice, true},
		{"busy device", "Could not open device", "Device or resource busy", ErrCategoryDevice, true},
		{"permission", "Could not open device '/dev/video0' for reading and writing.", "Permission denied", ErrCategoryAccess, false},
		{"caps", "Internal data stream error.", "streaming stopped, reason not-negotiated (-4)", ErrCategoryFormat, false},
		{"other", "Something odd happened", "", ErrCategoryUnknown, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyMessage(tc.msg, tc.debug)
			if got != tc.want {
				t.Errorf("ClassifyMessage() = %s, want %s", got, tc.want)
			}
			if got.Retryable() != tc.retryable {
				t.Errorf("Retryable() = %v, want %v", got.Retryable(), tc.retryable)
			}
		})
	}
}

func TestClassifyGStreamerError_Nil(t *testing.T) {
	if got := ClassifyGStreamerError(nil); got != ErrCategoryUnknown {
		t.Errorf("nil error classified as %s, want unknown", got)
	}
}

func TestBuildCaps(t *testing.T) {
	testCases := []struct {
		format string
		fps    float64
		want   string
	}{
		{"GRAY8", 15, "video/x-raw,format=GRAY8,width=640,height=480,framerate=15/1"},
		{"NV21", 5, "video/x-raw,format=NV21,width=640,height=480,framerate=5/1"},
		{"", 0.5, "video/x-raw,format=GRAY8,width=640,height=480,framerate=1/2"},
	}

	for _, tc := range testCases {
		if got := BuildCaps(tc.format, 640, 480, tc.fps); got != tc.want {
			t.Errorf("BuildCaps(%q, %.1f) = %q, want %q", tc.format, tc.fps, got, tc.want)
		}
	}
}

func fastConfig(retries int) ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    retries,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
	}
}

// TestRunWithReconnect_RetriesUntilSuccess validates that transient failures
// are retried and counted.
func TestRunWithReconnect_RetriesUntilSuccess(t *testing.T) {
	state := NewReconnectState(fastConfig(5))

	var calls int32
	connect := func(ctx context.Context, attempt int) error {
		if int(atomic.AddInt32(&calls, 1)) < 3 {
			return errors.New("device busy")
		}
		return nil
	}

	if err := RunWithReconnect(context.Background(), connect, state); err != nil {
		t.Fatalf("RunWithReconnect() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if got := atomic.LoadUint32(state.Reconnects); got != 2 {
		t.Errorf("expected 2 reconnects, got %d", got)
	}
	t.Logf("✅ recovered after %d attempts", calls)
}

func TestRunWithReconnect_GivesUp(t *testing.T) {
	state := NewReconnectState(fastConfig(2))

	var calls int32
	connect := func(ctx context.Context, attempt int) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("unplugged")
	}

	err := RunWithReconnect(context.Background(), connect, state)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	// first run + 2 retries
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRunWithReconnect_NotRetryable(t *testing.T) {
	state := NewReconnectState(fastConfig(5))

	var calls int32
	connect := func(ctx context.Context, attempt int) error {
		atomic.AddInt32(&calls, 1)
		return errors.Join(ErrNotRetryable, errors.New("permission denied"))
	}

	err := RunWithReconnect(context.Background(), connect, state)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent failure retried: %d attempts", calls)
	}
}

func TestRunWithReconnect_ContextCancelled(t *testing.T) {
	state := NewReconnectState(fastConfig(100))
	ctx, cancel := context.WithCancel(context.Background())

	connect := func(ctx context.Context, attempt int) error {
		if attempt == 1 {
			cancel()
		}
		return errors.New("unplugged")
	}

	if err := RunWithReconnect(ctx, connect, state); err != nil {
		t.Errorf("cancelled run should return nil, got %v", err)
	}
}
