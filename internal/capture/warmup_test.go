package capture

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func evenFrameTimes(n int, interval time.Duration) []time.Time {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = base.Add(time.Duration(i) * interval)
	}
	return out
}

// TestCalculateFPSStats_Stability checks the two stability criteria
//
// A constant cadence is stable; a cadence alternating between half and
// one-and-a-half intervals is not.
func TestCalculateFPSStats_Stability(t *testing.T) {
	t.Run("constant cadence", func(t *testing.T) {
		times := evenFrameTimes(20, 200*time.Millisecond)
		stats := CalculateFPSStats(times, 4*time.Second)

		if !stats.IsStable {
			t.Fatalf("expected stable, got stddev=%.3f jitter=%.3f", stats.FPSStdDev, stats.JitterMean)
		}
		if math.Abs(stats.FPSMean-5) > 0.001 {
			t.Errorf("FPSMean = %.3f, want 5", stats.FPSMean)
		}
		if stats.JitterMax > 1e-9 {
			t.Errorf("JitterMax = %.6f, want 0", stats.JitterMax)
		}
		t.Logf("✅ constant cadence: %.2f FPS, stable", stats.FPSMean)
	})

	t.Run("alternating cadence", func(t *testing.T) {
		base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		times := []time.Time{base}
		for i := 1; i < 20; i++ {
			step := 100 * time.Millisecond
			if i%2 == 0 {
				step = 300 * time.Millisecond
			}
			times = append(times, times[i-1].Add(step))
		}
		stats := CalculateFPSStats(times, 4*time.Second)

		if stats.IsStable {
			t.Fatalf("expected unstable, got stddev=%.3f jitter=%.3f", stats.FPSStdDev, stats.JitterMean)
		}
		if stats.FPSMin > stats.FPSMax {
			t.Errorf("FPSMin %.2f > FPSMax %.2f", stats.FPSMin, stats.FPSMax)
		}
	})
}

func TestCalculateFPSStats_EdgeCases(t *testing.T) {
	tests := []struct {
		name     string
		times    []time.Time
		duration time.Duration
	}{
		{"zero frames", nil, time.Second},
		{"one frame", evenFrameTimes(1, time.Second), time.Second},
		{"two frames", evenFrameTimes(2, time.Second), time.Second},
		{"zero duration", evenFrameTimes(5, time.Second), 0},
		{"identical timestamps", []time.Time{time.Unix(1, 0), time.Unix(1, 0)}, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := CalculateFPSStats(tt.times, tt.duration)
			if stats == nil {
				t.Fatal("CalculateFPSStats returned nil")
			}
			if stats.IsStable {
				t.Errorf("edge case %q reported stable", tt.name)
			}
			if stats.FPSStdDev < 0 || stats.JitterMean < 0 || stats.JitterMax < 0 {
				t.Errorf("negative statistic: %+v", stats)
			}
		})
	}
}

func TestWarmup_SourceClosed(t *testing.T) {
	frames := make(chan Frame)
	close(frames)

	if _, err := Warmup(context.Background(), frames, time.Second); err == nil {
		t.Fatal("expected error when source closes during warm-up")
	}
}

func TestWarmup_NotEnoughFrames(t *testing.T) {
	frames := make(chan Frame, 1)
	frames <- Frame{Seq: 1, Timestamp: time.Now()}

	if _, err := Warmup(context.Background(), frames, 50*time.Millisecond); err == nil {
		t.Fatal("expected error with a single frame")
	}
}

func TestWarmup_MockStream(t *testing.T) {
	stream := NewMockStream(64, 48, 50)
	frames, err := stream.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer stream.Stop()

	stats, err := Warmup(context.Background(), frames, 300*time.Millisecond)
	if err != nil && !errors.Is(err, ErrUnstableSource) {
		t.Fatalf("Warmup() error = %v", err)
	}
	if stats == nil || stats.FramesReceived < 2 {
		t.Fatalf("expected at least 2 frames, got %+v", stats)
	}
	t.Logf("✅ mock warm-up: %d frames, %.1f FPS, stable=%v", stats.FramesReceived, stats.FPSMean, stats.IsStable)
}

func BenchmarkCalculateFPSStats(b *testing.B) {
	times := evenFrameTimes(100, time.Second)
	for i := 0; i < b.N; i++ {
		_ = CalculateFPSStats(times, 100*time.Second)
	}
}
