package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum FPS standard deviation as a fraction of mean FPS.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of the expected interval.
	jitterStabilityThreshold = 0.20
)

// ErrUnstableSource is returned by Warmup together with the measured stats when
// the frame cadence is outside the stability thresholds.
var ErrUnstableSource = errors.New("capture: source frame rate unstable")

// Warmup consumes frames for the given duration and reports the cadence of the
// source. Frames read during warm-up are discarded.
//
// A handheld camera is allowed to be jittery, so an unstable result is reported
// as ErrUnstableSource alongside valid stats; callers may log it and carry on.
//
// Returns an error if the source closes or fewer than 2 frames arrive.
func Warmup(ctx context.Context, frames <-chan Frame, duration time.Duration) (*WarmupStats, error) {
	slog.Info("capture: starting warm-up", "duration", duration)

	start := time.Now()
	frameTimes := make([]time.Time, 0, 64)

	warmupCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

collect:
	for {
		select {
		case <-warmupCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			break collect
		case frame, ok := <-frames:
			if !ok {
				return nil, fmt.Errorf("capture: source closed during warm-up")
			}
			frameTimes = append(frameTimes, frame.Timestamp)
			slog.Debug("capture: warm-up frame", "seq", frame.Seq, "collected", len(frameTimes))
		}
	}

	if len(frameTimes) < 2 {
		return nil, fmt.Errorf("capture: not enough frames during warm-up (got %d, need at least 2)", len(frameTimes))
	}

	stats := CalculateFPSStats(frameTimes, time.Since(start))

	slog.Info("capture: warm-up complete",
		"frames", stats.FramesReceived,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"fps_range", fmt.Sprintf("%.1f-%.1f", stats.FPSMin, stats.FPSMax),
		"jitter_mean", fmt.Sprintf("%.3fs", stats.JitterMean),
		"stable", stats.IsStable,
	)

	if !stats.IsStable {
		return stats, fmt.Errorf("%w (mean=%.2f Hz, stddev=%.2f, jitter=%.3fs)",
			ErrUnstableSource, stats.FPSMean, stats.FPSStdDev, stats.JitterMean)
	}
	return stats, nil
}

// CalculateFPSStats derives cadence statistics from frame timestamps.
//
// A source is stable when the instantaneous FPS standard deviation is below 15%
// of the mean and the mean jitter is below 20% of the expected interval.
func CalculateFPSStats(frameTimes []time.Time, totalDuration time.Duration) *WarmupStats {
	n := len(frameTimes)
	stats := &WarmupStats{FramesReceived: n, Duration: totalDuration}
	if n == 0 || totalDuration <= 0 {
		return stats
	}

	stats.FPSMean = float64(n) / totalDuration.Seconds()

	intervals := make([]float64, 0, n-1)
	instant := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		iv := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		intervals = append(intervals, iv)
		if iv > 0 {
			instant = append(instant, 1.0/iv)
		}
	}
	if len(instant) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = instant[0], instant[0]
	for _, fps := range instant {
		stats.FPSMin = math.Min(stats.FPSMin, fps)
		stats.FPSMax = math.Max(stats.FPSMax, fps)
	}
	stats.FPSStdDev = stddev(instant, stats.FPSMean)

	expected := 1.0 / stats.FPSMean
	jitters := make([]float64, len(intervals))
	var sum float64
	for i, iv := range intervals {
		jitters[i] = math.Abs(iv - expected)
		sum += jitters[i]
		stats.JitterMax = math.Max(stats.JitterMax, jitters[i])
	}
	stats.JitterMean = sum / float64(len(jitters))
	stats.JitterStdDev = stddev(jitters, stats.JitterMean)

	stats.IsStable = stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold &&
		stats.JitterMean < expected*jitterStabilityThreshold
	return stats
}

func stddev(values []float64, mean float64) float64 {
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}
