package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ChamodiJayakody/barcode-app/internal/capture"
)

// feedFrames hands every source frame to the throttle and logs pipeline
// stats periodically.
func (s *Scand) feedFrames(ctx context.Context, frames <-chan capture.Frame) {
	slog.Info("frame consumer started")

	frameCount := uint64(0)
	lastLog := time.Now()
	logInterval := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			slog.Info("frame consumer stopping", "total_frames", frameCount)
			return

		case frame, ok := <-frames:
			if !ok {
				slog.Info("source channel closed", "total_frames", frameCount)
				return
			}

			frameCount++
			s.throttle.Publish(&frame)

			if time.Since(lastLog) >= logInterval {
				srcStats := s.source.Stats()
				thStats := s.throttle.Stats()

				slog.Debug("pipeline stats",
					"frames_consumed", frameCount,
					"source_fps_real", float64(int(srcStats.FPSReal*100))/100,
					"decodes", thStats.Decodes,
					"hits", thStats.Hits,
					"idle_drops", thStats.IdleDrops,
					"rate_drops", thStats.RateDrops,
					"last_seq", frame.Seq,
				)
				if srcStats.FramesDropped > 0 {
					slog.Warn("source dropping frames",
						"dropped_count", srcStats.FramesDropped,
						"drop_rate", srcStats.DropRate,
					)
				}

				lastLog = time.Now()
			}
		}
	}
}

// publishHealth reports HealthCheck on the MQTT health topic until ctx is done.
func (s *Scand) publishHealth(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := json.Marshal(s.HealthCheck())
			if err != nil {
				slog.Error("failed to marshal health", "error", err)
				continue
			}
			if err := s.emitter.PublishHealth(payload); err != nil {
				slog.Warn("failed to publish health", "error", err)
			}
		}
	}
}
