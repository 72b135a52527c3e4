package app

import (
	"fmt"
	"log/slog"
	"time"
)

// getStatus returns the current service status
func (s *Scand) getStatus() map[string]interface{} {
	s.mu.RLock()
	running := s.isRunning
	started := s.started
	s.mu.RUnlock()

	busStats := s.bus.Stats()

	status := map[string]interface{}{
		"instance_id": s.cfg.InstanceID,
		"mode":        s.mode.String(),
		"uptime_s":    time.Since(started).Seconds(),
		"running":     running,
		"snapbus": map[string]interface{}{
			"total_published": busStats.TotalPublished,
			"total_sent":      busStats.TotalSent,
			"total_dropped":   busStats.TotalDropped,
			"subscribers":     busStats.Subscribers,
		},
		"config": map[string]interface{}{
			"settle_delay_ms": s.cfg.SettleDelay().Milliseconds(),
			"lookup":          s.cfg.Lookup.Kind,
			"mqtt": map[string]interface{}{
				"broker":         s.cfg.MQTT.Broker,
				"control_topic":  s.cfg.MQTT.Topics.Control,
				"snapshot_topic": s.cfg.MQTT.Topics.Snapshots,
			},
		},
	}

	if s.source != nil {
		st := s.source.Stats()
		status["capture"] = map[string]interface{}{
			"source":      st.Source,
			"resolution":  st.Resolution,
			"connected":   st.IsConnected,
			"fps_real":    st.FPSReal,
			"fps_target":  st.FPSTarget,
			"frame_count": st.FrameCount,
			"latency_ms":  st.LatencyMS,
			"reconnects":  st.Reconnects,
		}
	}

	if s.throttle != nil {
		st := s.throttle.Stats()
		status["throttle"] = map[string]interface{}{
			"max_fps":     st.MaxFPS,
			"published":   st.Published,
			"idle_drops":  st.IdleDrops,
			"rate_drops":  st.RateDrops,
			"inbox_drops": st.InboxDrops,
			"decodes":     st.Decodes,
			"hits":        st.Hits,
			"duplicates":  st.Duplicates,
			"misses":      st.Misses,
			"failures":    st.Failures,
			"stale":       st.Stale,
		}
	}

	if s.emitter != nil {
		st := s.emitter.Stats()
		status["emitter"] = map[string]interface{}{
			"connected": st.Connected,
			"published": st.Published,
			"errors":    st.Errors,
		}
	}

	return status
}

// setMaxFPS changes the decode rate cap at runtime
func (s *Scand) setMaxFPS(fps float64) error {
	if s.throttle == nil {
		return fmt.Errorf("no camera pipeline in %s mode", s.mode)
	}
	return s.throttle.SetMaxFPS(fps)
}

// shutdownViaControl initiates graceful shutdown via MQTT control command
func (s *Scand) shutdownViaControl() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return fmt.Errorf("service not running")
	}
	if s.cancelCtx == nil {
		return fmt.Errorf("shutdown not available (no cancel context)")
	}

	slog.Info("shutdown requested via control plane")
	s.cancelCtx()
	return nil
}
