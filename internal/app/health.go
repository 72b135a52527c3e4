package app

import (
	"time"

	"github.com/ChamodiJayakody/barcode-app/internal/httpapi"
)

// HealthCheck returns the current health status of the service.
//
// unhealthy: not running. degraded: the camera source is disconnected, the
// broker is unreachable or a snapshot subscriber is falling behind.
func (s *Scand) HealthCheck() httpapi.Health {
	s.mu.RLock()
	running := s.isRunning
	started := s.started
	s.mu.RUnlock()

	if !running {
		return httpapi.Health{Status: "unhealthy"}
	}

	health := httpapi.Health{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(started).Seconds()),
		Components:    make(map[string]interface{}),
	}
	degraded := false

	if s.machine != nil {
		snap := s.machine.Snapshot()
		health.Components["session"] = map[string]interface{}{
			"session_id": s.machine.SessionID(),
			"mode":       s.mode.String(),
			"phase":      snap.Phase.String(),
			"version":    snap.Version,
		}
	}

	if s.source != nil {
		st := s.source.Stats()
		health.Components["capture"] = map[string]interface{}{
			"source":     st.Source,
			"connected":  st.IsConnected,
			"fps_real":   st.FPSReal,
			"drop_rate":  st.DropRate,
			"reconnects": st.Reconnects,
		}
		if !st.IsConnected {
			degraded = true
		}
	}

	if s.throttle != nil {
		st := s.throttle.Stats()
		health.Components["throttle"] = map[string]interface{}{
			"max_fps":   st.MaxFPS,
			"decodes":   st.Decodes,
			"hits":      st.Hits,
			"failures":  st.Failures,
			"in_flight": st.InFlight,
		}
	}

	unhealthy := s.bus.Unhealthy()
	health.Components["snapbus"] = map[string]interface{}{
		"subscribers": len(s.bus.Stats().Subscribers),
		"unhealthy":   unhealthy,
	}
	if len(unhealthy) > 0 {
		degraded = true
	}

	if s.emitter != nil {
		st := s.emitter.Stats()
		health.Components["mqtt"] = map[string]interface{}{
			"connected": st.Connected,
			"errors":    st.Errors,
		}
		if !st.Connected {
			degraded = true
		}
	}

	if degraded {
		health.Status = "degraded"
	}
	return health
}
