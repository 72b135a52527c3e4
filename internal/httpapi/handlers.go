package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ChamodiJayakody/barcode-app/internal/session"
)

// handleLiveness returns 200 while the process can serve requests
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

// handleReadiness returns component health; degraded is still ready
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	health := Health{Status: "healthy"}
	if s.cfg.Health != nil {
		health = s.cfg.Health.HealthCheck()
	}
	health.UptimeSeconds = int64(time.Since(s.started).Seconds())

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Session.Snapshot())
}

type eventBody struct {
	Barcode string `json:"barcode"`
	Text    string `json:"text"`
}

// handleEvent forwards one display event to the session
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var body eventBody
	if r.Body != nil {
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
			return
		}
	}

	var ev session.Event
	switch name {
	case "start_scan":
		ev = session.StartScan{}
	case "submit":
		ev = session.SubmitBarcode{Text: body.Barcode}
	case "input":
		ev = session.InputChanged{Text: body.Text}
	case "home":
		ev = session.GoHome{}
	case "scan_another":
		ev = session.ScanAnother{}
	case "request_permission":
		ev = session.RequestPermission{}
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown event: %s", name))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SendTimeout)
	defer cancel()
	if err := s.cfg.Session.Send(ctx, ev); err != nil {
		code := http.StatusServiceUnavailable
		if !errors.Is(err, session.ErrStopped) {
			code = http.StatusGatewayTimeout
		}
		writeError(w, code, err)
		return
	}

	slog.Debug("httpapi: event accepted", "event", name)
	writeJSON(w, http.StatusAccepted, map[string]string{"accepted": name})
}

// handleStream sends the current snapshot, then every newer one. A slow
// client skips intermediate snapshots instead of holding back the bus.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	id := "sse-" + uuid.NewString()
	rx, err := s.cfg.Bus.SubscribeLatest(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer s.cfg.Bus.Unsubscribe(id)

	slog.Debug("httpapi: stream opened", "subscriber", id, "remote", r.RemoteAddr)
	defer slog.Debug("httpapi: stream closed", "subscriber", id)

	w.WriteHeader(http.StatusOK)
	last := s.cfg.Session.Snapshot()
	if err := sendSnapshot(w, flusher, last); err != nil {
		return
	}

	for {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.KeepAlive)
		snap, err := rx.Receive(ctx)
		cancel()

		switch {
		case err == nil:
			if snap.Version <= last.Version {
				continue
			}
			last = snap
			if err := sendSnapshot(w, flusher, snap); err != nil {
				return
			}
		case errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		default:
			// client gone, or receiver closed by bus shutdown
			return
		}
	}
}

func sendSnapshot(w http.ResponseWriter, flusher http.Flusher, snap session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Version, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("httpapi: write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
