package control

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamodiJayakody/barcode-app/internal/mqttconn/mqtttest"
	"github.com/ChamodiJayakody/barcode-app/internal/session"
)

type fakeSession struct {
	mu     sync.Mutex
	events []session.Event
	err    error
}

func (s *fakeSession) Send(_ context.Context, ev session.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSession) Snapshot() session.Snapshot {
	return session.Snapshot{Phase: session.PhaseScanning, Version: 7}
}

func (s *fakeSession) sent() []session.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.Event(nil), s.events...)
}

const (
	cmdTopic   = "scan/control/a"
	replyTopic = "scan/control/a/reply"
)

func startHandler(t *testing.T, sess Session, cb CommandCallbacks) *mqtttest.Broker {
	t.Helper()
	broker := mqtttest.NewBroker()
	h, err := NewHandler(broker.Client(), sess, Config{Topic: cmdTopic, ReplyTopic: replyTopic}, cb)
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop() })
	return broker
}

// roundTrip publishes cmd and returns the next reply.
func roundTrip(t *testing.T, broker *mqtttest.Broker, cmd string) Response {
	t.Helper()
	before := len(broker.Published(replyTopic))
	broker.Client().Publish(cmdTopic, 0, false, []byte(cmd))

	require.Eventually(t, func() bool {
		return len(broker.Published(replyTopic)) > before
	}, time.Second, 5*time.Millisecond, "no reply to %s", cmd)

	var resp Response
	require.NoError(t, json.Unmarshal(broker.Published(replyTopic)[before].Payload, &resp))
	assert.NotEmpty(t, resp.Timestamp)
	return resp
}

func TestSessionCommands(t *testing.T) {
	tests := []struct {
		cmd  string
		want session.Event
	}{
		{`{"command":"start_scan"}`, session.StartScan{}},
		{`{"command":"submit_barcode","params":{"barcode":" ABC123 "}}`, session.SubmitBarcode{Text: " ABC123 "}},
		{`{"command":"input_changed","params":{"text":"AB"}}`, session.InputChanged{Text: "AB"}},
		{`{"command":"go_home"}`, session.GoHome{}},
		{`{"command":"scan_another"}`, session.ScanAnother{}},
		{`{"command":"request_permission"}`, session.RequestPermission{}},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			sess := &fakeSession{}
			broker := startHandler(t, sess, CommandCallbacks{})

			resp := roundTrip(t, broker, tt.cmd)
			assert.Equal(t, "success", resp.Status, resp.Error)
			assert.Equal(t, []session.Event{tt.want}, sess.sent())
		})
	}
}

func TestRequestIDEchoed(t *testing.T) {
	broker := startHandler(t, &fakeSession{}, CommandCallbacks{})
	resp := roundTrip(t, broker, `{"command":"go_home","request_id":"r-1"}`)
	assert.Equal(t, "go_home", resp.CommandAck)
	assert.Equal(t, "r-1", resp.RequestID)
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name    string
		cmd     string
		wantAck string
		wantErr string
	}{
		{"invalid json", `{nope`, "unknown", "invalid JSON"},
		{"unknown command", `{"command":"reboot"}`, "reboot", "unknown command"},
		{"submit without barcode", `{"command":"submit_barcode"}`, "submit_barcode", "params.barcode"},
		{"set_max_fps without callback", `{"command":"set_max_fps","params":{"fps":2}}`, "set_max_fps", "not implemented"},
		{"shutdown without callback", `{"command":"shutdown"}`, "shutdown", "not implemented"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := startHandler(t, &fakeSession{}, CommandCallbacks{})
			resp := roundTrip(t, broker, tt.cmd)
			assert.Equal(t, "error", resp.Status)
			assert.Equal(t, tt.wantAck, resp.CommandAck)
			assert.Contains(t, resp.Error, tt.wantErr)
		})
	}
}

func TestSessionStopped(t *testing.T) {
	broker := startHandler(t, &fakeSession{err: session.ErrStopped}, CommandCallbacks{})
	resp := roundTrip(t, broker, `{"command":"start_scan"}`)
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Error, "stopped")
}

func TestGetStatus(t *testing.T) {
	broker := startHandler(t, &fakeSession{}, CommandCallbacks{
		OnGetStatus: func() map[string]interface{} {
			return map[string]interface{}{"throttle": map[string]interface{}{"decodes": 4}}
		},
	})

	resp := roundTrip(t, broker, `{"command":"get_status"}`)
	require.Equal(t, "success", resp.Status)

	snap, ok := resp.Data["snapshot"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "scanning", snap["phase"])
	assert.Equal(t, float64(7), snap["version"])
	assert.Contains(t, resp.Data, "throttle")
}

func TestSetMaxFPS(t *testing.T) {
	var got float64
	broker := startHandler(t, &fakeSession{}, CommandCallbacks{
		OnSetMaxFPS: func(fps float64) error {
			if fps <= 0 {
				return errors.New("fps must be > 0")
			}
			got = fps
			return nil
		},
	})

	resp := roundTrip(t, broker, `{"command":"set_max_fps","params":{"fps":2.5}}`)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, 2.5, got)
	assert.Equal(t, 2.5, resp.Data["max_fps"])

	resp = roundTrip(t, broker, `{"command":"set_max_fps","params":{"fps":0}}`)
	assert.Equal(t, "error", resp.Status)

	resp = roundTrip(t, broker, `{"command":"set_max_fps","params":{"fps":"fast"}}`)
	assert.Equal(t, "error", resp.Status)
}

func TestShutdownAcksFirst(t *testing.T) {
	called := make(chan struct{})
	broker := startHandler(t, &fakeSession{}, CommandCallbacks{
		OnShutdown: func() error { close(called); return nil },
	})

	resp := roundTrip(t, broker, `{"command":"shutdown"}`)
	assert.Equal(t, "success", resp.Status)
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback not invoked")
	}
}

func TestLifecycle(t *testing.T) {
	broker := mqtttest.NewBroker()
	_, err := NewHandler(nil, &fakeSession{}, Config{Topic: "a", ReplyTopic: "b"}, CommandCallbacks{})
	assert.Error(t, err)
	_, err = NewHandler(broker.Client(), &fakeSession{}, Config{Topic: "a"}, CommandCallbacks{})
	assert.Error(t, err)

	h, err := NewHandler(broker.Client(), &fakeSession{}, Config{Topic: "a", ReplyTopic: "b"}, CommandCallbacks{})
	require.NoError(t, err)
	require.NoError(t, h.Stop(), "stop before start")
	require.NoError(t, h.Start(context.Background()))
	assert.Error(t, h.Start(context.Background()))
	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())

	// Unsubscribed: commands are no longer answered.
	broker.Client().Publish("a", 0, false, []byte(`{"command":"go_home"}`))
	assert.Empty(t, broker.Published("b"))
}
