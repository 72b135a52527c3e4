// Package session implements the scan session state machine.
//
// One goroutine (Run) owns the Record. Every input, whether a display event, a
// decode outcome, a permission answer or a lookup result, is funneled through
// the events channel and applied by a single function, so transitions are
// atomic and need no locks. After each transition exactly one Snapshot is
// published.
//
// Async work (permission prompt, settle delay + lookup) runs in effect
// goroutines that post their result back as an event carrying the generation
// they were started under. Any reset (GoHome, StartScan, ScanAnother) bumps the
// generation and cancels the pending lookup, so late results are discarded.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ChamodiJayakody/barcode-app/internal/permission"
)

// ErrStopped is returned by Send once the machine loop has exited.
var ErrStopped = errors.New("session: machine stopped")

// DefaultSettleDelay stands in for the lookup round trip.
const DefaultSettleDelay = 600 * time.Millisecond

// Lookup resolves a barcode into its ordered messages.
type Lookup interface {
	Lookup(ctx context.Context, barcode string) ([]string, error)
}

// Publisher receives every snapshot. snapbus.Bus satisfies it.
type Publisher interface {
	Publish(Snapshot)
}

// Config configures a Machine.
type Config struct {
	Mode Mode
	// SettleDelay is waited before calling Lookup (default 600ms, negative = none).
	SettleDelay time.Duration
	// Permission gates the camera. Required unless Mode is ModeManual.
	Permission permission.Gate
	// Lookup is required.
	Lookup Lookup
	// Publisher is optional.
	Publisher Publisher
	// EventBuffer is the events channel capacity (default 16).
	EventBuffer int
}

type cameraState struct {
	accepting bool
	gen       uint64
	held      string
}

// Machine is the scan session state machine.
type Machine struct {
	cfg       Config
	sessionID string
	events    chan Event

	// owned by the Run goroutine
	rec          Record
	version      uint64
	lookupCancel context.CancelFunc

	snap   atomic.Pointer[Snapshot]
	camera atomic.Pointer[cameraState]

	lookups sync.WaitGroup
	running atomic.Bool
	done    chan struct{}
}

// New validates cfg and returns an idle machine.
func New(cfg Config) (*Machine, error) {
	if cfg.Lookup == nil {
		return nil, fmt.Errorf("session: lookup is required")
	}
	if cfg.Mode.UsesCamera() && cfg.Permission == nil {
		return nil, fmt.Errorf("session: permission gate is required in %s mode", cfg.Mode)
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 16
	}

	m := &Machine{
		cfg:       cfg,
		sessionID: uuid.NewString(),
		events:    make(chan Event, cfg.EventBuffer),
		done:      make(chan struct{}),
	}
	m.publish()
	return m, nil
}

// Run processes events until ctx is cancelled. It may be called once.
// An outstanding permission prompt is not waited for.
func (m *Machine) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("session: machine already running")
	}
	defer close(m.done)

	slog.Info("session: machine started",
		"session_id", m.sessionID,
		"mode", m.cfg.Mode.String(),
		"settle_delay", m.cfg.SettleDelay,
	)

	for {
		select {
		case <-ctx.Done():
			if m.lookupCancel != nil {
				m.lookupCancel()
			}
			m.lookups.Wait()
			slog.Info("session: machine stopped", "session_id", m.sessionID, "snapshots", m.version)
			return nil
		case ev := <-m.events:
			m.handle(ctx, ev)
		}
	}
}

func (m *Machine) handle(ctx context.Context, ev Event) {
	before := m.rec.Phase
	fx, changed := apply(&m.rec, ev, m.cfg.Mode)
	if !changed {
		slog.Debug("session: event ignored", "event", ev.eventName(), "phase", m.rec.Phase.String())
		return
	}

	if m.rec.Phase != before {
		slog.Info("session: transition",
			"event", ev.eventName(),
			"from", before.String(),
			"to", m.rec.Phase.String(),
			"generation", m.rec.Generation,
		)
	}
	if m.rec.Error != "" {
		slog.Debug("session: error text set", "event", ev.eventName(), "error", m.rec.Error)
	}

	m.publish()

	for _, f := range fx {
		m.run(ctx, f)
	}
}

func (m *Machine) run(ctx context.Context, f effect) {
	switch f := f.(type) {
	case requestPermissionFx:
		slog.Info("session: requesting camera permission")
		go func() {
			state := m.cfg.Permission.RequestPermission(ctx)
			m.post(ctx, permissionResult{state: state})
		}()

	case cancelLookupFx:
		if m.lookupCancel != nil {
			m.lookupCancel()
			m.lookupCancel = nil
		}

	case lookupFx:
		if m.lookupCancel != nil {
			m.lookupCancel()
		}
		lctx, cancel := context.WithCancel(ctx)
		m.lookupCancel = cancel
		m.lookups.Add(1)
		go m.lookup(lctx, f)
	}
}

func (m *Machine) lookup(ctx context.Context, f lookupFx) {
	defer m.lookups.Done()

	if m.cfg.SettleDelay > 0 {
		timer := time.NewTimer(m.cfg.SettleDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}

	start := time.Now()
	msgs, err := m.cfg.Lookup.Lookup(ctx, f.barcode)
	if ctx.Err() != nil {
		slog.Debug("session: lookup cancelled", "barcode", f.barcode, "generation", f.gen)
		return
	}
	if err != nil {
		slog.Warn("session: lookup failed", "barcode", f.barcode, "error", err)
	} else {
		slog.Debug("session: lookup complete",
			"barcode", f.barcode,
			"messages", len(msgs),
			"latency", time.Since(start),
		)
	}
	m.post(ctx, lookupComplete{gen: f.gen, barcode: f.barcode, messages: msgs, err: err})
}

// publish stores and publishes a snapshot of the record. Called from
// the Run goroutine (or New, before Run starts).
func (m *Machine) publish() {
	m.version++
	s := m.rec.snapshot()
	s.SessionID = m.sessionID
	s.Mode = m.cfg.Mode
	s.Version = m.version
	s.At = time.Now()

	m.snap.Store(&s)
	m.camera.Store(&cameraState{
		accepting: m.rec.acceptingCamera(),
		gen:       m.rec.Generation,
		held:      m.rec.Barcode,
	})

	if m.cfg.Publisher != nil {
		m.cfg.Publisher.Publish(s)
	}
}

// post delivers an internal event unless the machine has stopped.
func (m *Machine) post(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	case <-m.done:
	}
}

// Send queues a display event. It blocks while the queue is full.
func (m *Machine) Send(ctx context.Context, ev Event) error {
	if ev == nil {
		return fmt.Errorf("session: nil event")
	}
	select {
	case <-m.done:
		return ErrStopped
	default:
	}
	select {
	case m.events <- ev:
		return nil
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the latest published snapshot.
func (m *Machine) Snapshot() Snapshot {
	return *m.snap.Load()
}

// SessionID identifies this process's session for its lifetime.
func (m *Machine) SessionID() string { return m.sessionID }

// Mode returns the configured acquisition mode.
func (m *Machine) Mode() Mode { return m.cfg.Mode }

// CameraState reports whether camera frames are wanted, the current
// generation and the held barcode. Safe from any goroutine.
func (m *Machine) CameraState() (accepting bool, generation uint64, held string) {
	c := m.camera.Load()
	return c.accepting, c.gen, c.held
}

// Decoded delivers a decoded value produced under generation.
func (m *Machine) Decoded(ctx context.Context, generation uint64, value string) {
	m.post(ctx, decoded{gen: generation, value: value})
}

// DecodeFailed delivers a hard decoder failure produced under generation.
func (m *Machine) DecodeFailed(ctx context.Context, generation uint64, err error) {
	m.post(ctx, decodeFailed{gen: generation, err: err})
}
