package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/ChamodiJayakody/barcode-app/internal/permission"
)

// Phase is the coarse state of a scan session.
type Phase int

const (
	// PhaseIdle: no barcode captured, no results.
	PhaseIdle Phase = iota
	// PhaseScanning: acquiring a barcode (camera active or manual input focused).
	PhaseScanning
	// PhaseResolved: a barcode was accepted and its messages are displayed.
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseScanning:
		return "scanning"
	case PhaseResolved:
		return "resolved"
	default:
		return "idle"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*p = PhaseIdle
	case "scanning":
		*p = PhaseScanning
	case "resolved":
		*p = PhaseResolved
	default:
		return fmt.Errorf("session: unknown phase %q", b)
	}
	return nil
}

// Mode selects which acquisition paths are enabled.
type Mode int

const (
	// ModeHybrid offers the camera when permitted and manual entry always.
	ModeHybrid Mode = iota
	// ModeCamera acquires from the camera only.
	ModeCamera
	// ModeManual acquires from typed input only and never asks for the camera.
	ModeManual
)

func (m Mode) String() string {
	switch m {
	case ModeCamera:
		return "camera"
	case ModeManual:
		return "manual"
	default:
		return "hybrid"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMode parses "manual", "camera" or "hybrid" ("" is hybrid).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hybrid":
		return ModeHybrid, nil
	case "camera":
		return ModeCamera, nil
	case "manual":
		return ModeManual, nil
	default:
		return 0, fmt.Errorf("session: unknown mode %q (want manual, camera or hybrid)", s)
	}
}

// UsesCamera reports whether the mode can scan with the camera.
func (m Mode) UsesCamera() bool { return m != ModeManual }

// AllowsManual reports whether typed input is accepted.
func (m Mode) AllowsManual() bool { return m != ModeCamera }

// Record is the single session record. Only the machine loop mutates it.
type Record struct {
	Phase    Phase
	Barcode  string
	Messages []string // nil until resolved
	Loading  bool
	Error    string

	Permission         permission.State
	CameraActive       bool
	AwaitingPermission bool
	Draft              string

	// Generation increments on every reset; async results carry the value
	// they were started under.
	Generation uint64

	// permissionInFlight keeps at most one request outstanding.
	permissionInFlight bool
}

// acceptingCamera reports whether decoded camera values may be applied.
func (r *Record) acceptingCamera() bool {
	return r.Phase == PhaseScanning && r.CameraActive && !r.Loading
}

// Snapshot is an immutable copy of the record published after every
// transition.
type Snapshot struct {
	SessionID string `json:"session_id"`
	Mode      Mode   `json:"mode"`
	// Version increases by one per published snapshot.
	Version uint64 `json:"version"`

	Phase    Phase    `json:"phase"`
	Barcode  string   `json:"barcode"`
	Messages []string `json:"messages"`
	Loading  bool     `json:"loading"`
	Error    string   `json:"error"`

	Permission         permission.State `json:"permission"`
	CameraActive       bool             `json:"camera_active"`
	AwaitingPermission bool             `json:"awaiting_permission"`
	Draft              string           `json:"draft"`
	Generation         uint64           `json:"generation"`

	At time.Time `json:"at"`
}

// Resolved reports whether messages have been resolved (possibly empty).
func (s Snapshot) Resolved() bool { return s.Phase == PhaseResolved }

func (r *Record) snapshot() Snapshot {
	var msgs []string
	if r.Messages != nil {
		msgs = append(make([]string, 0, len(r.Messages)), r.Messages...)
	}
	return Snapshot{
		Phase:              r.Phase,
		Barcode:            r.Barcode,
		Messages:           msgs,
		Loading:            r.Loading,
		Error:              r.Error,
		Permission:         r.Permission,
		CameraActive:       r.CameraActive,
		AwaitingPermission: r.AwaitingPermission,
		Draft:              r.Draft,
		Generation:         r.Generation,
	}
}
