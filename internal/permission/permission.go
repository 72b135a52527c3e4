// Package permission gates access to the camera.
//
// A Gate answers one RequestPermission call with a tri-state result and
// triggers at most one consent prompt per call. Every platform error is
// reported as Denied (fail-closed).
package permission

import (
	"context"
	"fmt"
	"strings"
)

// State is the camera permission state.
type State int

const (
	Unknown State = iota
	Granted
	Denied
)

func (s State) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "granted":
		*s = Granted
	case "denied":
		*s = Denied
	case "unknown", "":
		*s = Unknown
	default:
		return fmt.Errorf("permission: unknown state %q", b)
	}
	return nil
}

// Gate requests camera access.
type Gate interface {
	RequestPermission(ctx context.Context) State
}

// Static always answers with the same state.
type Static State

// RequestPermission implements Gate.
func (s Static) RequestPermission(context.Context) State {
	return State(s)
}

// Func adapts a function to Gate.
type Func func(ctx context.Context) State

// RequestPermission implements Gate.
func (f Func) RequestPermission(ctx context.Context) State {
	return f(ctx)
}
