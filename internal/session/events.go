package session

import "github.com/ChamodiJayakody/barcode-app/internal/permission"

// Event is an input to the machine. Display adapters send the exported
// events; the pipeline and effect goroutines post the unexported ones.
type Event interface {
	eventName() string
}

// StartScan leaves Idle for Scanning.
type StartScan struct{}

// SubmitBarcode submits typed (or keyboard-wedge) input.
type SubmitBarcode struct{ Text string }

// InputChanged reports the current typed draft.
type InputChanged struct{ Text string }

// GoHome resets the session to Idle.
type GoHome struct{}

// ScanAnother leaves Resolved for a fresh Scanning phase.
type ScanAnother struct{}

// RequestPermission explicitly (re)requests camera access.
type RequestPermission struct{}

type decoded struct {
	gen   uint64
	value string
}

type decodeFailed struct {
	gen uint64
	err error
}

type permissionResult struct {
	state permission.State
}

type lookupComplete struct {
	gen      uint64
	barcode  string
	messages []string
	err      error
}

func (StartScan) eventName() string         { return "start_scan" }
func (SubmitBarcode) eventName() string     { return "submit_barcode" }
func (InputChanged) eventName() string      { return "input_changed" }
func (GoHome) eventName() string            { return "go_home" }
func (ScanAnother) eventName() string       { return "scan_another" }
func (RequestPermission) eventName() string { return "request_permission" }
func (decoded) eventName() string           { return "decoded" }
func (decodeFailed) eventName() string      { return "decode_failed" }
func (permissionResult) eventName() string  { return "permission_result" }
func (lookupComplete) eventName() string    { return "lookup_complete" }
