package v4l2

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory classifies pipeline errors for telemetry and retry decisions.
type ErrorCategory int

const (
	// ErrCategoryDevice covers a missing, unplugged or busy camera.
	ErrCategoryDevice ErrorCategory = iota
	// ErrCategoryFormat covers caps negotiation failures (unsupported size or format).
	ErrCategoryFormat
	// ErrCategoryAccess covers permission denials on the device node.
	ErrCategoryAccess
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryFormat:
		return "format"
	case ErrCategoryAccess:
		return "access"
	default:
		return "unknown"
	}
}

// Retryable reports whether restarting the pipeline can help.
// Format and access errors need a configuration or permission change.
func (e ErrorCategory) Retryable() bool {
	return e == ErrCategoryDevice || e == ErrCategoryUnknown
}

var (
	accessKeywords = []string{"permission denied", "eacces", "not permitted", "access"}
	formatKeywords = []string{"not negotiated", "negotiation", "caps", "format", "not-negotiated", "unsupported"}
	deviceKeywords = []string{"no such file", "no such device", "cannot identify device", "busy",
		"could not open", "failed to open", "resource", "unplugged", "disconnected", "enodev"}
)

// ClassifyGStreamerError categorizes a GStreamer error by message heuristics.
// go-gst's GError does not expose the error domain, so string matching is used.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return ClassifyMessage(gerr.Error(), gerr.DebugString())
}

// ClassifyMessage applies the classification heuristics to raw strings.
func ClassifyMessage(msg, debug string) ErrorCategory {
	combined := strings.ToLower(msg + " " + debug)
	switch {
	case containsAny(combined, accessKeywords):
		return ErrCategoryAccess
	case containsAny(combined, formatKeywords):
		return ErrCategoryFormat
	case containsAny(combined, deviceKeywords):
		return ErrCategoryDevice
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
