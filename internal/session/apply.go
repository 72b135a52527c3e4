package session

import (
	"strings"

	"github.com/ChamodiJayakody/barcode-app/internal/permission"
)

// User-visible error texts.
const (
	ErrTextBlank        = "Please scan a barcode before continuing."
	errTextLookupPrefix = "Could not load messages: "
	errTextDecodePrefix = "Could not read barcode: "
)

// effect is work the loop starts after a transition.
type effect interface{ isEffect() }

type requestPermissionFx struct{}

type lookupFx struct {
	gen     uint64
	barcode string
}

type cancelLookupFx struct{}

func (requestPermissionFx) isEffect() {}
func (lookupFx) isEffect()            {}
func (cancelLookupFx) isEffect()      {}

// apply performs one transition on r. changed is false when the event was
// ignored (stale, duplicate, or not valid in the current phase), in which
// case r is untouched.
func apply(r *Record, ev Event, mode Mode) (fx []effect, changed bool) {
	switch ev := ev.(type) {
	case StartScan:
		if r.Phase != PhaseIdle {
			return nil, false
		}
		r.reset()
		return r.enterScanning(mode), true

	case ScanAnother:
		if r.Phase != PhaseResolved {
			return nil, false
		}
		r.reset()
		fx = append(fx, cancelLookupFx{})
		return append(fx, r.enterScanning(mode)...), true

	case GoHome:
		r.reset()
		r.Phase = PhaseIdle
		return []effect{cancelLookupFx{}}, true

	case InputChanged:
		if r.Phase != PhaseScanning || r.Loading || !mode.AllowsManual() {
			return nil, false
		}
		r.Draft = ev.Text
		r.Error = ""
		return nil, true

	case SubmitBarcode:
		if r.Phase != PhaseScanning || r.Loading || !mode.AllowsManual() {
			return nil, false
		}
		if strings.TrimSpace(ev.Text) == "" {
			r.Error = ErrTextBlank
			return nil, true
		}
		// Stored as typed; trimming is for validation only.
		return r.accept(ev.Text), true

	case decoded:
		if ev.gen != r.Generation || !r.acceptingCamera() || ev.value == "" || ev.value == r.Barcode {
			return nil, false
		}
		return r.accept(ev.value), true

	case decodeFailed:
		if ev.gen != r.Generation || !r.acceptingCamera() {
			return nil, false
		}
		text := errTextDecodePrefix + errString(ev.err)
		if r.Error == text {
			return nil, false
		}
		r.Error = text
		r.Loading = false
		return nil, true

	case lookupComplete:
		if ev.gen != r.Generation || !r.Loading || ev.barcode != r.Barcode {
			return nil, false
		}
		r.Loading = false
		if ev.err != nil {
			// Barcode stays held so a steadily presented code does not
			// retrigger the failing lookup; a different code or a manual
			// submission retries.
			r.Error = errTextLookupPrefix + ev.err.Error()
			return nil, true
		}
		r.Phase = PhaseResolved
		r.Messages = append(make([]string, 0, len(ev.messages)), ev.messages...)
		r.Error = ""
		r.CameraActive = false
		return nil, true

	case RequestPermission:
		if !mode.UsesCamera() || r.Permission == permission.Granted {
			return nil, false
		}
		if r.Phase == PhaseIdle {
			r.AwaitingPermission = true
		}
		if r.permissionInFlight {
			return nil, true
		}
		r.permissionInFlight = true
		return []effect{requestPermissionFx{}}, true

	case permissionResult:
		r.permissionInFlight = false
		r.Permission = ev.state
		switch {
		case r.Phase == PhaseIdle && r.AwaitingPermission:
			r.AwaitingPermission = false
			r.routeByPermission(mode)
		case r.Phase == PhaseScanning && !r.Loading && r.Barcode == "":
			r.CameraActive = ev.state == permission.Granted
		}
		return nil, true
	}
	return nil, false
}

// reset clears the attempt and invalidates every outstanding async result.
func (r *Record) reset() {
	r.Barcode = ""
	r.Messages = nil
	r.Loading = false
	r.Error = ""
	r.Draft = ""
	r.CameraActive = false
	r.AwaitingPermission = false
	r.Generation++
}

// enterScanning routes a fresh attempt by mode and permission. Without a
// known permission it requests one; camera-only mode waits in Idle while
// hybrid scans manually until the answer arrives.
func (r *Record) enterScanning(mode Mode) []effect {
	if !mode.UsesCamera() {
		r.Phase = PhaseScanning
		return nil
	}
	if r.Permission != permission.Unknown {
		r.routeByPermission(mode)
		return nil
	}

	if mode.AllowsManual() {
		r.Phase = PhaseScanning
		r.CameraActive = false
	} else {
		r.Phase = PhaseIdle
		r.AwaitingPermission = true
	}
	if r.permissionInFlight {
		return nil
	}
	r.permissionInFlight = true
	return []effect{requestPermissionFx{}}
}

// routeByPermission leaves Idle once the permission is known.
func (r *Record) routeByPermission(mode Mode) {
	switch {
	case r.Permission == permission.Granted:
		r.Phase = PhaseScanning
		r.CameraActive = true
	case mode.AllowsManual():
		// hybrid without camera: manual-only scanning
		r.Phase = PhaseScanning
		r.CameraActive = false
	default:
		// camera-only and denied: stay on the permission screen
		r.Phase = PhaseIdle
		r.CameraActive = false
	}
}

func (r *Record) accept(value string) []effect {
	r.Barcode = value
	r.Loading = true
	r.Error = ""
	r.Draft = ""
	return []effect{lookupFx{gen: r.Generation, barcode: value}}
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
