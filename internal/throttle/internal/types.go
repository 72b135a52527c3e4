package internal

import (
	"context"
	"time"

	"github.com/ChamodiJayakody/barcode-app/internal/capture"
)

// Frame is the capture frame type. The throttle never copies or mutates it.
type Frame = capture.Frame

// Decoder is the single-call decode capability invoked by the decode loop.
type Decoder interface {
	Decode(ctx context.Context, frame *Frame) (string, error)
}

// Sink receives decode outcomes and reports whether camera input is wanted.
//
// Generation is read when a frame is taken from the mailbox and echoed back
// with the outcome, so the receiver can discard results from an older session.
type Sink interface {
	// CameraState returns whether camera frames are accepted, the current
	// generation and the barcode value currently held ("" when none).
	CameraState() (accepting bool, generation uint64, held string)
	// Decoded delivers a non-empty value distinct from the held one.
	Decoded(ctx context.Context, generation uint64, value string)
	// DecodeFailed delivers a hard decoder failure.
	DecodeFailed(ctx context.Context, generation uint64, err error)
}

// Stats is a snapshot of throttle operational state.
type Stats struct {
	// Published counts every frame handed to Publish.
	Published uint64
	// IdleDrops counts frames dropped because the session was not accepting camera input.
	IdleDrops uint64
	// RateDrops counts frames dropped by the max_fps limiter.
	RateDrops uint64
	// InboxDrops counts pending frames overwritten while a decode was running.
	InboxDrops uint64

	// Decodes counts decoder invocations.
	Decodes uint64
	// Hits counts decodes that produced a forwarded value.
	Hits uint64
	// Duplicates counts decoded values equal to the held barcode (not forwarded).
	Duplicates uint64
	// Misses counts "no barcode present" outcomes (silently discarded).
	Misses uint64
	// Failures counts hard decoder failures (forwarded).
	Failures uint64
	// Stale counts outcomes discarded because the session moved on during the decode.
	Stale uint64

	// InFlight is the number of decodes currently running (0 or 1).
	InFlight int64
	// MaxInFlight is the highest InFlight ever observed. Must never exceed 1.
	MaxInFlight int64

	// MaxFPS is the current rate cap.
	MaxFPS float64
	// LastDecodeAt is when the last decode finished.
	LastDecodeAt time.Time
	// LastDecodeLatency is the duration of the last decode.
	LastDecodeLatency time.Duration
}
