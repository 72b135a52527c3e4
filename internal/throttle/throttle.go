// Package throttle bounds how often camera frames reach the barcode decoder.
//
// Philosophy: "Drop frames, never queue. Latency > Completeness."
//
// Design:
//   - Non-blocking Publish() on the producer side
//   - Rate cap (max_fps) via a token bucket with burst 1
//   - Capacity-1 drop-oldest mailbox in front of a single decode loop
//   - At most one decode in flight
package throttle

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ChamodiJayakody/barcode-app/internal/throttle/internal"
)

// Frame is re-exported from the internal package.
type Frame = internal.Frame

// Decoder is re-exported from the internal package.
type Decoder = internal.Decoder

// Sink is re-exported from the internal package.
type Sink = internal.Sink

// Stats is re-exported from the internal package.
type Stats = internal.Stats

// DefaultMaxFPS is the decode rate cap used when Config.MaxFPS is zero.
const DefaultMaxFPS = internal.DefaultMaxFPS

// MaxFPSLimit is the highest rate cap SetMaxFPS accepts.
const MaxFPSLimit = internal.MaxFPSLimit

// Throttle is the public interface for rate-limited decode invocation.
//
// Lifecycle: New() → Start() → Publish() → Stop(). All methods are safe for
// concurrent use.
type Throttle interface {
	// Start spawns the decode loop. Returns an error if already started.
	Start(ctx context.Context) error

	// Stop shuts the decode loop down, waiting for an in-flight decode.
	// After Stop, Publish is a no-op. Idempotent.
	Stop() error

	// Publish offers a frame for decoding. Never blocks.
	//
	// The frame is dropped when the session is not accepting camera input,
	// when the rate cap is exceeded, or later when a newer frame replaces it
	// in the mailbox before the decode loop takes it.
	//
	// Contract: frame.Data MUST NOT be modified after Publish.
	Publish(frame *Frame)

	// SetMaxFPS changes the rate cap at runtime.
	SetMaxFPS(fps float64) error

	// Stats returns an operational snapshot.
	Stats() Stats
}

// Config configures a Throttle.
type Config struct {
	// MaxFPS caps decode invocations per second (default 5).
	MaxFPS float64
	// Tracer records a span per decode. Nil uses a no-op tracer.
	Tracer trace.Tracer
}

// New creates a Throttle that decodes with dec and reports outcomes to sink.
func New(cfg Config, dec Decoder, sink Sink) Throttle {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("throttle")
	}
	return internal.NewThrottle(cfg.MaxFPS, dec, sink, tracer)
}
