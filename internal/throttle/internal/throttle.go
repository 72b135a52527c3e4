// Package internal implements the frame throttle and decode invoker.
//
// This package is INTERNAL - clients MUST use the public API in the parent package.
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ChamodiJayakody/barcode-app/internal/decoder"
)

// DefaultMaxFPS is the decode rate cap used when none is configured.
const DefaultMaxFPS = 5.0

// MaxFPSLimit is the highest accepted rate cap.
const MaxFPSLimit = 60.0

// throttle is the concrete implementation of throttle.Throttle.
//
// Goroutine topology:
//   - 1 fixed: decodeLoop (spawned by Start, stopped by Stop)
//   - producers call Publish from their own goroutines
type throttle struct {
	decoder Decoder
	sink    Sink
	tracer  trace.Tracer
	limiter *rate.Limiter

	// --- Pending-frame mailbox ---
	inboxMu    sync.Mutex
	inboxCond  *sync.Cond
	inboxFrame *Frame // nil = consumed
	stopped    bool

	// --- Counters (atomic) ---
	published   uint64
	idleDrops   uint64
	rateDrops   uint64
	inboxDrops  uint64
	decodes     uint64
	hits        uint64
	duplicates  uint64
	misses      uint64
	failures    uint64
	stale       uint64
	inFlight    int64
	maxInFlight int64

	lastMu      sync.Mutex
	lastAt      time.Time
	lastLatency time.Duration

	// --- Lifecycle ---
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedMu sync.Mutex
	started   bool
}

// NewThrottle creates a throttle (called by the public New in the parent package).
func NewThrottle(maxFPS float64, dec Decoder, sink Sink, tracer trace.Tracer) *throttle {
	if maxFPS <= 0 {
		maxFPS = DefaultMaxFPS
	}
	t := &throttle{
		decoder: dec,
		sink:    sink,
		tracer:  tracer,
		limiter: rate.NewLimiter(rate.Limit(maxFPS), 1),
		ctx:     context.Background(),
	}
	t.inboxCond = sync.NewCond(&t.inboxMu)
	return t
}

// Start spawns the decode loop and returns immediately.
func (t *throttle) Start(ctx context.Context) error {
	t.startedMu.Lock()
	defer t.startedMu.Unlock()

	if t.started {
		return fmt.Errorf("throttle already started")
	}

	t.ctx, t.cancel = context.WithCancel(ctx)
	t.started = true

	// Wake the loop if the parent context is cancelled while it waits.
	context.AfterFunc(t.ctx, func() {
		t.inboxMu.Lock()
		t.inboxCond.Broadcast()
		t.inboxMu.Unlock()
	})

	t.wg.Add(1)
	go t.decodeLoop()

	slog.Info("throttle: started", "max_fps", float64(t.limiter.Limit()))
	return nil
}

// Stop shuts down the decode loop, waiting for an in-flight decode to return.
// Idempotent.
func (t *throttle) Stop() error {
	t.startedMu.Lock()
	if !t.started {
		t.startedMu.Unlock()
		return nil
	}
	t.started = false
	t.startedMu.Unlock()

	t.inboxMu.Lock()
	t.stopped = true
	t.inboxFrame = nil
	t.inboxCond.Broadcast()
	t.inboxMu.Unlock()

	t.cancel()
	t.wg.Wait()

	slog.Info("throttle: stopped",
		"published", atomic.LoadUint64(&t.published),
		"decodes", atomic.LoadUint64(&t.decodes),
		"hits", atomic.LoadUint64(&t.hits),
	)
	return nil
}

// SetMaxFPS changes the rate cap without restarting.
func (t *throttle) SetMaxFPS(fps float64) error {
	if fps <= 0 || fps > MaxFPSLimit {
		return fmt.Errorf("throttle: invalid max fps %.2f (must be >0 and <=%.0f)", fps, MaxFPSLimit)
	}
	old := float64(t.limiter.Limit())
	t.limiter.SetLimit(rate.Limit(fps))
	slog.Info("throttle: max fps updated", "old", old, "new", fps)
	return nil
}

// decodeLoop takes one pending frame at a time and decodes it. Because it is
// the only caller of the decoder, at most one decode is ever in flight.
func (t *throttle) decodeLoop() {
	defer t.wg.Done()

	for {
		frame := t.next()
		if frame == nil {
			return
		}

		accepting, gen, _ := t.sink.CameraState()
		if !accepting {
			atomic.AddUint64(&t.idleDrops, 1)
			continue
		}

		t.decodeOne(frame, gen)
	}
}

func (t *throttle) decodeOne(frame *Frame, gen uint64) {
	ctx, span := t.tracer.Start(t.ctx, "throttle.decode",
		trace.WithAttributes(
			attribute.Int64("frame.seq", int64(frame.Seq)),
			attribute.Int("frame.width", frame.Width),
			attribute.Int("frame.height", frame.Height),
			attribute.Int64("session.generation", int64(gen)),
		))
	defer span.End()

	n := atomic.AddInt64(&t.inFlight, 1)
	for {
		peak := atomic.LoadInt64(&t.maxInFlight)
		if n <= peak || atomic.CompareAndSwapInt64(&t.maxInFlight, peak, n) {
			break
		}
	}

	start := time.Now()
	value, err := t.decoder.Decode(ctx, frame)
	latency := time.Since(start)

	atomic.AddInt64(&t.inFlight, -1)
	atomic.AddUint64(&t.decodes, 1)
	t.lastMu.Lock()
	t.lastAt = time.Now()
	t.lastLatency = latency
	t.lastMu.Unlock()

	if t.ctx.Err() != nil {
		return
	}

	accepting, current, held := t.sink.CameraState()
	if !accepting || current != gen {
		atomic.AddUint64(&t.stale, 1)
		span.SetAttributes(attribute.String("decode.outcome", "stale"))
		return
	}

	switch {
	case err == nil && value == "":
		err = decoder.ErrNoBarcode
		fallthrough
	case decoder.IsMiss(err):
		atomic.AddUint64(&t.misses, 1)
		span.SetAttributes(attribute.String("decode.outcome", "miss"))

	case err != nil:
		atomic.AddUint64(&t.failures, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("throttle: decoder failure",
			"error", err,
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
		)
		t.sink.DecodeFailed(ctx, gen, err)

	case value == held:
		atomic.AddUint64(&t.duplicates, 1)
		span.SetAttributes(attribute.String("decode.outcome", "duplicate"))

	default:
		atomic.AddUint64(&t.hits, 1)
		span.SetAttributes(attribute.String("decode.outcome", "hit"))
		slog.Debug("throttle: barcode decoded",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
			"latency", latency,
		)
		t.sink.Decoded(ctx, gen, value)
	}
}
