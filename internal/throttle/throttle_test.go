package throttle_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChamodiJayakody/barcode-app/internal/capture"
	"github.com/ChamodiJayakody/barcode-app/internal/decoder"
	"github.com/ChamodiJayakody/barcode-app/internal/throttle"
)

// --- Test doubles ---

// fakeSink is a controllable session stand-in.
type fakeSink struct {
	accepting atomic.Bool
	gen       atomic.Uint64

	mu       sync.Mutex
	held     string
	decoded  []string
	failures []error
}

func newFakeSink() *fakeSink {
	s := &fakeSink{}
	s.accepting.Store(true)
	s.gen.Store(1)
	return s
}

func (s *fakeSink) CameraState() (bool, uint64, string) {
	s.mu.Lock()
	held := s.held
	s.mu.Unlock()
	return s.accepting.Load(), s.gen.Load(), held
}

func (s *fakeSink) Decoded(_ context.Context, _ uint64, value string) {
	s.mu.Lock()
	s.decoded = append(s.decoded, value)
	s.mu.Unlock()
}

func (s *fakeSink) DecodeFailed(_ context.Context, _ uint64, err error) {
	s.mu.Lock()
	s.failures = append(s.failures, err)
	s.mu.Unlock()
}

func (s *fakeSink) setHeld(v string) {
	s.mu.Lock()
	s.held = v
	s.mu.Unlock()
}

func (s *fakeSink) snapshot() ([]string, []error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.decoded...), append([]error(nil), s.failures...)
}

// gatedDecoder returns a fixed outcome, optionally waiting on a gate first.
type gatedDecoder struct {
	value string
	err   error
	gate  chan struct{} // nil = never blocks

	calls atomic.Int64
	seqs  chan uint64
}

func (d *gatedDecoder) Decode(ctx context.Context, frame *capture.Frame) (string, error) {
	d.calls.Add(1)
	if d.seqs != nil {
		select {
		case d.seqs <- frame.Seq:
		default:
		}
	}
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return d.value, d.err
}

func newFrame(seq uint64) *throttle.Frame {
	return &throttle.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     4,
		Height:    4,
		Format:    capture.FormatGray8,
		Data:      make([]byte, 16),
	}
}

func startThrottle(t *testing.T, cfg throttle.Config, dec throttle.Decoder, sink throttle.Sink) throttle.Throttle {
	t.Helper()
	th := throttle.New(cfg, dec, sink)
	if err := th.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = th.Stop() })
	return th
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// --- Publish path ---

// TestPublishNonBlocking validates Publish returns immediately while a decode
// is stuck.
func TestPublishNonBlocking(t *testing.T) {
	sink := newFakeSink()
	dec := &gatedDecoder{value: "A", gate: make(chan struct{})}
	th := startThrottle(t, throttle.Config{MaxFPS: 60}, dec, sink)
	defer close(dec.gate)

	th.Publish(newFrame(1))
	waitFor(t, "decode in flight", func() bool { return th.Stats().InFlight == 1 })

	start := time.Now()
	for i := 0; i < 1000; i++ {
		th.Publish(newFrame(uint64(i + 2)))
	}
	elapsed := time.Since(start)

	if elapsed > 100*time.Millisecond {
		t.Errorf("1000 Publish calls took %v while decoder was blocked", elapsed)
	}
	t.Logf("✅ Publish non-blocking: 1000 calls in %v", elapsed)
}

// TestIdleDrops validates frames are dropped while the session does not want
// camera input, and the decoder is never invoked.
func TestIdleDrops(t *testing.T) {
	sink := newFakeSink()
	sink.accepting.Store(false)
	dec := &gatedDecoder{value: "A"}
	th := startThrottle(t, throttle.Config{MaxFPS: 60}, dec, sink)

	for i := 0; i < 5; i++ {
		th.Publish(newFrame(uint64(i)))
	}
	time.Sleep(20 * time.Millisecond)

	stats := th.Stats()
	if stats.IdleDrops != 5 {
		t.Errorf("IdleDrops = %d, want 5", stats.IdleDrops)
	}
	if dec.calls.Load() != 0 {
		t.Errorf("decoder called %d times while idle", dec.calls.Load())
	}
	t.Logf("✅ Idle frames dropped: %d", stats.IdleDrops)
}

// TestRateDrops validates the max_fps cap with burst 1.
func TestRateDrops(t *testing.T) {
	sink := newFakeSink()
	dec := &gatedDecoder{err: decoder.ErrNoBarcode}
	th := startThrottle(t, throttle.Config{MaxFPS: 1}, dec, sink)

	for i := 0; i < 10; i++ {
		th.Publish(newFrame(uint64(i)))
	}
	waitFor(t, "first decode", func() bool { return th.Stats().Decodes == 1 })

	stats := th.Stats()
	if stats.RateDrops != 9 {
		t.Errorf("RateDrops = %d, want 9", stats.RateDrops)
	}
	if stats.Published != 10 {
		t.Errorf("Published = %d, want 10", stats.Published)
	}
	t.Logf("✅ Rate cap: 1 admitted, %d dropped", stats.RateDrops)
}

// TestInboxOverwrite validates drop-oldest: frames arriving while a decode is
// running replace each other, and only the newest is decoded next.
func TestInboxOverwrite(t *testing.T) {
	sink := newFakeSink()
	dec := &gatedDecoder{
		err:  decoder.ErrNoBarcode,
		gate: make(chan struct{}),
		seqs: make(chan uint64, 8),
	}
	th := startThrottle(t, throttle.Config{MaxFPS: 60}, dec, sink)

	th.Publish(newFrame(1))
	waitFor(t, "decode in flight", func() bool { return th.Stats().InFlight == 1 })

	// Space publishes past the 60 fps limiter.
	for seq := uint64(2); seq <= 4; seq++ {
		time.Sleep(25 * time.Millisecond)
		th.Publish(newFrame(seq))
	}

	close(dec.gate)
	waitFor(t, "second decode", func() bool { return th.Stats().Decodes == 2 })

	got := []uint64{<-dec.seqs, <-dec.seqs}
	if got[0] != 1 || got[1] != 4 {
		t.Errorf("decoded seqs = %v, want [1 4]", got)
	}
	if stats := th.Stats(); stats.InboxDrops != 2 {
		t.Errorf("InboxDrops = %d, want 2", stats.InboxDrops)
	}
	t.Logf("✅ Pending frame overwritten, newest decoded")
}

// TestSingleDecodeInFlight validates at most one decode runs at a time under
// concurrent producers.
func TestSingleDecodeInFlight(t *testing.T) {
	sink := newFakeSink()
	dec := throttle.Decoder(decoder.Func(func(ctx context.Context, _ *capture.Frame) (string, error) {
		time.Sleep(time.Millisecond)
		return "", decoder.ErrNoBarcode
	}))
	th := startThrottle(t, throttle.Config{MaxFPS: 60}, dec, sink)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				th.Publish(newFrame(uint64(p*100 + i)))
				time.Sleep(time.Millisecond)
			}
		}(p)
	}
	wg.Wait()
	time.Sleep(20 * time.Millisecond)

	stats := th.Stats()
	if stats.MaxInFlight > 1 {
		t.Errorf("MaxInFlight = %d, want <= 1", stats.MaxInFlight)
	}
	if stats.Decodes == 0 {
		t.Error("no decodes ran")
	}
	t.Logf("✅ Single in-flight decode: %d decodes, max in flight %d", stats.Decodes, stats.MaxInFlight)
}

// --- Outcome routing ---

func TestOutcomes(t *testing.T) {
	hard := decoder.Fail("fake", "sensor exploded", nil)

	tests := []struct {
		name         string
		value        string
		err          error
		held         string
		wantDecoded  []string
		wantFailures int
		check        func(throttle.Stats) bool
	}{
		{
			name:        "hit forwarded",
			value:       "4006381333931",
			wantDecoded: []string{"4006381333931"},
			check:       func(s throttle.Stats) bool { return s.Hits == 1 },
		},
		{
			name:  "duplicate of held value suppressed",
			value: "SKU-1",
			held:  "SKU-1",
			check: func(s throttle.Stats) bool { return s.Duplicates == 1 },
		},
		{
			name:  "miss silent",
			err:   decoder.ErrNoBarcode,
			check: func(s throttle.Stats) bool { return s.Misses == 1 },
		},
		{
			name:  "empty value is a miss",
			check: func(s throttle.Stats) bool { return s.Misses == 1 },
		},
		{
			name:         "hard failure forwarded",
			err:          hard,
			wantFailures: 1,
			check:        func(s throttle.Stats) bool { return s.Failures == 1 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := newFakeSink()
			sink.setHeld(tt.held)
			dec := &gatedDecoder{value: tt.value, err: tt.err}
			th := startThrottle(t, throttle.Config{MaxFPS: 60}, dec, sink)

			th.Publish(newFrame(1))
			waitFor(t, "decode", func() bool { return th.Stats().Decodes == 1 })
			waitFor(t, "outcome counted", func() bool { return tt.check(th.Stats()) })

			decoded, failures := sink.snapshot()
			if len(decoded) != len(tt.wantDecoded) {
				t.Fatalf("decoded = %v, want %v", decoded, tt.wantDecoded)
			}
			for i := range decoded {
				if decoded[i] != tt.wantDecoded[i] {
					t.Errorf("decoded[%d] = %q, want %q", i, decoded[i], tt.wantDecoded[i])
				}
			}
			if len(failures) != tt.wantFailures {
				t.Fatalf("failures = %v, want %d", failures, tt.wantFailures)
			}
			if tt.wantFailures > 0 && !errors.Is(failures[0], hard) {
				t.Errorf("failure = %v, want %v", failures[0], hard)
			}
			t.Logf("✅ %s", tt.name)
		})
	}
}

// TestStaleGenerationDiscarded validates a result is dropped when the session
// moved on while the decoder was running.
func TestStaleGenerationDiscarded(t *testing.T) {
	sink := newFakeSink()
	dec := &gatedDecoder{value: "OLD", gate: make(chan struct{})}
	th := startThrottle(t, throttle.Config{MaxFPS: 60}, dec, sink)

	th.Publish(newFrame(1))
	waitFor(t, "decode in flight", func() bool { return th.Stats().InFlight == 1 })

	sink.gen.Add(1)
	close(dec.gate)
	waitFor(t, "stale counted", func() bool { return th.Stats().Stale == 1 })

	if decoded, _ := sink.snapshot(); len(decoded) != 0 {
		t.Errorf("stale value forwarded: %v", decoded)
	}
	t.Logf("✅ Stale generation result discarded")
}

// TestResultDiscardedWhenNoLongerAccepting validates a result arriving after
// the session stopped wanting camera input is dropped.
func TestResultDiscardedWhenNoLongerAccepting(t *testing.T) {
	sink := newFakeSink()
	dec := &gatedDecoder{value: "LATE", gate: make(chan struct{})}
	th := startThrottle(t, throttle.Config{MaxFPS: 60}, dec, sink)

	th.Publish(newFrame(1))
	waitFor(t, "decode in flight", func() bool { return th.Stats().InFlight == 1 })

	sink.accepting.Store(false)
	close(dec.gate)
	waitFor(t, "stale counted", func() bool { return th.Stats().Stale == 1 })

	if decoded, _ := sink.snapshot(); len(decoded) != 0 {
		t.Errorf("value forwarded after accepting=false: %v", decoded)
	}
	t.Logf("✅ Late result dropped")
}

// --- Runtime control ---

func TestSetMaxFPS(t *testing.T) {
	th := throttle.New(throttle.Config{}, &gatedDecoder{}, newFakeSink())

	if got := th.Stats().MaxFPS; got != throttle.DefaultMaxFPS {
		t.Errorf("default MaxFPS = %v, want %v", got, throttle.DefaultMaxFPS)
	}

	tests := []struct {
		fps     float64
		wantErr bool
	}{
		{fps: 10},
		{fps: 60},
		{fps: 0.5},
		{fps: 0, wantErr: true},
		{fps: -1, wantErr: true},
		{fps: 61, wantErr: true},
	}
	for _, tt := range tests {
		err := th.SetMaxFPS(tt.fps)
		if (err != nil) != tt.wantErr {
			t.Errorf("SetMaxFPS(%v) error = %v, wantErr %v", tt.fps, err, tt.wantErr)
			continue
		}
		if err == nil && th.Stats().MaxFPS != tt.fps {
			t.Errorf("MaxFPS = %v after SetMaxFPS(%v)", th.Stats().MaxFPS, tt.fps)
		}
	}
	t.Logf("✅ SetMaxFPS validated")
}

// --- Lifecycle ---

func TestStartStopIdempotency(t *testing.T) {
	th := throttle.New(throttle.Config{}, &gatedDecoder{}, newFakeSink())

	if err := th.Start(context.Background()); err != nil {
		t.Fatalf("First Start() failed: %v", err)
	}
	if err := th.Start(context.Background()); err == nil {
		t.Error("Second Start() succeeded (expected error)")
	}
	if err := th.Stop(); err != nil {
		t.Fatalf("First Stop() failed: %v", err)
	}
	if err := th.Stop(); err != nil {
		t.Errorf("Second Stop() failed: %v", err)
	}

	// Publish after Stop must not panic or decode.
	th.Publish(newFrame(1))
	th.Publish(nil)

	t.Logf("✅ Start/Stop idempotency validated")
}

// TestStopWaitsForInFlightDecode validates Stop cancels the decode context
// and returns once the decoder does.
func TestStopWaitsForInFlightDecode(t *testing.T) {
	sink := newFakeSink()
	dec := &gatedDecoder{value: "A", gate: make(chan struct{})}
	th := throttle.New(throttle.Config{MaxFPS: 60}, dec, sink)
	if err := th.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	th.Publish(newFrame(1))
	waitFor(t, "decode in flight", func() bool { return th.Stats().InFlight == 1 })

	done := make(chan struct{})
	go func() {
		_ = th.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return with a decode in flight")
	}
	if decoded, _ := sink.snapshot(); len(decoded) != 0 {
		t.Errorf("value forwarded during shutdown: %v", decoded)
	}
	t.Logf("✅ Stop cancels in-flight decode")
}

// TestParentContextCancel validates the decode loop exits when the parent
// context is cancelled.
func TestParentContextCancel(t *testing.T) {
	th := throttle.New(throttle.Config{}, &gatedDecoder{}, newFakeSink())
	ctx, cancel := context.WithCancel(context.Background())
	if err := th.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	cancel()

	done := make(chan struct{})
	go func() {
		_ = th.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() hung after parent cancel")
	}
	t.Logf("✅ Parent cancel stops decode loop")
}
