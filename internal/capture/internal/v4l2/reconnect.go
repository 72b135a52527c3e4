package v4l2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
)

// ReconnectConfig contains configuration for exponential backoff restarts
type ReconnectConfig struct {
	MaxRetries    int           // Maximum consecutive restart attempts (default: 5)
	RetryDelay    time.Duration // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 30 seconds)
}

// DefaultReconnectConfig returns default reconnection configuration
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// ReconnectState tracks restart attempts across a stream's lifetime.
type ReconnectState struct {
	Reconnects *uint32 // atomic, total restarts
	policy     backoff.BackOff
}

// NewReconnectState builds the backoff policy for cfg.
func NewReconnectState(cfg ReconnectConfig) *ReconnectState {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.RetryDelay
	exp.MaxInterval = cfg.MaxRetryDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.1
	exp.MaxElapsedTime = 0 // bounded by MaxRetries instead

	return &ReconnectState{
		Reconnects: new(uint32),
		policy:     backoff.WithMaxRetries(exp, uint64(cfg.MaxRetries)),
	}
}

// ConnectFunc runs one pipeline session. attempt is 0 for the first run.
// It returns nil on graceful shutdown and an error when the pipeline fails.
type ConnectFunc func(ctx context.Context, attempt int) error

// ErrNotRetryable wraps errors that a pipeline restart cannot fix.
var ErrNotRetryable = errors.New("not retryable")

// RunWithReconnect runs connectFn, restarting it with exponential backoff
// while it keeps failing. Errors wrapping ErrNotRetryable stop immediately.
//
// Returns nil on graceful shutdown, or an error once retries are exhausted.
func RunWithReconnect(ctx context.Context, connectFn ConnectFunc, state *ReconnectState) error {
	attempt := 0
	operation := func() error {
		if ctx.Err() != nil {
			return nil
		}
		err := connectFn(ctx, attempt)
		attempt++
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotRetryable) {
			return backoff.Permanent(err)
		}
		atomic.AddUint32(state.Reconnects, 1)
		return err
	}

	notify := func(err error, delay time.Duration) {
		slog.Warn("v4l2: restarting pipeline",
			"error", err,
			"attempt", attempt,
			"delay", delay,
		)
	}

	state.policy.Reset()
	err := backoff.RetryNotify(operation, backoff.WithContext(state.policy, ctx), notify)
	if ctx.Err() != nil {
		slog.Info("v4l2: context cancelled, stopping reconnection")
		return nil
	}
	if err != nil {
		return fmt.Errorf("v4l2: pipeline failed after %d attempts: %w", attempt, err)
	}
	return nil
}

// ResetReconnectState resets the retry counter once the pipeline is healthy again.
func ResetReconnectState(state *ReconnectState) {
	state.policy.Reset()
	slog.Debug("v4l2: reconnect state reset")
}
