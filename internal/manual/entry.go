// Package manual feeds typed or keyboard-wedge barcode input to the session.
package manual

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ChamodiJayakody/barcode-app/internal/session"
)

// Session is the part of session.Machine the entry path drives.
type Session interface {
	Send(ctx context.Context, ev session.Event) error
	Snapshot() session.Snapshot
}

// Config configures an Entry.
type Config struct {
	// AutoStart issues StartScan (Idle) or ScanAnother (Resolved) before a
	// submission so a single scanned line completes a whole cycle.
	AutoStart bool
	// MaxLineBytes bounds one input line (default 4096).
	MaxLineBytes int
}

// Entry reads newline-terminated barcodes and submits each one.
type Entry struct {
	sess Session
	cfg  Config

	lines    uint64
	starts   uint64
	rejected uint64
}

// New returns an Entry driving sess.
func New(sess Session, cfg Config) (*Entry, error) {
	if sess == nil {
		return nil, fmt.Errorf("manual: session is required")
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 4096
	}
	return &Entry{sess: sess, cfg: cfg}, nil
}

// Run reads r until EOF or ctx is done. Each line, minus its line
// terminator, is submitted unchanged; blankness is judged by the session.
//
// A blocked Read on r is not interrupted by ctx; Run returns once the
// current read completes.
func (e *Entry) Run(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 256), e.cfg.MaxLineBytes)
		for sc.Scan() {
			select {
			case lines <- strings.TrimRight(sc.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	slog.Info("manual: entry started", "auto_start", e.cfg.AutoStart)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				var err error
				select {
				case err = <-scanErr:
				default:
				}
				slog.Info("manual: input closed", "lines", e.lines, "rejected", e.rejected)
				if err != nil {
					return fmt.Errorf("manual: read input: %w", err)
				}
				return nil
			}
			if err := e.Submit(ctx, line); err != nil {
				if errors.Is(err, session.ErrStopped) || ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// Submit hands one line to the session, starting a scan first when
// AutoStart is set and no scan is in progress.
func (e *Entry) Submit(ctx context.Context, text string) error {
	e.lines++

	if e.cfg.AutoStart {
		var start session.Event
		switch e.sess.Snapshot().Phase {
		case session.PhaseIdle:
			start = session.StartScan{}
		case session.PhaseResolved:
			start = session.ScanAnother{}
		}
		if start != nil {
			e.starts++
			if err := e.sess.Send(ctx, start); err != nil {
				return fmt.Errorf("manual: start scan: %w", err)
			}
		}
	}

	if strings.TrimSpace(text) == "" {
		e.rejected++
		slog.Debug("manual: blank line submitted")
	} else {
		slog.Debug("manual: line submitted", "length", len(text))
	}

	if err := e.sess.Send(ctx, session.SubmitBarcode{Text: text}); err != nil {
		return fmt.Errorf("manual: submit: %w", err)
	}
	return nil
}
