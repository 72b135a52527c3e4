package permission

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sys/unix"
)

// Prompter asks the user for consent.
type Prompter interface {
	Prompt(ctx context.Context, title, message string) (bool, error)
}

// DeviceGate grants access when the video device is readable and writable by
// this process and the user consents.
type DeviceGate struct {
	Device  string
	Title   string
	Message string
	// Prompter asks for consent. Nil skips the prompt.
	Prompter Prompter

	// access defaults to unix.Access; replaced in tests.
	access func(path string, mode uint32) error
}

// NewDeviceGate builds a gate for device.
func NewDeviceGate(device, title, message string, p Prompter) *DeviceGate {
	return &DeviceGate{
		Device:   device,
		Title:    title,
		Message:  message,
		Prompter: p,
		access:   unix.Access,
	}
}

// RequestPermission implements Gate.
func (g *DeviceGate) RequestPermission(ctx context.Context) State {
	if g.Device == "" {
		slog.Warn("permission: no camera device configured")
		return Denied
	}

	access := g.access
	if access == nil {
		access = unix.Access
	}
	if err := access(g.Device, unix.R_OK|unix.W_OK); err != nil {
		slog.Warn("permission: camera device not accessible",
			"device", g.Device,
			"error", err,
		)
		return Denied
	}

	state := ask(ctx, g.Prompter, g.Title, g.Message)
	if state == Granted {
		slog.Info("permission: camera access granted", "device", g.Device)
	}
	return state
}

// ConsentGate only asks the user. It serves sources without a device node
// (image replay, synthetic frames).
type ConsentGate struct {
	Title    string
	Message  string
	Prompter Prompter // nil grants without asking
}

// RequestPermission implements Gate.
func (g ConsentGate) RequestPermission(ctx context.Context) State {
	return ask(ctx, g.Prompter, g.Title, g.Message)
}

func ask(ctx context.Context, p Prompter, title, message string) State {
	if p == nil {
		return Granted
	}
	ok, err := p.Prompt(ctx, title, message)
	if err != nil {
		slog.Warn("permission: consent prompt failed", "error", err)
		return Denied
	}
	if !ok {
		slog.Info("permission: camera access declined by user")
		return Denied
	}
	return Granted
}

// AutoPrompter answers every prompt with Answer.
type AutoPrompter struct {
	Answer bool
}

// Prompt implements Prompter.
func (p AutoPrompter) Prompt(context.Context, string, string) (bool, error) {
	return p.Answer, nil
}

// TerminalPrompter asks a y/N question on a line-oriented terminal.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer
}

// Prompt implements Prompter. Only "y" and "yes" (any case) consent.
func (p TerminalPrompter) Prompt(ctx context.Context, title, message string) (bool, error) {
	if _, err := fmt.Fprintf(p.Out, "%s\n%s [y/N]: ", title, message); err != nil {
		return false, fmt.Errorf("failed to write prompt: %w", err)
	}

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		ch <- answer{line, err}
	}()

	select {
	case a := <-ch:
		if a.err != nil {
			return false, fmt.Errorf("failed to read answer: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
