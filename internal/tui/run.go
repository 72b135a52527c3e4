package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ChamodiJayakody/barcode-app/internal/permission"
	"github.com/ChamodiJayakody/barcode-app/internal/session"
	"github.com/ChamodiJayakody/barcode-app/internal/snapbus"
)

// Config configures Run.
type Config struct {
	Session Session
	Bus     *snapbus.Bus[session.Snapshot]
	// Prompter, when set, shows permission prompts inside the UI.
	Prompter *Prompter
	// Input and Output default to the terminal.
	Input  io.Reader
	Output io.Writer
}

// Run shows the UI until the user quits or ctx is done.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Session == nil || cfg.Bus == nil {
		return fmt.Errorf("tui: session and bus are required")
	}

	rx, err := cfg.Bus.SubscribeLatest("tui")
	if err != nil {
		return fmt.Errorf("tui: subscribe: %w", err)
	}
	defer cfg.Bus.Unsubscribe("tui")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}
	if cfg.Input != nil {
		opts = append(opts, tea.WithInput(cfg.Input))
	}
	if cfg.Output != nil {
		opts = append(opts, tea.WithOutput(cfg.Output))
	}

	program := tea.NewProgram(newModel(ctx, cfg.Session, rx), opts...)
	if cfg.Prompter != nil {
		cfg.Prompter.attach(program)
		defer cfg.Prompter.attach(nil)
	}

	slog.Info("tui: started")
	_, err = program.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", err)
	}
	slog.Info("tui: stopped")
	return nil
}

// Prompter asks permission questions inside a running UI.
type Prompter struct {
	mu      sync.Mutex
	program *tea.Program
}

var _ permission.Prompter = (*Prompter)(nil)

// NewPrompter returns a Prompter that answers once Run has started.
func NewPrompter() *Prompter { return &Prompter{} }

func (p *Prompter) attach(program *tea.Program) {
	p.mu.Lock()
	p.program = program
	p.mu.Unlock()
}

// Prompt implements permission.Prompter.
func (p *Prompter) Prompt(ctx context.Context, title, message string) (bool, error) {
	p.mu.Lock()
	program := p.program
	p.mu.Unlock()
	if program == nil {
		return false, fmt.Errorf("tui: no terminal UI running")
	}

	reply := make(chan bool, 1)
	// Send blocks until the event loop reads it; a quitting program drops it.
	go program.Send(promptMsg{title: title, message: message, reply: reply})

	select {
	case ok := <-reply:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
