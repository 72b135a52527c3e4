// Package tui renders the scan session in a terminal and turns keys into
// session events. It owns no state beyond the last snapshot and the text
// being typed; every transition comes back from the session as a snapshot.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ChamodiJayakody/barcode-app/internal/permission"
	"github.com/ChamodiJayakody/barcode-app/internal/session"
	"github.com/ChamodiJayakody/barcode-app/internal/snapbus"
)

// Session is the part of session.Machine the UI drives.
type Session interface {
	Send(ctx context.Context, ev session.Event) error
	Snapshot() session.Snapshot
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	barcodeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	itemStyle    = lipgloss.NewStyle().PaddingLeft(2)
	promptStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type snapshotMsg session.Snapshot

type streamClosedMsg struct{}

type promptMsg struct {
	title   string
	message string
	reply   chan<- bool
}

type model struct {
	ctx  context.Context
	sess Session
	rx   *snapbus.Receiver[session.Snapshot]

	snap    session.Snapshot
	input   textinput.Model
	spinner spinner.Model
	prompt  *promptMsg
	err     error
	width   int
}

func newModel(ctx context.Context, sess Session, rx *snapbus.Receiver[session.Snapshot]) *model {
	in := textinput.New()
	in.Placeholder = "type or scan a barcode"
	in.CharLimit = 256
	in.Width = 40

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	return &model{
		ctx:     ctx,
		sess:    sess,
		rx:      rx,
		snap:    sess.Snapshot(),
		input:   in,
		spinner: sp,
		width:   80,
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen())
}

// listen waits for the next snapshot newer than the last one read.
func (m *model) listen() tea.Cmd {
	if m.rx == nil {
		return nil
	}
	return func() tea.Msg {
		snap, err := m.rx.Receive(m.ctx)
		if err != nil {
			return streamClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m *model) send(ev session.Event) {
	ctx, cancel := context.WithTimeout(m.ctx, time.Second)
	defer cancel()
	m.err = m.sess.Send(ctx, ev)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		return m, tea.Batch(m.applySnapshot(session.Snapshot(msg)), m.listen())

	case streamClosedMsg:
		return m, tea.Quit

	case promptMsg:
		m.prompt = &msg
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m *model) applySnapshot(snap session.Snapshot) tea.Cmd {
	prev := m.snap
	if snap.Version <= prev.Version {
		return nil
	}
	m.snap = snap

	typing := snap.Phase == session.PhaseScanning && !snap.Loading && snap.Barcode == "" && snap.Mode.AllowsManual()
	switch {
	case !typing:
		m.input.Reset()
		m.input.Blur()
	case snap.Generation != prev.Generation || !m.input.Focused():
		m.input.Reset()
		return m.input.Focus()
	}
	return nil
}

func (m *model) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	if m.prompt != nil {
		switch strings.ToLower(key.String()) {
		case "y":
			m.answer(true)
		case "n", "esc":
			m.answer(false)
		}
		return m, nil
	}

	switch m.snap.Phase {
	case session.PhaseIdle:
		switch key.String() {
		case "enter", "s":
			m.send(session.StartScan{})
		case "p":
			m.send(session.RequestPermission{})
		case "q":
			return m, tea.Quit
		}

	case session.PhaseScanning:
		if key.Type == tea.KeyEsc {
			m.send(session.GoHome{})
			return m, nil
		}
		if !m.input.Focused() {
			if key.String() == "p" {
				m.send(session.RequestPermission{})
			}
			return m, nil
		}
		if key.Type == tea.KeyEnter {
			m.send(session.SubmitBarcode{Text: m.input.Value()})
			return m, nil
		}
		before := m.input.Value()
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(key)
		if v := m.input.Value(); v != before {
			m.send(session.InputChanged{Text: v})
		}
		return m, cmd

	case session.PhaseResolved:
		switch key.String() {
		case "enter", "n":
			m.send(session.ScanAnother{})
		case "esc", "h":
			m.send(session.GoHome{})
		case "q":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *model) answer(ok bool) {
	select {
	case m.prompt.reply <- ok:
	default:
	}
	m.prompt = nil
}

func (m *model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Broadcast messages"))
	b.WriteString("\n\n")

	if m.prompt != nil {
		b.WriteString(promptStyle.Render(fmt.Sprintf("%s\n\n%s\n\n[y] allow   [n] deny", m.prompt.title, m.prompt.message)))
		b.WriteString("\n")
		return b.String()
	}

	s := m.snap
	switch s.Phase {
	case session.PhaseIdle:
		switch {
		case s.AwaitingPermission:
			b.WriteString(m.spinner.View() + " Waiting for camera permission...\n")
		case s.Permission == permission.Denied && s.Mode == session.ModeCamera:
			b.WriteString("Camera permission is required to scan barcodes.\n")
			b.WriteString(helpStyle.Render("p: request permission   q: quit"))
		default:
			b.WriteString("Scan a barcode to see its messages.\n\n")
			b.WriteString(helpStyle.Render("enter: start scan   q: quit"))
		}

	case session.PhaseScanning:
		if s.CameraActive {
			b.WriteString(m.spinner.View() + " Camera active, hold a barcode in view\n")
		} else if s.Mode.UsesCamera() && s.Permission == permission.Denied {
			b.WriteString("Camera unavailable, enter the barcode manually\n")
		} else if s.Mode.UsesCamera() && s.Permission == permission.Unknown {
			b.WriteString(m.spinner.View() + " Waiting for camera permission, type the barcode meanwhile\n")
		}
		if s.Loading {
			fmt.Fprintf(&b, "%s Loading messages for %s\n", m.spinner.View(), barcodeStyle.Render(s.Barcode))
		} else if s.Mode.AllowsManual() {
			b.WriteString("\n" + m.input.View() + "\n")
		}
		if s.Error != "" {
			b.WriteString("\n" + errorStyle.Render(s.Error) + "\n")
		}
		b.WriteString("\n" + helpStyle.Render("enter: submit   esc: home"))

	case session.PhaseResolved:
		fmt.Fprintf(&b, "Barcode %s\n\n", barcodeStyle.Render(s.Barcode))
		if len(s.Messages) == 0 {
			b.WriteString(itemStyle.Render("No messages") + "\n")
		}
		for _, msg := range s.Messages {
			b.WriteString(itemStyle.Render("• "+msg) + "\n")
		}
		b.WriteString("\n" + helpStyle.Render("enter: scan another   esc: home   q: quit"))
	}

	if m.err != nil && !errors.Is(m.err, context.Canceled) {
		b.WriteString("\n" + errorStyle.Render(m.err.Error()))
	}
	b.WriteString("\n")
	return b.String()
}
