package decoder

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ChamodiJayakody/barcode-app/internal/capture"
)

// maxMessageSize bounds a single framed response.
const maxMessageSize = 1 << 20

// killWait bounds how long a timed-out Decode waits for the killed process
// to be reaped.
const killWait = time.Second

// SubprocessConfig configures an external decoder process.
type SubprocessConfig struct {
	// Command is the executable to run (required)
	Command string
	// Args are passed to Command
	Args []string
	// Timeout bounds a single Decode call (default 2s)
	Timeout time.Duration
}

// Request is the msgpack message written to the decoder's stdin.
type Request struct {
	Seq    uint64 `msgpack:"seq"`
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Format string `msgpack:"format"`
	Data   []byte `msgpack:"data"`
}

// Response is the msgpack message read from the decoder's stdout.
//
// A response with an empty Value and empty Error, or Miss set, is a miss.
// Error carries the decoder's failure message otherwise.
type Response struct {
	Seq   uint64 `msgpack:"seq"`
	Value string `msgpack:"value"`
	Miss  bool   `msgpack:"miss"`
	Error string `msgpack:"error"`
}

// Subprocess delegates decoding to a native helper over stdin/stdout.
//
// Messages are msgpack encoded with 4-byte big-endian length-prefix framing in
// both directions. The process is spawned on Start and respawned on the next
// Decode after it exits or times out.
type Subprocess struct {
	cfg SubprocessConfig

	mu        sync.Mutex // one request at a time
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	responses chan Response
	exited    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	seq      uint64
	restarts uint64
	timeouts uint64
}

// NewSubprocess validates cfg. The process is not started until Start.
func NewSubprocess(cfg SubprocessConfig) (*Subprocess, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("decoder: subprocess command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Subprocess{cfg: cfg}, nil
}

// Start spawns the decoder process.
func (s *Subprocess) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("decoder: subprocess already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	return s.spawnLocked()
}

func (s *Subprocess) spawnLocked() error {
	cmd := exec.CommandContext(s.ctx, s.cfg.Command, s.cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start decoder process: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.responses = make(chan Response, 1)
	s.exited = make(chan struct{})

	s.wg.Add(3)
	go s.readResponses(stdout, s.responses)
	go s.logStderr(stderr)
	go s.waitProcess(cmd, s.exited)

	slog.Info("decoder: subprocess spawned", "command", s.cfg.Command, "pid", cmd.Process.Pid)
	return nil
}

// Decode implements Decoder.
func (s *Subprocess) Decode(ctx context.Context, frame *capture.Frame) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return "", Fail("subprocess", "not started", nil)
	}
	if !s.runningLocked() {
		if s.ctx.Err() != nil {
			return "", Fail("subprocess", "stopped", s.ctx.Err())
		}
		atomic.AddUint64(&s.restarts, 1)
		slog.Warn("decoder: subprocess not running, respawning", "restarts", atomic.LoadUint64(&s.restarts))
		if err := s.spawnLocked(); err != nil {
			return "", Fail("subprocess", "respawn", err)
		}
	}

	seq := atomic.AddUint64(&s.seq, 1)
	payload, err := msgpack.Marshal(&Request{
		Seq:    seq,
		Width:  frame.Width,
		Height: frame.Height,
		Format: frame.Format.String(),
		Data:   frame.Data,
	})
	if err != nil {
		return "", Fail("subprocess", "marshal request", err)
	}

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	writeErr := make(chan error, 1)
	go func() { writeErr <- WriteMessage(s.stdin, payload) }()

	select {
	case err := <-writeErr:
		if err != nil {
			return "", Fail("subprocess", "write request", err)
		}
	case <-timer.C:
		return "", s.timeoutLocked(seq)
	case <-ctx.Done():
		return "", Fail("subprocess", "cancelled", ctx.Err())
	}

	for {
		select {
		case resp, ok := <-s.responses:
			if !ok {
				return "", Fail("subprocess", "process exited", nil)
			}
			if resp.Seq != seq {
				// late answer to a request that already timed out
				slog.Debug("decoder: discarding stale response", "seq", resp.Seq, "want", seq)
				continue
			}
			return interpret(resp)
		case <-timer.C:
			return "", s.timeoutLocked(seq)
		case <-ctx.Done():
			return "", Fail("subprocess", "cancelled", ctx.Err())
		}
	}
}

func interpret(resp Response) (string, error) {
	switch {
	case resp.Error != "":
		return "", ClassifyMessage("subprocess", resp.Error)
	case resp.Miss || resp.Value == "":
		return "", ErrNoBarcode
	default:
		return resp.Value, nil
	}
}

// timeoutLocked kills a hung process and waits for it to be reaped, so the
// next Decode respawns instead of writing to the dying one.
func (s *Subprocess) timeoutLocked(seq uint64) error {
	atomic.AddUint64(&s.timeouts, 1)
	slog.Warn("decoder: subprocess timeout, killing process", "seq", seq, "timeout", s.cfg.Timeout)
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		select {
		case <-s.exited:
		case <-time.After(killWait):
			slog.Warn("decoder: killed subprocess not reaped yet", "pid", s.cmd.Process.Pid)
		}
	}
	return Fail("subprocess", fmt.Sprintf("timeout after %s", s.cfg.Timeout), nil)
}

func (s *Subprocess) runningLocked() bool {
	if s.exited == nil {
		return false
	}
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

func (s *Subprocess) readResponses(stdout io.Reader, out chan<- Response) {
	defer s.wg.Done()
	defer close(out)

	r := bufio.NewReader(stdout)
	for {
		data, err := ReadMessage(r)
		if err != nil {
			if err != io.EOF {
				slog.Debug("decoder: subprocess stdout closed", "error", err)
			}
			return
		}
		var resp Response
		if err := msgpack.Unmarshal(data, &resp); err != nil {
			slog.Error("decoder: failed to unmarshal response", "error", err, "data_length", len(data))
			continue
		}
		// keep only the newest answer; Decode discards mismatched seqs anyway
		select {
		case out <- resp:
		default:
			select {
			case <-out:
			default:
			}
			out <- resp
		}
	}
}

// logStderr forwards helper output to slog, mapping level markers.
func (s *Subprocess) logStderr(stderr io.Reader) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			slog.Error("decoder: subprocess error", "log", line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			slog.Warn("decoder: subprocess warning", "log", line)
		default:
			slog.Debug("decoder: subprocess log", "log", line)
		}
	}
}

func (s *Subprocess) waitProcess(cmd *exec.Cmd, exited chan struct{}) {
	defer s.wg.Done()
	defer close(exited)

	err := cmd.Wait()
	switch {
	case s.ctx.Err() != nil:
		slog.Debug("decoder: subprocess exited (shutdown)", "pid", cmd.Process.Pid)
	case err != nil:
		slog.Error("decoder: subprocess exited unexpectedly", "pid", cmd.Process.Pid, "error", err)
	default:
		slog.Info("decoder: subprocess exited", "pid", cmd.Process.Pid)
	}
}

// Stop closes stdin and waits for the process, killing it after 2 seconds.
// Idempotent.
func (s *Subprocess) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.cancel = nil
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	cmd := s.cmd
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		slog.Warn("decoder: subprocess stop timeout, killing process")
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
	}
	cancel()

	slog.Info("decoder: subprocess stopped",
		"requests", atomic.LoadUint64(&s.seq),
		"restarts", atomic.LoadUint64(&s.restarts),
		"timeouts", atomic.LoadUint64(&s.timeouts),
	)
	return nil
}

// WriteMessage writes a 4-byte big-endian length prefix followed by payload.
func WriteMessage(w io.Writer, payload []byte) error {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed message.
func ReadMessage(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessageSize {
		return nil, fmt.Errorf("message too large: %d bytes", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
