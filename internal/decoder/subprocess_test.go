package decoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ChamodiJayakody/barcode-app/internal/capture"
)

// TestHelperProcess is not a real test. It is the fake native decoder spawned
// by the subprocess tests: the first data byte selects the behaviour.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	in := bufio.NewReader(os.Stdin)
	for {
		data, err := ReadMessage(in)
		if err != nil {
			return
		}
		var req Request
		if err := msgpack.Unmarshal(data, &req); err != nil {
			fmt.Fprintf(os.Stderr, "[ERROR] bad request: %v\n", err)
			return
		}

		resp := Response{Seq: req.Seq}
		switch req.Data[0] {
		case 0:
			resp.Error = "No barcode found"
		case 1:
			resp.Error = "sensor exploded"
		case 2:
			time.Sleep(2 * time.Second)
			resp.Value = "too late"
		default:
			resp.Value = fmt.Sprintf("%s:%dx%d:%d", req.Format, req.Width, req.Height, req.Data[0])
		}

		out, _ := msgpack.Marshal(&resp)
		if err := WriteMessage(os.Stdout, out); err != nil {
			return
		}
	}
}

func helperDecoder(t *testing.T, timeout time.Duration) *Subprocess {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")

	s, err := NewSubprocess(SubprocessConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess"},
		Timeout: timeout,
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func frameWithMarker(b byte) *capture.Frame {
	data := make([]byte, 16)
	data[0] = b
	return &capture.Frame{Width: 4, Height: 4, Format: capture.FormatGray8, Data: data}
}

func TestSubprocess_Outcomes(t *testing.T) {
	s := helperDecoder(t, time.Second)
	ctx := context.Background()

	v, err := s.Decode(ctx, frameWithMarker(7))
	require.NoError(t, err)
	assert.Equal(t, "GRAY8:4x4:7", v)

	_, err = s.Decode(ctx, frameWithMarker(0))
	assert.True(t, IsMiss(err), "expected miss, got %v", err)

	_, err = s.Decode(ctx, frameWithMarker(1))
	require.Error(t, err)
	assert.False(t, IsMiss(err))
	assert.Contains(t, err.Error(), "sensor exploded")
}

func TestSubprocess_TimeoutThenRecovers(t *testing.T) {
	s := helperDecoder(t, 500*time.Millisecond)
	ctx := context.Background()

	_, err := s.Decode(ctx, frameWithMarker(2))
	require.Error(t, err)
	assert.False(t, IsMiss(err))
	assert.Contains(t, err.Error(), "timeout")

	// the hung helper is reaped before the timeout returns, so the very next
	// call respawns it instead of failing a second time
	v, err := s.Decode(ctx, frameWithMarker(9))
	require.NoError(t, err)
	assert.Equal(t, "GRAY8:4x4:9", v)
	assert.Equal(t, uint64(1), atomic.LoadUint64(&s.restarts))
	assert.Equal(t, uint64(1), atomic.LoadUint64(&s.timeouts))
}

func TestSubprocess_Validation(t *testing.T) {
	_, err := NewSubprocess(SubprocessConfig{})
	assert.Error(t, err)

	s, err := NewSubprocess(SubprocessConfig{Command: "true"})
	require.NoError(t, err)
	_, err = s.Decode(context.Background(), frameWithMarker(3))
	assert.Error(t, err, "decode before start must fail")
	assert.NoError(t, s.Stop())
}

func TestFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte("hello")))
	require.NoError(t, WriteMessage(&buf, []byte{}))

	assert.Equal(t, []byte{0, 0, 0, 5}, buf.Bytes()[:4])

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	got, err = ReadMessage(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ReadMessage(&buf)
	assert.Error(t, err)
}

func TestFraming_RejectsOversize(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := ReadMessage(buf)
	assert.Error(t, err)
}
