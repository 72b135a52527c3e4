package v4l2

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Sample is a copied appsink buffer with capture metadata. The parent package
// converts it to capture.Frame (kept separate to avoid an import cycle).
type Sample struct {
	Seq       uint64
	Timestamp time.Time
	Data      []byte
	TraceID   string
}

// CallbackContext holds state needed by GStreamer callbacks
type CallbackContext struct {
	Samples       chan<- Sample
	FrameCounter  *uint64 // atomic
	BytesRead     *uint64 // atomic
	FramesDropped *uint64 // atomic
	MinBytes      int     // expected buffer size; shorter buffers are discarded
}

// OnNewSample is called by GStreamer when the appsink has a new buffer.
//
// The buffer is copied (GStreamer reuses it) and sent without blocking; when
// the channel is full the sample is dropped and counted.
func OnNewSample(sink *app.Sink, ctx *CallbackContext) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("v4l2: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("v4l2: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("v4l2: empty buffer received")
		return gst.FlowOK
	}
	if len(data) < ctx.MinBytes {
		buffer.Unmap()
		slog.Warn("v4l2: short buffer received", "size_bytes", len(data), "expected", ctx.MinBytes)
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	seq := atomic.AddUint64(ctx.FrameCounter, 1)
	atomic.AddUint64(ctx.BytesRead, uint64(len(frameData)))

	s := Sample{
		Seq:       seq,
		Timestamp: time.Now(),
		Data:      frameData,
		TraceID:   uuid.New().String(),
	}

	select {
	case ctx.Samples <- s:
		slog.Debug("v4l2: frame sent", "seq", s.Seq, "size_bytes", len(frameData), "trace_id", s.TraceID)
	default:
		atomic.AddUint64(ctx.FramesDropped, 1)
		slog.Debug("v4l2: dropping frame, channel full", "seq", s.Seq, "trace_id", s.TraceID)
	}

	return gst.FlowOK
}
