// Package capture provides the frame sources that feed the barcode decoder.
//
// A Source produces raw frames on its own cadence, decoupled from the session
// state machine and from the decoder. Three sources are available:
//
//   - CameraStream: a local camera (V4L2) through a GStreamer pipeline
//   - ImageStream: still images from a directory, replayed at a fixed rate
//   - MockStream: blank synthetic frames (pipeline smoke tests)
//
// # Quick Start
//
//	stream, err := capture.NewCameraStream(capture.CameraConfig{
//	    Device:    "/dev/video0",
//	    Width:     640,
//	    Height:    480,
//	    TargetFPS: 15,
//	    Format:    capture.FormatGray8,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stream.Stop()
//
//	frames, err := stream.Start(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for frame := range frames {
//	    throttle.Publish(&frame)
//	}
//
// # Frame Format
//
// Frames carry a single contiguous buffer. For FormatGray8 the buffer is the
// luminance plane (Width × Height bytes). For FormatNV21 the luminance plane
// is followed by the interleaved VU plane (Width × Height × 3/2 bytes), the
// layout Android cameras deliver. Decoders only read the luminance plane.
//
// # Drop Semantics
//
// Sources never block on a slow consumer: when the output channel is full the
// newest frame is dropped and counted in Stats.FramesDropped. Rate limiting and
// the single in-flight decode policy live downstream in package throttle.
package capture
