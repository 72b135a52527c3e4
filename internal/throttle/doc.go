/*
Package throttle sits between a capture.Source and the barcode decoder.

# Why

A camera delivers 15-30 frames per second; a barcode decoder may take tens of
milliseconds per frame and must never be invoked concurrently. Queueing frames
would make the decoder work on stale images while the user moves the code in
front of the lens. The throttle therefore keeps only the newest frame.

# Pipeline

	capture → Publish ─┬─ not accepting? ── IdleDrops
	                   ├─ over max_fps?  ── RateDrops
	                   └─ mailbox (1 slot, overwrite → InboxDrops)
	                            │
	                       decodeLoop (single goroutine)
	                            │
	                     Decoder.Decode (≤ 1 in flight)
	                            │
	        ┌──────────┬────────┴─────┬─────────────┐
	       miss    duplicate       failure         hit
	     (count)    (count)   Sink.DecodeFailed  Sink.Decoded

# Sink

The Sink (the scan session) answers CameraState() with whether it wants camera
input, its generation token and the barcode it currently holds. The generation
read before a decode is passed back with the outcome; outcomes whose generation
no longer matches are discarded as Stale.

# Basic Usage

	th := throttle.New(throttle.Config{MaxFPS: 5}, zxing, machine)
	if err := th.Start(ctx); err != nil {
	    log.Fatal(err)
	}
	defer th.Stop()

	for frame := range frames {
	    f := frame
	    th.Publish(&f)
	}

# Operational Stats

Stats() exposes drop counters, outcome counters and InFlight/MaxInFlight.
MaxInFlight > 1 would indicate a broken single-decode guarantee.
*/
package throttle
