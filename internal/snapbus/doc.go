// Package snapbus fans session snapshots out to display adapters.
//
// Core philosophy: "Drop, never queue. Latest > Complete."
//
// A display only ever needs the newest snapshot. Subscribers pick one of two
// policies:
//   - DropNew: a buffered channel; when it is full the incoming value is
//     dropped and counted (the terminal UI and MQTT emitter use this)
//   - DropOld: a latest-only Receiver; each Publish replaces the held value
//     and wakes the reader (SSE streams use this)
//
// Usage:
//
//	bus := snapbus.New[session.Snapshot]()
//	defer bus.Close()
//
//	ch := make(chan session.Snapshot, 4)
//	bus.Subscribe("tui", ch)
//
//	rx, _ := bus.SubscribeLatest("sse-1")
//	defer bus.Unsubscribe("sse-1")
//	snap, err := rx.Receive(ctx)
//
// Publish never blocks. All methods are safe for concurrent use.
package snapbus
