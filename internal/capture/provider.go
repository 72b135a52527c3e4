package capture

import "context"

// Source defines the contract for frame acquisition.
//
// Implementations must guarantee:
//   - Start() returns immediately (non-blocking)
//   - the returned channel stays open until Stop()
//   - frames are sent non-blocking (drop when the channel is full)
//   - Stop() is idempotent
//   - Stats() is safe to call from any goroutine
type Source interface {
	// Start begins producing frames and returns a read-only channel.
	//
	// Returns an error if the source is already running or cannot be opened.
	Start(ctx context.Context) (<-chan Frame, error)

	// Stop shuts the source down and closes the frame channel.
	Stop() error

	// Stats returns current source statistics.
	Stats() Stats
}
