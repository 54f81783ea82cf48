package audio

import "context"

// InputDevice is the capture side of the audio device boundary. Exactly one
// component may hold the device open at a time — the pipeline orchestrator
// enforces this by pausing the keyword spotter before the utterance recorder
// opens the device, and resuming it only after recording has fully stopped.
//
// Implementations are not required to be safe for concurrent use; the single
// ownership rule makes concurrent calls a caller bug.
type InputDevice interface {
	// Open acquires the capture device. Calling Open on an already-open
	// device returns an error. A failure here is a device-level fault and is
	// fatal to the pipeline.
	Open(ctx context.Context) error

	// ReadFrame blocks until the next capture frame is available or ctx is
	// cancelled. Returned frames have the device's native sample rate and
	// channel count; frame duration is implementation-defined but should be
	// in the 10–30 ms range for conditioning.
	ReadFrame(ctx context.Context) (Frame, error)

	// Close releases the capture device. Close after Close is a no-op.
	Close() error
}

// OutputDevice is the playback side of the audio device boundary. It accepts
// a complete WAV-framed byte buffer and plays it to the default output.
//
// Implementations must be safe for sequential reuse; the pipeline plays at
// most one buffer at a time.
type OutputDevice interface {
	// Play blocks until the buffer has finished playing or ctx is cancelled.
	Play(ctx context.Context, wav []byte) error

	// Close releases the playback device. Close after Close is a no-op.
	Close() error
}
