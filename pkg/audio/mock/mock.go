// Package mock provides scripted in-memory implementations of the audio
// device boundary for tests. No real audio hardware is touched.
package mock

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/soniclarity/voicepipe/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.InputDevice  = (*InputDevice)(nil)
	_ audio.OutputDevice = (*OutputDevice)(nil)
)

// InputDevice replays a scripted sequence of frames. After the script is
// exhausted it either pads with silence frames of the same shape as the last
// scripted frame (PadSilence) or returns [io.EOF].
//
// All methods are safe for concurrent use so tests can assert on counters
// while the pipeline is running.
type InputDevice struct {
	// Script is the frame sequence returned by successive ReadFrame calls.
	Script []audio.Frame

	// PadSilence keeps the device producing zeroed frames after the script
	// ends instead of returning io.EOF.
	PadSilence bool

	// Interval, when non-zero, paces ReadFrame like a real capture device.
	Interval time.Duration

	// OpenErr, when non-nil, is returned by Open (device-level fault).
	OpenErr error

	// ReadErr, when non-nil, is returned by every ReadFrame call.
	ReadErr error

	mu        sync.Mutex
	idx       int
	open      bool
	openCount int
	reads     int
}

// Open implements audio.InputDevice.
func (d *InputDevice) Open(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return d.OpenErr
	}
	if d.open {
		return errors.New("mock: input device already open")
	}
	d.open = true
	d.openCount++
	return nil
}

// ReadFrame implements audio.InputDevice.
func (d *InputDevice) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if d.Interval > 0 {
		select {
		case <-time.After(d.Interval):
		case <-ctx.Done():
			return audio.Frame{}, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return audio.Frame{}, errors.New("mock: input device not open")
	}
	if d.ReadErr != nil {
		return audio.Frame{}, d.ReadErr
	}
	d.reads++

	if d.idx < len(d.Script) {
		f := d.Script[d.idx]
		d.idx++
		return f, nil
	}

	if d.PadSilence && len(d.Script) > 0 {
		last := d.Script[len(d.Script)-1]
		return audio.Frame{
			Data:       make([]byte, len(last.Data)),
			SampleRate: last.SampleRate,
			Channels:   last.Channels,
		}, nil
	}
	return audio.Frame{}, io.EOF
}

// Close implements audio.InputDevice.
func (d *InputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

// OpenCount reports how many times Open succeeded.
func (d *InputDevice) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openCount
}

// Reads reports how many frames have been read.
func (d *InputDevice) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// Rewind resets the script position so the device can be reused.
func (d *InputDevice) Rewind() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.idx = 0
}

// OutputDevice records every buffer handed to Play.
type OutputDevice struct {
	// PlayErr, when non-nil, is returned by every Play call.
	PlayErr error

	// PlayDelay simulates playback time before Play returns.
	PlayDelay time.Duration

	mu     sync.Mutex
	played [][]byte
}

// Play implements audio.OutputDevice.
func (d *OutputDevice) Play(ctx context.Context, wav []byte) error {
	if d.PlayErr != nil {
		return d.PlayErr
	}
	if d.PlayDelay > 0 {
		select {
		case <-time.After(d.PlayDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	cp := make([]byte, len(wav))
	copy(cp, wav)
	d.mu.Lock()
	d.played = append(d.played, cp)
	d.mu.Unlock()
	return nil
}

// Close implements audio.OutputDevice.
func (d *OutputDevice) Close() error { return nil }

// Played returns a snapshot of all buffers played so far.
func (d *OutputDevice) Played() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.played))
	copy(out, d.played)
	return out
}
