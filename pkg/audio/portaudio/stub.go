//go:build !portaudio

// Stub constructors for builds without the "portaudio" tag. They satisfy the
// device boundary but fail on first use so that the binary degrades with a
// clear error instead of a link failure.
package portaudio

import (
	"context"
	"errors"

	"github.com/soniclarity/voicepipe/pkg/audio"
)

// ErrUnavailable is returned by all stub device operations.
var ErrUnavailable = errors.New("portaudio: built without portaudio support (use -tags portaudio)")

// InputOption configures an [Input].
type InputOption func(*Input)

// WithInputDevice selects the capture device by name. No-op in the stub.
func WithInputDevice(string) InputOption {
	return func(*Input) {}
}

// OutputOption configures an [Output].
type OutputOption func(*Output)

// WithOutputDevice selects the playback device by name. No-op in the stub.
func WithOutputDevice(string) OutputOption {
	return func(*Output) {}
}

// Input is the no-op capture stub.
type Input struct{}

// NewInput returns a stub input device.
func NewInput(_, _, _ int, _ ...InputOption) *Input { return &Input{} }

func (*Input) Open(context.Context) error { return ErrUnavailable }

func (*Input) ReadFrame(context.Context) (audio.Frame, error) { return audio.Frame{}, ErrUnavailable }

func (*Input) Close() error { return nil }

// Output is the no-op playback stub.
type Output struct{}

// NewOutput returns a stub output device.
func NewOutput(_ ...OutputOption) *Output { return &Output{} }

func (*Output) Play(context.Context, []byte) error { return ErrUnavailable }

func (*Output) Close() error { return nil }
