//go:build portaudio

// Package portaudio adapts the host's capture and playback devices to the
// pipeline's device boundary using the PortAudio bindings. Devices are
// selected by name, falling back to the host defaults. The package is gated
// behind the "portaudio" build tag so that CI machines without the PortAudio
// C library can still build and test the rest of the module.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/soniclarity/voicepipe/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.InputDevice  = (*Input)(nil)
	_ audio.OutputDevice = (*Output)(nil)
)

// initOnce tracks the process-wide PortAudio initialisation. PortAudio
// requires Initialize/Terminate bracketing; we initialise once and keep the
// library loaded for the process lifetime.
var (
	initMu   sync.Mutex
	initDone bool
)

func ensureInit() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initDone {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	initDone = true
	return nil
}

// InputOption configures an [Input].
type InputOption func(*Input)

// WithInputDevice selects the capture device by its PortAudio name. The empty
// string keeps the host default.
func WithInputDevice(name string) InputOption {
	return func(d *Input) { d.name = name }
}

// Input captures PCM frames from a named (or the default) input device.
type Input struct {
	name       string
	sampleRate int
	channels   int
	frameLen   int // samples per channel per frame

	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []int16
	started time.Time
}

// NewInput creates an input device that delivers frames of frameMs
// milliseconds at the given sample rate and channel count. The device is not
// acquired until Open is called.
func NewInput(sampleRate, channels, frameMs int, opts ...InputOption) *Input {
	if frameMs <= 0 {
		frameMs = 20
	}
	d := &Input{
		sampleRate: sampleRate,
		channels:   channels,
		frameLen:   sampleRate * frameMs / 1000,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open implements audio.InputDevice.
func (d *Input) Open(_ context.Context) error {
	if err := ensureInit(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		return errors.New("portaudio: input already open")
	}

	dev, err := inputDevice(d.name)
	if err != nil {
		return err
	}

	d.buf = make([]int16, d.frameLen*d.channels)
	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = d.channels
	params.SampleRate = float64(d.sampleRate)
	params.FramesPerBuffer = d.frameLen
	stream, err := portaudio.OpenStream(params, d.buf)
	if err != nil {
		return fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio: start input stream: %w", err)
	}

	d.stream = stream
	d.started = time.Now()
	slog.Info("capture device opened", "device", dev.Name, "sampleRate", d.sampleRate, "channels", d.channels, "frameSamples", d.frameLen)
	return nil
}

// inputDevice resolves name to a capture-capable device, or the host default
// when name is empty.
func inputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input device: %w", err)
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	for _, dev := range devices {
		if dev.Name == name && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no input device named %q", name)
}

// ReadFrame implements audio.InputDevice. The blocking read is performed by
// the PortAudio stream itself; ctx is checked before each read.
func (d *Input) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}

	d.mu.Lock()
	stream, buf, started := d.stream, d.buf, d.started
	d.mu.Unlock()
	if stream == nil {
		return audio.Frame{}, errors.New("portaudio: input not open")
	}

	if err := stream.Read(); err != nil {
		return audio.Frame{}, fmt.Errorf("portaudio: read: %w", err)
	}

	return audio.Frame{
		Data:       audio.EncodeInt16(buf),
		SampleRate: d.sampleRate,
		Channels:   d.channels,
		Timestamp:  time.Since(started),
	}, nil
}

// Close implements audio.InputDevice.
func (d *Input) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return nil
	}
	d.stream.Stop()
	err := d.stream.Close()
	d.stream = nil
	return err
}

// OutputOption configures an [Output].
type OutputOption func(*Output)

// WithOutputDevice selects the playback device by its PortAudio name. The
// empty string keeps the host default.
func WithOutputDevice(name string) OutputOption {
	return func(d *Output) { d.name = name }
}

// Output plays WAV buffers through a named (or the default) output device.
type Output struct {
	name string
	mu   sync.Mutex
}

// NewOutput creates a playback device. The underlying stream is opened per
// Play call because each buffer may carry a different format.
func NewOutput(opts ...OutputOption) *Output {
	d := &Output{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Play implements audio.OutputDevice. The buffer must be 16-bit PCM WAV.
func (d *Output) Play(ctx context.Context, wav []byte) error {
	if err := ensureInit(); err != nil {
		return err
	}

	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		return err
	}
	samples := audio.DecodeInt16(pcm)

	d.mu.Lock()
	defer d.mu.Unlock()

	dev, err := outputDevice(d.name)
	if err != nil {
		return err
	}

	const chunk = 1024
	buf := make([]int16, chunk*format.Channels)
	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = format.Channels
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = chunk
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return fmt.Errorf("portaudio: open output stream: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}
	defer stream.Stop()

	for off := 0; off < len(samples); off += len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(buf, samples[off:])
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		if err := stream.Write(); err != nil {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

// outputDevice resolves name to a playback-capable device, or the host
// default when name is empty.
func outputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default output device: %w", err)
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	for _, dev := range devices {
		if dev.Name == name && dev.MaxOutputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no output device named %q", name)
}

// Close implements audio.OutputDevice.
func (d *Output) Close() error { return nil }
