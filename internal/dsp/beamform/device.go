package beamform

import (
	"context"

	"github.com/soniclarity/voicepipe/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.InputDevice = (*Device)(nil)

// Device adapts a multi-channel capture device into the mono
// [audio.InputDevice] the rest of the pipeline expects: every frame read
// from the array is steered and collapsed before it leaves this type.
type Device struct {
	inner audio.InputDevice
	bf    *Beamformer
}

// WrapDevice wraps a multi-channel input device with a beamformer. The
// wrapped device owns the inner device's lifecycle: Open and Close pass
// through.
func WrapDevice(inner audio.InputDevice, bf *Beamformer) *Device {
	return &Device{inner: inner, bf: bf}
}

// Open implements audio.InputDevice.
func (d *Device) Open(ctx context.Context) error {
	return d.inner.Open(ctx)
}

// ReadFrame implements audio.InputDevice. The returned frame is mono.
func (d *Device) ReadFrame(ctx context.Context) (audio.Frame, error) {
	frame, err := d.inner.ReadFrame(ctx)
	if err != nil {
		return audio.Frame{}, err
	}
	return d.bf.Steer(frame), nil
}

// Close implements audio.InputDevice.
func (d *Device) Close() error {
	return d.inner.Close()
}
