//go:build !portaudio

package portaudio

import (
	"context"
	"errors"
	"testing"
)

// The stubs must accept the same device-selection options as the real
// adapter and fail every operation with ErrUnavailable.
func TestStubDevicesReportUnavailable(t *testing.T) {
	t.Parallel()

	in := NewInput(16000, 1, 20, WithInputDevice("USB mic"))
	if err := in.Open(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Open = %v, want ErrUnavailable", err)
	}
	if _, err := in.ReadFrame(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("ReadFrame = %v, want ErrUnavailable", err)
	}
	if err := in.Close(); err != nil {
		t.Errorf("Close = %v, want nil", err)
	}

	out := NewOutput(WithOutputDevice("USB speakers"))
	if err := out.Play(context.Background(), nil); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Play = %v, want ErrUnavailable", err)
	}
}
