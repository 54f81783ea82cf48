package beamform

import (
	"testing"

	"github.com/soniclarity/voicepipe/pkg/audio"
)

// linearArray is a three-microphone line along the X axis, 5 cm apart.
func linearArray() Geometry {
	return Geometry{
		{X: 0.00},
		{X: 0.05},
		{X: 0.10},
	}
}

func TestDelaySetMinimumIsZero(t *testing.T) {
	t.Parallel()

	dirs := []Direction{
		{X: 1},
		{X: -1},
		{X: 0.7, Y: 0.7},
		{Y: 1},
		{X: -0.3, Y: 0.2, Z: 0.9},
	}
	for _, dir := range dirs {
		delays := DelaySet(linearArray(), dir.Normalize(), 48000)
		min := delays[0]
		for _, d := range delays {
			if d < min {
				min = d
			}
			if d < 0 {
				t.Errorf("dir %+v: negative delay %d", dir, d)
			}
		}
		if min != 0 {
			t.Errorf("dir %+v: minimum delay %d, want 0", dir, min)
		}
	}
}

func TestDelaySetTranslationInvariant(t *testing.T) {
	t.Parallel()

	dir := Direction{X: 0.6, Y: 0.8}.Normalize()
	base := DelaySet(linearArray(), dir, 48000)

	shifted := linearArray()
	for i := range shifted {
		shifted[i].X += 12.5
		shifted[i].Y -= 3.0
		shifted[i].Z += 0.7
	}
	moved := DelaySet(shifted, dir, 48000)

	for i := range base {
		if base[i] != moved[i] {
			t.Fatalf("delay %d changed under translation: %d != %d", i, base[i], moved[i])
		}
	}
}

func TestDelaySetOrdering(t *testing.T) {
	t.Parallel()

	// Steering along +X: the microphone with the smallest projection onto
	// the target direction carries the zero delay.
	delays := DelaySet(linearArray(), Direction{X: 1}, 48000)
	if delays[0] != 0 {
		t.Errorf("mic 0 delay = %d, want 0", delays[0])
	}
	if !(delays[0] < delays[1] && delays[1] < delays[2]) {
		t.Errorf("delays not increasing along the array: %v", delays)
	}
}

func TestSteerSumsAlignedChannels(t *testing.T) {
	t.Parallel()

	// Zero direction: all delays zero, Steer averages the channels.
	bf, err := New(Geometry{{X: 0}, {X: 0.05}}, 16000, Direction{})
	if err != nil {
		t.Fatal(err)
	}

	// Interleaved two-channel frame: ch0 = 1000, ch1 = 3000.
	samples := []int16{1000, 3000, 1000, 3000, 1000, 3000}
	out := bf.Steer(audio.Frame{
		Data:       audio.EncodeInt16(samples),
		SampleRate: 16000,
		Channels:   2,
	})

	if out.Channels != 1 {
		t.Fatalf("output channels = %d, want 1", out.Channels)
	}
	for i, s := range out.Samples() {
		if s != 2000 {
			t.Errorf("sample %d = %d, want 2000", i, s)
		}
	}
}

func TestSteerChannelMismatchFallsBack(t *testing.T) {
	t.Parallel()

	bf, err := New(linearArray(), 16000, Direction{X: 1})
	if err != nil {
		t.Fatal(err)
	}

	// Stereo frame against a three-microphone geometry: first channel passes
	// through unmodified.
	samples := []int16{7, 9, 8, 10, 9, 11}
	out := bf.Steer(audio.Frame{
		Data:       audio.EncodeInt16(samples),
		SampleRate: 16000,
		Channels:   2,
	})

	want := []int16{7, 8, 9}
	got := out.Samples()
	if len(got) != len(want) {
		t.Fatalf("output samples = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestNewRejectsDegenerateGeometry(t *testing.T) {
	t.Parallel()

	if _, err := New(Geometry{{X: 0}}, 16000, Direction{X: 1}); err == nil {
		t.Error("single-microphone geometry accepted")
	}
	if _, err := New(linearArray(), 0, Direction{X: 1}); err == nil {
		t.Error("zero sample rate accepted")
	}
}
