// Package audio defines the frame type, the audio device boundary, and the
// PCM helpers shared by every stage of the voice pipeline.
//
// A [Frame] is the atomic unit of audio transport: captured from an input
// device, cleaned by the signal conditioner, accumulated by the utterance
// recorder, and handed to the recognition provider. Frames are ephemeral and
// owned by whichever component is currently processing them; they are never
// shared for mutation.
//
// This package lives under pkg/ because external code (alternative device
// adapters) is expected to implement [InputDevice] and [OutputDevice].
package audio

import (
	"encoding/binary"
	"time"
)

// Frame is a fixed-duration block of little-endian 16-bit signed PCM.
// Multi-channel frames are interleaved (sample 0 ch 0, sample 0 ch 1, ...).
type Frame struct {
	// Data is the raw PCM payload. len(Data) must be a multiple of 2*Channels.
	Data []byte

	// SampleRate in Hz (the pipeline standard is 16000).
	SampleRate int

	// Channels is the capture channel count. 1 for a single microphone,
	// N for a synchronized microphone array feeding the beamformer.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame, derived from its sample count.
// Returns 0 for frames with an invalid sample rate or channel count.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Samples decodes the PCM payload into int16 samples (still interleaved for
// multi-channel frames). A trailing odd byte is ignored.
func (f Frame) Samples() []int16 {
	return DecodeInt16(f.Data)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// DecodeInt16 converts little-endian 16-bit PCM bytes to int16 samples.
func DecodeInt16(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := range n {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return out
}

// EncodeInt16 converts int16 samples to little-endian 16-bit PCM bytes.
func EncodeInt16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(s))
	}
	return out
}

// Deinterleave splits an interleaved multi-channel sample slice into one
// slice per channel. Trailing samples that do not fill a complete
// multi-channel frame are dropped. channels must be >= 1.
func Deinterleave(samples []int16, channels int) [][]int16 {
	if channels <= 1 {
		return [][]int16{samples}
	}
	perCh := len(samples) / channels
	out := make([][]int16, channels)
	for ch := range channels {
		out[ch] = make([]int16, perCh)
		for i := range perCh {
			out[ch][i] = samples[i*channels+ch]
		}
	}
	return out
}
