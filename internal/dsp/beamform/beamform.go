// Package beamform combines the synchronized channels of a microphone array
// into a single enhanced channel using geometric delay-and-sum steering.
// It sits in front of the signal conditioner for multi-microphone captures
// and is bypassed entirely for single-microphone devices.
package beamform

import (
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/soniclarity/voicepipe/pkg/audio"
)

// SpeedOfSound is the propagation speed used for delay computation, in m/s.
const SpeedOfSound = 343.0

// Position is a microphone location in meters, relative to any fixed origin.
// Delay computation is invariant to uniform translation of the whole array.
type Position struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// dot returns the dot product of p with a direction vector.
func (p Position) dot(d Direction) float64 {
	return p.X*d.X + p.Y*d.Y + p.Z*d.Z
}

// Direction is a steering target as a unit vector.
type Direction struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// Normalize returns the direction scaled to unit length. The zero direction
// is returned unchanged (delays degenerate to zero, which sums channels
// without steering).
func (d Direction) Normalize() Direction {
	l := math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z)
	if l == 0 {
		return d
	}
	return Direction{X: d.X / l, Y: d.Y / l, Z: d.Z / l}
}

// Geometry is the ordered list of microphone positions for an array.
// It is immutable after construction of a [Beamformer].
type Geometry []Position

// Beamformer steers a microphone array toward a target direction.
// Safe for concurrent use; the steering direction may be updated while
// frames are being processed.
type Beamformer struct {
	geom       Geometry
	sampleRate int

	mu     sync.RWMutex
	dir    Direction
	delays []int

	warnMismatch sync.Once
}

// New creates a Beamformer for the given array geometry and initial steering
// direction. Returns an error if the geometry has fewer than two microphones
// (a single microphone needs no beamforming).
func New(geom Geometry, sampleRate int, dir Direction) (*Beamformer, error) {
	if len(geom) < 2 {
		return nil, errors.New("beamform: geometry needs at least two microphones")
	}
	if sampleRate <= 0 {
		return nil, errors.New("beamform: sample rate must be positive")
	}
	g := make(Geometry, len(geom))
	copy(g, geom)
	b := &Beamformer{geom: g, sampleRate: sampleRate}
	b.SetDirection(dir)
	return b, nil
}

// SetDirection re-steers the array toward a new target direction. The
// direction is normalized internally.
func (b *Beamformer) SetDirection(dir Direction) {
	dir = dir.Normalize()
	delays := DelaySet(b.geom, dir, b.sampleRate)
	b.mu.Lock()
	b.dir = dir
	b.delays = delays
	b.mu.Unlock()
}

// Direction returns the current steering direction.
func (b *Beamformer) Direction() Direction {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dir
}

// DelaySet computes the per-microphone delay, in samples, for steering the
// array toward dir: delay_i = (position_i · dir) / SpeedOfSound, normalized
// so the minimum delay is zero. The result is invariant to uniform
// translation of all positions.
func DelaySet(geom Geometry, dir Direction, sampleRate int) []int {
	delays := make([]int, len(geom))
	minDelay := math.MaxInt
	for i, p := range geom {
		d := int(math.Round(p.dot(dir) / SpeedOfSound * float64(sampleRate)))
		delays[i] = d
		if d < minDelay {
			minDelay = d
		}
	}
	for i := range delays {
		delays[i] -= minDelay
	}
	return delays
}

// Steer combines a multi-channel frame into one mono frame: each channel is
// shifted by its delay (zero-padded) and all channels are summed and scaled
// by 1/N.
//
// If the frame's channel count does not match the configured geometry the
// beamformer degrades gracefully: it returns the first channel unmodified
// rather than failing the pipeline. The mismatch is logged once.
func (b *Beamformer) Steer(frame audio.Frame) audio.Frame {
	channels := audio.Deinterleave(frame.Samples(), frame.Channels)

	if frame.Channels != len(b.geom) {
		b.warnMismatch.Do(func() {
			slog.Warn("beamformer channel mismatch, passing first channel through",
				"frameChannels", frame.Channels, "geometry", len(b.geom))
		})
		return audio.Frame{
			Data:       audio.EncodeInt16(channels[0]),
			SampleRate: frame.SampleRate,
			Channels:   1,
			Timestamp:  frame.Timestamp,
		}
	}

	b.mu.RLock()
	delays := b.delays
	b.mu.RUnlock()

	n := len(channels[0])
	sum := make([]int32, n)
	for ch, delay := range delays {
		src := channels[ch]
		for i := range n {
			j := i - delay
			if j >= 0 && j < len(src) {
				sum[i] += int32(src[j])
			}
		}
	}

	out := make([]int16, n)
	count := int32(len(delays))
	for i, s := range sum {
		out[i] = int16(s / count)
	}

	return audio.Frame{
		Data:       audio.EncodeInt16(out),
		SampleRate: frame.SampleRate,
		Channels:   1,
		Timestamp:  frame.Timestamp,
	}
}
