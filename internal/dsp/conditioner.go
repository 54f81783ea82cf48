// Package dsp implements the signal conditioner: per-frame noise
// suppression, high-pass filtering, peak normalisation, and voice activity
// classification on a single audio channel.
//
// A [Conditioner] is a per-session object. The first ~0.5 s of a session is
// used to estimate a [NoiseProfile] which is then subtracted (in the
// magnitude-spectrum domain) from every subsequent frame. Reset discards the
// profile and all filter state so the next session starts fresh.
//
// Conditioner is not safe for concurrent use; the keyword spotter and the
// utterance recorder each own their own instance.
package dsp

import (
	"math"
	"math/cmplx"

	"github.com/soniclarity/voicepipe/pkg/audio"
)

const (
	// highpassCutoffHz removes DC offset and low-frequency rumble.
	highpassCutoffHz = 80.0

	// normalizeTarget is the peak level frames are normalised to,
	// leaving headroom below full scale.
	normalizeTarget = 0.8

	// normalizeFloor skips normalisation for frames whose peak is below
	// this level, so silence is not amplified into phantom speech.
	normalizeFloor = 0.01

	// maxNormalizeGain caps the normalisation gain.
	maxNormalizeGain = 8.0

	// transformWindow is the preferred spectral-subtraction window size in
	// samples. Frames shorter than this use the largest power of two that
	// fits rather than failing.
	transformWindow = 512

	// minTransformWindow is the smallest window worth transforming; shorter
	// tails pass through with time-domain processing only.
	minTransformWindow = 32

	// noiseOversubtract scales the noise profile before subtraction.
	noiseOversubtract = 1.2

	// spectralFloorRatio floors each subtracted magnitude at this fraction
	// of the original to avoid musical-noise artifacts.
	spectralFloorRatio = 0.10

	// noiseEstimateSeconds is how much leading audio seeds the noise profile.
	noiseEstimateSeconds = 0.5
)

// Config holds the parameters for a conditioning session.
type Config struct {
	// SampleRate in Hz. Must match the frames passed to Process.
	SampleRate int

	// Aggressiveness sets the voice activity detector level (0–3).
	Aggressiveness int
}

// NoiseProfile is a magnitude spectrum estimate derived from the leading
// audio of a conditioning session, used as the subtrahend in
// spectral-subtraction noise reduction.
type NoiseProfile struct {
	// mag holds per-bin magnitudes at transformWindow resolution. A flat
	// profile (all bins equal) is used as the degraded fallback when too
	// little leading audio was available.
	mag []float64
}

// newFlatProfile returns a profile with every bin set to the mean absolute
// amplitude of samples. This is the documented fallback when a session has
// fewer than noiseEstimateSeconds of leading audio.
func newFlatProfile(samples []float64) *NoiseProfile {
	var sum float64
	for _, s := range samples {
		sum += math.Abs(s)
	}
	level := 0.0
	if len(samples) > 0 {
		level = sum / float64(len(samples))
	}
	mag := make([]float64, transformWindow)
	for i := range mag {
		mag[i] = level
	}
	return &NoiseProfile{mag: mag}
}

// bin returns the profile magnitude for bin i of an n-point transform,
// scaling the stored transformWindow-resolution profile to n bins.
func (p *NoiseProfile) bin(i, n int) float64 {
	if n <= 0 || len(p.mag) == 0 {
		return 0
	}
	idx := i * len(p.mag) / n
	if idx >= len(p.mag) {
		idx = len(p.mag) - 1
	}
	// Magnitudes scale with window length for a fixed signal level.
	return p.mag[idx] * float64(n) / float64(len(p.mag))
}

// Conditioner cleans one audio channel and classifies voice activity.
type Conditioner struct {
	sampleRate int
	vad        *VAD

	// One-pole high-pass state, carried across frames within a session.
	hpAlpha float64
	hpPrevX float64
	hpPrevY float64
	hpSeen  bool

	// Noise profile estimation state.
	profile     *NoiseProfile
	estimateBuf []float64
	estimateLen int // samples needed before the profile is frozen
}

// NewConditioner creates a conditioner for one session. Aggressiveness is
// clamped to the valid range by [NewVAD].
func NewConditioner(cfg Config) *Conditioner {
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	rc := 1 / (2 * math.Pi * highpassCutoffHz)
	dt := 1 / float64(rate)
	return &Conditioner{
		sampleRate:  rate,
		vad:         NewVAD(cfg.Aggressiveness),
		hpAlpha:     rc / (rc + dt),
		estimateLen: int(noiseEstimateSeconds * float64(rate)),
	}
}

// Reset discards the session's noise profile, filter state, and estimation
// buffer. Call between utterance sessions.
func (c *Conditioner) Reset() {
	c.profile = nil
	c.estimateBuf = nil
	c.hpSeen = false
	c.hpPrevX = 0
	c.hpPrevY = 0
}

// Process cleans a single frame and reports whether it contains speech.
// The returned frame has the same length, sample rate, and channel count as
// the input. Multi-channel input is downmixed before conditioning (the
// beamformer normally does this upstream).
func (c *Conditioner) Process(frame audio.Frame) (isSpeech bool, cleaned audio.Frame) {
	data := frame.Data
	channels := frame.Channels
	if channels > 1 {
		data = audio.DownmixMono(data, channels)
		channels = 1
	}

	samples := toFloat(audio.DecodeInt16(data))
	if len(samples) == 0 {
		return false, frame
	}

	c.highpass(samples)
	normalize(samples)
	c.denoise(samples)

	return c.vad.IsSpeech(samples), audio.Frame{
		Data:       audio.EncodeInt16(fromFloat(samples)),
		SampleRate: frame.SampleRate,
		Channels:   channels,
		Timestamp:  frame.Timestamp,
	}
}

// highpass applies a stateful one-pole high-pass filter in place.
func (c *Conditioner) highpass(samples []float64) {
	for i, x := range samples {
		if !c.hpSeen {
			// First sample of the session: pass through, prime the state.
			c.hpSeen = true
			c.hpPrevX = x
			c.hpPrevY = x
			continue
		}
		y := c.hpAlpha * (c.hpPrevY + x - c.hpPrevX)
		c.hpPrevX = x
		c.hpPrevY = y
		samples[i] = y
	}
}

// normalize peak-normalises samples to normalizeTarget in place. Frames with
// peaks below normalizeFloor are left untouched and the gain is capped at
// maxNormalizeGain, so near-silence is never boosted into the speech range.
func normalize(samples []float64) {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	if peak < normalizeFloor {
		return
	}
	gain := normalizeTarget / peak
	if gain > maxNormalizeGain {
		gain = maxNormalizeGain
	}
	for i := range samples {
		samples[i] *= gain
	}
}

// denoise runs spectral subtraction over samples in place, feeding the noise
// estimator until the session profile is frozen.
func (c *Conditioner) denoise(samples []float64) {
	profile := c.profile
	if profile == nil {
		c.estimateBuf = append(c.estimateBuf, samples...)
		if len(c.estimateBuf) >= c.estimateLen {
			c.profile = estimateProfile(c.estimateBuf)
			c.estimateBuf = nil
			profile = c.profile
		} else {
			// Not enough leading audio yet: degrade to a flat estimate
			// proportional to this frame's mean absolute amplitude.
			profile = newFlatProfile(samples)
		}
	}

	for off := 0; off < len(samples); {
		w := largestPow2(len(samples) - off)
		if w > transformWindow {
			w = transformWindow
		}
		if w < minTransformWindow {
			// Tail shorter than the smallest window passes through; the
			// time-domain stages already ran on it.
			return
		}
		subtractWindow(samples[off:off+w], profile)
		off += w
	}
}

// subtractWindow performs magnitude-domain subtraction on one window,
// reassembling with the original phase.
func subtractWindow(window []float64, profile *NoiseProfile) {
	n := len(window)
	spec := make([]complex128, n)
	for i, s := range window {
		spec[i] = complex(s, 0)
	}
	fft(spec)

	for i := range spec {
		mag := cmplx.Abs(spec[i])
		phase := cmplx.Phase(spec[i])
		sub := mag - noiseOversubtract*profile.bin(i, n)
		if floor := spectralFloorRatio * mag; sub < floor {
			sub = floor
		}
		spec[i] = cmplx.Rect(sub, phase)
	}

	ifft(spec)
	for i := range window {
		window[i] = real(spec[i])
	}
}

// estimateProfile averages magnitude spectra over the leading audio to build
// the session noise profile.
func estimateProfile(lead []float64) *NoiseProfile {
	windows := len(lead) / transformWindow
	if windows == 0 {
		return newFlatProfile(lead)
	}

	mag := make([]float64, transformWindow)
	spec := make([]complex128, transformWindow)
	for w := range windows {
		chunk := lead[w*transformWindow : (w+1)*transformWindow]
		for i, s := range chunk {
			spec[i] = complex(s, 0)
		}
		fft(spec)
		for i := range spec {
			mag[i] += cmplx.Abs(spec[i])
		}
	}
	for i := range mag {
		mag[i] /= float64(windows)
	}
	return &NoiseProfile{mag: mag}
}

// toFloat converts int16 samples to float64 in [-1, 1).
func toFloat(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 32768.0
	}
	return out
}

// fromFloat converts float64 samples back to int16, clamping to range.
func fromFloat(samples []float64) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := s * 32768.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
