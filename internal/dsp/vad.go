package dsp

import "math"

// Aggressiveness bounds for the voice activity detector.
const (
	MinAggressiveness = 0 // permissive
	MaxAggressiveness = 3 // strict
)

// Per-level decision thresholds. Energy floors rise and zero-crossing
// ceilings fall with aggressiveness, so raising the level can only flip
// frames from speech to non-speech, never the other way around.
var (
	vadEnergyThresh = [4]float64{0.005, 0.010, 0.020, 0.040}
	vadZCRMax       = [4]float64{0.90, 0.50, 0.35, 0.25}
)

// VAD is a per-frame energy + zero-crossing voice activity classifier.
// It is stateless: each call judges one frame in isolation, so the keyword
// spotter and the utterance recorder can run their own instances at
// different duty cycles without sharing history.
type VAD struct {
	level int
}

// NewVAD creates a detector with the given aggressiveness (0–3). Values
// outside the range are clamped.
func NewVAD(aggressiveness int) *VAD {
	if aggressiveness < MinAggressiveness {
		aggressiveness = MinAggressiveness
	}
	if aggressiveness > MaxAggressiveness {
		aggressiveness = MaxAggressiveness
	}
	return &VAD{level: aggressiveness}
}

// Aggressiveness returns the configured level.
func (v *VAD) Aggressiveness() int { return v.level }

// IsSpeech classifies a frame of normalised samples (range [-1, 1]).
// A frame is speech when its RMS energy clears the level's floor and its
// zero-crossing rate stays below the level's ceiling — high-energy
// low-crossing frames are voiced speech, high-crossing frames are treated
// as fricative-like noise.
func (v *VAD) IsSpeech(samples []float64) bool {
	if len(samples) == 0 {
		return false
	}
	return rms(samples) >= vadEnergyThresh[v.level] && zeroCrossingRate(samples) <= vadZCRMax[v.level]
}

// rms returns the root-mean-square energy of samples.
func rms(samples []float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// zeroCrossingRate returns the fraction of adjacent sample pairs whose signs
// differ. Range [0, 1].
func zeroCrossingRate(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}
