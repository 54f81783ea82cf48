// Package stt defines the Provider interface for speech recognition backends.
//
// The pipeline hands a complete, endpointed utterance to the provider and
// waits for the transcript — the contract is deliberately batch-shaped
// because the utterance recorder owns segmentation. Providers that stream
// internally (e.g. Deepgram over WebSocket) drain their stream to a final
// result behind this interface.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// Config describes the audio format and recognition hints for a
// transcription call.
type Config struct {
	// SampleRate is the PCM sample rate in Hz. The pipeline standard is 16000.
	SampleRate int

	// Language is the BCP-47 language tag for recognition (e.g., "en",
	// "de-DE"). Empty lets the provider auto-detect, if supported.
	Language string
}

// Transcript is the recognition result for one utterance.
type Transcript struct {
	// Text is the recognised speech content, whitespace-trimmed.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report confidence.
	Confidence float64

	// Duration is the length of the audio that was transcribed.
	Duration time.Duration
}

// Provider is the abstraction over any speech recognition backend.
type Provider interface {
	// Transcribe converts one utterance of raw little-endian 16-bit mono PCM
	// into text. A failure here is recoverable at the pipeline level (the
	// state machine enters Error and resumes listening).
	Transcribe(ctx context.Context, pcm []byte, cfg Config) (Transcript, error)
}
