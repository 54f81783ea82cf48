// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., a local Coqui server
// or the OpenAI speech API) and presents a uniform batch interface: one call
// per reply, returning a complete WAV file that the playback device can decode
// and play.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice identifies a voice profile on the backing service.
type Voice struct {
	// ID is the provider-specific voice identifier (e.g., a speaker name for
	// Coqui or "alloy" for OpenAI). Empty selects the provider's default.
	ID string
	// Language is a BCP-47 language code hint (e.g., "en"). Providers that do
	// not support per-request language selection may ignore it.
	Language string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text as speech and returns a complete WAV file
	// (RIFF container, 16-bit PCM). The sample rate and channel count are
	// whatever the backend produces; callers read them from the WAV header.
	//
	// text must be non-empty. Implementations must honor ctx cancellation
	// and return the context error when cancelled mid-request.
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)
}
