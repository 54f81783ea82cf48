// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider in unit tests to feed controlled WAV output without a live
// synthesis backend. All fields are safe to set before calling any method;
// mutating them during a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{WAV: audio.EncodeWAV(pcm, 16000, 1)}
//	wav, err := p.Synthesize(ctx, "hello", tts.Voice{})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/soniclarity/voicepipe/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Call records a single invocation of Synthesize.
type Call struct {
	// Text is the input passed to Synthesize.
	Text string
	// Voice is the voice passed to Synthesize.
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider.
// The zero value returns nil audio and nil errors.
type Provider struct {
	mu sync.Mutex

	// WAV is returned by every Synthesize call.
	WAV []byte

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Delay, if non-zero, is waited before returning. Synthesize returns
	// early with ctx.Err() if the context is cancelled during the wait.
	Delay time.Duration

	calls []Call
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Text: text, Voice: voice})
	p.mu.Unlock()

	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.Err != nil {
		return nil, p.Err
	}
	return p.WAV, nil
}

// Calls returns a snapshot of all recorded invocations in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}
