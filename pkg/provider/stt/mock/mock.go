// Package mock provides a scripted stt.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/soniclarity/voicepipe/pkg/provider/stt"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Provider returns scripted transcripts in order. When the script is
// exhausted the last entry repeats. All methods are safe for concurrent use.
type Provider struct {
	// Script is the sequence of results to return. Entries with a non-nil
	// Err cause Transcribe to fail.
	Script []Result

	mu    sync.Mutex
	calls []Call
}

// Result is one scripted Transcribe outcome.
type Result struct {
	Transcript stt.Transcript
	Err        error
}

// Call records the arguments of one Transcribe invocation.
type Call struct {
	PCMLen int
	Config stt.Config
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.calls)
	p.calls = append(p.calls, Call{PCMLen: len(pcm), Config: cfg})

	if len(p.Script) == 0 {
		return stt.Transcript{}, nil
	}
	if idx >= len(p.Script) {
		idx = len(p.Script) - 1
	}
	r := p.Script[idx]
	return r.Transcript, r.Err
}

// Calls returns a snapshot of all recorded invocations.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}
