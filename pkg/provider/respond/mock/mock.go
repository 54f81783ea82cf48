// Package mock provides a test double for the respond.Provider interface.
//
// Use Provider in unit tests to verify the inputs the pipeline sends for
// response generation and to feed controlled replies without a live backend.
// All fields are safe to set before calling any method; mutating them during
// a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{Reply: "The light is on."}
//	text, err := p.Respond(ctx, "turn on the light", session)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/soniclarity/voicepipe/pkg/provider/respond"
)

// Compile-time interface assertion.
var _ respond.Provider = (*Provider)(nil)

// Call records a single invocation of Respond.
type Call struct {
	// Input is the user text passed to Respond.
	Input string
	// Session is the session context passed to Respond.
	Session respond.Session
}

// Provider is a mock implementation of respond.Provider.
// The zero value returns empty replies and nil errors.
type Provider struct {
	mu sync.Mutex

	// Reply is returned by Respond when Script is empty.
	Reply string

	// Script, if non-empty, is consumed one entry per Respond call. After the
	// script is exhausted the last entry repeats.
	Script []string

	// Err, if non-nil, is returned as the error from every Respond call.
	Err error

	// Delay, if non-zero, is waited before returning. Respond returns early
	// with ctx.Err() if the context is cancelled during the wait.
	Delay time.Duration

	calls []Call
}

// Respond implements respond.Provider.
func (p *Provider) Respond(ctx context.Context, input string, session respond.Session) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Input: input, Session: session})
	n := len(p.calls)
	p.mu.Unlock()

	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.Err != nil {
		return "", p.Err
	}
	if len(p.Script) > 0 {
		i := n - 1
		if i >= len(p.Script) {
			i = len(p.Script) - 1
		}
		return p.Script[i], nil
	}
	return p.Reply, nil
}

// Calls returns a snapshot of all recorded invocations in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}
