// Package feedback renders pipeline activity for the person in the room.
//
// The pipeline itself is headless; this package supplies the subscribers
// that make it observable: Console writes a state indicator and the
// conversation text to a terminal, and InteractionLog appends completed
// interactions as JSON lines for later review.
package feedback

import (
	"fmt"
	"io"
	"sync"

	"github.com/soniclarity/voicepipe/internal/pipeline"
)

// Compile-time interface check.
var _ pipeline.Subscriber = (*Console)(nil)

// indicator maps each pipeline state to a short terminal marker.
var indicator = map[pipeline.State]string{
	pipeline.StateIdle:             "·  idle",
	pipeline.StateListeningForWake: "◌  listening",
	pipeline.StateRecording:        "●  recording",
	pipeline.StateProcessing:       "…  thinking",
	pipeline.StateSpeaking:         "▶  speaking",
	pipeline.StateError:            "✗  error",
}

// Console renders pipeline state and conversation text to a writer,
// typically stdout. Safe for concurrent use, though the pipeline delivers
// events to each subscriber sequentially anyway.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// OnStateChange implements pipeline.Subscriber.
func (c *Console) OnStateChange(n pipeline.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mark, ok := indicator[n.State]
	if !ok {
		mark = string(n.State)
	}
	switch {
	case n.State == pipeline.StateRecording && n.Activation != nil:
		fmt.Fprintf(c.w, "%s  (wake %.0f%%)\n", mark, n.Activation.Confidence*100)
	case n.State == pipeline.StateError && n.Err != nil:
		fmt.Fprintf(c.w, "%s  %v\n", mark, n.Err)
	default:
		fmt.Fprintln(c.w, mark)
	}
}

// OnTranscript implements pipeline.Subscriber.
func (c *Console) OnTranscript(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "you:  %s\n", text)
}

// OnResponseText implements pipeline.Subscriber.
func (c *Console) OnResponseText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "bot:  %s\n", text)
}

// OnInteraction implements pipeline.Subscriber. The console already showed
// the pieces as they happened.
func (c *Console) OnInteraction(pipeline.Interaction) {}
