package feedback

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/soniclarity/voicepipe/internal/pipeline"
)

// Compile-time interface check.
var _ pipeline.Subscriber = (*InteractionLog)(nil)

// record is a single interaction entry written to the log file.
type record struct {
	Timestamp  time.Time `json:"timestamp"`
	Transcript string    `json:"transcript"`
	Response   string    `json:"response"`
	DurationMS int64     `json:"duration_ms"`
	AudioBytes int       `json:"audio_bytes"`
	Error      string    `json:"error,omitempty"`
}

// InteractionLog persists completed interactions as JSON lines in a local
// file. Thread-safe for concurrent use.
type InteractionLog struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewInteractionLog creates an InteractionLog that appends to the given
// path. The file is created on first write.
func NewInteractionLog(path string, logger *slog.Logger) *InteractionLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &InteractionLog{path: path, logger: logger.With("component", "interaction-log")}
}

// OnInteraction implements pipeline.Subscriber. Write failures are logged,
// not propagated; losing a log line must not disturb the pipeline.
func (l *InteractionLog) OnInteraction(ia pipeline.Interaction) {
	if err := l.append(ia); err != nil {
		l.logger.Warn("failed to persist interaction", "error", err)
	}
}

func (l *InteractionLog) append(ia pipeline.Interaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := record{
		Timestamp:  ia.ActivatedAt.UTC(),
		Transcript: ia.Transcript,
		Response:   ia.Response,
		DurationMS: time.Since(ia.ActivatedAt).Milliseconds(),
		AudioBytes: len(ia.Audio),
	}
	if ia.Err != nil {
		rec.Error = ia.Err.Error()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("feedback: write: %w", err)
	}
	return nil
}

// OnStateChange implements pipeline.Subscriber.
func (l *InteractionLog) OnStateChange(pipeline.Notification) {}

// OnTranscript implements pipeline.Subscriber.
func (l *InteractionLog) OnTranscript(string) {}

// OnResponseText implements pipeline.Subscriber.
func (l *InteractionLog) OnResponseText(string) {}
