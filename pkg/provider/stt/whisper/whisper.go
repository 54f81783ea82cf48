// Package whisper provides an stt.Provider backed by the whisper.cpp CGO
// bindings, running recognition fully on-device. The whisper.cpp static
// library (libwhisper.a) and headers must be available at link time via
// LIBRARY_PATH and C_INCLUDE_PATH.
//
// The model is loaded once at construction and shared across all concurrent
// Transcribe calls; each call creates its own whisper context because
// contexts are not thread-safe.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/soniclarity/voicepipe/pkg/provider/stt"
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

const (
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Provider implements stt.Provider using whisper.cpp.
type Provider struct {
	model    whisperlib.Model
	language string
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default language code for transcription (e.g., "en",
// "de"). A non-empty cfg.Language on a Transcribe call takes precedence.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// New loads the whisper.cpp model at modelPath. The caller must call Close
// when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider. The whole utterance is inferred in one
// pass; whisper.cpp does not report a usable confidence, so Confidence is
// always zero.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}

	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	samples := pcmToFloat32(pcm)
	if len(samples) == 0 {
		return stt.Transcript{}, errors.New("whisper: empty audio")
	}

	// Contexts are cheap relative to inference and are NOT thread-safe; the
	// shared model is.
	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return stt.Transcript{
		Text:     strings.Join(parts, " "),
		Duration: time.Duration(len(samples)) * time.Second / time.Duration(sr),
	}, nil
}
