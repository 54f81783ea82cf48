// Package deepgram provides an stt.Provider backed by Deepgram's streaming
// WebSocket API. Although the pipeline contract is batch-shaped (one
// endpointed utterance in, one transcript out), the Deepgram endpoint is
// stream-only: Transcribe opens a session, writes the PCM in chunks, signals
// CloseStream, and drains the result events to a final transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/soniclarity/voicepipe/pkg/provider/stt"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-2"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// writeChunkBytes is the PCM chunk size sent per WebSocket message.
	// 8 KiB is 256 ms at 16 kHz mono — large enough to keep message
	// overhead low, small enough for the server to start decoding early.
	writeChunkBytes = 8192
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g., "nova-2").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithEndpoint overrides the WebSocket endpoint. Useful for tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithLanguage sets the default recognition language.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// Provider implements stt.Provider using the Deepgram streaming API.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	language string
}

// New creates a Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// result is the JSON structure of a Deepgram Results event.
type result struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (stt.Transcript, error) {
	if len(pcm) == 0 {
		return stt.Transcript{}, errors.New("deepgram: empty audio")
	}

	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Write the utterance, then tell the server no more audio is coming.
	for off := 0; off < len(pcm); off += writeChunkBytes {
		end := off + writeChunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return stt.Transcript{}, fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: close stream: %w", err)
	}

	// Drain result events until the server closes the socket, keeping the
	// final segments in order.
	var (
		parts      []string
		confidence float64
	)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return stt.Transcript{}, ctx.Err()
			}
			// A non-normal close after results were received still yields a
			// usable transcript; without results it is a hard failure.
			if len(parts) > 0 {
				break
			}
			return stt.Transcript{}, fmt.Errorf("deepgram: read: %w", err)
		}

		var res result
		if err := json.Unmarshal(data, &res); err != nil || res.Type != "Results" || !res.IsFinal {
			continue
		}
		if len(res.Channel.Alternatives) == 0 {
			continue
		}
		alt := res.Channel.Alternatives[0]
		if text := strings.TrimSpace(alt.Transcript); text != "" {
			parts = append(parts, text)
		}
		if alt.Confidence > confidence {
			confidence = alt.Confidence
		}
	}

	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	return stt.Transcript{
		Text:       strings.Join(parts, " "),
		Confidence: confidence,
		Duration:   time.Duration(len(pcm)/2) * time.Second / time.Duration(sr),
	}, nil
}

// buildURL constructs the streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.Config) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
