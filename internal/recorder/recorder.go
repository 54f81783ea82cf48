// Package recorder captures a single endpointed utterance from the audio
// input device.
//
// Record owns the device exclusively for the duration of the call: the
// orchestrator must have paused the keyword spotter before calling it and may
// only resume the spotter after Record returns.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soniclarity/voicepipe/internal/dsp"
	"github.com/soniclarity/voicepipe/pkg/audio"
)

// ErrNoSpeech is returned when the max-duration guard fires before any
// speech was detected. The caller goes back to listening instead of
// processing an empty utterance.
var ErrNoSpeech = errors.New("recorder: no speech detected")

// Defaults for the endpointing tunables.
const (
	DefaultSilenceTimeout = 2 * time.Second
	DefaultMaxDuration    = 10 * time.Second
	defaultSampleRate     = 16000
)

// EndReason states why an utterance was finalized.
type EndReason string

const (
	// EndSilence means the trailing-silence threshold was reached after
	// speech had been detected.
	EndSilence EndReason = "silence"
	// EndMaxDuration means the max-duration guard fired with speech present.
	EndMaxDuration EndReason = "max-duration"
)

// Utterance is the captured audio of one recording session. Leading silence
// is discarded: PCM starts at the first frame classified as speech.
type Utterance struct {
	// Start is when recording began.
	Start time.Time
	// PCM is mono 16-bit little-endian audio from first speech to the end
	// of the session, trailing silence included.
	PCM []byte
	// SampleRate of PCM in Hz.
	SampleRate int
	// EndReason states which endpoint condition finalized the utterance.
	EndReason EndReason
}

// Duration reports the captured audio length.
func (u *Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.PCM)/2) * time.Second / time.Duration(u.SampleRate)
}

// Config holds the recorder's tunables. Zero values select defaults.
type Config struct {
	// SampleRate of the input device in Hz. Default 16000.
	SampleRate int
	// Aggressiveness is the VAD strictness, 0 (permissive) to 3 (strict).
	Aggressiveness int
	// SilenceTimeout is how long silence must hold, after speech, to end
	// the utterance. Default 2 s.
	SilenceTimeout time.Duration
	// MaxDuration bounds the whole session, leading silence included.
	// Default 10 s.
	MaxDuration time.Duration
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
}

// Recorder captures endpointed utterances. A Recorder may be reused across
// sessions but a single Record call must finish before the next starts.
type Recorder struct {
	cfg    Config
	device audio.InputDevice
	cond   *dsp.Conditioner
	logger *slog.Logger
}

// New creates a Recorder reading from device.
func New(device audio.InputDevice, cfg Config, logger *slog.Logger) (*Recorder, error) {
	if device == nil {
		return nil, errors.New("recorder: device must not be nil")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		cfg:    cfg,
		device: device,
		cond: dsp.NewConditioner(dsp.Config{
			SampleRate:     cfg.SampleRate,
			Aggressiveness: cfg.Aggressiveness,
		}),
		logger: logger.With("component", "recorder"),
	}, nil
}

// Record opens the device and captures one utterance. It blocks until an
// endpoint condition fires, ctx is cancelled, or the device fails.
//
// Elapsed time is accounted in frame durations rather than wall time, so the
// endpoint decision depends only on the audio itself. Device errors are
// returned as-is wrapped: they are fatal to the pipeline.
func (r *Recorder) Record(ctx context.Context) (*Utterance, error) {
	if err := r.device.Open(ctx); err != nil {
		return nil, fmt.Errorf("recorder: open device: %w", err)
	}
	defer r.device.Close()
	r.cond.Reset()

	u := &Utterance{Start: time.Now(), SampleRate: r.cfg.SampleRate}
	var (
		elapsed    time.Duration
		silenceFor time.Duration
		speechSeen bool
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := r.device.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("recorder: read frame: %w", err)
		}

		isSpeech, cleaned := r.cond.Process(frame)
		elapsed += cleaned.Duration()

		if isSpeech {
			speechSeen = true
			silenceFor = 0
		} else {
			silenceFor += cleaned.Duration()
		}

		// Leading silence is discarded; everything from first speech on is kept.
		if speechSeen {
			u.PCM = append(u.PCM, cleaned.Data...)
		}

		if speechSeen && silenceFor >= r.cfg.SilenceTimeout {
			u.EndReason = EndSilence
			r.logger.Debug("utterance ended on silence",
				"duration", u.Duration(), "elapsed", elapsed)
			return u, nil
		}
		if elapsed >= r.cfg.MaxDuration {
			if !speechSeen {
				return nil, ErrNoSpeech
			}
			u.EndReason = EndMaxDuration
			r.logger.Debug("utterance ended on max duration",
				"duration", u.Duration(), "elapsed", elapsed)
			return u, nil
		}
	}
}
