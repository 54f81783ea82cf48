package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known backend names per provider kind.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"stt":     {"whisper", "deepgram", "mock"},
	"respond": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "mock"},
	"tts":     {"coqui", "openai", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown fields are rejected so typos surface at startup instead of
// silently selecting defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Aggressiveness < 0 || cfg.Audio.Aggressiveness > 3 {
		errs = append(errs, fmt.Errorf("audio.aggressiveness %d is out of range [0, 3]", cfg.Audio.Aggressiveness))
	}
	if bf := cfg.Audio.Beamformer; bf != nil {
		if len(bf.Mics) < 2 {
			errs = append(errs, fmt.Errorf("audio.beamformer.mics has %d entries; an array needs at least 2", len(bf.Mics)))
		}
	}

	if cfg.Wake.Phrase == "" {
		errs = append(errs, errors.New("wake.phrase is required"))
	}
	if cfg.Wake.Threshold < 0 || cfg.Wake.Threshold > 1 {
		errs = append(errs, fmt.Errorf("wake.threshold %.2f is out of range [0, 1]", cfg.Wake.Threshold))
	}

	if cfg.Recorder.SilenceMillis < 0 {
		errs = append(errs, fmt.Errorf("recorder.silence_millis %d must not be negative", cfg.Recorder.SilenceMillis))
	}
	if cfg.Recorder.MaxMillis < 0 {
		errs = append(errs, fmt.Errorf("recorder.max_millis %d must not be negative", cfg.Recorder.MaxMillis))
	}
	if cfg.Recorder.SilenceMillis > 0 && cfg.Recorder.MaxMillis > 0 &&
		cfg.Recorder.SilenceMillis >= cfg.Recorder.MaxMillis {
		errs = append(errs, fmt.Errorf("recorder.silence_millis %d must be shorter than recorder.max_millis %d",
			cfg.Recorder.SilenceMillis, cfg.Recorder.MaxMillis))
	}

	if cfg.Pipeline.Mode != "" && !cfg.Pipeline.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.mode %q is invalid; valid values: conversation, command", cfg.Pipeline.Mode))
	}
	if cfg.Pipeline.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("pipeline.history_turns %d must not be negative", cfg.Pipeline.HistoryTurns))
	}

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.Respond.Name == "" {
		errs = append(errs, errors.New("providers.respond.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("respond", cfg.Providers.Respond.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
