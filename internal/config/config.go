// Package config provides the configuration schema, loader, provider
// registry, and file watcher for the voice pipeline.
package config

import (
	"github.com/soniclarity/voicepipe/internal/dsp/beamform"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Mode selects how replies are generated.
type Mode string

const (
	// ModeConversation keeps dialogue history across exchanges.
	ModeConversation Mode = "conversation"

	// ModeCommand treats every utterance as an isolated instruction.
	ModeCommand Mode = "command"
)

// IsValid reports whether m is a recognised response mode.
func (m Mode) IsValid() bool {
	return m == ModeConversation || m == ModeCommand
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Wake      WakeConfig      `yaml:"wake"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// MetricsAddr is the TCP address the Prometheus metrics endpoint listens
	// on (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity. Defaults to "info".
	LogLevel LogLevel `yaml:"log_level"`

	// InteractionLog is a file path for the append-only JSON lines record of
	// completed interactions. Empty disables it.
	InteractionLog string `yaml:"interaction_log"`
}

// AudioConfig describes the capture and playback hardware.
type AudioConfig struct {
	// InputDevice names the capture device. Empty selects the system default.
	InputDevice string `yaml:"input_device"`

	// OutputDevice names the playback device. Empty selects the system default.
	OutputDevice string `yaml:"output_device"`

	// SampleRate in Hz. The pipeline standard is 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameMillis is the capture frame length in milliseconds. Default 20.
	FrameMillis int `yaml:"frame_millis"`

	// Aggressiveness tunes speech detection, 0 (lenient) to 3 (strict).
	Aggressiveness int `yaml:"aggressiveness"`

	// Beamformer configures microphone array steering. Nil disables it and
	// the input is treated as a single microphone.
	Beamformer *BeamformerConfig `yaml:"beamformer"`
}

// BeamformerConfig describes a microphone array and its steering target.
type BeamformerConfig struct {
	// Mics lists microphone positions in meters, one per input channel, in
	// channel order.
	Mics []beamform.Position `yaml:"mics"`

	// Direction is the steering target. It is normalized on load; the zero
	// vector sums channels without steering.
	Direction beamform.Direction `yaml:"direction"`
}

// WakeConfig tunes the keyword spotter.
type WakeConfig struct {
	// Phrase is the activation phrase (e.g., "hey sonic"). Required.
	Phrase string `yaml:"phrase"`

	// Threshold is the minimum match confidence in (0, 1]. Default 0.75.
	Threshold float64 `yaml:"threshold"`

	// ChunkMillis is the analysis chunk length in milliseconds. Default 80.
	ChunkMillis int `yaml:"chunk_millis"`

	// MaxWindowMillis caps the audio window sent for recognition. Default 1600.
	MaxWindowMillis int `yaml:"max_window_millis"`

	// Language is the BCP-47 recognition hint (e.g., "en").
	Language string `yaml:"language"`
}

// RecorderConfig tunes utterance endpointing.
type RecorderConfig struct {
	// SilenceMillis ends the utterance after this much silence once speech
	// has been heard. Default 2000.
	SilenceMillis int `yaml:"silence_millis"`

	// MaxMillis is the hard utterance length cap. Default 10000.
	MaxMillis int `yaml:"max_millis"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	// Mode selects conversation or command response generation.
	// Defaults to "conversation".
	Mode Mode `yaml:"mode"`

	// SystemPrompt overrides the response provider's default persona.
	SystemPrompt string `yaml:"system_prompt"`

	// HistoryTurns caps retained dialogue history. Default 10.
	HistoryTurns int `yaml:"history_turns"`

	// ErrorRecoveryMillis is the pause in the error state before resuming
	// listening. Default 2000.
	ErrorRecoveryMillis int `yaml:"error_recovery_millis"`
}

// ProvidersConfig declares which backend to use for each external service.
type ProvidersConfig struct {
	STT     ProviderEntry `yaml:"stt"`
	Respond ProviderEntry `yaml:"respond"`
	TTS     ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds. The Name field selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered backend (e.g., "whisper", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the backend's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the backend (e.g., "nova-2").
	Model string `yaml:"model"`

	// Voice is the synthesis voice identifier. Only meaningful for TTS.
	Voice string `yaml:"voice"`

	// Language is a BCP-47 hint passed to the backend.
	Language string `yaml:"language"`

	// Options holds backend-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}
