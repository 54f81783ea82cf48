package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/soniclarity/voicepipe/internal/config"
	"github.com/soniclarity/voicepipe/pkg/provider/stt"
	sttmock "github.com/soniclarity/voicepipe/pkg/provider/stt/mock"
)

const fullYAML = `
server:
  metrics_addr: ":9090"
  log_level: debug
  interaction_log: /var/lib/voicepipe/interactions.jsonl
audio:
  input_device: "USB Array"
  output_device: "Built-in"
  sample_rate: 16000
  frame_millis: 20
  aggressiveness: 2
  beamformer:
    mics:
      - {x: 0, y: 0, z: 0}
      - {x: 0.05, y: 0, z: 0}
    direction: {x: 1, y: 0, z: 0}
wake:
  phrase: hey sonic
  threshold: 0.8
  chunk_millis: 80
  max_window_millis: 1600
  language: en
recorder:
  silence_millis: 2000
  max_millis: 10000
pipeline:
  mode: conversation
  system_prompt: "You are a helpful home assistant."
  history_turns: 10
  error_recovery_millis: 2000
providers:
  stt:
    name: deepgram
    api_key: dg-secret
    model: nova-2
  respond:
    name: ollama
    base_url: http://localhost:11434
    model: llama3
  tts:
    name: coqui
    base_url: http://localhost:5002
    voice: p225
    language: en
`

func TestLoadFromReaderFullConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.MetricsAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Aggressiveness != 2 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	bf := cfg.Audio.Beamformer
	if bf == nil || len(bf.Mics) != 2 || bf.Mics[1].X != 0.05 || bf.Direction.X != 1 {
		t.Errorf("beamformer = %+v", bf)
	}
	if cfg.Wake.Phrase != "hey sonic" || cfg.Wake.Threshold != 0.8 {
		t.Errorf("wake = %+v", cfg.Wake)
	}
	if cfg.Recorder.SilenceMillis != 2000 || cfg.Recorder.MaxMillis != 10000 {
		t.Errorf("recorder = %+v", cfg.Recorder)
	}
	if cfg.Pipeline.Mode != config.ModeConversation || cfg.Pipeline.HistoryTurns != 10 {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Providers.STT.Name != "deepgram" || cfg.Providers.STT.Model != "nova-2" {
		t.Errorf("stt provider = %+v", cfg.Providers.STT)
	}
	if cfg.Providers.TTS.Voice != "p225" {
		t.Errorf("tts provider = %+v", cfg.Providers.TTS)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	yaml := `
wake:
  phrase: hey sonic
  treshold: 0.8
providers:
  stt: {name: whisper}
  respond: {name: openai}
  tts: {name: coqui}
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("misspelled field was accepted")
	}
	if !strings.Contains(err.Error(), "treshold") {
		t.Errorf("error %q does not name the unknown field", err)
	}
}

func TestLoadFromReaderInvalidConfig(t *testing.T) {
	t.Parallel()

	yaml := `
wake:
  phrase: ""
providers:
  stt: {name: whisper}
  respond: {name: openai}
  tts: {name: coqui}
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "wake.phrase") {
		t.Errorf("err = %v, want wake.phrase validation failure", err)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Wake.Phrase != "hey sonic" {
		t.Errorf("phrase = %q", cfg.Wake.Phrase)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load accepted a missing file")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()

	var gotEntry config.ProviderEntry
	r.RegisterSTT("fake", func(e config.ProviderEntry) (stt.Provider, error) {
		gotEntry = e
		return &sttmock.Provider{}, nil
	})

	p, err := r.CreateSTT(config.ProviderEntry{Name: "fake", Model: "nova-2"})
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if p == nil {
		t.Fatal("CreateSTT returned nil provider")
	}
	if gotEntry.Model != "nova-2" {
		t.Errorf("factory entry = %+v", gotEntry)
	}

	if _, err := r.CreateSTT(config.ProviderEntry{Name: "unknown"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT unknown = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := r.CreateRespond(config.ProviderEntry{Name: "unknown"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateRespond unknown = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := r.CreateTTS(config.ProviderEntry{Name: "unknown"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTTS unknown = %v, want ErrProviderNotRegistered", err)
	}
}
