package config_test

import (
	"testing"

	"github.com/soniclarity/voicepipe/internal/config"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	base := func() *config.Config {
		c := validConfig()
		c.Server.LogLevel = config.LogInfo
		c.Pipeline.Mode = config.ModeConversation
		c.Pipeline.SystemPrompt = "You are helpful."
		return c
	}

	t.Run("no changes", func(t *testing.T) {
		t.Parallel()
		d := config.Diff(base(), base())
		if d.Any() {
			t.Errorf("Diff of identical configs = %+v", d)
		}
	})

	t.Run("log level", func(t *testing.T) {
		t.Parallel()
		next := base()
		next.Server.LogLevel = config.LogDebug
		d := config.Diff(base(), next)
		if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
			t.Errorf("diff = %+v", d)
		}
		if d.ModeChanged || d.SystemPromptChanged {
			t.Errorf("unrelated fields flagged: %+v", d)
		}
	})

	t.Run("mode and prompt", func(t *testing.T) {
		t.Parallel()
		next := base()
		next.Pipeline.Mode = config.ModeCommand
		next.Pipeline.SystemPrompt = "Answer briefly."
		d := config.Diff(base(), next)
		if !d.ModeChanged || d.NewMode != config.ModeCommand {
			t.Errorf("diff = %+v", d)
		}
		if !d.SystemPromptChanged || d.NewSystemPrompt != "Answer briefly." {
			t.Errorf("diff = %+v", d)
		}
	})

	t.Run("restart-only change is ignored", func(t *testing.T) {
		t.Parallel()
		next := base()
		next.Providers.STT.Name = "deepgram"
		next.Wake.Phrase = "hello there"
		if d := config.Diff(base(), next); d.Any() {
			t.Errorf("restart-only changes flagged as hot-reloadable: %+v", d)
		}
	})
}
