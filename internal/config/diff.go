package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (devices, providers, wake tuning) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ModeChanged bool
	NewMode     Mode

	SystemPromptChanged bool
	NewSystemPrompt     string
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.ModeChanged || d.SystemPromptChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Pipeline.Mode != new.Pipeline.Mode {
		d.ModeChanged = true
		d.NewMode = new.Pipeline.Mode
	}
	if old.Pipeline.SystemPrompt != new.Pipeline.SystemPrompt {
		d.SystemPromptChanged = true
		d.NewSystemPrompt = new.Pipeline.SystemPrompt
	}

	return d
}
