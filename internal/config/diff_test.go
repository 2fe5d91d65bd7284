package config_test

import (
	"testing"

	"github.com/echonote/echonote/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:     config.ServerConfig{LogLevel: config.LogInfo},
		Categories: []string{"lecture", "memo"},
	}
	new := &config.Config{
		Server:     config.ServerConfig{LogLevel: config.LogInfo},
		Categories: []string{"lecture", "memo"},
	}

	d := config.Diff(old, new)
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("expected LogLevelChanged")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel: got %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_Categories(t *testing.T) {
	t.Parallel()
	old := &config.Config{Categories: []string{"lecture", "memo"}}
	new := &config.Config{Categories: []string{"lecture", "standup", "memo"}}

	d := config.Diff(old, new)
	if !d.CategoriesChanged {
		t.Fatal("expected CategoriesChanged")
	}
	if len(d.NewCategories) != 3 {
		t.Errorf("NewCategories: got %v", d.NewCategories)
	}
}

func TestDiff_SilenceThreshold(t *testing.T) {
	t.Parallel()
	old := &config.Config{Recording: config.RecordingConfig{SilenceThreshold: 0.01}}
	new := &config.Config{Recording: config.RecordingConfig{SilenceThreshold: 0.05}}

	d := config.Diff(old, new)
	if !d.SilenceThresholdChanged {
		t.Fatal("expected SilenceThresholdChanged")
	}
	if d.NewSilenceThreshold != 0.05 {
		t.Errorf("NewSilenceThreshold: got %v, want 0.05", d.NewSilenceThreshold)
	}
}

func TestDiff_IgnoresProviderChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "openai"}}}
	new := &config.Config{Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "ollama"}}}

	if d := config.Diff(old, new); d.Changed() {
		t.Errorf("provider changes require restart and should not appear in diff, got %+v", d)
	}
}
