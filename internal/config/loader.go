package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"whisper"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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
// Useful in tests where configs are constructed from string literals.
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

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Provider availability warnings
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; summarization and classification will not be available")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; audio ingestion will not produce transcripts")
	}

	// Embeddings ↔ database dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Database.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but database.embedding_dimensions is not set; defaulting to 1536")
	}

	// Database availability
	if cfg.Database.PostgresDSN == "" {
		errs = append(errs, errors.New("database.postgres_dsn is required"))
	}

	// Recording timings
	rec := cfg.Recording
	if rec.SummaryInterval < 0 {
		errs = append(errs, fmt.Errorf("recording.summary_interval %v must not be negative", rec.SummaryInterval))
	}
	if rec.ChunkDuration < 0 {
		errs = append(errs, fmt.Errorf("recording.chunk_duration %v must not be negative", rec.ChunkDuration))
	}
	if rec.OverlapDuration < 0 {
		errs = append(errs, fmt.Errorf("recording.overlap_duration %v must not be negative", rec.OverlapDuration))
	}
	if rec.ChunkDuration > 0 && rec.OverlapDuration >= rec.ChunkDuration {
		errs = append(errs, fmt.Errorf("recording.overlap_duration %v must be shorter than chunk_duration %v", rec.OverlapDuration, rec.ChunkDuration))
	}
	if rec.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("recording.sample_rate %d must not be negative", rec.SampleRate))
	}
	if rec.SilenceThreshold < 0 || rec.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("recording.silence_threshold %.3f is out of range [0, 1]", rec.SilenceThreshold))
	}

	// Category duplicate detection
	seen := make(map[string]int, len(cfg.Categories))
	for i, cat := range cfg.Categories {
		if cat == "" {
			errs = append(errs, fmt.Errorf("categories[%d] must not be empty", i))
			continue
		}
		if prev, ok := seen[cat]; ok {
			errs = append(errs, fmt.Errorf("categories[%d] %q is a duplicate of categories[%d]", i, cat, prev))
		}
		seen[cat] = i
	}

	return errors.Join(errs...)
}

// ApplyDefaults fills zero-valued recording settings with the pipeline
// defaults. Called by the server after [Load]; validation does not mutate.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	rec := &cfg.Recording
	if rec.SummaryInterval == 0 {
		rec.SummaryInterval = time.Minute
	}
	if rec.ChunkDuration == 0 {
		rec.ChunkDuration = 5 * time.Second
	}
	if rec.OverlapDuration == 0 {
		rec.OverlapDuration = 500 * time.Millisecond
	}
	if rec.SampleRate == 0 {
		rec.SampleRate = 16000
	}
	if rec.SilenceThreshold == 0 {
		rec.SilenceThreshold = 0.01
	}
	if cfg.Database.EmbeddingDimensions == 0 {
		cfg.Database.EmbeddingDimensions = 1536
	}
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
