// Command echonote is the recording server: it ingests PCM audio over
// WebSocket, produces minute summaries through the configured LM, and
// answers retrieval queries over everything recorded so far.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/echonote/echonote/internal/config"
	"github.com/echonote/echonote/internal/ingest"
	"github.com/echonote/echonote/internal/observe"
	"github.com/echonote/echonote/internal/rag"
	"github.com/echonote/echonote/internal/session"
	"github.com/echonote/echonote/internal/store"
	"github.com/echonote/echonote/internal/store/postgres"
	"github.com/echonote/echonote/internal/summarize"
	"github.com/echonote/echonote/pkg/audio"
	"github.com/echonote/echonote/pkg/provider/embeddings"
	ollamaembed "github.com/echonote/echonote/pkg/provider/embeddings/ollama"
	oaembed "github.com/echonote/echonote/pkg/provider/embeddings/openai"
	"github.com/echonote/echonote/pkg/provider/llm"
	"github.com/echonote/echonote/pkg/provider/llm/anyllm"
	"github.com/echonote/echonote/pkg/provider/stt"
	"github.com/echonote/echonote/pkg/provider/stt/whisper"
	"github.com/echonote/echonote/pkg/vectorstore"
	"github.com/echonote/echonote/pkg/vectorstore/pgvector"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "echonote: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "echonote: %v\n", err)
		}
		return 1
	}
	config.ApplyDefaults(cfg)

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("echonote starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if providers.llm == nil {
		slog.Error("an LLM provider is required; configure providers.llm")
		return 1
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	repo, err := postgres.New(ctx, cfg.Database.PostgresDSN)
	if err != nil {
		slog.Error("failed to open database", "err", err)
		return 1
	}
	defer repo.Close()

	var vstore vectorstore.Store
	if providers.embeddings != nil {
		pgv, err := pgvector.New(ctx, cfg.Database.PostgresDSN, cfg.Database.EmbeddingDimensions)
		if err != nil {
			slog.Warn("vector store unavailable; semantic search disabled", "err", err)
		} else {
			defer pgv.Close()
			vstore = pgv
		}
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.LogLevelChanged {
			logLevel.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level updated", "log_level", diff.NewLogLevel)
		}
		if diff.CategoriesChanged || diff.SilenceThresholdChanged {
			slog.Info("categories or silence threshold changed; applies to the next session")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Pipeline wiring ───────────────────────────────────────────────────────
	registry := session.NewRegistry(metrics)
	base := session.Options{
		Provider:    providers.llm,
		Embedder:    providers.embeddings,
		VectorStore: vstore,
		Interval:    cfg.Recording.SummaryInterval,
		Categories:  cfg.Categories,
		Metrics:     metrics,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if providers.stt != nil {
		ingestServer := ingest.NewServer(repo, providers.stt, registry, base, ingest.Config{
			SampleRate: cfg.Recording.SampleRate,
			AudioDir:   cfg.Recording.AudioDir,
		}, metrics)
		mux.Handle("/ws/record", ingestServer)
	} else {
		slog.Warn("no STT provider; /ws/record disabled")
	}

	extractor := summarize.NewRangeExtractor(providers.llm, metrics)
	mux.Handle("POST /api/recordings/{id}/summary-range", rangeHandler(repo, extractor))

	if providers.embeddings != nil && vstore != nil {
		planner := rag.New(providers.embeddings, vstore, providers.llm, metrics, rag.WithAuditLog(repo))
		mux.Handle("POST /api/query", queryHandler(planner))
		mux.Handle("GET /api/recordings/{id}/similar", similarHandler(planner))
	} else {
		slog.Warn("no embeddings provider or vector store; /api/query disabled")
	}

	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	registry.Cleanup(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── HTTP handlers ─────────────────────────────────────────────────────────────

func queryHandler(planner *rag.Planner) http.HandlerFunc {
	type request struct {
		Query         string   `json:"query"`
		TopK          int      `json:"top_k"`
		MinSimilarity float64  `json:"min_similarity"`
		DateFrom      string   `json:"date_from"`
		DateTo        string   `json:"date_to"`
		Category      string   `json:"category"`
		Keywords      []string `json:"keywords"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
			http.Error(w, "invalid query request", http.StatusBadRequest)
			return
		}
		resp, err := planner.Query(r.Context(), rag.Request{
			Query:         req.Query,
			TopK:          req.TopK,
			MinSimilarity: req.MinSimilarity,
			Filters: rag.Filters{
				DateFrom: req.DateFrom,
				DateTo:   req.DateTo,
				Category: req.Category,
				Keywords: req.Keywords,
			},
		})
		if err != nil {
			slog.Error("query failed", "err", err)
			http.Error(w, "query failed", http.StatusBadGateway)
			return
		}
		writeJSON(w, resp)
	}
}

func rangeHandler(repo store.Repository, extractor *summarize.RangeExtractor) http.HandlerFunc {
	type request struct {
		StartMinute int `json:"start_minute"`
		EndMinute   int `json:"end_minute"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var id int64
		if _, err := fmt.Sscan(r.PathValue("id"), &id); err != nil {
			http.Error(w, "invalid recording id", http.StatusBadRequest)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EndMinute < req.StartMinute {
			http.Error(w, "invalid range request", http.StatusBadRequest)
			return
		}

		var summaries []store.Summary
		err := repo.WithTx(r.Context(), func(q store.Queries) error {
			var err error
			summaries, err = q.ListSummariesInRange(r.Context(), id, req.StartMinute, req.EndMinute)
			return err
		})
		if err != nil {
			slog.Error("list summaries failed", "err", err)
			http.Error(w, "list summaries failed", http.StatusInternalServerError)
			return
		}

		minutes := make([]summarize.MinuteRecord, len(summaries))
		for i, s := range summaries {
			minutes[i] = summarize.MinuteRecord{MinuteIndex: s.MinuteIndex, Text: s.SummaryText}
		}
		result, err := extractor.Extract(r.Context(), summarize.RangeInput{
			RecordingID: id,
			StartMinute: req.StartMinute,
			EndMinute:   req.EndMinute,
			Minutes:     minutes,
		})
		if errors.Is(err, summarize.ErrNoSummariesInRange) {
			http.Error(w, "no summaries in range", http.StatusNotFound)
			return
		}
		if err != nil {
			slog.Error("range summary failed", "err", err)
			http.Error(w, "range summary failed", http.StatusBadGateway)
			return
		}
		writeJSON(w, result)
	}
}

func similarHandler(planner *rag.Planner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id int64
		if _, err := fmt.Sscan(r.PathValue("id"), &id); err != nil {
			http.Error(w, "invalid recording id", http.StatusBadRequest)
			return
		}
		sources, err := planner.FindSimilar(r.Context(), id, 0)
		if err != nil {
			slog.Error("find similar failed", "err", err)
			http.Error(w, "find similar failed", http.StatusBadGateway)
			return
		}
		writeJSON(w, sources)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "err", err)
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

type builtProviders struct {
	llm        llm.Provider
	stt        stt.Provider
	embeddings embeddings.Provider
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// The hosted providers all share the same pattern: optional APIKey +
	// optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{
			whisper.WithSilenceThreshold(cfg.Recording.SilenceThreshold),
			whisper.WithChunkConfig(chunkConfig(cfg)),
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model,
			ollamaembed.WithDimensions(cfg.Database.EmbeddingDimensions))
	})
}

// buildProviders instantiates the providers named in cfg using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*builtProviders, error) {
	ps := &builtProviders{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.llm = p
		slog.Info("provider created", "kind", "llm", "name", name, "model", cfg.Providers.LLM.Model)
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.stt = p
		slog.Info("provider created", "kind", "stt", "name", name, "model", cfg.Providers.STT.Model)
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name, "model", cfg.Providers.Embeddings.Model)
	}

	return ps, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// chunkConfig maps the recording settings onto the streaming transcription
// window geometry.
func chunkConfig(cfg *config.Config) audio.ChunkConfig {
	return audio.ChunkConfig{
		ChunkDuration:   cfg.Recording.ChunkDuration,
		SampleRate:      cfg.Recording.SampleRate,
		SampleWidth:     2,
		Channels:        1,
		OverlapDuration: cfg.Recording.OverlapDuration,
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
