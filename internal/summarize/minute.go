// Package summarize implements the multi-stage LM summarization pipeline:
// per-minute summaries of raw transcript windows, two-level hour reductions,
// and one-shot range extracts.
//
// All summarizers share the same defensive posture toward model output:
// responses are stripped of markdown fences and decoded via internal/llmjson,
// and transport-level failures are retried with bounded backoff. Model-side
// failures (malformed JSON, refusals) are never retried.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/echonote/echonote/internal/llmjson"
	"github.com/echonote/echonote/internal/observe"
	"github.com/echonote/echonote/internal/store"
	"github.com/echonote/echonote/pkg/provider/llm"
)

// minuteSystemPrompt is the fixed directive for per-minute summarization.
const minuteSystemPrompt = `You are a transcription summarizer. Respond with only a JSON object with keys "summary", "keywords", "topic", and "corrections". The summary must stay in the source language of the transcript and use at most about 50 tokens. "keywords" is an array of strings. "corrections" is an array of {"original", "corrected", "reason"} objects for likely transcription errors; emit an empty array when there are none. Do not wrap the JSON in code fences.`

// MinuteInput is one minute-long transcript window to summarize.
type MinuteInput struct {
	Text        string
	MinuteIndex int

	// PrevSummary is the previous minute's summary text, used for
	// continuity. Empty for the first minute.
	PrevSummary string

	// UserContext is free-text domain hints supplied when the recording was
	// created (speaker names, jargon, topic).
	UserContext string
}

// MinuteSummary is the structured result of summarizing one minute window.
// The zero value marks a skipped (blank) minute.
type MinuteSummary struct {
	SummaryText string
	Keywords    []string
	Topic       string
	Corrections []store.Correction
	ModelUsed   string
}

// Empty reports whether the summary is the zero result of a skipped minute.
func (s MinuteSummary) Empty() bool {
	return s.SummaryText == "" && len(s.Keywords) == 0 && len(s.Corrections) == 0
}

// MinuteSummarizer produces per-minute summaries through an LM provider.
// Safe for concurrent use.
type MinuteSummarizer struct {
	provider llm.Provider
	metrics  *observe.Metrics
}

// NewMinuteSummarizer returns a MinuteSummarizer backed by provider.
// metrics may be nil; latency is then not recorded.
func NewMinuteSummarizer(provider llm.Provider, metrics *observe.Metrics) *MinuteSummarizer {
	return &MinuteSummarizer{provider: provider, metrics: metrics}
}

// minuteResponse mirrors the JSON contract of the minute prompt.
type minuteResponse struct {
	Summary     string             `json:"summary"`
	Keywords    []string           `json:"keywords"`
	Topic       string             `json:"topic"`
	Corrections []store.Correction `json:"corrections"`
}

// Summarize produces the minute summary for in. Blank input returns the zero
// MinuteSummary without an LM call.
func (m *MinuteSummarizer) Summarize(ctx context.Context, in MinuteInput) (MinuteSummary, error) {
	if strings.TrimSpace(in.Text) == "" {
		return MinuteSummary{}, nil
	}

	prompt := buildMinutePrompt(in)

	var raw string
	start := time.Now()
	err := llmjson.Retry(ctx, func(ctx context.Context) error {
		var callErr error
		raw, callErr = m.provider.Generate(ctx, prompt, llm.Options{System: minuteSystemPrompt})
		return callErr
	})
	if m.metrics != nil {
		m.metrics.RecordLLMDuration(ctx, "minute", time.Since(start).Seconds())
	}
	if err != nil {
		return MinuteSummary{}, fmt.Errorf("summarize: minute %d: %w", in.MinuteIndex, err)
	}

	var resp minuteResponse
	if err := llmjson.Decode(raw, &resp); err != nil {
		return MinuteSummary{}, fmt.Errorf("summarize: minute %d: %w", in.MinuteIndex, err)
	}

	return MinuteSummary{
		SummaryText: resp.Summary,
		Keywords:    emptyIfNil(resp.Keywords),
		Topic:       resp.Topic,
		Corrections: filterCorrections(resp.Corrections),
		ModelUsed:   m.provider.ModelID(),
	}, nil
}

// buildMinutePrompt assembles the user part: domain context, previous
// summary, then the transcript, each only when present.
func buildMinutePrompt(in MinuteInput) string {
	var sb strings.Builder
	if in.UserContext != "" {
		sb.WriteString("Context: ")
		sb.WriteString(in.UserContext)
		sb.WriteString("\n\n")
	}
	if in.PrevSummary != "" {
		sb.WriteString("Previous minute summary: ")
		sb.WriteString(in.PrevSummary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Transcript:\n")
	sb.WriteString(in.Text)
	return sb.String()
}

// filterCorrections drops entries missing either side of the substitution.
func filterCorrections(in []store.Correction) []store.Correction {
	out := make([]store.Correction, 0, len(in))
	for _, c := range in {
		if c.Original == "" || c.Corrected == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
