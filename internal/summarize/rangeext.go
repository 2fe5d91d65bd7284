package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/echonote/echonote/internal/llmjson"
	"github.com/echonote/echonote/internal/observe"
	"github.com/echonote/echonote/pkg/provider/llm"
)

// ErrNoSummariesInRange is returned by Extract when the input carries no
// minute summaries.
var ErrNoSummariesInRange = errors.New("summarize: no summaries in range")

const rangeSystemPrompt = `You are a summarizer producing one unified summary over a span of minute summaries from a recording. Respond with only a JSON object with keys "summary" and "keywords". Stay in the source language. Do not wrap the JSON in code fences.`

// RangeInput selects a minute span of one recording for extraction.
type RangeInput struct {
	RecordingID int64
	StartMinute int
	EndMinute   int
	Minutes     []MinuteRecord
}

// RangeSummary is the unified summary over a minute span.
type RangeSummary struct {
	SummaryText     string
	Keywords        []string
	IncludedMinutes []int
	SourceCount     int
	ModelUsed       string
}

// RangeExtractor produces one-shot summaries over arbitrary minute spans.
// Safe for concurrent use.
type RangeExtractor struct {
	provider llm.Provider
	metrics  *observe.Metrics
}

// NewRangeExtractor returns a RangeExtractor backed by provider.
func NewRangeExtractor(provider llm.Provider, metrics *observe.Metrics) *RangeExtractor {
	return &RangeExtractor{provider: provider, metrics: metrics}
}

type rangeResponse struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

// Extract makes exactly one LM call over the listed minute summaries.
// Empty input fails with [ErrNoSummariesInRange].
func (r *RangeExtractor) Extract(ctx context.Context, in RangeInput) (RangeSummary, error) {
	if len(in.Minutes) == 0 {
		return RangeSummary{}, fmt.Errorf("recording %d minutes %d-%d: %w",
			in.RecordingID, in.StartMinute, in.EndMinute, ErrNoSummariesInRange)
	}

	var sb strings.Builder
	included := make([]int, 0, len(in.Minutes))
	for _, rec := range in.Minutes {
		fmt.Fprintf(&sb, "[Minute %d] %s\n", rec.MinuteIndex, rec.Text)
		included = append(included, rec.MinuteIndex)
	}

	var raw string
	start := time.Now()
	err := llmjson.Retry(ctx, func(ctx context.Context) error {
		var callErr error
		raw, callErr = r.provider.Generate(ctx, sb.String(), llm.Options{System: rangeSystemPrompt})
		return callErr
	})
	if r.metrics != nil {
		r.metrics.RecordLLMDuration(ctx, "range", time.Since(start).Seconds())
	}
	if err != nil {
		return RangeSummary{}, fmt.Errorf("summarize: range %d-%d: %w", in.StartMinute, in.EndMinute, err)
	}

	var resp rangeResponse
	if err := llmjson.Decode(raw, &resp); err != nil {
		return RangeSummary{}, fmt.Errorf("summarize: range %d-%d: %w", in.StartMinute, in.EndMinute, err)
	}

	return RangeSummary{
		SummaryText:     resp.Summary,
		Keywords:        emptyIfNil(resp.Keywords),
		IncludedMinutes: included,
		SourceCount:     len(in.Minutes),
		ModelUsed:       r.provider.ModelID(),
	}, nil
}
