package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/echonote/echonote/internal/llmjson"
	"github.com/echonote/echonote/internal/observe"
	"github.com/echonote/echonote/internal/store"
	"github.com/echonote/echonote/pkg/provider/llm"
)

const (
	// hourChunkSize is the maximum number of minute summaries per level-1 call.
	hourChunkSize = 10

	// hourConcurrency bounds the level-1 fan-out.
	hourConcurrency = 3
)

const chunkSystemPrompt = `You are a summarizer condensing consecutive minute summaries of a recording into one 10-minute summary. Respond with only a JSON object with keys "summary", "keywords", and "topics". Stay in the source language. Do not wrap the JSON in code fences.`

const hourSystemPrompt = `You are a summarizer producing the final one-hour summary of a recording from intermediate block summaries. Respond with only a JSON object with keys "summary", "keywords", and "topic_segments", where "topic_segments" is an array of {"topic", "minutes"} objects mapping topics to the minute indexes they cover. Stay in the source language. Do not wrap the JSON in code fences.`

// MinuteRecord is one minute summary feeding the hour reduction.
type MinuteRecord struct {
	MinuteIndex int
	Text        string
}

// HourSummary is the final two-level reduction over one hour bucket.
type HourSummary struct {
	SummaryText   string
	Keywords      []string
	TopicSegments []store.TopicSegment
	TokenCount    int
	ModelUsed     string
}

// HourSummarizer compresses up to an hour of minute summaries with a
// two-level map-reduce. Safe for concurrent use.
type HourSummarizer struct {
	provider llm.Provider
	metrics  *observe.Metrics
}

// NewHourSummarizer returns an HourSummarizer backed by provider.
func NewHourSummarizer(provider llm.Provider, metrics *observe.Metrics) *HourSummarizer {
	return &HourSummarizer{provider: provider, metrics: metrics}
}

type chunkResponse struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
	Topics   []string `json:"topics"`
}

type hourResponse struct {
	Summary       string               `json:"summary"`
	Keywords      []string             `json:"keywords"`
	TopicSegments []store.TopicSegment `json:"topic_segments"`
}

// Summarize reduces the minute summaries of one hour bucket. Empty input
// returns an empty result with no LM calls. An LM or decode error at either
// level fails the whole hour.
func (h *HourSummarizer) Summarize(ctx context.Context, hourIndex int, inputs []MinuteRecord) (HourSummary, error) {
	if len(inputs) == 0 {
		return HourSummary{}, nil
	}

	chunks := chunkRecords(inputs, hourChunkSize)

	// A single chunk fits the reduce prompt directly; skip level 1.
	var blocks []string
	if len(chunks) == 1 {
		for _, rec := range chunks[0] {
			blocks = append(blocks, rec.Text)
		}
	} else {
		var err error
		blocks, err = h.fanOut(ctx, hourIndex, chunks)
		if err != nil {
			return HourSummary{}, err
		}
	}

	resp, err := h.reduce(ctx, hourIndex, blocks)
	if err != nil {
		return HourSummary{}, err
	}

	return HourSummary{
		SummaryText:   resp.Summary,
		Keywords:      emptyIfNil(resp.Keywords),
		TopicSegments: resp.TopicSegments,
		// Rough chars-per-token heuristic, reported for observability only.
		TokenCount: len(resp.Summary) / 4,
		ModelUsed:  h.provider.ModelID(),
	}, nil
}

// fanOut runs the level-1 chunk summaries with bounded concurrency, returning
// one block text per chunk in input order.
func (h *HourSummarizer) fanOut(ctx context.Context, hourIndex int, chunks [][]MinuteRecord) ([]string, error) {
	blocks := make([]string, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(hourConcurrency)
	for i, chunk := range chunks {
		if len(chunk) == 1 {
			// A lone trailing summary passes through uncompressed.
			blocks[i] = chunk[0].Text
			continue
		}
		g.Go(func() error {
			out, err := h.summarizeChunk(ctx, chunk)
			if err != nil {
				return fmt.Errorf("summarize: hour %d chunk %d: %w", hourIndex, i, err)
			}
			blocks[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blocks, nil
}

// summarizeChunk issues one level-1 LM call over up to ten minute summaries,
// labelled [Minute 1], [Minute 2], … within the chunk.
func (h *HourSummarizer) summarizeChunk(ctx context.Context, chunk []MinuteRecord) (string, error) {
	var sb strings.Builder
	for i, rec := range chunk {
		fmt.Fprintf(&sb, "[Minute %d] %s\n", i+1, rec.Text)
	}

	raw, err := h.call(ctx, sb.String(), chunkSystemPrompt)
	if err != nil {
		return "", err
	}

	var resp chunkResponse
	if err := llmjson.Decode(raw, &resp); err != nil {
		return "", err
	}
	return resp.Summary, nil
}

// reduce issues the level-2 call over the block texts, labelled
// [Minutes 0-10], [Minutes 10-20], …
func (h *HourSummarizer) reduce(ctx context.Context, hourIndex int, blocks []string) (hourResponse, error) {
	var sb strings.Builder
	for i, block := range blocks {
		fmt.Fprintf(&sb, "[Minutes %d-%d] %s\n", i*hourChunkSize, (i+1)*hourChunkSize, block)
	}

	raw, err := h.call(ctx, sb.String(), hourSystemPrompt)
	if err != nil {
		return hourResponse{}, fmt.Errorf("summarize: hour %d reduce: %w", hourIndex, err)
	}

	var resp hourResponse
	if err := llmjson.Decode(raw, &resp); err != nil {
		return hourResponse{}, fmt.Errorf("summarize: hour %d reduce: %w", hourIndex, err)
	}
	return resp, nil
}

func (h *HourSummarizer) call(ctx context.Context, prompt, system string) (string, error) {
	var raw string
	start := time.Now()
	err := llmjson.Retry(ctx, func(ctx context.Context) error {
		var callErr error
		raw, callErr = h.provider.Generate(ctx, prompt, llm.Options{System: system})
		return callErr
	})
	if h.metrics != nil {
		h.metrics.RecordLLMDuration(ctx, "hour", time.Since(start).Seconds())
	}
	return raw, err
}

// chunkRecords partitions records into consecutive chunks of up to size.
func chunkRecords(records []MinuteRecord, size int) [][]MinuteRecord {
	var chunks [][]MinuteRecord
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		chunks = append(chunks, records[start:end])
	}
	return chunks
}
