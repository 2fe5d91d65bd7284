// Package classify assigns content categories to recordings and resolves the
// matching output template.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/echonote/echonote/internal/llmjson"
	"github.com/echonote/echonote/internal/observe"
	"github.com/echonote/echonote/pkg/provider/llm"
)

// DefaultCategories are the classification categories offered when the caller
// supplies none.
var DefaultCategories = []string{"lecture", "meeting", "conversation", "memo"}

// fallbackCategory absorbs empty input and out-of-list model answers.
const fallbackCategory = "memo"

// Result is one classification outcome.
type Result struct {
	Category   string
	Confidence float64
	Reason     string
	ModelUsed  string
}

// Classifier performs zero-shot classification through an LM provider.
// Safe for concurrent use.
type Classifier struct {
	provider llm.Provider
	metrics  *observe.Metrics
}

// NewClassifier returns a Classifier backed by provider.
func NewClassifier(provider llm.Provider, metrics *observe.Metrics) *Classifier {
	return &Classifier{provider: provider, metrics: metrics}
}

// classifySystem instructs the model to emit the full classification shape.
// Template trigger scoring matches against the reason text, so the prompt
// must ask for it explicitly.
const classifySystem = `Classify the given text into exactly one of these categories: %s. Respond with only a JSON object with keys "category" (string), "confidence" (number between 0 and 1), and "reason" (one sentence explaining the choice).`

// classifyResponse accepts loosely-typed model output; confidence and reason
// are coerced during validation.
type classifyResponse struct {
	Category   string          `json:"category"`
	Confidence json.RawMessage `json:"confidence"`
	Reason     any             `json:"reason"`
}

// Classify assigns text to one of categories. Nil or empty categories selects
// [DefaultCategories]. Empty text short-circuits to memo with zero confidence
// and no LM call.
func (c *Classifier) Classify(ctx context.Context, text string, categories []string) (Result, error) {
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	if text == "" {
		return Result{
			Category:   fallbackCategory,
			Confidence: 0,
			Reason:     "Empty input text; defaulting to memo.",
		}, nil
	}

	raw, err := c.call(ctx, text, categories)
	if err != nil {
		return Result{}, fmt.Errorf("classify: %w", err)
	}

	var resp classifyResponse
	if err := llmjson.Decode(raw, &resp); err != nil {
		return Result{}, fmt.Errorf("classify: %w", err)
	}

	out := Result{
		Category:   resp.Category,
		Confidence: coerceConfidence(resp.Confidence),
		Reason:     coerceReason(resp.Reason),
		ModelUsed:  c.provider.ModelID(),
	}
	if !slices.Contains(categories, out.Category) {
		slog.Warn("classify: model returned unknown category, coercing",
			"category", out.Category, "categories", categories)
		out.Category = fallbackCategory
	}
	return out, nil
}

func (c *Classifier) call(ctx context.Context, text string, categories []string) (string, error) {
	var raw string
	opts := llm.Options{System: fmt.Sprintf(classifySystem, strings.Join(categories, ", "))}
	start := time.Now()
	err := llmjson.Retry(ctx, func(ctx context.Context) error {
		var callErr error
		raw, callErr = c.provider.Classify(ctx, text, categories, opts)
		return callErr
	})
	if c.metrics != nil {
		c.metrics.RecordLLMDuration(ctx, "classify", time.Since(start).Seconds())
	}
	return raw, err
}

// coerceConfidence parses the raw confidence value, mapping anything that is
// not a finite number to 0 and clamping to [0, 1].
func coerceConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		// Models sometimes quote the number.
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return math.Min(1, math.Max(0, f))
}

// coerceReason stringifies whatever the model put in the reason field.
func coerceReason(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	default:
		return fmt.Sprintf("%v", r)
	}
}
