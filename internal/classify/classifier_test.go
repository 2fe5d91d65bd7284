package classify_test

import (
	"context"
	"errors"
	"strings"
	"syscall"
	"testing"

	"github.com/echonote/echonote/internal/classify"
	"github.com/echonote/echonote/pkg/provider/llm"
	llmmock "github.com/echonote/echonote/pkg/provider/llm/mock"
)

func TestClassifier_EmptyInputShortCircuits(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{}
	c := classify.NewClassifier(provider, nil)

	got, err := c.Classify(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Category != "memo" {
		t.Errorf("category: got %q, want memo", got.Category)
	}
	if got.Confidence != 0 {
		t.Errorf("confidence: got %v, want 0", got.Confidence)
	}
	if got.Reason == "" {
		t.Error("reason should explain the fallback")
	}
	if provider.CallCount() != 0 {
		t.Errorf("empty input must not invoke the LM, got %d calls", provider.CallCount())
	}
}

func TestClassifier_DefaultCategories(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{ClassifyResponse: `{"category": "lecture", "confidence": 0.9, "reason": "slides"}`}
	c := classify.NewClassifier(provider, nil)

	got, err := c.Classify(context.Background(), "today we cover sorting algorithms", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Category != "lecture" {
		t.Errorf("category: got %q", got.Category)
	}

	if len(provider.ClassifyCalls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(provider.ClassifyCalls))
	}
	cats := provider.ClassifyCalls[0].Categories
	want := []string{"lecture", "meeting", "conversation", "memo"}
	if len(cats) != len(want) {
		t.Fatalf("categories: got %v, want %v", cats, want)
	}
	for i := range want {
		if cats[i] != want[i] {
			t.Errorf("categories[%d]: got %q, want %q", i, cats[i], want[i])
		}
	}
}

func TestClassifier_SystemPromptRequestsReason(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{ClassifyResponse: `{"category": "meeting", "confidence": 0.9, "reason": "standup"}`}
	c := classify.NewClassifier(provider, nil)

	if _, err := c.Classify(context.Background(), "daily standup notes", []string{"meeting", "memo"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(provider.ClassifyCalls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(provider.ClassifyCalls))
	}
	system := provider.ClassifyCalls[0].Opts.System
	// Trigger scoring matches against the reason text, so the prompt must ask
	// for all three keys.
	for _, key := range []string{`"category"`, `"confidence"`, `"reason"`} {
		if !strings.Contains(system, key) {
			t.Errorf("system prompt missing %s: %q", key, system)
		}
	}
	if !strings.Contains(system, "meeting, memo") {
		t.Errorf("system prompt missing category list: %q", system)
	}
}

func TestClassifier_UnknownCategoryCoerced(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{ClassifyResponse: `{"category": "podcast", "confidence": 0.8, "reason": "audio show"}`}
	c := classify.NewClassifier(provider, nil)

	got, err := c.Classify(context.Background(), "some text", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Category != "memo" {
		t.Errorf("unknown category should coerce to memo, got %q", got.Category)
	}
	// Confidence and reason survive the coercion.
	if got.Confidence != 0.8 {
		t.Errorf("confidence: got %v", got.Confidence)
	}
	if got.Reason != "audio show" {
		t.Errorf("reason: got %q", got.Reason)
	}
}

func TestClassifier_ConfidenceCoercion(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		resp string
		want float64
	}{
		{"clamped above one", `{"category": "memo", "confidence": 3.5}`, 1},
		{"clamped below zero", `{"category": "memo", "confidence": -0.2}`, 0},
		{"quoted number", `{"category": "memo", "confidence": "0.7"}`, 0.7},
		{"non-numeric string", `{"category": "memo", "confidence": "high"}`, 0},
		{"missing", `{"category": "memo"}`, 0},
		{"null", `{"category": "memo", "confidence": null}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			provider := &llmmock.Provider{ClassifyResponse: tt.resp}
			c := classify.NewClassifier(provider, nil)
			got, err := c.Classify(context.Background(), "text", nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Confidence != tt.want {
				t.Errorf("confidence: got %v, want %v", got.Confidence, tt.want)
			}
		})
	}
}

func TestClassifier_ReasonCoercedToString(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{ClassifyResponse: `{"category": "memo", "confidence": 0.5, "reason": 42}`}
	c := classify.NewClassifier(provider, nil)

	got, err := c.Classify(context.Background(), "text", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Reason != "42" {
		t.Errorf("reason: got %q, want \"42\"", got.Reason)
	}
}

func TestClassifier_FencedResponse(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{
		ClassifyResponse: "```json\n{\"category\": \"meeting\", \"confidence\": 0.95, \"reason\": \"action items\"}\n```",
	}
	c := classify.NewClassifier(provider, nil)

	got, err := c.Classify(context.Background(), "text", []string{"meeting", "memo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Category != "meeting" || got.Confidence != 0.95 {
		t.Errorf("got %+v", got)
	}
}

func TestClassifier_RetriesTransport(t *testing.T) {
	t.Parallel()
	calls := 0
	provider := &llmmock.Provider{
		ClassifyFunc: func(context.Context, string, []string, llm.Options) (string, error) {
			calls++
			if calls == 1 {
				return "", syscall.ECONNRESET
			}
			return `{"category": "memo", "confidence": 0.5, "reason": "r"}`, nil
		},
	}
	c := classify.NewClassifier(provider, nil)

	if _, err := c.Classify(context.Background(), "text", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestClassifier_ModelErrorSurfaces(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("quota exceeded")
	provider := &llmmock.Provider{ClassifyErr: wantErr}
	c := classify.NewClassifier(provider, nil)

	if _, err := c.Classify(context.Background(), "text", nil); !errors.Is(err, wantErr) {
		t.Fatalf("expected model error, got %v", err)
	}
}
