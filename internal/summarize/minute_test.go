package summarize_test

import (
	"context"
	"errors"
	"strings"
	"syscall"
	"testing"

	"github.com/echonote/echonote/internal/summarize"
	"github.com/echonote/echonote/pkg/provider/llm"
	llmmock "github.com/echonote/echonote/pkg/provider/llm/mock"
)

func TestMinuteSummarizer_BlankInputSkipsLM(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{}
	s := summarize.NewMinuteSummarizer(provider, nil)

	for _, text := range []string{"", "   ", "\n\t "} {
		got, err := s.Summarize(context.Background(), summarize.MinuteInput{Text: text, MinuteIndex: 3})
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", text, err)
		}
		if !got.Empty() {
			t.Errorf("expected empty summary for %q, got %+v", text, got)
		}
	}
	if provider.CallCount() != 0 {
		t.Errorf("blank input must not invoke the LM, got %d calls", provider.CallCount())
	}
}

func TestMinuteSummarizer_PromptAssembly(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{GenerateResponse: `{"summary": "ok", "keywords": [], "topic": "t"}`}
	s := summarize.NewMinuteSummarizer(provider, nil)

	_, err := s.Summarize(context.Background(), summarize.MinuteInput{
		Text:        "we discussed the roadmap",
		MinuteIndex: 2,
		PrevSummary: "introductions happened",
		UserContext: "weekly planning meeting",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(provider.GenerateCalls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(provider.GenerateCalls))
	}
	call := provider.GenerateCalls[0]
	if call.Opts.System == "" {
		t.Error("system prompt must be set")
	}

	prompt := call.Prompt
	ctxPos := strings.Index(prompt, "weekly planning meeting")
	prevPos := strings.Index(prompt, "introductions happened")
	textPos := strings.Index(prompt, "we discussed the roadmap")
	if ctxPos < 0 || prevPos < 0 || textPos < 0 {
		t.Fatalf("prompt missing sections: %q", prompt)
	}
	if !(ctxPos < prevPos && prevPos < textPos) {
		t.Errorf("prompt sections out of order: context=%d prev=%d text=%d", ctxPos, prevPos, textPos)
	}
}

func TestMinuteSummarizer_OmitsAbsentSections(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{GenerateResponse: `{"summary": "ok"}`}
	s := summarize.NewMinuteSummarizer(provider, nil)

	_, err := s.Summarize(context.Background(), summarize.MinuteInput{Text: "hello", MinuteIndex: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prompt := provider.GenerateCalls[0].Prompt
	if strings.Contains(prompt, "Context:") {
		t.Errorf("prompt should omit context section: %q", prompt)
	}
	if strings.Contains(prompt, "Previous minute summary:") {
		t.Errorf("prompt should omit previous summary section: %q", prompt)
	}
}

func TestMinuteSummarizer_ParsesFencedResponse(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{
		GenerateResponse: "```json\n{\"summary\": \"roadmap review\", \"keywords\": [\"roadmap\"], \"topic\": \"planning\"}\n```",
		Model:            "gpt-4o-mini",
	}
	s := summarize.NewMinuteSummarizer(provider, nil)

	got, err := s.Summarize(context.Background(), summarize.MinuteInput{Text: "text", MinuteIndex: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.SummaryText != "roadmap review" {
		t.Errorf("summary: got %q", got.SummaryText)
	}
	if got.Topic != "planning" {
		t.Errorf("topic: got %q", got.Topic)
	}
	if got.ModelUsed != "gpt-4o-mini" {
		t.Errorf("model: got %q", got.ModelUsed)
	}
}

func TestMinuteSummarizer_DropsIncompleteCorrections(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{GenerateResponse: `{
		"summary": "s",
		"corrections": [
			{"original": "teh", "corrected": "the", "reason": "typo"},
			{"original": "", "corrected": "x"},
			{"original": "y", "corrected": ""},
			{"original": "collor", "corrected": "color"}
		]
	}`}
	s := summarize.NewMinuteSummarizer(provider, nil)

	got, err := s.Summarize(context.Background(), summarize.MinuteInput{Text: "text", MinuteIndex: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Corrections) != 2 {
		t.Fatalf("corrections: got %d, want 2 (%+v)", len(got.Corrections), got.Corrections)
	}
	if got.Corrections[0].Original != "teh" || got.Corrections[1].Original != "collor" {
		t.Errorf("corrections order not preserved: %+v", got.Corrections)
	}
}

func TestMinuteSummarizer_MissingCorrectionsDefaultsEmpty(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{GenerateResponse: `{"summary": "s", "keywords": ["k"]}`}
	s := summarize.NewMinuteSummarizer(provider, nil)

	got, err := s.Summarize(context.Background(), summarize.MinuteInput{Text: "text", MinuteIndex: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Corrections == nil || len(got.Corrections) != 0 {
		t.Errorf("corrections should be empty non-nil, got %#v", got.Corrections)
	}
}

func TestMinuteSummarizer_RetriesTransportErrors(t *testing.T) {
	t.Parallel()
	calls := 0
	provider := &llmmock.Provider{
		GenerateFunc: func(context.Context, string, llm.Options) (string, error) {
			calls++
			if calls == 1 {
				return "", syscall.ECONNREFUSED
			}
			return `{"summary": "after retry"}`, nil
		},
	}
	s := summarize.NewMinuteSummarizer(provider, nil)

	got, err := s.Summarize(context.Background(), summarize.MinuteInput{Text: "text", MinuteIndex: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.SummaryText != "after retry" {
		t.Errorf("summary: got %q", got.SummaryText)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestMinuteSummarizer_ModelErrorNotRetried(t *testing.T) {
	t.Parallel()
	modelErr := errors.New("invalid request")
	provider := &llmmock.Provider{GenerateErr: modelErr}
	s := summarize.NewMinuteSummarizer(provider, nil)

	_, err := s.Summarize(context.Background(), summarize.MinuteInput{Text: "text", MinuteIndex: 4})
	if !errors.Is(err, modelErr) {
		t.Fatalf("expected model error, got %v", err)
	}
	if got := len(provider.GenerateCalls); got != 1 {
		t.Errorf("model errors must not retry, got %d calls", got)
	}
}

func TestMinuteSummarizer_MalformedJSONFails(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{GenerateResponse: "this is not json"}
	s := summarize.NewMinuteSummarizer(provider, nil)

	if _, err := s.Summarize(context.Background(), summarize.MinuteInput{Text: "text", MinuteIndex: 0}); err == nil {
		t.Fatal("expected decode error, got nil")
	}
}
