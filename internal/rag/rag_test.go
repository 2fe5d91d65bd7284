package rag_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/echonote/echonote/internal/rag"
	storemock "github.com/echonote/echonote/internal/store/mock"
	embedmock "github.com/echonote/echonote/pkg/provider/embeddings/mock"
	llmmock "github.com/echonote/echonote/pkg/provider/llm/mock"
	"github.com/echonote/echonote/pkg/vectorstore"
	vsmock "github.com/echonote/echonote/pkg/vectorstore/mock"
)

// seed puts a summary document into the store with the metadata shape the
// embedding side-channel writes.
func seed(t *testing.T, vs *vsmock.Store, recordingID int64, minute int, text, date, keywords string, vector []float32) {
	t.Helper()
	id := vectorstore.SummaryID(recordingID, minute)
	metadata := map[string]any{
		"recording_id": recordingID,
		"minute_index": minute,
		"date":         date,
		"keywords":     keywords,
	}
	if err := vs.Upsert(context.Background(), id, text, vector, metadata); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

// ── Query ──

func TestQuery_NoMatchShortCircuits(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{}
	repo := storemock.New()
	planner := rag.New(&embedmock.Provider{}, &vsmock.Store{}, provider, nil, rag.WithAuditLog(repo))

	resp, err := planner.Query(context.Background(), rag.Request{Query: "what was decided?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != rag.NoMatchAnswer {
		t.Errorf("answer: got %q", resp.Answer)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("sources: got %d, want 0", len(resp.Sources))
	}
	if resp.ModelUsed != "" {
		t.Errorf("model: got %q, want empty", resp.ModelUsed)
	}
	if resp.QueryTimeMs < 0 {
		t.Errorf("query time: got %d", resp.QueryTimeMs)
	}
	if provider.CallCount() != 0 {
		t.Errorf("no-match must not invoke the LM, got %d calls", provider.CallCount())
	}

	rows := repo.RAGQueries()
	if len(rows) != 1 {
		t.Fatalf("audit rows: got %d, want 1", len(rows))
	}
	if rows[0].Answer != rag.NoMatchAnswer || rows[0].SourceCount != 0 {
		t.Errorf("audit row: %+v", rows[0])
	}
}

func TestQuery_GroundedAnswer(t *testing.T) {
	t.Parallel()
	vs := &vsmock.Store{}
	seed(t, vs, 1, 0, "roadmap planning for Q3", "2026-08-01T10:00:00Z", "roadmap,planning", []float32{1, 0, 0, 0})
	seed(t, vs, 2, 5, "hiring pipeline review", "2026-08-02T10:00:00Z", "hiring", []float32{1, 0.3, 0, 0})

	embedder := &embedmock.Provider{EmbedVector: []float32{1, 0, 0, 0}}
	provider := &llmmock.Provider{
		GenerateResponse: `{"answer": "The Q3 roadmap was planned [source: recording-1, minute-0].", "source_indices": [1]}`,
	}
	planner := rag.New(embedder, vs, provider, nil)

	resp, err := planner.Query(context.Background(), rag.Request{Query: "what about the roadmap?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resp.Answer, "Q3 roadmap was planned") {
		t.Errorf("answer: got %q", resp.Answer)
	}
	if resp.ModelUsed != "mock-model" {
		t.Errorf("model: got %q", resp.ModelUsed)
	}
	if len(resp.Sources) != 2 {
		t.Fatalf("sources: got %d, want 2", len(resp.Sources))
	}
	// Exact match first, off-axis neighbor second.
	if resp.Sources[0].RecordingID != 1 || resp.Sources[1].RecordingID != 2 {
		t.Errorf("source order: %+v", resp.Sources)
	}
	if resp.Sources[0].Similarity < resp.Sources[1].Similarity {
		t.Error("sources must be sorted by similarity, descending")
	}
	if resp.Sources[0].Date != "2026-08-01T10:00:00Z" {
		t.Errorf("source date: got %q", resp.Sources[0].Date)
	}

	if len(provider.GenerateCalls) != 1 {
		t.Fatalf("generate calls: got %d, want 1", len(provider.GenerateCalls))
	}
	call := provider.GenerateCalls[0]
	if !strings.Contains(call.Prompt, "[1] recording-1, minute-0 (2026-08-01T10:00:00Z): roadmap planning for Q3") {
		t.Errorf("prompt missing numbered context:\n%s", call.Prompt)
	}
	if !strings.Contains(call.Prompt, "Question: what about the roadmap?") {
		t.Errorf("prompt missing question:\n%s", call.Prompt)
	}
	if !strings.Contains(call.Opts.System, "[source: recording-X, minute-Y]") {
		t.Errorf("system prompt missing citation directive:\n%s", call.Opts.System)
	}
}

func TestQuery_NonJSONAnswerUsedRaw(t *testing.T) {
	t.Parallel()
	vs := &vsmock.Store{}
	seed(t, vs, 1, 0, "text", "2026-08-01T00:00:00Z", "", []float32{1, 0, 0, 0})

	provider := &llmmock.Provider{GenerateResponse: "  The answer, in plain prose.  "}
	planner := rag.New(&embedmock.Provider{EmbedVector: []float32{1, 0, 0, 0}}, vs, provider, nil)

	resp, err := planner.Query(context.Background(), rag.Request{Query: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != "The answer, in plain prose." {
		t.Errorf("answer: got %q", resp.Answer)
	}
}

func TestQuery_MinSimilarityDropsDistantSources(t *testing.T) {
	t.Parallel()
	vs := &vsmock.Store{}
	// Orthogonal to the query vector: similarity 0.
	seed(t, vs, 1, 0, "unrelated", "2026-08-01T00:00:00Z", "", []float32{0, 1, 0, 0})

	provider := &llmmock.Provider{}
	planner := rag.New(&embedmock.Provider{EmbedVector: []float32{1, 0, 0, 0}}, vs, provider, nil)

	resp, err := planner.Query(context.Background(), rag.Request{Query: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != rag.NoMatchAnswer {
		t.Errorf("distant-only results should fall back to no-match, got %q", resp.Answer)
	}
	if provider.CallCount() != 0 {
		t.Error("no LM call expected")
	}
}

func TestQuery_KeywordAndDateFilters(t *testing.T) {
	t.Parallel()
	vs := &vsmock.Store{}
	seed(t, vs, 1, 0, "roadmap talk", "2026-08-01T00:00:00Z", "roadmap,planning", []float32{1, 0, 0, 0})
	seed(t, vs, 2, 0, "budget talk", "2026-07-01T00:00:00Z", "budget", []float32{1, 0, 0, 0})

	provider := &llmmock.Provider{GenerateResponse: `{"answer": "a"}`}
	planner := rag.New(&embedmock.Provider{EmbedVector: []float32{1, 0, 0, 0}}, vs, provider, nil)

	resp, err := planner.Query(context.Background(), rag.Request{
		Query: "q",
		Filters: rag.Filters{
			Keywords: []string{"planning"},
			DateFrom: "2026-08-01",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].RecordingID != 1 {
		t.Errorf("filters should leave only recording 1: %+v", resp.Sources)
	}
}

func TestQuery_EmbedFailureIsRetrievalError(t *testing.T) {
	t.Parallel()
	embedder := &embedmock.Provider{EmbedErr: errors.New("model offline")}
	planner := rag.New(embedder, &vsmock.Store{}, &llmmock.Provider{}, nil)

	if _, err := planner.Query(context.Background(), rag.Request{Query: "q"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestQuery_SearchFailureIsRetrievalError(t *testing.T) {
	t.Parallel()
	vs := &vsmock.Store{SearchErr: errors.New("store offline")}
	planner := rag.New(&embedmock.Provider{}, vs, &llmmock.Provider{}, nil)

	if _, err := planner.Query(context.Background(), rag.Request{Query: "q"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestQuery_ForeignDocumentIDSkipped(t *testing.T) {
	t.Parallel()
	vs := &vsmock.Store{}
	if err := vs.Upsert(context.Background(), "note-1", "stray", []float32{1, 0, 0, 0}, nil); err != nil {
		t.Fatal(err)
	}

	provider := &llmmock.Provider{}
	planner := rag.New(&embedmock.Provider{EmbedVector: []float32{1, 0, 0, 0}}, vs, provider, nil)

	resp, err := planner.Query(context.Background(), rag.Request{Query: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != rag.NoMatchAnswer {
		t.Errorf("foreign ids must not become sources, got %+v", resp)
	}
}

// ── FindSimilar ──

func TestFindSimilar_ExcludesOwnRecording(t *testing.T) {
	t.Parallel()
	vs := &vsmock.Store{}
	seed(t, vs, 1, 0, "our minute a", "2026-08-01T00:00:00Z", "", []float32{1, 0, 0, 0})
	seed(t, vs, 1, 1, "our minute b", "2026-08-01T00:01:00Z", "", []float32{1, 0.1, 0, 0})
	seed(t, vs, 2, 0, "their similar minute", "2026-08-02T00:00:00Z", "", []float32{1, 0.05, 0, 0})

	planner := rag.New(&embedmock.Provider{EmbedVector: []float32{1, 0, 0, 0}}, vs, &llmmock.Provider{}, nil)

	got, err := planner.FindSimilar(context.Background(), 1, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("sources: got %d, want 1", len(got))
	}
	if got[0].RecordingID != 2 {
		t.Errorf("got recording %d, want 2", got[0].RecordingID)
	}
}

func TestFindSimilar_CapsAtTopK(t *testing.T) {
	t.Parallel()
	vs := &vsmock.Store{}
	seed(t, vs, 1, 0, "source", "2026-08-01T00:00:00Z", "", []float32{1, 0, 0, 0})
	for minute := range 4 {
		seed(t, vs, 2, minute, "neighbor", "2026-08-02T00:00:00Z", "", []float32{1, 0, 0, 0})
	}

	planner := rag.New(&embedmock.Provider{EmbedVector: []float32{1, 0, 0, 0}}, vs, &llmmock.Provider{}, nil)

	got, err := planner.FindSimilar(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("sources: got %d, want 2", len(got))
	}
}

func TestFindSimilar_NoDocuments(t *testing.T) {
	t.Parallel()
	planner := rag.New(&embedmock.Provider{}, &vsmock.Store{}, &llmmock.Provider{}, nil)

	got, err := planner.FindSimilar(context.Background(), 99, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no sources, got %+v", got)
	}
}
