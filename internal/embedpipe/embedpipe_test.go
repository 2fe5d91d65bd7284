package embedpipe_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/echonote/echonote/internal/embedpipe"
	embedmock "github.com/echonote/echonote/pkg/provider/embeddings/mock"
	storemock "github.com/echonote/echonote/pkg/vectorstore/mock"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestEmbed_StoresDocumentWithMetadata(t *testing.T) {
	t.Parallel()
	embedder := &embedmock.Provider{}
	vstore := &storemock.Store{}
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	sc := embedpipe.New(embedder, vstore, nil, embedpipe.WithClock(fixedClock(at)))

	ok := sc.Embed(context.Background(), 7, 3, "discussed the roadmap", []string{"roadmap", "planning"})
	if !ok {
		t.Fatal("expected successful store")
	}

	text, metadata, found := vstore.Document("summary-7-3")
	if !found {
		t.Fatalf("document summary-7-3 not stored; upserts: %v", vstore.UpsertCalls)
	}
	if text != "discussed the roadmap" {
		t.Errorf("text: got %q", text)
	}
	if got := metadata["recording_id"]; got != int64(7) {
		t.Errorf("recording_id: got %v (%T)", got, got)
	}
	if got := metadata["minute_index"]; got != 3 {
		t.Errorf("minute_index: got %v", got)
	}
	if got := metadata["date"]; got != "2026-03-14T09:26:53Z" {
		t.Errorf("date: got %v", got)
	}
	if got := metadata["keywords"]; got != "roadmap,planning" {
		t.Errorf("keywords: got %v", got)
	}
}

func TestEmbed_EmbedderFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	embedder := &embedmock.Provider{EmbedErr: errors.New("model offline")}
	vstore := &storemock.Store{}
	sc := embedpipe.New(embedder, vstore, nil)

	if sc.Embed(context.Background(), 1, 0, "text", nil) {
		t.Error("expected false when embedding fails")
	}
	if len(vstore.UpsertCalls) != 0 {
		t.Errorf("no upsert should happen after embed failure, got %v", vstore.UpsertCalls)
	}
}

func TestEmbed_StoreFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	embedder := &embedmock.Provider{}
	vstore := &storemock.Store{UpsertErr: errors.New("connection refused")}
	sc := embedpipe.New(embedder, vstore, nil)

	if sc.Embed(context.Background(), 1, 0, "text", nil) {
		t.Error("expected false when upsert fails")
	}
	if len(embedder.EmbedCalls) != 1 {
		t.Errorf("embed calls: got %d, want 1", len(embedder.EmbedCalls))
	}
}

func TestEmbed_EmptyKeywords(t *testing.T) {
	t.Parallel()
	embedder := &embedmock.Provider{}
	vstore := &storemock.Store{}
	sc := embedpipe.New(embedder, vstore, nil)

	if !sc.Embed(context.Background(), 2, 0, "quiet minute", nil) {
		t.Fatal("expected success")
	}
	_, metadata, found := vstore.Document("summary-2-0")
	if !found {
		t.Fatal("document not stored")
	}
	if got := metadata["keywords"]; got != "" {
		t.Errorf("keywords: got %q, want empty string", got)
	}
}
