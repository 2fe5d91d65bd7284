package mock

import (
	"context"
	"testing"

	"github.com/echonote/echonote/pkg/vectorstore"
)

func TestStoreSearchOrdering(t *testing.T) {
	s := &Store{}
	ctx := context.Background()

	mustUpsert(t, s, "summary-1-0", "intro", []float32{1, 0}, map[string]any{"recording_id": int64(1)})
	mustUpsert(t, s, "summary-1-1", "middle", []float32{0.9, 0.1}, map[string]any{"recording_id": int64(1)})
	mustUpsert(t, s, "summary-2-0", "other", []float32{0, 1}, map[string]any{"recording_id": int64(2)})

	results, err := s.Search(ctx, []float32{1, 0}, 2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "summary-1-0" {
		t.Errorf("expected nearest first, got %q", results[0].ID)
	}
	if results[0].Distance > results[1].Distance {
		t.Error("expected ascending distance order")
	}
}

func TestStoreFilters(t *testing.T) {
	s := &Store{}
	ctx := context.Background()

	mustUpsert(t, s, "summary-1-0", "a", []float32{1, 0}, map[string]any{
		"recording_id": int64(1),
		"date":         "2026-08-20T10:00:00Z",
		"keywords":     "transformers,attention",
	})
	mustUpsert(t, s, "summary-2-0", "b", []float32{1, 0}, map[string]any{
		"recording_id": int64(2),
		"date":         "2026-08-24T10:00:00Z",
		"keywords":     "standup,planning",
	})

	t.Run("eq on recording id", func(t *testing.T) {
		results, err := s.Search(ctx, []float32{1, 0}, 10, vectorstore.Eq{Field: "recording_id", Value: int64(2)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results) != 1 || results[0].ID != "summary-2-0" {
			t.Errorf("expected only summary-2-0, got %v", results)
		}
	})

	t.Run("date range and keyword conjunction", func(t *testing.T) {
		filter := vectorstore.And{Clauses: []vectorstore.Filter{
			vectorstore.Gte{Field: "date", Value: "2026-08-01T00:00:00Z"},
			vectorstore.Lte{Field: "date", Value: "2026-08-22T00:00:00Z"},
			vectorstore.Contains{Field: "keywords", Value: "attention"},
		}}
		results, err := s.Search(ctx, []float32{1, 0}, 10, filter)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results) != 1 || results[0].ID != "summary-1-0" {
			t.Errorf("expected only summary-1-0, got %v", results)
		}
	})

	t.Run("fetch by filter without ranking", func(t *testing.T) {
		results, err := s.Fetch(ctx, vectorstore.Eq{Field: "recording_id", Value: int64(1)}, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results) != 1 || results[0].ID != "summary-1-0" {
			t.Errorf("expected summary-1-0, got %v", results)
		}
	})
}

func TestStoreDeleteAndCount(t *testing.T) {
	s := &Store{}
	ctx := context.Background()

	mustUpsert(t, s, "summary-1-0", "a", []float32{1}, nil)
	mustUpsert(t, s, "summary-1-1", "b", []float32{1}, nil)

	if err := s.Delete(ctx, "summary-1-0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Fatalf("deleting a missing id should not error, got %v", err)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 document, got %d", n)
	}
}

func mustUpsert(t *testing.T, s *Store, id, text string, vec []float32, meta map[string]any) {
	t.Helper()
	if err := s.Upsert(context.Background(), id, text, vec, meta); err != nil {
		t.Fatalf("upsert %s: %v", id, err)
	}
}
