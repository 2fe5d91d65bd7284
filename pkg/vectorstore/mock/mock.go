// Package mock provides an in-memory test double for vectorstore.Store.
//
// Search performs brute-force cosine distance over all stored documents, so
// tests exercise the same ordering and filter semantics as a real backend
// without external services.
package mock

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/echonote/echonote/pkg/vectorstore"
)

// Store is an in-memory implementation of vectorstore.Store.
// Zero value is ready to use. Set Err fields to inject failures.
type Store struct {
	mu   sync.Mutex
	docs map[string]doc

	// UpsertErr, if non-nil, is returned by every Upsert call.
	UpsertErr error

	// SearchErr, if non-nil, is returned by every Search call.
	SearchErr error

	// UpsertCalls records the ids passed to Upsert, in order.
	UpsertCalls []string
}

type doc struct {
	id       string
	text     string
	vector   []float32
	metadata map[string]any
}

var _ vectorstore.Store = (*Store)(nil)

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(_ context.Context, id, text string, vector []float32, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpsertCalls = append(s.UpsertCalls, id)
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	if s.docs == nil {
		s.docs = make(map[string]doc)
	}
	s.docs[id] = doc{id: id, text: text, vector: vector, metadata: metadata}
	return nil
}

// Search implements vectorstore.Store with brute-force cosine distance.
func (s *Store) Search(_ context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}

	var results []vectorstore.Result
	for _, d := range s.docs {
		if !matches(d.metadata, filter) {
			continue
		}
		results = append(results, vectorstore.Result{
			ID:       d.id,
			Text:     d.text,
			Metadata: d.metadata,
			Distance: cosineDistance(vector, d.vector),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Fetch implements vectorstore.Store.
func (s *Store) Fetch(_ context.Context, filter vectorstore.Filter, limit int) ([]vectorstore.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []vectorstore.Result
	for _, d := range s.docs {
		if !matches(d.metadata, filter) {
			continue
		}
		results = append(results, vectorstore.Result{ID: d.id, Text: d.text, Metadata: d.metadata})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete implements vectorstore.Store.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

// Count implements vectorstore.Store.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs), nil
}

// Document returns the stored text and metadata for id, for assertions.
func (s *Store) Document(id string) (text string, metadata map[string]any, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	return d.text, d.metadata, ok
}

func matches(metadata map[string]any, filter vectorstore.Filter) bool {
	if filter == nil {
		return true
	}
	switch f := filter.(type) {
	case vectorstore.Eq:
		v, ok := metadata[f.Field]
		return ok && fmt.Sprint(v) == fmt.Sprint(f.Value)
	case vectorstore.Gte:
		v, ok := metadata[f.Field]
		return ok && compare(v, f.Value) >= 0
	case vectorstore.Lte:
		v, ok := metadata[f.Field]
		return ok && compare(v, f.Value) <= 0
	case vectorstore.Contains:
		v, ok := metadata[f.Field]
		return ok && strings.Contains(fmt.Sprint(v), f.Value)
	case vectorstore.And:
		for _, c := range f.Clauses {
			if !matches(metadata, c) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// compare orders two metadata values: numerically when both are numbers,
// lexicographically otherwise (ISO dates compare correctly as strings).
func compare(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
