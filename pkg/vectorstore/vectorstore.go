// Package vectorstore defines the vector document store abstraction used for
// semantic retrieval over minute summaries.
//
// A store holds one collection of embedded documents in a cosine similarity
// space. Documents carry free-form metadata which can be filtered at search
// time using the small predicate grammar in this package ([Eq], [Gte], [Lte],
// [Contains], [And]).
//
// Implementations must be safe for concurrent use.
package vectorstore

import "context"

// Result is a single document returned by Search or Fetch. Distance is the
// cosine distance to the query vector (0 = identical direction); callers
// compute similarity as 1 − Distance. Fetch results carry a zero Distance.
type Result struct {
	ID       string
	Text     string
	Metadata map[string]any
	Distance float64
}

// Store is the abstraction over any vector document store.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Upsert inserts or fully replaces the document with the given id.
	Upsert(ctx context.Context, id, text string, vector []float32, metadata map[string]any) error

	// Search returns up to topK documents nearest to vector under cosine
	// distance, optionally restricted by filter (nil means no filter).
	// Results are ordered by ascending distance.
	Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Result, error)

	// Fetch returns up to limit documents matching filter without any
	// similarity ranking. A limit <= 0 means no limit.
	Fetch(ctx context.Context, filter Filter, limit int) ([]Result, error)

	// Delete removes the document with the given id. Deleting a missing id
	// is not an error.
	Delete(ctx context.Context, id string) error

	// Count returns the number of documents in the collection.
	Count(ctx context.Context) (int, error)
}
