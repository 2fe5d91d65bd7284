// Package embedpipe is the best-effort embedding side-channel: minute
// summaries are embedded and upserted into the vector store as they are
// produced, so the retrieval planner can search them later.
//
// Nothing in this package ever fails the caller. A minute summary is
// considered successfully produced even when its embedding cannot be stored;
// failures are logged and counted, and the summary simply stays absent from
// semantic search.
package embedpipe

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/echonote/echonote/internal/observe"
	"github.com/echonote/echonote/pkg/provider/embeddings"
	"github.com/echonote/echonote/pkg/vectorstore"
)

// SideChannel embeds minute summaries into a vector store. Safe for
// concurrent use.
type SideChannel struct {
	embedder embeddings.Provider
	store    vectorstore.Store
	metrics  *observe.Metrics

	// now is the clock for the date metadata field; replaced in tests.
	now func() time.Time
}

// Option configures a SideChannel.
type Option func(*SideChannel)

// WithClock overrides the time source used for document date metadata.
func WithClock(now func() time.Time) Option {
	return func(s *SideChannel) { s.now = now }
}

// New returns a SideChannel writing through embedder into store.
// metrics may be nil.
func New(embedder embeddings.Provider, store vectorstore.Store, metrics *observe.Metrics, opts ...Option) *SideChannel {
	s := &SideChannel{
		embedder: embedder,
		store:    store,
		metrics:  metrics,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Embed embeds text and upserts it under the summary document ID for
// (recordingID, minuteIndex). Best-effort: failures are logged, never
// returned. Reports whether the document was stored.
func (s *SideChannel) Embed(ctx context.Context, recordingID int64, minuteIndex int, text string, keywords []string) bool {
	start := time.Now()
	vector, err := s.embedder.Embed(ctx, text)
	if s.metrics != nil {
		s.metrics.EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		s.fail(ctx, recordingID, minuteIndex, "embed summary", err)
		return false
	}

	id := vectorstore.SummaryID(recordingID, minuteIndex)
	metadata := map[string]any{
		"recording_id": recordingID,
		"minute_index": minuteIndex,
		"date":         s.now().UTC().Format(time.RFC3339),
		"keywords":     strings.Join(keywords, ","),
	}
	if err := s.store.Upsert(ctx, id, text, vector, metadata); err != nil {
		s.fail(ctx, recordingID, minuteIndex, "upsert document", err)
		return false
	}
	return true
}

func (s *SideChannel) fail(ctx context.Context, recordingID int64, minuteIndex int, op string, err error) {
	if s.metrics != nil {
		s.metrics.EmbeddingFailures.Add(ctx, 1)
	}
	slog.Warn("embedpipe: "+op+" failed, summary not searchable",
		"recording_id", recordingID,
		"minute_index", minuteIndex,
		"error", err,
	)
}
