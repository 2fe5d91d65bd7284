// Package rag answers natural-language questions over recorded summaries:
// embed the query, search the vector store under the caller's filters, and
// ground one LM call in the retrieved minutes.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/echonote/echonote/internal/llmjson"
	"github.com/echonote/echonote/internal/observe"
	"github.com/echonote/echonote/internal/store"
	"github.com/echonote/echonote/pkg/provider/embeddings"
	"github.com/echonote/echonote/pkg/provider/llm"
	"github.com/echonote/echonote/pkg/vectorstore"
)

// NoMatchAnswer is the contractual fallback returned when no source clears
// the similarity threshold. Callers key localization off this exact string.
const NoMatchAnswer = "관련 녹음을 찾을 수 없습니다."

// Request defaults applied by Query when the caller leaves them zero.
const (
	DefaultTopK          = 5
	DefaultMinSimilarity = 0.3
)

const groundedSystemPrompt = `You answer questions about the user's recorded conversations.
Use ONLY the numbered context below; never invent facts that are not in it.
Cite every claim with its source as [source: recording-X, minute-Y].
Respond with only a JSON object: {"answer": "...", "source_indices": [1, 2]}.`

// Filters narrows the vector search by document metadata. Zero values are
// skipped; dates are ISO-8601 strings compared lexicographically.
type Filters struct {
	DateFrom string
	DateTo   string
	Category string
	Keywords []string
}

// Request is one retrieval-augmented query.
type Request struct {
	Query         string
	TopK          int
	MinSimilarity float64
	Filters       Filters
}

// Source is one retrieved minute summary backing the answer.
type Source struct {
	RecordingID int64
	MinuteIndex int
	Date        string
	Text        string
	Similarity  float64
}

// Response is the grounded answer plus the evidence behind it.
type Response struct {
	Answer      string
	Sources     []Source
	ModelUsed   string
	QueryTimeMs int64
}

// Planner runs retrieval-augmented queries. Safe for concurrent use.
type Planner struct {
	embedder embeddings.Provider
	vstore   vectorstore.Store
	provider llm.Provider
	metrics  *observe.Metrics
	repo     store.Repository
}

// Option configures a Planner.
type Option func(*Planner)

// WithAuditLog persists one RAGQuery row per answered query. Persistence is
// best-effort: failures are logged, never surfaced to the caller.
func WithAuditLog(repo store.Repository) Option {
	return func(p *Planner) { p.repo = repo }
}

// New returns a Planner. metrics may be nil.
func New(embedder embeddings.Provider, vstore vectorstore.Store, provider llm.Provider, metrics *observe.Metrics, opts ...Option) *Planner {
	p := &Planner{
		embedder: embedder,
		vstore:   vstore,
		provider: provider,
		metrics:  metrics,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type answerPayload struct {
	Answer        string `json:"answer"`
	SourceIndices []int  `json:"source_indices"`
}

// Query embeds req.Query, searches under the request filters, and grounds one
// LM call in the surviving sources. When nothing clears MinSimilarity the
// fixed no-match answer is returned without invoking the LM.
func (p *Planner) Query(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	if req.MinSimilarity <= 0 {
		req.MinSimilarity = DefaultMinSimilarity
	}

	vector, err := p.embedder.Embed(ctx, req.Query)
	if err != nil {
		return Response{}, fmt.Errorf("rag: embed query: %w", err)
	}

	results, err := p.search(ctx, vector, req.TopK, buildFilter(req.Filters))
	if err != nil {
		return Response{}, fmt.Errorf("rag: vector search: %w", err)
	}

	sources := toSources(results, req.MinSimilarity)
	if len(sources) == 0 {
		resp := Response{
			Answer:      NoMatchAnswer,
			Sources:     []Source{},
			QueryTimeMs: time.Since(start).Milliseconds(),
		}
		p.audit(ctx, req.Query, resp)
		return resp, nil
	}

	prompt := buildGroundedPrompt(req.Query, sources)
	var raw string
	llmStart := time.Now()
	err = llmjson.Retry(ctx, func(ctx context.Context) error {
		raw, err = p.provider.Generate(ctx, prompt, llm.Options{System: groundedSystemPrompt})
		return err
	})
	if p.metrics != nil {
		p.metrics.RecordLLMDuration(ctx, "rag", time.Since(llmStart).Seconds())
	}
	if err != nil {
		return Response{}, fmt.Errorf("rag: generate answer: %w", err)
	}

	answer := strings.TrimSpace(raw)
	var payload answerPayload
	if decodeErr := llmjson.Decode(raw, &payload); decodeErr == nil && payload.Answer != "" {
		answer = payload.Answer
	}

	resp := Response{
		Answer:      answer,
		Sources:     sources,
		ModelUsed:   p.provider.ModelID(),
		QueryTimeMs: time.Since(start).Milliseconds(),
	}
	p.audit(ctx, req.Query, resp)
	return resp, nil
}

// FindSimilar returns up to topK minutes from other recordings that resemble
// the given recording's content as a whole.
func (p *Planner) FindSimilar(ctx context.Context, recordingID int64, topK int) ([]Source, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	own, err := p.vstore.Fetch(ctx, vectorstore.Eq{Field: "recording_id", Value: recordingID}, 0)
	if err != nil {
		return nil, fmt.Errorf("rag: fetch recording documents: %w", err)
	}
	if len(own) == 0 {
		return nil, nil
	}

	texts := make([]string, len(own))
	for i, r := range own {
		texts[i] = r.Text
	}
	vector, err := p.embedder.Embed(ctx, strings.Join(texts, "\n"))
	if err != nil {
		return nil, fmt.Errorf("rag: embed recording content: %w", err)
	}

	// Over-fetch so excluding the recording's own minutes still leaves topK.
	results, err := p.search(ctx, vector, topK+len(own), nil)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search: %w", err)
	}

	var sources []Source
	for _, r := range results {
		src, ok := toSource(r)
		if !ok || src.RecordingID == recordingID {
			continue
		}
		sources = append(sources, src)
		if len(sources) == topK {
			break
		}
	}
	return sources, nil
}

func (p *Planner) search(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Result, error) {
	start := time.Now()
	results, err := p.vstore.Search(ctx, vector, topK, filter)
	if p.metrics != nil {
		p.metrics.SearchDuration.Record(ctx, time.Since(start).Seconds())
	}
	return results, err
}

func (p *Planner) audit(ctx context.Context, query string, resp Response) {
	if p.repo == nil {
		return
	}
	err := p.repo.WithTx(ctx, func(q store.Queries) error {
		_, err := q.CreateRAGQuery(ctx, store.RAGQuery{
			Query:       query,
			Answer:      resp.Answer,
			SourceCount: len(resp.Sources),
			ModelUsed:   resp.ModelUsed,
			QueryTimeMs: resp.QueryTimeMs,
		})
		return err
	})
	if err != nil {
		slog.Warn("rag: persist query audit row failed", "error", err)
	}
}

// buildFilter turns the request filters into a vector-store predicate: nil
// when empty, the lone clause when single, a conjunction otherwise.
func buildFilter(f Filters) vectorstore.Filter {
	var clauses []vectorstore.Filter
	if f.Category != "" {
		clauses = append(clauses, vectorstore.Eq{Field: "category", Value: f.Category})
	}
	if f.DateFrom != "" {
		clauses = append(clauses, vectorstore.Gte{Field: "date", Value: f.DateFrom})
	}
	if f.DateTo != "" {
		clauses = append(clauses, vectorstore.Lte{Field: "date", Value: f.DateTo})
	}
	for _, kw := range f.Keywords {
		if kw == "" {
			continue
		}
		clauses = append(clauses, vectorstore.Contains{Field: "keywords", Value: kw})
	}
	return vectorstore.Conjoin(clauses)
}

func toSources(results []vectorstore.Result, minSimilarity float64) []Source {
	var sources []Source
	for _, r := range results {
		src, ok := toSource(r)
		if !ok || src.Similarity < minSimilarity {
			continue
		}
		sources = append(sources, src)
	}
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].Similarity > sources[j].Similarity })
	return sources
}

func toSource(r vectorstore.Result) (Source, bool) {
	rid, minute, err := vectorstore.ParseSummaryID(r.ID)
	if err != nil {
		slog.Warn("rag: skipping document with foreign id", "id", r.ID)
		return Source{}, false
	}
	date, _ := r.Metadata["date"].(string)
	return Source{
		RecordingID: rid,
		MinuteIndex: minute,
		Date:        date,
		Text:        r.Text,
		Similarity:  1 - r.Distance,
	}, true
}

func buildGroundedPrompt(query string, sources []Source) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] recording-%d, minute-%d (%s): %s\n", i+1, s.RecordingID, s.MinuteIndex, s.Date, s.Text)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	return b.String()
}
