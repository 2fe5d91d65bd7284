// Package mock provides an in-memory store.Repository for tests.
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/echonote/echonote/internal/store"
)

// Repository is an in-memory implementation of store.Repository. The zero
// value is not usable; construct with [New]. Safe for concurrent use.
//
// Transactions are simulated: WithTx serialises all access behind one mutex
// and discards writes when fn returns an error.
type Repository struct {
	mu   sync.Mutex
	data state

	// TxErr, if non-nil, is returned by WithTx before fn runs.
	TxErr error

	// FailCreateSummary, if non-nil, is returned by CreateSummary.
	FailCreateSummary error

	// FailCreateHourSummary, if non-nil, is returned by CreateHourSummary.
	FailCreateHourSummary error
}

type state struct {
	nextID          int64
	recordings      map[int64]store.Recording
	transcripts     []store.Transcript
	summaries       []store.Summary
	hourSummaries   []store.HourSummary
	classifications []store.Classification
	templates       []store.Template
	ragQueries      []store.RAGQuery
}

// New returns an empty in-memory repository.
func New() *Repository {
	return &Repository{data: state{
		nextID:     1,
		recordings: make(map[int64]store.Recording),
	}}
}

var _ store.Repository = (*Repository)(nil)

// WithTx implements store.Repository. fn runs against a copy of the current
// state; the copy replaces the state only when fn returns nil.
func (r *Repository) WithTx(_ context.Context, fn func(q store.Queries) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.TxErr != nil {
		return r.TxErr
	}
	snapshot := r.data.clone()
	q := &queries{repo: r, data: &r.data}
	if err := fn(q); err != nil {
		r.data = snapshot
		return err
	}
	return nil
}

func (s state) clone() state {
	out := s
	out.recordings = make(map[int64]store.Recording, len(s.recordings))
	for id, rec := range s.recordings {
		out.recordings[id] = rec
	}
	out.transcripts = append([]store.Transcript(nil), s.transcripts...)
	out.summaries = append([]store.Summary(nil), s.summaries...)
	out.hourSummaries = append([]store.HourSummary(nil), s.hourSummaries...)
	out.classifications = append([]store.Classification(nil), s.classifications...)
	out.templates = append([]store.Template(nil), s.templates...)
	out.ragQueries = append([]store.RAGQuery(nil), s.ragQueries...)
	return out
}

// Seed runs fn against the repository state outside any transaction error
// injection, for test setup.
func (r *Repository) Seed(fn func(q store.Queries)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&queries{repo: r, data: &r.data})
}

// Summaries returns a copy of all stored minute summaries.
func (r *Repository) Summaries() []store.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.Summary(nil), r.data.summaries...)
}

// HourSummaries returns a copy of all stored hour summaries.
func (r *Repository) HourSummaries() []store.HourSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.HourSummary(nil), r.data.hourSummaries...)
}

// Classifications returns a copy of all stored classifications.
func (r *Repository) Classifications() []store.Classification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.Classification(nil), r.data.classifications...)
}

// RAGQueries returns a copy of all persisted query audit rows.
func (r *Repository) RAGQueries() []store.RAGQuery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.RAGQuery(nil), r.data.ragQueries...)
}

// Recording returns the stored recording by ID for assertions.
func (r *Repository) Recording(id int64) (store.Recording, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.data.recordings[id]
	return rec, ok
}

type queries struct {
	repo *Repository
	data *state
}

var _ store.Queries = (*queries)(nil)

func (q *queries) nextID() int64 {
	id := q.data.nextID
	q.data.nextID++
	return id
}

func (q *queries) CreateRecording(_ context.Context, title, userContext string) (store.Recording, error) {
	rec := store.Recording{
		ID:        q.nextID(),
		Title:     title,
		Context:   userContext,
		StartedAt: time.Now(),
		Status:    store.StatusActive,
	}
	q.data.recordings[rec.ID] = rec
	return rec, nil
}

func (q *queries) GetRecording(_ context.Context, id int64) (store.Recording, error) {
	rec, ok := q.data.recordings[id]
	if !ok {
		return store.Recording{}, fmt.Errorf("mock: recording %d: %w", id, store.ErrRecordingNotFound)
	}
	return rec, nil
}

func (q *queries) UpdateAudioPath(_ context.Context, id int64, path string) error {
	rec, ok := q.data.recordings[id]
	if !ok {
		return fmt.Errorf("mock: recording %d: %w", id, store.ErrRecordingNotFound)
	}
	rec.AudioPath = path
	q.data.recordings[id] = rec
	return nil
}

func (q *queries) StopRecording(_ context.Context, id int64, endedAt time.Time) (store.Recording, error) {
	rec, ok := q.data.recordings[id]
	if !ok {
		return store.Recording{}, fmt.Errorf("mock: recording %d: %w", id, store.ErrRecordingNotFound)
	}
	rec.EndedAt = &endedAt
	rec.Status = store.StatusCompleted
	rec.TotalMinutes = int(endedAt.Sub(rec.StartedAt) / time.Minute)
	if rec.TotalMinutes < 0 {
		rec.TotalMinutes = 0
	}
	q.data.recordings[id] = rec
	return rec, nil
}

func (q *queries) DeleteRecording(_ context.Context, id int64) error {
	if _, ok := q.data.recordings[id]; !ok {
		return fmt.Errorf("mock: recording %d: %w", id, store.ErrRecordingNotFound)
	}
	delete(q.data.recordings, id)
	q.data.transcripts = deleteByRecording(q.data.transcripts, id, func(t store.Transcript) int64 { return t.RecordingID })
	q.data.summaries = deleteByRecording(q.data.summaries, id, func(s store.Summary) int64 { return s.RecordingID })
	q.data.hourSummaries = deleteByRecording(q.data.hourSummaries, id, func(h store.HourSummary) int64 { return h.RecordingID })
	q.data.classifications = deleteByRecording(q.data.classifications, id, func(c store.Classification) int64 { return c.RecordingID })
	return nil
}

func deleteByRecording[T any](rows []T, id int64, key func(T) int64) []T {
	out := rows[:0]
	for _, row := range rows {
		if key(row) != id {
			out = append(out, row)
		}
	}
	return out
}

func (q *queries) CreateTranscript(_ context.Context, t store.Transcript) (store.Transcript, error) {
	t.ID = q.nextID()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	q.data.transcripts = append(q.data.transcripts, t)
	return t, nil
}

func (q *queries) ListTranscripts(_ context.Context, recordingID int64) ([]store.Transcript, error) {
	var out []store.Transcript
	for _, t := range q.data.transcripts {
		if t.RecordingID == recordingID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MinuteIndex < out[j].MinuteIndex })
	return out, nil
}

func (q *queries) CreateSummary(_ context.Context, s store.Summary) (store.Summary, error) {
	if err := q.repo.FailCreateSummary; err != nil {
		return store.Summary{}, err
	}
	s.ID = q.nextID()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	q.data.summaries = append(q.data.summaries, s)
	return s, nil
}

func (q *queries) ListSummaries(_ context.Context, recordingID int64) ([]store.Summary, error) {
	var out []store.Summary
	for _, s := range q.data.summaries {
		if s.RecordingID == recordingID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MinuteIndex < out[j].MinuteIndex })
	return out, nil
}

func (q *queries) ListSummariesInRange(_ context.Context, recordingID int64, startMinute, endMinute int) ([]store.Summary, error) {
	var out []store.Summary
	for _, s := range q.data.summaries {
		if s.RecordingID == recordingID && s.MinuteIndex >= startMinute && s.MinuteIndex <= endMinute {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MinuteIndex < out[j].MinuteIndex })
	return out, nil
}

func (q *queries) CreateHourSummary(_ context.Context, h store.HourSummary) (store.HourSummary, error) {
	if err := q.repo.FailCreateHourSummary; err != nil {
		return store.HourSummary{}, err
	}
	h.ID = q.nextID()
	q.data.hourSummaries = append(q.data.hourSummaries, h)
	return h, nil
}

func (q *queries) ListHourSummaries(_ context.Context, recordingID int64) ([]store.HourSummary, error) {
	var out []store.HourSummary
	for _, h := range q.data.hourSummaries {
		if h.RecordingID == recordingID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HourIndex < out[j].HourIndex })
	return out, nil
}

func (q *queries) CreateClassification(_ context.Context, c store.Classification) (store.Classification, error) {
	c.ID = q.nextID()
	q.data.classifications = append(q.data.classifications, c)
	return c, nil
}

func (q *queries) ListClassifications(_ context.Context, recordingID int64) ([]store.Classification, error) {
	var out []store.Classification
	for _, c := range q.data.classifications {
		if c.RecordingID == recordingID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (q *queries) ListActiveTemplates(_ context.Context) ([]store.Template, error) {
	var out []store.Template
	for _, t := range q.data.templates {
		if t.IsActive {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (q *queries) GetTemplateByName(_ context.Context, name string) (store.Template, error) {
	for _, t := range q.data.templates {
		if strings.EqualFold(t.Name, name) {
			return t, nil
		}
	}
	return store.Template{}, fmt.Errorf("mock: template %q: %w", name, store.ErrTemplateNotFound)
}

func (q *queries) CreateTemplate(_ context.Context, t store.Template) (store.Template, error) {
	t.ID = q.nextID()
	q.data.templates = append(q.data.templates, t)
	return t, nil
}

func (q *queries) CreateRAGQuery(_ context.Context, rq store.RAGQuery) (store.RAGQuery, error) {
	rq.ID = q.nextID()
	if rq.CreatedAt.IsZero() {
		rq.CreatedAt = time.Now()
	}
	q.data.ragQueries = append(q.data.ragQueries, rq)
	return rq, nil
}
