// Package session orchestrates one live recording: it owns the per-minute
// summarization queue, keeps the running previous-summary context, and on
// stop finalizes the recording with hour summaries and a classification.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/echonote/echonote/internal/classify"
	"github.com/echonote/echonote/internal/correct"
	"github.com/echonote/echonote/internal/embedpipe"
	"github.com/echonote/echonote/internal/observe"
	"github.com/echonote/echonote/internal/store"
	"github.com/echonote/echonote/internal/summarize"
	"github.com/echonote/echonote/pkg/provider/embeddings"
	"github.com/echonote/echonote/pkg/provider/llm"
	"github.com/echonote/echonote/pkg/vectorstore"
)

// DefaultInterval is the queue drain cadence when Options.Interval is zero.
const DefaultInterval = 60 * time.Second

// hourSummaryMinEntries is the minimum number of minute summaries an hour
// bucket needs before it is worth a second-level reduction.
const hourSummaryMinEntries = 10

// Event is the payload handed to the notify callback: a success map with
// minute_index/summary_text/keywords/topic/corrections, or {error, detail}.
type Event map[string]any

// NotifyFunc delivers one event to the recording's client. Errors are logged
// and swallowed; delivery never affects the pipeline.
type NotifyFunc func(ctx context.Context, event Event) error

// Options configures a Session. RecordingID, Repo, and Provider are
// required; the rest default or degrade gracefully.
type Options struct {
	RecordingID int64
	Repo        store.Repository
	Provider    llm.Provider

	// Embedder and VectorStore feed the embedding side-channel. When either
	// is nil the side-channel is disabled for the whole session.
	Embedder    embeddings.Provider
	VectorStore vectorstore.Store

	Notify      NotifyFunc
	Interval    time.Duration
	UserContext string

	// Categories for the session-end classification. Empty uses the
	// classifier defaults.
	Categories []string

	Metrics *observe.Metrics

	// Clock overrides the time source; tests only.
	Clock func() time.Time
}

type item struct {
	minuteIndex int
	text        string
}

// Session runs the pipeline for one recording. Create with New, then Start;
// Stop finalizes. All methods are safe for concurrent use, but minute
// processing itself is strictly serial and in enqueue order.
type Session struct {
	recordingID int64
	repo        store.Repository
	minutes     *summarize.MinuteSummarizer
	hours       *summarize.HourSummarizer
	classifier  *classify.Classifier
	side        *embedpipe.SideChannel
	notify      NotifyFunc
	interval    time.Duration
	userContext string
	categories  []string
	metrics     *observe.Metrics
	now         func() time.Time

	mu    sync.Mutex
	queue []item

	// prevSummary seeds continuity into the next minute; touched only by
	// the worker goroutine.
	prevSummary string

	startedAt time.Time
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

// New builds a Session from opts. The embedding side-channel is disabled,
// with a log line, when the embedder or vector store is missing.
func New(opts Options) *Session {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s := &Session{
		recordingID: opts.RecordingID,
		repo:        opts.Repo,
		minutes:     summarize.NewMinuteSummarizer(opts.Provider, opts.Metrics),
		hours:       summarize.NewHourSummarizer(opts.Provider, opts.Metrics),
		classifier:  classify.NewClassifier(opts.Provider, opts.Metrics),
		notify:      opts.Notify,
		interval:    opts.Interval,
		userContext: opts.UserContext,
		categories:  opts.Categories,
		metrics:     opts.Metrics,
		now:         opts.Clock,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if opts.Embedder != nil && opts.VectorStore != nil {
		s.side = embedpipe.New(opts.Embedder, opts.VectorStore, opts.Metrics)
	} else {
		slog.Info("session: embedding side-channel disabled",
			"recording_id", opts.RecordingID,
		)
	}
	return s
}

// Start spawns the worker goroutine.
func (s *Session) Start() {
	s.startedAt = s.now()
	go s.run()
}

// EnqueueTranscript appends one minute of transcript text to the queue.
// Non-blocking; the item is processed on the next drain.
func (s *Session) EnqueueTranscript(minuteIndex int, text string) {
	s.mu.Lock()
	s.queue = append(s.queue, item{minuteIndex: minuteIndex, text: text})
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.QueueDepth.Add(context.Background(), 1)
	}
}

// Stop signals the worker, waits for it to drain and exit, then finalizes
// the recording. Safe to call more than once; only the first call finalizes.
func (s *Session) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
		s.finalize(ctx)
	})
}

// run is the worker loop: wait one interval or the stop signal, drain, and
// repeat. The deferred drain guarantees accepted work is processed on every
// exit path.
func (s *Session) run() {
	defer close(s.done)
	// Processing outlives the timer loop: the final drain still makes LM
	// calls after stop is signalled.
	ctx := context.Background()
	defer s.drain(ctx)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-timer.C:
			s.drain(ctx)
			timer.Reset(s.interval)
		}
	}
}

// drain snapshots the queue and processes every item serially, in order.
// Items enqueued during the drain wait for the next one.
func (s *Session) drain(ctx context.Context) {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	if s.metrics != nil && len(pending) > 0 {
		s.metrics.QueueDepth.Add(ctx, -int64(len(pending)))
	}
	for _, it := range pending {
		s.processOne(ctx, it)
	}
}

func (s *Session) processOne(ctx context.Context, it item) {
	if strings.TrimSpace(it.text) == "" {
		slog.Debug("session: skipping blank minute",
			"recording_id", s.recordingID,
			"minute_index", it.minuteIndex,
		)
		if s.metrics != nil {
			s.metrics.RecordMinuteProcessed(ctx, "empty")
		}
		return
	}

	sum, err := s.minutes.Summarize(ctx, summarize.MinuteInput{
		Text:        it.text,
		MinuteIndex: it.minuteIndex,
		PrevSummary: s.prevSummary,
		UserContext: s.userContext,
	})
	if err == nil {
		err = s.repo.WithTx(ctx, func(q store.Queries) error {
			_, err := q.CreateSummary(ctx, store.Summary{
				RecordingID: s.recordingID,
				MinuteIndex: it.minuteIndex,
				SummaryText: sum.SummaryText,
				Keywords:    sum.Keywords,
				ModelUsed:   sum.ModelUsed,
				Corrections: sum.Corrections,
			})
			return err
		})
	}
	if err != nil {
		slog.Error("session: minute processing failed",
			"recording_id", s.recordingID,
			"minute_index", it.minuteIndex,
			"error", err,
		)
		if s.metrics != nil {
			s.metrics.RecordMinuteProcessed(ctx, "error")
		}
		s.send(ctx, Event{
			"error":  true,
			"detail": fmt.Sprintf("Summarization failed for minute %d", it.minuteIndex),
		})
		return
	}

	s.prevSummary = sum.SummaryText
	correct.LogSuspects(s.recordingID, it.minuteIndex, sum.Corrections)
	if s.side != nil {
		s.side.Embed(ctx, s.recordingID, it.minuteIndex, sum.SummaryText, sum.Keywords)
	}
	if s.metrics != nil {
		s.metrics.RecordMinuteProcessed(ctx, "ok")
	}
	s.send(ctx, Event{
		"minute_index": it.minuteIndex,
		"summary_text": sum.SummaryText,
		"keywords":     sum.Keywords,
		"topic":        sum.Topic,
		"corrections":  sum.Corrections,
	})
}

// send delivers one event; notify failures never propagate.
func (s *Session) send(ctx context.Context, event Event) {
	if s.notify == nil {
		return
	}
	if err := s.notify(ctx, event); err != nil {
		slog.Warn("session: notify failed",
			"recording_id", s.recordingID,
			"error", err,
		)
	}
}

// finalize marks the recording completed, reduces hour buckets, and
// classifies the whole recording. Every step is best-effort: the session
// ends even when finalization writes fail.
func (s *Session) finalize(ctx context.Context) {
	totalMinutes := int(s.now().Sub(s.startedAt) / time.Minute)

	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		rec, err := q.StopRecording(ctx, s.recordingID, s.now())
		if err != nil {
			return err
		}
		totalMinutes = rec.TotalMinutes
		return nil
	})
	if err != nil {
		slog.Warn("session: mark recording completed failed",
			"recording_id", s.recordingID,
			"error", err,
		)
	}

	summaries := s.listSummaries(ctx)
	s.reduceHours(ctx, summaries)
	s.classifyRecording(ctx, summaries, totalMinutes)
}

func (s *Session) listSummaries(ctx context.Context) []store.Summary {
	var summaries []store.Summary
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		var err error
		summaries, err = q.ListSummaries(ctx, s.recordingID)
		return err
	})
	if err != nil {
		slog.Warn("session: list summaries for finalization failed",
			"recording_id", s.recordingID,
			"error", err,
		)
		return nil
	}
	return summaries
}

// reduceHours groups minute summaries into 60-minute buckets and reduces
// each bucket holding at least ten entries.
func (s *Session) reduceHours(ctx context.Context, summaries []store.Summary) {
	buckets := make(map[int][]summarize.MinuteRecord)
	for _, sum := range summaries {
		hour := sum.MinuteIndex / 60
		buckets[hour] = append(buckets[hour], summarize.MinuteRecord{
			MinuteIndex: sum.MinuteIndex,
			Text:        sum.SummaryText,
		})
	}

	hours := make([]int, 0, len(buckets))
	for hour := range buckets {
		hours = append(hours, hour)
	}
	sort.Ints(hours)

	for _, hour := range hours {
		records := buckets[hour]
		if len(records) < hourSummaryMinEntries {
			continue
		}
		sort.Slice(records, func(i, j int) bool { return records[i].MinuteIndex < records[j].MinuteIndex })

		reduced, err := s.hours.Summarize(ctx, hour, records)
		if err != nil {
			slog.Warn("session: hour summary failed",
				"recording_id", s.recordingID,
				"hour_index", hour,
				"error", err,
			)
			continue
		}
		err = s.repo.WithTx(ctx, func(q store.Queries) error {
			_, err := q.CreateHourSummary(ctx, store.HourSummary{
				RecordingID:   s.recordingID,
				HourIndex:     hour,
				SummaryText:   reduced.SummaryText,
				Keywords:      reduced.Keywords,
				TopicSegments: reduced.TopicSegments,
				TokenCount:    reduced.TokenCount,
				ModelUsed:     reduced.ModelUsed,
			})
			return err
		})
		if err != nil {
			slog.Warn("session: persist hour summary failed",
				"recording_id", s.recordingID,
				"hour_index", hour,
				"error", err,
			)
		}
	}
}

// classifyRecording runs the zero-shot classifier over every non-empty
// minute summary and persists one classification covering the whole session.
func (s *Session) classifyRecording(ctx context.Context, summaries []store.Summary, totalMinutes int) {
	var texts []string
	for _, sum := range summaries {
		if strings.TrimSpace(sum.SummaryText) != "" {
			texts = append(texts, sum.SummaryText)
		}
	}
	if len(texts) == 0 {
		slog.Debug("session: no summaries, classification skipped",
			"recording_id", s.recordingID,
		)
		return
	}

	result, err := s.classifier.Classify(ctx, strings.Join(texts, "\n"), s.categories)
	if err != nil {
		slog.Warn("session: classification failed",
			"recording_id", s.recordingID,
			"error", err,
		)
		return
	}

	var templates []store.Template
	err = s.repo.WithTx(ctx, func(q store.Queries) error {
		var err error
		templates, err = q.ListActiveTemplates(ctx)
		return err
	})
	if err != nil {
		slog.Warn("session: list templates failed",
			"recording_id", s.recordingID,
			"error", err,
		)
		return
	}

	tmpl, err := classify.Match(result, templates)
	if err != nil {
		if errors.Is(err, classify.ErrNoActiveTemplates) {
			slog.Warn("session: no active templates, classification skipped",
				"recording_id", s.recordingID,
			)
		} else {
			slog.Warn("session: template match failed",
				"recording_id", s.recordingID,
				"error", err,
			)
		}
		return
	}

	err = s.repo.WithTx(ctx, func(q store.Queries) error {
		_, err := q.CreateClassification(ctx, store.Classification{
			RecordingID:  s.recordingID,
			TemplateName: tmpl.Name,
			TemplateID:   tmpl.ID,
			StartMinute:  0,
			EndMinute:    max(totalMinutes-1, 0),
			Confidence:   result.Confidence,
			Result: map[string]any{
				"category":              result.Category,
				"confidence":            result.Confidence,
				"reason":                result.Reason,
				"template_display_name": tmpl.DisplayName,
				"template_icon":         tmpl.Icon,
			},
		})
		return err
	})
	if err != nil {
		slog.Warn("session: persist classification failed",
			"recording_id", s.recordingID,
			"error", err,
		)
	}
}
