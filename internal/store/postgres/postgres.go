// Package postgres implements store.Repository on PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echonote/echonote/internal/store"
)

// Repository is a PostgreSQL-backed store.Repository. Safe for concurrent
// use; every WithTx call runs on its own pooled connection.
type Repository struct {
	pool *pgxpool.Pool
}

var _ store.Repository = (*Repository)(nil)

// New connects to the database at dsn and applies schema migrations.
func New(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	r := &Repository{pool: pool}
	if err := r.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}

func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recordings (
			id            BIGSERIAL PRIMARY KEY,
			title         TEXT NOT NULL,
			user_context  TEXT NOT NULL DEFAULT '',
			started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			ended_at      TIMESTAMPTZ,
			status        TEXT NOT NULL DEFAULT 'active',
			total_minutes INT NOT NULL DEFAULT 0,
			audio_path    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS transcripts (
			id           BIGSERIAL PRIMARY KEY,
			recording_id BIGINT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
			minute_index INT NOT NULL,
			text         TEXT NOT NULL,
			confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
			language     TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS transcripts_recording_minute_idx
			ON transcripts (recording_id, minute_index)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id           BIGSERIAL PRIMARY KEY,
			recording_id BIGINT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
			minute_index INT NOT NULL,
			summary_text TEXT NOT NULL,
			keywords     JSONB NOT NULL DEFAULT '[]',
			speakers     JSONB NOT NULL DEFAULT '[]',
			confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
			model_used   TEXT NOT NULL DEFAULT '',
			corrections  JSONB NOT NULL DEFAULT '[]',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS summaries_recording_minute_idx
			ON summaries (recording_id, minute_index)`,
		`CREATE TABLE IF NOT EXISTS hour_summaries (
			id             BIGSERIAL PRIMARY KEY,
			recording_id   BIGINT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
			hour_index     INT NOT NULL,
			summary_text   TEXT NOT NULL,
			keywords       JSONB NOT NULL DEFAULT '[]',
			topic_segments JSONB NOT NULL DEFAULT '[]',
			token_count    INT NOT NULL DEFAULT 0,
			model_used     TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS templates (
			id            BIGSERIAL PRIMARY KEY,
			name          TEXT NOT NULL UNIQUE,
			display_name  TEXT NOT NULL DEFAULT '',
			triggers      JSONB NOT NULL DEFAULT '[]',
			output_format TEXT NOT NULL DEFAULT '',
			fields        JSONB NOT NULL DEFAULT '[]',
			icon          TEXT NOT NULL DEFAULT '',
			priority      INT NOT NULL DEFAULT 0,
			is_default    BOOLEAN NOT NULL DEFAULT false,
			is_active     BOOLEAN NOT NULL DEFAULT true
		)`,
		`CREATE TABLE IF NOT EXISTS classifications (
			id            BIGSERIAL PRIMARY KEY,
			recording_id  BIGINT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
			template_name TEXT NOT NULL,
			template_id   BIGINT NOT NULL DEFAULT 0,
			start_minute  INT NOT NULL,
			end_minute    INT NOT NULL,
			confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
			result        JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS rag_queries (
			id            BIGSERIAL PRIMARY KEY,
			query         TEXT NOT NULL,
			answer        TEXT NOT NULL,
			source_count  INT NOT NULL DEFAULT 0,
			model_used    TEXT NOT NULL DEFAULT '',
			query_time_ms BIGINT NOT NULL DEFAULT 0,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

// WithTx implements store.Repository.
func (r *Repository) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(&queries{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

type queries struct {
	tx pgx.Tx
}

var _ store.Queries = (*queries)(nil)

func (q *queries) CreateRecording(ctx context.Context, title, userContext string) (store.Recording, error) {
	rec := store.Recording{Title: title, Context: userContext, Status: store.StatusActive}
	err := q.tx.QueryRow(ctx,
		`INSERT INTO recordings (title, user_context) VALUES ($1, $2)
		 RETURNING id, started_at`,
		title, userContext,
	).Scan(&rec.ID, &rec.StartedAt)
	if err != nil {
		return store.Recording{}, fmt.Errorf("postgres: create recording: %w", err)
	}
	return rec, nil
}

func (q *queries) GetRecording(ctx context.Context, id int64) (store.Recording, error) {
	var rec store.Recording
	err := q.tx.QueryRow(ctx,
		`SELECT id, title, user_context, started_at, ended_at, status, total_minutes, audio_path
		 FROM recordings WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.Title, &rec.Context, &rec.StartedAt, &rec.EndedAt,
		&rec.Status, &rec.TotalMinutes, &rec.AudioPath)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Recording{}, fmt.Errorf("postgres: recording %d: %w", id, store.ErrRecordingNotFound)
	}
	if err != nil {
		return store.Recording{}, fmt.Errorf("postgres: get recording: %w", err)
	}
	return rec, nil
}

func (q *queries) UpdateAudioPath(ctx context.Context, id int64, path string) error {
	tag, err := q.tx.Exec(ctx,
		`UPDATE recordings SET audio_path = $2 WHERE id = $1`, id, path)
	if err != nil {
		return fmt.Errorf("postgres: update audio path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: recording %d: %w", id, store.ErrRecordingNotFound)
	}
	return nil
}

func (q *queries) StopRecording(ctx context.Context, id int64, endedAt time.Time) (store.Recording, error) {
	var rec store.Recording
	err := q.tx.QueryRow(ctx,
		`UPDATE recordings
		 SET ended_at = $2,
		     status = 'completed',
		     total_minutes = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM $2::timestamptz - started_at) / 60))::int
		 WHERE id = $1
		 RETURNING id, title, user_context, started_at, ended_at, status, total_minutes, audio_path`,
		id, endedAt,
	).Scan(&rec.ID, &rec.Title, &rec.Context, &rec.StartedAt, &rec.EndedAt,
		&rec.Status, &rec.TotalMinutes, &rec.AudioPath)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Recording{}, fmt.Errorf("postgres: recording %d: %w", id, store.ErrRecordingNotFound)
	}
	if err != nil {
		return store.Recording{}, fmt.Errorf("postgres: stop recording: %w", err)
	}
	return rec, nil
}

func (q *queries) DeleteRecording(ctx context.Context, id int64) error {
	tag, err := q.tx.Exec(ctx, `DELETE FROM recordings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: recording %d: %w", id, store.ErrRecordingNotFound)
	}
	return nil
}

func (q *queries) CreateTranscript(ctx context.Context, t store.Transcript) (store.Transcript, error) {
	err := q.tx.QueryRow(ctx,
		`INSERT INTO transcripts (recording_id, minute_index, text, confidence, language)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		t.RecordingID, t.MinuteIndex, t.Text, t.Confidence, t.Language,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return store.Transcript{}, fmt.Errorf("postgres: create transcript: %w", err)
	}
	return t, nil
}

func (q *queries) ListTranscripts(ctx context.Context, recordingID int64) ([]store.Transcript, error) {
	rows, err := q.tx.Query(ctx,
		`SELECT id, recording_id, minute_index, text, confidence, language, created_at
		 FROM transcripts WHERE recording_id = $1 ORDER BY minute_index`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transcripts: %w", err)
	}
	defer rows.Close()

	var out []store.Transcript
	for rows.Next() {
		var t store.Transcript
		if err := rows.Scan(&t.ID, &t.RecordingID, &t.MinuteIndex, &t.Text,
			&t.Confidence, &t.Language, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan transcript: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *queries) CreateSummary(ctx context.Context, s store.Summary) (store.Summary, error) {
	keywords, err := jsonArr(s.Keywords)
	if err != nil {
		return store.Summary{}, err
	}
	speakers, err := jsonArr(s.Speakers)
	if err != nil {
		return store.Summary{}, err
	}
	corrections, err := jsonArr(s.Corrections)
	if err != nil {
		return store.Summary{}, err
	}
	err = q.tx.QueryRow(ctx,
		`INSERT INTO summaries (recording_id, minute_index, summary_text, keywords,
		                        speakers, confidence, model_used, corrections)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		s.RecordingID, s.MinuteIndex, s.SummaryText, keywords,
		speakers, s.Confidence, s.ModelUsed, corrections,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return store.Summary{}, fmt.Errorf("postgres: create summary: %w", err)
	}
	return s, nil
}

func (q *queries) ListSummaries(ctx context.Context, recordingID int64) ([]store.Summary, error) {
	return q.listSummaries(ctx,
		`SELECT id, recording_id, minute_index, summary_text, keywords,
		        speakers, confidence, model_used, corrections, created_at
		 FROM summaries WHERE recording_id = $1 ORDER BY minute_index`, recordingID)
}

func (q *queries) ListSummariesInRange(ctx context.Context, recordingID int64, startMinute, endMinute int) ([]store.Summary, error) {
	return q.listSummaries(ctx,
		`SELECT id, recording_id, minute_index, summary_text, keywords,
		        speakers, confidence, model_used, corrections, created_at
		 FROM summaries
		 WHERE recording_id = $1 AND minute_index BETWEEN $2 AND $3
		 ORDER BY minute_index`, recordingID, startMinute, endMinute)
}

func (q *queries) listSummaries(ctx context.Context, sql string, args ...any) ([]store.Summary, error) {
	rows, err := q.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list summaries: %w", err)
	}
	defer rows.Close()

	var out []store.Summary
	for rows.Next() {
		var (
			s                               store.Summary
			keywords, speakers, corrections []byte
		)
		if err := rows.Scan(&s.ID, &s.RecordingID, &s.MinuteIndex, &s.SummaryText,
			&keywords, &speakers, &s.Confidence, &s.ModelUsed, &corrections, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan summary: %w", err)
		}
		if err := unmarshalField(keywords, &s.Keywords, "keywords"); err != nil {
			return nil, err
		}
		if err := unmarshalField(speakers, &s.Speakers, "speakers"); err != nil {
			return nil, err
		}
		if err := unmarshalField(corrections, &s.Corrections, "corrections"); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *queries) CreateHourSummary(ctx context.Context, h store.HourSummary) (store.HourSummary, error) {
	keywords, err := jsonArr(h.Keywords)
	if err != nil {
		return store.HourSummary{}, err
	}
	segments, err := jsonArr(h.TopicSegments)
	if err != nil {
		return store.HourSummary{}, err
	}
	err = q.tx.QueryRow(ctx,
		`INSERT INTO hour_summaries (recording_id, hour_index, summary_text,
		                             keywords, topic_segments, token_count, model_used)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		h.RecordingID, h.HourIndex, h.SummaryText, keywords, segments, h.TokenCount, h.ModelUsed,
	).Scan(&h.ID)
	if err != nil {
		return store.HourSummary{}, fmt.Errorf("postgres: create hour summary: %w", err)
	}
	return h, nil
}

func (q *queries) ListHourSummaries(ctx context.Context, recordingID int64) ([]store.HourSummary, error) {
	rows, err := q.tx.Query(ctx,
		`SELECT id, recording_id, hour_index, summary_text, keywords,
		        topic_segments, token_count, model_used
		 FROM hour_summaries WHERE recording_id = $1 ORDER BY hour_index`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list hour summaries: %w", err)
	}
	defer rows.Close()

	var out []store.HourSummary
	for rows.Next() {
		var (
			h                  store.HourSummary
			keywords, segments []byte
		)
		if err := rows.Scan(&h.ID, &h.RecordingID, &h.HourIndex, &h.SummaryText,
			&keywords, &segments, &h.TokenCount, &h.ModelUsed); err != nil {
			return nil, fmt.Errorf("postgres: scan hour summary: %w", err)
		}
		if err := unmarshalField(keywords, &h.Keywords, "keywords"); err != nil {
			return nil, err
		}
		if err := unmarshalField(segments, &h.TopicSegments, "topic_segments"); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (q *queries) CreateClassification(ctx context.Context, c store.Classification) (store.Classification, error) {
	result, err := json.Marshal(c.Result)
	if err != nil {
		return store.Classification{}, fmt.Errorf("postgres: marshal result: %w", err)
	}
	err = q.tx.QueryRow(ctx,
		`INSERT INTO classifications (recording_id, template_name, template_id,
		                              start_minute, end_minute, confidence, result)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		c.RecordingID, c.TemplateName, c.TemplateID,
		c.StartMinute, c.EndMinute, c.Confidence, result,
	).Scan(&c.ID)
	if err != nil {
		return store.Classification{}, fmt.Errorf("postgres: create classification: %w", err)
	}
	return c, nil
}

func (q *queries) ListClassifications(ctx context.Context, recordingID int64) ([]store.Classification, error) {
	rows, err := q.tx.Query(ctx,
		`SELECT id, recording_id, template_name, template_id,
		        start_minute, end_minute, confidence, result
		 FROM classifications WHERE recording_id = $1 ORDER BY start_minute`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list classifications: %w", err)
	}
	defer rows.Close()

	var out []store.Classification
	for rows.Next() {
		var (
			c      store.Classification
			result []byte
		)
		if err := rows.Scan(&c.ID, &c.RecordingID, &c.TemplateName, &c.TemplateID,
			&c.StartMinute, &c.EndMinute, &c.Confidence, &result); err != nil {
			return nil, fmt.Errorf("postgres: scan classification: %w", err)
		}
		if err := json.Unmarshal(result, &c.Result); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal result: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *queries) ListActiveTemplates(ctx context.Context) ([]store.Template, error) {
	rows, err := q.tx.Query(ctx,
		`SELECT id, name, display_name, triggers, output_format, fields,
		        icon, priority, is_default, is_active
		 FROM templates WHERE is_active ORDER BY priority DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list templates: %w", err)
	}
	defer rows.Close()

	var out []store.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *queries) GetTemplateByName(ctx context.Context, name string) (store.Template, error) {
	row := q.tx.QueryRow(ctx,
		`SELECT id, name, display_name, triggers, output_format, fields,
		        icon, priority, is_default, is_active
		 FROM templates WHERE lower(name) = lower($1)`, name)
	t, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Template{}, fmt.Errorf("postgres: template %q: %w", name, store.ErrTemplateNotFound)
	}
	if err != nil {
		return store.Template{}, err
	}
	return t, nil
}

func (q *queries) CreateTemplate(ctx context.Context, t store.Template) (store.Template, error) {
	triggers, err := jsonArr(t.Triggers)
	if err != nil {
		return store.Template{}, err
	}
	fields, err := jsonArr(t.Fields)
	if err != nil {
		return store.Template{}, err
	}
	err = q.tx.QueryRow(ctx,
		`INSERT INTO templates (name, display_name, triggers, output_format,
		                        fields, icon, priority, is_default, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (name) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   triggers = EXCLUDED.triggers,
		   output_format = EXCLUDED.output_format,
		   fields = EXCLUDED.fields,
		   icon = EXCLUDED.icon,
		   priority = EXCLUDED.priority,
		   is_default = EXCLUDED.is_default,
		   is_active = EXCLUDED.is_active
		 RETURNING id`,
		t.Name, t.DisplayName, triggers, t.OutputFormat,
		fields, t.Icon, t.Priority, t.IsDefault, t.IsActive,
	).Scan(&t.ID)
	if err != nil {
		return store.Template{}, fmt.Errorf("postgres: create template: %w", err)
	}
	return t, nil
}

func (q *queries) CreateRAGQuery(ctx context.Context, rq store.RAGQuery) (store.RAGQuery, error) {
	err := q.tx.QueryRow(ctx,
		`INSERT INTO rag_queries (query, answer, source_count, model_used, query_time_ms)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		rq.Query, rq.Answer, rq.SourceCount, rq.ModelUsed, rq.QueryTimeMs,
	).Scan(&rq.ID, &rq.CreatedAt)
	if err != nil {
		return store.RAGQuery{}, fmt.Errorf("postgres: create rag query: %w", err)
	}
	return rq, nil
}

func scanTemplate(row pgx.Row) (store.Template, error) {
	var (
		t                store.Template
		triggers, fields []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.DisplayName, &triggers, &t.OutputFormat,
		&fields, &t.Icon, &t.Priority, &t.IsDefault, &t.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Template{}, err
		}
		return store.Template{}, fmt.Errorf("postgres: scan template: %w", err)
	}
	if err := json.Unmarshal(triggers, &t.Triggers); err != nil {
		return store.Template{}, fmt.Errorf("postgres: unmarshal triggers: %w", err)
	}
	if err := json.Unmarshal(fields, &t.Fields); err != nil {
		return store.Template{}, fmt.Errorf("postgres: unmarshal fields: %w", err)
	}
	return t, nil
}

// jsonArr marshals v, substituting an empty JSON array for nil slices so the
// stored column never holds SQL NULL.
func jsonArr[T any](v []T) ([]byte, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal json: %w", err)
	}
	return data, nil
}

func unmarshalField(data []byte, dst any, what string) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("postgres: unmarshal %s: %w", what, err)
	}
	return nil
}
