// Package store defines the persistent data model for echonote recordings
// and the transactional Repository boundary over it.
//
// A Recording exclusively owns its Transcripts, Summaries, HourSummaries,
// and Classifications; deleting a recording cascades to all of them.
// Templates are shared reference data, loosely coupled to Classifications by
// template name (the textual link is authoritative when the stored template
// ID is stale).
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced by repository implementations.
var (
	// ErrRecordingNotFound indicates the recording ID does not exist.
	ErrRecordingNotFound = errors.New("recording not found")

	// ErrTemplateNotFound indicates no template matched the lookup.
	ErrTemplateNotFound = errors.New("template not found")
)

// RecordingStatus is the lifecycle state of a recording.
type RecordingStatus string

const (
	StatusActive     RecordingStatus = "active"
	StatusProcessing RecordingStatus = "processing"
	StatusCompleted  RecordingStatus = "completed"
	StatusFailed     RecordingStatus = "failed"
	StatusImported   RecordingStatus = "imported"
)

// Recording is one recording session. EndedAt is nil while the recording is
// live; Status completed implies EndedAt is set.
type Recording struct {
	ID           int64
	Title        string
	Context      string // free-text domain hints for transcription correction
	StartedAt    time.Time
	EndedAt      *time.Time
	Status       RecordingStatus
	TotalMinutes int
	AudioPath    string
}

// Transcript is the raw text of one minute-long window of a recording.
type Transcript struct {
	ID          int64
	RecordingID int64
	MinuteIndex int
	Text        string
	Confidence  float64
	Language    string
	CreatedAt   time.Time
}

// Correction is one transcription fix proposed by the minute summarizer.
type Correction struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	Reason    string `json:"reason"`
}

// Summary is the structured minute-level summary of one transcript window.
// The orchestrator guarantees single-writer semantics per (recording,
// minute) within a session.
type Summary struct {
	ID          int64
	RecordingID int64
	MinuteIndex int
	SummaryText string
	Keywords    []string
	Speakers    []string
	Confidence  float64
	ModelUsed   string
	Corrections []Correction
	CreatedAt   time.Time
}

// TopicSegment groups the minutes of an hour that share a topic.
type TopicSegment struct {
	Topic   string `json:"topic"`
	Minutes []int  `json:"minutes"`
}

// HourSummary is the two-level reduction of one hour bucket of minute
// summaries. Created only at session stop, only for buckets with at least
// ten minute summaries.
type HourSummary struct {
	ID            int64
	RecordingID   int64
	HourIndex     int
	SummaryText   string
	Keywords      []string
	TopicSegments []TopicSegment
	TokenCount    int
	ModelUsed     string
}

// TemplateField describes one structured output field of a template.
type TemplateField struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

// Template is an output template matched against classification results.
// At most one template should carry IsDefault.
type Template struct {
	ID           int64
	Name         string
	DisplayName  string
	Triggers     []string
	OutputFormat string
	Fields       []TemplateField
	Icon         string
	Priority     int
	IsDefault    bool
	IsActive     bool
}

// Classification is the content category assigned to a minute range of a
// recording, produced once at session end.
type Classification struct {
	ID           int64
	RecordingID  int64
	TemplateName string
	TemplateID   int64
	StartMinute  int
	EndMinute    int
	Confidence   float64
	Result       map[string]any
}

// RAGQuery is the audit row persisted for one retrieval-augmented query.
type RAGQuery struct {
	ID          int64
	Query       string
	Answer      string
	SourceCount int
	ModelUsed   string
	QueryTimeMs int64
	CreatedAt   time.Time
}

// Queries is the set of operations available inside one transactional scope.
type Queries interface {
	CreateRecording(ctx context.Context, title, userContext string) (Recording, error)
	GetRecording(ctx context.Context, id int64) (Recording, error)
	UpdateAudioPath(ctx context.Context, id int64, path string) error
	// StopRecording marks the recording completed at endedAt and computes
	// TotalMinutes as floor((endedAt − StartedAt) / 1 minute).
	StopRecording(ctx context.Context, id int64, endedAt time.Time) (Recording, error)
	DeleteRecording(ctx context.Context, id int64) error

	CreateTranscript(ctx context.Context, t Transcript) (Transcript, error)
	ListTranscripts(ctx context.Context, recordingID int64) ([]Transcript, error)

	CreateSummary(ctx context.Context, s Summary) (Summary, error)
	ListSummaries(ctx context.Context, recordingID int64) ([]Summary, error)
	ListSummariesInRange(ctx context.Context, recordingID int64, startMinute, endMinute int) ([]Summary, error)

	CreateHourSummary(ctx context.Context, h HourSummary) (HourSummary, error)
	ListHourSummaries(ctx context.Context, recordingID int64) ([]HourSummary, error)

	CreateClassification(ctx context.Context, c Classification) (Classification, error)
	ListClassifications(ctx context.Context, recordingID int64) ([]Classification, error)

	ListActiveTemplates(ctx context.Context) ([]Template, error)
	GetTemplateByName(ctx context.Context, name string) (Template, error)
	CreateTemplate(ctx context.Context, t Template) (Template, error)

	CreateRAGQuery(ctx context.Context, q RAGQuery) (RAGQuery, error)
}

// Repository is the transactional persistence boundary. WithTx runs fn in
// one transaction scope: commit when fn returns nil, rollback when it
// returns an error or panics.
type Repository interface {
	WithTx(ctx context.Context, fn func(q Queries) error) error
}
