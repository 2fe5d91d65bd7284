// Package ingest is the WebSocket boundary of the recording pipeline: binary
// frames carry raw little-endian int16 PCM, text frames carry control
// messages, and per-minute pipeline events flow back as JSON text frames.
//
// One connection owns one recording. The server slices the byte stream into
// minute windows, transcribes each window, and hands the text to the
// recording's session in ascending minute order.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/echonote/echonote/internal/observe"
	"github.com/echonote/echonote/internal/session"
	"github.com/echonote/echonote/internal/store"
	"github.com/echonote/echonote/pkg/audio"
	"github.com/echonote/echonote/pkg/provider/stt"
)

// Config sets the PCM geometry of incoming audio and optional persistence.
type Config struct {
	// SampleRate in Hz. Defaults to 16000.
	SampleRate int

	// Channels per frame. Defaults to 1.
	Channels int

	// AudioDir, when set, is where each recording's raw audio is persisted
	// as a WAV file at the end of the connection.
	AudioDir string
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
}

// Server accepts recording connections. Implements http.Handler; mount it on
// the recording route.
type Server struct {
	repo        store.Repository
	transcriber stt.Provider
	registry    *session.Registry

	// base is the session options template; per-connection fields
	// (RecordingID, Repo, Notify, UserContext) are filled in on accept.
	base session.Options

	cfg     Config
	metrics *observe.Metrics
}

// NewServer returns a Server. base supplies the LM provider, side-channel,
// interval, and categories shared by every session.
func NewServer(repo store.Repository, transcriber stt.Provider, registry *session.Registry, base session.Options, cfg Config, metrics *observe.Metrics) *Server {
	cfg.applyDefaults()
	return &Server{
		repo:        repo,
		transcriber: transcriber,
		registry:    registry,
		base:        base,
		cfg:         cfg,
		metrics:     metrics,
	}
}

// control is the shape of client text frames.
type control struct {
	Type string `json:"type"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("ingest: websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "ingest aborted")

	ctx := r.Context()
	title := r.URL.Query().Get("title")
	userContext := r.URL.Query().Get("context")

	var rec store.Recording
	err = s.repo.WithTx(ctx, func(q store.Queries) error {
		var err error
		rec, err = q.CreateRecording(ctx, title, userContext)
		return err
	})
	if err != nil {
		slog.Error("ingest: create recording failed", "error", err)
		conn.Close(websocket.StatusInternalError, "create recording failed")
		return
	}

	opts := s.base
	opts.RecordingID = rec.ID
	opts.Repo = s.repo
	opts.UserContext = userContext
	opts.Notify = func(ctx context.Context, event session.Event) error {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("ingest: marshal event: %w", err)
		}
		return conn.Write(ctx, websocket.MessageText, data)
	}
	sess, err := s.registry.StartSession(opts)
	if err != nil {
		slog.Warn("ingest: session refused", "recording_id", rec.ID, "error", err)
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	s.pump(ctx, conn, sess, rec.ID)

	// Finalization must survive an abruptly-cancelled request context.
	stopCtx := context.WithoutCancel(ctx)
	s.registry.StopSession(stopCtx)
	conn.Close(websocket.StatusNormalClosure, "recording stopped")
}

// pump reads the connection until the client stops or disconnects, slicing
// binary frames into minute windows.
func (s *Server) pump(ctx context.Context, conn *websocket.Conn, sess *session.Session, recordingID int64) {
	minuteBytes := s.cfg.SampleRate * 2 * s.cfg.Channels * 60
	var pending, full []byte
	minute := 0

	defer func() {
		// The tail must flush even when the request context died with the
		// connection.
		tailCtx := context.WithoutCancel(ctx)
		// Flush the trailing partial minute when it holds at least half a
		// second of audio; shorter fragments are unfit for STT.
		if len(pending) >= minuteBytes/120 {
			s.processMinute(tailCtx, sess, recordingID, minute, pending)
		}
		s.persistAudio(tailCtx, recordingID, full)
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			slog.Debug("ingest: connection closed", "recording_id", recordingID, "error", err)
			return
		}
		switch typ {
		case websocket.MessageBinary:
			pending = append(pending, data...)
			if s.cfg.AudioDir != "" {
				full = append(full, data...)
			}
			for len(pending) >= minuteBytes {
				s.processMinute(ctx, sess, recordingID, minute, pending[:minuteBytes])
				pending = append(pending[:0:0], pending[minuteBytes:]...)
				minute++
			}
		case websocket.MessageText:
			var ctl control
			if err := json.Unmarshal(data, &ctl); err != nil {
				slog.Warn("ingest: bad control frame", "recording_id", recordingID, "error", err)
				continue
			}
			if ctl.Type == "stop" {
				return
			}
		}
	}
}

// processMinute transcribes one minute window and enqueues the text. A
// transcription failure skips the minute; the stream carries on.
func (s *Server) processMinute(ctx context.Context, sess *session.Session, recordingID int64, minute int, pcm []byte) {
	start := time.Now()
	text, confidence, err := s.transcribe(ctx, pcm)
	if s.metrics != nil {
		s.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		slog.Warn("ingest: transcription failed",
			"recording_id", recordingID,
			"minute_index", minute,
			"error", err,
		)
		return
	}

	if text != "" {
		err := s.repo.WithTx(ctx, func(q store.Queries) error {
			_, err := q.CreateTranscript(ctx, store.Transcript{
				RecordingID: recordingID,
				MinuteIndex: minute,
				Text:        text,
				Confidence:  confidence,
			})
			return err
		})
		if err != nil {
			slog.Warn("ingest: persist transcript failed",
				"recording_id", recordingID,
				"minute_index", minute,
				"error", err,
			)
		}
	}
	sess.EnqueueTranscript(minute, text)
}

// transcribe streams pcm through the STT provider and joins the speech
// chunks into one minute transcript.
func (s *Server) transcribe(ctx context.Context, pcm []byte) (text string, confidence float64, err error) {
	results, err := s.transcriber.TranscribeStream(ctx, bytes.NewReader(pcm))
	if err != nil {
		return "", 0, err
	}

	var parts []string
	var confSum float64
	for res := range results {
		if res.Err != nil {
			return "", 0, res.Err
		}
		if strings.TrimSpace(res.Text) == "" {
			continue
		}
		parts = append(parts, strings.TrimSpace(res.Text))
		confSum += res.Confidence
	}
	if len(parts) == 0 {
		return "", 0, nil
	}
	return strings.Join(parts, " "), confSum / float64(len(parts)), nil
}

// persistAudio writes the recording's raw PCM as a WAV file and records the
// path. Best-effort.
func (s *Server) persistAudio(ctx context.Context, recordingID int64, pcm []byte) {
	if s.cfg.AudioDir == "" || len(pcm) == 0 {
		return
	}
	path := filepath.Join(s.cfg.AudioDir, fmt.Sprintf("recording-%d.wav", recordingID))
	if err := audio.WriteWAV(path, pcm, s.cfg.SampleRate, s.cfg.Channels); err != nil {
		slog.Warn("ingest: persist audio failed", "recording_id", recordingID, "error", err)
		return
	}
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		return q.UpdateAudioPath(ctx, recordingID, path)
	})
	if err != nil {
		slog.Warn("ingest: record audio path failed", "recording_id", recordingID, "error", err)
	}
}
