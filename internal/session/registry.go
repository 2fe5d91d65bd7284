package session

import (
	"context"
	"errors"
	"sync"

	"github.com/echonote/echonote/internal/observe"
)

// ErrRecordingActive is returned by StartSession while another recording
// session occupies the slot.
var ErrRecordingActive = errors.New("session: recording already active")

// Registry is the process-wide guard allowing at most one live recording
// session. Safe for concurrent use.
type Registry struct {
	metrics *observe.Metrics

	mu     sync.Mutex
	active *Session
}

// NewRegistry returns an empty Registry. metrics may be nil.
func NewRegistry(metrics *observe.Metrics) *Registry {
	return &Registry{metrics: metrics}
}

// StartSession places a new session built from opts into the slot and starts
// it. Fails with ErrRecordingActive while another session holds the slot.
func (r *Registry) StartSession(opts Options) (*Session, error) {
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return nil, ErrRecordingActive
	}
	s := New(opts)
	r.active = s
	r.mu.Unlock()

	s.Start()
	if r.metrics != nil {
		r.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	return s, nil
}

// Active returns the session currently in the slot, or nil.
func (r *Registry) Active() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// StopSession stops the active session, if any. The slot is cleared before
// Stop is awaited, so a new session may start while the old one finalizes.
// Idempotent: an empty slot is a no-op.
func (r *Registry) StopSession(ctx context.Context) {
	r.mu.Lock()
	s := r.active
	r.active = nil
	r.mu.Unlock()
	if s == nil {
		return
	}

	if r.metrics != nil {
		r.metrics.ActiveSessions.Add(ctx, -1)
	}
	s.Stop(ctx)
}

// Cleanup stops any active session; called at process shutdown.
func (r *Registry) Cleanup(ctx context.Context) {
	r.StopSession(ctx)
}
