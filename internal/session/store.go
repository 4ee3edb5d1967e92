package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexchat/backend/pkg/logger"
)

// Event is one progress update streamed to the client while a folder is being
// processed. All fields are optional; omitted ones stay off the wire.
// UploadStarted carries the number of files the scan discovered.
type Event struct {
	Progress      *int     `json:"progress,omitempty"`
	UploadStarted *int     `json:"upload_started,omitempty"`
	File          string   `json:"file,omitempty"`
	Success       *bool    `json:"success,omitempty"`
	Error         string   `json:"error,omitempty"`
	Complete      bool     `json:"complete,omitempty"`
	Summary       *Summary `json:"combined_results,omitempty"`
}

// Summary is the terminal accounting of a processing run.
type Summary struct {
	TotalFiles    int         `json:"total_files"`
	UploadedFiles int         `json:"uploaded_files"`
	FailedFiles   []FileError `json:"failed_files"`
}

type FileError struct {
	FileName string `json:"file_name"`
	Error    string `json:"error"`
}

const eventBuffer = 512

// ProcessingSession tracks one asynchronous folder-processing run: its
// progress stream, cancellation state, and the documents it has touched so a
// cancelled run can be rolled back.
type ProcessingSession struct {
	ID string

	mu           sync.Mutex
	progress     int
	cancelled    bool
	cancel       context.CancelFunc
	events       chan Event
	closed       bool
	final        *Event
	touchedIDs   map[string]bool
	touchedPaths map[string]bool
	createdAt    time.Time
}

// Events is the live progress stream. It is closed when the run reaches a
// terminal state; read Final after that for the closing event.
func (s *ProcessingSession) Events() <-chan Event {
	return s.events
}

// Emit queues an event for the progress stream. A full buffer drops the
// event: intermediate progress is disposable, the terminal state travels via
// Final.
func (s *ProcessingSession) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		logger.Debug("Progress event dropped, buffer full", zap.String("session_id", s.ID))
	}
}

// SetProgress advances the progress percentage. Progress is monotonic:
// a value at or below the current one is ignored, so overlapping phase math
// can never walk the bar backwards.
func (s *ProcessingSession) SetProgress(pct int) {
	s.mu.Lock()
	if s.closed || pct <= s.progress {
		s.mu.Unlock()
		return
	}
	s.progress = pct
	s.mu.Unlock()

	p := pct
	s.Emit(Event{Progress: &p})
}

func (s *ProcessingSession) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Cancel flags the session as cancelled and interrupts the running pipeline.
// Idempotent.
func (s *ProcessingSession) Cancel() {
	s.mu.Lock()
	already := s.cancelled
	s.cancelled = true
	cancel := s.cancel
	s.mu.Unlock()

	if !already && cancel != nil {
		cancel()
	}
}

func (s *ProcessingSession) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// TrackDocument records a document id created or modified by this run.
func (s *ProcessingSession) TrackDocument(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchedIDs[id] = true
}

// TrackPath records a file path seen by this run, before a document id
// exists for it. Cleanup falls back to paths when the run was cancelled
// before ids were assigned.
func (s *ProcessingSession) TrackPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchedPaths[path] = true
}

func (s *ProcessingSession) TouchedDocuments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.touchedIDs))
	for id := range s.touchedIDs {
		out = append(out, id)
	}
	return out
}

func (s *ProcessingSession) TouchedPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.touchedPaths))
	for p := range s.touchedPaths {
		out = append(out, p)
	}
	return out
}

// Finish records the terminal event and closes the progress stream. The
// terminal event is kept aside rather than queued so it survives a full
// buffer.
func (s *ProcessingSession) Finish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.final = &ev
	s.closed = true
	close(s.events)
}

// Final returns the terminal event, or nil while the run is still going.
func (s *ProcessingSession) Final() *Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}

func (s *ProcessingSession) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Store holds the live processing sessions. It is injected into the handlers
// and the pipeline rather than living in a package global, so tests can run
// isolated stores side by side.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*ProcessingSession
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*ProcessingSession)}
}

// Create registers a new session bound to the given cancel function.
func (st *Store) Create(cancel context.CancelFunc) *ProcessingSession {
	s := &ProcessingSession{
		ID:           uuid.NewString(),
		cancel:       cancel,
		events:       make(chan Event, eventBuffer),
		touchedIDs:   make(map[string]bool),
		touchedPaths: make(map[string]bool),
		createdAt:    time.Now(),
	}

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()

	logger.Info("Processing session created", zap.String("session_id", s.ID))
	return s
}

func (st *Store) Get(id string) (*ProcessingSession, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	return s, ok
}

func (st *Store) Delete(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Sweep drops finished sessions older than maxAge. Finished sessions are kept
// around for a while so a reconnecting client can still fetch the terminal
// event.
func (st *Store) Sweep(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	st.mu.Lock()
	defer st.mu.Unlock()
	for id, s := range st.sessions {
		if s.Done() && s.createdAt.Before(cutoff) {
			delete(st.sessions, id)
		}
	}
}
