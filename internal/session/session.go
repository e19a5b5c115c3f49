// Package session manages chat sessions over the query pipeline.
//
// A session is a lightweight conversational handle: all sessions share one
// read-only pipeline and index, so the only per-session state is the turn
// count. Sessions live in memory; restarting the process starts fresh.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/decilog/decilog/internal/query"
)

const (
	// Greeting opens every new session.
	Greeting = "I have been trained on the development manager's decision log. Ask me anything."

	// InvalidSessionMessage is the reply for an unknown session ID. Not an
	// error: the transport delivers it like any other answer.
	InvalidSessionMessage = "Invalid session. Please start a new session."
)

// Session is one live conversation.
type Session struct {
	ID        uuid.UUID
	StartedAt time.Time

	mu    sync.Mutex
	turns int
}

// Turns returns how many questions this session has handled.
func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

func (s *Session) addTurn() {
	s.mu.Lock()
	s.turns++
	s.mu.Unlock()
}

// Manager creates sessions and routes their questions to the shared query
// pipeline. Safe for concurrent use.
type Manager struct {
	pipeline *query.Pipeline
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewManager creates a session manager bound to one query pipeline.
func NewManager(pipeline *query.Pipeline, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pipeline: pipeline,
		logger:   logger,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Start opens a new session and returns it with the fixed greeting.
func (m *Manager) Start() (*Session, string) {
	s := &Session{
		ID:        uuid.New(),
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session started", "session_id", s.ID)
	return s, Greeting
}

// Get returns the session for id, or nil when unknown.
func (m *Manager) Get(id uuid.UUID) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// End removes a session. Ending an unknown session is a no-op.
func (m *Manager) End(id uuid.UUID) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		m.logger.Info("session ended", "session_id", id)
	}
}

// Handle answers one question within a session. An unknown session ID gets
// the fixed invalid-session reply instead of an error; an empty question is
// rejected with query.ErrEmptyQuestion before anything else happens.
func (m *Manager) Handle(ctx context.Context, id uuid.UUID, question string) (*query.Stream, error) {
	s := m.Get(id)
	if s == nil {
		m.logger.Warn("question for unknown session", "session_id", id)
		return query.Message(InvalidSessionMessage), nil
	}

	stream, err := m.pipeline.Ask(ctx, question)
	if err != nil {
		return nil, err
	}

	s.addTurn()
	m.logger.Debug("question routed",
		"session_id", id,
		"turn", s.Turns())
	return stream, nil
}
