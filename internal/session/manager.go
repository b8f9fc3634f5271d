package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kdimtricp/spectator/internal/database"
	"github.com/kdimtricp/spectator/internal/storage"
)

// Manager hands out sessions and tracks them by ID. Each session has exactly
// one owner; the manager never shares one session's media across clients.
type Manager struct {
	inference    InferenceClient
	capturer     FrameCapturer
	store        storage.Storage
	transcripts  *database.TranscriptRepo
	pollInterval time.Duration
	logger       *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

type ManagerConfig struct {
	PollInterval time.Duration
}

func NewManager(inference InferenceClient, capturer FrameCapturer, store storage.Storage, transcripts *database.TranscriptRepo, config ManagerConfig, logger *slog.Logger) *Manager {
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		inference:    inference,
		capturer:     capturer,
		store:        store,
		transcripts:  transcripts,
		pollInterval: config.PollInterval,
		logger:       logger,
		sessions:     make(map[string]*Session),
	}
}

func (m *Manager) Create() *Session {
	s := newSession(m.inference, m.capturer, m.store, m.transcripts, m.pollInterval, m.logger)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session created", "session", s.ID)
	return s
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[id]
	return s, exists
}

// Remove resets the session to release its media and drops it from the map.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	s, exists := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !exists {
		return nil
	}

	if err := s.Reset(ctx); err != nil {
		return err
	}
	if err := m.transcripts.DeleteBySession(ctx, id); err != nil {
		return err
	}

	m.logger.Info("session removed", "session", id)
	return nil
}
