package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rryowa/journalgate/internal/models"
	"github.com/rryowa/journalgate/internal/storage"
)

// InMemorySessionManager keeps refresh sessions in process memory. Used for
// local development and tests; state is lost on restart.
type InMemorySessionManager struct {
	mu       sync.RWMutex
	sessions map[string]models.RefreshSession
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewSessionRepository(log *zap.SugaredLogger, now func() time.Time) *InMemorySessionManager {
	if now == nil {
		now = time.Now
	}
	return &InMemorySessionManager{
		sessions: make(map[string]models.RefreshSession),
		log:      log,
		now:      now,
	}
}

func (m *InMemorySessionManager) CreateSession(_ context.Context, session models.RefreshSession, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[session.Selector] = session
	m.log.Debugw("Session created", "selector", session.Selector, "userID", session.UserID, "ttl", ttl)

	return nil
}

func (m *InMemorySessionManager) GetSession(_ context.Context, selector string) (*models.RefreshSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[selector]
	if !ok || !m.now().Before(session.ExpiresAt) {
		m.log.Debugw("Session not found", "selector", selector)
		return nil, storage.ErrSessionNotFound
	}

	return &session, nil
}

func (m *InMemorySessionManager) MarkSessionAsUsed(_ context.Context, selector string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[selector]
	if !ok || !m.now().Before(session.ExpiresAt) {
		return storage.ErrSessionNotFound
	}
	if session.Status != models.SessionActive {
		return storage.ErrSessionAlreadyUsed
	}
	session.Status = models.SessionUsed
	m.sessions[selector] = session

	return nil
}

func (m *InMemorySessionManager) DeleteSession(_ context.Context, selector string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, selector)

	return nil
}

func (m *InMemorySessionManager) DeleteAllUserSessions(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sel, session := range m.sessions {
		if session.UserID == userID {
			delete(m.sessions, sel)
		}
	}

	return nil
}
