package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ragchat/internal/domain"
	"ragchat/internal/port"
)

var _ port.SessionStore = (*MemoryStore)(nil)

// MemoryStore keeps conversation turns in process. It is used when session
// persistence is disabled and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]domain.Turn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]domain.Turn),
	}
}

func (s *MemoryStore) AppendTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	if sessionID == "" {
		return fmt.Errorf("session id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], turn)
	return nil
}

func (s *MemoryStore) LastTurns(ctx context.Context, sessionID string, n int) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.sessions[sessionID]
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]domain.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

var _ port.Memory = (*SessionMemory)(nil)

// SessionMemory is the conversation buffer of a single session, backed by
// a SessionStore.
type SessionMemory struct {
	store     port.SessionStore
	sessionID string
	key       string
	maxTurns  int
}

func NewSessionMemory(store port.SessionStore, sessionID, key string, maxTurns int) *SessionMemory {
	return &SessionMemory{
		store:     store,
		sessionID: sessionID,
		key:       key,
		maxTurns:  maxTurns,
	}
}

func (m *SessionMemory) Key() string { return m.key }

func (m *SessionMemory) History(ctx context.Context) ([]domain.Turn, error) {
	turns, err := m.store.LastTurns(ctx, m.sessionID, m.maxTurns)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", m.sessionID, err)
	}
	return turns, nil
}

func (m *SessionMemory) SaveTurn(ctx context.Context, turn domain.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	if err := m.store.AppendTurn(ctx, m.sessionID, turn); err != nil {
		return fmt.Errorf("failed to save turn for session %s: %w", m.sessionID, err)
	}
	return nil
}

// Seed appends turns that were carried by the client rather than stored.
func (m *SessionMemory) Seed(ctx context.Context, turns []domain.Turn) error {
	for _, t := range turns {
		if err := m.SaveTurn(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// TurnsFromMessages pairs each user message with the assistant reply that
// follows it. A trailing user message without reply is dropped, as are
// system messages.
func TurnsFromMessages(messages []domain.Message) []domain.Turn {
	var turns []domain.Turn
	var pending *domain.Turn

	for _, m := range messages {
		switch m.Role {
		case domain.RoleUser:
			if pending != nil && pending.Question != "" {
				// Unanswered question; keep it with an empty answer.
				turns = append(turns, *pending)
			}
			pending = &domain.Turn{Question: strings.TrimSpace(m.Content)}
		case domain.RoleAssistant:
			if pending == nil {
				pending = &domain.Turn{}
			}
			pending.Answer = strings.TrimSpace(m.Content)
			turns = append(turns, *pending)
			pending = nil
		}
	}
	return turns
}
