package port

import (
	"context"

	"ragchat/internal/domain"
)

// Memory holds the prior turns of one conversation.
type Memory interface {
	// Key labels the buffer in logs.
	Key() string

	// History returns prior turns, oldest first.
	History(ctx context.Context) ([]domain.Turn, error)

	// SaveTurn appends a completed turn.
	SaveTurn(ctx context.Context, turn domain.Turn) error
}

// SessionStore persists conversation turns by session id.
type SessionStore interface {
	AppendTurn(ctx context.Context, sessionID string, turn domain.Turn) error
	LastTurns(ctx context.Context, sessionID string, n int) ([]domain.Turn, error)
	DeleteSession(ctx context.Context, sessionID string) error
}
