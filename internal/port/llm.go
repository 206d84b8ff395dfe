package port

import (
	"context"

	"ragchat/internal/domain"
)

// TokenHandler receives generated tokens in order. Returning an error
// aborts generation.
type TokenHandler func(token string) error

// ChatModel is a chat-completion language model.
type ChatModel interface {
	// Generate returns the full completion for the messages.
	Generate(ctx context.Context, messages []domain.Message) (string, error)

	// Stream delivers the completion token by token to onToken and returns
	// the accumulated text.
	Stream(ctx context.Context, messages []domain.Message, onToken TokenHandler) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}
