package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ragchat/internal/domain"
	"ragchat/internal/port"
)

// historyVar is the condense prompt variable holding the formatted history.
const historyVar = "chat_history"

var (
	ErrNoMessages    = errors.New("messages must contain at least one entry")
	ErrEmptyQuestion = errors.New("last message content must not be empty")
)

// ChainResult is the outcome of one chain invocation.
type ChainResult struct {
	Question           string
	StandaloneQuestion string
	Answer             string
	Sources            []domain.ScoredChunk
}

// ConversationalRetrievalChain answers a question using retrieved context and
// the conversation so far. With prior turns, the question is first rewritten
// into a standalone question; the answer is then streamed from the QA prompt
// and the turn is saved to memory.
type ConversationalRetrievalChain struct {
	model     port.ChatModel
	retriever port.Retriever
	condense  *Prompt
	qa        *Prompt
	logger    *slog.Logger
}

// ChainOption customizes a ConversationalRetrievalChain.
type ChainOption func(*ConversationalRetrievalChain)

func WithCondensePrompt(p *Prompt) ChainOption {
	return func(c *ConversationalRetrievalChain) { c.condense = p }
}

func WithQAPrompt(p *Prompt) ChainOption {
	return func(c *ConversationalRetrievalChain) { c.qa = p }
}

func WithLogger(l *slog.Logger) ChainOption {
	return func(c *ConversationalRetrievalChain) { c.logger = l }
}

func NewConversationalRetrievalChain(model port.ChatModel, retriever port.Retriever, opts ...ChainOption) (*ConversationalRetrievalChain, error) {
	condense, err := loadPrompt(condenseTemplateName)
	if err != nil {
		return nil, err
	}
	qa, err := loadPrompt(qaTemplateName)
	if err != nil {
		return nil, err
	}

	c := &ConversationalRetrievalChain{
		model:     model,
		retriever: retriever,
		condense:  condense,
		qa:        qa,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// Render both prompts once so a template referencing an unknown
	// variable fails here instead of on the first request.
	if _, err := c.condense.Render(map[string]string{historyVar: "", "question": ""}); err != nil {
		return nil, fmt.Errorf("condense prompt: %w", err)
	}
	if _, err := c.qa.Render(map[string]string{"context": "", "question": ""}); err != nil {
		return nil, fmt.Errorf("qa prompt: %w", err)
	}
	return c, nil
}

// QuestionFromMessages returns the trimmed content of the last message.
func QuestionFromMessages(messages []domain.Message) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}
	question := strings.TrimSpace(messages[len(messages)-1].Content)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	return question, nil
}

// Run answers question, passing answer tokens to onToken as they arrive.
func (c *ConversationalRetrievalChain) Run(ctx context.Context, question string, memory port.Memory, onToken port.TokenHandler) (*ChainResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	history, err := memory.History(ctx)
	if err != nil {
		return nil, err
	}

	result := &ChainResult{
		Question:           question,
		StandaloneQuestion: question,
	}

	if len(history) > 0 {
		standalone, err := c.condenseQuestion(ctx, history, question)
		if err != nil {
			return nil, err
		}
		result.StandaloneQuestion = standalone
		c.logger.Debug("condensed question",
			"memory", memory.Key(),
			"turns", len(history),
		)
	}

	start := time.Now()
	sources, err := c.retriever.Retrieve(ctx, result.StandaloneQuestion)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve context: %w", err)
	}
	result.Sources = sources
	c.logger.Debug("retrieved context",
		"chunks", len(sources),
		"duration", time.Since(start),
	)

	prompt, err := c.qa.Render(map[string]string{
		"context":  FormatContext(sources),
		"question": result.StandaloneQuestion,
	})
	if err != nil {
		return nil, err
	}

	answer, err := c.model.Stream(ctx, []domain.Message{{Role: domain.RoleUser, Content: prompt}}, onToken)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	result.Answer = answer

	turn := domain.Turn{
		Question:  question,
		Answer:    answer,
		CreatedAt: time.Now().UTC(),
	}
	if err := memory.SaveTurn(ctx, turn); err != nil {
		return result, err
	}
	return result, nil
}

func (c *ConversationalRetrievalChain) condenseQuestion(ctx context.Context, history []domain.Turn, question string) (string, error) {
	prompt, err := c.condense.Render(map[string]string{
		historyVar: FormatHistory(history),
		"question": question,
	})
	if err != nil {
		return "", err
	}

	standalone, err := c.model.Generate(ctx, []domain.Message{{Role: domain.RoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("failed to condense question: %w", err)
	}

	standalone = strings.TrimSpace(standalone)
	if standalone == "" {
		return question, nil
	}
	return standalone, nil
}
