package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"ragchat/internal/domain"
	"ragchat/internal/port"
)

var _ port.ChatModel = (*OpenAIChatModel)(nil)

// maxErrorBody caps how much of a failed response is read into the error.
const maxErrorBody = 64 * 1024

// Options configures an OpenAI-compatible chat model.
type Options struct {
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	Streaming   bool
	Timeout     time.Duration // bounds one whole generation, 0 disables
}

// OpenAIChatModel talks to an OpenAI-compatible /chat/completions endpoint.
type OpenAIChatModel struct {
	opts   Options
	client *http.Client
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []domain.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	Stream      bool             `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message domain.Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIChatModel reads the API key from apiKeyEnv. An empty apiKeyEnv
// is allowed for local OpenAI-compatible servers that need no key.
func NewOpenAIChatModel(apiKeyEnv string, opts Options) (*OpenAIChatModel, error) {
	if apiKeyEnv != "" {
		opts.APIKey = os.Getenv(apiKeyEnv)
		if opts.APIKey == "" {
			return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
		}
	}
	return New(opts), nil
}

// New builds a chat model from explicit options.
func New(opts Options) *OpenAIChatModel {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &OpenAIChatModel{
		opts:   opts,
		client: &http.Client{},
	}
}

// Options returns the options the model was built with.
func (m *OpenAIChatModel) Options() Options {
	return m.opts
}

func (m *OpenAIChatModel) ModelName() string {
	return m.opts.Model
}

// Generate returns the full completion without streaming.
func (m *OpenAIChatModel) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	resp, err := m.post(ctx, chatRequest{
		Model:       m.opts.Model,
		Messages:    messages,
		Temperature: m.opts.Temperature,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// Stream delivers content deltas to onToken as they arrive. When streaming
// is disabled the full completion is delivered as a single token.
func (m *OpenAIChatModel) Stream(ctx context.Context, messages []domain.Message, onToken port.TokenHandler) (string, error) {
	if !m.opts.Streaming {
		text, err := m.Generate(ctx, messages)
		if err != nil {
			return "", err
		}
		if text != "" {
			if err := onToken(text); err != nil {
				return text, err
			}
		}
		return text, nil
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	resp, err := m.post(ctx, chatRequest{
		Model:       m.opts.Model,
		Messages:    messages,
		Temperature: m.opts.Temperature,
		Stream:      true,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var answer strings.Builder
	scanner := newSSEScanner(resp.Body)
	for {
		payload, err := scanner.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return answer.String(), fmt.Errorf("SSE read error: %w", err)
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return answer.String(), fmt.Errorf("failed to parse streaming chunk: %w", err)
		}
		if chunk.Error != nil {
			return answer.String(), fmt.Errorf("API error: %s", chunk.Error.Message)
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content == nil || *choice.Delta.Content == "" {
				continue
			}
			token := *choice.Delta.Content
			answer.WriteString(token)
			if err := onToken(token); err != nil {
				return answer.String(), err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return answer.String(), err
	}
	return answer.String(), nil
}

func (m *OpenAIChatModel) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.opts.Timeout)
}

// post sends the request and returns the response with its body open.
// Non-2xx responses are turned into errors carrying status and body.
func (m *OpenAIChatModel) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.opts.BaseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if m.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.opts.APIKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}
	return resp, nil
}
