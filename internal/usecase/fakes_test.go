package usecase

import (
	"context"
	"strings"
	"sync"

	"ragchat/internal/domain"
	"ragchat/internal/port"
)

type recordingIndex struct {
	mu       sync.Mutex
	upserts  [][]domain.VectorRecord
	queries  []domain.QueryRequest
	response *domain.QueryResponse
	err      error
}

func (x *recordingIndex) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.upserts = append(x.upserts, records)
	return x.err
}

func (x *recordingIndex) Query(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.queries = append(x.queries, req)
	if x.err != nil {
		return nil, x.err
	}
	return x.response, nil
}

func (x *recordingIndex) Stats(ctx context.Context) (domain.IndexStats, error) {
	return domain.IndexStats{}, nil
}

// scriptedModel streams the words of answer and returns condensed from
// Generate.
type scriptedModel struct {
	answer    string
	condensed string
	genErr    error
	streamErr error

	generated []string
	streamed  []string
}

func (m *scriptedModel) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	m.generated = append(m.generated, messages[len(messages)-1].Content)
	return m.condensed, m.genErr
}

func (m *scriptedModel) Stream(ctx context.Context, messages []domain.Message, onToken port.TokenHandler) (string, error) {
	m.streamed = append(m.streamed, messages[len(messages)-1].Content)
	if m.streamErr != nil {
		return "", m.streamErr
	}
	var sb strings.Builder
	for i, word := range strings.Fields(m.answer) {
		token := word
		if i > 0 {
			token = " " + word
		}
		if err := onToken(token); err != nil {
			return sb.String(), err
		}
		sb.WriteString(token)
	}
	return sb.String(), nil
}

func (m *scriptedModel) ModelName() string { return "scripted" }

type staticRetriever struct {
	chunks  []domain.ScoredChunk
	err     error
	queries []string
}

func (r *staticRetriever) Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	r.queries = append(r.queries, query)
	return r.chunks, r.err
}
