package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ragchat/internal/adapter/memstore"
	"ragchat/internal/domain"
)

func newTestMemory() *memstore.SessionMemory {
	return memstore.NewSessionMemory(memstore.NewMemoryStore(), "session", "chat_history", 20)
}

func testChunks() []domain.ScoredChunk {
	return []domain.ScoredChunk{
		{Chunk: domain.Chunk{ID: "1", Text: "Go was designed at Google."}, Score: 0.9},
		{Chunk: domain.Chunk{ID: "2", Text: "Go 1.0 shipped in 2012."}, Score: 0.8},
	}
}

func TestChainFirstTurnStreamsAnswer(t *testing.T) {
	ctx := context.Background()
	model := &scriptedModel{answer: "Google designed Go."}
	retriever := &staticRetriever{chunks: testChunks()}
	memory := newTestMemory()

	chain, err := NewConversationalRetrievalChain(model, retriever)
	if err != nil {
		t.Fatal(err)
	}

	var tokens []string
	result, err := chain.Run(ctx, "Who made Go?", memory, func(token string) error {
		tokens = append(tokens, token)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if strings.Join(tokens, "") != "Google designed Go." {
		t.Errorf("unexpected streamed tokens %q", tokens)
	}
	if len(tokens) != 3 {
		t.Errorf("expected 3 tokens, got %d", len(tokens))
	}
	if result.Answer != "Google designed Go." {
		t.Errorf("unexpected answer %q", result.Answer)
	}
	if len(model.generated) != 0 {
		t.Error("question should not be condensed without history")
	}
	if retriever.queries[0] != "Who made Go?" {
		t.Errorf("expected retrieval with original question, got %q", retriever.queries[0])
	}

	prompt := model.streamed[0]
	if !strings.Contains(prompt, "Go was designed at Google.\n\nGo 1.0 shipped in 2012.") {
		t.Errorf("expected joined context in QA prompt, got:\n%s", prompt)
	}
	if !strings.HasSuffix(prompt, "Question: Who made Go?\nHelpful Answer:") {
		t.Errorf("unexpected QA prompt ending:\n%s", prompt)
	}

	history, _ := memory.History(ctx)
	if len(history) != 1 || history[0].Question != "Who made Go?" || history[0].Answer != "Google designed Go." {
		t.Errorf("expected the turn saved to memory, got %+v", history)
	}
}

func TestChainCondensesFollowUp(t *testing.T) {
	ctx := context.Background()
	memory := newTestMemory()
	if err := memory.SaveTurn(ctx, domain.Turn{Question: "What is Go?", Answer: "A language."}); err != nil {
		t.Fatal(err)
	}

	model := &scriptedModel{answer: "Google.", condensed: "  Who created the Go language?\n"}
	retriever := &staticRetriever{chunks: testChunks()}
	chain, err := NewConversationalRetrievalChain(model, retriever)
	if err != nil {
		t.Fatal(err)
	}

	result, err := chain.Run(ctx, "Who made it?", memory, func(string) error { return nil })
	if err != nil {
		t.Fatal(err)
	}

	if len(model.generated) != 1 {
		t.Fatalf("expected one condense call, got %d", len(model.generated))
	}
	condensePrompt := model.generated[0]
	if !strings.Contains(condensePrompt, "Chat History:\nHuman: What is Go?\nAssistant: A language.\nFollow Up Input: Who made it?") {
		t.Errorf("unexpected condense prompt:\n%s", condensePrompt)
	}

	if result.StandaloneQuestion != "Who created the Go language?" {
		t.Errorf("unexpected standalone question %q", result.StandaloneQuestion)
	}
	if retriever.queries[0] != "Who created the Go language?" {
		t.Errorf("expected retrieval with standalone question, got %q", retriever.queries[0])
	}

	history, _ := memory.History(ctx)
	if len(history) != 2 || history[1].Question != "Who made it?" {
		t.Errorf("expected original question saved, got %+v", history)
	}
}

func TestChainErrors(t *testing.T) {
	ctx := context.Background()
	noop := func(string) error { return nil }

	t.Run("retrieval", func(t *testing.T) {
		boom := errors.New("embedding failed")
		chain, _ := NewConversationalRetrievalChain(&scriptedModel{}, &staticRetriever{err: boom})
		memory := newTestMemory()

		if _, err := chain.Run(ctx, "q", memory, noop); !errors.Is(err, boom) {
			t.Errorf("expected retrieval error, got %v", err)
		}
		if history, _ := memory.History(ctx); len(history) != 0 {
			t.Error("failed turn must not be saved")
		}
	})

	t.Run("stream", func(t *testing.T) {
		boom := errors.New("401")
		chain, _ := NewConversationalRetrievalChain(&scriptedModel{streamErr: boom}, &staticRetriever{})
		if _, err := chain.Run(ctx, "q", newTestMemory(), noop); !errors.Is(err, boom) {
			t.Errorf("expected stream error, got %v", err)
		}
	})

	t.Run("handler abort", func(t *testing.T) {
		stop := errors.New("client gone")
		chain, _ := NewConversationalRetrievalChain(&scriptedModel{answer: "a b c"}, &staticRetriever{})
		_, err := chain.Run(ctx, "q", newTestMemory(), func(string) error { return stop })
		if !errors.Is(err, stop) {
			t.Errorf("expected handler error, got %v", err)
		}
	})

	t.Run("empty question", func(t *testing.T) {
		chain, _ := NewConversationalRetrievalChain(&scriptedModel{}, &staticRetriever{})
		if _, err := chain.Run(ctx, "  ", newTestMemory(), noop); !errors.Is(err, ErrEmptyQuestion) {
			t.Errorf("expected ErrEmptyQuestion, got %v", err)
		}
	})
}

func TestQuestionFromMessages(t *testing.T) {
	tests := []struct {
		name     string
		messages []domain.Message
		want     string
		wantErr  error
	}{
		{"no messages", nil, "", ErrNoMessages},
		{"blank last", []domain.Message{{Role: domain.RoleUser, Content: "hi"}, {Role: domain.RoleUser, Content: " "}}, "", ErrEmptyQuestion},
		{"last wins", []domain.Message{{Role: domain.RoleUser, Content: "first"}, {Role: domain.RoleUser, Content: " second "}}, "second", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := QuestionFromMessages(tc.messages)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected error %v, got %v", tc.wantErr, err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestChainRejectsPromptWithUnknownVariable(t *testing.T) {
	qa, err := ParsePrompt("qa", "{{.context}} {{.unknown}}")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewConversationalRetrievalChain(&scriptedModel{}, &staticRetriever{}, WithQAPrompt(qa)); err == nil {
		t.Error("expected error for qa prompt with unknown variable")
	}

	condense, err := ParsePrompt("condense", "{{.history}} {{.question}}")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewConversationalRetrievalChain(&scriptedModel{}, &staticRetriever{}, WithCondensePrompt(condense)); err == nil {
		t.Error("expected error for condense prompt with unknown variable")
	}
}

func TestChainCustomPrompts(t *testing.T) {
	ctx := context.Background()
	memory := newTestMemory()
	if err := memory.SaveTurn(ctx, domain.Turn{Question: "What is Go?", Answer: "A language."}); err != nil {
		t.Fatal(err)
	}

	condense, _ := ParsePrompt("condense", "H={{.chat_history}} Q={{.question}}")
	qa, _ := ParsePrompt("qa", "C={{.context}} Q={{.question}}")
	model := &scriptedModel{answer: "ok", condensed: "standalone"}
	chain, err := NewConversationalRetrievalChain(model, &staticRetriever{chunks: testChunks()},
		WithCondensePrompt(condense), WithQAPrompt(qa))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := chain.Run(ctx, "Who made it?", memory, func(string) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if model.generated[0] != "H=Human: What is Go?\nAssistant: A language. Q=Who made it?" {
		t.Errorf("unexpected condense prompt %q", model.generated[0])
	}
	if !strings.HasPrefix(model.streamed[0], "C=Go was designed at Google.") || !strings.HasSuffix(model.streamed[0], "Q=standalone") {
		t.Errorf("unexpected qa prompt %q", model.streamed[0])
	}
}

func TestChainFollowUpWithCustomMemoryKey(t *testing.T) {
	ctx := context.Background()
	memory := memstore.NewSessionMemory(memstore.NewMemoryStore(), "session", "history", 20)
	if err := memory.SaveTurn(ctx, domain.Turn{Question: "What is Go?", Answer: "A language."}); err != nil {
		t.Fatal(err)
	}

	model := &scriptedModel{answer: "Google.", condensed: "Who created Go?"}
	chain, err := NewConversationalRetrievalChain(model, &staticRetriever{chunks: testChunks()})
	if err != nil {
		t.Fatal(err)
	}

	result, err := chain.Run(ctx, "Who made it?", memory, func(string) error { return nil })
	if err != nil {
		t.Fatalf("follow-up with memory key %q failed: %v", memory.Key(), err)
	}
	if result.StandaloneQuestion != "Who created Go?" {
		t.Errorf("unexpected standalone question %q", result.StandaloneQuestion)
	}
	if !strings.Contains(model.generated[0], "Human: What is Go?") {
		t.Errorf("expected history in condense prompt, got:\n%s", model.generated[0])
	}
}
