package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"ragchat/internal/adapter/memstore"
	"ragchat/internal/domain"
	"ragchat/internal/usecase"
)

const (
	headerSessionID  = "X-Session-Id"
	trailerStreamErr = "X-Stream-Error"
	msgErrProcessing = "Error Processing"
	maxChatBodyBytes = 1 << 20
)

type chatRequest struct {
	Messages  []domain.Message `json:"messages"`
	SessionID string           `json:"sessionId,omitempty"`
}

// chainEvent is either a streamed token, or the terminal outcome of the
// chain when done is set.
type chainEvent struct {
	token string
	done  bool
	err   error
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxChatBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	question, err := usecase.QuestionFromMessages(req.Messages)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := req.SessionID
	fresh := sessionID == ""
	if fresh {
		sessionID = uuid.NewString()
	}
	logger := s.logger.With("session_id", sessionID)

	memory := memstore.NewSessionMemory(s.sessions, sessionID, s.cfg.Memory.Key, s.cfg.Memory.MaxTurns)
	// A known session is answered from stored history, otherwise the
	// history carried by the request seeds the new session.
	if fresh {
		prior := memstore.TurnsFromMessages(req.Messages[:len(req.Messages)-1])
		if err := memory.Seed(r.Context(), prior); err != nil {
			logger.Error("failed to seed session", "error", err)
			writeError(w, http.StatusInternalServerError, msgErrProcessing)
			return
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := s.runChain(ctx, question, memory)

	w.Header().Set(headerSessionID, sessionID)

	first, ok := <-events
	if !ok {
		writeError(w, http.StatusInternalServerError, msgErrProcessing)
		return
	}
	if first.err != nil {
		logger.Error("chain failed before streaming", "error", first.err)
		writeError(w, http.StatusInternalServerError, msgErrProcessing)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "no-cache")
	h.Set("Trailer", trailerStreamErr)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	write := func(token string) error {
		if _, err := io.WriteString(w, token); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	ev := first
	for {
		if ev.done {
			if ev.err != nil {
				logger.Error("chain failed while streaming", "error", ev.err)
				h.Set(trailerStreamErr, ev.err.Error())
			}
			return
		}
		if err := write(ev.token); err != nil {
			logger.Warn("client write failed", "error", err)
			return
		}

		ev, ok = <-events
		if !ok {
			return
		}
	}
}

// runChain starts the chain in its own goroutine. The returned channel
// yields each token, then one done event, then is closed. Sends give up
// once ctx is cancelled, so an abandoned channel does not leak the
// goroutine.
func (s *Server) runChain(ctx context.Context, question string, memory *memstore.SessionMemory) <-chan chainEvent {
	events := make(chan chainEvent)

	send := func(ev chainEvent) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		defer close(events)

		var err error
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("chain panic: %v", p)
			}
			send(chainEvent{done: true, err: err})
		}()

		_, err = s.chain.Run(ctx, question, memory, func(token string) error {
			return send(chainEvent{token: token})
		})
	}()

	return events
}
