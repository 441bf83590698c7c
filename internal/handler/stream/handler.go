package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/patentops/claimverify/backend/internal/service/verify"
	"github.com/patentops/claimverify/backend/pkg/utils"
)

// Handler relays verification session turns as Server-Sent Events.
type Handler struct {
	verifySvc *verify.Service
}

// New creates the stream handler.
func New(verifySvc *verify.Service) *Handler {
	return &Handler{verifySvc: verifySvc}
}

// StreamResponse is one SSE frame of a verification turn.
type StreamResponse struct {
	Event     string `json:"event"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Path      string `json:"path,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HandleTurn drives one reviewer message through the session and streams the
// resulting events. The reviewer message may be empty (context-free answer
// request or feedback reminder).
func (h *Handler) HandleTurn(ctx context.Context, w http.ResponseWriter, sessionID, message string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	h.send(w, flusher, StreamResponse{Event: "start", SessionID: sessionID})

	err := h.verifySvc.HandleMessage(ctx, sessionID, message, func(e verify.Event) {
		switch e.Type {
		case verify.EventDelta:
			h.send(w, flusher, StreamResponse{Event: "delta", SessionID: sessionID, Content: e.Content})
		case verify.EventTurn:
			h.send(w, flusher, StreamResponse{Event: "turn", SessionID: sessionID, Role: e.Role, Content: e.Content})
		case verify.EventReport:
			h.send(w, flusher, StreamResponse{Event: "report", SessionID: sessionID, Path: e.Path})
		}
	})
	if err != nil {
		if errors.Is(err, verify.ErrSessionNotFound) {
			// A message with no live session is an informative no-op, not a
			// stream failure.
			h.send(w, flusher, StreamResponse{
				Event:   "turn",
				Role:    "assistant",
				Content: "Please start a verification session first.",
			})
			h.send(w, flusher, StreamResponse{Event: "end", SessionID: sessionID, Finished: true})
			return nil
		}
		h.sendError(w, flusher, err.Error())
		return err
	}

	h.send(w, flusher, StreamResponse{Event: "end", SessionID: sessionID, Finished: true})
	log.Printf("[stream] completed turn for session=%s", sessionID)
	return nil
}

func (h *Handler) send(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	utils.SendSSEChunk(w, flusher, response)
}

func (h *Handler) sendError(w http.ResponseWriter, flusher http.Flusher, message string) {
	h.send(w, flusher, StreamResponse{Event: "error", Error: message})
}
