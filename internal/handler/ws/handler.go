package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/patentops/claimverify/backend/internal/service/verify"
)

// Handler drives a verification session over a websocket connection,
// relaying the same events the SSE endpoint emits.
type Handler struct {
	verifySvc *verify.Service
	upgrader  websocket.Upgrader
}

// New creates the websocket handler.
func New(verifySvc *verify.Service) *Handler {
	return &Handler{
		verifySvc: verifySvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes wires the websocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/verify/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	if _, err := h.verifySvc.GetSession(sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed for session=%s: %v", sessionID, err)
		return
	}
	defer conn.Close()

	log.Printf("[ws] connection opened for session=%s", sessionID)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read error for session=%s: %v", sessionID, err)
			}
			return
		}

		var inbound inboundMessage
		if err := json.Unmarshal(raw, &inbound); err != nil {
			h.write(conn, outgoingMessage{Type: "error", SessionID: sessionID, Error: "invalid message format"})
			continue
		}
		if inbound.Type != "message" {
			h.write(conn, outgoingMessage{Type: "error", SessionID: sessionID, Error: "unsupported message type"})
			continue
		}

		err = h.verifySvc.HandleMessage(r.Context(), sessionID, inbound.Text, func(e verify.Event) {
			h.write(conn, outgoingMessage{
				Type:      string(e.Type),
				SessionID: sessionID,
				Role:      e.Role,
				Content:   e.Content,
				Path:      e.Path,
			})
		})
		if err != nil {
			h.write(conn, outgoingMessage{Type: "error", SessionID: sessionID, Error: err.Error()})
			continue
		}

		h.write(conn, outgoingMessage{Type: "end", SessionID: sessionID})
	}
}

func (h *Handler) write(conn *websocket.Conn, msg outgoingMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[ws] write failed for session=%s: %v", msg.SessionID, err)
	}
}
