package review

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/patentops/claimverify/backend/internal/service/verify"
)

// ModelSource lists the generation models a reviewer may select.
type ModelSource interface {
	Models() []string
}

// Handler exposes verification session management over REST.
type Handler struct {
	verifySvc *verify.Service
	models    ModelSource
}

// New creates the review handler.
func New(verifySvc *verify.Service, models ModelSource) *Handler {
	return &Handler{verifySvc: verifySvc, models: models}
}

// RegisterRoutes wires the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/verify/session", h.handleStart)
	r.Get("/verify/session/{sessionID}", h.handleGetSession)
	r.Get("/verify/session/{sessionID}/transcript", h.handleTranscript)
	r.Get("/models", h.handleModels)
}

// handleStart creates a verification session positioned at the first
// question. Configuration problems come back as 400 diagnostics and no
// session is created.
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Questions      []string `json:"questions"`
		Model          string   `json:"model"`
		DisclosureText string   `json:"disclosureText"`
		ExtraText      string   `json:"extraText"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, transcript, err := h.verifySvc.Start(r.Context(), verify.StartParams{
		Questions:  payload.Questions,
		Model:      payload.Model,
		Disclosure: payload.DisclosureText,
		Extra:      payload.ExtraText,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"session":    session,
		"transcript": transcript,
	})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.verifySvc.GetSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	transcript, err := h.verifySvc.Transcript(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transcript)
}

func (h *Handler) handleModels(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{"models": h.models.Models()})
}

func respondSessionError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, verify.ErrSessionNotFound) {
		status = http.StatusNotFound
	}
	respondError(w, status, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
