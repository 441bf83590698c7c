package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/patentops/claimverify/backend/pkg/utils"
)

// AnalysisStreamer produces the comparative disclosure-vs-claims analysis
// stream.
type AnalysisStreamer interface {
	StreamAnalysis(ctx context.Context, disclosure, claims, extra, modelID string) (*schema.StreamReader[*schema.Message], error)
}

// AnalysisSink persists the finished analysis text.
type AnalysisSink interface {
	WriteAnalysis(path, analysis string) (string, error)
}

// Handler streams the comparative analysis and saves the report on success.
type Handler struct {
	streamer  AnalysisStreamer
	sink      AnalysisSink
	outputDir string
}

// New creates the analysis handler.
func New(streamer AnalysisStreamer, sink AnalysisSink, outputDir string) *Handler {
	return &Handler{streamer: streamer, sink: sink, outputDir: outputDir}
}

// RegisterRoutes wires the analysis route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/analyze", h.handleAnalyze)
}

type analyzeRequest struct {
	DisclosureText string `json:"disclosureText"`
	ClaimText      string `json:"claimText"`
	ExtraText      string `json:"extraText"`
	Model          string `json:"model"`
}

type frame struct {
	Event    string `json:"event"`
	Content  string `json:"content,omitempty"`
	Path     string `json:"path,omitempty"`
	Finished bool   `json:"finished,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var payload analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.DisclosureText == "" {
		utils.RespondError(w, http.StatusBadRequest, "disclosureText is required")
		return
	}
	if payload.ClaimText == "" {
		utils.RespondError(w, http.StatusBadRequest, "claimText is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	utils.SendSSEChunk(w, flusher, frame{Event: "start"})

	stream, err := h.streamer.StreamAnalysis(r.Context(), payload.DisclosureText, payload.ClaimText, payload.ExtraText, payload.Model)
	if err != nil {
		utils.SendSSEChunk(w, flusher, frame{Event: "error", Error: fmt.Sprintf("analysis failed: %v", err)})
		return
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			utils.SendSSEChunk(w, flusher, frame{Event: "error", Error: fmt.Sprintf("analysis failed: %v", recvErr)})
			return
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			utils.SendSSEChunk(w, flusher, frame{Event: "delta", Content: chunk.Content})
		}
	}

	analysis, err := schema.ConcatMessages(chunks)
	if err != nil {
		utils.SendSSEChunk(w, flusher, frame{Event: "error", Error: fmt.Sprintf("analysis failed: %v", err)})
		return
	}

	path := filepath.Join(h.outputDir, fmt.Sprintf("analysis_%s.md", time.Now().UTC().Format("20060102_150405")))
	location, err := h.sink.WriteAnalysis(path, analysis.Content)
	if err != nil {
		log.Printf("[analyze] report write failed: %v", err)
		utils.SendSSEChunk(w, flusher, frame{Event: "error", Error: fmt.Sprintf("failed to save analysis report: %v", err)})
	} else {
		utils.SendSSEChunk(w, flusher, frame{Event: "report", Path: location})
	}

	utils.SendSSEChunk(w, flusher, frame{Event: "end", Finished: true})
}
