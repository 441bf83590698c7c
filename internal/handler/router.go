package handler

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/patentops/claimverify/backend/internal/handler/analyze"
	reviewHandler "github.com/patentops/claimverify/backend/internal/handler/review"
	"github.com/patentops/claimverify/backend/internal/handler/stream"
	"github.com/patentops/claimverify/backend/internal/handler/ws"
	middlewarePkg "github.com/patentops/claimverify/backend/internal/middleware"
	aiService "github.com/patentops/claimverify/backend/internal/service/ai"
	"github.com/patentops/claimverify/backend/internal/service/report"
	"github.com/patentops/claimverify/backend/internal/service/verify"
	"github.com/patentops/claimverify/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. verifySvc is nil when the
// generation backend is unconfigured; the API then answers 503 for
// verification routes instead of failing at boot.
func NewRouter(verifySvc *verify.Service, aiSvc *aiService.Service, reports *report.Writer, outputDir string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		if verifySvc == nil || aiSvc == nil {
			api.Get("/models", func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondJSON(w, http.StatusOK, map[string][]string{"models": {}})
			})
			api.HandleFunc("/verify/*", handleUnavailable)
			api.HandleFunc("/analyze", handleUnavailable)
			return
		}

		reviewHandler.New(verifySvc, aiSvc).RegisterRoutes(api)
		analyze.New(aiSvc, reports, outputDir).RegisterRoutes(api)
		ws.New(verifySvc).RegisterRoutes(api)

		streamHandler := stream.New(verifySvc)
		api.Get("/verify/stream/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
			sessionID := chi.URLParam(r, "sessionID")
			message := r.URL.Query().Get("message")

			if err := streamHandler.HandleTurn(r.Context(), w, sessionID, message); err != nil {
				log.Printf("[stream] error handling turn: %v", err)
			}
		})
	})

	// Finished reports are served straight from the output directory.
	fileServer := http.StripPrefix("/reports/", http.FileServer(http.Dir(outputDir)))
	r.Get("/reports/*", func(w http.ResponseWriter, r *http.Request) {
		fileServer.ServeHTTP(w, r)
	})

	return r
}

func handleUnavailable(w http.ResponseWriter, _ *http.Request) {
	utils.RespondError(w, http.StatusServiceUnavailable, "generation backend unavailable")
}
