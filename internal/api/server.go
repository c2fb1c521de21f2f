package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/marquee/internal/conversation"
	"github.com/MikeSquared-Agency/marquee/internal/recommender"
)

// Recommender is the orchestration surface the API drives.
type Recommender interface {
	Recommend(ctx context.Context, sessionID, message string, prefs conversation.Preferences) (*recommender.Result, error)
	SendMessage(ctx context.Context, sessionID, message string, prefs conversation.Preferences) (*recommender.Result, error)
	StartConversation(ctx context.Context, sessionID string) (string, string, error)
}

// ModelSwitcher exposes the generation client's model controls.
type ModelSwitcher interface {
	ListModels(ctx context.Context) ([]string, error)
	Model() string
	SetModel(model string)
}

type Server struct {
	router   *chi.Mux
	port     int
	rec      Recommender
	sessions conversation.Store
	models   ModelSwitcher
	logger   *slog.Logger
}

func NewServer(port int, apiToken string, rec Recommender, sessions conversation.Store, models ModelSwitcher, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		rec:      rec,
		sessions: sessions,
		models:   models,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/marquee/status", s.status)
	router.Post("/recommend", s.recommend)

	router.Route("/api", func(r chi.Router) {
		r.Post("/start-conversation", s.startConversation)
		r.Post("/send-message", s.sendMessage)
		r.Post("/clear-memory", s.clearMemory)

		// Model management is operator surface, not viewer surface.
		r.Group(func(r chi.Router) {
			r.Use(BearerAuthMiddleware(apiToken))
			r.Get("/available-models", s.availableModels)
			r.Post("/select-model", s.selectModel)
		})
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// BearerAuthMiddleware requires "Authorization: Bearer <token>" when a token
// is configured. An empty token disables the check, which keeps local
// development friction-free.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
				if got != token {
					writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "marquee",
		"status":  "ok",
		"model":   s.models.Model(),
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, kind, message string) {
	writeJSON(w, code, map[string]string{"error": kind, "message": message})
}
