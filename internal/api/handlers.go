package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MikeSquared-Agency/marquee/internal/conversation"
	"github.com/MikeSquared-Agency/marquee/internal/recommender"
	"github.com/MikeSquared-Agency/marquee/internal/upstream"
)

type messageRequest struct {
	SessionID   string                   `json:"sessionId"`
	Message     string                   `json:"message"`
	Preferences conversation.Preferences `json:"preferences,omitempty"`
}

type recommendResponse struct {
	SessionID       string                      `json:"sessionId"`
	Reply           string                      `json:"reply"`
	Recommendations []recommender.EnrichedResult `json:"recommendations"`
}

func (s *Server) recommend(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "no message provided")
		return
	}

	result, err := s.rec.Recommend(r.Context(), req.SessionID, req.Message, req.Preferences)
	if err != nil {
		s.writeRecommendError(w, err)
		return
	}
	writeResult(w, result)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "no sessionId provided")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "no message provided")
		return
	}

	result, err := s.rec.SendMessage(r.Context(), req.SessionID, req.Message, req.Preferences)
	if err != nil {
		s.writeRecommendError(w, err)
		return
	}
	writeResult(w, result)
}

func writeResult(w http.ResponseWriter, result *recommender.Result) {
	recs := result.Recommendations
	if recs == nil {
		recs = []recommender.EnrichedResult{}
	}
	writeJSON(w, http.StatusOK, recommendResponse{
		SessionID:       result.SessionID,
		Reply:           result.Reply,
		Recommendations: recs,
	})
}

// A generation-phase failure is the only request-level error: the caller gets
// a single error payload and no partial recommendation list. Enrichment
// failures never reach here; they surface as per-item status markers.
func (s *Server) writeRecommendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", "unknown session; start a conversation first")
	case errors.Is(err, upstream.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "generation_unavailable", "the recommendation model is unreachable, try again shortly")
	case errors.Is(err, upstream.ErrRejected):
		writeError(w, http.StatusBadGateway, "generation_rejected", "the recommendation model refused the request")
	case errors.Is(err, upstream.ErrMalformed):
		writeError(w, http.StatusBadGateway, "generation_malformed", "the recommendation model returned an unusable response")
	default:
		s.logger.Error("recommendation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

type startConversationRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) startConversation(w http.ResponseWriter, r *http.Request) {
	var req startConversationRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}
	}

	id, opening, err := s.rec.StartConversation(r.Context(), req.SessionID)
	if err != nil {
		s.logger.Error("start conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"sessionId": id,
		"message":   opening,
	})
}

type clearMemoryRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) clearMemory(w http.ResponseWriter, r *http.Request) {
	var req clearMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "no sessionId provided")
		return
	}

	// Clearing an unknown session is a no-op, so this cannot 404.
	if err := s.sessions.Clear(r.Context(), req.SessionID); err != nil {
		s.logger.Error("clear memory failed", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Memory cleared",
	})
}

func (s *Server) availableModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.models.ListModels(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, upstream.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "models_unavailable", "could not reach the model provider")
		default:
			writeError(w, http.StatusBadGateway, "models_failed", "could not list models")
		}
		return
	}
	if models == nil {
		models = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"models": models})
}

type selectModelRequest struct {
	Model string `json:"model"`
}

func (s *Server) selectModel(w http.ResponseWriter, r *http.Request) {
	var req selectModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "no model provided")
		return
	}

	s.models.SetModel(req.Model)
	s.logger.Info("model selected", "model", req.Model)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Model " + req.Model + " selected",
	})
}
