// Package api provides HTTP handlers for the public VoxPrep endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/voxprep/VoxPrep/internal/models"
	"github.com/voxprep/VoxPrep/internal/voice"
)

// healthHandler reports liveness and store reachability.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, err := s.st.GetUserIdentity("health-probe"); err != nil {
		slog.Error("Server.healthHandler: store unreachable", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Store unreachable"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}

// analyzeConversationRequest is the scoring request body.
type analyzeConversationRequest struct {
	Transcript []models.TranscriptTurn `json:"transcript"`
}

// analyzeConversationHandler handles POST /analyzeConversation. It scores a
// full transcript and returns the structured feedback.
func (s *Server) analyzeConversationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.analyzeConversationHandler: processing request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req analyzeConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.analyzeConversationHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := models.ValidateTranscript(req.Transcript); err != nil {
		slog.Warn("Server.analyzeConversationHandler: invalid transcript", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if s.scorer == nil {
		slog.Error("Server.analyzeConversationHandler: scorer not configured")
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Scoring is not configured"))
		return
	}

	feedback, err := s.scorer.Score(r.Context(), req.Transcript)
	if err != nil {
		slog.Error("Server.analyzeConversationHandler: scoring failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to analyze conversation"))
		return
	}

	slog.Info("Server.analyzeConversationHandler: transcript analyzed", "turns", len(req.Transcript), "score", feedback.Score)
	writeJSONResponse(w, http.StatusOK, models.Success(feedback))
}

// getSignedURLHandler handles GET /getSignedUrl. It returns the provider's
// signed WebSocket URL unenveloped, matching the client contract.
func (s *Server) getSignedURLHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	agentID := r.URL.Query().Get("agentId")
	if agentID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required parameter: agentId"))
		return
	}

	signedURL, err := s.voice.GetSignedURL(r.Context(), agentID)
	if err != nil {
		status, msg := voiceErrorStatus(err)
		slog.Error("Server.getSignedURLHandler: provider call failed", "error", err, "agentID", agentID)
		writeJSONResponse(w, status, models.Error(msg))
		return
	}

	body, _ := json.Marshal(map[string]string{"signedUrl": signedURL})
	writeRawJSON(w, http.StatusOK, body)
}

// conversationDetailsHandler handles GET /conversationDetails. The provider's
// JSON is passed through untouched; an x-api-key header overrides the
// configured provider key.
func (s *Server) conversationDetailsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conversationID := r.URL.Query().Get("conversationId")
	if conversationID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required parameter: conversationId"))
		return
	}
	apiKeyOverride := r.Header.Get("x-api-key")

	details, err := s.voice.GetConversationDetails(r.Context(), conversationID, apiKeyOverride)
	if err != nil {
		status, msg := voiceErrorStatus(err)
		slog.Error("Server.conversationDetailsHandler: provider call failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, status, models.Error(msg))
		return
	}

	writeRawJSON(w, http.StatusOK, details)
}

// voiceErrorStatus maps a voice client error to an HTTP status and message.
// Upstream statuses pass through; everything else is a 500.
func voiceErrorStatus(err error) (int, string) {
	var provErr *voice.ProviderError
	if errors.As(err, &provErr) {
		return provErr.StatusCode, provErr.Message
	}
	return http.StatusInternalServerError, "Voice provider request failed"
}
