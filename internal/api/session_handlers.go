// Package api provides interview session lifecycle handlers for VoxPrep.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/voxprep/VoxPrep/internal/models"
)

// startSessionRequest is the body of POST /sessions/start.
type startSessionRequest struct {
	AgentID string `json:"agentId"`
}

// startSessionHandler handles POST /sessions/start.
func (s *Server) startSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := userIDFromContext(r.Context())

	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.startSessionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.AgentID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: agentId"))
		return
	}

	result, err := s.sessions.StartSession(r.Context(), userID, req.AgentID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrIntakeRecordMissing):
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Interview details must be submitted before starting"))
		case errors.Is(err, models.ErrSessionAlreadyActive):
			writeJSONResponse(w, http.StatusConflict, models.Error("An interview has already been started"))
		case errors.Is(err, models.ErrInsufficientBalance):
			writeJSONResponse(w, http.StatusConflict, models.Error("Insufficient interview minutes"))
		default:
			slog.Error("Server.startSessionHandler: failed to start session", "error", err, "userID", userID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start interview session"))
		}
		return
	}

	slog.Info("Server.startSessionHandler: session started", "sessionID", result.Session.ID, "userID", userID)
	writeJSONResponse(w, http.StatusCreated, models.Success(result))
}

// utteranceRequest is the body of POST /sessions/{id}/utterance. Source is
// "agent" or "user".
type utteranceRequest struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// conversationIDRequest is the body of POST /sessions/{id}/conversation.
type conversationIDRequest struct {
	ConversationID string `json:"conversationId"`
}

// sessionSubrouteHandler dispatches /sessions/{id} and its sub-paths.
func (s *Server) sessionSubrouteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	sessionID := segments[0]

	// The session must exist and belong to the caller; a foreign session is
	// indistinguishable from a missing one.
	sess, err := s.sessions.Snapshot(r.Context(), sessionID)
	if err != nil && !errors.Is(err, models.ErrSessionNotFound) {
		slog.Error("Server.sessionSubrouteHandler: failed to load session", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	if sess == nil || sess.UserID != userIDFromContext(r.Context()) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}

	switch {
	case len(segments) == 1:
		s.getSessionHandler(w, r, sess)
	case len(segments) == 2 && segments[1] == "utterance":
		s.utteranceHandler(w, r, sessionID)
	case len(segments) == 2 && segments[1] == "end":
		s.endSessionHandler(w, r, sessionID)
	case len(segments) == 2 && segments[1] == "conversation":
		s.setConversationIDHandler(w, r, sessionID)
	default:
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown session operation"))
	}
}

// getSessionHandler handles GET /sessions/{id}.
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request, sess *models.InterviewSession) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess))
}

// utteranceHandler handles POST /sessions/{id}/utterance.
func (s *Server) utteranceHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req utteranceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.utteranceHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	turn := models.TranscriptTurn{Role: models.TurnRole(req.Source), Message: req.Message}
	sess, err := s.sessions.HandleUtterance(r.Context(), sessionID, turn)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidTurnRole),
			errors.Is(err, models.ErrEmptyTurnMessage),
			errors.Is(err, models.ErrUtteranceTooLong):
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		case errors.Is(err, models.ErrSessionNotFound):
			writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		default:
			slog.Error("Server.utteranceHandler: failed to record utterance", "error", err, "sessionID", sessionID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to record utterance"))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(sess))
}

// endSessionHandler handles POST /sessions/{id}/end.
func (s *Server) endSessionHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sess, err := s.sessions.EndSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
			return
		}
		slog.Error("Server.endSessionHandler: failed to end session", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to end session"))
		return
	}

	slog.Info("Server.endSessionHandler: session ended", "sessionID", sessionID, "status", sess.Status)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session ended", sess))
}

// setConversationIDHandler handles POST /sessions/{id}/conversation.
func (s *Server) setConversationIDHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req conversationIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ConversationID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: conversationId"))
		return
	}

	if err := s.sessions.SetConversationID(r.Context(), sessionID, req.ConversationID); err != nil {
		slog.Error("Server.setConversationIDHandler: failed to set conversation ID", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to attach conversation"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation attached", nil))
}

// entitlementsHandler handles GET /entitlements?agentId=.
func (s *Server) entitlementsHandler(w http.ResponseWriter, r *http.Request) {
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
	userID := userIDFromContext(r.Context())

	minutes, err := s.entitlements.GetMinutes(r.Context(), userID, agentID)
	if err != nil {
		slog.Error("Server.entitlementsHandler: failed to read balance", "error", err, "userID", userID, "agentID", agentID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read entitlement balance"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"agentId": agentID,
		"minutes": minutes,
	}))
}

// usageHandler handles GET /usage: the caller's usage events in time order.
func (s *Server) usageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := userIDFromContext(r.Context())

	events, err := s.st.GetUsageEvents(userID)
	if err != nil {
		slog.Error("Server.usageHandler: failed to read usage events", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read usage history"))
		return
	}
	if events == nil {
		events = []models.UsageEvent{}
	}

	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"events": events,
	}))
}

// navigationHandler handles GET /navigation?path=.
func (s *Server) navigationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := userIDFromContext(r.Context())
	path := r.URL.Query().Get("path")

	decision, err := s.navigator.Resolve(r.Context(), userID, path)
	if err != nil {
		slog.Error("Server.navigationHandler: resolver failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to resolve navigation"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(decision))
}
