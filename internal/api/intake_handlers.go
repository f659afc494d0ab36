// Package api provides intake record and session flag handlers for VoxPrep.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/voxprep/VoxPrep/internal/models"
)

// intakeHandler dispatches /intake by method: save, fetch, or clear the
// caller's intake record.
func (s *Server) intakeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodPost:
		s.saveIntakeHandler(w, r)
	case http.MethodGet:
		s.getIntakeHandler(w, r)
	case http.MethodDelete:
		s.deleteIntakeHandler(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// saveIntakeHandler stores or overwrites the caller's intake record. Edits
// reuse the same path; the record is replaced in place.
func (s *Server) saveIntakeHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	var rec models.IntakeRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		slog.Warn("Server.saveIntakeHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := rec.Validate(); err != nil {
		slog.Warn("Server.saveIntakeHandler: validation failed", "error", err, "flow", rec.Flow)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.st.SaveIntakeRecord(userID, rec); err != nil {
		slog.Error("Server.saveIntakeHandler: failed to save record", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save interview details"))
		return
	}

	// Saving intake ends any edit session.
	flags, err := s.st.GetSessionFlags(userID)
	if err == nil && flags.EditInterviewData {
		flags.EditInterviewData = false
		if err := s.st.SaveSessionFlags(flags); err != nil {
			slog.Warn("Server.saveIntakeHandler: failed to clear edit flag", "error", err, "userID", userID)
		}
	}

	slog.Info("Server.saveIntakeHandler: intake record saved", "userID", userID, "flow", rec.Flow)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Interview details saved", rec))
}

// getIntakeHandler returns the caller's intake record, 404 when absent.
func (s *Server) getIntakeHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	rec, err := s.st.GetIntakeRecord(userID)
	if err != nil {
		slog.Error("Server.getIntakeHandler: failed to load record", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load interview details"))
		return
	}
	if rec == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("No interview details found"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

// deleteIntakeHandler clears the caller's intake record.
func (s *Server) deleteIntakeHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	if err := s.st.DeleteIntakeRecord(userID); err != nil {
		slog.Error("Server.deleteIntakeHandler: failed to delete record", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete interview details"))
		return
	}

	slog.Info("Server.deleteIntakeHandler: intake record deleted", "userID", userID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Interview details deleted", nil))
}

// flagsUpdateRequest carries partial session flag updates; nil fields are
// left untouched.
type flagsUpdateRequest struct {
	HasStartedInterview *bool   `json:"hasStartedInterview"`
	InterviewCompleted  *bool   `json:"interviewCompleted"`
	DisableAutoRedirect *bool   `json:"disableAutoRedirect"`
	EditInterviewData   *bool   `json:"editInterviewData"`
	AuthError           *string `json:"authError"`
}

// flagsHandler dispatches /flags by method: read, partially update, or clear
// the caller's session flags.
func (s *Server) flagsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	userID := userIDFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		flags, err := s.st.GetSessionFlags(userID)
		if err != nil {
			slog.Error("Server.flagsHandler: failed to load flags", "error", err, "userID", userID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session flags"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(flags))

	case http.MethodPost:
		var req flagsUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Warn("Server.flagsHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}

		flags, err := s.st.GetSessionFlags(userID)
		if err != nil {
			slog.Error("Server.flagsHandler: failed to load flags", "error", err, "userID", userID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session flags"))
			return
		}
		if req.HasStartedInterview != nil {
			flags.HasStartedInterview = *req.HasStartedInterview
		}
		if req.InterviewCompleted != nil {
			flags.InterviewCompleted = *req.InterviewCompleted
		}
		if req.DisableAutoRedirect != nil {
			flags.DisableAutoRedirect = *req.DisableAutoRedirect
		}
		if req.EditInterviewData != nil {
			flags.EditInterviewData = *req.EditInterviewData
		}
		if req.AuthError != nil {
			flags.AuthError = *req.AuthError
		}
		flags.UserID = userID

		if err := s.st.SaveSessionFlags(flags); err != nil {
			slog.Error("Server.flagsHandler: failed to save flags", "error", err, "userID", userID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save session flags"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flags updated", flags))

	case http.MethodDelete:
		if err := s.st.ClearSessionFlags(userID); err != nil {
			slog.Error("Server.flagsHandler: failed to clear flags", "error", err, "userID", userID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to clear session flags"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flags cleared", nil))

	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
