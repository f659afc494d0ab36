package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/voxprep/VoxPrep/internal/models"
)

// rowScanner abstracts sql.Row and sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSession scans an InterviewSession from a row. The analysis column holds
// a JSON-encoded FeedbackRecord or NULL.
func scanSession(row rowScanner) (models.InterviewSession, error) {
	var sess models.InterviewSession
	var conversationID, analysisJSON sql.NullString
	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.AgentID, &conversationID, &sess.Flow,
		&sess.Stage, &sess.Status, &sess.ElapsedSeconds, &analysisJSON,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return sess, err
	}
	sess.ConversationID = conversationID.String
	if analysisJSON.Valid && analysisJSON.String != "" {
		var analysis models.FeedbackRecord
		if jsonErr := json.Unmarshal([]byte(analysisJSON.String), &analysis); jsonErr != nil {
			return sess, fmt.Errorf("failed to decode session analysis: %w", jsonErr)
		}
		sess.Analysis = &analysis
	}
	return sess, nil
}

// sessionAnalysisValue encodes a session's analysis for storage, or nil when
// scoring has not run.
func sessionAnalysisValue(sess models.InterviewSession) (interface{}, error) {
	if sess.Analysis == nil {
		return nil, nil
	}
	data, err := json.Marshal(sess.Analysis)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session analysis: %w", err)
	}
	return string(data), nil
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
