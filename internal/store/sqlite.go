// Package store provides storage backends for VoxPrep.
//
// This file implements an SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/voxprep/VoxPrep/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveUserIdentity(identity models.UserIdentity) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO user_identities (user_id, email, first_name, phone) VALUES (?, ?, ?, ?)`,
		identity.ID, identity.Email, identity.FirstName, identity.Phone)
	if err != nil {
		slog.Error("SQLiteStore.SaveUserIdentity failed", "error", err, "userID", identity.ID)
		return fmt.Errorf("failed to save identity for %s: %w", identity.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetUserIdentity(userID string) (*models.UserIdentity, error) {
	var identity models.UserIdentity
	err := s.db.QueryRow(`SELECT user_id, email, first_name, phone FROM user_identities WHERE user_id = ?`, userID).
		Scan(&identity.ID, &identity.Email, &identity.FirstName, &identity.Phone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetUserIdentity failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query identity for %s: %w", userID, err)
	}
	return &identity, nil
}

func (s *SQLiteStore) GetEntitlement(userID, agentID string) (*models.Entitlement, error) {
	var e models.Entitlement
	err := s.db.QueryRow(`SELECT user_id, agent_id, purchase_units, updated_at FROM entitlements WHERE user_id = ? AND agent_id = ?`,
		userID, agentID).Scan(&e.UserID, &e.AgentID, &e.PurchaseUnits, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		// A missing row is a valid zero-balance state, not an error.
		slog.Debug("SQLiteStore.GetEntitlement not found", "userID", userID, "agentID", agentID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetEntitlement failed", "error", err, "userID", userID, "agentID", agentID)
		return nil, fmt.Errorf("failed to query entitlement: %w", err)
	}
	return &e, nil
}

func (s *SQLiteStore) SaveEntitlement(e models.Entitlement) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO entitlements (user_id, agent_id, purchase_units, updated_at) VALUES (?, ?, ?, ?)`,
		e.UserID, e.AgentID, e.PurchaseUnits, time.Now())
	if err != nil {
		slog.Error("SQLiteStore.SaveEntitlement failed", "error", err, "userID", e.UserID, "agentID", e.AgentID)
		return fmt.Errorf("failed to save entitlement: %w", err)
	}
	return nil
}

// DeductEntitlement applies the decrement in a single conditional UPDATE so
// the balance can never go negative.
func (s *SQLiteStore) DeductEntitlement(userID, agentID string, amount int) (bool, error) {
	if amount <= 0 {
		return false, models.ErrInvalidDeductAmount
	}
	res, err := s.db.Exec(`UPDATE entitlements SET purchase_units = purchase_units - ?, updated_at = ?
		WHERE user_id = ? AND agent_id = ? AND purchase_units >= ?`,
		amount, time.Now(), userID, agentID, amount)
	if err != nil {
		slog.Error("SQLiteStore.DeductEntitlement failed", "error", err, "userID", userID, "agentID", agentID)
		return false, fmt.Errorf("failed to deduct entitlement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		slog.Error("SQLiteStore.DeductEntitlement rows affected failed", "error", err)
		return false, fmt.Errorf("failed to confirm deduction: %w", err)
	}
	slog.Debug("SQLiteStore.DeductEntitlement", "userID", userID, "agentID", agentID, "amount", amount, "applied", affected > 0)
	return affected > 0, nil
}

func (s *SQLiteStore) SaveIntakeRecord(userID string, rec models.IntakeRecord) error {
	rec.UpdatedAt = time.Now()
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("SQLiteStore.SaveIntakeRecord marshal failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to encode intake record: %w", err)
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO intake_records (user_id, record, updated_at) VALUES (?, ?, ?)`,
		userID, string(data), rec.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore.SaveIntakeRecord failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to save intake record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetIntakeRecord(userID string) (*models.IntakeRecord, error) {
	var data string
	err := s.db.QueryRow(`SELECT record FROM intake_records WHERE user_id = ?`, userID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetIntakeRecord failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query intake record: %w", err)
	}
	var rec models.IntakeRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		slog.Error("SQLiteStore.GetIntakeRecord unmarshal failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to decode intake record: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteStore) DeleteIntakeRecord(userID string) error {
	_, err := s.db.Exec(`DELETE FROM intake_records WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore.DeleteIntakeRecord failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete intake record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSessionFlags(userID string) (models.SessionFlags, error) {
	flags := models.SessionFlags{UserID: userID}
	err := s.db.QueryRow(`SELECT has_started_interview, interview_completed, disable_auto_redirect, edit_interview_data, auth_error
		FROM session_flags WHERE user_id = ?`, userID).
		Scan(&flags.HasStartedInterview, &flags.InterviewCompleted, &flags.DisableAutoRedirect, &flags.EditInterviewData, &flags.AuthError)
	if err == sql.ErrNoRows {
		return flags, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetSessionFlags failed", "error", err, "userID", userID)
		return flags, fmt.Errorf("failed to query session flags: %w", err)
	}
	return flags, nil
}

func (s *SQLiteStore) SaveSessionFlags(flags models.SessionFlags) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO session_flags
		(user_id, has_started_interview, interview_completed, disable_auto_redirect, edit_interview_data, auth_error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		flags.UserID, flags.HasStartedInterview, flags.InterviewCompleted, flags.DisableAutoRedirect, flags.EditInterviewData, flags.AuthError)
	if err != nil {
		slog.Error("SQLiteStore.SaveSessionFlags failed", "error", err, "userID", flags.UserID)
		return fmt.Errorf("failed to save session flags: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearSessionFlags(userID string) error {
	_, err := s.db.Exec(`DELETE FROM session_flags WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore.ClearSessionFlags failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to clear session flags: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveSession(sess models.InterviewSession) error {
	sess.UpdatedAt = time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.UpdatedAt
	}
	analysis, err := sessionAnalysisValue(sess)
	if err != nil {
		slog.Error("SQLiteStore.SaveSession analysis encode failed", "error", err, "sessionID", sess.ID)
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO interview_sessions
		(id, user_id, agent_id, conversation_id, flow, stage, status, elapsed_seconds, analysis, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.AgentID, nilIfEmpty(sess.ConversationID), sess.Flow,
		sess.Stage, sess.Status, sess.ElapsedSeconds, analysis, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore.SaveSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(sessionID string) (*models.InterviewSession, error) {
	row := s.db.QueryRow(`SELECT id, user_id, agent_id, conversation_id, flow, stage, status, elapsed_seconds, analysis, created_at, updated_at
		FROM interview_sessions WHERE id = ?`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetSession failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query session %s: %w", sessionID, err)
	}
	return &sess, nil
}

func (s *SQLiteStore) GetActiveSessionForUser(userID string) (*models.InterviewSession, error) {
	row := s.db.QueryRow(`SELECT id, user_id, agent_id, conversation_id, flow, stage, status, elapsed_seconds, analysis, created_at, updated_at
		FROM interview_sessions WHERE user_id = ? AND status = ? ORDER BY updated_at DESC LIMIT 1`,
		userID, models.SessionStatusActive)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetActiveSessionForUser failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}
	return &sess, nil
}

func (s *SQLiteStore) ListActiveSessionsBefore(cutoff time.Time) ([]models.InterviewSession, error) {
	rows, err := s.db.Query(`SELECT id, user_id, agent_id, conversation_id, flow, stage, status, elapsed_seconds, analysis, created_at, updated_at
		FROM interview_sessions WHERE status = ? AND updated_at < ?`,
		models.SessionStatusActive, cutoff)
	if err != nil {
		slog.Error("SQLiteStore.ListActiveSessionsBefore query failed", "error", err)
		return nil, fmt.Errorf("failed to query stale sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.InterviewSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			slog.Error("SQLiteStore.ListActiveSessionsBefore scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore.ListActiveSessionsBefore rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return sessions, nil
}

func (s *SQLiteStore) AddUsageEvent(ev models.UsageEvent) error {
	_, err := s.db.Exec(`INSERT INTO usage_events (id, user_id, agent_id, session_id, minutes_used, event_time) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, ev.AgentID, ev.SessionID, ev.MinutesUsed, ev.Time)
	if err != nil {
		slog.Error("SQLiteStore.AddUsageEvent failed", "error", err, "userID", ev.UserID)
		return fmt.Errorf("failed to insert usage event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUsageEvents(userID string) ([]models.UsageEvent, error) {
	rows, err := s.db.Query(`SELECT id, user_id, agent_id, session_id, minutes_used, event_time FROM usage_events WHERE user_id = ? ORDER BY event_time`, userID)
	if err != nil {
		slog.Error("SQLiteStore.GetUsageEvents query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query usage events: %w", err)
	}
	defer rows.Close()

	var events []models.UsageEvent
	for rows.Next() {
		var ev models.UsageEvent
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.AgentID, &ev.SessionID, &ev.MinutesUsed, &ev.Time); err != nil {
			slog.Error("SQLiteStore.GetUsageEvents scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan usage event row: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore.GetUsageEvents rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate usage event rows: %w", err)
	}
	return events, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
