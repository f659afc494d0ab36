// Package store provides storage backends for VoxPrep.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/voxprep/VoxPrep/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveUserIdentity(identity models.UserIdentity) error {
	_, err := s.db.Exec(`INSERT INTO user_identities (user_id, email, first_name, phone) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET email = EXCLUDED.email, first_name = EXCLUDED.first_name, phone = EXCLUDED.phone`,
		identity.ID, identity.Email, identity.FirstName, identity.Phone)
	if err != nil {
		slog.Error("PostgresStore.SaveUserIdentity failed", "error", err, "userID", identity.ID)
		return fmt.Errorf("failed to save identity for %s: %w", identity.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetUserIdentity(userID string) (*models.UserIdentity, error) {
	var identity models.UserIdentity
	err := s.db.QueryRow(`SELECT user_id, email, first_name, phone FROM user_identities WHERE user_id = $1`, userID).
		Scan(&identity.ID, &identity.Email, &identity.FirstName, &identity.Phone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetUserIdentity failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query identity for %s: %w", userID, err)
	}
	return &identity, nil
}

func (s *PostgresStore) GetEntitlement(userID, agentID string) (*models.Entitlement, error) {
	var e models.Entitlement
	err := s.db.QueryRow(`SELECT user_id, agent_id, purchase_units, updated_at FROM entitlements WHERE user_id = $1 AND agent_id = $2`,
		userID, agentID).Scan(&e.UserID, &e.AgentID, &e.PurchaseUnits, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore.GetEntitlement not found", "userID", userID, "agentID", agentID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetEntitlement failed", "error", err, "userID", userID, "agentID", agentID)
		return nil, fmt.Errorf("failed to query entitlement: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) SaveEntitlement(e models.Entitlement) error {
	_, err := s.db.Exec(`INSERT INTO entitlements (user_id, agent_id, purchase_units, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, agent_id) DO UPDATE SET purchase_units = EXCLUDED.purchase_units, updated_at = EXCLUDED.updated_at`,
		e.UserID, e.AgentID, e.PurchaseUnits, time.Now())
	if err != nil {
		slog.Error("PostgresStore.SaveEntitlement failed", "error", err, "userID", e.UserID, "agentID", e.AgentID)
		return fmt.Errorf("failed to save entitlement: %w", err)
	}
	return nil
}

// DeductEntitlement applies the decrement in a single conditional UPDATE so
// the balance can never go negative.
func (s *PostgresStore) DeductEntitlement(userID, agentID string, amount int) (bool, error) {
	if amount <= 0 {
		return false, models.ErrInvalidDeductAmount
	}
	res, err := s.db.Exec(`UPDATE entitlements SET purchase_units = purchase_units - $1, updated_at = $2
		WHERE user_id = $3 AND agent_id = $4 AND purchase_units >= $1`,
		amount, time.Now(), userID, agentID)
	if err != nil {
		slog.Error("PostgresStore.DeductEntitlement failed", "error", err, "userID", userID, "agentID", agentID)
		return false, fmt.Errorf("failed to deduct entitlement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		slog.Error("PostgresStore.DeductEntitlement rows affected failed", "error", err)
		return false, fmt.Errorf("failed to confirm deduction: %w", err)
	}
	slog.Debug("PostgresStore.DeductEntitlement", "userID", userID, "agentID", agentID, "amount", amount, "applied", affected > 0)
	return affected > 0, nil
}

func (s *PostgresStore) SaveIntakeRecord(userID string, rec models.IntakeRecord) error {
	rec.UpdatedAt = time.Now()
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("PostgresStore.SaveIntakeRecord marshal failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to encode intake record: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO intake_records (user_id, record, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at`,
		userID, string(data), rec.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore.SaveIntakeRecord failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to save intake record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetIntakeRecord(userID string) (*models.IntakeRecord, error) {
	var data string
	err := s.db.QueryRow(`SELECT record FROM intake_records WHERE user_id = $1`, userID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetIntakeRecord failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query intake record: %w", err)
	}
	var rec models.IntakeRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		slog.Error("PostgresStore.GetIntakeRecord unmarshal failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to decode intake record: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) DeleteIntakeRecord(userID string) error {
	_, err := s.db.Exec(`DELETE FROM intake_records WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore.DeleteIntakeRecord failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete intake record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSessionFlags(userID string) (models.SessionFlags, error) {
	flags := models.SessionFlags{UserID: userID}
	err := s.db.QueryRow(`SELECT has_started_interview, interview_completed, disable_auto_redirect, edit_interview_data, auth_error
		FROM session_flags WHERE user_id = $1`, userID).
		Scan(&flags.HasStartedInterview, &flags.InterviewCompleted, &flags.DisableAutoRedirect, &flags.EditInterviewData, &flags.AuthError)
	if err == sql.ErrNoRows {
		return flags, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetSessionFlags failed", "error", err, "userID", userID)
		return flags, fmt.Errorf("failed to query session flags: %w", err)
	}
	return flags, nil
}

func (s *PostgresStore) SaveSessionFlags(flags models.SessionFlags) error {
	_, err := s.db.Exec(`INSERT INTO session_flags
		(user_id, has_started_interview, interview_completed, disable_auto_redirect, edit_interview_data, auth_error)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			has_started_interview = EXCLUDED.has_started_interview,
			interview_completed = EXCLUDED.interview_completed,
			disable_auto_redirect = EXCLUDED.disable_auto_redirect,
			edit_interview_data = EXCLUDED.edit_interview_data,
			auth_error = EXCLUDED.auth_error`,
		flags.UserID, flags.HasStartedInterview, flags.InterviewCompleted, flags.DisableAutoRedirect, flags.EditInterviewData, flags.AuthError)
	if err != nil {
		slog.Error("PostgresStore.SaveSessionFlags failed", "error", err, "userID", flags.UserID)
		return fmt.Errorf("failed to save session flags: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearSessionFlags(userID string) error {
	_, err := s.db.Exec(`DELETE FROM session_flags WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore.ClearSessionFlags failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to clear session flags: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveSession(sess models.InterviewSession) error {
	sess.UpdatedAt = time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.UpdatedAt
	}
	analysis, err := sessionAnalysisValue(sess)
	if err != nil {
		slog.Error("PostgresStore.SaveSession analysis encode failed", "error", err, "sessionID", sess.ID)
		return err
	}
	_, err = s.db.Exec(`INSERT INTO interview_sessions
		(id, user_id, agent_id, conversation_id, flow, stage, status, elapsed_seconds, analysis, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			conversation_id = EXCLUDED.conversation_id,
			stage = EXCLUDED.stage,
			status = EXCLUDED.status,
			elapsed_seconds = EXCLUDED.elapsed_seconds,
			analysis = EXCLUDED.analysis,
			updated_at = EXCLUDED.updated_at`,
		sess.ID, sess.UserID, sess.AgentID, nilIfEmpty(sess.ConversationID), sess.Flow,
		sess.Stage, sess.Status, sess.ElapsedSeconds, analysis, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore.SaveSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetSession(sessionID string) (*models.InterviewSession, error) {
	row := s.db.QueryRow(`SELECT id, user_id, agent_id, conversation_id, flow, stage, status, elapsed_seconds, analysis, created_at, updated_at
		FROM interview_sessions WHERE id = $1`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetSession failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query session %s: %w", sessionID, err)
	}
	return &sess, nil
}

func (s *PostgresStore) GetActiveSessionForUser(userID string) (*models.InterviewSession, error) {
	row := s.db.QueryRow(`SELECT id, user_id, agent_id, conversation_id, flow, stage, status, elapsed_seconds, analysis, created_at, updated_at
		FROM interview_sessions WHERE user_id = $1 AND status = $2 ORDER BY updated_at DESC LIMIT 1`,
		userID, models.SessionStatusActive)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetActiveSessionForUser failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}
	return &sess, nil
}

func (s *PostgresStore) ListActiveSessionsBefore(cutoff time.Time) ([]models.InterviewSession, error) {
	rows, err := s.db.Query(`SELECT id, user_id, agent_id, conversation_id, flow, stage, status, elapsed_seconds, analysis, created_at, updated_at
		FROM interview_sessions WHERE status = $1 AND updated_at < $2`,
		models.SessionStatusActive, cutoff)
	if err != nil {
		slog.Error("PostgresStore.ListActiveSessionsBefore query failed", "error", err)
		return nil, fmt.Errorf("failed to query stale sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.InterviewSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			slog.Error("PostgresStore.ListActiveSessionsBefore scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore.ListActiveSessionsBefore rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return sessions, nil
}

func (s *PostgresStore) AddUsageEvent(ev models.UsageEvent) error {
	_, err := s.db.Exec(`INSERT INTO usage_events (id, user_id, agent_id, session_id, minutes_used, event_time) VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.UserID, ev.AgentID, ev.SessionID, ev.MinutesUsed, ev.Time)
	if err != nil {
		slog.Error("PostgresStore.AddUsageEvent failed", "error", err, "userID", ev.UserID)
		return fmt.Errorf("failed to insert usage event: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUsageEvents(userID string) ([]models.UsageEvent, error) {
	rows, err := s.db.Query(`SELECT id, user_id, agent_id, session_id, minutes_used, event_time FROM usage_events WHERE user_id = $1 ORDER BY event_time`, userID)
	if err != nil {
		slog.Error("PostgresStore.GetUsageEvents query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query usage events: %w", err)
	}
	defer rows.Close()

	var events []models.UsageEvent
	for rows.Next() {
		var ev models.UsageEvent
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.AgentID, &ev.SessionID, &ev.MinutesUsed, &ev.Time); err != nil {
			slog.Error("PostgresStore.GetUsageEvents scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan usage event row: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore.GetUsageEvents rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate usage event rows: %w", err)
	}
	return events, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
