// Package store provides storage backends for VoxPrep.
//
// It includes an in-memory store for tests and development, plus SQLite and
// PostgreSQL implementations for persistent deployments. The store owns all
// state the product keeps per user: intake records, session lifecycle flags,
// entitlement balances, interview sessions, and usage events.
package store

import (
	"strings"
	"time"

	"github.com/voxprep/VoxPrep/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite3" so callers can
// pick the matching backend. File paths are assumed to be SQLite.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// Store defines the persistence operations VoxPrep components rely on.
//
// Lookup methods return (nil, nil) when no row exists: a missing entitlement
// is a valid zero-balance state, a missing intake record means the user has
// not filled the form, and neither is a transport error.
type Store interface {
	// Identity mirror
	SaveUserIdentity(identity models.UserIdentity) error
	GetUserIdentity(userID string) (*models.UserIdentity, error)

	// Entitlements
	GetEntitlement(userID, agentID string) (*models.Entitlement, error)
	SaveEntitlement(e models.Entitlement) error
	// DeductEntitlement atomically decrements the balance iff the result
	// stays non-negative. It reports whether the deduction applied.
	DeductEntitlement(userID, agentID string, amount int) (bool, error)

	// Intake records
	SaveIntakeRecord(userID string, rec models.IntakeRecord) error
	GetIntakeRecord(userID string) (*models.IntakeRecord, error)
	DeleteIntakeRecord(userID string) error

	// Session lifecycle flags
	GetSessionFlags(userID string) (models.SessionFlags, error)
	SaveSessionFlags(flags models.SessionFlags) error
	ClearSessionFlags(userID string) error

	// Interview sessions
	SaveSession(sess models.InterviewSession) error
	GetSession(sessionID string) (*models.InterviewSession, error)
	GetActiveSessionForUser(userID string) (*models.InterviewSession, error)
	ListActiveSessionsBefore(cutoff time.Time) ([]models.InterviewSession, error)

	// Usage accounting
	AddUsageEvent(ev models.UsageEvent) error
	GetUsageEvents(userID string) ([]models.UsageEvent, error)

	Close() error
}
