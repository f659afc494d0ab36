// Package store provides storage backends for VoxPrep.
//
// This file implements the in-memory store used by tests and by deployments
// that run without a database DSN.
package store

import (
	"sync"
	"time"

	"github.com/voxprep/VoxPrep/internal/models"
)

// InMemoryStore is a mutex-guarded map-backed Store implementation.
type InMemoryStore struct {
	mu           sync.RWMutex
	identities   map[string]models.UserIdentity
	entitlements map[string]models.Entitlement // keyed userID + "\x00" + agentID
	intakes      map[string]models.IntakeRecord
	flags        map[string]models.SessionFlags
	sessions     map[string]models.InterviewSession
	usage        []models.UsageEvent
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		identities:   make(map[string]models.UserIdentity),
		entitlements: make(map[string]models.Entitlement),
		intakes:      make(map[string]models.IntakeRecord),
		flags:        make(map[string]models.SessionFlags),
		sessions:     make(map[string]models.InterviewSession),
	}
}

func entitlementKey(userID, agentID string) string {
	return userID + "\x00" + agentID
}

// SaveUserIdentity mirrors an auth-provider identity.
func (s *InMemoryStore) SaveUserIdentity(identity models.UserIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[identity.ID] = identity
	return nil
}

// GetUserIdentity returns a mirrored identity, or nil if none was saved.
func (s *InMemoryStore) GetUserIdentity(userID string) (*models.UserIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[userID]
	if !ok {
		return nil, nil
	}
	return &identity, nil
}

// GetEntitlement returns the entitlement row, or nil for a zero-balance user.
func (s *InMemoryStore) GetEntitlement(userID, agentID string) (*models.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entitlements[entitlementKey(userID, agentID)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// SaveEntitlement inserts or replaces an entitlement row.
func (s *InMemoryStore) SaveEntitlement(e models.Entitlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.UpdatedAt = time.Now()
	s.entitlements[entitlementKey(e.UserID, e.AgentID)] = e
	return nil
}

// DeductEntitlement decrements the balance iff it stays non-negative.
func (s *InMemoryStore) DeductEntitlement(userID, agentID string, amount int) (bool, error) {
	if amount <= 0 {
		return false, models.ErrInvalidDeductAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entitlementKey(userID, agentID)
	e, ok := s.entitlements[key]
	if !ok || e.PurchaseUnits < amount {
		return false, nil
	}
	e.PurchaseUnits -= amount
	e.UpdatedAt = time.Now()
	s.entitlements[key] = e
	return true, nil
}

// SaveIntakeRecord stores or overwrites the user's intake record.
func (s *InMemoryStore) SaveIntakeRecord(userID string, rec models.IntakeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.UpdatedAt = time.Now()
	s.intakes[userID] = rec
	return nil
}

// GetIntakeRecord returns the intake record, or nil if none exists.
func (s *InMemoryStore) GetIntakeRecord(userID string) (*models.IntakeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.intakes[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// DeleteIntakeRecord removes the intake record. Deleting a missing record is
// not an error.
func (s *InMemoryStore) DeleteIntakeRecord(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.intakes, userID)
	return nil
}

// GetSessionFlags returns the user's flags; a user with no saved flags gets
// the zero value.
func (s *InMemoryStore) GetSessionFlags(userID string) (models.SessionFlags, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flags, ok := s.flags[userID]
	if !ok {
		return models.SessionFlags{UserID: userID}, nil
	}
	return flags, nil
}

// SaveSessionFlags stores or replaces the user's flag set.
func (s *InMemoryStore) SaveSessionFlags(flags models.SessionFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[flags.UserID] = flags
	return nil
}

// ClearSessionFlags removes all flags for a user.
func (s *InMemoryStore) ClearSessionFlags(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flags, userID)
	return nil
}

// SaveSession stores or replaces an interview session.
func (s *InMemoryStore) SaveSession(sess models.InterviewSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.UpdatedAt = time.Now()
	s.sessions[sess.ID] = sess
	return nil
}

// GetSession returns a session by ID, or nil if none exists.
func (s *InMemoryStore) GetSession(sessionID string) (*models.InterviewSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// GetActiveSessionForUser returns the user's active session, or nil.
func (s *InMemoryStore) GetActiveSessionForUser(userID string) (*models.InterviewSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Status == models.SessionStatusActive {
			found := sess
			return &found, nil
		}
	}
	return nil, nil
}

// ListActiveSessionsBefore returns active sessions last updated before the
// cutoff, for the stale-session sweep.
func (s *InMemoryStore) ListActiveSessionsBefore(cutoff time.Time) ([]models.InterviewSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stale []models.InterviewSession
	for _, sess := range s.sessions {
		if sess.Status == models.SessionStatusActive && sess.UpdatedAt.Before(cutoff) {
			stale = append(stale, sess)
		}
	}
	return stale, nil
}

// AddUsageEvent appends a usage accounting event.
func (s *InMemoryStore) AddUsageEvent(ev models.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, ev)
	return nil
}

// GetUsageEvents returns all usage events for a user in insertion order.
func (s *InMemoryStore) GetUsageEvents(userID string) ([]models.UsageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []models.UsageEvent
	for _, ev := range s.usage {
		if ev.UserID == userID {
			events = append(events, ev)
		}
	}
	return events, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
