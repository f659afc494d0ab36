// Package entitlement mediates access to per-(user, agent) minute balances.
//
// Two concurrency rules live here rather than in the store: reads for the
// same (user, agent) pair are coalesced so a burst of dashboard fetches
// issues one query, and deductions for the same pair are serialized so two
// near-simultaneous session starts can never double-spend a one-unit
// balance.
package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxprep/VoxPrep/internal/models"
	"github.com/voxprep/VoxPrep/internal/store"
	"github.com/voxprep/VoxPrep/internal/util"
	"golang.org/x/sync/singleflight"
)

// Gateway is the entitlement access layer over a Store.
type Gateway struct {
	store store.Store
	reads singleflight.Group

	mu      sync.Mutex
	deducts map[string]*sync.Mutex
}

// NewGateway creates an entitlement gateway backed by the given store.
func NewGateway(st store.Store) *Gateway {
	return &Gateway{
		store:   st,
		deducts: make(map[string]*sync.Mutex),
	}
}

func pairKey(userID, agentID string) string {
	return userID + "\x00" + agentID
}

// deductLock returns the mutex serializing deductions for one pair.
func (g *Gateway) deductLock(userID, agentID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := pairKey(userID, agentID)
	lock, ok := g.deducts[key]
	if !ok {
		lock = &sync.Mutex{}
		g.deducts[key] = lock
	}
	return lock
}

// GetMinutes returns the usable minutes for the pair. A missing entitlement
// row reads as zero; only transport errors surface as errors, and callers
// must treat those as "entitlement unknown" and refuse to start paid work.
// Concurrent fetches for the same pair share one underlying query.
func (g *Gateway) GetMinutes(ctx context.Context, userID, agentID string) (int, error) {
	if userID == "" {
		return 0, models.ErrEmptyUserID
	}
	if agentID == "" {
		return 0, models.ErrEmptyAgentID
	}

	v, err, shared := g.reads.Do(pairKey(userID, agentID), func() (interface{}, error) {
		e, err := g.store.GetEntitlement(userID, agentID)
		if err != nil {
			return 0, err
		}
		if e == nil {
			return 0, nil
		}
		return e.PurchaseUnits, nil
	})
	if err != nil {
		slog.Error("Gateway.GetMinutes failed", "error", err, "userID", userID, "agentID", agentID)
		return 0, fmt.Errorf("failed to fetch minutes: %w", err)
	}
	slog.Debug("Gateway.GetMinutes", "userID", userID, "agentID", agentID, "minutes", v.(int), "coalesced", shared)
	return v.(int), nil
}

// DeductMinutes decrements the balance by amount iff the result stays
// non-negative. It reports whether the deduction applied; an insufficient
// balance is a false return, not an error, and leaves the balance unchanged.
// At most one deduction per pair is in flight at a time.
func (g *Gateway) DeductMinutes(ctx context.Context, userID, agentID string, amount int) (bool, error) {
	if userID == "" {
		return false, models.ErrEmptyUserID
	}
	if agentID == "" {
		return false, models.ErrEmptyAgentID
	}
	if amount <= 0 {
		return false, models.ErrInvalidDeductAmount
	}

	lock := g.deductLock(userID, agentID)
	lock.Lock()
	defer lock.Unlock()

	applied, err := g.store.DeductEntitlement(userID, agentID, amount)
	if err != nil {
		slog.Error("Gateway.DeductMinutes failed", "error", err, "userID", userID, "agentID", agentID, "amount", amount)
		return false, fmt.Errorf("failed to deduct minutes: %w", err)
	}
	if !applied {
		slog.Warn("Gateway.DeductMinutes refused: insufficient balance", "userID", userID, "agentID", agentID, "amount", amount)
		return false, nil
	}
	slog.Info("Gateway.DeductMinutes applied", "userID", userID, "agentID", agentID, "amount", amount)
	return true, nil
}

// RecordUsage appends a usage accounting event asynchronously. Failures are
// logged and never block or fail the caller.
func (g *Gateway) RecordUsage(userID, agentID, sessionID string, minutesUsed int) {
	if minutesUsed <= 0 {
		return
	}
	ev := models.UsageEvent{
		ID:          util.GenerateUsageEventID(),
		UserID:      userID,
		AgentID:     agentID,
		SessionID:   sessionID,
		MinutesUsed: minutesUsed,
		Time:        time.Now(),
	}
	go func() {
		if err := g.store.AddUsageEvent(ev); err != nil {
			slog.Error("Gateway.RecordUsage failed", "error", err, "userID", userID, "agentID", agentID, "minutes", minutesUsed)
			return
		}
		slog.Debug("Gateway.RecordUsage recorded", "userID", userID, "agentID", agentID, "minutes", minutesUsed)
	}()
}
