package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxprep/VoxPrep/internal/models"
)

// DefaultStaleAfter is how long an active session may go without an update
// before the sweeper abandons it.
const DefaultStaleAfter = 30 * time.Minute

// RecoverSessions abandons sessions left active by a previous process. The
// elapsed counters and transcripts of those sessions lived in memory, so
// nothing useful can be resumed; usage is reconciled from the last persisted
// elapsed value. Called once at startup.
func (c *Controller) RecoverSessions(ctx context.Context) error {
	return c.abandonActiveBefore(ctx, time.Now(), "recovery")
}

// SweepStale abandons active sessions whose last update is older than
// staleAfter. Sessions with a live ticker in this process are skipped; a
// silent but connected caller is not stale.
func (c *Controller) SweepStale(ctx context.Context, staleAfter time.Duration) error {
	return c.abandonActiveBefore(ctx, time.Now().Add(-staleAfter), "sweep")
}

func (c *Controller) abandonActiveBefore(ctx context.Context, cutoff time.Time, cause string) error {
	sessions, err := c.store.ListActiveSessionsBefore(cutoff)
	if err != nil {
		return fmt.Errorf("failed to list stale sessions: %w", err)
	}

	abandoned := 0
	for _, sess := range sessions {
		if cause == "sweep" && c.lookupActive(sess.ID) != nil {
			continue
		}
		sess.Status = models.SessionStatusAbandoned
		if err := c.store.SaveSession(sess); err != nil {
			slog.Error("Controller.abandonActiveBefore: failed to persist abandoned session", "error", err, "sessionID", sess.ID, "cause", cause)
			continue
		}
		c.reconcileUsage(&sess)

		// Free the user to start again: the start flag guards the current
		// session, which no longer exists.
		flags, flagErr := c.store.GetSessionFlags(sess.UserID)
		if flagErr == nil && flags.HasStartedInterview && !flags.InterviewCompleted {
			flags.HasStartedInterview = false
			if err := c.store.SaveSessionFlags(flags); err != nil {
				slog.Error("Controller.abandonActiveBefore: failed to reset start flag", "error", err, "userID", sess.UserID)
			}
		}
		abandoned++
	}

	if abandoned > 0 {
		slog.Info("Controller.abandonActiveBefore: abandoned stale sessions", "count", abandoned, "cause", cause)
	}
	return nil
}
