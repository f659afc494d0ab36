// Package navigation implements the dashboard redirect resolver.
//
// The resolver answers one question for a freshly mounted dashboard: should
// this user be forwarded into the interview page right now? It evaluates an
// ordered decision table over the user's session flags and intake record;
// the first matching rule wins. Some rules clear state as a side effect, so
// every decision is served at most once.
package navigation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxprep/VoxPrep/internal/models"
	"github.com/voxprep/VoxPrep/internal/store"
)

// Interview routes by flow.
const (
	VisaInterviewRoute       = "/visa-interview"
	HealthcareInterviewRoute = "/healthcare-interview"
)

const (
	// DefaultRedirectDelayMS is the grace delay handed to the client before
	// it should navigate, leaving room for the dashboard to paint.
	DefaultRedirectDelayMS = 1500

	// Flag reads race with flag writes from a session that ended a moment
	// ago. A bounded retry with backoff absorbs transient store errors.
	maxAttempts    = 3
	initialBackoff = 50 * time.Millisecond
)

// Resolver decides dashboard navigation from stored per-user state.
type Resolver struct {
	store           store.Store
	redirectDelayMS int
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithRedirectDelayMS overrides the client-side navigation grace delay.
func WithRedirectDelayMS(ms int) ResolverOption {
	return func(r *Resolver) { r.redirectDelayMS = ms }
}

// NewResolver creates a navigation resolver backed by the given store.
func NewResolver(st store.Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:           st,
		redirectDelayMS: DefaultRedirectDelayMS,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// isDashboardPath reports whether the caller sits on a bare dashboard path,
// the only place auto-forwarding is allowed from.
func isDashboardPath(path string) bool {
	return path == "" || path == "/" || path == "/dashboard"
}

// interviewRoute maps an intake flow to its interview page.
func interviewRoute(flow models.InterviewFlow) string {
	if flow == models.FlowHealthcare {
		return HealthcareInterviewRoute
	}
	return VisaInterviewRoute
}

// Resolve evaluates the decision table for one user and path. Rules, first
// match wins:
//
//  1. DisableAutoRedirect set: the user just left an interview on purpose.
//     All flags and the intake record are cleared; no redirect.
//  2. InterviewCompleted set: the interview finished while the user was away
//     or they returned after completion. Completion state and the intake
//     record are cleared; no redirect, one-time welcome-back notice.
//  3. An intake record exists, the caller is on a bare dashboard path, and no
//     suppression flag is set: forward into the flow's interview route after
//     a short delay.
//  4. Otherwise stay put.
func (r *Resolver) Resolve(ctx context.Context, userID, path string) (models.NavigationDecision, error) {
	if userID == "" {
		return models.NavigationDecision{}, models.ErrEmptyUserID
	}

	flags, err := r.getFlagsWithRetry(ctx, userID)
	if err != nil {
		return models.NavigationDecision{}, fmt.Errorf("failed to load session flags: %w", err)
	}

	if flags.DisableAutoRedirect {
		if err := r.clearUserState(userID); err != nil {
			return models.NavigationDecision{}, err
		}
		slog.Debug("Resolver.Resolve: redirect suppressed after intentional exit", "userID", userID)
		return models.NavigationDecision{Action: models.NavigationNone, Reason: "redirect_suppressed"}, nil
	}

	if flags.InterviewCompleted {
		if err := r.clearUserState(userID); err != nil {
			return models.NavigationDecision{}, err
		}
		slog.Debug("Resolver.Resolve: completion state cleared", "userID", userID)
		return models.NavigationDecision{Action: models.NavigationNone, WelcomeBack: true, Reason: "interview_completed"}, nil
	}

	if !isDashboardPath(path) {
		return models.NavigationDecision{Action: models.NavigationNone, Reason: "not_dashboard"}, nil
	}
	if flags.EditInterviewData {
		// The user deep-linked into the edit form; never yank them out of it.
		return models.NavigationDecision{Action: models.NavigationNone, Reason: "editing_intake"}, nil
	}

	intake, err := r.store.GetIntakeRecord(userID)
	if err != nil {
		return models.NavigationDecision{}, fmt.Errorf("failed to load intake record: %w", err)
	}
	if intake == nil {
		return models.NavigationDecision{Action: models.NavigationNone, Reason: "no_intake_record"}, nil
	}

	target := interviewRoute(intake.Flow)
	slog.Debug("Resolver.Resolve: forwarding to interview", "userID", userID, "target", target)
	return models.NavigationDecision{
		Action:  models.NavigationRedirect,
		Target:  target,
		DelayMS: r.redirectDelayMS,
		Reason:  "intake_ready",
	}, nil
}

// getFlagsWithRetry reads flags with a bounded retry so a store hiccup during
// a concurrent flag write does not surface as a hard failure.
func (r *Resolver) getFlagsWithRetry(ctx context.Context, userID string) (models.SessionFlags, error) {
	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		flags, err := r.store.GetSessionFlags(userID)
		if err == nil {
			return flags, nil
		}
		lastErr = err
		slog.Warn("Resolver.getFlagsWithRetry: flag read failed", "error", err, "attempt", attempt, "userID", userID)
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return models.SessionFlags{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return models.SessionFlags{}, lastErr
}

// clearUserState wipes flags and the intake record together; a half-cleared
// user would loop back into rule 3 on the next mount.
func (r *Resolver) clearUserState(userID string) error {
	if err := r.store.ClearSessionFlags(userID); err != nil {
		return fmt.Errorf("failed to clear session flags: %w", err)
	}
	if err := r.store.DeleteIntakeRecord(userID); err != nil {
		return fmt.Errorf("failed to delete intake record: %w", err)
	}
	return nil
}
