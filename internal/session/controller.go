// Package session orchestrates the interview session lifecycle.
//
// The controller sequences entitlement checks, the voice-agent handshake,
// stage tracking, elapsed-time ticking, scoring submission, and usage
// reconciliation. Stage transitions are driven by classifier output over
// agent utterances and are strictly monotonic: once a session reaches the
// terminal stage nothing moves it back.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxprep/VoxPrep/internal/models"
	"github.com/voxprep/VoxPrep/internal/store"
	"github.com/voxprep/VoxPrep/internal/util"
)

// Default lifecycle tuning.
const (
	// DefaultScoringDelay is the pause between reaching the terminal stage
	// and submitting the transcript for scoring, giving the voice provider
	// time to flush trailing utterances.
	DefaultScoringDelay = 3 * time.Second
	// DefaultTickInterval drives the elapsed-time counter.
	DefaultTickInterval = time.Second
	// PreChargeUnits is the flat per-session charge taken at start. Actual
	// elapsed minutes are recorded separately as usage events; there is no
	// refund path.
	PreChargeUnits = 1
)

// VoiceGateway is the slice of the voice provider client the controller needs.
type VoiceGateway interface {
	GetSignedURL(ctx context.Context, agentID string) (string, error)
}

// Scorer submits a transcript for feedback.
type Scorer interface {
	Score(ctx context.Context, turns []models.TranscriptTurn) (models.FeedbackRecord, error)
}

// EntitlementGateway is the slice of the entitlement layer the controller needs.
type EntitlementGateway interface {
	GetMinutes(ctx context.Context, userID, agentID string) (int, error)
	DeductMinutes(ctx context.Context, userID, agentID string, amount int) (bool, error)
	RecordUsage(userID, agentID, sessionID string, minutesUsed int)
}

// Notifier delivers a feedback summary out of band. Optional.
type Notifier interface {
	SendFeedbackSummary(ctx context.Context, userID string, rec models.FeedbackRecord) error
}

// activeSession is the in-memory companion of a live stored session: the
// ticking elapsed counter, the accumulated transcript, and the ticker stop
// channel. The ticker only increments the counter and the utterance handler
// only appends turns and reads the counter, both under mu.
type activeSession struct {
	userID  string
	agentID string

	mu      sync.Mutex
	elapsed int
	turns   []models.TranscriptTurn
	stopped bool
	stop    chan struct{}
}

func (a *activeSession) elapsedSeconds() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.elapsed
}

func (a *activeSession) appendTurn(turn models.TranscriptTurn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turns = append(a.turns, turn)
}

func (a *activeSession) transcript() []models.TranscriptTurn {
	a.mu.Lock()
	defer a.mu.Unlock()
	turns := make([]models.TranscriptTurn, len(a.turns))
	copy(turns, a.turns)
	return turns
}

func (a *activeSession) stopTicker() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.stopped {
		a.stopped = true
		close(a.stop)
	}
}

// Controller drives interview sessions end to end.
type Controller struct {
	store        store.Store
	entitlements EntitlementGateway
	voice        VoiceGateway
	scorer       Scorer
	classifier   StageClassifier
	notifier     Notifier
	timer        *SimpleTimer
	scoringDelay time.Duration
	tickInterval time.Duration

	mu     sync.Mutex
	active map[string]*activeSession
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithScoringDelay overrides the completion-to-scoring delay.
func WithScoringDelay(d time.Duration) ControllerOption {
	return func(c *Controller) { c.scoringDelay = d }
}

// WithTickInterval overrides the elapsed-time tick interval, mainly for tests.
func WithTickInterval(d time.Duration) ControllerOption {
	return func(c *Controller) { c.tickInterval = d }
}

// WithNotifier attaches an out-of-band feedback notifier.
func WithNotifier(n Notifier) ControllerOption {
	return func(c *Controller) { c.notifier = n }
}

// WithClassifier replaces the default keyword stage classifier.
func WithClassifier(cl StageClassifier) ControllerOption {
	return func(c *Controller) { c.classifier = cl }
}

// NewController creates a session controller with its dependencies.
func NewController(st store.Store, ent EntitlementGateway, vg VoiceGateway, scorer Scorer, opts ...ControllerOption) *Controller {
	c := &Controller{
		store:        st,
		entitlements: ent,
		voice:        vg,
		scorer:       scorer,
		classifier:   NewKeywordClassifier(),
		timer:        NewSimpleTimer(),
		scoringDelay: DefaultScoringDelay,
		tickInterval: DefaultTickInterval,
		active:       make(map[string]*activeSession),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartResult is returned from StartSession.
type StartResult struct {
	Session   models.InterviewSession `json:"session"`
	SignedURL string                  `json:"signed_url"`
}

// StartSession validates entitlement, opens the voice-agent handshake, takes
// the flat pre-charge, and creates an active session at the intro stage.
// Preconditions: an intake record exists and HasStartedInterview is unset.
// Any entitlement transport error refuses the start; the controller never
// opens a session it cannot charge for.
func (c *Controller) StartSession(ctx context.Context, userID, agentID string) (*StartResult, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	if agentID == "" {
		return nil, models.ErrEmptyAgentID
	}

	intake, err := c.store.GetIntakeRecord(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load intake record: %w", err)
	}
	if intake == nil {
		return nil, models.ErrIntakeRecordMissing
	}

	flags, err := c.store.GetSessionFlags(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session flags: %w", err)
	}
	if flags.HasStartedInterview {
		return nil, models.ErrSessionAlreadyActive
	}
	active, err := c.store.GetActiveSessionForUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for an active session: %w", err)
	}
	if active != nil {
		return nil, models.ErrSessionAlreadyActive
	}

	minutes, err := c.entitlements.GetMinutes(ctx, userID, agentID)
	if err != nil {
		// Entitlement unknown: refuse rather than assume success.
		return nil, fmt.Errorf("entitlement unavailable: %w", err)
	}
	if minutes < PreChargeUnits {
		return nil, models.ErrInsufficientBalance
	}

	signedURL, err := c.voice.GetSignedURL(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to open voice session: %w", err)
	}

	applied, err := c.entitlements.DeductMinutes(ctx, userID, agentID, PreChargeUnits)
	if err != nil {
		return nil, fmt.Errorf("failed to charge session: %w", err)
	}
	if !applied {
		return nil, models.ErrInsufficientBalance
	}

	flags.HasStartedInterview = true
	if err := c.store.SaveSessionFlags(flags); err != nil {
		slog.Error("Controller.StartSession: failed to persist start flag", "error", err, "userID", userID)
	}

	sess := models.InterviewSession{
		ID:        util.GenerateSessionID(),
		UserID:    userID,
		AgentID:   agentID,
		Flow:      intake.Flow,
		Stage:     models.StageIntro,
		Status:    models.SessionStatusActive,
		CreatedAt: time.Now(),
	}
	if err := c.store.SaveSession(sess); err != nil {
		// The pre-charge has already gone through and there is no refund
		// path; release the start flag so a retry is not locked out.
		flags.HasStartedInterview = false
		if flagErr := c.store.SaveSessionFlags(flags); flagErr != nil {
			slog.Error("Controller.StartSession: failed to release start flag after persist failure", "error", flagErr, "userID", userID)
		}
		slog.Error("Controller.StartSession: session persist failed after charge", "error", err, "userID", userID, "agentID", agentID, "chargedUnits", PreChargeUnits)
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	c.startTicker(sess.ID, userID, agentID)

	slog.Info("Controller.StartSession: session started", "sessionID", sess.ID, "userID", userID, "agentID", agentID, "flow", intake.Flow)
	return &StartResult{Session: sess, SignedURL: signedURL}, nil
}

// startTicker registers the in-memory session state and starts the 1-second
// elapsed counter.
func (c *Controller) startTicker(sessionID, userID, agentID string) {
	as := &activeSession{
		userID:  userID,
		agentID: agentID,
		stop:    make(chan struct{}),
	}
	c.mu.Lock()
	c.active[sessionID] = as
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-as.stop:
				return
			case <-ticker.C:
				as.mu.Lock()
				as.elapsed++
				as.mu.Unlock()
			}
		}
	}()
}

func (c *Controller) lookupActive(sessionID string) *activeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[sessionID]
}

func (c *Controller) dropActive(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, sessionID)
}

// HandleUtterance records one conversation turn and, for agent turns, runs
// stage classification. Transitions only ever move forward; an utterance that
// suggests an earlier stage is ignored. Reaching the terminal stage completes
// the session.
func (c *Controller) HandleUtterance(ctx context.Context, sessionID string, turn models.TranscriptTurn) (*models.InterviewSession, error) {
	if err := turn.Validate(); err != nil {
		return nil, err
	}

	sess, err := c.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return nil, models.ErrSessionNotFound
	}
	if sess.Status != models.SessionStatusActive {
		// A finished session accepts no further conversation.
		return sess, nil
	}

	as := c.lookupActive(sessionID)
	if as != nil {
		as.appendTurn(turn)
		sess.ElapsedSeconds = as.elapsedSeconds()
	}

	if turn.Role == models.TurnRoleAgent {
		if suggested := c.classifier.Classify(turn.Message); suggested != "" && models.StageAdvances(sess.Stage, suggested) {
			slog.Debug("Controller.HandleUtterance: stage transition", "sessionID", sessionID, "from", sess.Stage, "to", suggested)
			sess.Stage = suggested
		}
	}

	if sess.Stage.IsTerminal() {
		if err := c.complete(ctx, sess, as); err != nil {
			return nil, err
		}
		return sess, nil
	}

	if err := c.store.SaveSession(*sess); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	return sess, nil
}

// SetConversationID attaches the provider's conversation ID once the client
// has established the voice connection.
func (c *Controller) SetConversationID(ctx context.Context, sessionID, conversationID string) error {
	sess, err := c.store.GetSession(sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return models.ErrSessionNotFound
	}
	sess.ConversationID = conversationID
	return c.store.SaveSession(*sess)
}

// complete finalizes a session that reached the terminal stage: the ticker
// stops, completion flags are set, usage is reconciled, and scoring is
// scheduled after the fixed delay.
func (c *Controller) complete(ctx context.Context, sess *models.InterviewSession, as *activeSession) error {
	if as != nil {
		as.stopTicker()
		sess.ElapsedSeconds = as.elapsedSeconds()
	}
	sess.Status = models.SessionStatusCompleted
	sess.Stage = models.StageComplete
	if err := c.store.SaveSession(*sess); err != nil {
		return fmt.Errorf("failed to persist completed session: %w", err)
	}

	flags, err := c.store.GetSessionFlags(sess.UserID)
	if err == nil {
		flags.InterviewCompleted = true
		if err := c.store.SaveSessionFlags(flags); err != nil {
			slog.Error("Controller.complete: failed to persist completion flag", "error", err, "userID", sess.UserID)
		}
	} else {
		slog.Error("Controller.complete: failed to load flags", "error", err, "userID", sess.UserID)
	}

	c.reconcileUsage(sess)

	var turns []models.TranscriptTurn
	if as != nil {
		turns = as.transcript()
	}
	sessionID := sess.ID
	if _, err := c.timer.ScheduleAfter(c.scoringDelay, func() {
		c.scoreSession(context.Background(), sessionID, turns)
	}); err != nil {
		slog.Error("Controller.complete: failed to schedule scoring", "error", err, "sessionID", sessionID)
	}

	slog.Info("Controller.complete: session completed", "sessionID", sess.ID, "elapsed", sess.ElapsedSeconds)
	return nil
}

// scoreSession runs the scoring forwarder and stores the result. Failures
// degrade to a raw-text record; the user always gets something to read. The
// method tolerates the session having been swept or the caller having
// navigated away in the meantime.
func (c *Controller) scoreSession(ctx context.Context, sessionID string, turns []models.TranscriptTurn) {
	rec, err := c.scorer.Score(ctx, turns)
	if err != nil {
		slog.Error("Controller.scoreSession: scoring failed, storing degraded record", "error", err, "sessionID", sessionID)
		text := "Analysis unavailable: " + err.Error()
		rec = models.FeedbackRecord{FullAnalysis: text, DetailedFeedback: text}
	}

	sess, loadErr := c.store.GetSession(sessionID)
	if loadErr != nil || sess == nil {
		slog.Warn("Controller.scoreSession: session gone before analysis stored", "sessionID", sessionID, "error", loadErr)
		return
	}
	sess.Analysis = &rec
	if err := c.store.SaveSession(*sess); err != nil {
		slog.Error("Controller.scoreSession: failed to persist analysis", "error", err, "sessionID", sessionID)
		return
	}
	c.dropActive(sessionID)

	if c.notifier != nil {
		userID := sess.UserID
		go func() {
			if err := c.notifier.SendFeedbackSummary(context.Background(), userID, rec); err != nil {
				slog.Warn("Controller.scoreSession: feedback notification failed", "error", err, "userID", userID)
			}
		}()
	}
	slog.Info("Controller.scoreSession: analysis stored", "sessionID", sessionID, "score", rec.Score)
}

// EndSession closes a session from the caller's side. An active session that
// never reached the terminal stage is abandoned and its usage reconciled.
// The DisableAutoRedirect flag is set so the next dashboard mount does not
// bounce the user straight back in.
func (c *Controller) EndSession(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	sess, err := c.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return nil, models.ErrSessionNotFound
	}

	as := c.lookupActive(sessionID)
	if as != nil {
		as.stopTicker()
		sess.ElapsedSeconds = as.elapsedSeconds()
	}

	wasActive := sess.Status == models.SessionStatusActive
	if wasActive {
		sess.Status = models.SessionStatusAbandoned
	}
	if err := c.store.SaveSession(*sess); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	if wasActive {
		c.reconcileUsage(sess)
	}
	c.dropActive(sessionID)

	flags, flagErr := c.store.GetSessionFlags(sess.UserID)
	if flagErr == nil {
		flags.DisableAutoRedirect = true
		if err := c.store.SaveSessionFlags(flags); err != nil {
			slog.Error("Controller.EndSession: failed to persist redirect suppression", "error", err, "userID", sess.UserID)
		}
	}

	slog.Info("Controller.EndSession: session ended", "sessionID", sessionID, "status", sess.Status, "elapsed", sess.ElapsedSeconds)
	return sess, nil
}

// Snapshot returns the stored session with the live elapsed counter merged in.
func (c *Controller) Snapshot(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	sess, err := c.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return nil, models.ErrSessionNotFound
	}
	if as := c.lookupActive(sessionID); as != nil && sess.Status == models.SessionStatusActive {
		sess.ElapsedSeconds = as.elapsedSeconds()
	}
	return sess, nil
}

// reconcileUsage records ceil(elapsed/60) minutes of actual usage. This is
// deliberately independent of the flat pre-charge; downstream accounting
// reconciles the two.
func (c *Controller) reconcileUsage(sess *models.InterviewSession) {
	minutes := (sess.ElapsedSeconds + 59) / 60
	if minutes <= 0 {
		return
	}
	c.entitlements.RecordUsage(sess.UserID, sess.AgentID, sess.ID, minutes)
}

// Stop halts all tickers and pending timers, for shutdown.
func (c *Controller) Stop() {
	c.mu.Lock()
	for id, as := range c.active {
		as.stopTicker()
		delete(c.active, id)
	}
	c.mu.Unlock()
	c.timer.Stop()
}
