// Package models defines interview session state structures for VoxPrep.
package models

import "time"

// InterviewStage is the authoritative lifecycle stage of an interview
// session. The stage only ever moves forward; StageComplete is terminal.
type InterviewStage string

const (
	// StageIntro is entered when a session is opened successfully.
	StageIntro InterviewStage = "intro"
	// StagePurpose covers the purpose-of-visit portion of the conversation.
	StagePurpose InterviewStage = "purpose"
	// StageBackground covers personal and professional background questions.
	StageBackground InterviewStage = "background"
	// StageDetails covers specifics such as employer, finances, or speciality.
	StageDetails InterviewStage = "details"
	// StageComplete is the terminal stage; no transition leaves it.
	StageComplete InterviewStage = "complete"
)

// IsValidStage checks if the given stage is known.
func IsValidStage(s InterviewStage) bool {
	switch s {
	case StageIntro, StagePurpose, StageBackground, StageDetails, StageComplete:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the stage ends the session lifecycle.
func (s InterviewStage) IsTerminal() bool {
	return s == StageComplete
}

// stageRank orders stages so that classifier output can never move a session
// backwards or out of the terminal stage.
var stageRank = map[InterviewStage]int{
	StageIntro:      0,
	StagePurpose:    1,
	StageBackground: 2,
	StageDetails:    3,
	StageComplete:   4,
}

// StageAdvances reports whether moving from one stage to another is a legal
// forward transition.
func StageAdvances(from, to InterviewStage) bool {
	if from.IsTerminal() {
		return false
	}
	return stageRank[to] > stageRank[from]
}

// SessionStatus reflects how an interview session ended, if it has.
type SessionStatus string

const (
	// SessionStatusActive indicates the conversation is ongoing.
	SessionStatusActive SessionStatus = "active"
	// SessionStatusCompleted indicates the session reached the terminal stage.
	SessionStatusCompleted SessionStatus = "completed"
	// SessionStatusAbandoned indicates the session was ended or swept before
	// reaching the terminal stage.
	SessionStatusAbandoned SessionStatus = "abandoned"
)

// InterviewSession tracks one live or finished interview conversation.
// Analysis is nil until scoring has run.
type InterviewSession struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	AgentID        string          `json:"agent_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Flow           InterviewFlow   `json:"flow"`
	Stage          InterviewStage  `json:"stage"`
	Status         SessionStatus   `json:"status"`
	ElapsedSeconds int             `json:"elapsed_seconds"`
	Analysis       *FeedbackRecord `json:"analysis,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SessionFlags is the per-user session lifecycle flag set. The front end
// reads and writes these keys verbatim; the flag names are part of the
// external contract.
type SessionFlags struct {
	UserID string `json:"user_id"`
	// HasStartedInterview is set once minutes have been deducted for the
	// current intake record. It prevents double charging across reloads.
	HasStartedInterview bool `json:"hasStartedInterview"`
	// InterviewCompleted is set when the session reaches the terminal stage.
	InterviewCompleted bool `json:"interviewCompleted"`
	// DisableAutoRedirect suppresses the resolver immediately after an
	// intentional exit from the interview page.
	DisableAutoRedirect bool `json:"disableAutoRedirect"`
	// EditInterviewData forces the dashboard to reopen the intake form
	// pre-filled with the existing record.
	EditInterviewData bool `json:"editInterviewData"`
	// AuthError caches the last auth failure message for one-time display.
	AuthError string `json:"authError,omitempty"`
}

// NavigationAction is a redirect resolver verdict.
type NavigationAction string

const (
	// NavigationNone means the dashboard should stay put.
	NavigationNone NavigationAction = "none"
	// NavigationRedirect means the client should forward into the interview route.
	NavigationRedirect NavigationAction = "redirect"
)

// NavigationDecision is the resolver output returned to the dashboard.
type NavigationDecision struct {
	Action NavigationAction `json:"action"`
	// Target is the interview route to forward to when Action is redirect.
	Target string `json:"target,omitempty"`
	// DelayMS is the grace delay before the client should navigate.
	DelayMS int `json:"delay_ms,omitempty"`
	// WelcomeBack is set when completion flags were just cleared, for the
	// one-time banner.
	WelcomeBack bool `json:"welcome_back,omitempty"`
	// Reason names the matched decision rule, for logging and debugging.
	Reason string `json:"reason,omitempty"`
}
