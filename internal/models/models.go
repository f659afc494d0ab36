// Package models defines the core data structures for VoxPrep.
//
// It includes types for interview intake records, transcripts, feedback, and
// entitlements, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// InterviewFlow identifies which interview track an intake record belongs to.
type InterviewFlow string

const (
	// FlowVisa is the mock visa interview track.
	FlowVisa InterviewFlow = "visa"
	// FlowHealthcare is the mock healthcare job interview track.
	FlowHealthcare InterviewFlow = "healthcare"
)

// Validation constants for input validation
const (
	// MaxNameLength defines the maximum allowed length for a participant name
	MaxNameLength = 200
	// MaxFieldLength defines the maximum allowed length for free-text intake fields
	MaxFieldLength = 500
	// MaxTranscriptTurns defines the maximum number of transcript turns accepted per scoring call
	MaxTranscriptTurns = 500
	// MaxUtteranceLength defines the maximum allowed length for a single transcript message
	MaxUtteranceLength = 8192
)

// Error variables for better error handling and testability
var (
	ErrInvalidFlow          = errors.New("invalid interview flow")
	ErrEmptyName            = errors.New("name cannot be empty")
	ErrNameTooLong          = errors.New("name exceeds maximum length")
	ErrMissingVisaType      = errors.New("visa type is required for visa interviews")
	ErrMissingCountry       = errors.New("origin and destination countries are required for visa interviews")
	ErrMissingJobTitle      = errors.New("job title is required for healthcare interviews")
	ErrMissingSpeciality    = errors.New("care speciality is required for healthcare interviews")
	ErrEmptyTranscript      = errors.New("transcript is required")
	ErrTranscriptTooLong    = errors.New("transcript exceeds maximum turn count")
	ErrInvalidTurnRole      = errors.New("transcript turn has an invalid role")
	ErrEmptyTurnMessage     = errors.New("transcript turn message cannot be empty")
	ErrUtteranceTooLong     = errors.New("transcript turn message exceeds maximum length")
	ErrEmptyUserID          = errors.New("user id cannot be empty")
	ErrEmptyAgentID         = errors.New("agent id cannot be empty")
	ErrInvalidDeductAmount  = errors.New("deduction amount must be positive")
	ErrInsufficientBalance  = errors.New("insufficient minute balance")
	ErrIntakeRecordMissing  = errors.New("no intake record found")
	ErrSessionNotFound      = errors.New("interview session not found")
	ErrSessionAlreadyActive = errors.New("an interview session has already been started for this intake record")
)

// IsValidFlow checks if the given interview flow is supported.
func IsValidFlow(f InterviewFlow) bool {
	switch f {
	case FlowVisa, FlowHealthcare:
		return true
	default:
		return false
	}
}

// UserIdentity mirrors the identity resolved from the hosted auth provider.
// It is read-only inside VoxPrep; the auth provider owns it.
type UserIdentity struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	// Phone is mirrored from the auth provider when present, in E.164
	// format. It gates SMS feedback delivery.
	Phone string `json:"phone,omitempty"`
}

// Entitlement is the per-(user, agent) minute balance. Entitlements are
// per-agent, not global: a user may hold minutes for the visa agent and none
// for the healthcare agent.
type Entitlement struct {
	UserID        string    `json:"user_id"`
	AgentID       string    `json:"agent_id"`
	PurchaseUnits int       `json:"purchase_units"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// UsageEvent records actual elapsed interview minutes for downstream
// accounting. It is independent of the one-unit pre-charge taken at session
// start.
type UsageEvent struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	AgentID     string    `json:"agent_id"`
	SessionID   string    `json:"session_id"`
	MinutesUsed int       `json:"minutes_used"`
	Time        time.Time `json:"time"`
}

// IntakeRecord captures the interview-context form for one user. Flow selects
// which field set is meaningful; the record is overwritten in place on edit.
type IntakeRecord struct {
	Flow InterviewFlow `json:"flow"`
	Name string        `json:"name"`
	Role string        `json:"role,omitempty"`

	// Visa flow fields
	VisaType           string `json:"visa_type,omitempty"`
	OriginCountry      string `json:"origin_country,omitempty"`
	DestinationCountry string `json:"destination_country,omitempty"`
	Client             string `json:"client,omitempty"`

	// Healthcare flow fields
	JobTitle        string `json:"job_title,omitempty"`
	JobDescription  string `json:"job_description,omitempty"`
	BusinessUnit    string `json:"business_unit,omitempty"`
	CareSpeciality  string `json:"care_speciality,omitempty"`
	YearsExperience string `json:"years_experience,omitempty"`
	Location        string `json:"location,omitempty"`

	// Shared
	Employer  string    `json:"employer,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Validate performs comprehensive validation on an IntakeRecord.
func (r *IntakeRecord) Validate() error {
	if !IsValidFlow(r.Flow) {
		return ErrInvalidFlow
	}
	if r.Name == "" {
		return ErrEmptyName
	}
	if len(r.Name) > MaxNameLength {
		return ErrNameTooLong
	}

	switch r.Flow {
	case FlowVisa:
		return r.validateVisa()
	case FlowHealthcare:
		return r.validateHealthcare()
	}
	return nil
}

// validateVisa validates visa-flow intake requirements.
func (r *IntakeRecord) validateVisa() error {
	if r.VisaType == "" {
		return ErrMissingVisaType
	}
	if r.OriginCountry == "" || r.DestinationCountry == "" {
		return ErrMissingCountry
	}
	return nil
}

// validateHealthcare validates healthcare-flow intake requirements.
func (r *IntakeRecord) validateHealthcare() error {
	if r.JobTitle == "" {
		return ErrMissingJobTitle
	}
	if r.CareSpeciality == "" {
		return ErrMissingSpeciality
	}
	return nil
}

// TurnRole identifies the speaker of a transcript turn.
type TurnRole string

const (
	// TurnRoleAgent is an utterance from the interviewing voice agent.
	TurnRoleAgent TurnRole = "agent"
	// TurnRoleUser is an utterance from the practicing applicant.
	TurnRoleUser TurnRole = "user"
)

// TranscriptTurn is a single exchanged message in an interview conversation.
type TranscriptTurn struct {
	Role    TurnRole `json:"role"`
	Message string   `json:"message"`
}

// Validate checks one transcript turn.
func (t *TranscriptTurn) Validate() error {
	if t.Role != TurnRoleAgent && t.Role != TurnRoleUser {
		return ErrInvalidTurnRole
	}
	if t.Message == "" {
		return ErrEmptyTurnMessage
	}
	if len(t.Message) > MaxUtteranceLength {
		return ErrUtteranceTooLong
	}
	return nil
}

// ValidateTranscript validates an ordered turn list at the API boundary.
// Malformed entries are rejected instead of being rendered with unknown
// speaker labels.
func ValidateTranscript(turns []TranscriptTurn) error {
	if turns == nil {
		return ErrEmptyTranscript
	}
	if len(turns) > MaxTranscriptTurns {
		return ErrTranscriptTooLong
	}
	for i := range turns {
		if err := turns[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SuggestedAnswer is an example question/answer pair returned by the scorer.
type SuggestedAnswer struct {
	Question        string `json:"question"`
	SuggestedAnswer string `json:"suggested_answer"`
}

// FeedbackRecord is the canonical analysis produced once per completed
// session. FullAnalysis and DetailedFeedback are always populated, even when
// the upstream model returns prose the parser cannot interpret.
type FeedbackRecord struct {
	Score            float64          `json:"score"`
	Comment          string           `json:"comment"`
	Strengths        []string         `json:"strengths"`
	Improvements     []string         `json:"improvements"`
	SpecificFeedback string           `json:"specific_feedback,omitempty"`
	FullAnalysis     string           `json:"full_analysis"`
	DetailedFeedback string           `json:"detailed_feedback"`
	Suggested        *SuggestedAnswer `json:"suggested,omitempty"`
}
