package models

import (
	"errors"
	"strings"
	"testing"
)

func validVisaIntake() IntakeRecord {
	return IntakeRecord{
		Flow:               FlowVisa,
		Name:               "Ana Silva",
		VisaType:           "H-1B",
		OriginCountry:      "Brazil",
		DestinationCountry: "United States",
	}
}

func validHealthcareIntake() IntakeRecord {
	return IntakeRecord{
		Flow:           FlowHealthcare,
		Name:           "Ben Okafor",
		JobTitle:       "Registered Nurse",
		CareSpeciality: "Oncology",
	}
}

func TestIsValidFlow(t *testing.T) {
	if !IsValidFlow(FlowVisa) || !IsValidFlow(FlowHealthcare) {
		t.Error("known flows must validate")
	}
	if IsValidFlow("finance") || IsValidFlow("") {
		t.Error("unknown flows must not validate")
	}
}

func TestIntakeRecordValidateVisa(t *testing.T) {
	rec := validVisaIntake()
	if err := rec.Validate(); err != nil {
		t.Errorf("valid visa intake rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*IntakeRecord)
		want   error
	}{
		{"bad flow", func(r *IntakeRecord) { r.Flow = "finance" }, ErrInvalidFlow},
		{"empty name", func(r *IntakeRecord) { r.Name = "" }, ErrEmptyName},
		{"name too long", func(r *IntakeRecord) { r.Name = strings.Repeat("a", MaxNameLength+1) }, ErrNameTooLong},
		{"missing visa type", func(r *IntakeRecord) { r.VisaType = "" }, ErrMissingVisaType},
		{"missing origin", func(r *IntakeRecord) { r.OriginCountry = "" }, ErrMissingCountry},
		{"missing destination", func(r *IntakeRecord) { r.DestinationCountry = "" }, ErrMissingCountry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validVisaIntake()
			tt.mutate(&rec)
			if err := rec.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestIntakeRecordValidateHealthcare(t *testing.T) {
	rec := validHealthcareIntake()
	if err := rec.Validate(); err != nil {
		t.Errorf("valid healthcare intake rejected: %v", err)
	}

	rec = validHealthcareIntake()
	rec.JobTitle = ""
	if err := rec.Validate(); !errors.Is(err, ErrMissingJobTitle) {
		t.Errorf("expected ErrMissingJobTitle, got %v", err)
	}

	rec = validHealthcareIntake()
	rec.CareSpeciality = ""
	if err := rec.Validate(); !errors.Is(err, ErrMissingSpeciality) {
		t.Errorf("expected ErrMissingSpeciality, got %v", err)
	}

	// Visa fields are irrelevant to the healthcare flow.
	rec = validHealthcareIntake()
	rec.VisaType = ""
	rec.OriginCountry = ""
	if err := rec.Validate(); err != nil {
		t.Errorf("healthcare intake must not require visa fields: %v", err)
	}
}

func TestTranscriptTurnValidate(t *testing.T) {
	turn := TranscriptTurn{Role: TurnRoleAgent, Message: "Good morning."}
	if err := turn.Validate(); err != nil {
		t.Errorf("valid turn rejected: %v", err)
	}

	turn = TranscriptTurn{Role: "narrator", Message: "hi"}
	if err := turn.Validate(); !errors.Is(err, ErrInvalidTurnRole) {
		t.Errorf("expected ErrInvalidTurnRole, got %v", err)
	}

	turn = TranscriptTurn{Role: TurnRoleUser, Message: ""}
	if err := turn.Validate(); !errors.Is(err, ErrEmptyTurnMessage) {
		t.Errorf("expected ErrEmptyTurnMessage, got %v", err)
	}

	turn = TranscriptTurn{Role: TurnRoleUser, Message: strings.Repeat("a", MaxUtteranceLength+1)}
	if err := turn.Validate(); !errors.Is(err, ErrUtteranceTooLong) {
		t.Errorf("expected ErrUtteranceTooLong, got %v", err)
	}
}

func TestValidateTranscript(t *testing.T) {
	if err := ValidateTranscript(nil); !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("nil transcript: expected ErrEmptyTranscript, got %v", err)
	}

	// An empty non-nil transcript is a present-but-empty conversation.
	if err := ValidateTranscript([]TranscriptTurn{}); err != nil {
		t.Errorf("empty transcript rejected: %v", err)
	}

	valid := []TranscriptTurn{
		{Role: TurnRoleAgent, Message: "Why are you traveling?"},
		{Role: TurnRoleUser, Message: "A work assignment."},
	}
	if err := ValidateTranscript(valid); err != nil {
		t.Errorf("valid transcript rejected: %v", err)
	}

	tooLong := make([]TranscriptTurn, MaxTranscriptTurns+1)
	for i := range tooLong {
		tooLong[i] = TranscriptTurn{Role: TurnRoleUser, Message: "x"}
	}
	if err := ValidateTranscript(tooLong); !errors.Is(err, ErrTranscriptTooLong) {
		t.Errorf("expected ErrTranscriptTooLong, got %v", err)
	}

	bad := append(valid, TranscriptTurn{Role: "narrator", Message: "aside"})
	if err := ValidateTranscript(bad); !errors.Is(err, ErrInvalidTurnRole) {
		t.Errorf("expected ErrInvalidTurnRole, got %v", err)
	}
}
