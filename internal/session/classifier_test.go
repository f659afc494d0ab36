package session

import (
	"testing"

	"github.com/voxprep/VoxPrep/internal/models"
)

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier()

	tests := []struct {
		name      string
		utterance string
		want      models.InterviewStage
	}{
		{"purpose question", "What is the purpose of your visit?", models.StagePurpose},
		{"background question", "Tell me about yourself and your education.", models.StageBackground},
		{"details question", "Who is your employer and what is your salary?", models.StageDetails},
		{"healthcare details", "Which department and shift pattern are you applying for?", models.StageDetails},
		{"closing remark", "Thank you, that concludes the interview. Good luck!", models.StageComplete},
		{"case insensitive", "WHAT IS THE PURPOSE OF YOUR VISIT?", models.StagePurpose},
		{"no signal", "Please speak a little louder.", ""},
		{"empty utterance", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.utterance); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.utterance, got, tt.want)
			}
		})
	}
}

func TestKeywordClassifierLastMatchWins(t *testing.T) {
	c := NewKeywordClassifier()

	// Matches both the details rule ("employer") and the terminal rule
	// ("thank you"); the terminal rule sits later and must dominate.
	got := c.Classify("Thank you for telling me about your employer, that is all.")
	if got != models.StageComplete {
		t.Errorf("expected terminal markers to dominate, got %q", got)
	}
}
