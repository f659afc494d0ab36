// Package session provides stage classification for interview conversations.
package session

import (
	"strings"

	"github.com/voxprep/VoxPrep/internal/models"
)

// StageClassifier infers the interview stage implied by one agent utterance.
// The voice provider emits no structured stage signal, so classification is
// best-effort; keeping it behind an interface lets a structured signal
// replace the keyword matcher without touching the controller.
type StageClassifier interface {
	// Classify returns the stage suggested by the utterance, or the empty
	// string when the utterance implies nothing.
	Classify(utterance string) models.InterviewStage
}

// stageRule couples a target stage with the substrings that suggest it.
type stageRule struct {
	stage    models.InterviewStage
	keywords []string
}

// keywordRules are evaluated in order and the last match wins, so the
// terminal markers at the end dominate when an utterance matches several
// sets ("thank you for telling me about your employer").
var keywordRules = []stageRule{
	{models.StagePurpose, []string{"purpose", "visit", "why do you want", "reason for"}},
	{models.StageBackground, []string{"background", "tell me about yourself", "experience", "education", "qualification"}},
	{models.StageDetails, []string{"employer", "salary", "finance", "funds", "speciality", "department", "shift"}},
	{models.StageComplete, []string{"thank you", "conclude", "concludes", "that is all", "that's all", "good luck"}},
}

// KeywordClassifier classifies utterances by case-insensitive substring
// search. It is a heuristic, not a protocol.
type KeywordClassifier struct{}

// NewKeywordClassifier creates the default classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify scans the rule list in order and returns the stage of the last
// matching rule, or empty if no keyword set matched.
func (c *KeywordClassifier) Classify(utterance string) models.InterviewStage {
	lowered := strings.ToLower(utterance)
	var matched models.InterviewStage
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lowered, kw) {
				matched = rule.stage
				break
			}
		}
	}
	return matched
}
