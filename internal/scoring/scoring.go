// Package scoring implements the transcript scoring forwarder.
//
// It renders an interview transcript into a flat text block, issues a single
// chat-completion call with a fixed instruction prompt, and normalizes the
// model's reply into a FeedbackRecord. The model is asked for raw JSON but is
// not trusted to comply; see parser.go for the fallback cascade.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/voxprep/VoxPrep/internal/genai"
	"github.com/voxprep/VoxPrep/internal/models"
)

// systemPrompt instructs the model to act as an interview assessor and to
// reply with raw JSON only. The schema here must stay in sync with
// rawFeedback in parser.go.
const systemPrompt = `You are an experienced interview coach assessing a mock interview transcript between an Officer (the interviewer) and an Applicant (the candidate). Respond with RAW JSON ONLY, no markdown fences, no prose before or after. The JSON object must have exactly this shape:
{
  "score": <number 0-10>,
  "comment": "<one-sentence overall assessment>",
  "what_you_did_well": ["<strength>", ...],
  "areas_to_improve": ["<improvement>", ...],
  "try_saying_it_like_this": {"question": "<one question from the interview>", "suggested_answer": "<a stronger example answer>"}
}`

// userPromptTemplate repeats the schema and carries the rendered transcript.
const userPromptTemplate = `Assess the applicant's performance in the following transcript. Reply with raw JSON only, using the schema:
{"score": <0-10>, "comment": "...", "what_you_did_well": [...], "areas_to_improve": [...], "try_saying_it_like_this": {"question": "...", "suggested_answer": "..."}}

Transcript:
%s`

// Forwarder scores transcripts through a GenAI client. It is stateless and
// performs no retries; it is called at most once per completed session.
type Forwarder struct {
	client genai.ClientInterface
}

// NewForwarder creates a scoring forwarder backed by the given client.
func NewForwarder(client genai.ClientInterface) *Forwarder {
	return &Forwarder{client: client}
}

// RenderTranscript flattens a transcript into speaker-labelled lines, in the
// original order, with no reordering or deduplication.
func RenderTranscript(turns []models.TranscriptTurn) string {
	var b strings.Builder
	for _, turn := range turns {
		label := "Applicant"
		if turn.Role == models.TurnRoleAgent {
			label = "Officer"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(turn.Message)
		b.WriteString("\n\n")
	}
	return b.String()
}

// Score submits a validated transcript for assessment and returns the
// normalized feedback. A model reply that cannot be parsed degrades to a
// raw-text record rather than an error, so the user always sees something.
// Transport and configuration failures are returned as errors.
func (f *Forwarder) Score(ctx context.Context, turns []models.TranscriptTurn) (models.FeedbackRecord, error) {
	if f.client == nil {
		return models.FeedbackRecord{}, fmt.Errorf("scoring client not configured")
	}
	if err := models.ValidateTranscript(turns); err != nil {
		return models.FeedbackRecord{}, err
	}

	rendered := RenderTranscript(turns)
	userPrompt := fmt.Sprintf(userPromptTemplate, rendered)

	raw, err := f.client.GeneratePrompt(ctx, systemPrompt, userPrompt)
	if err != nil {
		slog.Error("Forwarder.Score: completion failed", "error", err, "turns", len(turns))
		return models.FeedbackRecord{}, fmt.Errorf("scoring request failed: %w", err)
	}

	record := ParseFeedback(raw)
	slog.Info("Forwarder.Score: transcript scored", "turns", len(turns), "score", record.Score, "degraded", record.Comment == "")
	return record, nil
}
