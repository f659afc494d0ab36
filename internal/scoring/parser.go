// Package scoring implements feedback parsing for model replies.
//
// The upstream model is instructed to emit raw JSON but does not always
// comply. ParseFeedback runs a three-step cascade: direct JSON parse, then a
// brace-extraction parse for JSON embedded in prose, then heuristic section
// extraction over free text. Whatever survives is normalized into a
// FeedbackRecord; if nothing parses, the raw text is preserved verbatim so
// the user still receives readable feedback.
package scoring

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/voxprep/VoxPrep/internal/models"
)

// rawFeedback mirrors the JSON schema requested in the scoring prompts.
type rawFeedback struct {
	Score               float64                 `json:"score"`
	Comment             string                  `json:"comment"`
	WhatYouDidWell      []string                `json:"what_you_did_well"`
	AreasToImprove      []string                `json:"areas_to_improve"`
	TrySayingItLikeThis *models.SuggestedAnswer `json:"try_saying_it_like_this"`
}

var (
	// braceRe greedily captures the first '{' through the last '}' so JSON
	// wrapped in prose ("Here is my feedback: {...}") still parses.
	braceRe = regexp.MustCompile(`\{[\s\S]*\}`)

	// scoreRe pulls a numeric score out of free text.
	scoreRe = regexp.MustCompile(`(?i)score[:\s]*(\d+(?:\.\d+)?)`)

	// strengthsHeaderRe and improvementsHeaderRe match the section headers
	// the model tends to emit when it ignores the JSON instruction.
	strengthsHeaderRe    = regexp.MustCompile(`(?i)^\s*(?:#+\s*)?(?:\*\*)?\s*(strengths|what you did well)\s*:?`)
	improvementsHeaderRe = regexp.MustCompile(`(?i)^\s*(?:#+\s*)?(?:\*\*)?\s*(areas? (?:for|to) improve(?:ment)?s?|improvements|weaknesses)\s*:?`)

	// bulletRe strips list markers from section lines.
	bulletRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)
)

// ParseFeedback normalizes a model reply into a FeedbackRecord. It never
// fails: total parse failure degrades to a record carrying only the raw text.
func ParseFeedback(raw string) models.FeedbackRecord {
	text := strings.TrimSpace(raw)
	if text == "" {
		text = "No analysis returned."
	}

	// Step 1: the reply is raw JSON as instructed.
	if rec, ok := parseJSON(text); ok {
		return normalize(rec, text)
	}

	// Step 2: JSON embedded in prose.
	if embedded := braceRe.FindString(text); embedded != "" {
		if rec, ok := parseJSON(embedded); ok {
			return normalize(rec, text)
		}
	}

	// Step 3: free text with recognizable section headers.
	if rec, ok := parseSections(text); ok {
		return normalize(rec, text)
	}

	// Nothing parsed. Preserve the raw text so the user still sees feedback.
	return models.FeedbackRecord{
		FullAnalysis:     text,
		DetailedFeedback: text,
	}
}

// feedbackKeys are the schema fields the model is instructed to emit. An
// object must carry at least one of them to count as a parse hit; this keeps
// unrelated JSON (or a bare {}) flowing to the later steps while a legitimate
// all-zero record, like a zero score with empty lists, keeps its structure.
var feedbackKeys = []string{"score", "comment", "what_you_did_well", "areas_to_improve", "try_saying_it_like_this"}

// parseJSON attempts a strict decode of the requested schema.
func parseJSON(text string) (rawFeedback, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return rawFeedback{}, false
	}
	known := false
	for _, key := range feedbackKeys {
		if _, ok := fields[key]; ok {
			known = true
			break
		}
	}
	if !known {
		return rawFeedback{}, false
	}

	var rec rawFeedback
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		return rawFeedback{}, false
	}
	return rec, true
}

// parseSections extracts strengths/improvements lists from free text by
// scanning for literal section headers and collecting the bullet lines that
// follow each one.
func parseSections(text string) (rawFeedback, bool) {
	var rec rawFeedback
	var current *[]string

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strengthsHeaderRe.MatchString(trimmed):
			current = &rec.WhatYouDidWell
			continue
		case improvementsHeaderRe.MatchString(trimmed):
			current = &rec.AreasToImprove
			continue
		case trimmed == "":
			continue
		}
		if current == nil {
			continue
		}
		item := strings.TrimSpace(bulletRe.ReplaceAllString(trimmed, ""))
		if item != "" {
			*current = append(*current, item)
		}
	}

	if len(rec.WhatYouDidWell) == 0 && len(rec.AreasToImprove) == 0 {
		return rawFeedback{}, false
	}

	if m := scoreRe.FindStringSubmatch(text); m != nil {
		if score, err := strconv.ParseFloat(m[1], 64); err == nil && score >= 0 && score <= 10 {
			rec.Score = score
		}
	}
	return rec, true
}

// normalize maps the parsed schema into the canonical FeedbackRecord and
// renders the human-readable detailed feedback.
func normalize(rec rawFeedback, raw string) models.FeedbackRecord {
	out := models.FeedbackRecord{
		Score:        rec.Score,
		Comment:      rec.Comment,
		Strengths:    rec.WhatYouDidWell,
		Improvements: rec.AreasToImprove,
		Suggested:    rec.TrySayingItLikeThis,
		FullAnalysis: raw,
	}
	out.DetailedFeedback = renderDetailed(out)
	if out.DetailedFeedback == "" {
		out.DetailedFeedback = raw
	}
	return out
}

// renderDetailed builds the markdown shown on the feedback page.
func renderDetailed(rec models.FeedbackRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Overall Score: %.0f/10\n\n", rec.Score)
	if rec.Comment != "" {
		b.WriteString(rec.Comment)
		b.WriteString("\n\n")
	}
	if len(rec.Strengths) > 0 {
		b.WriteString("### What You Did Well\n")
		for _, s := range rec.Strengths {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}
	if len(rec.Improvements) > 0 {
		b.WriteString("### Areas to Improve\n")
		for _, s := range rec.Improvements {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}
	if rec.Suggested != nil && rec.Suggested.Question != "" {
		b.WriteString("### Try Saying It Like This\n")
		fmt.Fprintf(&b, "**Q:** %s\n\n**A:** %s\n", rec.Suggested.Question, rec.Suggested.SuggestedAnswer)
	}
	return strings.TrimSpace(b.String())
}
