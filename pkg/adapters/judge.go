package adapters

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/cartouche-dev/cartouche/pkg/session"
)

// Shared prompt assembly and response parsing for the model-backed judges
// and refiners. Both the anthropic and openai implementations speak the same
// JSON envelope so they stay interchangeable behind the interfaces.

type judgeVerdict struct {
	Score                 float64  `json:"score"`
	Strengths             []string `json:"strengths"`
	Issues                []string `json:"issues"`
	SuggestedImprovements []string `json:"suggested_improvements"`
}

type refinerAnswer struct {
	NewPrompt string `json:"new_prompt"`
	Rationale string `json:"rationale"`
}

func judgeInstructions(evalCtx EvalContext) string {
	var b strings.Builder
	b.WriteString("You are a strict reviewer of AI-generated technical diagrams.\n\n")
	b.WriteString("Original request:\n")
	b.WriteString(evalCtx.OriginalRequest)
	b.WriteString("\n\n")
	b.WriteString(evalCtx.Rubric.PromptText())
	b.WriteString("\nAnswer with a single JSON object and nothing else:\n")
	b.WriteString(`{"score": <number>, "strengths": [...], "issues": [...], "suggested_improvements": [...]}`)
	return b.String()
}

func refinerInstructions(history []TurnSummary, currentPrompt string, latestFeedback string) string {
	var b strings.Builder
	b.WriteString("You rewrite image-generation prompts for technical diagrams.\n\n")
	if len(history) > 0 {
		b.WriteString("Previous turns:\n")
		for _, h := range history {
			score := "unscored"
			if h.Score != nil {
				score = fmt.Sprintf("%.1f", *h.Score)
			}
			fmt.Fprintf(&b, "%d. score=%s prompt=%q", h.TurnNumber, score, h.Prompt)
			if fb := strings.TrimSpace(h.Feedback); fb != "" {
				fmt.Fprintf(&b, " feedback=%q", fb)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Current prompt:\n")
	b.WriteString(currentPrompt)
	b.WriteString("\n\nLatest feedback to address:\n")
	b.WriteString(latestFeedback)
	b.WriteString("\n\nProduce an improved prompt that keeps what worked and fixes the feedback.\n")
	b.WriteString("Answer with a single JSON object and nothing else:\n")
	b.WriteString(`{"new_prompt": "...", "rationale": "..."}`)
	return b.String()
}

func parseJudgeVerdict(text string, scaleMax float64) (*Evaluation, error) {
	raw, err := extractJSONObject(text)
	if err != nil {
		return nil, errors.Wrap(err, "judge: extract verdict")
	}
	var v judgeVerdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrap(err, "judge: parse verdict")
	}
	if v.Score < 0 {
		v.Score = 0
	}
	if scaleMax > 0 && v.Score > scaleMax {
		v.Score = scaleMax
	}
	return &Evaluation{
		Score: v.Score,
		Feedback: session.Feedback{
			Strengths:             v.Strengths,
			Issues:                v.Issues,
			SuggestedImprovements: v.SuggestedImprovements,
			Raw:                   strings.TrimSpace(text),
		},
	}, nil
}

func parseRefinerAnswer(text string) (*Refinement, error) {
	raw, err := extractJSONObject(text)
	if err != nil {
		return nil, errors.Wrap(err, "refiner: extract answer")
	}
	var a refinerAnswer
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, errors.Wrap(err, "refiner: parse answer")
	}
	if strings.TrimSpace(a.NewPrompt) == "" {
		return nil, errors.New("refiner: empty new_prompt")
	}
	return &Refinement{NewPrompt: a.NewPrompt, Rationale: a.Rationale}, nil
}

// extractJSONObject tolerates markdown fences and prose around the object.
func extractJSONObject(text string) (json.RawMessage, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, errors.Errorf("no JSON object in %q", truncate(text, 120))
	}
	return json.RawMessage(text[start : end+1]), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
