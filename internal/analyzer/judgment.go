package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bdougie/vigil/internal/models"
)

var (
	errNoObject       = errors.New("no JSON object in model output")
	errNoDescription  = errors.New("missing description")
	errNoThreatFlag   = errors.New("missing is_threat")
	errEmptyModelText = errors.New("empty model output")
)

type rawJudgment struct {
	Description *string `json:"description"`
	IsThreat    *bool   `json:"is_threat"`
}

// ParseJudgment turns untrusted model output into a FrameJudgment. Anything
// short of an object with a non-empty string description and a boolean
// is_threat is rejected with an error wrapping models.ErrAnalysis.
func ParseJudgment(text string) (models.FrameJudgment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.FrameJudgment{}, fmt.Errorf("%w: %w", models.ErrAnalysis, errEmptyModelText)
	}

	// Models like to wrap JSON in markdown fences even when told not to.
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return models.FrameJudgment{}, fmt.Errorf("%w: %w: %q", models.ErrAnalysis, errNoObject, truncate(text, 80))
	}

	var raw rawJudgment
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	if err := dec.Decode(&raw); err != nil {
		return models.FrameJudgment{}, fmt.Errorf("%w: decode judgment: %w", models.ErrAnalysis, err)
	}
	if raw.Description == nil || strings.TrimSpace(*raw.Description) == "" {
		return models.FrameJudgment{}, fmt.Errorf("%w: %w", models.ErrAnalysis, errNoDescription)
	}
	if raw.IsThreat == nil {
		return models.FrameJudgment{}, fmt.Errorf("%w: %w", models.ErrAnalysis, errNoThreatFlag)
	}

	return models.FrameJudgment{
		Description: strings.TrimSpace(*raw.Description),
		IsThreat:    *raw.IsThreat,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
