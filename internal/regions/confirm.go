package regions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/docstream/internal/ai"
)

// Verdict is the answer of an equation check.
type Verdict struct {
	IsEquation bool   `json:"is_equation"`
	Latex      string `json:"latex"`
}

// Confirmer decides whether a cropped region shows an equation. An error
// means no answer; the caller keeps the candidate without a transcription.
type Confirmer interface {
	Confirm(ctx context.Context, crop []byte) (Verdict, error)
}

const equationPrompt = `Does this image show a mathematical equation or formula?
Answer with a single JSON object and nothing else:
{"is_equation": true or false, "latex": "LaTeX transcription if it is an equation, otherwise empty"}`

// EquationConfirmer asks a generative model about equation crops.
type EquationConfirmer struct {
	ai ai.Service
}

// NewEquationConfirmer creates a confirmer backed by svc.
func NewEquationConfirmer(svc ai.Service) *EquationConfirmer {
	return &EquationConfirmer{ai: svc}
}

// Confirm sends the PNG crop and parses the JSON verdict.
func (c *EquationConfirmer) Confirm(ctx context.Context, crop []byte) (Verdict, error) {
	out, err := c.ai.GenerateFromImage(ctx, equationPrompt, crop, "image/png")
	if err != nil {
		return Verdict{}, err
	}
	return parseVerdict(out)
}

func parseVerdict(s string) (Verdict, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		s = s[i : j+1]
	}

	var raw struct {
		IsEquation *bool  `json:"is_equation"`
		Latex      string `json:"latex"`
	}
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return Verdict{}, fmt.Errorf("%w: %w", ai.ErrNoAnswer, err)
	}
	if raw.IsEquation == nil {
		return Verdict{}, fmt.Errorf("%w: is_equation missing", ai.ErrNoAnswer)
	}
	return Verdict{IsEquation: *raw.IsEquation, Latex: strings.TrimSpace(raw.Latex)}, nil
}
