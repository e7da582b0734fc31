// Package ai wraps the generative model used as the last OCR tier, for
// equation confirmation and for region explanations.
package ai

import (
	"context"
	"errors"
)

// ErrNoAnswer is returned when the model replied without usable text.
var ErrNoAnswer = errors.New("model returned no answer")

// Service generates text from a prompt, optionally grounded on an image.
type Service interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateFromImage(ctx context.Context, prompt string, img []byte, mimeType string) (string, error)
}
