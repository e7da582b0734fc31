// Package ocr provides cloud and local OCR services that return words with
// pixel boxes for a rendered page image.
package ocr

import (
	"context"
	"errors"

	"github.com/MeKo-Tech/docstream/internal/document"
)

// ErrUnavailable is returned when a service has no usable backend.
var ErrUnavailable = errors.New("ocr service unavailable")

// Result is the recognized text of one image. Word boxes are in Pixel space
// of the submitted image.
type Result struct {
	Text  string          `json:"text"`
	Words []document.Word `json:"words"`
}

// Service recognizes text with layout.
type Service interface {
	// Available reports whether the service can be called, e.g. whether
	// credentials are configured. It must be cheap.
	Available(ctx context.Context) bool
	DetectText(ctx context.Context, img []byte) (Result, error)
}
