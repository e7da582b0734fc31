//go:build !tesseract

package ocr

import (
	"context"
	"fmt"
)

// Tesseract is unavailable in builds without the tesseract tag.
type Tesseract struct{}

// NewTesseract reports that local OCR was not compiled in.
func NewTesseract(...string) (*Tesseract, error) {
	return nil, fmt.Errorf("%w: built without the tesseract tag", ErrUnavailable)
}

// Available always reports false.
func (t *Tesseract) Available(context.Context) bool { return false }

// DetectText always fails.
func (t *Tesseract) DetectText(context.Context, []byte) (Result, error) {
	return Result{}, ErrUnavailable
}
