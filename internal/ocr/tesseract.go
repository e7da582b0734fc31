//go:build tesseract

package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/geometry"
)

// Tesseract runs local OCR through gosseract. Build with -tags tesseract.
type Tesseract struct {
	languages []string
}

// NewTesseract creates a local OCR service.
func NewTesseract(languages ...string) (*Tesseract, error) {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Tesseract{languages: languages}, nil
}

// Available reports whether the Tesseract library answers.
func (t *Tesseract) Available(context.Context) bool {
	return gosseract.Version() != ""
}

// DetectText recognizes words with their pixel boxes.
func (t *Tesseract) DetectText(ctx context.Context, img []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	c := gosseract.NewClient()
	defer func() { _ = c.Close() }()

	if err := c.SetLanguage(t.languages...); err != nil {
		return Result{}, fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetImageFromBytes(img); err != nil {
		return Result{}, fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return Result{}, fmt.Errorf("recognize text: %w", err)
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return Result{}, fmt.Errorf("word boxes: %w", err)
	}

	res := Result{Text: strings.TrimSpace(text), Words: make([]document.Word, 0, len(boxes))}
	for _, b := range boxes {
		if strings.TrimSpace(b.Word) == "" {
			continue
		}
		res.Words = append(res.Words, document.Word{
			Text: b.Word,
			BBox: geometry.NewBox(float64(b.Box.Min.X), float64(b.Box.Min.Y),
				float64(b.Box.Max.X), float64(b.Box.Max.Y), geometry.Pixel),
		})
	}
	return res, nil
}
