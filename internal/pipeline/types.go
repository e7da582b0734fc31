package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/pdf"
	"github.com/MeKo-Tech/docstream/internal/regions"
)

// EventType distinguishes stream events.
type EventType string

const (
	EventPage EventType = "page"
	EventDone EventType = "done"
)

// Event is one element of a document stream: a page record snapshot after a
// phase, or the terminal done marker.
type Event struct {
	Type       EventType       `json:"type"`
	Hash       string          `json:"hash"`
	Cached     bool            `json:"cached,omitempty"`
	TotalPages int             `json:"total_pages"`
	Page       *document.Page  `json:"page,omitempty"`
	FullText   string          `json:"full_text,omitempty"`
	Entry      *document.Entry `json:"-"`
	Elapsed    time.Duration   `json:"-"`
}

// Final reports whether the event carries a finalized page.
func (e Event) Final() bool {
	return e.Type == EventPage && e.Page != nil && e.Page.Phase == document.PhaseFinal
}

// DocumentError reports a document that could not be processed at all.
type DocumentError struct {
	Hash string
	Err  error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document %s: %v", shortHash(e.Hash), e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// Document is an opened document as the page workers see it. Page numbers
// are 1-based.
type Document interface {
	NumPages() int
	PageSize(pageNum int) (float64, float64, error)
	Glyphs(pageNum int) ([]document.Glyph, error)
	Links(pageNum int) ([]document.Link, error)
	Images(pageNum int) ([]document.Placement, error)
	Render(ctx context.Context, pageNum, dpi int) ([]byte, error)
	Close() error
}

// Opener parses raw document bytes.
type Opener interface {
	Open(ctx context.Context, data []byte) (Document, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, data []byte) (Document, error)

func (f OpenerFunc) Open(ctx context.Context, data []byte) (Document, error) { return f(ctx, data) }

// PDFOpener adapts the PDF package opener.
func PDFOpener(o *pdf.Opener) Opener {
	return OpenerFunc(func(ctx context.Context, data []byte) (Document, error) {
		doc, err := o.Open(ctx, data)
		if err != nil {
			return nil, err
		}
		return doc, nil
	})
}

// RegionDetector finds the regions of a rendered page.
type RegionDetector interface {
	Detect(ctx context.Context, in regions.Input) []document.Region
}

// ImageSaver persists rendered pages.
type ImageSaver interface {
	Save(ctx context.Context, hash, name string, data []byte) (string, error)
}
