// Package explain asks the generative model to describe a detected region
// and stores the answer next to the cached document.
package explain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/docstream/internal/ai"
	"github.com/MeKo-Tech/docstream/internal/cache"
	"github.com/MeKo-Tech/docstream/internal/document"
)

var (
	// ErrDocumentNotFound is returned for a hash with no cached entry.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrRegionNotFound is returned for an unknown region ID.
	ErrRegionNotFound = errors.New("region not found")
	// ErrNoImage is returned when the region crop was never stored.
	ErrNoImage = errors.New("region has no stored image")
)

// ImageFetcher loads stored region crops.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Result is one explanation.
type Result struct {
	Hash     string         `json:"hash"`
	RegionID string         `json:"region_id"`
	Page     int            `json:"page"`
	Label    document.Label `json:"label"`
	Text     string         `json:"explanation"`
	Cached   bool           `json:"cached"`
}

// Explainer produces region explanations.
type Explainer struct {
	cache  *cache.Manager
	images ImageFetcher
	ai     ai.Service
	logger *slog.Logger
}

// New creates an explainer. A nil logger uses slog.Default().
func New(c *cache.Manager, images ImageFetcher, svc ai.Service, logger *slog.Logger) *Explainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Explainer{cache: c, images: images, ai: svc, logger: logger}
}

// Explain returns the explanation of a region, generating and storing it
// on first use. With force set an existing explanation is regenerated.
func (e *Explainer) Explain(ctx context.Context, hash, regionID string, force bool) (Result, error) {
	entry, ok := e.cache.Lookup(ctx, hash)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, hash)
	}
	region, page, ok := entry.Region(regionID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrRegionNotFound, regionID)
	}
	res := Result{Hash: hash, RegionID: regionID, Page: page, Label: region.Label}
	if region.Explanation != "" && !force {
		res.Text, res.Cached = region.Explanation, true
		return res, nil
	}

	if e.ai == nil {
		return Result{}, fmt.Errorf("explain region %s: %w", regionID, ai.ErrNoAnswer)
	}
	if region.ImageURL == "" || e.images == nil {
		return Result{}, fmt.Errorf("explain region %s: %w", regionID, ErrNoImage)
	}
	img, err := e.images.Fetch(ctx, region.ImageURL)
	if err != nil {
		return Result{}, fmt.Errorf("fetch region image: %w", err)
	}

	text, err := e.ai.GenerateFromImage(ctx, Prompt(*region), img, "image/png")
	if err != nil {
		return Result{}, fmt.Errorf("explain region %s: %w", regionID, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, fmt.Errorf("explain region %s: %w", regionID, ai.ErrNoAnswer)
	}

	if err := e.cache.AttachExplanation(ctx, hash, regionID, text); err != nil {
		// The caller still gets the answer; it is just regenerated next time.
		e.logger.Warn("Failed to store explanation", "hash", hash, "region", regionID, "error", err)
	}
	e.logger.Info("Region explained", "hash", hash, "region", regionID, "label", region.Label)
	res.Text = text
	return res, nil
}

// Prompt builds the request for a region.
func Prompt(r document.Region) string {
	var b strings.Builder
	switch r.Label {
	case document.LabelTable:
		b.WriteString("The image shows a table cropped from a document page. ")
		b.WriteString("Summarize what the table contains and point out notable values or trends.")
	case document.LabelEquation:
		b.WriteString("The image shows a mathematical expression cropped from a document page. ")
		b.WriteString("Explain what it states and define its symbols.")
		if r.Transcription != "" {
			fmt.Fprintf(&b, " A transcription in LaTeX is: %s", r.Transcription)
		}
	default:
		b.WriteString("The image shows a figure cropped from a document page. ")
		b.WriteString("Describe what it depicts and what a reader should take away from it.")
	}
	b.WriteString(" Answer in plain prose of at most a few short paragraphs.")
	return b.String()
}
