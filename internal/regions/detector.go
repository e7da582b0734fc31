// Package regions finds figures, tables and equations on a page. Proposals
// from the layout model and from document heuristics are merged by
// containment, cropped out of the rendered page and persisted.
package regions

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/MeKo-Tech/docstream/internal/coords"
	"github.com/MeKo-Tech/docstream/internal/detector"
	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/geometry"
	"github.com/MeKo-Tech/docstream/internal/imagestore"
)

// regionNamespace seeds deterministic region IDs.
var regionNamespace = uuid.MustParse("5b8e2a1c-3f4d-5e6a-9b7c-0d1e2f3a4b5c")

// LayoutModel is the best-effort layout detector.
type LayoutModel interface {
	Detect(ctx context.Context, pageImage []byte) []detector.Detection
}

// ImageSaver persists region crops.
type ImageSaver interface {
	Save(ctx context.Context, hash, name string, data []byte) (string, error)
}

// Input is one page worth of evidence.
type Input struct {
	Page       int
	Hash       string
	Image      []byte
	Render     coords.Render
	Glyphs     []document.Glyph
	Lines      []document.Line
	Placements []document.Placement
	RunModel   bool
}

// Detector produces the regions of a page. The model and confirmer are optional.
type Detector struct {
	cfg       Config
	model     LayoutModel
	store     ImageSaver
	confirmer Confirmer
	logger    *slog.Logger
}

// Option customizes a Detector.
type Option func(*Detector)

// WithModel enables layout model candidates.
func WithModel(m LayoutModel) Option { return func(d *Detector) { d.model = m } }

// WithConfirmer enables equation confirmation.
func WithConfirmer(c Confirmer) Option { return func(d *Detector) { d.confirmer = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Detector) { d.logger = l } }

// New creates a Detector that persists crops to store.
func New(cfg Config, store ImageSaver, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid region config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("region image store is nil")
	}
	d := &Detector{cfg: cfg, store: store, logger: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Detect returns the page's regions with Pixel-space boxes, in reading
// order. It never fails as a whole: unusable candidates are logged and
// skipped.
func (d *Detector) Detect(ctx context.Context, in Input) []document.Region {
	logger := d.logger.With("hash", in.Hash, "page", in.Page)
	if len(in.Image) == 0 {
		return []document.Region{}
	}
	img, err := imaging.Decode(bytes.NewReader(in.Image))
	if err != nil {
		logger.Warn("Cannot decode page image for regions", "error", err)
		return []document.Region{}
	}

	var cands []candidate
	if in.RunModel && d.model != nil {
		cands = append(cands, modelCandidates(d.model.Detect(ctx, in.Image), in.Render)...)
	}
	cands = append(cands, embeddedImageCandidates(in.Placements, in.Render.DocWidth, in.Render.DocHeight, d.cfg)...)
	cands = append(cands, mathFontCandidates(in.Glyphs, d.cfg)...)
	cands = append(cands, whitespaceCandidates(in.Lines, in.Render, img, d.cfg)...)

	accepted := merge(cands, d.cfg)
	out := make([]document.Region, 0, len(accepted))
	for _, c := range accepted {
		if ctx.Err() != nil {
			break
		}
		region, ok := d.finalize(ctx, logger, in, img, c, len(out))
		if ok {
			out = append(out, region)
		}
	}
	return out
}

func (d *Detector) finalize(ctx context.Context, logger *slog.Logger, in Input, img image.Image, c candidate, idx int) (document.Region, bool) {
	render := in.Render
	px, err := coords.Convert(c.box.Expand(d.cfg.Margin), geometry.Document, geometry.Pixel, coords.Context{Render: &render})
	if err != nil {
		logger.Warn("Region conversion failed", "error", err)
		return document.Region{}, false
	}
	px = px.Clamp(float64(img.Bounds().Dx()), float64(img.Bounds().Dy()))
	rect := px.ToRect(img.Bounds())
	if rect.Empty() {
		logger.Warn("Region crop is empty", "box", px.String())
		return document.Region{}, false
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.Crop(img, rect), imaging.PNG); err != nil {
		logger.Warn("Region crop encoding failed", "error", err)
		return document.Region{}, false
	}
	crop := buf.Bytes()

	region := document.Region{
		Label:      c.label,
		BBox:       px,
		Confidence: c.confidence,
		Source:     c.source,
	}

	if d.needsConfirmation(c) {
		verdict, err := d.confirmer.Confirm(ctx, crop)
		switch {
		case err != nil:
			logger.Debug("Equation confirmation unanswered", "error", err)
		case !verdict.IsEquation:
			logger.Debug("Equation candidate rejected", "box", px.String())
			return document.Region{}, false
		default:
			region.Transcription = verdict.Latex
		}
	}

	url, err := d.store.Save(ctx, in.Hash, imagestore.RegionImageName(in.Page, idx), crop)
	if err != nil {
		logger.Warn("Region persist failed", "error", err)
		return document.Region{}, false
	}
	region.ImageURL = url
	region.ID = regionID(in.Hash, in.Page, c)
	return region, true
}

func (d *Detector) needsConfirmation(c candidate) bool {
	return d.confirmer != nil && c.heuristic && c.label == document.LabelEquation &&
		c.modelScore < d.cfg.EquationAcceptConfidence
}

func regionID(hash string, page int, c candidate) string {
	key := fmt.Sprintf("%s/%d/%s/%.3f,%.3f,%.3f,%.3f", hash, page, c.label,
		c.box.MinX, c.box.MinY, c.box.MaxX, c.box.MaxY)
	return uuid.NewSHA1(regionNamespace, []byte(key)).String()
}
