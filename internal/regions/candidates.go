package regions

import (
	"image"
	"sort"
	"strings"

	"github.com/MeKo-Tech/docstream/internal/coords"
	"github.com/MeKo-Tech/docstream/internal/detector"
	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/geometry"
)

// Fixed scores for heuristic candidates. The model reports its own.
const (
	embeddedImageScore = 0.9
	mathFontScore      = 0.5
	whitespaceScore    = 0.4
)

// candidate is a region proposal in Document space.
type candidate struct {
	label      document.Label
	box        geometry.Box
	confidence float64
	source     document.Source
	// heuristic is true when the accepted area was first proposed by a
	// heuristic, even if a model detection later refined it.
	heuristic bool
	// modelScore is the best score of a model detection of the same label
	// that matched this candidate.
	modelScore float64
}

func (c candidate) sourcePriority() int {
	switch c.source {
	case document.SourceModel:
		return 0
	case document.SourceEmbeddedImage:
		return 1
	case document.SourceMathFont:
		return 2
	default:
		return 3
	}
}

// modelCandidates converts visual detections from Pixel to Document space.
func modelCandidates(dets []detector.Detection, render coords.Render) []candidate {
	ctx := coords.Context{Render: &render}
	out := make([]candidate, 0, len(dets))
	for _, d := range dets {
		if !d.Label.Visual() {
			continue
		}
		box, err := coords.Convert(d.Box, geometry.Pixel, geometry.Document, ctx)
		if err != nil || box.Empty() {
			continue
		}
		out = append(out, candidate{
			label:      d.Label,
			box:        box,
			confidence: d.Confidence,
			source:     document.SourceModel,
			modelScore: d.Confidence,
		})
	}
	return out
}

// embeddedImageCandidates turns image placements into figure candidates.
func embeddedImageCandidates(placements []document.Placement, pageW, pageH float64, cfg Config) []candidate {
	out := make([]candidate, 0, len(placements))
	for _, p := range placements {
		box := p.BBox.Clamp(pageW, pageH)
		if box.Width() < cfg.MinImageSize || box.Height() < cfg.MinImageSize {
			continue
		}
		out = append(out, candidate{
			label:      document.LabelFigure,
			box:        box,
			confidence: embeddedImageScore,
			source:     document.SourceEmbeddedImage,
			heuristic:  true,
		})
	}
	return out
}

// mathFontCandidates clusters glyphs set in math fonts into equation boxes.
func mathFontCandidates(glyphs []document.Glyph, cfg Config) []candidate {
	var boxes []geometry.Box
	for _, g := range glyphs {
		if isMathFont(g.Font, cfg.MathFontPatterns) && !g.BBox.Empty() {
			boxes = append(boxes, g.BBox)
		}
	}
	clustered := geometry.ClusterByProximity(boxes, cfg.EquationGap)
	clustered = geometry.FilterSmall(clustered, cfg.MinEquationWidth, cfg.MinEquationHeight)

	out := make([]candidate, 0, len(clustered))
	for _, b := range clustered {
		out = append(out, candidate{
			label:      document.LabelEquation,
			box:        b,
			confidence: mathFontScore,
			source:     document.SourceMathFont,
			heuristic:  true,
		})
	}
	return out
}

func isMathFont(font string, patterns []string) bool {
	if font == "" {
		return false
	}
	f := strings.ToLower(font)
	for _, p := range patterns {
		if p != "" && strings.Contains(f, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// whitespaceCandidates proposes the tall vertical gaps between consecutive
// text lines, spanning the text column. Only gaps that contain ink in the
// rendered page survive.
func whitespaceCandidates(lines []document.Line, render coords.Render, img image.Image, cfg Config) []candidate {
	if len(lines) < 2 || img == nil {
		return nil
	}
	sorted := append([]document.Line(nil), lines...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].BBox.MinY < sorted[j].BBox.MinY })

	column := sorted[0].BBox
	for _, l := range sorted[1:] {
		column = geometry.Union(column, l.BBox)
	}

	minGap := cfg.WhitespaceGapRatio * render.DocHeight
	ctx := coords.Context{Render: &render}
	var out []candidate
	for i := 0; i+1 < len(sorted); i++ {
		top, bottom := sorted[i].BBox.MaxY, sorted[i+1].BBox.MinY
		if bottom-top <= minGap {
			continue
		}
		box := geometry.NewBox(column.MinX, top, column.MaxX, bottom, geometry.Document)
		px, err := coords.Convert(box, geometry.Document, geometry.Pixel, ctx)
		if err != nil {
			continue
		}
		if inkRatio(img, px.ToRect(img.Bounds())) < cfg.MinInkRatio {
			continue
		}
		out = append(out, candidate{
			label:      document.LabelFigure,
			box:        box,
			confidence: whitespaceScore,
			source:     document.SourceWhitespace,
			heuristic:  true,
		})
	}
	return out
}

// inkThreshold is the luma below which a pixel counts as ink.
const inkThreshold = 200

// inkRatio is the share of dark pixels inside r.
func inkRatio(img image.Image, r image.Rectangle) float64 {
	r = r.Intersect(img.Bounds())
	total := r.Dx() * r.Dy()
	if total == 0 {
		return 0
	}
	ink := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			luma := (299*cr + 587*cg + 114*cb) / 1000 >> 8
			if luma < inkThreshold {
				ink++
			}
		}
	}
	return float64(ink) / float64(total)
}
