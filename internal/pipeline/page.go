package pipeline

import (
	"bytes"
	"context"
	"image/png"
	"log/slog"

	"github.com/MeKo-Tech/docstream/internal/common"
	"github.com/MeKo-Tech/docstream/internal/coords"
	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/geometry"
	"github.com/MeKo-Tech/docstream/internal/imagestore"
	"github.com/MeKo-Tech/docstream/internal/regions"
	"github.com/MeKo-Tech/docstream/internal/textchain"
)

// glyphSource hands already-read glyphs to the text chain.
type glyphSource struct {
	glyphs []document.Glyph
	err    error
}

func (g glyphSource) Glyphs(int) ([]document.Glyph, error) { return g.glyphs, g.err }

// pageRun carries the state of one page between phases.
type pageRun struct {
	rec      document.Page
	native   textchain.Result
	glyphs   []document.Glyph
	docW     float64
	docH     float64
	sizeOK   bool
	image    []byte
	render   coords.Render
	rendered bool
}

// runPage moves one page through all phases and emits a snapshot after
// each. It stops early when send reports the stream is gone or ctx ends
// between phases.
func (p *Pipeline) runPage(ctx context.Context, doc Document, hash string, num, total int, send func(Event) bool) {
	logger := p.logger.With("hash", shortHash(hash), "page", num)
	run := &pageRun{rec: document.Page{
		PageNumber: num,
		TotalPages: total,
		Phase:      document.PhasePending,
		Tier:       document.TierNone,
		Words:      []document.Word{},
		Regions:    []document.Region{},
		Links:      []document.Link{},
	}}

	sw := common.NewStopwatch()
	emit := func() bool {
		elapsed := sw.Lap(string(run.rec.Phase))
		logger.Debug("Phase complete", "phase", run.rec.Phase, "elapsed", elapsed)
		page := run.rec.Clone()
		return send(Event{Type: EventPage, Hash: hash, TotalPages: total, Page: &page, Elapsed: elapsed})
	}

	p.phaseNative(ctx, logger, doc, run)
	if !emit() || ctx.Err() != nil {
		return
	}

	p.phaseRaster(ctx, logger, doc, hash, run)
	if !emit() || ctx.Err() != nil {
		return
	}

	p.phaseRegions(ctx, logger, doc, hash, run)
	emit()
	logger.Debug("Page complete", "tier", run.rec.Tier, "timings", sw)
}

// phaseNative reads the page size, the native text layer and the links.
// Words are in Document space.
func (p *Pipeline) phaseNative(ctx context.Context, logger *slog.Logger, doc Document, run *pageRun) {
	num := run.rec.PageNumber
	w, h, err := doc.PageSize(num)
	if err != nil {
		logger.Warn("Cannot read page size", "error", err)
	} else {
		run.docW, run.docH, run.sizeOK = w, h, true
	}

	glyphs, gerr := doc.Glyphs(num)
	run.glyphs = glyphs
	run.native = p.chain.Native(ctx, glyphSource{glyphs: glyphs, err: gerr}, num)
	if run.native.OK() {
		run.rec.Tier = run.native.Tier
		run.rec.Words = run.native.Words
		run.rec.Text = run.native.Text
	}

	links, err := doc.Links(num)
	if err != nil {
		logger.Debug("Cannot read links", "error", err)
	} else if links != nil {
		run.rec.Links = links
	}
	run.rec.Phase = document.Phase1
}

// phaseRaster renders the page once, stores the raster, moves native words
// to Pixel space and runs the OCR fallback when there was no native text.
func (p *Pipeline) phaseRaster(ctx context.Context, logger *slog.Logger, doc Document, hash string, run *pageRun) {
	num := run.rec.PageNumber
	defer func() {
		run.rec.Phase = document.Phase2
		run.rec.Unextractable = run.rec.Tier == document.TierNone
	}()

	if !run.sizeOK {
		run.rec.RenderFailed = true
		return
	}
	img, err := doc.Render(ctx, num, p.cfg.DPI)
	if err != nil {
		logger.Warn("Page render failed", "error", err)
		run.rec.RenderFailed = true
		return
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		logger.Warn("Rendered page is not a PNG", "error", err)
		run.rec.RenderFailed = true
		return
	}
	render, err := coords.NewRender(run.docW, run.docH, cfg.Width, cfg.Height)
	if err != nil {
		logger.Warn("Invalid render geometry", "error", err)
		run.rec.RenderFailed = true
		return
	}
	run.image, run.render, run.rendered = img, render, true
	run.rec.RenderWidth, run.rec.RenderHeight = cfg.Width, cfg.Height

	if p.images != nil {
		url, err := p.images.Save(ctx, hash, imagestore.PageImageName(num), img)
		if err != nil {
			logger.Warn("Cannot store page image", "error", err)
		} else {
			run.rec.ImageURL = url
		}
	}

	if run.native.OK() {
		run.rec.Words = toPixel(logger, run.native.Words, render)
		return
	}
	fb := p.chain.Fallback(ctx, img, render)
	if fb.OK() {
		run.rec.Tier = fb.Tier
		run.rec.Words = fb.Words
		run.rec.Text = fb.Text
	}
}

// phaseRegions detects regions, removes the words they cover and rebuilds
// the page text.
func (p *Pipeline) phaseRegions(ctx context.Context, logger *slog.Logger, doc Document, hash string, run *pageRun) {
	defer func() { run.rec.Phase = document.PhaseFinal }()
	if !run.rendered || p.regions == nil {
		return
	}
	num := run.rec.PageNumber

	placements, err := doc.Images(num)
	if err != nil {
		logger.Debug("Cannot read image placements", "error", err)
	}
	found := p.regions.Detect(ctx, regions.Input{
		Page:       num,
		Hash:       hash,
		Image:      run.image,
		Render:     run.render,
		Glyphs:     run.glyphs,
		Lines:      textchain.Lines(run.native.Words),
		Placements: placements,
		RunModel:   p.cfg.RunModel,
	})
	if len(found) == 0 {
		return
	}
	run.rec.Regions = found

	boxes := make([]geometry.Box, len(found))
	for i, r := range found {
		boxes[i] = r.BBox
	}
	words, err := textchain.ExcludeRegions(run.rec.Words, boxes)
	if err != nil {
		logger.Warn("Cannot exclude region words", "error", err)
		return
	}
	run.rec.Words = words
	if run.rec.Tier != document.TierGenerative {
		run.rec.Text = textchain.JoinWords(words)
	}
}

func toPixel(logger *slog.Logger, words []document.Word, render coords.Render) []document.Word {
	ctx := coords.Context{Render: &render}
	out := make([]document.Word, 0, len(words))
	for _, w := range words {
		box, err := coords.Convert(w.BBox, geometry.Document, geometry.Pixel, ctx)
		if err != nil {
			logger.Debug("Dropping unconvertible word", "word", w.Text, "error", err)
			continue
		}
		out = append(out, document.Word{Text: w.Text, BBox: box})
	}
	return out
}
