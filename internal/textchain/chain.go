// Package textchain extracts page text through an ordered chain of tiers:
// the native text layer, a cloud OCR service and finally a generative
// model. The first tier that yields text wins.
package textchain

import (
	"context"
	"log/slog"

	"github.com/MeKo-Tech/docstream/internal/ai"
	"github.com/MeKo-Tech/docstream/internal/coords"
	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/geometry"
	"github.com/MeKo-Tech/docstream/internal/ocr"
)

// DefaultInstruction is the prompt sent with a page image to the generative tier.
const DefaultInstruction = "Transcribe all text on this page in natural reading order. " +
	"Return only the transcribed text, one line per text line, with no commentary. " +
	"If the page contains no text, return nothing."

// NativeSource exposes the embedded text layer of a document.
type NativeSource interface {
	Glyphs(pageNum int) ([]document.Glyph, error)
}

// Options configures a Chain.
type Options struct {
	Instruction string
	Logger      *slog.Logger
}

// Result is the outcome of the chain for one page.
type Result struct {
	Tier          document.Tier
	Words         []document.Word
	Text          string
	Unextractable bool
}

// OK reports whether a tier produced text.
func (r Result) OK() bool { return r.Tier != document.TierNone && r.Tier != "" }

func unextractable() Result {
	return Result{Tier: document.TierNone, Words: []document.Word{}, Unextractable: true}
}

// Input is everything the full chain may need for one page.
type Input struct {
	Page   int
	Native NativeSource
	Image  []byte
	Render coords.Render
}

// Chain runs the tiers. Either service may be nil, which disables its tier.
type Chain struct {
	ocr         ocr.Service
	ai          ai.Service
	instruction string
	logger      *slog.Logger
}

// New creates a Chain.
func New(ocrSvc ocr.Service, aiSvc ai.Service, opts Options) *Chain {
	if opts.Instruction == "" {
		opts.Instruction = DefaultInstruction
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Chain{ocr: ocrSvc, ai: aiSvc, instruction: opts.Instruction, logger: opts.Logger}
}

// Native reads the embedded text layer. Words are in Document space.
func (c *Chain) Native(ctx context.Context, src NativeSource, pageNum int) Result {
	if src == nil || ctx.Err() != nil {
		return unextractable()
	}
	glyphs, err := src.Glyphs(pageNum)
	if err != nil {
		c.logger.Debug("Native text layer unavailable", "page", pageNum, "error", err)
		return unextractable()
	}
	words := WordsFromGlyphs(glyphs)
	if len(words) == 0 {
		return unextractable()
	}
	return Result{Tier: document.TierNative, Words: words, Text: JoinWords(words)}
}

// Fallback recognizes a rendered page image: cloud OCR first, then the
// generative model. OCR words are in Pixel space of render; the generative
// tier yields text only.
func (c *Chain) Fallback(ctx context.Context, img []byte, render coords.Render) Result {
	if len(img) == 0 {
		return unextractable()
	}
	if r, ok := c.cloudOCR(ctx, img, render); ok {
		return r
	}
	if r, ok := c.generative(ctx, img); ok {
		return r
	}
	return unextractable()
}

// Extract runs the whole chain and stops at the first tier that succeeds.
func (c *Chain) Extract(ctx context.Context, in Input) Result {
	if r := c.Native(ctx, in.Native, in.Page); r.OK() {
		return r
	}
	return c.Fallback(ctx, in.Image, in.Render)
}

func (c *Chain) cloudOCR(ctx context.Context, img []byte, render coords.Render) (Result, bool) {
	if c.ocr == nil || ctx.Err() != nil || !c.ocr.Available(ctx) {
		return Result{}, false
	}
	res, err := c.ocr.DetectText(ctx, img)
	if err != nil {
		c.logger.Warn("Cloud OCR failed", "error", err)
		return Result{}, false
	}
	w, h := float64(render.PixelWidth), float64(render.PixelHeight)
	words := make([]document.Word, 0, len(res.Words))
	for _, word := range res.Words {
		txt := Normalize(word.Text)
		if txt == "" {
			continue
		}
		box := word.BBox
		box.Space = geometry.Pixel
		if w > 0 && h > 0 {
			box = box.Clamp(w, h)
		}
		words = append(words, document.Word{Text: txt, BBox: box})
	}
	if len(words) == 0 {
		return Result{}, false
	}
	return Result{Tier: document.TierCloudOCR, Words: words, Text: JoinWords(words)}, true
}

func (c *Chain) generative(ctx context.Context, img []byte) (Result, bool) {
	if c.ai == nil || ctx.Err() != nil {
		return Result{}, false
	}
	out, err := c.ai.GenerateFromImage(ctx, c.instruction, img, "image/png")
	if err != nil {
		c.logger.Warn("Generative transcription failed", "error", err)
		return Result{}, false
	}
	text := NormalizeLines(out)
	if text == "" {
		return Result{}, false
	}
	return Result{Tier: document.TierGenerative, Words: []document.Word{}, Text: text}, true
}
