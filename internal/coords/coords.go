// Package coords converts boxes between the document, rendered-pixel and
// model-input coordinate spaces. Conversions are always explicit: callers
// name the source and target space and pass the context that defines the
// transform.
package coords

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/docstream/internal/geometry"
)

var (
	// ErrSpaceMismatch is returned when a box is not tagged with the declared source space.
	ErrSpaceMismatch = errors.New("box space does not match source space")
	// ErrMissingContext is returned when a conversion needs a transform the context lacks.
	ErrMissingContext = errors.New("conversion context incomplete")
)

// Render describes a page rasterization. Scale factors are derived from the
// dimensions of the raster actually produced, never from the nominal DPI,
// so that rounding inside the rasterizer cannot drift boxes.
type Render struct {
	DocWidth    float64 `json:"doc_width"`
	DocHeight   float64 `json:"doc_height"`
	PixelWidth  int     `json:"pixel_width"`
	PixelHeight int     `json:"pixel_height"`
}

// NewRender builds a Render from the page size in document units and the
// decoded raster size.
func NewRender(docW, docH float64, pixelW, pixelH int) (Render, error) {
	if docW <= 0 || docH <= 0 {
		return Render{}, fmt.Errorf("invalid document size %.2fx%.2f", docW, docH)
	}
	if pixelW <= 0 || pixelH <= 0 {
		return Render{}, fmt.Errorf("invalid raster size %dx%d", pixelW, pixelH)
	}
	return Render{DocWidth: docW, DocHeight: docH, PixelWidth: pixelW, PixelHeight: pixelH}, nil
}

// ScaleX is pixels per document unit along x.
func (r Render) ScaleX() float64 { return float64(r.PixelWidth) / r.DocWidth }

// ScaleY is pixels per document unit along y.
func (r Render) ScaleY() float64 { return float64(r.PixelHeight) / r.DocHeight }

func (r Render) valid() bool {
	return r.DocWidth > 0 && r.DocHeight > 0 && r.PixelWidth > 0 && r.PixelHeight > 0
}

// Letterbox describes an aspect-preserving resize of a SrcWidth x SrcHeight
// raster into a Size x Size model input with centered padding.
type Letterbox struct {
	SrcWidth  int     `json:"src_width"`
	SrcHeight int     `json:"src_height"`
	Size      int     `json:"size"`
	Scale     float64 `json:"scale"`
	PadX      float64 `json:"pad_x"`
	PadY      float64 `json:"pad_y"`
	// ResizedWidth and ResizedHeight are the integer dimensions of the
	// scaled image pasted onto the canvas.
	ResizedWidth  int `json:"resized_width"`
	ResizedHeight int `json:"resized_height"`
}

// NewLetterbox computes the resize scale and padding offsets for fitting a
// srcW x srcH raster into a size x size square.
func NewLetterbox(srcW, srcH, size int) (Letterbox, error) {
	if srcW <= 0 || srcH <= 0 {
		return Letterbox{}, fmt.Errorf("invalid source size %dx%d", srcW, srcH)
	}
	if size <= 0 {
		return Letterbox{}, fmt.Errorf("invalid model input size %d", size)
	}
	scale := min(float64(size)/float64(srcW), float64(size)/float64(srcH))
	rw := max(1, min(size, int(float64(srcW)*scale+0.5)))
	rh := max(1, min(size, int(float64(srcH)*scale+0.5)))
	return Letterbox{
		SrcWidth:      srcW,
		SrcHeight:     srcH,
		Size:          size,
		Scale:         scale,
		PadX:          float64((size - rw) / 2),
		PadY:          float64((size - rh) / 2),
		ResizedWidth:  rw,
		ResizedHeight: rh,
	}, nil
}

func (l Letterbox) valid() bool { return l.Scale > 0 && l.Size > 0 }

// Context carries the transforms needed for a conversion. Render is needed
// for any step between Document and Pixel, Model for any step between Pixel
// and Model.
type Context struct {
	Render *Render
	Model  *Letterbox
}

// Convert maps b from one space to another. b must be tagged with from.
// Model to Document always runs in the fixed order: undo letterbox padding,
// undo the model resize scale, then undo the page render scale.
func Convert(b geometry.Box, from, to geometry.Space, ctx Context) (geometry.Box, error) {
	if !from.Valid() || !to.Valid() {
		return geometry.Box{}, fmt.Errorf("unknown coordinate space %q -> %q", from, to)
	}
	if b.Space != from {
		return geometry.Box{}, fmt.Errorf("%w: box is %q, declared %q", ErrSpaceMismatch, b.Space, from)
	}
	if from == to {
		return b, nil
	}

	var err error
	out := b
	switch from {
	case geometry.Document:
		if out, err = documentToPixel(out, ctx); err != nil {
			return geometry.Box{}, err
		}
		if to == geometry.Model {
			return pixelToModel(out, ctx)
		}
		return out, nil
	case geometry.Pixel:
		if to == geometry.Document {
			return pixelToDocument(out, ctx)
		}
		return pixelToModel(out, ctx)
	default: // geometry.Model
		if out, err = modelToPixel(out, ctx); err != nil {
			return geometry.Box{}, err
		}
		if to == geometry.Document {
			return pixelToDocument(out, ctx)
		}
		return out, nil
	}
}

// ConvertAll converts every box; the first failure aborts.
func ConvertAll(boxes []geometry.Box, from, to geometry.Space, ctx Context) ([]geometry.Box, error) {
	out := make([]geometry.Box, len(boxes))
	for i, b := range boxes {
		c, err := Convert(b, from, to, ctx)
		if err != nil {
			return nil, fmt.Errorf("box %d: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}

func documentToPixel(b geometry.Box, ctx Context) (geometry.Box, error) {
	if ctx.Render == nil || !ctx.Render.valid() {
		return geometry.Box{}, fmt.Errorf("%w: render scale required", ErrMissingContext)
	}
	return b.Scale(ctx.Render.ScaleX(), ctx.Render.ScaleY(), geometry.Pixel), nil
}

func pixelToDocument(b geometry.Box, ctx Context) (geometry.Box, error) {
	if ctx.Render == nil || !ctx.Render.valid() {
		return geometry.Box{}, fmt.Errorf("%w: render scale required", ErrMissingContext)
	}
	return b.Scale(1/ctx.Render.ScaleX(), 1/ctx.Render.ScaleY(), geometry.Document), nil
}

func pixelToModel(b geometry.Box, ctx Context) (geometry.Box, error) {
	if ctx.Model == nil || !ctx.Model.valid() {
		return geometry.Box{}, fmt.Errorf("%w: letterbox required", ErrMissingContext)
	}
	l := ctx.Model
	scaled := b.Scale(l.Scale, l.Scale, geometry.Model)
	return scaled.Translate(l.PadX, l.PadY, geometry.Model), nil
}

func modelToPixel(b geometry.Box, ctx Context) (geometry.Box, error) {
	if ctx.Model == nil || !ctx.Model.valid() {
		return geometry.Box{}, fmt.Errorf("%w: letterbox required", ErrMissingContext)
	}
	l := ctx.Model
	unpadded := b.Translate(-l.PadX, -l.PadY, geometry.Model)
	return unpadded.Scale(1/l.Scale, 1/l.Scale, geometry.Pixel), nil
}
