package pdf

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/dslipak/pdf"

	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/geometry"
)

// Glyph box extents relative to the font size, measured from the baseline.
const (
	ascent  = 0.8
	descent = 0.2
	// advance used when the font carries no width table
	fallbackAdvance = 0.5
)

// pageFrame is the visible page box in PDF user space and the clockwise
// display rotation from /Rotate (0, 90, 180 or 270).
type pageFrame struct {
	llx, lly      float64
	width, height float64
	rotate        int
}

// size returns the displayed page size, which is what a rasterizer renders.
func (f pageFrame) size() (float64, float64) {
	if f.rotate == 90 || f.rotate == 270 {
		return f.height, f.width
	}
	return f.width, f.height
}

// point maps a user-space point into the displayed page, top-left origin.
func (f pageFrame) point(x, y float64) (float64, float64) {
	ux, uy := x-f.llx, y-f.lly
	switch f.rotate {
	case 90:
		return uy, ux
	case 180:
		return f.width - ux, uy
	case 270:
		return f.height - uy, f.width - ux
	default:
		return ux, f.height - uy
	}
}

// toDocument maps a user-space rectangle (bottom-left origin) into Document
// space (top-left origin of the displayed page, points).
func (f pageFrame) toDocument(x1, y1, x2, y2 float64) geometry.Box {
	ax, ay := f.point(x1, y1)
	bx, by := f.point(x2, y2)
	return geometry.NewBox(ax, ay, bx, by, geometry.Document)
}

// PageSize returns the page width and height in points.
func (d *Document) PageSize(pageNum int) (float64, float64, error) {
	var frame pageFrame
	err := d.page(pageNum, func(p pdf.Page) error {
		var err error
		frame, err = framePage(p)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	w, h := frame.size()
	return w, h, nil
}

// Glyphs returns the native text layer of a page, one glyph per character,
// in Document space. Whitespace is not reported.
func (d *Document) Glyphs(pageNum int) ([]document.Glyph, error) {
	var glyphs []document.Glyph
	err := d.page(pageNum, func(p pdf.Page) error {
		frame, err := framePage(p)
		if err != nil {
			return err
		}
		content := p.Content()
		glyphs = make([]document.Glyph, 0, len(content.Text))
		for _, t := range content.Text {
			if strings.TrimFunc(t.S, unicode.IsSpace) == "" {
				continue
			}
			size := t.FontSize
			if size < 0 {
				size = -size
			}
			w := t.W
			if w <= 0 {
				w = fallbackAdvance * size
			}
			glyphs = append(glyphs, document.Glyph{
				Text:     t.S,
				Font:     t.Font,
				FontSize: size,
				BBox:     frame.toDocument(t.X, t.Y-descent*size, t.X+w, t.Y+ascent*size),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return glyphs, nil
}

func framePage(p pdf.Page) (pageFrame, error) {
	for _, key := range []string{"CropBox", "MediaBox"} {
		box := inherited(p.V, key)
		if box.Kind() != pdf.Array || box.Len() != 4 {
			continue
		}
		x1, y1 := box.Index(0).Float64(), box.Index(1).Float64()
		x2, y2 := box.Index(2).Float64(), box.Index(3).Float64()
		f := pageFrame{
			llx: min(x1, x2), lly: min(y1, y2),
			width: abs(x2 - x1), height: abs(y2 - y1),
			rotate: rotation(inherited(p.V, "Rotate")),
		}
		if f.width > 0 && f.height > 0 {
			return f, nil
		}
	}
	return pageFrame{}, errors.New("page has no usable MediaBox")
}

// rotation normalizes /Rotate to 0, 90, 180 or 270. Values that are not a
// multiple of 90 are invalid and treated as 0.
func rotation(v pdf.Value) int {
	if v.Kind() != pdf.Integer {
		return 0
	}
	r := int(v.Int64()) % 360
	if r < 0 {
		r += 360
	}
	if r%90 != 0 {
		return 0
	}
	return r
}

// inherited looks a key up on the page and then its ancestors in the page tree.
func inherited(v pdf.Value, key string) pdf.Value {
	for depth := 0; depth < 32 && !v.IsNull(); depth++ {
		if x := v.Key(key); !x.IsNull() {
			return x
		}
		v = v.Key("Parent")
	}
	return pdf.Value{}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func numbers(v pdf.Value) ([]float64, error) {
	if v.Kind() != pdf.Array {
		return nil, fmt.Errorf("expected array, got %v", v.Kind())
	}
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.Index(i).Float64()
	}
	return out, nil
}
