package coords

import (
	"math"
	"testing"

	"github.com/MeKo-Tech/docstream/internal/geometry"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func letterPage(t *testing.T) (Render, Letterbox) {
	t.Helper()
	// US Letter rendered at a nominal 200 DPI; the rasterizer produced one
	// pixel less than the nominal 1700 in width.
	r, err := NewRender(612, 792, 1699, 2200)
	require.NoError(t, err)
	l, err := NewLetterbox(r.PixelWidth, r.PixelHeight, 1024)
	require.NoError(t, err)
	return r, l
}

func TestRenderScaleUsesActualPixels(t *testing.T) {
	r, _ := letterPage(t)
	assert.InDelta(t, 1699.0/612.0, r.ScaleX(), 1e-12)
	assert.InDelta(t, 2200.0/792.0, r.ScaleY(), 1e-12)
}

func TestNewLetterboxCentersPadding(t *testing.T) {
	l, err := NewLetterbox(2000, 1000, 1024)
	require.NoError(t, err)
	assert.InDelta(t, 0.512, l.Scale, 1e-12)
	assert.Equal(t, 1024, l.ResizedWidth)
	assert.Equal(t, 512, l.ResizedHeight)
	assert.InDelta(t, 0.0, l.PadX, 1e-12)
	assert.InDelta(t, 256.0, l.PadY, 1e-12)

	_, err = NewLetterbox(0, 10, 1024)
	assert.Error(t, err)
}

func TestConvertRejectsUntaggedOrMismatchedBoxes(t *testing.T) {
	r, l := letterPage(t)
	ctx := Context{Render: &r, Model: &l}

	_, err := Convert(geometry.NewBox(0, 0, 1, 1, geometry.Pixel), geometry.Document, geometry.Model, ctx)
	assert.ErrorIs(t, err, ErrSpaceMismatch)

	_, err = Convert(geometry.NewBox(0, 0, 1, 1, ""), "", geometry.Pixel, ctx)
	assert.Error(t, err)
}

func TestConvertRequiresContext(t *testing.T) {
	r, _ := letterPage(t)
	b := geometry.NewBox(10, 10, 20, 20, geometry.Document)

	_, err := Convert(b, geometry.Document, geometry.Pixel, Context{})
	assert.ErrorIs(t, err, ErrMissingContext)

	_, err = Convert(b, geometry.Document, geometry.Model, Context{Render: &r})
	assert.ErrorIs(t, err, ErrMissingContext)
}

func TestConvertModelToDocumentOrder(t *testing.T) {
	r, l := letterPage(t)
	ctx := Context{Render: &r, Model: &l}

	// The padded top-left corner of the content area in model space maps to
	// the document origin.
	corner := geometry.NewBox(l.PadX, l.PadY, l.PadX, l.PadY, geometry.Model)
	got, err := Convert(corner, geometry.Model, geometry.Document, ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, got.MinX, 1e-9)
	assert.InDelta(t, 0.0, got.MinY, 1e-9)
	assert.Equal(t, geometry.Document, got.Space)
}

func TestConvertIdentity(t *testing.T) {
	b := geometry.NewBox(1, 2, 3, 4, geometry.Pixel)
	got, err := Convert(b, geometry.Pixel, geometry.Pixel, Context{})
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestConvertRoundTripProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("Document -> Pixel -> Model -> Document is the identity", prop.ForAll(
		func(x, y, w, h, dpi float64, size int) bool {
			docW, docH := 612.0, 792.0
			pw := int(math.Round(docW * dpi / 72))
			ph := int(math.Round(docH * dpi / 72))
			r, err := NewRender(docW, docH, pw, ph)
			if err != nil {
				return false
			}
			l, err := NewLetterbox(pw, ph, size)
			if err != nil {
				return false
			}
			ctx := Context{Render: &r, Model: &l}

			b := geometry.NewBox(x, y, math.Min(x+w, docW), math.Min(y+h, docH), geometry.Document)
			p, err := Convert(b, geometry.Document, geometry.Pixel, ctx)
			if err != nil {
				return false
			}
			m, err := Convert(p, geometry.Pixel, geometry.Model, ctx)
			if err != nil {
				return false
			}
			back, err := Convert(m, geometry.Model, geometry.Document, ctx)
			if err != nil {
				return false
			}
			const eps = 1e-6
			return back.Space == geometry.Document &&
				math.Abs(back.MinX-b.MinX) < eps && math.Abs(back.MinY-b.MinY) < eps &&
				math.Abs(back.MaxX-b.MaxX) < eps && math.Abs(back.MaxY-b.MaxY) < eps
		},
		gen.Float64Range(0, 600),
		gen.Float64Range(0, 780),
		gen.Float64Range(0, 300),
		gen.Float64Range(0, 300),
		gen.Float64Range(72, 400),
		gen.IntRange(320, 1536),
	))

	properties.TestingRun(t)
}
