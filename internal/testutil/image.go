package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

// PageImage returns a white w x h raster with the given rectangles painted black.
func PageImage(w, h int, ink ...image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	for _, r := range ink {
		draw.Draw(img, r.Intersect(img.Bounds()), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	}
	return img
}

// EncodePNG encodes img as PNG.
func EncodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// PagePNG is PageImage encoded as PNG.
func PagePNG(t testing.TB, w, h int, ink ...image.Rectangle) []byte {
	t.Helper()
	return EncodePNG(t, PageImage(w, h, ink...))
}
