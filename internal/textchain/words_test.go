package textchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/geometry"
)

func word(text string, x1, y1, x2, y2 float64) document.Word {
	return document.Word{Text: text, BBox: geometry.NewBox(x1, y1, x2, y2, geometry.Document)}
}

func TestWordsFromGlyphs(t *testing.T) {
	var gs []document.Glyph
	gs = append(gs, glyphs("Hello", 72, 100, 10)...)
	gs = append(gs, glyphs("world", 72+5*6+4, 100, 10)...) // 4pt gap > 0.25*10
	gs = append(gs, glyphs("next", 72, 120, 10)...)

	words := WordsFromGlyphs(gs)
	require.Len(t, words, 3)
	assert.Equal(t, "Hello", words[0].Text)
	assert.Equal(t, "world", words[1].Text)
	assert.Equal(t, "next", words[2].Text)
	assert.InDelta(t, 72, words[0].BBox.MinX, 1e-9)
	assert.InDelta(t, 102, words[0].BBox.MaxX, 1e-9)
}

func TestWordsFromGlyphsTightKerning(t *testing.T) {
	gs := glyphs("ab", 10, 10, 10)
	gs[1].BBox = gs[1].BBox.Translate(2, 0, geometry.Document) // 2pt gap <= 2.5
	words := WordsFromGlyphs(gs)
	require.Len(t, words, 1)
	assert.Equal(t, "ab", words[0].Text)
}

func TestWordsFromGlyphsSpacesAndLigatures(t *testing.T) {
	gs := glyphs("a b", 10, 10, 10)
	gs = append(gs, document.Glyph{
		Text: "\ufb01", FontSize: 10,
		BBox: geometry.NewBox(40, 10, 46, 20, geometry.Document),
	})
	words := WordsFromGlyphs(gs)
	require.Len(t, words, 3)
	assert.Equal(t, "a", words[0].Text)
	assert.Equal(t, "b", words[1].Text)
	assert.Equal(t, "fi", words[2].Text)
}

func TestJoinWordsReadingOrder(t *testing.T) {
	words := []document.Word{
		word("line", 60, 40, 80, 50),
		word("second", 10, 41, 50, 51),
		word("world", 40, 10, 70, 20),
		word("Hello", 10, 11, 35, 21),
	}
	assert.Equal(t, "Hello world\nsecond line", JoinWords(words))
	assert.Equal(t, "", JoinWords(nil))
}

func TestLines(t *testing.T) {
	lines := Lines([]document.Word{
		word("b", 30, 0, 40, 10),
		word("a", 0, 2, 20, 12),
		word("c", 0, 30, 10, 40),
	})
	require.Len(t, lines, 2)
	assert.Equal(t, "a b", lines[0].Text())
	assert.Equal(t, geometry.NewBox(0, 0, 40, 12, geometry.Document), lines[0].BBox)
	assert.Equal(t, "c", lines[1].Text())
}

func TestExcludeRegions(t *testing.T) {
	words := []document.Word{
		word("keep", 0, 0, 10, 10),
		word("drop", 100, 100, 110, 110),
		word("edge", 195, 100, 215, 110), // center 205 outside
	}
	regions := []geometry.Box{geometry.NewBox(90, 90, 200, 200, geometry.Document)}

	out, err := ExcludeRegions(words, regions)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "keep", out[0].Text)
	assert.Equal(t, "edge", out[1].Text)

	out, err = ExcludeRegions(words, nil)
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestExcludeRegionsSpaceMismatch(t *testing.T) {
	words := []document.Word{word("w", 0, 0, 10, 10)}
	_, err := ExcludeRegions(words, []geometry.Box{geometry.NewBox(0, 0, 5, 5, geometry.Pixel)})
	assert.ErrorIs(t, err, ErrSpaceMismatch)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "Hello World!", Normalize("\ufeff  Hello\tWorld\u200b!  "))
	assert.Equal(t, "x2", Normalize("x\u00b2"))
	assert.Equal(t, "a b", Normalize("a\x00\n b"))
	assert.Equal(t, "one\ntwo", NormalizeLines(" one \r\n\n  two\u200d "))
}
