package textchain

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/geometry"
)

// WordGapRatio is the horizontal gap, relative to the font size, above
// which two consecutive glyphs belong to different words.
const WordGapRatio = 0.25

// ErrSpaceMismatch is returned when words and region boxes are not in the
// same coordinate space.
var ErrSpaceMismatch = errors.New("words and regions are in different coordinate spaces")

// WordsFromGlyphs groups glyphs in content-stream order into words. A new
// word starts on a horizontal gap, a move backwards or a change of line.
func WordsFromGlyphs(glyphs []document.Glyph) []document.Word {
	var (
		words []document.Word
		cur   strings.Builder
		box   geometry.Box
		prev  document.Glyph
		open  bool
	)
	flush := func() {
		if !open {
			return
		}
		if txt := Normalize(cur.String()); txt != "" {
			words = append(words, document.Word{Text: txt, BBox: box})
		}
		cur.Reset()
		open = false
	}

	for _, g := range glyphs {
		if strings.TrimSpace(g.Text) == "" {
			flush()
			continue
		}
		if open && breaksWord(prev, g) {
			flush()
		}
		if !open {
			box = g.BBox
			open = true
		} else {
			box = geometry.Union(box, g.BBox)
		}
		cur.WriteString(g.Text)
		prev = g
	}
	flush()
	return words
}

func breaksWord(prev, next document.Glyph) bool {
	size := math.Max(prev.FontSize, next.FontSize)
	if size <= 0 {
		size = math.Max(prev.BBox.Height(), next.BBox.Height())
	}
	gap := next.BBox.MinX - prev.BBox.MaxX
	if gap > WordGapRatio*size {
		return true
	}
	if next.BBox.MaxX < prev.BBox.MinX {
		return true
	}
	return !sameLine(prev.BBox, next.BBox)
}

// sameLine reports whether two boxes overlap vertically by at least half of
// the shorter one.
func sameLine(a, b geometry.Box) bool {
	h := math.Min(a.Height(), b.Height())
	if h <= 0 {
		_, ay := a.Center()
		_, by := b.Center()
		return math.Abs(ay-by) < 1e-6
	}
	overlap := math.Min(a.MaxY, b.MaxY) - math.Max(a.MinY, b.MinY)
	return overlap >= 0.5*h
}

// Lines groups words into reading-order lines: top to bottom, and left to
// right inside a line.
func Lines(words []document.Word) []document.Line {
	if len(words) == 0 {
		return nil
	}
	sorted := append([]document.Word(nil), words...)
	sort.SliceStable(sorted, func(i, j int) bool {
		_, yi := sorted[i].BBox.Center()
		_, yj := sorted[j].BBox.Center()
		if yi != yj {
			return yi < yj
		}
		return sorted[i].BBox.MinX < sorted[j].BBox.MinX
	})

	var lines []document.Line
	for _, w := range sorted {
		n := len(lines)
		if n > 0 && sameLine(lines[n-1].BBox, w.BBox) {
			lines[n-1].Words = append(lines[n-1].Words, w)
			lines[n-1].BBox = geometry.Union(lines[n-1].BBox, w.BBox)
			continue
		}
		lines = append(lines, document.Line{Words: []document.Word{w}, BBox: w.BBox})
	}
	for i := range lines {
		sort.SliceStable(lines[i].Words, func(a, b int) bool {
			return lines[i].Words[a].BBox.MinX < lines[i].Words[b].BBox.MinX
		})
	}
	return lines
}

// JoinWords rebuilds page text from boxed words, one line per text line.
func JoinWords(words []document.Word) string {
	lines := Lines(words)
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Text())
	}
	return strings.Join(out, "\n")
}

// ExcludeRegions drops every word whose center lies inside one of the
// region boxes.
func ExcludeRegions(words []document.Word, regions []geometry.Box) ([]document.Word, error) {
	if len(words) == 0 || len(regions) == 0 {
		return words, nil
	}
	space := words[0].BBox.Space
	for _, r := range regions {
		if r.Space != space {
			return nil, fmt.Errorf("%w: words in %s, region in %s", ErrSpaceMismatch, space, r.Space)
		}
	}
	out := make([]document.Word, 0, len(words))
	for _, w := range words {
		if w.BBox.Space != space {
			return nil, fmt.Errorf("%w: mixed word spaces %s and %s", ErrSpaceMismatch, space, w.BBox.Space)
		}
		cx, cy := w.BBox.Center()
		inside := false
		for _, r := range regions {
			if r.Contains(cx, cy) {
				inside = true
				break
			}
		}
		if !inside {
			out = append(out, w)
		}
	}
	return out, nil
}
