package document

import "github.com/MeKo-Tech/docstream/internal/geometry"

// Glyph is one character of the native text layer in Document space.
type Glyph struct {
	Text     string       `json:"text"`
	Font     string       `json:"font"`
	FontSize float64      `json:"font_size"`
	BBox     geometry.Box `json:"bbox"`
}

// Line is a run of words sharing a baseline band.
type Line struct {
	Words []Word       `json:"words"`
	BBox  geometry.Box `json:"bbox"`
}

// Text joins the words of the line with single spaces.
func (l Line) Text() string {
	n := 0
	for _, w := range l.Words {
		n += len(w.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, w := range l.Words {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, w.Text...)
	}
	return string(buf)
}

// Placement is where an image XObject is drawn on a page.
type Placement struct {
	Name string       `json:"name"`
	BBox geometry.Box `json:"bbox"`
}
