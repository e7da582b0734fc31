package testutil

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PDFText is a line of text drawn at baseline (X, Y) in PDF user space.
type PDFText struct {
	X, Y float64
	Size float64
	Text string
	Font string // BaseFont name (default: Courier)
}

// PDFImage paints a small gray image XObject into the given rectangle.
type PDFImage struct {
	X, Y          float64
	Width, Height float64
}

// PDFLink is a link annotation with either a URI or a named destination.
type PDFLink struct {
	X1, Y1, X2, Y2 float64
	URI            string
	Dest           string
}

// PDFPage describes one page. Rotate is written as the page's /Rotate entry
// when non-zero.
type PDFPage struct {
	Width, Height float64
	Rotate        int
	Texts         []PDFText
	Images        []PDFImage
	Links         []PDFLink
}

// LetterPage returns an empty US letter page.
func LetterPage() PDFPage {
	return PDFPage{Width: 612, Height: 792}
}

// BuildPDF writes a minimal, valid PDF 1.4 file. Fonts carry a 600-unit
// width table so glyph advances are known to parsers.
func BuildPDF(pages ...PDFPage) []byte {
	w := &pdfWriter{}
	catalog := w.reserve()
	pagesID := w.reserve()

	fonts := map[string]int{}
	var fontNames []string
	for _, p := range pages {
		for _, t := range p.Texts {
			name := fontName(t.Font)
			if _, ok := fonts[name]; !ok {
				fonts[name] = 0
				fontNames = append(fontNames, name)
			}
		}
	}
	sort.Strings(fontNames)
	for _, name := range fontNames {
		fonts[name] = w.add(fontObject(name))
	}
	imageID := w.add("<< /Type /XObject /Subtype /Image /Width 2 /Height 2 /ColorSpace /DeviceGray " +
		"/BitsPerComponent 8 /Length 4 >>\nstream\n\x40\x40\x40\x40\nendstream")

	var fontRes strings.Builder
	for i, name := range fontNames {
		fmt.Fprintf(&fontRes, "/F%d %d 0 R ", i+1, fonts[name])
	}
	fontRef := func(font string) string {
		name := fontName(font)
		for i, n := range fontNames {
			if n == name {
				return fmt.Sprintf("/F%d", i+1)
			}
		}
		return "/F1"
	}

	kids := make([]string, 0, len(pages))
	for _, p := range pages {
		var content strings.Builder
		for _, t := range p.Texts {
			fmt.Fprintf(&content, "BT %s %s Tf 1 0 0 1 %s %s Tm (%s) Tj ET\n",
				fontRef(t.Font), num(t.Size), num(t.X), num(t.Y), escape(t.Text))
		}
		for _, img := range p.Images {
			fmt.Fprintf(&content, "q %s 0 0 %s %s %s cm /Im1 Do Q\n",
				num(img.Width), num(img.Height), num(img.X), num(img.Y))
		}
		contentID := w.add(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()))

		annots := make([]string, 0, len(p.Links))
		for _, l := range p.Links {
			action := fmt.Sprintf("/A << /S /URI /URI (%s) >>", escape(l.URI))
			if l.URI == "" {
				action = "/Dest /" + l.Dest
			}
			id := w.add(fmt.Sprintf("<< /Type /Annot /Subtype /Link /Rect [%s %s %s %s] /Border [0 0 0] %s >>",
				num(l.X1), num(l.Y1), num(l.X2), num(l.Y2), action))
			annots = append(annots, fmt.Sprintf("%d 0 R", id))
		}

		page := fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 %s %s] "+
			"/Resources << /Font << %s>> /XObject << /Im1 %d 0 R >> >> /Contents %d 0 R",
			pagesID, num(p.Width), num(p.Height), fontRes.String(), imageID, contentID)
		if p.Rotate != 0 {
			page += fmt.Sprintf(" /Rotate %d", p.Rotate)
		}
		if len(annots) > 0 {
			page += " /Annots [" + strings.Join(annots, " ") + "]"
		}
		kids = append(kids, fmt.Sprintf("%d 0 R", w.add(page+" >>")))
	}

	w.set(catalog, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesID))
	w.set(pagesID, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(kids)))
	return w.bytes(catalog)
}

type pdfWriter struct {
	objects []string
}

func (w *pdfWriter) reserve() int {
	w.objects = append(w.objects, "")
	return len(w.objects)
}

func (w *pdfWriter) add(body string) int {
	w.objects = append(w.objects, body)
	return len(w.objects)
}

func (w *pdfWriter) set(id int, body string) {
	w.objects[id-1] = body
}

func (w *pdfWriter) bytes(root int) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(w.objects))
	for i, body := range w.objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(w.objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(w.objects)+1, root, xref)
	return buf.Bytes()
}

func fontName(font string) string {
	if font == "" {
		return "Courier"
	}
	return font
}

func fontObject(name string) string {
	widths := strings.TrimSpace(strings.Repeat("600 ", 126-32+1))
	return fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont /%s /Encoding /WinAnsiEncoding "+
		"/FirstChar 32 /LastChar 126 /Widths [%s] >>", name, widths)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
	return r.Replace(s)
}
