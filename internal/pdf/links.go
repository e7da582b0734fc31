package pdf

import (
	"github.com/dslipak/pdf"

	"github.com/MeKo-Tech/docstream/internal/document"
)

// Links returns the link annotations of a page in Document space. URI
// actions fill URI; named destinations fill Dest.
func (d *Document) Links(pageNum int) ([]document.Link, error) {
	links := []document.Link{}
	err := d.page(pageNum, func(p pdf.Page) error {
		frame, err := framePage(p)
		if err != nil {
			return err
		}
		annots := p.V.Key("Annots")
		for i := range annots.Len() {
			a := annots.Index(i)
			if a.Key("Subtype").Name() != "Link" {
				continue
			}
			rect, err := numbers(a.Key("Rect"))
			if err != nil || len(rect) != 4 {
				continue
			}
			link := document.Link{BBox: frame.toDocument(rect[0], rect[1], rect[2], rect[3])}
			if action := a.Key("A"); !action.IsNull() {
				switch action.Key("S").Name() {
				case "URI":
					link.URI = action.Key("URI").RawString()
				case "GoTo":
					link.Dest = destination(action.Key("D"))
				}
			} else {
				link.Dest = destination(a.Key("Dest"))
			}
			if link.URI == "" && link.Dest == "" {
				continue
			}
			links = append(links, link)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

func destination(v pdf.Value) string {
	switch v.Kind() {
	case pdf.Name:
		return v.Name()
	case pdf.String:
		return v.Text()
	default:
		// Explicit [page /XYZ ...] destinations reference page objects that
		// the parser does not expose as page numbers.
		return ""
	}
}
