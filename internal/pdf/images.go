package pdf

import (
	"github.com/dslipak/pdf"

	"github.com/MeKo-Tech/docstream/internal/document"
)

// matrix is a PDF affine transform [a b c d e f].
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul returns m applied before n.
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return x*m[0] + y*m[2] + m[4], x*m[1] + y*m[3] + m[5]
}

// Images returns where image XObjects are painted on a page, in Document
// space. Each placement is the transformed unit square of one Do operator.
func (d *Document) Images(pageNum int) ([]document.Placement, error) {
	placements := []document.Placement{}
	err := d.page(pageNum, func(p pdf.Page) error {
		frame, err := framePage(p)
		if err != nil {
			return err
		}
		xobjects := p.Resources().Key("XObject")
		ctm := identity
		var saved []matrix

		do := func(stk *pdf.Stack, op string) {
			args := make([]pdf.Value, stk.Len())
			for i := len(args) - 1; i >= 0; i-- {
				args[i] = stk.Pop()
			}
			switch op {
			case "q":
				saved = append(saved, ctm)
			case "Q":
				if n := len(saved); n > 0 {
					ctm = saved[n-1]
					saved = saved[:n-1]
				}
			case "cm":
				if len(args) != 6 {
					return
				}
				var m matrix
				for i := range m {
					m[i] = args[i].Float64()
				}
				ctm = m.mul(ctm)
			case "Do":
				if len(args) != 1 {
					return
				}
				name := args[0].Name()
				if xobjects.Key(name).Key("Subtype").Name() != "Image" {
					return
				}
				x1, y1, x2, y2 := unitSquare(ctm)
				placements = append(placements, document.Placement{
					Name: name,
					BBox: frame.toDocument(x1, y1, x2, y2),
				})
			}
		}

		contents := p.V.Key("Contents")
		if contents.Kind() == pdf.Array {
			for i := range contents.Len() {
				pdf.Interpret(contents.Index(i), do)
			}
		} else {
			pdf.Interpret(contents, do)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placements, nil
}

// unitSquare returns the user-space bounds of the unit square under m.
func unitSquare(m matrix) (float64, float64, float64, float64) {
	x0, y0 := m.apply(0, 0)
	x1, y1 := m.apply(1, 0)
	x2, y2 := m.apply(0, 1)
	x3, y3 := m.apply(1, 1)
	return min(x0, x1, x2, x3), min(y0, y1, y2, y3), max(x0, x1, x2, x3), max(y0, y1, y2, y3)
}
