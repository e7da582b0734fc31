package detector

import (
	"fmt"

	"github.com/MeKo-Tech/docstream/internal/coords"
	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/geometry"
)

// Detection is one layout model prediction in Pixel space of the source image.
type Detection struct {
	Label      document.Label `json:"label"`
	Class      string         `json:"class"`
	ClassID    int            `json:"class_id"`
	Confidence float64        `json:"confidence"`
	Box        geometry.Box   `json:"box"`
}

// rawDetection is a decoded model row still in Model space.
type rawDetection struct {
	box   geometry.Box
	score float64
	class int
}

// Postprocess decodes model output, filters it by confidence, maps it back
// to source pixels and applies dual-threshold suppression.
//
// Two output layouts are understood: end-to-end rows [1,N,6] of
// (x1,y1,x2,y2,score,class) and raw YOLO heads [1,4+C,N] of
// (cx,cy,w,h,score_0..score_C-1).
func Postprocess(data []float32, shape []int64, lb coords.Letterbox, cfg Config) ([]Detection, error) {
	raws, err := decode(data, shape, cfg.ConfidenceThreshold)
	if err != nil {
		return nil, err
	}

	ctx := coords.Context{Model: &lb}
	dets := make([]Detection, 0, len(raws))
	for _, r := range raws {
		px, err := coords.Convert(r.box, geometry.Model, geometry.Pixel, ctx)
		if err != nil {
			return nil, fmt.Errorf("map detection to pixels: %w", err)
		}
		px = px.Clamp(float64(lb.SrcWidth), float64(lb.SrcHeight))
		if px.Empty() {
			continue
		}
		label, name := cfg.label(r.class)
		dets = append(dets, Detection{
			Label:      label,
			Class:      name,
			ClassID:    r.class,
			Confidence: r.score,
			Box:        px,
		})
	}
	return Suppress(dets, cfg.IoUThreshold, cfg.IoAThreshold), nil
}

func decode(data []float32, shape []int64, threshold float64) ([]rawDetection, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("unsupported output shape %v", shape)
	}
	rows, cols := int(shape[1]), int(shape[2])
	if len(data) != rows*cols {
		return nil, fmt.Errorf("output data length %d does not match shape %v", len(data), shape)
	}
	switch {
	case cols == 6:
		return decodeRows(data, rows, threshold), nil
	case rows > 4:
		return decodeHeads(data, rows-4, cols, threshold), nil
	default:
		return nil, fmt.Errorf("unsupported output shape %v", shape)
	}
}

func decodeRows(data []float32, n int, threshold float64) []rawDetection {
	out := make([]rawDetection, 0)
	for i := range n {
		row := data[i*6 : i*6+6]
		score := float64(row[4])
		if score < threshold {
			continue
		}
		out = append(out, rawDetection{
			box:   geometry.NewBox(float64(row[0]), float64(row[1]), float64(row[2]), float64(row[3]), geometry.Model),
			score: score,
			class: int(row[5]),
		})
	}
	return out
}

// decodeHeads reads channel-major YOLO output: data[c*n + i] is channel c of
// anchor i.
func decodeHeads(data []float32, classes, n int, threshold float64) []rawDetection {
	out := make([]rawDetection, 0)
	for i := range n {
		best, bestScore := -1, float32(0)
		for c := range classes {
			if s := data[(4+c)*n+i]; best < 0 || s > bestScore {
				best, bestScore = c, s
			}
		}
		if float64(bestScore) < threshold {
			continue
		}
		cx, cy := float64(data[i]), float64(data[n+i])
		w, h := float64(data[2*n+i]), float64(data[3*n+i])
		out = append(out, rawDetection{
			box:   geometry.NewBox(cx-w/2, cy-h/2, cx+w/2, cy+h/2, geometry.Model),
			score: float64(bestScore),
			class: best,
		})
	}
	return out
}
