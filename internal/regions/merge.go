package regions

import (
	"sort"

	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/geometry"
)

// less is a total order over candidates: larger area first, then model
// before heuristics, then higher confidence, then position and label.
func less(a, b candidate) bool {
	if aa, ba := a.box.Area(), b.box.Area(); aa != ba {
		return aa > ba
	}
	if ap, bp := a.sourcePriority(), b.sourcePriority(); ap != bp {
		return ap < bp
	}
	if a.confidence != b.confidence {
		return a.confidence > b.confidence
	}
	for _, d := range [...][2]float64{
		{a.box.MinX, b.box.MinX},
		{a.box.MinY, b.box.MinY},
		{a.box.MaxX, b.box.MaxX},
		{a.box.MaxY, b.box.MaxY},
	} {
		if d[0] != d[1] {
			return d[0] < d[1]
		}
	}
	return a.label < b.label
}

// merge deduplicates candidates by containment. Larger candidates are
// accepted first; a candidate mostly inside an accepted one is dropped.
// A dropped model candidate that nearly duplicates an accepted heuristic
// one hands it its label, box and score.
func merge(cands []candidate, cfg Config) []candidate {
	sorted := append([]candidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	accepted := make([]candidate, 0, len(sorted))
	for _, c := range sorted {
		if c.box.Empty() {
			continue
		}
		host := -1
		for i := range accepted {
			if geometry.IsContained(c.box, accepted[i].box, cfg.ContainmentThreshold) {
				host = i
				break
			}
		}
		if host < 0 {
			accepted = append(accepted, c)
			continue
		}

		a := &accepted[host]
		if c.source != document.SourceModel {
			continue
		}
		if c.label == a.label {
			a.modelScore = max(a.modelScore, c.confidence)
		}
		if a.source != document.SourceModel && geometry.IoU(c.box, a.box) >= cfg.NearDuplicateIoU {
			a.label = c.label
			a.box = c.box
			a.confidence = c.confidence
			a.source = document.SourceModel
			a.modelScore = c.confidence
		}
	}

	// A smaller model detection inside an accepted heuristic equation
	// still vouches for it.
	for i := range accepted {
		if !accepted[i].heuristic || accepted[i].label != document.LabelEquation {
			continue
		}
		for _, c := range cands {
			if c.source == document.SourceModel && c.label == document.LabelEquation &&
				(geometry.IoU(c.box, accepted[i].box) >= cfg.NearDuplicateIoU ||
					geometry.IsContained(accepted[i].box, c.box, cfg.ContainmentThreshold)) {
				accepted[i].modelScore = max(accepted[i].modelScore, c.confidence)
			}
		}
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		a, b := accepted[i].box, accepted[j].box
		if a.MinY != b.MinY {
			return a.MinY < b.MinY
		}
		if a.MinX != b.MinX {
			return a.MinX < b.MinX
		}
		return less(accepted[i], accepted[j])
	})
	return accepted
}
