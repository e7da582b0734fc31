package detector

import (
	"sort"

	"github.com/MeKo-Tech/docstream/internal/geometry"
)

// Suppress performs greedy non-maximum suppression in descending score
// order. A box is discarded when its IoU with a kept box exceeds
// iouThreshold or when more than ioaThreshold of its own area lies inside a
// kept box. The second test removes nested boxes that plain IoU misses.
func Suppress(dets []Detection, iouThreshold, ioaThreshold float64) []Detection {
	if len(dets) <= 1 {
		return dets
	}

	indices := sortByConfidence(dets)
	kept := make([]Detection, 0, len(dets))
	for _, i := range indices {
		d := dets[i]
		suppressed := false
		for _, k := range kept {
			if geometry.IoU(d.Box, k.Box) > iouThreshold || geometry.IoA(d.Box, k.Box) > ioaThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

// sortByConfidence returns indices ordered by descending confidence; equal
// scores keep input order.
func sortByConfidence(dets []Detection) []int {
	indices := make([]int, len(dets))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return dets[indices[a]].Confidence > dets[indices[b]].Confidence
	})
	return indices
}
