package geometry

// ClusterByProximity merges boxes whose gap is at most gapThreshold on both
// axes, replacing each merged group by its union. Passes repeat until no
// merge happens, so chains of three or more boxes collapse regardless of
// input order. The input slice is not modified.
func ClusterByProximity(boxes []Box, gapThreshold float64) []Box {
	if len(boxes) == 0 {
		return nil
	}
	out := make([]Box, len(boxes))
	copy(out, boxes)

	for {
		merged := false
		next := make([]Box, 0, len(out))
		used := make([]bool, len(out))
		for i := range out {
			if used[i] {
				continue
			}
			cur := out[i]
			used[i] = true
			for j := i + 1; j < len(out); j++ {
				if used[j] {
					continue
				}
				dx, dy := Gap(cur, out[j])
				if dx <= gapThreshold && dy <= gapThreshold {
					cur = Union(cur, out[j])
					used[j] = true
					merged = true
				}
			}
			next = append(next, cur)
		}
		out = next
		if !merged {
			return out
		}
	}
}

// FilterSmall drops boxes narrower than minWidth or shorter than minHeight.
// Apply it after clustering: fragments that are individually too small may
// form a valid region once merged.
func FilterSmall(boxes []Box, minWidth, minHeight float64) []Box {
	out := make([]Box, 0, len(boxes))
	for _, b := range boxes {
		if b.Width() < minWidth || b.Height() < minHeight {
			continue
		}
		out = append(out, b)
	}
	return out
}
