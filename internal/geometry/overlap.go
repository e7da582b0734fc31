package geometry

// Intersection returns the overlapping box of a and b and whether they
// overlap with positive area.
func Intersection(a, b Box) (Box, bool) {
	out := Box{
		MinX:  max(a.MinX, b.MinX),
		MinY:  max(a.MinY, b.MinY),
		MaxX:  min(a.MaxX, b.MaxX),
		MaxY:  min(a.MaxY, b.MaxY),
		Space: a.Space,
	}
	if out.MaxX <= out.MinX || out.MaxY <= out.MinY {
		return Box{Space: a.Space}, false
	}
	return out, true
}

// Union returns the smallest box enclosing a and b.
func Union(a, b Box) Box {
	return Box{
		MinX:  min(a.MinX, b.MinX),
		MinY:  min(a.MinY, b.MinY),
		MaxX:  max(a.MaxX, b.MaxX),
		MaxY:  max(a.MaxY, b.MaxY),
		Space: a.Space,
	}
}

// intersectionArea returns the overlap area of a and b, 0 when disjoint.
func intersectionArea(a, b Box) float64 {
	inter, ok := Intersection(a, b)
	if !ok {
		return 0
	}
	return inter.Area()
}

// IoU computes Intersection over Union. It returns 0 for disjoint boxes and
// whenever the union is degenerate.
func IoU(a, b Box) float64 {
	inter := intersectionArea(a, b)
	if inter <= 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return clamp(inter/union, 0, 1)
}

// IoA computes the intersection area divided by inner's own area. It is not
// symmetric; a degenerate inner box yields 0.
func IoA(inner, outer Box) float64 {
	area := inner.Area()
	if area <= 0 {
		return 0
	}
	return clamp(intersectionArea(inner, outer)/area, 0, 1)
}

// IsContained reports whether at least threshold of inner's area lies inside outer.
func IsContained(inner, outer Box, threshold float64) bool {
	if inner.Area() <= 0 {
		return false
	}
	return IoA(inner, outer) >= threshold
}

// Gap returns the horizontal and vertical distance between two boxes.
// Overlapping extents on an axis give 0 on that axis.
func Gap(a, b Box) (float64, float64) {
	dx := max(0, max(a.MinX, b.MinX)-min(a.MaxX, b.MaxX))
	dy := max(0, max(a.MinY, b.MinY)-min(a.MaxY, b.MaxY))
	return dx, dy
}
