// Package geometry provides axis-aligned bounding box math shared by every
// box-producing step: overlap ratios, containment, proximity clustering and
// size filtering. Every box carries the coordinate space it was measured in.
package geometry

import (
	"fmt"
	"image"
	"math"
)

// Space identifies the coordinate grid a box is expressed in.
type Space string

const (
	// Document is the native unit grid of the document (PDF points), origin top-left.
	Document Space = "document"
	// Pixel is the grid of a rendered page raster.
	Pixel Space = "pixel"
	// Model is the letterboxed input grid of the detection model.
	Model Space = "model"
)

// Valid reports whether s is one of the known spaces.
func (s Space) Valid() bool {
	switch s {
	case Document, Pixel, Model:
		return true
	default:
		return false
	}
}

// Box is an axis-aligned bounding box tagged with its coordinate space.
// MaxX >= MinX and MaxY >= MinY always hold for boxes built with NewBox.
type Box struct {
	MinX  float64 `json:"x_min"`
	MinY  float64 `json:"y_min"`
	MaxX  float64 `json:"x_max"`
	MaxY  float64 `json:"y_max"`
	Space Space   `json:"space"`
}

// NewBox constructs a Box from two corners, ensuring ordering.
func NewBox(x1, y1, x2, y2 float64, space Space) Box {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Box{MinX: x1, MinY: y1, MaxX: x2, MaxY: y2, Space: space}
}

// Width returns the box width.
func (b Box) Width() float64 { return math.Max(0, b.MaxX-b.MinX) }

// Height returns the box height.
func (b Box) Height() float64 { return math.Max(0, b.MaxY-b.MinY) }

// Area returns the box area; degenerate boxes have zero area.
func (b Box) Area() float64 { return b.Width() * b.Height() }

// Center returns the midpoint of the box.
func (b Box) Center() (float64, float64) {
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2
}

// Empty reports whether the box has zero area.
func (b Box) Empty() bool { return b.Area() <= 0 }

// Contains reports whether the point lies inside the box (edges inclusive).
func (b Box) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// Scale multiplies every coordinate by sx, sy and retags the result.
func (b Box) Scale(sx, sy float64, space Space) Box {
	return NewBox(b.MinX*sx, b.MinY*sy, b.MaxX*sx, b.MaxY*sy, space)
}

// Translate offsets the box by dx, dy and retags the result.
func (b Box) Translate(dx, dy float64, space Space) Box {
	return NewBox(b.MinX+dx, b.MinY+dy, b.MaxX+dx, b.MaxY+dy, space)
}

// Expand grows the box by margin on every side. A negative margin shrinks
// it, never past a zero-size box.
func (b Box) Expand(margin float64) Box {
	out := Box{
		MinX:  b.MinX - margin,
		MinY:  b.MinY - margin,
		MaxX:  b.MaxX + margin,
		MaxY:  b.MaxY + margin,
		Space: b.Space,
	}
	if out.MaxX < out.MinX {
		cx := (b.MinX + b.MaxX) / 2
		out.MinX, out.MaxX = cx, cx
	}
	if out.MaxY < out.MinY {
		cy := (b.MinY + b.MaxY) / 2
		out.MinY, out.MaxY = cy, cy
	}
	return out
}

// Clamp restricts the box to [0,w]x[0,h].
func (b Box) Clamp(w, h float64) Box {
	return Box{
		MinX:  clamp(b.MinX, 0, w),
		MinY:  clamp(b.MinY, 0, h),
		MaxX:  clamp(b.MaxX, 0, w),
		MaxY:  clamp(b.MaxY, 0, h),
		Space: b.Space,
	}
}

// ToRect converts a Box to an image.Rectangle, clamped to image bounds.
func (b Box) ToRect(bounds image.Rectangle) image.Rectangle {
	x1 := clampInt(int(math.Floor(b.MinX)), bounds.Min.X, bounds.Max.X)
	y1 := clampInt(int(math.Floor(b.MinY)), bounds.Min.Y, bounds.Max.Y)
	x2 := clampInt(int(math.Ceil(b.MaxX)), bounds.Min.X, bounds.Max.X)
	y2 := clampInt(int(math.Ceil(b.MaxY)), bounds.Min.Y, bounds.Max.Y)
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return image.Rect(x1, y1, x2, y2)
}

func (b Box) String() string {
	return fmt.Sprintf("[%.2f,%.2f %.2f,%.2f %s]", b.MinX, b.MinY, b.MaxX, b.MaxY, b.Space)
}

// Bounds returns the smallest box enclosing all boxes. The space of the
// first box is used; an empty slice yields the zero Box.
func Bounds(boxes []Box) Box {
	if len(boxes) == 0 {
		return Box{}
	}
	out := boxes[0]
	for _, b := range boxes[1:] {
		out = Union(out, b)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
