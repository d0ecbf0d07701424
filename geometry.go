package patchex

// Bounding box geometry for patch extraction.

import (
	"fmt"
	"math"
)

// Box is an axis-aligned rectangle in absolute pixel coordinates, with
// (X1, Y1) the top-left and (X2, Y2) the bottom-right corner.
//
// Box is a value type; operations return new values instead of mutating, so
// the input box stays available for diagnostics.
type Box struct {
	X1, Y1, X2, Y2 int
}

// BoxFromCoords creates a Box from x1, y1, x2, y2 offsets, rounded to the
// nearest pixel.
func BoxFromCoords(coords [4]float64) Box {
	return Box{
		X1: int(math.Round(coords[0])),
		Y1: int(math.Round(coords[1])),
		X2: int(math.Round(coords[2])),
		Y2: int(math.Round(coords[3])),
	}
}

// Width is the horizontal extent of b.
func (b Box) Width() int { return b.X2 - b.X1 }

// Height is the vertical extent of b.
func (b Box) Height() int { return b.Y2 - b.Y1 }

// Empty reports whether b covers no pixels.
func (b Box) Empty() bool { return b.Width() == 0 || b.Height() == 0 }

func (b Box) String() string {
	return fmt.Sprintf("(%d,%d)(%d,%d)", b.X1, b.Y1, b.X2, b.Y2)
}

// Bounds is the rectangle of valid pixel coordinates within an image. It is
// fixed for the duration of processing one image.
type Bounds struct {
	XMin, YMin, XMax, YMax int
}

// BoundsForImage returns the bounds for an image of the given dimensions,
// with the origin at the top-left corner.
func BoundsForImage(width, height int) Bounds {
	return Bounds{XMax: width, YMax: height}
}

func (bb Bounds) String() string {
	return fmt.Sprintf("(%d,%d)(%d,%d)", bb.XMin, bb.YMin, bb.XMax, bb.YMax)
}

// InfeasibleSquareError reports that a box could not be padded to a square
// within its bounds. This is expected for boxes near the image edge whose
// required square side exceeds the image extent at that position; the caller
// should skip the box and continue.
type InfeasibleSquareError struct {
	Attempted Box // The box after padding and edge correction.
	Original  Box // The input box, for diagnostics.
}

func (e *InfeasibleSquareError) Error() string {
	return fmt.Sprintf("cannot fit padded box in bounds, tried %v for input %v",
		e.Attempted, e.Original)
}

// DegenerateBoxError reports a box with zero area. The caller should skip
// the box and continue.
type DegenerateBoxError struct {
	Box Box
}

func (e *DegenerateBoxError) Error() string {
	return fmt.Sprintf("box %v has zero area", e.Box)
}

// Clamp confines the box to the given bounds by clipping each coordinate
// independently. It never fails, but the result may have zero area when the
// input lies entirely outside bounds.
func Clamp(b Box, bounds Bounds) Box {
	clip := func(lo, hi, v int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}

	return Box{
		X1: clip(bounds.XMin, bounds.XMax, b.X1),
		Y1: clip(bounds.YMin, bounds.YMax, b.Y1),
		X2: clip(bounds.XMin, bounds.XMax, b.X2),
		Y2: clip(bounds.YMin, bounds.YMax, b.Y2),
	}
}

// PadToSquare grows the shorter dimension of b until the box is square,
// splitting the padding evenly across both sides. For an odd difference the
// extra pixel goes to the min side. If the padded box would cross the bounds,
// it is shifted inwards rather than clipped, so the side length is preserved.
//
// The box is assumed to lie within bounds (see Clamp). When no square of the
// required side fits within bounds at the box's position, PadToSquare returns
// an *InfeasibleSquareError. The shift corrections are applied without a
// feasibility test; the final containment check is authoritative.
func PadToSquare(b Box, bounds Bounds) (Box, error) {
	original := b
	height := b.Height()
	width := b.Width()
	padding := math.Abs(float64(width-height)) / 2

	if width > height {
		b.Y1 -= int(math.Ceil(padding))
		b.Y2 += int(math.Floor(padding))
		if b.Y1 < bounds.YMin {
			b.Y2 += bounds.YMin - b.Y1
			b.Y1 = bounds.YMin
		}
		if b.Y2 > bounds.YMax {
			b.Y1 -= b.Y2 - bounds.YMax
			b.Y2 = bounds.YMax
		}
	} else if height > width {
		b.X1 -= int(math.Ceil(padding))
		b.X2 += int(math.Floor(padding))
		if b.X1 < bounds.XMin {
			b.X2 += bounds.XMin - b.X1
			b.X1 = bounds.XMin
		}
		if b.X2 > bounds.XMax {
			b.X1 -= b.X2 - bounds.XMax
			b.X2 = bounds.XMax
		}
	}

	if b.X1 < bounds.XMin || b.X2 > bounds.XMax ||
			b.Y1 < bounds.YMin || b.Y2 > bounds.YMax || b.Width() != b.Height() {
		return Box{}, &InfeasibleSquareError{Attempted: b, Original: original}
	}

	return b, nil
}
