// Package common - Shared geometry types for the behavior pipeline.
package common

import (
	"fmt"
	"image"
	"math"
)

// BoundingBox is an integer pixel rectangle for a tracked subject.
//
// Center and area are derived on demand and are never stored.
type BoundingBox struct {
	X1, Y1, X2, Y2 int
}

// FromRect converts an image.Rectangle into a BoundingBox.
//
// Arguments:
// - r: The rectangle to convert.
//
// Returns:
// - The bounding box with the same corners.
//
// @example
// box := FromRect(image.Rect(10, 20, 110, 220))
// fmt.Println(box.Area()) // 20000
func FromRect(r image.Rectangle) BoundingBox {
	return BoundingBox{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// Rect returns the box as an image.Rectangle for drawing operations.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Center returns the integer midpoint of the box.
//
// Coordinates are floored, so a box spanning (0,0)-(3,3) has center (1,1).
//
// Returns:
// - The centroid as an image.Point.
//
// @example
// box := BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 50}
// c := box.Center() // (50, 25)
func (b BoundingBox) Center() image.Point {
	return image.Pt(floorDiv(b.X1+b.X2, 2), floorDiv(b.Y1+b.Y2, 2))
}

// Area returns (X2-X1)*(Y2-Y1) in square pixels.
func (b BoundingBox) Area() int {
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%d, %d)-(%d, %d)", b.X1, b.Y1, b.X2, b.Y2)
}

// Distance returns the euclidean distance between two points.
//
// Arguments:
// - a: The first point.
// - b: The second point.
//
// Returns:
// - The straight-line distance in pixels.
func Distance(a, b image.Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
