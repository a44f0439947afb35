package common

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundingBoxDerivedValues(t *testing.T) {
	tests := []struct {
		name   string
		box    BoundingBox
		center image.Point
		area   int
	}{
		{name: "even extents", box: BoundingBox{0, 0, 100, 50}, center: image.Pt(50, 25), area: 5000},
		{name: "odd extents floor", box: BoundingBox{0, 0, 3, 3}, center: image.Pt(1, 1), area: 9},
		{name: "offset box", box: BoundingBox{10, 20, 110, 220}, center: image.Pt(60, 120), area: 20000},
		{name: "negative coordinates floor", box: BoundingBox{-3, -3, 0, 0}, center: image.Pt(-2, -2), area: 9},
		{name: "degenerate", box: BoundingBox{5, 5, 5, 5}, center: image.Pt(5, 5), area: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.center, tt.box.Center())
			assert.Equal(t, tt.area, tt.box.Area())
		})
	}
}

func TestFromRectRoundTrip(t *testing.T) {
	r := image.Rect(4, 8, 40, 80)
	box := FromRect(r)
	assert.Equal(t, BoundingBox{4, 8, 40, 80}, box)
	assert.Equal(t, r, box.Rect())
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 5.0, Distance(image.Pt(0, 0), image.Pt(3, 4)), 1e-9)
	assert.Zero(t, Distance(image.Pt(7, 7), image.Pt(7, 7)))
}
