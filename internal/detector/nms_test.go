package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(x1, y1, x2, y2 float32) BoundingBox {
	return BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func TestIOU(t *testing.T) {
	tests := []struct {
		name string
		a, b BoundingBox
		want float32
	}{
		{
			name: "identical boxes",
			a:    box(0, 0, 10, 10),
			b:    box(0, 0, 10, 10),
			want: 1.0,
		},
		{
			name: "disjoint boxes",
			a:    box(0, 0, 10, 10),
			b:    box(20, 20, 30, 30),
			want: 0.0,
		},
		{
			name: "half overlap",
			a:    box(0, 0, 10, 10),
			b:    box(0, 5, 10, 15),
			want: 50.0 / 150.0,
		},
		{
			name: "touching edges",
			a:    box(0, 0, 10, 10),
			b:    box(10, 0, 20, 10),
			want: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, iou(tt.a, tt.b), 1e-6)
		})
	}
}

func TestNMSSuppressesOverlaps(t *testing.T) {
	faces := []Face{
		{BoundingBox: box(0, 0, 100, 100), Score: 0.9},
		{BoundingBox: box(5, 5, 105, 105), Score: 0.8}, // heavy overlap with first
		{BoundingBox: box(300, 0, 400, 100), Score: 0.7},
	}

	kept := nms(faces, 0.4)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].Score)
	assert.Equal(t, float32(0.7), kept[1].Score)
}

func TestSortFacesDeterministicOrder(t *testing.T) {
	faces := []Face{
		{BoundingBox: box(200, 0, 300, 100), Score: 0.5},
		{BoundingBox: box(0, 0, 100, 100), Score: 0.5},
		{BoundingBox: box(400, 0, 500, 100), Score: 0.9},
	}

	sortFaces(faces)

	// Highest confidence first, then equal scores left-to-right.
	assert.Equal(t, float32(0.9), faces[0].Score)
	assert.Equal(t, float32(0), faces[1].BoundingBox.X1)
	assert.Equal(t, float32(200), faces[2].BoundingBox.X1)
}

func TestBoundingBoxGeometry(t *testing.T) {
	b := box(10, 20, 50, 100)
	assert.Equal(t, float32(40), b.Width())
	assert.Equal(t, float32(80), b.Height())
	assert.Equal(t, float32(3200), b.Area())
	assert.Equal(t, Point{X: 30, Y: 60}, b.Center())
}
