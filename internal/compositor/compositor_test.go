package compositor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/dudu/photorevive/internal/align"
	"github.com/dudu/photorevive/internal/detector"
)

// layerAt builds a layer whose canonical crop maps onto a square region with
// top-left (x0, y0) and the given side length.
func layerAt(t *testing.T, x0, y0 float64, side float64, gray uint8) Layer {
	t.Helper()

	s := side / float64(align.CropSize)
	inverse := align.Transform{A: s, Tx: x0, D: s, Ty: y0}

	tmpl := align.Template()
	pts := make([]detector.Point, len(tmpl))
	for i, p := range tmpl {
		pts[i] = inverse.Apply(p)
	}

	crop := gocv.NewMatWithSize(align.CropSize, align.CropSize, gocv.MatTypeCV8UC3)
	crop.SetTo(gocv.NewScalar(float64(gray), float64(gray), float64(gray), 0))

	return Layer{
		Crop:    crop,
		Inverse: inverse,
		Landmarks: detector.Landmarks{
			LeftEye:    pts[0],
			RightEye:   pts[1],
			Nose:       pts[2],
			LeftMouth:  pts[3],
			RightMouth: pts[4],
		},
	}
}

func closeLayers(layers []Layer) {
	for i := range layers {
		layers[i].Crop.Close()
	}
}

func TestCompositeNoFacesIsIdentity(t *testing.T) {
	restored := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer restored.Close()
	restored.SetTo(gocv.NewScalar(40, 50, 60, 0))

	c := New(21)
	out, err := c.Composite(restored, nil)
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, restored.Rows(), out.Rows())
	assert.Equal(t, restored.Cols(), out.Cols())
	assert.Equal(t, restored.ToBytes(), out.ToBytes())
}

func TestCompositeBlendsInsideFaceRegion(t *testing.T) {
	restored := gocv.NewMatWithSize(400, 400, gocv.MatTypeCV8UC3)
	defer restored.Close()
	restored.SetTo(gocv.NewScalar(10, 10, 10, 0))

	layer := layerAt(t, 100, 100, 200, 250)
	defer layer.Crop.Close()

	c := New(21)
	out, err := c.Composite(restored, []Layer{layer})
	require.NoError(t, err)
	defer out.Close()

	// Center of the face ellipse carries the bright enhanced pixels.
	center := out.GetVecbAt(220, 200)
	assert.Greater(t, center[0], uint8(200))

	// Far outside the face region the restored image is untouched.
	corner := out.GetVecbAt(10, 10)
	assert.Equal(t, uint8(10), corner[0])
}

func TestCompositeTwoFacesBothContribute(t *testing.T) {
	restored := gocv.NewMatWithSize(400, 800, gocv.MatTypeCV8UC3)
	defer restored.Close()
	restored.SetTo(gocv.NewScalar(10, 10, 10, 0))

	layers := []Layer{
		layerAt(t, 50, 100, 180, 240),
		layerAt(t, 500, 100, 180, 240),
	}
	defer closeLayers(layers)

	c := New(21)
	out, err := c.Composite(restored, layers)
	require.NoError(t, err)
	defer out.Close()

	// Both face regions differ from the restored baseline.
	left := out.GetVecbAt(210, 140)
	right := out.GetVecbAt(210, 590)
	assert.Greater(t, left[0], uint8(100))
	assert.Greater(t, right[0], uint8(100))

	// The band between the two faces is unchanged.
	between := out.GetVecbAt(210, 380)
	assert.Equal(t, uint8(10), between[0])
}

func TestCompositeLaterFaceBlendsOnTop(t *testing.T) {
	restored := gocv.NewMatWithSize(400, 400, gocv.MatTypeCV8UC3)
	defer restored.Close()
	restored.SetTo(gocv.NewScalar(10, 10, 10, 0))

	// Overlapping layers with different intensities, blended in order.
	layers := []Layer{
		layerAt(t, 100, 100, 200, 120),
		layerAt(t, 110, 100, 200, 230),
	}
	defer closeLayers(layers)

	c := New(21)
	out, err := c.Composite(restored, layers)
	require.NoError(t, err)
	defer out.Close()

	// Where both ellipses are fully opaque, the later layer wins.
	overlap := out.GetVecbAt(220, 210)
	assert.Greater(t, overlap[0], uint8(200))
}

func TestAlphaBlendDimensionMismatch(t *testing.T) {
	dst := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer dst.Close()
	src := gocv.NewMatWithSize(50, 50, gocv.MatTypeCV8UC3)
	defer src.Close()
	mask := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8U)
	defer mask.Close()

	err := alphaBlend(&dst, src, mask)
	assert.Error(t, err)
}
