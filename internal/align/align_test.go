package align

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/dudu/photorevive/internal/detector"
)

// shifted returns the template moved and scaled into a fake image space.
func shifted(scale, dx, dy float32) []detector.Point {
	pts := Template()
	for i := range pts {
		pts[i].X = pts[i].X*scale + dx
		pts[i].Y = pts[i].Y*scale + dy
	}
	return pts
}

func landmarksFrom(pts []detector.Point) detector.Landmarks {
	return detector.Landmarks{
		LeftEye:    pts[0],
		RightEye:   pts[1],
		Nose:       pts[2],
		LeftMouth:  pts[3],
		RightMouth: pts[4],
	}
}

func TestEstimateSimilarityMapsOntoTemplate(t *testing.T) {
	src := shifted(0.5, 120, 80)

	tr, err := estimateSimilarity(src, Template())
	require.NoError(t, err)

	for i, p := range src {
		got := tr.Apply(p)
		assert.InDelta(t, float64(faceTemplate[i].X), float64(got.X), 1e-3, "landmark %d x", i)
		assert.InDelta(t, float64(faceTemplate[i].Y), float64(got.Y), 1e-3, "landmark %d y", i)
	}
}

func TestTransformRoundTrip(t *testing.T) {
	src := shifted(1.7, -40, 25)

	forward, err := estimateSimilarity(src, Template())
	require.NoError(t, err)
	inverse, err := forward.Inverse()
	require.NoError(t, err)

	// Forward then inverse must reproduce the input within 1e-3 px.
	for _, p := range Template() {
		back := inverse.Apply(forward.Apply(p))
		assert.InDelta(t, float64(p.X), float64(back.X), 1e-3)
		assert.InDelta(t, float64(p.Y), float64(back.Y), 1e-3)
	}
}

func TestEstimateSimilarityRejectsCollinear(t *testing.T) {
	collinear := make([]detector.Point, 5)
	for i := range collinear {
		collinear[i] = detector.Point{X: float32(i) * 10, Y: float32(i) * 10}
	}

	_, err := estimateSimilarity(collinear, Template())
	assert.ErrorIs(t, err, ErrDegenerateLandmarks)
}

func TestEstimateSimilarityRejectsCollapsed(t *testing.T) {
	collapsed := make([]detector.Point, 5)
	for i := range collapsed {
		collapsed[i] = detector.Point{X: 100, Y: 100}
	}

	_, err := estimateSimilarity(collapsed, Template())
	assert.ErrorIs(t, err, ErrDegenerateLandmarks)
}

func TestInverseRejectsSingular(t *testing.T) {
	singular := Transform{A: 1, B: 2, C: 2, D: 4}
	_, err := singular.Inverse()
	assert.ErrorIs(t, err, ErrDegenerateLandmarks)
}

func TestAlignProducesCanonicalCrop(t *testing.T) {
	img := gocv.NewMatWithSize(600, 800, gocv.MatTypeCV8UC3)
	defer img.Close()
	img.SetTo(gocv.NewScalar(30, 60, 90, 0))

	face := detector.Face{
		Landmarks: landmarksFrom(shifted(0.6, 150, 100)),
		Score:     0.95,
	}

	aligned, err := Align(img, face)
	require.NoError(t, err)
	defer aligned.Close()

	assert.Equal(t, CropSize, aligned.Crop.Rows())
	assert.Equal(t, CropSize, aligned.Crop.Cols())

	// Round trip through the stored pair is the identity.
	p := detector.Point{X: 321, Y: 123}
	back := aligned.Inverse.Apply(aligned.Forward.Apply(p))
	assert.InDelta(t, float64(p.X), float64(back.X), 1e-3)
	assert.InDelta(t, float64(p.Y), float64(back.Y), 1e-3)
}

func TestAlignDegenerateFaceSkipped(t *testing.T) {
	img := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer img.Close()

	face := detector.Face{
		Landmarks: landmarksFrom([]detector.Point{
			{X: 0, Y: 0}, {X: 10, Y: 10}, {X: 20, Y: 20}, {X: 30, Y: 30}, {X: 40, Y: 40},
		}),
	}

	_, err := Align(img, face)
	assert.ErrorIs(t, err, ErrDegenerateLandmarks)
}

func TestEigenRatio(t *testing.T) {
	// Isotropic spread has ratio 1; a line has ratio 0.
	assert.InDelta(t, 1.0, eigenRatio(10, 0, 10), 1e-9)
	assert.InDelta(t, 0.0, eigenRatio(10, 10, 10), 1e-9)
}
