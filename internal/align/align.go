package align

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/dudu/photorevive/internal/detector"
)

// CropSize is the side length of the canonical face space.
const CropSize = 512

// faceTemplate holds the canonical five-point landmark layout the face
// restorer was trained against (FFHQ alignment at 512x512).
var faceTemplate = []detector.Point{
	{X: 192.98138, Y: 239.94708}, // left eye
	{X: 318.90277, Y: 240.19360}, // right eye
	{X: 256.63416, Y: 314.01935}, // nose
	{X: 201.26117, Y: 371.41043}, // left mouth
	{X: 313.08905, Y: 371.15118}, // right mouth
}

// Template returns a copy of the canonical landmark layout.
func Template() []detector.Point {
	out := make([]detector.Point, len(faceTemplate))
	copy(out, faceTemplate)
	return out
}

// AlignedFace is a face crop in canonical space together with the transform
// pair that produced it.
type AlignedFace struct {
	Crop    gocv.Mat  // CropSize x CropSize, canonical face space
	Forward Transform // image space -> canonical face space
	Inverse Transform // canonical face space -> image space
}

// Close releases the crop buffer.
func (a *AlignedFace) Close() {
	a.Crop.Close()
}

// Align computes the similarity transform from the face's landmarks onto the
// canonical template and extracts the aligned crop. Out-of-bounds samples
// are filled by border replication. Degenerate landmark geometry returns
// ErrDegenerateLandmarks.
func Align(img gocv.Mat, face detector.Face) (*AlignedFace, error) {
	pts := face.Landmarks.Points()

	forward, err := estimateSimilarity(pts[:], faceTemplate)
	if err != nil {
		return nil, err
	}
	inverse, err := forward.Inverse()
	if err != nil {
		return nil, err
	}

	m := forward.Mat()
	defer m.Close()

	crop := gocv.NewMat()
	gocv.WarpAffineWithParams(img, &crop, m, image.Pt(CropSize, CropSize),
		gocv.InterpolationLinear, gocv.BorderReplicate, color.RGBA{})

	if crop.Empty() {
		crop.Close()
		return nil, fmt.Errorf("failed to warp face crop")
	}

	return &AlignedFace{
		Crop:    crop,
		Forward: forward,
		Inverse: inverse,
	}, nil
}
