package compositor

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/dudu/photorevive/internal/align"
	"github.com/dudu/photorevive/internal/detector"
)

// Layer is one enhanced face ready to be blended back: the crop in canonical
// face space, the inverse alignment transform, and the source landmarks the
// blend mask is shaped from.
type Layer struct {
	Crop      gocv.Mat
	Inverse   align.Transform
	Landmarks detector.Landmarks
}

// Compositor blends enhanced face crops back into the globally restored
// image. Layers are blended in detection order; where masks overlap, a later
// (lower-confidence) face blends on top. That ordering is the deterministic
// tie-break for overlapping regions.
type Compositor struct {
	featherSize int
}

// New creates a compositor. featherSize is the Gaussian kernel used to
// soften mask edges; even values are rounded up.
func New(featherSize int) *Compositor {
	if featherSize < 3 {
		featherSize = 3
	}
	if featherSize%2 == 0 {
		featherSize++
	}
	return &Compositor{featherSize: featherSize}
}

// Composite blends the layers onto the restored image and returns a new
// buffer with the restored image's dimensions. With zero layers the result
// is an unchanged copy of the restored image.
func (c *Compositor) Composite(restored gocv.Mat, layers []Layer) (gocv.Mat, error) {
	if restored.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty restored image")
	}

	composite := restored.Clone()

	for i := range layers {
		if err := c.blendLayer(&composite, layers[i]); err != nil {
			composite.Close()
			return gocv.NewMat(), fmt.Errorf("failed to blend face %d: %w", i, err)
		}
	}

	return composite, nil
}

// blendLayer warps one enhanced crop into image space and alpha-blends it
// onto the running composite under a feathered mask.
func (c *Compositor) blendLayer(composite *gocv.Mat, layer Layer) error {
	frameSize := image.Pt(composite.Cols(), composite.Rows())

	inv := layer.Inverse.Mat()
	defer inv.Close()

	warped := gocv.NewMat()
	gocv.WarpAffine(layer.Crop, &warped, inv, frameSize)
	defer warped.Close()

	// The blend region is the face ellipse intersected with the footprint
	// of the warped crop, so feathering never samples beyond the crop.
	mask := faceMask(composite.Rows(), composite.Cols(), layer.Landmarks)
	defer mask.Close()

	footprint := c.cropFootprint(layer, frameSize)
	defer footprint.Close()

	gocv.BitwiseAnd(mask, footprint, &mask)
	gocv.GaussianBlur(mask, &mask, image.Pt(c.featherSize, c.featherSize), 0, 0, gocv.BorderDefault)

	return alphaBlend(composite, warped, mask)
}

// cropFootprint warps a solid crop-sized mask through the inverse transform,
// marking the image pixels the enhanced crop actually covers.
func (c *Compositor) cropFootprint(layer Layer, frameSize image.Point) gocv.Mat {
	solid := gocv.NewMatWithSize(layer.Crop.Rows(), layer.Crop.Cols(), gocv.MatTypeCV8U)
	defer solid.Close()
	solid.SetTo(gocv.NewScalar(255, 0, 0, 0))

	inv := layer.Inverse.Mat()
	defer inv.Close()

	footprint := gocv.NewMat()
	gocv.WarpAffine(solid, &footprint, inv, frameSize)
	return footprint
}

// faceMask draws a filled ellipse over the face, sized and rotated from the
// eye line.
func faceMask(height, width int, lm detector.Landmarks) gocv.Mat {
	mask := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8U)

	pts := lm.Points()
	var cx, cy float32
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	cx /= float32(len(pts))
	cy /= float32(len(pts))

	dx := float64(lm.RightEye.X - lm.LeftEye.X)
	dy := float64(lm.RightEye.Y - lm.LeftEye.Y)
	eyeDist := math.Hypot(dx, dy)
	if eyeDist < 1 {
		eyeDist = 1
	}
	angle := math.Atan2(dy, dx) * 180 / math.Pi

	faceWidth := eyeDist * 2.5
	faceHeight := eyeDist * 3.0

	gocv.Ellipse(&mask,
		image.Pt(int(cx), int(cy)),
		image.Pt(int(faceWidth/2), int(faceHeight/2)),
		angle, 0, 360,
		color.RGBA{R: 255, G: 255, B: 255, A: 255},
		-1,
	)

	return mask
}

// alphaBlend blends src over dst using mask/255 as per-pixel alpha.
func alphaBlend(dst *gocv.Mat, src, mask gocv.Mat) error {
	rows := dst.Rows()
	cols := dst.Cols()
	if src.Rows() != rows || src.Cols() != cols || mask.Rows() != rows || mask.Cols() != cols {
		return fmt.Errorf("blend buffers disagree on dimensions")
	}

	base := dst.ToBytes()
	over := src.ToBytes()
	alpha := mask.ToBytes()

	for i, a := range alpha {
		if a == 0 {
			continue
		}
		av := uint32(a)
		for ch := 0; ch < 3; ch++ {
			j := i*3 + ch
			base[j] = uint8((uint32(over[j])*av + uint32(base[j])*(255-av) + 127) / 255)
		}
	}

	blended, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC3, base)
	if err != nil {
		return fmt.Errorf("failed to rebuild composite: %w", err)
	}
	blended.CopyTo(dst)
	blended.Close()

	return nil
}
