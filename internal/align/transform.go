package align

import (
	"errors"
	"math"

	"gocv.io/x/gocv"

	"github.com/dudu/photorevive/internal/detector"
)

// ErrDegenerateLandmarks is returned when the landmark geometry cannot
// produce an invertible similarity transform (collinear or collapsed
// points). The face is skipped, not the image.
var ErrDegenerateLandmarks = errors.New("degenerate landmark geometry")

// Transform is a 2x3 affine transform:
//
//	| A B Tx |
//	| C D Ty |
type Transform struct {
	A, B, Tx float64
	C, D, Ty float64
}

// Apply maps a point through the transform.
func (t Transform) Apply(p detector.Point) detector.Point {
	x := float64(p.X)
	y := float64(p.Y)
	return detector.Point{
		X: float32(t.A*x + t.B*y + t.Tx),
		Y: float32(t.C*x + t.D*y + t.Ty),
	}
}

// Inverse returns the exact matrix inverse.
func (t Transform) Inverse() (Transform, error) {
	det := t.A*t.D - t.B*t.C
	if math.Abs(det) < 1e-12 {
		return Transform{}, ErrDegenerateLandmarks
	}

	ia := t.D / det
	ib := -t.B / det
	ic := -t.C / det
	id := t.A / det

	return Transform{
		A: ia, B: ib, Tx: -(ia*t.Tx + ib*t.Ty),
		C: ic, D: id, Ty: -(ic*t.Tx + id*t.Ty),
	}, nil
}

// Mat renders the transform as a 2x3 CV64F matrix for warping. The caller
// owns the returned Mat.
func (t Transform) Mat() gocv.Mat {
	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	m.SetDoubleAt(0, 0, t.A)
	m.SetDoubleAt(0, 1, t.B)
	m.SetDoubleAt(0, 2, t.Tx)
	m.SetDoubleAt(1, 0, t.C)
	m.SetDoubleAt(1, 1, t.D)
	m.SetDoubleAt(1, 2, t.Ty)
	return m
}

// estimateSimilarity solves the least-squares 4-DOF similarity (rotation,
// uniform scale, translation) mapping src onto dst.
func estimateSimilarity(src, dst []detector.Point) (Transform, error) {
	n := len(src)
	if n < 2 || n != len(dst) {
		return Transform{}, ErrDegenerateLandmarks
	}

	var srcCx, srcCy, dstCx, dstCy float64
	for i := 0; i < n; i++ {
		srcCx += float64(src[i].X)
		srcCy += float64(src[i].Y)
		dstCx += float64(dst[i].X)
		dstCy += float64(dst[i].Y)
	}
	srcCx /= float64(n)
	srcCy /= float64(n)
	dstCx /= float64(n)
	dstCy /= float64(n)

	var srcNorm, dstNorm float64
	var a11, a12, a21, a22 float64
	var sxx, sxy, syy float64

	for i := 0; i < n; i++ {
		sx := float64(src[i].X) - srcCx
		sy := float64(src[i].Y) - srcCy
		dx := float64(dst[i].X) - dstCx
		dy := float64(dst[i].Y) - dstCy

		srcNorm += sx*sx + sy*sy
		dstNorm += dx*dx + dy*dy

		a11 += sx * dx
		a12 += sx * dy
		a21 += sy * dx
		a22 += sy * dy

		sxx += sx * sx
		sxy += sx * sy
		syy += sy * sy
	}

	if srcNorm < 1e-9 {
		return Transform{}, ErrDegenerateLandmarks
	}

	// Collinear landmarks leave the source covariance rank-deficient; the
	// ratio of its eigenvalues measures the off-axis spread.
	if eigenRatio(sxx, sxy, syy) < 1e-4 {
		return Transform{}, ErrDegenerateLandmarks
	}

	norm := math.Sqrt((a11+a22)*(a11+a22) + (a21-a12)*(a21-a12))
	if norm < 1e-10 {
		return Transform{}, ErrDegenerateLandmarks
	}

	cosTheta := (a11 + a22) / norm
	sinTheta := (a21 - a12) / norm
	scale := math.Sqrt(dstNorm) / math.Sqrt(srcNorm)

	tx := dstCx - scale*(cosTheta*srcCx-sinTheta*srcCy)
	ty := dstCy - scale*(sinTheta*srcCx+cosTheta*srcCy)

	return Transform{
		A: scale * cosTheta, B: -scale * sinTheta, Tx: tx,
		C: scale * sinTheta, D: scale * cosTheta, Ty: ty,
	}, nil
}

// eigenRatio returns the ratio of the smaller to the larger eigenvalue of
// the 2x2 symmetric matrix [sxx sxy; sxy syy].
func eigenRatio(sxx, sxy, syy float64) float64 {
	tr := sxx + syy
	if tr < 1e-12 {
		return 0
	}
	disc := math.Sqrt((sxx-syy)*(sxx-syy) + 4*sxy*sxy)
	lo := (tr - disc) / 2
	hi := (tr + disc) / 2
	if hi < 1e-12 {
		return 0
	}
	if lo < 0 {
		lo = 0
	}
	return lo / hi
}
