package detector

// Point is a 2D point in image coordinates.
type Point struct {
	X, Y float32
}

// BoundingBox is an axis-aligned face bounding box.
type BoundingBox struct {
	X1, Y1 float32 // top-left
	X2, Y2 float32 // bottom-right
}

// Width returns box width.
func (b BoundingBox) Width() float32 {
	return b.X2 - b.X1
}

// Height returns box height.
func (b BoundingBox) Height() float32 {
	return b.Y2 - b.Y1
}

// Center returns the box center point.
func (b BoundingBox) Center() Point {
	return Point{
		X: (b.X1 + b.X2) / 2,
		Y: (b.Y1 + b.Y2) / 2,
	}
}

// Area returns box area.
func (b BoundingBox) Area() float32 {
	return b.Width() * b.Height()
}

// LandmarkCount is the fixed number of facial keypoints per face.
const LandmarkCount = 5

// Landmarks are the five facial keypoints, in fixed order.
type Landmarks struct {
	LeftEye    Point // index 0
	RightEye   Point // index 1
	Nose       Point // index 2
	LeftMouth  Point // index 3
	RightMouth Point // index 4
}

// Points returns the landmarks in their fixed order.
func (l Landmarks) Points() [LandmarkCount]Point {
	return [LandmarkCount]Point{l.LeftEye, l.RightEye, l.Nose, l.LeftMouth, l.RightMouth}
}

// Face is one detected face: bounding region, landmark set, confidence.
// Produced by the locator, never mutated afterward.
type Face struct {
	BoundingBox BoundingBox
	Landmarks   Landmarks
	Score       float32
}
