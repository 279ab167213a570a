package imageio

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/dudu/photorevive/internal/detector"
)

// Output tree layout, matching the stage directories the restoration
// toolchain has always produced.
const (
	finalDir          = "final_output"
	stage1OriginDir   = "stage_1_restore_output/origin"
	stage1RestoredDir = "stage_1_restore_output/restored_image"
	stage2Dir         = "stage_2_detection_output"
	stage3Dir         = "stage_3_face_output/each_img"
)

// comparisonWidth is the total width of the side-by-side grid.
const comparisonWidth = 600

// Writer emits pipeline outputs under one output folder.
type Writer struct {
	root              string
	saveIntermediates bool
}

// NewWriter prepares the output folder. An existing final_output tree from a
// previous run is replaced.
func NewWriter(root string, saveIntermediates bool) (*Writer, error) {
	if err := os.RemoveAll(filepath.Join(root, finalDir)); err != nil {
		return nil, fmt.Errorf("failed to clear final output: %w", err)
	}

	dirs := []string{finalDir}
	if saveIntermediates {
		dirs = append(dirs, stage1OriginDir, stage1RestoredDir, stage2Dir, stage3Dir)
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output folder: %w", err)
		}
	}

	return &Writer{root: root, saveIntermediates: saveIntermediates}, nil
}

// Root returns the output folder.
func (w *Writer) Root() string {
	return w.root
}

// WriteFinal writes the composite result and returns the written path.
func (w *Writer) WriteFinal(name string, composite gocv.Mat) (string, error) {
	path := filepath.Join(w.root, finalDir, name)
	if ok := gocv.IMWrite(path, composite); !ok {
		return "", fmt.Errorf("failed to write %s", path)
	}
	return path, nil
}

// WriteComparison writes a 600px-wide before/after grid next to the final
// output, named comparison_<name>.
func (w *Writer) WriteComparison(name string, original, restored gocv.Mat) error {
	grid := makeGrid(original, restored)
	defer grid.Close()

	path := filepath.Join(w.root, finalDir, "comparison_"+name)
	if ok := gocv.IMWrite(path, grid); !ok {
		return fmt.Errorf("failed to write %s", path)
	}
	return nil
}

// WriteOrigin saves the untouched input alongside the restored copy.
func (w *Writer) WriteOrigin(name string, img gocv.Mat) error {
	if !w.saveIntermediates {
		return nil
	}
	return w.write(filepath.Join(stage1OriginDir, name), img)
}

// WriteRestored saves the globally restored image before face compositing.
func (w *Writer) WriteRestored(name string, img gocv.Mat) error {
	if !w.saveIntermediates {
		return nil
	}
	return w.write(filepath.Join(stage1RestoredDir, name), img)
}

// WriteDetections saves the input annotated with face boxes and landmarks.
func (w *Writer) WriteDetections(name string, img gocv.Mat, faces []detector.Face) error {
	if !w.saveIntermediates {
		return nil
	}

	annotated := img.Clone()
	defer annotated.Close()

	green := color.RGBA{G: 255, A: 255}
	red := color.RGBA{R: 255, A: 255}
	for _, face := range faces {
		b := face.BoundingBox
		gocv.Rectangle(&annotated,
			image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)), green, 2)
		for _, p := range face.Landmarks.Points() {
			gocv.Circle(&annotated, image.Pt(int(p.X), int(p.Y)), 3, red, -1)
		}
	}

	return w.write(filepath.Join(stage2Dir, name), annotated)
}

// WriteFaceCrop saves one enhanced face crop as <name>_face_<i>.png.
func (w *Writer) WriteFaceCrop(name string, index int, crop gocv.Mat) error {
	if !w.saveIntermediates {
		return nil
	}
	base := name[:len(name)-len(filepath.Ext(name))]
	file := fmt.Sprintf("%s_face_%d.png", base, index)
	return w.write(filepath.Join(stage3Dir, file), crop)
}

func (w *Writer) write(rel string, img gocv.Mat) error {
	path := filepath.Join(w.root, rel)
	if ok := gocv.IMWrite(path, img); !ok {
		return fmt.Errorf("failed to write %s", path)
	}
	return nil
}

// makeGrid builds the side-by-side before|after strip, restored resized to
// the original's dimensions, then the whole strip scaled to 600px wide.
func makeGrid(original, restored gocv.Mat) gocv.Mat {
	h := original.Rows()
	w := original.Cols()

	resized := gocv.NewMat()
	gocv.Resize(restored, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationArea)
	defer resized.Close()

	combined := gocv.NewMat()
	gocv.Hconcat(original, resized, &combined)

	ratio := float64(comparisonWidth) / float64(w*2)
	outH := int(float64(h) * ratio)
	if outH < 1 {
		outH = 1
	}

	grid := gocv.NewMat()
	gocv.Resize(combined, &grid, image.Pt(comparisonWidth, outH), 0, 0, gocv.InterpolationArea)
	combined.Close()

	return grid
}
