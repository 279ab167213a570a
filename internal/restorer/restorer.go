package restorer

import (
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/photorevive/internal/inference"
)

// Restorer runs whole-image restoration (denoise, inpaint, optional scratch
// removal). It always yields an image with the same dimensions as its input;
// high-resolution mode works at 4x internally and resizes back.
type Restorer struct {
	session *inference.Session
	upscale *inference.Session
	highRes bool
}

// upscaleFactor is the superresolution model's fixed scale.
const upscaleFactor = 4

// Config selects the restoration weights and working mode.
type Config struct {
	ModelPath        string // standard restoration weights
	ScratchModelPath string // weights trained with the scratch-damage branch
	UpscaleModelPath string // x4 superresolution weights for high-res mode
	WithScratch      bool
	HighRes          bool
}

// New loads the restoration model (scratch variant when requested) and, in
// high-resolution mode, the superresolution model.
func New(rt *inference.Runtime, cfg Config) (*Restorer, error) {
	modelPath := cfg.ModelPath
	if cfg.WithScratch {
		modelPath = cfg.ScratchModelPath
	}

	session, err := rt.NewSession(modelPath, []string{"input"}, []string{"output"})
	if err != nil {
		return nil, fmt.Errorf("failed to create restorer session: %w", err)
	}

	r := &Restorer{session: session, highRes: cfg.HighRes}

	if cfg.HighRes {
		up, err := rt.NewSession(cfg.UpscaleModelPath, []string{"input"}, []string{"output"})
		if err != nil {
			session.Destroy()
			return nil, fmt.Errorf("failed to create upscale session: %w", err)
		}
		r.upscale = up
	}

	return r, nil
}

// Restore produces the globally restored image. The result has exactly the
// input's dimensions regardless of the internal working resolution.
func (r *Restorer) Restore(img gocv.Mat) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty image")
	}

	origWidth := img.Cols()
	origHeight := img.Rows()

	working := img
	var upscaled gocv.Mat
	if r.highRes {
		var err error
		upscaled, err = runImageModel(r.upscale, img, upscaleFactor)
		if err != nil {
			return gocv.NewMat(), fmt.Errorf("upscale failed: %w", err)
		}
		defer upscaled.Close()
		working = upscaled
	}

	restored, err := runImageModel(r.session, working, 1)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("restoration failed: %w", err)
	}

	if restored.Cols() != origWidth || restored.Rows() != origHeight {
		resized := gocv.NewMat()
		gocv.Resize(restored, &resized, image.Pt(origWidth, origHeight), 0, 0, gocv.InterpolationArea)
		restored.Close()
		restored = resized
	}

	return restored, nil
}

// Close releases model sessions.
func (r *Restorer) Close() error {
	err := r.session.Destroy()
	if r.upscale != nil {
		if e := r.upscale.Destroy(); err == nil {
			err = e
		}
	}
	return err
}

// runImageModel runs an image-to-image model at the image's native
// resolution. Input and output are NCHW RGB float in [0,1]; scale is the
// model's fixed output scale relative to the input.
func runImageModel(session *inference.Session, img gocv.Mat, scale int) (gocv.Mat, error) {
	height := img.Rows()
	width := img.Cols()

	floatData := make([]float32, 3*height*width)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			pixel := img.GetVecbAt(y, x)
			idx := y*width + x
			floatData[0*height*width+idx] = float32(pixel[2]) / 255.0 // R
			floatData[1*height*width+idx] = float32(pixel[1]) / 255.0 // G
			floatData[2*height*width+idx] = float32(pixel[0]) / 255.0 // B
		}
	}

	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, int64(height), int64(width)),
		floatData,
	)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outHeight := height * scale
	outWidth := width * scale

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, 3, int64(outHeight), int64(outWidth)})
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return gocv.NewMat(), fmt.Errorf("inference failed: %w", err)
	}

	return tensorToBGR(outputTensor.GetData(), outHeight, outWidth), nil
}

// tensorToBGR converts NCHW RGB [0,1] output back to an 8-bit BGR image.
func tensorToBGR(output []float32, height, width int) gocv.Mat {
	size := height * width
	pixels := make([]byte, size*3)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x

			rVal := clamp01(output[0*size+idx])
			gVal := clamp01(output[1*size+idx])
			bVal := clamp01(output[2*size+idx])

			pixIdx := idx * 3
			pixels[pixIdx+0] = uint8(bVal * 255)
			pixels[pixIdx+1] = uint8(gVal * 255)
			pixels[pixIdx+2] = uint8(rVal * 255)
		}
	}

	result, _ := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, pixels)
	return result
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
