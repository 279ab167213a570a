package enhancer

import (
	"fmt"
	"image"
	"math"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/photorevive/internal/inference"
)

// inputSize is the canonical face-space side length the model expects.
const inputSize = 512

// FaceEnhancer restores a single aligned face crop. It is a pure function of
// its input crop; faces may be enhanced in any order.
type FaceEnhancer struct {
	session *inference.Session
}

// New loads the face restoration model.
func New(rt *inference.Runtime, modelPath string) (*FaceEnhancer, error) {
	session, err := rt.NewSession(modelPath, []string{"input"}, []string{"output"})
	if err != nil {
		return nil, fmt.Errorf("failed to create enhancer session: %w", err)
	}
	return &FaceEnhancer{session: session}, nil
}

// Enhance restores one aligned 512x512 face crop and returns the enhanced
// crop in the same canonical space.
func (e *FaceEnhancer) Enhance(crop gocv.Mat) (gocv.Mat, error) {
	resized := gocv.NewMat()
	if crop.Rows() != inputSize || crop.Cols() != inputSize {
		gocv.Resize(crop, &resized, image.Pt(inputSize, inputSize), 0, 0, gocv.InterpolationLinear)
	} else {
		crop.CopyTo(&resized)
	}
	defer resized.Close()

	rgb := gocv.NewMat()
	gocv.CvtColor(resized, &rgb, gocv.ColorBGRToRGB)
	defer rgb.Close()

	floatMat := gocv.NewMat()
	rgb.ConvertTo(&floatMat, gocv.MatTypeCV32FC3)
	defer floatMat.Close()

	// Model expects [-1, 1]: (x/255 - 0.5) / 0.5.
	gocv.AddWeighted(floatMat, 2.0/255.0, floatMat, 0, -1.0, &floatMat)

	blob := gocv.BlobFromImage(floatMat, 1.0, image.Pt(inputSize, inputSize),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	floatData := bytesToFloat32(blob.ToBytes())

	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, inputSize, inputSize),
		floatData,
	)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, 3, inputSize, inputSize})
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := e.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return gocv.NewMat(), fmt.Errorf("enhancer inference failed: %w", err)
	}

	return postprocess(outputTensor.GetData()), nil
}

// postprocess converts NCHW RGB [-1,1] output into an 8-bit BGR crop.
func postprocess(output []float32) gocv.Mat {
	size := inputSize * inputSize
	pixels := make([]byte, size*3)

	for y := 0; y < inputSize; y++ {
		for x := 0; x < inputSize; x++ {
			idx := y*inputSize + x

			r := (output[0*size+idx] + 1) / 2
			g := (output[1*size+idx] + 1) / 2
			b := (output[2*size+idx] + 1) / 2

			r = clamp(r, 0, 1)
			g = clamp(g, 0, 1)
			b = clamp(b, 0, 1)

			pixIdx := idx * 3
			pixels[pixIdx+0] = uint8(b * 255)
			pixels[pixIdx+1] = uint8(g * 255)
			pixels[pixIdx+2] = uint8(r * 255)
		}
	}

	result, _ := gocv.NewMatFromBytes(inputSize, inputSize, gocv.MatTypeCV8UC3, pixels)
	return result
}

// Close releases resources.
func (e *FaceEnhancer) Close() error {
	return e.session.Destroy()
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func bytesToFloat32(b []byte) []float32 {
	floats := make([]float32, len(b)/4)
	for i := 0; i < len(floats); i++ {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		floats[i] = math.Float32frombits(bits)
	}
	return floats
}
