package detector

import (
	"fmt"
	"image"
	"math"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/photorevive/internal/inference"
)

// RetinaFace locates faces and their five landmarks. It decodes the
// anchor-free multi-level head (strides 8/16/32, two anchors per cell,
// distance-coded boxes and keypoints).
type RetinaFace struct {
	session        *inference.Session
	inputSize      int
	confThreshold  float32
	nmsThreshold   float32
	featureStrides []int
	numAnchors     int
}

// NewRetinaFace creates a face locator from an ONNX model. The model has one
// input and nine outputs (3 levels x {score, bbox, kps}).
func NewRetinaFace(rt *inference.Runtime, modelPath string, inputSize int, confThreshold, nmsThreshold float32) (*RetinaFace, error) {
	inputNames := []string{"input.1"}
	outputNames := []string{
		"score_8", "score_16", "score_32",
		"bbox_8", "bbox_16", "bbox_32",
		"kps_8", "kps_16", "kps_32",
	}

	session, err := rt.NewSession(modelPath, inputNames, outputNames)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector session: %w", err)
	}

	return &RetinaFace{
		session:        session,
		inputSize:      inputSize,
		confThreshold:  confThreshold,
		nmsThreshold:   nmsThreshold,
		featureStrides: []int{8, 16, 32},
		numAnchors:     2,
	}, nil
}

// Detect finds faces in an image. Zero faces is a valid result, not an
// error. Output is ordered by confidence descending, ties left-to-right.
func (d *RetinaFace) Detect(img gocv.Mat) ([]Face, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	origHeight := img.Rows()
	origWidth := img.Cols()

	inputBlob, scale := d.preprocess(img)
	defer inputBlob.Close()

	blobData := inputBlob.ToBytes()
	floatData := bytesToFloat32(blobData)

	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, int64(d.inputSize), int64(d.inputSize)),
		floatData,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := make([]ort.Value, 9)
	outputTensors := make([]*ort.Tensor[float32], 9)

	for i, stride := range d.featureStrides {
		fm := d.inputSize / stride
		numAnchors := fm * fm * d.numAnchors

		scoreTensor, err := inference.CreateEmptyTensor[float32]([]int64{int64(numAnchors), 1})
		if err != nil {
			return nil, fmt.Errorf("failed to create score tensor: %w", err)
		}
		outputs[i] = scoreTensor
		outputTensors[i] = scoreTensor

		bboxTensor, err := inference.CreateEmptyTensor[float32]([]int64{int64(numAnchors), 4})
		if err != nil {
			return nil, fmt.Errorf("failed to create bbox tensor: %w", err)
		}
		outputs[i+3] = bboxTensor
		outputTensors[i+3] = bboxTensor

		kpsTensor, err := inference.CreateEmptyTensor[float32]([]int64{int64(numAnchors), 10})
		if err != nil {
			return nil, fmt.Errorf("failed to create keypoint tensor: %w", err)
		}
		outputs[i+6] = kpsTensor
		outputTensors[i+6] = kpsTensor
	}
	defer func() {
		for _, t := range outputTensors {
			t.Destroy()
		}
	}()

	if err := d.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("detector inference failed: %w", err)
	}

	faces := d.postprocess(outputTensors, scale, origWidth, origHeight)
	faces = nms(faces, d.nmsThreshold)
	sortFaces(faces)

	return faces, nil
}

// preprocess letterboxes the image into the square input and normalizes
// pixels to (x - 127.5) / 128.
func (d *RetinaFace) preprocess(img gocv.Mat) (gocv.Mat, float32) {
	height := img.Rows()
	width := img.Cols()

	longest := width
	if height > longest {
		longest = height
	}
	scale := float32(d.inputSize) / float32(longest)

	newWidth := int(float32(width) * scale)
	newHeight := int(float32(height) * scale)

	resized := gocv.NewMat()
	gocv.Resize(img, &resized, image.Pt(newWidth, newHeight), 0, 0, gocv.InterpolationLinear)

	padded := gocv.NewMatWithSize(d.inputSize, d.inputSize, gocv.MatTypeCV8UC3)
	padded.SetTo(gocv.NewScalar(0, 0, 0, 0))

	roi := padded.Region(image.Rect(0, 0, newWidth, newHeight))
	resized.CopyTo(&roi)
	roi.Close()
	resized.Close()

	rgb := gocv.NewMat()
	gocv.CvtColor(padded, &rgb, gocv.ColorBGRToRGB)
	padded.Close()

	blob := gocv.NewMat()
	rgb.ConvertTo(&blob, gocv.MatTypeCV32FC3)
	rgb.Close()

	gocv.AddWeighted(blob, 1.0/128.0, blob, 0, -127.5/128.0, &blob)

	blobNCHW := gocv.BlobFromImage(blob, 1.0, image.Pt(d.inputSize, d.inputSize),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	blob.Close()

	return blobNCHW, scale
}

// postprocess decodes the multi-level head back into image-space faces.
func (d *RetinaFace) postprocess(outputs []*ort.Tensor[float32], scale float32, origWidth, origHeight int) []Face {
	var faces []Face

	for level, stride := range d.featureStrides {
		fm := d.inputSize / stride

		scoreData := outputs[level].GetData()
		bboxData := outputs[level+3].GetData()
		kpsData := outputs[level+6].GetData()

		anchorIdx := 0
		for y := 0; y < fm; y++ {
			for x := 0; x < fm; x++ {
				for a := 0; a < d.numAnchors; a++ {
					score := sigmoid(scoreData[anchorIdx])

					if score > d.confThreshold {
						cx := (float32(x) + 0.5) * float32(stride)
						cy := (float32(y) + 0.5) * float32(stride)

						// Boxes are coded as distances to the four edges.
						bboxIdx := anchorIdx * 4
						x1 := (cx - bboxData[bboxIdx]*float32(stride)) / scale
						y1 := (cy - bboxData[bboxIdx+1]*float32(stride)) / scale
						x2 := (cx + bboxData[bboxIdx+2]*float32(stride)) / scale
						y2 := (cy + bboxData[bboxIdx+3]*float32(stride)) / scale

						x1 = clamp32(x1, 0, float32(origWidth))
						y1 = clamp32(y1, 0, float32(origHeight))
						x2 = clamp32(x2, 0, float32(origWidth))
						y2 = clamp32(y2, 0, float32(origHeight))

						kpsIdx := anchorIdx * 10
						decodePoint := func(k int) Point {
							return Point{
								X: (cx + kpsData[kpsIdx+k*2]*float32(stride)) / scale,
								Y: (cy + kpsData[kpsIdx+k*2+1]*float32(stride)) / scale,
							}
						}

						faces = append(faces, Face{
							BoundingBox: BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
							Landmarks: Landmarks{
								LeftEye:    decodePoint(0),
								RightEye:   decodePoint(1),
								Nose:       decodePoint(2),
								LeftMouth:  decodePoint(3),
								RightMouth: decodePoint(4),
							},
							Score: score,
						})
					}
					anchorIdx++
				}
			}
		}
	}

	return faces
}

// Close releases detector resources.
func (d *RetinaFace) Close() error {
	return d.session.Destroy()
}

func sigmoid(x float32) float32 {
	return 1.0 / (1.0 + float32(math.Exp(float64(-x))))
}

func clamp32(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func bytesToFloat32(data []byte) []float32 {
	result := make([]float32, len(data)/4)
	for i := range result {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		result[i] = math.Float32frombits(bits)
	}
	return result
}
