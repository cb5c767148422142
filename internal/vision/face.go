package vision

import (
	"fmt"
	"image"
	"math"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one raw face detection in pixel coordinates.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
}

// DetectedFace is the capability result handed to the extraction stage:
// a normalized bounding box, a fixed-length encoding, and the crop the
// encoding was computed from.
type DetectedFace struct {
	X, Y, Width, Height float32 // normalized 0-1
	Encoding            []float32
	Confidence          float32
	Crop                image.Image
}

// stride configuration for the SCRFD-family detection model.
var faceStrides = []int{8, 16, 32}

const anchorsPerStride = 2

// faceDetector runs anchor-based face detection. The session and its
// preallocated tensors are mutable shared state; runs are serialized
// on mu.
type faceDetector struct {
	mu            sync.Mutex
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

func newFaceDetector(modelPath string, threshold float32) (*faceDetector, error) {
	inputW, inputH := 640, 640

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Output layout, no batch dimension: per-stride scores [N,1] and
	// bbox distances [N,4], N = (640/stride)^2 * anchorsPerStride.
	type outputSpec struct {
		name  string
		shape ort.Shape
	}
	outputs := []outputSpec{
		{"score_8", ort.NewShape(12800, 1)},
		{"score_16", ort.NewShape(3200, 1)},
		{"score_32", ort.NewShape(800, 1)},
		{"bbox_8", ort.NewShape(12800, 4)},
		{"bbox_16", ort.NewShape(3200, 4)},
		{"bbox_32", ort.NewShape(800, 4)},
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], len(outputs))
	outputValues := make([]ort.Value, len(outputs))

	for i, spec := range outputs {
		t, err := ort.NewEmptyTensor[float32](spec.shape)
		if err != nil {
			inputTensor.Destroy()
			for _, prev := range outputTensors[:i] {
				prev.Destroy()
			}
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		outputNames[i] = spec.name
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &faceDetector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// detect runs face detection on a preprocessed CHW image.
// origW/origH scale the boxes back to source pixel coordinates.
func (d *faceDetector) detect(imgData []float32, origW, origH int) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.inputTensor.GetData(), imgData)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	detections := d.parseDetections(origW, origH)
	return nms(detections, 0.4), nil
}

// parseDetections decodes the anchor grid at strides 8, 16, 32: each
// anchor predicts distances from its center to the four box edges.
func (d *faceDetector) parseDetections(origW, origH int) []Detection {
	var detections []Detection

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range faceStrides {
		scores := d.outputTensors[si].GetData()   // [N, 1]
		bboxes := d.outputTensors[si+3].GetData() // [N, 4]

		fmW := d.inputW / stride
		fmH := d.inputH / stride
		st := float32(stride)

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					score := scores[idx]
					if score >= d.threshold {
						anchorX := float32(cx) * st
						anchorY := float32(cy) * st

						x1 := (anchorX - bboxes[idx*4+0]*st) * scaleW
						y1 := (anchorY - bboxes[idx*4+1]*st) * scaleH
						x2 := (anchorX + bboxes[idx*4+2]*st) * scaleW
						y2 := (anchorY + bboxes[idx*4+3]*st) * scaleH

						detections = append(detections, Detection{
							BBox: [4]float32{
								clampF(x1, 0, float32(origW)),
								clampF(y1, 0, float32(origH)),
								clampF(x2, 0, float32(origW)),
								clampF(y2, 0, float32(origH)),
							},
							Confidence: score,
						})
					}
					idx++
				}
			}
		}
	}

	return detections
}

func (d *faceDetector) close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// faceEncoder turns an aligned face crop into a fixed-length encoding.
// Runs are serialized on mu, as in faceDetector.
type faceEncoder struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
	dim          int
}

func newFaceEncoder(modelPath string, dim int) (*faceEncoder, error) {
	inputW, inputH := 112, 112

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(dim))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"},
		[]string{"embedding"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create encoder session: %w", err)
	}

	return &faceEncoder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
		dim:          dim,
	}, nil
}

func (e *faceEncoder) encode(crop image.Image) ([]float32, error) {
	input := imageToFloat32CHW(crop, e.inputW, e.inputH,
		[3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})

	e.mu.Lock()
	defer e.mu.Unlock()
	copy(e.inputTensor.GetData(), input)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run encoder: %w", err)
	}

	encoding := make([]float32, e.dim)
	copy(encoding, e.outputTensor.GetData())

	l2Normalize(encoding)

	return encoding, nil
}

func (e *faceEncoder) close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}

// FaceService pairs the detector and encoder into the face capability.
type FaceService struct {
	detector *faceDetector
	encoder  *faceEncoder
}

// FaceEncodingDim is the encoder output length. Encodings of any other
// length are padded or truncated before persistence.
const FaceEncodingDim = 512

func NewFaceService(detectorPath, encoderPath string, threshold float32) (*FaceService, error) {
	det, err := newFaceDetector(detectorPath, threshold)
	if err != nil {
		return nil, fmt.Errorf("load face detector: %w", err)
	}
	enc, err := newFaceEncoder(encoderPath, FaceEncodingDim)
	if err != nil {
		det.close()
		return nil, fmt.Errorf("load face encoder: %w", err)
	}
	return &FaceService{detector: det, encoder: enc}, nil
}

// DetectFaces finds all faces in the image and encodes each one.
func (s *FaceService) DetectFaces(img image.Image) ([]DetectedFace, error) {
	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()

	input := imageToFloat32CHW(img, s.detector.inputW, s.detector.inputH,
		[3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})

	detections, err := s.detector.detect(input, origW, origH)
	if err != nil {
		return nil, err
	}

	faces := make([]DetectedFace, 0, len(detections))
	for _, det := range detections {
		crop := cropPadded(img, det.BBox, 0.1)
		if crop == nil {
			continue
		}
		encoding, err := s.encoder.encode(crop)
		if err != nil {
			return nil, fmt.Errorf("encode face: %w", err)
		}

		faces = append(faces, DetectedFace{
			X:          det.BBox[0] / float32(origW),
			Y:          det.BBox[1] / float32(origH),
			Width:      (det.BBox[2] - det.BBox[0]) / float32(origW),
			Height:     (det.BBox[3] - det.BBox[1]) / float32(origH),
			Encoding:   encoding,
			Confidence: det.Confidence,
			Crop:       crop,
		})
	}

	return faces, nil
}

func (s *FaceService) Close() {
	if s.detector != nil {
		s.detector.close()
	}
	if s.encoder != nil {
		s.encoder.close()
	}
}

// nms performs non-maximum suppression.
func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if keep[j] && iou(detections[i].BBox, detections[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []Detection
	for i, d := range detections {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
