package vision

import (
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/photovault/internal/models"
)

// cocoLabels are the 80 object classes the detection model was trained on.
var cocoLabels = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train",
	"truck", "boat", "traffic light", "fire hydrant", "stop sign",
	"parking meter", "bench", "bird", "cat", "dog", "horse", "sheep",
	"cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella",
	"handbag", "tie", "suitcase", "frisbee", "skis", "snowboard",
	"sports ball", "kite", "baseball bat", "baseball glove", "skateboard",
	"surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork",
	"knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv",
	"laptop", "mouse", "remote", "keyboard", "cell phone", "microwave",
	"oven", "toaster", "sink", "refrigerator", "book", "clock", "vase",
	"scissors", "teddy bear", "hair drier", "toothbrush",
}

const (
	objInputSize  = 640
	objCandidates = 8400 // anchor-free grid positions for 640x640 input
)

// ObjectDetector runs a YOLO-family ONNX model over whole images. Safe
// for concurrent use: the session and its preallocated tensors are
// mutable shared state, so runs are serialized on mu.
type ObjectDetector struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	threshold    float32
}

func NewObjectDetector(modelPath string, threshold float32) (*ObjectDetector, error) {
	inputShape := ort.NewShape(1, 3, objInputSize, objInputSize)
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Output layout: [1, 4+classes, candidates].
	outputShape := ort.NewShape(1, int64(4+len(cocoLabels)), objCandidates)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create object session: %w", err)
	}

	return &ObjectDetector{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		threshold:    threshold,
	}, nil
}

// DetectObjects returns all confident detections with normalized boxes.
func (d *ObjectDetector) DetectObjects(img image.Image) ([]models.ObjectDetection, error) {
	input := imageToFloat32CHW(img, objInputSize, objInputSize,
		[3]float32{0, 0, 0}, [3]float32{255, 255, 255})

	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.inputTensor.GetData(), input)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run object detection: %w", err)
	}

	return d.parseDetections(), nil
}

type objCandidate struct {
	det   Detection
	class int
}

// parseDetections reads the transposed [4+classes, candidates] output:
// rows 0-3 are cx, cy, w, h in input pixels, remaining rows class scores.
func (d *ObjectDetector) parseDetections() []models.ObjectDetection {
	out := d.outputTensor.GetData()

	var candidates []objCandidate
	for i := 0; i < objCandidates; i++ {
		bestClass := -1
		bestScore := float32(0)
		for c := 0; c < len(cocoLabels); c++ {
			score := out[(4+c)*objCandidates+i]
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestClass < 0 || bestScore < d.threshold {
			continue
		}

		cx := out[0*objCandidates+i]
		cy := out[1*objCandidates+i]
		w := out[2*objCandidates+i]
		h := out[3*objCandidates+i]

		candidates = append(candidates, objCandidate{
			det: Detection{
				BBox: [4]float32{
					clampF(cx-w/2, 0, objInputSize),
					clampF(cy-h/2, 0, objInputSize),
					clampF(cx+w/2, 0, objInputSize),
					clampF(cy+h/2, 0, objInputSize),
				},
				Confidence: bestScore,
			},
			class: bestClass,
		})
	}

	// Class-wise NMS, then normalize boxes to 0-1.
	var result []models.ObjectDetection
	for c := range cocoLabels {
		var dets []Detection
		for _, cand := range candidates {
			if cand.class == c {
				dets = append(dets, cand.det)
			}
		}
		if len(dets) == 0 {
			continue
		}
		for _, det := range nms(dets, 0.5) {
			result = append(result, models.ObjectDetection{
				Label:      cocoLabels[c],
				Confidence: det.Confidence,
				BBox: [4]float32{
					det.BBox[0] / objInputSize,
					det.BBox[1] / objInputSize,
					det.BBox[2] / objInputSize,
					det.BBox[3] / objInputSize,
				},
			})
		}
	}

	return result
}

func (d *ObjectDetector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	if d.outputTensor != nil {
		d.outputTensor.Destroy()
	}
}
