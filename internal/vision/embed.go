package vision

import (
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Embedder extracts whole-image visual embeddings using a CLIP-style
// ONNX image encoder. Safe for concurrent use: the session and its
// preallocated tensors are mutable shared state, so runs are serialized
// on mu.
type Embedder struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
	dim          int
}

// CLIP image preprocessing constants (ImageNet-style, 0-255 scale).
var (
	embedMean = [3]float32{122.77, 116.75, 104.09}
	embedStd  = [3]float32{68.50, 66.63, 70.32}
)

// NewEmbedder loads the image-encoder ONNX model. dim is the embedding
// dimensionality the model emits.
func NewEmbedder(modelPath string, dim int) (*Embedder, error) {
	inputW, inputH := 224, 224

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
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &Embedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
		dim:          dim,
	}, nil
}

// Embed runs the encoder on a decoded image and returns an
// L2-normalized embedding vector.
func (e *Embedder) Embed(img image.Image) ([]float32, error) {
	input := imageToFloat32CHW(img, e.inputW, e.inputH, embedMean, embedStd)

	e.mu.Lock()
	defer e.mu.Unlock()
	copy(e.inputTensor.GetData(), input)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	embedding := make([]float32, e.dim)
	copy(embedding, e.outputTensor.GetData())

	l2Normalize(embedding)

	return embedding, nil
}

// Dim returns the embedding vector dimension.
func (e *Embedder) Dim() int {
	return e.dim
}

func (e *Embedder) Close() {
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
