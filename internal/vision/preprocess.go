package vision

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	"github.com/disintegration/imaging"
)

// DecodeImage decodes any supported still-image format.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// imageToFloat32CHW resizes the image and converts it to CHW float32
// with per-channel normalization: pixel = (pixel - mean) / std.
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := imaging.Resize(img, targetW, targetH, imaging.Linear)
	bounds := resized.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	data := make([]float32, 3*h*w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := resized.NRGBAAt(x, y)

			idx := y*w + x
			data[0*h*w+idx] = (float32(px.R) - mean[0]) / std[0]
			data[1*h*w+idx] = (float32(px.G) - mean[1]) / std[1]
			data[2*h*w+idx] = (float32(px.B) - mean[2]) / std[2]
		}
	}

	return data
}

// cropPadded extracts a pixel-space bbox from the image with
// proportional padding on each side, clamped to the frame.
func cropPadded(img image.Image, bbox [4]float32, pad float32) image.Image {
	bounds := img.Bounds()

	w := bbox[2] - bbox[0]
	h := bbox[3] - bbox[1]
	if w <= 0 || h <= 0 {
		return nil
	}

	x1 := int(bbox[0] - w*pad)
	y1 := int(bbox[1] - h*pad)
	x2 := int(bbox[2] + w*pad)
	y2 := int(bbox[3] + h*pad)

	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}
	if x2-x1 <= 0 || y2-y1 <= 0 {
		return nil
	}

	return imaging.Crop(img, image.Rect(x1, y1, x2, y2))
}

// EncodeJPEG encodes an image as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	return buf.Bytes()
}

// l2Normalize scales v to unit length in-place so that downstream
// similarity reduces to a dot product.
func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}
