package dedup

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"
	"strconv"

	"github.com/disintegration/imaging"
)

// PerceptualHash computes a 64-bit difference hash of the image: the
// frame is reduced to 9x8 grayscale and each bit records whether a
// pixel is brighter than its right neighbour. Survives resizing and
// recompression, which is exactly what near-duplicate uploads look like.
func PerceptualHash(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	small := imaging.Resize(img, 9, 8, imaging.Lanczos)
	gray := imaging.Grayscale(small)

	var hash uint64
	bit := 0
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			// After Grayscale all channels are equal; R is the luma.
			left := gray.NRGBAAt(x, y).R
			right := gray.NRGBAAt(x+1, y).R
			if left > right {
				hash |= 1 << uint(63-bit)
			}
			bit++
		}
	}

	return fmt.Sprintf("%016x", hash), nil
}

// HammingDistance counts differing bits between two hex-encoded 64-bit
// hashes.
func HammingDistance(a, b string) (int, error) {
	ua, err := strconv.ParseUint(a, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hash %q: %w", a, err)
	}
	ub, err := strconv.ParseUint(b, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hash %q: %w", b, err)
	}
	return bits.OnesCount64(ua ^ ub), nil
}
