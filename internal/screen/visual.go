package screen

import (
	"bytes"
	"math/bits"

	"github.com/disintegration/imaging"
)

// VisualHash is a 64-bit difference hash of a screenshot. Used only to
// flag near-duplicate screens whose tree hashes diverged; identity
// always comes from the composite hash.
type VisualHash uint64

// HashImage computes the difference hash of an encoded image. Returns
// 0 when the bytes do not decode.
func HashImage(data []byte) VisualHash {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	// 9x8 grayscale grid; each bit compares horizontal neighbors.
	small := imaging.Grayscale(imaging.Resize(img, 9, 8, imaging.Lanczos))

	var h VisualHash
	bit := 0
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			l, _, _, _ := small.At(x, y).RGBA()
			r, _, _, _ := small.At(x+1, y).RGBA()
			if l > r {
				h |= 1 << bit
			}
			bit++
		}
	}
	return h
}

// Similarity is 1 minus the normalized Hamming distance of two hashes.
func Similarity(a, b VisualHash) float64 {
	if a == 0 || b == 0 {
		return 0
	}
	return 1 - float64(bits.OnesCount64(uint64(a)^uint64(b)))/64
}
