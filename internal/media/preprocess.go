// Package media prepares screenshots for model payloads and renders
// annotated copies for human review.
package media

import (
	"bytes"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

const (
	// modelMaxDim bounds the longest screenshot edge sent to a model.
	modelMaxDim = 1024
	jpegQuality = 80
)

// PrepareForModel downscales and re-encodes a screenshot as JPEG to
// keep request payloads small. Returns the encoded bytes and mime type.
func PrepareForModel(pngData []byte) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, "", fmt.Errorf("decode screenshot: %w", err)
	}
	img = imaging.Fit(img, modelMaxDim, modelMaxDim, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, "", fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// WritePlaceholder writes a flat gray image where a blocked capture
// would have been, so the session gallery has no holes.
func WritePlaceholder(path string, w, h int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	img := imaging.New(w, h, color.NRGBA{R: 64, G: 64, B: 64, A: 255})
	return imaging.Save(img, path)
}
