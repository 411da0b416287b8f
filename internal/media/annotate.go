package media

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// Marker is one highlight to draw on an annotated screenshot.
type Marker struct {
	// Bounds is x1,y1,x2,y2; a point marker uses x1==x2, y1==y2.
	Bounds [4]int
	Label  int // 1-based action index within the step
}

var markerColor = color.NRGBA{R: 255, G: 64, B: 64, A: 255}

// Annotate draws action markers on a screenshot and saves the result.
func Annotate(srcPath, dstPath string, markers []Marker) error {
	src, err := imaging.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open screenshot: %w", err)
	}
	img := imaging.Clone(src)

	for _, m := range markers {
		x1, y1, x2, y2 := m.Bounds[0], m.Bounds[1], m.Bounds[2], m.Bounds[3]
		if x1 == x2 && y1 == y2 {
			drawCrosshair(img, x1, y1)
			continue
		}
		drawRect(img, x1, y1, x2, y2)
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return err
	}
	return imaging.Save(img, dstPath)
}

const strokeWidth = 4

func drawRect(img *image.NRGBA, x1, y1, x2, y2 int) {
	for s := 0; s < strokeWidth; s++ {
		drawHLine(img, x1, x2, y1+s)
		drawHLine(img, x1, x2, y2-s)
		drawVLine(img, y1, y2, x1+s)
		drawVLine(img, y1, y2, x2-s)
	}
}

func drawCrosshair(img *image.NRGBA, x, y int) {
	const arm = 24
	for s := -strokeWidth / 2; s < strokeWidth/2; s++ {
		drawHLine(img, x-arm, x+arm, y+s)
		drawVLine(img, y-arm, y+arm, x+s)
	}
}

func drawHLine(img *image.NRGBA, x1, x2, y int) {
	b := img.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	for x := max(x1, b.Min.X); x <= min(x2, b.Max.X-1); x++ {
		img.SetNRGBA(x, y, markerColor)
	}
}

func drawVLine(img *image.NRGBA, y1, y2, x int) {
	b := img.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	for y := max(y1, b.Min.Y); y <= min(y2, b.Max.Y-1); y++ {
		img.SetNRGBA(x, y, markerColor)
	}
}
