package media

import (
	"bytes"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func TestPrepareForModel(t *testing.T) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(1080, 2340, color.NRGBA{R: 10, G: 20, B: 30, A: 255}), imaging.PNG); err != nil {
		t.Fatal(err)
	}

	data, mime, err := PrepareForModel(buf.Bytes())
	if err != nil {
		t.Fatalf("PrepareForModel: %v", err)
	}
	if mime != "image/jpeg" {
		t.Errorf("mime = %s, want image/jpeg", mime)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	b := img.Bounds()
	if b.Dx() > 1024 || b.Dy() > 1024 {
		t.Errorf("output %dx%d exceeds the model bound", b.Dx(), b.Dy())
	}

	if _, _, err := PrepareForModel([]byte("not an image")); err == nil {
		t.Error("garbage input should fail to decode")
	}
}

func TestWritePlaceholder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "blocked.png")
	if err := WritePlaceholder(path, 108, 192); err != nil {
		t.Fatalf("WritePlaceholder: %v", err)
	}
	img, err := imaging.Open(path)
	if err != nil {
		t.Fatalf("open placeholder: %v", err)
	}
	if img.Bounds().Dx() != 108 {
		t.Errorf("width = %d, want 108", img.Bounds().Dx())
	}
}

func TestAnnotate(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	if err := imaging.Save(imaging.New(400, 400, color.NRGBA{A: 255}), src); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, "out", "annotated.png")
	markers := []Marker{
		{Bounds: [4]int{50, 50, 150, 150}, Label: 1},
		{Bounds: [4]int{300, 300, 300, 300}, Label: 2}, // point marker
	}
	if err := Annotate(src, dst, markers); err != nil {
		t.Fatalf("Annotate: %v", err)
	}

	img, err := imaging.Open(dst)
	if err != nil {
		t.Fatal(err)
	}
	nrgba := imaging.Clone(img)
	onEdge := nrgba.NRGBAAt(100, 50) // top edge of the box
	if onEdge.R < 200 {
		t.Errorf("box edge not drawn: %+v", onEdge)
	}
	atPoint := nrgba.NRGBAAt(300, 300)
	if atPoint.R < 200 {
		t.Errorf("crosshair not drawn: %+v", atPoint)
	}
	center := nrgba.NRGBAAt(100, 100)
	if center.R > 50 {
		t.Errorf("box interior should stay untouched: %+v", center)
	}
}
