package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/chai2010/webp"

	"github.com/menta2k/sketch-scorer/pkg/grid"
	"github.com/menta2k/sketch-scorer/pkg/types"
)

func createTestGrid(size, x0, y0, x1, y1 int) *grid.Binary {
	b := grid.New(size)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			b.Set(x, y, true)
		}
	}
	return b
}

func pixel(img *image.NRGBA, x, y int) [4]uint8 {
	i := img.PixOffset(x, y)
	return [4]uint8{img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]}
}

func rgba(c color.Color) [4]uint8 {
	r, g, b, a := c.RGBA()
	return [4]uint8{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
}

func TestComposite(t *testing.T) {
	orig := createTestGrid(20, 0, 0, 10, 10)
	sub := createTestGrid(20, 5, 5, 15, 15)

	img := New(nil, 0, Options{}).Composite(orig, sub, types.Identity)
	if img.Bounds().Dx() != 20 || img.Bounds().Dy() != 20 {
		t.Fatalf("Expected 20x20 overlay, got %v", img.Bounds())
	}

	cases := []struct {
		x, y int
		want [4]uint8
		name string
	}{
		{7, 7, rgba(DefaultPalette.Overlap), "overlap"},
		{2, 2, rgba(DefaultPalette.Original), "original only"},
		{12, 12, rgba(DefaultPalette.Submission), "submission only"},
		{18, 2, rgba(DefaultPalette.Background), "background"},
	}
	for _, c := range cases {
		if got := pixel(img, c.x, c.y); got != c.want {
			t.Errorf("%s: expected %v at (%d, %d), got %v", c.name, c.want, c.x, c.y, got)
		}
	}
}

func TestCompositeUsesTransform(t *testing.T) {
	orig := createTestGrid(20, 0, 0, 10, 10)
	sub := createTestGrid(20, 5, 5, 15, 15)

	// Sampling the submission 5 pixels further on lines it up with the original
	tr := types.Transform{Scale: 1, TranslateX: 5, TranslateY: 5}
	img := New(nil, 0, Options{}).Composite(orig, sub, tr)

	if got := pixel(img, 2, 2); got != rgba(DefaultPalette.Overlap) {
		t.Errorf("Expected overlap at (2, 2), got %v", got)
	}
	if got := pixel(img, 12, 12); got != rgba(DefaultPalette.Background) {
		t.Errorf("Expected background at (12, 12), got %v", got)
	}
}

func TestRenderBlankSources(t *testing.T) {
	r := New(nil, 0, Options{})
	img := r.Render(types.Bitmap(nil), types.Bitmap([]byte("garbage")), types.Identity, 30)

	bg := rgba(DefaultPalette.Background)
	for y := 0; y < 30; y++ {
		for x := 0; x < 30; x++ {
			if got := pixel(img, x, y); got != bg {
				t.Fatalf("Expected all-background overlay, got %v at (%d, %d)", got, x, y)
			}
		}
	}
}

func TestRenderBytesFormats(t *testing.T) {
	markup := types.Markup(`<svg viewBox="0 0 10 10" xmlns="http://www.w3.org/2000/svg"><path d="M1 5 L9 5" stroke="black" fill="none"/></svg>`)

	data, err := New(nil, 0, Options{Format: "png"}).RenderBytes(markup, markup, types.Identity, 60)
	if err != nil {
		t.Fatalf("png: unexpected error: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png: failed to decode overlay: %v", err)
	}
	if img.Bounds().Dx() != 60 {
		t.Errorf("png: expected width 60, got %d", img.Bounds().Dx())
	}

	data, err = New(nil, 0, Options{Format: "webp", Lossless: true}).RenderBytes(markup, markup, types.Identity, 60)
	if err != nil {
		t.Fatalf("webp: unexpected error: %v", err)
	}
	if _, err := webp.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("webp: failed to decode overlay: %v", err)
	}

	if _, err := New(nil, 0, Options{Format: "jpg", Quality: 80}).RenderBytes(markup, markup, types.Identity, 60); err != nil {
		t.Errorf("jpg: unexpected error: %v", err)
	}
}

func TestEncodeUnsupported(t *testing.T) {
	var buf bytes.Buffer
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	if err := Encode(&buf, img, Options{Format: "gif"}); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestExtension(t *testing.T) {
	cases := map[string]string{"png": ".png", "JPEG": ".jpg", "jpg": ".jpg", "webp": ".webp", "": ".png"}
	for format, want := range cases {
		if got := Extension(format); got != want {
			t.Errorf("Expected %s for %q, got %s", want, format, got)
		}
	}
}

func BenchmarkComposite(b *testing.B) {
	orig := createTestGrid(300, 50, 50, 250, 250)
	sub := createTestGrid(300, 60, 60, 260, 260)
	r := New(nil, 0, Options{})
	tr := types.Transform{Rotation: 10, Scale: 1.05, TranslateX: 4, TranslateY: 2}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Composite(orig, sub, tr)
	}
}
