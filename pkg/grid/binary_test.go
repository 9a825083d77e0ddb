package grid

import (
	"testing"

	"github.com/menta2k/sketch-scorer/pkg/raster"
	"github.com/menta2k/sketch-scorer/pkg/types"
)

func TestBinarize(t *testing.T) {
	g := raster.NewGrid(4)
	g.Pix[0] = 0
	g.Pix[1] = 199
	g.Pix[2] = 200
	g.Pix[3] = 254

	b := Binarize(g, DefaultThreshold)
	if b.Size != 4 {
		t.Fatalf("Expected size 4, got %d", b.Size)
	}
	want := []bool{true, true, false, false}
	for i, w := range want {
		if b.Ink[i] != w {
			t.Errorf("Expected ink=%v at %d (brightness %d), got %v", w, i, g.Pix[i], b.Ink[i])
		}
	}
	if b.Count() != 2 {
		t.Errorf("Expected 2 ink pixels, got %d", b.Count())
	}
}

func TestAtOutOfBounds(t *testing.T) {
	b := New(3)
	for i := range b.Ink {
		b.Ink[i] = true
	}
	for _, p := range [][2]int{{-1, 0}, {0, -1}, {3, 0}, {0, 3}} {
		if b.At(p[0], p[1]) {
			t.Errorf("Expected no ink outside the grid at %v", p)
		}
	}
}

func TestCentroid(t *testing.T) {
	b := New(10)
	b.Set(2, 4, true)
	b.Set(6, 8, true)

	cx, cy := b.Centroid()
	if cx != 4 || cy != 6 {
		t.Errorf("Expected centroid (4, 6), got (%f, %f)", cx, cy)
	}
}

func TestCentroidEmpty(t *testing.T) {
	cx, cy := New(100).Centroid()
	if cx != 50 || cy != 50 {
		t.Errorf("Expected grid center (50, 50) for empty grid, got (%f, %f)", cx, cy)
	}
}

func TestMapperIdentity(t *testing.T) {
	m := NewMapper(100, types.Identity)
	for _, p := range [][2]int{{0, 0}, {50, 50}, {99, 3}, {17, 83}} {
		sx, sy := m.Source(p[0], p[1])
		if sx != p[0] || sy != p[1] {
			t.Errorf("Expected identity to map %v to itself, got (%d, %d)", p, sx, sy)
		}
	}
}

func TestMapperTranslation(t *testing.T) {
	m := NewMapper(100, types.Transform{Scale: 1, TranslateX: 3, TranslateY: -2})
	sx, sy := m.Source(10, 10)
	if sx != 13 || sy != 8 {
		t.Errorf("Expected (13, 8), got (%d, %d)", sx, sy)
	}
}

func TestMapperRotation(t *testing.T) {
	// A positive rotation samples the source a quarter turn the other way
	m := NewMapper(100, types.Transform{Rotation: 90, Scale: 1})
	sx, sy := m.Source(60, 50)
	if sx != 50 || sy != 40 {
		t.Errorf("Expected (50, 40), got (%d, %d)", sx, sy)
	}
}

func TestMapperScale(t *testing.T) {
	m := NewMapper(100, types.Transform{Scale: 2})
	sx, sy := m.Source(70, 30)
	if sx != 60 || sy != 40 {
		t.Errorf("Expected (60, 40), got (%d, %d)", sx, sy)
	}
}

func TestWarpRoundTrip(t *testing.T) {
	b := New(40)
	b.Set(30, 20, true)

	// Rotating the content by 90 degrees moves (30, 20) to (20, 30)
	w := Warp(b, 40, types.Transform{Rotation: 90, Scale: 1})
	if !w.At(20, 30) {
		t.Error("Expected rotated ink at (20, 30)")
	}
	if w.Count() != 1 {
		t.Errorf("Expected 1 ink pixel after warp, got %d", w.Count())
	}
}

func TestTranslationConvention(t *testing.T) {
	orig := New(40)
	orig.Set(10, 20, true)
	sub := New(40)
	sub.Set(15, 24, true) // drawn 5 right and 4 below

	ocx, ocy := orig.Centroid()
	scx, scy := sub.Centroid()
	tr := types.Transform{Scale: 1, TranslateX: scx - ocx, TranslateY: scy - ocy}
	if tr.TranslateX != 5 || tr.TranslateY != 4 {
		t.Fatalf("Expected a (5, 4) shift, got (%f, %f)", tr.TranslateX, tr.TranslateY)
	}

	w := Warp(sub, 40, tr)
	if !w.At(10, 20) {
		t.Error("Expected the shifted submission to land on the original")
	}
}
