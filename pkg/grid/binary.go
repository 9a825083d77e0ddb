package grid

import (
	"math"

	"github.com/menta2k/sketch-scorer/pkg/raster"
	"github.com/menta2k/sketch-scorer/pkg/types"
)

// DefaultThreshold is the brightness below which a pixel counts as ink
const DefaultThreshold = 200

// Binary is a square ink/no-ink matrix, row-major
type Binary struct {
	Size int
	Ink  []bool
}

// New returns an empty (inkless) binary grid
func New(size int) *Binary {
	if size < 0 {
		size = 0
	}
	return &Binary{Size: size, Ink: make([]bool, size*size)}
}

// Binarize marks every sample darker than threshold as ink
func Binarize(g *raster.Grid, threshold int) *Binary {
	b := New(g.Size)
	for i, v := range g.Pix {
		b.Ink[i] = int(v) < threshold
	}
	return b
}

// At reports whether (x, y) is ink. Coordinates outside the grid are not.
func (b *Binary) At(x, y int) bool {
	if x < 0 || y < 0 || x >= b.Size || y >= b.Size {
		return false
	}
	return b.Ink[y*b.Size+x]
}

// Set marks (x, y) as ink or not; out of range coordinates are ignored
func (b *Binary) Set(x, y int, ink bool) {
	if x < 0 || y < 0 || x >= b.Size || y >= b.Size {
		return
	}
	b.Ink[y*b.Size+x] = ink
}

// Count returns the number of ink pixels
func (b *Binary) Count() int {
	n := 0
	for _, ink := range b.Ink {
		if ink {
			n++
		}
	}
	return n
}

// Centroid returns the mean ink coordinate. A grid without ink reports its
// geometric center.
func (b *Binary) Centroid() (cx, cy float64) {
	var sumX, sumY float64
	count := 0
	for y := 0; y < b.Size; y++ {
		row := b.Ink[y*b.Size : (y+1)*b.Size]
		for x, ink := range row {
			if ink {
				sumX += float64(x)
				sumY += float64(y)
				count++
			}
		}
	}
	if count == 0 {
		return float64(b.Size) / 2, float64(b.Size) / 2
	}
	return sumX / float64(count), sumY / float64(count)
}

// Mapper maps output pixels to the submission pixel they sample under a
// transform: src = round(c + R(-θ)·(p - c)/s + t), c being the grid center.
// The same mapping is used for scoring and for the overlay. A positive
// translation means the submission's content sits right of (tx) or below
// (ty) the original's.
type Mapper struct {
	center   float64
	cos, sin float64
	scale    float64
	tx, ty   float64
}

// NewMapper prepares the mapping of t for a grid of the given size
func NewMapper(size int, t types.Transform) Mapper {
	rad := -t.Rotation * math.Pi / 180
	return Mapper{
		center: float64(size) / 2,
		cos:    math.Cos(rad),
		sin:    math.Sin(rad),
		scale:  t.Scale,
		tx:     t.TranslateX,
		ty:     t.TranslateY,
	}
}

// Source returns the submission coordinate sampled for output pixel (x, y)
func (m Mapper) Source(x, y int) (int, int) {
	dx := (float64(x) - m.center) / m.scale
	dy := (float64(y) - m.center) / m.scale
	sx := dx*m.cos - dy*m.sin + m.center + m.tx
	sy := dx*m.sin + dy*m.cos + m.center + m.ty
	return roundHalfUp(sx), roundHalfUp(sy)
}

// Warp returns the submission as seen through the transform, on a grid of
// the given size
func Warp(sub *Binary, size int, t types.Transform) *Binary {
	out := New(size)
	m := NewMapper(size, t)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			sx, sy := m.Source(x, y)
			out.Ink[y*size+x] = sub.At(sx, sy)
		}
	}
	return out
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
