package raster

import "image"

// White is the intensity of an empty pixel
const White = 255

// Grid is a square matrix of grayscale intensities, row-major. Each sample is
// the mean of the R, G and B channels of the pixel composited over white.
type Grid struct {
	Size int
	Pix  []uint8
}

// NewGrid returns an all-white grid of the given size
func NewGrid(size int) *Grid {
	if size < 0 {
		size = 0
	}
	pix := make([]uint8, size*size)
	for i := range pix {
		pix[i] = White
	}
	return &Grid{Size: size, Pix: pix}
}

// At returns the intensity at (x, y); pixels outside the grid are white
func (g *Grid) At(x, y int) uint8 {
	if x < 0 || y < 0 || x >= g.Size || y >= g.Size {
		return White
	}
	return g.Pix[y*g.Size+x]
}

// Blank reports whether every sample is white
func (g *Grid) Blank() bool {
	for _, v := range g.Pix {
		if v != White {
			return false
		}
	}
	return true
}

// Image returns the grid as a grayscale image, mostly for debugging output
func (g *Grid) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, g.Size, g.Size))
	copy(img.Pix, g.Pix)
	return img
}

// fromNRGBA samples an opaque NRGBA canvas into a grid
func fromNRGBA(img *image.NRGBA) *Grid {
	b := img.Bounds()
	size := b.Dx()
	g := &Grid{Size: size, Pix: make([]uint8, size*size)}
	for y := 0; y < size; y++ {
		i := y * img.Stride
		for x := 0; x < size; x++ {
			g.Pix[y*size+x] = brightness(img.Pix[i], img.Pix[i+1], img.Pix[i+2])
			i += 4
		}
	}
	return g
}

// brightness is floor(mean(r, g, b)), so brightness < t iff mean < t for
// any integer threshold t.
func brightness(r, g, b uint8) uint8 {
	return uint8((int(r) + int(g) + int(b)) / 3)
}
