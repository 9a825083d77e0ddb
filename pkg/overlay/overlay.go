package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/menta2k/sketch-scorer/pkg/grid"
	"github.com/menta2k/sketch-scorer/pkg/raster"
	"github.com/menta2k/sketch-scorer/pkg/types"
)

// DefaultSize is the display resolution of the overlay
const DefaultSize = 300

// Palette holds the overlay colors
type Palette struct {
	Original   color.NRGBA // ink only in the original
	Submission color.NRGBA // ink only in the transformed submission
	Overlap    color.NRGBA // ink in both
	Background color.NRGBA
}

// DefaultPalette draws the original in blue, the submission in red and the
// overlap in purple
var DefaultPalette = Palette{
	Original:   color.NRGBA{0, 100, 255, 255},
	Submission: color.NRGBA{255, 100, 100, 255},
	Overlap:    color.NRGBA{128, 0, 128, 255},
	Background: color.NRGBA{255, 255, 255, 255},
}

// Options controls how the overlay is encoded
type Options struct {
	Format   string // png, jpg or webp
	Quality  int    // jpg and lossy webp
	Lossless bool   // webp only
}

// DefaultOptions encodes lossless PNG
func DefaultOptions() Options {
	return Options{Format: "png", Quality: 90}
}

// Renderer composites an original and a transformed submission
type Renderer struct {
	rasterizer *raster.Rasterizer
	palette    Palette
	threshold  int
	options    Options
}

// New creates a Renderer
func New(rasterizer *raster.Rasterizer, threshold int, options Options) *Renderer {
	if rasterizer == nil {
		rasterizer = raster.New()
	}
	if threshold <= 0 {
		threshold = grid.DefaultThreshold
	}
	if options.Format == "" {
		options.Format = "png"
	}
	if options.Quality <= 0 || options.Quality > 100 {
		options.Quality = 90
	}
	return &Renderer{
		rasterizer: rasterizer,
		palette:    DefaultPalette,
		threshold:  threshold,
		options:    options,
	}
}

// SetPalette replaces the overlay colors
func (r *Renderer) SetPalette(p Palette) {
	r.palette = p
}

// Options returns the encoding options
func (r *Renderer) Options() Options {
	return r.options
}

// Render rasterizes both sources at size and colors each pixel by which of
// them has ink there. The submission is mapped through t exactly as the
// scorer maps it, so t must already be expressed in units of size.
func (r *Renderer) Render(original, submission types.Source, t types.Transform, size int) *image.NRGBA {
	orig := grid.Binarize(r.rasterizer.Rasterize(original, size), r.threshold)
	sub := grid.Binarize(r.rasterizer.Rasterize(submission, size), r.threshold)
	return r.Composite(orig, sub, t)
}

// Composite colors an already binarized pair
func (r *Renderer) Composite(original, submission *grid.Binary, t types.Transform) *image.NRGBA {
	size := original.Size
	img := imaging.New(size, size, r.palette.Background)
	if !t.Valid() {
		t = types.Identity
	}
	warped := grid.Warp(submission, size, t)

	for y := 0; y < size; y++ {
		i := y * img.Stride
		for x := 0; x < size; x++ {
			o := original.At(x, y)
			s := warped.At(x, y)
			c := r.palette.Background
			switch {
			case o && s:
				c = r.palette.Overlap
			case o:
				c = r.palette.Original
			case s:
				c = r.palette.Submission
			}
			img.Pix[i+0] = c.R
			img.Pix[i+1] = c.G
			img.Pix[i+2] = c.B
			img.Pix[i+3] = c.A
			i += 4
		}
	}
	return img
}

// Encode writes img in the renderer's format
func (r *Renderer) Encode(w io.Writer, img image.Image) error {
	return Encode(w, img, r.options)
}

// RenderBytes renders and encodes the overlay
func (r *Renderer) RenderBytes(original, submission types.Source, t types.Transform, size int) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Encode(&buf, r.Render(original, submission, t, size)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes img as png, jpg/jpeg or webp
func Encode(w io.Writer, img image.Image, opts Options) error {
	switch strings.ToLower(opts.Format) {
	case "", "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		return enc.Encode(w, img)
	case "jpg", "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: opts.Quality})
	case "webp":
		return webp.Encode(w, img, &webp.Options{Lossless: opts.Lossless, Quality: float32(opts.Quality)})
	default:
		return fmt.Errorf("unsupported overlay format: %s", opts.Format)
	}
}

// Extension returns the file extension for a format name
func Extension(format string) string {
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		return ".jpg"
	case "webp":
		return ".webp"
	default:
		return ".png"
	}
}
