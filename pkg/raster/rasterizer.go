package raster

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"regexp"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/sketch-scorer/pkg/types"
)

// DefaultFitRatio leaves a 5% margin on every side of the rendered image
const DefaultFitRatio = 0.9

// Rasterizer renders image sources into square grayscale grids
type Rasterizer struct {
	config Config
	logger *zap.Logger
}

// Config holds configuration for the rasterizer
type Config struct {
	// FitRatio is the fraction of the frame the longer side of the source
	// is scaled to fill
	FitRatio float64
}

// New creates a new Rasterizer with default configuration
func New() *Rasterizer {
	return &Rasterizer{
		config: Config{FitRatio: DefaultFitRatio},
		logger: zap.NewNop(),
	}
}

// NewWithConfig creates a new Rasterizer with custom configuration
func NewWithConfig(config Config) *Rasterizer {
	if config.FitRatio <= 0 || config.FitRatio > 1 {
		config.FitRatio = DefaultFitRatio
	}
	return &Rasterizer{config: config, logger: zap.NewNop()}
}

// SetLogger sets the logger used to report decode failures
func (r *Rasterizer) SetLogger(logger *zap.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Rasterize renders src into a size×size grid, centered and uniformly scaled
// to fill FitRatio of the frame. Sources that cannot be decoded produce an
// all-white grid.
func (r *Rasterizer) Rasterize(src types.Source, size int) (grid *Grid) {
	if size <= 0 {
		return NewGrid(0)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Debug("rasterize panicked, using blank grid",
				zap.String("kind", src.Kind.String()), zap.Any("panic", rec))
			grid = NewGrid(size)
		}
	}()

	var (
		canvas *image.NRGBA
		err    error
	)
	switch src.Kind {
	case types.KindMarkup:
		canvas, err = r.renderMarkup(src.Data, size)
	default:
		canvas, err = r.renderBitmap(src.Data, size)
	}
	if err != nil {
		r.logger.Debug("rasterize failed, using blank grid",
			zap.String("kind", src.Kind.String()), zap.Int("bytes", len(src.Data)), zap.Error(err))
		return NewGrid(size)
	}
	return fromNRGBA(canvas)
}

// fit computes the placement of a w×h source inside a size×size frame
func (r *Rasterizer) fit(w, h float64, size int) (x, y, fw, fh float64) {
	s := float64(size)
	scale := math.Min(s/w, s/h) * r.config.FitRatio
	fw, fh = w*scale, h*scale
	return (s - fw) / 2, (s - fh) / 2, fw, fh
}

func (r *Rasterizer) renderMarkup(data []byte, size int) (*image.NRGBA, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty markup")
	}

	icon, err := oksvg.ReadIconStream(bytes.NewReader(normalizeMarkup(data)), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("failed to parse markup: %w", err)
	}
	if icon.ViewBox.W <= 0 || icon.ViewBox.H <= 0 {
		return nil, errors.New("markup has no usable viewBox")
	}

	x, y, w, h := r.fit(icon.ViewBox.W, icon.ViewBox.H, size)
	icon.SetTarget(x, y, w, h)

	// SetTarget moves the geometry only; stroke widths and dashes are in
	// target pixels and must follow the same scale.
	scale := w / icon.ViewBox.W
	for i := range icon.SVGPaths {
		p := &icon.SVGPaths[i]
		p.LineWidth *= scale
		p.DashOffset *= scale
		if len(p.Dash) > 0 {
			dash := make([]float64, len(p.Dash))
			for j, d := range p.Dash {
				dash[j] = d * scale
			}
			p.Dash = dash
		}
	}

	canvas := imaging.New(size, size, color.White)
	scanner := rasterx.NewScannerGV(size, size, canvas, canvas.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)
	return canvas, nil
}

func (r *Rasterizer) renderBitmap(data []byte, size int) (*image.NRGBA, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.New("image has no pixels")
	}

	x, y, w, h := r.fit(float64(b.Dx()), float64(b.Dy()), size)
	tw := max(1, int(math.Round(w)))
	th := max(1, int(math.Round(h)))

	resized := imaging.Resize(img, tw, th, imaging.Linear)
	canvas := imaging.New(size, size, color.White)
	return imaging.Overlay(canvas, resized, image.Pt(int(math.Round(x)), int(math.Round(y))), 1.0), nil
}

var (
	strokeAttr  = regexp.MustCompile(`\bstroke\s*=\s*("[^"]*"|'[^']*')`)
	strokeStyle = regexp.MustCompile(`\bstroke\s*:\s*[^;"']+`)
)

// normalizeMarkup paints every stroke solid black so that thresholding does
// not depend on the author's styling.
func normalizeMarkup(data []byte) []byte {
	out := bytes.ReplaceAll(data, []byte("currentColor"), []byte("black"))
	out = strokeAttr.ReplaceAll(out, []byte(`stroke="black"`))
	return strokeStyle.ReplaceAll(out, []byte("stroke:black"))
}

// Decode decodes raster bytes or a base64 data URL into an image. All
// registered decoders are tried first, then the WebP decoder directly.
func Decode(data []byte) (image.Image, error) {
	if bytes.HasPrefix(data, []byte("data:")) {
		decoded, err := decodeDataURL(data)
		if err != nil {
			return nil, err
		}
		data = decoded
	}
	if len(data) == 0 {
		return nil, errors.New("image: no data")
	}

	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// decodeDataURL extracts the payload of a base64 data URL
func decodeDataURL(data []byte) ([]byte, error) {
	comma := bytes.IndexByte(data, ',')
	if comma < 0 {
		return nil, errors.New("malformed data URL")
	}
	header, payload := data[:comma], data[comma+1:]
	if !bytes.HasSuffix(header, []byte(";base64")) {
		return payload, nil
	}
	out := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(out, bytes.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decode data URL: %w", err)
	}
	return out[:n], nil
}
