package guess

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
)

// EncodeForModel converts an image to base64 for sending to vision models.
// Images larger than maxDim are downscaled, and transparent canvas captures
// are flattened onto white so strokes stay visible in JPEG.
func EncodeForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if img == nil {
		return "", errors.New("no image")
	}
	b := img.Bounds()
	if b.Empty() {
		return "", errors.New("image has no pixels")
	}

	if maxDim > 0 {
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	bg := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.White)
	flat := imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, flat); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
