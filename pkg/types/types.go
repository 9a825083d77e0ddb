package types

import (
	"bytes"
	"encoding/base64"
	"math"
	"strings"
)

// Kind tells the rasterizer how to interpret the bytes of a Source
type Kind int

const (
	// KindBitmap is an encoded raster image (PNG, JPEG, WebP, ...)
	KindBitmap Kind = iota
	// KindMarkup is SVG line art
	KindMarkup
)

func (k Kind) String() string {
	if k == KindMarkup {
		return "markup"
	}
	return "bitmap"
}

// Source is an immutable image handed to the scoring engine
type Source struct {
	Kind Kind
	Data []byte
}

// Markup wraps SVG markup as a Source
func Markup(svg string) Source {
	return Source{Kind: KindMarkup, Data: []byte(svg)}
}

// Bitmap wraps encoded raster bytes as a Source
func Bitmap(data []byte) Source {
	return Source{Kind: KindBitmap, Data: data}
}

// Detect guesses the kind of data: anything containing an <svg element is
// markup, everything else is treated as a bitmap.
func Detect(data []byte) Source {
	if bytes.Contains(data, []byte("<svg")) {
		return Markup(string(data))
	}
	return Bitmap(data)
}

// Empty reports whether the source carries no bytes at all
func (s Source) Empty() bool {
	return len(bytes.TrimSpace(s.Data)) == 0
}

// Transform is a rotation, uniform scale and translation applied to the
// submission grid, anchored at the grid center.
type Transform struct {
	Rotation   float64 `json:"rotation"`    // degrees
	Scale      float64 `json:"scale"`       // strictly positive
	TranslateX float64 `json:"translate_x"` // grid units
	TranslateY float64 `json:"translate_y"` // grid units
}

// Identity leaves the submission untouched
var Identity = Transform{Rotation: 0, Scale: 1, TranslateX: 0, TranslateY: 0}

// Valid reports whether the transform is invertible
func (t Transform) Valid() bool {
	return t.Scale > 0 && !math.IsNaN(t.Rotation) && !math.IsInf(t.Scale, 0) &&
		!math.IsNaN(t.TranslateX) && !math.IsNaN(t.TranslateY)
}

// ScaleTranslation converts the translation to a grid of a different
// resolution (factor = newSize / oldSize).
func (t Transform) ScaleTranslation(factor float64) Transform {
	t.TranslateX *= factor
	t.TranslateY *= factor
	return t
}

// AlignmentResult is the best candidate found by the alignment search
type AlignmentResult struct {
	Score       float64   `json:"score"`
	Transform   Transform `json:"transform"`
	Evaluations int       `json:"evaluations"`
}

// ScoringResult is the terminal output of one scoring call
type ScoringResult struct {
	Score         int       `json:"score"` // 0-100
	Transform     Transform `json:"transform"`
	Overlay       []byte    `json:"overlay,omitempty"`
	OverlayFormat string    `json:"overlay_format,omitempty"`
}

// FailedResult is returned whenever scoring could not complete
func FailedResult() ScoringResult {
	return ScoringResult{Score: 0, Transform: Identity}
}

// OverlayDataURL returns the overlay as a data URL, or "" if there is none
func (r ScoringResult) OverlayDataURL() string {
	if len(r.Overlay) == 0 {
		return ""
	}
	mime := "image/png"
	switch strings.ToLower(r.OverlayFormat) {
	case "jpg", "jpeg":
		mime = "image/jpeg"
	case "webp":
		mime = "image/webp"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(r.Overlay)
}

// Guess is what a vision model thinks a submission depicts
type Guess struct {
	Label       string  `json:"label"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
	Matched     bool    `json:"matched"` // label is one of the candidates
}
