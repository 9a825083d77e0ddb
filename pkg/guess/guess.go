// Package guess asks a vision model what a submitted drawing depicts.
package guess

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"regexp"
	"strings"

	"github.com/menta2k/sketch-scorer/pkg/client"
	"github.com/menta2k/sketch-scorer/pkg/types"
)

// SimpleTestPrompt checks that the model can see images at all
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks for a single guess. %s is replaced by the candidate list.
const DefaultPrompt = `You are playing a drawing guessing game. The image is a quick hand drawing
of a simple object, made from a spoken description.

Return JSON only:
{"label": "string", "confidence": 0.0, "description": "short sentence (<= 15 words)"}

RULES
- label is what the drawing most likely shows, one or two lowercase words.
- Prefer one of these answers when any of them fits: %s
- confidence is in [0,1].
- If the drawing is blank or unrecognizable, use "unknown" with confidence 0.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Unknown is the label used when the model gives no usable answer
const Unknown = "unknown"

// Guesser turns vision model replies into guesses
type Guesser struct {
	client  client.VisionClient
	maxDim  int
	quality int
}

// NewGuesser creates a guesser that downscales images to 512 pixels
func NewGuesser(c client.VisionClient) *Guesser {
	return &Guesser{client: c, maxDim: 512, quality: 85}
}

// SetImageOptions changes how images are prepared for the model
func (g *Guesser) SetImageOptions(maxDim, quality int) {
	if maxDim > 0 {
		g.maxDim = maxDim
	}
	if quality > 0 && quality <= 100 {
		g.quality = quality
	}
}

// Guess asks the model which of candidates img shows. Replies that cannot be
// parsed produce an unknown guess rather than an error; transport errors are
// returned.
func (g *Guesser) Guess(ctx context.Context, model string, img image.Image, candidates []string) (*types.Guess, error) {
	imgB64, err := EncodeForModel(img, "jpg", g.maxDim, g.quality)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}

	prompt := fmt.Sprintf(DefaultPrompt, strings.Join(candidates, ", "))
	reply, err := g.client.Ask(ctx, model, prompt, imgB64)
	if err != nil {
		return nil, err
	}

	result := parseGuess(reply)
	matchCandidate(result, candidates)
	return result, nil
}

// TestVision asks the simple test prompt and returns the raw reply
func (g *Guesser) TestVision(ctx context.Context, model string, img image.Image) (string, error) {
	imgB64, err := EncodeForModel(img, "jpg", g.maxDim, g.quality)
	if err != nil {
		return "", err
	}
	return g.client.Ask(ctx, model, SimpleTestPrompt, imgB64)
}

func fallback(description string) *types.Guess {
	return &types.Guess{Label: Unknown, Confidence: 0, Description: description}
}

// parseGuess extracts a guess from the model's reply
func parseGuess(raw string) *types.Guess {
	raw = sanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "{") {
		return fallback("Model returned non-JSON response")
	}

	var result types.Guess
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return fallback("Failed to parse model response")
	}

	result.Label = normalizeLabel(result.Label)
	if result.Label == "" || result.Label == "none" {
		return fallback(result.Description)
	}
	result.Confidence = clamp(result.Confidence, 0, 1)
	return &result
}

var articles = []string{"a ", "an ", "the "}

var nonWord = regexp.MustCompile(`[^a-z0-9 ]+`)

// normalizeLabel lowercases, drops punctuation and leading articles
func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonWord.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	for _, a := range articles {
		s = strings.TrimPrefix(s, a)
	}
	return s
}

// matchCandidate replaces the label with the candidate it names, preferring
// exact matches and then the longest candidate contained in the label
func matchCandidate(g *types.Guess, candidates []string) {
	if g.Label == Unknown {
		return
	}
	best := ""
	for _, c := range candidates {
		n := normalizeLabel(c)
		if n == "" {
			continue
		}
		if n == g.Label {
			g.Label = c
			g.Matched = true
			return
		}
		if (strings.Contains(g.Label, n) || strings.Contains(n, g.Label)) && len(n) > len(normalizeLabel(best)) {
			best = c
		}
	}
	if best != "" {
		g.Label = best
		g.Matched = true
	}
}

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = blockComment.ReplaceAllString(raw, "")
	raw = lineComment.ReplaceAllString(raw, "$1")
	raw = trailingComma.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

var (
	blockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComment   = regexp.MustCompile(`(?m)(^|[^:])//.*$`)
	trailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
