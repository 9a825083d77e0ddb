// Package overlap scores how well a transformed submission reproduces the
// ink of an original drawing.
//
// The score is recall-oriented: it measures the fraction of the original's
// ink covered by the submission and only penalizes the submission for
// drawing far more ink than the original. The result is then bent by a
// concave curve so that typical hand drawings do not all land near zero.
package overlap

import (
	"math"

	"github.com/menta2k/sketch-scorer/pkg/grid"
	"github.com/menta2k/sketch-scorer/pkg/types"
)

// Tuning constants for the score curve
const (
	// ExcessRatioLimit is the submission/original ink ratio above which the
	// submission is penalized
	ExcessRatioLimit = 2.0
	// ExcessSlope is the penalty per unit of ratio above the limit
	ExcessSlope = 0.1
	// MaxExcessPenalty caps the excess penalty
	MaxExcessPenalty = 0.3
	// CurveExponent reshapes the raw score; values below 1 lift low scores
	CurveExponent = 0.7
)

// Counts are the pixel tallies behind a score
type Counts struct {
	Original   int // ink pixels in the original
	Submission int // ink pixels in the transformed submission
	Overlap    int // pixels inked in both
}

// Count maps the submission through t and tallies ink on the original's grid
func Count(original, submission *grid.Binary, t types.Transform) Counts {
	var c Counts
	if !t.Valid() {
		c.Original = original.Count()
		return c
	}

	size := original.Size
	m := grid.NewMapper(size, t)
	for y := 0; y < size; y++ {
		row := original.Ink[y*size : (y+1)*size]
		for x, orig := range row {
			if orig {
				c.Original++
			}
			sx, sy := m.Source(x, y)
			if submission.At(sx, sy) {
				c.Submission++
				if orig {
					c.Overlap++
				}
			}
		}
	}
	return c
}

// Coverage is the fraction of original ink reproduced by the submission
func (c Counts) Coverage() float64 {
	if c.Original == 0 {
		return 0
	}
	return float64(c.Overlap) / float64(c.Original)
}

// Penalty is the deduction for drawing much more ink than the original
func (c Counts) Penalty() float64 {
	ratio := float64(c.Submission) / float64(max(c.Original, 1))
	if ratio <= ExcessRatioLimit {
		return 0
	}
	return math.Min(MaxExcessPenalty, (ratio-ExcessRatioLimit)*ExcessSlope)
}

// Score folds the tallies into a similarity in [0, 1]
func (c Counts) Score() float64 {
	if c.Original == 0 {
		return 0
	}
	raw := math.Max(0, c.Coverage()-c.Penalty())
	return math.Pow(raw, CurveExponent)
}

// Score returns the similarity of submission, transformed by t, to original
func Score(original, submission *grid.Binary, t types.Transform) float64 {
	return Count(original, submission, t).Score()
}
