package align

import (
	"math"
	"runtime"
	"sync"

	"github.com/menta2k/sketch-scorer/pkg/grid"
	"github.com/menta2k/sketch-scorer/pkg/overlap"
	"github.com/menta2k/sketch-scorer/pkg/types"
)

// Stage is one pass of the grid search. A global stage sweeps the full
// circle and the full scale range and searches translations around the
// centroid seed; the other stages refine around the best candidate so far.
type Stage struct {
	Global bool

	RotationSpan float64 // degrees either side of the current best
	RotationStep float64

	ScaleSpan float64 // either side of the current best, clamped to [MinScale, MaxScale]
	ScaleStep float64

	TranslationSpan float64 // grid units either side of the seed or best
	TranslationStep float64
}

// Config holds configuration for the alignment search
type Config struct {
	Stages   []Stage
	MinScale float64
	MaxScale float64

	// Workers bounds how many rotations of a stage are scored concurrently.
	// The result does not depend on it.
	Workers int

	// SeedCandidate scores the unrotated, unscaled centroid seed before the
	// first stage. Off by default; turning it on can change which transform
	// wins a tie.
	SeedCandidate bool
}

// DefaultStages is the coarse, medium and fine search
func DefaultStages() []Stage {
	return []Stage{
		{Global: true, RotationStep: 15, ScaleStep: 0.2, TranslationSpan: 10, TranslationStep: 10},
		{RotationSpan: 15, RotationStep: 5, ScaleSpan: 0.2, ScaleStep: 0.1, TranslationSpan: 5, TranslationStep: 5},
		{RotationSpan: 5, RotationStep: 1, ScaleSpan: 0.1, ScaleStep: 0.05, TranslationSpan: 3, TranslationStep: 1},
	}
}

// DefaultConfig returns the standard search configuration
func DefaultConfig() Config {
	return Config{
		Stages:   DefaultStages(),
		MinScale: 0.5,
		MaxScale: 1.5,
		Workers:  runtime.GOMAXPROCS(0),
	}
}

// Searcher finds the transform that best aligns a submission to an original
type Searcher struct {
	config Config
}

// New creates a Searcher with the default configuration
func New() *Searcher {
	return &Searcher{config: DefaultConfig()}
}

// NewWithConfig creates a Searcher with custom configuration. Missing values
// fall back to the defaults.
func NewWithConfig(config Config) *Searcher {
	def := DefaultConfig()
	if len(config.Stages) == 0 {
		config.Stages = def.Stages
	}
	if config.MinScale <= 0 {
		config.MinScale = def.MinScale
	}
	if config.MaxScale < config.MinScale {
		config.MaxScale = math.Max(def.MaxScale, config.MinScale)
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Searcher{config: config}
}

// Config returns the searcher's configuration
func (s *Searcher) Config() Config {
	return s.config
}

// FindBestAlignment runs every stage, each centered on the winner of the
// previous one, starting from {0, Identity}. Candidates are visited
// rotation, scale, tx, ty ascending and only a strictly better score
// replaces the current best, so ties keep the earliest candidate and the
// result is deterministic.
func (s *Searcher) FindBestAlignment(original, submission *grid.Binary) types.AlignmentResult {
	ocx, ocy := original.Centroid()
	scx, scy := submission.Centroid()
	seedX, seedY := scx-ocx, scy-ocy

	best := types.AlignmentResult{Score: 0, Transform: types.Identity}
	if s.config.SeedCandidate {
		seed := types.Transform{
			Rotation:   0,
			Scale:      math.Min(s.config.MaxScale, math.Max(s.config.MinScale, 1)),
			TranslateX: seedX,
			TranslateY: seedY,
		}
		best.Evaluations++
		if score := overlap.Score(original, submission, seed); score > best.Score {
			best.Score = score
			best.Transform = seed
		}
	}

	for _, stage := range s.config.Stages {
		best = s.runStage(original, submission, stage, best, seedX, seedY)
	}
	return best
}

func (s *Searcher) runStage(original, submission *grid.Binary, st Stage, best types.AlignmentResult, seedX, seedY float64) types.AlignmentResult {
	var rotations, scales, txs, tys []float64
	if st.Global {
		rotations = steps(-180, 180, st.RotationStep, false)
		scales = steps(s.config.MinScale, s.config.MaxScale, st.ScaleStep, true)
		txs = steps(seedX-st.TranslationSpan, seedX+st.TranslationSpan, st.TranslationStep, true)
		tys = steps(seedY-st.TranslationSpan, seedY+st.TranslationSpan, st.TranslationStep, true)
	} else {
		t := best.Transform
		rotations = steps(t.Rotation-st.RotationSpan, t.Rotation+st.RotationSpan, st.RotationStep, true)
		scales = steps(math.Max(s.config.MinScale, t.Scale-st.ScaleSpan), math.Min(s.config.MaxScale, t.Scale+st.ScaleSpan), st.ScaleStep, true)
		txs = steps(t.TranslateX-st.TranslationSpan, t.TranslateX+st.TranslationSpan, st.TranslationStep, true)
		tys = steps(t.TranslateY-st.TranslationSpan, t.TranslateY+st.TranslationSpan, st.TranslationStep, true)
	}

	// Each rotation is an independent slice of the search space; its local
	// winners are merged in rotation order below.
	local := make([]types.AlignmentResult, len(rotations))
	sem := make(chan struct{}, s.config.Workers)
	var wg sync.WaitGroup
	for i, rot := range rotations {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, rot float64) {
			defer wg.Done()
			defer func() { <-sem }()
			local[i] = bestForRotation(original, submission, rot, scales, txs, tys)
		}(i, rot)
	}
	wg.Wait()

	evaluations := best.Evaluations
	for _, cand := range local {
		evaluations += cand.Evaluations
		if cand.Evaluations > 0 && cand.Score > best.Score {
			best.Score = cand.Score
			best.Transform = cand.Transform
		}
	}
	best.Evaluations = evaluations
	return best
}

func bestForRotation(original, submission *grid.Binary, rot float64, scales, txs, tys []float64) types.AlignmentResult {
	res := types.AlignmentResult{Score: math.Inf(-1)}
	for _, sc := range scales {
		for _, tx := range txs {
			for _, ty := range tys {
				t := types.Transform{Rotation: rot, Scale: sc, TranslateX: tx, TranslateY: ty}
				score := overlap.Score(original, submission, t)
				res.Evaluations++
				if score > res.Score {
					res.Score = score
					res.Transform = t
				}
			}
		}
	}
	return res
}

// steps enumerates lo, lo+step, ... up to hi (inclusive when closed). Values
// are computed from the index and rounded to 1e-6 so no error accumulates.
func steps(lo, hi, step float64, closed bool) []float64 {
	if step <= 0 || hi < lo {
		return nil
	}
	const eps = 1e-9
	var out []float64
	for i := 0; ; i++ {
		v := math.Round((lo+float64(i)*step)*1e6) / 1e6
		if v > hi+eps || (!closed && v >= hi-eps) {
			break
		}
		out = append(out, v)
	}
	return out
}
