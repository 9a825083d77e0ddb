// Package sketchscorer scores free-hand drawings against reference line art.
//
// A drawing game shows one player a hidden reference image, the others draw
// what they hear described, and every submission is compared against the
// reference. The comparison searches rotations, scales and translations of
// the submission for the best pixel overlap with the reference, so a drawing
// that is a little tilted, shrunk or off-center still scores well.
//
// Basic usage:
//
//	package main
//
//	import (
//		"fmt"
//		"os"
//
//		sketchscorer "github.com/menta2k/sketch-scorer"
//		"github.com/menta2k/sketch-scorer/pkg/catalog"
//		"github.com/menta2k/sketch-scorer/pkg/types"
//	)
//
//	func main() {
//		house, _ := catalog.ByID("house")
//		photo, _ := os.ReadFile("my_house.jpg")
//
//		result := sketchscorer.New().ScoreSubmission(house.Source(), types.Bitmap(photo))
//		fmt.Printf("Score: %d%% (rotation %.0f°, scale %.2f)\n",
//			result.Score, result.Transform.Rotation, result.Transform.Scale)
//
//		os.WriteFile("overlay.png", result.Overlay, 0644)
//	}
//
// The engine is a pipeline of small packages:
//
// 1. Raster (pkg/raster): renders SVG markup or bitmaps into square grayscale grids
// 2. Grid (pkg/grid): thresholds grids into ink masks and maps transforms
// 3. Overlap (pkg/overlap): the coverage-biased similarity score
// 4. Align (pkg/align): the coarse-to-fine transform search
// 5. Overlay (pkg/overlay): the colored diagnostic composite
//
// Scoring never fails: undecodable input scores 0, and any unexpected failure
// inside the pipeline is logged and reported as a zero score with the
// identity transform.
package sketchscorer

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/sketch-scorer/pkg/align"
	"github.com/menta2k/sketch-scorer/pkg/catalog"
	"github.com/menta2k/sketch-scorer/pkg/grid"
	"github.com/menta2k/sketch-scorer/pkg/overlay"
	"github.com/menta2k/sketch-scorer/pkg/raster"
	"github.com/menta2k/sketch-scorer/pkg/types"
)

// Version of the sketch scorer library
const Version = "1.0.0"

// Config holds the engine constants
type Config struct {
	InkThreshold      int     // brightness below which a pixel is ink
	SearchResolution  int     // grid size used by the alignment search
	OverlayResolution int     // grid size of the diagnostic overlay
	FitRatio          float64 // fraction of the frame a source is scaled to fill

	Search  align.Config
	Overlay overlay.Options

	// SkipOverlay leaves ScoringResult.Overlay empty
	SkipOverlay bool
}

// DefaultConfig returns the standard engine configuration
func DefaultConfig() Config {
	return Config{
		InkThreshold:      grid.DefaultThreshold,
		SearchResolution:  100,
		OverlayResolution: overlay.DefaultSize,
		FitRatio:          raster.DefaultFitRatio,
		Search:            align.DefaultConfig(),
		Overlay:           overlay.DefaultOptions(),
	}
}

// Scorer provides a high-level interface to the scoring pipeline. A Scorer
// holds no per-call state and may be used from several goroutines.
type Scorer struct {
	config     Config
	rasterizer *raster.Rasterizer
	searcher   *align.Searcher
	renderer   *overlay.Renderer
	logger     *zap.Logger
}

// New creates a new Scorer with default configuration
func New() *Scorer {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new Scorer with custom configuration. Zero values
// fall back to the defaults.
func NewWithConfig(config Config) *Scorer {
	def := DefaultConfig()
	if config.InkThreshold <= 0 || config.InkThreshold > 256 {
		config.InkThreshold = def.InkThreshold
	}
	if config.SearchResolution <= 0 {
		config.SearchResolution = def.SearchResolution
	}
	if config.OverlayResolution <= 0 {
		config.OverlayResolution = def.OverlayResolution
	}
	if config.FitRatio <= 0 || config.FitRatio > 1 {
		config.FitRatio = def.FitRatio
	}

	rasterizer := raster.NewWithConfig(raster.Config{FitRatio: config.FitRatio})
	return &Scorer{
		config:     config,
		rasterizer: rasterizer,
		searcher:   align.NewWithConfig(config.Search),
		renderer:   overlay.New(rasterizer, config.InkThreshold, config.Overlay),
		logger:     zap.NewNop(),
	}
}

// SetLogger sets the logger for the scorer and its rasterizer
func (s *Scorer) SetLogger(logger *zap.Logger) {
	if logger == nil {
		return
	}
	s.logger = logger
	s.rasterizer.SetLogger(logger.Named("raster"))
}

// Config returns the scorer's configuration
func (s *Scorer) Config() Config {
	return s.config
}

// Align rasterizes and binarizes both sources at the search resolution and
// runs the alignment search
func (s *Scorer) Align(original, submission types.Source) types.AlignmentResult {
	size := s.config.SearchResolution
	orig := grid.Binarize(s.rasterizer.Rasterize(original, size), s.config.InkThreshold)
	sub := grid.Binarize(s.rasterizer.Rasterize(submission, size), s.config.InkThreshold)
	return s.searcher.FindBestAlignment(orig, sub)
}

// ScoreSubmission scores submission against original and renders the
// overlay. It never panics and never returns an error; failures produce
// types.FailedResult.
func (s *Scorer) ScoreSubmission(original, submission types.Source) (result types.ScoringResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("scoring failed", zap.Any("panic", rec), zap.Stack("stack"))
			result = types.FailedResult()
		}
	}()

	best := s.Align(original, submission)
	result = types.ScoringResult{
		Score:     percentage(best.Score),
		Transform: best.Transform,
	}

	if !s.config.SkipOverlay {
		// The search ran on a coarser grid; translations are in its units.
		factor := float64(s.config.OverlayResolution) / float64(s.config.SearchResolution)
		data, err := s.renderer.RenderBytes(original, submission, best.Transform.ScaleTranslation(factor), s.config.OverlayResolution)
		if err != nil {
			s.logger.Error("overlay rendering failed", zap.Error(err))
			return types.FailedResult()
		}
		result.Overlay = data
		result.OverlayFormat = s.renderer.Options().Format
	}

	s.logger.Debug("scored submission",
		zap.Int("score", result.Score),
		zap.Float64("rotation", best.Transform.Rotation),
		zap.Float64("scale", best.Transform.Scale),
		zap.Float64("translate_x", best.Transform.TranslateX),
		zap.Float64("translate_y", best.Transform.TranslateY),
		zap.Int("evaluations", best.Evaluations),
		zap.Duration("elapsed", time.Since(start)))
	return result
}

// ScoreDrawing scores submission against a catalog drawing
func (s *Scorer) ScoreDrawing(drawingID string, submission types.Source) (types.ScoringResult, error) {
	d, err := catalog.ByID(drawingID)
	if err != nil {
		return types.FailedResult(), fmt.Errorf("cannot score against %q: %w", drawingID, err)
	}
	return s.ScoreSubmission(d.Source(), submission), nil
}

// GetVersion returns the version of the library
func GetVersion() string {
	return Version
}

func percentage(score float64) int {
	switch {
	case score <= 0:
		return 0
	case score >= 1:
		return 100
	}
	return int(score*100 + 0.5)
}
