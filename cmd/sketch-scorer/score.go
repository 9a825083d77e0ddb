package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	sketchscorer "github.com/menta2k/sketch-scorer"
	"github.com/menta2k/sketch-scorer/internal/config"
	"github.com/menta2k/sketch-scorer/internal/utils"
	"github.com/menta2k/sketch-scorer/pkg/catalog"
	"github.com/menta2k/sketch-scorer/pkg/raster"
	"github.com/menta2k/sketch-scorer/pkg/types"
)

type scoreOptions struct {
	drawing  string
	original string
	in       string
	outDir   string
	asJSON   bool
}

// scoreLine is one scored submission in --json output
type scoreLine struct {
	Submission string          `json:"submission"`
	Score      int             `json:"score"`
	Transform  types.Transform `json:"transform"`
	Overlay    string          `json:"overlay,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func newScoreCmd(a *app) *cobra.Command {
	var opts scoreOptions
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score drawings against a catalog drawing or a reference image",
		Example: `  sketch-scorer score --drawing house --in alice.jpg
  sketch-scorer score --original ref.svg --in submissions/ --out overlays --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.score(cmd, opts)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&opts.drawing, "drawing", "d", "", "catalog drawing id to score against")
	fs.StringVar(&opts.original, "original", "", "reference image file or URL (svg, png, jpg, webp)")
	fs.StringVarP(&opts.in, "in", "i", "", "submission file, directory of submissions, or URL")
	fs.StringVarP(&opts.outDir, "out", "o", "out", "directory overlays are written to")
	fs.BoolVar(&opts.asJSON, "json", false, "print results as JSON")

	fs.String("overlay-format", def.Overlay.Format, "overlay format: png|jpg|webp (env: SKETCHSCORER_OVERLAY_FORMAT)")
	fs.Int("overlay-quality", def.Overlay.Quality, "jpg/webp overlay quality (env: SKETCHSCORER_OVERLAY_QUALITY)")
	fs.Bool("no-overlay", def.Overlay.Skip, "skip overlay rendering (env: SKETCHSCORER_OVERLAY_SKIP)")
	fs.Int("workers", def.Engine.Workers, "rotations scored in parallel, 0 uses every CPU (env: SKETCHSCORER_ENGINE_WORKERS)")

	override(fs, "overlay-format", "overlay.format")
	override(fs, "overlay-quality", "overlay.quality")
	override(fs, "no-overlay", "overlay.skip")
	override(fs, "workers", "engine.workers")

	cmd.MarkFlagsMutuallyExclusive("drawing", "original")
	cmd.MarkFlagsOneRequired("drawing", "original")
	_ = cmd.MarkFlagRequired("in")

	return cmd
}

func (a *app) score(cmd *cobra.Command, opts scoreOptions) error {
	reference, name, err := loadReference(opts)
	if err != nil {
		return err
	}

	inputs, err := submissions(opts.in)
	if err != nil {
		return err
	}

	scorer := sketchscorer.NewWithConfig(a.cfg.ScorerConfig())
	scorer.SetLogger(a.logger.Named("engine"))

	if !a.cfg.Overlay.Skip {
		if err := utils.EnsureDir(opts.outDir); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	lines := make([]scoreLine, 0, len(inputs))
	for _, path := range inputs {
		line := scoreLine{Submission: path}

		src, err := raster.LoadSource(path)
		if err != nil {
			a.logger.Warn("skipping submission", zap.String("path", path), zap.Error(err))
			line.Error = err.Error()
			lines = append(lines, line)
			continue
		}

		res := scorer.ScoreSubmission(reference, src)
		line.Score = res.Score
		line.Transform = res.Transform

		if len(res.Overlay) > 0 {
			line.Overlay = utils.OverlayFilename(path, opts.outDir, name, res.OverlayFormat)
			if err := os.WriteFile(line.Overlay, res.Overlay, 0o644); err != nil {
				return fmt.Errorf("failed to write overlay: %w", err)
			}
			a.logger.Debug("wrote overlay",
				zap.String("path", line.Overlay),
				zap.String("size", utils.FormatFileSize(int64(len(res.Overlay)))))
		}
		lines = append(lines, line)

		if !opts.asJSON {
			fmt.Fprintf(out, "%s: %d%% (rotation %.0f°, scale %.2f, shift %.1f,%.1f)",
				path, res.Score, res.Transform.Rotation, res.Transform.Scale,
				res.Transform.TranslateX, res.Transform.TranslateY)
			if line.Overlay != "" {
				fmt.Fprintf(out, " -> %s", line.Overlay)
			}
			fmt.Fprintln(out)
		}
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(lines)
	}
	return nil
}

// loadReference returns the original to score against and the name used in
// overlay filenames
func loadReference(opts scoreOptions) (types.Source, string, error) {
	if opts.drawing != "" {
		d, err := catalog.ByID(opts.drawing)
		if err != nil {
			return types.Source{}, "", err
		}
		return d.Source(), d.ID, nil
	}

	src, err := raster.LoadSource(opts.original)
	if err != nil {
		return types.Source{}, "", err
	}
	base := filepath.Base(opts.original)
	return src, strings.TrimSuffix(base, filepath.Ext(base)), nil
}

func submissions(in string) ([]string, error) {
	if strings.HasPrefix(in, "http://") || strings.HasPrefix(in, "https://") {
		return []string{in}, nil
	}
	inputs, err := utils.ListSubmissions(in)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, errors.New("no drawings found in " + in)
	}
	return inputs, nil
}
