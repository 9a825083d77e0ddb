package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/menta2k/sketch-scorer/internal/config"
	"github.com/menta2k/sketch-scorer/pkg/catalog"
	"github.com/menta2k/sketch-scorer/pkg/raster"
)

// markupSize is the resolution SVG input is rendered at for the model
const markupSize = 512

func visionFlags(fs *pflag.FlagSet) {
	def := config.Default()
	fs.String("backend", def.Vision.Backend, "vision backend: ollama or llamacpp (env: SKETCHSCORER_VISION_BACKEND)")
	fs.String("url", def.Vision.URL, "vision server URL (defaults: ollama=http://localhost:11434, llamacpp=http://localhost:8080) (env: SKETCHSCORER_VISION_URL)")
	fs.String("model", def.Vision.Model, "model name (env: SKETCHSCORER_VISION_MODEL)")

	override(fs, "backend", "vision.backend")
	override(fs, "url", "vision.url")
	override(fs, "model", "vision.model")
}

func newGuessCmd(a *app) *cobra.Command {
	var in, difficulty string
	var test, asJSON bool

	cmd := &cobra.Command{
		Use:   "guess",
		Short: "Ask a vision model which catalog drawing an image shows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := catalog.ParseDifficulty(difficulty)
			if err != nil {
				return err
			}

			g, err := newGuesser(a.cfg.Vision)
			if err != nil {
				return err
			}

			src, err := raster.LoadSource(in)
			if err != nil {
				return err
			}
			img, err := raster.SourceImage(src, markupSize)
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", in, err)
			}

			model := a.cfg.Vision.Model
			out := cmd.OutOrStdout()
			if test {
				reply, err := g.TestVision(cmd.Context(), model, img)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, reply)
				return nil
			}

			res, err := g.Guess(cmd.Context(), model, img, catalog.Names(d))
			if err != nil {
				return err
			}
			a.logger.Debug("model guess",
				zap.String("model", model),
				zap.String("label", res.Label),
				zap.Float64("confidence", res.Confidence))

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			matched := "not in catalog"
			if res.Matched {
				matched = "catalog match"
			}
			fmt.Fprintf(out, "%s (confidence %.2f, %s)\n", res.Label, res.Confidence, matched)
			if res.Description != "" {
				fmt.Fprintf(out, "description: %s\n", res.Description)
			}
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&in, "in", "i", "", "image file or URL (svg, png, jpg, webp)")
	fs.StringVar(&difficulty, "difficulty", "all", "limit candidate answers to easy|medium|hard|all")
	fs.BoolVar(&test, "test", false, "only check that the model can see the image")
	fs.BoolVar(&asJSON, "json", false, "print the guess as JSON")
	visionFlags(fs)
	_ = cmd.MarkFlagRequired("in")

	return cmd
}
