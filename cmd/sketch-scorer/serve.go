package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	sketchscorer "github.com/menta2k/sketch-scorer"
	"github.com/menta2k/sketch-scorer/internal/config"
	"github.com/menta2k/sketch-scorer/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP scoring service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scorer := sketchscorer.NewWithConfig(a.cfg.ScorerConfig())
			scorer.SetLogger(a.logger.Named("engine"))

			opts := []server.Option{server.WithLogger(a.logger.Named("http"))}
			if a.cfg.Vision.Backend != "" {
				g, err := newGuesser(a.cfg.Vision)
				if err != nil {
					return err
				}
				opts = append(opts, server.WithGuesser(g, a.cfg.Vision.Model))
				a.logger.Info("guessing enabled",
					zap.String("backend", a.cfg.Vision.Backend),
					zap.String("model", a.cfg.Vision.Model))
			}

			return server.New(a.cfg, scorer, opts...).Serve(cmd.Context())
		},
	}

	fs := cmd.Flags()
	fs.StringP("bind", "b", def.Server.Bind, "address to bind to (env: SKETCHSCORER_SERVER_BIND)")
	fs.IntP("port", "p", def.Server.Port, "port to listen on (env: SKETCHSCORER_SERVER_PORT)")
	fs.String("prefix", def.Server.Prefix, "path to prepend to all URLs, for use behind reverse proxy (env: SKETCHSCORER_SERVER_PREFIX)")
	fs.Int64("max-upload", def.Server.MaxUpload, "maximum upload size in bytes (env: SKETCHSCORER_SERVER_MAX_UPLOAD)")
	fs.Int("concurrency", def.Server.Concurrency, "submissions scored at once (env: SKETCHSCORER_SERVER_CONCURRENCY)")
	fs.Duration("round-ttl", def.Server.RoundTTL, "close rounds idle this long and drop them this long after closing, 0 keeps them (env: SKETCHSCORER_SERVER_ROUND_TTL)")

	override(fs, "bind", "server.bind")
	override(fs, "port", "server.port")
	override(fs, "prefix", "server.prefix")
	override(fs, "max-upload", "server.max_upload")
	override(fs, "concurrency", "server.concurrency")
	override(fs, "round-ttl", "server.round_ttl")
	visionFlags(fs)

	return cmd
}
