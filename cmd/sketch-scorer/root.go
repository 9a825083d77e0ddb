package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	sketchscorer "github.com/menta2k/sketch-scorer"
	"github.com/menta2k/sketch-scorer/internal/config"
	"github.com/menta2k/sketch-scorer/internal/utils"
)

// configKey annotates a flag with the config key it overrides
const configKey = "sketch-scorer/config-key"

// app carries the state shared by every subcommand
type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
}

func newCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	cmd := &cobra.Command{
		Use:   "sketch-scorer",
		Short: "Score free-hand drawings against reference line art.",
		Long: `sketch-scorer compares drawings made from a spoken description with the
reference line art, searching rotations, scales and shifts for the best
overlap, and renders a colored overlay of the result.`,
		Version: sketchscorer.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			utils.Sync()
		},
	}

	pf := cmd.PersistentFlags()
	pf.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file, yaml, json or toml (env: SKETCHSCORER_CONFIG)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "log debug output (env: SKETCHSCORER_VERBOSE)")

	cmd.AddCommand(
		newScoreCmd(a),
		newCatalogCmd(a),
		newGuessCmd(a),
		newServeCmd(a),
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetVersionTemplate("sketch-scorer v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

// load binds the running command's flags to their config keys, reads the
// config file and environment, and starts the logger
func (a *app) load(cmd *cobra.Command) error {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if keys := f.Annotations[configKey]; len(keys) > 0 {
			_ = a.v.BindPFlag(keys[0], f)
		}
	})

	path := a.cfgFile
	if path == "" {
		path = a.v.GetString("config")
	}
	cfg, err := config.Read(a.v, path)
	if err != nil {
		return err
	}

	mode := cfg.Log.Mode
	if a.verbose || a.v.GetBool("verbose") {
		mode = "debug"
	}
	logger, err := utils.InitLogger(mode)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	logger.Debug("configuration loaded", zap.String("file", path), zap.String("command", cmd.Name()))
	return nil
}

// override marks flag name as overriding config key
func override(fs *pflag.FlagSet, name, key string) {
	_ = fs.SetAnnotation(name, configKey, []string{key})
}
