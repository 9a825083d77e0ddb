package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	sketchscorer "github.com/menta2k/sketch-scorer"
	"github.com/menta2k/sketch-scorer/pkg/align"
	"github.com/menta2k/sketch-scorer/pkg/overlay"
)

// EnvPrefix prefixes environment overrides, e.g. SKETCHSCORER_SERVER_PORT
const EnvPrefix = "SKETCHSCORER"

// Config holds the application configuration
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	Overlay OverlayConfig `mapstructure:"overlay"`
	Server  ServerConfig  `mapstructure:"server"`
	Vision  VisionConfig  `mapstructure:"vision"`
	Log     LogConfig     `mapstructure:"log"`
}

// EngineConfig holds the scoring constants
type EngineConfig struct {
	InkThreshold      int     `mapstructure:"ink_threshold"`
	SearchResolution  int     `mapstructure:"search_resolution"`
	OverlayResolution int     `mapstructure:"overlay_resolution"`
	FitRatio          float64 `mapstructure:"fit_ratio"`
	MinScale          float64 `mapstructure:"min_scale"`
	MaxScale          float64 `mapstructure:"max_scale"`
	Workers           int     `mapstructure:"workers"` // 0 uses every CPU
	SeedCandidate     bool    `mapstructure:"seed_candidate"`
}

// OverlayConfig holds configuration for the diagnostic overlay
type OverlayConfig struct {
	Format   string `mapstructure:"format"`
	Quality  int    `mapstructure:"quality"`
	Lossless bool   `mapstructure:"lossless"`
	Skip     bool   `mapstructure:"skip"`
}

// ServerConfig holds configuration for the HTTP server
type ServerConfig struct {
	Bind         string        `mapstructure:"bind"`
	Port         int           `mapstructure:"port"`
	Prefix       string        `mapstructure:"prefix"`
	MaxUpload    int64         `mapstructure:"max_upload"`
	Concurrency  int           `mapstructure:"concurrency"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RoundTTL     time.Duration `mapstructure:"round_ttl"` // 0 keeps rounds until shutdown
}

// VisionConfig holds configuration for the guessing model
type VisionConfig struct {
	Backend string `mapstructure:"backend"` // ollama, llamacpp or empty to disable
	URL     string `mapstructure:"url"`     // empty uses the backend's local default
	Model   string `mapstructure:"model"`
	MaxDim  int    `mapstructure:"max_dim"`
}

// LogConfig holds configuration for logging
type LogConfig struct {
	Mode string `mapstructure:"mode"` // release or debug
}

// Default returns a configuration with default values
func Default() *Config {
	engine := sketchscorer.DefaultConfig()
	return &Config{
		Engine: EngineConfig{
			InkThreshold:      engine.InkThreshold,
			SearchResolution:  engine.SearchResolution,
			OverlayResolution: engine.OverlayResolution,
			FitRatio:          engine.FitRatio,
			MinScale:          engine.Search.MinScale,
			MaxScale:          engine.Search.MaxScale,
			Workers:           0,
		},
		Overlay: OverlayConfig{
			Format:  engine.Overlay.Format,
			Quality: engine.Overlay.Quality,
		},
		Server: ServerConfig{
			Bind:         "0.0.0.0",
			Port:         8080,
			Prefix:       "",
			MaxUpload:    10 * 1024 * 1024,
			Concurrency:  2,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: time.Minute,
			RoundTTL:     30 * time.Minute,
		},
		Vision: VisionConfig{
			Backend: "",
			URL:     "",
			Model:   "llava",
			MaxDim:  512,
		},
		Log: LogConfig{
			Mode: "release",
		},
	}
}

// each visits every setting by its viper key
func (c *Config) each(fn func(key string, value any)) {
	fn("engine.ink_threshold", c.Engine.InkThreshold)
	fn("engine.search_resolution", c.Engine.SearchResolution)
	fn("engine.overlay_resolution", c.Engine.OverlayResolution)
	fn("engine.fit_ratio", c.Engine.FitRatio)
	fn("engine.min_scale", c.Engine.MinScale)
	fn("engine.max_scale", c.Engine.MaxScale)
	fn("engine.workers", c.Engine.Workers)
	fn("engine.seed_candidate", c.Engine.SeedCandidate)

	fn("overlay.format", c.Overlay.Format)
	fn("overlay.quality", c.Overlay.Quality)
	fn("overlay.lossless", c.Overlay.Lossless)
	fn("overlay.skip", c.Overlay.Skip)

	fn("server.bind", c.Server.Bind)
	fn("server.port", c.Server.Port)
	fn("server.prefix", c.Server.Prefix)
	fn("server.max_upload", c.Server.MaxUpload)
	fn("server.concurrency", c.Server.Concurrency)
	fn("server.read_timeout", c.Server.ReadTimeout)
	fn("server.write_timeout", c.Server.WriteTimeout)
	fn("server.round_ttl", c.Server.RoundTTL)

	fn("vision.backend", c.Vision.Backend)
	fn("vision.url", c.Vision.URL)
	fn("vision.model", c.Vision.Model)
	fn("vision.max_dim", c.Vision.MaxDim)

	fn("log.mode", c.Log.Mode)
}

// NewViper returns a viper instance holding the defaults and reading
// SKETCHSCORER_* environment overrides
func NewViper() *viper.Viper {
	v := viper.New()
	Default().each(v.SetDefault)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration file at path on top of the defaults. An empty
// path loads the defaults and environment only.
func Load(path string) (*Config, error) {
	return Read(NewViper(), path)
}

// Read decodes v, after reading the configuration file at path into it when
// path is not empty, and validates the result
func Read(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveToFile saves configuration to a file. The format follows the extension
// (yaml, json or toml).
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	c.each(v.Set)

	if err := v.WriteConfigAs(filename); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Engine.InkThreshold < 1 || c.Engine.InkThreshold > 256 {
		return fmt.Errorf("engine.ink_threshold must be between 1 and 256")
	}

	if c.Engine.SearchResolution < 10 || c.Engine.OverlayResolution < 10 {
		return fmt.Errorf("engine resolutions must be at least 10")
	}

	if c.Engine.FitRatio <= 0 || c.Engine.FitRatio > 1 {
		return fmt.Errorf("engine.fit_ratio must be in (0, 1]")
	}

	if c.Engine.MinScale <= 0 || c.Engine.MaxScale < c.Engine.MinScale {
		return fmt.Errorf("engine scale range [%g, %g] is invalid", c.Engine.MinScale, c.Engine.MaxScale)
	}

	if c.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers cannot be negative")
	}

	switch strings.ToLower(c.Overlay.Format) {
	case "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("overlay.format %q is not one of png, jpg, webp", c.Overlay.Format)
	}

	if c.Overlay.Quality < 1 || c.Overlay.Quality > 100 {
		return fmt.Errorf("overlay.quality must be between 1 and 100")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Server.MaxUpload < 1 {
		return fmt.Errorf("server.max_upload must be positive")
	}

	if c.Server.Concurrency < 1 {
		return fmt.Errorf("server.concurrency must be at least 1")
	}

	if c.Server.RoundTTL < 0 {
		return fmt.Errorf("server.round_ttl cannot be negative")
	}

	if c.Server.Prefix != "" && (!strings.HasPrefix(c.Server.Prefix, "/") || strings.HasSuffix(c.Server.Prefix, "/")) {
		return fmt.Errorf("server.prefix must start with / and not end with /")
	}

	switch c.Vision.Backend {
	case "", "ollama", "llamacpp":
	default:
		return fmt.Errorf("vision.backend %q is not one of ollama, llamacpp", c.Vision.Backend)
	}

	return nil
}

// ScorerConfig converts the engine and overlay settings for sketchscorer.NewWithConfig
func (c *Config) ScorerConfig() sketchscorer.Config {
	search := align.DefaultConfig()
	search.MinScale = c.Engine.MinScale
	search.MaxScale = c.Engine.MaxScale
	if c.Engine.Workers > 0 {
		search.Workers = c.Engine.Workers
	}
	search.SeedCandidate = c.Engine.SeedCandidate

	return sketchscorer.Config{
		InkThreshold:      c.Engine.InkThreshold,
		SearchResolution:  c.Engine.SearchResolution,
		OverlayResolution: c.Engine.OverlayResolution,
		FitRatio:          c.Engine.FitRatio,
		Search:            search,
		Overlay: overlay.Options{
			Format:   strings.ToLower(c.Overlay.Format),
			Quality:  c.Overlay.Quality,
			Lossless: c.Overlay.Lossless,
		},
		SkipOverlay: c.Overlay.Skip,
	}
}

// Address returns the host:port the server listens on
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "sketch-scorer", "config.yaml")
}
