// Package config loads steadyscan settings from a config file, the
// environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/ayusman/steadyscan/internal/geometry"
	"github.com/ayusman/steadyscan/internal/logging"
	"github.com/ayusman/steadyscan/internal/payload"
)

// EnvPrefix prefixes every environment override, e.g. STEADYSCAN_DELETION_DELAY.
const EnvPrefix = "STEADYSCAN"

// Config is the complete application configuration.
type Config struct {
	// Camera is a device index ("0") or a video file path or stream URL.
	Camera string `mapstructure:"camera"`
	// ScanFPS is the scan rate while the scene is changing.
	ScanFPS int `mapstructure:"scan_fps"`
	// IdleFPS is the scan rate while the scene is still.
	IdleFPS int `mapstructure:"idle_fps"`
	// Motion enables motion-driven pacing between IdleFPS and ScanFPS.
	Motion bool `mapstructure:"motion"`

	// Symbologies are the symbology names the detector looks for.
	Symbologies []string `mapstructure:"symbologies"`
	// DecoderCommand launches an external decoder service. When empty the
	// built-in QR detector is used.
	DecoderCommand []string `mapstructure:"decoder_command"`
	// DecoderTimeout bounds each request to the decoder service.
	DecoderTimeout time.Duration `mapstructure:"decoder_timeout"`

	DeletionDelay time.Duration `mapstructure:"deletion_delay"`
	Smoothing     bool          `mapstructure:"smoothing"`

	Addr      string `mapstructure:"addr"`
	StaticDir string `mapstructure:"static_dir"`

	DataDir string `mapstructure:"data_dir"`
	// DBPath defaults to <DataDir>/steadyscan.db.
	DBPath string `mapstructure:"db_path"`

	// HooksDir holds hook subdirectories. Defaults to <DataDir>/hooks.
	HooksDir    string        `mapstructure:"hooks_dir"`
	HookTimeout time.Duration `mapstructure:"hook_timeout"`

	LogLevel string `mapstructure:"log_level"`

	Expansion geometry.Expansion `mapstructure:"expansion"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Camera:         "0",
		ScanFPS:        15,
		IdleFPS:        5,
		Motion:         true,
		Symbologies:    []string{"qr"},
		DecoderTimeout: 5 * time.Second,
		DeletionDelay:  500 * time.Millisecond,
		Smoothing:      true,
		Addr:           "127.0.0.1:8080",
		DataDir:        "~/.steadyscan",
		HookTimeout:    5 * time.Second,
		LogLevel:       "info",
		Expansion:      geometry.DefaultExpansion(),
	}
}

// New returns a viper instance preloaded with defaults and environment
// bindings. Flags may be bound to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("camera", d.Camera)
	v.SetDefault("scan_fps", d.ScanFPS)
	v.SetDefault("idle_fps", d.IdleFPS)
	v.SetDefault("motion", d.Motion)
	v.SetDefault("symbologies", d.Symbologies)
	v.SetDefault("decoder_command", []string{})
	v.SetDefault("decoder_timeout", d.DecoderTimeout)
	v.SetDefault("deletion_delay", d.DeletionDelay)
	v.SetDefault("smoothing", d.Smoothing)
	v.SetDefault("addr", d.Addr)
	v.SetDefault("static_dir", "")
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("db_path", "")
	v.SetDefault("hooks_dir", "")
	v.SetDefault("hook_timeout", d.HookTimeout)
	v.SetDefault("log_level", d.LogLevel)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file into v and returns the merged configuration.
// An empty path looks for ~/.steadyscan.yaml, which may be absent; an explicit
// path must exist.
func Load(v *viper.Viper, path string) (*Config, error) {
	log := logging.For("config")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("failed to find home directory: %w", err)
		}
		v.AddConfigPath(home)
		v.SetConfigName(".steadyscan")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Debug().Msg("no config file found, using defaults")
	} else {
		log.Debug().Str("file", v.ConfigFileUsed()).Msg("loaded config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	def := geometry.DefaultExpansion()
	if !v.IsSet("expansion.tiers") {
		cfg.Expansion.Tiers = def.Tiers
	}
	if !v.IsSet("expansion.fallback") {
		cfg.Expansion.Fallback = def.Fallback
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolvePaths() error {
	var err error
	if c.DataDir, err = homedir.Expand(c.DataDir); err != nil {
		return fmt.Errorf("invalid data_dir: %w", err)
	}
	if c.StaticDir, err = homedir.Expand(c.StaticDir); err != nil {
		return fmt.Errorf("invalid static_dir: %w", err)
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "steadyscan.db")
	}
	if c.DBPath, err = homedir.Expand(c.DBPath); err != nil {
		return fmt.Errorf("invalid db_path: %w", err)
	}
	if c.HooksDir == "" {
		c.HooksDir = filepath.Join(c.DataDir, "hooks")
	}
	if c.HooksDir, err = homedir.Expand(c.HooksDir); err != nil {
		return fmt.Errorf("invalid hooks_dir: %w", err)
	}
	return nil
}

// Validate checks the configuration for values the application cannot run with.
func (c *Config) Validate() error {
	if c.DeletionDelay <= 0 {
		return fmt.Errorf("deletion_delay must be positive, got %s", c.DeletionDelay)
	}
	if c.ScanFPS <= 0 {
		return fmt.Errorf("scan_fps must be positive, got %d", c.ScanFPS)
	}
	if c.IdleFPS <= 0 || c.IdleFPS > c.ScanFPS {
		return fmt.Errorf("idle_fps must be between 1 and scan_fps (%d), got %d", c.ScanFPS, c.IdleFPS)
	}
	if c.DecoderTimeout <= 0 {
		return fmt.Errorf("decoder_timeout must be positive, got %s", c.DecoderTimeout)
	}
	if c.HookTimeout <= 0 {
		return fmt.Errorf("hook_timeout must be positive, got %s", c.HookTimeout)
	}
	if c.Camera == "" {
		return errors.New("camera must not be empty")
	}
	syms, err := c.SymbologySet()
	if err != nil {
		return err
	}
	if len(c.DecoderCommand) == 0 && syms != payload.NewSymbologies(payload.QRCode) {
		return fmt.Errorf("symbologies %v need a decoder_command; only qr is built in", c.Symbologies)
	}
	if err := c.Expansion.Validate(); err != nil {
		return fmt.Errorf("invalid expansion: %w", err)
	}
	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("log_level must be one of debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// SymbologySet parses Symbologies.
func (c *Config) SymbologySet() (payload.Symbologies, error) {
	syms, err := payload.ParseSymbologies(c.Symbologies)
	if err != nil {
		return 0, fmt.Errorf("invalid symbologies: %w", err)
	}
	if syms.IsEmpty() {
		return 0, errors.New("symbologies must not be empty")
	}
	return syms, nil
}
