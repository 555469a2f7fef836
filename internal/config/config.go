package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const configFileName = "fetcharr.yaml"

var ErrInvalidConfig = errors.New("invalid config")

// Config holds the configuration options for the application.
type Config struct {
	DownloadDir            string        `yaml:"downloadDir,omitempty"`
	CompletedDir           string        `yaml:"completedDir,omitempty"`
	MaxConcurrentDownloads int           `yaml:"maxConcurrentDownloads,omitempty"`
	RetryAttempts          int           `yaml:"retryAttempts,omitempty"`
	DisableResume          bool          `yaml:"disableResume,omitempty"`
	Store                  string        `yaml:"store,omitempty"`
	CleanupInterval        time.Duration `yaml:"cleanupInterval,omitempty"`
	DisableCleanup         bool          `yaml:"disableCleanup,omitempty"`
	IPFSGateway            string        `yaml:"ipfsGateway,omitempty"`
	Log                    *LogConfig    `yaml:"log,omitempty"`
}

// LogConfig holds logging options.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
	File   string `yaml:"file,omitempty"`
}

// DefaultPath is where GetConfig looks for the config file.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, configFileName)
}

// GetConfig reads the configuration from DefaultPath.
func GetConfig() (*Config, error) {
	return Load(DefaultPath())
}

// Load reads the configuration file at path, fills unset values with defaults and
// applies environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	defaults := DefaultConfig()

	b, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	var cfg Config

	if len(b) > 0 {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, err
		}
	}

	logCfg := zeroOr(cfg.Log, defaults.Log)

	merged := &Config{
		DownloadDir:            zeroOr(cfg.DownloadDir, defaults.DownloadDir),
		CompletedDir:           zeroOr(cfg.CompletedDir, defaults.CompletedDir),
		MaxConcurrentDownloads: zeroOr(cfg.MaxConcurrentDownloads, defaults.MaxConcurrentDownloads),
		RetryAttempts:          zeroOr(cfg.RetryAttempts, defaults.RetryAttempts),
		DisableResume:          zeroOr(cfg.DisableResume, defaults.DisableResume),
		Store:                  zeroOr(cfg.Store, defaults.Store),
		CleanupInterval:        zeroOr(cfg.CleanupInterval, defaults.CleanupInterval),
		DisableCleanup:         zeroOr(cfg.DisableCleanup, defaults.DisableCleanup),
		IPFSGateway:            zeroOr(cfg.IPFSGateway, defaults.IPFSGateway),
		Log: &LogConfig{
			Level:  zeroOr(logCfg.Level, defaults.Log.Level),
			Format: zeroOr(logCfg.Format, defaults.Log.Format),
			File:   zeroOr(logCfg.File, defaults.Log.File),
		},
	}

	if err := merged.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	return merged, nil
}

func DefaultConfig() Config {
	return Config{
		DownloadDir:            downloadDir,
		MaxConcurrentDownloads: maxConcurrentDownloads,
		RetryAttempts:          retryAttempts,
		Store:                  StoreJSON,
		CleanupInterval:        cleanupInterval,
		Log: &LogConfig{
			Level:  logLevel,
			Format: FormatConsole,
		},
	}
}

// applyEnv overrides file values with the deployment environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("DOWNLOAD_DIR"); ok && v != "" {
		c.DownloadDir = v
	}

	if v, ok := lookup("COMPLETED_DIR"); ok && v != "" {
		c.CompletedDir = v
	}

	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}

	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		// "pretty" is the historical name of the console format.
		if v == "pretty" {
			v = FormatConsole
		}

		c.Log.Format = v
	}

	if v, ok := lookup("IPFS_GW"); ok && v != "" {
		c.IPFSGateway = v
	}

	if v, ok := lookup("MAX_CONCURRENT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: MAX_CONCURRENT=%q: %w", ErrInvalidConfig, v, err)
		}

		c.MaxConcurrentDownloads = n
	}

	return nil
}

// Validate reports the first setting the application cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.DownloadDir == "":
		return fmt.Errorf("%w: downloadDir must be set", ErrInvalidConfig)
	case c.MaxConcurrentDownloads <= 0:
		return fmt.Errorf("%w: maxConcurrentDownloads must be positive", ErrInvalidConfig)
	case c.RetryAttempts < 0:
		return fmt.Errorf("%w: retryAttempts cannot be negative", ErrInvalidConfig)
	case !c.DisableCleanup && c.CleanupInterval <= 0:
		return fmt.Errorf("%w: cleanupInterval must be positive, set disableCleanup to turn cleanup off", ErrInvalidConfig)
	case !slices.Contains([]string{StoreJSON, StoreBbolt}, c.Store):
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	case c.Log != nil && !slices.Contains([]string{FormatConsole, FormatJSON}, c.Log.Format):
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}

	return nil
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}
