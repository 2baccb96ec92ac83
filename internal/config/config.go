// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultHTTPTimeout   = 30 * time.Second
	DefaultMaxConcurrent = 2
	MinConcurrent        = 1
	MaxConcurrent        = 5
)

// Config is the application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Library  LibraryConfig  `mapstructure:"library"`
	Download DownloadConfig `mapstructure:"download"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// CatalogConfig holds the connection settings for the ROM catalog server.
type CatalogConfig struct {
	URL         string        `mapstructure:"url"`
	APIKey      string        `mapstructure:"apiKey"`
	HTTPTimeout time.Duration `mapstructure:"httpTimeout"`
}

// LibraryConfig holds the on-disk library layout.
type LibraryConfig struct {
	Path        string `mapstructure:"path"`        // root of the ROM library, one subdirectory per platform
	StagingPath string `mapstructure:"stagingPath"` // scratch space for in-flight downloads and extraction
}

// DownloadConfig holds download queue behavior.
type DownloadConfig struct {
	MaxConcurrent   int    `mapstructure:"maxConcurrent"`   // simultaneous transfers, 1 to 5
	Unzip           bool   `mapstructure:"unzip"`           // extract ZIP archives after download (default true)
	TransferBackend string `mapstructure:"transferBackend"` // transfer backend: "http" (default) or "rclone"
}

// LoadOptions configures how configuration is loaded.
type LoadOptions struct {
	// ConfigFile is an explicit config file path. If empty, default locations are searched.
	ConfigFile string
}

// Load reads configuration from file and environment variables.
// If opts.ConfigFile is set, that file is used directly.
// Otherwise, it searches default locations: $HOME, current directory, /config
// for files named .romfetch.yaml, romfetch.yaml, or config.yaml.
//
// Environment variables with prefix ROMFETCH_ override config file values,
// e.g. ROMFETCH_CATALOG_URL or ROMFETCH_DOWNLOAD_MAXCONCURRENT.
func Load(opts LoadOptions) (Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.AddConfigPath("/config")
		v.SetConfigType("yaml")
		v.SetConfigName(".romfetch")
		v.SetConfigName("romfetch")
		v.SetConfigName("config")
	}

	// Environment variables
	v.SetEnvPrefix("ROMFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("server.listen", "[::]:8424")
	v.SetDefault("catalog.httpTimeout", "30s")
	v.SetDefault("library.path", "/roms")
	v.SetDefault("download.maxConcurrent", DefaultMaxConcurrent)
	v.SetDefault("download.unzip", true)

	// Read config file (ignore error if not found)
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	setDerivedDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// setDerivedDefaults applies default values that depend on other fields and
// so can't be set with viper.SetDefault.
func setDerivedDefaults(cfg *Config) {
	if cfg.Catalog.HTTPTimeout == 0 {
		cfg.Catalog.HTTPTimeout = DefaultHTTPTimeout
	}
	if cfg.Library.StagingPath == "" {
		cfg.Library.StagingPath = cfg.Library.Path + "/.staging"
	}
}

// Valid transfer backends.
//
//nolint:gochecknoglobals // validation lookup table
var validTransferBackends = map[string]bool{
	"":       true, // empty means default (http)
	"http":   true,
	"rclone": true,
}

// validate checks that the configuration is valid.
func validate(cfg *Config) error {
	var errs []error

	// Validate catalog config
	if cfg.Catalog.URL == "" {
		errs = append(errs, errors.New("catalog.url is required"))
	} else if _, err := url.Parse(cfg.Catalog.URL); err != nil {
		errs = append(errs, fmt.Errorf("catalog.url: invalid url: %w", err))
	}

	// Validate library config
	if cfg.Library.Path == "" {
		errs = append(errs, errors.New("library.path is required"))
	}

	// Validate download config
	if cfg.Download.MaxConcurrent < MinConcurrent || cfg.Download.MaxConcurrent > MaxConcurrent {
		errs = append(errs, fmt.Errorf(
			"download.maxConcurrent must be between %d and %d, got %d",
			MinConcurrent, MaxConcurrent, cfg.Download.MaxConcurrent))
	}
	if !validTransferBackends[cfg.Download.TransferBackend] {
		errs = append(errs, fmt.Errorf("download.transferBackend: unknown backend %q", cfg.Download.TransferBackend))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
