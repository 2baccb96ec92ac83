package testing

import (
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/romfetch/romfetch/internal/config"
)

// ValidConfig returns a fully populated, valid config.Config struct.
// The returned config passes all validation checks and can be used as a
// starting point for tests that need to modify specific fields.
func ValidConfig(t *testing.T) config.Config {
	t.Helper()

	libraryPath := t.TempDir()

	return config.Config{
		Server: config.ServerConfig{
			Listen: "[::]:8424",
		},
		Catalog: config.CatalogConfig{
			URL:         "http://romm.example.com:8080",
			APIKey:      "test-api-key",
			HTTPTimeout: config.DefaultHTTPTimeout,
		},
		Library: config.LibraryConfig{
			Path:        libraryPath,
			StagingPath: libraryPath + "/.staging",
		},
		Download: config.DownloadConfig{
			MaxConcurrent:   config.DefaultMaxConcurrent,
			Unzip:           true,
			TransferBackend: "http",
		},
	}
}

// ValidConfigMinimal returns a minimal valid config with only required fields.
func ValidConfigMinimal(t *testing.T) config.Config {
	t.Helper()

	return config.Config{
		Server: config.ServerConfig{
			Listen: "[::]:8424",
		},
		Catalog: config.CatalogConfig{
			URL: "http://romm:8080",
		},
		Library: config.LibraryConfig{
			Path: t.TempDir(),
		},
		Download: config.DownloadConfig{
			MaxConcurrent: config.DefaultMaxConcurrent,
		},
	}
}

// ConfigToYAML converts a config.Config struct to a YAML string.
// This is useful for tests that need to load config via the YAML parser.
// Note: config.Config uses mapstructure tags which yaml.Marshal handles correctly.
func ConfigToYAML(t *testing.T, cfg config.Config) string {
	t.Helper()

	//nolint:musttag // config.Config uses mapstructure tags, yaml.Marshal uses field names
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("failed to marshal config to YAML: %v", err)
	}

	return string(data)
}
