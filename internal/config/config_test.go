package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romfetch/romfetch/internal/config"
)

// loadConfigFromYAML creates a temp config file and loads it using Load().
// This ensures tests use the exact same config loading code as the application.
func loadConfigFromYAML(t *testing.T, yaml string) config.Config {
	t.Helper()

	// Create temp directory for config file
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	// Write YAML to temp file
	err := os.WriteFile(configFile, []byte(yaml), 0644)
	require.NoError(t, err, "failed to write temp config file")

	// Load using the same function the app uses
	cfg, err := config.Load(config.LoadOptions{ConfigFile: configFile})
	require.NoError(t, err, "failed to load config")

	return cfg
}

// loadConfigExpectError loads a config and expects validation to fail.
func loadConfigExpectError(t *testing.T, yaml string) error {
	t.Helper()

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configFile, []byte(yaml), 0644)
	require.NoError(t, err, "failed to write temp config file")

	_, err = config.Load(config.LoadOptions{ConfigFile: configFile})
	require.Error(t, err, "expected config load to fail")
	return err
}

const minimalYAML = `
catalog:
  url: http://romm:8080
`

func TestConfigDefaults(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		check func(t *testing.T, cfg config.Config)
	}{
		{
			name: "minimal config uses all defaults",
			yaml: minimalYAML,
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, "[::]:8424", cfg.Server.Listen)
				assert.Equal(t, "/roms", cfg.Library.Path)
				assert.Equal(t, "/roms/.staging", cfg.Library.StagingPath)
				assert.Equal(t, 2, cfg.Download.MaxConcurrent)
				assert.True(t, cfg.Download.Unzip)
				assert.Empty(t, cfg.Download.TransferBackend)
				assert.Equal(t, 30*time.Second, cfg.Catalog.HTTPTimeout)
			},
		},
		{
			name: "server listen can be overridden",
			yaml: minimalYAML + `
server:
  listen: "0.0.0.0:9000"
`,
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
				// Other defaults still apply
				assert.Equal(t, "/roms", cfg.Library.Path)
			},
		},
		{
			name: "library paths can be overridden",
			yaml: minimalYAML + `
library:
  path: /data/roms
  stagingPath: /data/.staging
`,
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, "/data/roms", cfg.Library.Path)
				assert.Equal(t, "/data/.staging", cfg.Library.StagingPath)
			},
		},
		{
			name: "staging path defaults under library path",
			yaml: minimalYAML + `
library:
  path: /data/roms
`,
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, "/data/roms/.staging", cfg.Library.StagingPath)
			},
		},
		{
			name: "maxConcurrent can be overridden",
			yaml: minimalYAML + `
download:
  maxConcurrent: 4
`,
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, 4, cfg.Download.MaxConcurrent)
			},
		},
		{
			name: "unzip can be disabled",
			yaml: minimalYAML + `
download:
  unzip: false
`,
			check: func(t *testing.T, cfg config.Config) {
				assert.False(t, cfg.Download.Unzip)
			},
		},
		{
			name: "transfer backend can be set",
			yaml: minimalYAML + `
download:
  transferBackend: rclone
`,
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, "rclone", cfg.Download.TransferBackend)
			},
		},
		{
			name: "catalog timeout can be overridden",
			yaml: `
catalog:
  url: http://romm:8080
  httpTimeout: 60s
`,
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, 60*time.Second, cfg.Catalog.HTTPTimeout)
			},
		},
		{
			name: "api key is read",
			yaml: `
catalog:
  url: http://romm:8080
  apiKey: secret-key
`,
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, "secret-key", cfg.Catalog.APIKey)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadConfigFromYAML(t, tt.yaml)
			tt.check(t, cfg)
		})
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			name:    "missing catalog url",
			yaml:    "",
			wantMsg: "catalog.url is required",
		},
		{
			name: "maxConcurrent too low",
			yaml: minimalYAML + `
download:
  maxConcurrent: 0
`,
			wantMsg: "download.maxConcurrent must be between 1 and 5",
		},
		{
			name: "maxConcurrent too high",
			yaml: minimalYAML + `
download:
  maxConcurrent: 6
`,
			wantMsg: "download.maxConcurrent must be between 1 and 5",
		},
		{
			name: "unknown transfer backend",
			yaml: minimalYAML + `
download:
  transferBackend: carrier-pigeon
`,
			wantMsg: "unknown backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := loadConfigExpectError(t, tt.yaml)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestConfigEnvOverride(t *testing.T) {
	t.Setenv("ROMFETCH_CATALOG_URL", "http://env-romm:9000")
	t.Setenv("ROMFETCH_DOWNLOAD_MAXCONCURRENT", "3")

	cfg := loadConfigFromYAML(t, minimalYAML)

	assert.Equal(t, "http://env-romm:9000", cfg.Catalog.URL)
	assert.Equal(t, 3, cfg.Download.MaxConcurrent)
}

func TestConfigFileNotFound(t *testing.T) {
	// An explicit config file that does not exist still loads defaults as
	// long as required values come from the environment.
	t.Setenv("ROMFETCH_CATALOG_URL", "http://romm:8080")

	cfg, err := config.Load(config.LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "http://romm:8080", cfg.Catalog.URL)
	assert.Equal(t, "[::]:8424", cfg.Server.Listen)
}
