package testing_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romfetch/romfetch/internal/config"
	testutil "github.com/romfetch/romfetch/internal/testing"
)

func TestValidConfig(t *testing.T) {
	cfg := testutil.ValidConfig(t)

	// Write the config to a temp file and load it to verify it's valid
	yamlContent := testutil.ConfigToYAML(t, cfg)
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(yamlContent), 0600))

	loaded, err := config.Load(config.LoadOptions{ConfigFile: tmpFile})
	require.NoError(t, err, "ValidConfig should produce a valid config")

	// Verify key fields are present
	assert.NotEmpty(t, loaded.Server.Listen)
	assert.NotEmpty(t, loaded.Catalog.URL)
	assert.NotEmpty(t, loaded.Catalog.APIKey)
	assert.NotEmpty(t, loaded.Library.Path)
	assert.NotEmpty(t, loaded.Library.StagingPath)
	assert.Equal(t, config.DefaultMaxConcurrent, loaded.Download.MaxConcurrent)
	assert.True(t, loaded.Download.Unzip)
	assert.Equal(t, "http", loaded.Download.TransferBackend)
}

func TestValidConfigMinimal(t *testing.T) {
	cfg := testutil.ValidConfigMinimal(t)

	// Write the config to a temp file and load it to verify it's valid
	yamlContent := testutil.ConfigToYAML(t, cfg)
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(yamlContent), 0600))

	loaded, err := config.Load(config.LoadOptions{ConfigFile: tmpFile})
	require.NoError(t, err, "ValidConfigMinimal should produce a valid config")

	// Derived defaults are filled in by Load
	assert.NotEmpty(t, loaded.Server.Listen)
	assert.Equal(t, cfg.Library.Path+"/.staging", loaded.Library.StagingPath)
	assert.Equal(t, config.DefaultHTTPTimeout, loaded.Catalog.HTTPTimeout)
	assert.Empty(t, loaded.Catalog.APIKey)
}

func TestConfigToYAML(t *testing.T) {
	cfg := testutil.ValidConfig(t)
	yamlContent := testutil.ConfigToYAML(t, cfg)

	// Verify YAML contains expected keys
	assert.Contains(t, yamlContent, "server:")
	assert.Contains(t, yamlContent, "catalog:")
	assert.Contains(t, yamlContent, "library:")
	assert.Contains(t, yamlContent, "download:")
}
