package queue_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romfetch/romfetch/internal/queue"
	"github.com/romfetch/romfetch/internal/transfer"
)

// buildZip creates a ZIP archive in memory from a name-to-content map.
func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestZipIsExtractedAndPlaced(t *testing.T) {
	env := newTestEnv(t)

	zipBytes := buildZip(t, map[string][]byte{
		"Disc 1.bin": []byte("disc one data"),
		"Disc 1.cue": []byte("FILE \"Disc 1.bin\" BINARY"),
	})

	rom, file := env.testRom(1, 10, "Multi Disc Game.zip", int64(len(zipBytes)))
	env.transferer.SetContent(
		"http://mock-catalog/api/roms/1/content/Multi Disc Game.zip",
		zipBytes,
	)

	id, err := env.manager.Enqueue(rom, file)
	require.NoError(t, err)

	env.waitStatus(t, id, queue.StatusCompleted)

	// One queue item, both archive members placed
	assert.Len(t, env.manager.Items(), 1)

	for name, content := range map[string]string{
		"Disc 1.bin": "disc one data",
		"Disc 1.cue": "FILE \"Disc 1.bin\" BINARY",
	} {
		placed, readErr := os.ReadFile(filepath.Join(env.libraryDir, "gba", name))
		require.NoError(t, readErr, "%s should be placed in the platform directory", name)
		assert.Equal(t, content, string(placed))
	}

	// The archive itself does not land in the library
	_, err = os.Stat(filepath.Join(env.libraryDir, "gba", "Multi Disc Game.zip"))
	assert.True(t, os.IsNotExist(err))
}

func TestZipNestedMembersKeepRelativePaths(t *testing.T) {
	env := newTestEnv(t)

	zipBytes := buildZip(t, map[string][]byte{
		"manual/readme.txt": []byte("instructions"),
		"game.gba":          []byte("rom data"),
	})

	rom, file := env.testRom(1, 10, "bundle.zip", int64(len(zipBytes)))
	env.transferer.SetContent("http://mock-catalog/api/roms/1/content/bundle.zip", zipBytes)

	id, err := env.manager.Enqueue(rom, file)
	require.NoError(t, err)
	env.waitStatus(t, id, queue.StatusCompleted)

	_, err = os.Stat(filepath.Join(env.libraryDir, "gba", "game.gba"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(env.libraryDir, "gba", "manual", "readme.txt"))
	require.NoError(t, err)
}

func TestUnzipDisabledKeepsArchive(t *testing.T) {
	env := newTestEnv(t, queue.WithUnzip(false))

	zipBytes := buildZip(t, map[string][]byte{"game.gba": []byte("rom data")})
	rom, file := env.testRom(1, 10, "game.zip", int64(len(zipBytes)))
	env.transferer.SetContent("http://mock-catalog/api/roms/1/content/game.zip", zipBytes)

	id, err := env.manager.Enqueue(rom, file)
	require.NoError(t, err)
	env.waitStatus(t, id, queue.StatusCompleted)

	// The archive is placed as-is, unextracted
	placed, err := os.ReadFile(filepath.Join(env.libraryDir, "gba", "game.zip"))
	require.NoError(t, err)
	assert.Equal(t, zipBytes, placed)
}

func TestCorruptZipFails(t *testing.T) {
	env := newTestEnv(t)

	rom, file := env.testRom(1, 10, "broken.zip", 64)
	env.transferer.SetContent(
		"http://mock-catalog/api/roms/1/content/broken.zip",
		[]byte("this is not a zip archive at all, not even close!"),
	)

	id, err := env.manager.Enqueue(rom, file)
	require.NoError(t, err)

	env.waitStatus(t, id, queue.StatusFailed)
	snap, _ := env.manager.Get(id)
	assert.Contains(t, snap.Error, "extraction failed")
}

func TestTransferNetworkErrorRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.transferer.OnTransfer = func(_ context.Context, req transfer.Request, _ transfer.ProgressFunc) error {
		return &transfer.NetworkError{URL: req.URL, StatusCode: 503}
	}

	rom, file := env.testRom(1, 10, "game.gba", 256)
	id, err := env.manager.Enqueue(rom, file)
	require.NoError(t, err)

	env.waitStatus(t, id, queue.StatusFailed)
	snap, _ := env.manager.Get(id)
	assert.Contains(t, snap.Error, "network error")
	assert.Contains(t, snap.Error, "503")
}

func TestStagingCleanedUpAfterFailure(t *testing.T) {
	env := newTestEnv(t)
	env.transferer.OnTransfer = func(_ context.Context, req transfer.Request, _ transfer.ProgressFunc) error {
		// Leave a partial file behind, then fail
		if err := os.MkdirAll(filepath.Dir(req.LocalPath), 0750); err != nil {
			return err
		}
		if err := os.WriteFile(req.LocalPath, []byte("partial"), 0600); err != nil {
			return err
		}
		return errors.New("stream interrupted")
	}

	rom, file := env.testRom(1, 10, "game.gba", 256)
	id, err := env.manager.Enqueue(rom, file)
	require.NoError(t, err)

	env.waitStatus(t, id, queue.StatusFailed)

	// The worker's staging directory is removed on the way out
	require.Eventually(t, func() bool {
		entries, readErr := os.ReadDir(env.stagingDir)
		return readErr == nil && len(entries) == 0
	}, waitFor, tick)
}

func TestStagingCleanedUpAfterCompletion(t *testing.T) {
	env := newTestEnv(t)

	rom, file := env.testRom(1, 10, "game.gba", 256)
	id, err := env.manager.Enqueue(rom, file)
	require.NoError(t, err)
	env.waitStatus(t, id, queue.StatusCompleted)

	require.Eventually(t, func() bool {
		entries, readErr := os.ReadDir(env.stagingDir)
		return readErr == nil && len(entries) == 0
	}, waitFor, tick)
}
