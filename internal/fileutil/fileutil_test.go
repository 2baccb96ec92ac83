package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romfetch/romfetch/internal/fileutil"
)

func TestCopyFile(t *testing.T) {
	t.Run("SuccessCases", func(t *testing.T) {
		tests := []struct {
			name    string
			content []byte
		}{
			{
				name:    "copies small file",
				content: []byte("hello world"),
			},
			{
				name:    "copies empty file",
				content: []byte{},
			},
			{
				name:    "copies binary content",
				content: []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD},
			},
			{
				name:    "copies large file",
				content: make([]byte, 1024*1024), // 1MB
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				tmpDir := t.TempDir()

				srcPath := filepath.Join(tmpDir, "source.bin")
				dstPath := filepath.Join(tmpDir, "dest.bin")

				err := os.WriteFile(srcPath, tt.content, 0600)
				require.NoError(t, err)

				err = fileutil.CopyFile(srcPath, dstPath)
				require.NoError(t, err)

				dstContent, err := os.ReadFile(dstPath)
				require.NoError(t, err)
				assert.Equal(t, tt.content, dstContent)

				// Source is untouched
				srcContent, err := os.ReadFile(srcPath)
				require.NoError(t, err)
				assert.Equal(t, tt.content, srcContent)
			})
		}
	})

	t.Run("CreatesParentDirectories", func(t *testing.T) {
		tmpDir := t.TempDir()

		srcPath := filepath.Join(tmpDir, "source.bin")
		dstPath := filepath.Join(tmpDir, "gba", "roms", "dest.bin")

		content := []byte("test content")

		err := os.WriteFile(srcPath, content, 0600)
		require.NoError(t, err)

		err = fileutil.CopyFile(srcPath, dstPath)
		require.NoError(t, err)

		dstContent, err := os.ReadFile(dstPath)
		require.NoError(t, err)
		assert.Equal(t, content, dstContent)
	})

	t.Run("OverwritesExistingFile", func(t *testing.T) {
		tmpDir := t.TempDir()

		srcPath := filepath.Join(tmpDir, "source.bin")
		dstPath := filepath.Join(tmpDir, "dest.bin")

		srcContent := []byte("new content")
		oldContent := []byte("old content that should be replaced")

		err := os.WriteFile(srcPath, srcContent, 0600)
		require.NoError(t, err)
		err = os.WriteFile(dstPath, oldContent, 0600)
		require.NoError(t, err)

		err = fileutil.CopyFile(srcPath, dstPath)
		require.NoError(t, err)

		dstContent, err := os.ReadFile(dstPath)
		require.NoError(t, err)
		assert.Equal(t, srcContent, dstContent)
	})

	t.Run("ErrorCases", func(t *testing.T) {
		t.Run("SourceDoesNotExist", func(t *testing.T) {
			tmpDir := t.TempDir()

			err := fileutil.CopyFile(filepath.Join(tmpDir, "missing.bin"), filepath.Join(tmpDir, "dest.bin"))
			require.Error(t, err)
			assert.True(t, os.IsNotExist(err))
		})

		t.Run("SourceIsDirectory", func(t *testing.T) {
			tmpDir := t.TempDir()

			srcPath := filepath.Join(tmpDir, "srcdir")
			err := os.MkdirAll(srcPath, 0750)
			require.NoError(t, err)

			err = fileutil.CopyFile(srcPath, filepath.Join(tmpDir, "dest.bin"))
			require.Error(t, err)
		})
	})
}

func TestSafeJoin(t *testing.T) {
	t.Run("ValidPaths", func(t *testing.T) {
		tests := []struct {
			name     string
			base     string
			path     string
			expected string
		}{
			{
				name:     "simple file",
				base:     "/base",
				path:     "file.gba",
				expected: "/base/file.gba",
			},
			{
				name:     "nested path",
				base:     "/base",
				path:     "subdir/file.gba",
				expected: "/base/subdir/file.gba",
			},
			{
				name:     "archive member path",
				base:     "/roms/.staging/item",
				path:     "Game Pack/disc2.bin",
				expected: "/roms/.staging/item/Game Pack/disc2.bin",
			},
			{
				name:     "path with dots in filename",
				base:     "/base",
				path:     "game.v1.2.rom",
				expected: "/base/game.v1.2.rom",
			},
			{
				name:     "single dot current dir",
				base:     "/base",
				path:     "./file.gba",
				expected: "/base/file.gba",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				result, err := fileutil.SafeJoin(tt.base, tt.path)
				require.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			})
		}
	})

	t.Run("PathTraversalAttacks", func(t *testing.T) {
		base := "/base/dir"

		tests := []struct {
			name string
			path string
		}{
			{
				name: "simple parent traversal",
				path: "../etc/passwd",
			},
			{
				name: "traversal with subdir prefix",
				path: "subdir/../../etc/passwd",
			},
			{
				name: "multiple traversals",
				path: "../../../../../../../etc/passwd",
			},
			{
				name: "hidden traversal with dot segments",
				path: "foo/../../../bar",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := fileutil.SafeJoin(base, tt.path)
				require.Error(t, err)
				assert.Contains(t, err.Error(), "path")
			})
		}
	})

	t.Run("AbsolutePaths", func(t *testing.T) {
		_, err := fileutil.SafeJoin("/base", "/etc/passwd")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "relative")
	})

	t.Run("RealFilesystem", func(t *testing.T) {
		tmpDir := t.TempDir()

		result, err := fileutil.SafeJoin(tmpDir, "gba/file.zip")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(tmpDir, "gba/file.zip"), result)

		_, err = fileutil.SafeJoin(tmpDir, "../outside.zip")
		require.Error(t, err)
	})
}

func TestStripExt(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{name: "zip archive", in: "Super Game (USA).zip", expected: "Super Game (USA)"},
		{name: "rom extension", in: "game.gba", expected: "game"},
		{name: "multiple dots keeps earlier ones", in: "game.v1.2.rom", expected: "game.v1.2"},
		{name: "no extension", in: "README", expected: "README"},
		{name: "empty string", in: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, fileutil.StripExt(tt.in))
		})
	}
}
