package transfer_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romfetch/romfetch/internal/transfer"
)

// --- Factory Tests ---

func TestNew(t *testing.T) {
	t.Run("http backend", func(t *testing.T) {
		tr, err := transfer.New(transfer.BackendHTTP, transfer.Options{})
		require.NoError(t, err)
		assert.Equal(t, "http", tr.Name())
		require.NoError(t, tr.Close())
	})

	t.Run("empty backend defaults to http", func(t *testing.T) {
		tr, err := transfer.New("", transfer.Options{})
		require.NoError(t, err)
		assert.Equal(t, "http", tr.Name())
		require.NoError(t, tr.Close())
	})

	t.Run("rclone backend", func(t *testing.T) {
		tr, err := transfer.New(transfer.BackendRclone, transfer.Options{BaseURL: "http://romm:8080"})
		require.NoError(t, err)
		assert.Equal(t, "rclone", tr.Name())
		require.NoError(t, tr.Close())
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := transfer.New("carrier-pigeon", transfer.Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown transfer backend")
	})
}

// --- HTTP Backend Tests ---

func TestHTTPTransfer(t *testing.T) {
	content := []byte("rom file content for the http transfer test")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(content)
	}))
	defer srv.Close()

	tr := transfer.NewHTTP(transfer.Options{})
	defer tr.Close()

	localPath := filepath.Join(t.TempDir(), "download", "game.gba")
	var mu sync.Mutex
	var last transfer.Progress

	err := tr.Transfer(context.Background(), transfer.Request{
		URL:       srv.URL,
		LocalPath: localPath,
		Size:      int64(len(content)),
	}, func(p transfer.Progress) {
		mu.Lock()
		last = p
		mu.Unlock()
	})
	require.NoError(t, err)

	written, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, content, written)

	// The final progress report covers the whole file
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(len(content)), last.Transferred)
	assert.Equal(t, int64(len(content)), last.Total)
}

func TestHTTPTransferSendsHeaders(t *testing.T) {
	var gotConstruction, gotRequest string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConstruction = r.Header.Get("X-Api-Key")
		gotRequest = r.Header.Get("X-Extra")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tr := transfer.NewHTTP(transfer.Options{
		Headers: map[string]string{"X-Api-Key": "secret"},
	})
	defer tr.Close()

	err := tr.Transfer(context.Background(), transfer.Request{
		URL:       srv.URL,
		LocalPath: filepath.Join(t.TempDir(), "out"),
		Headers:   map[string]string{"X-Extra": "per-request"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "secret", gotConstruction)
	assert.Equal(t, "per-request", gotRequest)
}

func TestHTTPTransferUnknownLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Chunked response: no Content-Length
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		_, _ = w.Write([]byte("part one "))
		flusher.Flush()
		_, _ = w.Write([]byte("part two"))
	}))
	defer srv.Close()

	tr := transfer.NewHTTP(transfer.Options{})
	defer tr.Close()

	localPath := filepath.Join(t.TempDir(), "out")
	var mu sync.Mutex
	var last transfer.Progress

	err := tr.Transfer(context.Background(), transfer.Request{
		URL:       srv.URL,
		LocalPath: localPath,
		Size:      0,
	}, func(p transfer.Progress) {
		mu.Lock()
		last = p
		mu.Unlock()
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(0), last.Total, "unknown length reports total 0")
	assert.Equal(t, int64(len("part one part two")), last.Transferred)
}

func TestHTTPTransferServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := transfer.NewHTTP(transfer.Options{})
	defer tr.Close()

	err := tr.Transfer(context.Background(), transfer.Request{
		URL:       srv.URL,
		LocalPath: filepath.Join(t.TempDir(), "out"),
	}, nil)

	var netErr *transfer.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusServiceUnavailable, netErr.StatusCode)
	assert.Contains(t, netErr.Error(), "503")
}

func TestHTTPTransferCancellation(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		_, _ = w.Write([]byte("streaming"))
		flusher.Flush()
		close(started)
		// Stall until the client goes away
		<-r.Context().Done()
	}))
	defer srv.Close()

	tr := transfer.NewHTTP(transfer.Options{})
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	err := tr.Transfer(ctx, transfer.Request{
		URL:       srv.URL,
		LocalPath: filepath.Join(t.TempDir(), "out"),
	}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestHTTPTransferUnreachable(t *testing.T) {
	tr := transfer.NewHTTP(transfer.Options{})
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := tr.Transfer(ctx, transfer.Request{
		URL:       "http://127.0.0.1:1/unreachable",
		LocalPath: filepath.Join(t.TempDir(), "out"),
	}, nil)

	var netErr *transfer.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, 0, netErr.StatusCode)
}

func TestHTTPGetSpeedIdle(t *testing.T) {
	tr := transfer.NewHTTP(transfer.Options{})
	defer tr.Close()

	assert.Equal(t, int64(0), tr.GetSpeed(), "no active transfers means zero speed")
}
