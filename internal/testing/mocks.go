// Package testing provides mock implementations for use in tests.
// This package should only be imported by test files (*_test.go).
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/romfetch/romfetch/internal/catalog"
	"github.com/romfetch/romfetch/internal/storage"
	"github.com/romfetch/romfetch/internal/transfer"
)

// ErrNotFound is returned when a catalog entry is not found.
var ErrNotFound = errors.New("rom not found")

// MockCatalog is a mock implementation of catalog.Client for testing.
type MockCatalog struct {
	mu        sync.RWMutex
	platforms []catalog.Platform
	roms      map[int64]*catalog.Rom

	// Hooks for custom behavior
	OnTestConnection func(ctx context.Context) error
	OnGetRom         func(ctx context.Context, id int64) (*catalog.Rom, error)
}

// NewMockCatalog creates a new mock catalog client.
func NewMockCatalog() *MockCatalog {
	return &MockCatalog{
		roms: make(map[int64]*catalog.Rom),
	}
}

// Name returns the mock catalog name.
func (m *MockCatalog) Name() string {
	return "mock-catalog"
}

// TestConnection verifies connectivity (no-op for mock).
func (m *MockCatalog) TestConnection(ctx context.Context) error {
	if m.OnTestConnection != nil {
		return m.OnTestConnection(ctx)
	}
	return nil
}

// ListPlatforms returns the configured platforms.
func (m *MockCatalog) ListPlatforms(_ context.Context) ([]catalog.Platform, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]catalog.Platform, len(m.platforms))
	copy(result, m.platforms)
	return result, nil
}

// GetRom returns a configured catalog entry by ID.
func (m *MockCatalog) GetRom(ctx context.Context, id int64) (*catalog.Rom, error) {
	if m.OnGetRom != nil {
		return m.OnGetRom(ctx, id)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rom, ok := m.roms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rom, nil
}

// ResolveDownload returns a deterministic fake URL for the file.
func (m *MockCatalog) ResolveDownload(rom *catalog.Rom, file catalog.RomFile) (string, map[string]string) {
	return fmt.Sprintf("http://mock-catalog/api/roms/%d/content/%s", rom.ID, file.Name), nil
}

// AddPlatform adds a platform to the mock.
func (m *MockCatalog) AddPlatform(p catalog.Platform) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.platforms = append(m.platforms, p)
}

// AddRom adds a catalog entry to the mock.
func (m *MockCatalog) AddRom(rom *catalog.Rom) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roms[rom.ID] = rom
}

// MockTransferer is a mock implementation of transfer.Transferer for testing.
type MockTransferer struct {
	mu    sync.RWMutex
	speed int64

	// Track transfer calls
	TransferCalls []transfer.Request

	// Hooks for custom behavior
	OnTransfer func(ctx context.Context, req transfer.Request, onProgress transfer.ProgressFunc) error

	// Content is written instead of zeros when set, keyed by request URL.
	Content map[string][]byte
}

// NewMockTransferer creates a new mock transferer.
func NewMockTransferer() *MockTransferer {
	return &MockTransferer{
		Content: make(map[string][]byte),
	}
}

// Transfer writes a file locally (mock implementation).
func (m *MockTransferer) Transfer(ctx context.Context, req transfer.Request, onProgress transfer.ProgressFunc) error {
	m.mu.Lock()
	m.TransferCalls = append(m.TransferCalls, req)
	content := m.Content[req.URL]
	m.mu.Unlock()

	if m.OnTransfer != nil {
		return m.OnTransfer(ctx, req, onProgress)
	}

	if content == nil {
		content = make([]byte, req.Size)
	}

	// Default behavior: create the file and report progress
	if err := m.createFile(req.LocalPath, content); err != nil {
		return err
	}

	if onProgress != nil {
		const bytesPerMB = 1024 * 1024
		onProgress(transfer.Progress{
			Transferred: int64(len(content)),
			Total:       int64(len(content)),
			BytesPerSec: bytesPerMB, // 1 MB/s
		})
	}
	return nil
}

// createFile writes the content to path for testing.
func (m *MockTransferer) createFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0600)
}

// SetContent sets the bytes the mock writes for a given request URL.
func (m *MockTransferer) SetContent(url string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Content[url] = content
}

// Name returns the backend name.
func (m *MockTransferer) Name() string {
	return "mock"
}

// GetSpeed returns the current transfer speed.
func (m *MockTransferer) GetSpeed() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.speed
}

// SetSpeed sets the mock speed (for testing).
func (m *MockTransferer) SetSpeed(speed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speed = speed
}

// PrepareShutdown prepares for shutdown (no-op for mock).
func (m *MockTransferer) PrepareShutdown() {}

// Close releases resources (no-op for mock).
func (m *MockTransferer) Close() error {
	return nil
}

// GetTransferCalls returns the recorded transfer calls.
func (m *MockTransferer) GetTransferCalls() []transfer.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]transfer.Request, len(m.TransferCalls))
	copy(result, m.TransferCalls)
	return result
}

// MockBackend wraps a real storage backend and lets tests inject failures and
// count calls.
type MockBackend struct {
	Inner storage.Backend

	mu        sync.Mutex
	listCalls int

	// Hooks for custom behavior
	OnList       func(dir string) ([]storage.Entry, error)
	OnImportFile func(src, dir, name string) error
}

// NewMockBackend wraps inner with call tracking and failure hooks.
func NewMockBackend(inner storage.Backend) *MockBackend {
	return &MockBackend{Inner: inner}
}

// Name returns the backend identifier.
func (m *MockBackend) Name() string {
	return "mock"
}

// List returns the entries of dir.
func (m *MockBackend) List(dir string) ([]storage.Entry, error) {
	m.mu.Lock()
	m.listCalls++
	m.mu.Unlock()

	if m.OnList != nil {
		return m.OnList(dir)
	}
	return m.Inner.List(dir)
}

// ListCalls returns how many times List was called.
func (m *MockBackend) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

// EnsureDir creates dir and any missing parents.
func (m *MockBackend) EnsureDir(dir string) error {
	return m.Inner.EnsureDir(dir)
}

// WriteFile streams r into dir/name.
func (m *MockBackend) WriteFile(dir, name string, r io.Reader) (int64, error) {
	return m.Inner.WriteFile(dir, name, r)
}

// ImportFile moves src into dir/name.
func (m *MockBackend) ImportFile(src, dir, name string) error {
	if m.OnImportFile != nil {
		return m.OnImportFile(src, dir, name)
	}
	return m.Inner.ImportFile(src, dir, name)
}

// Remove deletes dir/name.
func (m *MockBackend) Remove(dir, name string) error {
	return m.Inner.Remove(dir, name)
}

// Exists reports whether dir/name exists.
func (m *MockBackend) Exists(dir, name string) (bool, error) {
	return m.Inner.Exists(dir, name)
}
