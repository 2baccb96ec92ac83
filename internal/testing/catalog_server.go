package testing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/romfetch/romfetch/internal/catalog"
)

// CatalogServer is a mock RomM-style catalog API server for testing.
type CatalogServer struct {
	*httptest.Server

	mu        sync.RWMutex
	platforms []catalog.Platform
	roms      map[int64]*catalog.Rom
	content   map[string][]byte // keyed by "<romID>/<fileName>"
	failures  map[string]int    // file name -> forced status code
}

// NewCatalogServer creates a new mock catalog server.
func NewCatalogServer() *CatalogServer {
	s := &CatalogServer{
		roms:     make(map[int64]*catalog.Rom),
		content:  make(map[string][]byte),
		failures: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /api/platforms", s.handlePlatforms)
	mux.HandleFunc("GET /api/roms/{id}", s.handleRom)
	mux.HandleFunc("GET /api/roms/{id}/content/{name}", s.handleContent)

	s.Server = httptest.NewServer(mux)
	return s
}

// AddPlatform adds a platform to the mock server.
func (s *CatalogServer) AddPlatform(p catalog.Platform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.platforms = append(s.platforms, p)
}

// AddRom adds a catalog entry and the file bytes it serves for each of its
// files. The content map is keyed by file name; files without content serve
// zero bytes of their declared size.
func (s *CatalogServer) AddRom(rom *catalog.Rom, content map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roms[rom.ID] = rom
	for name, data := range content {
		s.content[contentKey(rom.ID, name)] = data
	}
}

// FailContent makes content requests for the named file answer with the
// given status code. A code of 0 clears the failure.
func (s *CatalogServer) FailContent(name string, statusCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if statusCode == 0 {
		delete(s.failures, name)
		return
	}
	s.failures[name] = statusCode
}

// Reset clears all state from the server.
func (s *CatalogServer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.platforms = nil
	s.roms = make(map[int64]*catalog.Rom)
	s.content = make(map[string][]byte)
	s.failures = make(map[string]int)
}

func contentKey(romID int64, name string) string {
	return strconv.FormatInt(romID, 10) + "/" + name
}

// handleHeartbeat handles GET /api/heartbeat.
func (s *CatalogServer) handleHeartbeat(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// rommAPIPlatform matches the RomM API response format.
type rommAPIPlatform struct {
	ID       int64  `json:"id"`
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	RomCount int    `json:"rom_count"`
}

// handlePlatforms handles GET /api/platforms.
func (s *CatalogServer) handlePlatforms(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]rommAPIPlatform, len(s.platforms))
	for i, p := range s.platforms {
		result[i] = rommAPIPlatform{
			ID:       p.ID,
			Slug:     p.Slug,
			Name:     p.Name,
			RomCount: p.RomCount,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// rommAPIFile matches the RomM API response format for files.
type rommAPIFile struct {
	ID       int64  `json:"id"`
	RomID    int64  `json:"rom_id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size_bytes"`
}

// rommAPIRom matches the RomM API response format for catalog entries.
type rommAPIRom struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	PlatformSlug string        `json:"platform_slug"`
	Files        []rommAPIFile `json:"files"`
}

// handleRom handles GET /api/roms/{id}.
func (s *CatalogServer) handleRom(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rom, ok := s.roms[id]
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	files := make([]rommAPIFile, len(rom.Files))
	for i, f := range rom.Files {
		files[i] = rommAPIFile{
			ID:       f.ID,
			RomID:    f.RomID,
			FileName: f.Name,
			FileSize: f.Size,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rommAPIRom{
		ID:           rom.ID,
		Name:         rom.Name,
		PlatformSlug: rom.PlatformSlug,
		Files:        files,
	})
}

// handleContent handles GET /api/roms/{id}/content/{name}.
func (s *CatalogServer) handleContent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	name := r.PathValue("name")

	s.mu.RLock()
	if code, failed := s.failures[name]; failed {
		s.mu.RUnlock()
		http.Error(w, "forced failure", code)
		return
	}
	data, ok := s.content[contentKey(id, name)]
	var size int64
	if !ok {
		// Serve zeros of the declared size when no content was registered
		if rom, found := s.roms[id]; found {
			for _, f := range rom.Files {
				if f.Name == name || strings.EqualFold(f.Name, name) {
					size = f.Size
					ok = true
					break
				}
			}
		}
	}
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if data == nil {
		data = make([]byte, size)
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}
