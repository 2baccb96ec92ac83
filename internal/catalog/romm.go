package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/romfetch/romfetch/internal/config"
)

// rommClient implements the Client interface for RomM-style catalog servers.
// It is private and only exposed via the Client interface.
type rommClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// rommAPIPlatform represents a platform from the catalog API.
type rommAPIPlatform struct {
	ID       int64  `json:"id"`
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	RomCount int    `json:"rom_count"`
}

// rommAPIFile represents a file from the catalog API.
type rommAPIFile struct {
	ID       int64  `json:"id"`
	RomID    int64  `json:"rom_id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size_bytes"`
}

// rommAPIRom represents a catalog entry from the catalog API.
type rommAPIRom struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	PlatformSlug string        `json:"platform_slug"`
	Files        []rommAPIFile `json:"files"`
}

// setLogger implements configurable for shared options.
func (c *rommClient) setLogger(logger zerolog.Logger) {
	c.logger = logger
}

// NewRomM creates a new RomM catalog client and returns it as Client.
func NewRomM(cfg config.CatalogConfig, opts ...Option) Client {
	c := &rommClient{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the configured display name of the catalog server.
func (c *rommClient) Name() string {
	return c.baseURL
}

// TestConnection verifies the catalog server is reachable and the
// credentials are accepted.
func (c *rommClient) TestConnection(ctx context.Context) error {
	req, err := c.newRequest(ctx, c.baseURL+"/api/heartbeat")
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("catalog rejected credentials: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	c.logger.Info().
		Str("url", c.baseURL).
		Msg("connected to catalog")

	return nil
}

// ListPlatforms returns all platforms known to the catalog.
func (c *rommClient) ListPlatforms(ctx context.Context) ([]Platform, error) {
	req, err := c.newRequest(ctx, c.baseURL+"/api/platforms")
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list platforms failed: status %d", resp.StatusCode)
	}

	var apiPlatforms []rommAPIPlatform
	if err = json.NewDecoder(resp.Body).Decode(&apiPlatforms); err != nil {
		return nil, err
	}

	platforms := make([]Platform, len(apiPlatforms))
	for i, p := range apiPlatforms {
		platforms[i] = Platform{
			ID:       p.ID,
			Slug:     p.Slug,
			Name:     p.Name,
			RomCount: p.RomCount,
		}
	}

	return platforms, nil
}

// GetRom returns a catalog entry by ID, including its files.
func (c *rommClient) GetRom(ctx context.Context, id int64) (*Rom, error) {
	req, err := c.newRequest(ctx, c.baseURL+"/api/roms/"+strconv.FormatInt(id, 10))
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("rom not found: %d", id)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get rom failed: status %d", resp.StatusCode)
	}

	var apiRom rommAPIRom
	if err = json.NewDecoder(resp.Body).Decode(&apiRom); err != nil {
		return nil, err
	}

	return c.toRom(apiRom), nil
}

// ResolveDownload returns the URL and request headers for fetching a single
// file. RomM serves file content below the entry's content endpoint, keyed by
// file name.
func (c *rommClient) ResolveDownload(rom *Rom, file RomFile) (string, map[string]string) {
	downloadURL := fmt.Sprintf("%s/api/roms/%d/content/%s",
		c.baseURL, rom.ID, url.PathEscape(file.Name))

	headers := make(map[string]string)
	if c.apiKey != "" {
		headers["X-Api-Key"] = c.apiKey
	}

	return downloadURL, headers
}

func (c *rommClient) newRequest(ctx context.Context, reqURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	return req, nil
}

func (c *rommClient) toRom(r rommAPIRom) *Rom {
	files := make([]RomFile, len(r.Files))
	for i, f := range r.Files {
		files[i] = RomFile{
			ID:    f.ID,
			RomID: f.RomID,
			Name:  f.FileName,
			Size:  f.FileSize,
		}
	}

	return &Rom{
		ID:           r.ID,
		Name:         r.Name,
		PlatformSlug: r.PlatformSlug,
		Files:        files,
	}
}
