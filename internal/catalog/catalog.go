// Package catalog provides clients for ROM catalog servers.
package catalog

import (
	"context"

	"github.com/rs/zerolog"
)

// configurable is implemented by all catalog clients to support shared options.
type configurable interface {
	setLogger(zerolog.Logger)
}

// Option is a functional option for configuring catalog clients.
type Option func(configurable)

// WithLogger sets the logger for any catalog client.
func WithLogger(logger zerolog.Logger) Option {
	return func(c configurable) {
		c.setLogger(logger)
	}
}

// Platform represents a console platform in the catalog.
type Platform struct {
	// ID is the catalog's identifier for the platform.
	ID int64 `json:"id"`
	// Slug is the short machine name, e.g. "gba" or "snes".
	Slug string `json:"slug"`
	// Name is the display name.
	Name string `json:"name"`
	// RomCount is the number of catalog entries for this platform.
	RomCount int `json:"rom_count"`
}

// RomFile is a single downloadable file belonging to a catalog entry.
// Multi-disc entries have one RomFile per disc.
type RomFile struct {
	// ID is the catalog's identifier for the file.
	ID int64 `json:"id"`
	// RomID is the catalog entry this file belongs to.
	RomID int64 `json:"rom_id"`
	// Name is the file name, e.g. "Super Game (USA).zip".
	Name string `json:"file_name"`
	// Size is the file size in bytes, 0 if the catalog does not know it.
	Size int64 `json:"file_size_bytes"`
}

// Rom represents a catalog entry with its downloadable files.
type Rom struct {
	// ID is the catalog's identifier for the entry.
	ID int64 `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// PlatformSlug identifies the platform this entry belongs to.
	PlatformSlug string `json:"platform_slug"`
	// Files is the list of downloadable files.
	Files []RomFile `json:"files"`
}

// Client is the interface that catalog server clients must implement.
type Client interface {
	// Name returns the configured display name of the catalog server.
	Name() string

	// TestConnection verifies the catalog server is reachable and the
	// credentials are accepted.
	TestConnection(ctx context.Context) error

	// ListPlatforms returns all platforms known to the catalog.
	ListPlatforms(ctx context.Context) ([]Platform, error)

	// GetRom returns a catalog entry by ID, including its files.
	GetRom(ctx context.Context, id int64) (*Rom, error)

	// ResolveDownload returns the URL and request headers for fetching a
	// single file from the catalog server.
	ResolveDownload(rom *Rom, file RomFile) (url string, headers map[string]string)
}
