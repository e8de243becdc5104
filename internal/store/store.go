// Package store persists addresses and their derived statistics cache.
// Two implementations exist: Postgres (spatial-index path when PostGIS
// is installed) and SQLite (direct-distance fallback path).
package store

import (
	"context"

	"github.com/geodata-tw/doorplate/internal/model"
)

// SearchFilter specifies criteria for a paginated address search.
type SearchFilter struct {
	Keyword  string `json:"keyword,omitempty"`  // substring match on full_address
	District string `json:"district,omitempty"` // exact match
	Village  string `json:"village,omitempty"`  // exact match
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
}

// Overview summarizes the whole dataset.
type Overview struct {
	Addresses     int64                `json:"addresses"`
	Districts     int                  `json:"districts"`
	Villages      int                  `json:"villages"`
	Neighborhoods int                  `json:"neighborhoods"`
	ByDistrict    []model.AddressStats `json:"by_district"`
}

// Store defines the persistence interface for the address engine.
//
// Writes (UpsertAddresses, Clear, RebuildStats) are called only by the
// single-writer import pipeline. Reads may be served concurrently.
type Store interface {
	// UpsertAddresses writes one chunk of validated addresses in a
	// single transaction, keyed by the de-duplication tuple. A failure
	// rolls back the whole chunk and leaves earlier chunks committed.
	UpsertAddresses(ctx context.Context, addrs []model.Address) (int64, error)

	// Clear deletes all addresses and cached statistics in one
	// transaction.
	Clear(ctx context.Context) error

	// RebuildStats recomputes the statistics cache from the addresses
	// table and replaces the previous contents atomically. Concurrent
	// readers see either the fully-old or fully-new cache.
	RebuildStats(ctx context.Context) error

	// AddressCount returns the total number of stored addresses.
	AddressCount(ctx context.Context) (int64, error)

	// Hierarchy lookups, served from the committed store.
	ListDistricts(ctx context.Context) ([]string, error)
	ListVillages(ctx context.Context, district string) ([]string, error)
	ListNeighborhoods(ctx context.Context, district, village string) ([]int, error)

	// GetStats returns the cached summary row for a district, village,
	// or neighborhood. village == "" selects district level;
	// neighborhood == 0 with a village selects village level. Returns
	// nil when no such row exists.
	GetStats(ctx context.Context, district, village string, neighborhood int) (*model.AddressStats, error)

	// GetOverview returns dataset-wide totals plus a per-district
	// breakdown from the stats cache.
	GetOverview(ctx context.Context) (*Overview, error)

	// NeighborhoodAddresses returns every address of one neighborhood.
	// Callers apply the canonical ordering.
	NeighborhoodAddresses(ctx context.Context, district, village string, neighborhood int) ([]model.Address, error)

	// SearchAddresses returns one page of matches plus the total match
	// count.
	SearchAddresses(ctx context.Context, filter SearchFilter) ([]model.Address, int, error)

	// SearchNearby returns addresses within radiusMeters of the point,
	// ordered by ascending distance, each annotated with its distance.
	// Inclusion is <= radius on both execution strategies.
	SearchNearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]model.AddressDistance, error)

	// SupportsSpatialIndex reports whether SearchNearby runs on a
	// spatial index. Decided once at construction, never per query.
	SupportsSpatialIndex() bool

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
