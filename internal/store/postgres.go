package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geodata-tw/doorplate/internal/db"
	"github.com/geodata-tw/doorplate/internal/geodist"
	"github.com/geodata-tw/doorplate/internal/model"
)

// addressColumns is the insert column set for chunked upserts.
var addressColumns = []string{
	"district", "village", "neighborhood", "street", "area",
	"lane", "alley", "number", "latitude", "longitude", "full_address",
}

// dedupKeyColumns is the natural identity tuple of a door-number record.
var dedupKeyColumns = []string{
	"district", "village", "neighborhood", "street", "area",
	"lane", "alley", "number",
}

// PostgresStore implements Store on pgx. When PostGIS is installed the
// nearby search runs on the GIST index with a geography distance
// predicate; otherwise it degrades to the same bounding-box + haversine
// fallback the SQLite store uses.
type PostgresStore struct {
	pool    db.Pool
	postgis bool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool and probes
// PostGIS availability once.
func NewPostgres(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	if minConns <= 0 {
		minConns = 2
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	s := &PostgresStore{pool: pool, closeFn: pool.Close}
	s.postgis = probePostGIS(ctx, pool)

	zap.L().Info("postgres store ready",
		zap.Bool("postgis", s.postgis),
		zap.Int32("max_conns", maxConns),
	)
	return s, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests.
func NewPostgresFromPool(pool db.Pool, postgis bool) *PostgresStore {
	return &PostgresStore{pool: pool, postgis: postgis}
}

// probePostGIS checks once at startup whether the PostGIS extension is
// installed. The nearby strategy is fixed for the store's lifetime so
// result ordering stays consistent across calls.
func probePostGIS(ctx context.Context, pool db.Pool) bool {
	var version string
	if err := pool.QueryRow(ctx, `SELECT PostGIS_Version()`).Scan(&version); err != nil {
		return false
	}
	return version != ""
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS addresses (
	id           BIGSERIAL PRIMARY KEY,
	district     TEXT NOT NULL,
	village      TEXT NOT NULL,
	neighborhood INTEGER NOT NULL,
	street       TEXT NOT NULL DEFAULT '',
	area         TEXT NOT NULL DEFAULT '',
	lane         TEXT NOT NULL DEFAULT '',
	alley        TEXT NOT NULL DEFAULT '',
	number       TEXT NOT NULL DEFAULT '',
	latitude     DOUBLE PRECISION NOT NULL,
	longitude    DOUBLE PRECISION NOT NULL,
	full_address TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (district, village, neighborhood, street, area, lane, alley, number)
);

CREATE INDEX IF NOT EXISTS idx_addresses_district ON addresses(district);
CREATE INDEX IF NOT EXISTS idx_addresses_village ON addresses(district, village);
CREATE INDEX IF NOT EXISTS idx_addresses_neighborhood ON addresses(district, village, neighborhood);
CREATE INDEX IF NOT EXISTS idx_addresses_coords ON addresses(latitude, longitude);

CREATE TABLE IF NOT EXISTS address_stats (
	id                 BIGSERIAL PRIMARY KEY,
	level              TEXT NOT NULL,
	district           TEXT NOT NULL,
	village            TEXT NOT NULL DEFAULT '',
	neighborhood       INTEGER NOT NULL DEFAULT 0,
	address_count      INTEGER NOT NULL DEFAULT 0,
	village_count      INTEGER NOT NULL DEFAULT 0,
	neighborhood_count INTEGER NOT NULL DEFAULT 0,
	last_updated       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (level, district, village, neighborhood)
);

CREATE INDEX IF NOT EXISTS idx_address_stats_level ON address_stats(level, district, village);
`

// postgisMigration adds the geometry column and spatial index. Applied
// only when the PostGIS probe succeeded.
const postgisMigration = `
ALTER TABLE addresses ADD COLUMN IF NOT EXISTS geom GEOMETRY(POINT, 4326);
CREATE INDEX IF NOT EXISTS idx_addresses_geom ON addresses USING gist (geom);

CREATE TABLE IF NOT EXISTS village_boundaries (
	id         BIGSERIAL PRIMARY KEY,
	district   TEXT NOT NULL,
	village    TEXT NOT NULL,
	geom       GEOMETRY(MULTIPOLYGON, 4326) NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (district, village)
);

CREATE INDEX IF NOT EXISTS idx_village_boundaries_geom ON village_boundaries USING gist (geom);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	if s.postgis {
		if _, err := s.pool.Exec(ctx, postgisMigration); err != nil {
			return eris.Wrap(err, "postgres: migrate postgis")
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// SupportsSpatialIndex implements Store.
func (s *PostgresStore) SupportsSpatialIndex() bool { return s.postgis }

// DBPool exposes the underlying pool for loaders that issue their own
// SQL, like the boundary shapefile loader.
func (s *PostgresStore) DBPool() db.Pool { return s.pool }

// UpsertAddresses implements Store. One chunk, one transaction: a temp
// table is COPY-filled and merged with INSERT ... ON CONFLICT on the
// de-duplication tuple, so re-imports replace coordinates instead of
// duplicating rows.
func (s *PostgresStore) UpsertAddresses(ctx context.Context, addrs []model.Address) (int64, error) {
	if len(addrs) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(addrs))
	for i, a := range addrs {
		rows[i] = []any{
			a.District, a.Village, a.Neighborhood, a.Street, a.Area,
			a.Lane, a.Alley, a.Number, a.Latitude, a.Longitude, a.FullAddress,
		}
	}

	cfg := db.UpsertConfig{
		Table:        "addresses",
		Columns:      addressColumns,
		ConflictKeys: dedupKeyColumns,
		UpdateCols:   []string{"latitude", "longitude", "full_address"},
		SetExprs:     []string{"updated_at = now()"},
	}
	if s.postgis {
		// Geometry is derived in the same statement, so it stays in the
		// chunk's transaction and only the merged rows are touched.
		cfg.ComputedCols = []string{"geom"}
		cfg.ComputedExprs = []string{"ST_SetSRID(ST_MakePoint(longitude, latitude), 4326)"}
		cfg.SetExprs = append(cfg.SetExprs,
			"geom = ST_SetSRID(ST_MakePoint(EXCLUDED.longitude, EXCLUDED.latitude), 4326)")
	}

	n, err := db.BulkUpsert(ctx, s.pool, cfg, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert addresses")
	}
	return n, nil
}

// Clear implements Store.
func (s *PostgresStore) Clear(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: clear: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `TRUNCATE TABLE addresses RESTART IDENTITY`); err != nil {
		return eris.Wrap(err, "postgres: clear addresses")
	}
	if _, err := tx.Exec(ctx, `TRUNCATE TABLE address_stats RESTART IDENTITY`); err != nil {
		return eris.Wrap(err, "postgres: clear address_stats")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: clear: commit")
}

// RebuildStats implements Store. Delete-then-insert inside one
// transaction: readers see the old cache until commit, the new cache
// after, never a mix.
func (s *PostgresStore) RebuildStats(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: rebuild stats: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM address_stats`); err != nil {
		return eris.Wrap(err, "postgres: rebuild stats: delete")
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO address_stats (level, district, address_count, village_count, neighborhood_count)
		SELECT 'district', district, COUNT(*),
		       COUNT(DISTINCT village),
		       COUNT(DISTINCT village || '-' || neighborhood)
		FROM addresses
		GROUP BY district`); err != nil {
		return eris.Wrap(err, "postgres: rebuild stats: district level")
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO address_stats (level, district, village, address_count, neighborhood_count)
		SELECT 'village', district, village, COUNT(*), COUNT(DISTINCT neighborhood)
		FROM addresses
		GROUP BY district, village`); err != nil {
		return eris.Wrap(err, "postgres: rebuild stats: village level")
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO address_stats (level, district, village, neighborhood, address_count)
		SELECT 'neighborhood', district, village, neighborhood, COUNT(*)
		FROM addresses
		GROUP BY district, village, neighborhood`); err != nil {
		return eris.Wrap(err, "postgres: rebuild stats: neighborhood level")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: rebuild stats: commit")
}

// AddressCount implements Store.
func (s *PostgresStore) AddressCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM addresses`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count addresses")
}

// ListDistricts implements Store.
func (s *PostgresStore) ListDistricts(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT district FROM addresses ORDER BY district`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list districts")
	}
	defer rows.Close()
	return scanStrings(rows, "postgres: scan district")
}

// ListVillages implements Store.
func (s *PostgresStore) ListVillages(ctx context.Context, district string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT village FROM addresses WHERE district = $1 ORDER BY village`, district)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list villages")
	}
	defer rows.Close()
	return scanStrings(rows, "postgres: scan village")
}

// ListNeighborhoods implements Store.
func (s *PostgresStore) ListNeighborhoods(ctx context.Context, district, village string) ([]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT neighborhood FROM addresses WHERE district = $1 AND village = $2 ORDER BY neighborhood`,
		district, village)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list neighborhoods")
	}
	defer rows.Close()

	var ns []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan neighborhood")
		}
		ns = append(ns, n)
	}
	return ns, eris.Wrap(rows.Err(), "postgres: iterate neighborhoods")
}

// GetStats implements Store.
func (s *PostgresStore) GetStats(ctx context.Context, district, village string, neighborhood int) (*model.AddressStats, error) {
	level := model.LevelDistrict
	switch {
	case village != "" && neighborhood > 0:
		level = model.LevelNeighborhood
	case village != "":
		level = model.LevelVillage
	}

	var st model.AddressStats
	err := s.pool.QueryRow(ctx, `
		SELECT level, district, village, neighborhood,
		       address_count, village_count, neighborhood_count, last_updated
		FROM address_stats
		WHERE level = $1 AND district = $2 AND village = $3 AND neighborhood = $4`,
		string(level), district, village, neighborhood,
	).Scan(&st.Level, &st.District, &st.Village, &st.Neighborhood,
		&st.AddressCount, &st.VillageCount, &st.NeighborhoodCount, &st.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get stats")
	}
	return &st, nil
}

// GetOverview implements Store.
func (s *PostgresStore) GetOverview(ctx context.Context) (*Overview, error) {
	var o Overview
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(address_count), 0), COUNT(*),
		       COALESCE(SUM(village_count), 0), COALESCE(SUM(neighborhood_count), 0)
		FROM address_stats WHERE level = 'district'`,
	).Scan(&o.Addresses, &o.Districts, &o.Villages, &o.Neighborhoods)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: overview totals")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT level, district, village, neighborhood,
		       address_count, village_count, neighborhood_count, last_updated
		FROM address_stats WHERE level = 'district' ORDER BY district`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: overview by district")
	}
	defer rows.Close()

	for rows.Next() {
		var st model.AddressStats
		if err := rows.Scan(&st.Level, &st.District, &st.Village, &st.Neighborhood,
			&st.AddressCount, &st.VillageCount, &st.NeighborhoodCount, &st.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "postgres: scan overview row")
		}
		o.ByDistrict = append(o.ByDistrict, st)
	}
	return &o, eris.Wrap(rows.Err(), "postgres: iterate overview rows")
}

const addressSelectColumns = `id, district, village, neighborhood, street, area, lane, alley, number,
	latitude, longitude, full_address, created_at, updated_at`

// NeighborhoodAddresses implements Store.
func (s *PostgresStore) NeighborhoodAddresses(ctx context.Context, district, village string, neighborhood int) ([]model.Address, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+addressSelectColumns+`
		FROM addresses
		WHERE district = $1 AND village = $2 AND neighborhood = $3
		ORDER BY street, area, lane, alley, number, id`,
		district, village, neighborhood)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: neighborhood addresses")
	}
	defer rows.Close()
	return scanAddresses(rows)
}

// SearchAddresses implements Store.
func (s *PostgresStore) SearchAddresses(ctx context.Context, filter SearchFilter) ([]model.Address, int, error) {
	where := ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.District != "" {
		where += fmt.Sprintf(` AND district = $%d`, argIdx)
		args = append(args, filter.District)
		argIdx++
	}
	if filter.Village != "" {
		where += fmt.Sprintf(` AND village = $%d`, argIdx)
		args = append(args, filter.Village)
		argIdx++
	}
	if filter.Keyword != "" {
		where += fmt.Sprintf(` AND full_address ILIKE $%d`, argIdx)
		args = append(args, "%"+filter.Keyword+"%")
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM addresses`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count search matches")
	}

	query := `SELECT ` + addressSelectColumns + ` FROM addresses` + where +
		` ORDER BY district, village, neighborhood, id` +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: search addresses")
	}
	defer rows.Close()

	addrs, err := scanAddresses(rows)
	if err != nil {
		return nil, 0, err
	}
	return addrs, total, nil
}

// SearchNearby implements Store. With PostGIS the GIST index and a
// geography-cast ST_DWithin predicate do the work; otherwise the shared
// bounding-box + haversine fallback runs over the coordinate index.
func (s *PostgresStore) SearchNearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]model.AddressDistance, error) {
	if !s.postgis {
		return s.nearbyFallback(ctx, lat, lng, radiusMeters, limit)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+addressSelectColumns+`,
		       ST_Distance(geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) AS distance
		FROM addresses
		WHERE geom IS NOT NULL
		  AND ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY distance, id
		LIMIT $4`,
		lng, lat, radiusMeters, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: nearby (postgis)")
	}
	defer rows.Close()

	var out []model.AddressDistance
	for rows.Next() {
		var ad model.AddressDistance
		if err := scanAddressFields(rows, &ad.Address, &ad.DistanceMeters); err != nil {
			return nil, err
		}
		out = append(out, ad)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate nearby rows")
}

// nearbyFallback pre-filters candidates with a latitude/longitude
// bounding box, then applies the exact haversine predicate in Go.
func (s *PostgresStore) nearbyFallback(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]model.AddressDistance, error) {
	box := geodist.RadiusBounds(lat, lng, radiusMeters)

	rows, err := s.pool.Query(ctx, `
		SELECT `+addressSelectColumns+`
		FROM addresses
		WHERE latitude BETWEEN $1 AND $2 AND longitude BETWEEN $3 AND $4`,
		box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: nearby (fallback)")
	}
	defer rows.Close()

	candidates, err := scanAddresses(rows)
	if err != nil {
		return nil, err
	}
	return FilterByDistance(candidates, lat, lng, radiusMeters, limit), nil
}

func scanStrings(rows pgx.Rows, wrapMsg string) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, eris.Wrap(err, wrapMsg)
		}
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), wrapMsg)
}

func scanAddresses(rows pgx.Rows) ([]model.Address, error) {
	var out []model.Address
	for rows.Next() {
		var a model.Address
		if err := scanAddressFields(rows, &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate address rows")
}

// scanAddressFields scans one address row, plus any trailing extras
// (e.g., a computed distance column).
func scanAddressFields(rows pgx.Rows, a *model.Address, extras ...any) error {
	dest := []any{
		&a.ID, &a.District, &a.Village, &a.Neighborhood, &a.Street, &a.Area,
		&a.Lane, &a.Alley, &a.Number, &a.Latitude, &a.Longitude, &a.FullAddress,
		&a.CreatedAt, &a.UpdatedAt,
	}
	dest = append(dest, extras...)
	if err := rows.Scan(dest...); err != nil {
		return eris.Wrap(err, "postgres: scan address row")
	}
	return nil
}
