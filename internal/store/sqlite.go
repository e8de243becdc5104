package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/geodata-tw/doorplate/internal/geodist"
	"github.com/geodata-tw/doorplate/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It has no
// spatial index; nearby search always takes the bounding-box +
// haversine fallback path.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures
// WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS addresses (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	district     TEXT NOT NULL,
	village      TEXT NOT NULL,
	neighborhood INTEGER NOT NULL,
	street       TEXT NOT NULL DEFAULT '',
	area         TEXT NOT NULL DEFAULT '',
	lane         TEXT NOT NULL DEFAULT '',
	alley        TEXT NOT NULL DEFAULT '',
	number       TEXT NOT NULL DEFAULT '',
	latitude     REAL NOT NULL,
	longitude    REAL NOT NULL,
	full_address TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (district, village, neighborhood, street, area, lane, alley, number)
);

CREATE INDEX IF NOT EXISTS idx_addresses_district ON addresses(district);
CREATE INDEX IF NOT EXISTS idx_addresses_village ON addresses(district, village);
CREATE INDEX IF NOT EXISTS idx_addresses_neighborhood ON addresses(district, village, neighborhood);
CREATE INDEX IF NOT EXISTS idx_addresses_coords ON addresses(latitude, longitude);

CREATE TABLE IF NOT EXISTS address_stats (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	level              TEXT NOT NULL,
	district           TEXT NOT NULL,
	village            TEXT NOT NULL DEFAULT '',
	neighborhood       INTEGER NOT NULL DEFAULT 0,
	address_count      INTEGER NOT NULL DEFAULT 0,
	village_count      INTEGER NOT NULL DEFAULT 0,
	neighborhood_count INTEGER NOT NULL DEFAULT 0,
	last_updated       DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (level, district, village, neighborhood)
);

CREATE INDEX IF NOT EXISTS idx_address_stats_level ON address_stats(level, district, village);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SupportsSpatialIndex implements Store.
func (s *SQLiteStore) SupportsSpatialIndex() bool { return false }

// UpsertAddresses implements Store. One chunk, one transaction, one
// prepared upsert statement executed per row.
func (s *SQLiteStore) UpsertAddresses(ctx context.Context, addrs []model.Address) (int64, error) {
	if len(addrs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO addresses (district, village, neighborhood, street, area, lane, alley, number,
		                       latitude, longitude, full_address)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (district, village, neighborhood, street, area, lane, alley, number)
		DO UPDATE SET latitude = excluded.latitude,
		              longitude = excluded.longitude,
		              full_address = excluded.full_address,
		              updated_at = datetime('now')`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	for _, a := range addrs {
		if _, err := stmt.ExecContext(ctx,
			a.District, a.Village, a.Neighborhood, a.Street, a.Area,
			a.Lane, a.Alley, a.Number, a.Latitude, a.Longitude, a.FullAddress,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert row %s%s%d", a.District, a.Village, a.Neighborhood)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert: commit")
	}
	return int64(len(addrs)), nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: clear: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, q := range []string{
		`DELETE FROM addresses`,
		`DELETE FROM address_stats`,
		`DELETE FROM sqlite_sequence WHERE name IN ('addresses', 'address_stats')`,
	} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return eris.Wrapf(err, "sqlite: clear: %s", q)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: clear: commit")
}

// RebuildStats implements Store. Same delete-then-insert transaction as
// the Postgres store.
func (s *SQLiteStore) RebuildStats(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: rebuild stats: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM address_stats`); err != nil {
		return eris.Wrap(err, "sqlite: rebuild stats: delete")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO address_stats (level, district, address_count, village_count, neighborhood_count)
		SELECT 'district', district, COUNT(*),
		       COUNT(DISTINCT village),
		       COUNT(DISTINCT village || '-' || neighborhood)
		FROM addresses
		GROUP BY district`); err != nil {
		return eris.Wrap(err, "sqlite: rebuild stats: district level")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO address_stats (level, district, village, address_count, neighborhood_count)
		SELECT 'village', district, village, COUNT(*), COUNT(DISTINCT neighborhood)
		FROM addresses
		GROUP BY district, village`); err != nil {
		return eris.Wrap(err, "sqlite: rebuild stats: village level")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO address_stats (level, district, village, neighborhood, address_count)
		SELECT 'neighborhood', district, village, neighborhood, COUNT(*)
		FROM addresses
		GROUP BY district, village, neighborhood`); err != nil {
		return eris.Wrap(err, "sqlite: rebuild stats: neighborhood level")
	}

	return eris.Wrap(tx.Commit(), "sqlite: rebuild stats: commit")
}

// AddressCount implements Store.
func (s *SQLiteStore) AddressCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM addresses`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count addresses")
}

// ListDistricts implements Store.
func (s *SQLiteStore) ListDistricts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT district FROM addresses ORDER BY district`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list districts")
	}
	defer rows.Close() //nolint:errcheck
	return scanSQLStrings(rows, "sqlite: scan district")
}

// ListVillages implements Store.
func (s *SQLiteStore) ListVillages(ctx context.Context, district string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT village FROM addresses WHERE district = ? ORDER BY village`, district)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list villages")
	}
	defer rows.Close() //nolint:errcheck
	return scanSQLStrings(rows, "sqlite: scan village")
}

// ListNeighborhoods implements Store.
func (s *SQLiteStore) ListNeighborhoods(ctx context.Context, district, village string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT neighborhood FROM addresses WHERE district = ? AND village = ? ORDER BY neighborhood`,
		district, village)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list neighborhoods")
	}
	defer rows.Close() //nolint:errcheck

	var ns []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan neighborhood")
		}
		ns = append(ns, n)
	}
	return ns, eris.Wrap(rows.Err(), "sqlite: iterate neighborhoods")
}

// GetStats implements Store.
func (s *SQLiteStore) GetStats(ctx context.Context, district, village string, neighborhood int) (*model.AddressStats, error) {
	level := model.LevelDistrict
	switch {
	case village != "" && neighborhood > 0:
		level = model.LevelNeighborhood
	case village != "":
		level = model.LevelVillage
	}

	var st model.AddressStats
	var lastUpdated string
	err := s.db.QueryRowContext(ctx, `
		SELECT level, district, village, neighborhood,
		       address_count, village_count, neighborhood_count, last_updated
		FROM address_stats
		WHERE level = ? AND district = ? AND village = ? AND neighborhood = ?`,
		string(level), district, village, neighborhood,
	).Scan(&st.Level, &st.District, &st.Village, &st.Neighborhood,
		&st.AddressCount, &st.VillageCount, &st.NeighborhoodCount, &lastUpdated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get stats")
	}
	st.LastUpdated = parseSQLiteTime(lastUpdated)
	return &st, nil
}

// GetOverview implements Store.
func (s *SQLiteStore) GetOverview(ctx context.Context) (*Overview, error) {
	var o Overview
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(address_count), 0), COUNT(*),
		       COALESCE(SUM(village_count), 0), COALESCE(SUM(neighborhood_count), 0)
		FROM address_stats WHERE level = 'district'`,
	).Scan(&o.Addresses, &o.Districts, &o.Villages, &o.Neighborhoods)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: overview totals")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT level, district, village, neighborhood,
		       address_count, village_count, neighborhood_count, last_updated
		FROM address_stats WHERE level = 'district' ORDER BY district`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: overview by district")
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var st model.AddressStats
		var lastUpdated string
		if err := rows.Scan(&st.Level, &st.District, &st.Village, &st.Neighborhood,
			&st.AddressCount, &st.VillageCount, &st.NeighborhoodCount, &lastUpdated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan overview row")
		}
		st.LastUpdated = parseSQLiteTime(lastUpdated)
		o.ByDistrict = append(o.ByDistrict, st)
	}
	return &o, eris.Wrap(rows.Err(), "sqlite: iterate overview rows")
}

const sqliteAddressColumns = `id, district, village, neighborhood, street, area, lane, alley, number,
	latitude, longitude, full_address, created_at, updated_at`

// NeighborhoodAddresses implements Store.
func (s *SQLiteStore) NeighborhoodAddresses(ctx context.Context, district, village string, neighborhood int) ([]model.Address, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteAddressColumns+`
		FROM addresses
		WHERE district = ? AND village = ? AND neighborhood = ?
		ORDER BY street, area, lane, alley, number, id`,
		district, village, neighborhood)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: neighborhood addresses")
	}
	defer rows.Close() //nolint:errcheck
	return scanSQLAddresses(rows)
}

// SearchAddresses implements Store.
func (s *SQLiteStore) SearchAddresses(ctx context.Context, filter SearchFilter) ([]model.Address, int, error) {
	where := ` WHERE 1=1`
	var args []any

	if filter.District != "" {
		where += ` AND district = ?`
		args = append(args, filter.District)
	}
	if filter.Village != "" {
		where += ` AND village = ?`
		args = append(args, filter.Village)
	}
	if filter.Keyword != "" {
		// LIKE is case-insensitive only for ASCII, which is fine for
		// CJK address text.
		where += ` AND full_address LIKE ?`
		args = append(args, "%"+filter.Keyword+"%")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM addresses`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count search matches")
	}

	query := `SELECT ` + sqliteAddressColumns + ` FROM addresses` + where +
		` ORDER BY district, village, neighborhood, id LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: search addresses")
	}
	defer rows.Close() //nolint:errcheck

	addrs, err := scanSQLAddresses(rows)
	if err != nil {
		return nil, 0, err
	}
	return addrs, total, nil
}

// SearchNearby implements Store via the fallback path: bounding-box
// pre-filter in SQL over the coordinate index, exact haversine
// predicate and ordering in Go.
func (s *SQLiteStore) SearchNearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]model.AddressDistance, error) {
	box := geodist.RadiusBounds(lat, lng, radiusMeters)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteAddressColumns+`
		FROM addresses
		WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`,
		box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: nearby candidates")
	}
	defer rows.Close() //nolint:errcheck

	candidates, err := scanSQLAddresses(rows)
	if err != nil {
		return nil, err
	}
	return FilterByDistance(candidates, lat, lng, radiusMeters, limit), nil
}

func scanSQLStrings(rows *sql.Rows, wrapMsg string) ([]string, error) {
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

func scanSQLAddresses(rows *sql.Rows) ([]model.Address, error) {
	var out []model.Address
	for rows.Next() {
		var a model.Address
		var createdAt, updatedAt string
		if err := rows.Scan(
			&a.ID, &a.District, &a.Village, &a.Neighborhood, &a.Street, &a.Area,
			&a.Lane, &a.Alley, &a.Number, &a.Latitude, &a.Longitude, &a.FullAddress,
			&createdAt, &updatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan address row")
		}
		a.CreatedAt = parseSQLiteTime(createdAt)
		a.UpdatedAt = parseSQLiteTime(updatedAt)
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate address rows")
}

// parseSQLiteTime parses the datetime('now') text format; zero time on
// mismatch.
func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05",
		time.RFC3339,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
