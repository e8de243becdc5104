// Package boundary loads village boundary shapefiles into PostGIS. The
// source shapefiles are published in the projected TWD97 coordinate
// system, so every ring vertex is reprojected before encoding.
package boundary

import (
	"context"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/geodata-tw/doorplate/internal/db"
	"github.com/geodata-tw/doorplate/internal/twd97"
)

// Attribute names used by the national village boundary shapefile.
const (
	fieldTown    = "TOWNNAME"
	fieldVillage = "VILLNAME"
)

// Summary reports one boundary load run.
type Summary struct {
	Read    int `json:"read"`
	Loaded  int `json:"loaded"`
	Skipped int `json:"skipped"`
}

// Load reads a village boundary shapefile and upserts each polygon into
// village_boundaries, keyed by (district, village). Records without a
// usable polygon or name attributes are skipped, not fatal.
func Load(ctx context.Context, pool db.Pool, shpPath string) (*Summary, error) {
	log := zap.L().With(zap.String("component", "boundary"))

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	townIdx := fieldIndex(reader, fieldTown)
	villIdx := fieldIndex(reader, fieldVillage)
	if townIdx < 0 || villIdx < 0 {
		return nil, eris.Errorf("boundary: required shapefile fields (%s, %s) not found", fieldTown, fieldVillage)
	}

	sum := &Summary{}
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "boundary: load cancelled")
		}
		_, shape := reader.Shape()
		sum.Read++

		district := strings.TrimSpace(reader.Attribute(townIdx))
		village := strings.TrimSpace(reader.Attribute(villIdx))
		if district == "" || village == "" {
			sum.Skipped++
			continue
		}

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			sum.Skipped++
			continue
		}

		wkbData, err := encodeMultiPolygon(poly)
		if err != nil || wkbData == nil {
			log.Debug("skipping unencodable polygon",
				zap.String("district", district),
				zap.String("village", village),
				zap.Error(err),
			)
			sum.Skipped++
			continue
		}

		_, err = pool.Exec(ctx, `
			INSERT INTO village_boundaries (district, village, geom)
			VALUES ($1, $2, ST_GeomFromEWKB($3))
			ON CONFLICT (district, village) DO UPDATE SET
				geom = EXCLUDED.geom,
				updated_at = now()`,
			district, village, wkbData)
		if err != nil {
			return nil, eris.Wrapf(err, "boundary: upsert %s/%s", district, village)
		}
		sum.Loaded++
	}

	log.Info("boundary load finished",
		zap.String("path", shpPath),
		zap.Int("read", sum.Read),
		zap.Int("loaded", sum.Loaded),
		zap.Int("skipped", sum.Skipped),
	)
	return sum, nil
}

// encodeMultiPolygon reprojects a shapefile polygon from TWD97 to
// WGS84 and encodes it as EWKB with SRID 4326.
func encodeMultiPolygon(p *shp.Polygon) ([]byte, error) {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil, nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			lat, lng, err := twd97.ToWGS84(p.Points[j].X, p.Points[j].Y)
			if err != nil {
				return nil, eris.Wrapf(err, "boundary: reproject vertex %d", j)
			}
			flat = append(flat, lng, lat)
		}
		if len(flat) < 8 {
			// Fewer than four vertices cannot close a ring.
			continue
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			continue
		}
		if err := mp.Push(poly); err != nil {
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil, nil
	}

	data, err := ewkb.Marshal(mp, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: encode EWKB")
	}
	return data, nil
}

func fieldIndex(r *shp.Reader, name string) int {
	for i, f := range r.Fields() {
		if strings.EqualFold(strings.TrimRight(string(f.Name[:]), "\x00"), name) {
			return i
		}
	}
	return -1
}
