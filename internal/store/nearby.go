package store

import (
	"sort"

	"github.com/geodata-tw/doorplate/internal/geodist"
	"github.com/geodata-tw/doorplate/internal/model"
)

// FilterByDistance is the exact-distance stage of the fallback nearby
// path. It annotates every candidate with its haversine distance from
// the query point, keeps those within radiusMeters (inclusive), and
// returns them ordered by ascending distance with id as the tiebreak,
// matching the ordering contract of the spatial-index path.
func FilterByDistance(candidates []model.Address, lat, lng, radiusMeters float64, limit int) []model.AddressDistance {
	var out []model.AddressDistance
	for _, a := range candidates {
		d := geodist.Haversine(lat, lng, a.Latitude, a.Longitude)
		if d <= radiusMeters {
			out = append(out, model.AddressDistance{Address: a, DistanceMeters: d})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceMeters != out[j].DistanceMeters {
			return out[i].DistanceMeters < out[j].DistanceMeters
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
