// Package model defines the core address domain types shared across the
// importer, stores, and query service.
package model

import (
	"strconv"
	"strings"
	"time"
)

// Taiwan bounding box. Transformed coordinates outside this window are
// rejected during import and never stored.
const (
	MinLatitude  = 21.8
	MaxLatitude  = 25.3
	MinLongitude = 119.3
	MaxLongitude = 122.0
)

// RawRecord is one CSV row before validation. All fields are the raw
// string tokens as read from the file; it is discarded after the
// validator produces an Address.
type RawRecord struct {
	District     string `json:"district"`
	Village      string `json:"village"`
	Neighborhood string `json:"neighborhood"`
	Street       string `json:"street"`
	Area         string `json:"area"`
	Lane         string `json:"lane"`
	Alley        string `json:"alley"`
	Number       string `json:"number"`
	Easting      string `json:"easting"`
	Northing     string `json:"northing"`

	// Line is the 1-based source line number, carried for reject logs.
	Line int `json:"line,omitempty"`
}

// Address is one persisted door-number record with geodetic coordinates.
type Address struct {
	ID           int64     `json:"id"`
	District     string    `json:"district"`
	Village      string    `json:"village"`
	Neighborhood int       `json:"neighborhood"`
	Street       string    `json:"street,omitempty"`
	Area         string    `json:"area,omitempty"`
	Lane         string    `json:"lane,omitempty"`
	Alley        string    `json:"alley,omitempty"`
	Number       string    `json:"number,omitempty"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	FullAddress  string    `json:"full_address"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DedupKey returns the natural identity tuple of the record. Two rows
// with equal keys describe the same door number; re-import replaces the
// stored coordinates instead of duplicating the row.
func (a Address) DedupKey() [8]string {
	return [8]string{
		a.District, a.Village, strconv.Itoa(a.Neighborhood),
		a.Street, a.Area, a.Lane, a.Alley, a.Number,
	}
}

// ComposeFullAddress concatenates the sub-village components in canonical
// order. District, village, and neighborhood are kept as separate columns
// and are not repeated here.
func ComposeFullAddress(street, area, lane, alley, number string) string {
	var b strings.Builder
	for _, part := range []string{street, area, lane, alley, number} {
		b.WriteString(part)
	}
	return b.String()
}

// InBounds reports whether a geodetic coordinate lies inside the Taiwan
// bounding box.
func InBounds(lat, lng float64) bool {
	return lat >= MinLatitude && lat <= MaxLatitude &&
		lng >= MinLongitude && lng <= MaxLongitude
}

// StatsLevel identifies the granularity of an AddressStats row.
type StatsLevel string

const (
	LevelDistrict     StatsLevel = "district"
	LevelVillage      StatsLevel = "village"
	LevelNeighborhood StatsLevel = "neighborhood"
)

// AddressStats is one cached summary row. Village and Neighborhood are
// zero-valued at coarser levels. The cache is derived from the addresses
// table and is rebuilt wholesale after every import.
type AddressStats struct {
	Level             StatsLevel `json:"level"`
	District          string     `json:"district"`
	Village           string     `json:"village,omitempty"`
	Neighborhood      int        `json:"neighborhood,omitempty"`
	AddressCount      int        `json:"address_count"`
	VillageCount      int        `json:"village_count,omitempty"`
	NeighborhoodCount int        `json:"neighborhood_count,omitempty"`
	LastUpdated       time.Time  `json:"last_updated"`
}

// AddressDistance is an Address annotated with its distance in meters
// from a nearby-search query point.
type AddressDistance struct {
	Address
	DistanceMeters float64 `json:"distance_meters"`
}

// Pagination describes one page of a paginated result set.
type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
	Pages   int `json:"pages"`
}

// HasPrev reports whether an earlier page exists.
func (p Pagination) HasPrev() bool { return p.Page > 1 }

// HasNext reports whether a later page exists.
func (p Pagination) HasNext() bool { return p.Page < p.Pages }
