package importer

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/width"

	"github.com/geodata-tw/doorplate/internal/model"
	"github.com/geodata-tw/doorplate/internal/twd97"
)

// RejectKind classifies why a single CSV row was rejected. Rejections
// are per-record and never abort the import run.
type RejectKind string

const (
	RejectMissingField      RejectKind = "missing_field"
	RejectMalformedNumber   RejectKind = "malformed_number"
	RejectOutOfBounds       RejectKind = "out_of_bounds"
	RejectInvalidCoordinate RejectKind = "invalid_coordinate"
)

// RecordError reports a rejected row together with its classification.
type RecordError struct {
	Kind  RejectKind
	Field string
	Line  int
	Err   error
}

func (e *RecordError) Error() string {
	var b strings.Builder
	b.WriteString("record rejected: ")
	b.WriteString(string(e.Kind))
	if e.Field != "" {
		b.WriteString(" (")
		b.WriteString(e.Field)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RecordError) Unwrap() error { return e.Err }

// KindOf returns the reject classification of err, or "" if err is not
// a RecordError.
func KindOf(err error) RejectKind {
	var re *RecordError
	if eris.As(err, &re) {
		return re.Kind
	}
	return ""
}

// Validate checks a raw CSV row, normalizes its text fields, transforms
// the projected coordinate pair, and returns a storable Address. The
// returned error, if any, is a *RecordError.
func Validate(raw model.RawRecord) (model.Address, error) {
	district := normalizeText(raw.District)
	village := normalizeText(raw.Village)
	neighborhood := normalizeText(raw.Neighborhood)
	easting := strings.TrimSpace(raw.Easting)
	northing := strings.TrimSpace(raw.Northing)

	for _, f := range []struct{ name, value string }{
		{"district", district},
		{"village", village},
		{"neighborhood", neighborhood},
		{"easting", easting},
		{"northing", northing},
	} {
		if f.value == "" {
			return model.Address{}, &RecordError{Kind: RejectMissingField, Field: f.name, Line: raw.Line}
		}
	}

	n, err := strconv.Atoi(neighborhood)
	if err != nil || n <= 0 {
		return model.Address{}, &RecordError{Kind: RejectMalformedNumber, Field: "neighborhood", Line: raw.Line, Err: err}
	}

	x, err := strconv.ParseFloat(easting, 64)
	if err != nil {
		return model.Address{}, &RecordError{Kind: RejectMalformedNumber, Field: "easting", Line: raw.Line, Err: err}
	}
	y, err := strconv.ParseFloat(northing, 64)
	if err != nil {
		return model.Address{}, &RecordError{Kind: RejectMalformedNumber, Field: "northing", Line: raw.Line, Err: err}
	}

	lat, lng, err := twd97.ToWGS84(x, y)
	if err != nil {
		return model.Address{}, &RecordError{Kind: RejectInvalidCoordinate, Field: "easting/northing", Line: raw.Line, Err: err}
	}

	if !model.InBounds(lat, lng) {
		return model.Address{}, &RecordError{Kind: RejectOutOfBounds, Field: "easting/northing", Line: raw.Line}
	}

	street := normalizeText(raw.Street)
	area := normalizeText(raw.Area)
	lane := normalizeText(raw.Lane)
	alley := normalizeText(raw.Alley)
	number := normalizeText(raw.Number)

	return model.Address{
		District:     district,
		Village:      village,
		Neighborhood: n,
		Street:       street,
		Area:         area,
		Lane:         lane,
		Alley:        alley,
		Number:       number,
		Latitude:     lat,
		Longitude:    lng,
		FullAddress:  model.ComposeFullAddress(street, area, lane, alley, number),
	}, nil
}

// normalizeText trims, collapses internal runs of whitespace to a single
// space, and folds full-width characters to their half-width
// counterparts (e.g., "１２３" to "123", "　" to " ").
func normalizeText(s string) string {
	if s == "" {
		return ""
	}
	s = width.Narrow.String(s)
	return strings.Join(strings.Fields(s), " ")
}
