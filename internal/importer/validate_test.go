package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodata-tw/doorplate/internal/model"
)

// A projected coordinate pair in central Tainan.
func validRaw() model.RawRecord {
	return model.RawRecord{
		District:     "東區",
		Village:      "光明里",
		Neighborhood: "12",
		Street:       "東門路一段",
		Number:       "1號",
		Easting:      "167816",
		Northing:     "2544901",
		Line:         2,
	}
}

func TestValidateAccepts(t *testing.T) {
	addr, err := Validate(validRaw())
	require.NoError(t, err)

	assert.Equal(t, "東區", addr.District)
	assert.Equal(t, "光明里", addr.Village)
	assert.Equal(t, 12, addr.Neighborhood)
	assert.Equal(t, "東門路一段1號", addr.FullAddress)
	assert.InDelta(t, 23.0, addr.Latitude, 0.05)
	assert.InDelta(t, 120.2, addr.Longitude, 0.05)
	assert.True(t, model.InBounds(addr.Latitude, addr.Longitude))
}

func TestValidateMissingFields(t *testing.T) {
	for _, tc := range []struct {
		name  string
		mut   func(*model.RawRecord)
		field string
	}{
		{"district", func(r *model.RawRecord) { r.District = "" }, "district"},
		{"village", func(r *model.RawRecord) { r.Village = "  " }, "village"},
		{"neighborhood", func(r *model.RawRecord) { r.Neighborhood = "" }, "neighborhood"},
		{"easting", func(r *model.RawRecord) { r.Easting = "" }, "easting"},
		{"northing", func(r *model.RawRecord) { r.Northing = "" }, "northing"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			raw := validRaw()
			tc.mut(&raw)
			_, err := Validate(raw)
			require.Error(t, err)
			assert.Equal(t, RejectMissingField, KindOf(err))

			var re *RecordError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tc.field, re.Field)
			assert.Equal(t, 2, re.Line)
		})
	}
}

func TestValidateMalformedNumbers(t *testing.T) {
	for _, tc := range []struct {
		name string
		mut  func(*model.RawRecord)
	}{
		{"neighborhood text", func(r *model.RawRecord) { r.Neighborhood = "abc" }},
		{"neighborhood zero", func(r *model.RawRecord) { r.Neighborhood = "0" }},
		{"neighborhood negative", func(r *model.RawRecord) { r.Neighborhood = "-3" }},
		{"easting text", func(r *model.RawRecord) { r.Easting = "12a3" }},
		{"northing text", func(r *model.RawRecord) { r.Northing = "north" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			raw := validRaw()
			tc.mut(&raw)
			_, err := Validate(raw)
			require.Error(t, err)
			assert.Equal(t, RejectMalformedNumber, KindOf(err))
		})
	}
}

func TestValidateOutOfBounds(t *testing.T) {
	// A legitimate projection result far north of the service area.
	raw := validRaw()
	raw.Northing = "2900000"
	_, err := Validate(raw)
	require.Error(t, err)
	assert.Equal(t, RejectOutOfBounds, KindOf(err))
}

func TestValidateInvalidCoordinate(t *testing.T) {
	raw := validRaw()
	raw.Easting = "99999999"
	_, err := Validate(raw)
	require.Error(t, err)
	assert.Equal(t, RejectInvalidCoordinate, KindOf(err))
}

func TestValidateFoldsFullWidth(t *testing.T) {
	raw := validRaw()
	raw.Neighborhood = "１２"
	raw.Number = "１號"

	addr, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, 12, addr.Neighborhood)
	assert.Equal(t, "1號", addr.Number)
}

func TestNormalizeText(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"", ""},
		{"  東區  ", "東區"},
		{"東　區", "東 區"},
		{"ＡＢＣ１２３", "ABC123"},
		{"a \t b", "a b"},
	} {
		assert.Equal(t, tc.want, normalizeText(tc.in), "input %q", tc.in)
	}
}

func TestKindOfUnrelatedError(t *testing.T) {
	assert.Equal(t, RejectKind(""), KindOf(assert.AnError))
	assert.Equal(t, RejectKind(""), KindOf(nil))
}
