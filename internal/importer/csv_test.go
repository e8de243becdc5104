package importer

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `區,村里,鄰,街、路段,地區,巷,弄,號,橫座標,縱座標
東區,光明里,1,東門路一段,,,,1號,167816,2544901
東區,光明里,2,崇學路,,,,10號,168901,2542500
`

func TestRecordReaderReadsRows(t *testing.T) {
	rr, err := NewRecordReader(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	first, err := rr.Next()
	require.NoError(t, err)
	assert.Equal(t, "東區", first.District)
	assert.Equal(t, "光明里", first.Village)
	assert.Equal(t, "1", first.Neighborhood)
	assert.Equal(t, "東門路一段", first.Street)
	assert.Equal(t, "1號", first.Number)
	assert.Equal(t, "167816", first.Easting)
	assert.Equal(t, "2544901", first.Northing)
	assert.Equal(t, 2, first.Line)

	second, err := rr.Next()
	require.NoError(t, err)
	assert.Equal(t, "崇學路", second.Street)
	assert.Equal(t, 3, second.Line)

	_, err = rr.Next()
	assert.Equal(t, io.EOF, err)
}

func TestRecordReaderHeaderOrderInsensitive(t *testing.T) {
	shuffled := "縱座標,橫座標,號,鄰,村里,區\n2544901,167816,1號,1,光明里,東區\n"
	rr, err := NewRecordReader(strings.NewReader(shuffled))
	require.NoError(t, err)

	rec, err := rr.Next()
	require.NoError(t, err)
	assert.Equal(t, "東區", rec.District)
	assert.Equal(t, "1", rec.Neighborhood)
	assert.Equal(t, "167816", rec.Easting)
	// Columns absent from the file come back empty.
	assert.Empty(t, rec.Street)
}

func TestRecordReaderStripsBOM(t *testing.T) {
	rr, err := NewRecordReader(strings.NewReader("\uFEFF" + sampleCSV))
	require.NoError(t, err)

	rec, err := rr.Next()
	require.NoError(t, err)
	assert.Equal(t, "東區", rec.District)
}

func TestRecordReaderMissingRequiredColumn(t *testing.T) {
	noVillage := "區,鄰,橫座標,縱座標\n東區,1,167816,2544901\n"
	_, err := NewRecordReader(strings.NewReader(noVillage))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "village")
}

func TestRecordReaderEmptyInput(t *testing.T) {
	_, err := NewRecordReader(strings.NewReader(""))
	require.Error(t, err)
}

func TestRecordReaderShortRow(t *testing.T) {
	short := sampleCSV + "南區,新生里\n"
	rr, err := NewRecordReader(strings.NewReader(short))
	require.NoError(t, err)

	_, err = rr.Next()
	require.NoError(t, err)
	_, err = rr.Next()
	require.NoError(t, err)

	// Ragged row: missing trailing columns read as empty fields, left
	// for validation to reject.
	rec, err := rr.Next()
	require.NoError(t, err)
	assert.Equal(t, "南區", rec.District)
	assert.Empty(t, rec.Easting)
}
