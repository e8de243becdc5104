package boundary

import (
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// A small square in projected TWD97 coordinates around central Tainan.
func tainanSquare() *shp.Polygon {
	return &shp.Polygon{
		NumParts: 1,
		Parts:    []int32{0},
		Points: []shp.Point{
			{X: 167000, Y: 2544000},
			{X: 167000, Y: 2545000},
			{X: 168000, Y: 2545000},
			{X: 168000, Y: 2544000},
			{X: 167000, Y: 2544000},
		},
	}
}

func TestEncodeMultiPolygon(t *testing.T) {
	data, err := encodeMultiPolygon(tainanSquare())
	require.NoError(t, err)
	require.NotNil(t, data)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)

	mp, ok := g.(*geom.MultiPolygon)
	require.True(t, ok)
	assert.Equal(t, 4326, mp.SRID())
	require.Equal(t, 1, mp.NumPolygons())

	// Every vertex was reprojected into WGS84 near Tainan.
	coords := mp.Polygon(0).LinearRing(0).Coords()
	require.Len(t, coords, 5)
	for _, c := range coords {
		assert.InDelta(t, 120.2, c[0], 0.1, "longitude")
		assert.InDelta(t, 23.0, c[1], 0.1, "latitude")
	}
}

func TestEncodeMultiPolygonMultiPart(t *testing.T) {
	p := tainanSquare()
	p.NumParts = 2
	p.Parts = []int32{0, 5}
	p.Points = append(p.Points,
		shp.Point{X: 170000, Y: 2546000},
		shp.Point{X: 170000, Y: 2546500},
		shp.Point{X: 170500, Y: 2546500},
		shp.Point{X: 170500, Y: 2546000},
		shp.Point{X: 170000, Y: 2546000},
	)

	data, err := encodeMultiPolygon(p)
	require.NoError(t, err)
	require.NotNil(t, data)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	mp := g.(*geom.MultiPolygon)
	assert.Equal(t, 2, mp.NumPolygons())
}

func TestEncodeMultiPolygonDegenerate(t *testing.T) {
	data, err := encodeMultiPolygon(nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = encodeMultiPolygon(&shp.Polygon{})
	require.NoError(t, err)
	assert.Nil(t, data)

	// A three-vertex part cannot close a ring and is dropped.
	data, err = encodeMultiPolygon(&shp.Polygon{
		NumParts: 1,
		Parts:    []int32{0},
		Points: []shp.Point{
			{X: 167000, Y: 2544000},
			{X: 167500, Y: 2544500},
			{X: 167000, Y: 2544000},
		},
	})
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestEncodeMultiPolygonRejectsOutOfZone(t *testing.T) {
	_, err := encodeMultiPolygon(&shp.Polygon{
		NumParts: 1,
		Parts:    []int32{0},
		Points: []shp.Point{
			{X: 99999999, Y: 2544000},
			{X: 99999999, Y: 2545000},
			{X: 99999998, Y: 2545000},
			{X: 99999999, Y: 2544000},
		},
	})
	require.Error(t, err)
}
