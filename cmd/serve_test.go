package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/geodata-tw/doorplate/internal/config"
	"github.com/geodata-tw/doorplate/internal/model"
	"github.com/geodata-tw/doorplate/internal/query"
	"github.com/geodata-tw/doorplate/internal/store"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	_, err = s.UpsertAddresses(ctx, []model.Address{
		{District: "東區", Village: "光明里", Neighborhood: 1, Street: "東門路一段", Number: "1號",
			Latitude: 22.9900, Longitude: 120.2100, FullAddress: "東門路一段1號"},
		{District: "東區", Village: "光明里", Neighborhood: 2, Street: "崇學路", Number: "10號",
			Latitude: 22.9700, Longitude: 120.2200, FullAddress: "崇學路10號"},
	})
	require.NoError(t, err)
	require.NoError(t, s.RebuildStats(ctx))

	api := newAPI(query.New(s, config.QueryConfig{}))

	r := chi.NewRouter()
	r.Get("/api/health", api.health)
	r.Get("/api/districts", api.districts)
	r.Get("/api/districts/{district}/villages", api.villages)
	r.Get("/api/districts/{district}/villages/{village}/neighborhoods", api.neighborhoods)
	r.Get("/api/stats", api.stats)
	r.Get("/api/stats/overview", api.overview)
	r.Get("/api/neighborhood", api.neighborhoodAddresses)
	r.Get("/api/addresses", api.search)
	r.Get("/api/addresses/nearby", api.nearby)
	return r
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServeHealth(t *testing.T) {
	rec := get(t, newTestRouter(t), "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServeHierarchyRoutes(t *testing.T) {
	h := newTestRouter(t)

	rec := get(t, h, "/api/districts")
	assert.Equal(t, http.StatusOK, rec.Code)
	var districts []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &districts))
	assert.Equal(t, []string{"東區"}, districts)

	rec = get(t, h, "/api/districts/東區/villages")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, h, "/api/districts/東區/villages/光明里/neighborhoods")
	assert.Equal(t, http.StatusOK, rec.Code)
	var neighborhoods []int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &neighborhoods))
	assert.Equal(t, []int{1, 2}, neighborhoods)
}

func TestServeNotFound(t *testing.T) {
	rec := get(t, newTestRouter(t), "/api/districts/不存在區/villages")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestServeStats(t *testing.T) {
	h := newTestRouter(t)

	rec := get(t, h, "/api/stats?district=東區")
	assert.Equal(t, http.StatusOK, rec.Code)
	var st model.AddressStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 2, st.AddressCount)

	rec = get(t, h, "/api/stats/overview")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Missing district is a caller error.
	rec = get(t, h, "/api/stats")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeNeighborhoodDetail(t *testing.T) {
	h := newTestRouter(t)

	rec := get(t, h, "/api/neighborhood?district=東區&village=光明里&neighborhood=1")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Stats     *model.AddressStats `json:"stats"`
		Addresses []model.Address     `json:"addresses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Stats)
	assert.Len(t, body.Addresses, 1)

	rec = get(t, h, "/api/neighborhood?district=東區&village=光明里&neighborhood=42")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeSearch(t *testing.T) {
	rec := get(t, newTestRouter(t), "/api/addresses?keyword=東門路")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Items      []model.Address  `json:"items"`
		Pagination model.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Items, 1)
	assert.Equal(t, 1, body.Pagination.Total)
}

func TestServeNearby(t *testing.T) {
	h := newTestRouter(t)

	rec := get(t, h, "/api/addresses/nearby?lat=22.99&lng=120.21&radius=500")
	assert.Equal(t, http.StatusOK, rec.Code)
	var out []model.AddressDistance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out, 1)

	rec = get(t, h, "/api/addresses/nearby?lat=abc&lng=120.21")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, h, "/api/addresses/nearby?lat=99&lng=120.21&radius=500")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	limited := rateLimit(rate.Limit(1), 2)(inner)

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1])
	assert.Contains(t, codes[2:], http.StatusTooManyRequests)
}
