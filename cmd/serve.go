package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/geodata-tw/doorplate/internal/query"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the address query API over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		svc := query.New(s, cfg.Query)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.AllowOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			MaxAge:         300,
		}))
		r.Use(rateLimit(rate.Limit(cfg.Server.RatePerSecond), cfg.Server.RateBurst))

		api := newAPI(svc)
		r.Get("/api/health", api.health)
		r.Get("/api/districts", api.districts)
		r.Get("/api/districts/{district}/villages", api.villages)
		r.Get("/api/districts/{district}/villages/{village}/neighborhoods", api.neighborhoods)
		r.Get("/api/stats", api.stats)
		r.Get("/api/stats/overview", api.overview)
		r.Get("/api/neighborhood", api.neighborhoodAddresses)
		r.Get("/api/addresses", api.search)
		r.Get("/api/addresses/nearby", api.nearby)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// rateLimit applies a shared token bucket to every request.
func rateLimit(limit rate.Limit, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(limit, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type apiHandlers struct {
	svc *query.Service
}

func newAPI(svc *query.Service) *apiHandlers {
	return &apiHandlers{svc: svc}
}

func (a *apiHandlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *apiHandlers) districts(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.Districts(r.Context())
	respond(w, out, err)
}

func (a *apiHandlers) villages(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.Villages(r.Context(), chi.URLParam(r, "district"))
	respond(w, out, err)
}

func (a *apiHandlers) neighborhoods(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.Neighborhoods(r.Context(),
		chi.URLParam(r, "district"), chi.URLParam(r, "village"))
	respond(w, out, err)
}

func (a *apiHandlers) stats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	neighborhood, _ := strconv.Atoi(q.Get("neighborhood"))
	out, err := a.svc.Stats(r.Context(), q.Get("district"), q.Get("village"), neighborhood)
	respond(w, out, err)
}

func (a *apiHandlers) overview(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.Overview(r.Context())
	respond(w, out, err)
}

func (a *apiHandlers) neighborhoodAddresses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	neighborhood, _ := strconv.Atoi(q.Get("neighborhood"))
	out, err := a.svc.NeighborhoodDetail(r.Context(),
		q.Get("district"), q.Get("village"), neighborhood)
	respond(w, out, err)
}

func (a *apiHandlers) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))

	items, pg, err := a.svc.Search(r.Context(), query.SearchRequest{
		Keyword:  q.Get("keyword"),
		District: q.Get("district"),
		Village:  q.Get("village"),
		Page:     page,
		PerPage:  perPage,
	})
	if err != nil {
		respond(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"pagination": pg,
	})
}

func (a *apiHandlers) nearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(w, http.StatusBadRequest, "lat and lng must be numbers")
		return
	}
	radius, err := strconv.ParseFloat(q.Get("radius"), 64)
	if err != nil {
		radius = 500
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	out, err := a.svc.Nearby(r.Context(), lat, lng, radius, limit)
	respond(w, out, err)
}

// respond maps query service sentinels onto HTTP statuses.
func respond(w http.ResponseWriter, payload any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, payload)
		return
	}

	switch {
	case eris.Is(err, query.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case eris.Is(err, query.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case eris.Is(err, query.ErrQueryTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
