// ABOUTME: HTTP server struct, constructor, and handler wiring for metagram.
// ABOUTME: Holds the store, job queue and config used by the JSON API handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/metagram-net/metagram.net-sub000/internal/config"
	"github.com/metagram-net/metagram.net-sub000/internal/queue"
	"github.com/metagram-net/metagram.net-sub000/internal/store"
)

// Per-IP API budget: a sustained 2 requests per second with bursts of 60.
const (
	apiRateLimit = rate.Limit(2)
	apiRateBurst = 60
)

// Server holds the dependencies for the HTTP layer.
type Server struct {
	store       *store.Store
	queue       *queue.Queue
	cfg         *config.Config
	rateLimiter *ipRateLimiter
	now         func() time.Time
}

// NewServer creates a Server. s may be nil only in tests that don't need a DB
// (healthz will report degraded). Call Close when the server is done.
func NewServer(s *store.Store, q *queue.Queue, cfg *config.Config) *Server {
	evictTTL := cfg.RateLimitEvictTTL
	if evictTTL == 0 {
		evictTTL = 15 * time.Minute
	}
	return &Server{
		store:       s,
		queue:       q,
		cfg:         cfg,
		rateLimiter: newIPRateLimiter(apiRateLimit, apiRateBurst, evictTTL),
		now:         time.Now,
	}
}

// Close stops background goroutines owned by the server.
func (srv *Server) Close() {
	srv.rateLimiter.Stop()
}

// Handler builds and returns the http.Handler.
func (srv *Server) Handler() http.Handler {
	var db *pgxpool.Pool
	if srv.store != nil {
		db = srv.store.Pool()
	}
	r := chi.NewRouter()

	// ── Security headers ──────────────────────────────────────────────────────
	// Must be first so they appear on every response including errors.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	})

	// ── Standard chi middleware ───────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// 1 MB global body limit.
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(middleware.Recoverer)

	// ── Infrastructure endpoints ──────────────────────────────────────────────
	r.Get("/healthz", healthzHandler(db))
	r.Handle("/metrics", promhttp.Handler())

	// ── API v1 sub-router with huma (OpenAPI 3.1) ────────────────────────────
	// Middleware must be attached before humachi registers any route.
	apiRouter := chi.NewRouter()
	apiRouter.Use(srv.apiRateLimit())
	apiRouter.Use(srv.RequireAuthenticated())
	humaConfig := huma.DefaultConfig("metagram API", "1.0.0")
	humaConfig.Info.Description = "Drops, hydrants, streams and the background job queue"
	api := humachi.New(apiRouter, humaConfig)
	registerUserRoutes(api, srv)
	registerTagRoutes(api, srv)
	registerDropRoutes(api, srv)
	registerHydrantRoutes(api, srv)
	registerStreamRoutes(api, srv)
	registerJobRoutes(api, srv)

	r.Mount("/api/v1", apiRouter)

	return r
}

// healthResponse is the JSON body for /healthz.
type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db,omitempty"`
}

// healthzHandler returns 200 {"status":"ok"} when the DB is reachable,
// or 503 {"status":"degraded","db":"unavailable"} when it is not.
func healthzHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		statusCode := http.StatusOK

		if db == nil {
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		} else if err := db.Ping(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "healthz: db ping failed", "error", err)
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.ErrorContext(r.Context(), "healthz: failed to encode response", "error", err)
		}
	}
}

// storeError maps store sentinels to HTTP errors. Anything else is logged
// and reported as a 500 without detail.
func storeError(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return huma.Error404NotFound("not found")
	case errors.Is(err, store.ErrDuplicate):
		return huma.Error409Conflict("already exists")
	}
	slog.ErrorContext(ctx, op, "error", err)
	return huma.Error500InternalServerError("internal error")
}

// parseID parses a path or body id. huma validates format:"uuid" first, so
// a failure here is a client error.
func parseID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, huma.Error422UnprocessableEntity("invalid " + field)
	}
	return id, nil
}
