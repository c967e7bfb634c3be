// Package api serves the hub over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/m-mizutani/ctxlog"

	"github.com/anita2210/flu-forecast-hub/hub"
	"github.com/anita2210/flu-forecast-hub/ili"
)

// Service is the query surface the handlers need. *hub.Service satisfies it.
type Service interface {
	ResolveRegion(region string) string
	Status(ctx context.Context) hub.StatusDTO
	Recent(ctx context.Context, region string, limit int) (*hub.RecentDTO, error)
	Forecast(ctx context.Context, region string, horizon int) (*hub.ForecastDTO, error)
	Summary(ctx context.Context, region string, start, end time.Time) (*hub.SummaryDTO, error)
	Seasonal(ctx context.Context, region string) ([]hub.SeasonalDTO, error)
	WeeklyAverages(ctx context.Context, region string) ([]hub.WeeklyDTO, error)
	Ingest(ctx context.Context, rows []ili.RawRow) (*hub.IngestReport, error)
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	// MaxBodyBytes bounds ingest payloads; 0 uses 8 MiB.
	MaxBodyBytes int64
}

const defaultMaxBody = 8 << 20

// NewRouter returns the HTTP handler for svc. Request loggers derive from
// the logger carried by ctx.
func NewRouter(ctx context.Context, svc Service, opts Options) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	h := &handler{svc: svc, maxBody: opts.MaxBodyBytes}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(ctx))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/data", h.data)
		r.Get("/forecast", h.forecast)
		r.Get("/stats", h.stats)
		r.Get("/seasonal", h.seasonal)
		r.Get("/weekly", h.weekly)
		r.Post("/ingest", h.ingest)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, &requestError{status: http.StatusNotFound, code: "not_found", msg: "no such endpoint"})
	})
	return r
}

// NewServer wraps handler in an http.Server listening on addr.
func NewServer(addr string, handler http.Handler, readTimeout time.Duration) *http.Server {
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ctxlog.From(r.Context()).Error("failed to encode response", "error", err)
	}
}
