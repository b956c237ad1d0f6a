// Package gateway provides a public API for embedding the AOI workflow gateway.
package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"

	"github.com/geovista/aoi-gateway/internal/api"
	"github.com/geovista/aoi-gateway/internal/indices"
	"github.com/geovista/aoi-gateway/internal/metrics"
	"github.com/geovista/aoi-gateway/internal/surface"
	"github.com/geovista/aoi-gateway/internal/workflow"
)

// Options configures the AOI gateway.
type Options struct {
	// UpstreamBaseURL is the indices service base URL (required).
	// Example: "https://api.geovista.example.com"
	UpstreamBaseURL string

	// Timeout is the upstream request timeout.
	// Default: 30s
	Timeout time.Duration

	// Center is the default map viewport center in lon/lat.
	// Default: 69.2401, 41.2995
	Center orb.Point

	// Zoom is the default map zoom level.
	// Default: 12
	Zoom int

	// DefaultCloudCover is the cloud-cover threshold new sessions start with.
	// Default: 20
	DefaultCloudCover int

	// EndDate bounds availability queries.
	// Default: today
	EndDate time.Time

	// SessionTTL is the idle lifetime of a workflow session.
	// Default: 30m
	SessionTTL time.Duration

	// CacheSize is the availability cache capacity. 0 uses the default;
	// a negative value disables caching.
	// Default: 256
	CacheSize int

	// CacheTTL is the availability cache entry lifetime.
	// Default: 10m
	CacheTTL time.Duration

	// EnableMetrics exposes Prometheus metrics on /metrics.
	// Default: false
	EnableMetrics bool

	// Logger is the slog logger to use.
	// Default: slog.Default()
	Logger *slog.Logger
}

// Gateway is an AOI workflow gateway that can be embedded in another application.
type Gateway struct {
	router chi.Router
	store  *workflow.Store
}

// New creates a new AOI gateway with the given options.
func New(opts Options) (*Gateway, error) {
	// Apply defaults
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Center == (orb.Point{}) {
		opts.Center = orb.Point{69.2401, 41.2995}
	}
	if opts.Zoom == 0 {
		opts.Zoom = 12
	}
	if opts.DefaultCloudCover == 0 {
		opts.DefaultCloudCover = 20
	}
	if opts.SessionTTL == 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = 256
	} else if opts.CacheSize < 0 {
		opts.CacheSize = 0
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var m *metrics.Metrics
	if opts.EnableMetrics {
		m = metrics.New()
	}

	client := indices.NewClient(opts.UpstreamBaseURL, opts.Timeout).
		WithLogger(opts.Logger).
		WithMetrics(m)

	controller, err := workflow.NewController(client, workflow.Config{
		Viewport:          surface.Viewport{Center: opts.Center, Zoom: opts.Zoom},
		DefaultCloudCover: opts.DefaultCloudCover,
		EndDate:           opts.EndDate,
		CacheSize:         opts.CacheSize,
		CacheTTL:          opts.CacheTTL,
	}, m, opts.Logger)
	if err != nil {
		return nil, err
	}

	store := workflow.NewStore(opts.SessionTTL, 5*time.Minute, m)

	handlers := api.NewHandlers(controller, store, opts.Logger)

	var metricsHandler http.Handler
	if m != nil {
		metricsHandler = m.Handler()
	}

	router := api.NewRouter(handlers, opts.Logger, metricsHandler)

	return &Gateway{
		router: router,
		store:  store,
	}, nil
}

// Router returns the chi.Router for mounting in another application.
func (g *Gateway) Router() chi.Router {
	return g.router
}

// Close stops background goroutines (session cleanup).
func (g *Gateway) Close() {
	if g.store != nil {
		g.store.Stop()
	}
}
