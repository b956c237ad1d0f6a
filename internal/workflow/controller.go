package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/geovista/aoi-gateway/internal/geom"
	"github.com/geovista/aoi-gateway/internal/indices"
	"github.com/geovista/aoi-gateway/internal/legend"
	"github.com/geovista/aoi-gateway/internal/metrics"
	"github.com/geovista/aoi-gateway/internal/surface"
)

// Result polygons share one fixed stroke; only the fill varies by class.
const (
	strokeColor = "#333333"
	strokeWidth = 1
)

// Config carries the controller's fixed parameters.
type Config struct {
	// Viewport is the default camera for new surfaces.
	Viewport surface.Viewport

	// DefaultCloudCover is the threshold a new session starts with.
	DefaultCloudCover int

	// EndDate bounds availability queries. Zero means "today".
	EndDate time.Time

	// CacheSize and CacheTTL size the availability response cache.
	// CacheSize 0 disables caching.
	CacheSize int
	CacheTTL  time.Duration
}

// Controller drives workflow sessions against the indices service.
type Controller struct {
	svc     indices.Service
	cache   *availabilityCache
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     Config
}

// NewController creates a controller. metrics may be nil.
func NewController(svc indices.Service, cfg Config, m *metrics.Metrics, logger *slog.Logger) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var cache *availabilityCache
	if cfg.CacheSize > 0 {
		var err error
		cache, err = newAvailabilityCache(cfg.CacheSize, cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create availability cache: %w", err)
		}
	}

	return &Controller{
		svc:     svc,
		cache:   cache,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
	}, nil
}

// NewSession constructs a fresh workflow session over a new map surface.
func (c *Controller) NewSession(kind surface.BaseLayerKind) *Session {
	return &Session{
		surface:    surface.New(kind, c.cfg.Viewport),
		cloudCover: c.cfg.DefaultCloudCover,
	}
}

// StartDraw transitions Idle→Drawing and attaches the capture
// interaction. A session whose surface is missing is left untouched.
func (c *Controller) StartDraw(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.surface == nil {
		return
	}
	s.surface.AttachDraw()
	s.draw = Drawing
}

// StopDraw transitions any state to Idle and detaches the interaction.
// Safe to call when already idle.
func (c *Controller) StopDraw(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.draw = DrawIdle
	if s.surface != nil {
		s.surface.DetachDraw()
	}
}

// CompleteDraw finishes a draw session with the captured ring, given in
// the map's projected coordinates (EPSG:3857). The ring is converted to
// a geographic AOI, replaces any prior AOI wholesale, and triggers an
// availability refresh with the session's current threshold. The draw
// session returns to Idle with the interaction still attached, so a new
// ring restarts capture.
func (c *Controller) CompleteDraw(ctx context.Context, s *Session, ring orb.Ring) ([]time.Time, error) {
	s.mu.Lock()

	if s.draw != Drawing {
		s.mu.Unlock()
		return nil, ErrNotDrawing
	}

	aoi, err := geom.FromProjectedRing(ring)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("invalid drawn ring: %w", err)
	}

	s.aoi = aoi
	s.render = RenderState{}
	s.dates = nil

	drawn := geojson.NewFeature(orb.Polygon{ring})
	drawn.Properties = geojson.Properties{"kind": "aoi"}
	s.surface.Overlay().SetFeatures([]*geojson.Feature{drawn})

	s.draw = DrawIdle
	threshold := s.cloudCover
	s.mu.Unlock()

	return c.refreshAvailability(ctx, s, aoi, threshold)
}

// Clear removes all overlay geometry and resets the AOI, the available
// date set and the render state. Always safe; the session can start a
// new draw immediately.
func (c *Controller) Clear(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.surface != nil {
		s.surface.Overlay().Clear()
	}
	s.aoi = geom.AOI{}
	s.dates = nil
	s.render = RenderState{}
	s.draw = DrawIdle

	// Supersede any in-flight availability refresh so a late response
	// cannot repopulate the date set of a cleared session.
	s.availSeq.Add(1)
}

// SetCloudCover updates the threshold and, when an AOI exists,
// re-triggers the availability query. Without an AOI it is a no-op
// beyond storing the threshold.
func (c *Controller) SetCloudCover(ctx context.Context, s *Session, threshold int) ([]time.Time, error) {
	if threshold < 0 || threshold > 100 {
		return nil, ErrInvalidThreshold
	}

	s.mu.Lock()
	s.cloudCover = threshold
	aoi := s.aoi
	s.mu.Unlock()

	if aoi.IsZero() {
		return nil, nil
	}
	return c.refreshAvailability(ctx, s, aoi, threshold)
}

// refreshAvailability issues one availability request and applies the
// result only if no later request has been issued for the session in
// the meantime: the last-triggered request wins, late responses to
// superseded requests are discarded.
func (c *Controller) refreshAvailability(ctx context.Context, s *Session, aoi geom.AOI, threshold int) ([]time.Time, error) {
	seq := s.availSeq.Add(1)

	endDate := c.cfg.EndDate
	if endDate.IsZero() {
		endDate = time.Now().UTC().Truncate(24 * time.Hour)
	}

	var (
		dates []time.Time
		key   string
		hit   bool
	)
	if c.cache != nil {
		key = availabilityKey(aoi, threshold, endDate)
		dates, hit = c.cache.get(key)
		if c.metrics != nil {
			c.metrics.AvailabilityCache.WithLabelValues(cacheResult(hit)).Inc()
		}
	}

	if !hit {
		var err error
		dates, err = c.svc.Availability(ctx, indices.AvailabilityRequest{
			AOI:        aoi,
			CloudCover: threshold,
			EndDate:    endDate,
		})
		if err != nil {
			// The previous date set stays untouched.
			return nil, fmt.Errorf("availability query failed: %w", err)
		}
		if c.cache != nil {
			c.cache.put(key, dates)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.availSeq.Load() {
		if c.metrics != nil {
			c.metrics.StaleAvailabilityDrops.Inc()
		}
		c.logger.Debug("discarding superseded availability response",
			slog.Uint64("seq", seq),
			slog.Uint64("latest", s.availSeq.Load()),
		)
		return append([]time.Time(nil), s.dates...), nil
	}

	s.dates = dates
	return append([]time.Time(nil), dates...), nil
}

func cacheResult(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// FetchAndRender turns (index, date, AOI) into rendered, legended map
// geometry. Preconditions: an AOI exists and the date is in the current
// available date set. Drawing and fetching are mutually exclusive: any
// active draw session is stopped on entry. At most one fetch per
// session is in flight; a concurrent call is rejected.
func (c *Controller) FetchAndRender(ctx context.Context, s *Session, index indices.Index, date time.Time) (*RenderState, error) {
	s.mu.Lock()

	if s.aoi.IsZero() {
		s.mu.Unlock()
		return nil, ErrNoAOI
	}
	if index == "" {
		s.mu.Unlock()
		return nil, ErrNoIndex
	}
	if date.IsZero() {
		s.mu.Unlock()
		return nil, ErrNoDate
	}
	if !containsDate(s.dates, date) {
		s.mu.Unlock()
		return nil, ErrDateUnavailable
	}
	if s.fetchInFlight {
		s.mu.Unlock()
		if c.metrics != nil {
			c.metrics.FetchConflicts.Inc()
		}
		return nil, ErrFetchInFlight
	}
	s.fetchInFlight = true

	s.draw = DrawIdle
	s.surface.DetachDraw()

	aoi := s.aoi
	s.mu.Unlock()

	// The flag must clear even if the service implementation panics,
	// or the session would reject every later fetch.
	defer func() {
		s.mu.Lock()
		s.fetchInFlight = false
		s.mu.Unlock()
	}()

	result, err := c.svc.Classify(ctx, indices.ClassifyRequest{
		Index: index,
		Date:  date,
		AOI:   aoi,
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		// Nothing is drawn or changed on failure.
		return nil, fmt.Errorf("result fetch failed: %w", err)
	}

	// A clear or a new draw may have landed while the request was in
	// flight; the result belongs to an AOI the session no longer holds.
	if s.aoi.IsZero() || !s.aoi.Ring.Equal(aoi.Ring) {
		c.logger.Debug("discarding fetch result for a superseded area of interest",
			slog.String("session", s.id),
			slog.String("index", string(index)),
		)
		return nil, ErrAOIChanged
	}

	leg := result.Legend
	if leg == nil {
		leg = legend.Build(result.Classes())
	}
	fill := make(map[int]string, len(leg))
	for _, e := range leg {
		fill[e.Class] = e.Color
	}

	styled := make([]*geojson.Feature, 0, len(result.Features))
	for _, cf := range result.Features {
		f := geojson.NewFeature(geom.ToMercator(cf.Geometry))
		props := geojson.Properties{}
		for k, v := range cf.Properties {
			props[k] = v
		}
		color, ok := fill[cf.Class]
		if !ok {
			color = legend.ColorFor(cf.Class)
		}
		props["class"] = cf.Class
		props["fill"] = color
		props["stroke"] = strokeColor
		props["stroke_width"] = strokeWidth
		f.Properties = props
		styled = append(styled, f)
	}

	// Prior result geometry (and the drawn outline) is replaced in one
	// step, never appended to.
	s.surface.Overlay().SetFeatures(styled)

	s.render = RenderState{
		Index:     index,
		Date:      date,
		AOI:       aoi,
		Features:  result.Features,
		Legend:    leg,
		BaseLayer: s.surface.Base().Kind,
	}

	c.logger.Info("rendered classification",
		slog.String("session", s.id),
		slog.String("index", string(index)),
		slog.String("date", date.Format(indices.DateFormat)),
		slog.Int("feature_count", len(result.Features)),
	)

	render := s.render
	return &render, nil
}

// SetBaseLayer tears down and rebuilds the surface for the new kind.
// Rendered result geometry carries over to the new overlay, and an
// attached draw interaction is rebound. An empty kind flips between
// satellite and street.
func (c *Controller) SetBaseLayer(s *Session, kind surface.BaseLayerKind) surface.BaseLayerKind {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kind == "" {
		if s.surface.Base().Kind == surface.BaseSatellite {
			kind = surface.BaseStreet
		} else {
			kind = surface.BaseSatellite
		}
	}

	s.surface.Rebuild(kind)
	if s.render.Rendered() {
		s.render.BaseLayer = kind
	}
	return kind
}

// Overlay returns the overlay contents as a GeoJSON FeatureCollection
// in the map's projected coordinates.
func (c *Controller) Overlay(s *Session) *geojson.FeatureCollection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface.Overlay().FeatureCollection()
}

// Snapshot returns the session state shaped for the API.
func (c *Controller) Snapshot(s *Session) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		ID:         s.id,
		BaseLayer:  s.surface.Base().Kind,
		Viewport:   s.surface.Viewport(),
		DrawState:  s.draw.String(),
		HasAOI:     !s.aoi.IsZero(),
		CloudCover: s.cloudCover,
		Dates:      formatDates(s.dates),
	}
	if s.render.Rendered() {
		st.Rendered = &RenderSummary{
			Index:        s.render.Index,
			Date:         s.render.Date.Format(indices.DateFormat),
			FeatureCount: len(s.render.Features),
			Legend:       s.render.Legend,
		}
	}
	return st
}

// Dates returns the current available date set.
func (c *Controller) Dates(s *Session) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.dates...)
}

func containsDate(dates []time.Time, date time.Time) bool {
	y, m, d := date.UTC().Date()
	for _, have := range dates {
		hy, hm, hd := have.UTC().Date()
		if y == hy && m == hm && d == hd {
			return true
		}
	}
	return false
}
