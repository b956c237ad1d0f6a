// Package workflow implements the area-of-interest workflow controller:
// draw session → AOI → availability query → result fetch → legended
// render state. One Session holds the state the browser widget would
// otherwise scatter across ad hoc flags.
package workflow

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geovista/aoi-gateway/internal/geom"
	"github.com/geovista/aoi-gateway/internal/indices"
	"github.com/geovista/aoi-gateway/internal/legend"
	"github.com/geovista/aoi-gateway/internal/surface"
)

// Workflow preconditions and guards, surfaced to the user as validation
// or conflict errors.
var (
	ErrNotDrawing       = errors.New("no draw session is active")
	ErrNoAOI            = errors.New("no area of interest has been drawn")
	ErrNoIndex          = errors.New("no index selected")
	ErrNoDate           = errors.New("no date selected")
	ErrDateUnavailable  = errors.New("selected date is not in the available date set")
	ErrFetchInFlight    = errors.New("a result fetch is already in flight")
	ErrAOIChanged       = errors.New("area of interest changed while the fetch was in flight")
	ErrInvalidThreshold = errors.New("cloud cover threshold must be between 0 and 100")
)

// DrawState is the draw session state machine. Completed is transient:
// a completed ring immediately returns the session to Idle, with the
// capture interaction still attached.
type DrawState int

const (
	DrawIdle DrawState = iota
	Drawing
)

func (d DrawState) String() string {
	if d == Drawing {
		return "drawing"
	}
	return "idle"
}

// RenderState is what the most recent completed fetch put on the map:
// the AOI it was fetched for, the classified feature batch, the legend,
// and the base layer it was rendered over. A new draw or an explicit
// clear discards all of it.
type RenderState struct {
	Index     indices.Index
	Date      time.Time
	AOI       geom.AOI
	Features  []indices.ClassifiedFeature
	Legend    []legend.Entry
	BaseLayer surface.BaseLayerKind
}

// Rendered reports whether a fetch has completed since the last reset.
func (r *RenderState) Rendered() bool {
	return r.Index != ""
}

// Session is one widget's workflow state. All mutation goes through the
// controller, which serializes access with the session mutex.
type Session struct {
	mu sync.Mutex

	id      string
	surface *surface.Surface

	draw       DrawState
	aoi        geom.AOI
	cloudCover int
	dates      []time.Time
	render     RenderState

	// availSeq orders availability requests so that a late-arriving
	// response to a superseded request is never applied.
	availSeq atomic.Uint64

	fetchInFlight bool
}

// ID returns the session token.
func (s *Session) ID() string {
	return s.id
}

// State is a point-in-time snapshot of a session, shaped for the API.
type State struct {
	ID         string                `json:"id"`
	BaseLayer  surface.BaseLayerKind `json:"base_layer"`
	Viewport   surface.Viewport      `json:"viewport"`
	DrawState  string                `json:"draw_state"`
	HasAOI     bool                  `json:"has_aoi"`
	CloudCover int                   `json:"cloud_cover"`
	Dates      []string              `json:"dates"`
	Rendered   *RenderSummary        `json:"rendered,omitempty"`
}

// RenderSummary describes the current render state without the
// geometry payload.
type RenderSummary struct {
	Index        indices.Index  `json:"index"`
	Date         string         `json:"date"`
	FeatureCount int            `json:"feature_count"`
	Legend       []legend.Entry `json:"legend"`
}

func formatDates(dates []time.Time) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format(indices.DateFormat)
	}
	return out
}
