// Package surface models the map viewport: a base imagery layer and the
// single mutable overlay layer that holds both drawn and result
// geometry. Layers are addressed through named handles, never by
// position in a layer list.
package surface

import (
	"fmt"
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// BaseLayerKind selects the background imagery.
type BaseLayerKind string

const (
	BaseSatellite BaseLayerKind = "satellite"
	BaseStreet    BaseLayerKind = "street"
)

// ParseBaseLayerKind validates a user-supplied base layer name.
func ParseBaseLayerKind(s string) (BaseLayerKind, error) {
	switch BaseLayerKind(s) {
	case BaseSatellite, BaseStreet:
		return BaseLayerKind(s), nil
	case "":
		return BaseSatellite, nil
	default:
		return "", fmt.Errorf("unknown base layer %q, expected satellite or street", s)
	}
}

// Viewport is the fixed default camera for a new surface.
type Viewport struct {
	Center orb.Point `json:"center"` // lon/lat
	Zoom   int       `json:"zoom"`
}

var layerSeq atomic.Uint64

func nextLayerID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, layerSeq.Add(1))
}

// BaseLayer is the named handle for the background imagery layer.
type BaseLayer struct {
	ID   string        `json:"id"`
	Kind BaseLayerKind `json:"kind"`
}

// Overlay is the named handle for the single mutable vector layer. The
// workflow session is the only component allowed to hold a reference.
type Overlay struct {
	ID       string
	features []*geojson.Feature
}

// SetFeatures replaces the overlay contents atomically.
func (o *Overlay) SetFeatures(features []*geojson.Feature) {
	o.features = features
}

// Append adds one feature, used for the in-progress drawn shape.
func (o *Overlay) Append(f *geojson.Feature) {
	o.features = append(o.features, f)
}

// Clear removes all geometry.
func (o *Overlay) Clear() {
	o.features = nil
}

// Features returns the current contents.
func (o *Overlay) Features() []*geojson.Feature {
	return o.features
}

// FeatureCollection renders the overlay as a GeoJSON FeatureCollection.
func (o *Overlay) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range o.features {
		fc.Append(f)
	}
	return fc
}

// DrawInteraction is the polygon-capture interaction. Its identity is
// independent of the overlay instance it is currently bound to, so a
// base-layer rebuild can rebind it without losing the session's draw
// state.
type DrawInteraction struct {
	overlayID string
}

// BoundTo reports which overlay instance the interaction writes to.
func (d *DrawInteraction) BoundTo() string {
	return d.overlayID
}

// Surface owns one viewport with a base layer and the overlay.
type Surface struct {
	viewport Viewport
	base     BaseLayer
	overlay  *Overlay
	draw     *DrawInteraction
}

// New constructs a surface centered on the fixed default location.
func New(kind BaseLayerKind, vp Viewport) *Surface {
	return &Surface{
		viewport: vp,
		base:     BaseLayer{ID: nextLayerID("base"), Kind: kind},
		overlay:  &Overlay{ID: nextLayerID("overlay")},
	}
}

// Viewport returns the camera settings.
func (s *Surface) Viewport() Viewport {
	return s.viewport
}

// Base returns the named base layer handle.
func (s *Surface) Base() BaseLayer {
	return s.base
}

// Overlay returns the single mutable feature collection handle.
func (s *Surface) Overlay() *Overlay {
	return s.overlay
}

// Rebuild tears down and replaces both layers for a new base kind. The
// imagery source cannot be swapped on a live layer, so the base layer
// is recreated; the overlay instance is recreated with it, carrying its
// features over, and any attached draw interaction is rebound to the
// new overlay.
func (s *Surface) Rebuild(kind BaseLayerKind) {
	carried := s.overlay.Features()

	s.base = BaseLayer{ID: nextLayerID("base"), Kind: kind}
	s.overlay = &Overlay{ID: nextLayerID("overlay"), features: carried}

	if s.draw != nil {
		s.draw.overlayID = s.overlay.ID
	}
}

// AttachDraw binds a polygon-capture interaction to the overlay.
// Attaching twice returns the existing interaction.
func (s *Surface) AttachDraw() *DrawInteraction {
	if s.draw == nil {
		s.draw = &DrawInteraction{overlayID: s.overlay.ID}
	}
	return s.draw
}

// DetachDraw removes the interaction. Safe when none is attached.
func (s *Surface) DetachDraw() {
	s.draw = nil
}

// DrawAttached reports whether a capture interaction is active.
func (s *Surface) DrawAttached() bool {
	return s.draw != nil
}
