// Package geom provides the area-of-interest type and the coordinate
// conversions between the map's projected system (EPSG:3857) and the
// geographic system (EPSG:4326) used at the service boundary.
package geom

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
)

// ErrInvalidRing wraps every ring validation failure so callers can
// classify them without matching message text.
var ErrInvalidRing = errors.New("invalid ring")

// AOI is a single closed polygon ring in geographic coordinates
// (longitude/latitude, EPSG:4326). It is emitted by a completed draw
// session and owned exclusively by the workflow session until the next
// draw replaces it or an explicit clear discards it.
type AOI struct {
	Ring orb.Ring
}

// IsZero reports whether no area has been drawn.
func (a AOI) IsZero() bool {
	return len(a.Ring) == 0
}

// Polygon returns the AOI as a single-ring orb polygon.
func (a AOI) Polygon() orb.Polygon {
	return orb.Polygon{a.Ring}
}

// Feature returns the AOI as a GeoJSON Feature<Polygon>, the shape the
// remote indices service expects in request bodies.
func (a AOI) Feature() *geojson.Feature {
	return geojson.NewFeature(a.Polygon())
}

// FromProjectedRing converts a drawn ring from the map's projected
// coordinate system (EPSG:3857) into a geographic AOI. The ring is
// closed if the capture left it open, and the result is validated
// against longitude/latitude bounds.
func FromProjectedRing(ring orb.Ring) (AOI, error) {
	if len(ring) < 3 {
		return AOI{}, fmt.Errorf("%w: drawn ring has %d points, need at least 3", ErrInvalidRing, len(ring))
	}

	geo := make(orb.Ring, len(ring))
	for i, pt := range ring {
		geo[i] = project.Mercator.ToWGS84(pt)
	}

	if !geo.Closed() {
		geo = append(geo, geo[0])
	}

	if err := ValidateGeographicRing(geo); err != nil {
		return AOI{}, err
	}

	return AOI{Ring: geo}, nil
}

// ValidateGeographicRing checks that a ring is closed and that every
// coordinate lies within valid longitude/latitude bounds.
func ValidateGeographicRing(ring orb.Ring) error {
	if len(ring) < 4 {
		return fmt.Errorf("%w: ring has %d points, a closed ring needs at least 4", ErrInvalidRing, len(ring))
	}
	if !ring.Closed() {
		return fmt.Errorf("%w: ring is not closed, first point %v != last point %v", ErrInvalidRing, ring[0], ring[len(ring)-1])
	}
	for i, pt := range ring {
		if pt.Lon() < -180 || pt.Lon() > 180 {
			return fmt.Errorf("%w: point %d longitude %f out of range [-180, 180]", ErrInvalidRing, i, pt.Lon())
		}
		if pt.Lat() < -90 || pt.Lat() > 90 {
			return fmt.Errorf("%w: point %d latitude %f out of range [-90, 90]", ErrInvalidRing, i, pt.Lat())
		}
	}
	return nil
}

// ToMercator converts a geographic geometry (EPSG:4326) into the map's
// projected system (EPSG:3857) for on-screen rendering. Every ring of
// every polygon is converted independently, including each polygon of a
// MultiPolygon.
func ToMercator(g orb.Geometry) orb.Geometry {
	return project.Geometry(orb.Clone(g), project.WGS84.ToMercator)
}

// ToGeographic converts a projected geometry (EPSG:3857) back into
// geographic coordinates (EPSG:4326).
func ToGeographic(g orb.Geometry) orb.Geometry {
	return project.Geometry(orb.Clone(g), project.Mercator.ToWGS84)
}
