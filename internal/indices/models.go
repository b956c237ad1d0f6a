package indices

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/geovista/aoi-gateway/internal/geom"
	"github.com/geovista/aoi-gateway/internal/legend"
)

// Index identifies one of the remote-computed classifications.
type Index string

const (
	// IndexVegetation is the normalized difference vegetation index.
	IndexVegetation Index = "ndvi"
	// IndexWater is the normalized difference water index.
	IndexWater Index = "ndwi"
	// IndexSurfaceTemp is land surface temperature.
	IndexSurfaceTemp Index = "lst"
)

// ParseIndex maps user-facing index names onto the upstream identifiers.
func ParseIndex(s string) (Index, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vegetation", "ndvi":
		return IndexVegetation, nil
	case "water", "ndwi":
		return IndexWater, nil
	case "land-surface-temperature", "temperature", "lst":
		return IndexSurfaceTemp, nil
	default:
		return "", fmt.Errorf("unknown index %q, expected one of: vegetation, water, land-surface-temperature", s)
	}
}

// DateFormat is the calendar-day format used on the wire.
const DateFormat = "2006-01-02"

// ClassifyRequest asks for classified geometry for one index, date and
// area of interest.
type ClassifyRequest struct {
	Index Index
	Date  time.Time
	AOI   geom.AOI
}

// AvailabilityRequest asks which dates have imagery clear enough for
// the area of interest.
type AvailabilityRequest struct {
	AOI        geom.AOI
	CloudCover int // percent, 0-100
	EndDate    time.Time
}

// ClassifiedFeature is one polygon or multi-polygon geometry tagged
// with an integer class code, as received from the remote service.
// Geometry is geographic (EPSG:4326). Immutable once received.
type ClassifiedFeature struct {
	Geometry   orb.Geometry
	Class      int
	Properties geojson.Properties
}

// Classification is the normalized result of a classify call,
// regardless of which wire shape the service used. Legend is nil when
// the service returned bare class codes and the caller must derive one.
type Classification struct {
	Features []ClassifiedFeature
	Legend   []legend.Entry
}

// Classes returns the class codes of the batch in first-encountered
// order, including repeats.
func (c *Classification) Classes() []int {
	out := make([]int, len(c.Features))
	for i, f := range c.Features {
		out[i] = f.Class
	}
	return out
}

// classifyBody is the wire shape of a classification request.
type classifyBody struct {
	Date     string           `json:"date"`
	Geometry *geojson.Feature `json:"geometry"`
}

// availabilityBody is the wire shape of an availability request.
type availabilityBody struct {
	Geometry      *geojson.Feature `json:"geometry"`
	CloudCoverage int              `json:"cloud_coverage"`
	EndDate       string           `json:"end_date"`
}

// rawClassification covers the response schemas observed across
// deployments: either a bare feature list, or a nested geojson document
// with server-supplied legend colors. Normalization picks whichever is
// present.
type rawClassification struct {
	Features   []*geojson.Feature `json:"features"`
	GeoJSON    *rawGeoJSON        `json:"geojson"`
	LegendInfo *rawLegendInfo     `json:"legend_info"`
}

type rawGeoJSON struct {
	Features []*geojson.Feature `json:"features"`
}

type rawLegendInfo struct {
	LegendColors []rawLegendColor `json:"legend_colors"`
}

type rawLegendColor struct {
	Class       *int   `json:"class"`
	ClassNo     *int   `json:"class_no"`
	Color       string `json:"color"`
	Range       string `json:"range"`
	Description string `json:"description"`
}
