// Package indices provides the HTTP client for the remote geospatial
// indices service and normalizes its response schemas into one internal
// contract.
package indices

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/paulmach/orb"

	"github.com/geovista/aoi-gateway/internal/legend"
	"github.com/geovista/aoi-gateway/internal/metrics"
)

// Service is the upstream contract the workflow controller depends on.
type Service interface {
	// Availability returns the calendar dates with imagery at or below
	// the requested cloud coverage, ascending and deduplicated.
	Availability(ctx context.Context, req AvailabilityRequest) ([]time.Time, error)

	// Classify returns classified geometry for one index, date and AOI.
	Classify(ctx context.Context, req ClassifyRequest) (*Classification, error)
}

// ErrMalformedResponse marks payloads that decoded but did not carry
// the expected shape. Callers treat it like any other upstream failure:
// abort, leave prior state untouched.
var ErrMalformedResponse = errors.New("malformed upstream response")

// UpstreamError reports a non-success status from the indices service.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("indices service returned status %d: %s", e.StatusCode, e.Body)
}

// Client handles communication with the indices service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a new indices service client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// WithMetrics enables request instrumentation.
func (c *Client) WithMetrics(m *metrics.Metrics) *Client {
	c.metrics = m
	return c
}

// Availability implements Service.
func (c *Client) Availability(ctx context.Context, req AvailabilityRequest) ([]time.Time, error) {
	body := availabilityBody{
		Geometry:      req.AOI.Feature(),
		CloudCoverage: req.CloudCover,
		EndDate:       req.EndDate.Format(DateFormat),
	}

	raw, err := c.post(ctx, "availability", "/api/indices/sentinel-data-availability/", body)
	if err != nil {
		return nil, err
	}

	var dateStrings []string
	if err := json.Unmarshal(raw, &dateStrings); err != nil {
		c.logger.ErrorContext(ctx, "availability response is not a date list",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: expected a list of date strings: %v", ErrMalformedResponse, err)
	}

	dates := make([]time.Time, 0, len(dateStrings))
	seen := make(map[string]bool, len(dateStrings))
	for _, s := range dateStrings {
		d, err := time.ParseInLocation(DateFormat, s, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid date %q: %v", ErrMalformedResponse, s, err)
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	c.logger.DebugContext(ctx, "availability query completed",
		slog.Int("cloud_coverage", req.CloudCover),
		slog.Int("date_count", len(dates)),
	)

	return dates, nil
}

// Classify implements Service.
func (c *Client) Classify(ctx context.Context, req ClassifyRequest) (*Classification, error) {
	body := classifyBody{
		Date:     req.Date.Format(DateFormat),
		Geometry: req.AOI.Feature(),
	}

	raw, err := c.post(ctx, "classify", fmt.Sprintf("/api/indices/%s/", req.Index), body)
	if err != nil {
		return nil, err
	}

	var decoded rawClassification
	if err := json.Unmarshal(raw, &decoded); err != nil {
		c.logger.ErrorContext(ctx, "failed to decode classification response",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	result, err := c.normalize(ctx, &decoded)
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "classification completed",
		slog.String("index", string(req.Index)),
		slog.String("date", body.Date),
		slog.Int("feature_count", len(result.Features)),
	)

	return result, nil
}

// normalize folds the observed response shapes into one contract and
// extracts class codes. Geometry kinds outside Polygon/MultiPolygon are
// logged and dropped rather than passed through as holes.
func (c *Client) normalize(ctx context.Context, raw *rawClassification) (*Classification, error) {
	features := raw.Features
	if features == nil && raw.GeoJSON != nil {
		features = raw.GeoJSON.Features
	}
	if features == nil {
		return nil, fmt.Errorf("%w: neither features nor geojson.features present", ErrMalformedResponse)
	}

	result := &Classification{
		Features: make([]ClassifiedFeature, 0, len(features)),
	}

	for i, f := range features {
		if f == nil || f.Geometry == nil {
			return nil, fmt.Errorf("%w: feature %d has no geometry", ErrMalformedResponse, i)
		}
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			c.logger.ErrorContext(ctx, "dropping feature with unsupported geometry kind",
				slog.Int("feature_index", i),
				slog.String("kind", f.Geometry.GeoJSONType()),
			)
			if c.metrics != nil {
				c.metrics.DroppedGeometries.Inc()
			}
			continue
		}

		class, err := classCode(f.Properties)
		if err != nil {
			return nil, fmt.Errorf("%w: feature %d: %v", ErrMalformedResponse, i, err)
		}

		result.Features = append(result.Features, ClassifiedFeature{
			Geometry:   f.Geometry,
			Class:      class,
			Properties: f.Properties,
		})
	}

	if raw.LegendInfo != nil {
		result.Legend = make([]legend.Entry, 0, len(raw.LegendInfo.LegendColors))
		for i, lc := range raw.LegendInfo.LegendColors {
			entry := legend.Entry{Color: lc.Color}
			switch {
			case lc.Class != nil:
				entry.Class = *lc.Class
			case lc.ClassNo != nil:
				entry.Class = *lc.ClassNo
			default:
				return nil, fmt.Errorf("%w: legend color %d has no class code", ErrMalformedResponse, i)
			}
			entry.Description = lc.Description
			if entry.Description == "" {
				entry.Description = lc.Range
			}
			result.Legend = append(result.Legend, entry)
		}
	}

	return result, nil
}

// post issues one JSON request and returns the raw response body.
func (c *Client) post(ctx context.Context, op, path string, body any) ([]byte, error) {
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "aoi-gateway/1.0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.ObserveUpstream(op, err == nil, time.Since(start))
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "indices service request failed",
			slog.String("op", op),
			slog.String("url", u),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("indices service request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.ErrorContext(ctx, "indices service returned non-success status",
			slog.String("op", op),
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(raw)),
		)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	return raw, nil
}

// classCode reads the integer class from feature properties, accepting
// either key observed across deployments.
func classCode(props map[string]interface{}) (int, error) {
	for _, key := range []string{"class_no", "class"} {
		v, ok := props[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int(n), nil
		case int:
			return n, nil
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return 0, fmt.Errorf("property %q is not an integer: %v", key, err)
			}
			return int(i), nil
		default:
			return 0, fmt.Errorf("property %q has unexpected type %T", key, v)
		}
	}
	return 0, errors.New("no class_no or class property")
}
