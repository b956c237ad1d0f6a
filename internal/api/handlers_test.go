package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/geovista/aoi-gateway/internal/indices"
	"github.com/geovista/aoi-gateway/internal/surface"
	"github.com/geovista/aoi-gateway/internal/workflow"
)

// mockService is a scriptable indices backend for handler tests.
type mockService struct {
	dates          []time.Time
	classification *indices.Classification
	availErr       error
	classifyErr    error
}

func (m *mockService) Availability(ctx context.Context, req indices.AvailabilityRequest) ([]time.Time, error) {
	if m.availErr != nil {
		return nil, m.availErr
	}
	return m.dates, nil
}

func (m *mockService) Classify(ctx context.Context, req indices.ClassifyRequest) (*indices.Classification, error) {
	if m.classifyErr != nil {
		return nil, m.classifyErr
	}
	return m.classification, nil
}

func testServer(t *testing.T, svc indices.Service) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl, err := workflow.NewController(svc, workflow.Config{
		Viewport:          surface.Viewport{Center: orb.Point{69.2401, 41.2995}, Zoom: 12},
		DefaultCloudCover: 20,
		EndDate:           time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}, nil, logger)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	store := workflow.NewStore(time.Minute, time.Minute, nil)
	t.Cleanup(store.Stop)

	srv := httptest.NewServer(NewRouter(NewHandlers(ctrl, store, logger), logger, nil))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}

func createSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/sessions", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d, body %s", resp.StatusCode, body)
	}

	var state workflow.State
	if err := json.Unmarshal(body, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.ID == "" {
		t.Fatal("created session has no ID")
	}
	return state.ID
}

func projectedRing() [][2]float64 {
	pts := []orb.Point{
		{69.20, 41.25},
		{69.30, 41.25},
		{69.30, 41.35},
		{69.20, 41.25},
	}
	out := make([][2]float64, len(pts))
	for i, p := range pts {
		m := project.WGS84.ToMercator(p)
		out[i] = [2]float64{m[0], m[1]}
	}
	return out
}

// drawAOI drives a session through start + complete draw.
func drawAOI(t *testing.T, srv *httptest.Server, id string) {
	t.Helper()

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/draw/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("draw start: status %d, body %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/draw/complete",
		map[string]any{"ring": projectedRing()})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("draw complete: status %d, body %s", resp.StatusCode, body)
	}
}

func TestCreateAndGetSession(t *testing.T) {
	srv := testServer(t, &mockService{})
	id := createSession(t, srv)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/sessions/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get session: status %d", resp.StatusCode)
	}

	var state workflow.State
	if err := json.Unmarshal(body, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.BaseLayer != surface.BaseSatellite {
		t.Errorf("base layer = %s, want satellite default", state.BaseLayer)
	}
	if state.DrawState != "idle" {
		t.Errorf("draw state = %s, want idle", state.DrawState)
	}
	if state.CloudCover != 20 {
		t.Errorf("cloud cover = %d, want 20", state.CloudCover)
	}
}

func TestCreateSessionWithBaseLayer(t *testing.T) {
	srv := testServer(t, &mockService{})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/sessions",
		map[string]string{"base_layer": "street"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d, body %s", resp.StatusCode, body)
	}

	var state workflow.State
	if err := json.Unmarshal(body, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.BaseLayer != surface.BaseStreet {
		t.Errorf("base layer = %s, want street", state.BaseLayer)
	}
}

func TestCreateSessionRejectsUnknownBaseLayer(t *testing.T) {
	srv := testServer(t, &mockService{})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/sessions",
		map[string]string{"base_layer": "terrain"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400; body %s", resp.StatusCode, body)
	}

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if apiErr.Code != ErrCodeInvalidParameter {
		t.Errorf("code = %s, want %s", apiErr.Code, ErrCodeInvalidParameter)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	srv := testServer(t, &mockService{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/sessions/deadbeef", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404; body %s", resp.StatusCode, body)
	}

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if apiErr.Code != ErrCodeNotFound {
		t.Errorf("code = %s, want %s", apiErr.Code, ErrCodeNotFound)
	}
}

func TestDeleteSession(t *testing.T) {
	srv := testServer(t, &mockService{})
	id := createSession(t, srv)

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/sessions/"+id, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: status %d, want 204", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/sessions/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete: status %d, want 404", resp.StatusCode)
	}
}

func TestDrawCompleteReturnsDates(t *testing.T) {
	svc := &mockService{dates: []time.Time{
		time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
	}}
	srv := testServer(t, svc)
	id := createSession(t, srv)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/draw/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("draw start: status %d, body %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/draw/complete",
		map[string]any{"ring": projectedRing()})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("draw complete: status %d, body %s", resp.StatusCode, body)
	}

	var dates datesResponse
	if err := json.Unmarshal(body, &dates); err != nil {
		t.Fatalf("decode dates: %v", err)
	}
	if len(dates.Dates) != 2 || dates.Dates[0] != "2024-06-10" {
		t.Errorf("dates = %v, want [2024-06-10 2024-06-15]", dates.Dates)
	}
}

func TestDrawCompleteWithoutStart(t *testing.T) {
	srv := testServer(t, &mockService{})
	id := createSession(t, srv)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/draw/complete",
		map[string]any{"ring": projectedRing()})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400; body %s", resp.StatusCode, body)
	}
}

func TestDrawCompleteRejectsTinyRing(t *testing.T) {
	srv := testServer(t, &mockService{})
	id := createSession(t, srv)

	doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/draw/start", nil)
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/draw/complete",
		map[string]any{"ring": [][2]float64{{0, 0}, {1, 1}}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400; body %s", resp.StatusCode, body)
	}
}

func TestSetCloudCover(t *testing.T) {
	svc := &mockService{dates: []time.Time{time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)}}
	srv := testServer(t, svc)
	id := createSession(t, srv)
	drawAOI(t, srv, id)

	resp, body := doJSON(t, http.MethodPut, srv.URL+"/sessions/"+id+"/cloud-cover",
		map[string]int{"threshold": 45})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, body %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/sessions/"+id, nil)
	var state workflow.State
	if err := json.Unmarshal(body, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.CloudCover != 45 {
		t.Errorf("cloud cover = %d, want 45", state.CloudCover)
	}
}

func TestSetCloudCoverRejectsOutOfRange(t *testing.T) {
	srv := testServer(t, &mockService{})
	id := createSession(t, srv)

	resp, body := doJSON(t, http.MethodPut, srv.URL+"/sessions/"+id+"/cloud-cover",
		map[string]int{"threshold": 150})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400; body %s", resp.StatusCode, body)
	}
}

func TestRenderFlow(t *testing.T) {
	svc := &mockService{
		dates: []time.Time{time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)},
		classification: &indices.Classification{
			Features: []indices.ClassifiedFeature{
				{
					Geometry: orb.Polygon{{{69.21, 41.26}, {69.22, 41.26}, {69.22, 41.27}, {69.21, 41.26}}},
					Class:    2,
				},
			},
		},
	}
	srv := testServer(t, svc)
	id := createSession(t, srv)
	drawAOI(t, srv, id)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/render",
		map[string]string{"index": "vegetation", "date": "2024-06-10"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("render: status %d, body %s", resp.StatusCode, body)
	}

	var state workflow.State
	if err := json.Unmarshal(body, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Rendered == nil {
		t.Fatal("render summary missing from state")
	}
	if state.Rendered.Index != indices.IndexVegetation {
		t.Errorf("rendered index = %s, want ndvi", state.Rendered.Index)
	}
	if state.Rendered.FeatureCount != 1 {
		t.Errorf("feature count = %d, want 1", state.Rendered.FeatureCount)
	}
	if len(state.Rendered.Legend) != 1 {
		t.Errorf("legend has %d entries, want 1", len(state.Rendered.Legend))
	}

	// Overlay returns the styled result geometry as GeoJSON.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/sessions/"+id+"/overlay", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("overlay: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("content type = %s, want application/geo+json", ct)
	}

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(body, &fc); err != nil {
		t.Fatalf("decode overlay: %v", err)
	}
	if fc.Type != "FeatureCollection" {
		t.Errorf("overlay type = %s, want FeatureCollection", fc.Type)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("overlay has %d features, want 1", len(fc.Features))
	}
	if fc.Features[0].Properties["fill"] == nil {
		t.Error("overlay feature has no fill color")
	}
}

func TestRenderRejectsUnknownIndex(t *testing.T) {
	srv := testServer(t, &mockService{})
	id := createSession(t, srv)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/render",
		map[string]string{"index": "snow", "date": "2024-06-10"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400; body %s", resp.StatusCode, body)
	}
}

func TestRenderWithoutAOI(t *testing.T) {
	srv := testServer(t, &mockService{})
	id := createSession(t, srv)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/render",
		map[string]string{"index": "vegetation", "date": "2024-06-10"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400; body %s", resp.StatusCode, body)
	}
}

func TestRenderUpstreamFailureIs502(t *testing.T) {
	svc := &mockService{
		dates:       []time.Time{time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)},
		classifyErr: &indices.UpstreamError{StatusCode: http.StatusInternalServerError},
	}
	srv := testServer(t, svc)
	id := createSession(t, srv)
	drawAOI(t, srv, id)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/render",
		map[string]string{"index": "vegetation", "date": "2024-06-10"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status %d, want 502; body %s", resp.StatusCode, body)
	}

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if apiErr.Code != ErrCodeUpstreamError {
		t.Errorf("code = %s, want %s", apiErr.Code, ErrCodeUpstreamError)
	}
}

func TestRenderMalformedUpstreamIs502(t *testing.T) {
	svc := &mockService{
		dates:       []time.Time{time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)},
		classifyErr: fmt.Errorf("decoding classify response: %w", indices.ErrMalformedResponse),
	}
	srv := testServer(t, svc)
	id := createSession(t, srv)
	drawAOI(t, srv, id)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/render",
		map[string]string{"index": "vegetation", "date": "2024-06-10"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status %d, want 502; body %s", resp.StatusCode, body)
	}

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if apiErr.Code != ErrCodeMalformedUpstream {
		t.Errorf("code = %s, want %s", apiErr.Code, ErrCodeMalformedUpstream)
	}
}

func TestBaseLayerToggle(t *testing.T) {
	srv := testServer(t, &mockService{})
	id := createSession(t, srv)

	// Empty kind toggles from the satellite default.
	resp, body := doJSON(t, http.MethodPut, srv.URL+"/sessions/"+id+"/base-layer",
		map[string]string{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, body %s", resp.StatusCode, body)
	}

	var got baseLayerResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.BaseLayer != surface.BaseStreet {
		t.Errorf("base layer = %s, want street", got.BaseLayer)
	}

	// Explicit kind selects it directly.
	resp, body = doJSON(t, http.MethodPut, srv.URL+"/sessions/"+id+"/base-layer",
		map[string]string{"kind": "satellite"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, body %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.BaseLayer != surface.BaseSatellite {
		t.Errorf("base layer = %s, want satellite", got.BaseLayer)
	}
}

func TestClearEndpoint(t *testing.T) {
	svc := &mockService{dates: []time.Time{time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)}}
	srv := testServer(t, svc)
	id := createSession(t, srv)
	drawAOI(t, srv, id)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/clear", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, body %s", resp.StatusCode, body)
	}

	var state workflow.State
	if err := json.Unmarshal(body, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.HasAOI {
		t.Error("AOI should be cleared")
	}
	if len(state.Dates) != 0 {
		t.Errorf("dates should be cleared, got %v", state.Dates)
	}
}

func TestMalformedJSONBody(t *testing.T) {
	srv := testServer(t, &mockService{})
	id := createSession(t, srv)

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/sessions/"+id+"/cloud-cover",
		bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status %d, want 400", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t, &mockService{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var health map[string]string
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("status = %s, want ok", health["status"])
	}
}

func TestUnknownEndpointIs404(t *testing.T) {
	srv := testServer(t, &mockService{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404; body %s", resp.StatusCode, body)
	}

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if apiErr.Code != ErrCodeNotFound {
		t.Errorf("code = %s, want %s", apiErr.Code, ErrCodeNotFound)
	}
}

func TestRequestIDHeaderPresent(t *testing.T) {
	srv := testServer(t, &mockService{})

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("X-Request-ID header missing from response")
	}
}
