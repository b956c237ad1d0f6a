package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"

	"github.com/geovista/aoi-gateway/internal/indices"
	"github.com/geovista/aoi-gateway/internal/surface"
	"github.com/geovista/aoi-gateway/internal/workflow"
)

// Handlers contains all HTTP handlers for the workflow API.
type Handlers struct {
	controller *workflow.Controller
	store      *workflow.Store
	logger     *slog.Logger
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(controller *workflow.Controller, store *workflow.Store, logger *slog.Logger) *Handlers {
	return &Handlers{
		controller: controller,
		store:      store,
		logger:     logger,
	}
}

type createSessionRequest struct {
	BaseLayer string `json:"base_layer"`
}

type completeDrawRequest struct {
	// Ring holds the drawn vertices in projected map coordinates
	// (EPSG:3857), in draw order. Closing the ring is optional.
	Ring [][2]float64 `json:"ring"`
}

type cloudCoverRequest struct {
	Threshold int `json:"threshold"`
}

type baseLayerRequest struct {
	Kind string `json:"kind"`
}

type renderRequest struct {
	Index string `json:"index"`
	Date  string `json:"date"`
}

type datesResponse struct {
	Dates []string `json:"dates"`
}

type baseLayerResponse struct {
	BaseLayer surface.BaseLayerKind `json:"base_layer"`
}

// session resolves the {sessionID} URL parameter against the store.
// On failure it writes the error response and returns nil.
func (h *Handlers) session(w http.ResponseWriter, r *http.Request) *workflow.Session {
	token := chi.URLParam(r, "sessionID")
	s, err := h.store.Get(token)
	if err != nil {
		WriteWorkflowError(w, err)
		return nil
	}
	return s
}

// decode reads a JSON request body into v. An empty body leaves v at
// its zero value.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteBadRequest(w, "invalid JSON request body: "+err.Error())
		return false
	}
	return true
}

func formatDates(dates []time.Time) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format(indices.DateFormat)
	}
	return out
}

// CreateSession creates a new workflow session.
// POST /sessions
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decode(w, r, &req) {
		return
	}

	kind, err := surface.ParseBaseLayerKind(req.BaseLayer)
	if err != nil {
		WriteInvalidParameter(w, err.Error())
		return
	}

	s := h.controller.NewSession(kind)
	if _, err := h.store.Put(s); err != nil {
		h.logger.Error("failed to store session", slog.String("error", err.Error()))
		WriteInternalError(w, "failed to create session")
		return
	}

	WriteJSON(w, http.StatusCreated, h.controller.Snapshot(s))
}

// GetSession returns the current session state.
// GET /sessions/{sessionID}
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	WriteJSON(w, http.StatusOK, h.controller.Snapshot(s))
}

// DeleteSession removes a session.
// DELETE /sessions/{sessionID}
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	h.store.Delete(chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

// StartDraw activates the draw interaction.
// POST /sessions/{sessionID}/draw/start
func (h *Handlers) StartDraw(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	h.controller.StartDraw(s)
	WriteJSON(w, http.StatusOK, h.controller.Snapshot(s))
}

// StopDraw deactivates the draw interaction without capturing a shape.
// POST /sessions/{sessionID}/draw/stop
func (h *Handlers) StopDraw(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	h.controller.StopDraw(s)
	WriteJSON(w, http.StatusOK, h.controller.Snapshot(s))
}

// CompleteDraw captures a drawn ring as the session's area of interest
// and triggers an availability refresh.
// POST /sessions/{sessionID}/draw/complete
func (h *Handlers) CompleteDraw(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}

	var req completeDrawRequest
	if !decode(w, r, &req) {
		return
	}

	ring := make(orb.Ring, len(req.Ring))
	for i, pt := range req.Ring {
		ring[i] = orb.Point{pt[0], pt[1]}
	}

	dates, err := h.controller.CompleteDraw(r.Context(), s, ring)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, datesResponse{Dates: formatDates(dates)})
}

// Clear resets the session's AOI, available dates, and rendered results.
// POST /sessions/{sessionID}/clear
func (h *Handlers) Clear(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	h.controller.Clear(s)
	WriteJSON(w, http.StatusOK, h.controller.Snapshot(s))
}

// SetCloudCover updates the cloud-cover threshold and refreshes the
// available dates when an AOI is present.
// PUT /sessions/{sessionID}/cloud-cover
func (h *Handlers) SetCloudCover(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}

	var req cloudCoverRequest
	if !decode(w, r, &req) {
		return
	}

	dates, err := h.controller.SetCloudCover(r.Context(), s, req.Threshold)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, datesResponse{Dates: formatDates(dates)})
}

// Dates returns the current available-date set.
// GET /sessions/{sessionID}/dates
func (h *Handlers) Dates(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	WriteJSON(w, http.StatusOK, datesResponse{Dates: formatDates(h.controller.Dates(s))})
}

// SetBaseLayer switches the base layer. An empty kind toggles between
// satellite and street.
// PUT /sessions/{sessionID}/base-layer
func (h *Handlers) SetBaseLayer(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}

	var req baseLayerRequest
	if !decode(w, r, &req) {
		return
	}

	var kind surface.BaseLayerKind
	if req.Kind != "" {
		parsed, err := surface.ParseBaseLayerKind(req.Kind)
		if err != nil {
			WriteInvalidParameter(w, err.Error())
			return
		}
		kind = parsed
	}

	active := h.controller.SetBaseLayer(s, kind)
	WriteJSON(w, http.StatusOK, baseLayerResponse{BaseLayer: active})
}

// Render fetches classified index results for a date and puts them on
// the overlay.
// POST /sessions/{sessionID}/render
func (h *Handlers) Render(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}

	var req renderRequest
	if !decode(w, r, &req) {
		return
	}

	var index indices.Index
	if req.Index != "" {
		parsed, err := indices.ParseIndex(req.Index)
		if err != nil {
			WriteInvalidParameter(w, err.Error())
			return
		}
		index = parsed
	}

	var date time.Time
	if req.Date != "" {
		parsed, err := time.ParseInLocation(indices.DateFormat, req.Date, time.UTC)
		if err != nil {
			WriteInvalidParameter(w, "invalid date, expected YYYY-MM-DD: "+req.Date)
			return
		}
		date = parsed
	}

	if _, err := h.controller.FetchAndRender(r.Context(), s, index, date); err != nil {
		WriteWorkflowError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, h.controller.Snapshot(s))
}

// Overlay returns the overlay contents as a GeoJSON FeatureCollection
// in projected map coordinates.
// GET /sessions/{sessionID}/overlay
func (h *Handlers) Overlay(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	WriteGeoJSON(w, http.StatusOK, h.controller.Overlay(s))
}

// Health returns service health status.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
