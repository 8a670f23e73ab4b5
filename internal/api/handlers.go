// Package api exposes HTTP handlers for activities and heart-rate queries.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/heartstream/internal/activity"
	"example.com/heartstream/internal/domain"
	"example.com/heartstream/internal/events"
	"example.com/heartstream/internal/persistence"
	"example.com/heartstream/internal/stats"
)

const (
	defaultPageSize   = 20
	maxPageSize       = 100
	defaultRecentSize = 50
	maxRecentSize     = 1000
	maxBodyBytes      = 1 << 20
)

// Option customises a Handler.
type Option func(*Handler)

// WithSampleStore enables the store-backed queries: windowed stats, recent
// samples and device counts.
func WithSampleStore(store domain.SampleStore) Option {
	return func(h *Handler) {
		h.samples = store
	}
}

// WithSubscriberCount reports live subscribers alongside window stats.
func WithSubscriberCount(count func() int) Option {
	return func(h *Handler) {
		h.subscribers = count
	}
}

// WithLogger overrides the handler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClock overrides the time source used for windowed stats.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// Handler coordinates HTTP requests with the activity tracker and stats window.
type Handler struct {
	tracker     *activity.Tracker
	window      *stats.Window
	samples     domain.SampleStore
	subscribers func() int
	logger      *slog.Logger
	now         func() time.Time
}

// NewHandler builds a Handler.
func NewHandler(tracker *activity.Tracker, window *stats.Window, opts ...Option) *Handler {
	h := &Handler{
		tracker: tracker,
		window:  window,
		logger:  slog.Default().With("component", "api"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/v1/stats", h.stats)
	mux.HandleFunc("/v1/samples/recent", h.recentSamples)
	mux.HandleFunc("/v1/devices", h.devices)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createActivity(w, r)
	case http.MethodGet:
		h.listActivities(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/activities/"), "/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing activity id")
		return
	}

	parts := strings.Split(rest, "/")
	id := parts[0]
	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.getActivity(w, r, id)
		case http.MethodDelete:
			h.deleteActivity(w, r, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		}
	case len(parts) == 2 && parts[1] == "waypoints":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		h.addWaypoint(w, r, id)
	case len(parts) == 2 && parts[1] == "stop":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		h.stopActivity(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
	}
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	var req CreateActivityRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "unable to parse body")
		return
	}

	act := h.tracker.Start(r.Context(), req.DeviceID)
	writeJSON(w, http.StatusCreated, CreateActivityResponse{
		ActivityID: act.ID,
		DeviceID:   act.DeviceID,
		Status:     string(act.Status),
		StartTime:  act.StartTime,
	})
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := defaultPageSize
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxPageSize)
	}

	cursor, err := persistence.DecodeCursor(query.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	all := h.tracker.List(strings.TrimSpace(query.Get("device_id")))
	page, next := persistence.PageActivities(all, cursor, limit)

	items := make([]ActivityView, 0, len(page))
	for _, act := range page {
		items = append(items, toActivityView(act))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, id string) {
	act, waypoints, err := h.tracker.Get(id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := ActivityDetailView{
		ActivityView: toActivityView(act),
		Waypoints:    make([]WaypointView, 0, len(waypoints)),
	}
	for _, wp := range waypoints {
		resp.Waypoints = append(resp.Waypoints, toWaypointView(wp))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deleteActivity(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.tracker.Delete(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addWaypoint(w http.ResponseWriter, r *http.Request, id string) {
	var req AddWaypointRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "unable to parse body")
		return
	}

	wp, err := h.tracker.AddWaypoint(r.Context(), id, activity.WaypointInput{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		HeartRate: req.HeartRate,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWaypointView(wp))
}

func (h *Handler) stopActivity(w http.ResponseWriter, r *http.Request, id string) {
	var req StopActivityRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "unable to parse body")
		return
	}

	act, err := h.tracker.Stop(r.Context(), id, req.Calories)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(act))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get("window"))
	if raw == "" {
		resp := StatsResponse{Stats: h.window.Stats(), Source: "live"}
		if h.subscribers != nil {
			resp.Subscribers = h.subscribers()
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	lookback, err := time.ParseDuration(raw)
	if err != nil || lookback <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "window must be a positive duration such as 1h")
		return
	}
	if h.samples == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "no sample store configured")
		return
	}

	summary, err := h.samples.QueryStats(r.Context(), h.now().Add(-lookback))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{Stats: summary, Source: "store", Window: lookback.String()})
}

func (h *Handler) recentSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	limit := defaultRecentSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxRecentSize)
	}

	var samples []domain.Sample
	if h.samples != nil {
		var err error
		if samples, err = h.samples.QueryRecent(r.Context(), limit); err != nil {
			h.writeDomainError(w, err)
			return
		}
	} else {
		samples = h.window.Recent(limit)
	}

	items := make([]events.Sample, 0, len(samples))
	for _, s := range samples {
		items = append(items, events.NewSample(s))
	}
	writeJSON(w, http.StatusOK, RecentSamplesResponse{Items: items})
}

func (h *Handler) devices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if h.samples == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "no sample store configured")
		return
	}

	counts, err := h.samples.DeviceTypeCounts(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DevicesResponse{Items: counts})
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "activity not found")
	case errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// decodeBody parses a JSON request body. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// CreateActivityRequest is the payload for POST /v1/activities.
type CreateActivityRequest struct {
	DeviceID string `json:"device_id"`
}

// CreateActivityResponse describes the response body for create.
type CreateActivityResponse struct {
	ActivityID string    `json:"activity_id"`
	DeviceID   string    `json:"device_id"`
	Status     string    `json:"status"`
	StartTime  time.Time `json:"start_time"`
}

// AddWaypointRequest is the payload for POST /v1/activities/{id}/waypoints.
type AddWaypointRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	HeartRate *int     `json:"heart_rate,omitempty"`
}

// StopActivityRequest is the optional payload for POST /v1/activities/{id}/stop.
type StopActivityRequest struct {
	Calories *float64 `json:"calories,omitempty"`
}

// ActivityView exposes an activity and its summary.
type ActivityView struct {
	ActivityID      string     `json:"activity_id"`
	DeviceID        string     `json:"device_id"`
	Status          string     `json:"status"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DistanceKM      float64    `json:"distance_km"`
	AvgSpeed        float64    `json:"avg_speed"`
	AvgHeartRate    float64    `json:"avg_heart_rate"`
	MinHeartRate    int        `json:"min_heart_rate"`
	MaxHeartRate    int        `json:"max_heart_rate"`
	Calories        float64    `json:"calories"`
	DurationMinutes float64    `json:"duration_minutes"`
}

// WaypointView exposes one GPS fix.
type WaypointView struct {
	Sequence  int       `json:"sequence"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	HeartRate *int      `json:"heart_rate"`
	Timestamp time.Time `json:"timestamp"`
}

// ActivityDetailView is an activity with its ordered track.
type ActivityDetailView struct {
	ActivityView
	Waypoints []WaypointView `json:"waypoints"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// StatsResponse reports heart-rate aggregates from the live window or the store.
type StatsResponse struct {
	domain.Stats
	Source      string `json:"source"`
	Window      string `json:"window,omitempty"`
	Subscribers int    `json:"subscribers"`
}

// RecentSamplesResponse lists samples oldest first.
type RecentSamplesResponse struct {
	Items []events.Sample `json:"items"`
}

// DevicesResponse lists stored sample counts per device type.
type DevicesResponse struct {
	Items []domain.DeviceTypeCount `json:"items"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toActivityView(act domain.Activity) ActivityView {
	return ActivityView{
		ActivityID:      act.ID,
		DeviceID:        act.DeviceID,
		Status:          string(act.Status),
		StartTime:       act.StartTime,
		EndTime:         act.EndTime,
		DistanceKM:      act.DistanceKM,
		AvgSpeed:        act.AvgSpeed,
		AvgHeartRate:    act.AvgHeartRate,
		MinHeartRate:    act.MinHeartRate,
		MaxHeartRate:    act.MaxHeartRate,
		Calories:        act.Calories,
		DurationMinutes: act.DurationMinutes,
	}
}

func toWaypointView(wp domain.Waypoint) WaypointView {
	return WaypointView{
		Sequence:  wp.Sequence,
		Latitude:  wp.Latitude,
		Longitude: wp.Longitude,
		HeartRate: wp.HeartRate,
		Timestamp: wp.Timestamp,
	}
}
