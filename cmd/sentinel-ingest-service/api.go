// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/sentinel-works/sentinel/lib/schema/anomaly"
)

// API serves the query surface over the store plus the live
// websocket feed. All responses share one envelope: successes carry
// {"success": true, "data": ...} (list endpoints add "count"),
// failures carry {"success": false, "error": ...}.
type API struct {
	store     *Store
	ingestor  *Ingestor
	hub       *Hub
	source    *Source
	window    time.Duration
	logger    *slog.Logger
	startedAt time.Time
}

// NewAPI wires the query service. source may be nil when the service
// runs without a broker; health then reports the connection as
// disconnected.
func NewAPI(store *Store, ingestor *Ingestor, hub *Hub, source *Source, window time.Duration, logger *slog.Logger) *API {
	return &API{
		store:     store,
		ingestor:  ingestor,
		hub:       hub,
		source:    source,
		window:    window,
		logger:    logger,
		startedAt: store.clock.Now(),
	}
}

// Handler builds the routed handler with request logging and panic
// recovery around every endpoint.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/readings", a.handleRecentReadings).Methods(http.MethodGet)
	r.HandleFunc("/api/readings", a.handleSubmitReading).Methods(http.MethodPost)
	r.HandleFunc("/api/readings/period", a.handleReadingsInPeriod).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", a.handleTrailingStats).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/devices", a.handleDeviceStats).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/daily", a.handleDailyStats).Methods(http.MethodGet)
	r.HandleFunc("/api/live", a.hub.ServeLive).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(a.handleNotFound)

	logged := handlers.CustomLoggingHandler(io.Discard, r, a.logRequest)
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(logged)
}

func (a *API) logRequest(_ io.Writer, params handlers.LogFormatterParams) {
	a.logger.Info("http request",
		"method", params.Request.Method,
		"path", params.URL.Path,
		"status", params.StatusCode,
		"bytes", params.Size)
}

// envelope is the shared response shape. ID is set only by the
// submission endpoint, echoing the assigned reading id at the top
// level.
type envelope struct {
	Success bool   `json:"success"`
	Count   *int   `json:"count,omitempty"`
	ID      *int64 `json:"id,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, resp envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.logger.Error("writing response failed", "error", err)
	}
}

func (a *API) respondData(w http.ResponseWriter, status int, data any) {
	a.writeJSON(w, status, envelope{Success: true, Data: data})
}

func (a *API) respondList(w http.ResponseWriter, count int, data any) {
	a.writeJSON(w, http.StatusOK, envelope{Success: true, Count: &count, Data: data})
}

func (a *API) respondError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, envelope{Success: false, Error: msg})
}

// respondFailure maps an error to its HTTP status by category:
// invalid payloads and ranges are client errors, an unavailable store
// is 503, anything else is a 500.
func (a *API) respondFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, anomaly.ErrInvalidPayload), errors.Is(err, anomaly.ErrInvalidRange):
		a.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, anomaly.ErrStoreUnavailable):
		a.respondError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		a.logger.Error("request failed", "error", err)
		a.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) handleNotFound(w http.ResponseWriter, r *http.Request) {
	a.respondError(w, http.StatusNotFound, fmt.Sprintf("no such endpoint: %s", r.URL.Path))
}

// healthStatus is the health endpoint payload.
type healthStatus struct {
	Status          string         `json:"status"`
	UptimeSeconds   float64        `json:"uptime_seconds"`
	Broker          string         `json:"broker"`
	BrokerError     string         `json:"broker_error,omitempty"`
	ParseFailures   int64          `json:"parse_failures"`
	Ingest          IngestCounters `json:"ingest"`
	LiveSubscribers int            `json:"live_subscribers"`
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := healthStatus{
		Status:          "ok",
		UptimeSeconds:   a.store.clock.Now().Sub(a.startedAt).Seconds(),
		Broker:          string(BrokerDisconnected),
		Ingest:          a.ingestor.Counters(),
		LiveSubscribers: a.hub.SubscriberCount(),
	}
	if a.source != nil {
		state, lastErr := a.source.State()
		health.Broker = string(state)
		health.ParseFailures = a.source.ParseFailures()
		if lastErr != nil {
			health.BrokerError = lastErr.Error()
		}
	}
	a.respondData(w, http.StatusOK, health)
}

func (a *API) handleRecentReadings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			a.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}

	readings, err := a.store.RecentReadings(r.Context(), limit)
	if err != nil {
		a.respondFailure(w, err)
		return
	}
	if readings == nil {
		readings = []anomaly.Reading{}
	}
	a.respondList(w, len(readings), readings)
}

func (a *API) handleReadingsInPeriod(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	rawStart, rawEnd := query.Get("start"), query.Get("end")
	if rawStart == "" || rawEnd == "" {
		a.respondError(w, http.StatusBadRequest, "start and end are required")
		return
	}
	start, err := time.Parse(time.RFC3339, rawStart)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid start %q: not RFC 3339", rawStart))
		return
	}
	end, err := time.Parse(time.RFC3339, rawEnd)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid end %q: not RFC 3339", rawEnd))
		return
	}
	if start.After(end) {
		a.respondFailure(w, fmt.Errorf("%w: start is after end", anomaly.ErrInvalidRange))
		return
	}

	readings, err := a.store.ReadingsInPeriod(r.Context(), start, end)
	if err != nil {
		a.respondFailure(w, err)
		return
	}
	if readings == nil {
		readings = []anomaly.Reading{}
	}
	a.respondList(w, len(readings), readings)
}

// submitBody mirrors EventPayload with pointer fields so that absent
// keys are distinguishable from zero values: a missing score must be
// a 400, not a stored 0.
type submitBody struct {
	DeviceID *string        `json:"device_id"`
	Label    *anomaly.Label `json:"label"`
	Score    *float64       `json:"score"`
}

func (a *API) handleSubmitReading(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		a.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	switch {
	case body.DeviceID == nil:
		a.respondError(w, http.StatusBadRequest, "device_id is required")
		return
	case body.Label == nil:
		a.respondError(w, http.StatusBadRequest, "label is required")
		return
	case body.Score == nil:
		a.respondError(w, http.StatusBadRequest, "score is required")
		return
	}

	reading, err := a.ingestor.Ingest(r.Context(), anomaly.EventPayload{
		DeviceID: *body.DeviceID,
		Label:    *body.Label,
		Score:    *body.Score,
	})
	if err != nil {
		a.respondFailure(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, envelope{Success: true, ID: &reading.ID, Data: reading})
}

func (a *API) handleTrailingStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.store.TrailingStats(r.Context(), a.window)
	if err != nil {
		a.respondFailure(w, err)
		return
	}
	a.respondData(w, http.StatusOK, stats)
}

func (a *API) handleDeviceStats(w http.ResponseWriter, r *http.Request) {
	devices, err := a.store.DeviceStats(r.Context(), a.window)
	if err != nil {
		a.respondFailure(w, err)
		return
	}
	if devices == nil {
		devices = []anomaly.DeviceStats{}
	}
	a.respondList(w, len(devices), devices)
}

func (a *API) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = dateOf(a.store.clock.Now())
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		a.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid date %q: want YYYY-MM-DD", date))
		return
	}

	aggregate, found, err := a.store.DailyRollup(r.Context(), date)
	if err != nil {
		a.respondFailure(w, err)
		return
	}
	if !found {
		a.respondError(w, http.StatusNotFound, fmt.Sprintf("no rollup for %s", date))
		return
	}
	a.respondData(w, http.StatusOK, aggregate)
}
