package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/lifecycle"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/provenance"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/query"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/config"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/metrics"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/repo"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/resilience"
)

var testCfg = config.Config{CORSOrigin: "*", RateLimit: 1000, RateBurst: 1000}

type testAPI struct {
	handler http.Handler
	store   *provenance.MemStore
}

func newTestAPI(t *testing.T, opts ...provenance.MemOption) *testAPI {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := provenance.NewMemStore(opts...)
	store := provenance.Guard(mem, resilience.BreakerOpts{FailThreshold: 3, Timeout: time.Minute})
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	e := lifecycle.New(store, lifecycle.WithLogger(log), lifecycle.WithMetrics(m))
	_, err := e.Seed(context.Background())
	require.NoError(t, err)

	s := &server{
		engine:  e,
		query:   query.New(store, query.WithLogger(log), query.WithMetrics(m)),
		catalog: repo.NewMemCatalog(mem),
		log:     log,
	}
	return &testAPI{handler: s.routes(testCfg, reg), store: mem}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			rd = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *testAPI) register(t *testing.T, serial string) {
	t.Helper()
	rec := a.do(t, "POST", "/api/batteries", map[string]any{
		"battery":            map[string]any{"serialNumber": serial, "composition": "NMC", "massKg": 450},
		"ownerName":          "Renault",
		"manufacturingPlace": "Douai",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, "GET", "/api/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyEndpoint(t *testing.T) {
	api := newTestAPI(t)
	assert.Equal(t, http.StatusOK, api.do(t, "GET", "/api/ready", nil).Code)
}

func TestFullLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	api.register(t, "BAT-EV-0001")

	rec := api.do(t, "GET", "/api/battery/BAT-EV-0001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[query.View](t, rec)
	assert.Equal(t, domain.StatusOriginal, view.Passport.CurrentStatus)
	assert.Equal(t, "OP-Renault", view.Owner.ActorID)
	assert.Equal(t, "LOC-GARAGE", view.Location.LocationID)

	rec = api.do(t, "POST", "/api/garagiste/declare-waste", map[string]string{"serialNumber": "BAT-EV-0001", "actorId": "ACT-GARAGE"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[lifecycle.Result](t, rec)
	assert.Equal(t, domain.StatusWasteRequested, res.Passport.CurrentStatus)

	rec = api.do(t, "POST", "/api/owner/validate-waste", map[string]string{"passportID": "BP-BAT-EV-0001", "ownerId": "OP-Renault"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, "POST", "/api/triage/receive-battery", map[string]string{"serialNumber": "BAT-EV-0001", "centerId": "ACT-SORT", "locationId": "LOC-SORTING"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decodeBody[lifecycle.Result](t, rec)
	assert.Equal(t, domain.StatusRecycled, res.Passport.CurrentStatus)
	require.NotNil(t, res.Location)
	assert.Equal(t, "LOC-SORTING", res.Location.LocationID)

	rec = api.do(t, "GET", "/api/battery/BAT-EV-0001/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.Event](t, rec), 3)

	rec = api.do(t, "GET", "/api/battery/BAT-EV-0001/integrity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[query.Integrity](t, rec).OK)
}

func TestRegisterAgainReturns200(t *testing.T) {
	api := newTestAPI(t)
	api.register(t, "BAT-1")
	rec := api.do(t, "POST", "/api/batteries", map[string]any{"battery": map[string]any{"serialNumber": "BAT-1"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[lifecycle.Registered](t, rec).Created)
}

func TestErrorStatusMapping(t *testing.T) {
	api := newTestAPI(t)
	api.register(t, "BAT-1")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		code   int
		reason string
	}{
		{"unknown battery", "GET", "/api/battery/BAT-404", nil, http.StatusNotFound, ""},
		{"malformed json", "POST", "/api/garagiste/declare-waste", "{", http.StatusBadRequest, ""},
		{"unknown field", "POST", "/api/garagiste/declare-waste", `{"serial":"BAT-1"}`, http.StatusBadRequest, ""},
		{"missing serial", "POST", "/api/batteries", map[string]any{"battery": map[string]any{}}, http.StatusBadRequest, ""},
		{"wrong role", "POST", "/api/garagiste/declare-waste", map[string]string{"serialNumber": "BAT-1", "actorId": "ACT-SORT"}, http.StatusForbidden, "wrong_role"},
		{"not owner", "POST", "/api/owner/validate-waste", map[string]string{"serialNumber": "BAT-1", "ownerId": "OP-Peugeot"}, http.StatusForbidden, "not_owner"},
		{"wrong status", "POST", "/api/owner/validate-waste", map[string]string{"serialNumber": "BAT-1", "ownerId": "OP-Renault"}, http.StatusConflict, "wrong_status"},
		{"unknown actor", "POST", "/api/garagiste/declare-waste", map[string]string{"serialNumber": "BAT-1", "actorId": "ACT-NOPE"}, http.StatusNotFound, ""},
		{"bad perf", "POST", "/api/batteries/BAT-1/performance", map[string]any{"stateOfHealthPercent": 140}, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			body := decodeBody[ErrorResponse](t, rec)
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, tt.reason, body.Reason)
		})
	}
}

func TestEventConflictIs409(t *testing.T) {
	api := newTestAPI(t)
	api.register(t, "BAT-1")
	api.register(t, "BAT-2")

	rec := api.do(t, "POST", "/api/garagiste/declare-waste", map[string]string{"serialNumber": "BAT-1", "actorId": "ACT-GARAGE", "eventId": "EVT-shared"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, "POST", "/api/garagiste/declare-waste", map[string]string{"serialNumber": "BAT-1", "actorId": "ACT-GARAGE", "eventId": "EVT-shared"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[lifecycle.Result](t, rec).Replayed)

	rec = api.do(t, "POST", "/api/garagiste/declare-waste", map[string]string{"serialNumber": "BAT-2", "actorId": "ACT-GARAGE", "eventId": "EVT-shared"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "event_conflict", decodeBody[ErrorResponse](t, rec).Reason)
}

func TestInfrastructureFailureIs503AndTripsBreaker(t *testing.T) {
	api := newTestAPI(t, provenance.WithFault(func(op string) error {
		if op == "SetStatus" {
			return errors.New("disk unavailable")
		}
		return nil
	}))
	api.register(t, "BAT-1")

	for i := 0; i < 3; i++ {
		rec := api.do(t, "POST", "/api/garagiste/declare-waste", map[string]string{"serialNumber": "BAT-1", "actorId": "ACT-GARAGE"})
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.NotContains(t, rec.Body.String(), "disk unavailable")
	}

	// Breaker is open now; even reads are refused.
	rec := api.do(t, "GET", "/api/battery/BAT-1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, domain.StatusOriginal, api.store.Snapshot().Passports["BP-BAT-1"].CurrentStatus)
}

func TestReferenceDataEndpoints(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, "POST", "/api/actors", domain.Actor{ActorID: "ACT-NEW", Name: "New Garage", Role: domain.RoleGaragiste})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = api.do(t, "POST", "/api/actors", domain.Actor{ActorID: "ACT-NEW", Name: "Renamed", Role: domain.RoleGaragiste})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "New Garage", decodeBody[lifecycle.Merged[domain.Actor]](t, rec).Stored.Name)

	rec = api.do(t, "POST", "/api/actors", domain.Actor{ActorID: "ACT-BAD", Role: "Pirate"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, "GET", "/api/actors?role=Garagiste", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	actors := decodeBody[[]domain.Actor](t, rec)
	require.Len(t, actors, 2)
	assert.Equal(t, "ACT-GARAGE", actors[0].ActorID)

	rec = api.do(t, "GET", "/api/actors?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, "POST", "/api/locations", domain.Location{LocationID: "LOC-NEW", Address: "1 Rue", Type: domain.LocationGarage})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = api.do(t, "GET", "/api/locations/LOC-NEW", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1 Rue", decodeBody[domain.Location](t, rec).Address)

	assert.Equal(t, http.StatusNotFound, api.do(t, "GET", "/api/locations/LOC-NOPE", nil).Code)
}

func TestRecordPerformanceAndStats(t *testing.T) {
	api := newTestAPI(t)
	api.register(t, "BAT-1")

	rec := api.do(t, "POST", "/api/batteries/BAT-1/performance", map[string]any{"stateOfHealthPercent": 87.5, "fullCycles": 420})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(2), decodeBody[domain.Passport](t, rec).Version)

	rec = api.do(t, "GET", "/api/battery/BAT-1", nil)
	perf := decodeBody[query.View](t, rec).Performance
	assert.True(t, perf.Known)
	assert.Equal(t, 87.5, perf.StateOfHealthPercent)

	rec = api.do(t, "GET", "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[query.Stats](t, rec)
	assert.Equal(t, int64(1), st.Nodes[provenance.LabelBattery])
	assert.Equal(t, int64(1), st.Nodes[provenance.LabelPerformance])
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.register(t, "BAT-1")
	api.do(t, "POST", "/api/garagiste/declare-waste", map[string]string{"serialNumber": "BAT-1", "actorId": "ACT-GARAGE"})

	rec := api.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "passport_registrations_total")
}

func TestRateLimitOnWrites(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := provenance.NewMemStore()
	s := &server{
		engine:  lifecycle.New(mem, lifecycle.WithLogger(log)),
		query:   query.New(mem),
		catalog: repo.NewMemCatalog(mem),
		log:     log,
	}
	h := s.routes(config.Config{CORSOrigin: "*", RateLimit: 0.001, RateBurst: 1}, prometheus.NewRegistry())

	post := func() int {
		req := httptest.NewRequest("POST", "/api/actors", strings.NewReader(`{"actorID":"A","role":"Garagiste"}`))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusCreated, post())
	assert.Equal(t, http.StatusTooManyRequests, post())

	// Reads are not limited.
	req := httptest.NewRequest("GET", "/api/actors/A", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorResponseMapping(t *testing.T) {
	code, body := errorResponse(domain.Infrastructure("write", resilience.ErrCircuitOpen))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body.Error)

	code, _ = errorResponse(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, code)
}
