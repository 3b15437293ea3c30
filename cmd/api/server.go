package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/lifecycle"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/query"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/config"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/metrics"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/mid"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/repo"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/resilience"
)

// maxBody caps JSON request bodies.
const maxBody = 1 << 20

type server struct {
	engine  *lifecycle.Engine
	query   *query.Service
	catalog repo.Catalog
	ping    func(context.Context) error
	log     *slog.Logger
}

func (s *server) routes(cfg config.Config, g prometheus.Gatherer) http.Handler {
	limiter := resilience.NewKeyedLimiter(resilience.LimiterOpts{Rate: cfg.RateLimit, Burst: cfg.RateBurst})

	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", metrics.Handler(g))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/battery/{serialNumber}", s.handleLookup)
		r.Get("/battery/{serialNumber}/events", s.handleHistory)
		r.Get("/battery/{serialNumber}/integrity", s.handleIntegrity)
		r.Get("/stats", s.handleStats)
		r.Get("/actors", s.handleListActors)
		r.Get("/actors/{id}", s.handleGetActor)
		r.Get("/locations", s.handleListLocations)
		r.Get("/locations/{id}", s.handleGetLocation)

		r.Group(func(r chi.Router) {
			r.Use(mid.RateLimit(limiter))
			r.Post("/batteries", s.handleRegister)
			r.Post("/batteries/{serialNumber}/performance", s.handleRecordPerformance)
			r.Post("/actors", s.handleRegisterActor)
			r.Post("/locations", s.handleRegisterLocation)
			r.Post("/garagiste/declare-waste", s.handleDeclareWaste)
			r.Post("/owner/validate-waste", s.handleValidateWaste)
			r.Post("/triage/receive-battery", s.handleReceive)
		})
	})

	return mid.Chain(r,
		mid.RequestID(),
		mid.Recover(s.log),
		mid.Logger(s.log),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("passport-api"),
	)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			s.log.Warn("readiness check failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *server) handleLookup(w http.ResponseWriter, r *http.Request) {
	v, err := s.query.Lookup(r.Context(), chi.URLParam(r, "serialNumber"))
	s.respond(w, r, http.StatusOK, v, err)
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.query.History(r.Context(), chi.URLParam(r, "serialNumber"))
	if events == nil {
		events = []domain.Event{}
	}
	s.respond(w, r, http.StatusOK, events, err)
}

func (s *server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.query.CheckIntegrity(r.Context(), chi.URLParam(r, "serialNumber"))
	s.respond(w, r, http.StatusOK, report, err)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.query.Stats(r.Context())
	if errors.Is(err, query.ErrNoCounter) {
		writeError(w, http.StatusNotImplemented, "unsupported", err.Error())
		return
	}
	s.respond(w, r, http.StatusOK, st, err)
}

func (s *server) handleListActors(w http.ResponseWriter, r *http.Request) {
	opts, ok := listOpts(w, r, "role")
	if !ok {
		return
	}
	actors, err := s.catalog.Actors.List(r.Context(), opts)
	s.respond(w, r, http.StatusOK, actors, err)
}

func (s *server) handleGetActor(w http.ResponseWriter, r *http.Request) {
	a, err := s.catalog.Actors.Get(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, a, err)
}

func (s *server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	opts, ok := listOpts(w, r, "type")
	if !ok {
		return
	}
	locs, err := s.catalog.Locations.List(r.Context(), opts)
	s.respond(w, r, http.StatusOK, locs, err)
}

func (s *server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	l, err := s.catalog.Locations.Get(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, l, err)
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg domain.Registration
	if !decode(w, r, &reg) {
		return
	}
	out, err := s.engine.Register(r.Context(), reg)
	status := http.StatusOK
	if out.Created {
		status = http.StatusCreated
	}
	s.respond(w, r, status, out, err)
}

func (s *server) handleRecordPerformance(w http.ResponseWriter, r *http.Request) {
	var perf domain.Performance
	if !decode(w, r, &perf) {
		return
	}
	p, err := s.engine.RecordPerformance(r.Context(), chi.URLParam(r, "serialNumber"), perf)
	s.respond(w, r, http.StatusCreated, p, err)
}

func (s *server) handleRegisterActor(w http.ResponseWriter, r *http.Request) {
	var a domain.Actor
	if !decode(w, r, &a) {
		return
	}
	out, err := s.engine.RegisterActor(r.Context(), a)
	s.respond(w, r, mergedStatus(out.Created), out, err)
}

func (s *server) handleRegisterLocation(w http.ResponseWriter, r *http.Request) {
	var l domain.Location
	if !decode(w, r, &l) {
		return
	}
	out, err := s.engine.RegisterLocation(r.Context(), l)
	s.respond(w, r, mergedStatus(out.Created), out, err)
}

func (s *server) handleDeclareWaste(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.DeclareWasteRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.engine.DeclareWaste(r.Context(), req)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *server) handleValidateWaste(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.ValidateWasteRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.engine.ValidateWaste(r.Context(), req)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *server) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.ReceiveRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.engine.ReceiveBattery(r.Context(), req)
	s.respond(w, r, http.StatusOK, res, err)
}

// --- Helpers ---

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	Status  string `json:"status,omitempty"`
}

func (s *server) respond(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err == nil {
		writeJSON(w, status, v)
		return
	}
	code, body := errorResponse(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed",
			"path", r.URL.Path,
			"request_id", mid.RequestIDFrom(r.Context()),
			"err", err)
	}
	writeJSON(w, code, body)
}

// errorResponse maps the domain error taxonomy to an HTTP status.
func errorResponse(err error) (int, ErrorResponse) {
	var gv *domain.GuardViolation
	switch {
	case errors.As(err, &gv):
		code := http.StatusConflict
		if gv.Reason == domain.ReasonWrongRole || gv.Reason == domain.ReasonNotOwner {
			code = http.StatusForbidden
		}
		return code, ErrorResponse{
			Error:   "guard_violation",
			Message: err.Error(),
			Reason:  string(gv.Reason),
			Status:  string(gv.Status),
		}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid_input", Message: err.Error()}
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, domain.ErrInfrastructure):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "unavailable", Message: "storage temporarily unavailable"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "unavailable", Message: err.Error()}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: "internal server error"}
}

func mergedStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body: "+err.Error())
		return false
	}
	return true
}

func listOpts(w http.ResponseWriter, r *http.Request, filterKey string) (repo.ListOpts, bool) {
	q := r.URL.Query()
	var opts repo.ListOpts
	for key, dst := range map[string]*int{"offset": &opts.Offset, "limit": &opts.Limit} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", key+" must be a non-negative integer")
			return opts, false
		}
		*dst = n
	}
	if v := q.Get(filterKey); v != "" {
		opts.Filter = map[string]any{filterKey: v}
	}
	return opts, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, ErrorResponse{Error: kind, Message: msg})
}
