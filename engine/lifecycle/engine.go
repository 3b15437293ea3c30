// Package lifecycle implements the battery passport state machine. Every
// transition runs as one write transaction: lock and read the passport, check
// the guard in Go, write the new status and its audit Event together.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/audit"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/provenance"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/metrics"
)

const tracerName = "github.com/lisacharuel/Hackaton-Battery-Passport/engine/lifecycle"

// Notifier is told about every committed Event after its transaction has
// committed. Failures are logged and never undo the transition.
type Notifier interface {
	Notify(ctx context.Context, ev domain.Event) error
}

// Engine executes lifecycle transitions and registrations against a Store.
type Engine struct {
	store    provenance.Store
	audit    *audit.Writer
	log      *slog.Logger
	metrics  *metrics.Metrics
	notifier Notifier
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithNotifier sets the post-commit event notifier.
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithAuditWriter replaces the default audit writer.
func WithAuditWriter(w *audit.Writer) Option { return func(e *Engine) { e.audit = w } }

// New creates an Engine over store.
func New(store provenance.Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		audit: audit.NewWriter(),
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Result is the outcome of an applied or replayed transition.
type Result struct {
	Passport domain.Passport  `json:"passport"`
	Event    domain.Event     `json:"event"`
	Location *domain.Location `json:"location,omitempty"`
	// Replayed is true when the request's eventID had already been applied;
	// nothing was written.
	Replayed bool `json:"replayed"`
}

// DeclareWasteRequest asks a service center to flag a battery as waste.
type DeclareWasteRequest struct {
	SerialNumber string `json:"serialNumber"`
	ActorID      string `json:"actorId"`
	EventID      string `json:"eventId,omitempty"`
}

// ValidateWasteRequest is the owner's confirmation. Either SerialNumber or
// PassportID identifies the passport.
type ValidateWasteRequest struct {
	SerialNumber string `json:"serialNumber,omitempty"`
	PassportID   string `json:"passportID,omitempty"`
	OwnerID      string `json:"ownerId"`
	EventID      string `json:"eventId,omitempty"`
}

// ReceiveRequest records a sorting center taking the battery in.
type ReceiveRequest struct {
	SerialNumber string `json:"serialNumber"`
	CenterID     string `json:"centerId"`
	LocationID   string `json:"locationId"`
	EventID      string `json:"eventId,omitempty"`
}

// DeclareWaste moves ORIGINAL to WASTE_REQUESTED on behalf of a Garagiste.
func (e *Engine) DeclareWaste(ctx context.Context, req DeclareWasteRequest) (Result, error) {
	if err := firstErr(
		domain.RequireField("serialNumber", req.SerialNumber),
		domain.RequireField("actorId", req.ActorID),
	); err != nil {
		return Result{}, err
	}
	return e.apply(ctx, DeclareWasteTransition, command{
		serial:  strings.TrimSpace(req.SerialNumber),
		actorID: strings.TrimSpace(req.ActorID),
		eventID: strings.TrimSpace(req.EventID),
	})
}

// ValidateWaste moves WASTE_REQUESTED to WASTE when the requester is the
// passport's recorded owner.
func (e *Engine) ValidateWaste(ctx context.Context, req ValidateWasteRequest) (Result, error) {
	if strings.TrimSpace(req.SerialNumber) == "" && strings.TrimSpace(req.PassportID) == "" {
		return Result{}, domain.NewValidationError("serialNumber", "", domain.ErrEmptyField)
	}
	if err := domain.RequireField("ownerId", req.OwnerID); err != nil {
		return Result{}, err
	}
	return e.apply(ctx, ValidateWasteTransition, command{
		serial:     strings.TrimSpace(req.SerialNumber),
		passportID: strings.TrimSpace(req.PassportID),
		actorID:    strings.TrimSpace(req.OwnerID),
		eventID:    strings.TrimSpace(req.EventID),
	})
}

// ReceiveBattery moves WASTE to RECYCLED and relocates the battery to the
// sorting center's location.
func (e *Engine) ReceiveBattery(ctx context.Context, req ReceiveRequest) (Result, error) {
	if err := firstErr(
		domain.RequireField("serialNumber", req.SerialNumber),
		domain.RequireField("centerId", req.CenterID),
		domain.RequireField("locationId", req.LocationID),
	); err != nil {
		return Result{}, err
	}
	return e.apply(ctx, ReceiveBatteryTransition, command{
		serial:     strings.TrimSpace(req.SerialNumber),
		actorID:    strings.TrimSpace(req.CenterID),
		locationID: strings.TrimSpace(req.LocationID),
		eventID:    strings.TrimSpace(req.EventID),
	})
}

type command struct {
	serial     string
	passportID string
	actorID    string
	locationID string
	eventID    string
}

func (e *Engine) apply(ctx context.Context, t Transition, cmd command) (Result, error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "lifecycle."+t.Name)
	defer span.End()
	span.SetAttributes(
		attribute.String("passport.serial", cmd.serial),
		attribute.String("passport.id", cmd.passportID),
		attribute.String("actor.id", cmd.actorID),
	)

	var res Result
	err := e.store.Write(ctx, func(tx provenance.WriteTx) error {
		var err error
		res, err = e.execute(ctx, tx, t, cmd)
		return err
	})
	err = classify(t, err)

	outcome := Outcome(err, res.Replayed)
	e.metrics.ObserveTransition(t.Name, outcome, start)
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		e.logFailure(ctx, t, cmd, err)
		return Result{}, err
	}

	if res.Replayed {
		e.log.InfoContext(ctx, "transition replayed",
			"transition", t.Name,
			"passport", res.Passport.PassportID,
			"event", res.Event.EventID,
		)
		return res, nil
	}
	e.log.InfoContext(ctx, "transition applied",
		"transition", t.Name,
		"passport", res.Passport.PassportID,
		"status", res.Passport.CurrentStatus,
		"version", res.Passport.Version,
		"event", res.Event.EventID,
		"actor", res.Event.ActorID,
	)
	e.notify(ctx, res.Event)
	return res, nil
}

// execute runs inside the write transaction. Any error rolls it back.
func (e *Engine) execute(ctx context.Context, tx provenance.WriteTx, t Transition, cmd command) (Result, error) {
	serial := cmd.serial
	if serial == "" {
		p, err := tx.PassportByID(ctx, cmd.passportID)
		if err != nil {
			return Result{}, err
		}
		serial = p.SerialNumber
	}

	p, err := tx.LockPassport(ctx, serial)
	if err != nil {
		return Result{}, err
	}
	if cmd.passportID != "" && cmd.passportID != p.PassportID {
		return Result{}, domain.NotFound(domain.KindPassport, cmd.passportID)
	}

	if cmd.eventID != "" {
		if res, done, err := e.replay(ctx, tx, t, p, cmd.eventID); done || err != nil {
			return res, err
		}
	}

	var actor domain.Actor
	if !t.OwnerOnly {
		if actor, err = tx.Actor(ctx, cmd.actorID); err != nil {
			return Result{}, err
		}
	}
	if err := t.CheckIdentity(p, cmd.actorID, actor); err != nil {
		return Result{}, err
	}
	if err := t.CheckStatus(p); err != nil {
		return Result{}, err
	}

	var loc *domain.Location
	if cmd.locationID != "" {
		l, err := tx.Location(ctx, cmd.locationID)
		if err != nil {
			return Result{}, err
		}
		loc = &l
	}

	now := e.audit.Now()
	version, err := tx.SetStatus(ctx, p.PassportID, t.From, p.Version, t.To, now)
	if err != nil {
		return Result{}, err
	}
	if loc != nil {
		if err := tx.Relocate(ctx, serial, loc.LocationID, now); err != nil {
			return Result{}, err
		}
	}

	ev, err := e.audit.Record(ctx, tx, audit.Entry{
		EventID:     cmd.eventID,
		Transition:  t.Name,
		From:        t.From,
		To:          t.To,
		Version:     version,
		ActorID:     cmd.actorID,
		PassportID:  p.PassportID,
		Description: t.Description,
	})
	if err != nil {
		return Result{}, err
	}

	p.CurrentStatus = t.To
	p.Version = version
	p.UpdatedAt = now
	return Result{Passport: p, Event: ev, Location: loc}, nil
}

// replay reports done=true when eventID was already applied to p by t.
func (e *Engine) replay(ctx context.Context, tx provenance.WriteTx, t Transition, p domain.Passport, eventID string) (Result, bool, error) {
	ev, err := tx.Event(ctx, eventID)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}
	if ev.PassportID != p.PassportID || ev.Transition != t.Name {
		return Result{}, false, t.violation(domain.ReasonEventConflict, p.CurrentStatus,
			fmt.Sprintf("event %s already records %s on %s", eventID, ev.Transition, ev.PassportID))
	}
	res := Result{Passport: p, Event: ev, Replayed: true}
	if t.To == domain.StatusRecycled {
		if locs, err := tx.CurrentLocations(ctx, p.SerialNumber); err == nil && len(locs) > 0 {
			res.Location = &locs[0]
		}
	}
	return res, true, nil
}

func (e *Engine) notify(ctx context.Context, ev domain.Event) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.metrics.IncNotification("error")
		e.log.WarnContext(ctx, "event notification failed", "event", ev.EventID, "err", err)
		return
	}
	e.metrics.IncNotification("ok")
}

func (e *Engine) logFailure(ctx context.Context, t Transition, cmd command, err error) {
	attrs := []any{
		"transition", t.Name,
		"serial", cmd.serial,
		"passport", cmd.passportID,
		"actor", cmd.actorID,
		"err", err,
	}
	switch {
	case errors.Is(err, domain.ErrInfrastructure):
		e.log.ErrorContext(ctx, "transition failed", attrs...)
	default:
		e.log.InfoContext(ctx, "transition rejected", attrs...)
	}
}

// Outcome names the result of an engine call for metrics and logs.
func Outcome(err error, replayed bool) string {
	switch {
	case err == nil && replayed:
		return "replayed"
	case err == nil:
		return "applied"
	case errors.Is(err, domain.ErrGuardViolation):
		return "guard_violation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid"
	default:
		return "infrastructure"
	}
}

// classify maps store errors into the domain taxonomy.
func classify(t Transition, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, provenance.ErrEventExists):
		return t.violation(domain.ReasonEventConflict, "", "event id already recorded")
	case errors.Is(err, provenance.ErrConflict):
		return t.violation(domain.ReasonWrongStatus, "", "passport modified concurrently")
	}
	return domain.Infrastructure(t.Name, err)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
