package lifecycle

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/provenance"
)

// DefaultLocationID is where newly registered batteries are placed when the
// registration names no current location and the location exists.
const DefaultLocationID = "LOC-GARAGE"

// Registered is the outcome of Register.
type Registered struct {
	Passport domain.Passport `json:"passport"`
	Created  bool            `json:"created"`
}

// Register creates a battery with its passport in ORIGINAL, or updates the
// static attributes of an existing one. Owner, status and edges of an
// existing battery are never touched.
func (e *Engine) Register(ctx context.Context, reg domain.Registration) (Registered, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "lifecycle.register")
	defer span.End()

	reg.Normalize()
	if err := domain.ValidateRegistration(reg); err != nil {
		e.metrics.IncRegistration("invalid")
		return Registered{}, err
	}
	span.SetAttributes(attribute.String("passport.serial", reg.Battery.SerialNumber))

	var out Registered
	err := e.store.Write(ctx, func(tx provenance.WriteTx) error {
		var err error
		out, err = e.register(ctx, tx, reg)
		return err
	})
	if err != nil {
		err = domain.Infrastructure("register", err)
		e.metrics.IncRegistration("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, Outcome(err, false))
		e.log.WarnContext(ctx, "registration failed", "serial", reg.Battery.SerialNumber, "err", err)
		return Registered{}, err
	}

	outcome := "updated"
	if out.Created {
		outcome = "created"
	}
	e.metrics.IncRegistration(outcome)
	e.log.InfoContext(ctx, "battery registered",
		"serial", reg.Battery.SerialNumber,
		"passport", out.Passport.PassportID,
		"owner", out.Passport.OwnerID,
		"outcome", outcome,
	)
	return out, nil
}

func (e *Engine) register(ctx context.Context, tx provenance.WriteTx, reg domain.Registration) (Registered, error) {
	now := e.audit.Now()
	serial := reg.Battery.SerialNumber

	if _, _, err := tx.MergeActor(ctx, domain.Actor{
		ActorID: reg.OwnerID,
		Name:    reg.OwnerName,
		Role:    domain.RoleOwner,
	}); err != nil {
		return Registered{}, err
	}
	if _, _, err := tx.MergeLocation(ctx, domain.Location{
		LocationID: reg.ManufacturingLocationID,
		Address:    reg.ManufacturingPlace,
		Type:       domain.LocationManufacturingPlant,
	}); err != nil {
		return Registered{}, err
	}

	b := reg.Battery
	b.CreatedAt = now
	created, err := tx.CreateBattery(ctx, provenance.BatteryRecord{
		Battery: b,
		Passport: domain.Passport{
			PassportID:            domain.PassportID(serial),
			SerialNumber:          serial,
			CurrentStatus:         domain.StatusOriginal,
			Version:               1,
			CommissioningDate:     reg.Passport.CommissioningDate,
			WarrantyDurationYears: reg.Passport.WarrantyDurationYears,
			CreatedAt:             now,
			UpdatedAt:             now,
		},
		OwnerID:                 reg.OwnerID,
		ManufacturingLocationID: reg.ManufacturingLocationID,
	})
	if err != nil {
		return Registered{}, err
	}

	if !created {
		if err := tx.UpdateBattery(ctx, b); err != nil {
			return Registered{}, err
		}
		p, err := tx.Passport(ctx, serial)
		if err != nil {
			return Registered{}, err
		}
		return Registered{Passport: p}, nil
	}

	locID, err := initialLocation(ctx, tx, reg.CurrentLocationID)
	if err != nil {
		return Registered{}, err
	}
	if locID != "" {
		if err := tx.Relocate(ctx, serial, locID, now); err != nil {
			return Registered{}, err
		}
	}
	if reg.Performance != nil {
		perf := *reg.Performance
		if perf.Timestamp.IsZero() {
			perf.Timestamp = now
		}
		if _, err := tx.AppendPerformance(ctx, domain.PassportID(serial), perf); err != nil {
			return Registered{}, err
		}
	}

	p, err := tx.Passport(ctx, serial)
	if err != nil {
		return Registered{}, err
	}
	return Registered{Passport: p, Created: true}, nil
}

// initialLocation resolves the first LOCATED_AT target. An explicit ID must
// exist; without one the default garage is used when present.
func initialLocation(ctx context.Context, tx provenance.WriteTx, id string) (string, error) {
	if id != "" {
		if _, err := tx.Location(ctx, id); err != nil {
			return "", err
		}
		return id, nil
	}
	_, err := tx.Location(ctx, DefaultLocationID)
	switch {
	case err == nil:
		return DefaultLocationID, nil
	case errors.Is(err, domain.ErrNotFound):
		return "", nil
	default:
		return "", err
	}
}

// Merged is the outcome of a merge-on-key registration. Stored holds the
// attributes in the graph, which are the first ones ever registered.
type Merged[T any] struct {
	Stored  T    `json:"stored"`
	Created bool `json:"created"`
}

// RegisterActor creates the actor if its ID is unknown.
func (e *Engine) RegisterActor(ctx context.Context, a domain.Actor) (Merged[domain.Actor], error) {
	if err := domain.ValidateActor(a); err != nil {
		return Merged[domain.Actor]{}, err
	}
	var out Merged[domain.Actor]
	err := e.store.Write(ctx, func(tx provenance.WriteTx) error {
		var err error
		out.Stored, out.Created, err = tx.MergeActor(ctx, a)
		return err
	})
	if err != nil {
		return Merged[domain.Actor]{}, domain.Infrastructure("register actor", err)
	}
	e.log.InfoContext(ctx, "actor merged", "actor", out.Stored.ActorID, "role", out.Stored.Role, "created", out.Created)
	return out, nil
}

// RegisterLocation creates the location if its ID is unknown.
func (e *Engine) RegisterLocation(ctx context.Context, l domain.Location) (Merged[domain.Location], error) {
	if err := domain.ValidateLocation(l); err != nil {
		return Merged[domain.Location]{}, err
	}
	var out Merged[domain.Location]
	err := e.store.Write(ctx, func(tx provenance.WriteTx) error {
		var err error
		out.Stored, out.Created, err = tx.MergeLocation(ctx, l)
		return err
	})
	if err != nil {
		return Merged[domain.Location]{}, domain.Infrastructure("register location", err)
	}
	e.log.InfoContext(ctx, "location merged", "location", out.Stored.LocationID, "created", out.Created)
	return out, nil
}

// RecordPerformance appends a health snapshot to the battery's passport and
// returns the passport at its new version.
func (e *Engine) RecordPerformance(ctx context.Context, serial string, perf domain.Performance) (domain.Passport, error) {
	if err := domain.RequireField("serialNumber", serial); err != nil {
		return domain.Passport{}, err
	}
	if err := domain.ValidatePerformance(perf); err != nil {
		return domain.Passport{}, err
	}
	start := time.Now()

	var p domain.Passport
	err := e.store.Write(ctx, func(tx provenance.WriteTx) error {
		var err error
		if p, err = tx.LockPassport(ctx, serial); err != nil {
			return err
		}
		if perf.Timestamp.IsZero() {
			perf.Timestamp = e.audit.Now()
		}
		if p.Version, err = tx.AppendPerformance(ctx, p.PassportID, perf); err != nil {
			return err
		}
		p.UpdatedAt = perf.Timestamp
		return nil
	})
	e.metrics.ObserveQuery("record_performance", start)
	if err != nil {
		return domain.Passport{}, domain.Infrastructure("record performance", err)
	}
	e.log.InfoContext(ctx, "performance recorded", "passport", p.PassportID, "version", p.Version)
	return p, nil
}
