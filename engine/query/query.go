// Package query assembles read-only views of a battery passport. Every call
// reads from a single transaction, so the parts of a view are consistent with
// each other.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/audit"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/provenance"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/metrics"
)

const tracerName = "github.com/lisacharuel/Hackaton-Battery-Passport/engine/query"

// Unknown fills placeholder fields of entities missing from the graph.
const Unknown = "Unknown"

// ErrNoCounter is returned by Stats when the store cannot count.
var ErrNoCounter = errors.New("query: store does not report counts")

// View is the stable field contract consumed by display layers.
type View struct {
	StaticInfo  domain.Battery  `json:"staticInfo"`
	Passport    domain.Passport `json:"passport"`
	Owner       domain.Actor    `json:"owner"`
	Location    domain.Location `json:"location"`
	Performance PerformanceView `json:"performance"`
	Events      []domain.Event  `json:"events"`
}

// PerformanceView is the latest snapshot, or zero metrics with Known false.
type PerformanceView struct {
	StateOfHealthPercent float64    `json:"stateOfHealthPercent"`
	FullCycles           int64      `json:"fullCycles"`
	OriginalPowerKW      float64    `json:"originalPowerkW"`
	CapacityFadePercent  float64    `json:"capacityFadePercent"`
	Timestamp            *time.Time `json:"timestamp"`
	Known                bool       `json:"known"`
}

// Integrity reports whether a passport's cached status agrees with its
// history and whether its location edges are sane.
type Integrity struct {
	PassportID     string        `json:"passportID"`
	Status         domain.Status `json:"status"`
	ReplayedStatus domain.Status `json:"replayedStatus"`
	Events         int           `json:"events"`
	LocatedAt      int           `json:"locatedAt"`
	OK             bool          `json:"ok"`
	Problems       []string      `json:"problems"`
}

// Stats holds graph counts.
type Stats struct {
	Nodes         map[string]int64 `json:"nodes"`
	Relationships map[string]int64 `json:"relationships"`
}

// Service answers read-only questions about passports.
type Service struct {
	store   provenance.Store
	counter provenance.Counter
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithCounter sets the source of Stats. By default the store is used when it
// implements provenance.Counter.
func WithCounter(c provenance.Counter) Option { return func(s *Service) { s.counter = c } }

// New creates a query Service.
func New(store provenance.Store, opts ...Option) *Service {
	s := &Service{store: store, log: slog.Default()}
	if c, ok := store.(provenance.Counter); ok {
		s.counter = c
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Lookup returns the full view of the battery with the given serial number.
func (s *Service) Lookup(ctx context.Context, serial string) (View, error) {
	ctx, done := s.begin(ctx, "lookup", serial)
	defer done()

	var v View
	err := s.store.Read(ctx, func(tx provenance.ReadTx) error {
		var err error
		v, err = lookup(ctx, tx, serial)
		return err
	})
	if err != nil {
		return View{}, domain.Infrastructure("lookup", err)
	}
	return v, nil
}

func lookup(ctx context.Context, tx provenance.ReadTx, serial string) (View, error) {
	b, err := tx.Battery(ctx, serial)
	if err != nil {
		return View{}, err
	}
	p, err := tx.Passport(ctx, serial)
	if err != nil {
		return View{}, err
	}
	v := View{StaticInfo: b, Passport: p}

	v.Owner = domain.Actor{ActorID: p.OwnerID, Name: Unknown, Role: Unknown}
	if p.OwnerID != "" {
		owner, err := tx.Actor(ctx, p.OwnerID)
		switch {
		case err == nil:
			v.Owner = owner
		case !errors.Is(err, domain.ErrNotFound):
			return View{}, err
		}
	}

	v.Location = domain.Location{Address: Unknown, Type: Unknown}
	locs, err := tx.CurrentLocations(ctx, serial)
	if err != nil {
		return View{}, err
	}
	if len(locs) > 0 {
		v.Location = locs[0]
	}

	perf, ok, err := tx.LatestPerformance(ctx, p.PassportID)
	if err != nil {
		return View{}, err
	}
	if ok {
		v.Performance = performanceView(perf)
	}

	if v.Events, err = tx.Events(ctx, p.PassportID); err != nil {
		return View{}, err
	}
	if v.Events == nil {
		v.Events = []domain.Event{}
	}
	return v, nil
}

func performanceView(p domain.Performance) PerformanceView {
	ts := p.Timestamp
	v := PerformanceView{Timestamp: &ts, Known: true}
	if p.StateOfHealthPercent != nil {
		v.StateOfHealthPercent = *p.StateOfHealthPercent
	}
	if p.FullCycles != nil {
		v.FullCycles = *p.FullCycles
	}
	if p.OriginalPowerKW != nil {
		v.OriginalPowerKW = *p.OriginalPowerKW
	}
	if p.CapacityFadePercent != nil {
		v.CapacityFadePercent = *p.CapacityFadePercent
	}
	return v
}

// History returns the passport's events ordered by timestamp.
func (s *Service) History(ctx context.Context, serial string) ([]domain.Event, error) {
	ctx, done := s.begin(ctx, "history", serial)
	defer done()

	var events []domain.Event
	err := s.store.Read(ctx, func(tx provenance.ReadTx) error {
		p, err := tx.Passport(ctx, serial)
		if err != nil {
			return err
		}
		events, err = tx.Events(ctx, p.PassportID)
		return err
	})
	if err != nil {
		return nil, domain.Infrastructure("history", err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	return events, nil
}

// CheckIntegrity replays the passport's history against its cached status
// and counts its current location edges.
func (s *Service) CheckIntegrity(ctx context.Context, serial string) (Integrity, error) {
	ctx, done := s.begin(ctx, "integrity", serial)
	defer done()

	var (
		p      domain.Passport
		events []domain.Event
		locs   []domain.Location
	)
	err := s.store.Read(ctx, func(tx provenance.ReadTx) error {
		var err error
		if p, err = tx.Passport(ctx, serial); err != nil {
			return err
		}
		if events, err = tx.Events(ctx, p.PassportID); err != nil {
			return err
		}
		locs, err = tx.CurrentLocations(ctx, serial)
		return err
	})
	if err != nil {
		return Integrity{}, domain.Infrastructure("integrity", err)
	}

	rep := Integrity{
		PassportID: p.PassportID,
		Status:     p.CurrentStatus,
		Events:     len(events),
		LocatedAt:  len(locs),
		Problems:   []string{},
	}
	replayed, err := audit.Replay(events)
	rep.ReplayedStatus = replayed
	if err != nil {
		rep.Problems = append(rep.Problems, err.Error())
	} else if replayed != p.CurrentStatus {
		rep.Problems = append(rep.Problems,
			fmt.Sprintf("status %s but history replays to %s", p.CurrentStatus, replayed))
	}
	if len(locs) > 1 {
		rep.Problems = append(rep.Problems, fmt.Sprintf("%d current LOCATED_AT edges", len(locs)))
	}
	rep.OK = len(rep.Problems) == 0
	if !rep.OK {
		s.log.WarnContext(ctx, "passport integrity problems", "passport", p.PassportID, "problems", rep.Problems)
	}
	return rep, nil
}

// Stats returns node counts by label and relationship counts by type.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	ctx, done := s.begin(ctx, "stats", "")
	defer done()

	if s.counter == nil {
		return Stats{}, ErrNoCounter
	}
	nodes, err := s.counter.NodeCounts(ctx)
	if err != nil {
		return Stats{}, domain.Infrastructure("stats", err)
	}
	rels, err := s.counter.RelationshipCounts(ctx)
	if err != nil {
		return Stats{}, domain.Infrastructure("stats", err)
	}
	return Stats{Nodes: nodes, Relationships: rels}, nil
}

func (s *Service) begin(ctx context.Context, op, serial string) (context.Context, func()) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "query."+op)
	if serial != "" {
		span.SetAttributes(attribute.String("passport.serial", serial))
	}
	return ctx, func() {
		s.metrics.ObserveQuery(op, start)
		span.End()
	}
}
