package provenance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
)

// LocatedEdge is one LOCATED_AT relationship.
type LocatedEdge struct {
	LocationID string
	Since      time.Time
}

// Snapshot is a full copy of an in-memory graph.
type Snapshot struct {
	Batteries      map[string]domain.Battery
	Passports      map[string]domain.Passport // by passportID
	Actors         map[string]domain.Actor
	Locations      map[string]domain.Location
	ManufacturedAt map[string]string        // serial -> locationID
	LocatedAt      map[string][]LocatedEdge // serial -> edges
	Performance    map[string][]domain.Performance
	Events         map[string]domain.Event
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		Batteries:      make(map[string]domain.Battery),
		Passports:      make(map[string]domain.Passport),
		Actors:         make(map[string]domain.Actor),
		Locations:      make(map[string]domain.Location),
		ManufacturedAt: make(map[string]string),
		LocatedAt:      make(map[string][]LocatedEdge),
		Performance:    make(map[string][]domain.Performance),
		Events:         make(map[string]domain.Event),
	}
}

func (s *Snapshot) clone() *Snapshot {
	c := newSnapshot()
	for k, v := range s.Batteries {
		c.Batteries[k] = v
	}
	for k, v := range s.Passports {
		c.Passports[k] = v
	}
	for k, v := range s.Actors {
		c.Actors[k] = v
	}
	for k, v := range s.Locations {
		c.Locations[k] = v
	}
	for k, v := range s.ManufacturedAt {
		c.ManufacturedAt[k] = v
	}
	for k, v := range s.LocatedAt {
		c.LocatedAt[k] = append([]LocatedEdge(nil), v...)
	}
	for k, v := range s.Performance {
		c.Performance[k] = append([]domain.Performance(nil), v...)
	}
	for k, v := range s.Events {
		c.Events[k] = v
	}
	return c
}

// MemStore is an in-memory Store. Writers are serialised and work on a copy
// of the graph that replaces the committed one only when fn succeeds, so a
// failed transaction leaves no trace and readers always see a committed
// snapshot.
type MemStore struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	g       *Snapshot
	fault   func(op string) error
}

// MemOption configures a MemStore.
type MemOption func(*MemStore)

// WithFault installs a hook consulted before every write operation; a
// non-nil error makes that operation fail.
func WithFault(f func(op string) error) MemOption {
	return func(s *MemStore) { s.fault = f }
}

// NewMemStore creates an empty in-memory store.
func NewMemStore(opts ...MemOption) *MemStore {
	s := &MemStore{g: newSnapshot()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Compile-time interface checks.
var (
	_ Store   = (*MemStore)(nil)
	_ Counter = (*MemStore)(nil)
)

// Snapshot returns a deep copy of the committed graph.
func (s *MemStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.g.clone()
}

func (s *MemStore) committed() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.g
}

// Read runs fn against the latest committed snapshot.
func (s *MemStore) Read(ctx context.Context, fn func(ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&memTx{g: s.committed()})
}

// Write runs fn against a private copy and commits it if fn returns nil.
func (s *MemStore) Write(ctx context.Context, fn func(WriteTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	staged := s.committed().clone()
	if err := fn(&memTx{g: staged, fault: s.fault}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.g = staged
	s.mu.Unlock()
	return nil
}

// NodeCounts returns node counts grouped by label.
func (s *MemStore) NodeCounts(_ context.Context) (map[string]int64, error) {
	g := s.committed()
	var perf int
	for _, ps := range g.Performance {
		perf += len(ps)
	}
	return map[string]int64{
		LabelBattery:     int64(len(g.Batteries)),
		LabelPassport:    int64(len(g.Passports)),
		LabelActor:       int64(len(g.Actors)),
		LabelLocation:    int64(len(g.Locations)),
		LabelPerformance: int64(perf),
		LabelEvent:       int64(len(g.Events)),
	}, nil
}

// RelationshipCounts returns relationship counts grouped by type.
func (s *MemStore) RelationshipCounts(_ context.Context) (map[string]int64, error) {
	g := s.committed()
	counts := map[string]int64{
		RelHasPassport:    int64(len(g.Passports)),
		RelManufacturedAt: int64(len(g.ManufacturedAt)),
		RelPerforms:       int64(len(g.Events)),
		RelAffects:        int64(len(g.Events)),
	}
	for _, p := range g.Passports {
		if p.OwnerID != "" {
			counts[RelHasOwner]++
		}
	}
	for _, edges := range g.LocatedAt {
		counts[RelLocatedAt] += int64(len(edges))
	}
	for _, ps := range g.Performance {
		counts[RelHasPerformance] += int64(len(ps))
	}
	return counts, nil
}

type memTx struct {
	g     *Snapshot
	fault func(op string) error
}

func (t *memTx) check(op string) error {
	if t.fault == nil {
		return nil
	}
	return t.fault(op)
}

func (t *memTx) Battery(_ context.Context, serial string) (domain.Battery, error) {
	b, ok := t.g.Batteries[serial]
	if !ok {
		return domain.Battery{}, domain.NotFound(domain.KindBattery, serial)
	}
	return b, nil
}

func (t *memTx) Passport(_ context.Context, serial string) (domain.Passport, error) {
	if _, ok := t.g.Batteries[serial]; !ok {
		return domain.Passport{}, domain.NotFound(domain.KindBattery, serial)
	}
	p, ok := t.g.Passports[domain.PassportID(serial)]
	if !ok {
		return domain.Passport{}, domain.NotFound(domain.KindPassport, domain.PassportID(serial))
	}
	return p, nil
}

func (t *memTx) PassportByID(_ context.Context, passportID string) (domain.Passport, error) {
	p, ok := t.g.Passports[passportID]
	if !ok {
		return domain.Passport{}, domain.NotFound(domain.KindPassport, passportID)
	}
	return p, nil
}

func (t *memTx) Actor(_ context.Context, actorID string) (domain.Actor, error) {
	a, ok := t.g.Actors[actorID]
	if !ok {
		return domain.Actor{}, domain.NotFound(domain.KindActor, actorID)
	}
	return a, nil
}

func (t *memTx) Location(_ context.Context, locationID string) (domain.Location, error) {
	l, ok := t.g.Locations[locationID]
	if !ok {
		return domain.Location{}, domain.NotFound(domain.KindLocation, locationID)
	}
	return l, nil
}

func (t *memTx) Event(_ context.Context, eventID string) (domain.Event, error) {
	e, ok := t.g.Events[eventID]
	if !ok {
		return domain.Event{}, domain.NotFound(domain.KindEvent, eventID)
	}
	return e, nil
}

func (t *memTx) CurrentLocations(_ context.Context, serial string) ([]domain.Location, error) {
	edges := t.g.LocatedAt[serial]
	out := make([]domain.Location, 0, len(edges))
	for _, e := range edges {
		out = append(out, t.g.Locations[e.LocationID])
	}
	return out, nil
}

func (t *memTx) LatestPerformance(_ context.Context, passportID string) (domain.Performance, bool, error) {
	var (
		latest domain.Performance
		found  bool
	)
	for _, p := range t.g.Performance[passportID] {
		if !found || !p.Timestamp.Before(latest.Timestamp) {
			latest, found = p, true
		}
	}
	return latest, found, nil
}

func (t *memTx) Events(_ context.Context, passportID string) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range t.g.Events {
		if e.PassportID == passportID {
			out = append(out, e)
		}
	}
	SortEvents(out)
	return out, nil
}

func (t *memTx) LockPassport(ctx context.Context, serial string) (domain.Passport, error) {
	// The whole write transaction already holds the store's writer lock.
	return t.Passport(ctx, serial)
}

func (t *memTx) MergeActor(_ context.Context, a domain.Actor) (domain.Actor, bool, error) {
	if err := t.check("MergeActor"); err != nil {
		return domain.Actor{}, false, err
	}
	if existing, ok := t.g.Actors[a.ActorID]; ok {
		return existing, false, nil
	}
	t.g.Actors[a.ActorID] = a
	return a, true, nil
}

func (t *memTx) MergeLocation(_ context.Context, l domain.Location) (domain.Location, bool, error) {
	if err := t.check("MergeLocation"); err != nil {
		return domain.Location{}, false, err
	}
	if existing, ok := t.g.Locations[l.LocationID]; ok {
		return existing, false, nil
	}
	t.g.Locations[l.LocationID] = l
	return l, true, nil
}

func (t *memTx) CreateBattery(_ context.Context, rec BatteryRecord) (bool, error) {
	if err := t.check("CreateBattery"); err != nil {
		return false, err
	}
	serial := rec.Battery.SerialNumber
	if _, ok := t.g.Batteries[serial]; ok {
		return false, nil
	}
	if _, ok := t.g.Actors[rec.OwnerID]; !ok {
		return false, domain.NotFound(domain.KindActor, rec.OwnerID)
	}
	if _, ok := t.g.Locations[rec.ManufacturingLocationID]; !ok {
		return false, domain.NotFound(domain.KindLocation, rec.ManufacturingLocationID)
	}
	p := rec.Passport
	p.SerialNumber = serial
	p.OwnerID = rec.OwnerID
	t.g.Batteries[serial] = rec.Battery
	t.g.Passports[p.PassportID] = p
	t.g.ManufacturedAt[serial] = rec.ManufacturingLocationID
	return true, nil
}

func (t *memTx) UpdateBattery(_ context.Context, b domain.Battery) error {
	if err := t.check("UpdateBattery"); err != nil {
		return err
	}
	existing, ok := t.g.Batteries[b.SerialNumber]
	if !ok {
		return domain.NotFound(domain.KindBattery, b.SerialNumber)
	}
	b.CreatedAt = existing.CreatedAt
	t.g.Batteries[b.SerialNumber] = b
	return nil
}

func (t *memTx) SetStatus(_ context.Context, passportID string, from domain.Status, version int64, to domain.Status, at time.Time) (int64, error) {
	if err := t.check("SetStatus"); err != nil {
		return 0, err
	}
	p, ok := t.g.Passports[passportID]
	if !ok {
		return 0, domain.NotFound(domain.KindPassport, passportID)
	}
	if p.CurrentStatus != from || p.Version != version {
		return 0, ErrConflict
	}
	p.CurrentStatus = to
	p.Version++
	p.UpdatedAt = at
	t.g.Passports[passportID] = p
	return p.Version, nil
}

func (t *memTx) Relocate(_ context.Context, serial, locationID string, at time.Time) error {
	if err := t.check("Relocate"); err != nil {
		return err
	}
	if _, ok := t.g.Batteries[serial]; !ok {
		return domain.NotFound(domain.KindBattery, serial)
	}
	if _, ok := t.g.Locations[locationID]; !ok {
		return domain.NotFound(domain.KindLocation, locationID)
	}
	t.g.LocatedAt[serial] = []LocatedEdge{{LocationID: locationID, Since: at}}
	return nil
}

func (t *memTx) AppendPerformance(_ context.Context, passportID string, perf domain.Performance) (int64, error) {
	if err := t.check("AppendPerformance"); err != nil {
		return 0, err
	}
	p, ok := t.g.Passports[passportID]
	if !ok {
		return 0, domain.NotFound(domain.KindPassport, passportID)
	}
	t.g.Performance[passportID] = append(t.g.Performance[passportID], perf)
	p.Version++
	p.UpdatedAt = perf.Timestamp
	t.g.Passports[passportID] = p
	return p.Version, nil
}

func (t *memTx) AppendEvent(_ context.Context, e domain.Event) error {
	if err := t.check("AppendEvent"); err != nil {
		return err
	}
	if _, ok := t.g.Events[e.EventID]; ok {
		return fmt.Errorf("append %s: %w", e.EventID, ErrEventExists)
	}
	if _, ok := t.g.Actors[e.ActorID]; !ok {
		return domain.NotFound(domain.KindActor, e.ActorID)
	}
	if _, ok := t.g.Passports[e.PassportID]; !ok {
		return domain.NotFound(domain.KindPassport, e.PassportID)
	}
	t.g.Events[e.EventID] = e
	return nil
}

// SortEvents orders events by the passport version they produced. Versions
// follow commit order, so a clock step backwards cannot reorder history.
func SortEvents(events []domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Version != events[j].Version {
			return events[i].Version < events[j].Version
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
