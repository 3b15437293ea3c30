// Package provenance defines the transactional view of the battery provenance
// graph. Stores implement Store; the lifecycle engine, audit writer and query
// service only ever see ReadTx and WriteTx, so guards are evaluated in Go on
// values looked up by key.
package provenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
)

// ErrConflict is returned by compare-and-set writes when the passport changed
// since it was read.
var ErrConflict = errors.New("provenance: concurrent modification")

// ErrEventExists is returned by AppendEvent when the event ID is already
// recorded. It wraps ErrConflict.
var ErrEventExists = fmt.Errorf("%w: event id already recorded", ErrConflict)

// Relationship types of the provenance graph.
const (
	RelHasPassport    = "HAS_PASSPORT"
	RelHasOwner       = "HAS_OWNER"
	RelManufacturedAt = "MANUFACTURED_AT"
	RelLocatedAt      = "LOCATED_AT"
	RelHasPerformance = "HAS_PERFORMANCE"
	RelPerforms       = "PERFORMS"
	RelAffects        = "AFFECTS"
)

// Node labels of the provenance graph.
const (
	LabelBattery     = "Battery"
	LabelPassport    = "BatteryPassport"
	LabelActor       = "Actor"
	LabelLocation    = "Location"
	LabelPerformance = "Performance"
	LabelEvent       = "Event"
)

// ReadTx is a consistent read view. Lookups of a single entity return a
// domain.NotFoundError when the key is unknown.
type ReadTx interface {
	Battery(ctx context.Context, serial string) (domain.Battery, error)
	Passport(ctx context.Context, serial string) (domain.Passport, error)
	PassportByID(ctx context.Context, passportID string) (domain.Passport, error)
	Actor(ctx context.Context, actorID string) (domain.Actor, error)
	Location(ctx context.Context, locationID string) (domain.Location, error)
	Event(ctx context.Context, eventID string) (domain.Event, error)

	// CurrentLocations returns every LOCATED_AT target of the battery. A
	// healthy graph holds at most one.
	CurrentLocations(ctx context.Context, serial string) ([]domain.Location, error)
	// LatestPerformance reports false when no snapshot exists.
	LatestPerformance(ctx context.Context, passportID string) (domain.Performance, bool, error)
	// Events returns the passport's events ordered by timestamp, then version.
	Events(ctx context.Context, passportID string) ([]domain.Event, error)
}

// WriteTx extends ReadTx with the mutations allowed on the graph. Nothing
// deletes nodes; the only edge ever removed is a stale LOCATED_AT.
type WriteTx interface {
	ReadTx

	// LockPassport reads the passport while holding its write lock until the
	// transaction ends.
	LockPassport(ctx context.Context, serial string) (domain.Passport, error)

	// MergeActor creates the actor if absent and returns the stored node.
	MergeActor(ctx context.Context, a domain.Actor) (domain.Actor, bool, error)
	// MergeLocation creates the location if absent and returns the stored node.
	MergeLocation(ctx context.Context, l domain.Location) (domain.Location, bool, error)

	// CreateBattery creates Battery, Passport, HAS_PASSPORT, HAS_OWNER and
	// MANUFACTURED_AT when the serial is unknown. It reports false and writes
	// nothing when the battery already exists.
	CreateBattery(ctx context.Context, rec BatteryRecord) (bool, error)
	// UpdateBattery overwrites the static attributes of an existing battery.
	UpdateBattery(ctx context.Context, b domain.Battery) error

	// SetStatus moves the passport from (from, version) to `to` and returns
	// the new version, or ErrConflict when the stored pair differs.
	SetStatus(ctx context.Context, passportID string, from domain.Status, version int64, to domain.Status, at time.Time) (int64, error)
	// Relocate replaces every LOCATED_AT edge of the battery with one edge to
	// locationID.
	Relocate(ctx context.Context, serial, locationID string, at time.Time) error
	// AppendPerformance adds a snapshot and bumps the passport version.
	AppendPerformance(ctx context.Context, passportID string, p domain.Performance) (int64, error)
	// AppendEvent stores the event with its PERFORMS and AFFECTS edges, or
	// returns ErrEventExists when its ID is taken.
	AppendEvent(ctx context.Context, e domain.Event) error
}

// BatteryRecord is everything created together at first registration.
type BatteryRecord struct {
	Battery                 domain.Battery
	Passport                domain.Passport
	OwnerID                 string
	ManufacturingLocationID string
}

// Store runs functions inside transactions. A non-nil error returned by fn
// rolls the transaction back; nothing is retried.
type Store interface {
	Read(ctx context.Context, fn func(ReadTx) error) error
	Write(ctx context.Context, fn func(WriteTx) error) error
}

// Counter reports node and relationship counts for operational stats.
type Counter interface {
	NodeCounts(ctx context.Context) (map[string]int64, error)
	RelationshipCounts(ctx context.Context) (map[string]int64, error)
}
