package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/provenance"
)

const (
	cypherBattery = `MATCH (b:Battery {serialNumber: $serial}) RETURN b`

	cypherPassport = `MATCH (b:Battery {serialNumber: $serial})-[:HAS_PASSPORT]->(bp:BatteryPassport)
		OPTIONAL MATCH (bp)-[:HAS_OWNER]->(o:Actor)
		RETURN b.serialNumber AS serial, bp, o.actorID AS ownerID`

	cypherPassportByID = `MATCH (b:Battery)-[:HAS_PASSPORT]->(bp:BatteryPassport {passportID: $id})
		OPTIONAL MATCH (bp)-[:HAS_OWNER]->(o:Actor)
		RETURN b.serialNumber AS serial, bp, o.actorID AS ownerID`

	// Writing a throwaway property takes the node's write lock, which is
	// then held until the transaction ends.
	cypherLockPassport = `MATCH (b:Battery {serialNumber: $serial})-[:HAS_PASSPORT]->(bp:BatteryPassport)
		SET bp._lock = true REMOVE bp._lock
		WITH b, bp
		OPTIONAL MATCH (bp)-[:HAS_OWNER]->(o:Actor)
		RETURN b.serialNumber AS serial, bp, o.actorID AS ownerID`

	cypherActor    = `MATCH (a:Actor {actorID: $id}) RETURN a`
	cypherLocation = `MATCH (l:Location {locationID: $id}) RETURN l`

	cypherEvent = `MATCH (e:Event {eventID: $id})
		OPTIONAL MATCH (a:Actor)-[:PERFORMS]->(e)
		OPTIONAL MATCH (e)-[:AFFECTS]->(bp:BatteryPassport)
		RETURN e, a.actorID AS actorID, bp.passportID AS passportID`

	cypherCurrentLocations = `MATCH (:Battery {serialNumber: $serial})-[:LOCATED_AT]->(l:Location) RETURN l`

	cypherLatestPerformance = `MATCH (:BatteryPassport {passportID: $id})-[:HAS_PERFORMANCE]->(p:Performance)
		RETURN p ORDER BY p.timestamp DESC LIMIT 1`

	cypherEvents = `MATCH (e:Event)-[:AFFECTS]->(bp:BatteryPassport {passportID: $id})
		OPTIONAL MATCH (a:Actor)-[:PERFORMS]->(e)
		RETURN e, a.actorID AS actorID, bp.passportID AS passportID
		ORDER BY e.version, e.timestamp`

	cypherMergeActor = `MERGE (a:Actor {actorID: $id})
		ON CREATE SET a.name = $name, a.role = $role, a._new = true
		WITH a, coalesce(a._new, false) AS created
		REMOVE a._new
		RETURN a, created`

	cypherMergeLocation = `MERGE (l:Location {locationID: $id})
		ON CREATE SET l.address = $address, l.type = $type, l._new = true
		WITH l, coalesce(l._new, false) AS created
		REMOVE l._new
		RETURN l, created`

	cypherCreateBattery = `MATCH (o:Actor {actorID: $ownerID})
		MATCH (m:Location {locationID: $locationID})
		MERGE (b:Battery {serialNumber: $serial})
		ON CREATE SET b += $battery, b._new = true
		WITH b, o, m, coalesce(b._new, false) AS created
		REMOVE b._new
		FOREACH (_ IN CASE WHEN created THEN [1] ELSE [] END |
			CREATE (b)-[:HAS_PASSPORT]->(bp:BatteryPassport)
			SET bp = $passport
			CREATE (bp)-[:HAS_OWNER]->(o)
			CREATE (b)-[:MANUFACTURED_AT]->(m))
		RETURN created`

	cypherUpdateBattery = `MATCH (b:Battery {serialNumber: $serial})
		WITH b, b.createdAt AS createdAt
		SET b = $battery
		SET b.createdAt = createdAt
		RETURN count(b) AS n`

	cypherSetStatus = `MATCH (bp:BatteryPassport {passportID: $id})
		WHERE bp.currentStatus = $from AND bp.version = $version
		SET bp.currentStatus = $to, bp.version = bp.version + 1, bp.updatedAt = $at
		RETURN bp.version AS version`

	cypherRelocate = `MATCH (b:Battery {serialNumber: $serial})
		MATCH (l:Location {locationID: $locationID})
		OPTIONAL MATCH (b)-[old:LOCATED_AT]->()
		DELETE old
		WITH DISTINCT b, l
		CREATE (b)-[:LOCATED_AT {since: $at}]->(l)
		RETURN count(*) AS n`

	cypherAppendPerformance = `MATCH (bp:BatteryPassport {passportID: $id})
		CREATE (bp)-[:HAS_PERFORMANCE]->(:Performance $performance)
		SET bp.version = bp.version + 1, bp.updatedAt = $at
		RETURN bp.version AS version`

	cypherAppendEvent = `MATCH (a:Actor {actorID: $actorID})
		MATCH (bp:BatteryPassport {passportID: $passportID})
		CREATE (a)-[:PERFORMS]->(e:Event)-[:AFFECTS]->(bp)
		SET e = $event
		RETURN e.eventID AS eventID`
)

// graphTx implements provenance.WriteTx with Cypher. Guards never live in
// these statements; they only read and write by key.
type graphTx struct {
	r CypherRunner
}

var _ provenance.WriteTx = (*graphTx)(nil)

// collect runs cypher and returns every record.
func (t *graphTx) collect(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := t.r.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	var recs []*neo4j.Record
	for result.Next(ctx) {
		recs = append(recs, result.Record())
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// first returns the first record, or nil when there is none.
func (t *graphTx) first(ctx context.Context, cypher string, params map[string]any) (*neo4j.Record, error) {
	recs, err := t.collect(ctx, cypher, params)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

func nodeProps(rec *neo4j.Record, key string) (map[string]any, error) {
	node, isNil, err := neo4j.GetRecordValue[dbtype.Node](rec, key)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if isNil {
		return nil, nil
	}
	return node.Props, nil
}

func recordString(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	return stringValue(v)
}

func recordInt(rec *neo4j.Record, key string) (int64, error) {
	v, _, err := neo4j.GetRecordValue[int64](rec, key)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

func recordBool(rec *neo4j.Record, key string) (bool, error) {
	v, _, err := neo4j.GetRecordValue[bool](rec, key)
	if err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

func (t *graphTx) Battery(ctx context.Context, serial string) (domain.Battery, error) {
	rec, err := t.first(ctx, cypherBattery, map[string]any{"serial": serial})
	if err != nil {
		return domain.Battery{}, err
	}
	if rec == nil {
		return domain.Battery{}, domain.NotFound(domain.KindBattery, serial)
	}
	props, err := nodeProps(rec, "b")
	if err != nil {
		return domain.Battery{}, err
	}
	return batteryFromProps(props), nil
}

func (t *graphTx) Passport(ctx context.Context, serial string) (domain.Passport, error) {
	return t.passport(ctx, cypherPassport, serial)
}

func (t *graphTx) LockPassport(ctx context.Context, serial string) (domain.Passport, error) {
	return t.passport(ctx, cypherLockPassport, serial)
}

func (t *graphTx) passport(ctx context.Context, cypher, serial string) (domain.Passport, error) {
	rec, err := t.first(ctx, cypher, map[string]any{"serial": serial})
	if err != nil {
		return domain.Passport{}, err
	}
	if rec == nil {
		if _, err := t.Battery(ctx, serial); err != nil {
			return domain.Passport{}, err
		}
		return domain.Passport{}, domain.NotFound(domain.KindPassport, domain.PassportID(serial))
	}
	return passportFromRecord(rec)
}

func passportFromRecord(rec *neo4j.Record) (domain.Passport, error) {
	props, err := nodeProps(rec, "bp")
	if err != nil {
		return domain.Passport{}, err
	}
	return passportFromProps(props, recordString(rec, "serial"), recordString(rec, "ownerID")), nil
}

func (t *graphTx) PassportByID(ctx context.Context, passportID string) (domain.Passport, error) {
	rec, err := t.first(ctx, cypherPassportByID, map[string]any{"id": passportID})
	if err != nil {
		return domain.Passport{}, err
	}
	if rec == nil {
		return domain.Passport{}, domain.NotFound(domain.KindPassport, passportID)
	}
	return passportFromRecord(rec)
}

func (t *graphTx) Actor(ctx context.Context, actorID string) (domain.Actor, error) {
	rec, err := t.first(ctx, cypherActor, map[string]any{"id": actorID})
	if err != nil {
		return domain.Actor{}, err
	}
	if rec == nil {
		return domain.Actor{}, domain.NotFound(domain.KindActor, actorID)
	}
	props, err := nodeProps(rec, "a")
	if err != nil {
		return domain.Actor{}, err
	}
	return actorFromProps(props), nil
}

func (t *graphTx) Location(ctx context.Context, locationID string) (domain.Location, error) {
	rec, err := t.first(ctx, cypherLocation, map[string]any{"id": locationID})
	if err != nil {
		return domain.Location{}, err
	}
	if rec == nil {
		return domain.Location{}, domain.NotFound(domain.KindLocation, locationID)
	}
	props, err := nodeProps(rec, "l")
	if err != nil {
		return domain.Location{}, err
	}
	return locationFromProps(props), nil
}

func (t *graphTx) Event(ctx context.Context, eventID string) (domain.Event, error) {
	rec, err := t.first(ctx, cypherEvent, map[string]any{"id": eventID})
	if err != nil {
		return domain.Event{}, err
	}
	if rec == nil {
		return domain.Event{}, domain.NotFound(domain.KindEvent, eventID)
	}
	return eventFromRecord(rec)
}

func eventFromRecord(rec *neo4j.Record) (domain.Event, error) {
	props, err := nodeProps(rec, "e")
	if err != nil {
		return domain.Event{}, err
	}
	return eventFromProps(props, recordString(rec, "actorID"), recordString(rec, "passportID")), nil
}

func (t *graphTx) CurrentLocations(ctx context.Context, serial string) ([]domain.Location, error) {
	recs, err := t.collect(ctx, cypherCurrentLocations, map[string]any{"serial": serial})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Location, 0, len(recs))
	for _, rec := range recs {
		props, err := nodeProps(rec, "l")
		if err != nil {
			return nil, err
		}
		out = append(out, locationFromProps(props))
	}
	return out, nil
}

func (t *graphTx) LatestPerformance(ctx context.Context, passportID string) (domain.Performance, bool, error) {
	rec, err := t.first(ctx, cypherLatestPerformance, map[string]any{"id": passportID})
	if err != nil || rec == nil {
		return domain.Performance{}, false, err
	}
	props, err := nodeProps(rec, "p")
	if err != nil {
		return domain.Performance{}, false, err
	}
	return performanceFromProps(props), true, nil
}

func (t *graphTx) Events(ctx context.Context, passportID string) ([]domain.Event, error) {
	recs, err := t.collect(ctx, cypherEvents, map[string]any{"id": passportID})
	if err != nil {
		return nil, err
	}
	events := make([]domain.Event, 0, len(recs))
	for _, rec := range recs {
		ev, err := eventFromRecord(rec)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	// Same ordering as the in-memory store, ties included.
	provenance.SortEvents(events)
	return events, nil
}

func (t *graphTx) MergeActor(ctx context.Context, a domain.Actor) (domain.Actor, bool, error) {
	rec, err := t.first(ctx, cypherMergeActor, map[string]any{
		"id":   a.ActorID,
		"name": a.Name,
		"role": string(a.Role),
	})
	if err != nil {
		return domain.Actor{}, false, err
	}
	if rec == nil {
		return domain.Actor{}, false, fmt.Errorf("merge actor %s: no row returned", a.ActorID)
	}
	props, err := nodeProps(rec, "a")
	if err != nil {
		return domain.Actor{}, false, err
	}
	created, err := recordBool(rec, "created")
	if err != nil {
		return domain.Actor{}, false, err
	}
	return actorFromProps(props), created, nil
}

func (t *graphTx) MergeLocation(ctx context.Context, l domain.Location) (domain.Location, bool, error) {
	rec, err := t.first(ctx, cypherMergeLocation, map[string]any{
		"id":      l.LocationID,
		"address": l.Address,
		"type":    l.Type,
	})
	if err != nil {
		return domain.Location{}, false, err
	}
	if rec == nil {
		return domain.Location{}, false, fmt.Errorf("merge location %s: no row returned", l.LocationID)
	}
	props, err := nodeProps(rec, "l")
	if err != nil {
		return domain.Location{}, false, err
	}
	created, err := recordBool(rec, "created")
	if err != nil {
		return domain.Location{}, false, err
	}
	return locationFromProps(props), created, nil
}

func (t *graphTx) CreateBattery(ctx context.Context, rec provenance.BatteryRecord) (bool, error) {
	serial := rec.Battery.SerialNumber
	_, err := t.Battery(ctx, serial)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, domain.ErrNotFound):
		return false, err
	}
	if _, err := t.Actor(ctx, rec.OwnerID); err != nil {
		return false, err
	}
	if _, err := t.Location(ctx, rec.ManufacturingLocationID); err != nil {
		return false, err
	}

	row, err := t.first(ctx, cypherCreateBattery, map[string]any{
		"serial":     serial,
		"ownerID":    rec.OwnerID,
		"locationID": rec.ManufacturingLocationID,
		"battery":    batteryToMap(rec.Battery),
		"passport":   passportToMap(rec.Passport),
	})
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, fmt.Errorf("create battery %s: no row returned", serial)
	}
	return recordBool(row, "created")
}

func (t *graphTx) UpdateBattery(ctx context.Context, b domain.Battery) error {
	rec, err := t.first(ctx, cypherUpdateBattery, map[string]any{
		"serial":  b.SerialNumber,
		"battery": batteryToMap(b),
	})
	if err != nil {
		return err
	}
	if rec == nil {
		return domain.NotFound(domain.KindBattery, b.SerialNumber)
	}
	n, err := recordInt(rec, "n")
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound(domain.KindBattery, b.SerialNumber)
	}
	return nil
}

func (t *graphTx) SetStatus(ctx context.Context, passportID string, from domain.Status, version int64, to domain.Status, at time.Time) (int64, error) {
	rec, err := t.first(ctx, cypherSetStatus, map[string]any{
		"id":      passportID,
		"from":    string(from),
		"version": version,
		"to":      string(to),
		"at":      at.UTC(),
	})
	if err != nil {
		return 0, err
	}
	if rec == nil {
		if _, err := t.PassportByID(ctx, passportID); err != nil {
			return 0, err
		}
		return 0, provenance.ErrConflict
	}
	return recordInt(rec, "version")
}

func (t *graphTx) Relocate(ctx context.Context, serial, locationID string, at time.Time) error {
	rec, err := t.first(ctx, cypherRelocate, map[string]any{
		"serial":     serial,
		"locationID": locationID,
		"at":         at.UTC(),
	})
	if err != nil {
		return err
	}
	var n int64
	if rec != nil {
		if n, err = recordInt(rec, "n"); err != nil {
			return err
		}
	}
	if n > 0 {
		return nil
	}
	if _, err := t.Battery(ctx, serial); err != nil {
		return err
	}
	return domain.NotFound(domain.KindLocation, locationID)
}

func (t *graphTx) AppendPerformance(ctx context.Context, passportID string, perf domain.Performance) (int64, error) {
	rec, err := t.first(ctx, cypherAppendPerformance, map[string]any{
		"id":          passportID,
		"performance": performanceToMap(perf),
		"at":          perf.Timestamp.UTC(),
	})
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, domain.NotFound(domain.KindPassport, passportID)
	}
	return recordInt(rec, "version")
}

func (t *graphTx) AppendEvent(ctx context.Context, e domain.Event) error {
	_, err := t.Event(ctx, e.EventID)
	switch {
	case err == nil:
		return fmt.Errorf("append %s: %w", e.EventID, provenance.ErrEventExists)
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	// A concurrent transaction on another passport can create the same ID
	// after the lookup above; the event_id constraint rejects the second one.
	rec, err := t.first(ctx, cypherAppendEvent, map[string]any{
		"actorID":    e.ActorID,
		"passportID": e.PassportID,
		"event":      eventToMap(e),
	})
	if isConstraintViolation(err) {
		return fmt.Errorf("append %s: %w", e.EventID, provenance.ErrEventExists)
	}
	if err != nil {
		return err
	}
	if rec != nil {
		return nil
	}
	if _, err := t.Actor(ctx, e.ActorID); err != nil {
		return err
	}
	return domain.NotFound(domain.KindPassport, e.PassportID)
}

const codeConstraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

func isConstraintViolation(err error) bool {
	var nerr *neo4j.Neo4jError
	return errors.As(err, &nerr) && nerr.Code == codeConstraintViolation
}
