package repo

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/provenance"
)

// Catalog groups the reference data readers.
type Catalog struct {
	Actors    Reader[domain.Actor, string]
	Locations Reader[domain.Location, string]
}

// ActorProps returns the filterable properties of a.
func ActorProps(a domain.Actor) map[string]any {
	return map[string]any{"actorID": a.ActorID, "name": a.Name, "role": string(a.Role)}
}

// LocationProps returns the filterable properties of l.
func LocationProps(l domain.Location) map[string]any {
	return map[string]any{"locationID": l.LocationID, "address": l.Address, "type": l.Type}
}

// NewNeo4jCatalog reads reference data from the graph.
func NewNeo4jCatalog(driver neo4j.DriverWithContext, database string) Catalog {
	return Catalog{
		Actors: NewNeo4jRepo(driver, provenance.LabelActor, actorFromRecord,
			WithIDKey[domain.Actor, string]("actorID"),
			WithDatabase[domain.Actor, string](database),
			WithNotFound[domain.Actor](notFound(domain.KindActor)),
		),
		Locations: NewNeo4jRepo(driver, provenance.LabelLocation, locationFromRecord,
			WithIDKey[domain.Location, string]("locationID"),
			WithDatabase[domain.Location, string](database),
			WithNotFound[domain.Location](notFound(domain.KindLocation)),
		),
	}
}

// NewMemCatalog reads reference data from the committed state of s.
func NewMemCatalog(s *provenance.MemStore) Catalog {
	return Catalog{
		Actors: NewSliceRepo(
			func(context.Context) ([]domain.Actor, error) {
				snap := s.Snapshot()
				out := make([]domain.Actor, 0, len(snap.Actors))
				for _, a := range snap.Actors {
					out = append(out, a)
				}
				return out, nil
			},
			func(a domain.Actor) string { return a.ActorID },
			ActorProps,
			notFound(domain.KindActor),
		),
		Locations: NewSliceRepo(
			func(context.Context) ([]domain.Location, error) {
				snap := s.Snapshot()
				out := make([]domain.Location, 0, len(snap.Locations))
				for _, l := range snap.Locations {
					out = append(out, l)
				}
				return out, nil
			},
			func(l domain.Location) string { return l.LocationID },
			LocationProps,
			notFound(domain.KindLocation),
		),
	}
}

func notFound(kind string) func(string) error {
	return func(id string) error { return domain.NotFound(kind, id) }
}

func nodeProps(rec *neo4j.Record) (map[string]any, error) {
	n, isNil, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return nil, fmt.Errorf("decode node: %w", err)
	}
	if isNil {
		return nil, fmt.Errorf("decode node: null")
	}
	return n.Props, nil
}

func actorFromRecord(rec *neo4j.Record) (domain.Actor, error) {
	p, err := nodeProps(rec)
	if err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{
		ActorID: str(p, "actorID"),
		Name:    str(p, "name"),
		Role:    domain.Role(str(p, "role")),
	}, nil
}

func locationFromRecord(rec *neo4j.Record) (domain.Location, error) {
	p, err := nodeProps(rec)
	if err != nil {
		return domain.Location{}, err
	}
	return domain.Location{
		LocationID: str(p, "locationID"),
		Address:    str(p, "address"),
		Type:       str(p, "type"),
	}, nil
}

func str(p map[string]any, k string) string {
	s, _ := p[k].(string)
	return s
}
