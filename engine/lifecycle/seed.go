package lifecycle

import (
	"context"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/provenance"
)

// DefaultActors are the workflow actors every deployment starts with.
var DefaultActors = []domain.Actor{
	{ActorID: "ACT-GARAGE", Name: "Garage MecaTech", Role: domain.RoleGaragiste},
	{ActorID: "ACT-SORT", Name: "Centre Tri Vert", Role: domain.RoleSortingCenter},
}

// DefaultLocations are the workflow locations every deployment starts with.
var DefaultLocations = []domain.Location{
	{LocationID: DefaultLocationID, Address: "123 Rue de la Réparation", Type: domain.LocationGarage},
	{LocationID: "LOC-SORTING", Address: "456 Avenue du Recyclage", Type: domain.LocationSortingCenter},
}

// SeedReport counts what Seed created.
type SeedReport struct {
	Actors    int `json:"actors"`
	Locations int `json:"locations"`
}

// Seed merges the default actors and locations in one transaction. Running it
// again creates nothing.
func (e *Engine) Seed(ctx context.Context) (SeedReport, error) {
	var rep SeedReport
	err := e.store.Write(ctx, func(tx provenance.WriteTx) error {
		rep = SeedReport{}
		for _, a := range DefaultActors {
			_, created, err := tx.MergeActor(ctx, a)
			if err != nil {
				return err
			}
			if created {
				rep.Actors++
			}
		}
		for _, l := range DefaultLocations {
			_, created, err := tx.MergeLocation(ctx, l)
			if err != nil {
				return err
			}
			if created {
				rep.Locations++
			}
		}
		return nil
	})
	if err != nil {
		return SeedReport{}, domain.Infrastructure("seed", err)
	}
	e.log.InfoContext(ctx, "seed applied", "actors", rep.Actors, "locations", rep.Locations)
	return rep, nil
}
