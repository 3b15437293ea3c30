package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Schema holds the uniqueness constraints on every natural key plus the
// index used to order history. Statements are idempotent.
var Schema = []string{
	`CREATE CONSTRAINT battery_serial IF NOT EXISTS FOR (b:Battery) REQUIRE b.serialNumber IS UNIQUE`,
	`CREATE CONSTRAINT passport_id IF NOT EXISTS FOR (bp:BatteryPassport) REQUIRE bp.passportID IS UNIQUE`,
	`CREATE CONSTRAINT actor_id IF NOT EXISTS FOR (a:Actor) REQUIRE a.actorID IS UNIQUE`,
	`CREATE CONSTRAINT location_id IF NOT EXISTS FOR (l:Location) REQUIRE l.locationID IS UNIQUE`,
	`CREATE CONSTRAINT event_id IF NOT EXISTS FOR (e:Event) REQUIRE e.eventID IS UNIQUE`,
	`CREATE INDEX event_timestamp IF NOT EXISTS FOR (e:Event) ON (e.timestamp)`,
}

// Migrate applies Schema. Schema statements cannot share a transaction with
// data writes, so each runs in auto-commit mode.
func (s *Store) Migrate(ctx context.Context) error {
	sess := s.opener.OpenSession(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)

	for _, stmt := range Schema {
		result, err := sess.Run(ctx, stmt, nil)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		if err := drain(ctx, result); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	s.log.InfoContext(ctx, "graph schema applied", "statements", len(Schema))
	return nil
}
