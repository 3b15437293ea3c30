package provenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func seeded(t *testing.T, opts ...MemOption) *MemStore {
	t.Helper()
	s := NewMemStore(opts...)
	err := s.Write(context.Background(), func(tx WriteTx) error {
		ctx := context.Background()
		if _, _, err := tx.MergeActor(ctx, domain.Actor{ActorID: "OP-1", Name: "Renault", Role: domain.RoleOwner}); err != nil {
			return err
		}
		if _, _, err := tx.MergeActor(ctx, domain.Actor{ActorID: "ACT-GARAGE", Name: "Garage", Role: domain.RoleGaragiste}); err != nil {
			return err
		}
		if _, _, err := tx.MergeLocation(ctx, domain.Location{LocationID: "LOC-PLANT", Type: domain.LocationManufacturingPlant}); err != nil {
			return err
		}
		if _, _, err := tx.MergeLocation(ctx, domain.Location{LocationID: "LOC-GARAGE", Type: domain.LocationGarage}); err != nil {
			return err
		}
		created, err := tx.CreateBattery(ctx, BatteryRecord{
			Battery:                 domain.Battery{SerialNumber: "BAT-1", CreatedAt: t0},
			Passport:                domain.Passport{PassportID: "BP-BAT-1", CurrentStatus: domain.StatusOriginal, Version: 1, CreatedAt: t0, UpdatedAt: t0},
			OwnerID:                 "OP-1",
			ManufacturingLocationID: "LOC-PLANT",
		})
		if err != nil {
			return err
		}
		if !created {
			return errors.New("expected battery to be created")
		}
		return nil
	})
	require.NoError(t, err)
	return s
}

func TestMemStore_CreateBatteryOnce(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	err := s.Write(ctx, func(tx WriteTx) error {
		created, err := tx.CreateBattery(ctx, BatteryRecord{
			Battery:                 domain.Battery{SerialNumber: "BAT-1", Composition: "LFP"},
			Passport:                domain.Passport{PassportID: "BP-BAT-1"},
			OwnerID:                 "OP-1",
			ManufacturingLocationID: "LOC-PLANT",
		})
		assert.False(t, created)
		return err
	})
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Empty(t, snap.Batteries["BAT-1"].Composition)
	assert.Equal(t, "OP-1", snap.Passports["BP-BAT-1"].OwnerID)
	assert.Equal(t, "LOC-PLANT", snap.ManufacturedAt["BAT-1"])
}

func TestMemStore_CreateBatteryNeedsOwnerAndPlant(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	err := s.Write(ctx, func(tx WriteTx) error {
		_, err := tx.CreateBattery(ctx, BatteryRecord{
			Battery:  domain.Battery{SerialNumber: "BAT-2"},
			Passport: domain.Passport{PassportID: "BP-BAT-2"},
			OwnerID:  "OP-missing",
		})
		return err
	})
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, domain.KindActor, nf.Kind)
	assert.Empty(t, s.Snapshot().Batteries)
}

func TestMemStore_SetStatusCompareAndSet(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	err := s.Write(ctx, func(tx WriteTx) error {
		v, err := tx.SetStatus(ctx, "BP-BAT-1", domain.StatusOriginal, 1, domain.StatusWasteRequested, t0.Add(time.Hour))
		assert.Equal(t, int64(2), v)
		return err
	})
	require.NoError(t, err)

	err = s.Write(ctx, func(tx WriteTx) error {
		_, err := tx.SetStatus(ctx, "BP-BAT-1", domain.StatusOriginal, 1, domain.StatusWasteRequested, t0)
		return err
	})
	assert.ErrorIs(t, err, ErrConflict)

	p := s.Snapshot().Passports["BP-BAT-1"]
	assert.Equal(t, domain.StatusWasteRequested, p.CurrentStatus)
	assert.Equal(t, int64(2), p.Version)
	assert.Equal(t, t0.Add(time.Hour), p.UpdatedAt)
}

func TestMemStore_RelocateReplacesEdges(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	for _, loc := range []string{"LOC-GARAGE", "LOC-PLANT"} {
		err := s.Write(ctx, func(tx WriteTx) error { return tx.Relocate(ctx, "BAT-1", loc, t0) })
		require.NoError(t, err)
	}
	err := s.Write(ctx, func(tx WriteTx) error { return tx.Relocate(ctx, "BAT-1", "LOC-NOPE", t0) })
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = s.Read(ctx, func(tx ReadTx) error {
		locs, err := tx.CurrentLocations(ctx, "BAT-1")
		require.Len(t, locs, 1)
		assert.Equal(t, "LOC-PLANT", locs[0].LocationID)
		return err
	})
	require.NoError(t, err)
}

func TestMemStore_RollbackOnError(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	before := s.Snapshot()

	boom := errors.New("boom")
	err := s.Write(ctx, func(tx WriteTx) error {
		if _, err := tx.SetStatus(ctx, "BP-BAT-1", domain.StatusOriginal, 1, domain.StatusWasteRequested, t0); err != nil {
			return err
		}
		if err := tx.Relocate(ctx, "BAT-1", "LOC-GARAGE", t0); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, before, s.Snapshot())
}

func TestMemStore_FaultHook(t *testing.T) {
	boom := errors.New("disk on fire")
	s := seeded(t, WithFault(func(op string) error {
		if op == "AppendEvent" {
			return boom
		}
		return nil
	}))
	ctx := context.Background()
	err := s.Write(ctx, func(tx WriteTx) error {
		return tx.AppendEvent(ctx, domain.Event{EventID: "E1", ActorID: "ACT-GARAGE", PassportID: "BP-BAT-1"})
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, s.Snapshot().Events)
}

func TestMemStore_EventsSortedByVersion(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	// E3 carries an earlier timestamp than E2, as after a clock step back.
	events := []domain.Event{
		{EventID: "E2", Timestamp: t0.Add(time.Minute), Version: 3, ActorID: "ACT-GARAGE", PassportID: "BP-BAT-1"},
		{EventID: "E1", Timestamp: t0, Version: 2, ActorID: "ACT-GARAGE", PassportID: "BP-BAT-1"},
		{EventID: "E3", Timestamp: t0.Add(30 * time.Second), Version: 4, ActorID: "ACT-GARAGE", PassportID: "BP-BAT-1"},
	}
	err := s.Write(ctx, func(tx WriteTx) error {
		for _, e := range events {
			if err := tx.AppendEvent(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = s.Read(ctx, func(tx ReadTx) error {
		got, err := tx.Events(ctx, "BP-BAT-1")
		require.Len(t, got, 3)
		assert.Equal(t, []string{"E1", "E2", "E3"}, []string{got[0].EventID, got[1].EventID, got[2].EventID})
		return err
	})
	require.NoError(t, err)
}

func TestMemStore_DuplicateEventRollsBack(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	first := domain.Event{EventID: "E1", Timestamp: t0, Version: 2, ActorID: "ACT-GARAGE", PassportID: "BP-BAT-1"}
	require.NoError(t, s.Write(ctx, func(tx WriteTx) error { return tx.AppendEvent(ctx, first) }))
	before := s.Snapshot()

	err := s.Write(ctx, func(tx WriteTx) error {
		if _, err := tx.SetStatus(ctx, "BP-BAT-1", domain.StatusOriginal, 1, domain.StatusWasteRequested, t0); err != nil {
			return err
		}
		dup := first
		dup.Description = "changed"
		return tx.AppendEvent(ctx, dup)
	})
	assert.ErrorIs(t, err, ErrEventExists)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, before, s.Snapshot())
	assert.Empty(t, s.Snapshot().Events["E1"].Description)
}

func TestMemStore_LatestPerformance(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	soh := func(v float64) *float64 { return &v }

	err := s.Read(ctx, func(tx ReadTx) error {
		_, ok, err := tx.LatestPerformance(ctx, "BP-BAT-1")
		assert.False(t, ok)
		return err
	})
	require.NoError(t, err)

	err = s.Write(ctx, func(tx WriteTx) error {
		if _, err := tx.AppendPerformance(ctx, "BP-BAT-1", domain.Performance{StateOfHealthPercent: soh(90), Timestamp: t0.Add(2 * time.Hour)}); err != nil {
			return err
		}
		v, err := tx.AppendPerformance(ctx, "BP-BAT-1", domain.Performance{StateOfHealthPercent: soh(95), Timestamp: t0.Add(time.Hour)})
		assert.Equal(t, int64(3), v)
		return err
	})
	require.NoError(t, err)

	err = s.Read(ctx, func(tx ReadTx) error {
		p, ok, err := tx.LatestPerformance(ctx, "BP-BAT-1")
		assert.True(t, ok)
		assert.Equal(t, 90.0, *p.StateOfHealthPercent)
		return err
	})
	require.NoError(t, err)
}

func TestMemStore_Counts(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, func(tx WriteTx) error { return tx.Relocate(ctx, "BAT-1", "LOC-GARAGE", t0) }))

	nodes, err := s.NodeCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), nodes[LabelBattery])
	assert.Equal(t, int64(2), nodes[LabelActor])
	assert.Equal(t, int64(2), nodes[LabelLocation])

	rels, err := s.RelationshipCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rels[RelHasPassport])
	assert.Equal(t, int64(1), rels[RelHasOwner])
	assert.Equal(t, int64(1), rels[RelLocatedAt])
	assert.Equal(t, int64(0), rels[RelAffects])
}

func TestMemStore_CanceledContext(t *testing.T) {
	s := NewMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.Write(ctx, func(WriteTx) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
