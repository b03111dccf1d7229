package database

import (
	"context"
	"errors"
	"testing"

	"github.com/matryer/is"
)

func TestUpsertRegistersZone(t *testing.T) {
	is, ctx, r := testSetupZoneRepository(t)

	err := r.Upsert(ctx, 3, "Room 12")
	is.NoErr(err)

	zone, err := r.GetByID(ctx, 3)
	is.NoErr(err)
	is.Equal(zone.Name, "Room 12")
	is.True(!zone.AlarmStatus)
}

func TestUpsertRefreshesNameButNotState(t *testing.T) {
	is, ctx, r := testSetupZoneRepository(t)

	err := r.Upsert(ctx, 3, "Room 12")
	is.NoErr(err)

	err = r.SaveState(ctx, Zone{ID: 3, Name: "Room 12", AlarmStatus: true, LastPing: 100, LastAlarmTime: 100, CooldownUntil: 50})
	is.NoErr(err)

	err = r.Upsert(ctx, 3, "Room 12b")
	is.NoErr(err)

	zone, err := r.GetByID(ctx, 3)
	is.NoErr(err)
	is.Equal(zone.Name, "Room 12b")
	is.True(zone.AlarmStatus)
	is.Equal(zone.LastAlarmTime, int64(100))
	is.Equal(zone.CooldownUntil, int64(50))
}

func TestGetByIDUnknownZone(t *testing.T) {
	is, ctx, r := testSetupZoneRepository(t)

	_, err := r.GetByID(ctx, 42)
	is.True(errors.Is(err, ErrZoneNotFound))
}

func TestSaveStateRoundtrip(t *testing.T) {
	is, ctx, r := testSetupZoneRepository(t)

	err := r.Upsert(ctx, 7, "Hallway")
	is.NoErr(err)

	err = r.SaveState(ctx, Zone{ID: 7, Name: "Hallway", AlarmStatus: true, LastPing: 1000, LastAlarmTime: 1000, CooldownUntil: 800})
	is.NoErr(err)

	zone, err := r.GetByID(ctx, 7)
	is.NoErr(err)
	is.True(zone.AlarmStatus)
	is.Equal(zone.LastPing, int64(1000))
	is.Equal(zone.LastAlarmTime, int64(1000))
	is.Equal(zone.CooldownUntil, int64(800))
}

func TestSaveStateUnknownZone(t *testing.T) {
	is, ctx, r := testSetupZoneRepository(t)

	err := r.SaveState(ctx, Zone{ID: 42})
	is.True(errors.Is(err, ErrZoneNotFound))
}

func TestSetAcknowledgedFlipsZoneBackToOK(t *testing.T) {
	is, ctx, r := testSetupZoneRepository(t)

	err := r.Upsert(ctx, 7, "Hallway")
	is.NoErr(err)

	err = r.SaveState(ctx, Zone{ID: 7, Name: "Hallway", AlarmStatus: true, LastPing: 1000, LastAlarmTime: 1000})
	is.NoErr(err)

	err = r.SetAcknowledged(ctx, 7, 1030, 1330)
	is.NoErr(err)

	zone, err := r.GetByID(ctx, 7)
	is.NoErr(err)
	is.True(!zone.AlarmStatus)
	is.Equal(zone.LastPing, int64(1030))
	is.Equal(zone.CooldownUntil, int64(1330))
	is.Equal(zone.LastAlarmTime, int64(1000))
}

func TestUpdateAssignsResident(t *testing.T) {
	is, ctx, conn := setup(t)

	r, err := NewZoneRepository(conn)
	is.NoErr(err)
	registry, err := NewRegistryRepository(conn)
	is.NoErr(err)

	residentID, err := registry.AddResident(ctx, Resident{Name: "Greta A", Room: "12"})
	is.NoErr(err)

	err = r.Upsert(ctx, 3, "Room 12")
	is.NoErr(err)

	err = r.Update(ctx, 3, nil, &residentID)
	is.NoErr(err)

	zone, err := r.GetByID(ctx, 3)
	is.NoErr(err)
	is.True(zone.Resident != nil)
	is.Equal(zone.Resident.Name, "Greta A")
}

func testSetupZoneRepository(t *testing.T) (*is.I, context.Context, ZoneRepository) {
	is, ctx, conn := setup(t)

	r, err := NewZoneRepository(conn)
	is.NoErr(err)

	return is, ctx, r
}

func setup(t *testing.T) (*is.I, context.Context, ConnectorFunc) {
	is := is.New(t)
	ctx := context.Background()
	conn := NewInMemoryConnector(ctx)

	return is, ctx, conn
}
