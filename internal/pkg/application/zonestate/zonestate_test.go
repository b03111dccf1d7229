package zonestate

import (
	"testing"
	"time"

	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/repositories/database"
	"github.com/matryer/is"
)

const debounce = 60 * time.Second

func TestFirstAlarmRaisesImmediately(t *testing.T) {
	is := is.New(t)
	now := time.Unix(1000, 0)

	zone := database.Zone{ID: 1, Name: "Room 12"}

	updated, action := Evaluate(zone, true, "Room 12", now, debounce)

	is.Equal(action, ActionRaise)
	is.True(updated.AlarmStatus)
	is.Equal(updated.LastAlarmTime, int64(1000))
	is.Equal(updated.LastPing, int64(1000))
}

func TestAlarmWithinDebounceIsBlocked(t *testing.T) {
	is := is.New(t)

	zone := database.Zone{ID: 1, LastAlarmTime: 1000}

	updated, action := Evaluate(zone, true, "Room 12", time.Unix(1005, 0), debounce)

	is.Equal(action, ActionNone)
	is.True(!updated.AlarmStatus)
	is.Equal(updated.LastPing, int64(1005))
}

func TestBlockedAlarmDoesNotPostponeDebounce(t *testing.T) {
	is := is.New(t)

	zone := database.Zone{ID: 1, LastAlarmTime: 1000}

	// a flapping signal keeps arriving within the debounce window
	for _, sec := range []int64{1005, 1010, 1015} {
		var action Action
		zone, action = Evaluate(zone, true, "Room 12", time.Unix(sec, 0), debounce)
		is.Equal(action, ActionNone)
		is.Equal(zone.LastAlarmTime, int64(1000))
	}

	// once the original window expires the alarm goes through
	updated, action := Evaluate(zone, true, "Room 12", time.Unix(1061, 0), debounce)
	is.Equal(action, ActionRaise)
	is.Equal(updated.LastAlarmTime, int64(1061))
}

func TestAlarmAfterDebounceRaises(t *testing.T) {
	is := is.New(t)

	zone := database.Zone{ID: 1, LastAlarmTime: 1000}

	updated, action := Evaluate(zone, true, "Room 12", time.Unix(1061, 0), debounce)

	is.Equal(action, ActionRaise)
	is.True(updated.AlarmStatus)
	is.Equal(updated.LastAlarmTime, int64(1061))
}

func TestAlarmExactlyAtDebounceBoundaryIsBlocked(t *testing.T) {
	is := is.New(t)

	zone := database.Zone{ID: 1, LastAlarmTime: 1000}

	_, action := Evaluate(zone, true, "Room 12", time.Unix(1060, 0), debounce)

	is.Equal(action, ActionNone)
}

func TestAlarmedZoneStaysAlarmed(t *testing.T) {
	is := is.New(t)

	zone := database.Zone{ID: 1, AlarmStatus: true, LastAlarmTime: 1000}

	updated, action := Evaluate(zone, true, "Room 12", time.Unix(1010, 0), debounce)

	is.Equal(action, ActionNone)
	is.True(updated.AlarmStatus)
	is.Equal(updated.LastAlarmTime, int64(1000))
	is.Equal(updated.LastPing, int64(1010))
}

func TestClearResetsCooldown(t *testing.T) {
	is := is.New(t)

	zone := database.Zone{ID: 1, AlarmStatus: true, LastAlarmTime: 1000, CooldownUntil: 2000}

	updated, action := Evaluate(zone, false, "Room 12", time.Unix(1200, 0), debounce)

	is.Equal(action, ActionClear)
	is.True(!updated.AlarmStatus)
	is.Equal(updated.CooldownUntil, int64(1200))
}

func TestQuietZoneRefreshesNameOnly(t *testing.T) {
	is := is.New(t)

	zone := database.Zone{ID: 1, Name: "Room 12", LastAlarmTime: 1000, CooldownUntil: 900}

	updated, action := Evaluate(zone, false, "Room 12 renamed", time.Unix(1200, 0), debounce)

	is.Equal(action, ActionNone)
	is.Equal(updated.Name, "Room 12 renamed")
	is.Equal(updated.LastAlarmTime, int64(1000))
	is.Equal(updated.CooldownUntil, int64(900))
}

func TestRecordGateClosedWhileUnacknowledged(t *testing.T) {
	is := is.New(t)

	zone := database.Zone{ID: 1, LastAlarmTime: 1000}

	is.True(!RecordGateOpen(zone, true, time.Unix(1000, 0)))
}

func TestRecordGateClosedDuringCooldown(t *testing.T) {
	is := is.New(t)

	zone := database.Zone{ID: 1, LastAlarmTime: 1100, CooldownUntil: 1300}

	is.True(!RecordGateOpen(zone, false, time.Unix(1200, 0)))
}

func TestRecordGateClosedForStaleTransition(t *testing.T) {
	is := is.New(t)

	// the transition predates the acknowledgment, so it must not produce
	// a second record after the cooldown expires
	zone := database.Zone{ID: 1, LastAlarmTime: 1000, CooldownUntil: 1300}

	is.True(!RecordGateOpen(zone, false, time.Unix(1400, 0)))
}

func TestRecordGateOpensAfterCooldown(t *testing.T) {
	is := is.New(t)

	zone := database.Zone{ID: 1, LastAlarmTime: 1400, CooldownUntil: 1300}

	is.True(RecordGateOpen(zone, false, time.Unix(1400, 0)))
}
