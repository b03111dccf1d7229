package zonestate

import (
	"time"

	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/repositories/database"
)

// Action is the transition decision for one zone in one poll cycle.
type Action int

const (
	ActionNone Action = iota
	// ActionRaise means a confirmed OK to ALARMED transition. Whether an
	// alarm record is actually created is decided separately by the
	// record gate, since acknowledgment and panel clear are decoupled in
	// time from the raw signal.
	ActionRaise
	ActionClear
)

// Evaluate is a pure function of the stored zone row, the raw alarm bit
// reported by the panel and the current wall clock time. It returns the
// updated row and the transition decision; the caller persists the row.
func Evaluate(zone database.Zone, rawAlarm bool, name string, now time.Time, debounce time.Duration) (database.Zone, Action) {
	epoch := now.Unix()
	zone.Name = name

	if rawAlarm {
		if zone.AlarmStatus {
			// still alarmed, just keep the ping fresh
			zone.LastPing = epoch
			return zone, ActionNone
		}

		if !debounceExpired(zone, epoch, debounce) {
			// A flapping input must not postpone the first real alarm,
			// so the transition timestamp is left untouched here.
			zone.LastPing = epoch
			return zone, ActionNone
		}

		zone.AlarmStatus = true
		zone.LastAlarmTime = epoch
		zone.LastPing = epoch
		return zone, ActionRaise
	}

	if zone.AlarmStatus {
		zone.AlarmStatus = false
		zone.LastPing = epoch
		// the zone recovered on its own, so a stale suppression window
		// must not block the next alarm
		zone.CooldownUntil = epoch
		return zone, ActionClear
	}

	return zone, ActionNone
}

func debounceExpired(zone database.Zone, epoch int64, debounce time.Duration) bool {
	if zone.LastAlarmTime == 0 {
		return true
	}

	return epoch-zone.LastAlarmTime > int64(debounce.Seconds())
}

// RecordGateOpen decides whether a raised zone may produce a new alarm
// record. The gate is independent of the zone's own status bit: it requires
// that no unacknowledged record exists, that the cooldown window armed by
// the last acknowledgment has passed, and that the transition timestamp is
// strictly newer than that window, which guards against re-raising from a
// stale pre-cooldown timestamp.
func RecordGateOpen(zone database.Zone, hasUnacknowledged bool, now time.Time) bool {
	if hasUnacknowledged {
		return false
	}

	epoch := now.Unix()

	return epoch > zone.CooldownUntil && zone.LastAlarmTime > zone.CooldownUntil
}
