package alarms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caretech/alarm-sync/internal/pkg/application/zonestate"
	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/logging"
	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/repositories/database"
)

var ErrInvalidPIN = fmt.Errorf("invalid PIN")

// AlarmService owns the alarm record lifecycle: creation from confirmed zone
// transitions on the scanner side, and PIN confirmed acknowledgment from the
// kiosk side.
type AlarmService interface {
	// Raise creates an alarm record for a zone that just passed a
	// confirmed OK to ALARMED transition, snapshotting resident and room.
	// Safe to call repeatedly and concurrently for the same zone.
	Raise(ctx context.Context, zone database.Zone, now time.Time) error

	ActiveAlarms(ctx context.Context) ([]database.AlarmRecord, error)

	// Acknowledge confirms an alarm with a staff PIN. On success the
	// record is stamped, the zone is flipped back to OK with an armed
	// cooldown window, and, once no unacknowledged records remain at all,
	// the panel reset request flag is set for the scanner to pick up.
	Acknowledge(ctx context.Context, alarmID uint, pin string, now time.Time) (database.Staff, error)
}

type Config struct {
	// CooldownDuration is the minimum time after an acknowledgment before
	// a new alarm record may be created for the same zone.
	CooldownDuration time.Duration
}

type alarmService struct {
	alarms   database.AlarmRepository
	zones    database.ZoneRepository
	registry database.RegistryRepository
	flags    database.ControlFlags
	cfg      Config
}

func New(a database.AlarmRepository, z database.ZoneRepository, r database.RegistryRepository, f database.ControlFlags, cfg Config) AlarmService {
	return &alarmService{
		alarms:   a,
		zones:    z,
		registry: r,
		flags:    f,
		cfg:      cfg,
	}
}

func (svc *alarmService) Raise(ctx context.Context, zone database.Zone, now time.Time) error {
	log := logging.GetFromContext(ctx)

	hasActive, err := svc.alarms.HasUnacknowledged(ctx, zone.ID)
	if err != nil {
		return err
	}

	if !zonestate.RecordGateOpen(zone, hasActive, now) {
		return nil
	}

	record := database.AlarmRecord{
		ZoneID:   zone.ID,
		ZoneName: zone.Name,
		RaisedAt: now,
	}

	if zone.ResidentID != nil {
		resident, err := svc.registry.GetResidentByID(ctx, *zone.ResidentID)
		if err == nil {
			record.ResidentName = resident.Name
			record.Room = resident.Room
		} else if !errors.Is(err, database.ErrResidentNotFound) {
			return err
		}
	}

	_, err = svc.alarms.Add(ctx, record)
	if err != nil {
		if errors.Is(err, database.ErrDuplicateActiveAlarm) {
			// the store level index caught a duplicate the gate missed;
			// this should be impossible by construction
			log.Error().Err(err).Int("zone_id", zone.ID).Msg("alarm record invariant violation")
			return nil
		}
		return err
	}

	log.Info().Int("zone_id", zone.ID).Str("zone_name", zone.Name).
		Str("resident", record.ResidentName).Str("room", record.Room).
		Msg("alarm raised")

	return nil
}

func (svc *alarmService) ActiveAlarms(ctx context.Context) ([]database.AlarmRecord, error) {
	return svc.alarms.GetUnacknowledged(ctx)
}

func (svc *alarmService) Acknowledge(ctx context.Context, alarmID uint, pin string, now time.Time) (database.Staff, error) {
	log := logging.GetFromContext(ctx)

	staff, err := svc.registry.GetStaffByCode(ctx, pin)
	if err != nil {
		if errors.Is(err, database.ErrStaffNotFound) {
			return database.Staff{}, ErrInvalidPIN
		}
		return database.Staff{}, err
	}

	record, err := svc.alarms.GetByID(ctx, alarmID)
	if err != nil {
		return database.Staff{}, err
	}

	err = svc.alarms.Acknowledge(ctx, alarmID, staff.Name, now)
	if err != nil {
		return database.Staff{}, err
	}

	cooldownUntil := now.Add(svc.cfg.CooldownDuration).Unix()

	err = svc.zones.SetAcknowledged(ctx, record.ZoneID, now.Unix(), cooldownUntil)
	if err != nil && !errors.Is(err, database.ErrZoneNotFound) {
		return database.Staff{}, err
	}

	remaining, err := svc.alarms.CountUnacknowledged(ctx)
	if err != nil {
		return database.Staff{}, err
	}

	if remaining == 0 {
		err = svc.flags.Set(ctx, database.FlagResetRequest, 1)
		if err != nil {
			return database.Staff{}, err
		}
		log.Info().Msg("no unacknowledged alarms remain, panel reset requested")
	}

	log.Info().Uint("alarm_id", alarmID).Int("zone_id", record.ZoneID).
		Str("staff", staff.Name).Msg("alarm acknowledged")

	return staff, nil
}
