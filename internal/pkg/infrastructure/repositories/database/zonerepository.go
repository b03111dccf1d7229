package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrZoneNotFound = fmt.Errorf("zone not found")

type ZoneRepository interface {
	GetAll(ctx context.Context) ([]Zone, error)
	GetByID(ctx context.Context, zoneID int) (Zone, error)

	// Upsert registers a zone on first sight from the panel, or refreshes
	// its display name if it already exists. State fields are untouched.
	Upsert(ctx context.Context, zoneID int, name string) error

	// SaveState persists the output of the zone state machine as a single
	// statement, so an interrupted cycle never leaves a half applied zone.
	SaveState(ctx context.Context, zone Zone) error

	// SetAcknowledged flips the zone back to OK and arms the cooldown
	// window. Called from the acknowledgment path, not the scanner.
	SetAcknowledged(ctx context.Context, zoneID int, lastPing, cooldownUntil int64) error

	Update(ctx context.Context, zoneID int, name *string, residentID *uint) error
}

type zoneRepository struct {
	db *gorm.DB
}

func NewZoneRepository(connect ConnectorFunc) (ZoneRepository, error) {
	impl, err := connect()
	if err != nil {
		return nil, err
	}

	err = impl.AutoMigrate(&Zone{}, &Resident{})
	if err != nil {
		return nil, err
	}

	return &zoneRepository{db: impl}, nil
}

func (r *zoneRepository) GetAll(ctx context.Context) ([]Zone, error) {
	zones := []Zone{}

	err := r.db.WithContext(ctx).Preload("Resident").Order("id").Find(&zones).Error
	if err != nil {
		return nil, err
	}

	return zones, nil
}

func (r *zoneRepository) GetByID(ctx context.Context, zoneID int) (Zone, error) {
	zone := Zone{}

	err := r.db.WithContext(ctx).Preload("Resident").First(&zone, zoneID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Zone{}, ErrZoneNotFound
		}
		return Zone{}, err
	}

	return zone, nil
}

func (r *zoneRepository) Upsert(ctx context.Context, zoneID int, name string) error {
	zone := Zone{ID: zoneID, Name: name}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&zone).Error
}

func (r *zoneRepository) SaveState(ctx context.Context, zone Zone) error {
	result := r.db.WithContext(ctx).Model(&Zone{}).Where("id = ?", zone.ID).
		Updates(map[string]any{
			"name":            zone.Name,
			"alarm_status":    zone.AlarmStatus,
			"last_ping":       zone.LastPing,
			"last_alarm_time": zone.LastAlarmTime,
			"cooldown_until":  zone.CooldownUntil,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrZoneNotFound
	}

	return nil
}

func (r *zoneRepository) SetAcknowledged(ctx context.Context, zoneID int, lastPing, cooldownUntil int64) error {
	result := r.db.WithContext(ctx).Model(&Zone{}).Where("id = ?", zoneID).
		Updates(map[string]any{
			"alarm_status":   false,
			"last_ping":      lastPing,
			"cooldown_until": cooldownUntil,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrZoneNotFound
	}

	return nil
}

func (r *zoneRepository) Update(ctx context.Context, zoneID int, name *string, residentID *uint) error {
	fields := map[string]any{}

	if name != nil {
		fields["name"] = *name
	}
	if residentID != nil {
		fields["resident_id"] = *residentID
	}

	if len(fields) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).Model(&Zone{}).Where("id = ?", zoneID).Updates(fields)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrZoneNotFound
	}

	return nil
}
