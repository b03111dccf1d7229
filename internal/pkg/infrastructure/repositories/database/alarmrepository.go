package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

var ErrAlarmNotFound = fmt.Errorf("alarm record not found")
var ErrAlreadyAcknowledged = fmt.Errorf("alarm record already acknowledged")

// ErrDuplicateActiveAlarm surfaces a violation of the unique partial index
// on unacknowledged records. The caller treats it as a design defect signal,
// not a normal failure.
var ErrDuplicateActiveAlarm = fmt.Errorf("unacknowledged alarm record already exists for zone")

type AlarmRepository interface {
	GetByID(ctx context.Context, alarmID uint) (AlarmRecord, error)
	GetUnacknowledged(ctx context.Context) ([]AlarmRecord, error)
	GetRecent(ctx context.Context, limit int) ([]AlarmRecord, error)
	CountUnacknowledged(ctx context.Context) (int64, error)
	HasUnacknowledged(ctx context.Context, zoneID int) (bool, error)

	Add(ctx context.Context, record AlarmRecord) (uint, error)
	Acknowledge(ctx context.Context, alarmID uint, staffName string, at time.Time) error
}

type alarmRepository struct {
	db *gorm.DB
}

func NewAlarmRepository(connect ConnectorFunc) (AlarmRepository, error) {
	impl, err := connect()
	if err != nil {
		return nil, err
	}

	err = impl.AutoMigrate(&AlarmRecord{})
	if err != nil {
		return nil, err
	}

	return &alarmRepository{db: impl}, nil
}

func (r *alarmRepository) GetByID(ctx context.Context, alarmID uint) (AlarmRecord, error) {
	record := AlarmRecord{}

	err := r.db.WithContext(ctx).First(&record, alarmID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return AlarmRecord{}, ErrAlarmNotFound
		}
		return AlarmRecord{}, err
	}

	return record, nil
}

func (r *alarmRepository) GetUnacknowledged(ctx context.Context) ([]AlarmRecord, error) {
	records := []AlarmRecord{}

	err := r.db.WithContext(ctx).
		Where("acknowledged = ?", false).
		Order("raised_at desc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (r *alarmRepository) GetRecent(ctx context.Context, limit int) ([]AlarmRecord, error) {
	records := []AlarmRecord{}

	err := r.db.WithContext(ctx).
		Order("raised_at desc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (r *alarmRepository) CountUnacknowledged(ctx context.Context) (int64, error) {
	var count int64

	err := r.db.WithContext(ctx).Model(&AlarmRecord{}).
		Where("acknowledged = ?", false).
		Count(&count).Error

	return count, err
}

func (r *alarmRepository) HasUnacknowledged(ctx context.Context, zoneID int) (bool, error) {
	var count int64

	err := r.db.WithContext(ctx).Model(&AlarmRecord{}).
		Where("zone_id = ? AND acknowledged = ?", zoneID, false).
		Count(&count).Error

	return count > 0, err
}

func (r *alarmRepository) Add(ctx context.Context, record AlarmRecord) (uint, error) {
	err := r.db.WithContext(ctx).Create(&record).Error
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrDuplicateActiveAlarm
		}
		return 0, err
	}

	return record.ID, nil
}

func (r *alarmRepository) Acknowledge(ctx context.Context, alarmID uint, staffName string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&AlarmRecord{}).
		Where("id = ? AND acknowledged = ?", alarmID, false).
		Updates(map[string]any{
			"acknowledged":    true,
			"acknowledged_at": at,
			"acknowledged_by": staffName,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		var count int64
		r.db.WithContext(ctx).Model(&AlarmRecord{}).Where("id = ?", alarmID).Count(&count)
		if count == 0 {
			return ErrAlarmNotFound
		}
		return ErrAlreadyAcknowledged
	}

	return nil
}
