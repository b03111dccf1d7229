package database

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ControlFlags reads and writes the key/value rows used for cross process
// signalling. Every write is a single upsert statement.
type ControlFlags interface {
	Get(ctx context.Context, key string) (int64, error)
	Set(ctx context.Context, key string, value int64) error
	Heartbeat(ctx context.Context, key string, now time.Time) error
}

type controlFlags struct {
	db *gorm.DB
}

func NewControlFlags(connect ConnectorFunc) (ControlFlags, error) {
	impl, err := connect()
	if err != nil {
		return nil, err
	}

	err = impl.AutoMigrate(&ControlFlag{})
	if err != nil {
		return nil, err
	}

	return &controlFlags{db: impl}, nil
}

// Get returns 0 for flags that have never been written, matching the
// semantics expected by the reset and staleness checks.
func (c *controlFlags) Get(ctx context.Context, key string) (int64, error) {
	flag := ControlFlag{}

	result := c.db.WithContext(ctx).Where(&ControlFlag{Key: key}).Limit(1).Find(&flag)
	if result.Error != nil {
		return 0, result.Error
	}

	return flag.Value, nil
}

func (c *controlFlags) Set(ctx context.Context, key string, value int64) error {
	flag := ControlFlag{Key: key, Value: value}

	return c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&flag).Error
}

func (c *controlFlags) Heartbeat(ctx context.Context, key string, now time.Time) error {
	return c.Set(ctx, key, now.Unix())
}
