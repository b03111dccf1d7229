package database

import (
	"time"
)

// Zone mirrors one panel input. The ID is assigned by the panel and is
// stable for the lifetime of the installation, so no autoincrement.
//
// LastPing, LastAlarmTime and CooldownUntil are unix epoch seconds. The
// debounce and cooldown comparisons are exact integer comparisons on wall
// clock time read at the moment of persistence; panel reported time is not
// trusted.
type Zone struct {
	ID   int    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name string `json:"name"`

	ResidentID *uint     `json:"-"`
	Resident   *Resident `json:"resident,omitempty"`

	AlarmStatus   bool  `json:"alarmStatus"`
	LastPing      int64 `json:"lastPing"`
	LastAlarmTime int64 `json:"lastAlarmTime"`
	CooldownUntil int64 `json:"cooldownUntil"`
}

// AlarmRecord is one raised alarm. The partial unique index enforces the
// at most one unacknowledged record per zone invariant at the store level,
// so it holds even when the kiosk and the scanner write concurrently.
type AlarmRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"-"`

	ZoneID   int    `gorm:"index:ux_alarm_records_active_zone,unique,where:acknowledged = 0" json:"zoneID"`
	ZoneName string `json:"zoneName"`

	RaisedAt       time.Time  `json:"raisedAt"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`

	ResidentName string `json:"residentName,omitempty"`
	Room         string `json:"room,omitempty"`
}

type Resident struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"-"`

	Name string `json:"name"`
	Room string `json:"room"`
}

type Staff struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"-"`

	Name   string `json:"name"`
	Code   string `gorm:"uniqueIndex" json:"-"`
	Active bool   `json:"active"`
}

// ControlFlag rows are the only signalling channel between the scanner, the
// kiosk and the administration tooling.
type ControlFlag struct {
	Key   string `gorm:"primaryKey" json:"key"`
	Value int64  `json:"value"`
}

const (
	FlagResetRequest     = "reset_request"
	FlagScannerHeartbeat = "scanner_heartbeat"
	FlagKioskHeartbeat   = "kiosk_heartbeat"
)
