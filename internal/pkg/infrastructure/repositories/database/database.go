package database

import (
	"context"
	"sync"

	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/logging"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type ConnectorFunc func() (*gorm.DB, error)

// NewSQLiteConnector opens (once) a file backed database tuned for multiple
// unsynchronized processes: write ahead logging so readers are never blocked
// by a writer, and a bounded busy wait instead of immediate failure on
// writer/writer contention.
func NewSQLiteConnector(ctx context.Context, filePath string) ConnectorFunc {
	var once sync.Once
	var db *gorm.DB
	var err error

	return func() (*gorm.DB, error) {
		once.Do(func() {
			log := logging.GetFromContext(ctx)

			db, err = gorm.Open(sqlite.Open(filePath), &gorm.Config{
				Logger: logger.Default.LogMode(logger.Silent),
			})
			if err != nil {
				return
			}

			db.Exec("PRAGMA journal_mode = WAL")
			db.Exec("PRAGMA synchronous = NORMAL")
			db.Exec("PRAGMA busy_timeout = 3000")
			db.Exec("PRAGMA foreign_keys = ON")

			log.Info().Str("database", filePath).Msg("connected to database")
		})

		return db, err
	}
}

// NewInMemoryConnector is used by tests. A single connection keeps every
// repository on the same in-memory database.
func NewInMemoryConnector(ctx context.Context) ConnectorFunc {
	var once sync.Once
	var db *gorm.DB
	var err error

	return func() (*gorm.DB, error) {
		once.Do(func() {
			db, err = gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
				Logger: logger.Default.LogMode(logger.Silent),
			})

			if err == nil {
				db.Exec("PRAGMA foreign_keys = ON")
				sqldb, _ := db.DB()
				sqldb.SetMaxOpenConns(1)
			}
		})

		return db, err
	}
}
