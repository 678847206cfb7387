// Package store is the persistence read layer the Orchestrator polls.
// It is a thin wrapper over gorm, following the teacher's deps.Deps
// struct (a *gorm.DB handle shared across components) but scoped to
// the Camera/Agent records this core consumes, per spec §6.
package store

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open dials the configured database driver and returns a ready
// *gorm.DB. driver is "sqlite" or "postgres"; dsn is the matching
// connection string/file path.
func Open(driver, dsn string) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	switch driver {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(dsn), gcfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
		}
		return db, nil
	case "postgres":
		db, err := gorm.Open(postgres.Open(dsn), gcfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", driver)
	}
}
