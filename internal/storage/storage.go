// Package storage opens the metadata database and normalises driver errors.
package storage

import (
	"fmt"
	"log/slog"
	"time"

	"dq-engine/config"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to postgres or, for local runs, a sqlite file.
func Open(cfg config.Config, log *slog.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.DBDriver {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(cfg.SQLitePath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"), gormCfg)
	case "postgres", "":
		db, err = gorm.Open(postgres.Open(cfg.PostgresDSN()), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.DBDriver == "sqlite" {
		// sqlite serialises writers; a single connection avoids SQLITE_BUSY storms.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if log != nil {
		log.Info("database connected", "driver", db.Dialector.Name())
	}
	return db, nil
}

// Migrate creates or updates the schema for the given models and installs the
// partial unique index that backs the one-active-alert invariant.
func Migrate(db *gorm.DB, models ...any) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if db.Migrator().HasTable("alerts") {
		if err := db.Exec(activeAlertIndexSQL).Error; err != nil {
			return fmt.Errorf("create active alert index: %w", err)
		}
	}
	return nil
}

const activeAlertIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS ux_alerts_one_active
ON alerts (data_source_id, COALESCE(table_id, 0), COALESCE(field_id, 0), alert_type)
WHERE status = 'active'`

// IsPostgres reports whether row locking clauses are supported.
func IsPostgres(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}
