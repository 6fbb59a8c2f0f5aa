// Package datastore opens the alert engine database and migrates its schema.
package datastore

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/sensorhub/alert-engine/internal/conf"
	"github.com/sensorhub/alert-engine/internal/datastore/entities"
	"github.com/sensorhub/alert-engine/internal/errors"
)

// Models lists every entity managed by Migrate, in dependency order.
var Models = []any{
	&entities.Device{},
	&entities.AlertRule{},
	&entities.AlertCondition{},
	&entities.AlertEscalation{},
	&entities.AlertInstance{},
}

// Open connects to the configured database.
func Open(cfg conf.DatabaseSettings) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(cfg.DSN))
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, errors.Newf("unsupported database driver %q", cfg.Driver).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}

	if err := configurePool(db, cfg.Driver); err != nil {
		return nil, err
	}
	return db, nil
}

// configurePool sizes the connection pool behind db for the driver.
func configurePool(db *gorm.DB, driver string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(fmt.Errorf("failed to get sql.DB: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	if driver == "sqlite" {
		// sqlite serialises writers; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
		return nil
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	return nil
}

// sqliteDSN enables foreign keys, which sqlite leaves off by default.
func sqliteDSN(dsn string) string {
	const fk = "_foreign_keys=ON"
	if strings.Contains(dsn, "?") {
		return dsn + "&" + fk
	}
	return dsn + "?" + fk
}

// Migrate creates or updates the schema for all entities.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models...); err != nil {
		return errors.Wrap(fmt.Errorf("failed to migrate schema: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
