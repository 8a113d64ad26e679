package db

import (
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cassette-tracker-backend/config"
	"cassette-tracker-backend/internal/model"
)

// partialIndexes enforce the at-most-one-open-shipment rules in the schema as
// a backstop for the row locks taken by the store. Both dialects accept them.
var partialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_delivery_open_cassette
		ON delivery_records (cassette_id)
		WHERE received_at IS NULL AND deleted_at IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_delivery_live_ticket_cassette
		ON delivery_records (ticket_id, cassette_id)
		WHERE deleted_at IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_return_live_ticket
		ON return_records (ticket_id)
		WHERE deleted_at IS NULL`,
}

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logLevel(cfg.LogLevel)),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Println("Running database migrations...")
	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Println("Database initialization complete.")
	return db, nil
}

// Migrate creates or updates every table and index the service uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Cassette{},
		&model.ServiceTicket{},
		&model.TicketDetail{},
		&model.DeliveryRecord{},
		&model.RepairSubTicket{},
		&model.ReturnRecord{},
		&model.ReturnItem{},
		&model.StatusHistory{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}

	for _, ddl := range partialIndexes {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}

func dialectorFor(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	case config.DriverSQLite:
		return sqlite.Open(cfg.DSN), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

func logLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	}
	return logger.Info
}
