package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cassette-tracker-backend/config"
	"cassette-tracker-backend/internal/model"
)

func TestInit_SQLiteMigratesAndEnforcesOpenDelivery(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		DSN:          "file:" + filepath.Join(t.TempDir(), "init.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     "silent",
	}
	gdb, err := Init(cfg)
	require.NoError(t, err)
	sqlDB, _ := gdb.DB()
	defer sqlDB.Close()

	for _, table := range []string{"cassettes", "service_tickets", "ticket_details", "delivery_records",
		"repair_sub_tickets", "return_records", "return_items", "status_histories", "push_subscriptions"} {
		assert.True(t, gdb.Migrator().HasTable(table), table)
	}

	now := time.Now().UTC()
	first := model.DeliveryRecord{ID: "d-1", TicketID: "t-1", CassetteID: "c-1", ShippedAt: now, ShippedBy: "u"}
	require.NoError(t, gdb.Create(&first).Error)

	second := model.DeliveryRecord{ID: "d-2", TicketID: "t-2", CassetteID: "c-1", ShippedAt: now, ShippedBy: "u"}
	assert.Error(t, gdb.Create(&second).Error, "a second open delivery for the same cassette must be rejected")

	require.NoError(t, gdb.Model(&model.DeliveryRecord{}).Where("id = ?", "d-1").Update("received_at", now).Error)
	assert.NoError(t, gdb.Create(&second).Error)

	// Migrations are re-runnable.
	assert.NoError(t, Migrate(gdb))
}

func TestInit_UnknownDriver(t *testing.T) {
	_, err := Init(&config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}
