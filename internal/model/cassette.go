package model

import (
	"time"

	"cassette-tracker-backend/internal/lifecycle"
)

// Cassette is a physical currency cassette tracked by serial number.
// Status is written only through the cassette registry.
type Cassette struct {
	ID           string                   `gorm:"primaryKey;size:36" json:"id"`
	SerialNumber string                   `gorm:"uniqueIndex;size:64;not null" json:"serialNumber"`
	Type         string                   `gorm:"size:64" json:"type"`
	BankCode     string                   `gorm:"size:64;index" json:"bankCode"`
	MachineID    *string                  `gorm:"size:64;index" json:"machineId"` // nil while in transit or at the repair center
	UsageRole    lifecycle.UsageRole      `gorm:"size:16;not null" json:"usageRole"`
	Status       lifecycle.CassetteStatus `gorm:"size:32;not null;index" json:"status"`
	Version      int64                    `gorm:"not null;default:1" json:"version"`
	UpdatedBy    string                   `gorm:"size:128" json:"updatedBy"`
	CreatedAt    time.Time                `gorm:"not null" json:"createdAt"`
	UpdatedAt    time.Time                `gorm:"not null" json:"updatedAt"`
}
