package model

import (
	"time"

	"gorm.io/gorm"

	"cassette-tracker-backend/internal/lifecycle"
)

// RepairSubTicket tracks work on one cassette at the repair center.
// Its link to a service ticket is derived through DeliveryID and shared cassette identity.
type RepairSubTicket struct {
	ID                string                 `gorm:"primaryKey;size:36" json:"id"`
	CassetteID        string                 `gorm:"size:36;index;not null" json:"cassetteId"`
	DeliveryID        *string                `gorm:"size:36;index" json:"deliveryId"`
	Status            lifecycle.RepairStatus `gorm:"size:32;not null;index" json:"status"`
	QCPassed          *bool                  `json:"qcPassed"`
	RepairActionTaken string                 `gorm:"type:text" json:"repairActionTaken"`
	PartsReplaced     string                 `gorm:"type:text" json:"partsReplaced"`
	Notes             string                 `gorm:"type:text" json:"notes"`
	CreatedBy         string                 `gorm:"size:128;not null" json:"createdBy"`
	UpdatedBy         string                 `gorm:"size:128" json:"updatedBy"`
	CompletedAt       *time.Time             `json:"completedAt"`
	Version           int64                  `gorm:"not null;default:1" json:"version"`
	CreatedAt         time.Time              `gorm:"not null" json:"createdAt"`
	UpdatedAt         time.Time              `gorm:"not null" json:"updatedAt"`
	DeletedAt         gorm.DeletedAt         `gorm:"index" json:"deletedAt"`
	DeletedBy         string                 `gorm:"size:128" json:"deletedBy,omitempty"`
	DeletedCause      string                 `gorm:"size:16" json:"deletedCause,omitempty"`
}

func (r RepairSubTicket) IsDeleted() bool { return r.DeletedAt.Valid }
